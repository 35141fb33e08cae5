package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/eagleeye/internal/client/client"
	"github.com/dmitrijs2005/eagleeye/internal/client/models"
	"github.com/dmitrijs2005/eagleeye/internal/client/notify"
	"github.com/dmitrijs2005/eagleeye/internal/client/session"
	"github.com/dmitrijs2005/eagleeye/internal/clock"
	"github.com/dmitrijs2005/eagleeye/internal/logging"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Channel groups the events a subscriber can ask for.
type Channel string

const (
	ChannelProgress   Channel = "progress"
	ChannelCompletion Channel = "completion"
	ChannelFailure    Channel = "failure"
	ChannelStatus     Channel = "status"
)

var channels = map[models.EventType]Channel{
	models.EventProgress: ChannelProgress,
	models.EventComplete: ChannelCompletion,
	models.EventError:    ChannelFailure,
	models.EventStatus:   ChannelStatus,
}

type Handler func(models.Event)

// RetryPolicy bounds automatic reconnection after a drop.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: time.Second}
}

var (
	ErrNotAuthenticated = errors.New("push: no authenticated session")
	ErrClosed           = errors.New("push: manager closed")
)

type Options struct {
	Retry    RetryPolicy
	Clock    clock.Clock
	Logger   logging.Logger
	Notifier notify.Notifier

	// OnReconnect runs on its own goroutine after every successful
	// connection except the first one for a token. Its context ends when
	// that connection is torn down.
	OnReconnect func(ctx context.Context)
}

type Manager struct {
	dialer      Dialer
	policy      RetryPolicy
	clock       clock.Clock
	log         logging.Logger
	notifier    notify.Notifier
	onReconnect func(context.Context)

	mu        sync.Mutex
	status    Status
	token     string // token of the authenticated session, "" when none
	bound     string // token the current attempt or connection uses
	epoch     uint64 // bumped whenever the current attempt is abandoned
	conn      Conn
	cancel    context.CancelFunc
	timer     clock.Timer
	retries   int
	exhausted bool
	connected bool // a connection for token has succeeded at least once
	closed    bool

	subsMu     sync.RWMutex
	subs       map[Channel][]subscriber
	statusSubs []statusSubscriber
}

type subscriber struct {
	id uuid.UUID
	fn Handler
}

type statusSubscriber struct {
	id uuid.UUID
	fn func(Status)
}

// Subscription is returned by Subscribe and StatusChanges.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe stops delivery. Calling it more than once is harmless.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

func NewManager(dialer Dialer, opts Options) *Manager {
	m := &Manager{
		dialer:      dialer,
		policy:      opts.Retry,
		clock:       opts.Clock,
		log:         opts.Logger,
		notifier:    opts.Notifier,
		onReconnect: opts.OnReconnect,
		subs:        make(map[Channel][]subscriber),
	}
	if m.policy.MaxAttempts < 0 {
		m.policy.MaxAttempts = 0
	}
	if m.policy == (RetryPolicy{}) {
		m.policy = DefaultRetryPolicy()
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.log == nil {
		m.log = logging.Discard()
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	return m
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Exhausted reports whether automatic reconnection gave up.
func (m *Manager) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

func (m *Manager) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// OnSession follows a session snapshot. It is meant to be registered with
// session.Manager.Subscribe.
func (m *Manager) OnSession(s session.Session) {
	token := ""
	if s.State == session.StateAuthenticated {
		token = s.Token
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || token == m.token {
		return
	}

	m.token = token
	m.teardownLocked()
	m.retries = 0
	m.exhausted = false
	m.connected = false
	if token != "" {
		m.dialLocked()
	}
}

// Connect starts a connection for the current session if none is up or in
// progress. It also resumes after reconnection gave up.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.token == "" {
		return ErrNotAuthenticated
	}
	if m.status != StatusDisconnected {
		return nil
	}

	m.log.Debug(ctx, "push connect requested", "retries", m.retries)
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.retries = 0
	m.exhausted = false
	m.dialLocked()
	return nil
}

// Disconnect drops the connection and cancels any pending retry. The
// manager stays disconnected until Connect or a new session token.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.retries = 0
}

func (m *Manager) Close() {
	m.mu.Lock()
	m.teardownLocked()
	m.closed = true
	m.mu.Unlock()

	m.subsMu.Lock()
	m.subs = make(map[Channel][]subscriber)
	m.statusSubs = nil
	m.subsMu.Unlock()
}

// Subscribe registers h for events on ch. Handlers run on the connection's
// receive goroutine, in arrival order.
func (m *Manager) Subscribe(ch Channel, h Handler) *Subscription {
	id := uuid.New()
	m.subsMu.Lock()
	m.subs[ch] = append(m.subs[ch], subscriber{id: id, fn: h})
	m.subsMu.Unlock()

	return &Subscription{cancel: func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		list := m.subs[ch]
		for i, s := range list {
			if s.id == id {
				m.subs[ch] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}}
}

// StatusChanges registers fn for status transitions. fn is called with the
// manager's lock held and must not call back into the Manager.
func (m *Manager) StatusChanges(fn func(Status)) *Subscription {
	id := uuid.New()
	m.subsMu.Lock()
	m.statusSubs = append(m.statusSubs, statusSubscriber{id: id, fn: fn})
	m.subsMu.Unlock()

	return &Subscription{cancel: func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		for i, s := range m.statusSubs {
			if s.id == id {
				m.statusSubs = append(m.statusSubs[:i:i], m.statusSubs[i+1:]...)
				return
			}
		}
	}}
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.status = s

	m.subsMu.RLock()
	list := append([]statusSubscriber(nil), m.statusSubs...)
	m.subsMu.RUnlock()
	for _, sub := range list {
		sub.fn(s)
	}
}

func (m *Manager) teardownLocked() {
	m.epoch++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.bound = ""
	m.setStatusLocked(StatusDisconnected)
}

func (m *Manager) dialLocked() {
	m.epoch++
	epoch, token := m.epoch, m.token

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.bound = token
	m.setStatusLocked(StatusConnecting)

	go m.run(ctx, epoch, token)
}

func (m *Manager) run(ctx context.Context, epoch uint64, token string) {
	conn, err := m.dialer.Dial(ctx, token)
	if err != nil {
		m.log.Warn(ctx, "push connect failed", "error", err)
		m.dropped(ctx, epoch, err)
		return
	}

	reconnected, ok := m.attach(epoch, conn)
	if !ok {
		_ = conn.Close()
		return
	}
	m.log.Info(ctx, "push channel connected", "reconnect", reconnected)
	if reconnected && m.onReconnect != nil {
		go m.onReconnect(ctx)
	}

	for {
		ev, err := conn.Recv(ctx)
		if errors.Is(err, ErrMalformedFrame) {
			m.log.Warn(ctx, "skipping push frame", "error", err)
			continue
		}
		if err != nil {
			m.dropped(ctx, epoch, err)
			return
		}
		if !m.current(epoch) {
			return
		}
		m.route(ctx, ev)
	}
}

func (m *Manager) current(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return epoch == m.epoch
}

func (m *Manager) attach(epoch uint64, conn Conn) (reconnected, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || m.closed {
		return false, false
	}

	m.conn = conn
	m.retries = 0
	reconnected = m.connected
	m.connected = true
	m.setStatusLocked(StatusConnected)
	return reconnected, true
}

func (m *Manager) dropped(ctx context.Context, epoch uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.setStatusLocked(StatusDisconnected)

	if m.token == "" {
		m.bound = ""
		return
	}
	if errors.Is(err, client.ErrUnauthorized) {
		m.log.Warn(ctx, "push channel rejected the session token")
		m.giveUpLocked()
		return
	}
	if m.retries >= m.policy.MaxAttempts {
		m.log.Warn(ctx, "push reconnect attempts exhausted", "attempts", m.retries)
		m.giveUpLocked()
		return
	}

	m.retries++
	m.epoch++
	retryEpoch := m.epoch
	m.log.Info(ctx, "push channel lost, retrying", "attempt", m.retries, "delay", m.policy.Delay)
	m.timer = m.clock.AfterFunc(m.policy.Delay, func() { m.redial(retryEpoch) })
}

func (m *Manager) giveUpLocked() {
	m.exhausted = true
	m.bound = ""
	m.notifier.Failure("Realtime updates unavailable, use 'connect' to retry")
}

func (m *Manager) redial(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || m.token == "" || m.closed {
		return
	}
	m.timer = nil
	m.dialLocked()
}

func (m *Manager) handlers(ch Channel) []Handler {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	out := make([]Handler, 0, len(m.subs[ch]))
	for _, s := range m.subs[ch] {
		out = append(out, s.fn)
	}
	return out
}

func (m *Manager) route(ctx context.Context, ev models.Event) {
	switch ev.Type {
	case models.EventConnect, models.EventDisconnect, models.EventConnectError:
		m.log.Debug(ctx, "push transport event", "event", ev.Type)
		return
	}

	ch, ok := channels[ev.Type]
	if !ok {
		m.log.Debug(ctx, "ignoring unknown push event", "event", ev.Type)
		return
	}

	var notice func()
	switch ch {
	case ChannelProgress:
		if _, err := ev.Progress(); err != nil {
			m.log.Warn(ctx, "malformed push event", "error", err)
			return
		}
	case ChannelCompletion:
		p, err := ev.Completion()
		if err != nil {
			m.log.Warn(ctx, "malformed push event", "error", err)
			return
		}
		notice = func() { m.notifier.Success("Download completed: " + p.FilePath) }
	case ChannelFailure:
		p, err := ev.Failure()
		if err != nil {
			m.log.Warn(ctx, "malformed push event", "error", err)
			return
		}
		notice = func() { m.notifier.Failure("Download failed: " + p.Error) }
	case ChannelStatus:
		p, err := ev.Status()
		if err != nil {
			m.log.Warn(ctx, "malformed push event", "error", err)
			return
		}
		m.log.Info(ctx, "server status", "msg", p.Msg)
	}

	for _, h := range m.handlers(ch) {
		h(ev)
	}
	if notice != nil {
		notice()
	}
}
