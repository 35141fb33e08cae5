package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/eagleeye/internal/client/client"
	"github.com/dmitrijs2005/eagleeye/internal/client/credentials"
	"github.com/dmitrijs2005/eagleeye/internal/client/models"
	"github.com/dmitrijs2005/eagleeye/internal/client/notify"
	"github.com/dmitrijs2005/eagleeye/internal/clock"
	"github.com/dmitrijs2005/eagleeye/internal/logging"
)

const DefaultBootstrapTimeout = 3 * time.Second

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSuperseded       = errors.New("session changed while the request was in flight")
)

// Error is a failed session operation. Reason is fit for display.
type Error struct {
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AuthAPI is the part of the remote API the manager needs.
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (*models.AuthResult, error)
	Register(ctx context.Context, reg models.Registration) (*models.AuthResult, error)
	GetProfile(ctx context.Context) (*models.User, error)
	UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (*models.Profile, error)
}

type Options struct {
	BootstrapTimeout time.Duration
	Clock            clock.Clock
	Logger           logging.Logger
	Notifier         notify.Notifier
}

type Manager struct {
	api      AuthAPI
	store    credentials.Store
	clock    clock.Clock
	log      logging.Logger
	notifier notify.Notifier
	timeout  time.Duration

	mu      sync.Mutex
	session Session
	gen     uint64

	// dispatchMu is taken before mu is released so that snapshots reach
	// listeners in the order they were produced.
	dispatchMu sync.Mutex

	listenersMu  sync.Mutex
	listeners    []listener
	nextListener uint64
}

type listener struct {
	id uint64
	fn func(Session)
}

func NewManager(api AuthAPI, store credentials.Store, opts Options) *Manager {
	m := &Manager{
		api:      api,
		store:    store,
		clock:    opts.Clock,
		log:      opts.Logger,
		notifier: opts.Notifier,
		timeout:  opts.BootstrapTimeout,
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
	if m.timeout <= 0 {
		m.timeout = DefaultBootstrapTimeout
	}
	m.session = Session{State: StateUnauthenticated, Since: m.clock.Now()}
	return m
}

func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.clone()
}

func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Token
}

// Subscribe registers fn for every future state change. fn runs on the
// goroutine that caused the change and must not call back into the Manager.
func (m *Manager) Subscribe(fn func(Session)) (unsubscribe func()) {
	m.listenersMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	m.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenersMu.Lock()
			defer m.listenersMu.Unlock()
			for i, l := range m.listeners {
				if l.id == id {
					m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (m *Manager) publish(s Session) {
	m.listenersMu.Lock()
	fns := make([]func(Session), 0, len(m.listeners))
	for _, l := range m.listeners {
		fns = append(fns, l.fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn(s.clone())
	}
}

// commitLocked applies ev to the session. It must be called with m.mu held
// and always releases it.
func (m *Manager) commitLocked(ev event, update func(*Session)) (Session, error) {
	to, err := next(m.session.State, ev)
	if err != nil {
		m.mu.Unlock()
		return Session{}, err
	}

	from := m.session.State
	if update != nil {
		update(&m.session)
	}
	m.session.State = to
	if to == StateUnauthenticated {
		m.session.User = nil
		m.session.Token = ""
	}
	if to != from || ev == evBegin {
		m.session.Since = m.clock.Now()
	}

	snap := m.session.clone()
	m.dispatchMu.Lock()
	m.mu.Unlock()
	m.publish(snap)
	m.dispatchMu.Unlock()

	return snap, nil
}

func (m *Manager) clearStoreLocked(ctx context.Context) {
	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		m.log.Warn(ctx, "clearing stored token failed", "error", err)
	}
}

// begin starts a new authentication attempt and returns its generation.
func (m *Manager) begin(token string) (uint64, error) {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	_, err := m.commitLocked(evBegin, func(s *Session) {
		s.Token = token
		s.User = nil
	})
	return gen, err
}

// abandon ends attempt gen with ev and clears the stored token.
func (m *Manager) abandon(ctx context.Context, gen uint64, ev event) error {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return ErrSuperseded
	}
	m.gen++
	m.clearStoreLocked(ctx)
	_, err := m.commitLocked(ev, nil)
	return err
}

// cancelAttempt ends attempt gen without touching the stored token, which
// was never rejected.
func (m *Manager) cancelAttempt(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	_, _ = m.commitLocked(evFail, nil)
}

// establish completes attempt gen. With persist set the token is saved
// first; a failed save ends the attempt.
func (m *Manager) establish(ctx context.Context, gen uint64, token string, user *models.User, persist bool) error {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return ErrSuperseded
	}
	if persist {
		if err := m.store.Save(context.WithoutCancel(ctx), token); err != nil {
			m.gen++
			m.clearStoreLocked(ctx)
			_, _ = m.commitLocked(evFail, nil)
			return fmt.Errorf("persist token: %w", err)
		}
	}
	u := *user
	_, err := m.commitLocked(evSucceed, func(s *Session) {
		s.Token = token
		s.User = &u
	})
	return err
}

type profileResult struct {
	user *models.User
	err  error
}

// Initialize restores a session from the stored token, if there is one. It
// returns once the token has been verified, rejected, or the bootstrap
// timeout has passed; a verification that completes later is ignored.
func (m *Manager) Initialize(ctx context.Context) State {
	token, err := m.store.Load(ctx)
	if err != nil {
		m.log.Warn(ctx, "reading stored token failed", "error", err)
		return m.Current().State
	}
	if token == "" {
		m.log.Debug(ctx, "no stored session")
		return m.Current().State
	}

	m.mu.Lock()
	if m.session.State != StateUnauthenticated {
		m.mu.Unlock()
		return m.Current().State
	}
	if tokenExpired(token, m.clock.Now()) {
		m.log.Info(ctx, "stored token has expired, discarding it")
		m.clearStoreLocked(ctx)
		m.mu.Unlock()
		return StateUnauthenticated
	}
	m.mu.Unlock()

	gen, err := m.begin(token)
	if err != nil {
		return m.Current().State
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan profileResult, 1)
	go func() {
		user, err := m.api.GetProfile(callCtx)
		results <- profileResult{user: user, err: err}
	}()

	expired := make(chan struct{})
	timer := m.clock.AfterFunc(m.timeout, func() { close(expired) })
	defer timer.Stop()

	select {
	case res := <-results:
		switch {
		case res.err != nil:
			m.log.Warn(ctx, "stored session was not accepted", "error", res.err)
			_ = m.abandon(ctx, gen, evFail)
		case res.user == nil:
			m.log.Warn(ctx, "profile response carried no user")
			_ = m.abandon(ctx, gen, evFail)
		default:
			if err := m.establish(ctx, gen, token, res.user, false); err == nil {
				m.log.Info(ctx, "session restored", "user", res.user.Username)
			}
		}
	case <-expired:
		m.log.Warn(ctx, "session verification timed out", "timeout", m.timeout)
		_ = m.abandon(ctx, gen, evTimeout)
	case <-ctx.Done():
		m.log.Debug(ctx, "session bootstrap cancelled")
		m.cancelAttempt(gen)
	}

	return m.Current().State
}

// failAuth ends attempt gen after cause and reports it.
func (m *Manager) failAuth(ctx context.Context, gen uint64, op string, cause error, fallback string) error {
	if err := m.abandon(ctx, gen, evFail); errors.Is(err, ErrSuperseded) {
		return fmt.Errorf("%s: %w", op, ErrSuperseded)
	}
	return m.report(ctx, op, cause, fallback)
}

func (m *Manager) report(ctx context.Context, op string, cause error, fallback string) error {
	reason := client.Reason(cause, fallback)
	m.notifier.Failure(reason)
	m.log.Warn(ctx, op+" failed", "error", cause)
	return &Error{Op: op, Reason: reason, Err: cause}
}

// Login validates the credentials locally, then authenticates against the
// API. A *ValidationError means nothing was sent.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if err := ValidateLogin(username, password); err != nil {
		return err
	}

	gen, err := m.begin("")
	if err != nil {
		return err
	}

	res, err := m.api.Login(ctx, username, password)
	if err != nil {
		return m.failAuth(ctx, gen, "login", err, "Login failed")
	}
	if err := m.establish(ctx, gen, res.Token, &res.User, true); err != nil {
		if errors.Is(err, ErrSuperseded) {
			return fmt.Errorf("login: %w", err)
		}
		return m.report(ctx, "login", err, "Login failed")
	}

	m.log.Info(ctx, "logged in", "user", res.User.Username)
	m.notifier.Success(fmt.Sprintf("Welcome back, %s!", res.User.Username))
	return nil
}

// Register validates every field locally, then creates the account and
// signs in with the returned token.
func (m *Manager) Register(ctx context.Context, reg models.Registration) error {
	if err := ValidateRegistration(reg); err != nil {
		return err
	}
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	reg.FullName = strings.TrimSpace(reg.FullName)

	gen, err := m.begin("")
	if err != nil {
		return err
	}

	res, err := m.api.Register(ctx, reg)
	if err != nil {
		return m.failAuth(ctx, gen, "register", err, "Registration failed")
	}
	if err := m.establish(ctx, gen, res.Token, &res.User, true); err != nil {
		if errors.Is(err, ErrSuperseded) {
			return fmt.Errorf("register: %w", err)
		}
		return m.report(ctx, "register", err, "Registration failed")
	}

	m.log.Info(ctx, "registered", "user", res.User.Username)
	m.notifier.Success(fmt.Sprintf("Welcome to EagleEye, %s!", res.User.Username))
	return nil
}

// Logout ends the session locally. It never contacts the server and always
// succeeds.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	m.gen++
	m.clearStoreLocked(ctx)
	_, _ = m.commitLocked(evLogout, nil)

	m.log.Info(ctx, "logged out")
	m.notifier.Success("Logged out successfully")
}

// UpdateProfile sends a partial profile change and merges the profile the
// server returns into the current user.
func (m *Manager) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) error {
	m.mu.Lock()
	if m.session.State != StateAuthenticated {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	gen := m.gen
	m.mu.Unlock()

	profile, err := m.api.UpdateProfile(ctx, upd)
	if err != nil {
		return m.report(ctx, "update profile", err, "Profile update failed")
	}

	m.mu.Lock()
	if gen != m.gen || m.session.State != StateAuthenticated {
		m.mu.Unlock()
		return fmt.Errorf("update profile: %w", ErrSuperseded)
	}
	p := *profile
	if _, err := m.commitLocked(evProfile, func(s *Session) {
		u := *s.User
		u.Profile = &p
		s.User = &u
	}); err != nil {
		return err
	}

	m.notifier.Success("Profile updated successfully")
	return nil
}

// Reject ends the session if token is the one currently in use. The HTTP
// client calls it when an authorized request comes back 401.
func (m *Manager) Reject(token string) {
	ctx := context.Background()

	m.mu.Lock()
	if token == "" || token != m.session.Token || m.session.State == StateUnauthenticated {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.clearStoreLocked(ctx)
	if _, err := m.commitLocked(evReject, nil); err != nil {
		return
	}

	m.log.Warn(ctx, "server rejected the session token")
	m.notifier.Failure("Your session has expired, please log in again")
}
