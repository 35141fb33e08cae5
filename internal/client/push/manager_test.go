package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/eagleeye/internal/client/client"
	"github.com/dmitrijs2005/eagleeye/internal/client/models"
	"github.com/dmitrijs2005/eagleeye/internal/client/notify"
	"github.com/dmitrijs2005/eagleeye/internal/client/session"
	"github.com/dmitrijs2005/eagleeye/internal/clock"
)

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type fakeConn struct {
	token     string
	events    chan models.Event
	closed    chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once
}

func newFakeConn(token string) *fakeConn {
	return &fakeConn{
		token:  token,
		events: make(chan models.Event, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Recv(ctx context.Context) (models.Event, error) {
	select {
	case ev, ok := <-c.events:
		if !ok {
			return models.Event{}, io.EOF
		}
		return ev, nil
	case <-c.closed:
		return models.Event{}, ErrConnection
	case <-ctx.Done():
		return models.Event{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// drop simulates the server going away.
func (c *fakeConn) drop() {
	c.dropOnce.Do(func() { close(c.events) })
}

func (c *fakeConn) send(t *testing.T, typ models.EventType, data any) {
	t.Helper()
	ev := models.Event{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		ev.Data = raw
	}
	c.events <- ev
}

type fakeDialer struct {
	mu     sync.Mutex
	tokens []string
	conns  []*fakeConn
	fail   error
	gates  map[string]chan struct{}
}

func (d *fakeDialer) Dial(_ context.Context, token string) (Conn, error) {
	d.mu.Lock()
	d.tokens = append(d.tokens, token)
	fail := d.fail
	gate := d.gates[token]
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail != nil {
		return nil, fail
	}

	c := newFakeConn(token)
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *fakeDialer) dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

func (d *fakeDialer) connections() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns...)
}

func (d *fakeDialer) last(t *testing.T) *fakeConn {
	t.Helper()
	conns := d.connections()
	require.NotEmpty(t, conns)
	return conns[len(conns)-1]
}

type harness struct {
	m      *Manager
	dialer *fakeDialer
	clock  *clock.Fake
	notes  *notify.Recorder
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		dialer: &fakeDialer{gates: map[string]chan struct{}{}},
		clock:  clock.NewFake(t0),
		notes:  &notify.Recorder{},
	}
	opts.Clock = h.clock
	opts.Notifier = h.notes
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = RetryPolicy{MaxAttempts: 3, Delay: time.Second}
	}
	h.m = NewManager(h.dialer, opts)
	t.Cleanup(h.m.Close)
	return h
}

func authed(token string) session.Session {
	return session.Session{State: session.StateAuthenticated, Token: token, Since: t0}
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status() == want }, time.Second, 5*time.Millisecond,
		"status never became %s", want)
}

// boundToken is the token of the live connection, or "" when not connected.
func boundToken(m *Manager) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusConnected {
		return ""
	}
	return m.bound
}

func TestManager_ConnectsForAuthenticatedSession(t *testing.T) {
	h := newHarness(t, Options{})

	h.m.OnSession(authed("tok-a"))
	waitStatus(t, h.m, StatusConnected)

	assert.Equal(t, []string{"tok-a"}, h.dialer.dials())
	assert.Equal(t, "tok-a", boundToken(h.m))

	h.m.OnSession(authed("tok-a"))
	assert.Len(t, h.dialer.dials(), 1, "same token must not redial")
}

func TestManager_IgnoresSessionsThatAreNotAuthenticated(t *testing.T) {
	h := newHarness(t, Options{})

	h.m.OnSession(session.Session{State: session.StateAuthenticating, Token: "restored"})
	h.m.OnSession(session.Session{State: session.StateUnauthenticated})

	assert.Empty(t, h.dialer.dials())
	assert.Equal(t, StatusDisconnected, h.m.Status())
}

func TestManager_RebindsOnTokenChange(t *testing.T) {
	h := newHarness(t, Options{})

	h.m.OnSession(authed("tok-a"))
	waitStatus(t, h.m, StatusConnected)
	first := h.dialer.last(t)

	h.m.OnSession(authed("tok-b"))
	assert.True(t, first.isClosed(), "old connection must be closed before rebinding")

	require.Eventually(t, func() bool { return boundToken(h.m) == "tok-b" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"tok-a", "tok-b"}, h.dialer.dials())
}

func TestManager_DisconnectsWhenSessionEnds(t *testing.T) {
	h := newHarness(t, Options{})

	h.m.OnSession(authed("tok-a"))
	waitStatus(t, h.m, StatusConnected)
	conn := h.dialer.last(t)

	h.m.OnSession(session.Session{State: session.StateUnauthenticated})

	assert.Equal(t, StatusDisconnected, h.m.Status())
	assert.True(t, conn.isClosed())
	assert.Empty(t, boundToken(h.m))
	assert.Zero(t, h.clock.Pending(), "no retry after logout")
}

func TestManager_DiscardsStaleDial(t *testing.T) {
	h := newHarness(t, Options{})
	gate := make(chan struct{})
	h.dialer.gates["tok-a"] = gate

	h.m.OnSession(authed("tok-a"))
	require.Eventually(t, func() bool { return len(h.dialer.dials()) == 1 }, time.Second, 5*time.Millisecond)

	h.m.OnSession(authed("tok-b"))
	require.Eventually(t, func() bool { return boundToken(h.m) == "tok-b" }, time.Second, 5*time.Millisecond)

	close(gate)
	require.Eventually(t, func() bool {
		for _, c := range h.dialer.connections() {
			if c.token == "tok-a" {
				return c.isClosed()
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "tok-b", boundToken(h.m))
	assert.Equal(t, StatusConnected, h.m.Status())
}

func TestManager_RetriesThenGivesUp(t *testing.T) {
	h := newHarness(t, Options{})
	h.dialer.setFail(errors.New("connection refused"))

	h.m.OnSession(authed("tok-a"))
	for i := 1; i <= 3; i++ {
		h.clock.WaitForTimers(1)
		assert.Equal(t, i, h.m.RetryCount())
		h.clock.Advance(time.Second)
	}

	require.Eventually(t, h.m.Exhausted, time.Second, 5*time.Millisecond)
	assert.Len(t, h.dialer.dials(), 4)
	assert.Zero(t, h.clock.Pending())
	assert.Equal(t, StatusDisconnected, h.m.Status())
	assert.Equal(t, []string{"Realtime updates unavailable, use 'connect' to retry"},
		h.notes.Messages(notify.KindFailure))

	h.dialer.setFail(nil)
	require.NoError(t, h.m.Connect(context.Background()))
	waitStatus(t, h.m, StatusConnected)
	assert.False(t, h.m.Exhausted())
	assert.Zero(t, h.m.RetryCount())
}

func TestManager_UnauthorizedStopsRetrying(t *testing.T) {
	h := newHarness(t, Options{})
	h.dialer.setFail(fmt.Errorf("%w: %w", ErrConnection, client.ErrUnauthorized))

	h.m.OnSession(authed("tok-a"))

	require.Eventually(t, h.m.Exhausted, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.clock.Pending())
	assert.Len(t, h.dialer.dials(), 1)
}

func TestManager_ReconnectRunsHook(t *testing.T) {
	reconnects := make(chan struct{}, 4)
	h := newHarness(t, Options{OnReconnect: func(context.Context) { reconnects <- struct{}{} }})

	h.m.OnSession(authed("tok-a"))
	waitStatus(t, h.m, StatusConnected)
	h.dialer.last(t).drop()

	h.clock.WaitForTimers(1)
	assert.Equal(t, StatusDisconnected, h.m.Status())
	h.clock.Advance(time.Second)

	waitStatus(t, h.m, StatusConnected)
	select {
	case <-reconnects:
	case <-time.After(time.Second):
		t.Fatal("reconnect hook not called")
	}
	assert.Len(t, reconnects, 0, "first connection must not trigger the hook")
	assert.Equal(t, []string{"tok-a", "tok-a"}, h.dialer.dials())
}

func TestManager_RoutesEventsInOrder(t *testing.T) {
	h := newHarness(t, Options{})

	progress := make(chan models.Event, 8)
	completion := make(chan models.Event, 8)
	psub := h.m.Subscribe(ChannelProgress, func(ev models.Event) { progress <- ev })
	h.m.Subscribe(ChannelCompletion, func(ev models.Event) { completion <- ev })

	h.m.OnSession(authed("tok-a"))
	waitStatus(t, h.m, StatusConnected)
	conn := h.dialer.last(t)

	conn.send(t, models.EventProgress, map[string]any{"download_id": 1, "progress": 10})
	conn.send(t, models.EventProgress, map[string]any{"download_id": 1, "progress": 20})
	conn.send(t, models.EventComplete, map[string]any{"download_id": 1, "file_path": "/m/a.mp4"})

	for _, want := range []float64{10, 20} {
		select {
		case ev := <-progress:
			p, err := ev.Progress()
			require.NoError(t, err)
			assert.Equal(t, want, p.Progress)
		case <-time.After(time.Second):
			t.Fatal("progress event not delivered")
		}
	}
	select {
	case <-completion:
	case <-time.After(time.Second):
		t.Fatal("completion event not delivered")
	}
	require.Eventually(t, func() bool {
		return len(h.notes.Messages(notify.KindSuccess)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Download completed: /m/a.mp4"}, h.notes.Messages(notify.KindSuccess))

	psub.Unsubscribe()
	psub.Unsubscribe()

	conn.send(t, models.EventProgress, map[string]any{"download_id": 1, "progress": 30})
	conn.send(t, "something_new", map[string]any{"x": 1})
	conn.events <- models.Event{Type: models.EventComplete, Data: json.RawMessage(`"oops"`)}
	conn.send(t, models.EventComplete, map[string]any{"download_id": 2, "file_path": "/m/b.mp4"})

	select {
	case ev := <-completion:
		c, err := ev.Completion()
		require.NoError(t, err)
		assert.Equal(t, int64(2), c.DownloadID)
	case <-time.After(time.Second):
		t.Fatal("completion event not delivered")
	}
	assert.Len(t, progress, 0, "unsubscribed handler must not be called")
}

func TestManager_FailureEventNotifies(t *testing.T) {
	h := newHarness(t, Options{})
	got := make(chan models.Event, 1)
	h.m.Subscribe(ChannelFailure, func(ev models.Event) { got <- ev })

	h.m.OnSession(authed("tok-a"))
	waitStatus(t, h.m, StatusConnected)
	h.dialer.last(t).send(t, models.EventError, map[string]any{"download_id": 4, "error": "HTTP 403"})

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("failure event not delivered")
	}
	require.Eventually(t, func() bool {
		return len(h.notes.Messages(notify.KindFailure)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Download failed: HTTP 403", h.notes.Messages(notify.KindFailure)[0])
}

func TestManager_ManualConnectAndDisconnect(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, h.m.Connect(ctx), ErrNotAuthenticated)

	h.m.OnSession(authed("tok-a"))
	waitStatus(t, h.m, StatusConnected)
	require.NoError(t, h.m.Connect(ctx))
	assert.Len(t, h.dialer.dials(), 1)

	conn := h.dialer.last(t)
	h.m.Disconnect()
	h.m.Disconnect()
	assert.Equal(t, StatusDisconnected, h.m.Status())
	assert.True(t, conn.isClosed())
	assert.Zero(t, h.clock.Pending())

	require.NoError(t, h.m.Connect(ctx))
	waitStatus(t, h.m, StatusConnected)
	assert.Len(t, h.dialer.dials(), 2)
}

func TestManager_StatusChanges(t *testing.T) {
	h := newHarness(t, Options{})

	var mu sync.Mutex
	var seen []Status
	sub := h.m.StatusChanges(func(s Status) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	h.m.OnSession(authed("tok-a"))
	waitStatus(t, h.m, StatusConnected)
	h.m.Disconnect()
	sub.Unsubscribe()
	h.m.OnSession(authed("tok-b"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusDisconnected}, seen)
}

func TestManager_Close(t *testing.T) {
	h := newHarness(t, Options{})
	h.m.Close()

	h.m.OnSession(authed("tok-a"))
	assert.Empty(t, h.dialer.dials())
	assert.ErrorIs(t, h.m.Connect(context.Background()), ErrClosed)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}
