package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabwire/collabwire/internal/obs"
	"github.com/collabwire/collabwire/pkg/exception"
	"github.com/collabwire/collabwire/pkg/protocol"
	"github.com/collabwire/collabwire/pkg/transport"
)

func testOption() Option {
	return Option{
		URL:                  "ws://backend.test/collab",
		UserID:               "user-1",
		UserName:             "User One",
		AutoReconnect:        true,
		MaxReconnectAttempts: 5,
		Backoff:              Backoff{Min: 20 * time.Millisecond, Max: 200 * time.Millisecond, Factor: 2},
		HeartbeatInterval:    time.Hour,
		ConnectTimeout:       time.Second,
	}
}

func newTestManager(t *testing.T, opts ...func(*Option)) (*Manager, *transport.MockDialer) {
	t.Helper()
	opt := testOption()
	for _, fn := range opts {
		fn(&opt)
	}
	dialer := transport.NewMockDialer()
	m, err := NewManager(dialer, opt)
	require.NoError(t, err)
	t.Cleanup(m.Destroy)
	return m, dialer
}

func writtenKinds(t *testing.T, conn *transport.MockConn) []string {
	t.Helper()
	var kinds []string
	for _, raw := range conn.Writes() {
		e, err := protocol.Decode(raw)
		require.NoError(t, err)
		kinds = append(kinds, e.Type)
	}
	return kinds
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handler(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func waitState(t *testing.T, m *Manager, want ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		2*time.Second, 5*time.Millisecond, "state never reached %s", want)
}

func TestNewManagerValidatesConfig(t *testing.T) {
	if _, err := NewManager(nil); !errors.Is(err, ErrNilDialer) {
		t.Fatalf("expected ErrNilDialer, got %v", err)
	}
	if _, err := NewManager(transport.NewMockDialer(), Option{}); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig for missing user id, got %v", err)
	}
}

func TestConnectSendsHandshakeAndFiresConnected(t *testing.T) {
	m, dialer := newTestManager(t)

	connected := &eventRecorder{}
	m.On(EventConnected, connected.handler)

	require.NoError(t, m.Connect(t.Context()))
	assert.Equal(t, StateConnected, m.State())
	assert.True(t, m.IsConnected())

	kinds := writtenKinds(t, dialer.LastConn())
	require.NotEmpty(t, kinds)
	assert.Equal(t, protocol.KindHandshake, kinds[0])

	require.Equal(t, 1, connected.count())
	assert.Equal(t, ConnectedEvent{Reconnect: false}, connected.snapshot()[0])

	stats := m.Stats()
	assert.False(t, stats.LastConnectedAt.IsZero())
}

func TestConnectIsIdempotentWhileConnected(t *testing.T) {
	m, dialer := newTestManager(t)

	require.NoError(t, m.Connect(t.Context()))
	require.NoError(t, m.Connect(t.Context()))

	assert.Equal(t, 1, dialer.DialCount())
}

func TestConcurrentConnectSharesOneAttempt(t *testing.T) {
	m, dialer := newTestManager(t)

	connected := &eventRecorder{}
	m.On(EventConnected, connected.handler)

	release := dialer.BlockNext()

	errs := make(chan error, 2)
	go func() { errs <- m.Connect(context.Background()) }()
	waitState(t, m, StateConnecting)
	go func() { errs <- m.Connect(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	release()

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.Equal(t, 1, dialer.DialCount(), "second Connect must not open a second socket")
	assert.Equal(t, 1, connected.count(), "exactly one connected event")
}

func TestConnectTimeout(t *testing.T) {
	m, dialer := newTestManager(t, func(o *Option) { o.ConnectTimeout = 30 * time.Millisecond })

	release := dialer.BlockNext()
	defer release()

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrConnectTimeout)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestStaleDialFailureDoesNotClobberNewerConnect(t *testing.T) {
	m, dialer := newTestManager(t)

	releaseFirst := dialer.BlockNext()
	defer releaseFirst()

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() { firstErr <- m.Connect(firstCtx) }()
	waitState(t, m, StateConnecting)

	m.Disconnect()
	waitState(t, m, StateDisconnected)

	releaseSecond := dialer.BlockNext()
	secondErr := make(chan error, 1)
	go func() { secondErr <- m.Connect(context.Background()) }()
	waitState(t, m, StateConnecting)

	cancelFirst()
	require.Error(t, <-firstErr, "the abandoned attempt reports its own failure")
	assert.Equal(t, StateConnecting, m.State(), "a stale failure must not touch the newer attempt")

	releaseSecond()
	require.NoError(t, <-secondErr)
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 1, dialer.DialCount())
}

func TestStaleDialSuccessAfterDisconnectIsRefused(t *testing.T) {
	m, dialer := newTestManager(t)

	release := dialer.BlockNext()
	errCh := make(chan error, 1)
	go func() { errCh <- m.Connect(context.Background()) }()
	waitState(t, m, StateConnecting)

	m.Disconnect()
	release()

	require.ErrorIs(t, <-errCh, exception.ErrConnectionClosed)
	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.IsConnected())
}

func TestConcurrentSendCannotOutrunHandshakeAndFlush(t *testing.T) {
	m, dialer := newTestManager(t)

	for _, doc := range []string{"doc-a", "doc-b"} {
		m.SendTo(protocol.KindCursorUpdate, doc, protocol.CursorUpdate{Offset: 1})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 50 {
			m.Send(protocol.KindPresenceUpdate, protocol.Presence{Status: protocol.PresenceActive})
		}
	}()

	require.NoError(t, m.Connect(t.Context()))
	wg.Wait()

	kinds := writtenKinds(t, dialer.LastConn())
	require.NotEmpty(t, kinds)
	assert.Equal(t, protocol.KindHandshake, kinds[0], "handshake must be the first frame on the wire")

	lastCursor, firstPresence := -1, len(kinds)
	for i, kind := range kinds {
		switch kind {
		case protocol.KindCursorUpdate:
			lastCursor = i
		case protocol.KindPresenceUpdate:
			if i < firstPresence {
				firstPresence = i
			}
		}
	}
	require.NotEqual(t, -1, lastCursor)
	assert.Less(t, lastCursor, firstPresence, "the queued backlog must hit the wire before live sends")
}

func TestSendWhileDisconnectedQueuesFIFO(t *testing.T) {
	m, dialer := newTestManager(t)

	for _, doc := range []string{"doc-a", "doc-b", "doc-c"} {
		sent := m.SendTo(protocol.KindCursorUpdate, doc, protocol.CursorUpdate{Offset: 1})
		assert.False(t, sent, "send while disconnected must report queued")
	}
	assert.Equal(t, 3, m.QueueLen())

	require.NoError(t, m.Connect(t.Context()))

	var docs []string
	for _, raw := range dialer.LastConn().Writes() {
		e, err := protocol.Decode(raw)
		require.NoError(t, err)
		if e.Type == protocol.KindCursorUpdate {
			docs = append(docs, e.DocumentID)
		}
	}
	assert.Equal(t, []string{"doc-a", "doc-b", "doc-c"}, docs, "flush must preserve call order")
	assert.Equal(t, 0, m.QueueLen())
}

func TestSendWriteFailureQueuesAndEmitsError(t *testing.T) {
	m, dialer := newTestManager(t)

	errs := &eventRecorder{}
	m.On(EventError, errs.handler)

	require.NoError(t, m.Connect(t.Context()))
	dialer.LastConn().FailWrites()

	sent := m.Send(protocol.KindPresenceUpdate, protocol.Presence{Status: protocol.PresenceActive})
	assert.False(t, sent)
	assert.Equal(t, 1, m.QueueLen())
	require.Equal(t, 1, errs.count())

	event, ok := errs.snapshot()[0].(ErrorEvent)
	require.True(t, ok)
	assert.ErrorIs(t, event.Err, exception.ErrSend)
}

func TestIncomingEnvelopeDualDispatch(t *testing.T) {
	m, dialer := newTestManager(t)

	generic := &eventRecorder{}
	specific := &eventRecorder{}
	other := &eventRecorder{}
	m.On(EventMessage, generic.handler)
	m.On(protocol.KindCursorUpdate, specific.handler)
	m.On(protocol.KindCommentAdd, other.handler)

	require.NoError(t, m.Connect(t.Context()))

	inbound := protocol.NewEnvelope(protocol.KindCursorUpdate, "user-2", nil)
	raw, err := protocol.Encode(inbound)
	require.NoError(t, err)
	dialer.LastConn().Inject(raw)

	require.Eventually(t, func() bool { return generic.count() == 1 && specific.count() == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, other.count(), "unrelated kind must not fire")

	event, ok := specific.snapshot()[0].(EnvelopeEvent)
	require.True(t, ok)
	assert.Equal(t, "user-2", event.Envelope.UserID)
}

func TestMalformedFrameEmitsErrorAndKeepsConnection(t *testing.T) {
	m, dialer := newTestManager(t)

	errs := &eventRecorder{}
	m.On(EventError, errs.handler)
	messages := &eventRecorder{}
	m.On(EventMessage, messages.handler)

	require.NoError(t, m.Connect(t.Context()))
	conn := dialer.LastConn()

	conn.Inject([]byte("{broken"))

	valid, err := protocol.Encode(protocol.NewEnvelope(protocol.KindPresenceUpdate, "user-2", nil))
	require.NoError(t, err)
	conn.Inject(valid)

	require.Eventually(t, func() bool { return messages.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, errs.count())

	event, ok := errs.snapshot()[0].(ErrorEvent)
	require.True(t, ok)
	assert.ErrorIs(t, event.Err, exception.ErrParse)
	assert.Equal(t, StateConnected, m.State(), "parse errors never terminate the connection")
}

func TestUncleanCloseTriggersReconnect(t *testing.T) {
	m, dialer := newTestManager(t)

	disconnected := &eventRecorder{}
	reconnecting := &eventRecorder{}
	connected := &eventRecorder{}
	m.On(EventDisconnected, disconnected.handler)
	m.On(EventReconnecting, reconnecting.handler)
	m.On(EventConnected, connected.handler)

	require.NoError(t, m.Connect(t.Context()))
	dialer.LastConn().Drop()

	require.Eventually(t, func() bool { return connected.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 1, disconnected.count())
	closeEvent, ok := disconnected.snapshot()[0].(DisconnectedEvent)
	require.True(t, ok)
	assert.False(t, closeEvent.WasClean)
	assert.Equal(t, transport.CloseAbnormal, closeEvent.Code)

	require.GreaterOrEqual(t, reconnecting.count(), 1)
	retry, ok := reconnecting.snapshot()[0].(ReconnectingEvent)
	require.True(t, ok)
	assert.Equal(t, 1, retry.Attempt)

	second, ok := connected.snapshot()[1].(ConnectedEvent)
	require.True(t, ok)
	assert.True(t, second.Reconnect)
	assert.Equal(t, 2, dialer.DialCount())
}

func TestCleanServerCloseDoesNotReconnect(t *testing.T) {
	m, dialer := newTestManager(t)

	disconnected := &eventRecorder{}
	m.On(EventDisconnected, disconnected.handler)

	require.NoError(t, m.Connect(t.Context()))
	dialer.LastConn().CloseFromServer(transport.CloseNormal, "server shutdown")

	waitState(t, m, StateDisconnected)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, dialer.DialCount(), "clean close must not trigger a retry")
	require.Equal(t, 1, disconnected.count())
	event := disconnected.snapshot()[0].(DisconnectedEvent)
	assert.True(t, event.WasClean)
	assert.Equal(t, "server shutdown", event.Reason)
}

func TestReconnectExhaustionIsTerminal(t *testing.T) {
	m, dialer := newTestManager(t, func(o *Option) {
		o.MaxReconnectAttempts = 2
		o.Backoff = Backoff{Min: 20 * time.Millisecond, Max: 100 * time.Millisecond, Factor: 2}
	})

	reconnecting := &eventRecorder{}
	failed := &eventRecorder{}
	m.On(EventReconnecting, reconnecting.handler)
	m.On(EventReconnectFailed, failed.handler)

	require.NoError(t, m.Connect(t.Context()))
	dialer.FailNext(10)
	dialer.LastConn().Drop()

	require.Eventually(t, func() bool { return failed.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	waitState(t, m, StateDisconnected)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, 2, reconnecting.count(), "exactly maxReconnectAttempts reconnecting events")
	assert.Equal(t, 1, failed.count(), "exactly one terminal reconnect_failed event")
	assert.Equal(t, 1, dialer.DialCount(), "no socket construction after the final failure")

	terminal := failed.snapshot()[0].(ReconnectFailedEvent)
	assert.Equal(t, 2, terminal.Attempts)
	assert.EqualValues(t, 2, m.Stats().ReconnectAttempts)
}

func TestReconnectDelaysIncrease(t *testing.T) {
	m, dialer := newTestManager(t, func(o *Option) {
		o.MaxReconnectAttempts = 3
		o.Backoff = Backoff{Min: 10 * time.Millisecond, Max: time.Second, Factor: 2}
	})

	reconnecting := &eventRecorder{}
	m.On(EventReconnecting, reconnecting.handler)

	require.NoError(t, m.Connect(t.Context()))
	dialer.FailNext(10)
	dialer.LastConn().Drop()

	require.Eventually(t, func() bool { return reconnecting.count() == 3 }, 2*time.Second, 5*time.Millisecond)

	events := reconnecting.snapshot()
	var prev time.Duration
	for i, raw := range events {
		event := raw.(ReconnectingEvent)
		assert.Equal(t, i+1, event.Attempt)
		assert.Greater(t, event.Delay, prev, "delays must strictly increase")
		prev = event.Delay
	}
}

func TestManualConnectAfterExhaustionRearmsPolicy(t *testing.T) {
	m, dialer := newTestManager(t, func(o *Option) {
		o.MaxReconnectAttempts = 1
		o.Backoff = Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond, Factor: 2}
	})

	failed := &eventRecorder{}
	m.On(EventReconnectFailed, failed.handler)

	require.NoError(t, m.Connect(t.Context()))
	dialer.FailNext(10)
	dialer.LastConn().Drop()

	require.Eventually(t, func() bool { return failed.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	waitState(t, m, StateDisconnected)

	dialer.FailNext(0)
	require.NoError(t, m.Connect(t.Context()))
	assert.Equal(t, StateConnected, m.State())
}

func TestDisconnectSuppressesReconnectAndCancelsTimers(t *testing.T) {
	m, dialer := newTestManager(t)

	disconnected := &eventRecorder{}
	m.On(EventDisconnected, disconnected.handler)

	require.NoError(t, m.Connect(t.Context()))
	m.Disconnect()

	assert.Equal(t, StateDisconnected, m.State())
	require.Equal(t, 1, disconnected.count())
	event := disconnected.snapshot()[0].(DisconnectedEvent)
	assert.True(t, event.WasClean)
	assert.Equal(t, transport.CloseNormal, event.Code)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, dialer.DialCount(), "no reconnect after user disconnect")

	require.NoError(t, m.Connect(t.Context()))
	assert.Equal(t, 2, dialer.DialCount())
}

func TestHandlerMayDisconnectDuringDispatch(t *testing.T) {
	m, dialer := newTestManager(t)

	m.On(EventMessage, func(Event) { m.Disconnect() })

	require.NoError(t, m.Connect(t.Context()))

	raw, err := protocol.Encode(protocol.NewEnvelope(protocol.KindCommentAdd, "user-2", nil))
	require.NoError(t, err)
	dialer.LastConn().Inject(raw)

	waitState(t, m, StateDisconnected)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.DialCount())
}

func TestDestroyIsIdempotentAndResetsStats(t *testing.T) {
	m, dialer := newTestManager(t)

	require.NoError(t, m.Connect(t.Context()))
	m.Send(protocol.KindPresenceUpdate, protocol.Presence{Status: protocol.PresenceIdle})
	require.NotZero(t, m.Stats().TotalMessagesSent)

	m.Destroy()
	m.Destroy()

	assert.Equal(t, obs.Snapshot{}, m.Stats())
	assert.ErrorIs(t, m.Connect(context.Background()), exception.ErrClientDestroyed)
	assert.Equal(t, 1, dialer.DialCount())
}
