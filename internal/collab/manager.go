package collab

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/collabwire/collabwire/internal/obs"
	"github.com/collabwire/collabwire/pkg/exception"
	"github.com/collabwire/collabwire/pkg/protocol"
	"github.com/collabwire/collabwire/pkg/transport"
)

var (
	ErrNilDialer = errors.New("collab: nil dialer")
	ErrBadConfig = errors.New("collab: invalid config")
)

// Manager owns the socket lifecycle: connect, disconnect, send, heartbeat and
// the offline outbox. It is the only component that touches a transport.Conn.
type Manager struct {
	opt        Option
	dialer     transport.Dialer
	dispatcher *Dispatcher
	outbox     *Outbox
	stats      *obs.Stats
	hb         *heartbeat
	rc         *reconnector

	mu                sync.Mutex
	state             ConnectionState
	conn              transport.Conn
	connGen           uint64
	attempt           *connectAttempt
	everConnected     bool
	suppressReconnect bool
	destroyed         bool

	// writeMu serializes socket writes so an outbox flush cannot be
	// interleaved with newer sends.
	writeMu sync.Mutex
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

// NewManager validates config and builds a disconnected manager.
func NewManager(dialer transport.Dialer, option ...Option) (*Manager, error) {
	if dialer == nil {
		return nil, ErrNilDialer
	}

	opt := DefaultOption()
	if len(option) != 0 {
		opt = option[0]
	}
	opt.init()

	if opt.UserID == "" {
		return nil, errors.Wrap(ErrBadConfig, "missing user id")
	}

	m := &Manager{
		opt:        opt,
		dialer:     dialer,
		dispatcher: NewDispatcher(),
		outbox:     NewOutbox(opt.QueueCapacity),
		stats:      obs.NewStats(),
	}
	m.hb = newHeartbeat(opt, m.sendPing, m.dispatcher.Emit, m.forceClose)
	m.rc = newReconnector(opt.Backoff, opt.MaxReconnectAttempts, m.reconnectAttempt, m.dispatcher.Emit, m.stats.AddReconnect)
	return m, nil
}

// On registers an event handler. See Dispatcher.On.
func (m *Manager) On(kind string, fn Handler) Subscription {
	return m.dispatcher.On(kind, fn)
}

// Off removes one handler. See Dispatcher.Off.
func (m *Manager) Off(sub Subscription) {
	m.dispatcher.Off(sub)
}

// OffKind removes every handler for kind.
func (m *Manager) OffKind(kind string) {
	m.dispatcher.OffKind(kind)
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the socket is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Stats returns a snapshot of the transport counters.
func (m *Manager) Stats() obs.Snapshot {
	return m.stats.Snapshot()
}

// Latency returns the most recent heartbeat round trip.
func (m *Manager) Latency() time.Duration {
	return m.hb.Latency()
}

// QueueLen returns the number of messages waiting in the outbox.
func (m *Manager) QueueLen() int {
	return m.outbox.Len()
}

// Connect opens the connection. It is idempotent: while an attempt is in
// flight, concurrent callers join it; while connected it returns nil. A
// manual Connect cancels any pending reconnect timer and re-arms the
// automatic retry policy.
func (m *Manager) Connect(ctx context.Context) error {
	if m == nil {
		return ErrBadConfig
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return exception.ErrClientDestroyed
	}

	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateConnecting:
		att := m.attempt
		m.mu.Unlock()
		select {
		case <-att.done:
			return att.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.suppressReconnect = false
	m.state = StateConnecting
	att := &connectAttempt{done: make(chan struct{})}
	m.attempt = att
	m.mu.Unlock()

	m.rc.Cancel()

	att.err = m.dial(ctx, att, StateDisconnected)
	close(att.done)
	return att.err
}

// dial runs one attempt. An attempt may outlive its welcome: a Disconnect or
// a newer Connect can supersede it while the dialer is still blocked, so every
// state mutation is keyed on att still being the active attempt.
func (m *Manager) dial(ctx context.Context, att *connectAttempt, failState ConnectionState) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.opt.ConnectTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(dialCtx, m.opt.URL, m.opt.Header)
	if err != nil {
		m.stats.AddError()
		timedOut := dialCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		if timedOut {
			err = errors.Wrap(exception.ErrConnectTimeout, err.Error())
		}

		m.mu.Lock()
		if m.attempt == att {
			if m.state == StateConnecting {
				m.state = failState
			}
			m.attempt = nil
		}
		m.mu.Unlock()

		logs.Warnf("connect failed, err: %+v", err)
		if !timedOut {
			m.dispatcher.Emit(EventError, ErrorEvent{Err: err})
		}
		return err
	}

	if !m.bind(conn, att) {
		return exception.ErrConnectionClosed
	}
	return nil
}

// bind installs an open socket and runs the on-open sequence. writeMu is held
// from before the state flip until the outbox flush so no concurrent Send can
// reach the wire ahead of the handshake or the queued backlog.
func (m *Manager) bind(conn transport.Conn, att *connectAttempt) bool {
	m.writeMu.Lock()
	m.mu.Lock()
	if m.destroyed || m.attempt != att || m.state != StateConnecting {
		if m.attempt == att {
			m.attempt = nil
		}
		m.mu.Unlock()
		m.writeMu.Unlock()
		_ = conn.Close(transport.CloseNormal, "aborted")
		return false
	}
	m.conn = conn
	m.connGen++
	gen := m.connGen
	reconnected := m.everConnected
	m.everConnected = true
	m.state = StateConnected
	m.attempt = nil
	m.mu.Unlock()

	m.rc.Reset()
	m.stats.MarkConnected(time.Now())
	logs.Infof("connected, url: %s, reconnect: %v", m.opt.URL, reconnected)

	m.writeHandshake(conn)
	m.flushOutbox(conn)
	m.writeMu.Unlock()

	go m.readLoop(conn, gen)
	m.hb.Start()
	m.dispatcher.Emit(EventConnected, ConnectedEvent{Reconnect: reconnected})
	return true
}

// writeHandshake runs during bind; the caller holds writeMu.
func (m *Manager) writeHandshake(conn transport.Conn) {
	payload, err := protocol.Marshal(protocol.Handshake{UserID: m.opt.UserID, UserName: m.opt.UserName})
	if err != nil {
		return
	}
	env := protocol.NewEnvelope(protocol.KindHandshake, m.opt.UserID, payload)

	if err := m.writeConn(conn, env); err != nil {
		m.stats.AddError()
		logs.Warnf("handshake write failed, err: %+v", err)
	}
}

// flushOutbox runs during bind; the caller holds writeMu.
func (m *Manager) flushOutbox(conn transport.Conn) {
	sent, err := m.outbox.Flush(func(e protocol.Envelope) error {
		return m.writeConn(conn, e)
	})
	if err != nil {
		logs.Warnf("outbox flush aborted, sent: %d, queued: %d, err: %+v", sent, m.outbox.Len(), err)
		return
	}
	if sent > 0 {
		logs.Infof("outbox flushed, sent: %d", sent)
	}
}

// writeConn encodes and writes one envelope. Callers hold writeMu.
func (m *Manager) writeConn(conn transport.Conn, e protocol.Envelope) error {
	data, err := protocol.Encode(e)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(data); err != nil {
		return err
	}
	m.stats.AddSent()
	return nil
}

// Send builds an envelope for kind and hands it to the socket. It returns
// true when the write succeeded immediately; when disconnected, or when the
// write fails, the envelope is queued and Send returns false.
func (m *Manager) Send(kind string, data any) bool {
	return m.SendTo(kind, "", data)
}

// SendTo is Send with a document scope stamped on the envelope.
func (m *Manager) SendTo(kind, documentID string, data any) bool {
	if m == nil {
		return false
	}

	payload, err := protocol.Marshal(data)
	if err != nil {
		m.stats.AddError()
		m.dispatcher.Emit(EventError, ErrorEvent{Err: err})
		return false
	}

	env := protocol.NewEnvelope(kind, m.opt.UserID, payload)
	env.DocumentID = documentID
	return m.sendEnvelope(env)
}

func (m *Manager) sendEnvelope(env protocol.Envelope) bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		m.outbox.Enqueue(env)
		return false
	}

	m.writeMu.Lock()
	err := m.writeConn(conn, env)
	m.writeMu.Unlock()
	if err != nil {
		m.stats.AddError()
		m.dispatcher.Emit(EventError, ErrorEvent{Err: errors.Wrap(exception.ErrSend, err.Error())})
		m.outbox.Enqueue(env)
		return false
	}
	return true
}

// sendPing writes a heartbeat frame. Pings are never queued; a missed ping on
// a dead socket is detected by the miss limit instead.
func (m *Manager) sendPing() bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return false
	}

	payload, err := protocol.Marshal(protocol.Ping{Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return false
	}
	env := protocol.NewEnvelope(protocol.KindPing, m.opt.UserID, payload)

	m.writeMu.Lock()
	err = m.writeConn(conn, env)
	m.writeMu.Unlock()
	if err != nil {
		m.stats.AddError()
		return false
	}
	return true
}

func (m *Manager) readLoop(conn transport.Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}

		env, decodeErr := protocol.Decode(data)
		if decodeErr != nil {
			m.stats.AddError()
			logs.Warnf("drop malformed frame, err: %+v", decodeErr)
			m.dispatcher.Emit(EventError, ErrorEvent{Err: decodeErr})
			continue
		}

		m.stats.AddReceived()

		if env.Type == protocol.KindPong {
			m.hb.HandlePong(env)
			continue
		}

		event := EnvelopeEvent{Envelope: env}
		m.dispatcher.Emit(EventMessage, event)
		m.dispatcher.Emit(env.Type, event)
	}
}

func (m *Manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.connGen {
		// A newer connection or an explicit disconnect already took over.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.connGen++
	suppressed := m.suppressReconnect
	m.state = StateDisconnected
	m.mu.Unlock()

	m.hb.Stop()

	code, reason, clean := transport.CloseInfo(cause)
	if !clean {
		m.stats.AddError()
	}
	logs.Infof("connection closed, code: %d, clean: %v, reason: %s", code, clean, reason)
	m.dispatcher.Emit(EventDisconnected, DisconnectedEvent{Code: code, Reason: reason, WasClean: clean})

	if clean || suppressed || !m.opt.AutoReconnect {
		return
	}

	m.mu.Lock()
	if m.state == StateDisconnected {
		m.state = StateReconnecting
	}
	m.mu.Unlock()

	if !m.rc.Schedule() {
		m.mu.Lock()
		if m.state == StateReconnecting {
			m.state = StateDisconnected
		}
		m.mu.Unlock()
	}
}

// reconnectAttempt runs one scheduled retry.
func (m *Manager) reconnectAttempt() {
	m.mu.Lock()
	if m.destroyed || m.suppressReconnect || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	att := &connectAttempt{done: make(chan struct{})}
	m.attempt = att
	m.mu.Unlock()

	att.err = m.dial(context.Background(), att, StateReconnecting)
	close(att.done)
	if att.err == nil {
		return
	}

	if !m.rc.Schedule() {
		m.mu.Lock()
		if m.state == StateReconnecting {
			m.state = StateDisconnected
		}
		m.mu.Unlock()
	}
}

// forceClose tears down a degraded connection so the regular close path and
// reconnect policy take over.
func (m *Manager) forceClose() {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		logs.Warn("force closing degraded connection")
		_ = conn.Close(transport.CloseAbnormal, "missed heartbeats")
	}
}

// Disconnect is the user-initiated close. It suppresses auto-reconnect and
// cancels the heartbeat and any pending retry before returning.
func (m *Manager) Disconnect() {
	if m == nil {
		return
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.suppressReconnect = true
	conn := m.conn
	m.conn = nil
	m.connGen++
	m.attempt = nil
	wasConnected := m.state == StateConnected
	if m.state != StateDisconnected {
		m.state = StateClosing
	}
	m.mu.Unlock()

	m.rc.Cancel()
	m.hb.Stop()

	if conn != nil {
		_ = conn.Close(transport.CloseNormal, "client disconnect")
	}

	m.mu.Lock()
	if m.state == StateClosing {
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	if wasConnected {
		m.dispatcher.Emit(EventDisconnected, DisconnectedEvent{
			Code:     transport.CloseNormal,
			Reason:   "client disconnect",
			WasClean: true,
		})
	}
}

// Destroy disconnects and releases every handler, queued message and counter.
// It is idempotent; the manager accepts no further Connect afterwards.
func (m *Manager) Destroy() {
	if m == nil {
		return
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.Disconnect()

	m.mu.Lock()
	m.destroyed = true
	m.mu.Unlock()

	m.outbox.Clear()
	m.dispatcher.Clear()
	m.stats.Reset()
}
