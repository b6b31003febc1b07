package collab

import (
	"time"

	"github.com/collabwire/collabwire/pkg/protocol"
)

// Transport-local event kinds, re-exported for subscribers.
const (
	EventMessage         = protocol.KindMessage
	EventConnected       = protocol.KindConnected
	EventDisconnected    = protocol.KindDisconnected
	EventError           = protocol.KindError
	EventReconnecting    = protocol.KindReconnecting
	EventReconnectFailed = protocol.KindReconnectFailed
	EventLatencyUpdate   = protocol.KindLatencyUpdate
)

// Event is the closed set of payloads delivered through the dispatcher.
// Envelope events carry decoded wire frames; the rest are transport-local.
type Event interface {
	eventKind() string
}

// EnvelopeEvent wraps a decoded inbound envelope. It is emitted under both
// the generic message kind and the envelope's own type.
type EnvelopeEvent struct {
	Envelope protocol.Envelope
}

func (e EnvelopeEvent) eventKind() string { return e.Envelope.Type }

// ConnectedEvent fires on every successful connect. Reconnect distinguishes
// a recovery from the first connect.
type ConnectedEvent struct {
	Reconnect bool
}

func (ConnectedEvent) eventKind() string { return protocol.KindConnected }

// DisconnectedEvent fires when the socket closes, however that happened.
type DisconnectedEvent struct {
	Code     int
	Reason   string
	WasClean bool
}

func (DisconnectedEvent) eventKind() string { return protocol.KindDisconnected }

// ErrorEvent surfaces a locally recovered transport error.
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) eventKind() string { return protocol.KindError }

// ReconnectingEvent fires when a retry is scheduled, before it runs.
type ReconnectingEvent struct {
	Attempt int
	Delay   time.Duration
}

func (ReconnectingEvent) eventKind() string { return protocol.KindReconnecting }

// ReconnectFailedEvent is terminal: the retry cap was exceeded and no further
// automatic attempt will run.
type ReconnectFailedEvent struct {
	Attempts int
}

func (ReconnectFailedEvent) eventKind() string { return protocol.KindReconnectFailed }

// LatencyEvent reports a fresh heartbeat round-trip measurement.
type LatencyEvent struct {
	RTT time.Duration
}

func (LatencyEvent) eventKind() string { return protocol.KindLatencyUpdate }
