package protocol

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Well-known envelope kinds produced by the client.
const (
	KindHandshake      = "handshake"
	KindPing           = "ping"
	KindJoinDocument   = "join-document"
	KindLeaveDocument  = "leave-document"
	KindCursorUpdate   = "cursor-update"
	KindContentChange  = "content-change"
	KindCommentAdd     = "comment-add"
	KindPresenceUpdate = "presence-update"
)

// Well-known envelope kinds consumed from the backend.
const (
	KindPong = "pong"
)

// Transport-local event kinds. These never cross the wire; they are emitted
// by the client itself for observability.
const (
	KindMessage         = "message"
	KindConnected       = "connected"
	KindDisconnected    = "disconnected"
	KindError           = "error"
	KindReconnecting    = "reconnecting"
	KindReconnectFailed = "reconnect_failed"
	KindLatencyUpdate   = "latency-update"
)

// Envelope is the wire-level wrapper for every message exchanged with the
// collaboration backend. Data stays opaque to the transport.
type Envelope struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	UserID     string          `json:"userId"`
	DocumentID string          `json:"documentId,omitempty"`
	ID         string          `json:"id,omitempty"`
}

// NewEnvelope stamps a fresh outgoing envelope with the current time and a
// unique message id for backend de-duplication.
func NewEnvelope(kind, userID string, data json.RawMessage) Envelope {
	return Envelope{
		Type:      kind,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		UserID:    userID,
		ID:        ulid.Make().String(),
	}
}
