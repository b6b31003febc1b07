package protocol

import "encoding/json"

// Handshake binds a freshly opened connection to an identity.
type Handshake struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// Ping carries the client send time so a pong can be matched for latency.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// Selection is an inclusive character range inside a document.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// CursorUpdate reports the local caret position, with an optional selection.
type CursorUpdate struct {
	Offset    int        `json:"offset"`
	Selection *Selection `json:"selection,omitempty"`
}

// ContentChange carries an opaque edit delta against a base version. The
// transport never interprets the delta; conflict resolution happens upstream.
type ContentChange struct {
	BaseVersion int64           `json:"baseVersion"`
	Delta       json.RawMessage `json:"delta"`
}

// Comment anchors a comment body at a character offset.
type Comment struct {
	CommentID string `json:"commentId"`
	Body      string `json:"body"`
	Anchor    int    `json:"anchor"`
}

// Presence statuses.
const (
	PresenceActive  = "active"
	PresenceIdle    = "idle"
	PresenceOffline = "offline"
)

// Presence is the ephemeral viewing/editing state of a user.
type Presence struct {
	Status  string `json:"status"`
	Editing bool   `json:"editing,omitempty"`
}
