package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Close codes mirroring RFC 6455.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// Dialer establishes a connection to the collaboration backend.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Conn is a single established connection. Implementations must allow
// concurrent WriteMessage calls and a Close while ReadMessage is blocked.
type Conn interface {
	// ReadMessage blocks for the next frame. On closure it returns a
	// *CloseError when the peer sent a close frame, any other error otherwise.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// CloseError reports the close code and reason observed on a connection.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code %d, reason %q", e.Code, e.Reason)
}

// CloseInfo extracts the close code, reason and cleanliness from a read error.
// Errors that are not close frames count as abnormal closures.
func CloseInfo(err error) (code int, reason string, clean bool) {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		clean := closeErr.Code == CloseNormal || closeErr.Code == CloseGoingAway
		return closeErr.Code, closeErr.Reason, clean
	}

	reason = ""
	if err != nil {
		reason = err.Error()
	}
	return CloseAbnormal, reason, false
}
