package exception

import "github.com/yanun0323/errors"

// Connection errors
var (
	ErrConnectionClosed   = errors.New("connection closed")
	ErrConnectTimeout     = errors.New("connect timeout")
	ErrNotConnected       = errors.New("not connected")
	ErrClientDestroyed    = errors.New("client destroyed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
