package collab

import (
	"net/http"
	"time"
)

const (
	// DefaultMaxReconnectAttempts caps automatic retries per outage.
	DefaultMaxReconnectAttempts = 5
	// DefaultHeartbeatInterval is the ping cadence while connected.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultHeartbeatMissLimit is how many unanswered pings count as degraded.
	DefaultHeartbeatMissLimit = 2
	// DefaultConnectTimeout bounds a single dial attempt.
	DefaultConnectTimeout = 10 * time.Second
)

// Option defines the client runtime configuration.
type Option struct {
	// URL is the backend endpoint. Required for the websocket transport.
	URL string
	// UserID identifies this client on every outgoing envelope. Required.
	UserID string
	// UserName is the display name sent in the handshake. Optional.
	UserName string
	// Header is attached to the opening handshake request. Optional.
	Header http.Header

	// AutoReconnect enables backoff retries after an unclean close.
	AutoReconnect bool
	// MaxReconnectAttempts caps retries per outage. Optional; default 5.
	MaxReconnectAttempts int
	// Backoff defines the retry delay curve. Optional; default DefaultBackoff.
	Backoff Backoff

	// HeartbeatInterval is the ping cadence. Optional; default 30s.
	HeartbeatInterval time.Duration
	// HeartbeatMissLimit is the unanswered-ping degraded threshold. Optional; default 2.
	HeartbeatMissLimit int
	// ForceCloseOnMissedPong closes a degraded connection instead of waiting
	// for the transport's own close detection. Optional; default false to
	// avoid false positives on slow links.
	ForceCloseOnMissedPong bool

	// ConnectTimeout bounds a single dial attempt. Optional; default 10s.
	ConnectTimeout time.Duration
	// QueueCapacity bounds the offline outbox. Optional; default 100.
	QueueCapacity int
}

// DefaultOption returns the documented defaults with reconnection enabled.
func DefaultOption() Option {
	opt := Option{AutoReconnect: true}
	opt.init()
	return opt
}

func (opt *Option) init() {
	if opt.MaxReconnectAttempts <= 0 {
		opt.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opt.Backoff.Min == 0 && opt.Backoff.Max == 0 && opt.Backoff.Factor == 0 && opt.Backoff.Jitter == 0 {
		opt.Backoff = DefaultBackoff()
	}
	if opt.HeartbeatInterval <= 0 {
		opt.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opt.HeartbeatMissLimit <= 0 {
		opt.HeartbeatMissLimit = DefaultHeartbeatMissLimit
	}
	if opt.ConnectTimeout <= 0 {
		opt.ConnectTimeout = DefaultConnectTimeout
	}
	if opt.QueueCapacity <= 0 {
		opt.QueueCapacity = DefaultQueueCapacity
	}
}
