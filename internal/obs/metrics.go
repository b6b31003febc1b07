package obs

import (
	"sync/atomic"
	"time"
)

// Stats collects lightweight transport counters.
type Stats struct {
	sent          atomic.Uint64
	received      atomic.Uint64
	errs          atomic.Uint64
	reconnects    atomic.Uint64
	lastConnected atomic.Int64
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	TotalMessagesSent     uint64
	TotalMessagesReceived uint64
	TotalErrors           uint64
	ReconnectAttempts     uint64
	LastConnectedAt       time.Time
}

// NewStats allocates a stats container.
func NewStats() *Stats {
	return &Stats{}
}

// AddSent counts one message handed to the socket.
func (s *Stats) AddSent() {
	if s == nil {
		return
	}
	s.sent.Add(1)
}

// AddReceived counts one decoded inbound envelope.
func (s *Stats) AddReceived() {
	if s == nil {
		return
	}
	s.received.Add(1)
}

// AddError counts one recovered transport error.
func (s *Stats) AddError() {
	if s == nil {
		return
	}
	s.errs.Add(1)
}

// AddReconnect counts one scheduled reconnection attempt.
func (s *Stats) AddReconnect() {
	if s == nil {
		return
	}
	s.reconnects.Add(1)
}

// MarkConnected records the time of a successful connect.
func (s *Stats) MarkConnected(at time.Time) {
	if s == nil {
		return
	}
	s.lastConnected.Store(at.UnixMilli())
}

// Snapshot captures the current counter values.
func (s *Stats) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		TotalMessagesSent:     s.sent.Load(),
		TotalMessagesReceived: s.received.Load(),
		TotalErrors:           s.errs.Load(),
		ReconnectAttempts:     s.reconnects.Load(),
	}
	if ms := s.lastConnected.Load(); ms > 0 {
		snap.LastConnectedAt = time.UnixMilli(ms)
	}
	return snap
}

// Reset zeroes every counter. Called on explicit client teardown.
func (s *Stats) Reset() {
	if s == nil {
		return
	}
	s.sent.Store(0)
	s.received.Store(0)
	s.errs.Store(0)
	s.reconnects.Store(0)
	s.lastConnected.Store(0)
}
