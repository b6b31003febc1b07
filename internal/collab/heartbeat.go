package collab

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"github.com/collabwire/collabwire/pkg/protocol"
)

// heartbeat sends periodic pings while connected and measures round-trip
// latency from the matching pongs.
type heartbeat struct {
	interval   time.Duration
	missLimit  int
	forceClose bool

	sendPing func() bool
	emit     func(kind string, event Event)
	degraded func()

	mu         sync.Mutex
	stop       chan struct{}
	lastPingAt time.Time
	awaiting   int
	latency    atomic.Int64
}

func newHeartbeat(opt Option, sendPing func() bool, emit func(string, Event), degraded func()) *heartbeat {
	return &heartbeat{
		interval:   opt.HeartbeatInterval,
		missLimit:  opt.HeartbeatMissLimit,
		forceClose: opt.ForceCloseOnMissedPong,
		sendPing:   sendPing,
		emit:       emit,
		degraded:   degraded,
	}
}

// Start begins the ping loop. It is a no-op while already running.
func (h *heartbeat) Start() {
	h.mu.Lock()
	if h.stop != nil {
		h.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	h.stop = stop
	h.awaiting = 0
	h.mu.Unlock()

	go h.run(stop)
}

// Stop ends the ping loop. No ping fires after Stop returns.
func (h *heartbeat) Stop() {
	h.mu.Lock()
	if h.stop != nil {
		close(h.stop)
		h.stop = nil
	}
	h.mu.Unlock()
}

func (h *heartbeat) run(stop chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.tick(stop)
		}
	}
}

func (h *heartbeat) tick(stop chan struct{}) {
	h.mu.Lock()
	if h.stop != stop {
		h.mu.Unlock()
		return
	}
	h.awaiting++
	missed := h.awaiting - 1
	h.lastPingAt = time.Now()
	h.mu.Unlock()

	if missed > h.missLimit {
		logs.Warnf("connection degraded, %d pings unanswered", missed)
		if h.forceClose {
			h.degraded()
			return
		}
	}

	h.sendPing()
}

// HandlePong consumes a pong envelope and publishes the measured latency.
func (h *heartbeat) HandlePong(protocol.Envelope) {
	h.mu.Lock()
	if h.lastPingAt.IsZero() {
		h.mu.Unlock()
		return
	}
	rtt := time.Since(h.lastPingAt)
	h.awaiting = 0
	h.mu.Unlock()

	h.latency.Store(int64(rtt))
	h.emit(EventLatencyUpdate, LatencyEvent{RTT: rtt})
}

// Latency returns the most recent round-trip measurement.
func (h *heartbeat) Latency() time.Duration {
	return time.Duration(h.latency.Load())
}
