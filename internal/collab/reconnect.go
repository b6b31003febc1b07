package collab

import (
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

// reconnector schedules backoff retries after unclean closes. At most one
// retry timer exists at a time; exceeding the attempt cap is terminal until
// the application connects manually.
type reconnector struct {
	mu        sync.Mutex
	backoff   Backoff
	max       int
	attempts  int
	timer     *time.Timer
	gen       uint64
	exhausted bool

	attemptFn func()
	emit      func(kind string, event Event)
	onAttempt func()
}

func newReconnector(backoff Backoff, max int, attemptFn func(), emit func(string, Event), onAttempt func()) *reconnector {
	return &reconnector{
		backoff:   backoff,
		max:       max,
		attemptFn: attemptFn,
		emit:      emit,
		onAttempt: onAttempt,
	}
}

// Schedule arms the next retry timer. It reports false when no retry will run
// because the cap is exhausted.
func (r *reconnector) Schedule() bool {
	r.mu.Lock()

	if r.timer != nil {
		r.mu.Unlock()
		return true
	}

	if r.exhausted {
		r.mu.Unlock()
		return false
	}

	if r.attempts >= r.max {
		r.exhausted = true
		attempts := r.attempts
		r.mu.Unlock()
		logs.Warnf("reconnect attempts exhausted after %d tries", attempts)
		r.emit(EventReconnectFailed, ReconnectFailedEvent{Attempts: attempts})
		return false
	}

	r.attempts++
	attempt := r.attempts
	delay := r.backoff.Next(attempt)
	gen := r.gen

	r.timer = time.AfterFunc(delay, func() { r.fire(gen) })
	r.mu.Unlock()

	r.onAttempt()
	logs.Infof("reconnect attempt %d scheduled in %s", attempt, delay)
	r.emit(EventReconnecting, ReconnectingEvent{Attempt: attempt, Delay: delay})
	return true
}

func (r *reconnector) fire(gen uint64) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()

	r.attemptFn()
}

// Cancel stops any pending retry. No retry fires after Cancel returns. A
// manual connect also clears the exhausted latch.
func (r *reconnector) Cancel() {
	r.mu.Lock()
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.exhausted = false
	r.mu.Unlock()
}

// Reset clears the attempt counter after a successful connect.
func (r *reconnector) Reset() {
	r.mu.Lock()
	r.attempts = 0
	r.exhausted = false
	r.mu.Unlock()
}

// Pending reports whether a retry timer is armed.
func (r *reconnector) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}
