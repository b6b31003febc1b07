package collab

import (
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"github.com/collabwire/collabwire/pkg/protocol"
)

// DefaultQueueCapacity bounds the offline outbox.
const DefaultQueueCapacity = 100

// QueuedMessage is an envelope waiting for a live socket.
type QueuedMessage struct {
	Envelope   protocol.Envelope
	EnqueuedAt time.Time
}

// Outbox is a bounded FIFO ring holding messages sent while disconnected.
// Overflow evicts the oldest entry; cursor and presence frames supersede each
// other, so losing the oldest is the cheapest policy.
type Outbox struct {
	mu   sync.Mutex
	buf  []QueuedMessage
	head int
	size int
}

// NewOutbox allocates a ring with the given capacity.
func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Outbox{buf: make([]QueuedMessage, capacity)}
}

// Enqueue appends an envelope, evicting the oldest entry when full.
func (q *Outbox) Enqueue(e protocol.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == len(q.buf) {
		dropped := q.buf[q.head]
		q.buf[q.head] = QueuedMessage{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		logs.Warnf("outbox full, dropping oldest message, type: %s, id: %s", dropped.Envelope.Type, dropped.Envelope.ID)
	}

	tail := (q.head + q.size) % len(q.buf)
	q.buf[tail] = QueuedMessage{Envelope: e, EnqueuedAt: time.Now()}
	q.size++
}

// Len returns the number of queued messages.
func (q *Outbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Flush drains the queue in enqueue order, calling send for each envelope.
// On the first failed send the failed entry and everything after it stay
// queued in their original order and the flush aborts. Messages enqueued
// while the flush runs are drained in the same pass, after the backlog.
func (q *Outbox) Flush(send func(protocol.Envelope) error) (sent int, err error) {
	for {
		q.mu.Lock()
		if q.size == 0 {
			q.mu.Unlock()
			return sent, nil
		}
		next := q.buf[q.head].Envelope
		q.mu.Unlock()

		if err := send(next); err != nil {
			return sent, err
		}

		q.mu.Lock()
		// A concurrent enqueue on a full ring may have evicted the entry we
		// just sent; only pop it if it is still at the head.
		if q.size > 0 && q.buf[q.head].Envelope.ID == next.ID {
			q.buf[q.head] = QueuedMessage{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
		}
		q.mu.Unlock()
		sent++
	}
}

// Clear drops every queued message.
func (q *Outbox) Clear() {
	q.mu.Lock()
	for i := range q.buf {
		q.buf[i] = QueuedMessage{}
	}
	q.head = 0
	q.size = 0
	q.mu.Unlock()
}
