package collab

import (
	"testing"

	"github.com/collabwire/collabwire/pkg/protocol"
)

func TestDispatcherInvokesInRegistrationOrder(t *testing.T) {
	d := NewDispatcher()

	var order []int
	d.On("cursor-update", func(Event) { order = append(order, 1) })
	d.On("cursor-update", func(Event) { order = append(order, 2) })
	d.On("cursor-update", func(Event) { order = append(order, 3) })

	d.Emit("cursor-update", EnvelopeEvent{})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("handlers ran out of order: %v", order)
	}
}

func TestDispatcherOffRemovesExactlyOneHandler(t *testing.T) {
	d := NewDispatcher()

	var first, second int
	sub := d.On("presence-update", func(Event) { first++ })
	d.On("presence-update", func(Event) { second++ })

	d.Off(sub)
	d.Emit("presence-update", EnvelopeEvent{})

	if first != 0 {
		t.Fatalf("removed handler still ran %d times", first)
	}
	if second != 1 {
		t.Fatalf("sibling handler ran %d times, want 1", second)
	}
}

func TestDispatcherOffKindRemovesAll(t *testing.T) {
	d := NewDispatcher()

	calls := 0
	d.On("comment-add", func(Event) { calls++ })
	d.On("comment-add", func(Event) { calls++ })

	d.OffKind("comment-add")
	d.Emit("comment-add", EnvelopeEvent{})

	if calls != 0 {
		t.Fatalf("handlers ran %d times after OffKind", calls)
	}
}

func TestDispatcherIsolatesPanickingHandler(t *testing.T) {
	d := NewDispatcher()

	var after bool
	d.On("content-change", func(Event) { panic("handler bug") })
	d.On("content-change", func(Event) { after = true })

	d.Emit("content-change", EnvelopeEvent{})

	if !after {
		t.Fatal("sibling handler did not run after panic")
	}
}

func TestDispatcherHandlerMayUnsubscribeDuringEmit(t *testing.T) {
	d := NewDispatcher()

	var sub Subscription
	calls := 0
	sub = d.On(protocol.KindMessage, func(Event) {
		calls++
		d.Off(sub)
	})

	d.Emit(protocol.KindMessage, EnvelopeEvent{})
	d.Emit(protocol.KindMessage, EnvelopeEvent{})

	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}
