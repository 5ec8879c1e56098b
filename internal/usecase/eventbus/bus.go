package eventbus

import (
	"context"

	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
)

// DefaultCapacity is the bus capacity used when none is configured.
const DefaultCapacity = 10_000

// Bus is a bounded, ordered hand-off queue between the book builders and the
// single sink consumer. Publish blocks while the bus is at capacity; that
// backpressure is the only flow-control mechanism between producers and the
// sink. Producers that cannot tolerate blocking must sample before publishing.
type Bus struct {
	ch chan bookv1.Event
}

// New creates a bus with the given capacity. Non-positive capacities fall
// back to DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		ch: make(chan bookv1.Event, capacity),
	}
}

// Publish enqueues an event, blocking while the bus is full. Returns the
// context error if ctx is done first.
func (b *Bus) Publish(ctx context.Context, event bookv1.Event) error {
	select {
	case b.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next blocks until an event is available and returns it in FIFO order.
// Returns the context error if ctx is done first.
func (b *Bus) Next(ctx context.Context) (bookv1.Event, error) {
	select {
	case event := <-b.ch:
		return event, nil
	case <-ctx.Done():
		return bookv1.Event{}, ctx.Err()
	}
}

// Len returns the number of events currently queued.
func (b *Bus) Len() int {
	return len(b.ch)
}
