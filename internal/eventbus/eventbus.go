package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wodeewa/fleetd/core/model"
)

// defaultBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind starts losing events; unit-changed events carry full
// snapshots, so the next change restores a consistent view.
const defaultBuffer = 64

// Bus is a publish/subscribe fan-out for model.Event. Delivery to each
// subscriber happens on the subscriber's own goroutine via its channel, so a
// slow consumer never blocks the publisher or its peers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]chan model.Event
	buffer int
	closed bool
	onDrop func(model.Event)
}

// New creates a Bus with the default per-subscriber buffer.
func New() *Bus {
	return &Bus{subs: make(map[uuid.UUID]chan model.Event), buffer: defaultBuffer}
}

// OnDrop registers a hook invoked whenever an event is dropped because a
// subscriber's buffer is full. Used for metrics; must not block.
func (b *Bus) OnDrop(fn func(model.Event)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Publish sends the event to all current subscribers. Non-blocking: a full
// subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(e model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			if b.onDrop != nil {
				b.onDrop(e)
			}
		}
	}
}

// Subscribe registers a subscriber and returns its handle and channel. The
// channel is closed on Unsubscribe or Close.
func (b *Bus) Subscribe() (uuid.UUID, <-chan model.Event) {
	id := uuid.New()
	ch := make(chan model.Event, b.buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs[id] = ch
	}
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// more than once; connection close and explicit stream end can race.
func (b *Bus) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		if !b.closed {
			close(ch)
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes all subscriber channels and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = map[uuid.UUID]chan model.Event{}
	b.mu.Unlock()
}
