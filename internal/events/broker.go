package events

import (
	"context"
	"sync"

	"github.com/sandeepkv93/ticket-access-service/internal/observability"
)

const defaultSubscriberBuffer = 32

// Broker fans events out to in-process subscribers such as the admin event
// stream. Publishing never blocks: a subscriber whose buffer is full misses
// the event.
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan Event
	buffer int
	closed bool
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broker{subs: make(map[uint64]chan Event), buffer: buffer}
}

// Subscribe registers a listener. The returned cancel func is idempotent and
// closes the channel.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *Broker) Publish(ctx context.Context, ev Event) error {
	if ev.Sensitive {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			observability.RecordEventPublish(ctx, "broker", ev.Type, "delivered")
		default:
			observability.RecordEventPublish(ctx, "broker", ev.Type, "dropped")
		}
	}
	return nil
}

func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close disconnects every subscriber; later subscriptions get a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
