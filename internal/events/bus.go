package events

import "sync"

// Bus is the in-process broker tying the price feed, trade engine and
// funds ledger to their consumers (websocket streams, future listeners).
// Publish never blocks: a subscriber whose buffer is full misses the
// message instead of stalling the producer.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	topics map[Event]map[int]chan any
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[Event]map[int]chan any)}
}

// Subscribe registers a listener for one event and returns its channel
// plus an unsubscribe function. Unsubscribing closes the channel and is
// safe to call more than once.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.topics[e] == nil {
		b.topics[e] = make(map[int]chan any)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan any, buffer)
	b.topics[e][id] = ch

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.topics[e][id]; ok {
				delete(b.topics[e], id)
				close(c)
			}
		})
	}
	return ch, unsub
}

// Publish delivers the payload to every subscriber of the event,
// dropping it for any subscriber that cannot take it immediately.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.topics[e] {
		select {
		case ch <- payload:
		default:
		}
	}
}
