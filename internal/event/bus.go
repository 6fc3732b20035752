package event

import "sync"

// Handler receives every published event. Handlers run synchronously on the
// publisher's goroutine; slow consumers should hand off internally.
type Handler func(e any)

// Bus is an in-process fan-out of domain events to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs []Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all future events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, h)
}

// Publish delivers e to every subscriber. Callers must not hold a user lock:
// services publish only after the mutation is committed and the lock released.
func (b *Bus) Publish(e any) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, h := range subs {
		h(e)
	}
}
