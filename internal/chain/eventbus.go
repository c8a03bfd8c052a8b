package chain

import (
	"sync"

	"tododapp.mini/tdm/internal/types"
)

// EventBus fans notifications out to subscribers. Sends never block: a
// subscriber whose buffer is full misses the notification.
type EventBus struct {
	mu      sync.RWMutex
	clients map[chan types.Notification]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{
		clients: make(map[chan types.Notification]struct{}),
	}
}

// Subscribe registers a new subscriber with the given buffer size.
func (b *EventBus) Subscribe(buffer int) chan types.Notification {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan types.Notification, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[ch] = struct{}{}
	return ch
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored.
func (b *EventBus) Unsubscribe(ch chan types.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; !ok {
		return
	}
	delete(b.clients, ch)
	close(ch)
}

// Publish delivers n to every subscriber that has room for it.
func (b *EventBus) Publish(n types.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- n:
		default:
			// slow subscriber, skip
		}
	}
}

// Len reports the number of live subscribers.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
