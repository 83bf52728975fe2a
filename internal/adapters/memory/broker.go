package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/quentinrf/aquaflow/internal/domain"
)

// Broker fans values out to in-process listeners.
// The SQLite store reuses it, since SQLite has no notification mechanism.
type Broker struct {
	mu        sync.RWMutex
	listeners map[domain.Channel]map[uuid.UUID]domain.Listener
}

// NewBroker creates a broker with no listeners
func NewBroker() *Broker {
	return &Broker{
		listeners: make(map[domain.Channel]map[uuid.UUID]domain.Listener),
	}
}

// Subscribe registers fn on channel and returns a function removing it
func (b *Broker) Subscribe(channel domain.Channel, fn domain.Listener) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	listeners, ok := b.listeners[channel]
	if !ok {
		listeners = make(map[uuid.UUID]domain.Listener)
		b.listeners[channel] = listeners
	}
	var id uuid.UUID
	for {
		id = uuid.New()
		if _, ok := listeners[id]; !ok {
			break
		}
	}
	listeners[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[channel], id)
	}
}

// Publish delivers value to every listener on channel and waits for them.
// Each listener gets its own copy of value.
func (b *Broker) Publish(ctx context.Context, channel domain.Channel, value []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	listeners := b.listeners[channel]
	var wg sync.WaitGroup
	for _, fn := range listeners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx, append([]byte(nil), value...))
		}()
	}
	wg.Wait()
}

// Len returns the number of listeners on channel
func (b *Broker) Len(channel domain.Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[channel])
}
