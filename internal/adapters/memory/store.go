package memory

import (
	"context"
	"sync"

	"github.com/quentinrf/aquaflow/internal/domain"
)

// Store implements domain.StateStore with in-memory storage
// This is perfect for development - no database setup needed
type Store struct {
	// mu serialises writes with their fan-out so every listener sees a
	// channel's values in write order.
	mu     sync.Mutex
	values map[domain.Channel][]byte
	broker *Broker
	closed bool
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		values: make(map[domain.Channel][]byte),
		broker: NewBroker(),
	}
}

// Subscribe registers fn and hands it the current value before returning.
// fn must not call back into the store.
func (s *Store) Subscribe(ctx context.Context, channel domain.Channel, fn domain.Listener) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}

	cancel := s.broker.Subscribe(channel, fn)
	if current, ok := s.values[channel]; ok {
		fn(ctx, append([]byte(nil), current...))
	}

	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

// Write stores value and notifies subscribers
func (s *Store) Write(ctx context.Context, channel domain.Channel, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}

	s.values[channel] = append([]byte(nil), value...)
	s.broker.Publish(ctx, channel, value)
	return nil
}

// ReadOnce returns the current value of channel
func (s *Store) ReadOnce(ctx context.Context, channel domain.Channel) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, domain.ErrStoreClosed
	}

	value, ok := s.values[channel]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Close makes every further call fail with ErrStoreClosed
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
