// Package redis implements the real-time state store on Redis.
//
// Each channel is a plain string key holding the latest value. Writes set
// the key and publish the same value on a pub/sub topic of the same name in
// one MULTI/EXEC, so every subscriber that sees a message can also read it
// back. Reconnection after a dropped connection is left to go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/quentinrf/aquaflow/internal/domain"
)

// DefaultPrefix namespaces keys and topics
const DefaultPrefix = "aquaflow:"

// Store implements domain.StateStore with Redis
type Store struct {
	client *goredis.Client
	prefix string
}

// NewStore connects lazily to the Redis server at addr
func NewStore(addr, password string, db int, prefix string) *Store {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewStoreFromClient(client, prefix)
}

// NewStoreFromClient wraps an existing client. The store takes ownership
// and closes it on Close.
func NewStoreFromClient(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Store) key(channel domain.Channel) string {
	return s.prefix + string(channel)
}

// Subscribe listens on the channel's topic, then hands fn the current value.
// A change racing with the initial read may be delivered twice, or once
// before the newer value read back; the accumulator treats the older one
// as no new usage.
func (s *Store) Subscribe(ctx context.Context, channel domain.Channel, fn domain.Listener) (func(), error) {
	key := s.key(channel)

	ps := s.client.Subscribe(ctx, key)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	current, err := s.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
	case err != nil:
		ps.Close()
		return nil, fmt.Errorf("failed to read %s: %w", channel, err)
	default:
		fn(ctx, current)
	}

	messages := ps.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range messages {
			fn(ctx, []byte(msg.Payload))
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ps.Close()
			<-done
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

// Write sets the key and publishes the value atomically
func (s *Store) Write(ctx context.Context, channel domain.Channel, value []byte) error {
	key := s.key(channel)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, key, value, 0)
		pipe.Publish(ctx, key, value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", channel, err)
	}
	return nil
}

// ReadOnce returns the current value of the channel's key
func (s *Store) ReadOnce(ctx context.Context, channel domain.Channel) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.key(channel)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", channel, err)
	}
	return value, true, nil
}

// Close closes the client and every subscription made through it
func (s *Store) Close() error {
	return s.client.Close()
}
