package domain

import "context"

// Listener receives every value pushed on a channel.
// It runs on a store goroutine and must not block for long.
type Listener func(ctx context.Context, value []byte)

// StateStore is the real-time key/value store shared with the controller.
// This is a PORT - adapters (Memory, SQLite, Redis) will implement it
type StateStore interface {
	// Subscribe registers fn for changes on channel. The current value, if
	// any, is delivered right after subscribing. Delivery is asynchronous
	// and at-least-once per change; there is no ordering across channels.
	Subscribe(ctx context.Context, channel Channel, fn Listener) (cancel func(), err error)

	// Write overwrites the value of channel and notifies subscribers
	Write(ctx context.Context, channel Channel, value []byte) error

	// ReadOnce returns the current value of channel.
	// found is false when nothing has been written yet.
	ReadOnce(ctx context.Context, channel Channel) (value []byte, found bool, err error)

	// Close releases any resources
	Close() error
}
