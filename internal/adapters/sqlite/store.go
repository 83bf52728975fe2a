package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quentinrf/aquaflow/internal/adapters/memory"
	"github.com/quentinrf/aquaflow/internal/domain"
)

// Store implements domain.StateStore with SQLite.
// Values survive restarts; change notifications are in-process only, so a
// database file must not be shared between running services.
type Store struct {
	db     *sql.DB
	broker *memory.Broker

	// mu keeps each write and its fan-out together, preserving per-channel order
	mu sync.Mutex
}

// NewStore opens (or creates) a SQLite-backed store
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	// Create table if not exists
	schema := `
	CREATE TABLE IF NOT EXISTS channel_values (
		channel TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, broker: memory.NewBroker()}, nil
}

// Subscribe registers fn and hands it the stored value before returning.
// fn must not call back into the store.
func (s *Store) Subscribe(ctx context.Context, channel domain.Channel, fn domain.Listener) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.get(ctx, channel)
	if err != nil && err != domain.ErrNotFound {
		return nil, err
	}

	cancel := s.broker.Subscribe(channel, fn)
	if err == nil {
		fn(ctx, current)
	}

	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

// Write upserts value and notifies subscribers
func (s *Store) Write(ctx context.Context, channel domain.Channel, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO channel_values (channel, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, query, string(channel), value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write %s: %w", channel, err)
	}

	s.broker.Publish(ctx, channel, value)
	return nil
}

// ReadOnce returns the stored value of channel
func (s *Store) ReadOnce(ctx context.Context, channel domain.Channel) ([]byte, bool, error) {
	value, err := s.get(ctx, channel)
	if err == domain.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) get(ctx context.Context, channel domain.Channel) ([]byte, error) {
	query := `SELECT value FROM channel_values WHERE channel = ?`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, string(channel)).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", channel, err)
	}
	return value, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
