package ports

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/quentinrf/aquaflow/internal/domain"
	"github.com/quentinrf/aquaflow/internal/usage"
)

// eventBuffer is how many store notifications may queue up behind the loop
const eventBuffer = 1024

// Stats receives operational counters from the monitor
type Stats interface {
	RecordReading(channel domain.Channel)
	RecordDroppedEvent(channel domain.Channel)
	RecordSnapshotWrite()
	RecordStoreError(op string)
	RecordPumpCommand(cmd domain.PumpCommand)
}

type nopStats struct{}

func (nopStats) RecordReading(domain.Channel)         {}
func (nopStats) RecordDroppedEvent(domain.Channel)    {}
func (nopStats) RecordSnapshotWrite()                 {}
func (nopStats) RecordStoreError(string)              {}
func (nopStats) RecordPumpCommand(domain.PumpCommand) {}

// Monitor reacts to the store's channels. Every event, including user
// actions, runs on the single goroutine inside Run, which is the only code
// touching the accumulator and the leak detector.
type Monitor struct {
	store   domain.StateStore
	acc     *usage.Accumulator
	display Display
	stats   Stats

	events chan func(context.Context)

	// owned by the Run goroutine
	leak     usage.LeakDetector
	reading1 float64
	reading2 float64
	pump     domain.PumpCommand

	mu    sync.RWMutex
	view  View
	ready chan struct{}
}

// NewMonitor creates a monitor. display and stats may be nil.
func NewMonitor(store domain.StateStore, acc *usage.Accumulator, display Display, stats Stats) *Monitor {
	if display == nil {
		display = MultiDisplay(nil)
	}
	if stats == nil {
		stats = nopStats{}
	}
	m := &Monitor{
		store:   store,
		acc:     acc,
		display: display,
		stats:   stats,
		events:  make(chan func(context.Context), eventBuffer),
		pump:    domain.PumpOff,
		ready:   make(chan struct{}),
	}
	m.view = m.buildView()
	return m
}

// Run subscribes to the sensor and pump channels, loads the persisted
// snapshot in the background and processes events until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info().Msg("starting flow monitor")

	for _, channel := range []domain.Channel{domain.ChannelFlow1, domain.ChannelFlow2, domain.ChannelPump} {
		cancel, err := m.store.Subscribe(ctx, channel, m.listener(channel))
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		defer cancel()
	}

	go m.loadSnapshot(ctx)

	for {
		select {
		case fn := <-m.events:
			fn(ctx)

		case <-ctx.Done():
			log.Info().Msg("stopping flow monitor")
			return ctx.Err()
		}
	}
}

// listener queues store notifications without ever blocking the store
func (m *Monitor) listener(channel domain.Channel) domain.Listener {
	return func(_ context.Context, value []byte) {
		select {
		case m.events <- func(ctx context.Context) { m.handle(ctx, channel, value) }:
		default:
			m.stats.RecordDroppedEvent(channel)
			log.Warn().Str("channel", string(channel)).Msg("event queue full, dropping notification")
		}
	}
}

// loadSnapshot reads the persisted snapshot, retrying until it succeeds
// or ctx ends, then opens the ready gate on the loop goroutine
func (m *Monitor) loadSnapshot(ctx context.Context) {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0

	var snap domain.UsageSnapshot
	err := backoff.Retry(func() error {
		s, err := usage.ReadSnapshot(ctx, m.store)
		if err != nil {
			m.stats.RecordStoreError("read")
			log.Warn().Err(err).Msg("failed to load usage snapshot, retrying")
			return err
		}
		snap = s
		return nil
	}, backoff.WithContext(eb, ctx))
	if err != nil {
		log.Error().Err(err).Msg("gave up loading usage snapshot")
		return
	}

	select {
	case m.events <- func(ctx context.Context) { m.restore(ctx, snap) }:
	case <-ctx.Done():
	}
}

func (m *Monitor) restore(ctx context.Context, snap domain.UsageSnapshot) {
	// A reset that won the race already opened the gate and its zeroed
	// totals stand.
	wasReady := m.acc.Ready()
	changed, err := m.acc.Restore(ctx, snap)
	m.recordPersist(changed, err)

	if wasReady {
		log.Info().Msg("snapshot load ignored after reset")
	} else {
		log.Info().
			Float64("total_liters", m.acc.Snapshot().TotalLiters).
			Float64("last_flow2", m.acc.Snapshot().LastFlow2).
			Msg("usage snapshot loaded")
	}

	m.markReady()
	m.render()
}

func (m *Monitor) handle(ctx context.Context, channel domain.Channel, raw []byte) {
	switch channel {
	case domain.ChannelPump:
		m.pump = domain.DecodePumpCommand(raw)
		m.render()
		return
	case domain.ChannelFlow1, domain.ChannelFlow2:
	default:
		return
	}

	value := domain.DecodeFloat(raw)
	m.stats.RecordReading(channel)

	var (
		changed bool
		err     error
	)
	if channel == domain.ChannelFlow1 {
		m.reading1 = value
		changed, err = m.acc.OnSensor1Reading(ctx, value)
	} else {
		m.reading2 = value
		changed, err = m.acc.OnSensor2Reading(ctx, value)
	}
	status := m.leak.Observe(channel, value)
	m.recordPersist(changed, err)

	log.Debug().
		Str("channel", string(channel)).
		Float64("value", value).
		Str("leak", string(status)).
		Bool("usage_changed", changed).
		Msg("flow reading")

	m.render()
}

func (m *Monitor) recordPersist(changed bool, err error) {
	if err != nil {
		m.stats.RecordStoreError("write")
		log.Error().Err(err).Msg("failed to persist usage snapshot")
		return
	}
	if changed {
		m.stats.RecordSnapshotWrite()
	}
}

// SetPump writes a pump command for the controller
func (m *Monitor) SetPump(ctx context.Context, cmd domain.PumpCommand) error {
	return m.do(ctx, func(ctx context.Context) error {
		if err := m.store.Write(ctx, domain.ChannelPump, []byte(cmd)); err != nil {
			m.stats.RecordStoreError("write")
			return fmt.Errorf("failed to write pump command: %w", err)
		}
		m.stats.RecordPumpCommand(cmd)
		m.pump = cmd
		log.Info().Str("command", string(cmd)).Msg("pump command sent")
		m.render()
		return nil
	})
}

// Reset zeroes the accumulated usage and returns the new snapshot
func (m *Monitor) Reset(ctx context.Context) (domain.UsageSnapshot, error) {
	var snap domain.UsageSnapshot
	err := m.do(ctx, func(ctx context.Context) error {
		err := m.acc.Reset(ctx)
		m.recordPersist(err == nil, err)
		wasReady := m.isReady()
		m.markReady()
		m.render()
		snap = m.acc.Snapshot()
		if !wasReady {
			log.Warn().Msg("usage reset before the snapshot finished loading")
		}
		log.Info().Msg("usage reset")
		return err
	})
	return snap, err
}

// do runs fn on the loop goroutine and waits for its result
func (m *Monitor) do(ctx context.Context, fn func(context.Context) error) error {
	errc := make(chan error, 1)
	select {
	case m.events <- func(ctx context.Context) { errc <- fn(ctx) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) markReady() {
	if !m.isReady() {
		close(m.ready)
	}
}

func (m *Monitor) isReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// Ready reports whether the usage baseline is known
func (m *Monitor) Ready() bool {
	return m.isReady()
}

// WaitReady blocks until the usage baseline is known or ctx ends
func (m *Monitor) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View returns the latest dashboard state
func (m *Monitor) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view
}

func (m *Monitor) buildView() View {
	return NewView(m.reading1, m.reading2, m.leak.Status(), m.pump, m.acc.Snapshot(), m.isReady())
}

func (m *Monitor) render() {
	v := m.buildView()
	m.mu.Lock()
	m.view = v
	m.mu.Unlock()

	start := time.Now()
	m.display.Render(v)
	if d := time.Since(start); d > 100*time.Millisecond {
		log.Warn().Dur("took", d).Msg("slow display render")
	}
}
