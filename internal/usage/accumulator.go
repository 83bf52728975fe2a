// Package usage accumulates water usage from cumulative sensor readings and
// keeps the persisted snapshot in step with it.
package usage

import (
	"context"
	"fmt"

	"github.com/quentinrf/aquaflow/internal/domain"
)

// maxPending bounds the readings held back while the baseline loads
const maxPending = 1024

type pendingReading struct {
	channel domain.Channel
	value   float64
}

// Accumulator owns the in-memory UsageSnapshot and is its only writer on the
// store. It is not safe for concurrent use; the monitor drives it from a
// single goroutine.
type Accumulator struct {
	store   domain.StateStore
	policy  DeltaPolicy
	snap    domain.UsageSnapshot
	ready   bool
	pending []pendingReading
}

// NewAccumulator creates an accumulator that persists through store.
// A nil policy means IgnoreCounterReset.
func NewAccumulator(store domain.StateStore, policy DeltaPolicy) *Accumulator {
	if policy == nil {
		policy = IgnoreCounterReset
	}
	return &Accumulator{
		store:  store,
		policy: policy,
	}
}

// ReadSnapshot reads the persisted snapshot; an absent value is all zeros
func ReadSnapshot(ctx context.Context, store domain.StateStore) (domain.UsageSnapshot, error) {
	raw, found, err := store.ReadOnce(ctx, domain.ChannelData)
	if err != nil {
		return domain.UsageSnapshot{}, fmt.Errorf("failed to read usage snapshot: %w", err)
	}
	if !found {
		return domain.UsageSnapshot{}, nil
	}
	return domain.DecodeSnapshot(raw), nil
}

// Load reads the persisted snapshot and opens the ready gate
func (a *Accumulator) Load(ctx context.Context) (bool, error) {
	snap, err := ReadSnapshot(ctx, a.store)
	if err != nil {
		return false, err
	}
	return a.Restore(ctx, snap)
}

// Restore installs a loaded baseline, opens the ready gate and replays the
// readings that arrived before it. changed reports whether the replay moved
// the snapshot (and therefore persisted it). A restore after Reset or a
// previous restore is ignored.
func (a *Accumulator) Restore(ctx context.Context, snap domain.UsageSnapshot) (changed bool, err error) {
	if a.ready {
		a.pending = nil
		return false, nil
	}
	a.snap = snap
	a.ready = true

	pending := a.pending
	a.pending = nil
	for _, p := range pending {
		if a.apply(p.channel, p.value) {
			changed = true
		}
	}
	if changed {
		err = a.persist(ctx)
	}
	return changed, err
}

// Ready reports whether the baseline has been loaded (or reset)
func (a *Accumulator) Ready() bool {
	return a.ready
}

// Snapshot returns a copy of the current totals
func (a *Accumulator) Snapshot() domain.UsageSnapshot {
	return a.snap
}

// OnSensor1Reading tracks sensor 1's cumulative baseline. Totals are not
// affected. Before the ready gate opens the reading is held for replay.
func (a *Accumulator) OnSensor1Reading(ctx context.Context, value float64) (bool, error) {
	return a.onReading(ctx, domain.ChannelFlow1, value)
}

// OnSensor2Reading adds the advance of sensor 2's cumulative counter to the
// totals and reprices them.
func (a *Accumulator) OnSensor2Reading(ctx context.Context, value float64) (bool, error) {
	return a.onReading(ctx, domain.ChannelFlow2, value)
}

func (a *Accumulator) onReading(ctx context.Context, channel domain.Channel, value float64) (bool, error) {
	if !a.ready {
		if len(a.pending) == maxPending {
			a.pending = a.pending[1:]
		}
		a.pending = append(a.pending, pendingReading{channel: channel, value: value})
		return false, nil
	}
	if !a.apply(channel, value) {
		return false, nil
	}
	return true, a.persist(ctx)
}

// apply runs the delta policy against the current baseline
func (a *Accumulator) apply(channel domain.Channel, value float64) bool {
	switch channel {
	case domain.ChannelFlow1:
		if _, advance := a.policy(a.snap.LastFlow1, value); advance {
			a.snap.LastFlow1 = value
			return true
		}
	case domain.ChannelFlow2:
		delta, advance := a.policy(a.snap.LastFlow2, value)
		if !advance {
			return false
		}
		a.snap.TotalLiters += delta
		a.snap.TotalPrice = domain.PriceFor(a.snap.TotalLiters)
		a.snap.LastFlow2 = value
		return true
	}
	return false
}

// Reset zeroes every field and persists immediately. It also opens the
// ready gate: held readings are dropped and a late load is ignored.
func (a *Accumulator) Reset(ctx context.Context) error {
	a.snap = domain.UsageSnapshot{}
	a.ready = true
	a.pending = nil
	return a.persist(ctx)
}

func (a *Accumulator) persist(ctx context.Context) error {
	if err := a.store.Write(ctx, domain.ChannelData, a.snap.Encode()); err != nil {
		return fmt.Errorf("failed to persist usage snapshot: %w", err)
	}
	return nil
}
