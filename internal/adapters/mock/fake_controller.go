package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog/log"

	"github.com/quentinrf/aquaflow/internal/domain"
)

// PulsesPerLiterMinute converts a one second pulse count to L/min for the
// YF-S401 style sensors the controller reads
const PulsesPerLiterMinute = 7.5

// FakeController simulates the pump controller for development.
// Every interval it reads the pump command, counts simulated pulses on both
// flow sensors and publishes the resulting rates to flow1 and flow2.
type FakeController struct {
	store    domain.StateStore
	clock    quartz.Clock
	interval time.Duration

	pulses    int // average pulses per interval while the pump runs
	variation int // +/- range around pulses
	leak      int // pulses lost between sensor 1 and sensor 2

	relayOn bool
}

// NewFakeController creates a controller that publishes into store.
// pulses: average pulse count per interval with the pump on (e.g. 30 ≈ 4 L/min)
// variation: +/- range (e.g. 5 means 25-35)
func NewFakeController(store domain.StateStore, clock quartz.Clock, interval time.Duration, pulses, variation int) *FakeController {
	return &FakeController{
		store:     store,
		clock:     clock,
		interval:  interval,
		pulses:    pulses,
		variation: variation,
	}
}

// SetLeak makes sensor 2 count n fewer pulses than sensor 1
func (c *FakeController) SetLeak(n int) {
	c.leak = n
}

// Start runs the control loop until ctx is cancelled
func (c *FakeController) Start(ctx context.Context) {
	log.Info().
		Dur("interval", c.interval).
		Int("pulses", c.pulses).
		Int("leak", c.leak).
		Msg("starting simulated controller")

	ticker := c.clock.NewTicker(c.interval, "fakeController")
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				log.Error().Err(err).Msg("simulated controller tick failed")
			}

		case <-ctx.Done():
			log.Info().Msg("stopping simulated controller")
			return
		}
	}
}

// Tick runs one controller cycle
func (c *FakeController) Tick(ctx context.Context) error {
	c.applyPumpCommand(ctx)

	count1, count2 := c.countPulses()
	flow1 := float64(count1) / PulsesPerLiterMinute
	flow2 := float64(count2) / PulsesPerLiterMinute

	if err := c.store.Write(ctx, domain.ChannelFlow1, domain.EncodeFloat(flow1)); err != nil {
		return fmt.Errorf("failed to publish flow1: %w", err)
	}
	if err := c.store.Write(ctx, domain.ChannelFlow2, domain.EncodeFloat(flow2)); err != nil {
		return fmt.Errorf("failed to publish flow2: %w", err)
	}

	log.Debug().
		Bool("relay_on", c.relayOn).
		Float64("flow1", flow1).
		Float64("flow2", flow2).
		Msg("simulated flow published")
	return nil
}

// RelayOn reports whether the simulated pump is running
func (c *FakeController) RelayOn() bool {
	return c.relayOn
}

// applyPumpCommand follows ON and OFF. AUTO and anything unrecognised
// leave the relay as it is.
func (c *FakeController) applyPumpCommand(ctx context.Context) {
	raw, ok, err := c.store.ReadOnce(ctx, domain.ChannelPump)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read pump command")
		return
	}
	if !ok {
		return
	}

	cmd, err := domain.ParsePumpCommand(string(raw))
	if err != nil {
		return
	}
	switch cmd {
	case domain.PumpOn:
		c.relayOn = true
	case domain.PumpOff:
		c.relayOn = false
	}
}

func (c *FakeController) countPulses() (int, int) {
	if !c.relayOn {
		return 0, 0
	}

	count1 := c.pulses
	if c.variation > 0 {
		count1 += rand.Intn(2*c.variation+1) - c.variation
	}
	// Ensure non-negative
	count1 = max(count1, 0)
	count2 := max(count1-c.leak, 0)
	return count1, count2
}
