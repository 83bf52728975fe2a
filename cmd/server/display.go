package main

import (
	"github.com/rs/zerolog/log"

	"github.com/quentinrf/aquaflow/internal/domain"
	"github.com/quentinrf/aquaflow/internal/ports"
)

// logDisplay logs leak, pump and readiness transitions. Per-reading
// updates are left to debug logging in the monitor.
type logDisplay struct {
	started bool
	last    ports.View
}

// Render implements ports.Display. It only runs on the monitor goroutine.
func (d *logDisplay) Render(v ports.View) {
	prev := d.last
	first := !d.started
	d.started = true
	d.last = v

	if v.Ready && (first || !prev.Ready) {
		log.Info().
			Str("total_liters", v.TotalLiters).
			Str("total_price", v.TotalPrice).
			Msg("usage baseline ready")
	}
	if !first && v.Leak != prev.Leak {
		event := log.Info()
		if v.Leak == domain.LeakAbnormal {
			event = log.Warn()
		}
		event.
			Str("leak", string(v.Leak)).
			Str("flow1", v.Flow1).
			Str("flow2", v.Flow2).
			Msg("leak status changed")
	}
	if !first && v.Pump != prev.Pump {
		log.Info().Str("pump", string(v.Pump)).Msg("pump state changed")
	}
}
