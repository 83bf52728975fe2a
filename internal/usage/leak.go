package usage

import "github.com/quentinrf/aquaflow/internal/domain"

// LeakDetector remembers the latest instantaneous reading of each sensor.
// No timestamps are kept: a stale reading from one sensor is compared
// against a fresh one from the other.
type LeakDetector struct {
	reading1 float64
	reading2 float64
	observed bool
}

// Observe records a reading from either flow sensor and returns the new status
func (d *LeakDetector) Observe(channel domain.Channel, value float64) domain.LeakStatus {
	switch channel {
	case domain.ChannelFlow1:
		d.reading1 = value
	case domain.ChannelFlow2:
		d.reading2 = value
	default:
		return d.Status()
	}
	d.observed = true
	return d.Status()
}

// Status is ABNORMAL until the first reading arrives. After that the
// missing sensor counts as zero, so a single zero reading shows NORMAL.
func (d *LeakDetector) Status() domain.LeakStatus {
	if !d.observed {
		return domain.LeakAbnormal
	}
	return domain.ClassifyLeak(d.reading1, d.reading2)
}

// Readings returns the latest instantaneous readings
func (d *LeakDetector) Readings() (reading1, reading2 float64) {
	return d.reading1, d.reading2
}
