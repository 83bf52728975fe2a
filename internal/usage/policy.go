package usage

import "fmt"

// DeltaPolicy decides how much fresh usage a cumulative reading represents.
// advance reports whether the stored baseline should move to current.
type DeltaPolicy func(last, current float64) (delta float64, advance bool)

// IgnoreCounterReset treats any reading that does not exceed the baseline
// as no new usage. A sensor that restarts from zero is silently absorbed
// until its counter climbs past the old baseline again.
func IgnoreCounterReset(last, current float64) (float64, bool) {
	if current > last {
		return current - last, true
	}
	return 0, false
}

// RestartOnCounterReset treats a drop below the baseline as a counter that
// restarted from zero: the whole new value is fresh usage.
func RestartOnCounterReset(last, current float64) (float64, bool) {
	switch {
	case current > last:
		return current - last, true
	case current < last:
		return current, true
	}
	return 0, false
}

// PolicyByName maps a config value to a DeltaPolicy
func PolicyByName(name string) (DeltaPolicy, error) {
	switch name {
	case "", "ignore":
		return IgnoreCounterReset, nil
	case "restart":
		return RestartOnCounterReset, nil
	}
	return nil, fmt.Errorf("unknown counter reset policy %q", name)
}
