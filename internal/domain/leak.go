package domain

import "math"

// LeakEpsilon is the largest difference between the two instantaneous
// readings that still counts as normal (exclusive)
const LeakEpsilon = 0.05

// LeakStatus is the binary leak indicator shown on the dashboard
type LeakStatus string

const (
	LeakNormal   LeakStatus = "NORMAL"
	LeakAbnormal LeakStatus = "ABNORMAL"
)

// IsLeakFree reports whether two instantaneous readings agree closely
// enough that no water is lost between the sensors
func IsLeakFree(reading1, reading2 float64) bool {
	return math.Abs(reading1-reading2) < LeakEpsilon
}

// ClassifyLeak maps a pair of readings to a LeakStatus
func ClassifyLeak(reading1, reading2 float64) LeakStatus {
	if IsLeakFree(reading1, reading2) {
		return LeakNormal
	}
	return LeakAbnormal
}
