package ports

import (
	"strconv"

	"github.com/quentinrf/aquaflow/internal/domain"
)

// View is everything the dashboard shows
type View struct {
	Flow1         string             `json:"flow1"` // L/min, one decimal
	Flow2         string             `json:"flow2"`
	Sensor1Active bool               `json:"sensor1Active"`
	Sensor2Active bool               `json:"sensor2Active"`
	Leak          domain.LeakStatus  `json:"leak"`
	Pump          domain.PumpCommand `json:"pump"`
	TotalLiters   string             `json:"totalLiters"` // two decimals
	TotalPrice    string             `json:"totalPrice"`
	Ready         bool               `json:"ready"`

	// Raw values behind the formatted fields
	Reading1 float64              `json:"reading1"`
	Reading2 float64              `json:"reading2"`
	Usage    domain.UsageSnapshot `json:"usage"`
}

// Display receives a fresh View after every change.
// This is a PORT - adapters (WebSocket hub, metrics, log) will implement it
type Display interface {
	Render(View)
}

// MultiDisplay fans a View out to several displays in order
type MultiDisplay []Display

// Render implements Display
func (m MultiDisplay) Render(v View) {
	for _, d := range m {
		d.Render(v)
	}
}

// FormatFlow converts a rate reading (liters per second) to liters per
// minute text, as the dashboard shows it
func FormatFlow(value float64) string {
	return strconv.FormatFloat(value*1000/60, 'f', 1, 64)
}

// FormatAmount renders liters or currency with two decimals
func FormatAmount(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}

// NewView builds the displayed values from raw state
func NewView(reading1, reading2 float64, leak domain.LeakStatus, pump domain.PumpCommand, usage domain.UsageSnapshot, ready bool) View {
	return View{
		Flow1:         FormatFlow(reading1),
		Flow2:         FormatFlow(reading2),
		Sensor1Active: reading1 > 0,
		Sensor2Active: reading2 > 0,
		Leak:          leak,
		Pump:          pump,
		TotalLiters:   FormatAmount(usage.TotalLiters),
		TotalPrice:    FormatAmount(usage.TotalPrice),
		Ready:         ready,
		Reading1:      reading1,
		Reading2:      reading2,
		Usage:         usage,
	}
}
