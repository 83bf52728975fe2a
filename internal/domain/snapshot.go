package domain

import (
	"encoding/json"
	"math"
)

// UnitPrice is the price of one liter in currency units
const UnitPrice = 0.3

// UsageSnapshot is the durable record of accumulated totals and the last
// cumulative readings seen from each sensor
type UsageSnapshot struct {
	TotalLiters float64 `json:"totalLiters"`
	TotalPrice  float64 `json:"totalPrice"`
	LastFlow1   float64 `json:"lastFlow1"`
	LastFlow2   float64 `json:"lastFlow2"`
}

// PriceFor returns the price of the given volume
func PriceFor(liters float64) float64 {
	return liters * UnitPrice
}

// Encode renders the snapshot as the JSON object stored under "data"
func (s UsageSnapshot) Encode() []byte {
	// fields are always finite, so Marshal cannot fail
	b, _ := json.Marshal(s)
	return b
}

// DecodeSnapshot parses the "data" value. Each field falls back to zero on
// its own when missing or malformed; a value that is not an object at all
// yields the zero snapshot.
func DecodeSnapshot(raw []byte) UsageSnapshot {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return UsageSnapshot{}
	}
	return UsageSnapshot{
		TotalLiters: decodeField(fields["totalLiters"]),
		TotalPrice:  decodeField(fields["totalPrice"]),
		LastFlow1:   decodeField(fields["lastFlow1"]),
		LastFlow2:   decodeField(fields["lastFlow2"]),
	}
}

func decodeField(raw json.RawMessage) float64 {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
