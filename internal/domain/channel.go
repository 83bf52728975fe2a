package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Channel is a logical path on the real-time store
type Channel string

const (
	ChannelFlow1 Channel = "flow1"
	ChannelFlow2 Channel = "flow2"
	ChannelPump  Channel = "pump"
	ChannelData  Channel = "data"
)

// Channels lists every channel the monitor knows about
var Channels = []Channel{ChannelFlow1, ChannelFlow2, ChannelPump, ChannelData}

// ParseChannel validates a channel name
func ParseChannel(s string) (Channel, error) {
	for _, c := range Channels {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
}

// PumpCommand is written by the dashboard and read by the controller
type PumpCommand string

const (
	PumpOn  PumpCommand = "ON"
	PumpOff PumpCommand = "OFF"

	// PumpAuto is understood by the controller firmware, which keeps its
	// current relay state while in AUTO.
	PumpAuto PumpCommand = "AUTO"
)

// ParsePumpCommand accepts ON, OFF and AUTO, case-insensitively
func ParsePumpCommand(s string) (PumpCommand, error) {
	switch cmd := PumpCommand(strings.ToUpper(strings.TrimSpace(s))); cmd {
	case PumpOn, PumpOff, PumpAuto:
		return cmd, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPumpCommand, s)
}

// EncodeFloat renders a reading the way the controller writes it
func EncodeFloat(v float64) []byte {
	return strconv.AppendFloat(nil, v, 'f', -1, 64)
}

// DecodeFloat parses a store value as a reading.
// Missing, malformed, negative or non-finite values read as zero.
func DecodeFloat(raw []byte) float64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// DecodePumpCommand parses a pump value read back from the store.
// Anything unrecognised reads as OFF.
func DecodePumpCommand(raw []byte) PumpCommand {
	cmd, err := ParsePumpCommand(strings.Trim(string(raw), `"`))
	if err != nil {
		return PumpOff
	}
	return cmd
}
