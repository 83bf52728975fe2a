package domain

import "errors"

var (
	// ErrUnknownChannel indicates a channel name outside flow1/flow2/pump/data
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrInvalidPumpCommand indicates a pump command other than ON/OFF/AUTO
	ErrInvalidPumpCommand = errors.New("invalid pump command")

	// ErrNotFound indicates the channel holds no value yet
	ErrNotFound = errors.New("value not found")

	// ErrStoreClosed indicates the state store was used after Close
	ErrStoreClosed = errors.New("state store closed")
)
