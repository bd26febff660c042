// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package raid

import (
	"errors"
	"fmt"

	"github.com/asch/braid/internal/device"
)

// ErrInvalidRequest is reported for requests with non-positive length, range
// outside of the device or payload of wrong size.
var ErrInvalidRequest = errors.New("invalid request")

// ConfigurationError is returned for invalid level, device count or stripe
// size. Nothing is registered and already opened devices are closed.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "raid configuration: " + e.Reason
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// DeviceOpenError is returned when an underlying device cannot be opened.
type DeviceOpenError struct {
	Index int
	Path  string
	Err   error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("open device %d (%s): %v", e.Index, e.Path, e.Err)
}

func (e *DeviceOpenError) Unwrap() error {
	return e.Err
}

// ChildIOError is the first failure reported by an underlying device for one
// of the child requests of a request.
type ChildIOError struct {
	Device int
	Name   string
	Op     device.Op

	// Position of the child on the underlying device, in blocks.
	Offset int64
	Length int64

	Err error
}

func (e *ChildIOError) Error() string {
	return fmt.Sprintf("%s on device %d (%s) at block %d+%d: %v",
		e.Op, e.Device, e.Name, e.Offset, e.Length, e.Err)
}

func (e *ChildIOError) Unwrap() error {
	return e.Err
}
