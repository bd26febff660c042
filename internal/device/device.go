// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package device defines the asynchronous block device abstraction consumed
// by the raid core and the proxy which turns any synchronous positional
// backend into such a device.
package device

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is reported through the completion callback for requests
	// submitted after the device was closed.
	ErrClosed = errors.New("device is closed")

	// ErrShortIO is returned by backends which transferred less data than
	// requested without any other error.
	ErrShortIO = errors.New("short read or write")
)

// Op is the direction of the request.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpFlush
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpFlush:
		return "flush"
	}

	return fmt.Sprintf("op(%d)", int(o))
}

// Device is an opened underlying block device. Submit never blocks. The done
// callback is called exactly once, possibly from a different go routine and
// possibly before Submit returns, e.g. when the device is already closed.
type Device interface {
	// Submit schedules op at byte offset. The length of the request is the
	// length of payload. Payload is ignored for OpFlush.
	Submit(op Op, offset int64, payload []byte, done func(error))

	// Size of the device in bytes.
	Size() int64

	// Close waits for all in-flight requests and releases the device.
	Close() error

	// String is used in log messages.
	String() string
}
