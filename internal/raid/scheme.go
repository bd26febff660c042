// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package raid

import (
	"fmt"
	"strings"
)

// Upper bound of the number of underlying devices.
const MaxDevices = 32

// Scheme is either Striped or Mirrored. The set is closed, other
// implementations cannot exist outside of this package.
type Scheme interface {
	fmt.Stringer
	scheme()
}

// Striped distributes consecutive chunks round-robin over all devices.
type Striped struct {
	// Chunk size in blocks. Always positive.
	Chunk int64
}

// Mirrored writes everything to all devices and reads from the primary,
// device 0.
type Mirrored struct{}

func (Striped) scheme()  {}
func (Mirrored) scheme() {}

func (s Striped) String() string {
	return fmt.Sprintf("striped(chunk=%d)", s.Chunk)
}

func (Mirrored) String() string {
	return "mirrored"
}

// Builds the scheme from configured values. For striping the stripe size is
// divided evenly among the devices, i.e. the chunk is stripeSize / disks.
func newScheme(level string, stripeSize int64, disks int) (Scheme, error) {
	if disks < 1 {
		return nil, configErrorf("no devices")
	}

	if disks > MaxDevices {
		return nil, configErrorf("%d devices, at most %d supported", disks, MaxDevices)
	}

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "striped", "stripe", "raid0", "0":
		if stripeSize <= 0 {
			return nil, configErrorf("stripe size must be positive, got %d", stripeSize)
		}

		if stripeSize%int64(disks) != 0 {
			return nil, configErrorf("stripe size %d is not divisible by %d devices", stripeSize, disks)
		}

		return Striped{Chunk: stripeSize / int64(disks)}, nil

	case "mirrored", "mirror", "raid1", "1":
		return Mirrored{}, nil
	}

	return nil, configErrorf("unknown level %q", level)
}
