// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package raid

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/asch/braid/internal/device"
)

const (
	// Write chunk size used by BUSE when none is configured.
	defaultWriteChunkSize = 4 * 1024 * 1024
)

// Request is one I/O request of the host. Offset and Length are in blocks,
// Payload has exactly Length blocks. Done is called exactly once.
type Request struct {
	Op      device.Op
	Offset  int64
	Length  int64
	Payload []byte
	Done    func(error)
}

// Metrics receives observations of the request path. Nil Metrics in Options
// disables them.
type Metrics interface {
	ObserveRequest(op device.Op, children int, duration time.Duration, err error)
	ChildError(device int)
}

// Options to use in New() and Open() functions.
type Options struct {
	// Level is one of striped (raid0, 0) or mirrored (raid1, 1).
	Level string

	// Stripe size in blocks, divided evenly among devices. Only for
	// striping.
	StripeSize int64

	// Block size in bytes. All offsets and lengths of requests are in
	// blocks.
	BlockSize int64

	// Size of the BUSE write chunk in bytes. Needed for locating data in
	// chunks passed to BuseWrite.
	WriteChunkSize int64

	Metrics Metrics
}

// VirtualDevice is the device presented to the host. It holds the ordered
// underlying devices and the scheme, both fixed after construction. Any
// number of instances can exist at the same time.
type VirtualDevice struct {
	devices   []device.Device
	scheme    Scheme
	blockSize int64
	capacity  int64
	metrics   Metrics

	// Size of the metadata part of the BUSE write chunk.
	metadataSize int64

	closeOnce sync.Once
	closeErr  error
}

// Opener opens the underlying device identified by path.
type Opener func(ctx context.Context, path string) (device.Device, error)

// Open validates the options, opens all paths in parallel and builds the
// virtual device. On any failure devices which were already opened are
// closed.
func Open(ctx context.Context, paths []string, open Opener, o Options) (*VirtualDevice, error) {
	if _, err := newScheme(o.Level, o.StripeSize, len(paths)); err != nil {
		return nil, err
	}

	devices := make([]device.Device, len(paths))
	g, gctx := errgroup.WithContext(ctx)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			d, err := open(gctx, path)
			if err != nil {
				return &DeviceOpenError{Index: i, Path: path, Err: err}
			}

			devices[i] = d
			log.Info().Int("index", i).Str("device", d.String()).
				Str("size", humanize.IBytes(uint64(d.Size()))).Msg("Device opened.")

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		closeAll(devices)
		return nil, err
	}

	return New(devices, o)
}

// New builds the virtual device from opened devices. It takes the ownership
// of devices, they are closed when New fails or when the virtual device is
// closed.
func New(devices []device.Device, o Options) (*VirtualDevice, error) {
	v, err := newVirtualDevice(devices, o)
	if err != nil {
		closeAll(devices)
		return nil, err
	}

	return v, nil
}

func newVirtualDevice(devices []device.Device, o Options) (*VirtualDevice, error) {
	scheme, err := newScheme(o.Level, o.StripeSize, len(devices))
	if err != nil {
		return nil, err
	}

	if o.BlockSize <= 0 {
		return nil, configErrorf("block size must be positive, got %d", o.BlockSize)
	}

	if o.WriteChunkSize <= 0 {
		o.WriteChunkSize = defaultWriteChunkSize
	}

	capacity, err := computeCapacity(scheme, devices, o.BlockSize)
	if err != nil {
		return nil, err
	}

	v := &VirtualDevice{
		devices:      devices,
		scheme:       scheme,
		blockSize:    o.BlockSize,
		capacity:     capacity,
		metrics:      o.Metrics,
		metadataSize: o.WriteChunkSize / o.BlockSize * writeItemSize,
	}

	return v, nil
}

// Capacity in blocks. Mirroring offers the smallest device. Striping uses the
// same number of whole chunks on every device, as many as fit on the smallest
// one.
func computeCapacity(s Scheme, devices []device.Device, blockSize int64) (int64, error) {
	smallest := int64(-1)
	for _, d := range devices {
		blocks := d.Size() / blockSize
		if smallest < 0 || blocks < smallest {
			smallest = blocks
		}
	}

	switch s := s.(type) {
	case Striped:
		chunks := smallest / s.Chunk
		if chunks == 0 {
			return 0, configErrorf("smallest device has %d blocks, less than one chunk of %d", smallest, s.Chunk)
		}
		return chunks * s.Chunk * int64(len(devices)), nil
	}

	if smallest == 0 {
		return 0, configErrorf("smallest device has less than one block")
	}

	return smallest, nil
}

// Capacity of the virtual device in blocks.
func (v *VirtualDevice) Capacity() int64 {
	return v.capacity
}

// Size of the virtual device in bytes.
func (v *VirtualDevice) Size() int64 {
	return v.capacity * v.blockSize
}

func (v *VirtualDevice) BlockSize() int64 {
	return v.blockSize
}

func (v *VirtualDevice) Scheme() Scheme {
	return v.scheme
}

// Number of underlying devices.
func (v *VirtualDevice) Disks() int {
	return len(v.devices)
}

// Submit translates r, splits it into children and dispatches them. It never
// blocks. Completion, including rejection of an invalid request, is always
// reported through r.Done.
func (v *VirtualDevice) Submit(r *Request) {
	start := time.Now()

	if err := v.validate(r); err != nil {
		v.complete(r, start, 0, err, 0)
		return
	}

	segments, err := Translate(v.scheme, len(v.devices), r.Op, r.Offset, r.Length)
	if err != nil {
		v.complete(r, start, 0, err, 0)
		return
	}

	v.dispatch(r, Split(r, segments, v.blockSize), start)
}

// Flush flushes all devices and calls done once all of them finished.
func (v *VirtualDevice) Flush(done func(error)) {
	r := &Request{Op: device.OpFlush, Done: done}
	start := time.Now()

	j := newJoin(len(v.devices), func(err error, failures int64) {
		v.complete(r, start, len(v.devices), err, failures)
	})

	for i := range v.devices {
		v.submitChild(j, device.OpFlush, Child{Segment: Segment{Device: i}})
	}
}

// Close closes all underlying devices. Requests submitted later fail with
// device.ErrClosed.
func (v *VirtualDevice) Close() error {
	v.closeOnce.Do(func() {
		v.closeErr = closeAll(v.devices)
	})

	return v.closeErr
}

func (v *VirtualDevice) validate(r *Request) error {
	if r.Op != device.OpRead && r.Op != device.OpWrite {
		return ErrInvalidRequest
	}

	if r.Length <= 0 || r.Offset < 0 || r.Offset > v.capacity-r.Length {
		return ErrInvalidRequest
	}

	if int64(len(r.Payload)) != r.Length*v.blockSize {
		return ErrInvalidRequest
	}

	return nil
}

func (v *VirtualDevice) complete(r *Request, start time.Time, children int, err error, failures int64) {
	if failures > 1 {
		log.Debug().Err(err).Int64("failures", failures).Int("children", children).
			Msg("Request failed on multiple devices.")
	}

	if v.metrics != nil {
		v.metrics.ObserveRequest(r.Op, children, time.Since(start), err)
	}

	r.Done(err)
}

func closeAll(devices []device.Device) error {
	var err error
	for _, d := range devices {
		if d != nil {
			err = multierr.Append(err, d.Close())
		}
	}

	return err
}
