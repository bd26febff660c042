// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package raid

import (
	"errors"
	"sync"

	"github.com/asch/braid/internal/device"
)

var errInjected = errors.New("injected failure")

// Memory backend for the device proxy.
type memBackend struct {
	lock   sync.Mutex
	data   []byte
	fail   bool
	closed bool
}

func newMemBackend(size int64) *memBackend {
	return &memBackend{data: make([]byte, size)}
}

func (m *memBackend) ReadAt(buf []byte, offset int64) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.fail {
		return 0, errInjected
	}

	return copy(buf, m.data[offset:]), nil
}

func (m *memBackend) WriteAt(buf []byte, offset int64) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.fail {
		return 0, errInjected
	}

	return copy(m.data[offset:], buf), nil
}

func (m *memBackend) Sync() error {
	return nil
}

func (m *memBackend) Size() int64 {
	return int64(len(m.data))
}

func (m *memBackend) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.closed = true

	return nil
}

func (m *memBackend) isClosed() bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.closed
}

// Returns proxied memory devices and their backends.
func memDevices(n int, size int64) ([]device.Device, []*memBackend) {
	devices := make([]device.Device, n)
	backends := make([]*memBackend, n)

	for i := range devices {
		backends[i] = newMemBackend(size)
		devices[i] = device.NewProxy(backends[i], device.ProxyOptions{
			Name:       "mem",
			Readers:    2,
			Writers:    2,
			QueueDepth: 4,
		})
	}

	return devices, backends
}

// Device which only records submissions. Completions are triggered manually
// by the test.
type manualDevice struct {
	index int
	size  int64
	log   *submissionLog
}

type submission struct {
	device  int
	op      device.Op
	offset  int64
	payload []byte
	done    func(error)
}

type submissionLog struct {
	lock        sync.Mutex
	submissions []submission
}

func (l *submissionLog) all() []submission {
	l.lock.Lock()
	defer l.lock.Unlock()

	return append([]submission(nil), l.submissions...)
}

func (d *manualDevice) Submit(op device.Op, offset int64, payload []byte, done func(error)) {
	d.log.lock.Lock()
	defer d.log.lock.Unlock()

	d.log.submissions = append(d.log.submissions, submission{d.index, op, offset, payload, done})
}

func (d *manualDevice) Size() int64 {
	return d.size
}

func (d *manualDevice) Close() error {
	return nil
}

func (d *manualDevice) String() string {
	return "manual"
}

func manualDevices(n int, size int64) ([]device.Device, *submissionLog) {
	l := &submissionLog{}
	devices := make([]device.Device, n)

	for i := range devices {
		devices[i] = &manualDevice{index: i, size: size, log: l}
	}

	return devices, l
}

// Device which fails to close.
type closeFailDevice struct {
	manualDevice
}

func (d *closeFailDevice) Close() error {
	return errInjected
}

// Helper for synchronous requests in tests.
func do(v *VirtualDevice, op device.Op, offset, length int64, payload []byte) error {
	return v.wait(op, offset, length, payload)
}
