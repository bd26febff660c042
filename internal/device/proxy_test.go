// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package device

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

type memBackend struct {
	lock   sync.Mutex
	data   []byte
	syncs  int
	short  bool
	fail   bool
	closed bool

	// Reads block until released.
	gate chan struct{}
}

func (m *memBackend) ReadAt(buf []byte, offset int64) (int, error) {
	if m.gate != nil {
		<-m.gate
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if m.fail {
		return 0, errInjected
	}

	n := copy(buf, m.data[offset:])
	if m.short {
		n--
	}

	return n, nil
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
	m.lock.Lock()
	defer m.lock.Unlock()

	m.syncs++

	return nil
}

func (m *memBackend) Size() int64 {
	return int64(len(m.data))
}

func (m *memBackend) Close() error {
	m.closed = true
	return nil
}

func submit(p *Proxy, op Op, offset int64, payload []byte) error {
	done := make(chan error, 1)
	p.Submit(op, offset, payload, func(err error) { done <- err })

	return <-done
}

func TestProxyReadWriteFlush(t *testing.T) {
	b := &memBackend{data: make([]byte, 4096)}
	p := NewProxy(b, ProxyOptions{Name: "mem", Readers: 2, Writers: 2, QueueDepth: 1})
	defer p.Close()

	require.NoError(t, submit(p, OpWrite, 100, []byte("hello")))
	require.NoError(t, submit(p, OpFlush, 0, nil))

	got := make([]byte, 5)
	require.NoError(t, submit(p, OpRead, 100, got))

	assert.Equal(t, "hello", string(got))
	assert.Equal(t, 1, b.syncs)
	assert.Equal(t, int64(4096), p.Size())
	assert.Equal(t, "mem", p.String())
}

func TestProxyReportsErrors(t *testing.T) {
	b := &memBackend{data: make([]byte, 4096), fail: true}
	p := NewProxy(b, ProxyOptions{})
	defer p.Close()

	assert.ErrorIs(t, submit(p, OpWrite, 0, []byte("x")), errInjected)

	b.lock.Lock()
	b.fail = false
	b.short = true
	b.lock.Unlock()

	assert.ErrorIs(t, submit(p, OpRead, 0, make([]byte, 10)), ErrShortIO)
}

// Submit does not block even when all workers are busy and the queue is full.
func TestProxySubmitDoesNotBlock(t *testing.T) {
	b := &memBackend{data: make([]byte, 4096), gate: make(chan struct{})}
	p := NewProxy(b, ProxyOptions{Readers: 1, QueueDepth: 1})

	const requests = 16
	var wg sync.WaitGroup
	wg.Add(requests)

	for i := 0; i < requests; i++ {
		p.Submit(OpRead, 0, make([]byte, 8), func(err error) {
			assert.NoError(t, err)
			wg.Done()
		})
	}

	close(b.gate)
	wg.Wait()

	require.NoError(t, p.Close())
	assert.True(t, b.closed)
}

func TestProxyCloseDrainsAndRejects(t *testing.T) {
	b := &memBackend{data: make([]byte, 4096), gate: make(chan struct{})}
	p := NewProxy(b, ProxyOptions{})

	inFlight := make(chan error, 1)
	p.Submit(OpRead, 0, make([]byte, 8), func(err error) { inFlight <- err })

	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()

	// Close waits for the accepted request.
	select {
	case <-closed:
		t.Fatal("close returned with request in flight")
	default:
	}
	close(b.gate)

	assert.NoError(t, <-inFlight)
	assert.NoError(t, <-closed)

	assert.ErrorIs(t, submit(p, OpRead, 0, make([]byte, 8)), ErrClosed)
	assert.ErrorIs(t, p.Close(), ErrClosed)
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "read", OpRead.String())
	assert.Equal(t, "write", OpWrite.String())
	assert.Equal(t, "flush", OpFlush.String())
	assert.Equal(t, "op(7)", Op(7).String())
}
