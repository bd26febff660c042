// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package device

import (
	"sync"
)

// Interface for the backend storage. Anything implementing this interface can
// be used as an underlying device. Implementations do not have to be
// asynchronous, the proxy calls them from its worker go routines.
type Backend interface {
	// Reads len(buf) bytes starting at offset.
	ReadAt(buf []byte, offset int64) (int, error)

	// Writes buf starting at offset.
	WriteAt(buf []byte, offset int64) (int, error)

	// Makes all previous writes durable. Backends without volatile
	// caches can have empty implementation.
	Sync() error

	// Size of the backend in bytes.
	Size() int64

	Close() error
}

// Proxy for the backend which makes it asynchronous. Reads and writes are
// served by separate pools of workers so a burst of slow writes does not
// starve reads. Flushes go through the writer pool.
type Proxy struct {
	Instance Backend

	name string

	// Number of go routines to spawn for handling read and write
	// requests.
	readers int
	writers int

	// Internal channels.
	reads  chan request
	writes chan request

	// Guards closed and makes Close wait for requests which already
	// passed the closed check in Submit.
	lock     sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
	workers  sync.WaitGroup
}

// Request is internal structure for wrapping the communication into channels.
type request struct {
	op     Op
	data   []byte
	offset int64
	done   func(error)
}

// Options to use in NewProxy() function.
type ProxyOptions struct {
	// Name used in log messages, usually the URI of the device.
	Name string

	Readers int
	Writers int

	// Capacity of the internal queues. Submissions above the capacity
	// are handed over to a new go routine instead of blocking.
	QueueDepth int
}

// Return new instance of the proxy which can be directly used. It immediately
// spawns go routines for read and write workers.
func NewProxy(instance Backend, o ProxyOptions) *Proxy {
	if o.Readers < 1 {
		o.Readers = 1
	}
	if o.Writers < 1 {
		o.Writers = 1
	}
	if o.QueueDepth < 0 {
		o.QueueDepth = 0
	}

	p := &Proxy{
		Instance: instance,
		name:     o.Name,
		readers:  o.Readers,
		writers:  o.Writers,
		reads:    make(chan request, o.QueueDepth),
		writes:   make(chan request, o.QueueDepth),
	}

	p.workers.Add(p.readers + p.writers)

	for i := 0; i < p.readers; i++ {
		go p.worker(p.reads)
	}

	for i := 0; i < p.writers; i++ {
		go p.worker(p.writes)
	}

	return p
}

// Submit passes the request to the right pool. It never blocks.
func (p *Proxy) Submit(op Op, offset int64, payload []byte, done func(error)) {
	p.lock.RLock()
	if p.closed {
		p.lock.RUnlock()
		done(ErrClosed)
		return
	}
	p.inflight.Add(1)
	p.lock.RUnlock()

	c := p.writes
	if op == OpRead {
		c = p.reads
	}

	r := request{op: op, data: payload, offset: offset, done: done}

	select {
	case c <- r:
	default:
		go func() { c <- r }()
	}
}

func (p *Proxy) Size() int64 {
	return p.Instance.Size()
}

func (p *Proxy) String() string {
	return p.name
}

// Close rejects new submissions, waits until all accepted requests are
// completed, stops the workers and closes the backend.
func (p *Proxy) Close() error {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.lock.Unlock()

	p.inflight.Wait()

	close(p.reads)
	close(p.writes)
	p.workers.Wait()

	return p.Instance.Close()
}

// Worker serves requests from one channel until it is closed.
func (p *Proxy) worker(c chan request) {
	defer p.workers.Done()

	for r := range c {
		r.done(p.serve(r))
		p.inflight.Done()
	}
}

func (p *Proxy) serve(r request) error {
	var (
		n   int
		err error
	)

	switch r.op {
	case OpRead:
		n, err = p.Instance.ReadAt(r.data, r.offset)
	case OpWrite:
		n, err = p.Instance.WriteAt(r.data, r.offset)
	case OpFlush:
		return p.Instance.Sync()
	}

	if err == nil && n != len(r.data) {
		err = ErrShortIO
	}

	return err
}
