// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package nbd implements the device backend on top of a network block device
// export using libnbd.
package nbd

import (
	"sync"

	"github.com/pkg/errors"
	"libguestfs.org/libnbd"
)

// Nbd wraps one libnbd handle. The handle is safe for concurrent use, libnbd
// serializes commands internally, so the proxy workers can share it.
type Nbd struct {
	handle *libnbd.Libnbd
	size   int64

	closeOnce sync.Once
}

// Connect opens a connection to the NBD server. Uri follows the NBD URI
// specification, e.g. nbd://host:10809/export or
// nbd+unix:///export?socket=/tmp/nbd.sock.
func Connect(uri string) (*Nbd, error) {
	h, err := libnbd.Create()
	if err != nil {
		return nil, err
	}

	if err := h.ConnectUri(uri); err != nil {
		h.Close()
		return nil, errors.Wrapf(err, "connect %s", uri)
	}

	size, err := h.GetSize()
	if err != nil {
		h.Close()
		return nil, errors.Wrapf(err, "size of %s", uri)
	}

	return &Nbd{handle: h, size: int64(size)}, nil
}

func (n *Nbd) ReadAt(buf []byte, offset int64) (int, error) {
	if err := n.handle.Pread(buf, uint64(offset), nil); err != nil {
		return 0, err
	}

	return len(buf), nil
}

func (n *Nbd) WriteAt(buf []byte, offset int64) (int, error) {
	if err := n.handle.Pwrite(buf, uint64(offset), nil); err != nil {
		return 0, err
	}

	return len(buf), nil
}

func (n *Nbd) Sync() error {
	if err := n.handle.Flush(nil); err != nil {
		return err
	}

	return nil
}

func (n *Nbd) Size() int64 {
	return n.size
}

// Close shuts the connection down. libnbd reports close failures only for
// double close, which the once guard prevents.
func (n *Nbd) Close() error {
	n.closeOnce.Do(func() {
		n.handle.Close()
	})

	return nil
}
