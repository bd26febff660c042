// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package file implements the device backend for regular files and local
// block devices.
package file

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// File is a positional backend over an opened file or block device node.
type File struct {
	f    *os.File
	size int64
}

// Open opens path read-write. If size is positive and the path is a regular
// file, the file is created if needed and truncated to size. Block devices
// always report their own size.
func Open(path string, size int64) (*File, error) {
	flags := os.O_RDWR
	if size > 0 {
		flags |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if fi.Mode().IsRegular() && size > 0 && fi.Size() != size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "truncate %s", path)
		}
	}

	// Works for block devices as well, where Stat reports zero.
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{f: f, size: end}, nil
}

func (f *File) ReadAt(buf []byte, offset int64) (int, error) {
	n, err := f.f.ReadAt(buf, offset)

	// Sparse tail of a regular file which was never written.
	if err == io.EOF && offset+int64(len(buf)) <= f.size {
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		return len(buf), nil
	}

	return n, err
}

func (f *File) WriteAt(buf []byte, offset int64) (int, error) {
	return f.f.WriteAt(buf, offset)
}

// Sync uses fdatasync, metadata of the backing file are not interesting.
func (f *File) Sync() error {
	return unix.Fdatasync(int(f.f.Fd()))
}

func (f *File) Size() int64 {
	return f.size
}

func (f *File) Close() error {
	return f.f.Close()
}
