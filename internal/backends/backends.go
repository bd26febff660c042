// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package backends opens underlying devices from their URIs. It is the only
// package which knows all the backends.
//
// Supported URIs:
//
//	/dev/sdb, file:///var/lib/braid/disk0?size=1GiB   regular file or block device
//	null://?size=1GiB                                discards writes, reads zeroes
//	s3://bucket/prefix?size=64GiB&object_size=4MiB   s3 objects
//	nbd://host:10809/export, nbd+unix:///?socket=... network block device
//	kv:///var/lib/braid/kv0?size=1GiB, kv://memory?size=1GiB
package backends

import (
	"context"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/asch/braid/internal/device"
	"github.com/asch/braid/internal/device/file"
	"github.com/asch/braid/internal/device/kv"
	"github.com/asch/braid/internal/device/nbd"
	"github.com/asch/braid/internal/device/null"
	"github.com/asch/braid/internal/device/s3"
)

// ErrUnknownScheme is returned for URIs of unsupported backends.
var ErrUnknownScheme = errors.New("unknown device scheme")

// Options shared by all devices opened by Open.
type Options struct {
	// Workers of the device proxy.
	Readers    int
	Writers    int
	QueueDepth int

	S3 struct {
		Remote      string
		Region      string
		AccessKey   string
		SecretKey   string
		Uploaders   int
		Downloaders int
	}
}

// Opener returns Open bound to o.
func Opener(o Options) func(ctx context.Context, uri string) (device.Device, error) {
	return func(ctx context.Context, uri string) (device.Device, error) {
		return Open(ctx, uri, o)
	}
}

// Open parses uri, opens the backend and wraps it into the device proxy.
func Open(ctx context.Context, uri string, o Options) (device.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	backend, err := openBackend(uri, &o)
	if err != nil {
		return nil, err
	}

	return device.NewProxy(backend, device.ProxyOptions{
		Name:       uri,
		Readers:    o.Readers,
		Writers:    o.Writers,
		QueueDepth: o.QueueDepth,
	}), nil
}

// Opens the backend. It can change worker counts in o for backends which
// have their own settings.
func openBackend(uri string, o *Options) (device.Backend, error) {
	if !strings.Contains(uri, "://") {
		return file.Open(uri, 0)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "parse device uri %q", uri)
	}

	query := u.Query()

	switch u.Scheme {
	case "file":
		size, err := parseSize(query, "size", false)
		if err != nil {
			return nil, err
		}
		return file.Open(u.Path, size)

	case "null":
		size, err := parseSize(query, "size", true)
		if err != nil {
			return nil, err
		}
		return null.New(size), nil

	case "s3":
		return openS3(u, o)

	case "nbd", "nbds", "nbd+unix", "nbds+unix":
		return nbd.Connect(uri)

	case "kv":
		size, err := parseSize(query, "size", true)
		if err != nil {
			return nil, err
		}
		blockSize, err := parseSize(query, "block_size", false)
		if err != nil {
			return nil, err
		}

		dir := u.Path
		if u.Host == "memory" {
			dir = ""
		}

		return kv.Open(kv.Options{Dir: dir, Size: size, BlockSize: blockSize})
	}

	return nil, errors.Wrapf(ErrUnknownScheme, "%q", u.Scheme)
}

func openS3(u *url.URL, o *Options) (device.Backend, error) {
	query := u.Query()

	size, err := parseSize(query, "size", true)
	if err != nil {
		return nil, err
	}

	objectSize, err := parseSize(query, "object_size", false)
	if err != nil {
		return nil, err
	}

	if o.S3.Downloaders > 0 {
		o.Readers = o.S3.Downloaders
	}
	if o.S3.Uploaders > 0 {
		o.Writers = o.S3.Uploaders
	}

	return s3.New(s3.Options{
		Remote:     o.S3.Remote,
		Region:     o.S3.Region,
		AccessKey:  o.S3.AccessKey,
		SecretKey:  o.S3.SecretKey,
		Bucket:     u.Host,
		Prefix:     objectPrefix(u.Path),
		Size:       size,
		ObjectSize: objectSize,
	})
}

// Path of the s3 uri without the leading slash and with a trailing one, so
// devices sharing a bucket do not share objects.
func objectPrefix(path string) string {
	p := strings.Trim(path, "/")
	if p == "" {
		return ""
	}

	return p + "/"
}

// Parses human readable size like 1GiB or 512M from the query.
func parseSize(query url.Values, key string, required bool) (int64, error) {
	v := query.Get(key)
	if v == "" {
		if required {
			return 0, errors.Errorf("missing %s parameter", key)
		}
		return 0, nil
	}

	size, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}

	return int64(size), nil
}
