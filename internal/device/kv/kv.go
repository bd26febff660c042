// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package kv implements the device backend on top of an embedded badger
// key-value store. Every block of the device is one key. Blocks which were
// never written are not stored and read as zeroes.
package kv

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBlockSize = 4096

	// How many times an update of one block is retried when it conflicts
	// with concurrent update of the same block.
	maxConflictRetries = 16
)

// KV is the badger backed device backend.
type KV struct {
	db        *badger.DB
	size      int64
	blockSize int64
}

// Options to use in Open() function.
type Options struct {
	// Directory of the database. Empty means in-memory database.
	Dir string

	// Size of the device in bytes.
	Size int64

	// Granularity of the stored values. Zero means DefaultBlockSize.
	BlockSize int64
}

// Open opens or creates the database.
func Open(o Options) (*KV, error) {
	if o.Size <= 0 {
		return nil, errors.Errorf("kv device %q needs positive size", o.Dir)
	}

	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}

	opts := badger.DefaultOptions(o.Dir).
		WithInMemory(o.Dir == "").
		WithLogger(logger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open kv device %q", o.Dir)
	}

	return &KV{db: db, size: o.Size, blockSize: o.BlockSize}, nil
}

func (k *KV) ReadAt(buf []byte, offset int64) (int, error) {
	err := k.db.View(func(txn *badger.Txn) error {
		return k.forEachBlock(buf, offset, func(key []byte, part []byte, inBlock int64) error {
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				zero(part)
				return nil
			}
			if err != nil {
				return err
			}

			return item.Value(func(val []byte) error {
				n := copy(part, val[min(inBlock, int64(len(val))):])
				zero(part[n:])
				return nil
			})
		})
	})

	if err != nil {
		return 0, err
	}

	return len(buf), nil
}

func (k *KV) WriteAt(buf []byte, offset int64) (int, error) {
	err := k.forEachBlock(buf, offset, func(key []byte, part []byte, inBlock int64) error {
		return k.updateBlock(key, part, inBlock)
	})

	if err != nil {
		return 0, err
	}

	return len(buf), nil
}

func (k *KV) Sync() error {
	return k.db.Sync()
}

func (k *KV) Size() int64 {
	return k.size
}

func (k *KV) Close() error {
	return k.db.Close()
}

// Stores part at inBlock offset of the block. Partial updates read the old
// value in the same transaction, so concurrent partial updates of one block
// conflict and are retried instead of losing data.
func (k *KV) updateBlock(key []byte, part []byte, inBlock int64) error {
	var err error

	for i := 0; i < maxConflictRetries; i++ {
		err = k.db.Update(func(txn *badger.Txn) error {
			block := make([]byte, k.blockSize)

			if int64(len(part)) != k.blockSize {
				item, err := txn.Get(key)
				switch {
				case errors.Is(err, badger.ErrKeyNotFound):
				case err != nil:
					return err
				default:
					old, err := item.ValueCopy(nil)
					if err != nil {
						return err
					}
					copy(block, old)
				}
			}

			copy(block[inBlock:], part)

			return txn.Set(key, block)
		})

		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}

	return err
}

// Calls fn for every block touched by the range with the key of the block,
// part of buf belonging to the block and offset of the part in the block.
func (k *KV) forEachBlock(buf []byte, offset int64, fn func(key, part []byte, inBlock int64) error) error {
	for done := int64(0); done < int64(len(buf)); {
		pos := offset + done
		inBlock := pos % k.blockSize
		n := min(k.blockSize-inBlock, int64(len(buf))-done)

		if err := fn(blockKey(pos/k.blockSize), buf[done:done+n], inBlock); err != nil {
			return err
		}

		done += n
	}

	return nil
}

func blockKey(block int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(block))

	return key
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Adapter of badger logging to zerolog. Badger is quite chatty at info level,
// hence everything but errors and warnings goes to debug.
type logger struct{}

func (logger) Errorf(f string, v ...interface{}) {
	log.Error().Str("component", "badger").Msgf(f, v...)
}

func (logger) Warningf(f string, v ...interface{}) {
	log.Warn().Str("component", "badger").Msgf(f, v...)
}

func (logger) Infof(f string, v ...interface{}) {
	log.Debug().Str("component", "badger").Msgf(f, v...)
}

func (logger) Debugf(f string, v ...interface{}) {
	log.Trace().Str("component", "badger").Msgf(f, v...)
}
