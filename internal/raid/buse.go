// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package raid

import (
	"encoding/binary"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/asch/braid/internal/device"
)

const (
	// Size of the metadata for one write in the write chunk read from the
	// kernel.
	writeItemSize = 32

	// Sector is a linux constant, which is always 512, no matter how big
	// your sectors or blocks are.
	sectorUnit = 512
)

// One write from the metadata part of the BUSE write chunk, in blocks.
type write struct {
	sector int64
	length int64
}

// Handle writes comming from the buse library. writes contain number write
// commands in this call and chunk contains memory where these commands are
// stored together with their data. First part of the chunk are metadata, until
// metadataSize and the rest are data of all writes in the same order.
//
// Writes are submitted without waiting for each other, except when a write
// overlaps one which is still in flight. Then all in-flight writes are waited
// for first, so the later write always wins.
func (v *VirtualDevice) BuseWrite(writes int64, chunk []byte) error {
	metadata := chunk[:v.metadataSize]
	data := chunk[v.metadataSize:]

	var (
		wg       sync.WaitGroup
		errLock  sync.Mutex
		errs     error
		inFlight = make([]write, 0, writes)
	)

	done := func(err error) {
		if err != nil {
			errLock.Lock()
			errs = multierr.Append(errs, err)
			errLock.Unlock()
		}
		wg.Done()
	}

	for i := int64(0); i < writes; i++ {
		w := v.parseWrite(metadata[:writeItemSize])
		metadata = metadata[writeItemSize:]

		size := w.length * v.blockSize
		payload := data[:size]
		data = data[size:]

		if overlapsAny(w, inFlight) {
			wg.Wait()
			inFlight = inFlight[:0]
		}
		inFlight = append(inFlight, w)

		wg.Add(1)
		v.Submit(&Request{
			Op:      device.OpWrite,
			Offset:  w.sector,
			Length:  w.length,
			Payload: payload,
			Done:    done,
		})
	}

	wg.Wait()

	if errs != nil {
		log.Info().Err(errs).Send()
	}

	return errs
}

// Read extent starting at sector with length length to the buffer chunk.
// Both are in blocks.
func (v *VirtualDevice) BuseRead(sector, length int64, chunk []byte) error {
	err := v.wait(device.OpRead, sector, length, chunk[:length*v.blockSize])
	if err != nil {
		log.Info().Err(err).Send()
	}

	return err
}

// Nothing has to be prepared before the device starts serving, the devices
// are already opened.
func (v *VirtualDevice) BusePreRun() {
	log.Info().
		Str("scheme", v.scheme.String()).
		Int("devices", len(v.devices)).
		Int64("block_size", v.blockSize).
		Str("capacity", humanize.IBytes(uint64(v.Size()))).
		Msg("Virtual device ready.")
}

// After disconnecting from the kernel module we flush and close all
// underlying devices.
func (v *VirtualDevice) BusePostRemove() {
	done := make(chan error, 1)
	v.Flush(func(err error) { done <- err })

	if err := <-done; err != nil {
		log.Warn().Err(err).Msg("Flush before close failed.")
	}

	if err := v.Close(); err != nil {
		log.Warn().Err(err).Msg("Closing devices failed.")
	}
}

// Submits one request and waits for its completion.
func (v *VirtualDevice) wait(op device.Op, offset, length int64, payload []byte) error {
	done := make(chan error, 1)

	v.Submit(&Request{
		Op:      op,
		Offset:  offset,
		Length:  length,
		Payload: payload,
		Done:    func(err error) { done <- err },
	})

	return <-done
}

// Parses write information from 32 bytes of raw memory. Sector and length are
// stored in 512 byte units and converted to blocks.
func (v *VirtualDevice) parseWrite(b []byte) write {
	return write{
		sector: int64(binary.LittleEndian.Uint64(b[:8]) * sectorUnit / uint64(v.blockSize)),
		length: int64(binary.LittleEndian.Uint64(b[8:16]) * sectorUnit / uint64(v.blockSize)),
	}
}

func overlapsAny(w write, writes []write) bool {
	for _, o := range writes {
		if w.sector < o.sector+o.length && o.sector < w.sector+w.length {
			return true
		}
	}

	return false
}
