// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package raid

import (
	"github.com/asch/braid/internal/device"
)

// Segment is a contiguous range on one underlying device. All values are in
// blocks.
type Segment struct {
	Device int

	// Offset on the underlying device.
	Offset int64

	Length int64

	// Offset in the virtual device where the segment starts. Used to find
	// the part of the payload belonging to the segment.
	Logical int64
}

// Translate maps the virtual range [offset, offset+length) to segments of the
// underlying devices. Segments are ordered by the virtual offset; for mirrored
// writes they are ordered by device. It has no side effects, the same input
// always gives the same output.
func Translate(s Scheme, disks int, op device.Op, offset, length int64) ([]Segment, error) {
	if length <= 0 || offset < 0 || disks < 1 {
		return nil, ErrInvalidRequest
	}

	if disks == 1 {
		return []Segment{{Device: 0, Offset: offset, Length: length, Logical: offset}}, nil
	}

	switch s := s.(type) {
	case Striped:
		return translateStriped(s.Chunk, disks, offset, length), nil
	case Mirrored:
		return translateMirrored(disks, op, offset, length), nil
	}

	return nil, ErrInvalidRequest
}

func translateStriped(chunk int64, disks int, offset, length int64) []Segment {
	n := int64(disks)

	// Exact number of chunks touched by the range.
	first := offset / chunk
	last := (offset + length - 1) / chunk
	segments := make([]Segment, 0, last-first+1)

	for pos, end := offset, offset+length; pos < end; {
		index := pos / chunk
		inChunk := pos % chunk

		l := chunk - inChunk
		if end-pos < l {
			l = end - pos
		}

		segments = append(segments, Segment{
			Device:  int(index % n),
			Offset:  (index/n)*chunk + inChunk,
			Length:  l,
			Logical: pos,
		})

		pos += l
	}

	return segments
}

func translateMirrored(disks int, op device.Op, offset, length int64) []Segment {
	if op != device.OpWrite {
		return []Segment{{Device: 0, Offset: offset, Length: length, Logical: offset}}
	}

	segments := make([]Segment, disks)
	for i := range segments {
		segments[i] = Segment{Device: i, Offset: offset, Length: length, Logical: offset}
	}

	return segments
}
