// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package raid

// Child is the part of a request scoped to one underlying device. Payload is
// a slice of the parent payload, data are never copied.
type Child struct {
	Segment Segment
	Payload []byte
}

// Split creates children of r for segments. A single segment reuses the whole
// payload of r without slicing. The payload of every other child is the part
// of the parent payload starting at the logical offset of its segment, so
// mirrored children share the same bytes.
func Split(r *Request, segments []Segment, blockSize int64) []Child {
	if len(segments) == 1 {
		return []Child{{Segment: segments[0], Payload: r.Payload}}
	}

	children := make([]Child, len(segments))
	for i, s := range segments {
		from := (s.Logical - r.Offset) * blockSize
		to := from + s.Length*blockSize

		children[i] = Child{Segment: s, Payload: r.Payload[from:to:to]}
	}

	return children
}
