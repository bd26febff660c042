// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package raid

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asch/braid/internal/device"
)

func TestTranslateStripedCrossesChunk(t *testing.T) {
	got, err := Translate(Striped{Chunk: 8}, 2, device.OpRead, 4, 10)
	require.NoError(t, err)

	want := []Segment{
		{Device: 0, Offset: 4, Length: 4, Logical: 4},
		{Device: 1, Offset: 0, Length: 6, Logical: 8},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Translate() mismatch (-want +got):\n%s", diff)
	}
}

func TestTranslateStripedWrapsAround(t *testing.T) {
	got, err := Translate(Striped{Chunk: 4}, 3, device.OpWrite, 10, 12)
	require.NoError(t, err)

	// Chunks 2, 3, 4 and 5 on devices 2, 0, 1 and 2.
	want := []Segment{
		{Device: 2, Offset: 2, Length: 2, Logical: 10},
		{Device: 0, Offset: 4, Length: 4, Logical: 12},
		{Device: 1, Offset: 4, Length: 4, Logical: 16},
		{Device: 2, Offset: 4, Length: 2, Logical: 20},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Translate() mismatch (-want +got):\n%s", diff)
	}
}

func TestTranslateStripedWholeChunks(t *testing.T) {
	got, err := Translate(Striped{Chunk: 8}, 2, device.OpRead, 16, 32)
	require.NoError(t, err)

	require.Len(t, got, 4)
	for i, s := range got {
		assert.Equal(t, int64(8), s.Length)
		assert.Equal(t, i%2, s.Device)
		assert.Equal(t, int64(8+8*(i/2)), s.Offset)
	}
}

func TestTranslateMirrored(t *testing.T) {
	writes, err := Translate(Mirrored{}, 3, device.OpWrite, 100, 20)
	require.NoError(t, err)

	want := []Segment{
		{Device: 0, Offset: 100, Length: 20, Logical: 100},
		{Device: 1, Offset: 100, Length: 20, Logical: 100},
		{Device: 2, Offset: 100, Length: 20, Logical: 100},
	}
	if diff := cmp.Diff(want, writes); diff != "" {
		t.Errorf("Translate() write mismatch (-want +got):\n%s", diff)
	}

	reads, err := Translate(Mirrored{}, 3, device.OpRead, 100, 20)
	require.NoError(t, err)

	want = []Segment{{Device: 0, Offset: 100, Length: 20, Logical: 100}}
	if diff := cmp.Diff(want, reads); diff != "" {
		t.Errorf("Translate() read mismatch (-want +got):\n%s", diff)
	}
}

func TestTranslateSingleDiskPassThrough(t *testing.T) {
	schemes := []Scheme{Striped{Chunk: 8}, Mirrored{}}
	ops := []device.Op{device.OpRead, device.OpWrite}

	for _, s := range schemes {
		for _, op := range ops {
			got, err := Translate(s, 1, op, 5, 100)
			require.NoError(t, err)

			want := []Segment{{Device: 0, Offset: 5, Length: 100, Logical: 5}}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Translate(%v, %v) mismatch (-want +got):\n%s", s, op, diff)
			}
		}
	}
}

func TestTranslateRejectsInvalidInput(t *testing.T) {
	_, err := Translate(Striped{Chunk: 8}, 2, device.OpRead, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = Translate(Mirrored{}, 2, device.OpWrite, 0, -1)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = Translate(Mirrored{}, 2, device.OpWrite, -1, 1)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = Translate(Mirrored{}, 0, device.OpWrite, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// Segments are contiguous, cover the range exactly, stay within one chunk and
// map back to the same virtual position.
func TestTranslateStripedProperties(t *testing.T) {
	for _, chunk := range []int64{1, 3, 8} {
		for disks := 2; disks <= 4; disks++ {
			for offset := int64(0); offset < 3*chunk*int64(disks); offset++ {
				for length := int64(1); length <= 2*chunk*int64(disks)+1; length++ {
					segments, err := Translate(Striped{Chunk: chunk}, disks, device.OpRead, offset, length)
					if err != nil {
						t.Fatal(err)
					}

					checkStriped(t, segments, chunk, disks, offset, length)
				}
			}
		}
	}
}

func checkStriped(t *testing.T, segments []Segment, chunk int64, disks int, offset, length int64) {
	t.Helper()

	pos := offset
	for _, s := range segments {
		if s.Logical != pos {
			t.Fatalf("offset=%d length=%d: gap or overlap at %d, segment %+v", offset, length, pos, s)
		}
		if s.Length <= 0 {
			t.Fatalf("offset=%d length=%d: empty segment %+v", offset, length, s)
		}

		in := s.Offset % chunk
		if in+s.Length > chunk {
			t.Fatalf("offset=%d length=%d: segment %+v crosses chunk boundary", offset, length, s)
		}

		// Inverse mapping of the device position to the virtual one.
		stripe := s.Offset / chunk
		virtual := (stripe*int64(disks)+int64(s.Device))*chunk + in
		if virtual != s.Logical {
			t.Fatalf("offset=%d length=%d: segment %+v maps back to %d", offset, length, s, virtual)
		}

		pos += s.Length
	}

	if pos != offset+length {
		t.Fatalf("offset=%d length=%d: segments end at %d", offset, length, pos)
	}
}

func TestTranslateIsPure(t *testing.T) {
	a, err := Translate(Striped{Chunk: 16}, 4, device.OpWrite, 7, 100)
	require.NoError(t, err)

	b, err := Translate(Striped{Chunk: 16}, 4, device.OpWrite, 7, 100)
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("Translate() not deterministic (-first +second):\n%s", diff)
	}
}
