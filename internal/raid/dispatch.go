// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package raid

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/asch/braid/internal/device"
)

// Submits children of r to their devices. Requests with one child go straight
// to the device and its completion completes r. Otherwise a join is created
// before the first submission, hence a fast child cannot complete r early.
//
// For mirrored writes the replicas are submitted first and the primary last.
// Striped children are submitted in the order of their offsets. Completions
// can come in any order.
func (v *VirtualDevice) dispatch(r *Request, children []Child, start time.Time) {
	if len(children) == 1 {
		c := children[0]
		v.devices[c.Segment.Device].Submit(r.Op, c.Segment.Offset*v.blockSize, c.Payload, func(err error) {
			var childErr *ChildIOError
			failures := int64(0)
			if err != nil {
				childErr = v.childError(r.Op, c.Segment, err)
				failures = 1
			}
			v.complete(r, start, 1, asError(childErr), failures)
		})
		return
	}

	j := newJoin(len(children), func(err error, failures int64) {
		v.complete(r, start, len(children), err, failures)
	})

	if _, ok := v.scheme.(Mirrored); ok && r.Op == device.OpWrite {
		for _, c := range children[1:] {
			v.submitChild(j, r.Op, c)
		}
		v.submitChild(j, r.Op, children[0])
		return
	}

	for _, c := range children {
		v.submitChild(j, r.Op, c)
	}
}

func (v *VirtualDevice) submitChild(j *join, op device.Op, c Child) {
	v.devices[c.Segment.Device].Submit(op, c.Segment.Offset*v.blockSize, c.Payload, func(err error) {
		if err != nil {
			j.done(v.childError(op, c.Segment, err))
			return
		}
		j.done(nil)
	})
}

func (v *VirtualDevice) childError(op device.Op, s Segment, err error) *ChildIOError {
	log.Debug().Err(err).Int("device", s.Device).Str("op", op.String()).
		Int64("offset", s.Offset).Int64("length", s.Length).Msg("Child request failed.")

	if v.metrics != nil {
		v.metrics.ChildError(s.Device)
	}

	return &ChildIOError{
		Device: s.Device,
		Name:   v.devices[s.Device].String(),
		Op:     op,
		Offset: s.Offset,
		Length: s.Length,
		Err:    err,
	}
}

// Avoids a non-nil error interface holding a nil pointer.
func asError(e *ChildIOError) error {
	if e == nil {
		return nil
	}

	return e
}
