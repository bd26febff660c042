// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package raid

import (
	"sync/atomic"
)

// Join counts outstanding children of one request. The last completing child
// calls finalize exactly once, with the first error reported by any child.
// Counters are only touched atomically, so children can complete
// concurrently from any go routine.
type join struct {
	pending  atomic.Int64
	failures atomic.Int64
	first    atomic.Pointer[ChildIOError]

	finalize func(err error, failures int64)
}

func newJoin(children int, finalize func(err error, failures int64)) *join {
	j := &join{finalize: finalize}
	j.pending.Store(int64(children))

	return j
}

// Done records completion of one child.
func (j *join) done(err *ChildIOError) {
	if err != nil {
		j.failures.Add(1)
		j.first.CompareAndSwap(nil, err)
	}

	switch left := j.pending.Add(-1); {
	case left == 0:
		var first error
		if e := j.first.Load(); e != nil {
			first = e
		}
		j.finalize(first, j.failures.Load())
	case left < 0:
		panic("raid: child completed after its request was finalized")
	}
}
