// Package stats implements the online statistics kept for one subscription
// window: count, running mean (Welford update), min and max. Cost is O(1) per
// reading regardless of stream length.
package stats

import "math"

// Accumulator holds incremental mean/min/max for a stream of values. The zero
// value is empty and ready to use. Not safe for concurrent use; the owning
// session serializes access.
type Accumulator struct {
	count int64
	mean  float64
	min   float64
	max   float64
}

// New returns an empty accumulator.
func New() *Accumulator {
	a := &Accumulator{}
	a.Reset()
	return a
}

// Reset empties the accumulator. Min and max return to their sentinel values;
// zero is a valid reading so it cannot serve as the empty marker.
func (a *Accumulator) Reset() {
	a.count = 0
	a.mean = 0
	a.min = math.Inf(1)
	a.max = math.Inf(-1)
}

// Ingest folds one value into the running statistics.
func (a *Accumulator) Ingest(v float64) {
	a.count++
	a.mean += (v - a.mean) / float64(a.count)
	if v < a.min {
		a.min = v
	}
	if v > a.max {
		a.max = v
	}
}

// Count returns the number of values ingested since the last reset.
func (a *Accumulator) Count() int64 { return a.count }

// Mean returns the running mean. Meaningful only when Count() >= 1.
func (a *Accumulator) Mean() float64 { return a.mean }

// Min returns the smallest ingested value, or +Inf when empty.
func (a *Accumulator) Min() float64 { return a.min }

// Max returns the largest ingested value, or -Inf when empty.
func (a *Accumulator) Max() float64 { return a.max }

// Bounds returns the deviation window mean ± |mean|*tolerance computed from
// the running mean. ok is false while the accumulator is empty, in which case
// no deviation check is possible.
func (a *Accumulator) Bounds(tolerance float64) (lo, hi float64, ok bool) {
	if a.count == 0 {
		return 0, 0, false
	}
	spread := math.Abs(a.mean) * tolerance
	return a.mean - spread, a.mean + spread, true
}
