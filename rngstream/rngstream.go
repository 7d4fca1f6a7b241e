// Package rngstream constructs independent pseudo-random streams from a
// (seed, offset) pair so that parallel pathfinder runs never share or
// overlap random state.
package rngstream

import "math/rand/v2"

// New returns a generator for the stream identified by (seed, offset).
// Two streams built from distinct offsets under the same seed, or from
// distinct seeds, do not overlap within any realistic number of draws:
// PCG is a counter-based generator, and offset is folded into its second
// 64-bit seed half so each (seed, offset) pair selects an independent
// sequence.
func New(seed uint32, offset uint64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), offset))
}

// Pool hands out per-worker streams derived from a common base (seed, base
// offset) pair, indexed by worker slot. It exists so that a single-path run
// can pre-allocate one stream per goroutine slot instead of constructing a
// fresh one per task (spec §4.1: "single-path, additional per-thread
// streams use offset = path_base + thread_index").
type Pool struct {
	seed    uint32
	base    uint64
	streams []*rand.Rand
}

// NewPool pre-allocates n independent streams, one per worker slot.
func NewPool(seed uint32, base uint64, n int) *Pool {
	streams := make([]*rand.Rand, n)
	for i := range streams {
		streams[i] = New(seed, base+uint64(i))
	}
	return &Pool{seed: seed, base: base, streams: streams}
}

// Stream returns the stream owned by worker slot i. The caller owns it
// exclusively for the duration of its task; streams are never shared
// across concurrently-running slots.
func (p *Pool) Stream(i int) *rand.Rand {
	return p.streams[i%len(p.streams)]
}

// Len reports the number of pre-allocated streams.
func (p *Pool) Len() int {
	return len(p.streams)
}
