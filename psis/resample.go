package psis

import (
	"math/rand/v2"
	"sort"
)

// Resample draws n indices into weights with replacement, proportional to
// weights (spec §4.7's discrete weighted resample over the pooled,
// PSIS-smoothed draws). weights need not sum to 1.
func Resample(weights []float64, n int, rng *rand.Rand) []int {
	cum := make([]float64, len(weights))
	sum := 0.0
	for i, w := range weights {
		sum += w
		cum[i] = sum
	}

	out := make([]int, n)
	for i := 0; i < n; i++ {
		target := rng.Float64() * sum
		idx := sort.Search(len(cum), func(j int) bool { return cum[j] >= target })
		if idx >= len(cum) {
			idx = len(cum) - 1
		}
		out[i] = idx
	}
	return out
}
