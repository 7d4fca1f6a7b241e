// Package elbo estimates the evidence lower bound of a Taylor-approximation
// surrogate against the target log density via Monte Carlo importance
// sampling (spec §3's ELBO block, spec §4.5).
package elbo

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/n0madic/pathfinder/taylor"
)

// isFinite reports whether x is neither NaN nor infinite.
func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// LogDensityFunc evaluates the target's log density at x. A non-nil error
// signals the evaluation itself failed (e.g. a constraint transform threw);
// a finite return with nil error is the only accepted success.
type LogDensityFunc func(x []float64) (float64, error)

// Result is the outcome of one ELBO estimation at a single iterate.
type Result struct {
	Value    float64
	Draws    [][]float64
	LPRatios []float64
	LogP     []float64
	FnCalls  int
}

// Estimate draws numDraws samples from surrogate, evaluates the target log
// density at each, and returns the mean log importance ratio log(p/q) as
// the ELBO estimate (spec §4.5). Each sample slot attempts up to
// maxAttempts retries beyond its first try (r ∈ [0,R], spec §4.5) on a
// non-finite target or proposal log density before being dropped; slots
// that survive are compacted into Draws/LPRatios in order. If every slot
// is dropped, Estimate probes once more (no retries) and, failing that,
// returns a Result with Value = -Inf (spec §7, kind 5: "ELBO estimation
// exhausts its retry budget").
func Estimate(s *taylor.Surrogate, alpha []float64, target LogDensityFunc, rng *rand.Rand, numDraws, maxAttempts int) Result {
	draws := make([][]float64, 0, numDraws)
	ratios := make([]float64, 0, numDraws)
	logps := make([]float64, 0, numDraws)
	fnCalls := 0

	for slot := 0; slot < numDraws; slot++ {
		x, ratio, logp, calls, ok := drawOne(s, alpha, target, rng, maxAttempts)
		fnCalls += calls
		if ok {
			draws = append(draws, x)
			ratios = append(ratios, ratio)
			logps = append(logps, logp)
		}
	}

	if len(ratios) == 0 {
		x, ratio, logp, calls, ok := drawOne(s, alpha, target, rng, 0)
		fnCalls += calls
		if ok {
			return Result{Value: ratio, Draws: [][]float64{x}, LPRatios: []float64{ratio}, LogP: []float64{logp}, FnCalls: fnCalls}
		}
		return Result{Value: math.Inf(-1), FnCalls: fnCalls}
	}

	return Result{Value: stat.Mean(ratios, nil), Draws: draws, LPRatios: ratios, LogP: logps, FnCalls: fnCalls}
}

// drawOne makes one first try plus up to maxAttempts retries (maxAttempts+1
// total, r ∈ [0,R] per spec §4.5 and the original's fail_trys <=
// num_eval_attempts) to produce a sample with finite proposal and target
// log densities. The proposal log-density uses the closed form
// lp_q = -log|Lh| - 0.5*(u·u + d*log(2pi)) from the standard-normal draw u
// (spec §4.5, the original's single.hpp:564-567): exact and O(d) for both
// the dense and sparse surrogate forms, unlike re-evaluating LogDensity.
func drawOne(s *taylor.Surrogate, alpha []float64, target LogDensityFunc, rng *rand.Rand, maxAttempts int) (x []float64, ratio, logp float64, fnCalls int, ok bool) {
	d := len(alpha)
	dLogTwoPi := float64(d) * math.Log(2*math.Pi)
	for attempt := 0; attempt <= maxAttempts; attempt++ {
		candidate, u := s.DrawOne(rng, alpha)
		logq := -s.LogDetL - 0.5*(floats.Dot(u, u)+dLogTwoPi)
		if !isFinite(logq) {
			continue
		}
		lp, err := target(candidate)
		fnCalls++
		if err != nil || !isFinite(lp) {
			continue
		}
		return candidate, lp - logq, lp, fnCalls, true
	}
	return nil, 0, 0, fnCalls, false
}
