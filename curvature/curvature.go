// Package curvature implements the quasi-Newton curvature test and the
// diagonal Hessian-scaling cascade that feeds the Taylor-approximation
// builder (spec §3, §4.3).
package curvature

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// isFinite reports whether x is neither NaN nor infinite.
func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// curvatureCap bounds the eccentricity Y·Y / (Y·S) an update is allowed to
// have before it is rejected. Carried over unchanged from the reference
// implementation; spec §9 notes tests should not be sensitive to its exact
// value within an order of magnitude.
const curvatureCap = 1e12

// Check evaluates the raw curvature test for every consecutive (Δy, Δs)
// pair. dy and ds are column-major: dy[t] and ds[t] are the t-th
// difference vectors, t = 0 is the step into the first accepted L-BFGS
// iterate. The diagonal-scaling cascade (Cascade) consumes this mask as
// returned, with no forcing.
func Check(dy, ds [][]float64) []bool {
	mask := make([]bool, len(dy))
	for t := range dy {
		mask[t] = accepted(dy[t], ds[t])
	}
	return mask
}

// ForWindowSelection returns a copy of mask with index 0 forced true. The
// Taylor-approximation builder's backward walk over accepted history must
// always be able to reach the earliest difference pair, independent of
// whether it measured as curvature-acceptable (spec §3: "by convention c₀
// is forced true so the first surrogate always participates"). This
// forcing applies only to window selection, never to the α cascade itself.
func ForWindowSelection(mask []bool) []bool {
	out := make([]bool, len(mask))
	copy(out, mask)
	if len(out) > 0 {
		out[0] = true
	}
	return out
}

func accepted(y, s []float64) bool {
	yDotS := floats.Dot(y, s)
	if yDotS <= 0 {
		return false
	}
	yNormSq := floats.Dot(y, y)
	theta := yNormSq / yDotS
	return isFinite(theta) && theta <= curvatureCap
}

// FormDiag implements eq. 4.9 of Gilbert & Lemaréchal (1989): given the
// previous diagonal scaling alphaPrev and an accepted (Δy, Δs) pair,
// returns the updated elementwise scaling. Callers must only invoke this
// when the pair passed Check; FormDiag does not itself re-test curvature.
func FormDiag(alphaPrev, y, s []float64) []float64 {
	d := len(alphaPrev)
	out := make([]float64, d)

	yAlphaY := 0.0
	for i := 0; i < d; i++ {
		yAlphaY += y[i] * alphaPrev[i] * y[i]
	}
	yDotS := floats.Dot(y, s)
	sInvAlphaS := 0.0
	for i := 0; i < d; i++ {
		sInvAlphaS += s[i] / alphaPrev[i] * s[i]
	}

	for i := 0; i < d; i++ {
		term1 := yAlphaY / alphaPrev[i]
		term2 := y[i] * y[i]
		term3 := (yAlphaY / sInvAlphaS) * (s[i] / alphaPrev[i]) * (s[i] / alphaPrev[i])
		denom := term1 + term2 - term3
		out[i] = yDotS / denom
	}
	return out
}

// Cascade builds the full diagonal-scaling history α₁…α_T from the
// per-step (Δy, Δs) pairs and the curvature mask, per spec §3: α for a
// rejected step carries the previous column forward unchanged (the
// "curvature monotonicity" invariant of spec §8). Wherever FormDiag would
// produce a non-finite or non-positive result (a degenerate denominator),
// the column is treated as if the curvature test had failed.
func Cascade(dy, ds [][]float64, mask []bool, paramSize int) [][]float64 {
	alpha := make([][]float64, len(dy))
	prev := ones(paramSize)
	for t := range dy {
		if mask[t] {
			candidate := FormDiag(prev, dy[t], ds[t])
			if allPositiveFinite(candidate) {
				prev = candidate
			}
			// else: degenerate update, carry prev forward unchanged.
		}
		col := make([]float64, paramSize)
		copy(col, prev)
		alpha[t] = col
	}
	return alpha
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func allPositiveFinite(v []float64) bool {
	for _, x := range v {
		if !isFinite(x) || x <= 0 {
			return false
		}
	}
	return true
}
