// Package psis implements Pareto-smoothed importance sampling weight
// smoothing (spec §4.7): a generalized Pareto tail fit over the largest
// importance ratios, used to tame the variance of a multi-path resample
// without ever discarding a draw.
package psis

import (
	"math"
	"sort"
)

// isFinite reports whether x is neither NaN nor infinite.
func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Result is the outcome of smoothing one set of log importance ratios.
type Result struct {
	// Weights sums to 1 and has the same length and order as the input
	// log-ratio slice.
	Weights []float64
	// Khat is the fitted generalized Pareto shape parameter of the tail,
	// or NaN if the sample was too small to fit (spec §4.7: smoothing is
	// skipped below a minimum tail size, never an error).
	Khat float64
}

// minTailLen is the smallest tail sample size the Zhang-Stephens GPD
// estimator is fit against; below it the tail is left unsmoothed rather
// than risk an unstable fit (spec §7, kind 7: "clamp, never throw").
const minTailLen = 5

// Smooth takes the raw log importance ratios of a pooled sample and returns
// normalized, Pareto-smoothed weights. It never errors: degenerate inputs
// (too few draws, a non-finite tail fit) fall back to a plain normalized
// softmax over the input ratios.
func Smooth(logRatios []float64) Result {
	n := len(logRatios)
	if n == 0 {
		return Result{Weights: nil, Khat: math.NaN()}
	}

	maxLR := logRatios[0]
	for _, lr := range logRatios {
		if lr > maxLR {
			maxLR = lr
		}
	}
	w := make([]float64, n)
	for i, lr := range logRatios {
		w[i] = math.Exp(lr - maxLR)
	}

	tailLen := int(math.Min(math.Floor(0.2*float64(n)), 3*math.Sqrt(float64(n))))
	khat := math.NaN()
	if tailLen >= minTailLen && tailLen < n {
		khat = smoothTail(w, tailLen)
	}

	normalize(w)
	return Result{Weights: w, Khat: khat}
}

// smoothTail replaces the tailLen largest entries of w (in place, any
// order) with their Pareto-smoothed values and returns the fitted shape k.
func smoothTail(w []float64, tailLen int) float64 {
	n := len(w)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return w[order[i]] < w[order[j]] })

	cutoff := w[order[n-tailLen-1]]
	exceed := make([]float64, tailLen)
	for i := 0; i < tailLen; i++ {
		exceed[i] = w[order[n-tailLen+i]] - cutoff
	}
	sort.Float64s(exceed)

	if !allPositive(exceed) {
		return math.NaN()
	}

	k, sigma := fitGPD(exceed)
	if !isFinite(k) || !isFinite(sigma) {
		return k
	}

	for i := 0; i < tailLen; i++ {
		p := (float64(i) + 0.5) / float64(tailLen)
		q := gpdQuantile(p, k, sigma)
		smoothed := q + cutoff
		if smoothed > w[order[n-1]] {
			smoothed = w[order[n-1]]
		}
		w[order[n-tailLen+i]] = smoothed
	}
	return k
}

func allPositive(xs []float64) bool {
	for _, x := range xs {
		if x < 0 || !isFinite(x) {
			return false
		}
	}
	return true
}

func gpdQuantile(p, k, sigma float64) float64 {
	if math.Abs(k) < 1e-12 {
		return -sigma * math.Log1p(-p)
	}
	return sigma / k * (math.Pow(1-p, -k) - 1)
}

// fitGPD estimates the generalized Pareto shape k and scale sigma from
// positive exceedances x via the Zhang & Stephens (2009) profile-likelihood
// estimator, the same method the reference implementation uses for tail
// smoothing.
func fitGPD(x []float64) (k, sigma float64) {
	n := len(x)
	sorted := make([]float64, n)
	copy(sorted, x)
	sort.Float64s(sorted)

	const priorB = 3.0
	const priorK = 10.0

	m := 30 + int(math.Sqrt(float64(n)))
	quartile := sorted[int(float64(n)/4+0.5)]
	if quartile <= 0 {
		quartile = sorted[n-1] / 4
	}

	bs := make([]float64, m)
	lTheta := make([]float64, m)
	for j := 1; j <= m; j++ {
		b := 1 - math.Sqrt(float64(m)/(float64(j)-0.5))
		b = b/(priorB*quartile) + 1/sorted[n-1]
		bs[j-1] = b

		kMean := meanLog1pNeg(b, sorted)
		if b == 0 || kMean == 0 {
			lTheta[j-1] = math.Inf(-1)
			continue
		}
		lTheta[j-1] = float64(n) * (math.Log(-b/kMean) - kMean - 1)
	}

	maxL := math.Inf(-1)
	for _, l := range lTheta {
		if l > maxL {
			maxL = l
		}
	}
	weights := make([]float64, m)
	sumW := 0.0
	for j, l := range lTheta {
		weights[j] = math.Exp(l - maxL)
		sumW += weights[j]
	}
	if sumW == 0 || !isFinite(sumW) {
		return math.NaN(), math.NaN()
	}

	bPost := 0.0
	for j := range weights {
		bPost += bs[j] * weights[j] / sumW
	}
	kPost := meanLog1pNeg(bPost, sorted)
	sigma = -kPost / bPost
	kPost = (float64(n)*kPost + priorK*0.5) / (float64(n) + priorK)
	return kPost, sigma
}

func meanLog1pNeg(b float64, x []float64) float64 {
	sum := 0.0
	for _, xi := range x {
		sum += math.Log1p(-b * xi)
	}
	return sum / float64(len(x))
}

func normalize(w []float64) {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum <= 0 || !isFinite(sum) {
		u := 1 / float64(len(w))
		for i := range w {
			w[i] = u
		}
		return
	}
	for i := range w {
		w[i] /= sum
	}
}
