package taylor

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Draw generates n independent draws from the surrogate using the sampling
// identity of spec §4.4: x = x_center + L·u for the dense form, or
// x = x_center + diag(sqrt(alpha))·(Qk·L·u1 + (u − Qk·u1)) for the sparse
// form, where u (and its projection u1 = Qkᵀ·u) are drawn fresh per sample
// from rng, and L is the same lower Cholesky factor LApprox stores for the
// dense form. alpha must be the same diagonal scaling the surrogate was
// built with; it is only needed by the sparse form.
func (s *Surrogate) Draw(rng *rand.Rand, alpha []float64, n int) [][]float64 {
	out := make([][]float64, n)
	for k := 0; k < n; k++ {
		x, _ := s.DrawOne(rng, alpha)
		out[k] = x
	}
	return out
}

// DrawOne draws a single sample and also returns the underlying
// standard-normal vector u it was generated from. Callers computing the
// proposal log-density (elbo's importance ratio, spec §4.5) should use
// u directly via the closed form lp_q = -log|Lh| - 0.5*(u·u + d*log(2pi))
// rather than re-evaluating LogDensity: it is exact, O(d), and identical
// for the dense and sparse forms, where re-evaluating LogDensity on the
// sparse branch pays for the Woodbury solve for no extra accuracy.
func (s *Surrogate) DrawOne(rng *rand.Rand, alpha []float64) (x, u []float64) {
	d := len(s.XCenter)
	u = standardNormal(rng, d)
	if s.UseFull {
		return s.affineDense(u), u
	}
	return s.affineSparse(u, alpha), u
}

func standardNormal(rng *rand.Rand, d int) []float64 {
	u := make([]float64, d)
	for i := range u {
		u[i] = rng.NormFloat64()
	}
	return u
}

func (s *Surrogate) affineDense(u []float64) []float64 {
	d := len(u)
	x := make([]float64, d)
	l := s.LApprox
	for i := 0; i < d; i++ {
		v := 0.0
		for j := 0; j <= i; j++ {
			v += l.At(i, j) * u[j]
		}
		x[i] = s.XCenter[i] + v
	}
	return x
}

func (s *Surrogate) affineSparse(u, alpha []float64) []float64 {
	d := len(u)
	mPrime := s.Qk.RawMatrix().Cols

	uVec := mat.NewVecDense(d, u)
	var u1 mat.VecDense
	u1.MulVec(s.Qk.T(), uVec) // m' x 1

	var lu1 mat.VecDense
	lu1.MulVec(s.LApprox, &u1) // m' x 1, L·u1 (LApprox is already the lower factor)

	var qkLu1 mat.VecDense
	qkLu1.MulVec(s.Qk, &lu1) // d x 1

	var qkU1 mat.VecDense
	qkU1.MulVec(s.Qk, &u1) // d x 1

	x := make([]float64, d)
	for i := 0; i < d; i++ {
		comp := qkLu1.AtVec(i) + (u[i] - qkU1.AtVec(i))
		x[i] = s.XCenter[i] + math.Sqrt(alpha[i])*comp
	}
	_ = mPrime
	return x
}

// LogDensity evaluates the surrogate's log density at x (spec §3's q block:
// "per-draw proposal log-density used to form the importance ratio").
func (s *Surrogate) LogDensity(x, alpha []float64) float64 {
	d := len(x)
	diff := make([]float64, d)
	for i := range diff {
		diff[i] = x[i] - s.XCenter[i]
	}
	logTwoPi := 0.5 * float64(d) * math.Log(2*math.Pi)

	if s.UseFull {
		w := forwardSolveLower(s.LApprox, diff)
		quad := floats.Dot(w, w)
		return -logTwoPi - s.LogDetL - 0.5*quad
	}
	return s.logDensitySparse(diff, alpha, logTwoPi)
}

// forwardSolveLower solves L w = diff for w, L lower triangular d×d.
func forwardSolveLower(l *mat.Dense, diff []float64) []float64 {
	d := len(diff)
	w := make([]float64, d)
	for i := 0; i < d; i++ {
		v := diff[i]
		for j := 0; j < i; j++ {
			v -= l.At(i, j) * w[j]
		}
		w[i] = v / l.At(i, i)
	}
	return w
}

// logDensitySparse evaluates the quadratic form diffᵀH_true⁻¹diff via the
// Woodbury identity, avoiding any d×d inverse (spec §4.4's sparse form
// exists precisely to avoid that cost). H_true is the covariance the
// sampling map in affineSparse actually implies:
//
//	H_true = diag(√α)·(I + Qk(LLᵀ−I)Qkᵀ)·diag(√α)
//	       = diag(α) + diag(√α)·Qk·(LLᵀ−I)·Qkᵀ·diag(√α)
//
// Writing H_true = A + U·core·Uᵀ with A = diag(α), U = diag(√α)·Qk, and
// core = LLᵀ−I, Woodbury gives H_true⁻¹ = A⁻¹ − V(core⁻¹+I)⁻¹Vᵀ, where
// V = A⁻¹U = diag(1/√α)·Qk; the middle term collapses to core⁻¹+I (not
// core⁻¹+QkᵀDQk) because UᵀA⁻¹U = Qkᵀ·diag(√α)·diag(1/α)·diag(√α)·Qk =
// QkᵀQk = I, Qk having orthonormal columns from its defining QR step.
func (s *Surrogate) logDensitySparse(diff, alpha []float64, logTwoPi float64) float64 {
	d := len(diff)
	mPrime := s.Qk.RawMatrix().Cols

	diagQuad := 0.0
	for i := 0; i < d; i++ {
		diagQuad += diff[i] * diff[i] / alpha[i]
	}

	scaledDiff := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		scaledDiff.SetVec(i, diff[i]/math.Sqrt(alpha[i]))
	}
	p := mat.NewVecDense(mPrime, nil)
	p.MulVec(s.Qk.T(), scaledDiff)

	var lLT mat.Dense
	lLT.Mul(s.LApprox, s.LApprox.T())
	core := mat.NewDense(mPrime, mPrime, nil)
	for i := 0; i < mPrime; i++ {
		for j := 0; j < mPrime; j++ {
			v := lLT.At(i, j)
			if i == j {
				v -= 1
			}
			core.Set(i, j, v)
		}
	}

	var coreInv mat.Dense
	if err := coreInv.Inverse(core); err != nil {
		// (LLᵀ−I) is singular (L ≈ identity, no rank-update correction):
		// fall back to the diagonal-only density, the sparse form's floor.
		logDet := 0.0
		for i := 0; i < d; i++ {
			logDet += math.Log(alpha[i])
		}
		return -logTwoPi - 0.5*logDet - 0.5*diagQuad
	}
	middle := mat.NewDense(mPrime, mPrime, nil)
	for i := 0; i < mPrime; i++ {
		for j := 0; j < mPrime; j++ {
			v := coreInv.At(i, j)
			if i == j {
				v += 1
			}
			middle.Set(i, j, v)
		}
	}
	var middleInv mat.Dense
	if err := middleInv.Inverse(middle); err != nil {
		middleInv = *middle // degenerate; better than panicking
	}

	var correction mat.VecDense
	correction.MulVec(&middleInv, p)

	pCorrection := 0.0
	for i := 0; i < mPrime; i++ {
		pCorrection += p.AtVec(i) * correction.AtVec(i)
	}

	quad := diagQuad - pCorrection
	return -logTwoPi - s.LogDetL - 0.5*quad
}
