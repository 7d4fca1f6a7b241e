package taylor

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Build constructs the Taylor-approximation surrogate at an iterate from its
// windowed curvature-update history, selecting the dense or sparse form per
// spec §4.4's rule: dense whenever twice the window size is at least the
// parameter dimension, sparse otherwise. ykt and skt hold one vector per
// window entry, nearest iterate first; alpha is the diagonal scaling at this
// iterate (curvature.Cascade's column); pointEst and gradEst are the
// iterate's parameters and gradient.
func Build(ykt, skt [][]float64, alpha, pointEst, gradEst []float64) *Surrogate {
	d := len(alpha)
	m := len(ykt)
	if m == 0 {
		return buildEmpty(alpha, pointEst, gradEst)
	}
	if 2*m >= d {
		return buildDense(ykt, skt, alpha, pointEst, gradEst)
	}
	return buildSparse(ykt, skt, alpha, pointEst, gradEst)
}

// buildEmpty handles the degenerate case where no history is available yet
// (the very first iterate): the surrogate degenerates to the diagonal
// approximation itself, with no rank-update correction, and its Newton
// center is just the diagonal step pointEst - alpha.*gradEst.
func buildEmpty(alpha, pointEst, gradEst []float64) *Surrogate {
	d := len(alpha)
	l := mat.NewDense(d, d, nil)
	logDet := 0.0
	center := make([]float64, d)
	for i := 0; i < d; i++ {
		sd := math.Sqrt(alpha[i])
		l.Set(i, i, sd)
		logDet += math.Log(sd)
		center[i] = pointEst[i] - alpha[i]*gradEst[i]
	}
	return &Surrogate{XCenter: center, LogDetL: logDet, LApprox: l, UseFull: true}
}

// commonFactors computes Dk (the window's Δy·Δs inner products) and ninvRST
// = -R⁻¹(ΔSᵀ), shared by both the dense and sparse constructions (spec §4.4).
// R is upper triangular: R[i][j] = Δs_i·Δy_j for i<=j in window order.
func commonFactors(ykt, skt [][]float64) (dk []float64, ninvRST [][]float64) {
	m := len(ykt)
	d := len(ykt[0])

	dk = make([]float64, m)
	for j := range ykt {
		dk[j] = floats.Dot(ykt[j], skt[j])
	}

	r := make([][]float64, m)
	for i := range r {
		r[i] = make([]float64, m)
	}
	for j := 0; j < m; j++ {
		for i := 0; i <= j; i++ {
			r[i][j] = floats.Dot(skt[i], ykt[j])
		}
	}

	x := make([][]float64, m)
	for i := range x {
		x[i] = make([]float64, d)
	}
	for row := m - 1; row >= 0; row-- {
		rhs := make([]float64, d)
		copy(rhs, skt[row])
		for k := row + 1; k < m; k++ {
			if r[row][k] == 0 {
				continue
			}
			for c := 0; c < d; c++ {
				rhs[c] -= r[row][k] * x[k][c]
			}
		}
		diag := r[row][row]
		for c := 0; c < d; c++ {
			x[row][c] = rhs[c] / diag
		}
	}

	ninvRST = make([][]float64, m)
	for i := range ninvRST {
		ninvRST[i] = make([]float64, d)
		for c := 0; c < d; c++ {
			ninvRST[i][c] = -x[i][c]
		}
	}
	return dk, ninvRST
}

// yTcrossprodAlpha forms the m×m matrix tcrossprod(Yα_sqrt) + diag(Dk) —
// i.e. Yα_sqrt·Yα_sqrtᵀ, an inner product across the d-dimensional
// parameter axis rather than across the m-dimensional window axis. This is
// the window-space block shared by the dense Hk sandwich term and the
// sparse form's Mkbar bottom-right corner (spec §4.4).
func yTcrossprodAlpha(ykt [][]float64, alpha, dk []float64) [][]float64 {
	m := len(ykt)
	out := make([][]float64, m)
	for i := range out {
		out[i] = make([]float64, m)
	}
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			sum := 0.0
			for c, a := range alpha {
				sum += ykt[i][c] * ykt[j][c] * a
			}
			out[i][j] = sum
		}
		out[i][i] += dk[i]
	}
	return out
}

// applyHk computes Hk·g without ever forming the d×d matrix Hk, using the
// same four-term decomposition that assembles Hk itself in buildDense. This
// lets both the dense and sparse constructions apply the Newton-step
// correction x_center = pointEst - Hk·gradEst (spec §4.4) without the
// sparse branch needing to materialize a full d×d matrix just to center
// itself.
func applyHk(ykt [][]float64, ninvRST [][]float64, alpha []float64, inner [][]float64, g []float64) []float64 {
	d := len(alpha)
	m := len(ykt)

	ninvRSTg := make([]float64, m)
	for i := 0; i < m; i++ {
		ninvRSTg[i] = floats.Dot(ninvRST[i], g)
	}

	alphaGrad := make([]float64, d)
	for c := 0; c < d; c++ {
		alphaGrad[c] = alpha[c] * g[c]
	}

	// term2 = alpha .* (Yᵀ @ ninvRSTg)
	term2 := make([]float64, d)
	for j := 0; j < m; j++ {
		for c := 0; c < d; c++ {
			term2[c] += ykt[j][c] * ninvRSTg[j]
		}
	}
	for c := 0; c < d; c++ {
		term2[c] *= alpha[c]
	}

	yAlphaGrad := make([]float64, m)
	for j := 0; j < m; j++ {
		yAlphaGrad[j] = floats.Dot(ykt[j], alphaGrad)
	}
	// term3 = ninvRSTᵀ @ yAlphaGrad
	term3 := make([]float64, d)
	for j := 0; j < m; j++ {
		for c := 0; c < d; c++ {
			term3[c] += ninvRST[j][c] * yAlphaGrad[j]
		}
	}

	innerG := make([]float64, m)
	for i := 0; i < m; i++ {
		innerG[i] = floats.Dot(inner[i], ninvRSTg)
	}
	// term4 = ninvRSTᵀ @ innerG
	term4 := make([]float64, d)
	for j := 0; j < m; j++ {
		for c := 0; c < d; c++ {
			term4[c] += ninvRST[j][c] * innerG[j]
		}
	}

	hg := make([]float64, d)
	for c := 0; c < d; c++ {
		hg[c] = alphaGrad[c] + term2[c] + term3[c] + term4[c]
	}
	return hg
}

// toDense flattens a [][]float64 of shape rows x cols into a *mat.Dense.
func toDense(rows, cols int, v [][]float64) *mat.Dense {
	flat := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		copy(flat[i*cols:(i+1)*cols], v[i])
	}
	return mat.NewDense(rows, cols, flat)
}

// buildDense forms the full d×d approximate inverse Hessian
//
//	Hk = diag(alpha) + ninvRSTᵀ·Yα + Yαᵀ·ninvRST + ninvRSTᵀ·(tcrossprod(Yα_sqrt)+diag(Dk))·ninvRST
//
// and Cholesky-factors it (spec §4.4, dense branch).
func buildDense(ykt, skt [][]float64, alpha, pointEst, gradEst []float64) *Surrogate {
	d := len(alpha)
	m := len(ykt)
	dk, ninvRST := commonFactors(ykt, skt)
	inner := yTcrossprodAlpha(ykt, alpha, dk) // m x m

	yAlpha := make([][]float64, m)
	for j := 0; j < m; j++ {
		yAlpha[j] = make([]float64, d)
		for c := 0; c < d; c++ {
			yAlpha[j][c] = ykt[j][c] * alpha[c]
		}
	}
	yAlphaM := toDense(m, d, yAlpha)
	ninvRSTM := toDense(m, d, ninvRST)
	innerM := toDense(m, m, inner)

	var t1 mat.Dense // ninvRSTᵀ·Yα : d x d
	t1.Mul(ninvRSTM.T(), yAlphaM)
	var t2 mat.Dense // Yαᵀ·ninvRST : d x d
	t2.Mul(yAlphaM.T(), ninvRSTM)

	var tmp mat.Dense // ninvRSTᵀ·inner : d x m
	tmp.Mul(ninvRSTM.T(), innerM)
	var t3 mat.Dense // (ninvRSTᵀ·inner)·ninvRST : d x d
	t3.Mul(&tmp, ninvRSTM)

	h := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		h.Set(i, i, alpha[i])
	}
	h.Add(h, &t1)
	h.Add(h, &t2)
	h.Add(h, &t3)

	hSym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			v := 0.5 * (h.At(i, j) + h.At(j, i))
			hSym.SetSym(i, j, v)
		}
	}

	center := newtonCenter(pointEst, applyHk(ykt, ninvRST, alpha, inner, gradEst))

	var chol mat.Cholesky
	if ok := chol.Factorize(hSym); !ok {
		return buildEmpty(alpha, pointEst, gradEst)
	}
	var l mat.TriDense
	chol.LTo(&l)

	logDet := 0.0
	for i := 0; i < d; i++ {
		logDet += math.Log(l.At(i, i))
	}

	return &Surrogate{
		XCenter: center,
		LogDetL: logDet,
		LApprox: mat.DenseCopyOf(&l),
		UseFull: true,
	}
}

// buildSparse forms the low-rank-plus-diagonal surrogate via thin QR of the
// d×2m concatenation Wk = [Yα_sqrt | diag(alpha)^-1/2·ninvRSTᵀ], then
// Cholesky-factors Rk·Mk·Rkᵀ + I, where Mk is the 2m×2m block matrix
// [[0, I], [I, tcrossprod(Yα_sqrt)+diag(Dk)]] (spec §4.4's sparse formula).
func buildSparse(ykt, skt [][]float64, alpha, pointEst, gradEst []float64) *Surrogate {
	d := len(alpha)
	m := len(ykt)
	dk, ninvRST := commonFactors(ykt, skt)
	inner := yTcrossprodAlpha(ykt, alpha, dk) // m x m
	two := 2 * m

	wk := mat.NewDense(d, two, nil)
	for c := 0; c < d; c++ {
		sqrtAlpha := math.Sqrt(alpha[c])
		for j := 0; j < m; j++ {
			wk.Set(c, j, ykt[j][c]*sqrtAlpha)
		}
		for j := 0; j < m; j++ {
			wk.Set(c, m+j, ninvRST[j][c]/sqrtAlpha)
		}
	}

	var qr mat.QR
	qr.Factorize(wk)

	mPrime := two
	if d < two {
		mPrime = d
	}

	fullR := mat.NewDense(d, two, nil)
	qr.RTo(fullR)
	rkView := fullR.Slice(0, mPrime, 0, two)
	rk := mat.DenseCopyOf(rkView)

	fullQ := mat.NewDense(d, d, nil)
	qr.QTo(fullQ)
	qkView := fullQ.Slice(0, d, 0, mPrime)
	qk := mat.DenseCopyOf(qkView)

	// Mkbar = [[0, I_m], [I_m, tcrossprod(Yα_sqrt)+diag(Dk)]]
	mBig := mat.NewDense(two, two, nil)
	for i := 0; i < m; i++ {
		mBig.Set(i, m+i, 1)
		mBig.Set(m+i, i, 1)
		for j := 0; j < m; j++ {
			mBig.Set(m+i, m+j, inner[i][j])
		}
	}

	var rkM mat.Dense
	rkM.Mul(rk, mBig)
	var rkMrkT mat.Dense
	rkMrkT.Mul(&rkM, rk.T())

	core := mat.NewSymDense(mPrime, nil)
	for i := 0; i < mPrime; i++ {
		for j := i; j < mPrime; j++ {
			v := 0.5 * (rkMrkT.At(i, j) + rkMrkT.At(j, i))
			if i == j {
				v += 1
			}
			core.SetSym(i, j, v)
		}
	}

	center := newtonCenter(pointEst, applyHk(ykt, ninvRST, alpha, inner, gradEst))

	var chol mat.Cholesky
	logDet := 0.0
	var lApprox *mat.Dense
	if ok := chol.Factorize(core); ok {
		var l mat.TriDense
		chol.LTo(&l)
		lApprox = mat.DenseCopyOf(&l)
		for i := 0; i < mPrime; i++ {
			logDet += math.Log(l.At(i, i))
		}
	} else {
		lApprox = mat.NewDense(mPrime, mPrime, nil)
		for i := 0; i < mPrime; i++ {
			lApprox.Set(i, i, 1)
		}
	}
	for i := 0; i < d; i++ {
		logDet += 0.5 * math.Log(alpha[i])
	}

	return &Surrogate{
		XCenter: center,
		LogDetL: logDet,
		LApprox: lApprox,
		Qk:      qk,
		UseFull: false,
	}
}

// newtonCenter applies the Taylor approximation's local Newton correction,
// x_center = point - Hk·grad (spec §4.4): the approximating normal is
// centered at the optimum of the local quadratic model, not at the raw
// L-BFGS iterate itself.
func newtonCenter(point, hg []float64) []float64 {
	center := make([]float64, len(point))
	for i := range point {
		center[i] = point[i] - hg[i]
	}
	return center
}
