// Package taylor builds the local multivariate-Gaussian surrogate (spec §3,
// §4.4) at an L-BFGS iterate from its accepted curvature-update history,
// and generates draws from it via the dense/sparse sampling identity of
// spec §4.4's "why two forms" note.
package taylor

import "gonum.org/v1/gonum/mat"

// Surrogate is the Taylor-approximation record of spec §3: a multivariate
// normal q centered at XCenter, whose covariance is represented either as
// an explicit Cholesky factor of the full approximate inverse Hessian
// (UseFull) or as a low-rank-plus-diagonal factorization (Qk, LApprox).
type Surrogate struct {
	XCenter []float64

	// LogDetL is log|L_H|: the log-determinant of the Cholesky factor of
	// the surrogate's covariance, computed per spec §3's invariant
	// (sum-of-log-diagonal for the dense form, plus half the sum of
	// log(alpha) for the sparse form).
	LogDetL float64

	// LApprox is lower-triangular with strictly positive diagonal when
	// UseFull is true (d×d); otherwise it is the m'×m' Cholesky factor
	// used by the sparse sampling identity, with finite, non-negative
	// diagonal entries.
	LApprox *mat.Dense

	// Qk is the d×m' orthonormal basis from the sparse path's thin QR
	// decomposition. Nil when UseFull is true.
	Qk *mat.Dense

	UseFull bool
}
