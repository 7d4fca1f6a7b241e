package taylor

import (
	"math"
	"math/rand/v2"
	"testing"
)

// isFinite reports whether x is neither NaN nor infinite.
func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func TestBuildEmptyHistoryIsDiagonal(t *testing.T) {
	alpha := []float64{4, 9}
	center := []float64{1, 2}
	s := Build(nil, nil, alpha, center, []float64{0, 0})
	if !s.UseFull {
		t.Fatalf("expected dense form for empty history")
	}
	if got, want := s.LApprox.At(0, 0), math.Sqrt(4.0); math.Abs(got-want) > 1e-12 {
		t.Errorf("L[0][0] = %v, want %v", got, want)
	}
}

func TestBuildDenseSelectedWhenWindowLarge(t *testing.T) {
	d := 2
	ykt := [][]float64{{0.3, 0.1}, {0.2, -0.1}}
	skt := [][]float64{{0.5, 0.2}, {0.4, -0.2}}
	alpha := []float64{1, 1}
	center := make([]float64, d)
	grad := make([]float64, d)

	s := Build(ykt, skt, alpha, center, grad)
	if !s.UseFull {
		t.Fatalf("expected dense form when 2m >= d (m=2, d=2)")
	}
}

func TestBuildSparseSelectedWhenWindowSmall(t *testing.T) {
	d := 10
	ykt := [][]float64{{0.3, 0.1, 0, 0, 0, 0, 0, 0, 0, 0}}
	skt := [][]float64{{0.5, 0.2, 0, 0, 0, 0, 0, 0, 0, 0}}
	alpha := make([]float64, d)
	for i := range alpha {
		alpha[i] = 1
	}
	center := make([]float64, d)
	grad := make([]float64, d)

	s := Build(ykt, skt, alpha, center, grad)
	if s.UseFull {
		t.Fatalf("expected sparse form when 2m < d (m=1, d=10)")
	}
	if s.Qk == nil {
		t.Fatalf("expected Qk to be populated for sparse form")
	}
}

func TestDenseDrawsCenterOnAverage(t *testing.T) {
	alpha := []float64{1, 1}
	center := []float64{3, -2}
	s := Build(nil, nil, alpha, center, []float64{0, 0})

	rng := rand.New(rand.NewPCG(1, 1))
	draws := s.Draw(rng, alpha, 20000)

	var mean0, mean1 float64
	for _, x := range draws {
		mean0 += x[0]
		mean1 += x[1]
	}
	n := float64(len(draws))
	mean0 /= n
	mean1 /= n

	if math.Abs(mean0-center[0]) > 0.1 || math.Abs(mean1-center[1]) > 0.1 {
		t.Errorf("draw means %v, %v not close to center %v", mean0, mean1, center)
	}
}

func TestDenseLogDensityPeaksAtCenter(t *testing.T) {
	alpha := []float64{2, 2}
	center := []float64{0, 0}
	s := Build(nil, nil, alpha, center, []float64{0, 0})

	atCenter := s.LogDensity(center, alpha)
	offCenter := s.LogDensity([]float64{5, 5}, alpha)
	if !(atCenter > offCenter) {
		t.Errorf("expected log density to peak at the center: at=%v off=%v", atCenter, offCenter)
	}
}

func TestSparseLogDensityFinite(t *testing.T) {
	d := 6
	ykt := [][]float64{{0.3, 0.1, 0.05, 0, 0, 0}}
	skt := [][]float64{{0.5, 0.2, 0.1, 0, 0, 0}}
	alpha := make([]float64, d)
	for i := range alpha {
		alpha[i] = 1
	}
	center := make([]float64, d)
	s := Build(ykt, skt, alpha, center, make([]float64, d))

	lp := s.LogDensity(center, alpha)
	if !isFinite(lp) {
		t.Fatalf("expected finite sparse log density at center, got %v", lp)
	}

	rng := rand.New(rand.NewPCG(2, 2))
	draws := s.Draw(rng, alpha, 5)
	for _, x := range draws {
		if len(x) != d {
			t.Fatalf("expected draw of length %d, got %d", d, len(x))
		}
		if lp := s.LogDensity(x, alpha); !isFinite(lp) {
			t.Errorf("expected finite log density for drawn point, got %v", lp)
		}
	}
}

func TestBuildEmptyHistoryAppliesDiagonalNewtonStep(t *testing.T) {
	alpha := []float64{4, 9}
	center := []float64{1, 2}
	grad := []float64{0.5, -1}
	s := Build(nil, nil, alpha, center, grad)

	want := []float64{center[0] - alpha[0]*grad[0], center[1] - alpha[1]*grad[1]}
	for i := range want {
		if math.Abs(s.XCenter[i]-want[i]) > 1e-12 {
			t.Errorf("XCenter[%d] = %v, want %v", i, s.XCenter[i], want[i])
		}
	}
}

func TestBuildDenseNewtonStepMovesCenterOffIterate(t *testing.T) {
	ykt := [][]float64{{0.3, 0.1}, {0.2, -0.1}}
	skt := [][]float64{{0.5, 0.2}, {0.4, -0.2}}
	alpha := []float64{1, 1}
	point := []float64{0, 0}
	grad := []float64{1, -1}

	s := Build(ykt, skt, alpha, point, grad)
	moved := false
	for i := range point {
		if math.Abs(s.XCenter[i]-point[i]) > 1e-9 {
			moved = true
		}
	}
	if !moved {
		t.Errorf("expected the Newton-step correction to move XCenter away from the raw iterate when gradEst is nonzero, got %v", s.XCenter)
	}
}

func TestBuildSparseNewtonStepMovesCenterOffIterate(t *testing.T) {
	d := 10
	ykt := [][]float64{{0.3, 0.1, 0, 0, 0, 0, 0, 0, 0, 0}}
	skt := [][]float64{{0.5, 0.2, 0, 0, 0, 0, 0, 0, 0, 0}}
	alpha := make([]float64, d)
	for i := range alpha {
		alpha[i] = 1
	}
	point := make([]float64, d)
	grad := make([]float64, d)
	grad[0] = 1

	s := Build(ykt, skt, alpha, point, grad)
	if math.Abs(s.XCenter[0]-point[0]) < 1e-9 {
		t.Errorf("expected the Newton-step correction to move XCenter[0] away from 0, got %v", s.XCenter[0])
	}
}

// TestDenseAndSparseAgreeOnIdenticalHistory forces both factorizations over
// the same curvature history (bypassing the 2m>=d selection rule that Build
// applies) to check they represent the same approximate Hessian: when
// mPrime = 2m exactly (no QR truncation), the sparse low-rank-plus-diagonal
// form and the dense Cholesky form are just two factorizations of the
// identical matrix, so their log densities and Newton centers must match
// exactly (spec §8's Taylor-equivalence invariant).
func TestDenseAndSparseAgreeOnIdenticalHistory(t *testing.T) {
	d := 6
	ykt := [][]float64{{0.3, 0.1, 0.05, 0.2, -0.1, 0.05}, {0.2, -0.1, 0.1, 0.1, 0.05, -0.2}}
	skt := [][]float64{{0.5, 0.2, 0.1, 0.4, -0.2, 0.1}, {0.4, -0.2, 0.2, 0.2, 0.1, -0.4}}
	alpha := make([]float64, d)
	for i := range alpha {
		alpha[i] = 1 + 0.1*float64(i)
	}
	point := []float64{0.1, -0.2, 0.3, -0.4, 0.5, -0.6}
	grad := []float64{0.4, 0.3, -0.2, 0.1, -0.3, 0.2}

	dense := buildDense(ykt, skt, alpha, point, grad)
	sparse := buildSparse(ykt, skt, alpha, point, grad)

	for i := range point {
		if math.Abs(dense.XCenter[i]-sparse.XCenter[i]) > 1e-9 {
			t.Errorf("XCenter[%d]: dense=%v sparse=%v, want equal", i, dense.XCenter[i], sparse.XCenter[i])
		}
	}

	probes := [][]float64{
		point,
		{0, 0, 0, 0, 0, 0},
		{1, -1, 1, -1, 1, -1},
		{0.5, 0.5, -0.5, -0.5, 0.2, -0.2},
	}
	for _, x := range probes {
		lpDense := dense.LogDensity(x, alpha)
		lpSparse := sparse.LogDensity(x, alpha)
		if math.Abs(lpDense-lpSparse) > 1e-6 {
			t.Errorf("LogDensity(%v): dense=%v sparse=%v, want equal", x, lpDense, lpSparse)
		}
	}
}

func TestSelectWindowRespectsHistorySizeAndMask(t *testing.T) {
	mask := []bool{true, false, true, true, false}
	idx := SelectWindow(mask, 4, 2)
	if len(idx) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(idx), idx)
	}
	if idx[0] != 3 || idx[1] != 2 {
		t.Errorf("expected nearest-first [3 2], got %v", idx)
	}
}
