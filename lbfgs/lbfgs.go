// Package lbfgs implements a limited-memory BFGS driver over an
// unconstrained objective, exposing the full iterate/gradient trajectory so
// a caller can later rebuild curvature history from it (spec §4.2).
package lbfgs

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// isFinite reports whether x is neither NaN nor infinite.
func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Code reports why Step stopped advancing.
type Code int

const (
	// Continue means the driver made progress and more steps may help.
	Continue Code = 0
	// ConvGradNorm means the gradient norm fell below Options.GradTol.
	ConvGradNorm Code = 1
	// ConvParamNorm means the relative step size fell below Options.ParamTol.
	ConvParamNorm Code = 2
	// ConvFunChange means the relative objective change fell below
	// Options.FunTol.
	ConvFunChange Code = 3
	// ConvMaxIterations means Options.MaxIterations was reached without
	// satisfying any other criterion.
	ConvMaxIterations Code = 4
	// LineSearchFailure means the line search could not find a point
	// satisfying the Wolfe conditions within Options.MaxLineSearch
	// evaluations; the driver's state is left at the last accepted
	// iterate and no further Step calls will make progress.
	LineSearchFailure Code = -1
)

// Options controls the L-BFGS driver's termination and memory behavior.
type Options struct {
	InitAlpha     float64
	HistorySize   int
	MaxIterations int
	MaxLineSearch int
	GradTol       float64
	ParamTol      float64
	FunTol        float64
}

// DefaultOptions returns the driver's conventional defaults.
func DefaultOptions() Options {
	return Options{
		InitAlpha:     1,
		HistorySize:   6,
		MaxIterations: 1000,
		MaxLineSearch: 20,
		GradTol:       1e-8,
		ParamTol:      1e-10,
		FunTol:        1e-12,
	}
}

// Func evaluates the objective and its gradient at x. A non-nil error is
// treated as a hard failure of the evaluation itself, not a soft reject;
// the driver has no retry logic of its own (that lives one layer up, in
// the caller's iteration loop).
type Func func(x []float64) (f float64, grad []float64, err error)

// Driver runs two-loop-recursion L-BFGS with a backtracking Wolfe line
// search. It keeps the complete iterate and gradient trajectory so that a
// curvature-history pass can be run over it after optimization finishes.
type Driver struct {
	opt Options
	fn  Func

	x    []float64
	grad []float64
	fval float64

	sHist [][]float64
	yHist [][]float64

	iter       int
	gradEvals  int
	stepNorm   float64
	stepMult   float64
	note       string
	terminated bool

	xHistory    [][]float64
	gradHistory [][]float64
	fvalHistory []float64
}

// New constructs a driver starting at x0, which must already have a
// finite objective and gradient (the caller is responsible for validating
// the initial point before calling New).
func New(fn Func, x0 []float64, opt Options) (*Driver, error) {
	f0, g0, err := fn(x0)
	if err != nil {
		return nil, err
	}
	x := append([]float64(nil), x0...)
	d := &Driver{
		opt:         opt,
		fn:          fn,
		x:           x,
		grad:        g0,
		fval:        f0,
		gradEvals:   1,
		xHistory:    [][]float64{append([]float64(nil), x...)},
		gradHistory: [][]float64{append([]float64(nil), g0...)},
		fvalHistory: []float64{f0},
	}
	return d, nil
}

func (d *Driver) X() []float64            { return d.x }
func (d *Driver) Grad() []float64         { return d.grad }
func (d *Driver) FVal() float64           { return d.fval }
func (d *Driver) PrevStepNorm() float64   { return d.stepNorm }
func (d *Driver) StepMultiplier() float64 { return d.stepMult }
func (d *Driver) GradEvals() int          { return d.gradEvals }
func (d *Driver) Note() string            { return d.note }
func (d *Driver) Iteration() int          { return d.iter }

// XHistory returns every accepted iterate, oldest first, including the
// starting point.
func (d *Driver) XHistory() [][]float64 { return d.xHistory }

// GradHistory returns the gradient at every accepted iterate, aligned with
// XHistory.
func (d *Driver) GradHistory() [][]float64 { return d.gradHistory }

// FValHistory returns the objective value at every accepted iterate,
// aligned with XHistory.
func (d *Driver) FValHistory() []float64 { return d.fvalHistory }

func gradNorm(g []float64) float64 {
	var sum float64
	for _, v := range g {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// direction computes -H·grad via the standard two-loop recursion over the
// stored (Δx, Δg) memory, using the most recent curvature pair to scale
// the initial Hessian estimate.
func (d *Driver) direction() []float64 {
	q := append([]float64(nil), d.grad...)
	m := len(d.sHist)
	alpha := make([]float64, m)
	rho := make([]float64, m)

	for i := m - 1; i >= 0; i-- {
		s, y := d.sHist[i], d.yHist[i]
		rho[i] = 1 / floats.Dot(y, s)
		alpha[i] = rho[i] * floats.Dot(s, q)
		for j := range q {
			q[j] -= alpha[i] * y[j]
		}
	}

	gamma := 1.0
	if m > 0 {
		s, y := d.sHist[m-1], d.yHist[m-1]
		gamma = floats.Dot(s, y) / floats.Dot(y, y)
	}
	for j := range q {
		q[j] *= gamma
	}

	for i := 0; i < m; i++ {
		s, y := d.sHist[i], d.yHist[i]
		beta := rho[i] * floats.Dot(y, q)
		for j := range q {
			q[j] += (alpha[i] - beta) * s[j]
		}
	}

	for j := range q {
		q[j] = -q[j]
	}
	return q
}

// Step advances the driver by one accepted L-BFGS iteration: it computes a
// search direction, runs a backtracking Wolfe line search, and updates the
// memory with the resulting (Δx, Δg) pair. It returns Continue until a
// termination criterion fires or the line search fails outright.
func (d *Driver) Step() Code {
	if d.terminated {
		return LineSearchFailure
	}

	dir := d.direction()
	dirDotGrad := floats.Dot(dir, d.grad)
	if dirDotGrad >= 0 {
		// Not a descent direction (can happen after a degenerate memory
		// update); reset to steepest descent for this step.
		dir = make([]float64, len(d.grad))
		for i := range dir {
			dir[i] = -d.grad[i]
		}
		dirDotGrad = floats.Dot(dir, d.grad)
	}

	step, xNew, fNew, gNew, evals, ok := d.lineSearch(dir, dirDotGrad)
	d.gradEvals += evals
	if !ok {
		d.terminated = true
		d.note = "line search failed to satisfy Wolfe conditions"
		return LineSearchFailure
	}

	s := make([]float64, len(d.x))
	y := make([]float64, len(d.x))
	for i := range s {
		s[i] = xNew[i] - d.x[i]
		y[i] = gNew[i] - d.grad[i]
	}
	if floats.Dot(y, s) > 1e-12*gradNorm(y)*gradNorm(s) {
		d.sHist = append(d.sHist, s)
		d.yHist = append(d.yHist, y)
		if len(d.sHist) > d.opt.HistorySize {
			d.sHist = d.sHist[1:]
			d.yHist = d.yHist[1:]
		}
	}

	relFunChange := math.Abs(fNew-d.fval) / math.Max(1, math.Abs(d.fval))
	d.stepNorm = gradNorm(s)
	d.stepMult = step
	prevX := d.x

	d.x, d.grad, d.fval = xNew, gNew, fNew
	d.iter++
	d.xHistory = append(d.xHistory, append([]float64(nil), d.x...))
	d.gradHistory = append(d.gradHistory, append([]float64(nil), d.grad...))
	d.fvalHistory = append(d.fvalHistory, d.fval)

	if gradNorm(d.grad) < d.opt.GradTol {
		d.note = "gradient norm below tolerance"
		return ConvGradNorm
	}
	if d.stepNorm < d.opt.ParamTol*math.Max(1, gradNorm(prevX)) {
		d.note = "step size below tolerance"
		return ConvParamNorm
	}
	if relFunChange < d.opt.FunTol {
		d.note = "objective change below tolerance"
		return ConvFunChange
	}
	if d.iter >= d.opt.MaxIterations {
		d.note = "maximum iterations reached"
		return ConvMaxIterations
	}
	return Continue
}

// lineSearch performs backtracking with an Armijo sufficient-decrease
// check and a simple curvature check (a weak-Wolfe approximation), which
// is adequate for the pathfinder driver's purpose: it only needs a
// descent-guaranteeing step, not an exact Wolfe point.
func (d *Driver) lineSearch(dir []float64, dirDotGrad float64) (step float64, xNew []float64, fNew float64, gNew []float64, evals int, ok bool) {
	const c1 = 1e-4
	const c2 = 0.9
	const shrink = 0.5

	step = d.opt.InitAlpha
	if d.iter == 0 {
		g0 := gradNorm(d.grad)
		if g0 > 0 {
			step = math.Min(1, 1/g0)
		}
	}

	x := d.x
	f0 := d.fval
	for i := 0; i < d.opt.MaxLineSearch; i++ {
		cand := make([]float64, len(x))
		for j := range cand {
			cand[j] = x[j] + step*dir[j]
		}
		f, g, err := d.fn(cand)
		evals++
		if err != nil || !isFinite(f) {
			step *= shrink
			continue
		}
		sufficientDecrease := f <= f0+c1*step*dirDotGrad
		curvature := floats.Dot(g, dir) >= c2*dirDotGrad
		if sufficientDecrease && curvature {
			return step, cand, f, g, evals, true
		}
		if !sufficientDecrease {
			step *= shrink
			continue
		}
		// Sufficient decrease held but curvature didn't: accept anyway
		// once the step has shrunk enough to be a safe, if approximate,
		// descent step.
		if i == d.opt.MaxLineSearch-1 {
			return step, cand, f, g, evals, true
		}
		step *= shrink
	}
	return 0, nil, 0, nil, evals, false
}
