package pathfinder

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/n0madic/pathfinder/curvature"
	"github.com/n0madic/pathfinder/elbo"
	"github.com/n0madic/pathfinder/lbfgs"
	"github.com/n0madic/pathfinder/rngstream"
	"github.com/n0madic/pathfinder/taylor"
)

// candidate is one L-BFGS iterate considered as a surrogate center during
// the ELBO search.
type candidate struct {
	iter      int
	surrogate *taylor.Surrogate
	alpha     []float64
}

// RunSingle drives one optimization path to convergence, builds a Taylor
// surrogate at every accepted iterate, searches them in parallel for the
// one with the highest ELBO, and tops its importance sample up to
// opts.NumDrawsPerPath draws (spec §4.6).
func RunSingle(model Model, path int, opts Options) (*PathResult, error) {
	d := model.Dim()
	rngPool := rngstream.NewPool(opts.Seed, uint64(path)*1_000_000, max(runtime.NumCPU(), 1))
	init0 := rngstream.New(opts.Seed, uint64(path))
	init := make([]float64, d)
	for i := range init {
		init[i] = opts.InitRadius * (2*init0.Float64() - 1)
	}

	negObjective := func(x []float64) (float64, []float64, error) {
		lp, grad, err := model.Gradient(x)
		if err != nil {
			return 0, nil, err
		}
		neg := make([]float64, len(grad))
		for i, g := range grad {
			neg[i] = -g
		}
		return -lp, neg, nil
	}

	driver, err := lbfgs.New(negObjective, init, opts.LBFGS)
	if err != nil {
		return nil, &IterationError{Path: path, Err: err}
	}

	code := lbfgs.Continue
	for i := 0; i < opts.LBFGS.MaxIterations; i++ {
		code = driver.Step()
		if opts.RefreshInterval > 0 && driver.Iteration()%opts.RefreshInterval == 0 {
			opts.Logger.Info("lbfgs iteration",
				"path", path, "iter", driver.Iteration(), "fval", driver.FVal())
		}
		if code != lbfgs.Continue {
			break
		}
	}
	if driver.Iteration() == 0 && code == lbfgs.LineSearchFailure {
		return nil, &IterationError{Path: path, Err: fmt.Errorf("line search failed at the initial point")}
	}
	opts.Logger.Info("lbfgs finished",
		"path", path, "code", code, "iterations", driver.Iteration(), "note", driver.Note())

	if opts.SaveIterations && opts.DiagnosticWriter != nil {
		if err := writeDiagnostics(opts, model, driver); err != nil {
			return nil, &IterationError{Path: path, Err: fmt.Errorf("writing diagnostic iterate stream: %w", err)}
		}
	}

	candidates := buildCandidates(driver, opts.HistorySize)

	target := func(x []float64) (float64, error) { return model.LogDensity(x) }

	var mu sync.Mutex
	best := elbo.Result{Value: math.Inf(-1)}
	bestIdx := 0
	var totalFnCalls atomic.Int64

	// Each worker owns exactly one rngPool slot for its whole lifetime, so
	// two goroutines never touch the same *rand.Rand concurrently; the work
	// queue (not the candidate's iterate index) decides which worker
	// handles which candidate.
	work := make(chan int, len(candidates))
	for ci := range candidates {
		work <- ci
	}
	close(work)

	g, _ := errgroup.WithContext(context.Background())
	for w := 0; w < rngPool.Len(); w++ {
		w := w
		g.Go(func() error {
			rng := rngPool.Stream(w)
			for ci := range work {
				c := candidates[ci]
				res := elbo.Estimate(c.surrogate, c.alpha, target, rng, opts.NumELBODraws, opts.MaxELBOAttempts)
				totalFnCalls.Add(int64(res.FnCalls))

				mu.Lock()
				if res.Value > best.Value {
					best = res
					bestIdx = ci
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if best.Value == math.Inf(-1) {
		return nil, &IterationError{Path: path, Err: fmt.Errorf("every ELBO-search candidate exhausted its retry budget (spec §4.6 step 6)")}
	}

	bestCandidate := candidates[bestIdx]
	draws := best.Draws
	lpRatios := best.LPRatios
	logp := best.LogP
	if len(draws) < opts.NumDrawsPerPath {
		rng := rngPool.Stream(0)
		need := opts.NumDrawsPerPath - len(draws)
		topUp := elbo.Estimate(bestCandidate.surrogate, bestCandidate.alpha, target, rng, need, opts.MaxELBOAttempts)
		draws = append(draws, topUp.Draws...)
		lpRatios = append(lpRatios, topUp.LPRatios...)
		logp = append(logp, topUp.LogP...)
		totalFnCalls.Add(int64(topUp.FnCalls))
	}

	// total fn_calls = L-BFGS grad_evals + every ELBO-search and top-up
	// target-log-density invocation (spec §8's count-identity invariant).
	fnCalls := int64(driver.GradEvals()) + totalFnCalls.Load()

	opts.Logger.Info("path finished",
		"path", path, "elbo", best.Value, "best_iter", bestCandidate.iter, "fn_calls", fnCalls)

	return &PathResult{
		Path:     path,
		ELBO:     best.Value,
		BestIter: bestCandidate.iter,
		Draws:    draws,
		LPRatios: lpRatios,
		LogP:     logp,
		FnCalls:  int(fnCalls),
		Code:     code,
	}, nil
}

// writeDiagnostics emits every accepted (unconstrained iterate, log
// density) pair to opts.DiagnosticWriter, independent of which iterate the
// ELBO search eventually picks as the best surrogate center (spec.md's
// original pathfinder services write this stream unconditionally behind a
// save_iterations flag). No surrogate exists yet at this point in the
// pipeline, so there is no proposal log-density for these raw iterates;
// the trailing lp_approx__ column is NaN rather than omitted, keeping the
// same column layout the parameter writer uses.
func writeDiagnostics(opts Options, model Model, driver *lbfgs.Driver) error {
	names := paramNames(opts.Context, model.Dim())
	header := make([]string, len(names)+2)
	for i, n := range names {
		header[i] = PrettifyName(n)
	}
	header[len(names)] = "lp_approx__"
	header[len(names)+1] = "lp__"
	if err := opts.DiagnosticWriter.WriteHeader(header); err != nil {
		return err
	}
	xHist := driver.XHistory()
	fHist := driver.FValHistory()
	for t, x := range xHist {
		if err := opts.DiagnosticWriter.WriteRow(x, math.NaN(), -fHist[t]); err != nil {
			return err
		}
	}
	return opts.DiagnosticWriter.Close()
}

// buildCandidates walks the driver's accepted trajectory, rebuilds the
// curvature-update history independently of L-BFGS's own internal memory
// (spec §4.3: the Taylor-approximation pass re-derives curvature from the
// full recorded trace, not from whatever the optimizer kept), and builds
// one surrogate per completed step. Candidates run over iterates 1..T,
// never the un-stepped initial point (t=0): spec §3's count invariant is
// "number of accepted surrogates equals the number of completed L-BFGS
// iterations that produced a new (x,g)", matching the original's
// tbb::parallel_for(blocked_range(0, diff_size)) over param_vecs[iter+1]
// (single.hpp:1003-1054).
func buildCandidates(driver *lbfgs.Driver, historySize int) []candidate {
	xHist := driver.XHistory()
	gHist := driver.GradHistory()
	T := len(xHist) - 1

	dy := make([][]float64, T)
	ds := make([][]float64, T)
	for t := 0; t < T; t++ {
		dy[t] = sub(gHist[t+1], gHist[t])
		ds[t] = sub(xHist[t+1], xHist[t])
	}

	mask := curvature.Check(dy, ds)
	windowMask := curvature.ForWindowSelection(mask)
	paramSize := len(xHist[0])
	alphaHist := curvature.Cascade(dy, ds, mask, paramSize)

	candidates := make([]candidate, 0, T)
	for t := 1; t <= T; t++ {
		alpha := alphaHist[t-1]
		idx := taylor.SelectWindow(windowMask, t-1, historySize)
		ykt := make([][]float64, len(idx))
		skt := make([][]float64, len(idx))
		for i, j := range idx {
			ykt[i] = dy[j]
			skt[i] = ds[j]
		}
		surrogate := taylor.Build(ykt, skt, alpha, xHist[t], gHist[t])
		candidates = append(candidates, candidate{iter: t, surrogate: surrogate, alpha: alpha})
	}
	return candidates
}

func sub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
