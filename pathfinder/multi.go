package pathfinder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/n0madic/pathfinder/psis"
	"github.com/n0madic/pathfinder/rngstream"
)

// Run drives opts.NumPaths independent optimization paths in parallel,
// pools their importance-weighted draws in path-index order, and returns
// a Pareto-smoothed resample of size opts.NumPSISDraws (spec §4.7). A path
// that fails to start is logged and skipped rather than failing the whole
// run; Run only errors when every path fails to start.
func Run(model Model, opts ...Option) ([]Sample, error) {
	o := newOptions(opts...)
	start := time.Now()

	results := make([]*PathResult, o.NumPaths)
	g, _ := errgroup.WithContext(context.Background())
	for p := 0; p < o.NumPaths; p++ {
		p := p
		g.Go(func() error {
			res, err := RunSingle(model, p, o)
			if err != nil {
				var iterErr *IterationError
				if errors.As(err, &iterErr) {
					o.Logger.Warn("path failed to start", "path", p, "err", err)
					return nil
				}
				return err
			}
			results[p] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	optTime := time.Since(start)

	var allLPRatios, allLogP []float64
	var allDraws [][]float64
	for _, res := range results {
		if res == nil {
			continue
		}
		allLPRatios = append(allLPRatios, res.LPRatios...)
		allLogP = append(allLogP, res.LogP...)
		allDraws = append(allDraws, res.Draws...)
	}
	if len(allDraws) == 0 {
		return nil, fmt.Errorf("pathfinder: all %d paths failed to start", o.NumPaths)
	}

	psisStart := time.Now()
	smoothed := psis.Smooth(allLPRatios)
	rng := rngstream.New(o.Seed, uint64(o.NumPaths)+1)
	idx := psis.Resample(smoothed.Weights, o.NumPSISDraws, rng)
	psisTime := time.Since(psisStart)

	samples := make([]Sample, len(idx))
	for i, j := range idx {
		samples[i] = Sample{LogDensity: allLogP[j], LogQ: allLogP[j] - allLPRatios[j], Values: allDraws[j]}
	}

	if o.Writer != nil {
		if err := writeSamples(o, model, samples); err != nil {
			return nil, err
		}
	}

	o.Logger.Info("pathfinder run finished",
		"paths", o.NumPaths, "draws", len(samples), "khat", smoothed.Khat,
		"optimization_time", optTime, "psis_time", psisTime, "total_time", time.Since(start))

	return samples, nil
}

func writeSamples(o Options, model Model, samples []Sample) error {
	names := paramNames(o.Context, model.Dim())
	header := make([]string, len(names)+2)
	for i, n := range names {
		header[i] = PrettifyName(n)
	}
	header[len(names)] = "lp_approx__"
	header[len(names)+1] = "lp__"
	if err := o.Writer.WriteHeader(header); err != nil {
		return err
	}
	for _, s := range samples {
		if err := o.Writer.WriteRow(s.Values, s.LogQ, s.LogDensity); err != nil {
			return err
		}
	}
	return o.Writer.Close()
}

func paramNames(ctx VariateContext, dim int) []string {
	if ctx != nil {
		names := ctx.ParamNames()
		if len(names) == dim {
			return names
		}
	}
	names := make([]string, dim)
	for i := range names {
		names[i] = fmt.Sprintf("param.%d", i+1)
	}
	return names
}
