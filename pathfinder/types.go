package pathfinder

import "github.com/n0madic/pathfinder/lbfgs"

// PathResult is one optimization path's contribution to a multi-path run:
// its surviving importance-weighted draws and the diagnostics needed to
// log and pool them (spec §4.6).
type PathResult struct {
	Path     int
	ELBO     float64
	BestIter int
	Draws    [][]float64
	LPRatios []float64
	LogP     []float64
	FnCalls  int
	Code     lbfgs.Code
}

// Sample is one draw in the final resampled output (spec §4.7). LogQ is
// the surrogate's proposal log-density for this draw; LogDensity - LogQ
// recovers the log importance ratio it was resampled with.
type Sample struct {
	LogDensity float64
	LogQ       float64
	Values     []float64
}
