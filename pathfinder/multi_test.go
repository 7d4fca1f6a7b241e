package pathfinder

import (
	"math"
	"testing"
)

func TestRunPoolsAcrossPaths(t *testing.T) {
	model := &gaussianModel{mean: []float64{0, 0}, sd: []float64{1, 1}}
	samples, err := Run(model,
		WithSeed(7),
		WithNumPaths(3),
		WithNumPSISDraws(300),
		WithNumDrawsPerPath(100),
		WithNumELBODraws(50),
		WithInitRadius(3),
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(samples) != 300 {
		t.Fatalf("expected 300 pooled draws, got %d", len(samples))
	}

	var mean0, mean1 float64
	for _, s := range samples {
		mean0 += s.Values[0]
		mean1 += s.Values[1]
		if math.IsNaN(s.LogDensity) {
			t.Fatalf("sample has NaN log density")
		}
	}
	n := float64(len(samples))
	mean0 /= n
	mean1 /= n
	if math.Abs(mean0) > 0.5 || math.Abs(mean1) > 0.5 {
		t.Errorf("pooled draw means (%v, %v) not close to 0", mean0, mean1)
	}
}

type recordingWriter struct {
	header []string
	rows   [][]float64
	logQs  []float64
	logPs  []float64
	closed bool
}

func (w *recordingWriter) WriteHeader(names []string) error {
	w.header = names
	return nil
}
func (w *recordingWriter) WriteRow(values []float64, logQ, logP float64) error {
	w.rows = append(w.rows, values)
	w.logQs = append(w.logQs, logQ)
	w.logPs = append(w.logPs, logP)
	return nil
}
func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestRunWritesThroughWriter(t *testing.T) {
	model := &gaussianModel{mean: []float64{1}, sd: []float64{1}}
	w := &recordingWriter{}
	samples, err := Run(model,
		WithNumPaths(2),
		WithNumPSISDraws(50),
		WithNumDrawsPerPath(40),
		WithWriter(w),
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !w.closed {
		t.Errorf("expected writer to be closed")
	}
	if len(w.rows) != len(samples) {
		t.Errorf("expected %d written rows, got %d", len(samples), len(w.rows))
	}
	if n := len(w.header); n < 2 || w.header[n-2] != "lp_approx__" || w.header[n-1] != "lp__" {
		t.Errorf("expected header to end with lp_approx__, lp__, got %v", w.header)
	}
}
