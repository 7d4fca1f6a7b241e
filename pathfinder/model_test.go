package pathfinder

import "math"

// gaussianModel is a diagonal Gaussian target with closed-form log density
// and gradient, used by this package's own tests.
type gaussianModel struct {
	mean []float64
	sd   []float64
}

func (m *gaussianModel) Dim() int { return len(m.mean) }

func (m *gaussianModel) LogDensity(x []float64) (float64, error) {
	lp := 0.0
	for i, xi := range x {
		z := (xi - m.mean[i]) / m.sd[i]
		lp += -0.5*z*z - math.Log(m.sd[i]) - 0.5*math.Log(2*math.Pi)
	}
	return lp, nil
}

func (m *gaussianModel) Gradient(x []float64) (float64, []float64, error) {
	lp, err := m.LogDensity(x)
	if err != nil {
		return 0, nil, err
	}
	grad := make([]float64, len(x))
	for i, xi := range x {
		grad[i] = -(xi - m.mean[i]) / (m.sd[i] * m.sd[i])
	}
	return lp, grad, nil
}
