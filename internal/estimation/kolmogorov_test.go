package estimation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat/distuv"
)

func TestKolmogorovExactCDF_SingleObservation(t *testing.T) {
	// P(D_1 < d) = 2d - 1 on [1/2, 1]
	for _, d := range []float64{0.55, 0.75, 0.9} {
		assert.InDelta(t, 2*d-1, kolmogorovExactCDF(1, d), 1e-12, "d=%v", d)
	}
	assert.Equal(t, 0.0, kolmogorovExactCDF(5, 0))
	assert.Equal(t, 1.0, kolmogorovExactCDF(5, 1))
}

func TestKolmogorovExactCDF_CriticalValues(t *testing.T) {
	// two-sided 5% critical values of D_n
	tests := []struct {
		n int
		d float64
	}{
		{10, 0.40925},
		{50, 0.18841},
	}
	for _, tt := range tests {
		assert.InDelta(t, 0.05, 1-kolmogorovExactCDF(tt.n, tt.d), 0.002, "n=%d", tt.n)
	}
}

func TestKolmogorovExactCDF_Monotone(t *testing.T) {
	prev := 0.0
	for d := 0.05; d < 1; d += 0.05 {
		p := kolmogorovExactCDF(30, d)
		assert.GreaterOrEqual(t, p, prev-1e-12)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0+1e-12)
		prev = p
	}
}

func TestKolmogorovSurvival(t *testing.T) {
	assert.InDelta(t, 0.05, kolmogorovSurvival(1.3581), 5e-4)
	assert.InDelta(t, 0.01, kolmogorovSurvival(1.6276), 5e-4)
	assert.Equal(t, 1.0, kolmogorovSurvival(0))
	assert.InDelta(t, 1.0, kolmogorovSurvival(0.2), 1e-9)
	assert.Less(t, kolmogorovSurvival(4), 1e-12)

	// both series branches agree where they meet
	assert.InDelta(t, kolmogorovSurvival(math.Nextafter(1, 0)), kolmogorovSurvival(1), 1e-9)
}

func TestKSNormalPValue_NormalShapeIsNotRejected(t *testing.T) {
	for _, n := range []int{40, 2000} {
		sorted := make([]float64, n)
		for i := range sorted {
			sorted[i] = distuv.UnitNormal.Quantile((float64(i) + 0.5) / float64(n))
		}
		mean, sd := 0.0, 0.0
		for _, v := range sorted {
			mean += v
		}
		mean /= float64(n)
		for _, v := range sorted {
			sd += (v - mean) * (v - mean)
		}
		sd = math.Sqrt(sd / float64(n-1))

		assert.Greater(t, KSNormalPValue(sorted, mean, sd), 0.5, "n=%d", n)
	}
}

func TestKSNormalPValue_UniformShapeIsRejected(t *testing.T) {
	const n = 5000
	sorted := make([]float64, n)
	for i := range sorted {
		sorted[i] = (float64(i) + 0.5) / n
	}
	mean := 0.5
	sd := math.Sqrt(1.0 / 12)

	assert.Less(t, KSNormalPValue(sorted, mean, sd), 1e-3)
}

func TestKSStatistic(t *testing.T) {
	// uniform CDF on [0,1] against two points
	d := KSStatistic([]float64{0.25, 0.75}, func(x float64) float64 { return x })
	assert.InDelta(t, 0.25, d, 1e-12)
}
