package estimation

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltar/domain/reservoir"
)

func TestQuantile_LinearInterpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.25, 3.25},
		{0.5, 5.5},
		{0.75, 7.75},
		{0.025, 1.225},
		{0.975, 9.775},
		{1, 10},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Quantile(sorted, tt.p), 1e-12, "p=%v", tt.p)
	}

	assert.Equal(t, 7.0, Quantile([]float64{7}, 0.3))
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
}

func TestSummarize_KnownSample(t *testing.T) {
	sample := reservoir.OffsetSample{5, 1, 4, 2, 3}
	got, err := Summarize(sample, 0.5)
	require.NoError(t, err)

	assert.InDelta(t, 3, got.Mean, 1e-12)
	assert.InDelta(t, 3, got.Median, 1e-12)
	assert.InDelta(t, math.Sqrt(2.5), got.SD, 1e-12)
	assert.InDelta(t, 2, got.CILow, 1e-12)
	assert.InDelta(t, 4, got.CIHigh, 1e-12)
	assert.GreaterOrEqual(t, got.PValue, 0.0)
	assert.LessOrEqual(t, got.PValue, 1.0)
}

func TestSummarize_IntervalBracketsMedian(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.IntN(500)
		sample := make(reservoir.OffsetSample, n)
		for i := range sample {
			// skewed mixture so the interval is asymmetric
			sample[i] = rng.ExpFloat64()*40 + rng.NormFloat64()*10
		}
		confidence := 0.5 + 0.49*rng.Float64()

		got, err := Summarize(sample, confidence)
		require.NoError(t, err)
		assert.LessOrEqual(t, got.CILow, got.Median)
		assert.LessOrEqual(t, got.Median, got.CIHigh)
	}
}

func TestSummarize_Errors(t *testing.T) {
	_, err := Summarize(reservoir.OffsetSample{1}, 0.95)
	assert.ErrorIs(t, err, reservoir.ErrDegenerateSample)
	assert.True(t, reservoir.IsComputationError(err))

	_, err = Summarize(reservoir.OffsetSample{}, 0.95)
	assert.ErrorIs(t, err, reservoir.ErrDegenerateSample)

	_, err = Summarize(reservoir.OffsetSample{3, 3, 3}, 0.95)
	assert.ErrorIs(t, err, reservoir.ErrDegenerateSample)

	_, err = Summarize(reservoir.OffsetSample{1, math.NaN()}, 0.95)
	assert.True(t, reservoir.IsComputationError(err))

	for _, c := range []float64{0, 1, 1.2, -0.5} {
		_, err = Summarize(reservoir.OffsetSample{1, 2, 3}, c)
		assert.ErrorIs(t, err, reservoir.ErrInvalidConfidence)
	}
}

func TestSummarize_DoesNotReorderSample(t *testing.T) {
	sample := reservoir.OffsetSample{3, 1, 2}
	_, err := Summarize(sample, 0.95)
	require.NoError(t, err)
	assert.Equal(t, reservoir.OffsetSample{3, 1, 2}, sample)
}
