package calibration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"deltar/domain/reservoir"
	"deltar/internal"
	"deltar/internal/testkit"
)

func linearCurve(t *testing.T, name string, from, to, sd float64) *reservoir.CalibrationTable {
	t.Helper()
	var points []reservoir.CurvePoint
	for y := from; y <= to; y++ {
		points = append(points, reservoir.CurvePoint{CalendarYear: y, Age: y, AgeSD: sd})
	}
	curve, err := reservoir.NewCalibrationTable(name, points)
	require.NoError(t, err)
	return curve
}

func newTestConvolver(curves ...*reservoir.CalibrationTable) *Convolver {
	return NewConvolver(testkit.NewMemoryCurves(curves...), 0, internal.NewLogger(internal.LogLevelError))
}

func TestConvolve_PosteriorCentersOnMeasurement(t *testing.T) {
	c := newTestConvolver(linearCurve(t, "intcal20", 0, 2000, 6))

	grid, err := c.Convolve(context.Background(), reservoir.DatedMeasurement{Value: 1000, SD: 8}, "intcal20")
	require.NoError(t, err)
	require.NoError(t, grid.Validate())

	assert.InDelta(t, 1.0, floats.Sum(grid.Weights), 1e-9)
	mean := stat.Mean(grid.Years, grid.Weights)
	assert.InDelta(t, 1000, mean, 0.01)
	// sqrt(8^2 + 6^2) = 10
	assert.InDelta(t, 10, stat.PopStdDev(grid.Years, grid.Weights), 0.2)

	// years far out in the tails fall under the floor
	assert.Greater(t, grid.Years[0], 940.0)
	assert.Less(t, grid.Years[len(grid.Years)-1], 1060.0)
}

func TestConvolve_ExactMatchWithoutUncertainty(t *testing.T) {
	c := newTestConvolver(linearCurve(t, "exact", 0, 10, 0))

	grid, err := c.Convolve(context.Background(), reservoir.DatedMeasurement{Value: 4, SD: 0}, "exact")
	require.NoError(t, err)
	assert.Equal(t, []float64{4}, grid.Years)
	assert.Equal(t, []float64{1}, grid.Weights)
}

func TestConvolve_NoMass(t *testing.T) {
	c := newTestConvolver(linearCurve(t, "short", 0, 100, 5))

	_, err := c.Convolve(context.Background(), reservoir.DatedMeasurement{Value: 50000, SD: 10}, "short")
	assert.ErrorIs(t, err, reservoir.ErrNoPosteriorMass)
	assert.True(t, reservoir.IsComputationError(err))
}

func TestConvolve_CollaboratorAndInputErrors(t *testing.T) {
	c := newTestConvolver(linearCurve(t, "intcal20", 0, 100, 5))

	_, err := c.Convolve(context.Background(), reservoir.DatedMeasurement{Value: 50, SD: 5}, "shcal20")
	assert.ErrorIs(t, err, reservoir.ErrCurveNotFound)

	_, err = c.Convolve(context.Background(), reservoir.DatedMeasurement{Value: 50, SD: -5}, "intcal20")
	assert.ErrorIs(t, err, reservoir.ErrInvalidMeasurement)
}

func TestPosterior_FloorTrimsAndRenormalizes(t *testing.T) {
	curve := linearCurve(t, "c", 0, 200, 0)
	m := reservoir.DatedMeasurement{Value: 100, SD: 10}

	loose, err := Posterior(m, curve, 1e-9)
	require.NoError(t, err)
	tight, err := Posterior(m, curve, 1e-2)
	require.NoError(t, err)

	assert.Less(t, len(tight.Years), len(loose.Years))
	assert.InDelta(t, 1.0, floats.Sum(tight.Weights), 1e-9)
	for _, w := range tight.Weights {
		assert.Greater(t, w, 1e-2)
	}

	_, err = Posterior(m, nil, 1e-5)
	assert.ErrorIs(t, err, reservoir.ErrEmptyCurve)
}
