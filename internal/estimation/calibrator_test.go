package estimation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"deltar/domain/reservoir"
)

func TestCalibrate_Direct(t *testing.T) {
	c := NewCalibrator(nil, quietLogger())
	source, err := c.Calibrate(context.Background(), reservoir.DatedMeasurement{Value: 1906, SD: 12}, reservoir.ModeDirect, "")
	require.NoError(t, err)

	require.NotNil(t, source.Grid)
	assert.Nil(t, source.Normal)
	assert.Equal(t, []float64{44}, source.Grid.Years)
	assert.Equal(t, []float64{1}, source.Grid.Weights)
}

func TestCalibrate_Normal(t *testing.T) {
	c := NewCalibrator(nil, quietLogger())
	source, err := c.Calibrate(context.Background(), reservoir.DatedMeasurement{Value: 2170, SD: 15}, reservoir.ModeNormal, "")
	require.NoError(t, err)

	require.NotNil(t, source.Normal)
	assert.Nil(t, source.Grid)
	assert.Equal(t, reservoir.NormalLaw{Mean: 2170, SD: 15}, *source.Normal)

	_, err = c.Calibrate(context.Background(), reservoir.DatedMeasurement{Value: 2170, SD: -1}, reservoir.ModeNormal, "")
	assert.ErrorIs(t, err, reservoir.ErrInvalidMeasurement)
}

func TestCalibrate_CurveDelegatesToConvolver(t *testing.T) {
	m := reservoir.DatedMeasurement{Value: 2500, SD: 25}
	grid := reservoir.AgeGrid{Years: []float64{2600, 2610}, Weights: []float64{0.4, 0.6}}

	convolver := &mockConvolver{}
	convolver.On("Convolve", mock.Anything, m, "intcal20").Return(grid, nil).Once()

	c := NewCalibrator(convolver, quietLogger())
	source, err := c.Calibrate(context.Background(), m, reservoir.ModeCurve, "intcal20")
	require.NoError(t, err)
	require.NotNil(t, source.Grid)
	assert.Equal(t, grid, *source.Grid)
	convolver.AssertExpectations(t)
}

func TestCalibrate_CurveErrors(t *testing.T) {
	m := reservoir.DatedMeasurement{Value: 2500, SD: 25}

	t.Run("missing convolver", func(t *testing.T) {
		_, err := NewCalibrator(nil, quietLogger()).Calibrate(context.Background(), m, reservoir.ModeCurve, "intcal20")
		assert.ErrorIs(t, err, reservoir.ErrConvolverMissing)
		assert.True(t, reservoir.IsCollaboratorError(err))
	})

	t.Run("missing curve name", func(t *testing.T) {
		_, err := NewCalibrator(&mockConvolver{}, quietLogger()).Calibrate(context.Background(), m, reservoir.ModeCurve, "")
		assert.True(t, reservoir.IsValidationError(err))
	})

	t.Run("convolver failure propagates", func(t *testing.T) {
		boom := errors.New("curve file unreadable")
		convolver := &mockConvolver{}
		convolver.On("Convolve", mock.Anything, m, "shcal20").Return(reservoir.AgeGrid{}, boom)

		_, err := NewCalibrator(convolver, quietLogger()).Calibrate(context.Background(), m, reservoir.ModeCurve, "shcal20")
		assert.ErrorIs(t, err, boom)
		assert.True(t, reservoir.IsCollaboratorError(err))
	})

	t.Run("unusable grid", func(t *testing.T) {
		convolver := &mockConvolver{}
		convolver.On("Convolve", mock.Anything, m, "intcal20").Return(reservoir.AgeGrid{}, nil)

		_, err := NewCalibrator(convolver, quietLogger()).Calibrate(context.Background(), m, reservoir.ModeCurve, "intcal20")
		assert.True(t, reservoir.IsCollaboratorError(err))
	})
}

func TestCalibrate_UnknownMode(t *testing.T) {
	_, err := NewCalibrator(nil, quietLogger()).Calibrate(context.Background(), reservoir.DatedMeasurement{Value: 1}, "bayesian", "")
	assert.ErrorIs(t, err, reservoir.ErrUnknownMode)
	assert.True(t, reservoir.IsValidationError(err))
}
