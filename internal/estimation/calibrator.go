package estimation

import (
	"context"
	"fmt"

	"deltar/domain/reservoir"
	"deltar/internal"
	"deltar/ports"
)

// Calibrator turns a true-age measurement into the AgeSource the sampler draws from
type Calibrator struct {
	convolver ports.CurveConvolver
	logger    *internal.Logger
}

// NewCalibrator creates a calibrator. convolver may be nil when the curve mode is never used.
func NewCalibrator(convolver ports.CurveConvolver, logger *internal.Logger) *Calibrator {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Calibrator{
		convolver: convolver,
		logger:    logger.WithComponent("Calibrator"),
	}
}

// Calibrate resolves m under the given mode.
//
//   - direct: m.Value is a collection year AD; the result is a one-year grid at 1950 - m.Value.
//   - normal: m is already a calendar age BP; the result is Normal(m.Value, m.SD).
//   - curve: m is a terrestrial radiocarbon age; the convolver calibrates it against curveName.
func (c *Calibrator) Calibrate(ctx context.Context, m reservoir.DatedMeasurement, mode reservoir.CalibrationMode, curveName string) (reservoir.AgeSource, error) {
	switch mode {
	case reservoir.ModeDirect:
		if err := (reservoir.DatedMeasurement{Value: m.Value}).Validate(); err != nil {
			return reservoir.AgeSource{}, fmt.Errorf("collection year: %w", err)
		}
		return reservoir.GridSource(reservoir.SingleYearGrid(reservoir.BaseYearAD - m.Value)), nil

	case reservoir.ModeNormal:
		if err := m.Validate(); err != nil {
			return reservoir.AgeSource{}, fmt.Errorf("true age: %w", err)
		}
		return reservoir.NormalSource(reservoir.NormalLaw{Mean: m.Value, SD: m.SD}), nil

	case reservoir.ModeCurve:
		return c.calibrateWithCurve(ctx, m, curveName)
	}

	return reservoir.AgeSource{}, fmt.Errorf("%w: %q", reservoir.ErrUnknownMode, mode)
}

func (c *Calibrator) calibrateWithCurve(ctx context.Context, m reservoir.DatedMeasurement, curveName string) (reservoir.AgeSource, error) {
	if err := m.Validate(); err != nil {
		return reservoir.AgeSource{}, fmt.Errorf("terrestrial age: %w", err)
	}
	if curveName == "" {
		return reservoir.AgeSource{}, reservoir.NewValidationError("curve name", "required for curve calibration")
	}
	if c.convolver == nil {
		return reservoir.AgeSource{}, reservoir.ErrConvolverMissing
	}

	grid, err := c.convolver.Convolve(ctx, m, curveName)
	if err != nil {
		c.logger.Error("convolution against %s failed for %.1f±%.1f: %v", curveName, m.Value, m.SD, err)
		if reservoir.IsValidationError(err) || reservoir.IsComputationError(err) || reservoir.IsCollaboratorError(err) {
			return reservoir.AgeSource{}, err
		}
		return reservoir.AgeSource{}, reservoir.NewCollaboratorError("curve convolution", err)
	}
	if err := grid.Validate(); err != nil {
		return reservoir.AgeSource{}, fmt.Errorf("%w: curve convolution returned an unusable grid: %v", reservoir.ErrCollaborator, err)
	}

	c.logger.Trace("calibrated %.1f±%.1f against %s: %d candidate years", m.Value, m.SD, curveName, len(grid.Years))
	return reservoir.GridSource(grid), nil
}
