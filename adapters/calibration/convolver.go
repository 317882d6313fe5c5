package calibration

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"deltar/domain/reservoir"
	"deltar/internal"
	"deltar/ports"
)

// DefaultProbabilityFloor drops calendar years whose posterior probability is at or below it
const DefaultProbabilityFloor = 1e-5

// Convolver calibrates radiocarbon dates against curves supplied by a ports.CurveProvider.
// The likelihood of each tabulated calendar year is the normal density of the measured age
// around the curve age, with the measurement and curve uncertainties added in quadrature.
type Convolver struct {
	curves ports.CurveProvider
	floor  float64
	logger *internal.Logger
}

// NewConvolver creates a convolver. A non-positive floor selects DefaultProbabilityFloor.
func NewConvolver(curves ports.CurveProvider, floor float64, logger *internal.Logger) *Convolver {
	if floor <= 0 {
		floor = DefaultProbabilityFloor
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Convolver{
		curves: curves,
		floor:  floor,
		logger: logger.WithComponent("Convolver"),
	}
}

// Convolve returns the calendar-age posterior of m on the named curve's grid
func (c *Convolver) Convolve(ctx context.Context, m reservoir.DatedMeasurement, curveName string) (reservoir.AgeGrid, error) {
	if err := m.Validate(); err != nil {
		return reservoir.AgeGrid{}, err
	}
	curve, err := c.curves.Curve(ctx, curveName)
	if err != nil {
		return reservoir.AgeGrid{}, err
	}
	return Posterior(m, curve, c.floor)
}

// Posterior computes the normalized calendar-age distribution of m over curve's rows,
// trimmed to years whose probability exceeds floor and renormalized.
func Posterior(m reservoir.DatedMeasurement, curve *reservoir.CalibrationTable, floor float64) (reservoir.AgeGrid, error) {
	if curve == nil || curve.Len() == 0 {
		return reservoir.AgeGrid{}, reservoir.ErrEmptyCurve
	}

	points := curve.Points()
	years := make([]float64, len(points))
	density := make([]float64, len(points))
	for i, p := range points {
		years[i] = p.CalendarYear
		sigma := math.Hypot(m.SD, p.AgeSD)
		if sigma == 0 {
			if p.Age == m.Value {
				density[i] = 1
			}
			continue
		}
		density[i] = distuv.Normal{Mu: p.Age, Sigma: sigma}.Prob(m.Value)
	}

	total := floats.Sum(density)
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return reservoir.AgeGrid{}, fmt.Errorf("%w: %.1f±%.1f against %s", reservoir.ErrNoPosteriorMass, m.Value, m.SD, curve.Name())
	}
	floats.Scale(1/total, density)

	grid := reservoir.AgeGrid{}
	for i, p := range density {
		if p > floor {
			grid.Years = append(grid.Years, years[i])
			grid.Weights = append(grid.Weights, p)
		}
	}
	if len(grid.Years) == 0 {
		return reservoir.AgeGrid{}, fmt.Errorf("%w: no year above %g for %.1f±%.1f against %s", reservoir.ErrNoPosteriorMass, floor, m.Value, m.SD, curve.Name())
	}
	floats.Scale(1/floats.Sum(grid.Weights), grid.Weights)
	return grid, nil
}
