package ports

import (
	"context"

	"deltar/domain/reservoir"
)

// CurveProvider supplies named calibration curves (marine reservoir, terrestrial NH/SH)
type CurveProvider interface {
	// Curve returns the named curve, or an error wrapping reservoir.ErrCurveNotFound
	Curve(ctx context.Context, name string) (*reservoir.CalibrationTable, error)

	// Names lists the curves the provider can supply
	Names(ctx context.Context) ([]string, error)
}

// CurveConvolver calibrates a terrestrial radiocarbon date against a named curve
type CurveConvolver interface {
	// Convolve returns the calendar-age posterior of m restricted to years whose
	// probability exceeds the provider's floor, normalized to sum to 1
	Convolve(ctx context.Context, m reservoir.DatedMeasurement, curveName string) (reservoir.AgeGrid, error)
}
