package reservoir

import (
	"fmt"
	"math"
	"strings"
)

// BaseYearAD is the origin of the years-before-present convention.
const BaseYearAD = 1950

// weightTolerance bounds the accepted deviation of an AgeGrid's total mass from 1.
const weightTolerance = 1e-9

// CurvePoint is one tabulated row of a calibration curve.
type CurvePoint struct {
	CalendarYear float64 `json:"calendar_year" db:"calendar_year"`
	Age          float64 `json:"age" db:"age"`
	AgeSD        float64 `json:"age_sd" db:"age_sd"`
}

// DatedMeasurement is a radiocarbon or isotopic age with its one-sigma uncertainty.
type DatedMeasurement struct {
	Value float64 `json:"value"`
	SD    float64 `json:"sd"`
}

// Validate checks that the measurement is finite with a non-negative uncertainty.
func (m DatedMeasurement) Validate() error {
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return fmt.Errorf("%w: value %v is not finite", ErrInvalidMeasurement, m.Value)
	}
	if math.IsNaN(m.SD) || math.IsInf(m.SD, 0) || m.SD < 0 {
		return fmt.Errorf("%w: sd %v must be finite and non-negative", ErrInvalidMeasurement, m.SD)
	}
	return nil
}

// AgeGrid is a discrete probability mass function over calendar years (BP).
type AgeGrid struct {
	Years   []float64 `json:"years"`
	Weights []float64 `json:"weights"`
}

// Validate checks the grid shape and that the weights form a probability mass function.
func (g AgeGrid) Validate() error {
	if len(g.Years) == 0 {
		return fmt.Errorf("%w: no calendar years", ErrInvalidGrid)
	}
	if len(g.Years) != len(g.Weights) {
		return fmt.Errorf("%w: %d years but %d weights", ErrInvalidGrid, len(g.Years), len(g.Weights))
	}
	total := 0.0
	positive := 0
	for i, w := range g.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("%w: weight %v at index %d", ErrInvalidGrid, w, i)
		}
		if math.IsNaN(g.Years[i]) || math.IsInf(g.Years[i], 0) {
			return fmt.Errorf("%w: calendar year %v at index %d", ErrInvalidGrid, g.Years[i], i)
		}
		if w > 0 {
			positive++
		}
		total += w
	}
	if positive == 0 {
		return fmt.Errorf("%w: all weights are zero", ErrInvalidGrid)
	}
	if math.Abs(total-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %v", ErrInvalidGrid, total)
	}
	return nil
}

// SingleYearGrid returns the degenerate grid that puts all mass on one calendar year.
func SingleYearGrid(year float64) AgeGrid {
	return AgeGrid{Years: []float64{year}, Weights: []float64{1}}
}

// NormalLaw is a continuous normal distribution over calendar years.
type NormalLaw struct {
	Mean float64 `json:"mean"`
	SD   float64 `json:"sd"`
}

// AgeSource resolves the calendar age of a sample. Exactly one of Grid or Normal is set.
type AgeSource struct {
	Grid   *AgeGrid   `json:"grid,omitempty"`
	Normal *NormalLaw `json:"normal,omitempty"`
}

// GridSource wraps a discrete grid.
func GridSource(g AgeGrid) AgeSource {
	return AgeSource{Grid: &g}
}

// NormalSource wraps a normal law.
func NormalSource(n NormalLaw) AgeSource {
	return AgeSource{Normal: &n}
}

// Validate ensures the variant holds exactly one well-formed law.
func (s AgeSource) Validate() error {
	switch {
	case s.Grid != nil && s.Normal != nil:
		return NewValidationError("age source", "both grid and normal law are set")
	case s.Grid != nil:
		return s.Grid.Validate()
	case s.Normal != nil:
		return DatedMeasurement{Value: s.Normal.Mean, SD: s.Normal.SD}.Validate()
	default:
		return NewValidationError("age source", "neither grid nor normal law is set")
	}
}

// OffsetSample holds one offset realization per Monte Carlo iteration.
type OffsetSample []float64

// OffsetStatistics summarizes an OffsetSample.
type OffsetStatistics struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	SD     float64 `json:"sd"`
	CILow  float64 `json:"ci_low"`
	CIHigh float64 `json:"ci_high"`
	PValue float64 `json:"p_value"`
}

// Method selects how the columns of a batch table are unpacked.
type Method string

const (
	// MethodPair columns hold (true-age value, true-age sd, measured age, measured sd).
	MethodPair Method = "pair"
	// MethodShell columns hold (collection year AD, measured age, measured sd).
	MethodShell Method = "shell"
)

// ParseMethod converts a method name into a Method.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case MethodPair:
		return MethodPair, nil
	case MethodShell:
		return MethodShell, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Rows returns the number of values a column must hold for the method.
func (m Method) Rows() int {
	switch m {
	case MethodPair:
		return 4
	case MethodShell:
		return 3
	}
	return 0
}

// RowLabels names the rows expected for the method, in order.
func (m Method) RowLabels() []string {
	switch m {
	case MethodPair:
		return []string{"true_age", "true_age_sd", "age", "age_sd"}
	case MethodShell:
		return []string{"collection_year", "age", "age_sd"}
	}
	return nil
}

// CalibrationMode selects how a true-age measurement is turned into an AgeSource.
type CalibrationMode string

const (
	// ModeDirect treats the value as a known collection year AD.
	ModeDirect CalibrationMode = "direct"
	// ModeNormal treats the value as a calendar age BP with symmetric uncertainty.
	ModeNormal CalibrationMode = "normal"
	// ModeCurve calibrates a terrestrial radiocarbon age against a named curve.
	ModeCurve CalibrationMode = "curve"
)

// ParseCalibrationMode converts a mode name into a CalibrationMode.
func ParseCalibrationMode(s string) (CalibrationMode, error) {
	switch CalibrationMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDirect:
		return ModeDirect, nil
	case ModeNormal:
		return ModeNormal, nil
	case ModeCurve:
		return ModeCurve, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// ValidateIterations rejects non-positive or fractional iteration counts.
func ValidateIterations(n float64) (int, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) || n < 1 || n != math.Trunc(n) {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidIterations, n)
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %v exceeds %d", ErrInvalidIterations, n, math.MaxInt32)
	}
	return int(n), nil
}

// ValidateConfidence rejects confidence levels outside (0,1).
func ValidateConfidence(c float64) error {
	if math.IsNaN(c) || c <= 0 || c >= 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidConfidence, c)
	}
	return nil
}
