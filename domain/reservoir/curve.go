package reservoir

import (
	"fmt"
	"math"
	"sort"
)

// CalibrationTable is an immutable calendar-year lookup of modeled radiocarbon ages.
// It is safe for concurrent use.
type CalibrationTable struct {
	name   string
	points []CurvePoint
}

// NewCalibrationTable copies points and orders them by calendar year. Rows sharing a
// calendar year keep their input order.
func NewCalibrationTable(name string, points []CurvePoint) (*CalibrationTable, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyCurve, name)
	}

	sorted := make([]CurvePoint, len(points))
	copy(sorted, points)
	for i, p := range sorted {
		if !finite(p.CalendarYear) || !finite(p.Age) || !finite(p.AgeSD) || p.AgeSD < 0 {
			return nil, NewValidationError(fmt.Sprintf("curve %q row %d", name, i),
				fmt.Sprintf("invalid point (%v, %v, %v)", p.CalendarYear, p.Age, p.AgeSD))
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CalendarYear < sorted[j].CalendarYear
	})

	return &CalibrationTable{name: name, points: sorted}, nil
}

// Name returns the curve name.
func (t *CalibrationTable) Name() string {
	return t.name
}

// Len returns the number of rows.
func (t *CalibrationTable) Len() int {
	return len(t.points)
}

// Points returns a copy of the rows in table order.
func (t *CalibrationTable) Points() []CurvePoint {
	out := make([]CurvePoint, len(t.points))
	copy(out, t.points)
	return out
}

// Span returns the first and last calendar years covered by the table.
func (t *CalibrationTable) Span() (first, last float64) {
	return t.points[0].CalendarYear, t.points[len(t.points)-1].CalendarYear
}

// LookupNearest returns the age and age sd of the row whose calendar year is closest to
// year. Equidistant rows resolve to the one that comes first in table order. Values are
// never interpolated between rows.
func (t *CalibrationTable) LookupNearest(year float64) (age, ageSD float64) {
	p := t.points[t.nearestIndex(year)]
	return p.Age, p.AgeSD
}

func (t *CalibrationTable) nearestIndex(year float64) int {
	n := len(t.points)
	// first row at or after year
	hi := sort.Search(n, func(i int) bool {
		return t.points[i].CalendarYear >= year
	})
	if hi == 0 {
		return 0
	}
	if hi == n {
		return t.firstOccurrence(n - 1)
	}

	lo := t.firstOccurrence(hi - 1)
	if year-t.points[lo].CalendarYear <= t.points[hi].CalendarYear-year {
		return lo
	}
	return hi
}

// firstOccurrence walks back to the earliest row sharing the calendar year at i.
func (t *CalibrationTable) firstOccurrence(i int) int {
	for i > 0 && t.points[i-1].CalendarYear == t.points[i].CalendarYear {
		i--
	}
	return i
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
