package reservoir

import (
	"errors"
	"testing"
)

func testCurve(t *testing.T) *CalibrationTable {
	t.Helper()
	table, err := NewCalibrationTable("test", []CurvePoint{
		{CalendarYear: 20, Age: 500, AgeSD: 20},
		{CalendarYear: 0, Age: 480, AgeSD: 25},
		{CalendarYear: 40, Age: 550, AgeSD: 30},
		{CalendarYear: 60, Age: 600, AgeSD: 35},
	})
	if err != nil {
		t.Fatalf("NewCalibrationTable: %v", err)
	}
	return table
}

func TestNewCalibrationTable_Empty(t *testing.T) {
	_, err := NewCalibrationTable("empty", nil)
	if !errors.Is(err, ErrEmptyCurve) {
		t.Fatalf("expected ErrEmptyCurve, got %v", err)
	}
	if !IsValidationError(err) {
		t.Fatalf("empty curve should be a validation error")
	}
}

func TestNewCalibrationTable_RejectsNegativeSD(t *testing.T) {
	_, err := NewCalibrationTable("bad", []CurvePoint{{CalendarYear: 0, Age: 1, AgeSD: -1}})
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewCalibrationTable_SortsByCalendarYear(t *testing.T) {
	table := testCurve(t)
	points := table.Points()
	for i := 1; i < len(points); i++ {
		if points[i-1].CalendarYear > points[i].CalendarYear {
			t.Fatalf("points not sorted at %d: %v", i, points)
		}
	}
	first, last := table.Span()
	if first != 0 || last != 60 {
		t.Errorf("span = (%v, %v), want (0, 60)", first, last)
	}
}

func TestLookupNearest(t *testing.T) {
	table := testCurve(t)

	tests := []struct {
		name    string
		year    float64
		wantAge float64
		wantSD  float64
	}{
		{"exact row", 40, 550, 30},
		{"closer to lower", 44, 550, 30},
		{"closer to upper", 53, 600, 35},
		{"before first row", -100, 480, 25},
		{"after last row", 1000, 600, 35},
		{"midpoint resolves to first row", 30, 500, 20},
		{"midpoint at start", 10, 480, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			age, sd := table.LookupNearest(tt.year)
			if age != tt.wantAge || sd != tt.wantSD {
				t.Errorf("LookupNearest(%v) = (%v, %v), want (%v, %v)", tt.year, age, sd, tt.wantAge, tt.wantSD)
			}
		})
	}
}

func TestLookupNearest_DuplicateYearsUseFirstOccurrence(t *testing.T) {
	table, err := NewCalibrationTable("dup", []CurvePoint{
		{CalendarYear: 10, Age: 100, AgeSD: 1},
		{CalendarYear: 10, Age: 200, AgeSD: 2},
		{CalendarYear: 20, Age: 300, AgeSD: 3},
	})
	if err != nil {
		t.Fatalf("NewCalibrationTable: %v", err)
	}

	for _, year := range []float64{9, 10, 11, 14} {
		if age, _ := table.LookupNearest(year); age != 100 {
			t.Errorf("LookupNearest(%v) age = %v, want 100", year, age)
		}
	}
	if age, _ := table.LookupNearest(15); age != 100 {
		t.Errorf("tie at 15 should resolve to first row, got %v", age)
	}
}

func TestLookupNearest_Idempotent(t *testing.T) {
	table := testCurve(t)
	age1, sd1 := table.LookupNearest(44)
	for i := 0; i < 100; i++ {
		age, sd := table.LookupNearest(44)
		if age != age1 || sd != sd1 {
			t.Fatalf("lookup changed on repeat %d: (%v, %v) vs (%v, %v)", i, age, sd, age1, sd1)
		}
	}
}

func TestPointsReturnsCopy(t *testing.T) {
	table := testCurve(t)
	points := table.Points()
	points[0].Age = -1
	if age, _ := table.LookupNearest(0); age != 480 {
		t.Fatalf("mutating Points() leaked into table: age %v", age)
	}
}
