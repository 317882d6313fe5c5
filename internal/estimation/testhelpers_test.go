package estimation

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"deltar/domain/reservoir"
	"deltar/internal"
)

// identityCurve maps every calendar year in [from, to] to an equal radiocarbon age with sd.
func identityCurve(t *testing.T, from, to, sd float64) *reservoir.CalibrationTable {
	t.Helper()
	var points []reservoir.CurvePoint
	for y := from; y <= to; y++ {
		points = append(points, reservoir.CurvePoint{CalendarYear: y, Age: y, AgeSD: sd})
	}
	curve, err := reservoir.NewCalibrationTable("identity", points)
	require.NoError(t, err)
	return curve
}

// shellFixtureCurve has its row nearest to calendar year 44 at (550, 30).
func shellFixtureCurve(t *testing.T) *reservoir.CalibrationTable {
	t.Helper()
	curve, err := reservoir.NewCalibrationTable("marine-fixture", []reservoir.CurvePoint{
		{CalendarYear: 0, Age: 520, AgeSD: 25},
		{CalendarYear: 40, Age: 550, AgeSD: 30},
		{CalendarYear: 80, Age: 590, AgeSD: 30},
		{CalendarYear: 120, Age: 620, AgeSD: 35},
	})
	require.NoError(t, err)
	return curve
}

func quietLogger() *internal.Logger {
	return internal.NewLogger(internal.LogLevelError)
}

// countingStreams records how many random streams were handed out.
type countingStreams struct {
	PCGStreams
	calls atomic.Int64
}

func (c *countingStreams) Stream(name string, chunk int, seed uint64) rand.Source {
	c.calls.Add(1)
	return c.PCGStreams.Stream(name, chunk, seed)
}

// mockConvolver is a testify mock of ports.CurveConvolver.
type mockConvolver struct {
	mock.Mock
}

func (m *mockConvolver) Convolve(ctx context.Context, meas reservoir.DatedMeasurement, curveName string) (reservoir.AgeGrid, error) {
	args := m.Called(ctx, meas, curveName)
	return args.Get(0).(reservoir.AgeGrid), args.Error(1)
}
