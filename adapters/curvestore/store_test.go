package curvestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltar/domain/reservoir"
	"deltar/internal"
	"deltar/internal/testkit"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(DriverSQLite, ":memory:", internal.NewLogger(internal.LogLevelError))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func mustCurve(t *testing.T, name string, points ...reservoir.CurvePoint) *reservoir.CalibrationTable {
	t.Helper()
	curve, err := reservoir.NewCalibrationTable(name, points)
	require.NoError(t, err)
	return curve
}

func TestStore_PutAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	curve := mustCurve(t, "marine20",
		reservoir.CurvePoint{CalendarYear: 20, Age: 610, AgeSD: 30},
		reservoir.CurvePoint{CalendarYear: 0, Age: 600, AgeSD: 25},
		reservoir.CurvePoint{CalendarYear: 10, Age: 605, AgeSD: 28},
		reservoir.CurvePoint{CalendarYear: 10, Age: 999, AgeSD: 99},
	)
	require.NoError(t, store.PutCurve(ctx, curve))

	got, err := store.Curve(ctx, "marine20")
	require.NoError(t, err)
	assert.Equal(t, "marine20", got.Name())
	assert.Equal(t, curve.Points(), got.Points())

	// duplicated calendar years still resolve to the first stored row
	age, sd := got.LookupNearest(10)
	assert.Equal(t, 605.0, age)
	assert.Equal(t, 28.0, sd)
}

func TestStore_PutReplaces(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutCurve(ctx, mustCurve(t, "c",
		reservoir.CurvePoint{CalendarYear: 0, Age: 1, AgeSD: 1},
		reservoir.CurvePoint{CalendarYear: 1, Age: 2, AgeSD: 1},
	)))
	require.NoError(t, store.PutCurve(ctx, mustCurve(t, "c",
		reservoir.CurvePoint{CalendarYear: 5, Age: 50, AgeSD: 5},
	)))

	got, err := store.Curve(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []reservoir.CurvePoint{{CalendarYear: 5, Age: 50, AgeSD: 5}}, got.Points())
}

func TestStore_NamesAndMissing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"shcal20", "intcal20"} {
		require.NoError(t, store.PutCurve(ctx, mustCurve(t, name, reservoir.CurvePoint{CalendarYear: 0, Age: 0, AgeSD: 1})))
	}
	names, err = store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"intcal20", "shcal20"}, names)

	_, err = store.Curve(ctx, "marine20")
	assert.ErrorIs(t, err, reservoir.ErrCurveNotFound)
	assert.True(t, reservoir.IsCollaboratorError(err))

	assert.ErrorIs(t, store.PutCurve(ctx, nil), reservoir.ErrEmptyCurve)
}

func TestStore_Import(t *testing.T) {
	kit, err := testkit.NewTestKit(testkit.DefaultConfig())
	require.NoError(t, err)

	store := openTestStore(t)
	ctx := context.Background()

	imported, err := store.Import(ctx, kit.Curves)
	require.NoError(t, err)
	assert.Equal(t, []string{testkit.MarineCurveName, testkit.TerrestrialCurveName}, imported)

	got, err := store.Curve(ctx, testkit.MarineCurveName)
	require.NoError(t, err)
	assert.Equal(t, len(kit.Dataset.Marine), got.Len())

	_, err = store.Import(ctx, kit.Curves, "missing")
	assert.ErrorIs(t, err, reservoir.ErrCurveNotFound)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "whatever", nil)
	assert.Error(t, err)
}
