package testkit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"deltar/domain/reservoir"
)

// TestKit provides in-memory collaborators backed by a generated dataset
type TestKit struct {
	Dataset *Dataset
	Curves  *MemoryCurves
	Tables  *MemoryTables
}

// NewTestKit generates a dataset from cfg and registers its curves and table
func NewTestKit(cfg Config) (*TestKit, error) {
	ds, err := Generate(cfg)
	if err != nil {
		return nil, err
	}

	marine, err := reservoir.NewCalibrationTable(MarineCurveName, ds.Marine)
	if err != nil {
		return nil, err
	}
	terrestrial, err := reservoir.NewCalibrationTable(TerrestrialCurveName, ds.Terrestrial)
	if err != nil {
		return nil, err
	}

	return &TestKit{
		Dataset: ds,
		Curves:  NewMemoryCurves(marine, terrestrial),
		Tables:  NewMemoryTables(map[string]*reservoir.Table{"synthetic": ds.Table}),
	}, nil
}

// MemoryCurves is a ports.CurveProvider over a fixed set of curves that counts lookups
type MemoryCurves struct {
	mu     sync.Mutex
	curves map[string]*reservoir.CalibrationTable
	calls  map[string]int
}

func NewMemoryCurves(curves ...*reservoir.CalibrationTable) *MemoryCurves {
	m := &MemoryCurves{
		curves: make(map[string]*reservoir.CalibrationTable, len(curves)),
		calls:  map[string]int{},
	}
	for _, c := range curves {
		m.curves[c.Name()] = c
	}
	return m
}

func (m *MemoryCurves) Curve(ctx context.Context, name string) (*reservoir.CalibrationTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
	if c, ok := m.curves[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", reservoir.ErrCurveNotFound, name)
}

func (m *MemoryCurves) Names(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.curves))
	for name := range m.curves {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Calls reports how many times name was requested
func (m *MemoryCurves) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// MemoryTables is a ports.TableSource over a fixed set of tables
type MemoryTables struct {
	tables map[string]*reservoir.Table
}

func NewMemoryTables(tables map[string]*reservoir.Table) *MemoryTables {
	return &MemoryTables{tables: tables}
}

func (m *MemoryTables) Table(ctx context.Context, name string) (*reservoir.Table, error) {
	if t, ok := m.tables[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %q", reservoir.ErrTableNotFound, name)
}

func (m *MemoryTables) TableNames(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
