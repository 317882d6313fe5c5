package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"deltar/domain/reservoir"
	"deltar/internal"
	"deltar/ports"
)

// Registry is the process-wide cache of reference data: calibration curves and the
// bundled example tables. Each name is loaded at most once from the underlying
// provider; the loaded values are immutable and shared by reference.
// Registry itself satisfies ports.CurveProvider and ports.TableSource.
type Registry struct {
	curves ports.CurveProvider
	tables ports.TableSource
	logger *internal.Logger

	mu         sync.Mutex
	curveLoads map[string]*load[*reservoir.CalibrationTable]
	tableLoads map[string]*load[*reservoir.Table]
}

type load[T any] struct {
	once  sync.Once
	value T
	err   error
}

// NewRegistry creates a registry. tables may be nil when no example tables are served.
func NewRegistry(curves ports.CurveProvider, tables ports.TableSource, logger *internal.Logger) *Registry {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Registry{
		curves:     curves,
		tables:     tables,
		logger:     logger.WithComponent("Registry"),
		curveLoads: map[string]*load[*reservoir.CalibrationTable]{},
		tableLoads: map[string]*load[*reservoir.Table]{},
	}
}

// Curve returns the named curve, loading it on first use. A waiter whose load was cut
// short by another caller's cancellation retries under its own context.
func (r *Registry) Curve(ctx context.Context, name string) (*reservoir.CalibrationTable, error) {
	if r.curves == nil {
		return nil, fmt.Errorf("%w: %q (no curve provider configured)", reservoir.ErrCurveNotFound, name)
	}

	for {
		r.mu.Lock()
		l, ok := r.curveLoads[name]
		if !ok {
			l = &load[*reservoir.CalibrationTable]{}
			r.curveLoads[name] = l
		}
		r.mu.Unlock()

		l.once.Do(func() {
			l.value, l.err = r.curves.Curve(ctx, name)
			if l.err != nil {
				l.err = classify("curve provider", l.err)
				r.logger.Error("loading curve %s failed: %v", name, l.err)
				return
			}
			if l.value == nil {
				l.err = fmt.Errorf("%w: %q", reservoir.ErrCurveNotFound, name)
				return
			}
			first, last := l.value.Span()
			r.logger.Info("curve %s registered: %d rows, %.0f-%.0f BP", name, l.value.Len(), first, last)
		})
		if l.err != nil && r.forgetCancelled(name, l.err, func() {
			if r.curveLoads[name] == l {
				delete(r.curveLoads, name)
			}
		}) && ctx.Err() == nil {
			continue
		}
		return l.value, l.err
	}
}

// Names lists the curves the underlying provider offers
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	if r.curves == nil {
		return nil, nil
	}
	names, err := r.curves.Names(ctx)
	if err != nil {
		return nil, classify("curve provider", err)
	}
	return names, nil
}

// Table returns the named example table, loading it on first use
func (r *Registry) Table(ctx context.Context, name string) (*reservoir.Table, error) {
	if r.tables == nil {
		return nil, fmt.Errorf("%w: %q (no table source configured)", reservoir.ErrTableNotFound, name)
	}

	for {
		r.mu.Lock()
		l, ok := r.tableLoads[name]
		if !ok {
			l = &load[*reservoir.Table]{}
			r.tableLoads[name] = l
		}
		r.mu.Unlock()

		l.once.Do(func() {
			l.value, l.err = r.tables.Table(ctx, name)
			if l.err != nil {
				l.err = classify("table source", l.err)
				r.logger.Error("loading table %s failed: %v", name, l.err)
				return
			}
			if l.value == nil {
				l.err = fmt.Errorf("%w: %q", reservoir.ErrTableNotFound, name)
				return
			}
			r.logger.Info("table %s registered: %d columns", name, len(l.value.Columns))
		})
		if l.err != nil && r.forgetCancelled(name, l.err, func() {
			if r.tableLoads[name] == l {
				delete(r.tableLoads, name)
			}
		}) && ctx.Err() == nil {
			continue
		}
		return l.value, l.err
	}
}

// TableNames lists the tables the underlying source offers
func (r *Registry) TableNames(ctx context.Context) ([]string, error) {
	if r.tables == nil {
		return nil, nil
	}
	names, err := r.tables.TableNames(ctx)
	if err != nil {
		return nil, classify("table source", err)
	}
	return names, nil
}

// forgetCancelled drops a failed load caused by a cancelled context so a later call can
// retry, and reports whether it did. Every other failure stays cached.
func (r *Registry) forgetCancelled(name string, err error, drop func()) bool {
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	r.mu.Lock()
	drop()
	r.mu.Unlock()
	r.logger.Debug("load of %s interrupted; will retry on next use", name)
	return true
}

// classify keeps domain errors as they are and marks anything else as a collaborator failure
func classify(provider string, err error) error {
	if reservoir.IsValidationError(err) || reservoir.IsComputationError(err) || reservoir.IsCollaboratorError(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return reservoir.NewCollaboratorError(provider, err)
}
