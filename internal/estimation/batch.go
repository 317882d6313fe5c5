package estimation

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"deltar/domain/reservoir"
	"deltar/internal"
)

// BatchOptions configures one batch run
type BatchOptions struct {
	Method     reservoir.Method
	Iterations int
	Confidence float64
	// Mode applies to the pair method only; shell columns are always direct
	Mode reservoir.CalibrationMode
	// CurveName names the terrestrial curve for the curve mode
	CurveName string
	Seed      uint64
}

// Validate checks the options before any column is touched
func (o BatchOptions) Validate() error {
	_, err := o.normalized()
	return err
}

// normalized validates the options and canonicalizes the method and mode names
func (o BatchOptions) normalized() (BatchOptions, error) {
	method, err := reservoir.ParseMethod(string(o.Method))
	if err != nil {
		return o, err
	}
	o.Method = method
	if o.Iterations < 1 {
		return o, fmt.Errorf("%w: got %d", reservoir.ErrInvalidIterations, o.Iterations)
	}
	if err := reservoir.ValidateConfidence(o.Confidence); err != nil {
		return o, err
	}
	// shell always calibrates directly, but a mode it was given must still be a real one
	if o.Method == reservoir.MethodPair || o.Mode != "" {
		mode, err := reservoir.ParseCalibrationMode(string(o.Mode))
		if err != nil {
			return o, err
		}
		o.Mode = mode
	}
	if o.Method == reservoir.MethodPair {
		if o.Mode == reservoir.ModeCurve && o.CurveName == "" {
			return o, reservoir.NewValidationError("curve name", "required for curve calibration")
		}
	}
	return o, nil
}

// columnJob is one unpacked input column
type columnJob struct {
	id       string
	trueAge  reservoir.DatedMeasurement
	measured reservoir.DatedMeasurement
	mode     reservoir.CalibrationMode
}

// Runner applies calibration, sampling and summary to every data column of a table
type Runner struct {
	calibrator *Calibrator
	sampler    *Sampler
	workers    int
	logger     *internal.Logger
}

// NewRunner creates a batch runner. workers bounds the number of columns processed at once.
func NewRunner(calibrator *Calibrator, sampler *Sampler, workers int, logger *internal.Logger) *Runner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Runner{
		calibrator: calibrator,
		sampler:    sampler,
		workers:    workers,
		logger:     logger.WithComponent("BatchRunner"),
	}
}

// Run estimates the offset for every data column of table against the reservoir curve.
// Output rows follow input column order. Any invalid column or failed column aborts the
// whole batch; no partial result is returned.
func (r *Runner) Run(ctx context.Context, table *reservoir.Table, curve *reservoir.CalibrationTable, opts BatchOptions) (*reservoir.BatchResult, error) {
	opts, err := opts.normalized()
	if err != nil {
		return nil, err
	}
	if curve == nil {
		return nil, reservoir.ErrEmptyCurve
	}
	jobs, err := unpackColumns(table, opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	r.logger.Info("running %s batch: %d columns, %d iterations, confidence %.3f", opts.Method, len(jobs), opts.Iterations, opts.Confidence)

	stats := make([]reservoir.StatisticsRow, len(jobs))
	draws := make([]reservoir.DrawColumn, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, job := range jobs {
		g.Go(func() error {
			summary, sample, err := r.runColumn(gctx, job, curve, opts)
			if err != nil {
				return fmt.Errorf("column %q: %w", job.id, err)
			}
			stats[i] = reservoir.StatisticsRow{ID: job.id, OffsetStatistics: summary}
			draws[i] = reservoir.DrawColumn{ID: job.id, Sample: sample}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Error("batch aborted: %v", err)
		return nil, err
	}

	result := &reservoir.BatchResult{
		RunID:       reservoir.NewRunID(),
		Method:      opts.Method,
		Iterations:  opts.Iterations,
		Confidence:  opts.Confidence,
		Seed:        opts.Seed,
		CompletedAt: time.Now().UTC(),
		Statistics:  stats,
		Draws:       draws,
	}
	if opts.Method == reservoir.MethodPair {
		result.Mode = opts.Mode
	}

	r.logger.Info("batch %s finished in %v", result.RunID, time.Since(start))
	return result, nil
}

func (r *Runner) runColumn(ctx context.Context, job columnJob, curve *reservoir.CalibrationTable, opts BatchOptions) (reservoir.OffsetStatistics, reservoir.OffsetSample, error) {
	source, err := r.calibrator.Calibrate(ctx, job.trueAge, job.mode, opts.CurveName)
	if err != nil {
		return reservoir.OffsetStatistics{}, nil, err
	}

	sample, err := r.sampler.Sample(ctx, SampleRequest{
		Name:       job.id,
		Measured:   job.measured,
		Source:     source,
		Curve:      curve,
		Iterations: opts.Iterations,
		Seed:       opts.Seed,
	})
	if err != nil {
		return reservoir.OffsetStatistics{}, nil, err
	}

	summary, err := Summarize(sample, opts.Confidence)
	if err != nil {
		return reservoir.OffsetStatistics{}, nil, err
	}
	r.logger.Debug("column %s: mean %.1f median %.1f sd %.1f", job.id, summary.Mean, summary.Median, summary.SD)
	return summary, sample, nil
}

// unpackColumns checks every column's shape and values before any sampling starts
func unpackColumns(table *reservoir.Table, opts BatchOptions) ([]columnJob, error) {
	if table == nil || len(table.Columns) == 0 {
		return nil, reservoir.ErrEmptyTable
	}

	want := opts.Method.Rows()
	seen := make(map[string]bool, len(table.Columns))
	jobs := make([]columnJob, 0, len(table.Columns))
	for _, col := range table.Columns {
		if col.ID == "" {
			return nil, fmt.Errorf("%w: column without an id", reservoir.ErrMalformedColumn)
		}
		if seen[col.ID] {
			return nil, fmt.Errorf("%w: duplicate column id %q", reservoir.ErrMalformedColumn, col.ID)
		}
		seen[col.ID] = true
		if len(col.Values) != want {
			return nil, fmt.Errorf("%w: %q has %d values, %s method needs %d", reservoir.ErrMalformedColumn, col.ID, len(col.Values), opts.Method, want)
		}

		job := columnJob{id: col.ID}
		switch opts.Method {
		case reservoir.MethodShell:
			job.trueAge = reservoir.DatedMeasurement{Value: col.Values[0]}
			job.measured = reservoir.DatedMeasurement{Value: col.Values[1], SD: col.Values[2]}
			job.mode = reservoir.ModeDirect
		case reservoir.MethodPair:
			job.trueAge = reservoir.DatedMeasurement{Value: col.Values[0], SD: col.Values[1]}
			job.measured = reservoir.DatedMeasurement{Value: col.Values[2], SD: col.Values[3]}
			job.mode = opts.Mode
		}

		if err := job.measured.Validate(); err != nil {
			return nil, fmt.Errorf("column %q measured age: %w", col.ID, err)
		}
		check := job.trueAge
		if job.mode == reservoir.ModeDirect {
			check.SD = 0
		}
		if err := check.Validate(); err != nil {
			return nil, fmt.Errorf("column %q true age: %w", col.ID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
