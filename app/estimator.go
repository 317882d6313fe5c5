package app

import (
	"context"
	"fmt"
	"strings"

	"deltar/domain/reservoir"
	"deltar/internal"
	"deltar/internal/estimation"
	"deltar/ports"
)

// Hemisphere aliases accepted wherever a terrestrial curve name is expected
const (
	CurveNorthern = "northern"
	CurveSouthern = "southern"
)

// Options are the run parameters shared by every estimation entry point
type Options struct {
	Iterations int
	Confidence float64
	Seed       uint64
	// ReservoirCurve names the marine curve; empty selects the configured default
	ReservoirCurve string
}

// EstimatorConfig wires an Estimator
type EstimatorConfig struct {
	Sampler estimation.SamplerConfig
	// Workers bounds the number of batch columns processed at once
	Workers  int
	Defaults Options
	// Curve names the hemisphere aliases resolve to
	Northern string
	Southern string
}

// Estimate is the result of a single-sample estimation
type Estimate struct {
	RunID      string                     `json:"run_id"`
	ID         string                     `json:"id"`
	Statistics reservoir.OffsetStatistics `json:"statistics"`
	Sample     reservoir.OffsetSample     `json:"sample,omitempty"`
}

// ShellRequest estimates the offset of a shell with a known collection year
type ShellRequest struct {
	ID             string
	CollectionYear float64
	Measured       reservoir.DatedMeasurement
	Options        Options
}

// PairRequest estimates the offset of a marine sample from an independently dated true age
type PairRequest struct {
	ID        string
	TrueAge   reservoir.DatedMeasurement
	Measured  reservoir.DatedMeasurement
	Mode      reservoir.CalibrationMode
	CurveName string
	Options   Options
}

// BatchRequest runs every column of a table
type BatchRequest struct {
	Method    reservoir.Method
	Mode      reservoir.CalibrationMode
	CurveName string
	Options   Options
}

// Estimator is the application service behind the CLI and the HTTP API
type Estimator struct {
	registry *Registry
	runner   *estimation.Runner
	cfg      EstimatorConfig
	logger   *internal.Logger
}

// NewEstimator creates an estimator. convolver may be nil when the curve calibration
// mode is not offered; rng may be nil to use PCG streams.
func NewEstimator(registry *Registry, convolver ports.CurveConvolver, rng ports.RNGPort, cfg EstimatorConfig, logger *internal.Logger) *Estimator {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if cfg.Northern == "" {
		cfg.Northern = "intcal20"
	}
	if cfg.Southern == "" {
		cfg.Southern = "shcal20"
	}

	calibrator := estimation.NewCalibrator(convolver, logger)
	sampler := estimation.NewSampler(cfg.Sampler, rng)
	return &Estimator{
		registry: registry,
		runner:   estimation.NewRunner(calibrator, sampler, cfg.Workers, logger),
		cfg:      cfg,
		logger:   logger.WithComponent("Estimator"),
	}
}

// DefaultOptions returns the configured run parameters
func (e *Estimator) DefaultOptions() Options {
	return e.cfg.Defaults
}

// Registry exposes the reference data the estimator reads from
func (e *Estimator) Registry() *Registry {
	return e.registry
}

// EstimateShell runs one shell sample through the batch path
func (e *Estimator) EstimateShell(ctx context.Context, req ShellRequest) (*Estimate, error) {
	id := req.ID
	if id == "" {
		id = "shell"
	}
	table := &reservoir.Table{
		Descriptor: "sample",
		RowLabels:  reservoir.MethodShell.RowLabels(),
		Columns: []reservoir.Column{{
			ID:     id,
			Values: []float64{req.CollectionYear, req.Measured.Value, req.Measured.SD},
		}},
	}
	return e.single(ctx, table, BatchRequest{Method: reservoir.MethodShell, Options: req.Options})
}

// EstimatePair runs one paired sample through the batch path
func (e *Estimator) EstimatePair(ctx context.Context, req PairRequest) (*Estimate, error) {
	id := req.ID
	if id == "" {
		id = "pair"
	}
	table := &reservoir.Table{
		Descriptor: "sample",
		RowLabels:  reservoir.MethodPair.RowLabels(),
		Columns: []reservoir.Column{{
			ID:     id,
			Values: []float64{req.TrueAge.Value, req.TrueAge.SD, req.Measured.Value, req.Measured.SD},
		}},
	}
	return e.single(ctx, table, BatchRequest{
		Method:    reservoir.MethodPair,
		Mode:      req.Mode,
		CurveName: req.CurveName,
		Options:   req.Options,
	})
}

func (e *Estimator) single(ctx context.Context, table *reservoir.Table, req BatchRequest) (*Estimate, error) {
	result, err := e.RunBatch(ctx, table, req)
	if err != nil {
		return nil, err
	}
	return &Estimate{
		RunID:      result.RunID,
		ID:         result.Statistics[0].ID,
		Statistics: result.Statistics[0].OffsetStatistics,
		Sample:     result.Draws[0].Sample,
	}, nil
}

// RunBatch estimates every data column of table
func (e *Estimator) RunBatch(ctx context.Context, table *reservoir.Table, req BatchRequest) (*reservoir.BatchResult, error) {
	// options first, so bad input never touches a collaborator
	opts := estimation.BatchOptions{
		Method:     req.Method,
		Iterations: req.Options.Iterations,
		Confidence: req.Options.Confidence,
		Mode:       req.Mode,
		CurveName:  e.resolveCurveName(req.CurveName, req.Mode),
		Seed:       req.Options.Seed,
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	name := req.Options.ReservoirCurve
	if name == "" {
		name = e.cfg.Defaults.ReservoirCurve
	}
	curve, err := e.registry.Curve(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.runner.Run(ctx, table, curve, opts)
}

// RunNamedBatch runs a batch over an example table from the registry
func (e *Estimator) RunNamedBatch(ctx context.Context, tableName string, req BatchRequest) (*reservoir.BatchResult, error) {
	if _, err := reservoir.ParseMethod(string(req.Method)); err != nil {
		return nil, err
	}
	table, err := e.registry.Table(ctx, tableName)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("running batch over table %s", tableName)
	return e.RunBatch(ctx, table, req)
}

// resolveCurveName maps hemisphere aliases to configured curve names. With the curve
// mode and no name, the northern curve is used.
func (e *Estimator) resolveCurveName(name string, mode reservoir.CalibrationMode) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case CurveNorthern, "nh":
		return e.cfg.Northern
	case CurveSouthern, "sh":
		return e.cfg.Southern
	case "":
		if m, err := reservoir.ParseCalibrationMode(string(mode)); err == nil && m == reservoir.ModeCurve {
			return e.cfg.Northern
		}
		return ""
	}
	return name
}

// String describes the estimator configuration for startup logs
func (c EstimatorConfig) String() string {
	return fmt.Sprintf("iterations=%d confidence=%.3f seed=%d reservoir=%s nh=%s sh=%s workers=%d chunk=%d",
		c.Defaults.Iterations, c.Defaults.Confidence, c.Defaults.Seed, c.Defaults.ReservoirCurve,
		c.Northern, c.Southern, c.Workers, c.Sampler.ChunkSize)
}
