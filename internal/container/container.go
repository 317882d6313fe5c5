package container

import (
	"context"
	"fmt"

	"deltar/adapters/calibration"
	"deltar/adapters/curvestore"
	"deltar/adapters/tables"
	"deltar/app"
	"deltar/internal"
	"deltar/internal/config"
	"deltar/internal/estimation"
	"deltar/ports"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Reference data
	Files *tables.Directory
	Store *curvestore.Store // nil unless curves come from the SQL store

	// Estimation components
	Registry  *app.Registry
	Convolver *calibration.Convolver
	Estimator *app.Estimator
}

// New creates a new dependency injection container
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	logger := internal.DefaultLogger
	if level, ok := internal.ParseLogLevel(cfg.LogLevel); ok {
		logger = internal.NewLogger(level)
	}

	return &Container{
		Config: cfg,
		Logger: logger,
	}, nil
}

// Init wires curves, tables and the estimator. With the store curve source it connects to
// the database and brings its schema up to date.
func (c *Container) Init(ctx context.Context) error {
	c.Files = tables.NewDirectory(c.Config.Curves.Dir, c.Config.Curves.TablesDir, c.Logger)

	var curves ports.CurveProvider = c.Files
	if c.Config.Curves.Source == config.SourceStore {
		if err := c.initStore(ctx); err != nil {
			return fmt.Errorf("failed to initialize curve store: %w", err)
		}
		curves = c.Store
	}

	c.Registry = app.NewRegistry(curves, c.Files, c.Logger)
	c.initEstimator()

	c.Logger.Info("container initialized: curves from %s", c.Config.Curves.Source)
	return nil
}

func (c *Container) initStore(ctx context.Context) error {
	store, err := curvestore.Open(c.Config.Store.Driver, c.Config.Store.DSN, c.Logger)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return err
	}
	c.Store = store
	return nil
}

func (c *Container) initEstimator() {
	floor := c.Config.Curves.ProbabilityFloor
	if floor == 0 {
		floor = calibration.DefaultProbabilityFloor
	}
	c.Convolver = calibration.NewConvolver(c.Registry, floor, c.Logger)

	sampling := c.Config.Sampling
	sampler := estimation.DefaultSamplerConfig()
	if sampling.Workers > 0 {
		sampler.Workers = sampling.Workers
	}
	if sampling.ChunkSize > 0 {
		sampler.ChunkSize = sampling.ChunkSize
	}

	estimatorConfig := app.EstimatorConfig{
		Sampler: sampler,
		Workers: sampling.Workers,
		Defaults: app.Options{
			Iterations:     sampling.Iterations,
			Confidence:     sampling.Confidence,
			Seed:           sampling.Seed,
			ReservoirCurve: c.Config.Curves.Reservoir,
		},
		Northern: c.Config.Curves.Northern,
		Southern: c.Config.Curves.Southern,
	}
	c.Estimator = app.NewEstimator(c.Registry, c.Convolver, nil, estimatorConfig, c.Logger)
	c.Logger.Debug("estimator configured: %s", estimatorConfig)
}

// Shutdown gracefully shuts down all components
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Store != nil {
		return c.Store.Close()
	}
	return nil
}
