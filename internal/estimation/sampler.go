package estimation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"deltar/domain/reservoir"
	"deltar/ports"
)

// SamplerConfig controls how Monte Carlo iterations are spread over goroutines
type SamplerConfig struct {
	// Workers bounds the number of chunks drawn concurrently
	Workers int
	// ChunkSize is the number of iterations drawn from one random stream
	ChunkSize int
}

// DefaultSamplerConfig returns one worker per CPU and 4096-iteration chunks
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Workers:   runtime.GOMAXPROCS(0),
		ChunkSize: 4096,
	}
}

// SampleRequest describes one offset sampling run
type SampleRequest struct {
	// Name identifies the run in the random stream derivation, usually the column id
	Name       string
	Measured   reservoir.DatedMeasurement
	Source     reservoir.AgeSource
	Curve      *reservoir.CalibrationTable
	Iterations int
	Seed       uint64
}

// Sampler draws offset samples: measured marine age minus modeled marine age at a
// randomly drawn calendar age
type Sampler struct {
	cfg SamplerConfig
	rng ports.RNGPort
}

// NewSampler creates a sampler. A nil rng uses PCG streams.
func NewSampler(cfg SamplerConfig, rng ports.RNGPort) *Sampler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultSamplerConfig().ChunkSize
	}
	if rng == nil {
		rng = NewPCGStreams()
	}
	return &Sampler{cfg: cfg, rng: rng}
}

// Sample returns exactly req.Iterations independent offset draws. All inputs are
// validated before the first draw. Each chunk of iterations uses its own stream, so the
// result depends only on the request, not on scheduling.
func (s *Sampler) Sample(ctx context.Context, req SampleRequest) (reservoir.OffsetSample, error) {
	if req.Iterations < 1 {
		return nil, fmt.Errorf("%w: got %d", reservoir.ErrInvalidIterations, req.Iterations)
	}
	if err := req.Measured.Validate(); err != nil {
		return nil, fmt.Errorf("measured age: %w", err)
	}
	if err := req.Source.Validate(); err != nil {
		return nil, err
	}
	if req.Curve == nil || req.Curve.Len() == 0 {
		return nil, reservoir.ErrEmptyCurve
	}

	var choice *WeightedChoice
	if req.Source.Grid != nil {
		var err error
		if choice, err = NewWeightedChoice(*req.Source.Grid); err != nil {
			return nil, err
		}
	}

	out := make(reservoir.OffsetSample, req.Iterations)
	chunks := (req.Iterations + s.cfg.ChunkSize - 1) / s.cfg.ChunkSize

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for c := 0; c < chunks; c++ {
		lo := c * s.cfg.ChunkSize
		hi := min(lo+s.cfg.ChunkSize, req.Iterations)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			draw(out[lo:hi], s.rng.Stream(req.Name, c, req.Seed), choice, req)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// draw fills dst with offset realizations from a single stream
func draw(dst []float64, src rand.Source, choice *WeightedChoice, req SampleRequest) {
	uniform := rand.New(src)
	measured := distuv.Normal{Mu: req.Measured.Value, Sigma: req.Measured.SD, Src: src}
	var calendar distuv.Normal
	if req.Source.Normal != nil {
		calendar = distuv.Normal{Mu: req.Source.Normal.Mean, Sigma: req.Source.Normal.SD, Src: src}
	}

	for i := range dst {
		var year float64
		if choice != nil {
			year = choice.Pick(uniform.Float64())
		} else {
			year = calendar.Rand()
		}

		age, ageSD := req.Curve.LookupNearest(year)
		modeled := distuv.Normal{Mu: age, Sigma: ageSD, Src: src}.Rand()
		dst[i] = measured.Rand() - modeled
	}
}
