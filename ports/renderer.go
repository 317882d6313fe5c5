package ports

import (
	"deltar/domain/reservoir"
)

// Renderer is the visualization sink. It consumes results and never mutates them.
type Renderer interface {
	// ErrorBars renders per-column medians and intervals ordered by median
	ErrorBars(result *reservoir.BatchResult) (string, error)

	// Densities renders overlaid density curves of every column's offset draws
	Densities(result *reservoir.BatchResult) (string, error)

	// Histogram renders one offset sample with its fitted normal overlay
	Histogram(id string, sample reservoir.OffsetSample, stats reservoir.OffsetStatistics) (string, error)
}
