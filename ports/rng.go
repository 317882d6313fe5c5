package ports

import (
	"math/rand/v2"
)

// RNGPort provides seeded random streams for deterministic Monte Carlo runs
type RNGPort interface {
	// SeededStream creates a deterministic source for a named operation
	SeededStream(name string, seed uint64) rand.Source

	// Stream creates an independent deterministic source for one chunk of a named operation.
	// The same (name, chunk, seed) always yields the same stream, whichever goroutine asks.
	Stream(name string, chunk int, seed uint64) rand.Source
}
