package estimation

import (
	"math/rand/v2"

	"deltar/ports"
)

// chunkStride spreads chunk indices across the PCG stream space.
const chunkStride = 0x9e3779b97f4a7c15

// PCGStreams derives independent PCG streams from a base seed, an operation name and a
// chunk index.
type PCGStreams struct{}

var _ ports.RNGPort = PCGStreams{}

// NewPCGStreams returns the default stream factory
func NewPCGStreams() PCGStreams {
	return PCGStreams{}
}

// SeededStream creates a deterministic source for a named operation
func (PCGStreams) SeededStream(name string, seed uint64) rand.Source {
	return rand.NewPCG(seed^hashString(name), 0)
}

// Stream creates the source for one chunk of a named operation
func (PCGStreams) Stream(name string, chunk int, seed uint64) rand.Source {
	return rand.NewPCG(seed^hashString(name), uint64(chunk+1)*chunkStride)
}

// hashString mixes a name into a seed (djb2, widened to 64 bits)
func hashString(s string) uint64 {
	var hash uint64 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint64(c)
	}
	return hash
}
