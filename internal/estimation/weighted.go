package estimation

import (
	"sort"

	"deltar/domain/reservoir"
)

// WeightedChoice draws calendar years from an AgeGrid with replacement. It keeps only
// the years with positive mass and their cumulative weights, so a year with zero weight
// can never be selected. It holds no random state and is safe for concurrent use.
type WeightedChoice struct {
	years      []float64
	cumulative []float64
}

// NewWeightedChoice builds the cumulative table for a validated grid
func NewWeightedChoice(grid reservoir.AgeGrid) (*WeightedChoice, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}

	wc := &WeightedChoice{
		years:      make([]float64, 0, len(grid.Years)),
		cumulative: make([]float64, 0, len(grid.Years)),
	}
	total := 0.0
	for i, w := range grid.Weights {
		if w <= 0 {
			continue
		}
		total += w
		wc.years = append(wc.years, grid.Years[i])
		wc.cumulative = append(wc.cumulative, total)
	}
	return wc, nil
}

// Len returns the number of selectable years
func (wc *WeightedChoice) Len() int {
	return len(wc.years)
}

// Pick maps a uniform draw u in [0,1) to a calendar year.
func (wc *WeightedChoice) Pick(u float64) float64 {
	target := u * wc.cumulative[len(wc.cumulative)-1]
	i := sort.Search(len(wc.cumulative), func(i int) bool {
		return wc.cumulative[i] > target
	})
	if i == len(wc.cumulative) {
		// rounding at the top end
		i--
	}
	return wc.years[i]
}
