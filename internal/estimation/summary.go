package estimation

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"deltar/domain/reservoir"
)

// Summarize reduces an offset sample to its point estimates, a two-sided credible
// interval at the given confidence level and the KS normality p-value.
func Summarize(sample reservoir.OffsetSample, confidence float64) (reservoir.OffsetStatistics, error) {
	var out reservoir.OffsetStatistics

	if err := reservoir.ValidateConfidence(confidence); err != nil {
		return out, err
	}
	if len(sample) < 2 {
		return out, fmt.Errorf("%w: %d draws, need at least 2", reservoir.ErrDegenerateSample, len(sample))
	}
	for i, v := range sample {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return out, fmt.Errorf("%w: draw %d is %v", reservoir.ErrComputation, i, v)
		}
	}

	mean, err := stats.Mean(stats.Float64Data(sample))
	if err != nil {
		return out, fmt.Errorf("%w: mean: %v", reservoir.ErrComputation, err)
	}
	sd, err := stats.StandardDeviationSample(stats.Float64Data(sample))
	if err != nil {
		return out, fmt.Errorf("%w: standard deviation: %v", reservoir.ErrComputation, err)
	}
	if sd == 0 || math.IsNaN(sd) {
		return out, fmt.Errorf("%w: all %d draws are identical", reservoir.ErrDegenerateSample, len(sample))
	}

	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)

	alpha := (1 - confidence) / 2
	out.Mean = mean
	out.SD = sd
	out.Median = Quantile(sorted, 0.5)
	out.CILow = Quantile(sorted, alpha)
	out.CIHigh = Quantile(sorted, 1-alpha)
	out.PValue = KSNormalPValue(sorted, mean, sd)

	return out, nil
}

// Quantile returns the p-quantile of an ascending sample by linear interpolation between
// order statistics at position (n-1)p (Hyndman & Fan type 7).
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	h := float64(n-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= n {
		return sorted[n-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}
