package estimation

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// exactKSLimit is the sample size below which the exact Kolmogorov distribution is used.
const exactKSLimit = 100

// KSNormalPValue runs a two-sided one-sample Kolmogorov-Smirnov test of an ascending
// sample against Normal(mean, sd) and returns the p-value. Samples smaller than 100
// without ties use the exact distribution of the statistic, larger ones the limiting
// Kolmogorov distribution.
func KSNormalPValue(sorted []float64, mean, sd float64) float64 {
	n := len(sorted)
	d := KSStatistic(sorted, distuv.Normal{Mu: mean, Sigma: sd}.CDF)

	var p float64
	if n < exactKSLimit && !hasTies(sorted) {
		p = 1 - kolmogorovExactCDF(n, d)
	} else {
		p = kolmogorovSurvival(math.Sqrt(float64(n)) * d)
	}
	return math.Min(1, math.Max(0, p))
}

// KSStatistic returns sup |F_n(x) - F(x)| for an ascending sample.
func KSStatistic(sorted []float64, cdf func(float64) float64) float64 {
	n := float64(len(sorted))
	d := 0.0
	for i, x := range sorted {
		f := cdf(x)
		d = math.Max(d, math.Max(float64(i+1)/n-f, f-float64(i)/n))
	}
	return d
}

func hasTies(sorted []float64) bool {
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return true
		}
	}
	return false
}

// kolmogorovSurvival returns P(K > x) for the limiting Kolmogorov distribution.
func kolmogorovSurvival(x float64) float64 {
	if x <= 0 {
		return 1
	}

	const tol = 1e-12
	if x < 1 {
		// theta-function form converges fast for small x
		z := -(math.Pi * math.Pi / 8) / (x * x)
		s := 0.0
		for k := 1; k < 200; k += 2 {
			term := math.Exp(float64(k*k) * z)
			s += term
			if term < tol {
				break
			}
		}
		return 1 - math.Sqrt(2*math.Pi)/x*s
	}

	z := -2 * x * x
	s := 0.0
	sign := 1.0
	for k := 1; k < 200; k++ {
		term := math.Exp(float64(k*k) * z)
		s += sign * term
		if term < tol {
			break
		}
		sign = -sign
	}
	return 2 * s
}

// kolmogorovExactCDF returns P(D_n < d) following Marsaglia, Tsang & Wang (2003),
// "Evaluating Kolmogorov's distribution", J. Stat. Software 8(18).
func kolmogorovExactCDF(n int, d float64) float64 {
	if d <= 0 {
		return 0
	}
	if d >= 1 {
		return 1
	}

	nd := float64(n) * d
	k := int(nd) + 1
	m := 2*k - 1
	h := float64(k) - nd

	H := mat.NewDense(m, m, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			if i-j+1 >= 0 {
				H.Set(i, j, 1)
			}
		}
	}
	for i := 0; i < m; i++ {
		H.Set(i, 0, H.At(i, 0)-math.Pow(h, float64(i+1)))
		H.Set(m-1, i, H.At(m-1, i)-math.Pow(h, float64(m-i)))
	}
	if 2*h-1 > 0 {
		H.Set(m-1, 0, H.At(m-1, 0)+math.Pow(2*h-1, float64(m)))
	}
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			if i-j+1 > 0 {
				v := H.At(i, j)
				for g := 2; g <= i-j+1; g++ {
					v /= float64(g)
				}
				H.Set(i, j, v)
			}
		}
	}

	Q, eQ := matrixPower(H, 0, n)
	s := Q.At(k-1, k-1)
	for i := 1; i <= n; i++ {
		s = s * float64(i) / float64(n)
		if s < 1e-140 {
			s *= 1e140
			eQ -= 140
		}
	}
	return s * math.Pow(10, float64(eQ))
}

// matrixPower raises a to the n-th power, carrying a base-10 exponent to avoid overflow.
func matrixPower(a *mat.Dense, ea, n int) (*mat.Dense, int) {
	if n == 1 {
		return mat.DenseCopyOf(a), ea
	}

	v, ev := matrixPower(a, ea, n/2)
	var b mat.Dense
	b.Mul(v, v)
	eb := 2 * ev

	out := &mat.Dense{}
	eOut := eb
	if n%2 == 0 {
		out = &b
	} else {
		out.Mul(a, &b)
		eOut = ea + eb
	}

	m, _ := out.Dims()
	if out.At(m/2, m/2) > 1e140 {
		out.Scale(1e-140, out)
		eOut += 140
	}
	return out, eOut
}
