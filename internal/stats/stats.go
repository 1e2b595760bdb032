// Package stats holds the statistics primitives used by the insight detectors.
package stats

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Fit is a simple linear regression of a series against its index.
type Fit struct {
	Slope     float64
	Intercept float64
	R2        float64
}

// LinearFit regresses y against 0..n-1. It needs at least two points.
// A constant series has slope 0 and R² 0.
func LinearFit(y []float64) (Fit, bool) {
	if len(y) < 2 {
		return Fit{}, false
	}
	x := Index(len(y))
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	fit := Fit{Slope: beta, Intercept: alpha}
	if PopStdDev(y) > 0 {
		fit.R2 = stat.RSquared(x, y, nil, alpha, beta)
	}
	if math.IsNaN(fit.R2) {
		fit.R2 = 0
	}
	return fit, true
}

// Index returns 0..n-1 as float64.
func Index(n int) []float64 {
	x := make([]float64, n)
	if n >= 2 {
		floats.Span(x, 0, float64(n-1))
	}
	return x
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return stat.Mean(x, nil)
}

// PopStdDev is the population (ddof=0) standard deviation.
func PopStdDev(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sd := stat.PopStdDev(x, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}

// Quantile is the continuous quantile with linear interpolation between
// closest ranks, the definition used by the warehouse's quantile_cont.
func Quantile(p float64, values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := slices.Sorted(slices.Values(values))
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	h := p * float64(len(sorted)-1)
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[i]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// Ranks assigns 1-based ranks, averaging ties.
func Ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case x[a] < x[b]:
			return -1
		case x[a] > x[b]:
			return 1
		}
		return 0
	})
	ranks := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// Spearman is the rank correlation of the pairs where both values are
// present (non-NaN). ok is false with fewer than three complete pairs or
// when either side has no variance.
func Spearman(a, b []float64) (rho float64, ok bool) {
	var xa, xb []float64
	for i := range min(len(a), len(b)) {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		xa = append(xa, a[i])
		xb = append(xb, b[i])
	}
	if len(xa) < 3 {
		return 0, false
	}
	ra, rb := Ranks(xa), Ranks(xb)
	if PopStdDev(ra) == 0 || PopStdDev(rb) == 0 {
		return 0, false
	}
	rho = stat.Correlation(ra, rb, nil)
	if math.IsNaN(rho) {
		return 0, false
	}
	return rho, true
}

// PctChange is (cur-prev)/|prev|. ok is false when prev is zero or NaN.
func PctChange(cur, prev float64) (float64, bool) {
	if prev == 0 || math.IsNaN(prev) || math.IsNaN(cur) {
		return 0, false
	}
	return (cur - prev) / math.Abs(prev), true
}

// DeclineRun counts consecutive decreases ending at the last element.
func DeclineRun(seq []float64) int {
	run := 0
	for i := len(seq) - 1; i > 0; i-- {
		if seq[i]-seq[i-1] >= 0 {
			break
		}
		run++
	}
	return run
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// NaNs returns a series of n missing values.
func NaNs(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
