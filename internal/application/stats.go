package application

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// percentile returns the p-th percentile (0-100) of values using linear
// interpolation between closest ranks. Values need not be sorted. An empty
// input returns 0.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	p = math.Max(0, math.Min(100, p))
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))

	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func median(values []float64) float64 {
	return percentile(values, 50)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// pctChange returns (current - reference) / reference * 100, and false when
// reference is zero.
func pctChange(current, reference float64) (float64, bool) {
	if reference == 0 {
		return 0, false
	}
	return (current - reference) / reference * 100, true
}
