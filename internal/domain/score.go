package domain

import (
	"math"
	"sort"
)

// Percentile returns the p-th quantile (p in [0,1]) of values using linear
// interpolation between closest ranks: for sorted v[0..n-1],
// k = (n-1)·p, result = v[⌊k⌋]·(⌈k⌉−k) + v[⌈k⌉]·(k−⌊k⌋).
// The second return is false for an empty input: the percentile of nothing
// is undefined, not zero. The input slice is not modified.
func Percentile(values []float64, p float64) (float64, bool) {
	n := len(values)
	if n == 0 {
		return 0, false
	}
	if n == 1 {
		return values[0], true
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	k := float64(n-1) * p
	floor := int(math.Floor(k))
	ceil := floor + 1
	if ceil > n-1 {
		ceil = n - 1
	}
	if floor == ceil {
		return sorted[floor], true
	}
	return sorted[floor]*(float64(ceil)-k) + sorted[ceil]*(k-float64(floor)), true
}

// Hourly smoothness scoring weights. The median term dominates so
// typical-condition perception drives the score; the p95−p50 spread term
// penalizes volatility the median hides.
const (
	scoreMedianWeight = 45.0
	scoreSpreadWeight = 30.0
)

// ComputeScore maps an hour's roughness distribution to a smoothness score
// in [0,100]; higher is smoother.
func ComputeScore(r50, r95 float64) float64 {
	penalty := scoreMedianWeight*r50 + scoreSpreadWeight*math.Max(0, r95-r50)
	return 100.0 - clamp(penalty, 0, 100)
}

// ComputeConfidence combines sample count and mean per-sample quality into a
// [0,1] trust measure. The logistic ramp is centered at n=8 (≈0.5 there,
// approaching 1 as samples grow), multiplied by data quality so many
// low-quality samples still report moderate confidence while a few
// high-quality samples report low confidence.
func ComputeConfidence(n int, avgQuality float64) float64 {
	nTerm := 1.0 / (1.0 + math.Exp(-0.25*(float64(n)-8)))
	return clamp(nTerm, 0, 1) * clamp(avgQuality, 0, 1)
}

// Rolling-window scoring constants. Window scores invert the hourly
// convention: higher means rougher.
const (
	shockP95Cap          = 20.0
	shockWeight          = 2.5
	confidencePenaltyRef = 0.9
	confidencePenaltyMul = 0.25
)

// WindowScore blends mean roughness with the capped 95th-percentile shock
// count, then inflates the result modestly when mean confidence falls below
// 0.9, reflecting uncertainty rather than masking it.
func WindowScore(roughMean, shockP95, confMean float64) float64 {
	score := roughMean*100.0 + math.Min(shockP95, shockP95Cap)*shockWeight
	return score * (1.0 + math.Max(0, confidencePenaltyRef-confMean)*confidencePenaltyMul)
}

// NeutralQualityPrior is the avg_quality used when no row in an hour carries
// a confidence value: a documented neutral prior, not a hidden zero.
const NeutralQualityPrior = 0.7

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
