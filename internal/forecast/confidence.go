package forecast

import (
	"math"
	"sort"
)

// ConfidencePolicy maps a horizon in days to a confidence in [0, 1]
type ConfidencePolicy func(horizonDays int) float64

// Band applies Confidence to horizons up to MaxHorizon days. A zero MaxHorizon matches any horizon.
type Band struct {
	MaxHorizon int
	Confidence float64
}

// StepConfidence returns the confidence of the first band covering the horizon
func StepConfidence(bands []Band) ConfidencePolicy {
	sorted := make([]Band, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].MaxHorizon, sorted[j].MaxHorizon
		if a == 0 || b == 0 {
			return b == 0 && a != 0
		}
		return a < b
	})

	return func(h int) float64 {
		for _, b := range sorted {
			if b.MaxHorizon == 0 || h <= b.MaxHorizon {
				return b.Confidence
			}
		}
		return 0
	}
}

// DefaultBands are the 7/30/90-day confidence steps
var DefaultBands = []Band{
	{MaxHorizon: 7, Confidence: 0.85},
	{MaxHorizon: 30, Confidence: 0.75},
	{MaxHorizon: 0, Confidence: 0.65},
}

// ExponentialDecay halves confidence every halfLifeDays, starting from initial at horizon zero
func ExponentialDecay(initial, halfLifeDays float64) ConfidencePolicy {
	return func(h int) float64 {
		if halfLifeDays <= 0 {
			return initial
		}
		return initial * math.Pow(0.5, float64(h)/halfLifeDays)
	}
}

// confidences evaluates policy over ascending horizons and clamps the
// sequence to [0, 1] and non-increasing.
func confidences(policy ConfidencePolicy, horizons []int) []float64 {
	out := make([]float64, len(horizons))
	prev := 1.0
	for i, h := range horizons {
		c := math.Max(0, math.Min(1, policy(h)))
		if c > prev {
			c = prev
		}
		out[i] = c
		prev = c
	}
	return out
}
