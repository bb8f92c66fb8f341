package wqi

import (
	"math"

	"riverwatch/internal/models"
)

// Weights of the core parameters in the composite index. They sum to 1.0.
var Weights = map[models.Parameter]float64{
	models.ParamDO:  0.31,
	models.ParamFC:  0.28,
	models.ParamPH:  0.22,
	models.ParamBOD: 0.19,
}

// doSaturation is the dissolved oxygen saturation (mg/L) at 20 °C used by the DO curve
const doSaturation = 6.5

// ComputeIndex derives the composite water quality index from a set of
// parameter values. It is pure: identical inputs always give identical output.
//
// When some core parameters are missing the weights of the present ones are
// renormalized and the result is marked Partial. With no core parameter at
// all the index is zero and classified Unknown.
func ComputeIndex(values map[models.Parameter]float64) models.Index {
	sub := make(map[models.Parameter]float64, len(models.CoreParameters))
	var weighted, totalWeight float64

	// fixed iteration order keeps the floating point sum bit-for-bit stable
	for _, p := range models.CoreParameters {
		v, ok := values[p]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}

		var si float64
		switch p {
		case models.ParamDO:
			temp, hasTemp := values[models.ParamTemperature]
			si = DOSubIndex(v, temp, hasTemp)
		case models.ParamFC:
			si = FCSubIndex(v)
		case models.ParamPH:
			si = PHSubIndex(v)
		case models.ParamBOD:
			si = BODSubIndex(v)
		}

		sub[p] = si
		weighted += si * Weights[p]
		totalWeight += Weights[p]
	}

	if totalWeight == 0 {
		return models.Index{Classification: "Unknown", Class: "-"}
	}

	value := weighted
	partial := len(sub) < len(models.CoreParameters)
	if partial {
		value = weighted / totalWeight
	}
	value = clamp(value, 0, 100)

	label, class := Classify(value)
	return models.Index{
		Value:          value,
		Classification: label,
		Class:          class,
		SubIndices:     sub,
		Partial:        partial,
	}
}

// Classify maps an index value onto its label and water class
func Classify(value float64) (string, string) {
	switch {
	case value >= 90:
		return "Excellent", "A"
	case value >= 70:
		return "Good", "B"
	case value >= 50:
		return "Medium", "C"
	case value >= 25:
		return "Bad", "D"
	default:
		return "Very Bad", "E"
	}
}

// DOSubIndex scores dissolved oxygen (mg/L) by percent saturation.
// If a water temperature is known the saturation constant is corrected for it.
func DOSubIndex(do, temperature float64, hasTemperature bool) float64 {
	saturation := doSaturation
	if hasTemperature {
		saturation = clamp(doSaturation*(1-(temperature-20)*0.015), 4, 9)
	}
	x := do / saturation * 100

	var si float64
	switch {
	case x <= 40:
		si = 0.18 + 0.66*x
	case x <= 100:
		si = -13.55 + 1.17*x
	case x <= 140:
		si = 163.34 - 0.62*x
	default:
		si = 50
	}
	return clamp(si, 0, 100)
}

// FCSubIndex scores fecal coliform (MPN/100 mL)
func FCSubIndex(fc float64) float64 {
	var si float64
	switch {
	case fc < 1:
		si = 97
	case fc <= 1e3:
		si = 97.2 - 26.6*math.Log10(fc)
	case fc <= 1e5:
		si = 42.33 - 7.75*math.Log10(fc)
	default:
		si = 2
	}
	return clamp(si, 0, 100)
}

// PHSubIndex scores pH
func PHSubIndex(ph float64) float64 {
	var si float64
	switch {
	case ph >= 2 && ph < 5:
		si = 16.1 + 7.35*ph
	case ph >= 5 && ph < 7.3:
		si = -142.67 + 33.5*ph
	case ph >= 7.3 && ph < 10:
		si = 316.96 - 29.85*ph
	case ph >= 10 && ph <= 12:
		si = 96.17 - 8*ph
	default:
		si = 0
	}
	return clamp(si, 0, 100)
}

// BODSubIndex scores biochemical oxygen demand (mg/L)
func BODSubIndex(bod float64) float64 {
	var si float64
	switch {
	case bod >= 0 && bod <= 10:
		si = 96.67 - 7*bod
	case bod > 10 && bod <= 30:
		si = 38.9 - 1.23*bod
	default:
		si = 2
	}
	return clamp(si, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
