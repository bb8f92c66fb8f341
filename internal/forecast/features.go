package forecast

import (
	"math"
	"time"

	"riverwatch/internal/models"
)

// Season codes used as a model feature
const (
	SeasonMonsoon     = 0
	SeasonSummer      = 1
	SeasonWinter      = 2
	SeasonPostMonsoon = 3
)

// ModelInputs are the station values every regressor sees, in vector order
// after the target parameter's own value.
var ModelInputs = [inputCount]models.Parameter{
	models.ParamDO,
	models.ParamPH,
	models.ParamBOD,
	models.ParamFC,
	models.ParamTemperature,
	models.ParamTurbidity,
}

// inputFill stands in for a model input the baseline does not carry
var inputFill = map[models.Parameter]float64{
	models.ParamDO:          7,
	models.ParamPH:          7.5,
	models.ParamBOD:         3,
	models.ParamFC:          500,
	models.ParamTemperature: 25,
	models.ParamTurbidity:   10,
}

const (
	featCurrent = 0
	featInputs  = 1
	inputCount  = 6
)

// time features follow the inputs
const (
	featBaselineSin = featInputs + inputCount + iota
	featBaselineCos
	featTargetSin
	featTargetCos
	featSeason
	featHorizon
	// FeatureCount is the length of every feature vector
	FeatureCount
)

// Season maps a date onto the monsoon calendar
func Season(t time.Time) int {
	switch t.Month() {
	case time.June, time.July, time.August, time.September:
		return SeasonMonsoon
	case time.March, time.April, time.May:
		return SeasonSummer
	case time.October:
		return SeasonPostMonsoon
	default:
		return SeasonWinter
	}
}

func dayOfYearEncoding(t time.Time) (float64, float64) {
	angle := 2 * math.Pi * float64(t.YearDay()) / 365.25
	return math.Sin(angle), math.Cos(angle)
}

// Features builds the model input for one target parameter and horizon:
// the target's current value, every ModelInputs value, then the time encoding.
func Features(target models.Parameter, values map[models.Parameter]float64, baseline time.Time, horizonDays int) []float64 {
	targetAt := baseline.AddDate(0, 0, horizonDays)
	bs, bc := dayOfYearEncoding(baseline)
	ts, tc := dayOfYearEncoding(targetAt)

	f := make([]float64, FeatureCount)
	f[featCurrent] = inputValue(values, target)
	for i, p := range ModelInputs {
		f[featInputs+i] = inputValue(values, p)
	}
	f[featBaselineSin] = bs
	f[featBaselineCos] = bc
	f[featTargetSin] = ts
	f[featTargetCos] = tc
	f[featSeason] = float64(Season(targetAt))
	f[featHorizon] = float64(horizonDays)
	return f
}

func inputValue(values map[models.Parameter]float64, p models.Parameter) float64 {
	if v, ok := values[p]; ok {
		return v
	}
	return inputFill[p]
}
