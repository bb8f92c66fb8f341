package forecast

import (
	"errors"
	"fmt"
	"math"

	"riverwatch/internal/models"
)

// ErrModel marks a prediction that failed for one parameter
var ErrModel = errors.New("forecast model error")

// Regressor predicts one parameter value from a feature vector.
// Implementations must be safe for concurrent use.
type Regressor interface {
	Predict(features []float64) (float64, error)
}

// LinearModel is an intercept plus one coefficient per feature
type LinearModel struct {
	Intercept    float64
	Coefficients []float64
}

func (m LinearModel) Predict(features []float64) (float64, error) {
	if len(features) != len(m.Coefficients) {
		return 0, fmt.Errorf("%w: expected %d features, got %d", ErrModel, len(m.Coefficients), len(features))
	}
	y := m.Intercept
	for i, c := range m.Coefficients {
		y += c * features[i]
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("%w: non-finite prediction", ErrModel)
	}
	return y, nil
}

// Persistence predicts the current value unchanged
type Persistence struct{}

func (Persistence) Predict(features []float64) (float64, error) {
	if len(features) == 0 {
		return 0, fmt.Errorf("%w: empty feature vector", ErrModel)
	}
	return features[featCurrent], nil
}

// linear assembles a LinearModel over the Features layout from the target's
// own weight, weights on other station inputs and the six time-feature weights.
func linear(intercept, self float64, cross map[models.Parameter]float64, timeWeights [6]float64) LinearModel {
	c := make([]float64, FeatureCount)
	c[featCurrent] = self
	for i, p := range ModelInputs {
		c[featInputs+i] = cross[p]
	}
	copy(c[featBaselineSin:], timeWeights[:])
	return LinearModel{Intercept: intercept, Coefficients: c}
}

// DefaultModels are shipped coefficients for the index parameters. Each model
// weighs the inputs the parameter co-varies with (DO on temperature, BOD and
// turbidity; pH on BOD, DO and temperature; BOD on DO, temperature and
// turbidity; FC on temperature, turbidity and BOD).
func DefaultModels() map[models.Parameter]Regressor {
	return map[models.Parameter]Regressor{
		models.ParamDO: linear(1.62, 0.9, map[models.Parameter]float64{
			models.ParamTemperature: -0.03,
			models.ParamBOD:         -0.04,
			models.ParamTurbidity:   -0.005,
		}, [6]float64{-0.15, 0.25, 0.15, -0.25, 0.05, -0.002}),
		models.ParamPH: linear(0.61, 0.92, map[models.Parameter]float64{
			models.ParamBOD:         -0.01,
			models.ParamDO:          0.01,
			models.ParamTemperature: -0.002,
		}, [6]float64{0, 0, 0, 0, 0.01, 0}),
		models.ParamBOD: linear(0.16, 0.9, map[models.Parameter]float64{
			models.ParamDO:          -0.03,
			models.ParamTemperature: 0.01,
			models.ParamTurbidity:   0.01,
		}, [6]float64{0.1, -0.2, -0.1, 0.2, -0.05, 0.001}),
		models.ParamFC: linear(-55, 0.95, map[models.Parameter]float64{
			models.ParamTemperature: 2,
			models.ParamTurbidity:   1.5,
			models.ParamBOD:         5,
		}, [6]float64{40, -60, -40, 60, -15, 0.2}),
		models.ParamTemperature: linear(0, 1, nil, [6]float64{4, -3, -4, 3, 0, 0}),
	}
}

// BuildModels merges configured models over the defaults. Keys are parameter
// names; every configured model needs FeatureCount coefficients.
func BuildModels(configured map[string]LinearModel) (map[models.Parameter]Regressor, error) {
	out := DefaultModels()
	for name, m := range configured {
		if len(m.Coefficients) != FeatureCount {
			return nil, fmt.Errorf("model %s: expected %d coefficients, got %d", name, FeatureCount, len(m.Coefficients))
		}
		out[models.Parameter(name)] = m
	}
	return out, nil
}
