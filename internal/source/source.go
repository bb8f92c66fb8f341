package source

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"riverwatch/internal/models"
)

// ErrUnavailable means the source has no usable reading right now
var ErrUnavailable = errors.New("source unavailable")

// Adapter is one data source in the priority chain
type Adapter interface {
	Name() string
	// Priority ranks the adapter; 1 is tried first
	Priority() int
	// StalenessBound is the maximum age at which the adapter's data is still usable
	StalenessBound() time.Duration
	// LatencyBudget bounds a single FetchLatest call
	LatencyBudget() time.Duration
	FetchLatest(ctx context.Context, stationID string) (models.Reading, error)
}

// Descriptor carries the static properties every adapter declares
type Descriptor struct {
	AdapterName string
	Rank        int
	Staleness   time.Duration
	Budget      time.Duration
}

func (d Descriptor) Name() string                  { return d.AdapterName }
func (d Descriptor) Priority() int                 { return d.Rank }
func (d Descriptor) StalenessBound() time.Duration { return d.Staleness }
func (d Descriptor) LatencyBudget() time.Duration  { return d.Budget }

// Chain returns the adapters ordered by priority. Adapters with equal rank keep their given order.
func Chain(adapters ...Adapter) []Adapter {
	out := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		if a != nil {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() < out[j].Priority()
	})
	return out
}

var parameterAliases = map[string]models.Parameter{
	"do":                models.ParamDO,
	"dissolved_oxygen":  models.ParamDO,
	"ph":                models.ParamPH,
	"bod":               models.ParamBOD,
	"fc":                models.ParamFC,
	"fecal_coliform":    models.ParamFC,
	"temperature":       models.ParamTemperature,
	"water_temperature": models.ParamTemperature,
	"turbidity":         models.ParamTurbidity,
	"conductivity":      models.ParamConductivity,
	"tds":               models.ParamTDS,
	"nitrate":           models.ParamNitrate,
}

// NormalizeParameter maps the names used by external feeds onto Parameter values.
// Unknown names are passed through as-is.
func NormalizeParameter(name string) models.Parameter {
	key := strings.ToLower(strings.TrimSpace(name))
	if p, ok := parameterAliases[key]; ok {
		return p
	}
	return models.Parameter(key)
}

func normalizeValues(in map[string]float64) map[models.Parameter]float64 {
	out := make(map[models.Parameter]float64, len(in))
	for k, v := range in {
		out[NormalizeParameter(k)] = v
	}
	return out
}
