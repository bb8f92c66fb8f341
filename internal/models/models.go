package models

import (
	"fmt"
	"time"
)

// Parameter names a measured water-quality parameter
type Parameter string

const (
	ParamDO           Parameter = "DO"
	ParamPH           Parameter = "pH"
	ParamBOD          Parameter = "BOD"
	ParamFC           Parameter = "FC"
	ParamTemperature  Parameter = "temperature"
	ParamTurbidity    Parameter = "turbidity"
	ParamConductivity Parameter = "conductivity"
	ParamTDS          Parameter = "TDS"
	ParamNitrate      Parameter = "nitrate"
)

// CoreParameters are the parameters the composite index is computed from
var CoreParameters = []Parameter{ParamDO, ParamFC, ParamPH, ParamBOD}

// Quality is the three-tier quality score of a reading
type Quality string

const (
	QualityGood    Quality = "good"
	QualitySuspect Quality = "suspect"
	QualityBad     Quality = "bad"
)

// Station is a monitored entity. Stations are deactivated, never deleted.
type Station struct {
	ID        string  `json:"id" yaml:"id"`
	Name      string  `json:"name" yaml:"name"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Basin     string  `json:"basin,omitempty" yaml:"basin"`
	Type      string  `json:"type,omitempty" yaml:"type"`
	Active    bool    `json:"active" yaml:"active"`
}

// Reading is one candidate or accepted observation for a station
type Reading struct {
	StationID  string                `json:"station_id"`
	Timestamp  time.Time             `json:"timestamp"`
	Values     map[Parameter]float64 `json:"values"`
	Source     string                `json:"source"`
	Quality    Quality               `json:"quality,omitempty"`
	Confidence float64               `json:"confidence"`
}

// Value returns the value of p and whether it is present
func (r Reading) Value(p Parameter) (float64, bool) {
	v, ok := r.Values[p]
	return v, ok
}

// Clone returns a copy that does not share the value map
func (r Reading) Clone() Reading {
	out := r
	out.Values = make(map[Parameter]float64, len(r.Values))
	for k, v := range r.Values {
		out.Values[k] = v
	}
	return out
}

// Index is the composite water quality index derived from a set of values
type Index struct {
	Value          float64               `json:"value"`
	Classification string                `json:"classification"`
	Class          string                `json:"class"`
	SubIndices     map[Parameter]float64 `json:"sub_indices,omitempty"`
	Partial        bool                  `json:"partial,omitempty"`
}

// ForecastPoint is the projection for one station at one horizon
type ForecastPoint struct {
	StationID   string                `json:"station_id"`
	HorizonDays int                   `json:"horizon_days"`
	TargetDate  time.Time             `json:"target_date"`
	Values      map[Parameter]float64 `json:"values"`
	Confidence  float64               `json:"confidence"`
	Index       Index                 `json:"index"`
}

// TrendDirection is the classified direction of a projected change
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// TrendSummary describes the projected change of one parameter
type TrendSummary struct {
	StationID     string         `json:"station_id"`
	Parameter     Parameter      `json:"parameter"`
	Direction     TrendDirection `json:"direction"`
	ChangePercent float64        `json:"change_percent"`
	LookbackDays  int            `json:"lookback_days"`
}

// Forecast groups every point and trend produced by one forecast cycle
type Forecast struct {
	StationID   string          `json:"station_id"`
	BaselineAt  time.Time       `json:"baseline_at"`
	GeneratedAt time.Time       `json:"generated_at"`
	Points      []ForecastPoint `json:"points"`
	Trends      []TrendSummary  `json:"trends"`
}

// Severity of an alert
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityInfo     Severity = "info"
)

// Origin says which event produced an alert
type Origin string

const (
	OriginReading  Origin = "reading"
	OriginForecast Origin = "forecast"
	OriginDrift    Origin = "drift"
)

// Alert represents a threshold violation or drift anomaly
type Alert struct {
	ID          int64     `json:"id,omitempty"`
	StationID   string    `json:"station_id"`
	Parameter   Parameter `json:"parameter"`
	Severity    Severity  `json:"severity"`
	Threshold   float64   `json:"threshold"`
	Operator    string    `json:"operator"` // "<", ">"
	Value       float64   `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
	Origin      Origin    `json:"origin"`
	HorizonDays int       `json:"horizon_days,omitempty"`
	Message     string    `json:"message"`
}

// DedupKey identifies alerts that suppress each other within a cooldown
func (a Alert) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s", a.StationID, a.Parameter, a.Severity)
}

// ReadingUpdate is the payload pushed to subscribers for an accepted reading
type ReadingUpdate struct {
	Reading Reading `json:"reading"`
	Index   Index   `json:"index"`
}
