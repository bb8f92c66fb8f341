package detector

import (
	"fmt"
	"sort"

	"riverwatch/internal/config"
	"riverwatch/internal/models"
)

// Rule is a warning/critical threshold pair for one parameter
type Rule struct {
	Parameter models.Parameter
	Operator  string // "<" or ">"
	Warning   float64
	Critical  float64
}

func (r Rule) crosses(value, level float64) bool {
	if r.Operator == "<" {
		return value < level
	}
	return value > level
}

// evaluate returns the severity and the crossed level, critical beating high
func (r Rule) evaluate(value float64) (models.Severity, float64, bool) {
	switch {
	case r.crosses(value, r.Critical):
		return models.SeverityCritical, r.Critical, true
	case r.crosses(value, r.Warning):
		return models.SeverityHigh, r.Warning, true
	}
	return "", 0, false
}

// DefaultRules are the surface water thresholds used when none are configured
func DefaultRules() []Rule {
	return []Rule{
		{Parameter: models.ParamPH, Operator: "<", Warning: 6.0, Critical: 5.0},
		{Parameter: models.ParamPH, Operator: ">", Warning: 9.0, Critical: 10.0},
		{Parameter: models.ParamDO, Operator: "<", Warning: 5.0, Critical: 4.0},
		{Parameter: models.ParamBOD, Operator: ">", Warning: 5, Critical: 10},
		{Parameter: models.ParamFC, Operator: ">", Warning: 2500, Critical: 10000},
		{Parameter: models.ParamTurbidity, Operator: ">", Warning: 10, Critical: 50},
	}
}

func RulesFromConfig(thresholds []config.ThresholdConfig) []Rule {
	if len(thresholds) == 0 {
		return DefaultRules()
	}
	rules := make([]Rule, 0, len(thresholds))
	for _, t := range thresholds {
		rules = append(rules, Rule{
			Parameter: models.Parameter(t.Parameter),
			Operator:  t.Operator,
			Warning:   t.Warning,
			Critical:  t.Critical,
		})
	}
	return rules
}

// AnomalyDetector turns readings and forecasts into alerts
type AnomalyDetector struct {
	rules []Rule
	drift *DriftTracker
}

type Option func(*AnomalyDetector)

// WithDrift enables z-score drift alerts over a rolling window
func WithDrift(windowSize int, zThreshold float64) Option {
	return func(ad *AnomalyDetector) {
		ad.drift = NewDriftTracker(windowSize, zThreshold)
	}
}

func NewAnomalyDetector(rules []Rule, opts ...Option) *AnomalyDetector {
	ad := &AnomalyDetector{rules: rules}
	for _, opt := range opts {
		opt(ad)
	}
	return ad
}

// EvaluateReading checks an accepted reading against the rules and, when
// enabled, against the station's recent history.
func (ad *AnomalyDetector) EvaluateReading(r models.Reading) []models.Alert {
	var alerts []models.Alert
	for _, rule := range ad.rules {
		v, ok := r.Values[rule.Parameter]
		if !ok {
			continue
		}
		sev, level, hit := rule.evaluate(v)
		if !hit {
			continue
		}
		alerts = append(alerts, models.Alert{
			StationID: r.StationID,
			Parameter: rule.Parameter,
			Severity:  sev,
			Threshold: level,
			Operator:  rule.Operator,
			Value:     v,
			Timestamp: r.Timestamp,
			Origin:    models.OriginReading,
			Message: fmt.Sprintf("%s %.2f %s %s threshold %.2f",
				rule.Parameter, v, rule.Operator, sev, level),
		})
	}

	if ad.drift != nil {
		alerts = append(alerts, ad.driftAlerts(r)...)
	}
	return alerts
}

func (ad *AnomalyDetector) driftAlerts(r models.Reading) []models.Alert {
	params := make([]models.Parameter, 0, len(r.Values))
	for p := range r.Values {
		params = append(params, p)
	}
	sort.Slice(params, func(i, j int) bool { return params[i] < params[j] })

	var alerts []models.Alert
	for _, p := range params {
		v := r.Values[p]
		z, ok := ad.drift.Observe(r.StationID, p, v)
		if !ok || !IsOutlier(z, ad.drift.threshold) {
			continue
		}
		alerts = append(alerts, models.Alert{
			StationID: r.StationID,
			Parameter: p,
			Severity:  models.SeverityInfo,
			Threshold: ad.drift.threshold,
			Operator:  ">",
			Value:     v,
			Timestamp: r.Timestamp,
			Origin:    models.OriginDrift,
			Message:   fmt.Sprintf("%s %.2f deviates from recent readings (z=%.2f)", p, v, z),
		})
	}
	return alerts
}

// EvaluateForecast checks every forecast point against the rules
func (ad *AnomalyDetector) EvaluateForecast(f models.Forecast) []models.Alert {
	var alerts []models.Alert
	for _, point := range f.Points {
		for _, rule := range ad.rules {
			v, ok := point.Values[rule.Parameter]
			if !ok {
				continue
			}
			sev, level, hit := rule.evaluate(v)
			if !hit {
				continue
			}
			alerts = append(alerts, models.Alert{
				StationID:   f.StationID,
				Parameter:   rule.Parameter,
				Severity:    sev,
				Threshold:   level,
				Operator:    rule.Operator,
				Value:       v,
				Timestamp:   f.GeneratedAt,
				Origin:      models.OriginForecast,
				HorizonDays: point.HorizonDays,
				Message: fmt.Sprintf("%s forecast %.2f %s %s threshold %.2f in %d days (confidence %.0f%%)",
					rule.Parameter, v, rule.Operator, sev, level, point.HorizonDays, point.Confidence*100),
			})
		}
	}
	return alerts
}

// Forget drops the station's drift history
func (ad *AnomalyDetector) Forget(stationID string) {
	if ad.drift != nil {
		ad.drift.Forget(stationID)
	}
}
