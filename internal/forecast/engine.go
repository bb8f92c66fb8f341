package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"riverwatch/internal/metrics"
	"riverwatch/internal/models"
	"riverwatch/internal/schedule"
	"riverwatch/internal/wqi"
)

// IndexTrend is the pseudo-parameter under which the trend of the composite index is reported
const IndexTrend models.Parameter = "WQI"

var (
	// ErrNoBaseline means the station has no accepted reading to forecast from
	ErrNoBaseline = errors.New("no baseline reading")
	// ErrBaselineNotNewer means a forecast for this or a later baseline was already published
	ErrBaselineNotNewer = errors.New("baseline not newer than last forecast")
)

// Baselines supplies the current reading per station
type Baselines interface {
	Current(stationID string) (models.Reading, bool)
}

type Broadcaster interface {
	PublishForecast(f models.Forecast)
}

type ForecastEvaluator interface {
	EvaluateForecast(f models.Forecast) []models.Alert
}

type AlertDispatcher interface {
	Dispatch(ctx context.Context, alerts []models.Alert)
}

type Options struct {
	Models       map[models.Parameter]Regressor
	Horizons     []int
	Policy       ConfidencePolicy
	TrendEpsilon float64 // percent
	Baselines    Baselines
	Broadcaster  Broadcaster
	Evaluator    ForecastEvaluator
	Dispatcher   AlertDispatcher
	Scheduler    *schedule.Scheduler
	Clock        clockwork.Clock
	Logger       *zap.Logger
	Interval     time.Duration
	CycleTimeout time.Duration
}

// Engine produces multi-horizon forecasts from each station's current reading
type Engine struct {
	models       map[models.Parameter]Regressor
	horizons     []int
	policy       ConfidencePolicy
	trendEpsilon float64
	baselines    Baselines
	broadcaster  Broadcaster
	evaluator    ForecastEvaluator
	dispatcher   AlertDispatcher
	scheduler    *schedule.Scheduler
	clock        clockwork.Clock
	logger       *zap.Logger
	interval     time.Duration
	cycleTimeout time.Duration

	mu     sync.RWMutex
	latest map[string]models.Forecast
}

func NewEngine(opts Options) *Engine {
	if opts.Models == nil {
		opts.Models = DefaultModels()
	}
	if len(opts.Horizons) == 0 {
		opts.Horizons = []int{7, 30, 90}
	}
	if opts.Policy == nil {
		opts.Policy = StepConfidence(DefaultBands)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	horizons := append([]int(nil), opts.Horizons...)
	sort.Ints(horizons)

	return &Engine{
		models:       opts.Models,
		horizons:     horizons,
		policy:       opts.Policy,
		trendEpsilon: opts.TrendEpsilon,
		baselines:    opts.Baselines,
		broadcaster:  opts.Broadcaster,
		evaluator:    opts.Evaluator,
		dispatcher:   opts.Dispatcher,
		scheduler:    opts.Scheduler,
		clock:        opts.Clock,
		logger:       opts.Logger.With(zap.String("component", "forecast")),
		interval:     opts.Interval,
		cycleTimeout: opts.CycleTimeout,
		latest:       make(map[string]models.Forecast),
	}
}

// Generate builds a forecast from baseline without publishing it.
// A parameter whose model fails is left out of that horizon's point.
func (e *Engine) Generate(ctx context.Context, baseline models.Reading) (models.Forecast, error) {
	params := make([]models.Parameter, 0, len(baseline.Values))
	for p := range baseline.Values {
		params = append(params, p)
	}
	sort.Slice(params, func(i, j int) bool { return params[i] < params[j] })

	conf := confidences(e.policy, e.horizons)
	fc := models.Forecast{
		StationID:   baseline.StationID,
		BaselineAt:  baseline.Timestamp,
		GeneratedAt: e.clock.Now(),
		Points:      make([]models.ForecastPoint, 0, len(e.horizons)),
	}

	for i, h := range e.horizons {
		if err := ctx.Err(); err != nil {
			return models.Forecast{}, err
		}

		point := models.ForecastPoint{
			StationID:   baseline.StationID,
			HorizonDays: h,
			TargetDate:  baseline.Timestamp.AddDate(0, 0, h),
			Values:      make(map[models.Parameter]float64, len(params)),
			Confidence:  conf[i],
		}
		for _, p := range params {
			v, err := e.predict(p, baseline.Values, baseline.Timestamp, h)
			if err != nil {
				metrics.ForecastModelErrors.WithLabelValues(string(p)).Inc()
				e.logger.Warn("Model failed, parameter skipped",
					zap.String("station_id", baseline.StationID),
					zap.String("parameter", string(p)),
					zap.Int("horizon_days", h),
					zap.Error(err),
				)
				continue
			}
			point.Values[p] = v
		}
		point.Index = wqi.ComputeIndex(point.Values)
		fc.Points = append(fc.Points, point)
	}

	fc.Trends = e.trends(fc)
	return fc, nil
}

func (e *Engine) predict(p models.Parameter, values map[models.Parameter]float64, baseline time.Time, horizon int) (float64, error) {
	model, ok := e.models[p]
	if !ok {
		model = Persistence{}
	}

	v, err := model.Predict(Features(p, values, baseline, horizon))
	if err != nil {
		if !errors.Is(err, ErrModel) {
			err = fmt.Errorf("%w: %v", ErrModel, err)
		}
		return 0, err
	}
	if b, ok := wqi.PhysicalBounds[p]; ok {
		v = math.Max(b.Min, math.Min(b.Max, v))
	}
	return v, nil
}

// trends compares the shortest and longest horizon for every parameter predicted at both
func (e *Engine) trends(fc models.Forecast) []models.TrendSummary {
	if len(fc.Points) < 2 {
		return nil
	}
	first, last := fc.Points[0], fc.Points[len(fc.Points)-1]
	lookback := last.HorizonDays - first.HorizonDays

	params := make([]models.Parameter, 0, len(first.Values))
	for p := range first.Values {
		if _, ok := last.Values[p]; ok {
			params = append(params, p)
		}
	}
	sort.Slice(params, func(i, j int) bool { return params[i] < params[j] })

	out := make([]models.TrendSummary, 0, len(params)+1)
	for _, p := range params {
		out = append(out, e.trend(fc.StationID, p, first.Values[p], last.Values[p], lookback))
	}
	if first.Index.Classification != "Unknown" && last.Index.Classification != "Unknown" {
		out = append(out, e.trend(fc.StationID, IndexTrend, first.Index.Value, last.Index.Value, lookback))
	}
	return out
}

func (e *Engine) trend(stationID string, p models.Parameter, from, to float64, lookback int) models.TrendSummary {
	ts := models.TrendSummary{
		StationID:    stationID,
		Parameter:    p,
		Direction:    models.TrendStable,
		LookbackDays: lookback,
	}
	if from == 0 {
		switch {
		case to > 0:
			ts.Direction = models.TrendIncreasing
		case to < 0:
			ts.Direction = models.TrendDecreasing
		}
		return ts
	}

	ts.ChangePercent = (to - from) / math.Abs(from) * 100
	switch {
	case ts.ChangePercent > e.trendEpsilon:
		ts.Direction = models.TrendIncreasing
	case ts.ChangePercent < -e.trendEpsilon:
		ts.Direction = models.TrendDecreasing
	}
	return ts
}

// RunOnce forecasts the station from its current reading, publishes the
// result and hands it to the detector. Baselines that are not newer than the
// last published forecast are skipped with ErrBaselineNotNewer.
func (e *Engine) RunOnce(ctx context.Context, stationID string) (models.Forecast, error) {
	baseline, ok := e.baselines.Current(stationID)
	if !ok {
		metrics.ForecastRuns.WithLabelValues("no_baseline").Inc()
		return models.Forecast{}, fmt.Errorf("%w for station %s", ErrNoBaseline, stationID)
	}

	if prev, ok := e.Latest(stationID); ok && !baseline.Timestamp.After(prev.BaselineAt) {
		metrics.ForecastRuns.WithLabelValues("skipped").Inc()
		return prev, ErrBaselineNotNewer
	}

	fc, err := e.Generate(ctx, baseline)
	if err != nil {
		metrics.ForecastRuns.WithLabelValues("failed").Inc()
		return models.Forecast{}, err
	}

	e.mu.Lock()
	if prev, ok := e.latest[stationID]; ok && !fc.BaselineAt.After(prev.BaselineAt) {
		e.mu.Unlock()
		metrics.ForecastRuns.WithLabelValues("skipped").Inc()
		return prev, ErrBaselineNotNewer
	}
	e.latest[stationID] = fc
	e.mu.Unlock()

	metrics.ForecastRuns.WithLabelValues("published").Inc()
	if e.broadcaster != nil {
		e.broadcaster.PublishForecast(fc)
	}
	if e.evaluator != nil && e.dispatcher != nil {
		if alerts := e.evaluator.EvaluateForecast(fc); len(alerts) > 0 {
			e.dispatcher.Dispatch(ctx, alerts)
		}
	}

	e.logger.Debug("Forecast published",
		zap.String("station_id", stationID),
		zap.Time("baseline_at", fc.BaselineAt),
		zap.Int("points", len(fc.Points)),
	)
	return fc, nil
}

func (e *Engine) Latest(stationID string) (models.Forecast, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fc, ok := e.latest[stationID]
	return fc, ok
}

// Run schedules one forecast loop per active station
func (e *Engine) Run(ctx context.Context, stations []models.Station) {
	for _, st := range stations {
		if !st.Active {
			continue
		}
		id := st.ID
		e.scheduler.Schedule(ctx, loopKey(id), e.interval, e.cycleTimeout, func(ctx context.Context) {
			_, err := e.RunOnce(ctx, id)
			if err != nil && !errors.Is(err, ErrBaselineNotNewer) && !errors.Is(err, ErrNoBaseline) {
				e.logger.Warn("Forecast run failed", zap.String("station_id", id), zap.Error(err))
			}
		})
	}
}

// Deactivate stops forecasting for the station
func (e *Engine) Deactivate(stationID string) bool {
	if e.scheduler == nil {
		return false
	}
	return e.scheduler.Cancel(loopKey(stationID))
}

func loopKey(stationID string) string {
	return "forecast:" + stationID
}
