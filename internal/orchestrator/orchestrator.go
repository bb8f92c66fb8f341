package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"riverwatch/internal/metrics"
	"riverwatch/internal/models"
	"riverwatch/internal/schedule"
	"riverwatch/internal/source"
	"riverwatch/internal/wqi"
)

// Outcome is the terminal state of one collection cycle
type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeTimeout is a cycle abandoned at its deadline before any source was accepted
	OutcomeTimeout Outcome = "timeout"
)

// Enricher adds derived values to a candidate reading before validation
type Enricher interface {
	Enrich(ctx context.Context, station models.Station, r *models.Reading) error
}

type ReadingSink interface {
	AppendReading(ctx context.Context, u models.ReadingUpdate) error
}

type Broadcaster interface {
	PublishReading(u models.ReadingUpdate)
}

type ReadingEvaluator interface {
	EvaluateReading(r models.Reading) []models.Alert
}

type AlertDispatcher interface {
	Dispatch(ctx context.Context, alerts []models.Alert)
}

// CycleResult reports what one collection cycle did
type CycleResult struct {
	StationID string         `json:"station_id"`
	Outcome   Outcome        `json:"outcome"`
	Source    string         `json:"source,omitempty"`
	Reading   models.Reading `json:"-"`
	Index     models.Index   `json:"-"`
	Attempts  int            `json:"attempts"`
	Err       error          `json:"-"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// CycleStatus is the last cycle result as exposed to the admin surface
type CycleStatus struct {
	StationID string        `json:"station_id"`
	LastRun   time.Time     `json:"last_run"`
	Outcome   Outcome       `json:"outcome"`
	Source    string        `json:"source,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

type Options struct {
	Adapters     []source.Adapter
	Validator    *wqi.Validator
	Store        *CurrentStore
	Enricher     Enricher
	Sink         ReadingSink
	Broadcaster  Broadcaster
	Evaluator    ReadingEvaluator
	Dispatcher   AlertDispatcher
	Scheduler    *schedule.Scheduler
	Clock        clockwork.Clock
	Logger       *zap.Logger
	Interval     time.Duration
	CycleTimeout time.Duration
	Retry        RetryPolicy
}

// Orchestrator runs the per-station collection cycle across the adapter chain
type Orchestrator struct {
	adapters    []source.Adapter
	validator   *wqi.Validator
	store       *CurrentStore
	enricher    Enricher
	sink        ReadingSink
	broadcaster Broadcaster
	evaluator   ReadingEvaluator
	dispatcher  AlertDispatcher
	scheduler   *schedule.Scheduler
	clock       clockwork.Clock
	logger      *zap.Logger

	interval     time.Duration
	cycleTimeout time.Duration
	retry        RetryPolicy

	mu       sync.RWMutex
	stations map[string]models.Station
	locks    map[string]*sync.Mutex
	statuses map[string]CycleStatus
}

func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Store == nil {
		opts.Store = NewCurrentStore()
	}
	if opts.Validator == nil {
		opts.Validator = wqi.NewValidator(wqi.WithClock(opts.Clock))
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}

	return &Orchestrator{
		adapters:     source.Chain(opts.Adapters...),
		validator:    opts.Validator,
		store:        opts.Store,
		enricher:     opts.Enricher,
		sink:         opts.Sink,
		broadcaster:  opts.Broadcaster,
		evaluator:    opts.Evaluator,
		dispatcher:   opts.Dispatcher,
		scheduler:    opts.Scheduler,
		clock:        opts.Clock,
		logger:       opts.Logger.With(zap.String("component", "orchestrator")),
		interval:     opts.Interval,
		cycleTimeout: opts.CycleTimeout,
		retry:        opts.Retry,
		stations:     make(map[string]models.Station),
		locks:        make(map[string]*sync.Mutex),
		statuses:     make(map[string]CycleStatus),
	}
}

func (o *Orchestrator) Store() *CurrentStore {
	return o.store
}

// Adapters returns the chain in the order it is queried
func (o *Orchestrator) Adapters() []source.Adapter {
	return o.adapters
}

// AddStation registers a station without scheduling it
func (o *Orchestrator) AddStation(st models.Station) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stations[st.ID] = st
	if _, ok := o.locks[st.ID]; !ok {
		o.locks[st.ID] = &sync.Mutex{}
	}
}

func (o *Orchestrator) Station(id string) (models.Station, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.stations[id]
	return st, ok
}

// Stations lists every registered station, active or not
func (o *Orchestrator) Stations() []models.Station {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.Station, 0, len(o.stations))
	for _, st := range o.stations {
		out = append(out, st)
	}
	return out
}

// Run schedules one collection loop per active station
func (o *Orchestrator) Run(ctx context.Context, stations []models.Station) {
	for _, st := range stations {
		o.AddStation(st)
		if !st.Active {
			continue
		}
		id := st.ID
		o.scheduler.Schedule(ctx, loopKey(id), o.interval, o.cycleTimeout, func(ctx context.Context) {
			o.CollectOnce(ctx, id)
		})
	}
	o.logger.Info("Collection loops started",
		zap.Int("stations", len(stations)),
		zap.Duration("interval", o.interval),
	)
}

// Deactivate stops collecting for the station. Its current reading is kept.
func (o *Orchestrator) Deactivate(stationID string) bool {
	o.mu.Lock()
	st, ok := o.stations[stationID]
	if ok {
		st.Active = false
		o.stations[stationID] = st
	}
	o.mu.Unlock()

	if o.scheduler != nil {
		o.scheduler.Cancel(loopKey(stationID))
	}
	return ok
}

func loopKey(stationID string) string {
	return "collect:" + stationID
}

func (o *Orchestrator) stationLock(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	return l
}

// CollectOnce runs a single collection cycle for the station. Cycles for the
// same station never overlap.
func (o *Orchestrator) CollectOnce(ctx context.Context, stationID string) CycleResult {
	lock := o.stationLock(stationID)
	lock.Lock()
	defer lock.Unlock()

	result := o.collect(ctx, stationID)
	result.Duration = o.clock.Since(result.StartedAt)

	o.recordStatus(result)
	metrics.RecordCollectionCycle(string(result.Outcome), result.Duration)

	switch result.Outcome {
	case OutcomeExhausted:
		o.logger.Warn("All sources exhausted",
			zap.String("station_id", stationID),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Err),
		)
	case OutcomeTimeout:
		o.logger.Warn("Collection cycle timed out",
			zap.String("station_id", stationID),
			zap.Int("attempts", result.Attempts),
			zap.Duration("duration", result.Duration),
		)
	case OutcomePublished:
		o.logger.Debug("Reading published",
			zap.String("station_id", stationID),
			zap.String("source", result.Source),
			zap.Float64("wqi", result.Index.Value),
		)
	}
	return result
}

func (o *Orchestrator) collect(ctx context.Context, stationID string) CycleResult {
	result := CycleResult{
		StationID: stationID,
		Outcome:   OutcomeExhausted,
		StartedAt: o.clock.Now(),
	}

	station, known := o.Station(stationID)
	if !known {
		station = models.Station{ID: stationID, Active: true}
	}

	var current *models.Reading
	if r, ok := o.store.Current(stationID); ok {
		current = &r
	}

	var errs []error
	for _, a := range o.adapters {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		candidate, attempts, err := o.fetch(ctx, a, stationID)
		result.Attempts += attempts
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
			continue
		}

		if bound := a.StalenessBound(); bound > 0 && o.clock.Since(candidate.Timestamp) > bound {
			metrics.RecordAdapterFetch(a.Name(), "stale")
			errs = append(errs, fmt.Errorf("%s: reading from %s exceeds staleness bound %s",
				a.Name(), candidate.Timestamp.Format(time.RFC3339), bound))
			continue
		}

		candidate.StationID = stationID
		if candidate.Source == "" {
			candidate.Source = a.Name()
		}
		if o.enricher != nil {
			if err := o.enricher.Enrich(ctx, station, &candidate); err != nil {
				o.logger.Debug("Enrichment skipped",
					zap.String("station_id", stationID),
					zap.Error(err),
				)
			}
		}

		accepted, err := o.validator.Validate(candidate, current)
		if errors.Is(err, wqi.ErrNotNewer) {
			result.Outcome = OutcomeUnchanged
			result.Source = a.Name()
			return result
		}
		if err != nil {
			reason := wqi.RejectReason(err)
			metrics.ValidationRejections.WithLabelValues(reason).Inc()
			o.logger.Info("Reading rejected",
				zap.String("station_id", stationID),
				zap.String("source", a.Name()),
				zap.String("reason", reason),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
			continue
		}

		idx := wqi.ComputeIndex(accepted.Values)
		o.publish(ctx, models.ReadingUpdate{Reading: accepted, Index: idx})

		result.Outcome = OutcomePublished
		result.Source = a.Name()
		result.Reading = accepted
		result.Index = idx
		return result
	}

	result.Err = errors.Join(errs...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.Outcome = OutcomeTimeout
	}
	return result
}

// fetch queries one adapter, retrying unavailability with bounded exponential backoff
func (o *Orchestrator) fetch(ctx context.Context, a source.Adapter, stationID string) (models.Reading, int, error) {
	backoff := o.retry.Initial
	var lastErr error

	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if budget := a.LatencyBudget(); budget > 0 {
			callCtx, cancel = context.WithTimeout(ctx, budget)
		}
		r, err := a.FetchLatest(callCtx, stationID)
		cancel()

		if err == nil {
			metrics.RecordAdapterFetch(a.Name(), "success")
			return r, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			metrics.RecordAdapterFetch(a.Name(), "cancelled")
			return models.Reading{}, attempt, ctx.Err()
		}

		retryable := errors.Is(err, source.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
		metrics.RecordAdapterFetch(a.Name(), "unavailable")
		if !retryable || attempt == o.retry.MaxAttempts {
			return models.Reading{}, attempt, err
		}

		o.logger.Debug("Retrying source",
			zap.String("station_id", stationID),
			zap.String("source", a.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if !sleepWithContext(ctx, o.clock, backoff) {
			return models.Reading{}, attempt, ctx.Err()
		}
		backoff = nextBackoff(backoff, o.retry.Max)
	}
	return models.Reading{}, o.retry.MaxAttempts, lastErr
}

func (o *Orchestrator) publish(ctx context.Context, u models.ReadingUpdate) {
	o.store.set(u.Reading, u.Index)
	metrics.CurrentIndex.WithLabelValues(u.Reading.StationID).Set(u.Index.Value)

	if o.sink != nil {
		if err := o.sink.AppendReading(ctx, u); err != nil {
			o.logger.Warn("Failed to hand reading to sink",
				zap.String("station_id", u.Reading.StationID),
				zap.Error(err),
			)
		}
	}
	if o.broadcaster != nil {
		o.broadcaster.PublishReading(u)
	}
	if o.evaluator != nil && o.dispatcher != nil {
		if alerts := o.evaluator.EvaluateReading(u.Reading); len(alerts) > 0 {
			o.dispatcher.Dispatch(ctx, alerts)
		}
	}
}

func (o *Orchestrator) recordStatus(r CycleResult) {
	st := CycleStatus{
		StationID: r.StationID,
		LastRun:   r.StartedAt,
		Outcome:   r.Outcome,
		Source:    r.Source,
		Duration:  r.Duration,
	}
	if r.Err != nil {
		st.Error = r.Err.Error()
	}

	o.mu.Lock()
	o.statuses[r.StationID] = st
	o.mu.Unlock()
}

func (o *Orchestrator) CycleStatus(stationID string) (CycleStatus, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.statuses[stationID]
	return st, ok
}

func (o *Orchestrator) Statuses() map[string]CycleStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]CycleStatus, len(o.statuses))
	for k, v := range o.statuses {
		out[k] = v
	}
	return out
}

// CheckReadiness succeeds once at least one reading has been published
func (o *Orchestrator) CheckReadiness(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.store.Len() == 0 {
		return errors.New("no reading published yet")
	}
	return nil
}
