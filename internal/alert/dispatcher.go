package alert

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"riverwatch/internal/metrics"
	"riverwatch/internal/models"
)

// recentLimit is how many delivered alerts are kept for the read API
const recentLimit = 200

type Publisher interface {
	PublishAlert(a models.Alert)
}

type Sink interface {
	AppendAlert(ctx context.Context, a models.Alert) error
}

// Dispatcher delivers alerts at most once per dedup key within the cooldown
type Dispatcher struct {
	cooldown  time.Duration
	publisher Publisher
	sink      Sink
	clock     clockwork.Clock
	logger    *zap.Logger

	mu         sync.Mutex
	last       map[string]time.Time
	suppressed map[string]int
	recent     []models.Alert
}

func NewDispatcher(cooldown time.Duration, publisher Publisher, sink Sink, clock clockwork.Clock, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cooldown:   cooldown,
		publisher:  publisher,
		sink:       sink,
		clock:      clock,
		logger:     logger.With(zap.String("component", "alerts")),
		last:       make(map[string]time.Time),
		suppressed: make(map[string]int),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, alerts []models.Alert) {
	for _, a := range alerts {
		d.Deliver(ctx, a)
	}
}

// Deliver sends the alert unless one with the same key went out within the
// cooldown. It reports whether the alert was delivered.
func (d *Dispatcher) Deliver(ctx context.Context, a models.Alert) bool {
	now := d.clock.Now()
	key := a.DedupKey()

	d.mu.Lock()
	if at, ok := d.last[key]; ok && now.Sub(at) < d.cooldown {
		d.suppressed[key]++
		d.mu.Unlock()

		metrics.AlertsSuppressed.WithLabelValues(string(a.Parameter), string(a.Severity)).Inc()
		d.logger.Debug("Alert suppressed",
			zap.String("key", key),
			zap.Duration("since_last", now.Sub(at)),
		)
		return false
	}
	d.last[key] = now
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	d.recent = append(d.recent, a)
	if len(d.recent) > recentLimit {
		d.recent = d.recent[len(d.recent)-recentLimit:]
	}
	d.mu.Unlock()

	metrics.AlertsEmitted.WithLabelValues(string(a.Severity)).Inc()
	d.logger.Info("Alert",
		zap.String("station_id", a.StationID),
		zap.String("parameter", string(a.Parameter)),
		zap.String("severity", string(a.Severity)),
		zap.String("origin", string(a.Origin)),
		zap.Float64("value", a.Value),
		zap.String("message", a.Message),
	)

	if d.sink != nil {
		if err := d.sink.AppendAlert(ctx, a); err != nil {
			d.logger.Warn("Failed to hand alert to sink", zap.String("key", key), zap.Error(err))
		}
	}
	if d.publisher != nil {
		d.publisher.PublishAlert(a)
	}
	return true
}

// Suppressed returns how many alerts with key were suppressed so far
func (d *Dispatcher) Suppressed(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suppressed[key]
}

// Recent returns up to limit delivered alerts, newest first, optionally for one station
func (d *Dispatcher) Recent(stationID string, limit int) []models.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.Alert, 0, limit)
	for i := len(d.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if stationID != "" && d.recent[i].StationID != stationID {
			continue
		}
		out = append(out, d.recent[i])
	}
	return out
}
