package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"riverwatch/internal/metrics"
	"riverwatch/internal/models"
)

// ErrDropped is returned when a record could not be buffered
var ErrDropped = errors.New("sink buffer full, record dropped")

const (
	KindReading = "reading"
	KindAlert   = "alert"
)

// Sink persists accepted readings and delivered alerts
type Sink interface {
	AppendReading(ctx context.Context, u models.ReadingUpdate) error
	AppendAlert(ctx context.Context, a models.Alert) error
}

// Multi writes to every sink and joins their errors
type Multi []Sink

func (m Multi) AppendReading(ctx context.Context, u models.ReadingUpdate) error {
	var errs []error
	for _, s := range m {
		if err := s.AppendReading(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) AppendAlert(ctx context.Context, a models.Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.AppendAlert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type record struct {
	kind    string
	reading models.ReadingUpdate
	alert   models.Alert
}

// Async hands records to a wrapped sink from a single background worker.
// Appends never block: when the buffer is full the record is dropped and counted.
type Async struct {
	name         string
	next         Sink
	writeTimeout time.Duration
	logger       *zap.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan record
	wg     sync.WaitGroup
}

func NewAsync(name string, next Sink, buffer int, logger *zap.Logger) *Async {
	if buffer <= 0 {
		buffer = 1
	}
	a := &Async{
		name:         name,
		next:         next,
		writeTimeout: 5 * time.Second,
		logger:       logger.With(zap.String("component", "sink"), zap.String("sink", name)),
		ch:           make(chan record, buffer),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) AppendReading(_ context.Context, u models.ReadingUpdate) error {
	return a.offer(record{kind: KindReading, reading: u})
}

func (a *Async) AppendAlert(_ context.Context, al models.Alert) error {
	return a.offer(record{kind: KindAlert, alert: al})
}

func (a *Async) offer(r record) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		metrics.SinkDropped.WithLabelValues(a.name, r.kind).Inc()
		return ErrDropped
	}
	select {
	case a.ch <- r:
		return nil
	default:
		metrics.SinkDropped.WithLabelValues(a.name, r.kind).Inc()
		return ErrDropped
	}
}

// Pending returns the number of buffered records
func (a *Async) Pending() int {
	return len(a.ch)
}

func (a *Async) run() {
	defer a.wg.Done()
	for r := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
		var err error
		switch r.kind {
		case KindReading:
			err = a.next.AppendReading(ctx, r.reading)
		case KindAlert:
			err = a.next.AppendAlert(ctx, r.alert)
		}
		cancel()
		if err != nil {
			metrics.SinkDropped.WithLabelValues(a.name, r.kind).Inc()
			a.logger.Warn("Sink write failed", zap.String("kind", r.kind), zap.Error(err))
		}
	}
}

// Close stops accepting records and waits for the buffer to drain
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
