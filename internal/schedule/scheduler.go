package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Task is one unit of periodic work. ctx carries the unit's deadline.
type Task func(ctx context.Context)

// Scheduler runs independently cancellable periodic loops, one per key.
// Every run of a task holds a pool slot and is bounded by its own timeout.
type Scheduler struct {
	pool   *Pool
	clock  clockwork.Clock
	logger *zap.Logger

	mu    sync.Mutex
	loops map[string]context.CancelFunc
	wg    sync.WaitGroup
}

func NewScheduler(pool *Pool, clock clockwork.Clock, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		pool:   pool,
		clock:  clock,
		logger: logger,
		loops:  make(map[string]context.CancelFunc),
	}
}

// Schedule starts a loop running task immediately and then every interval
// until ctx is done or Cancel(key) is called. Scheduling an existing key
// replaces its loop.
func (s *Scheduler) Schedule(ctx context.Context, key string, interval, timeout time.Duration, task Task) {
	loopCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if prev, ok := s.loops[key]; ok {
		prev()
	}
	s.loops[key] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(loopCtx, key, interval, timeout, task)
	}()
}

func (s *Scheduler) loop(ctx context.Context, key string, interval, timeout time.Duration, task Task) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx, key, timeout, task)

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, key string, timeout time.Duration, task Task) {
	if ctx.Err() != nil {
		return
	}
	if err := s.pool.Acquire(ctx); err != nil {
		return
	}
	defer s.pool.Release()
	if ctx.Err() != nil {
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	task(taskCtx)

	if taskCtx.Err() == context.DeadlineExceeded {
		s.logger.Warn("scheduled task exceeded its deadline",
			zap.String("key", key),
			zap.Duration("timeout", timeout),
		)
	}
}

// Cancel stops the loop for key. It reports whether a loop was running.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancel, ok := s.loops[key]
	if ok {
		cancel()
		delete(s.loops, key)
	}
	return ok
}

// Keys lists the scheduled loops
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.loops))
	for k := range s.loops {
		keys = append(keys, k)
	}
	return keys
}

// Stop cancels every loop and waits for running tasks to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for k, cancel := range s.loops {
		cancel()
		delete(s.loops, k)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
