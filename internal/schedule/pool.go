package schedule

import "context"

// Pool caps the number of tasks running at once across every scheduled loop
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool with the given number of workers (at least one)
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{slots: make(chan struct{}, workers)}
}

// Acquire blocks until a slot is free or ctx is done
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Release() {
	<-p.slots
}

// InFlight returns the number of tasks currently holding a slot
func (p *Pool) InFlight() int {
	return len(p.slots)
}

func (p *Pool) Size() int {
	return cap(p.slots)
}
