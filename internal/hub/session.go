package hub

import (
	"errors"
	"sync"
)

var (
	// ErrSessionClosed is returned for operations on a disconnected or unknown session
	ErrSessionClosed = errors.New("session closed")
	// ErrQueueFull means an alert could not be queued because the queue holds only alerts
	ErrQueueFull = errors.New("outbound queue full of alerts")
)

// Session is one connected client. Its outbound queue is bounded; when full,
// the oldest non-alert message makes room. Alerts are never shed to make room.
type Session struct {
	id   string
	size int

	mu          sync.Mutex
	queue       []Envelope
	closed      bool
	missedPongs int

	notify chan struct{}
	done   chan struct{}

	// subs is owned by the hub and only touched under the hub's lock
	subs map[string]map[Channel]bool
}

func newSession(id string, size int) *Session {
	return &Session{
		id:     id,
		size:   size,
		queue:  make([]Envelope, 0, size),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		subs:   make(map[string]map[Channel]bool),
	}
}

func (s *Session) ID() string { return s.id }

// Ready is signalled whenever messages are queued
func (s *Session) Ready() <-chan struct{} { return s.notify }

// Done is closed when the session is disconnected
func (s *Session) Done() <-chan struct{} { return s.done }

// enqueue adds env to the queue. It returns the type of any message dropped to make room.
func (s *Session) enqueue(env Envelope) (MessageType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrSessionClosed
	}

	var dropped MessageType
	if len(s.queue) >= s.size {
		victim := -1
		for i, q := range s.queue {
			if q.Type != TypeAlert {
				victim = i
				break
			}
		}
		switch {
		case victim >= 0:
			dropped = s.queue[victim].Type
			s.queue = append(s.queue[:victim], s.queue[victim+1:]...)
		case env.Type == TypeAlert:
			return "", ErrQueueFull
		default:
			return env.Type, nil
		}
	}

	s.queue = append(s.queue, env)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped, nil
}

// Drain removes and returns every queued message in order
func (s *Session) Drain() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}
	out := s.queue
	s.queue = make([]Envelope, 0, s.size)
	return out
}

// Len returns the number of queued messages
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.queue = nil
	close(s.done)
	return true
}

// ping records an outgoing ping and returns the number of unanswered pings before it
func (s *Session) ping() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	missed := s.missedPongs
	s.missedPongs++
	return missed
}

func (s *Session) pong() {
	s.mu.Lock()
	s.missedPongs = 0
	s.mu.Unlock()
}
