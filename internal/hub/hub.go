package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"riverwatch/internal/metrics"
	"riverwatch/internal/models"
)

type Config struct {
	QueueSize       int
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMissedPongs  int
	AlertRetryDelay time.Duration
	MaxMessageSize  int64
}

func DefaultConfig() Config {
	return Config{
		QueueSize:       256,
		PingPeriod:      54 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMissedPongs:  2,
		AlertRetryDelay: 500 * time.Millisecond,
		MaxMessageSize:  4096,
	}
}

// Stats is a snapshot of the hub for the admin surface
type Stats struct {
	Sessions              int   `json:"sessions"`
	Subscriptions         int   `json:"subscriptions"`
	Targets               int   `json:"targets"`
	MessagesDropped       int64 `json:"messages_dropped"`
	AlertDeliveryFailures int64 `json:"alert_delivery_failures"`
}

// Hub owns the subscription registry and fans events out to sessions.
// The registry and its reverse index change only under mu; recipients are
// resolved under the read lock and enqueued after it is released.
type Hub struct {
	cfg    Config
	clock  clockwork.Clock
	logger *zap.Logger

	mu            sync.RWMutex
	sessions      map[string]*Session
	index         map[string]map[string]*Session // target -> session id -> session
	subscriptions int

	dropped       atomic.Int64
	alertFailures atomic.Int64
}

func New(cfg Config, clock clockwork.Clock, logger *zap.Logger) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.MaxMissedPongs <= 0 {
		cfg.MaxMissedPongs = 1
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = DefaultConfig().PingPeriod
	}
	return &Hub{
		cfg:      cfg,
		clock:    clock,
		logger:   logger.With(zap.String("component", "hub")),
		sessions: make(map[string]*Session),
		index:    make(map[string]map[string]*Session),
	}
}

// Register creates a session and queues its connected message
func (h *Hub) Register() *Session {
	s := newSession(uuid.NewString(), h.cfg.QueueSize)

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	metrics.HubSessions.Inc()
	h.sendDirect(s, TypeConnected, "", connectedPayload{SessionID: s.id})
	h.logger.Debug("Session registered", zap.String("session_id", s.id))
	return s
}

// Subscribe adds target to the session's subscriptions on the given channels
// (all channels when none are given). Subscribing again replaces the channel set.
func (h *Hub) Subscribe(sessionID, target string, channels []Channel) error {
	if target == "" {
		return errors.New("subscription target is required")
	}
	set := parseChannels(channels)

	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return ErrSessionClosed
	}
	if _, exists := s.subs[target]; !exists {
		h.subscriptions++
	}
	s.subs[target] = set
	byID, ok := h.index[target]
	if !ok {
		byID = make(map[string]*Session)
		h.index[target] = byID
	}
	byID[sessionID] = s
	total := h.subscriptions
	h.mu.Unlock()

	metrics.HubSubscriptions.Set(float64(total))
	h.sendDirect(s, TypeSubscribe, target, subscribePayload{Channels: channelList(set)})
	return nil
}

// Unsubscribe removes target from the session. Later publishes for target no longer reach it.
func (h *Hub) Unsubscribe(sessionID, target string) error {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return ErrSessionClosed
	}
	if _, exists := s.subs[target]; exists {
		h.removeSubscriptionLocked(s, target)
	}
	total := h.subscriptions
	h.mu.Unlock()

	metrics.HubSubscriptions.Set(float64(total))
	h.sendDirect(s, TypeUnsubscribe, target, nil)
	return nil
}

func (h *Hub) removeSubscriptionLocked(s *Session, target string) {
	delete(s.subs, target)
	h.subscriptions--
	if byID, ok := h.index[target]; ok {
		delete(byID, s.id)
		if len(byID) == 0 {
			delete(h.index, target)
		}
	}
}

// Disconnect removes the session and all its subscriptions before returning
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	for target := range s.subs {
		h.removeSubscriptionLocked(s, target)
	}
	delete(h.sessions, sessionID)
	total := h.subscriptions
	h.mu.Unlock()

	if s.close() {
		metrics.HubSessions.Dec()
	}
	metrics.HubSubscriptions.Set(float64(total))
	h.logger.Debug("Session disconnected", zap.String("session_id", sessionID))
}

// Session looks up a live session
func (h *Hub) Session(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Subscriptions returns the targets a session is subscribed to
func (h *Hub) Subscriptions(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.subs))
	for t := range s.subs {
		out = append(out, t)
	}
	return out
}

// Publish delivers env to every session subscribed to its target on the
// event's channel. An envelope without a target goes to all sessions.
func (h *Hub) Publish(env Envelope) {
	for _, s := range h.recipients(env) {
		h.deliver(s, env)
	}
}

func (h *Hub) recipients(env Envelope) []*Session {
	ch, scoped := channelOf(env.Type)

	h.mu.RLock()
	defer h.mu.RUnlock()

	if env.TargetID == "" {
		out := make([]*Session, 0, len(h.sessions))
		for _, s := range h.sessions {
			out = append(out, s)
		}
		return out
	}

	seen := make(map[string]bool)
	var out []*Session
	for _, target := range []string{env.TargetID, Wildcard} {
		for id, s := range h.index[target] {
			if seen[id] {
				continue
			}
			if scoped && !s.subs[target][ch] {
				continue
			}
			seen[id] = true
			out = append(out, s)
		}
	}
	return out
}

func (h *Hub) deliver(s *Session, env Envelope) {
	dropped, err := s.enqueue(env)
	if dropped != "" {
		h.countDrop(dropped)
	}
	if errors.Is(err, ErrQueueFull) {
		h.retryAlert(s, env)
	}
}

// retryAlert makes one more attempt after the retry delay before giving up
func (h *Hub) retryAlert(s *Session, env Envelope) {
	h.clock.AfterFunc(h.cfg.AlertRetryDelay, func() {
		dropped, err := s.enqueue(env)
		if dropped != "" {
			h.countDrop(dropped)
		}
		if err == nil || errors.Is(err, ErrSessionClosed) {
			return
		}
		h.alertFailures.Add(1)
		metrics.AlertsDropped.Inc()
		h.logger.Warn("Alert delivery failed, queue saturated with alerts",
			zap.String("session_id", s.id),
			zap.String("target_id", env.TargetID),
		)
	})
}

func (h *Hub) countDrop(t MessageType) {
	h.dropped.Add(1)
	metrics.HubMessagesDropped.WithLabelValues(string(t)).Inc()
}

func (h *Hub) sendDirect(s *Session, t MessageType, target string, payload any) {
	env, err := NewEnvelope(t, target, payload, h.clock.Now())
	if err != nil {
		h.logger.Error("Failed to encode envelope", zap.String("type", string(t)), zap.Error(err))
		return
	}
	h.deliver(s, env)
}

func (h *Hub) publishEvent(t MessageType, target string, payload any) {
	env, err := NewEnvelope(t, target, payload, h.clock.Now())
	if err != nil {
		h.logger.Error("Failed to encode envelope", zap.String("type", string(t)), zap.Error(err))
		return
	}
	h.Publish(env)
}

func (h *Hub) PublishReading(u models.ReadingUpdate) {
	h.publishEvent(TypeReadingUpdate, u.Reading.StationID, u)
}

func (h *Hub) PublishForecast(f models.Forecast) {
	h.publishEvent(TypeForecastUpdate, f.StationID, f)
}

func (h *Hub) PublishAlert(a models.Alert) {
	h.publishEvent(TypeAlert, a.StationID, a)
}

// Heartbeat records a ping sent to the session. Once MaxMissedPongs pings in
// a row went unanswered the session is disconnected and ErrSessionClosed returned.
func (h *Hub) Heartbeat(sessionID string) error {
	s, ok := h.Session(sessionID)
	if !ok {
		return ErrSessionClosed
	}
	if missed := s.ping(); missed >= h.cfg.MaxMissedPongs {
		h.logger.Info("Session missed pongs, disconnecting",
			zap.String("session_id", sessionID),
			zap.Int("missed", missed),
		)
		h.Disconnect(sessionID)
		return ErrSessionClosed
	}
	return nil
}

// Pong resets the session's missed-pong count
func (h *Hub) Pong(sessionID string) {
	if s, ok := h.Session(sessionID); ok {
		s.pong()
	}
}

// Close disconnects every session
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.Disconnect(id)
	}
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Sessions:              len(h.sessions),
		Subscriptions:         h.subscriptions,
		Targets:               len(h.index),
		MessagesDropped:       h.dropped.Load(),
		AlertDeliveryFailures: h.alertFailures.Load(),
	}
}

func channelList(set map[Channel]bool) []Channel {
	out := make([]Channel, 0, len(set))
	for _, c := range AllChannels {
		if set[c] {
			out = append(out, c)
		}
	}
	return out
}
