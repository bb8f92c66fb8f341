package source

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// maxSensorErrors is the error count after which a sensor is reported degraded
const maxSensorErrors = 10

// SensorHealth is the reported state of one physical sensor
type SensorHealth struct {
	SensorID     string    `json:"sensor_id"`
	Status       string    `json:"status"` // active, degraded, offline, unknown
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	ReadingCount int       `json:"reading_count"`
	ErrorCount   int       `json:"error_count"`
	ErrorRate    float64   `json:"error_rate"`
}

type sensorState struct {
	firstSeen    time.Time
	lastSeen     time.Time
	readingCount int
	errorCount   int
}

// HealthMonitor tracks per-sensor liveness and error rates
type HealthMonitor struct {
	checkInterval time.Duration
	clock         clockwork.Clock

	mu      sync.RWMutex
	sensors map[string]*sensorState
}

func NewHealthMonitor(checkInterval time.Duration, clock clockwork.Clock) *HealthMonitor {
	return &HealthMonitor{
		checkInterval: checkInterval,
		clock:         clock,
		sensors:       make(map[string]*sensorState),
	}
}

// Record notes one message from a sensor and whether it carried a valid value
func (h *HealthMonitor) Record(sensorID string, valid bool) {
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.sensors[sensorID]
	if !ok {
		st = &sensorState{firstSeen: now}
		h.sensors[sensorID] = st
	}
	st.lastSeen = now
	st.readingCount++
	if !valid {
		st.errorCount++
	}
}

func (h *HealthMonitor) Check(sensorID string) SensorHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st, ok := h.sensors[sensorID]
	if !ok {
		return SensorHealth{SensorID: sensorID, Status: "unknown"}
	}
	return h.report(sensorID, st)
}

func (h *HealthMonitor) All() map[string]SensorHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]SensorHealth, len(h.sensors))
	for id, st := range h.sensors {
		out[id] = h.report(id, st)
	}
	return out
}

func (h *HealthMonitor) report(id string, st *sensorState) SensorHealth {
	status := "active"
	switch {
	case h.clock.Since(st.lastSeen) > h.checkInterval:
		status = "offline"
	case st.errorCount > maxSensorErrors:
		status = "degraded"
	}

	rate := 0.0
	if st.readingCount > 0 {
		rate = float64(st.errorCount) / float64(st.readingCount)
	}

	return SensorHealth{
		SensorID:     id,
		Status:       status,
		FirstSeen:    st.firstSeen,
		LastSeen:     st.lastSeen,
		ReadingCount: st.readingCount,
		ErrorCount:   st.errorCount,
		ErrorRate:    rate,
	}
}
