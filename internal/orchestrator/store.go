package orchestrator

import (
	"sync"

	"riverwatch/internal/models"
)

type currentEntry struct {
	reading models.Reading
	index   models.Index
}

// CurrentStore holds the most recently accepted reading per station.
// Only the orchestrator writes to it.
type CurrentStore struct {
	mu      sync.RWMutex
	entries map[string]currentEntry
}

func NewCurrentStore() *CurrentStore {
	return &CurrentStore{entries: make(map[string]currentEntry)}
}

// Current returns a copy of the station's current reading
func (s *CurrentStore) Current(stationID string) (models.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[stationID]
	if !ok {
		return models.Reading{}, false
	}
	return e.reading.Clone(), true
}

// Snapshot returns the current reading together with the index derived from it
func (s *CurrentStore) Snapshot(stationID string) (models.ReadingUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[stationID]
	if !ok {
		return models.ReadingUpdate{}, false
	}
	return models.ReadingUpdate{Reading: e.reading.Clone(), Index: e.index}, true
}

func (s *CurrentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *CurrentStore) set(r models.Reading, idx models.Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[r.StationID] = currentEntry{reading: r.Clone(), index: idx}
}
