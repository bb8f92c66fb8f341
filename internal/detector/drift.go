package detector

import (
	"sync"

	"riverwatch/internal/models"
)

// minDriftSamples is the window fill needed before z-scores are trusted
const minDriftSamples = 10

type driftKey struct {
	station   string
	parameter models.Parameter
}

// window is a fixed-size ring of recent values
type window struct {
	values []float64
	next   int
	full   bool
}

func (w *window) add(v float64) {
	w.values[w.next] = v
	w.next = (w.next + 1) % len(w.values)
	if w.next == 0 {
		w.full = true
	}
}

func (w *window) snapshot() []float64 {
	if w.full {
		return append([]float64(nil), w.values...)
	}
	return append([]float64(nil), w.values[:w.next]...)
}

// DriftTracker keeps a rolling window per station and parameter and scores
// each new value against the window that preceded it.
type DriftTracker struct {
	size      int
	threshold float64

	mu      sync.Mutex
	windows map[driftKey]*window
}

func NewDriftTracker(size int, threshold float64) *DriftTracker {
	if size < minDriftSamples {
		size = minDriftSamples
	}
	return &DriftTracker{
		size:      size,
		threshold: threshold,
		windows:   make(map[driftKey]*window),
	}
}

// Observe records v and returns its z-score against the previous window.
// ok is false until the window holds enough samples or when it has no variation.
func (d *DriftTracker) Observe(stationID string, p models.Parameter, v float64) (z float64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := driftKey{stationID, p}
	w, found := d.windows[key]
	if !found {
		w = &window{values: make([]float64, d.size)}
		d.windows[key] = w
	}

	history := w.snapshot()
	w.add(v)

	if len(history) < minDriftSamples {
		return 0, false
	}
	mean := calculateMean(history)
	stdDev := calculateStdDev(history, mean)
	if stdDev == 0 {
		return 0, false
	}
	return CalculateZScore(v, mean, stdDev), true
}

// Forget drops every window for the station
func (d *DriftTracker) Forget(stationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.windows {
		if k.station == stationID {
			delete(d.windows, k)
		}
	}
}
