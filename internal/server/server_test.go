package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"riverwatch/internal/hub"
	"riverwatch/internal/models"
	"riverwatch/internal/orchestrator"
	"riverwatch/internal/source"
)

type fakeCollector struct {
	stations []models.Station
	ready    error
}

func (f *fakeCollector) Stations() []models.Station { return f.stations }

func (f *fakeCollector) Station(id string) (models.Station, bool) {
	for _, s := range f.stations {
		if s.ID == id {
			return s, true
		}
	}
	return models.Station{}, false
}

func (f *fakeCollector) Statuses() map[string]orchestrator.CycleStatus {
	return map[string]orchestrator.CycleStatus{
		"S1": {StationID: "S1", Outcome: orchestrator.OutcomePublished, Source: "sensor"},
	}
}

func (f *fakeCollector) CheckReadiness(context.Context) error { return f.ready }

type fakeCurrent map[string]models.ReadingUpdate

func (f fakeCurrent) Snapshot(id string) (models.ReadingUpdate, bool) {
	u, ok := f[id]
	return u, ok
}

type fakeForecasts map[string]models.Forecast

func (f fakeForecasts) Latest(id string) (models.Forecast, bool) {
	fc, ok := f[id]
	return fc, ok
}

type fakeSensors map[string]source.SensorHealth

func (f fakeSensors) All() map[string]source.SensorHealth { return f }

type fakeControl struct {
	deactivated []string
}

func (f *fakeControl) Deactivate(_ context.Context, id string) error {
	f.deactivated = append(f.deactivated, id)
	return nil
}

type alertCall struct {
	station string
	limit   int
}

func newTestServer(t *testing.T) (*Server, *alertCall, *hub.Hub) {
	t.Helper()
	call := &alertCall{}
	h := hub.New(hub.DefaultConfig(), clockwork.NewFakeClock(), zap.NewNop())
	t.Cleanup(h.Close)

	deps := Deps{
		Collector: &fakeCollector{stations: []models.Station{
			{ID: "S1", Name: "Upstream", Active: true},
			{ID: "S2", Name: "Downstream", Active: true},
		}},
		Current: fakeCurrent{"S1": {
			Reading: models.Reading{StationID: "S1", Values: map[models.Parameter]float64{models.ParamDO: 6.1}},
			Index:   models.Index{Value: 71, Classification: "Good", Class: "B"},
		}},
		Forecasts: fakeForecasts{"S1": {StationID: "S1", Points: []models.ForecastPoint{{HorizonDays: 7}}}},
		Alerts: AlertsFunc(func(_ context.Context, station string, limit int) ([]models.Alert, error) {
			call.station, call.limit = station, limit
			if station == "broken" {
				return nil, errors.New("db down")
			}
			return []models.Alert{{StationID: "S1", Severity: models.SeverityCritical}}, nil
		}),
		Sensors: fakeSensors{"sensor-1": {SensorID: "sensor-1", Status: "active"}},
		Streams: h,
		Control: &fakeControl{},
	}
	return NewServer(deps, zap.NewNop()), call, h
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := get(t, s, "/health")

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("handleHealth() status = %v, want %v", resp.StatusCode, http.StatusOK)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("handleHealth() content-type = %v, want application/json", contentType)
	}

	var response map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["status"] != "healthy" {
		t.Errorf("handleHealth() status in body = %v, want healthy", response["status"])
	}
}

func TestHandleReady(t *testing.T) {
	s, _, _ := newTestServer(t)
	assert.Equal(t, http.StatusOK, get(t, s, "/readyz").Code)

	s.deps.Collector.(*fakeCollector).ready = errors.New("no station has a current reading")
	w := get(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "no station has a current reading")
}

func TestHandleStats(t *testing.T) {
	s, _, h := newTestServer(t)
	h.Register()

	w := get(t, s, "/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Collection map[string]orchestrator.CycleStatus `json:"collection"`
		Hub        hub.Stats                           `json:"hub"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Hub.Sessions)
	assert.Equal(t, orchestrator.OutcomePublished, body.Collection["S1"].Outcome)
}

func TestHandleStations(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := get(t, s, "/stations")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestHandleCurrent(t *testing.T) {
	s, _, _ := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"has reading", "/stations/S1/current", http.StatusOK},
		{"no reading yet", "/stations/S2/current", http.StatusNotFound},
		{"unknown station", "/stations/S9/current", http.StatusNotFound},
		{"forecast", "/stations/S1/forecast", http.StatusOK},
		{"no forecast yet", "/stations/S2/forecast", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, get(t, s, tt.path).Code)
		})
	}

	var u models.ReadingUpdate
	require.NoError(t, json.Unmarshal(get(t, s, "/stations/S1/current").Body.Bytes(), &u))
	assert.Equal(t, "B", u.Index.Class)
}

func TestHandleAlerts(t *testing.T) {
	s, call, _ := newTestServer(t)

	w := get(t, s, "/alerts?station=S1&limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "S1", call.station)
	assert.Equal(t, 5, call.limit)
	assert.Contains(t, w.Body.String(), `"count":1`)

	get(t, s, "/alerts")
	assert.Equal(t, defaultAlertLimit, call.limit)

	get(t, s, "/alerts?limit=50000")
	assert.Equal(t, maxAlertLimit, call.limit)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/alerts?limit=abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/alerts?limit=0").Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, s, "/alerts?station=broken").Code)
}

func TestHandleSensorHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := get(t, s, "/sensors/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"active"`)

	s.deps.Sensors = nil
	assert.Contains(t, get(t, s, "/sensors/health").Body.String(), `"count":0`)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "riverwatch_app_info")
}

func TestStationWS_AutoSubscribes(t *testing.T) {
	s, _, h := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stations/S1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() hub.Envelope {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var env hub.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		return env
	}

	assert.Equal(t, hub.TypeConnected, read().Type)
	assert.Equal(t, hub.TypeSubscribe, read().Type)

	h.PublishReading(models.ReadingUpdate{Reading: models.Reading{StationID: "S2"}})
	h.PublishReading(models.ReadingUpdate{Reading: models.Reading{StationID: "S1"}})

	env := read()
	assert.Equal(t, hub.TypeReadingUpdate, env.Type)
	assert.Equal(t, "S1", env.TargetID)
}

func TestStationWS_UnknownStation(t *testing.T) {
	s, _, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/ws/stations/S9").Code)
}

func TestHandleDeactivate(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/stations/S2/deactivate", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"S2"}, s.deps.Control.(*fakeControl).deactivated)

	req = httptest.NewRequest(http.MethodPost, "/stations/S9/deactivate", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, http.StatusMethodNotAllowed, get(t, s, "/stations/S2/deactivate").Code)
}
