package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"riverwatch/internal/hub"
	"riverwatch/internal/models"
	"riverwatch/internal/orchestrator"
	"riverwatch/internal/source"
)

const (
	defaultAlertLimit = 100
	maxAlertLimit     = 1000
)

// Collector is the read side of the collection orchestrator
type Collector interface {
	Stations() []models.Station
	Station(id string) (models.Station, bool)
	Statuses() map[string]orchestrator.CycleStatus
	CheckReadiness(ctx context.Context) error
}

type CurrentReadings interface {
	Snapshot(stationID string) (models.ReadingUpdate, bool)
}

type Forecasts interface {
	Latest(stationID string) (models.Forecast, bool)
}

type AlertStore interface {
	GetAlerts(ctx context.Context, stationID string, limit int) ([]models.Alert, error)
}

// AlertsFunc adapts an in-memory alert history to AlertStore
type AlertsFunc func(ctx context.Context, stationID string, limit int) ([]models.Alert, error)

func (f AlertsFunc) GetAlerts(ctx context.Context, stationID string, limit int) ([]models.Alert, error) {
	return f(ctx, stationID, limit)
}

type SensorHealth interface {
	All() map[string]source.SensorHealth
}

// StationControl stops monitoring a station without deleting it
type StationControl interface {
	Deactivate(ctx context.Context, stationID string) error
}

type Streams interface {
	ServeWS(w http.ResponseWriter, r *http.Request, target string)
	Stats() hub.Stats
}

// Deps are the components the HTTP surface reads from. Sensors may be nil
// when the MQTT adapter is disabled.
type Deps struct {
	Collector Collector
	Current   CurrentReadings
	Forecasts Forecasts
	Alerts    AlertStore
	Sensors   SensorHealth
	Streams   Streams
	Control   StationControl
}

// Server represents the HTTP server
type Server struct {
	deps   Deps
	logger *zap.Logger
	router chi.Router
	http   *http.Server
}

// NewServer creates a new HTTP server
func NewServer(deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logger.With(zap.String("component", "http")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/stations", s.handleStations)
	r.Route("/stations/{id}", func(r chi.Router) {
		r.Get("/current", s.handleCurrent)
		r.Get("/forecast", s.handleForecast)
		r.Post("/deactivate", s.handleDeactivate)
	})
	r.Get("/alerts", s.handleAlerts)
	r.Get("/sensors/health", s.handleSensorHealth)

	r.Get("/ws", s.handleWS)
	r.Get("/ws/stations/{id}", s.handleStationWS)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth returns the server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().String(),
	})
}

// handleReady reports ready once at least one station has a current reading
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Collector.CheckReadiness(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"collection": s.deps.Collector.Statuses(),
	}
	if s.deps.Streams != nil {
		resp["hub"] = s.deps.Streams.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	stations := s.deps.Collector.Stations()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(stations),
		"stations": stations,
	})
}

func (s *Server) station(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, ok := s.deps.Collector.Station(id); !ok {
		writeError(w, http.StatusNotFound, "unknown station "+id)
		return "", false
	}
	return id, true
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.station(w, r)
	if !ok {
		return
	}
	u, ok := s.deps.Current.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no reading yet for station "+id)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	id, ok := s.station(w, r)
	if !ok {
		return
	}
	fc, ok := s.deps.Forecasts.Latest(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no forecast yet for station "+id)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.station(w, r)
	if !ok {
		return
	}
	if s.deps.Control == nil {
		writeError(w, http.StatusNotImplemented, "station control not configured")
		return
	}
	if err := s.deps.Control.Deactivate(r.Context(), id); err != nil {
		s.logger.Error("Failed to deactivate station", zap.String("station_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to deactivate station")
		return
	}
	s.logger.Info("Station deactivated", zap.String("station_id", id))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "station_id": id})
}

// handleAlerts returns recent alerts, newest first
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(l, maxAlertLimit)
	}
	stationID := r.URL.Query().Get("station")

	alerts, err := s.deps.Alerts.GetAlerts(r.Context(), stationID, limit)
	if err != nil {
		s.logger.Error("Failed to load alerts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load alerts")
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

func (s *Server) handleSensorHealth(w http.ResponseWriter, r *http.Request) {
	sensors := map[string]source.SensorHealth{}
	if s.deps.Sensors != nil {
		sensors = s.deps.Sensors.All()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(sensors),
		"sensors": sensors,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.deps.Streams.ServeWS(w, r, "")
}

// handleStationWS subscribes the new session to the station before any event is sent
func (s *Server) handleStationWS(w http.ResponseWriter, r *http.Request) {
	id, ok := s.station(w, r)
	if !ok {
		return
	}
	s.deps.Streams.ServeWS(w, r, id)
}
