package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database metrics
var (
	// DBQueriesTotal tracks the total number of database queries
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_queries_total",
			Help: "Total number of database queries executed",
		},
		[]string{"query_type", "table", "status"},
	)

	// DBQueryDuration tracks the duration of database queries
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type", "table"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of established connections both in use and idle",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of connections currently in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle connections",
		},
	)
)

// Collection metrics
var (
	// CollectionCycles counts orchestrator cycles by outcome (published, unchanged, exhausted, timeout)
	CollectionCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_collection_cycles_total",
			Help: "Collection cycles by outcome",
		},
		[]string{"outcome"},
	)

	CollectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "riverwatch_collection_cycle_duration_seconds",
			Help:    "Duration of a full collection cycle for one station",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// AdapterFetches counts source adapter calls by adapter and outcome
	AdapterFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_adapter_fetches_total",
			Help: "Source adapter fetch attempts by adapter and outcome",
		},
		[]string{"adapter", "outcome"},
	)

	ValidationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_validation_rejections_total",
			Help: "Candidate readings rejected by the validator",
		},
		[]string{"reason"},
	)

	CurrentIndex = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "riverwatch_current_wqi",
			Help: "Water quality index of the current reading per station",
		},
		[]string{"station"},
	)
)

// Forecast metrics
var (
	ForecastRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_forecast_runs_total",
			Help: "Forecast cycles by outcome",
		},
		[]string{"outcome"},
	)

	ForecastModelErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_forecast_model_errors_total",
			Help: "Regressor failures by parameter",
		},
		[]string{"parameter"},
	)
)

// Alert metrics
var (
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_alerts_emitted_total",
			Help: "Alerts delivered after deduplication",
		},
		[]string{"severity"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_alerts_suppressed_total",
			Help: "Alerts suppressed inside the cooldown window",
		},
		[]string{"parameter", "severity"},
	)

	AlertsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "riverwatch_alerts_dropped_total",
			Help: "Alerts dropped after a failed re-enqueue",
		},
	)
)

// Hub and sink metrics
var (
	HubSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "riverwatch_hub_sessions",
			Help: "Connected streaming sessions",
		},
	)

	HubSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "riverwatch_hub_subscriptions",
			Help: "Active subscriptions across all sessions",
		},
	)

	HubMessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_hub_messages_dropped_total",
			Help: "Outbound messages shed from full session queues",
		},
		[]string{"type"},
	)

	SinkDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_sink_dropped_total",
			Help: "Records dropped because a persistence sink was saturated or failed",
		},
		[]string{"sink", "kind"},
	)
)

var (
	// AppInfo provides static information about the application
	AppInfo = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "riverwatch_app_info",
			Help: "Application information (always 1)",
		},
	)

	AppStartTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "riverwatch_app_start_time_seconds",
			Help: "Unix timestamp of when the application started",
		},
	)
)

func init() {
	AppInfo.Set(1)
	AppStartTime.SetToCurrentTime()
}

// RecordDBQuery records a database query execution
func RecordDBQuery(queryType, table string, duration time.Duration, err error) {
	DBQueriesTotal.WithLabelValues(queryType, table, status(err)).Inc()
	DBQueryDuration.WithLabelValues(queryType, table).Observe(duration.Seconds())
}

// UpdateDBConnectionStats updates database connection pool statistics
func UpdateDBConnectionStats(open, inUse, idle int) {
	DBConnectionsOpen.Set(float64(open))
	DBConnectionsInUse.Set(float64(inUse))
	DBConnectionsIdle.Set(float64(idle))
}

// RecordAdapterFetch records one adapter call
func RecordAdapterFetch(adapter, outcome string) {
	AdapterFetches.WithLabelValues(adapter, outcome).Inc()
}

// RecordCollectionCycle records the outcome and duration of one collection cycle
func RecordCollectionCycle(outcome string, duration time.Duration) {
	CollectionCycles.WithLabelValues(outcome).Inc()
	CollectionDuration.Observe(duration.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
