package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"riverwatch/internal/metrics"
	"riverwatch/internal/models"
)

// ErrDuplicate is returned when a row with the same key already exists
var ErrDuplicate = errors.New("duplicate entry")

// DB represents the database connection
type DB struct {
	conn *sql.DB
}

// NewDB opens the connection and initializes the schema
// dsn format: "username:password@tcp(host:port)/dbname?parseTime=true"
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := New(conn)
	if err := db.InitSchema(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// New wraps an open connection without touching the schema
func New(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// InitSchema creates the tables if they do not exist
func (db *DB) InitSchema(ctx context.Context) error {
	// MySQL doesn't support multiple statements in one Exec
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stations (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT '',
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			basin VARCHAR(255) NOT NULL DEFAULT '',
			station_type VARCHAR(64) NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE TABLE IF NOT EXISTS measurements (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			station_id VARCHAR(64) NOT NULL,
			observed_at DATETIME(6) NOT NULL,
			parameter VARCHAR(32) NOT NULL,
			value DOUBLE NOT NULL,
			source VARCHAR(64) NOT NULL,
			confidence DOUBLE NOT NULL,
			INDEX idx_measurements_station_time (station_id, observed_at),
			INDEX idx_measurements_parameter (parameter)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE TABLE IF NOT EXISTS wqi_readings (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			station_id VARCHAR(64) NOT NULL,
			observed_at DATETIME(6) NOT NULL,
			wqi DOUBLE NOT NULL,
			classification VARCHAR(32) NOT NULL,
			class CHAR(1) NOT NULL,
			partial BOOLEAN NOT NULL DEFAULT FALSE,
			source VARCHAR(64) NOT NULL,
			quality VARCHAR(16) NOT NULL,
			UNIQUE KEY uq_wqi_station_time (station_id, observed_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			station_id VARCHAR(64) NOT NULL,
			parameter VARCHAR(32) NOT NULL,
			severity VARCHAR(16) NOT NULL,
			origin VARCHAR(16) NOT NULL,
			horizon_days INT NOT NULL DEFAULT 0,
			threshold DOUBLE NOT NULL,
			operator VARCHAR(4) NOT NULL,
			value DOUBLE NOT NULL,
			message TEXT NOT NULL,
			raised_at DATETIME(6) NOT NULL,
			INDEX idx_alerts_station_time (station_id, raised_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (db *DB) recordPoolStats() {
	stats := db.conn.Stats()
	metrics.UpdateDBConnectionStats(stats.OpenConnections, stats.InUse, stats.Idle)
}

// StoreReading writes the per-parameter measurements and the index row of one
// accepted reading in a single transaction. A reading already stored is a no-op.
func (db *DB) StoreReading(ctx context.Context, u models.ReadingUpdate) error {
	defer db.recordPoolStats()
	r := u.Reading

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	queryStart := time.Now()
	res, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO wqi_readings (station_id, observed_at, wqi, classification, class, partial, source, quality) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.StationID, r.Timestamp, u.Index.Value, u.Index.Classification, u.Index.Class, u.Index.Partial, r.Source, string(r.Quality))
	metrics.RecordDBQuery("INSERT", "wqi_readings", time.Since(queryStart), err)
	if err != nil {
		return fmt.Errorf("failed to store index for %s at %s: %w", r.StationID, r.Timestamp, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	params := make([]string, 0, len(r.Values))
	for p := range r.Values {
		params = append(params, string(p))
	}
	sort.Strings(params)

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO measurements (station_id, observed_at, parameter, value, source, confidence) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range params {
		queryStart = time.Now()
		_, err = stmt.ExecContext(ctx, r.StationID, r.Timestamp, p, r.Values[models.Parameter(p)], r.Source, r.Confidence)
		metrics.RecordDBQuery("INSERT", "measurements", time.Since(queryStart), err)
		if err != nil {
			return fmt.Errorf("failed to store %s for %s: %w", p, r.StationID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// StoreAlert inserts an alert and returns its id
func (db *DB) StoreAlert(ctx context.Context, a models.Alert) (int64, error) {
	defer db.recordPoolStats()

	queryStart := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO alerts (station_id, parameter, severity, origin, horizon_days, threshold, operator, value, message, raised_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.StationID, string(a.Parameter), string(a.Severity), string(a.Origin), a.HorizonDays, a.Threshold, a.Operator, a.Value, a.Message, a.Timestamp)
	metrics.RecordDBQuery("INSERT", "alerts", time.Since(queryStart), err)
	if err != nil {
		return 0, fmt.Errorf("failed to store alert for %s: %w", a.StationID, err)
	}
	return res.LastInsertId()
}

// AppendReading lets the database serve directly as a persistence sink
func (db *DB) AppendReading(ctx context.Context, u models.ReadingUpdate) error {
	return db.StoreReading(ctx, u)
}

func (db *DB) AppendAlert(ctx context.Context, a models.Alert) error {
	_, err := db.StoreAlert(ctx, a)
	return err
}

// GetAlerts returns the most recent alerts, optionally for one station
func (db *DB) GetAlerts(ctx context.Context, stationID string, limit int) ([]models.Alert, error) {
	query := `SELECT id, station_id, parameter, severity, origin, horizon_days, threshold, operator, value, message, raised_at FROM alerts`
	var args []interface{}
	if stationID != "" {
		query += ` WHERE station_id = ?`
		args = append(args, stationID)
	}
	query += ` ORDER BY raised_at DESC LIMIT ?`
	args = append(args, limit)

	queryStart := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("SELECT", "alerts", time.Since(queryStart), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var param, severity, origin string
		if err := rows.Scan(&a.ID, &a.StationID, &param, &severity, &origin, &a.HorizonDays,
			&a.Threshold, &a.Operator, &a.Value, &a.Message, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Parameter = models.Parameter(param)
		a.Severity = models.Severity(severity)
		a.Origin = models.Origin(origin)
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// InsertStation adds a station. It returns ErrDuplicate when the id exists.
func (db *DB) InsertStation(ctx context.Context, s models.Station) error {
	queryStart := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO stations (id, name, latitude, longitude, basin, station_type, active) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Latitude, s.Longitude, s.Basin, s.Type, s.Active)
	metrics.RecordDBQuery("INSERT", "stations", time.Since(queryStart), err)
	if err != nil {
		var myErr *mysql.MySQLError
		if (errors.As(err, &myErr) && myErr.Number == 1062) || strings.Contains(err.Error(), "Duplicate entry") {
			return fmt.Errorf("station %s: %w", s.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert station: %w", err)
	}
	return nil
}

// DeactivateStation marks a station inactive. Stations are never deleted.
func (db *DB) DeactivateStation(ctx context.Context, id string) error {
	queryStart := time.Now()
	_, err := db.conn.ExecContext(ctx, `UPDATE stations SET active = FALSE WHERE id = ?`, id)
	metrics.RecordDBQuery("UPDATE", "stations", time.Since(queryStart), err)
	return err
}

// GetStations returns every station, optionally only the active ones
func (db *DB) GetStations(ctx context.Context, activeOnly bool) ([]models.Station, error) {
	query := `SELECT id, name, latitude, longitude, basin, station_type, active FROM stations`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY id`

	queryStart := time.Now()
	rows, err := db.conn.QueryContext(ctx, query)
	metrics.RecordDBQuery("SELECT", "stations", time.Since(queryStart), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query stations: %w", err)
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var s models.Station
		if err := rows.Scan(&s.ID, &s.Name, &s.Latitude, &s.Longitude, &s.Basin, &s.Type, &s.Active); err != nil {
			return nil, fmt.Errorf("failed to scan station: %w", err)
		}
		stations = append(stations, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stations: %w", err)
	}
	return stations, nil
}

// Ping checks connectivity
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
