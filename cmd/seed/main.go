package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"riverwatch/internal/config"
	"riverwatch/internal/database"
	"riverwatch/internal/logger"
	"riverwatch/internal/models"
)

func main() {
	csvPath := "stations_seed.csv"
	if len(os.Args) > 1 {
		csvPath = os.Args[1]
	}

	zl, err := logger.NewLogger("info", "console", "riverwatch-seed")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	dbCfg, err := config.LoadDatabaseConfig()
	if err != nil {
		zl.Fatal("Failed to read database config", zap.Error(err))
	}
	db, err := database.NewDB(dbCfg.DSN())
	if err != nil {
		zl.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	file, err := os.Open(csvPath)
	if err != nil {
		zl.Fatal("Failed to open CSV file", zap.String("path", csvPath), zap.Error(err))
	}
	defer file.Close()

	stations, skipped, err := parseStations(file, zl)
	if err != nil {
		zl.Fatal("Failed to read CSV", zap.Error(err))
	}

	ctx := context.Background()
	count := 0
	for _, s := range stations {
		if err := db.InsertStation(ctx, s); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				zl.Info("Station already exists", zap.String("station_id", s.ID))
			} else {
				zl.Warn("Failed to insert station", zap.String("station_id", s.ID), zap.Error(err))
			}
			skipped++
			continue
		}
		count++
		if count%100 == 0 {
			zl.Info("Inserting stations", zap.Int("inserted", count))
		}
	}

	zl.Info("Import complete", zap.Int("inserted", count), zap.Int("skipped", skipped))
}

// parseStations reads rows of id,name,latitude,longitude[,basin[,type]] after a
// header row. Invalid rows are skipped and counted.
func parseStations(r io.Reader, zl *zap.Logger) ([]models.Station, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	zl.Debug("CSV header", zap.Strings("columns", header))

	var stations []models.Station
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("failed to read CSV record: %w", err)
		}

		s, err := parseStation(record)
		if err != nil {
			zl.Warn("Skipping invalid record", zap.Strings("record", record), zap.Error(err))
			skipped++
			continue
		}
		stations = append(stations, s)
	}
	return stations, skipped, nil
}

func parseStation(record []string) (models.Station, error) {
	if len(record) < 4 {
		return models.Station{}, fmt.Errorf("expected at least 4 fields, got %d", len(record))
	}
	id := strings.TrimSpace(record[0])
	if id == "" {
		return models.Station{}, errors.New("empty station id")
	}
	lat, err := strconv.ParseFloat(record[2], 64)
	if err != nil || lat < -90 || lat > 90 {
		return models.Station{}, fmt.Errorf("invalid latitude %q", record[2])
	}
	lon, err := strconv.ParseFloat(record[3], 64)
	if err != nil || lon < -180 || lon > 180 {
		return models.Station{}, fmt.Errorf("invalid longitude %q", record[3])
	}

	s := models.Station{ID: id, Name: record[1], Latitude: lat, Longitude: lon, Active: true}
	if len(record) > 4 {
		s.Basin = record[4]
	}
	if len(record) > 5 {
		s.Type = record[5]
	}
	return s, nil
}
