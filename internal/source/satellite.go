package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"riverwatch/internal/models"
)

const (
	clearSkyConfidence = 0.85
	cloudyConfidence   = 0.6
)

type satelliteResponse struct {
	StationID  string             `json:"station_id"`
	AcquiredAt time.Time          `json:"acquired_at"`
	Platform   string             `json:"platform"`
	CloudCover float64            `json:"cloud_cover"`
	Estimates  map[string]float64 `json:"estimates"`
}

// SatelliteAdapter reads remote-sensing estimates for the water body around a station.
// Scenes with cloud cover above the configured maximum are still served at reduced confidence.
type SatelliteAdapter struct {
	Descriptor
	client        *resty.Client
	maxCloudCover float64
	logger        *zap.Logger
}

func NewSatelliteAdapter(d Descriptor, baseURL, apiKey string, maxCloudCover float64, logger *zap.Logger) *SatelliteAdapter {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &SatelliteAdapter{
		Descriptor:    d,
		client:        client,
		maxCloudCover: maxCloudCover,
		logger:        logger,
	}
}

func (a *SatelliteAdapter) FetchLatest(ctx context.Context, stationID string) (models.Reading, error) {
	var out satelliteResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("station", stationID).
		SetResult(&out).
		Get("/observations/latest")
	if err != nil {
		if ctx.Err() != nil {
			return models.Reading{}, ctx.Err()
		}
		return models.Reading{}, fmt.Errorf("%w: satellite api: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return models.Reading{}, fmt.Errorf("%w: no satellite scene for %s", ErrUnavailable, stationID)
	}
	if resp.IsError() {
		return models.Reading{}, fmt.Errorf("%w: satellite api status %d", ErrUnavailable, resp.StatusCode())
	}
	if len(out.Estimates) == 0 || out.AcquiredAt.IsZero() {
		return models.Reading{}, fmt.Errorf("%w: satellite scene has no estimates", ErrUnavailable)
	}

	confidence := clearSkyConfidence
	if out.CloudCover > a.maxCloudCover {
		confidence = cloudyConfidence
		a.logger.Debug("Cloudy satellite scene",
			zap.String("station_id", stationID),
			zap.Float64("cloud_cover", out.CloudCover),
		)
	}

	src := a.Name()
	if out.Platform != "" {
		src += ":" + out.Platform
	}
	return models.Reading{
		StationID:  stationID,
		Timestamp:  out.AcquiredAt,
		Values:     normalizeValues(out.Estimates),
		Source:     src,
		Confidence: confidence,
	}, nil
}
