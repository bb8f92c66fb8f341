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

// governmentConfidence is the confidence assigned to lab-verified agency data
const governmentConfidence = 0.95

type governmentResponse struct {
	StationID  string             `json:"station_id"`
	ObservedAt time.Time          `json:"observed_at"`
	Parameters map[string]float64 `json:"parameters"`
}

// GovernmentAdapter reads the latest published sample from the monitoring agency's API
type GovernmentAdapter struct {
	Descriptor
	client *resty.Client
	logger *zap.Logger
}

func NewGovernmentAdapter(d Descriptor, baseURL, apiKey string, logger *zap.Logger) *GovernmentAdapter {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}
	return &GovernmentAdapter{
		Descriptor: d,
		client:     client,
		logger:     logger,
	}
}

func (a *GovernmentAdapter) FetchLatest(ctx context.Context, stationID string) (models.Reading, error) {
	var out governmentResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", stationID).
		SetResult(&out).
		Get("/stations/{id}/latest")
	if err != nil {
		if ctx.Err() != nil {
			return models.Reading{}, ctx.Err()
		}
		return models.Reading{}, fmt.Errorf("%w: government api: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return models.Reading{}, fmt.Errorf("%w: government api has no data for %s", ErrUnavailable, stationID)
	}
	if resp.IsError() {
		a.logger.Warn("Government API returned error status",
			zap.String("station_id", stationID),
			zap.Int("status", resp.StatusCode()),
		)
		return models.Reading{}, fmt.Errorf("%w: government api status %d", ErrUnavailable, resp.StatusCode())
	}
	if len(out.Parameters) == 0 || out.ObservedAt.IsZero() {
		return models.Reading{}, fmt.Errorf("%w: government api returned an empty sample", ErrUnavailable)
	}

	return models.Reading{
		StationID:  stationID,
		Timestamp:  out.ObservedAt,
		Values:     normalizeValues(out.Parameters),
		Source:     a.Name(),
		Confidence: governmentConfidence,
	}, nil
}
