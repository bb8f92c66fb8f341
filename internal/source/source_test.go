package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"riverwatch/internal/models"
)

type staticLast map[string]models.Reading

func (s staticLast) Current(id string) (models.Reading, bool) {
	r, ok := s[id]
	return r, ok
}

func TestChain_OrdersByPriority(t *testing.T) {
	fb := NewFallbackAdapter(Descriptor{AdapterName: "model_fallback", Rank: 4}, staticLast{}, time.Hour, 0.5, clockwork.NewFakeClock())
	gov := NewGovernmentAdapter(Descriptor{AdapterName: "government", Rank: 2}, "http://localhost", "", zap.NewNop())
	sensor := NewSensorAdapter(SensorOptions{Descriptor: Descriptor{AdapterName: "sensor", Rank: 1}}, nil, clockwork.NewFakeClock(), zap.NewNop())

	chain := Chain(fb, nil, gov, sensor)
	require.Len(t, chain, 3)
	assert.Equal(t, "sensor", chain[0].Name())
	assert.Equal(t, "government", chain[1].Name())
	assert.Equal(t, "model_fallback", chain[2].Name())
}

func TestNormalizeParameter(t *testing.T) {
	tests := []struct {
		in   string
		want models.Parameter
	}{
		{"dissolved_oxygen", models.ParamDO},
		{"DO", models.ParamDO},
		{"pH", models.ParamPH},
		{" Fecal_Coliform ", models.ParamFC},
		{"water_temperature", models.ParamTemperature},
		{"chloride", models.Parameter("chloride")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeParameter(tt.in), tt.in)
	}
}

func TestGovernmentAdapter_FetchLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		switch r.URL.Path {
		case "/stations/S1/latest":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"station_id":"S1","observed_at":"2024-06-01T10:00:00Z","parameters":{"dissolved_oxygen":6.5,"ph":7.4,"bod":2.1,"fecal_coliform":120}}`))
		case "/stations/S2/latest":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	a := NewGovernmentAdapter(Descriptor{AdapterName: "government", Rank: 2}, srv.URL, "secret", zap.NewNop())

	r, err := a.FetchLatest(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "S1", r.StationID)
	assert.Equal(t, "government", r.Source)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), r.Timestamp.UTC())
	assert.InDelta(t, 6.5, r.Values[models.ParamDO], 1e-9)
	assert.InDelta(t, 120, r.Values[models.ParamFC], 1e-9)

	_, err = a.FetchLatest(context.Background(), "S2")
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = a.FetchLatest(context.Background(), "S3")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestGovernmentAdapter_UnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := NewGovernmentAdapter(Descriptor{AdapterName: "government"}, url, "", zap.NewNop())
	_, err := a.FetchLatest(context.Background(), "S1")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestSatelliteAdapter_CloudCoverLowersConfidence(t *testing.T) {
	var cloud atomic.Value
	cloud.Store("4")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/observations/latest", r.URL.Path)
		assert.Equal(t, "S1", r.URL.Query().Get("station"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"station_id":"S1","acquired_at":"2024-06-01T05:30:00Z","platform":"sentinel-2","cloud_cover":` + cloud.Load().(string) + `,"estimates":{"turbidity":12.5}}`))
	}))
	defer srv.Close()

	a := NewSatelliteAdapter(Descriptor{AdapterName: "satellite", Rank: 3}, srv.URL, "", 10, zap.NewNop())

	r, err := a.FetchLatest(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "satellite:sentinel-2", r.Source)
	assert.InDelta(t, clearSkyConfidence, r.Confidence, 1e-9)
	assert.InDelta(t, 12.5, r.Values[models.ParamTurbidity], 1e-9)

	cloud.Store("45")
	r, err = a.FetchLatest(context.Background(), "S1")
	require.NoError(t, err)
	assert.InDelta(t, cloudyConfidence, r.Confidence, 1e-9)
}

func TestFallbackAdapter(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	d := Descriptor{AdapterName: "model_fallback", Rank: 4}

	t.Run("no prior reading", func(t *testing.T) {
		a := NewFallbackAdapter(d, staticLast{}, 48*time.Hour, 0.5, clock)
		_, err := a.FetchLatest(context.Background(), "S1")
		assert.True(t, errors.Is(err, ErrUnavailable))
	})

	t.Run("carries values forward", func(t *testing.T) {
		last := staticLast{"S1": {
			StationID:  "S1",
			Timestamp:  clock.Now().Add(-2 * time.Hour),
			Values:     map[models.Parameter]float64{models.ParamDO: 6.1},
			Source:     "government",
			Confidence: 0.95,
		}}
		a := NewFallbackAdapter(d, last, 48*time.Hour, 0.5, clock)

		r, err := a.FetchLatest(context.Background(), "S1")
		require.NoError(t, err)
		assert.Equal(t, clock.Now(), r.Timestamp)
		assert.Equal(t, "model_fallback", r.Source)
		assert.InDelta(t, 0.5, r.Confidence, 1e-9)
		assert.InDelta(t, 6.1, r.Values[models.ParamDO], 1e-9)

		r.Values[models.ParamDO] = 0
		assert.InDelta(t, 6.1, last["S1"].Values[models.ParamDO], 1e-9)
	})

	t.Run("expires from the original observation", func(t *testing.T) {
		start := clock.Now()
		last := staticLast{"S1": {
			StationID: "S1",
			Timestamp: start.Add(-47 * time.Hour),
			Values:    map[models.Parameter]float64{models.ParamDO: 6.1},
			Source:    "sensor",
		}}
		a := NewFallbackAdapter(d, last, 48*time.Hour, 0.5, clock)

		r, err := a.FetchLatest(context.Background(), "S1")
		require.NoError(t, err)
		last["S1"] = r

		clock.Advance(2 * time.Hour)
		_, err = a.FetchLatest(context.Background(), "S1")
		assert.True(t, errors.Is(err, ErrUnavailable))
	})
}
