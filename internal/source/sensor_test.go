package source

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"riverwatch/internal/models"
)

func newTestSensor(clock clockwork.Clock) *SensorAdapter {
	return NewSensorAdapter(SensorOptions{
		Descriptor:  Descriptor{AdapterName: "sensor", Rank: 1, Staleness: 15 * time.Minute},
		TopicPrefix: "water",
	}, NewHealthMonitor(5*time.Minute, clock), clock, zap.NewNop())
}

func TestSensorAdapter_AssemblesLatestReading(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	a := newTestSensor(clock)

	a.handleMessage("water/S1/dissolved_oxygen", []byte(`{"sensor_id":"do-1","value":6.4,"timestamp":"2024-06-01T11:58:00Z","quality":0.9}`))
	a.handleMessage("water/S1/pH", []byte(`7.3`))
	a.handleMessage("water/S2/pH", []byte(`7.9`))

	r, err := a.FetchLatest(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "sensor", r.Source)
	assert.Len(t, r.Values, 2)
	assert.InDelta(t, 6.4, r.Values[models.ParamDO], 1e-9)
	assert.InDelta(t, 7.3, r.Values[models.ParamPH], 1e-9)
	assert.Equal(t, clock.Now(), r.Timestamp)
	assert.InDelta(t, 0.95, r.Confidence, 1e-9)
}

func TestSensorAdapter_KeepsNewestSample(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	a := newTestSensor(clock)

	a.handleMessage("water/S1/pH", []byte(`{"value":7.5,"timestamp":"2024-06-01T11:59:00Z"}`))
	a.handleMessage("water/S1/pH", []byte(`{"value":6.9,"timestamp":"2024-06-01T11:50:00Z"}`))

	r, err := a.FetchLatest(context.Background(), "S1")
	require.NoError(t, err)
	assert.InDelta(t, 7.5, r.Values[models.ParamPH], 1e-9)
}

func TestSensorAdapter_StaleAndMissing(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	a := newTestSensor(clock)

	_, err := a.FetchLatest(context.Background(), "S1")
	assert.True(t, errors.Is(err, ErrUnavailable))

	a.handleMessage("water/S1/pH", []byte(`7.1`))
	clock.Advance(20 * time.Minute)

	_, err = a.FetchLatest(context.Background(), "S1")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestSensorAdapter_RejectsBadPayloads(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := newTestSensor(clock)

	a.handleMessage("water/S1/pH", []byte(`not-a-number`))
	a.handleMessage("water/S1/pH", []byte(`19.2`))
	a.handleMessage("other/S1/pH", []byte(`7`))
	a.handleMessage("water/S1", []byte(`7`))

	_, err := a.FetchLatest(context.Background(), "S1")
	assert.True(t, errors.Is(err, ErrUnavailable))

	h := a.Health().Check("S1/pH")
	assert.Equal(t, 2, h.ReadingCount)
	assert.Equal(t, 2, h.ErrorCount)
}

func TestHealthMonitor_Status(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHealthMonitor(5*time.Minute, clock)

	assert.Equal(t, "unknown", h.Check("x").Status)

	h.Record("ok", true)
	assert.Equal(t, "active", h.Check("ok").Status)

	for i := 0; i < maxSensorErrors+1; i++ {
		h.Record("flaky", false)
	}
	flaky := h.Check("flaky")
	assert.Equal(t, "degraded", flaky.Status)
	assert.InDelta(t, 1.0, flaky.ErrorRate, 1e-9)

	clock.Advance(6 * time.Minute)
	assert.Equal(t, "offline", h.Check("ok").Status)

	all := h.All()
	assert.Len(t, all, 2)
	for id, s := range all {
		assert.Equal(t, "offline", s.Status, fmt.Sprintf("sensor %s", id))
	}
}

func TestSensorAdapter_ClientOptionsRetryUntilConnected(t *testing.T) {
	a := NewSensorAdapter(SensorOptions{
		Descriptor:    Descriptor{AdapterName: "sensor", Rank: 1},
		Broker:        "tcp://localhost:1883",
		ClientID:      "riverwatch-test",
		RetryInterval: 3 * time.Second,
	}, NewHealthMonitor(time.Minute, clockwork.NewFakeClock()), clockwork.NewFakeClock(), zap.NewNop())

	opts := a.clientOptions()

	assert.True(t, opts.ConnectRetry, "first connect must keep retrying while the broker is down")
	assert.Equal(t, 3*time.Second, opts.ConnectRetryInterval)
	assert.True(t, opts.AutoReconnect)
	assert.NotNil(t, opts.OnConnect, "topics are subscribed from the connect handler")
	assert.Equal(t, "riverwatch-test", opts.ClientID)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
}

func TestNewSensorAdapter_ConnectDefaults(t *testing.T) {
	a := newTestSensor(clockwork.NewFakeClock())
	assert.Equal(t, 10*time.Second, a.opts.RetryInterval)
	assert.Equal(t, 5*time.Second, a.opts.ConnectWait)
}
