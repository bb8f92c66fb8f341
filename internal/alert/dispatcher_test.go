package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"riverwatch/internal/models"
)

type capture struct {
	mu        sync.Mutex
	published []models.Alert
	stored    []models.Alert
	storeErr  error
}

func (c *capture) PublishAlert(a models.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, a)
}

func (c *capture) AppendAlert(_ context.Context, a models.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored = append(c.stored, a)
	return c.storeErr
}

func criticalDO(station string) models.Alert {
	return models.Alert{
		StationID: station,
		Parameter: models.ParamDO,
		Severity:  models.SeverityCritical,
		Threshold: 4,
		Operator:  "<",
		Value:     3.6,
		Origin:    models.OriginReading,
	}
}

func TestDispatcher_CooldownSuppressesDuplicate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	out := &capture{}
	d := NewDispatcher(10*time.Minute, out, out, clock, zap.NewNop())

	first := criticalDO("S1")
	assert.True(t, d.Deliver(context.Background(), first))

	clock.Advance(2 * time.Minute)
	assert.False(t, d.Deliver(context.Background(), criticalDO("S1")))

	require.Len(t, out.published, 1)
	require.Len(t, out.stored, 1)
	assert.Equal(t, 1, d.Suppressed(first.DedupKey()))
}

func TestDispatcher_CooldownExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	out := &capture{}
	d := NewDispatcher(10*time.Minute, out, out, clock, zap.NewNop())

	d.Deliver(context.Background(), criticalDO("S1"))
	clock.Advance(10 * time.Minute)
	assert.True(t, d.Deliver(context.Background(), criticalDO("S1")))
	assert.Len(t, out.published, 2)
}

func TestDispatcher_KeysAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	out := &capture{}
	d := NewDispatcher(10*time.Minute, out, out, clock, zap.NewNop())

	high := criticalDO("S1")
	high.Severity = models.SeverityHigh

	d.Dispatch(context.Background(), []models.Alert{
		criticalDO("S1"),
		high,
		criticalDO("S2"),
		criticalDO("S1"),
	})

	assert.Len(t, out.published, 3)
	assert.Equal(t, 1, d.Suppressed("S1|DO|critical"))
	assert.Equal(t, 0, d.Suppressed("S1|DO|high"))
}

func TestDispatcher_SinkErrorStillPublishes(t *testing.T) {
	out := &capture{storeErr: errors.New("buffer full")}
	d := NewDispatcher(time.Minute, out, out, clockwork.NewFakeClock(), zap.NewNop())

	assert.True(t, d.Deliver(context.Background(), criticalDO("S1")))
	assert.Len(t, out.published, 1)
}

func TestDispatcher_StampsMissingTimestamp(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	out := &capture{}
	d := NewDispatcher(time.Minute, out, nil, clock, zap.NewNop())

	d.Deliver(context.Background(), criticalDO("S1"))
	require.Len(t, out.published, 1)
	assert.Equal(t, clock.Now(), out.published[0].Timestamp)
}

func TestDispatcher_Recent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDispatcher(time.Minute, nil, nil, clock, zap.NewNop())

	d.Deliver(context.Background(), criticalDO("S1"))
	d.Deliver(context.Background(), criticalDO("S2"))
	clock.Advance(time.Minute)
	d.Deliver(context.Background(), criticalDO("S1"))

	all := d.Recent("", 10)
	require.Len(t, all, 3)
	assert.Equal(t, "S1", all[0].StationID)
	assert.True(t, all[0].Timestamp.After(all[2].Timestamp))

	assert.Len(t, d.Recent("S1", 10), 2)
	assert.Len(t, d.Recent("", 1), 1)
}
