package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"riverwatch/internal/models"
)

// Stream entry fields
const (
	FieldKind      = "kind"
	FieldStationID = "station_id"
	FieldData      = "data"
)

// RedisStream appends records to capped Redis streams for the store worker
type RedisStream struct {
	client         *redis.Client
	readingsStream string
	alertsStream   string
	maxLen         int64
}

func NewRedisStream(client *redis.Client, readingsStream, alertsStream string, maxLen int64) *RedisStream {
	return &RedisStream{
		client:         client,
		readingsStream: readingsStream,
		alertsStream:   alertsStream,
		maxLen:         maxLen,
	}
}

func (s *RedisStream) AppendReading(ctx context.Context, u models.ReadingUpdate) error {
	return s.add(ctx, s.readingsStream, KindReading, u.Reading.StationID, u)
}

func (s *RedisStream) AppendAlert(ctx context.Context, a models.Alert) error {
	return s.add(ctx, s.alertsStream, KindAlert, a.StationID, a)
}

func (s *RedisStream) add(ctx context.Context, stream, kind, stationID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			FieldKind:      kind,
			FieldStationID: stationID,
			FieldData:      string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to add %s to stream %s: %w", kind, stream, err)
	}
	return nil
}
