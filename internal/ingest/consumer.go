package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"riverwatch/internal/models"
	"riverwatch/internal/sink"
)

// errMalformed marks entries that can never be stored and are acked away
var errMalformed = errors.New("malformed stream entry")

// Store is where consumed records end up
type Store interface {
	StoreReading(ctx context.Context, u models.ReadingUpdate) error
	StoreAlert(ctx context.Context, a models.Alert) (int64, error)
}

type Options struct {
	ReadingsStream string
	AlertsStream   string
	Group          string
	Consumer       string
	BatchSize      int64
	Block          time.Duration
}

// Consumer moves records from the Redis streams into durable storage.
// Entries are acked only after they were stored. Failed entries stay pending
// and are retried at the start of every ReadOnce, including after a restart.
type Consumer struct {
	client *redis.Client
	store  Store
	opts   Options
	logger *zap.Logger
}

func NewConsumer(client *redis.Client, store Store, opts Options, logger *zap.Logger) *Consumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	return &Consumer{
		client: client,
		store:  store,
		opts:   opts,
		logger: logger.With(zap.String("component", "ingest"), zap.String("consumer", opts.Consumer)),
	}
}

func (c *Consumer) streams() []string {
	return []string{c.opts.ReadingsStream, c.opts.AlertsStream}
}

// EnsureGroups creates the consumer group on both streams if it does not exist
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, stream := range c.streams() {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.opts.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
		}
	}
	return nil
}

// Run consumes until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Ingest consumer started", zap.Strings("streams", c.streams()))
	for {
		if ctx.Err() != nil {
			c.logger.Info("Ingest consumer stopped")
			return nil
		}
		if _, err := c.ReadOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("Error reading from Redis", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// ReadOnce first retries this consumer's pending entries, then reads one batch
// of new entries from both streams. Entries are acked once stored. It returns
// the number of entries acked.
func (c *Consumer) ReadOnce(ctx context.Context) (int, error) {
	// pending history is returned immediately, so no BLOCK here
	retried, err := c.read(ctx, "0", -1)
	if err != nil {
		return 0, fmt.Errorf("failed to read pending entries: %w", err)
	}
	fresh, err := c.read(ctx, ">", c.opts.Block)
	return retried + fresh, err
}

func (c *Consumer) read(ctx context.Context, id string, block time.Duration) (int, error) {
	streams := c.streams()
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		Streams:  append(streams, id, id),
		Count:    c.opts.BatchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, stream := range res {
		for _, m := range stream.Messages {
			err := c.handle(ctx, m)
			if err != nil && !errors.Is(err, errMalformed) {
				c.logger.Warn("Failed to store entry, leaving it pending",
					zap.String("stream", stream.Stream),
					zap.String("id", m.ID),
					zap.Error(err),
				)
				continue
			}
			if err != nil {
				c.logger.Warn("Dropping malformed entry", zap.String("stream", stream.Stream), zap.String("id", m.ID), zap.Error(err))
			}
			if err := c.client.XAck(ctx, stream.Stream, c.opts.Group, m.ID).Err(); err != nil {
				c.logger.Error("Failed to ack entry", zap.String("id", m.ID), zap.Error(err))
				continue
			}
			acked++
		}
	}
	return acked, nil
}

func (c *Consumer) handle(ctx context.Context, m redis.XMessage) error {
	data, ok := m.Values[sink.FieldData].(string)
	if !ok {
		return fmt.Errorf("%w: missing %q field", errMalformed, sink.FieldData)
	}
	kind, _ := m.Values[sink.FieldKind].(string)

	switch kind {
	case sink.KindReading:
		var u models.ReadingUpdate
		if err := json.Unmarshal([]byte(data), &u); err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		if err := c.store.StoreReading(ctx, u); err != nil {
			return err
		}
		c.logger.Debug("Stored reading",
			zap.String("station_id", u.Reading.StationID),
			zap.Time("observed_at", u.Reading.Timestamp),
		)
	case sink.KindAlert:
		var a models.Alert
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		id, err := c.store.StoreAlert(ctx, a)
		if err != nil {
			return err
		}
		c.logger.Debug("Stored alert", zap.Int64("id", id), zap.String("key", a.DedupKey()))
	default:
		return fmt.Errorf("%w: unknown kind %q", errMalformed, kind)
	}
	return nil
}
