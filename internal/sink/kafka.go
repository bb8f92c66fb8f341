package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"riverwatch/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Kafka publishes readings and alerts to downstream topics, keyed by station
type Kafka struct {
	writer        messageWriter
	readingsTopic string
	alertsTopic   string
}

func NewKafka(brokers []string, readingsTopic, alertsTopic string) *Kafka {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Kafka{writer: w, readingsTopic: readingsTopic, alertsTopic: alertsTopic}
}

func (k *Kafka) AppendReading(ctx context.Context, u models.ReadingUpdate) error {
	msg, err := readingMessage(k.readingsTopic, u)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *Kafka) AppendAlert(ctx context.Context, a models.Alert) error {
	msg, err := alertMessage(k.alertsTopic, a)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func readingMessage(topic string, u models.ReadingUpdate) (kafkago.Message, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize reading: %w", err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(u.Reading.StationID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(KindReading)},
			{Key: "source", Value: []byte(u.Reading.Source)},
			{Key: "observed_at", Value: []byte(u.Reading.Timestamp.Format(time.RFC3339))},
		},
	}, nil
}

func alertMessage(topic string, a models.Alert) (kafkago.Message, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert: %w", err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(a.StationID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(KindAlert)},
			{Key: "severity", Value: []byte(a.Severity)},
			{Key: "origin", Value: []byte(a.Origin)},
		},
	}, nil
}
