package source

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"riverwatch/internal/models"
	"riverwatch/internal/wqi"
)

// SensorOptions configures the MQTT sensor adapter
type SensorOptions struct {
	Descriptor
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string

	// RetryInterval spaces connection attempts while the broker is unreachable
	RetryInterval time.Duration
	// ConnectWait bounds how long Connect waits for the first connection
	ConnectWait time.Duration
}

// sensorMessage is the JSON payload published by field sensors.
// A bare number is accepted as well.
type sensorMessage struct {
	SensorID  string    `json:"sensor_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Quality   *float64  `json:"quality"`
}

type sample struct {
	value   float64
	at      time.Time
	quality float64
}

// SensorAdapter serves the latest values pushed by IoT sensors over MQTT.
// Messages arrive on {prefix}/{station}/{parameter}.
type SensorAdapter struct {
	Descriptor
	opts   SensorOptions
	client mqtt.Client
	health *HealthMonitor
	clock  clockwork.Clock
	logger *zap.Logger

	mu     sync.RWMutex
	latest map[string]map[models.Parameter]sample
}

func NewSensorAdapter(opts SensorOptions, health *HealthMonitor, clock clockwork.Clock, logger *zap.Logger) *SensorAdapter {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "water"
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 10 * time.Second
	}
	if opts.ConnectWait <= 0 {
		opts.ConnectWait = 5 * time.Second
	}
	return &SensorAdapter{
		Descriptor: opts.Descriptor,
		opts:       opts,
		health:     health,
		clock:      clock,
		logger:     logger,
		latest:     make(map[string]map[models.Parameter]sample),
	}
}

func (a *SensorAdapter) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(a.opts.Broker)
	opts.SetClientID(a.opts.ClientID)
	if a.opts.Username != "" {
		opts.SetUsername(a.opts.Username)
	}
	if a.opts.Password != "" {
		opts.SetPassword(a.opts.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(a.opts.RetryInterval)
	opts.SetCleanSession(true)
	// clean sessions drop subscriptions, so subscribe on every (re)connect
	opts.SetOnConnectHandler(a.subscribe)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		a.logger.Warn("MQTT connection lost", zap.Error(err))
	})
	return opts
}

func (a *SensorAdapter) subscribe(client mqtt.Client) {
	topic := a.opts.TopicPrefix + "/+/+"
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		a.handleMessage(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		a.logger.Error("Failed to subscribe to sensor topics", zap.String("topic", topic), zap.Error(token.Error()))
		return
	}
	a.logger.Info("Subscribed to sensor topics",
		zap.String("broker", a.opts.Broker),
		zap.String("topic", topic),
	)
}

// Connect starts the broker connection. If the broker is not reachable within
// ConnectWait the client keeps retrying in the background and Connect returns nil.
func (a *SensorAdapter) Connect() error {
	a.client = mqtt.NewClient(a.clientOptions())
	token := a.client.Connect()
	if !token.WaitTimeout(a.opts.ConnectWait) {
		a.logger.Warn("MQTT broker not reachable yet, retrying in background",
			zap.String("broker", a.opts.Broker),
			zap.Duration("retry_interval", a.opts.RetryInterval),
		)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

func (a *SensorAdapter) Disconnect() {
	if a.client != nil {
		a.client.Disconnect(250)
	}
}

func (a *SensorAdapter) Health() *HealthMonitor {
	return a.health
}

func (a *SensorAdapter) handleMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != a.opts.TopicPrefix {
		a.logger.Debug("Ignoring sensor message on unexpected topic", zap.String("topic", topic))
		return
	}
	stationID, param := parts[1], NormalizeParameter(parts[2])

	msg, err := decodeSensorMessage(payload)
	if msg.SensorID == "" {
		msg.SensorID = stationID + "/" + string(param)
	}
	if err != nil {
		a.health.Record(msg.SensorID, false)
		a.logger.Warn("Malformed sensor payload",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}

	if !plausible(param, msg.Value) {
		a.health.Record(msg.SensorID, false)
		a.logger.Warn("Sensor value outside physical range",
			zap.String("sensor_id", msg.SensorID),
			zap.String("parameter", string(param)),
			zap.Float64("value", msg.Value),
		)
		return
	}
	a.health.Record(msg.SensorID, true)

	at := msg.Timestamp
	if at.IsZero() {
		at = a.clock.Now()
	}
	quality := 1.0
	if msg.Quality != nil {
		quality = *msg.Quality
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	byParam, ok := a.latest[stationID]
	if !ok {
		byParam = make(map[models.Parameter]sample)
		a.latest[stationID] = byParam
	}
	if prev, ok := byParam[param]; ok && prev.at.After(at) {
		return
	}
	byParam[param] = sample{value: msg.Value, at: at, quality: quality}
}

func decodeSensorMessage(payload []byte) (sensorMessage, error) {
	var msg sensorMessage
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return msg, fmt.Errorf("empty payload")
	}
	if trimmed[0] != '{' {
		v, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return msg, fmt.Errorf("parse value: %w", err)
		}
		msg.Value = v
		return msg, nil
	}
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return msg, fmt.Errorf("decode payload: %w", err)
	}
	return msg, nil
}

func plausible(p models.Parameter, v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	b, ok := wqi.PhysicalBounds[p]
	if !ok {
		return true
	}
	return v >= b.Min && v <= b.Max
}

// FetchLatest assembles the freshest per-parameter samples for the station.
// Samples older than the staleness bound are left out. The reading carries the
// newest sample time and the mean sensor quality as its confidence.
func (a *SensorAdapter) FetchLatest(ctx context.Context, stationID string) (models.Reading, error) {
	if err := ctx.Err(); err != nil {
		return models.Reading{}, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	byParam, ok := a.latest[stationID]
	if !ok || len(byParam) == 0 {
		return models.Reading{}, fmt.Errorf("%w: no sensor data for %s", ErrUnavailable, stationID)
	}

	now := a.clock.Now()
	reading := models.Reading{
		StationID: stationID,
		Values:    make(map[models.Parameter]float64, len(byParam)),
		Source:    a.Name(),
	}
	var qualitySum float64
	for p, s := range byParam {
		if a.Staleness > 0 && now.Sub(s.at) > a.Staleness {
			continue
		}
		reading.Values[p] = s.value
		qualitySum += s.quality
		if s.at.After(reading.Timestamp) {
			reading.Timestamp = s.at
		}
	}
	if len(reading.Values) == 0 {
		return models.Reading{}, fmt.Errorf("%w: sensor data for %s is stale", ErrUnavailable, stationID)
	}
	reading.Confidence = qualitySum / float64(len(reading.Values))
	return reading, nil
}
