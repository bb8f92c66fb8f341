package hub

import (
	"encoding/json"
	"time"
)

// MessageType is the type tag of a streaming envelope
type MessageType string

const (
	TypeConnected      MessageType = "connected"
	TypeSubscribe      MessageType = "subscribe"
	TypeUnsubscribe    MessageType = "unsubscribe"
	TypeReadingUpdate  MessageType = "reading_update"
	TypeForecastUpdate MessageType = "forecast_update"
	TypeAlert          MessageType = "alert"
	TypePing           MessageType = "ping"
	TypePong           MessageType = "pong"
	TypeError          MessageType = "error"
)

// Channel groups event types a subscription can opt into
type Channel string

const (
	ChannelReadings  Channel = "readings"
	ChannelAlerts    Channel = "alerts"
	ChannelForecasts Channel = "forecasts"
)

// AllChannels is the channel set used when a subscription names none
var AllChannels = []Channel{ChannelReadings, ChannelAlerts, ChannelForecasts}

// Wildcard subscribes to every station
const Wildcard = "*"

// Envelope is the unit sent to and received from streaming clients
type Envelope struct {
	Type      MessageType     `json:"type"`
	TargetID  string          `json:"targetId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope encodes payload into an envelope
func NewEnvelope(t MessageType, targetID string, payload any, ts time.Time) (Envelope, error) {
	env := Envelope{Type: t, TargetID: targetID, Timestamp: ts}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// channelOf returns the subscription channel an event type is delivered on.
// Session-scoped messages have no channel.
func channelOf(t MessageType) (Channel, bool) {
	switch t {
	case TypeReadingUpdate:
		return ChannelReadings, true
	case TypeForecastUpdate:
		return ChannelForecasts, true
	case TypeAlert:
		return ChannelAlerts, true
	}
	return "", false
}

func parseChannels(names []Channel) map[Channel]bool {
	if len(names) == 0 {
		names = AllChannels
	}
	set := make(map[Channel]bool, len(names))
	for _, c := range names {
		switch c {
		case ChannelReadings, ChannelAlerts, ChannelForecasts:
			set[c] = true
		}
	}
	return set
}

type subscribePayload struct {
	Channels []Channel `json:"channels,omitempty"`
}

type connectedPayload struct {
	SessionID string `json:"sessionId"`
}

type errorPayload struct {
	Message string `json:"message"`
}
