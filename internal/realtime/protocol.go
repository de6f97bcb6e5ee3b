package realtime

import (
	"encoding/json"
	"fmt"
)

// Client to server events.
const (
	EventAuthenticate = "authenticate"
	EventSubscribe    = "subscribe"
	EventUnsubscribe  = "unsubscribe"
	EventHeartbeat    = "heartbeat"
)

// Server to client events.
const (
	EventAuthSuccess           = "auth_success"
	EventAuthFailed            = "auth_failed"
	EventSubscriptionConfirmed = "subscription_confirmed"
	EventWebhookEvent          = "webhook_event"
	EventNotification          = "notification"
	EventHeartbeatResponse     = "heartbeat_response"
	EventError                 = "error"
)

// Message is the frame exchanged in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type AuthenticatePayload struct {
	Token     string `json:"token"`
	UserID    string `json:"userId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type SubscriptionPayload struct {
	EventTypes []string `json:"eventTypes"`
}

type HeartbeatPayload struct {
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"clientId,omitempty"`
}

type AuthUser struct {
	ID string `json:"id"`
}

type AuthSuccessPayload struct {
	User AuthUser `json:"user"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// Encode frames an event with its payload.
func Encode(event string, data any) ([]byte, error) {
	msg := Message{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// Decode parses a frame. The payload stays raw until the event is known.
func Decode(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Event == "" {
		return Message{}, fmt.Errorf("decode frame: missing event")
	}
	return msg, nil
}
