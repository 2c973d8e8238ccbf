package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/ludus/go/internal/game/events"
)

// Envelope is the JetStream wire format of a room event.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	GameID    string          `json:"gameId,omitempty"`
	RoomID    string          `json:"roomId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// EncodeEnvelope wraps event for publishing.
func EncodeEnvelope(event *events.Event) ([]byte, error) {
	data, err := json.Marshal(Envelope{
		EventID:   event.ID,
		EventType: string(event.Type),
		GameID:    event.GameID,
		RoomID:    event.RoomID,
		Timestamp: event.Timestamp.UTC(),
		Payload:   event.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope turns a published envelope back into a room event.
func DecodeEnvelope(data []byte) (*events.Event, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if envelope.RoomID == "" {
		return nil, fmt.Errorf("event %s has no room", envelope.EventID)
	}
	switch events.EventType(envelope.EventType) {
	case events.EventTypeStatusUpdate, events.EventTypeQuestion, events.EventTypeTimer,
		events.EventTypeGradingResult, events.EventTypeRanking, events.EventTypeMessage:
	default:
		return nil, fmt.Errorf("unknown event type: %s", envelope.EventType)
	}

	return &events.Event{
		ID:        envelope.EventID,
		GameID:    envelope.GameID,
		RoomID:    envelope.RoomID,
		Type:      events.EventType(envelope.EventType),
		Timestamp: envelope.Timestamp,
		Data:      envelope.Payload,
	}, nil
}
