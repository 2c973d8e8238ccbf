package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope delivered to room subscribers.
type Event struct {
	ID        string          `json:"id"`        // Event UUID
	GameID    string          `json:"game_id"`   // Empty for room-level events
	RoomID    string          `json:"room_id"`   // Target room
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of event
type EventType string

const (
	EventTypeStatusUpdate  EventType = "game_status_update"
	EventTypeQuestion      EventType = "game_question"
	EventTypeTimer         EventType = "game_timer"
	EventTypeGradingResult EventType = "game_grading_result"
	EventTypeRanking       EventType = "game_ranking"
	EventTypeMessage       EventType = "message"
)

// New builds an event with a fresh id, marshalling payload as its data.
func New(eventType EventType, roomID string, gameID uuid.UUID, payload interface{}, now time.Time) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	event := &Event{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      eventType,
		Timestamp: now,
		Data:      data,
	}
	if gameID != uuid.Nil {
		event.GameID = gameID.String()
	}
	return event, nil
}

// ParsePayload parses event data into the appropriate payload struct
func ParsePayload(event *Event) (interface{}, error) {
	switch event.Type {
	case EventTypeStatusUpdate:
		var payload StatusUpdatePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeQuestion:
		var payload QuestionPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeTimer:
		var payload TimerPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeGradingResult:
		var payload GradingResultPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRanking:
		var payload RankingPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeMessage:
		var payload MessagePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}
}
