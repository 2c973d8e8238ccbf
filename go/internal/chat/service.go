package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ludus/go/internal/game/events"
	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	SystemUserID   = "ai_system"
	SystemUserName = "Ludus"
)

// Broadcaster delivers room events to subscribers.
type Broadcaster interface {
	Broadcast(roomID string, event *events.Event)
}

// Config tunes message retention.
type Config struct {
	HistoryLength int64         `yaml:"history_length"`
	MessageTTL    time.Duration `yaml:"message_ttl"`
}

// DefaultConfig returns default chat configuration
func DefaultConfig() Config {
	return Config{
		HistoryLength: 500,
		MessageTTL:    24 * time.Hour,
	}
}

// Service stores room chat messages in Redis and announces them to the room.
type Service struct {
	client      redis.UniversalClient
	broadcaster Broadcaster
	clock       clockwork.Clock
	config      Config
}

// NewService creates a chat service. A nil clock means the real clock.
func NewService(client redis.UniversalClient, broadcaster Broadcaster, clock clockwork.Clock, config Config) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{client: client, broadcaster: broadcaster, clock: clock, config: config}
}

func messageKey(id string) string {
	return "messages:" + id
}

func roomMessagesKey(roomID string) string {
	return "room:" + roomID + ":messages"
}

// SendSystemMessage posts content to roomID as the system user.
func (s *Service) SendSystemMessage(ctx context.Context, roomID, content, messageType string) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		UserID:      SystemUserID,
		UserName:    SystemUserName,
		Content:     content,
		MessageType: messageType,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := s.save(ctx, msg); err != nil {
		return nil, err
	}

	event, err := events.New(events.EventTypeMessage, roomID, uuid.Nil, events.MessagePayload{Message: *msg}, msg.CreatedAt)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to build message event")
		return msg, nil
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(roomID, event)
	}
	return msg, nil
}

func (s *Service) save(ctx context.Context, msg *models.ChatMessage) error {
	key := messageKey(msg.ID)
	listKey := roomMessagesKey(msg.RoomID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"id":           msg.ID,
			"room_id":      msg.RoomID,
			"user_id":      msg.UserID,
			"user_name":    msg.UserName,
			"content":      msg.Content,
			"message_type": msg.MessageType,
			"created_at":   msg.CreatedAt.Format(time.RFC3339Nano),
		})
		if s.config.MessageTTL > 0 {
			pipe.Expire(ctx, key, s.config.MessageTTL)
		}
		pipe.LPush(ctx, listKey, msg.ID)
		if s.config.HistoryLength > 0 {
			pipe.LTrim(ctx, listKey, 0, s.config.HistoryLength-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save chat message: %w", err)
	}
	return nil
}

// History returns up to limit messages of roomID, newest first, skipping
// offset. Messages that have expired are left out.
func (s *Service) History(ctx context.Context, roomID string, offset, limit int64) ([]models.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.client.LRange(ctx, roomMessagesKey(roomID), offset, offset+limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list room messages: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, messageKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load room messages: %w", err)
	}

	messages := make([]models.ChatMessage, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		messages = append(messages, decodeMessage(fields))
	}
	return messages, nil
}

func decodeMessage(fields map[string]string) models.ChatMessage {
	createdAt, _ := time.Parse(time.RFC3339Nano, fields["created_at"])
	return models.ChatMessage{
		ID:          fields["id"],
		RoomID:      fields["room_id"],
		UserID:      fields["user_id"],
		UserName:    fields["user_name"],
		Content:     fields["content"],
		MessageType: fields["message_type"],
		CreatedAt:   createdAt,
	}
}
