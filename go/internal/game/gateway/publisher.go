package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcdev12/ludus/go/internal/game/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// MessagePublisher is the part of jetstream.JetStream the publisher needs.
type MessagePublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// PublisherConfig tunes the publish queue.
type PublisherConfig struct {
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultPublisherConfig returns default publisher configuration
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		QueueSize:  1000,
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
	}
}

// EventPublisher queues room events and publishes them to JetStream from a
// single goroutine, so events of one instance keep their order.
type EventPublisher struct {
	js        MessagePublisher
	jsConfig  JetStreamConfig
	config    PublisherConfig
	queue     chan *events.Event
	done      chan struct{}
	startOnce sync.Once
}

// NewEventPublisher creates a publisher. Call Start before broadcasting.
func NewEventPublisher(js MessagePublisher, jsConfig JetStreamConfig, config PublisherConfig) *EventPublisher {
	return &EventPublisher{
		js:       js,
		jsConfig: jsConfig,
		config:   config,
		queue:    make(chan *events.Event, config.QueueSize),
		done:     make(chan struct{}),
	}
}

// Broadcast queues event for publishing. Drops the event if the queue is full.
func (p *EventPublisher) Broadcast(roomID string, event *events.Event) {
	select {
	case p.queue <- event:
	default:
		log.Warn().Str("room_id", roomID).Str("event_type", string(event.Type)).Msg("publish queue full, dropping event")
	}
}

// Start publishes queued events until ctx is cancelled.
func (p *EventPublisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		defer close(p.done)
		log.Info().Str("stream", p.jsConfig.StreamName).Msg("event publisher started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Int("dropped", len(p.queue)).Msg("event publisher shutting down")
				return
			case event := <-p.queue:
				if err := p.publishWithRetry(ctx, event); err != nil {
					log.Error().Err(err).Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("failed to publish event")
				}
			}
		}
	})
}

// Done is closed once Start has returned.
func (p *EventPublisher) Done() <-chan struct{} {
	return p.done
}

func (p *EventPublisher) publishWithRetry(ctx context.Context, event *events.Event) error {
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := p.publish(ctx, event); err != nil {
			lastErr = err
			log.Warn().Err(err).Str("event_id", event.ID).Int("attempt", attempt+1).Msg("failed to publish event, retrying")
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}

func (p *EventPublisher) publish(ctx context.Context, event *events.Event) error {
	data, err := EncodeEnvelope(event)
	if err != nil {
		return err
	}

	subject := p.jsConfig.Subject(event.RoomID)
	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(event.Type)},
			"Room-ID":    []string{event.RoomID},
			"Event-ID":   []string{event.ID},
		},
	},
		jetstream.WithMsgID(event.ID),
		jetstream.WithExpectStream(p.jsConfig.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", event.ID).
		Uint64("sequence", ack.Sequence).
		Msg("published to JetStream")
	return nil
}
