package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// ConsumerConfig holds configuration for the per-instance JetStream consumer
type ConsumerConfig struct {
	Name              string
	MaxDeliver        int
	AckWait           time.Duration
	MaxAckPending     int
	InactiveThreshold time.Duration // Removes the consumer of a dead instance
}

// DefaultConsumerConfig returns a consumer config named after instanceID.
// Every gateway instance needs every event, so each gets its own consumer.
func DefaultConsumerConfig(instanceID string) ConsumerConfig {
	return ConsumerConfig{
		Name:              "game-gateway-" + subjectToken(instanceID),
		MaxDeliver:        5,
		AckWait:           30 * time.Second,
		MaxAckPending:     1000,
		InactiveThreshold: 5 * time.Minute,
	}
}

// EventConsumer consumes room events from JetStream and hands them to the
// local connection manager.
type EventConsumer struct {
	local    Broadcaster
	js       jetstream.JetStream
	jsConfig JetStreamConfig
	config   ConsumerConfig
}

// NewEventConsumer creates a JetStream event consumer
func NewEventConsumer(local Broadcaster, js jetstream.JetStream, jsConfig JetStreamConfig, config ConsumerConfig) *EventConsumer {
	return &EventConsumer{local: local, js: js, jsConfig: jsConfig, config: config}
}

func (ec *EventConsumer) ensureConsumer(ctx context.Context) (jetstream.Consumer, error) {
	stream, err := ec.js.Stream(ctx, ec.jsConfig.StreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              ec.config.Name,
		Durable:           ec.config.Name,
		Description:       "Game gateway WebSocket consumer",
		FilterSubject:     ec.jsConfig.SubjectPrefix + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		MaxDeliver:        ec.config.MaxDeliver,
		AckWait:           ec.config.AckWait,
		MaxAckPending:     ec.config.MaxAckPending,
		ReplayPolicy:      jetstream.ReplayInstantPolicy,
		InactiveThreshold: ec.config.InactiveThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	log.Info().Str("consumer", ec.config.Name).Str("stream", ec.jsConfig.StreamName).Msg("JetStream consumer ready")
	return consumer, nil
}

// Start consumes events until ctx is cancelled
func (ec *EventConsumer) Start(ctx context.Context) error {
	consumer, err := ec.ensureConsumer(ctx)
	if err != nil {
		return err
	}

	messageCh := make(chan jetstream.Msg, 100)
	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := ec.handle(msg.Data()); err != nil {
				// A malformed envelope will not get better on redelivery.
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("dropping undecodable event")
				if termErr := msg.Term(); termErr != nil {
					log.Error().Err(termErr).Msg("failed to terminate message")
				}
				continue
			}
			if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("failed to ACK message")
			}
		}
	}
}

func (ec *EventConsumer) handle(data []byte) error {
	event, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	ec.local.Broadcast(event.RoomID, event)
	log.Debug().Str("event_id", event.ID).Str("room_id", event.RoomID).Str("event_type", string(event.Type)).Msg("event forwarded to WebSocket clients")
	return nil
}
