package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Service delivers game events to WebSocket clients. With JetStream it
// publishes every event to the stream and feeds local clients from its own
// consumer, so clients on any instance see every room event.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	publisher         *EventPublisher
	consumer          *EventConsumer
}

// Config holds configuration for the gateway service
type Config struct {
	Connection ConnectionConfig
	JetStream  JetStreamConfig
	Publisher  PublisherConfig
	Consumer   ConsumerConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig(instanceID string) Config {
	return Config{
		Connection: DefaultConnectionConfig(),
		JetStream:  DefaultJetStreamConfig(),
		Publisher:  DefaultPublisherConfig(),
		Consumer:   DefaultConsumerConfig(instanceID),
	}
}

// NewService creates the gateway. js may be nil for a single instance.
func NewService(config Config, js jetstream.JetStream) *Service {
	cm := NewConnectionManager(config.Connection, nil)
	s := &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
	}
	if js != nil {
		s.publisher = NewEventPublisher(js, config.JetStream, config.Publisher)
		s.consumer = NewEventConsumer(cm, js, config.JetStream, config.Consumer)
	}
	return s
}

// SetSnapshotProvider installs the source of catch-up events for new
// connections. Call it before serving.
func (s *Service) SetSnapshotProvider(provider SnapshotProvider) {
	s.connectionManager.snapshot = provider
}

// Broadcaster returns where game events should be sent.
func (s *Service) Broadcaster() Broadcaster {
	if s.publisher != nil {
		return s.publisher
	}
	return s.connectionManager
}

// Start runs the gateway until ctx is cancelled
func (s *Service) Start(ctx context.Context) {
	log.Info().Bool("jetstream", s.publisher != nil).Msg("starting game gateway")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.connectionManager.Start(ctx)
	}()

	if s.publisher != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.publisher.Start(ctx)
		}()
		go func() {
			defer wg.Done()
			if err := s.consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	wg.Wait()
	log.Info().Msg("game gateway stopped")
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
}

// Stats returns statistics about active connections
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
