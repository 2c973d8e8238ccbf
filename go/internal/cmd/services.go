package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/ludus/go/internal/chat"
	"github.com/mcdev12/ludus/go/internal/dbconfig"
	"github.com/mcdev12/ludus/go/internal/game/gateway"
	"github.com/mcdev12/ludus/go/internal/game/orchestrator"
	"github.com/mcdev12/ludus/go/internal/game/store"
	"github.com/mcdev12/ludus/go/internal/llm"
	"github.com/mcdev12/ludus/go/internal/materials"
	"github.com/mcdev12/ludus/go/internal/rooms"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Games   *orchestrator.Orchestrator
	Gateway *gateway.Service
	Chat    *chat.Service

	redis *redis.Client
	pool  *pgxpool.Pool
	nats  *nats.Conn
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "ludus"
	}
	return getEnv("INSTANCE_ID", host+"-"+uuid.NewString()[:8])
}

// setupServices wires the game server. Redis is required unless
// STORE_BACKEND=memory; Postgres, NATS and Gemini are optional.
func setupServices(ctx context.Context, config *Config) (*Services, error) {
	s := &Services{}
	deps := orchestrator.Dependencies{}

	// Store
	switch backend := getEnv("STORE_BACKEND", "redis"); backend {
	case "redis":
		client, err := store.NewRedisClient(dbconfig.NewRedisConfigFromEnv())
		if err != nil {
			return nil, err
		}
		s.redis = client
		deps.Store = store.NewRedisStore(client)
	case "memory":
		log.Warn().Msg("using in-memory game store, state is not shared between instances")
		deps.Store = store.NewMemoryStore(nil)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", backend)
	}

	// Gateway, optionally fanned out through JetStream
	gatewayConfig := gateway.DefaultConfig(instanceID())
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		gatewayConfig.JetStream.URL = natsURL
		nc, js, err := gateway.Connect(ctx, gatewayConfig.JetStream)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.nats = nc
		s.Gateway = gateway.NewService(gatewayConfig, js)
	} else {
		s.Gateway = gateway.NewService(gatewayConfig, nil)
	}
	deps.Broadcaster = s.Gateway.Broadcaster()

	// Chat lives in Redis next to the game state
	if s.redis != nil {
		s.Chat = chat.NewService(s.redis, s.Gateway.Broadcaster(), nil, config.Chat)
		deps.Chat = s.Chat
	}

	// Room members and study material
	if pool, err := setupDatabase(ctx); err != nil {
		log.Warn().Err(err).Msg("database unavailable, using fallback player names and no study material")
	} else {
		s.pool = pool
		deps.Rooms = rooms.NewRepository(pool)
		deps.Materials = materials.NewRepository(pool)
	}

	// Gemini
	if config.LLM.IsEnabled() {
		client := llm.NewClient(config.LLM)
		deps.Generator = llm.NewGenerator(client, config.LLM)
		deps.Grader = llm.NewGrader(client, config.LLM)
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, using fallback question generation and exact-match grading")
	}

	s.Games = orchestrator.NewOrchestrator(config.Game, deps)
	s.Gateway.SetSnapshotProvider(s.Games)
	return s, nil
}

// Close releases connections. Stop the orchestrator first.
func (s *Services) Close() {
	if s.nats != nil {
		if err := s.nats.Drain(); err != nil {
			log.Error().Err(err).Msg("failed to drain NATS connection")
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close Redis client")
		}
	}
}
