package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type HealthStatus struct {
	Healthy           bool     `json:"healthy"`
	RedisConnected    *bool    `json:"redis_connected,omitempty"`
	DatabaseConnected *bool    `json:"database_connected,omitempty"`
	NATSConnected     *bool    `json:"nats_connected,omitempty"`
	ActiveTasks       int      `json:"active_tasks"`
	Connections       int      `json:"websocket_connections"`
	Errors            []string `json:"errors"`
}

type redisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

type dbPinger interface {
	Ping(ctx context.Context) error
}

type natsStatus interface {
	IsConnected() bool
}

// HealthChecker reports on the server's connections. Missing components are
// left out of the report. Postgres only degrades features, so a failed ping
// is reported without marking the server unhealthy.
type HealthChecker struct {
	redis       redisPinger
	db          dbPinger
	nats        natsStatus
	activeTasks func() int
	connections func() int
}

func newHealthChecker(services *Services) *HealthChecker {
	h := &HealthChecker{
		activeTasks: services.Games.ActiveTasks,
		connections: func() int { return services.Gateway.Stats().TotalConnections },
	}
	if services.redis != nil {
		h.redis = services.redis
	}
	if services.pool != nil {
		h.db = services.pool
	}
	if services.nats != nil {
		h.nats = services.nats
	}
	return h
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Errors: []string{}}

	if h.redis != nil {
		ok := true
		if err := h.redis.Ping(ctx).Err(); err != nil {
			ok = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("redis ping failed: %v", err))
		}
		status.RedisConnected = &ok
	}

	if h.db != nil {
		ok := true
		if err := h.db.Ping(ctx); err != nil {
			ok = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		}
		status.DatabaseConnected = &ok
	}

	if h.nats != nil {
		ok := h.nats.IsConnected()
		if !ok {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
		status.NATSConnected = &ok
	}

	if h.activeTasks != nil {
		status.ActiveTasks = h.activeTasks()
	}
	if h.connections != nil {
		status.Connections = h.connections()
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}
