package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/ludus/go/internal/game/api"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	registerServices(mux, services)
	mux.Handle("GET /health", newHealthChecker(services))

	handler := c.Handler(mux)

	return &http.Server{
		Addr:              fmt.Sprintf(":%s", getEnv("PORT", "8080")),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	var history api.MessageHistory
	if services.Chat != nil {
		history = services.Chat
	}
	api.NewHandler(services.Games, history).RegisterRoutes(mux)
	services.Gateway.RegisterRoutes(mux)
}
