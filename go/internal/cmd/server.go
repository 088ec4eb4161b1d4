package main

import (
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

func setupServer(cfg *Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if _, err := services.Registry.Upgrade(w, r); err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
		}
	})

	setupHealthCheck(mux, services)

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: c.Handler(mux),
	}
}

func setupHealthCheck(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		users, conns := services.Registry.Stats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		body := fmt.Sprintf(`{"status":"ok","users":%d,"connections":%d,"sessions":%d}`,
			users, conns, services.Store.Count())
		if _, err := w.Write([]byte(body)); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
