package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found")
	}
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	database, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up database")
	}
	defer database.Close()

	services, err := setupServices(ctx, database, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire services")
	}
	defer services.NATS.Close()

	server := setupServer(cfg, services)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		services.Registry.Start(ctx)
		return nil
	})
	g.Go(func() error {
		services.Notifications.Start(ctx)
		return nil
	})
	g.Go(func() error {
		return services.Consumer.Start(ctx)
	})
	g.Go(func() error {
		return services.Challenges.RunExpirySweep(ctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("server exited with error")
	}
	log.Info().Msg("server stopped")
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("LOG_PRETTY") != "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
