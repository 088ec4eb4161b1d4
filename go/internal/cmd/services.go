package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/holyword/trivia/go/internal/battle"
	"github.com/holyword/trivia/go/internal/challenge"
	"github.com/holyword/trivia/go/internal/dbconfig"
	"github.com/holyword/trivia/go/internal/gateway"
	"github.com/holyword/trivia/go/internal/match"
	"github.com/holyword/trivia/go/internal/notify"
	"github.com/holyword/trivia/go/internal/questions"
	"github.com/holyword/trivia/go/internal/registry"
	"github.com/holyword/trivia/go/internal/scoring"
	"github.com/holyword/trivia/go/internal/session"
)

// Services holds the wired application graph.
type Services struct {
	Registry      *registry.Registry
	Store         *session.Store
	Matches       *match.Orchestrator
	Battles       *battle.Engine
	Challenges    *challenge.Coordinator
	Notifications *notify.Dispatcher
	Consumer      *notify.Consumer
	NATS          *nats.Conn
}

// setupServices wires the dependency chain: storage -> dispatcher ->
// orchestrators -> gateway. Disconnect fan-out flows the other way: the
// registry tells the session store, which tells each session actor.
func setupServices(ctx context.Context, database *sql.DB, cfg *Config) (*Services, error) {
	streamCfg := notify.DefaultStreamConfig()
	streamCfg.URL = dbconfig.NATSURLFromEnv()
	nc, js, err := notify.Connect(streamCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	reg := registry.New(registry.DefaultConfig())
	store := session.NewStore()
	source := questions.NewRepository(database)
	policy := scoring.DefaultStandard()

	publisher, err := notify.NewJetStreamPublisher(ctx, js, streamCfg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create notification publisher: %w", err)
	}
	dispatcher := notify.NewDispatcher(notify.NewPostgresRepository(database), publisher, cfg.Notify)
	consumer, err := newConsumer(ctx, reg, js, streamCfg)
	if err != nil {
		nc.Close()
		return nil, err
	}

	matches := match.NewOrchestrator(ctx, store, reg, source, policy, cfg.Match)
	battles := battle.NewEngine(ctx, store, reg, source, policy, dispatcher, cfg.Battle)
	challenges := challenge.NewCoordinator(challenge.NewPostgresRepository(database), reg, source, policy, dispatcher, cfg.Challenge)

	gw := gateway.New(ctx, reg, store, matches, battles, challenges, dispatcher)
	reg.SetMessageHandler(gw)
	reg.OnUserOffline(store.NotifyUserOffline)

	return &Services{
		Registry:      reg,
		Store:         store,
		Matches:       matches,
		Battles:       battles,
		Challenges:    challenges,
		Notifications: dispatcher,
		Consumer:      consumer,
		NATS:          nc,
	}, nil
}

func newConsumer(ctx context.Context, reg *registry.Registry, js jetstream.JetStream, cfg notify.StreamConfig) (*notify.Consumer, error) {
	consumer, err := notify.NewConsumer(ctx, reg, js, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification consumer: %w", err)
	}
	return consumer, nil
}
