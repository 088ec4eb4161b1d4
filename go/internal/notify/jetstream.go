package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/holyword/trivia/go/internal/events"
	"github.com/holyword/trivia/go/internal/models"
	"github.com/holyword/trivia/go/internal/registry"
)

// StreamConfig holds JetStream settings for the notification relay.
type StreamConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectPrefix string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultStreamConfig returns relay defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "NOTIFICATIONS",
		ConsumerName:  "notify-gateway",
		SubjectPrefix: "notify.user",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Connect dials NATS with reconnect handlers and opens a JetStream context.
func Connect(cfg StreamConfig) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

// JetStreamPublisher publishes stored notifications to the relay stream.
type JetStreamPublisher struct {
	js  jetstream.JetStream
	cfg StreamConfig
}

// NewJetStreamPublisher ensures the stream exists and returns a publisher.
func NewJetStreamPublisher(ctx context.Context, js jetstream.JetStream, cfg StreamConfig) (*JetStreamPublisher, error) {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return &JetStreamPublisher{js: js, cfg: cfg}, nil
}

// Publish pushes one notification onto the user's subject.
func (p *JetStreamPublisher) Publish(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", p.cfg.SubjectPrefix, n.UserID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Consumer reads relayed notifications and pushes them to live connections
// through the registry. Offline users keep their stored copy and catch up
// on next authenticate.
type Consumer struct {
	reg      *registry.Registry
	js       jetstream.JetStream
	consumer jetstream.Consumer
	cfg      StreamConfig
}

// NewConsumer creates or reuses the durable gateway consumer.
func NewConsumer(ctx context.Context, reg *registry.Registry, js jetstream.JetStream, cfg StreamConfig) (*Consumer, error) {
	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          cfg.ConsumerName,
		Durable:       cfg.ConsumerName,
		Description:   "Notification gateway consumer",
		FilterSubject: cfg.SubjectPrefix + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    cfg.MaxDeliver,
		AckWait:       cfg.AckWait,
		MaxAckPending: cfg.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, cfg.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return nil, fmt.Errorf("create consumer: %w", err)
		}
		log.Info().Str("consumer", cfg.ConsumerName).Msg("created JetStream consumer")
	}

	return &Consumer{reg: reg, js: js, consumer: consumer, cfg: cfg}, nil
}

// Start consumes until the context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	log.Info().Str("stream", c.cfg.StreamName).Msg("starting notification consumer")

	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		if err := c.processMessage(msg); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process notification")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error().Err(nakErr).Msg("failed to NAK message")
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	log.Info().Msg("notification consumer shutting down")
	return nil
}

func (c *Consumer) processMessage(msg jetstream.Msg) error {
	var n models.Notification
	if err := json.Unmarshal(msg.Data(), &n); err != nil {
		return fmt.Errorf("unmarshal notification: %w", err)
	}

	ev, err := events.New(events.TypeNotification, events.NotificationPayload{
		ID:        n.ID,
		Type:      n.Type,
		Message:   n.Message,
		RelatedID: n.RelatedID,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return err
	}
	c.reg.Send(n.UserID, ev)
	return nil
}
