// Package notify persists asynchronous notifications and relays them to
// live connections through NATS JetStream. Delivery is fire-and-forget with
// retry/backoff and never sits on the critical path of question resolution.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/holyword/trivia/go/internal/models"
)

// Repository defines what the dispatcher needs from notification storage.
type Repository interface {
	Insert(ctx context.Context, n *models.Notification) error
	MarkRead(ctx context.Context, id uuid.UUID, userID string) error
	ListUnread(ctx context.Context, userID string) ([]models.Notification, error)
}

// Publisher pushes a stored notification onto the relay bus.
type Publisher interface {
	Publish(ctx context.Context, n *models.Notification) error
}

// Config tunes the dispatch worker.
type Config struct {
	QueueSize  int           `yaml:"queue_size"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// DefaultConfig returns dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:  256,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Dispatcher accepts notifications from the game engines, persists them and
// hands them to the publisher.
type Dispatcher struct {
	repo      Repository
	publisher Publisher
	queue     chan *models.Notification
	config    Config
	clock     clockwork.Clock
}

// NewDispatcher creates a dispatcher. Start must be called before Dispatch
// deliveries drain.
func NewDispatcher(repo Repository, publisher Publisher, cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Dispatcher{
		repo:      repo,
		publisher: publisher,
		queue:     make(chan *models.Notification, cfg.QueueSize),
		config:    cfg,
		clock:     clockwork.NewRealClock(),
	}
}

// WithClock swaps the clock, for tests.
func (d *Dispatcher) WithClock(c clockwork.Clock) *Dispatcher {
	d.clock = c
	return d
}

// Dispatch queues a notification. It never blocks the calling session
// actor; if the queue is full the notification is dropped with a warning
// (the durable store is written by the worker, so a drop here loses the
// notification entirely and is logged loudly).
func (d *Dispatcher) Dispatch(n *models.Notification) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.clock.Now().UTC()
	}
	select {
	case d.queue <- n:
	default:
		log.Error().
			Str("user_id", n.UserID).
			Str("type", string(n.Type)).
			Msg("notification queue full, dropping notification")
	}
}

// MarkRead marks a stored notification read on behalf of its owner.
func (d *Dispatcher) MarkRead(ctx context.Context, id uuid.UUID, userID string) error {
	return d.repo.MarkRead(ctx, id, userID)
}

// Unread returns pending notifications, delivered on authenticate so an
// offline user catches up.
func (d *Dispatcher) Unread(ctx context.Context, userID string) ([]models.Notification, error) {
	return d.repo.ListUnread(ctx, userID)
}

// Start drains the queue until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	log.Info().Msg("notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("notification dispatcher shutting down")
			return
		case n := <-d.queue:
			d.process(ctx, n)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, n *models.Notification) {
	if err := d.withRetry(ctx, func() error { return d.repo.Insert(ctx, n) }); err != nil {
		log.Error().Err(err).
			Str("user_id", n.UserID).
			Str("type", string(n.Type)).
			Msg("failed to persist notification")
		return
	}
	if err := d.withRetry(ctx, func() error { return d.publisher.Publish(ctx, n) }); err != nil {
		log.Error().Err(err).
			Str("notification_id", n.ID.String()).
			Msg("failed to publish notification, stored copy remains")
	}
}

// withRetry runs fn up to MaxRetries+1 times with linear backoff.
func (d *Dispatcher) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= d.config.MaxRetries {
			return err
		}
		delay := d.config.RetryDelay * time.Duration(attempt+1)
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", delay).Msg("notification op failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.clock.After(delay):
		}
	}
}
