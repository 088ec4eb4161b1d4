// Package match runs simple synchronous multiplayer games: every player
// answers the same question concurrently under a client-managed timer, the
// server accepts answers best-effort and broadcasts leaderboard snapshots.
package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/holyword/trivia/go/internal/models"
	"github.com/holyword/trivia/go/internal/questions"
	"github.com/holyword/trivia/go/internal/registry"
	"github.com/holyword/trivia/go/internal/scoring"
	"github.com/holyword/trivia/go/internal/session"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionFull           = errors.New("session is full")
	ErrSessionAlreadyPlaying = errors.New("session already playing")
	ErrSessionNotPlaying     = errors.New("session is not playing")
	ErrNotHost               = errors.New("only the host may do that")
	ErrQuestionMismatch      = errors.New("answer does not match the current question")
	ErrNotInSession          = errors.New("user is not in this session")
)

// Config holds realtime match settings.
type Config struct {
	QuestionCount   int `yaml:"question_count"`
	QuestionTimeSec int `yaml:"question_time_sec"`
	MaxPlayers      int `yaml:"max_players"`
}

// DefaultConfig returns match defaults.
func DefaultConfig() Config {
	return Config{QuestionCount: 10, QuestionTimeSec: 30, MaxPlayers: 8}
}

func (c Config) questionTime() time.Duration {
	return time.Duration(c.QuestionTimeSec) * time.Second
}

// Orchestrator creates and drives realtime match actors.
type Orchestrator struct {
	store     *session.Store
	reg       *registry.Registry
	source    questions.Source
	policy    scoring.Policy
	config    Config
	clock     clockwork.Clock
	parentCtx context.Context
}

// NewOrchestrator creates a match orchestrator.
func NewOrchestrator(ctx context.Context, store *session.Store, reg *registry.Registry, source questions.Source, policy scoring.Policy, cfg Config) *Orchestrator {
	if cfg.QuestionCount <= 0 {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		store:     store,
		reg:       reg,
		source:    source,
		policy:    policy,
		config:    cfg,
		clock:     clockwork.NewRealClock(),
		parentCtx: ctx,
	}
}

// WithClock swaps the clock, for tests.
func (o *Orchestrator) WithClock(c clockwork.Clock) *Orchestrator {
	o.clock = c
	return o
}

// CreateGame builds a new waiting session with the host as its first
// player and returns the session id.
func (o *Orchestrator) CreateGame(ctx context.Context, hostUserID, hostName, category, difficulty string) (uuid.UUID, error) {
	qs, err := o.source.QuestionSet(ctx, category, difficulty, o.config.QuestionCount)
	if err != nil {
		return uuid.Nil, fmt.Errorf("build question set: %w", err)
	}

	now := o.clock.Now().UTC()
	g := &game{
		session: models.GameSession{
			ID:         uuid.New(),
			Kind:       models.SessionKindRealtime,
			Category:   category,
			Difficulty: difficulty,
			Questions:  qs,
			Status:     models.SessionStatusWaiting,
			CreatedAt:  now,
		},
		host:     hostUserID,
		players:  make(map[string]*models.Player),
		offline:  make(map[string]bool),
		answered: make(map[int]map[string]answerRecord),
		inbox:    make(chan gameMsg, 64),
		done:     make(chan struct{}),
		orch:     o,
	}
	g.addPlayer(hostUserID, hostName)

	o.store.Register(g)
	o.store.Bind(hostUserID, g.session.ID)
	go g.loop(o.parentCtx)

	log.Info().
		Str("session_id", g.session.ID.String()).
		Str("host", hostUserID).
		Str("category", category).
		Msg("realtime game created")
	return g.session.ID, nil
}

// JoinGame appends a player to a waiting session.
func (o *Orchestrator) JoinGame(sessionID uuid.UUID, userID, displayName string) error {
	g, err := o.lookup(sessionID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := g.deliver(joinMsg{userID: userID, displayName: displayName, reply: reply}); err != nil {
		return err
	}
	if err := g.await(reply); err != nil {
		return err
	}
	o.store.Bind(userID, sessionID)
	return nil
}

// StartGame moves the session to playing. Host only.
func (o *Orchestrator) StartGame(sessionID uuid.UUID, userID string) error {
	g, err := o.lookup(sessionID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := g.deliver(startMsg{userID: userID, reply: reply}); err != nil {
		return err
	}
	return g.await(reply)
}

// SubmitAnswer records an answer. First write wins for a given
// (session, user, question); later writes are ignored without error.
func (o *Orchestrator) SubmitAnswer(sessionID uuid.UUID, userID string, questionID, answerID uuid.UUID, timeSpentMs int64) error {
	g, err := o.lookup(sessionID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := g.deliver(submitMsg{
		userID:      userID,
		questionID:  questionID,
		answerID:    answerID,
		timeSpentMs: timeSpentMs,
		reply:       reply,
	}); err != nil {
		return err
	}
	return g.await(reply)
}

// EndGame finishes the session and broadcasts final results. Idempotent.
func (o *Orchestrator) EndGame(sessionID uuid.UUID) error {
	g, err := o.lookup(sessionID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := g.deliver(endMsg{reply: reply}); err != nil {
		return nil // already gone, EndGame is idempotent
	}
	if err := g.await(reply); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return nil
}

func (o *Orchestrator) lookup(sessionID uuid.UUID) (*game, error) {
	h, ok := o.store.Get(sessionID)
	if !ok || h.Kind() != models.SessionKindRealtime {
		return nil, ErrSessionNotFound
	}
	g, ok := h.(*game)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return g, nil
}
