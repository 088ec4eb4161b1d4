package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/holyword/trivia/go/internal/events"
	"github.com/holyword/trivia/go/internal/models"
	"github.com/holyword/trivia/go/internal/questions"
	"github.com/holyword/trivia/go/internal/registry"
	"github.com/holyword/trivia/go/internal/scoring"
)

var (
	ErrChallengeNotFound     = errors.New("challenge not found")
	ErrNotParticipant        = errors.New("user is not part of this challenge")
	ErrNotChallengee         = errors.New("only the challengee may accept or decline")
	ErrInvalidChallengeState = errors.New("challenge is not in a valid state for this operation")
	ErrQuestionMismatch      = errors.New("question does not belong to this challenge")
	ErrSelfChallenge         = errors.New("cannot challenge yourself")
)

// Notifier is what the coordinator needs from the notification dispatcher.
type Notifier interface {
	Dispatch(n *models.Notification)
}

// Config holds challenge duel settings.
type Config struct {
	QuestionCount   int           `yaml:"question_count"`
	QuestionTimeSec int           `yaml:"question_time_sec"`
	TTL             time.Duration `yaml:"ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns challenge defaults: duels expire a day after
// creation.
func DefaultConfig() Config {
	return Config{
		QuestionCount:   10,
		QuestionTimeSec: 30,
		TTL:             24 * time.Hour,
		SweepInterval:   time.Minute,
	}
}

func (c Config) questionTime() time.Duration {
	return time.Duration(c.QuestionTimeSec) * time.Second
}

// Coordinator runs asynchronous 1v1 duels. Challenge state lives in the
// repository because a duel outlives any single connection; a per-challenge
// keyed lock serializes the two participants' writes the same way a resident
// actor would, without keeping a goroutine alive for a day.
type Coordinator struct {
	repo     Repository
	reg      *registry.Registry
	source   questions.Source
	policy   scoring.Policy
	notifier Notifier
	config   Config
	clock    clockwork.Clock
	locks    keyedMutex
}

func NewCoordinator(repo Repository, reg *registry.Registry, source questions.Source, policy scoring.Policy, notifier Notifier, cfg Config) *Coordinator {
	return &Coordinator{
		repo:     repo,
		reg:      reg,
		source:   source,
		policy:   policy,
		notifier: notifier,
		config:   cfg,
		clock:    clockwork.NewRealClock(),
	}
}

// WithClock swaps the clock, for tests.
func (c *Coordinator) WithClock(clk clockwork.Clock) *Coordinator {
	c.clock = clk
	return c
}

// CreateChallenge opens a pending duel with a fixed expiry and a question
// set generated once and shared by both sides, so scores are comparable.
// The challengee learns about it through a durable notification.
func (c *Coordinator) CreateChallenge(ctx context.Context, challengerID, challengeeID, category, difficulty string) (*models.Challenge, error) {
	if challengerID == challengeeID {
		return nil, ErrSelfChallenge
	}

	qs, err := c.source.QuestionSet(ctx, category, difficulty, c.config.QuestionCount)
	if err != nil {
		return nil, fmt.Errorf("build question set: %w", err)
	}

	now := c.clock.Now().UTC()
	ch := &models.Challenge{
		ID:           uuid.New(),
		ChallengerID: challengerID,
		ChallengeeID: challengeeID,
		SessionID:    uuid.New(),
		Category:     category,
		Difficulty:   difficulty,
		Status:       models.ChallengeStatusPending,
		ExpiresAt:    now.Add(c.config.TTL),
		CreatedAt:    now,
	}
	if err := c.repo.Create(ctx, ch, qs); err != nil {
		return nil, fmt.Errorf("persist challenge: %w", err)
	}

	challengeID := ch.ID
	c.notifier.Dispatch(&models.Notification{
		UserID:    challengeeID,
		Type:      models.NotificationTypeChallengeReceived,
		Message:   fmt.Sprintf("You have been challenged to a %s duel", category),
		RelatedID: &challengeID,
	})

	log.Info().
		Str("challenge_id", ch.ID.String()).
		Str("challenger", challengerID).
		Str("challengee", challengeeID).
		Msg("challenge created")
	return ch, nil
}

// Accept transitions pending -> accepted. Challengee only.
func (c *Coordinator) Accept(ctx context.Context, challengeID uuid.UUID, userID string) (*models.Challenge, error) {
	return c.transition(ctx, challengeID, userID, models.ChallengeStatusAccepted)
}

// Decline transitions pending -> declined. Challengee only. No result rows
// are ever created for a declined challenge.
func (c *Coordinator) Decline(ctx context.Context, challengeID uuid.UUID, userID string) (*models.Challenge, error) {
	return c.transition(ctx, challengeID, userID, models.ChallengeStatusDeclined)
}

func (c *Coordinator) transition(ctx context.Context, challengeID uuid.UUID, userID string, to models.ChallengeStatus) (*models.Challenge, error) {
	unlock := c.locks.lock(challengeID)
	defer unlock()

	ch, err := c.load(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if userID != ch.ChallengeeID {
		return nil, ErrNotChallengee
	}
	if ch.Status != models.ChallengeStatusPending {
		return nil, ErrInvalidChallengeState
	}
	if expired, err := c.expireIfDue(ctx, ch); expired || err != nil {
		if err != nil {
			return nil, err
		}
		return nil, ErrInvalidChallengeState
	}

	ch.Status = to
	if err := c.repo.Update(ctx, ch); err != nil {
		return nil, fmt.Errorf("update challenge: %w", err)
	}
	log.Info().
		Str("challenge_id", ch.ID.String()).
		Str("status", string(to)).
		Msg("challenge transitioned")
	return ch, nil
}

// SubmitAnswer appends one answer to the caller's result sheet. Valid only
// while the challenge is accepted and the caller has not completed yet.
func (c *Coordinator) SubmitAnswer(ctx context.Context, challengeID uuid.UUID, userID string, questionID, answerID uuid.UUID, isCorrect bool, timeSpentMs int64) error {
	unlock := c.locks.lock(challengeID)
	defer unlock()

	ch, err := c.load(ctx, challengeID)
	if err != nil {
		return err
	}
	if !isParticipant(ch, userID) {
		return ErrNotParticipant
	}
	if ch.Status != models.ChallengeStatusAccepted {
		return ErrInvalidChallengeState
	}
	if expired, err := c.expireIfDue(ctx, ch); expired || err != nil {
		if err != nil {
			return err
		}
		return ErrInvalidChallengeState
	}

	qs, err := c.repo.Questions(ctx, challengeID)
	if err != nil {
		return fmt.Errorf("load question set: %w", err)
	}
	q := findQuestion(qs, questionID)
	if q == nil {
		return ErrQuestionMismatch
	}
	// The client reports correctness, but the shared question set is ours;
	// recompute and keep the authoritative value.
	correct := q.CorrectOptionID() == answerID
	if correct != isCorrect {
		log.Warn().
			Str("challenge_id", challengeID.String()).
			Str("user_id", userID).
			Str("question_id", questionID.String()).
			Msg("client-reported correctness disagreed with question set")
	}

	result, err := c.repo.GetResult(ctx, challengeID, userID)
	if err != nil && !errors.Is(err, ErrResultNotFound) {
		return fmt.Errorf("load result: %w", err)
	}
	if result == nil {
		result = &models.ChallengeResult{
			ID:          uuid.New(),
			ChallengeID: challengeID,
			UserID:      userID,
		}
	}
	if result.Completed {
		return ErrInvalidChallengeState
	}
	for _, a := range result.Answers {
		if a.QuestionID == questionID {
			return ErrInvalidChallengeState // one answer per question
		}
	}

	result.Answers = append(result.Answers, models.ChallengeAnswer{
		QuestionID:  questionID,
		AnswerID:    answerID,
		IsCorrect:   correct,
		TimeSpentMs: timeSpentMs,
	})
	if correct {
		result.Correct++
		result.Score += c.policy.Score(true, time.Duration(timeSpentMs)*time.Millisecond, c.config.questionTime())
	}
	if err := c.repo.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// Complete marks the caller's side finished. Calling it again is a no-op.
// When both sides are complete the challenge resolves: winner or draw is
// derived from the two scores and becomes immutable, and a result
// notification goes to both participants exactly once.
func (c *Coordinator) Complete(ctx context.Context, challengeID uuid.UUID, userID string) (*models.Challenge, error) {
	unlock := c.locks.lock(challengeID)
	defer unlock()

	ch, err := c.load(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(ch, userID) {
		return nil, ErrNotParticipant
	}
	if ch.Status == models.ChallengeStatusCompleted {
		return ch, nil
	}
	if ch.Status != models.ChallengeStatusAccepted {
		return nil, ErrInvalidChallengeState
	}
	if expired, err := c.expireIfDue(ctx, ch); expired || err != nil {
		if err != nil {
			return nil, err
		}
		return nil, ErrInvalidChallengeState
	}

	now := c.clock.Now().UTC()
	result, err := c.repo.GetResult(ctx, challengeID, userID)
	if err != nil && !errors.Is(err, ErrResultNotFound) {
		return nil, fmt.Errorf("load result: %w", err)
	}
	if result == nil {
		// Completing without ever answering is allowed; it scores zero.
		result = &models.ChallengeResult{
			ID:          uuid.New(),
			ChallengeID: challengeID,
			UserID:      userID,
		}
	}
	if !result.Completed {
		result.Completed = true
		result.CompletedAt = &now
		if err := c.repo.SaveResult(ctx, result); err != nil {
			return nil, fmt.Errorf("save result: %w", err)
		}
	}

	otherID := ch.ChallengerID
	if userID == ch.ChallengerID {
		otherID = ch.ChallengeeID
	}
	other, err := c.repo.GetResult(ctx, challengeID, otherID)
	if err != nil && !errors.Is(err, ErrResultNotFound) {
		return nil, fmt.Errorf("load opposing result: %w", err)
	}
	if other == nil || !other.Completed {
		return ch, nil
	}

	return c.resolve(ctx, ch, result, other, userID)
}

// resolve finishes a challenge once both result sheets are complete.
func (c *Coordinator) resolve(ctx context.Context, ch *models.Challenge, mine, other *models.ChallengeResult, userID string) (*models.Challenge, error) {
	challengerRes, challengeeRes := mine, other
	if userID != ch.ChallengerID {
		challengerRes, challengeeRes = other, mine
	}

	now := c.clock.Now().UTC()
	ch.Status = models.ChallengeStatusCompleted
	ch.CompletedAt = &now
	switch {
	case challengerRes.Score > challengeeRes.Score:
		ch.WinnerID = &ch.ChallengerID
	case challengeeRes.Score > challengerRes.Score:
		ch.WinnerID = &ch.ChallengeeID
	default:
		ch.IsDraw = true
	}

	notify := !ch.NotificationSent
	ch.NotificationSent = true
	if err := c.repo.Update(ctx, ch); err != nil {
		return nil, fmt.Errorf("update challenge: %w", err)
	}

	if notify {
		ev := events.MustNew(events.TypeChallengeResult, events.ChallengeResultPayload{
			ChallengeID:     ch.ID,
			WinnerID:        ch.WinnerID,
			IsDraw:          ch.IsDraw,
			ChallengerScore: challengerRes.Score,
			ChallengeeScore: challengeeRes.Score,
		})
		challengeID := ch.ID
		for _, uid := range []string{ch.ChallengerID, ch.ChallengeeID} {
			c.reg.Send(uid, ev)
			c.notifier.Dispatch(&models.Notification{
				UserID:    uid,
				Type:      models.NotificationTypeChallengeResult,
				Message:   resultMessage(ch, uid),
				RelatedID: &challengeID,
			})
		}
	}

	log.Info().
		Str("challenge_id", ch.ID.String()).
		Bool("draw", ch.IsDraw).
		Int("challenger_score", challengerRes.Score).
		Int("challengee_score", challengeeRes.Score).
		Msg("challenge resolved")
	return ch, nil
}

// Get returns a challenge by id for one of its participants.
func (c *Coordinator) Get(ctx context.Context, challengeID uuid.UUID, userID string) (*models.Challenge, error) {
	ch, err := c.load(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(ch, userID) {
		return nil, ErrNotParticipant
	}
	return ch, nil
}

// ForUser lists a user's challenges, newest first.
func (c *Coordinator) ForUser(ctx context.Context, userID string) ([]models.Challenge, error) {
	return c.repo.ListForUser(ctx, userID)
}

// Questions returns the shared question set of a challenge for one of its
// participants.
func (c *Coordinator) Questions(ctx context.Context, challengeID uuid.UUID, userID string) ([]models.Question, error) {
	ch, err := c.load(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(ch, userID) {
		return nil, ErrNotParticipant
	}
	return c.repo.Questions(ctx, challengeID)
}

// RunExpirySweep periodically expires overdue pending/accepted challenges.
// Expired challenges never resolve; no winner is computed.
func (c *Coordinator) RunExpirySweep(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", c.config.SweepInterval).
		Msg("challenge expiry sweep started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("challenge expiry sweep stopped")
			return ctx.Err()
		case <-ticker.Chan():
			n, err := c.repo.ExpireDue(ctx, c.clock.Now().UTC())
			if err != nil {
				log.Error().Err(err).Msg("challenge expiry sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("expired", n).Msg("expired overdue challenges")
			}
		}
	}
}

func (c *Coordinator) load(ctx context.Context, challengeID uuid.UUID) (*models.Challenge, error) {
	ch, err := c.repo.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	return ch, nil
}

// expireIfDue lazily expires a challenge whose deadline passed between
// sweeps, so callers never operate on a logically dead duel.
func (c *Coordinator) expireIfDue(ctx context.Context, ch *models.Challenge) (bool, error) {
	if !c.clock.Now().UTC().After(ch.ExpiresAt) {
		return false, nil
	}
	ch.Status = models.ChallengeStatusExpired
	if err := c.repo.Update(ctx, ch); err != nil {
		return true, fmt.Errorf("expire challenge: %w", err)
	}
	log.Info().Str("challenge_id", ch.ID.String()).Msg("challenge expired")
	return true, nil
}

func isParticipant(ch *models.Challenge, userID string) bool {
	return userID == ch.ChallengerID || userID == ch.ChallengeeID
}

func findQuestion(qs []models.Question, id uuid.UUID) *models.Question {
	for i := range qs {
		if qs[i].ID == id {
			return &qs[i]
		}
	}
	return nil
}

func resultMessage(ch *models.Challenge, userID string) string {
	switch {
	case ch.IsDraw:
		return "Your challenge ended in a draw"
	case ch.WinnerID != nil && *ch.WinnerID == userID:
		return "You won your challenge"
	default:
		return "You lost your challenge"
	}
}

// keyedMutex serializes operations per challenge id. Entries are reference
// counted and removed once the last holder unlocks.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(id uuid.UUID) (unlock func()) {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[uuid.UUID]*lockEntry)
	}
	e, ok := k.entries[id]
	if !ok {
		e = &lockEntry{}
		k.entries[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}
