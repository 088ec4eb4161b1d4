// Package battle runs the team battle protocol: two teams alternate
// answering questions, non-captain members suggest answers, only the captain
// finalizes, and a per-question deadline scores silence as a miss. The
// engine survives member and captain disconnects and force-ends a battle
// whose entire side goes unreachable.
package battle

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
	ErrBattleNotFound        = errors.New("battle not found")
	ErrTeamNotFound          = errors.New("team not found")
	ErrNotCaptain            = errors.New("only the captain may finalize")
	ErrNotMember             = errors.New("user is not a member of this battle")
	ErrQuestionAlreadyLocked = errors.New("question already locked")
	ErrQuestionMismatch      = errors.New("answer does not match the current question")
	ErrNotYourTurn           = errors.New("the other team holds the turn")
	ErrBattleNotPlaying      = errors.New("battle is not playing")
	ErrBattleAlreadyFinished = errors.New("battle already finished")
	ErrNotInvited            = errors.New("user was not invited to this battle")
	ErrAlreadyOnTeam         = errors.New("user already belongs to a team in this battle")
	ErrTeamFull              = errors.New("team is full")
	ErrOpponentAlreadySet    = errors.New("battle already has an opposing team")
	ErrCaptainSuggestion     = errors.New("captains finalize, they do not suggest")
)

// Notifier is what the engine needs from the notification dispatcher.
type Notifier interface {
	Dispatch(n *models.Notification)
}

// Config holds team battle settings.
type Config struct {
	QuestionCount   int `yaml:"question_count"`
	QuestionTimeSec int `yaml:"question_time_sec"`
	MaxTeamSize     int `yaml:"max_team_size"`
}

// DefaultConfig returns team battle defaults.
func DefaultConfig() Config {
	return Config{QuestionCount: 10, QuestionTimeSec: 30, MaxTeamSize: 5}
}

func (c Config) questionTime() time.Duration {
	return time.Duration(c.QuestionTimeSec) * time.Second
}

// Engine creates and drives team battle actors.
type Engine struct {
	store     *session.Store
	reg       *registry.Registry
	source    questions.Source
	policy    scoring.Policy
	notifier  Notifier
	config    Config
	clock     clockwork.Clock
	parentCtx context.Context
}

// NewEngine creates a team battle engine.
func NewEngine(ctx context.Context, store *session.Store, reg *registry.Registry, source questions.Source, policy scoring.Policy, notifier Notifier, cfg Config) *Engine {
	if cfg.QuestionCount <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		store:     store,
		reg:       reg,
		source:    source,
		policy:    policy,
		notifier:  notifier,
		config:    cfg,
		clock:     clockwork.NewRealClock(),
		parentCtx: ctx,
	}
}

// WithClock swaps the clock, for tests.
func (e *Engine) WithClock(c clockwork.Clock) *Engine {
	e.clock = c
	return e
}

// CreateBattle starts a forming battle with the creator as Team A's captain
// and returns the battle id.
func (e *Engine) CreateBattle(ctx context.Context, hostUserID, hostName, teamName, category, difficulty string) (uuid.UUID, error) {
	qs, err := e.source.QuestionSet(ctx, category, difficulty, e.config.QuestionCount)
	if err != nil {
		return uuid.Nil, fmt.Errorf("build question set: %w", err)
	}

	now := e.clock.Now().UTC()
	battleID := uuid.New()
	teamA := &models.Team{
		ID:        uuid.New(),
		Name:      teamName,
		BattleID:  battleID,
		CaptainID: hostUserID,
		Members: []models.TeamMember{{
			UserID:      hostUserID,
			DisplayName: hostName,
			Role:        models.TeamRoleCaptain,
			Connected:   true,
			JoinedAt:    now,
		}},
		Status:    models.TeamStatusForming,
		CreatedAt: now,
	}

	a := &actor{
		battle: models.TeamBattle{
			ID:         battleID,
			TeamA:      teamA,
			Category:   category,
			Difficulty: difficulty,
			Status:     models.BattleStatusForming,
			CreatedAt:  now,
		},
		questions:   qs,
		suggestions: make(map[string]uuid.UUID),
		invited:     make(map[string]bool),
		ready:       make(map[uuid.UUID]bool),
		inbox:       make(chan battleMsg, 64),
		done:        make(chan struct{}),
		engine:      e,
	}

	e.store.Register(a)
	e.store.Bind(hostUserID, battleID)
	go a.loop(e.parentCtx)

	log.Info().
		Str("battle_id", battleID.String()).
		Str("host", hostUserID).
		Str("team", teamName).
		Msg("team battle created")
	return battleID, nil
}

// Invite asks another user to captain the opposing team. Team A captain
// only; the invite is delivered as a durable notification.
func (e *Engine) Invite(battleID uuid.UUID, byUserID, opponentUserID string) error {
	return e.send(battleID, func(reply chan error) battleMsg {
		return inviteMsg{byUserID: byUserID, opponentUserID: opponentUserID, reply: reply}
	})
}

// AcceptInvite creates Team B with the acceptor as captain.
func (e *Engine) AcceptInvite(battleID uuid.UUID, userID, displayName, teamName string) error {
	if err := e.send(battleID, func(reply chan error) battleMsg {
		return acceptMsg{userID: userID, displayName: displayName, teamName: teamName, reply: reply}
	}); err != nil {
		return err
	}
	e.store.Bind(userID, battleID)
	return nil
}

// JoinTeam adds a member to a forming team.
func (e *Engine) JoinTeam(battleID, teamID uuid.UUID, userID, displayName string) error {
	if err := e.send(battleID, func(reply chan error) battleMsg {
		return joinTeamMsg{teamID: teamID, userID: userID, displayName: displayName, reply: reply}
	}); err != nil {
		return err
	}
	e.store.Bind(userID, battleID)
	return nil
}

// Ready signals a team's readiness. Captain only. When both teams are
// ready the battle starts and the first question is served to Team A.
func (e *Engine) Ready(battleID uuid.UUID, userID string) error {
	return e.send(battleID, func(reply chan error) battleMsg {
		return readyMsg{userID: userID, reply: reply}
	})
}

// OptionSelected records a non-binding suggestion from a turn-team member
// and fans the updated tally out to that team. Advisory only.
func (e *Engine) OptionSelected(battleID uuid.UUID, userID string, questionID, answerID uuid.UUID) error {
	return e.send(battleID, func(reply chan error) battleMsg {
		return suggestMsg{userID: userID, questionID: questionID, answerID: answerID, reply: reply}
	})
}

// Finalize locks the turn team's answer for the current question. Captain
// only; first finalize wins against the deadline.
func (e *Engine) Finalize(battleID uuid.UUID, userID string, questionID, answerID uuid.UUID, timeSpentMs int64) error {
	return e.send(battleID, func(reply chan error) battleMsg {
		return finalizeMsg{userID: userID, questionID: questionID, answerID: answerID, timeSpentMs: timeSpentMs, reply: reply}
	})
}

// Leave removes a member voluntarily; battle-wise it is treated like a
// disconnect of that member.
func (e *Engine) Leave(battleID uuid.UUID, userID string) error {
	err := e.send(battleID, func(reply chan error) battleMsg {
		return leaveMsg{userID: userID, reply: reply}
	})
	if err == nil {
		e.store.Unbind(userID, battleID)
	}
	return err
}

// State returns the authoritative battle view for a (re)connecting member.
// The current question body is included only when the requester's team
// holds the turn.
func (e *Engine) State(battleID uuid.UUID, userID string) (*StateView, error) {
	a, err := e.lookup(battleID)
	if err != nil {
		return nil, err
	}
	reply := make(chan stateReply, 1)
	if err := a.deliver(stateMsg{userID: userID, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.view, r.err
	case <-a.done:
		select {
		case r := <-reply:
			return r.view, r.err
		default:
			return nil, ErrBattleNotFound
		}
	}
}

func (e *Engine) send(battleID uuid.UUID, build func(chan error) battleMsg) error {
	a, err := e.lookup(battleID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := a.deliver(build(reply)); err != nil {
		return err
	}
	return a.await(reply)
}

func (e *Engine) lookup(battleID uuid.UUID) (*actor, error) {
	h, ok := e.store.Get(battleID)
	if !ok || h.Kind() != models.SessionKindTeamBattle {
		return nil, ErrBattleNotFound
	}
	a, ok := h.(*actor)
	if !ok {
		return nil, ErrBattleNotFound
	}
	return a, nil
}
