// Package gateway routes inbound WebSocket messages to the owning
// orchestrator and reports failures back to the originating connection
// only, leaving session state untouched.
package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/holyword/trivia/go/internal/battle"
	"github.com/holyword/trivia/go/internal/challenge"
	"github.com/holyword/trivia/go/internal/events"
	"github.com/holyword/trivia/go/internal/match"
	"github.com/holyword/trivia/go/internal/models"
	"github.com/holyword/trivia/go/internal/notify"
	"github.com/holyword/trivia/go/internal/registry"
	"github.com/holyword/trivia/go/internal/session"
)

const opTimeout = 5 * time.Second

// Gateway implements registry.MessageHandler. One instance serves all
// connections; per-session serialization happens inside the orchestrators.
type Gateway struct {
	reg           *registry.Registry
	store         *session.Store
	matches       *match.Orchestrator
	battles       *battle.Engine
	challenges    *challenge.Coordinator
	notifications *notify.Dispatcher
	parentCtx     context.Context

	mu    sync.RWMutex
	names map[string]string // user id -> display name from authenticate
}

func New(ctx context.Context, reg *registry.Registry, store *session.Store, matches *match.Orchestrator, battles *battle.Engine, challenges *challenge.Coordinator, notifications *notify.Dispatcher) *Gateway {
	return &Gateway{
		reg:           reg,
		store:         store,
		matches:       matches,
		battles:       battles,
		challenges:    challenges,
		notifications: notifications,
		parentCtx:     ctx,
		names:         make(map[string]string),
	}
}

var _ registry.MessageHandler = (*Gateway)(nil)

// HandleClientMessage parses and routes one inbound message. A handler
// error goes back to the sending connection as an error event and never
// tears the connection down.
func (g *Gateway) HandleClientMessage(conn *registry.Conn, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		g.pushError(conn, "bad_request", "malformed message")
		return
	}

	if msg.Type == "authenticate" {
		g.handleAuthenticate(conn, msg.Data)
		return
	}

	userID := g.reg.UserID(conn)
	if userID == "" {
		g.pushError(conn, "unauthenticated", "authenticate first")
		return
	}

	var err error
	switch msg.Type {
	case "create_game":
		err = g.handleCreateGame(conn, userID, msg.Data)
	case "join_game":
		err = g.handleJoinGame(userID, msg.Data)
	case "start_game":
		err = g.handleStartGame(userID, msg.Data)
	case "submit_answer":
		err = g.handleSubmitAnswer(userID, msg.Data)
	case "get_game_state":
		err = g.handleGetGameState(conn, userID, msg.Data)
	case "create_challenge":
		err = g.handleCreateChallenge(conn, userID, msg.Data)
	case "accept_challenge":
		err = g.handleChallengeTransition(conn, userID, msg.Data, g.challenges.Accept)
	case "decline_challenge":
		err = g.handleChallengeTransition(conn, userID, msg.Data, g.challenges.Decline)
	case "submit_challenge_answer":
		err = g.handleSubmitChallengeAnswer(userID, msg.Data)
	case "complete_challenge":
		err = g.handleCompleteChallenge(conn, userID, msg.Data)
	case "mark_notification_read":
		err = g.handleMarkNotificationRead(userID, msg.Data)
	case "create_team_battle":
		err = g.handleCreateBattle(conn, userID, msg.Data)
	case "invite_to_battle":
		err = g.handleInviteToBattle(userID, msg.Data)
	case "accept_battle_invite":
		err = g.handleAcceptBattleInvite(conn, userID, msg.Data)
	case "join_team":
		err = g.handleJoinTeam(conn, userID, msg.Data)
	case "team_ready":
		err = g.handleTeamReady(userID, msg.Data)
	case "team_option_selected":
		err = g.handleTeamOptionSelected(userID, msg.Data)
	case "finalize_team_answer":
		err = g.handleFinalizeTeamAnswer(userID, msg.Data)
	case "player_leaving_team_battle":
		err = g.handleLeaveBattle(userID, msg.Data)
	default:
		g.pushError(conn, "bad_request", "unknown message type: "+msg.Type)
		return
	}

	if err != nil {
		log.Debug().
			Err(err).
			Str("message_type", msg.Type).
			Str("user_id", userID).
			Msg("client message rejected")
		g.pushError(conn, errorCode(err), err.Error())
	}
}

// handleAuthenticate binds the connection to a user identity, replays
// unread notifications, and wakes the user's sessions so they resume
// delivering to the new connection.
func (g *Gateway) handleAuthenticate(conn *registry.Conn, data json.RawMessage) {
	var p authenticatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" {
		g.pushError(conn, "bad_request", "authenticate requires user_id")
		return
	}

	g.reg.Authenticate(conn, p.UserID)
	if p.DisplayName != "" {
		g.mu.Lock()
		g.names[p.UserID] = p.DisplayName
		g.mu.Unlock()
	}

	conn.Push(events.MustNew(events.TypeAuthenticated, events.AuthenticatedPayload{UserID: p.UserID}))
	g.store.NotifyUserOnline(p.UserID)

	ctx, cancel := g.opCtx()
	defer cancel()
	unread, err := g.notifications.Unread(ctx, p.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", p.UserID).Msg("failed to replay unread notifications")
		return
	}
	for _, n := range unread {
		conn.Push(events.MustNew(events.TypeNotification, events.NotificationPayload{
			ID:        n.ID,
			Type:      n.Type,
			Message:   n.Message,
			RelatedID: n.RelatedID,
			CreatedAt: n.CreatedAt,
		}))
	}
}

func (g *Gateway) handleCreateGame(conn *registry.Conn, userID string, data json.RawMessage) error {
	var p createGamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	ctx, cancel := g.opCtx()
	defer cancel()
	sessionID, err := g.matches.CreateGame(ctx, userID, g.displayName(userID), p.Category, p.Difficulty)
	if err != nil {
		return err
	}
	conn.Push(events.MustNew(events.TypeGameCreated, events.GameCreatedPayload{
		SessionID:  sessionID,
		Category:   p.Category,
		Difficulty: p.Difficulty,
	}))
	return nil
}

func (g *Gateway) handleJoinGame(userID string, data json.RawMessage) error {
	var p joinGamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	return g.matches.JoinGame(p.SessionID, userID, g.displayName(userID))
}

func (g *Gateway) handleStartGame(userID string, data json.RawMessage) error {
	var p startGamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	return g.matches.StartGame(p.SessionID, userID)
}

func (g *Gateway) handleSubmitAnswer(userID string, data json.RawMessage) error {
	var p submitAnswerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	return g.matches.SubmitAnswer(p.SessionID, userID, p.QuestionID, p.AnswerID, p.TimeSpentMs)
}

// handleGetGameState serves the reconnect snapshot for whichever session
// kind owns the id.
func (g *Gateway) handleGetGameState(conn *registry.Conn, userID string, data json.RawMessage) error {
	var p getGameStatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	h, ok := g.store.Get(p.SessionID)
	if !ok {
		return match.ErrSessionNotFound
	}

	var view any
	var err error
	switch h.Kind() {
	case models.SessionKindRealtime:
		view, err = g.matches.State(p.SessionID, userID)
	case models.SessionKindTeamBattle:
		view, err = g.battles.State(p.SessionID, userID)
	default:
		return match.ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	conn.Push(events.MustNew(events.TypeGameState, view))
	return nil
}

func (g *Gateway) handleCreateChallenge(conn *registry.Conn, userID string, data json.RawMessage) error {
	var p createChallengePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChallengeeID == "" {
		return errBadRequest
	}
	ctx, cancel := g.opCtx()
	defer cancel()
	ch, err := g.challenges.CreateChallenge(ctx, userID, p.ChallengeeID, p.Category, p.Difficulty)
	if err != nil {
		return err
	}
	conn.Push(events.MustNew(events.TypeChallengeCreated, events.ChallengeCreatedPayload{
		ChallengeID:  ch.ID,
		ChallengerID: ch.ChallengerID,
		ChallengeeID: ch.ChallengeeID,
		Category:     ch.Category,
		Difficulty:   ch.Difficulty,
		ExpiresAt:    ch.ExpiresAt,
	}))
	return nil
}

func (g *Gateway) handleChallengeTransition(conn *registry.Conn, userID string, data json.RawMessage, op func(context.Context, uuid.UUID, string) (*models.Challenge, error)) error {
	var p challengeActionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	ctx, cancel := g.opCtx()
	defer cancel()
	ch, err := op(ctx, p.ChallengeID, userID)
	if err != nil {
		return err
	}
	conn.Push(events.MustNew(events.TypeChallengeUpdated, ch))
	return nil
}

func (g *Gateway) handleSubmitChallengeAnswer(userID string, data json.RawMessage) error {
	var p submitChallengeAnswerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	ctx, cancel := g.opCtx()
	defer cancel()
	return g.challenges.SubmitAnswer(ctx, p.ChallengeID, userID, p.QuestionID, p.AnswerID, p.IsCorrect, p.TimeSpentMs)
}

func (g *Gateway) handleCompleteChallenge(conn *registry.Conn, userID string, data json.RawMessage) error {
	var p challengeActionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	ctx, cancel := g.opCtx()
	defer cancel()
	ch, err := g.challenges.Complete(ctx, p.ChallengeID, userID)
	if err != nil {
		return err
	}
	conn.Push(events.MustNew(events.TypeChallengeUpdated, ch))
	return nil
}

func (g *Gateway) handleMarkNotificationRead(userID string, data json.RawMessage) error {
	var p markNotificationReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	ctx, cancel := g.opCtx()
	defer cancel()
	return g.notifications.MarkRead(ctx, p.NotificationID, userID)
}

func (g *Gateway) handleCreateBattle(conn *registry.Conn, userID string, data json.RawMessage) error {
	var p createBattlePayload
	if err := json.Unmarshal(data, &p); err != nil || p.TeamName == "" {
		return errBadRequest
	}
	ctx, cancel := g.opCtx()
	defer cancel()
	battleID, err := g.battles.CreateBattle(ctx, userID, g.displayName(userID), p.TeamName, p.Category, p.Difficulty)
	if err != nil {
		return err
	}
	view, err := g.battles.State(battleID, userID)
	if err != nil {
		return err
	}
	conn.Push(events.MustNew(events.TypeBattleCreated, events.BattleCreatedPayload{
		BattleID: battleID,
		TeamID:   view.YourTeamID,
		TeamName: p.TeamName,
	}))
	return nil
}

func (g *Gateway) handleInviteToBattle(userID string, data json.RawMessage) error {
	var p inviteToBattlePayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" {
		return errBadRequest
	}
	return g.battles.Invite(p.BattleID, userID, p.UserID)
}

func (g *Gateway) handleAcceptBattleInvite(conn *registry.Conn, userID string, data json.RawMessage) error {
	var p acceptBattleInvitePayload
	if err := json.Unmarshal(data, &p); err != nil || p.TeamName == "" {
		return errBadRequest
	}
	if err := g.battles.AcceptInvite(p.BattleID, userID, g.displayName(userID), p.TeamName); err != nil {
		return err
	}
	return g.pushBattleState(conn, p.BattleID, userID)
}

func (g *Gateway) handleJoinTeam(conn *registry.Conn, userID string, data json.RawMessage) error {
	var p joinTeamPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	if err := g.battles.JoinTeam(p.BattleID, p.TeamID, userID, g.displayName(userID)); err != nil {
		return err
	}
	return g.pushBattleState(conn, p.BattleID, userID)
}

func (g *Gateway) handleTeamReady(userID string, data json.RawMessage) error {
	var p battleActionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	return g.battles.Ready(p.BattleID, userID)
}

func (g *Gateway) handleTeamOptionSelected(userID string, data json.RawMessage) error {
	var p teamOptionSelectedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	return g.battles.OptionSelected(p.BattleID, userID, p.QuestionID, p.AnswerID)
}

func (g *Gateway) handleFinalizeTeamAnswer(userID string, data json.RawMessage) error {
	var p finalizeTeamAnswerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	return g.battles.Finalize(p.BattleID, userID, p.QuestionID, p.AnswerID, p.TimeSpentMs)
}

func (g *Gateway) handleLeaveBattle(userID string, data json.RawMessage) error {
	var p battleActionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadRequest
	}
	return g.battles.Leave(p.BattleID, userID)
}

func (g *Gateway) pushBattleState(conn *registry.Conn, battleID uuid.UUID, userID string) error {
	view, err := g.battles.State(battleID, userID)
	if err != nil {
		return err
	}
	conn.Push(events.MustNew(events.TypeGameState, view))
	return nil
}

func (g *Gateway) displayName(userID string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if name, ok := g.names[userID]; ok {
		return name
	}
	return userID
}

func (g *Gateway) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(g.parentCtx, opTimeout)
}

func (g *Gateway) pushError(conn *registry.Conn, code, message string) {
	conn.Push(events.MustNew(events.TypeError, events.ErrorPayload{Code: code, Message: message}))
}

var errBadRequest = errors.New("malformed payload")

// errorCode maps handler errors to stable wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadRequest):
		return "bad_request"
	case errors.Is(err, match.ErrSessionNotFound),
		errors.Is(err, battle.ErrBattleNotFound),
		errors.Is(err, battle.ErrTeamNotFound),
		errors.Is(err, challenge.ErrChallengeNotFound),
		errors.Is(err, sql.ErrNoRows):
		return "not_found"
	case errors.Is(err, match.ErrSessionFull), errors.Is(err, battle.ErrTeamFull):
		return "session_full"
	case errors.Is(err, match.ErrSessionAlreadyPlaying):
		return "already_playing"
	case errors.Is(err, match.ErrSessionNotPlaying), errors.Is(err, battle.ErrBattleNotPlaying):
		return "not_playing"
	case errors.Is(err, match.ErrNotHost):
		return "not_host"
	case errors.Is(err, match.ErrNotInSession),
		errors.Is(err, battle.ErrNotMember),
		errors.Is(err, challenge.ErrNotParticipant):
		return "not_member"
	case errors.Is(err, battle.ErrNotCaptain), errors.Is(err, battle.ErrCaptainSuggestion):
		return "not_captain"
	case errors.Is(err, battle.ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, battle.ErrQuestionAlreadyLocked):
		return "question_already_locked"
	case errors.Is(err, match.ErrQuestionMismatch),
		errors.Is(err, battle.ErrQuestionMismatch),
		errors.Is(err, challenge.ErrQuestionMismatch):
		return "question_mismatch"
	case errors.Is(err, battle.ErrBattleAlreadyFinished):
		return "battle_finished"
	case errors.Is(err, battle.ErrNotInvited):
		return "not_invited"
	case errors.Is(err, battle.ErrAlreadyOnTeam):
		return "already_on_team"
	case errors.Is(err, battle.ErrOpponentAlreadySet):
		return "opponent_already_set"
	case errors.Is(err, challenge.ErrInvalidChallengeState):
		return "invalid_challenge_state"
	case errors.Is(err, challenge.ErrNotChallengee):
		return "not_challengee"
	case errors.Is(err, challenge.ErrSelfChallenge):
		return "self_challenge"
	default:
		return "internal_error"
	}
}
