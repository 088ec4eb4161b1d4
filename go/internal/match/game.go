package match

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/holyword/trivia/go/internal/events"
	"github.com/holyword/trivia/go/internal/models"
	"github.com/holyword/trivia/go/internal/session"
)

type gameMsg interface{ isGameMsg() }

type joinMsg struct {
	userID      string
	displayName string
	reply       chan error
}

type startMsg struct {
	userID string
	reply  chan error
}

type submitMsg struct {
	userID      string
	questionID  uuid.UUID
	answerID    uuid.UUID
	timeSpentMs int64
	reply       chan error
}

type endMsg struct {
	reply chan error
}

type offlineMsg struct{ userID string }

type onlineMsg struct{ userID string }

type stateMsg struct {
	userID string
	reply  chan stateReply
}

type stateReply struct {
	view *StateView
	err  error
}

func (joinMsg) isGameMsg()    {}
func (startMsg) isGameMsg()   {}
func (submitMsg) isGameMsg()  {}
func (endMsg) isGameMsg()     {}
func (offlineMsg) isGameMsg() {}
func (onlineMsg) isGameMsg()  {}
func (stateMsg) isGameMsg()   {}

type answerRecord struct {
	answerID uuid.UUID
	correct  bool
}

// game is the actor owning one realtime session. All state below is touched
// only by loop.
type game struct {
	session  models.GameSession
	host     string
	players  map[string]*models.Player
	offline  map[string]bool
	answered map[int]map[string]answerRecord
	cur      int
	inbox    chan gameMsg
	done     chan struct{}
	orch     *Orchestrator
}

// deliver enqueues a message unless the actor has already exited.
func (g *game) deliver(m gameMsg) error {
	select {
	case g.inbox <- m:
		return nil
	case <-g.done:
		return ErrSessionNotFound
	}
}

// await reads the reply, giving up if the actor exits with the message
// still sitting in its inbox.
func (g *game) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-g.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrSessionNotFound
		}
	}
}

func (g *game) SessionID() uuid.UUID { return g.session.ID }

func (g *game) Kind() models.SessionKind { return models.SessionKindRealtime }

// UserOffline must not block the registry; the actor may already have
// exited, so the enqueue happens off the caller's goroutine.
func (g *game) UserOffline(userID string) {
	go func() { _ = g.deliver(offlineMsg{userID: userID}) }()
}

func (g *game) UserOnline(userID string) {
	go func() { _ = g.deliver(onlineMsg{userID: userID}) }()
}

var _ session.Handle = (*game)(nil)

func (g *game) addPlayer(userID, displayName string) {
	g.players[userID] = &models.Player{
		UserID:      userID,
		DisplayName: displayName,
		JoinedAt:    g.orch.clock.Now().UTC(),
	}
}

func (g *game) loop(ctx context.Context) {
	defer close(g.done)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-g.inbox:
			switch msg := m.(type) {
			case joinMsg:
				msg.reply <- g.handleJoin(msg)
			case startMsg:
				msg.reply <- g.handleStart(msg)
			case submitMsg:
				msg.reply <- g.handleSubmit(msg)
			case endMsg:
				msg.reply <- g.finish()
			case stateMsg:
				view, err := g.handleState(msg.userID)
				msg.reply <- stateReply{view: view, err: err}
			case offlineMsg:
				g.handleOffline(msg.userID)
			case onlineMsg:
				g.handleOnline(msg.userID)
			}
			if g.session.Status == models.SessionStatusFinished {
				g.orch.store.Remove(g.session.ID)
				return
			}
		}
	}
}

func (g *game) handleJoin(msg joinMsg) error {
	switch g.session.Status {
	case models.SessionStatusPlaying:
		return ErrSessionAlreadyPlaying
	case models.SessionStatusFinished:
		return ErrSessionNotFound
	}
	if _, ok := g.players[msg.userID]; ok {
		return nil // rejoin of an existing player is a no-op
	}
	if len(g.players) >= g.orch.config.MaxPlayers {
		return ErrSessionFull
	}
	g.addPlayer(msg.userID, msg.displayName)

	g.broadcast(events.MustNew(events.TypePlayerJoined, events.PlayerJoinedPayload{
		SessionID: g.session.ID,
		UserID:    msg.userID,
		Players:   g.roster(),
	}))
	return nil
}

func (g *game) handleStart(msg startMsg) error {
	if msg.userID != g.host {
		return ErrNotHost
	}
	if g.session.Status != models.SessionStatusWaiting {
		return ErrSessionAlreadyPlaying
	}
	now := g.orch.clock.Now().UTC()
	g.session.Status = models.SessionStatusPlaying
	g.session.StartedAt = &now

	g.broadcast(events.MustNew(events.TypeGameStarted, events.GameStartedPayload{
		SessionID:       g.session.ID,
		QuestionTimeSec: g.orch.config.QuestionTimeSec,
		Questions:       g.session.Questions,
	}))
	log.Info().Str("session_id", g.session.ID.String()).Msg("realtime game started")
	return nil
}

func (g *game) handleSubmit(msg submitMsg) error {
	if g.session.Status != models.SessionStatusPlaying {
		return ErrSessionNotPlaying
	}
	player, ok := g.players[msg.userID]
	if !ok {
		return ErrSessionNotFound
	}
	q := g.session.Questions[g.cur]
	if q.ID != msg.questionID {
		return ErrQuestionMismatch
	}

	if g.answered[g.cur] == nil {
		g.answered[g.cur] = make(map[string]answerRecord)
	}
	if _, dup := g.answered[g.cur][msg.userID]; dup {
		// First write wins; silently ignore the rest.
		return nil
	}

	correct := q.CorrectOptionID() == msg.answerID
	points := g.orch.policy.Score(correct,
		time.Duration(msg.timeSpentMs)*time.Millisecond, g.orch.config.questionTime())
	g.answered[g.cur][msg.userID] = answerRecord{answerID: msg.answerID, correct: correct}

	player.TimeSpentMs += msg.timeSpentMs
	if correct {
		player.Correct++
		player.Score += points
	} else {
		player.Incorrect++
	}

	g.broadcast(events.MustNew(events.TypeAnswerSubmitted, events.AnswerSubmittedPayload{
		SessionID:   g.session.ID,
		UserID:      msg.userID,
		QuestionID:  msg.questionID,
		Correct:     correct,
		Points:      points,
		Leaderboard: g.leaderboard(),
	}))

	return g.advanceWhileRoundDone()
}

// roundDone reports whether every connected player has answered the current
// question. Disconnected players do not hold the round open; their answers
// still count if they got one in before dropping.
func (g *game) roundDone() bool {
	for userID := range g.players {
		if g.offline[userID] {
			continue
		}
		if _, ok := g.answered[g.cur][userID]; !ok {
			return false
		}
	}
	return true
}

// advanceWhileRoundDone moves past every resolved question. The loop matters
// when the last connected player disconnects: with nobody left to wait for,
// it runs the session to the end so the actor terminates instead of stalling.
func (g *game) advanceWhileRoundDone() error {
	for g.session.Status == models.SessionStatusPlaying && g.roundDone() {
		g.cur++
		if g.cur >= len(g.session.Questions) {
			return g.finish()
		}
	}
	return nil
}

func (g *game) handleOffline(userID string) {
	if _, ok := g.players[userID]; !ok || g.offline[userID] {
		return
	}
	g.offline[userID] = true
	log.Debug().
		Str("session_id", g.session.ID.String()).
		Str("user_id", userID).
		Msg("player offline in realtime match")

	if g.session.Status != models.SessionStatusPlaying {
		return
	}
	if err := g.advanceWhileRoundDone(); err != nil {
		log.Error().Err(err).Str("session_id", g.session.ID.String()).Msg("advance after disconnect")
	}
}

func (g *game) handleOnline(userID string) {
	if _, ok := g.players[userID]; !ok {
		return
	}
	delete(g.offline, userID)
}

// finish is idempotent: a second call on a finished session does nothing.
func (g *game) finish() error {
	if g.session.Status == models.SessionStatusFinished {
		return nil
	}
	now := g.orch.clock.Now().UTC()
	g.session.Status = models.SessionStatusFinished
	g.session.FinishedAt = &now

	g.broadcast(events.MustNew(events.TypeGameEnded, events.GameEndedPayload{
		SessionID:   g.session.ID,
		Leaderboard: g.leaderboard(),
	}))
	log.Info().Str("session_id", g.session.ID.String()).Msg("realtime game ended")
	return nil
}

func (g *game) roster() []models.Player {
	out := make([]models.Player, 0, len(g.players))
	for _, p := range g.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

func (g *game) leaderboard() []events.LeaderboardEntry {
	out := make([]events.LeaderboardEntry, 0, len(g.players))
	for _, p := range g.players {
		out = append(out, events.LeaderboardEntry{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
			Correct:     p.Correct,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (g *game) broadcast(ev *events.Event) {
	for userID := range g.players {
		g.orch.reg.Send(userID, ev)
	}
}
