package battle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/holyword/trivia/go/internal/events"
	"github.com/holyword/trivia/go/internal/models"
	"github.com/holyword/trivia/go/internal/session"
)

type battleMsg interface{ isBattleMsg() }

type inviteMsg struct {
	byUserID       string
	opponentUserID string
	reply          chan error
}

type acceptMsg struct {
	userID      string
	displayName string
	teamName    string
	reply       chan error
}

type joinTeamMsg struct {
	teamID      uuid.UUID
	userID      string
	displayName string
	reply       chan error
}

type readyMsg struct {
	userID string
	reply  chan error
}

type suggestMsg struct {
	userID     string
	questionID uuid.UUID
	answerID   uuid.UUID
	reply      chan error
}

type finalizeMsg struct {
	userID      string
	questionID  uuid.UUID
	answerID    uuid.UUID
	timeSpentMs int64
	reply       chan error
}

type leaveMsg struct {
	userID string
	reply  chan error
}

type stateMsg struct {
	userID string
	reply  chan stateReply
}

type stateReply struct {
	view *StateView
	err  error
}

type timeoutMsg struct {
	questionIndex int
}

type offlineMsg struct{ userID string }

type onlineMsg struct{ userID string }

func (inviteMsg) isBattleMsg()   {}
func (acceptMsg) isBattleMsg()   {}
func (joinTeamMsg) isBattleMsg() {}
func (readyMsg) isBattleMsg()    {}
func (suggestMsg) isBattleMsg()  {}
func (finalizeMsg) isBattleMsg() {}
func (leaveMsg) isBattleMsg()    {}
func (stateMsg) isBattleMsg()    {}
func (timeoutMsg) isBattleMsg()  {}
func (offlineMsg) isBattleMsg()  {}
func (onlineMsg) isBattleMsg()   {}

// actor owns one team battle. All fields below are touched only by loop,
// which drains the inbox sequentially; the question timer competes with
// finalize by enqueueing a timeout message into the same inbox, so exactly
// one of {finalize, timeout} resolves each question.
type actor struct {
	battle      models.TeamBattle
	questions   []models.Question
	suggestions map[string]uuid.UUID // turn-team member -> last suggested option, cleared per question
	invited     map[string]bool
	ready       map[uuid.UUID]bool
	timer       clockwork.Timer
	inbox       chan battleMsg
	done        chan struct{}
	engine      *Engine
}

func (a *actor) SessionID() uuid.UUID { return a.battle.ID }

func (a *actor) Kind() models.SessionKind { return models.SessionKindTeamBattle }

func (a *actor) UserOffline(userID string) {
	go func() { _ = a.deliver(offlineMsg{userID: userID}) }()
}

func (a *actor) UserOnline(userID string) {
	go func() { _ = a.deliver(onlineMsg{userID: userID}) }()
}

var _ session.Handle = (*actor)(nil)

// deliver enqueues a message unless the actor has already exited.
func (a *actor) deliver(m battleMsg) error {
	select {
	case a.inbox <- m:
		return nil
	case <-a.done:
		return ErrBattleNotFound
	}
}

// await reads the reply, giving up if the actor exits with the message
// still sitting in its inbox.
func (a *actor) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-a.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrBattleNotFound
		}
	}
}

func (a *actor) loop(ctx context.Context) {
	defer close(a.done)
	defer a.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-a.inbox:
			switch msg := m.(type) {
			case inviteMsg:
				msg.reply <- a.handleInvite(msg)
			case acceptMsg:
				msg.reply <- a.handleAccept(msg)
			case joinTeamMsg:
				msg.reply <- a.handleJoinTeam(msg)
			case readyMsg:
				msg.reply <- a.handleReady(msg)
			case suggestMsg:
				msg.reply <- a.handleSuggest(msg)
			case finalizeMsg:
				msg.reply <- a.handleFinalize(msg)
			case leaveMsg:
				msg.reply <- a.handleLeave(msg)
			case stateMsg:
				view, err := a.handleState(msg.userID)
				msg.reply <- stateReply{view: view, err: err}
			case timeoutMsg:
				a.handleTimeout(msg.questionIndex)
			case offlineMsg:
				a.handleOffline(msg.userID)
			case onlineMsg:
				a.handleOnline(msg.userID)
			}
			if a.battle.Status == models.BattleStatusFinished {
				a.engine.store.Remove(a.battle.ID)
				return
			}
		}
	}
}

func (a *actor) handleInvite(msg inviteMsg) error {
	if a.battle.Status != models.BattleStatusForming {
		return ErrBattleNotPlaying
	}
	if msg.byUserID != a.battle.TeamA.CaptainID {
		return ErrNotCaptain
	}
	if a.battle.TeamB != nil {
		return ErrOpponentAlreadySet
	}
	if a.battle.TeamFor(msg.opponentUserID) != nil {
		return ErrAlreadyOnTeam
	}
	a.invited[msg.opponentUserID] = true

	battleID := a.battle.ID
	a.engine.notifier.Dispatch(&models.Notification{
		UserID:    msg.opponentUserID,
		Type:      models.NotificationTypeBattleInvite,
		Message:   fmt.Sprintf("Team %q challenges you to a battle", a.battle.TeamA.Name),
		RelatedID: &battleID,
	})
	return nil
}

func (a *actor) handleAccept(msg acceptMsg) error {
	if a.battle.Status != models.BattleStatusForming {
		return ErrBattleNotPlaying
	}
	if !a.invited[msg.userID] {
		return ErrNotInvited
	}
	if a.battle.TeamB != nil {
		return ErrOpponentAlreadySet
	}
	// An invitee already rostered on Team A cannot captain the opposition.
	if a.battle.TeamFor(msg.userID) != nil {
		return ErrAlreadyOnTeam
	}

	now := a.engine.clock.Now().UTC()
	a.battle.TeamB = &models.Team{
		ID:        uuid.New(),
		Name:      msg.teamName,
		BattleID:  a.battle.ID,
		CaptainID: msg.userID,
		Members: []models.TeamMember{{
			UserID:      msg.userID,
			DisplayName: msg.displayName,
			Role:        models.TeamRoleCaptain,
			Connected:   true,
			JoinedAt:    now,
		}},
		Status:    models.TeamStatusForming,
		CreatedAt: now,
	}

	a.broadcastAll(events.MustNew(events.TypePlayerJoined, events.PlayerJoinedPayload{
		SessionID: a.battle.ID,
		UserID:    msg.userID,
	}))
	return nil
}

func (a *actor) handleJoinTeam(msg joinTeamMsg) error {
	if a.battle.Status != models.BattleStatusForming {
		return ErrBattleNotPlaying
	}
	team := a.battle.TeamByID(msg.teamID)
	if team == nil {
		return ErrTeamNotFound
	}
	if a.battle.TeamFor(msg.userID) != nil {
		return nil // already on a team, joining again is a no-op
	}
	if len(team.Members) >= a.engine.config.MaxTeamSize {
		return ErrTeamFull
	}

	team.Members = append(team.Members, models.TeamMember{
		UserID:      msg.userID,
		DisplayName: msg.displayName,
		Role:        models.TeamRoleMember,
		Connected:   true,
		JoinedAt:    a.engine.clock.Now().UTC(),
	})

	a.broadcastAll(events.MustNew(events.TypePlayerJoined, events.PlayerJoinedPayload{
		SessionID: a.battle.ID,
		UserID:    msg.userID,
	}))
	return nil
}

func (a *actor) handleReady(msg readyMsg) error {
	if a.battle.Status != models.BattleStatusForming {
		return ErrBattleNotPlaying
	}
	team := a.battle.TeamFor(msg.userID)
	if team == nil {
		return ErrNotMember
	}
	if msg.userID != team.CaptainID {
		return ErrNotCaptain
	}

	team.Status = models.TeamStatusReady
	a.ready[team.ID] = true

	if a.battle.TeamB == nil || !a.ready[a.battle.TeamA.ID] || !a.ready[a.battle.TeamB.ID] {
		return nil
	}
	a.start()
	return nil
}

// start flips the battle to playing and serves the first question to Team A.
func (a *actor) start() {
	a.battle.Status = models.BattleStatusReady
	a.battle.TeamA.Status = models.TeamStatusPlaying
	a.battle.TeamB.Status = models.TeamStatusPlaying
	a.battle.Status = models.BattleStatusPlaying

	a.broadcastAll(events.MustNew(events.TypeBattleStarted, events.BattleStartedPayload{
		BattleID:      a.battle.ID,
		TeamA:         teamView(a.battle.TeamA),
		TeamB:         teamView(a.battle.TeamB),
		QuestionCount: len(a.questions),
		FirstTurnTeam: a.battle.TeamA.ID,
	}))
	log.Info().Str("battle_id", a.battle.ID.String()).Msg("team battle started")

	a.serveQuestion(0, a.battle.TeamA.ID)
}

// serveQuestion arms the deadline timer and pushes the question to the turn
// team; the opposing team receives a read-only notice naming the answering
// side.
func (a *actor) serveQuestion(index int, turnTeamID uuid.UUID) {
	a.battle.QuestionIndex = index
	a.battle.TurnTeamID = turnTeamID
	a.suggestions = make(map[string]uuid.UUID)

	deadline := a.engine.clock.Now().UTC().Add(a.engine.config.questionTime())
	a.battle.Deadline = &deadline

	a.stopTimer()
	timer := a.engine.clock.NewTimer(a.engine.config.questionTime())
	a.timer = timer
	go func(idx int, t clockwork.Timer) {
		select {
		case <-t.Chan():
			_ = a.deliver(timeoutMsg{questionIndex: idx})
		case <-a.done:
		}
	}(index, timer)

	turnTeam := a.battle.TeamByID(turnTeamID)
	q := a.questions[index]

	a.broadcastTeam(turnTeam, events.MustNew(events.TypeBattleQuestion, events.BattleQuestionPayload{
		BattleID:         a.battle.ID,
		QuestionIndex:    index,
		TurnTeamID:       turnTeamID,
		TurnTeamName:     turnTeam.Name,
		YourTurn:         true,
		Deadline:         deadline,
		TimeRemainingSec: a.engine.config.QuestionTimeSec,
		Question:         &q,
	}))
	a.broadcastTeam(a.battle.Opponent(turnTeamID), events.MustNew(events.TypeBattleQuestion, events.BattleQuestionPayload{
		BattleID:         a.battle.ID,
		QuestionIndex:    index,
		TurnTeamID:       turnTeamID,
		TurnTeamName:     turnTeam.Name,
		YourTurn:         false,
		Deadline:         deadline,
		TimeRemainingSec: a.engine.config.QuestionTimeSec,
	}))
}

func (a *actor) handleSuggest(msg suggestMsg) error {
	if err := a.requirePlaying(); err != nil {
		return err
	}
	team := a.battle.TeamFor(msg.userID)
	if team == nil {
		return ErrNotMember
	}
	if err := a.matchQuestion(msg.questionID); err != nil {
		return err
	}
	if team.ID != a.battle.TurnTeamID {
		return ErrNotYourTurn
	}
	if msg.userID == team.CaptainID {
		return ErrCaptainSuggestion
	}

	// Last suggestion per member wins; this is advisory state, never scored.
	a.suggestions[msg.userID] = msg.answerID

	a.broadcastTeam(team, events.MustNew(events.TypeOptionSelected, events.OptionSelectedPayload{
		BattleID:      a.battle.ID,
		QuestionIndex: a.battle.QuestionIndex,
		UserID:        msg.userID,
		AnswerID:      msg.answerID,
		Tally:         a.tally(),
	}))
	return nil
}

func (a *actor) handleFinalize(msg finalizeMsg) error {
	if err := a.requirePlaying(); err != nil {
		return err
	}
	team := a.battle.TeamFor(msg.userID)
	if team == nil {
		return ErrNotMember
	}
	// Staleness first: a finalize that lost the race against the deadline
	// names an already resolved question and must be reported as such.
	if err := a.matchQuestion(msg.questionID); err != nil {
		return err
	}
	turnTeam := a.battle.TeamByID(a.battle.TurnTeamID)
	if team.ID != turnTeam.ID {
		return ErrNotYourTurn
	}
	if msg.userID != turnTeam.CaptainID {
		return ErrNotCaptain
	}

	a.broadcastAll(events.MustNew(events.TypeAnswerFinalized, events.AnswerFinalizedPayload{
		BattleID:      a.battle.ID,
		QuestionIndex: a.battle.QuestionIndex,
		TeamID:        turnTeam.ID,
		UserID:        msg.userID,
		AnswerID:      msg.answerID,
	}))

	a.resolve(resolution{
		answerID:    msg.answerID,
		timeSpentMs: msg.timeSpentMs,
		timedOut:    false,
	})
	return nil
}

// handleTimeout fires when a question deadline elapses unanswered. A stale
// timeout for an already resolved question is ignored: the finalize that
// beat it has advanced the index.
func (a *actor) handleTimeout(questionIndex int) {
	if a.battle.Status != models.BattleStatusPlaying {
		return
	}
	if questionIndex != a.battle.QuestionIndex {
		return
	}
	log.Info().
		Str("battle_id", a.battle.ID.String()).
		Int("question_index", questionIndex).
		Msg("question deadline elapsed")
	a.resolve(resolution{timedOut: true})
}

type resolution struct {
	answerID    uuid.UUID
	timeSpentMs int64
	timedOut    bool
}

// resolve records the outcome of the current question, broadcasts results
// to both teams, then either finishes the battle or flips the turn holder
// and serves the next question.
func (a *actor) resolve(res resolution) {
	a.stopTimer()

	team := a.battle.TeamByID(a.battle.TurnTeamID)
	q := a.questions[a.battle.QuestionIndex]

	correct := false
	points := 0
	if !res.timedOut {
		correct = q.CorrectOptionID() == res.answerID
		points = a.engine.policy.Score(correct,
			msToDuration(res.timeSpentMs), a.engine.config.questionTime())
	}
	if correct {
		team.Correct++
		team.Score += points
	} else {
		team.Incorrect++
	}

	a.broadcastAll(events.MustNew(events.TypeQuestionResults, events.QuestionResultsPayload{
		BattleID:        a.battle.ID,
		QuestionIndex:   a.battle.QuestionIndex,
		AnsweringTeamID: team.ID,
		CorrectAnswerID: q.CorrectOptionID(),
		WasCorrect:      correct,
		TimedOut:        res.timedOut,
		Points:          points,
		TeamAScore:      a.battle.TeamA.Score,
		TeamBScore:      a.battle.TeamB.Score,
	}))

	next := a.battle.QuestionIndex + 1
	if next >= len(a.questions) {
		a.finish()
		return
	}
	a.serveQuestion(next, a.battle.Opponent(team.ID).ID)
}

// finish ends the battle normally after the question list is exhausted.
func (a *actor) finish() {
	now := a.engine.clock.Now().UTC()
	a.battle.Status = models.BattleStatusFinished
	a.battle.FinishedAt = &now
	a.battle.TeamA.Status = models.TeamStatusFinished
	a.battle.TeamB.Status = models.TeamStatusFinished
	a.battle.Deadline = nil

	var winner *uuid.UUID
	isDraw := a.battle.TeamA.Score == a.battle.TeamB.Score
	if !isDraw {
		id := a.battle.TeamA.ID
		if a.battle.TeamB.Score > a.battle.TeamA.Score {
			id = a.battle.TeamB.ID
		}
		winner = &id
	}

	a.broadcastAll(events.MustNew(events.TypeBattleFinished, events.BattleFinishedPayload{
		BattleID:     a.battle.ID,
		WinnerTeamID: winner,
		IsDraw:       isDraw,
		TeamAScore:   a.battle.TeamA.Score,
		TeamBScore:   a.battle.TeamB.Score,
	}))
	log.Info().
		Str("battle_id", a.battle.ID.String()).
		Int("team_a_score", a.battle.TeamA.Score).
		Int("team_b_score", a.battle.TeamB.Score).
		Msg("team battle finished")
}

// forceEnd terminates the battle because one side went fully unreachable.
// The surviving team wins regardless of score; scores freeze as they stand.
func (a *actor) forceEnd(winner *models.Team) {
	now := a.engine.clock.Now().UTC()
	a.battle.Status = models.BattleStatusFinished
	a.battle.FinishedAt = &now
	a.battle.TeamA.Status = models.TeamStatusFinished
	if a.battle.TeamB != nil {
		a.battle.TeamB.Status = models.TeamStatusFinished
	}
	a.battle.Deadline = nil
	a.stopTimer()

	teamBScore := 0
	if a.battle.TeamB != nil {
		teamBScore = a.battle.TeamB.Score
	}
	a.broadcastAll(events.MustNew(events.TypeBattleForceEnded, events.BattleForceEndedPayload{
		BattleID:     a.battle.ID,
		WinnerTeamID: winner.ID,
		TeamAScore:   a.battle.TeamA.Score,
		TeamBScore:   teamBScore,
	}))
	log.Warn().
		Str("battle_id", a.battle.ID.String()).
		Str("winner_team_id", winner.ID.String()).
		Msg("team battle force-ended, opposing team fully disconnected")
}

func (a *actor) handleLeave(msg leaveMsg) error {
	team := a.battle.TeamFor(msg.userID)
	if team == nil {
		return ErrNotMember
	}

	wasCaptain := msg.userID == team.CaptainID
	for i := range team.Members {
		if team.Members[i].UserID == msg.userID {
			team.Members = append(team.Members[:i], team.Members[i+1:]...)
			break
		}
	}
	delete(a.suggestions, msg.userID)

	a.applyDepartured(team, wasCaptain, msg.userID)
	return nil
}

func (a *actor) handleOffline(userID string) {
	team := a.battle.TeamFor(userID)
	if team == nil || a.battle.Status == models.BattleStatusFinished {
		return
	}
	member := team.Member(userID)
	if member == nil || !member.Connected {
		return
	}
	member.Connected = false
	log.Info().
		Str("battle_id", a.battle.ID.String()).
		Str("user_id", userID).
		Msg("battle member disconnected")

	// Standing suggestions from the disconnected member stay visible.
	a.applyDepartured(team, userID == team.CaptainID, userID)
}

// applyDepartured runs the shared disconnect/leave policy: promote a new
// captain if needed, or force-end when the whole team is unreachable.
func (a *actor) applyDepartured(team *models.Team, wasCaptain bool, userID string) {
	if a.battle.Status == models.BattleStatusFinished {
		return
	}

	if !a.anyConnected(team) {
		if a.battle.Status == models.BattleStatusPlaying {
			a.forceEnd(a.battle.Opponent(team.ID))
		} else if team == a.battle.TeamA {
			// The forming side vanished before the battle began; disband.
			a.battle.Status = models.BattleStatusFinished
		}
		return
	}

	if wasCaptain {
		a.promoteCaptain(team)
	}

	battleID := a.battle.ID
	for _, m := range team.Members {
		if m.UserID == userID || !m.Connected {
			continue
		}
		a.engine.notifier.Dispatch(&models.Notification{
			UserID:    m.UserID,
			Type:      models.NotificationTypePlayerDisconnect,
			Message:   "A teammate lost connection during your battle",
			RelatedID: &battleID,
		})
	}
}

// promoteCaptain hands the captain role to the longest-tenured connected
// member. The current question's deadline is not reset or extended.
func (a *actor) promoteCaptain(team *models.Team) {
	candidates := make([]*models.TeamMember, 0, len(team.Members))
	for i := range team.Members {
		if team.Members[i].Connected && team.Members[i].UserID != team.CaptainID {
			candidates = append(candidates, &team.Members[i])
		}
	}
	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].JoinedAt.Before(candidates[j].JoinedAt)
	})
	promoted := candidates[0]

	if old := team.Member(team.CaptainID); old != nil {
		old.Role = models.TeamRoleMember
	}
	promoted.Role = models.TeamRoleCaptain
	team.CaptainID = promoted.UserID

	a.broadcastAll(events.MustNew(events.TypeCaptainChanged, events.CaptainChangedPayload{
		BattleID:     a.battle.ID,
		TeamID:       team.ID,
		NewCaptainID: promoted.UserID,
	}))
	log.Info().
		Str("battle_id", a.battle.ID.String()).
		Str("team_id", team.ID.String()).
		Str("new_captain", promoted.UserID).
		Msg("captain promoted")
}

func (a *actor) handleOnline(userID string) {
	team := a.battle.TeamFor(userID)
	if team == nil || a.battle.Status == models.BattleStatusFinished {
		return
	}
	if member := team.Member(userID); member != nil {
		member.Connected = true
		log.Info().
			Str("battle_id", a.battle.ID.String()).
			Str("user_id", userID).
			Msg("battle member reconnected")
	}
}

func (a *actor) handleState(userID string) (*StateView, error) {
	team := a.battle.TeamFor(userID)
	if team == nil {
		return nil, ErrNotMember
	}
	return a.stateFor(team), nil
}

func (a *actor) requirePlaying() error {
	switch a.battle.Status {
	case models.BattleStatusPlaying:
		return nil
	case models.BattleStatusFinished:
		return ErrBattleAlreadyFinished
	default:
		return ErrBattleNotPlaying
	}
}

// matchQuestion distinguishes a stale message for an already resolved
// question from one that never matched at all.
func (a *actor) matchQuestion(questionID uuid.UUID) error {
	if a.questions[a.battle.QuestionIndex].ID == questionID {
		return nil
	}
	for i := 0; i < a.battle.QuestionIndex; i++ {
		if a.questions[i].ID == questionID {
			return ErrQuestionAlreadyLocked
		}
	}
	return ErrQuestionMismatch
}

func (a *actor) anyConnected(team *models.Team) bool {
	for _, m := range team.Members {
		if m.Connected {
			return true
		}
	}
	return false
}

func (a *actor) tally() map[string]uuid.UUID {
	out := make(map[string]uuid.UUID, len(a.suggestions))
	for userID, answerID := range a.suggestions {
		out[userID] = answerID
	}
	return out
}

func (a *actor) stopTimer() {
	if a.timer == nil {
		return
	}
	if !a.timer.Stop() {
		select {
		case <-a.timer.Chan():
		default:
		}
	}
	a.timer = nil
}

func (a *actor) broadcastTeam(team *models.Team, ev *events.Event) {
	if team == nil {
		return
	}
	for _, m := range team.Members {
		a.engine.reg.Send(m.UserID, ev)
	}
}

func (a *actor) broadcastAll(ev *events.Event) {
	a.broadcastTeam(a.battle.TeamA, ev)
	a.broadcastTeam(a.battle.TeamB, ev)
}

func teamView(t *models.Team) events.TeamView {
	return events.TeamView{
		ID:        t.ID,
		Name:      t.Name,
		CaptainID: t.CaptainID,
		Members:   append([]models.TeamMember(nil), t.Members...),
		Score:     t.Score,
	}
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
