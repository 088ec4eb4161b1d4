package match

import (
	"github.com/google/uuid"

	"github.com/holyword/trivia/go/internal/events"
	"github.com/holyword/trivia/go/internal/models"
)

// StateView is the authoritative match snapshot for a (re)connecting player.
type StateView struct {
	SessionID     uuid.UUID                 `json:"session_id"`
	Status        models.SessionStatus      `json:"status"`
	Category      string                    `json:"category"`
	Difficulty    string                    `json:"difficulty"`
	QuestionIndex int                       `json:"question_index"`
	QuestionCount int                       `json:"question_count"`
	Players       []models.Player           `json:"players"`
	Leaderboard   []events.LeaderboardEntry `json:"leaderboard"`
	Question      *models.Question          `json:"question,omitempty"`
	Answered      bool                      `json:"answered"`
}

func (g *game) handleState(userID string) (*StateView, error) {
	if _, ok := g.players[userID]; !ok {
		return nil, ErrNotInSession
	}
	view := &StateView{
		SessionID:     g.session.ID,
		Status:        g.session.Status,
		Category:      g.session.Category,
		Difficulty:    g.session.Difficulty,
		QuestionIndex: g.cur,
		QuestionCount: len(g.session.Questions),
		Players:       g.roster(),
		Leaderboard:   g.leaderboard(),
	}
	if g.session.Status == models.SessionStatusPlaying && g.cur < len(g.session.Questions) {
		q := g.session.Questions[g.cur]
		view.Question = &q
		_, view.Answered = g.answered[g.cur][userID]
	}
	return view, nil
}

// State returns the current session snapshot for one of its players.
func (o *Orchestrator) State(sessionID uuid.UUID, userID string) (*StateView, error) {
	g, err := o.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	reply := make(chan stateReply, 1)
	if err := g.deliver(stateMsg{userID: userID, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.view, r.err
	case <-g.done:
		select {
		case r := <-reply:
			return r.view, r.err
		default:
			return nil, ErrSessionNotFound
		}
	}
}
