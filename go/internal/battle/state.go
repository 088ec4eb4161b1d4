package battle

import (
	"time"

	"github.com/google/uuid"

	"github.com/holyword/trivia/go/internal/events"
	"github.com/holyword/trivia/go/internal/models"
)

// StateView is the authoritative battle snapshot handed to a (re)connecting
// member. The current question body is present only when the requester's
// team holds the turn, so the opposing side can never read it early.
type StateView struct {
	BattleID         uuid.UUID            `json:"battle_id"`
	Status           models.BattleStatus  `json:"status"`
	QuestionIndex    int                  `json:"question_index"`
	QuestionCount    int                  `json:"question_count"`
	TurnTeamID       uuid.UUID            `json:"turn_team_id"`
	Deadline         *time.Time           `json:"deadline,omitempty"`
	TimeRemainingSec int                  `json:"time_remaining_sec"`
	TeamA            events.TeamView      `json:"team_a"`
	TeamB            *events.TeamView     `json:"team_b,omitempty"`
	YourTeamID       uuid.UUID            `json:"your_team_id"`
	Question         *models.Question     `json:"question,omitempty"`
	Tally            map[string]uuid.UUID `json:"tally,omitempty"`
}

func (a *actor) stateFor(team *models.Team) *StateView {
	view := &StateView{
		BattleID:      a.battle.ID,
		Status:        a.battle.Status,
		QuestionIndex: a.battle.QuestionIndex,
		QuestionCount: len(a.questions),
		TurnTeamID:    a.battle.TurnTeamID,
		Deadline:      a.battle.Deadline,
		TeamA:         teamView(a.battle.TeamA),
		YourTeamID:    team.ID,
	}
	if a.battle.TeamB != nil {
		tb := teamView(a.battle.TeamB)
		view.TeamB = &tb
	}
	if a.battle.Deadline != nil {
		if remaining := a.battle.Deadline.Sub(a.engine.clock.Now()); remaining > 0 {
			view.TimeRemainingSec = int(remaining / time.Second)
		}
	}
	if a.battle.Status == models.BattleStatusPlaying && team.ID == a.battle.TurnTeamID {
		q := a.questions[a.battle.QuestionIndex]
		view.Question = &q
		view.Tally = a.tally()
	}
	return view
}
