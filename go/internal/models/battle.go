package models

import (
	"time"

	"github.com/google/uuid"
)

// BattleStatus defines the status of a team battle.
type BattleStatus string

const (
	BattleStatusForming  BattleStatus = "forming"
	BattleStatusReady    BattleStatus = "ready"
	BattleStatusPlaying  BattleStatus = "playing"
	BattleStatusFinished BattleStatus = "finished"
)

// TeamBattle joins exactly two teams over one shared question list.
// TeamB is nil until an invited opponent accepts. At most one team holds the
// answering turn at any instant; the turn holder alternates strictly after
// each resolved question, starting with TeamA.
type TeamBattle struct {
	ID            uuid.UUID    `json:"id"`
	TeamA         *Team        `json:"team_a"`
	TeamB         *Team        `json:"team_b,omitempty"`
	Category      string       `json:"category"`
	Difficulty    string       `json:"difficulty"`
	QuestionIndex int          `json:"question_index"`
	TurnTeamID    uuid.UUID    `json:"turn_team_id"`
	Deadline      *time.Time   `json:"deadline,omitempty"`
	Status        BattleStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
}

// TeamFor returns the team the user belongs to, or nil.
func (b *TeamBattle) TeamFor(userID string) *Team {
	if b.TeamA != nil && b.TeamA.HasMember(userID) {
		return b.TeamA
	}
	if b.TeamB != nil && b.TeamB.HasMember(userID) {
		return b.TeamB
	}
	return nil
}

// Opponent returns the team facing the given team id, or nil.
func (b *TeamBattle) Opponent(teamID uuid.UUID) *Team {
	if b.TeamA != nil && b.TeamA.ID == teamID {
		return b.TeamB
	}
	if b.TeamB != nil && b.TeamB.ID == teamID {
		return b.TeamA
	}
	return nil
}

// TeamByID returns the team with the given id, or nil.
func (b *TeamBattle) TeamByID(teamID uuid.UUID) *Team {
	if b.TeamA != nil && b.TeamA.ID == teamID {
		return b.TeamA
	}
	if b.TeamB != nil && b.TeamB.ID == teamID {
		return b.TeamB
	}
	return nil
}
