package models

import (
	"time"

	"github.com/google/uuid"
)

// TeamRole defines a member's role within a battle team.
type TeamRole string

const (
	TeamRoleCaptain TeamRole = "captain"
	TeamRoleMember  TeamRole = "member"
)

// TeamStatus defines the status of a battle team.
type TeamStatus string

const (
	TeamStatusForming  TeamStatus = "forming"
	TeamStatusReady    TeamStatus = "ready"
	TeamStatusPlaying  TeamStatus = "playing"
	TeamStatusFinished TeamStatus = "finished"
)

// TeamMember is one user on a battle team. JoinedAt orders captain
// promotion: the longest-tenured remaining member is promoted.
type TeamMember struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        TeamRole  `json:"role"`
	Connected   bool      `json:"connected"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Team is one side of a team battle. Exactly one member holds the captain
// role at all times while the team has at least one member.
type Team struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	BattleID  uuid.UUID    `json:"battle_id"`
	CaptainID string       `json:"captain_id"`
	Members   []TeamMember `json:"members"`
	Score     int          `json:"score"`
	Correct   int          `json:"correct"`
	Incorrect int          `json:"incorrect"`
	Status    TeamStatus   `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// Member returns the member entry for the given user, or nil.
func (t *Team) Member(userID string) *TeamMember {
	for i := range t.Members {
		if t.Members[i].UserID == userID {
			return &t.Members[i]
		}
	}
	return nil
}

// HasMember reports whether the user belongs to this team.
func (t *Team) HasMember(userID string) bool {
	return t.Member(userID) != nil
}
