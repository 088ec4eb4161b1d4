package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionKind defines the kind of game session.
type SessionKind string

const (
	SessionKindRealtime   SessionKind = "realtime"
	SessionKindChallenge  SessionKind = "challenge"
	SessionKindTeamBattle SessionKind = "team-battle"
)

// SessionStatus defines the status of a game session.
// Transitions only move forward: waiting -> playing -> finished.
type SessionStatus string

const (
	SessionStatusWaiting  SessionStatus = "waiting"
	SessionStatusPlaying  SessionStatus = "playing"
	SessionStatusFinished SessionStatus = "finished"
)

// GameSession represents one active game of any kind. It is owned by the
// session store and mutated only by the orchestrator that created it.
type GameSession struct {
	ID         uuid.UUID     `json:"id"`
	Kind       SessionKind   `json:"kind"`
	Category   string        `json:"category"`
	Difficulty string        `json:"difficulty"`
	Questions  []Question    `json:"questions,omitempty"`
	Status     SessionStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}
