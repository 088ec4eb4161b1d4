package models

import (
	"time"

	"github.com/google/uuid"
)

// ChallengeStatus defines the status of an asynchronous duel.
type ChallengeStatus string

const (
	ChallengeStatusPending   ChallengeStatus = "pending"
	ChallengeStatusAccepted  ChallengeStatus = "accepted"
	ChallengeStatusDeclined  ChallengeStatus = "declined"
	ChallengeStatusCompleted ChallengeStatus = "completed"
	ChallengeStatusExpired   ChallengeStatus = "expired"
)

// Challenge is an asynchronous 1v1 duel. Both sides play the question set of
// the same session, each on their own schedule. The challenge resolves only
// when both sides have completed, or expires at ExpiresAt.
type Challenge struct {
	ID               uuid.UUID       `json:"id"`
	ChallengerID     string          `json:"challenger_id"`
	ChallengeeID     string          `json:"challengee_id"`
	SessionID        uuid.UUID       `json:"session_id"`
	Category         string          `json:"category"`
	Difficulty       string          `json:"difficulty"`
	Status           ChallengeStatus `json:"status"`
	WinnerID         *string         `json:"winner_id,omitempty"`
	IsDraw           bool            `json:"is_draw"`
	NotificationSent bool            `json:"notification_sent"`
	ExpiresAt        time.Time       `json:"expires_at"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// ChallengeAnswer is one recorded answer inside a ChallengeResult.
type ChallengeAnswer struct {
	QuestionID  uuid.UUID `json:"question_id"`
	AnswerID    uuid.UUID `json:"answer_id"`
	IsCorrect   bool      `json:"is_correct"`
	TimeSpentMs int64     `json:"time_spent_ms"`
}

// ChallengeResult holds one participant's ordered answers for a challenge.
// There is exactly one result per (challenge, user).
type ChallengeResult struct {
	ID          uuid.UUID         `json:"id"`
	ChallengeID uuid.UUID         `json:"challenge_id"`
	UserID      string            `json:"user_id"`
	Answers     []ChallengeAnswer `json:"answers"`
	Score       int               `json:"score"`
	Correct     int               `json:"correct"`
	Completed   bool              `json:"completed"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}
