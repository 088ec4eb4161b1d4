package gateway

import (
	"encoding/json"

	"github.com/google/uuid"
)

// clientMessage is the inbound envelope: a type discriminator plus a
// type-specific payload.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type authenticatePayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type createGamePayload struct {
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
}

type joinGamePayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

type startGamePayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

type submitAnswerPayload struct {
	SessionID   uuid.UUID `json:"session_id"`
	QuestionID  uuid.UUID `json:"question_id"`
	AnswerID    uuid.UUID `json:"answer_id"`
	TimeSpentMs int64     `json:"time_spent_ms"`
}

type getGameStatePayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

type createChallengePayload struct {
	ChallengeeID string `json:"challengee_id"`
	Category     string `json:"category"`
	Difficulty   string `json:"difficulty"`
}

type challengeActionPayload struct {
	ChallengeID uuid.UUID `json:"challenge_id"`
}

type submitChallengeAnswerPayload struct {
	ChallengeID uuid.UUID `json:"challenge_id"`
	QuestionID  uuid.UUID `json:"question_id"`
	AnswerID    uuid.UUID `json:"answer_id"`
	IsCorrect   bool      `json:"is_correct"`
	TimeSpentMs int64     `json:"time_spent_ms"`
}

type markNotificationReadPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
}

type createBattlePayload struct {
	TeamName   string `json:"team_name"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
}

type inviteToBattlePayload struct {
	BattleID uuid.UUID `json:"battle_id"`
	UserID   string    `json:"user_id"`
}

type acceptBattleInvitePayload struct {
	BattleID uuid.UUID `json:"battle_id"`
	TeamName string    `json:"team_name"`
}

type joinTeamPayload struct {
	BattleID uuid.UUID `json:"battle_id"`
	TeamID   uuid.UUID `json:"team_id"`
}

type battleActionPayload struct {
	BattleID uuid.UUID `json:"battle_id"`
}

type teamOptionSelectedPayload struct {
	BattleID   uuid.UUID `json:"battle_id"`
	QuestionID uuid.UUID `json:"question_id"`
	AnswerID   uuid.UUID `json:"answer_id"`
}

type finalizeTeamAnswerPayload struct {
	BattleID    uuid.UUID `json:"battle_id"`
	QuestionID  uuid.UUID `json:"question_id"`
	AnswerID    uuid.UUID `json:"answer_id"`
	TimeSpentMs int64     `json:"time_spent_ms"`
}
