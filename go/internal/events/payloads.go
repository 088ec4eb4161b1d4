package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/holyword/trivia/go/internal/models"
)

// ConnectionEstablishedPayload is sent immediately after the WebSocket
// upgrade, before authentication.
type ConnectionEstablishedPayload struct {
	ConnectionID string `json:"connection_id"`
}

// AuthenticatedPayload confirms a connection/user binding.
type AuthenticatedPayload struct {
	UserID string `json:"user_id"`
}

// GameCreatedPayload is the reply to create_game.
type GameCreatedPayload struct {
	SessionID     uuid.UUID `json:"session_id"`
	Category      string    `json:"category"`
	Difficulty    string    `json:"difficulty"`
	QuestionCount int       `json:"question_count"`
}

// GameStartedPayload is broadcast when the host starts a realtime match.
// The full question set ships up front; correct options are stripped by the
// question model's marshalling, so clients run the timer and the server
// keeps score.
type GameStartedPayload struct {
	SessionID       uuid.UUID         `json:"session_id"`
	QuestionTimeSec int               `json:"question_time_sec"`
	Questions       []models.Question `json:"questions"`
}

// PlayerJoinedPayload is broadcast to all session members on join.
type PlayerJoinedPayload struct {
	SessionID uuid.UUID       `json:"session_id"`
	UserID    string          `json:"user_id"`
	Players   []models.Player `json:"players"`
}

// LeaderboardEntry is one row of a realtime-match leaderboard snapshot.
type LeaderboardEntry struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
	Correct     int    `json:"correct"`
}

// AnswerSubmittedPayload carries an updated leaderboard after any answer.
type AnswerSubmittedPayload struct {
	SessionID   uuid.UUID          `json:"session_id"`
	UserID      string             `json:"user_id"`
	QuestionID  uuid.UUID          `json:"question_id"`
	Correct     bool               `json:"correct"`
	Points      int                `json:"points"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// GameEndedPayload carries final results of a realtime match.
type GameEndedPayload struct {
	SessionID   uuid.UUID          `json:"session_id"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// ChallengeCreatedPayload is the reply to create_challenge.
type ChallengeCreatedPayload struct {
	ChallengeID  uuid.UUID `json:"challenge_id"`
	ChallengerID string    `json:"challenger_id"`
	ChallengeeID string    `json:"challengee_id"`
	Category     string    `json:"category"`
	Difficulty   string    `json:"difficulty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ChallengeResultPayload is sent to both sides when a challenge resolves.
type ChallengeResultPayload struct {
	ChallengeID     uuid.UUID `json:"challenge_id"`
	WinnerID        *string   `json:"winner_id,omitempty"`
	IsDraw          bool      `json:"is_draw"`
	ChallengerScore int       `json:"challenger_score"`
	ChallengeeScore int       `json:"challengee_score"`
}

// NotificationPayload pushes a durable notification to a live connection.
type NotificationPayload struct {
	ID        uuid.UUID               `json:"id"`
	Type      models.NotificationType `json:"notification_type"`
	Message   string                  `json:"message"`
	RelatedID *uuid.UUID              `json:"related_id,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
}

// BattleCreatedPayload is the reply to create_team_battle.
type BattleCreatedPayload struct {
	BattleID uuid.UUID `json:"battle_id"`
	TeamID   uuid.UUID `json:"team_id"`
	TeamName string    `json:"team_name"`
}

// TeamView is the roster/score view of one team included in battle events.
type TeamView struct {
	ID        uuid.UUID           `json:"id"`
	Name      string              `json:"name"`
	CaptainID string              `json:"captain_id"`
	Members   []models.TeamMember `json:"members"`
	Score     int                 `json:"score"`
}

// BattleStartedPayload announces the transition to playing.
type BattleStartedPayload struct {
	BattleID      uuid.UUID `json:"battle_id"`
	TeamA         TeamView  `json:"team_a"`
	TeamB         TeamView  `json:"team_b"`
	QuestionCount int       `json:"question_count"`
	FirstTurnTeam uuid.UUID `json:"first_turn_team_id"`
}

// BattleQuestionPayload serves the current question. Only the turn-holder
// team receives the question body; the opposing team gets a read-only notice
// naming the answering team.
type BattleQuestionPayload struct {
	BattleID         uuid.UUID        `json:"battle_id"`
	QuestionIndex    int              `json:"question_index"`
	TurnTeamID       uuid.UUID        `json:"turn_team_id"`
	TurnTeamName     string           `json:"turn_team_name"`
	YourTurn         bool             `json:"your_turn"`
	Deadline         time.Time        `json:"deadline"`
	TimeRemainingSec int              `json:"time_remaining_sec"`
	Question         *models.Question `json:"question,omitempty"`
}

// OptionSelectedPayload fans a member's non-binding suggestion out to the
// rest of their team as a live tally. Advisory only, never scored.
type OptionSelectedPayload struct {
	BattleID      uuid.UUID            `json:"battle_id"`
	QuestionIndex int                  `json:"question_index"`
	UserID        string               `json:"user_id"`
	AnswerID      uuid.UUID            `json:"answer_id"`
	Tally         map[string]uuid.UUID `json:"tally"` // user id -> last suggested option
}

// AnswerFinalizedPayload announces that the captain locked an answer.
type AnswerFinalizedPayload struct {
	BattleID      uuid.UUID `json:"battle_id"`
	QuestionIndex int       `json:"question_index"`
	TeamID        uuid.UUID `json:"team_id"`
	UserID        string    `json:"user_id"`
	AnswerID      uuid.UUID `json:"answer_id"`
}

// QuestionResultsPayload is broadcast to both teams when a question
// resolves, by finalize or by deadline.
type QuestionResultsPayload struct {
	BattleID        uuid.UUID `json:"battle_id"`
	QuestionIndex   int       `json:"question_index"`
	AnsweringTeamID uuid.UUID `json:"answering_team_id"`
	CorrectAnswerID uuid.UUID `json:"correct_answer_id"`
	WasCorrect      bool      `json:"was_correct"`
	TimedOut        bool      `json:"timed_out"`
	Points          int       `json:"points"`
	TeamAScore      int       `json:"team_a_score"`
	TeamBScore      int       `json:"team_b_score"`
}

// CaptainChangedPayload is broadcast to both teams on promotion.
type CaptainChangedPayload struct {
	BattleID     uuid.UUID `json:"battle_id"`
	TeamID       uuid.UUID `json:"team_id"`
	NewCaptainID string    `json:"new_captain_id"`
}

// BattleForceEndedPayload terminates a battle whose opposing side fully
// disconnected. The surviving team wins regardless of score.
type BattleForceEndedPayload struct {
	BattleID     uuid.UUID `json:"battle_id"`
	WinnerTeamID uuid.UUID `json:"winner_team_id"`
	TeamAScore   int       `json:"team_a_score"`
	TeamBScore   int       `json:"team_b_score"`
}

// BattleFinishedPayload carries final scores after the question list is
// exhausted.
type BattleFinishedPayload struct {
	BattleID     uuid.UUID  `json:"battle_id"`
	WinnerTeamID *uuid.UUID `json:"winner_team_id,omitempty"`
	IsDraw       bool       `json:"is_draw"`
	TeamAScore   int        `json:"team_a_score"`
	TeamBScore   int        `json:"team_b_score"`
}

// ErrorPayload reports a validation or routing failure to the originating
// connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
