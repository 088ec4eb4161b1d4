// Package events defines the outbound wire events pushed to clients over
// WebSocket. Every event is a type-discriminated JSON envelope with an
// event-specific payload.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type represents the type of an outbound event.
type Type string

const (
	TypeConnectionEstablished Type = "connection_established"
	TypeAuthenticated         Type = "authenticated"
	TypeGameCreated           Type = "game_created"
	TypeGameStarted           Type = "game_started"
	TypePlayerJoined          Type = "player_joined"
	TypeAnswerSubmitted       Type = "answer_submitted"
	TypeGameEnded             Type = "game_ended"
	TypeGameState             Type = "game_state"
	TypeChallengeCreated      Type = "challenge_created"
	TypeChallengeUpdated      Type = "challenge_updated"
	TypeChallengeResult       Type = "challenge_result"
	TypeBattleCreated         Type = "team_battle_created"
	TypeNotification          Type = "notification"
	TypeBattleStarted         Type = "team_battle_started"
	TypeBattleQuestion        Type = "team_battle_question"
	TypeOptionSelected        Type = "team_option_selected"
	TypeAnswerFinalized       Type = "team_answer_finalized"
	TypeQuestionResults       Type = "team_battle_question_results"
	TypeCaptainChanged        Type = "captain_changed"
	TypeBattleForceEnded      Type = "team_battle_ended_opponent_disconnect"
	TypeBattleFinished        Type = "team_battle_finished"
	TypeError                 Type = "error"
)

// Event is the envelope for all outbound messages.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// New builds an event envelope around the given payload.
func New(t Type, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// MustNew is New for payloads that cannot fail to marshal.
func MustNew(t Type, payload any) *Event {
	ev, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return ev
}
