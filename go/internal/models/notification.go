package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType defines the kind of a notification.
type NotificationType string

const (
	NotificationTypeChallengeReceived NotificationType = "challenge_received"
	NotificationTypeChallengeResult   NotificationType = "challenge_result"
	NotificationTypeBattleInvite      NotificationType = "team_battle_invite"
	NotificationTypePlayerDisconnect  NotificationType = "player_disconnect"
)

// Notification is a durable message for a user. Append-only until the user
// marks it read or deletes it; delivery to live connections is best-effort
// and never blocks game progression.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	RelatedID *uuid.UUID       `json:"related_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
