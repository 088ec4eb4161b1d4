package models

import (
	"time"
)

// Player tracks one participant's running counters inside a session.
// Created on join, mutated per answer, frozen at session end.
type Player struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Score       int       `json:"score"`
	Correct     int       `json:"correct"`
	Incorrect   int       `json:"incorrect"`
	TimeSpentMs int64     `json:"time_spent_ms"`
	JoinedAt    time.Time `json:"joined_at"`
}
