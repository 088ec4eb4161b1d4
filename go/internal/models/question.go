package models

import (
	"github.com/google/uuid"
)

// AnswerOption is one selectable answer on a question.
type AnswerOption struct {
	ID      uuid.UUID `json:"id"`
	Text    string    `json:"text"`
	Correct bool      `json:"-"`
}

// Question is a single trivia question with its options. Question content is
// produced by an external service; the engine only orders and serves it.
type Question struct {
	ID        uuid.UUID      `json:"id"`
	Text      string         `json:"text"`
	Reference string         `json:"reference,omitempty"`
	Options   []AnswerOption `json:"options"`
}

// CorrectOptionID returns the id of the correct option, or uuid.Nil if the
// question carries none.
func (q Question) CorrectOptionID() uuid.UUID {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return uuid.Nil
}

// HasOption reports whether the given option id belongs to this question.
func (q Question) HasOption(id uuid.UUID) bool {
	for _, opt := range q.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}
