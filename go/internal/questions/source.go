// Package questions provides ordered question sets to the game engines.
// Question authoring, generation and validation live in an external content
// service; this package only reads.
package questions

import (
	"context"
	"errors"

	"github.com/holyword/trivia/go/internal/models"
)

// ErrNotEnoughQuestions is returned when the content store cannot satisfy
// the requested set size.
var ErrNotEnoughQuestions = errors.New("not enough questions for category/difficulty")

// Source yields an ordered question set for a new session.
type Source interface {
	QuestionSet(ctx context.Context, category, difficulty string, count int) ([]models.Question, error)
}
