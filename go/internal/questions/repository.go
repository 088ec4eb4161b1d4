package questions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/holyword/trivia/go/internal/models"
)

// Repository is a Postgres-backed Source reading from the content tables
// maintained by the admin/content service.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a question repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// QuestionSet returns a random ordered set of questions with their options.
func (r *Repository) QuestionSet(ctx context.Context, category, difficulty string, count int) ([]models.Question, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, text, reference
		FROM questions
		WHERE category = $1 AND difficulty = $2
		ORDER BY random()
		LIMIT $3`,
		category, difficulty, count)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var qs []models.Question
	for rows.Next() {
		var q models.Question
		var ref sql.NullString
		if err := rows.Scan(&q.ID, &q.Text, &ref); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		if ref.Valid {
			q.Reference = ref.String
		}
		qs = append(qs, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate questions: %w", err)
	}
	if len(qs) < count {
		return nil, ErrNotEnoughQuestions
	}

	for i := range qs {
		if err := r.loadOptions(ctx, &qs[i]); err != nil {
			return nil, err
		}
	}
	return qs, nil
}

func (r *Repository) loadOptions(ctx context.Context, q *models.Question) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, text, is_correct
		FROM answer_options
		WHERE question_id = $1
		ORDER BY position`,
		q.ID)
	if err != nil {
		return fmt.Errorf("failed to query options for question %s: %w", q.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var opt models.AnswerOption
		if err := rows.Scan(&opt.ID, &opt.Text, &opt.Correct); err != nil {
			return fmt.Errorf("failed to scan option: %w", err)
		}
		q.Options = append(q.Options, opt)
	}
	return rows.Err()
}

// GetQuestion returns a single question by id, used when re-serving state
// to a reconnecting client.
func (r *Repository) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	var q models.Question
	var ref sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, text, reference FROM questions WHERE id = $1`, id).
		Scan(&q.ID, &q.Text, &ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	if ref.Valid {
		q.Reference = ref.String
	}
	if err := r.loadOptions(ctx, &q); err != nil {
		return nil, err
	}
	return &q, nil
}
