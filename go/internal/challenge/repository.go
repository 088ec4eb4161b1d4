package challenge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/holyword/trivia/go/internal/models"
	"github.com/holyword/trivia/go/internal/sqlutil"
)

var ErrResultNotFound = errors.New("challenge result not found")

// Repository persists challenges, their shared question sets, and the two
// per-participant result sheets.
type Repository interface {
	Create(ctx context.Context, ch *models.Challenge, questions []models.Question) error
	Get(ctx context.Context, id uuid.UUID) (*models.Challenge, error)
	Update(ctx context.Context, ch *models.Challenge) error
	Questions(ctx context.Context, challengeID uuid.UUID) ([]models.Question, error)
	GetResult(ctx context.Context, challengeID uuid.UUID, userID string) (*models.ChallengeResult, error)
	SaveResult(ctx context.Context, result *models.ChallengeResult) error
	ListForUser(ctx context.Context, userID string) ([]models.Challenge, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// PostgresRepository implements challenge storage on Postgres. The question
// set is snapshotted into challenge_questions at creation, so both sides
// keep playing the same questions even if the question pool changes later.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a challenge repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

// Create stores a challenge and its question snapshot in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, ch *models.Challenge, questions []models.Question) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO challenges (id, challenger_id, challengee_id, session_id, category, difficulty,
				status, is_draw, notification_sent, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, false, false, $8, $9)`,
			ch.ID, ch.ChallengerID, ch.ChallengeeID, ch.SessionID, ch.Category, ch.Difficulty,
			ch.Status, ch.ExpiresAt, ch.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert challenge: %w", err)
		}

		// The wire form of a question hides which option is correct, so the
		// correct option id is stored in its own column.
		for i, q := range questions {
			body, err := json.Marshal(q)
			if err != nil {
				return fmt.Errorf("failed to marshal question: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO challenge_questions (challenge_id, position, question_id, correct_option_id, body)
				VALUES ($1, $2, $3, $4, $5)`,
				ch.ID, i, q.ID, q.CorrectOptionID(), body)
			if err != nil {
				return fmt.Errorf("failed to insert challenge question: %w", err)
			}
		}
		return nil
	})
}

// Get returns a challenge by id.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, challenger_id, challengee_id, session_id, category, difficulty,
			status, winner_id, is_draw, notification_sent, expires_at, created_at, completed_at
		FROM challenges WHERE id = $1`, id)
	ch, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChallengeNotFound
	}
	return ch, err
}

// Update writes back a challenge's mutable fields.
func (r *PostgresRepository) Update(ctx context.Context, ch *models.Challenge) error {
	winner := sqlutil.ToSqlString(ch.WinnerID)
	completedAt := sqlutil.ToSqlTime(ch.CompletedAt)
	res, err := r.db.ExecContext(ctx, `
		UPDATE challenges
		SET status = $2, winner_id = $3, is_draw = $4, notification_sent = $5, completed_at = $6
		WHERE id = $1`,
		ch.ID, ch.Status, winner, ch.IsDraw, ch.NotificationSent, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update challenge: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrChallengeNotFound
	}
	return nil
}

// Questions returns a challenge's question snapshot in order.
func (r *PostgresRepository) Questions(ctx context.Context, challengeID uuid.UUID) ([]models.Question, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT correct_option_id, body FROM challenge_questions
		WHERE challenge_id = $1 ORDER BY position`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenge questions: %w", err)
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		var correctID uuid.UUID
		var body []byte
		if err := rows.Scan(&correctID, &body); err != nil {
			return nil, fmt.Errorf("failed to scan challenge question: %w", err)
		}
		var q models.Question
		if err := json.Unmarshal(body, &q); err != nil {
			return nil, fmt.Errorf("failed to unmarshal challenge question: %w", err)
		}
		for i := range q.Options {
			q.Options[i].Correct = q.Options[i].ID == correctID
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// GetResult returns one participant's result sheet, or ErrResultNotFound.
func (r *PostgresRepository) GetResult(ctx context.Context, challengeID uuid.UUID, userID string) (*models.ChallengeResult, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, challenge_id, user_id, answers, score, correct, completed, completed_at
		FROM challenge_results WHERE challenge_id = $1 AND user_id = $2`,
		challengeID, userID)

	var res models.ChallengeResult
	var answers []byte
	var completedAt sql.NullTime
	err := row.Scan(&res.ID, &res.ChallengeID, &res.UserID, &answers,
		&res.Score, &res.Correct, &res.Completed, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan challenge result: %w", err)
	}
	if err := json.Unmarshal(answers, &res.Answers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
	}
	res.CompletedAt = sqlutil.FromSqlTime(completedAt)
	return &res, nil
}

// SaveResult upserts one participant's result sheet. The unique key on
// (challenge_id, user_id) enforces the one-result-per-side rule.
func (r *PostgresRepository) SaveResult(ctx context.Context, result *models.ChallengeResult) error {
	answers, err := json.Marshal(result.Answers)
	if err != nil {
		return fmt.Errorf("failed to marshal answers: %w", err)
	}
	completedAt := sqlutil.ToSqlTime(result.CompletedAt)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO challenge_results (id, challenge_id, user_id, answers, score, correct, completed, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (challenge_id, user_id) DO UPDATE
		SET answers = EXCLUDED.answers, score = EXCLUDED.score, correct = EXCLUDED.correct,
			completed = EXCLUDED.completed, completed_at = EXCLUDED.completed_at`,
		result.ID, result.ChallengeID, result.UserID, answers,
		result.Score, result.Correct, result.Completed, completedAt)
	if err != nil {
		return fmt.Errorf("failed to save challenge result: %w", err)
	}
	return nil
}

// ListForUser returns a user's challenges, newest first.
func (r *PostgresRepository) ListForUser(ctx context.Context, userID string) ([]models.Challenge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, challenger_id, challengee_id, session_id, category, difficulty,
			status, winner_id, is_draw, notification_sent, expires_at, created_at, completed_at
		FROM challenges
		WHERE challenger_id = $1 OR challengee_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	defer rows.Close()

	var out []models.Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// ExpireDue flips overdue pending/accepted challenges to expired and
// returns how many rows changed.
func (r *PostgresRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE challenges SET status = $1
		WHERE status IN ($2, $3) AND expires_at < $4`,
		models.ChallengeStatusExpired, models.ChallengeStatusPending,
		models.ChallengeStatusAccepted, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire challenges: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (*models.Challenge, error) {
	var ch models.Challenge
	var winner sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&ch.ID, &ch.ChallengerID, &ch.ChallengeeID, &ch.SessionID,
		&ch.Category, &ch.Difficulty, &ch.Status, &winner, &ch.IsDraw,
		&ch.NotificationSent, &ch.ExpiresAt, &ch.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan challenge: %w", err)
	}
	ch.WinnerID = sqlutil.FromSqlStringPtr(winner)
	ch.CompletedAt = sqlutil.FromSqlTime(completedAt)
	return &ch, nil
}
