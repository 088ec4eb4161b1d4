package notify

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/holyword/trivia/go/internal/models"
	"github.com/holyword/trivia/go/internal/sqlutil"
)

// PostgresRepository implements notification storage on Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a notification repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert stores a notification.
func (r *PostgresRepository) Insert(ctx context.Context, n *models.Notification) error {
	related := sqlutil.ToNullUUID(n.RelatedID)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, message, read, related_id, created_at)
		VALUES ($1, $2, $3, $4, false, $5, $6)`,
		n.ID, n.UserID, n.Type, n.Message, related, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// MarkRead marks a notification read. Scoped by user id so a user cannot
// touch another user's notifications.
func (r *PostgresRepository) MarkRead(ctx context.Context, id uuid.UUID, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`,
		id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListUnread returns unread notifications oldest first.
func (r *PostgresRepository) ListUnread(ctx context.Context, userID string) ([]models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, type, message, read, related_id, created_at
		FROM notifications
		WHERE user_id = $1 AND read = false
		ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var related uuid.NullUUID
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &n.Read, &related, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.RelatedID = sqlutil.FromNullUUID(related)
		out = append(out, n)
	}
	return out, rows.Err()
}
