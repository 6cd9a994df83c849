package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no notification row exists for the id.
	ErrNotFound = errors.New("notification: not found")
	// ErrForbidden signals an actor touching someone else's notification.
	ErrForbidden = errors.New("notification: forbidden")
)

// Repository handles data access for notifications.
type Repository interface {
	Insert(ctx context.Context, n Notification) error
	Get(ctx context.Context, id string) (Notification, error)
	MarkRead(ctx context.Context, id string) error
	ListUnread(ctx context.Context, userID string) ([]Notification, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed notification repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const columns = `id, user_id, issue_id, title, message, type, read, created_at`

// Insert writes one notification row.
func (r *PGRepository) Insert(ctx context.Context, n Notification) error {
	const insertSQL = `
		INSERT INTO notifications (id, user_id, issue_id, title, message, type, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := r.pool.Exec(ctx, insertSQL,
		n.ID, n.UserID, n.IssueID, n.Title, n.Message, n.Type, n.Read, n.CreatedAt,
	); err != nil {
		return fmt.Errorf("notification: insert: %w", err)
	}
	return nil
}

// Get fetches one notification by id.
func (r *PGRepository) Get(ctx context.Context, id string) (Notification, error) {
	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE id = $1`, columns)

	var n Notification
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&n.ID, &n.UserID, &n.IssueID, &n.Title, &n.Message, &n.Type, &n.Read, &n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, fmt.Errorf("notification: get: %w", err)
	}
	return n, nil
}

// MarkRead flips the read flag.
func (r *PGRepository) MarkRead(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("notification: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUnread returns unread notifications for a recipient, newest first.
func (r *PGRepository) ListUnread(ctx context.Context, userID string) ([]Notification, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM notifications
		WHERE user_id = $1 AND read = false
		ORDER BY created_at DESC, id DESC
	`, columns)

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("notification: query unread: %w", err)
	}
	defer rows.Close()

	list := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.IssueID, &n.Title, &n.Message, &n.Type, &n.Read, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("notification: scan unread: %w", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification: iterate unread: %w", err)
	}

	return list, nil
}
