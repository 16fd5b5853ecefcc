package notify

import (
	"context"
	"database/sql"
)

// PostgresStore persists notifications in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed notification store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the notifications table and indexes.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS notifications (
			id         VARCHAR(36) PRIMARY KEY,
			event_id   VARCHAR(36) NOT NULL DEFAULT '',
			user_id    VARCHAR(64) NOT NULL,
			kind       VARCHAR(32) NOT NULL,
			order_id   VARCHAR(36) NOT NULL DEFAULT '',
			title      VARCHAR(200) NOT NULL,
			body       TEXT NOT NULL DEFAULT '',
			read       BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_event_user
			ON notifications (event_id, user_id) WHERE event_id <> '';
		CREATE INDEX IF NOT EXISTS idx_notifications_user
			ON notifications (user_id, created_at DESC);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, n *Notification) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications (id, event_id, user_id, kind, order_id, title, body, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`,
		n.ID, n.EventID, n.UserID, n.Kind, n.OrderID, n.Title, n.Body, n.Read, n.CreatedAt,
	)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrDuplicate
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*Notification, error) {
	query := `
		SELECT id, event_id, user_id, kind, order_id, title, body, read, created_at
		FROM notifications
		WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Notification
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(&n.ID, &n.EventID, &n.UserID, &n.Kind, &n.OrderID,
			&n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (p *PostgresStore) MarkRead(ctx context.Context, id, userID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (p *PostgresStore) MarkAllRead(ctx context.Context, userID string) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE`, userID)
	if err != nil {
		return 0, err
	}
	rows, _ := res.RowsAffected()
	return int(rows), nil
}

func (p *PostgresStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`, userID).Scan(&count)
	return count, err
}
