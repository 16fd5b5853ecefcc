package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore persists outbox events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed outbox store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the outbox table and indexes.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS outbox_events (
			id            VARCHAR(36) PRIMARY KEY,
			kind          VARCHAR(32) NOT NULL,
			order_id      VARCHAR(36) NOT NULL,
			payload       JSONB NOT NULL,
			status        VARCHAR(10) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','done','parked')),
			attempts      INT NOT NULL DEFAULT 0,
			last_error    TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL,
			dispatched_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_events (created_at) WHERE status = 'pending';
		CREATE INDEX IF NOT EXISTS idx_outbox_order ON outbox_events (order_id);
	`)
	return err
}

func (p *PostgresStore) Append(ctx context.Context, ev *Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO outbox_events (id, kind, order_id, payload, status, attempts, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.Kind, ev.OrderID, payload, string(ev.Status), ev.Attempts, ev.LastError, ev.CreatedAt,
	)
	return err
}

const eventColumns = `id, kind, order_id, payload, status, attempts, last_error, created_at, dispatched_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Event, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	return ev, err
}

func (p *PostgresStore) ListPending(ctx context.Context, limit int) ([]*Event, error) {
	return p.listByStatus(ctx, StatusPending, limit)
}

func (p *PostgresStore) ListParked(ctx context.Context, limit int) ([]*Event, error) {
	return p.listByStatus(ctx, StatusParked, limit)
}

func (p *PostgresStore) listByStatus(ctx context.Context, status EventStatus, limit int) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM outbox_events
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (p *PostgresStore) MarkDone(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = 'done', dispatched_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (p *PostgresStore) MarkFailed(ctx context.Context, id, lastError string, park bool) error {
	status := string(StatusPending)
	if park {
		status = string(StatusParked)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1, last_error = $2, status = $3
		WHERE id = $1`, id, lastError, status)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (p *PostgresStore) Requeue(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = 'pending', last_error = '' WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (p *PostgresStore) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_events WHERE status = 'pending'`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(s scanner) (*Event, error) {
	ev := &Event{}
	var (
		status       string
		payloadJSON  []byte
		dispatchedAt sql.NullTime
	)
	err := s.Scan(
		&ev.ID, &ev.Kind, &ev.OrderID, &payloadJSON, &status,
		&ev.Attempts, &ev.LastError, &ev.CreatedAt, &dispatchedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Status = EventStatus(status)
	if dispatchedAt.Valid {
		ev.DispatchedAt = &dispatchedAt.Time
	}
	if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
		return nil, err
	}
	return ev, nil
}
