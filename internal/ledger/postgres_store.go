package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id              VARCHAR(36) PRIMARY KEY,
			event_id        VARCHAR(36) NOT NULL DEFAULT '',
			user_id         VARCHAR(64) NOT NULL,
			kind            VARCHAR(20) NOT NULL,
			amount          NUMERIC(20,2) NOT NULL,
			currency        VARCHAR(8) NOT NULL DEFAULT 'Kz',
			order_id        VARCHAR(36) NOT NULL,
			listing_id      VARCHAR(36),
			counterparty_id VARCHAR(64),
			description     TEXT,
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			CONSTRAINT chk_ledger_kind CHECK (kind IN ('service_payout', 'escrow_release', 'refund')),
			CONSTRAINT chk_ledger_amount_nonneg CHECK (amount >= 0)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS uq_ledger_event
			ON ledger_entries(event_id, user_id, kind) WHERE event_id <> '';
		CREATE INDEX IF NOT EXISTS idx_ledger_user ON ledger_entries(user_id);
		CREATE INDEX IF NOT EXISTS idx_ledger_order ON ledger_entries(order_id);
		CREATE INDEX IF NOT EXISTS idx_ledger_created ON ledger_entries(created_at DESC);
	`)
	return err
}

// Append writes entries in one transaction. Rows that collide on
// (event_id, user_id, kind) are skipped, which makes redelivered outbox
// events harmless.
func (p *PostgresStore) Append(ctx context.Context, entries ...*Entry) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries
				(id, event_id, user_id, kind, amount, currency, order_id, listing_id, counterparty_id, description, created_at)
			VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
			ON CONFLICT (event_id, user_id, kind) WHERE event_id <> '' DO NOTHING
		`, e.ID, e.EventID, e.UserID, e.Kind, e.Amount, e.Currency, e.OrderID, e.ListingID, e.CounterpartyID, e.Description, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to append entry: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows > 0 {
			LedgerEntriesTotal.WithLabelValues(string(e.Kind)).Inc()
		}
	}

	return tx.Commit()
}

// ListByUser retrieves a user's entries, newest first.
func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	return p.query(ctx, `
		SELECT id, event_id, user_id, kind, amount, currency, order_id,
		       COALESCE(listing_id, ''), COALESCE(counterparty_id, ''), COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
}

// ListByOrder retrieves all entries for an order.
func (p *PostgresStore) ListByOrder(ctx context.Context, orderID string) ([]*Entry, error) {
	return p.query(ctx, `
		SELECT id, event_id, user_id, kind, amount, currency, order_id,
		       COALESCE(listing_id, ''), COALESCE(counterparty_id, ''), COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE order_id = $1
		ORDER BY created_at
	`, orderID)
}

func (p *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.EventID, &e.UserID, &e.Kind, &e.Amount, &e.Currency,
			&e.OrderID, &e.ListingID, &e.CounterpartyID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// OrderTotals sums seller payouts and buyer refunds for an order.
func (p *PostgresStore) OrderTotals(ctx context.Context, orderID string) (string, string, error) {
	var payout, refund string
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE kind = 'service_payout'), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind = 'refund'), 0)
		FROM ledger_entries
		WHERE order_id = $1
	`, orderID).Scan(&payout, &refund)
	return payout, refund, err
}
