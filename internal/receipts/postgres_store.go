package receipts

import (
	"context"
	"database/sql"
)

// PostgresStore persists receipt data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed receipt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the receipts table and indexes.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS receipts (
			id           VARCHAR(36) PRIMARY KEY,
			event_id     VARCHAR(36) NOT NULL DEFAULT '',
			order_id     VARCHAR(36) NOT NULL,
			listing_id   VARCHAR(36),
			buyer_id     VARCHAR(64) NOT NULL,
			seller_id    VARCHAR(64) NOT NULL,
			outcome      VARCHAR(10) NOT NULL CHECK (outcome IN ('released','refunded','split')),
			amount       NUMERIC(20,2) NOT NULL CHECK (amount > 0),
			buyer_share  NUMERIC(20,2) NOT NULL CHECK (buyer_share >= 0),
			seller_share NUMERIC(20,2) NOT NULL CHECK (seller_share >= 0),
			currency     VARCHAR(8) NOT NULL DEFAULT 'Kz',
			payload_hash VARCHAR(64) NOT NULL,
			signature    VARCHAR(128) NOT NULL,
			issued_at    TIMESTAMPTZ NOT NULL,
			expires_at   TIMESTAMPTZ NOT NULL,
			created_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_receipts_event ON receipts (event_id) WHERE event_id <> '';
		CREATE INDEX IF NOT EXISTS idx_receipts_order ON receipts (order_id);
		CREATE INDEX IF NOT EXISTS idx_receipts_buyer ON receipts (buyer_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_receipts_seller ON receipts (seller_id, created_at DESC);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, r *Receipt) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO receipts (
			id, event_id, order_id, listing_id, buyer_id, seller_id,
			outcome, amount, buyer_share, seller_share, currency,
			payload_hash, signature, issued_at, expires_at, created_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), $5, $6,
			$7, $8::NUMERIC(20,2), $9::NUMERIC(20,2), $10::NUMERIC(20,2), $11,
			$12, $13, $14, $15, $16
		)
		ON CONFLICT (event_id) WHERE event_id <> '' DO NOTHING`,
		r.ID, r.EventID, r.OrderID, r.ListingID, r.BuyerID, r.SellerID,
		string(r.Outcome), r.Amount, r.BuyerShare, r.SellerShare, r.Currency,
		r.PayloadHash, r.Signature, r.IssuedAt, r.ExpiresAt, r.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, event_id, order_id, listing_id, buyer_id, seller_id,
		       outcome, amount, buyer_share, seller_share, currency,
		       payload_hash, signature, issued_at, expires_at, created_at
		FROM receipts WHERE id = $1`, id)

	r, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) GetByOrder(ctx context.Context, orderID string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, event_id, order_id, listing_id, buyer_id, seller_id,
		       outcome, amount, buyer_share, seller_share, currency,
		       payload_hash, signature, issued_at, expires_at, created_at
		FROM receipts WHERE order_id = $1
		ORDER BY created_at DESC LIMIT 1`, orderID)

	r, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, event_id, order_id, listing_id, buyer_id, seller_id,
		       outcome, amount, buyer_share, seller_share, currency,
		       payload_hash, signature, issued_at, expires_at, created_at
		FROM receipts
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanReceipts(rows)
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(sc scanner) (*Receipt, error) {
	r := &Receipt{}
	var (
		listingID sql.NullString
		outcome   string
	)

	err := sc.Scan(
		&r.ID, &r.EventID, &r.OrderID, &listingID, &r.BuyerID, &r.SellerID,
		&outcome, &r.Amount, &r.BuyerShare, &r.SellerShare, &r.Currency,
		&r.PayloadHash, &r.Signature, &r.IssuedAt, &r.ExpiresAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Outcome = Outcome(outcome)
	r.ListingID = listingID.String
	return r, nil
}

func scanReceipts(rows *sql.Rows) ([]*Receipt, error) {
	var result []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
