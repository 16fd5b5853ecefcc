package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresStore persists order data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the orders table and indexes.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id                  VARCHAR(36) PRIMARY KEY,
			listing_id          VARCHAR(36) NOT NULL,
			buyer_id            VARCHAR(64) NOT NULL,
			seller_id           VARCHAR(64) NOT NULL,
			amount              NUMERIC(20,2) NOT NULL CHECK (amount > 0),
			currency            VARCHAR(8) NOT NULL DEFAULT 'Kz',
			status              VARCHAR(12) NOT NULL CHECK (status IN ('pending','paid','delivered','cancelled')),
			requirements        TEXT NOT NULL DEFAULT '',
			outcome             VARCHAR(10) CHECK (outcome IN ('released','refunded','split')),
			resolution          VARCHAR(40),
			buyer_share         NUMERIC(20,2),
			seller_share        NUMERIC(20,2),
			rating_stars        SMALLINT CHECK (rating_stars BETWEEN 1 AND 5),
			rating_comment      TEXT,
			rated_at            TIMESTAMPTZ,
			dispute_id          VARCHAR(36),
			dispute_status      VARCHAR(10) CHECK (dispute_status IN ('open','resolved')),
			dispute_opened_by   VARCHAR(64),
			dispute_reason      VARCHAR(32),
			dispute_details     TEXT,
			dispute_decision    VARCHAR(16),
			dispute_notes       TEXT,
			dispute_opened_at   TIMESTAMPTZ,
			dispute_resolved_at TIMESTAMPTZ,
			dispute_evidence    JSONB NOT NULL DEFAULT '[]',
			seller_delivered_at TIMESTAMPTZ,
			paid_at             TIMESTAMPTZ,
			settled_at          TIMESTAMPTZ,
			created_at          TIMESTAMPTZ NOT NULL,
			updated_at          TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders (buyer_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_orders_seller ON orders (seller_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);
		CREATE INDEX IF NOT EXISTS idx_orders_auto_release ON orders (seller_delivered_at)
			WHERE status = 'paid' AND seller_delivered_at IS NOT NULL;
	`)
	return err
}

const orderColumns = `id, listing_id, buyer_id, seller_id, amount, currency, status,
		requirements, outcome, resolution, buyer_share, seller_share,
		rating_stars, rating_comment, rated_at,
		dispute_id, dispute_status, dispute_opened_by, dispute_reason, dispute_details,
		dispute_decision, dispute_notes, dispute_opened_at, dispute_resolved_at, dispute_evidence,
		seller_delivered_at, paid_at, settled_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, listing_id, buyer_id, seller_id, amount, currency, status,
			requirements, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), $6, $7, $8, $9, $10)`,
		o.ID, o.ListingID, o.BuyerID, o.SellerID, o.Amount, o.Currency,
		string(o.Status), o.Requirements, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// Update persists the full order, but only if the stored status still
// matches prev. Zero rows affected means another transition won the race.
func (p *PostgresStore) Update(ctx context.Context, o *Order, prev Status) error {
	var (
		disputeID, disputeStatus, disputeOpenedBy sql.NullString
		disputeReason, disputeDetails             sql.NullString
		disputeDecision, disputeNotes             sql.NullString
		disputeOpenedAt, disputeResolvedAt        sql.NullTime
		evidenceJSON                              = []byte("[]")
		ratingStars                               sql.NullInt64
		ratingComment                             sql.NullString
		ratedAt                                   sql.NullTime
	)
	if d := o.Dispute; d != nil {
		disputeID = nullString(d.ID)
		disputeStatus = nullString(string(d.Status))
		disputeOpenedBy = nullString(d.OpenedBy)
		disputeReason = nullString(d.Reason)
		disputeDetails = nullString(d.Details)
		disputeDecision = nullString(string(d.Decision))
		disputeNotes = nullString(d.Notes)
		disputeOpenedAt = sql.NullTime{Time: d.OpenedAt, Valid: true}
		disputeResolvedAt = nullTime(d.ResolvedAt)
		if d.Evidence != nil {
			evidenceJSON, _ = json.Marshal(d.Evidence)
		}
	}
	if r := o.Rating; r != nil {
		ratingStars = sql.NullInt64{Int64: int64(r.Stars), Valid: true}
		ratingComment = nullString(r.Comment)
		ratedAt = sql.NullTime{Time: r.RatedAt, Valid: true}
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, outcome = NULLIF($2, ''), resolution = NULLIF($3, ''),
			buyer_share = NULLIF($4, '')::NUMERIC(20,2), seller_share = NULLIF($5, '')::NUMERIC(20,2),
			rating_stars = $6, rating_comment = $7, rated_at = $8,
			dispute_id = $9, dispute_status = $10, dispute_opened_by = $11,
			dispute_reason = $12, dispute_details = $13, dispute_decision = $14,
			dispute_notes = $15, dispute_opened_at = $16, dispute_resolved_at = $17,
			dispute_evidence = $18,
			seller_delivered_at = $19, paid_at = $20, settled_at = $21, updated_at = $22
		WHERE id = $23 AND status = $24`,
		string(o.Status), string(o.Outcome), o.Resolution,
		o.BuyerShare, o.SellerShare,
		ratingStars, ratingComment, ratedAt,
		disputeID, disputeStatus, disputeOpenedBy,
		disputeReason, disputeDetails, disputeDecision,
		disputeNotes, disputeOpenedAt, disputeResolvedAt,
		evidenceJSON,
		nullTime(o.SellerDeliveredAt), nullTime(o.PaidAt), nullTime(o.SettledAt), o.UpdatedAt,
		o.ID, string(prev),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing row from a lost status race
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrInvalidStatus
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

func (p *PostgresStore) ListAutoReleasable(ctx context.Context, deliveredBefore time.Time, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'paid'
		  AND seller_delivered_at IS NOT NULL
		  AND seller_delivered_at < $1
		  AND (dispute_status IS NULL OR dispute_status <> 'open')
		LIMIT $2`, deliveredBefore, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

func (p *PostgresStore) ListSettled(ctx context.Context, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE outcome IS NOT NULL
		ORDER BY settled_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*Order, error) {
	o := &Order{}
	var (
		status, currency                          string
		outcome, resolution                       sql.NullString
		buyerShare, sellerShare                   sql.NullString
		ratingStars                               sql.NullInt64
		ratingComment                             sql.NullString
		ratedAt                                   sql.NullTime
		disputeID, disputeStatus, disputeOpenedBy sql.NullString
		disputeReason, disputeDetails             sql.NullString
		disputeDecision, disputeNotes             sql.NullString
		disputeOpenedAt, disputeResolvedAt        sql.NullTime
		evidenceJSON                              []byte
		sellerDeliveredAt, paidAt, settledAt      sql.NullTime
	)

	err := s.Scan(
		&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID, &o.Amount, &currency, &status,
		&o.Requirements, &outcome, &resolution, &buyerShare, &sellerShare,
		&ratingStars, &ratingComment, &ratedAt,
		&disputeID, &disputeStatus, &disputeOpenedBy, &disputeReason, &disputeDetails,
		&disputeDecision, &disputeNotes, &disputeOpenedAt, &disputeResolvedAt, &evidenceJSON,
		&sellerDeliveredAt, &paidAt, &settledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Currency = currency
	o.Status = Status(status)
	o.Outcome = Outcome(outcome.String)
	o.Resolution = resolution.String
	o.BuyerShare = buyerShare.String
	o.SellerShare = sellerShare.String

	if ratingStars.Valid {
		o.Rating = &Rating{
			Stars:   int(ratingStars.Int64),
			Comment: ratingComment.String,
			RatedAt: ratedAt.Time,
		}
	}

	if disputeID.Valid {
		d := &Dispute{
			ID:       disputeID.String,
			Status:   DisputeStatus(disputeStatus.String),
			OpenedBy: disputeOpenedBy.String,
			Reason:   disputeReason.String,
			Details:  disputeDetails.String,
			Decision: Decision(disputeDecision.String),
			Notes:    disputeNotes.String,
			OpenedAt: disputeOpenedAt.Time,
		}
		if disputeResolvedAt.Valid {
			d.ResolvedAt = &disputeResolvedAt.Time
		}
		if len(evidenceJSON) > 0 {
			_ = json.Unmarshal(evidenceJSON, &d.Evidence)
		}
		o.Dispute = d
	}

	if sellerDeliveredAt.Valid {
		o.SellerDeliveredAt = &sellerDeliveredAt.Time
	}
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	if settledAt.Valid {
		o.SettledAt = &settledAt.Time
	}
	return o, nil
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	var result []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
