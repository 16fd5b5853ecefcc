package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mbande/biskato/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the wallet tables with NUMERIC columns.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallet_balances (
			user_id         VARCHAR(64) PRIMARY KEY,
			available       NUMERIC(20,2) NOT NULL DEFAULT 0,
			total_earnings  NUMERIC(20,2) NOT NULL DEFAULT 0,
			credit          NUMERIC(20,2) NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ DEFAULT NOW(),
			CONSTRAINT chk_available_nonneg CHECK (available >= 0),
			CONSTRAINT chk_earnings_nonneg  CHECK (total_earnings >= 0),
			CONSTRAINT chk_credit_nonneg    CHECK (credit >= 0)
		);

		CREATE TABLE IF NOT EXISTS escrow_holds (
			id          VARCHAR(36) PRIMARY KEY,
			order_id    VARCHAR(36) NOT NULL,
			user_id     VARCHAR(64) NOT NULL,
			role        VARCHAR(10) NOT NULL,
			amount      NUMERIC(20,2) NOT NULL,
			status      VARCHAR(10) NOT NULL DEFAULT 'open',
			opened_at   TIMESTAMPTZ DEFAULT NOW(),
			settled_at  TIMESTAMPTZ,
			CONSTRAINT chk_hold_amount_pos CHECK (amount > 0),
			CONSTRAINT uq_hold_order_role UNIQUE (order_id, role)
		);

		CREATE INDEX IF NOT EXISTS idx_holds_order ON escrow_holds(order_id);
		CREATE INDEX IF NOT EXISTS idx_holds_user ON escrow_holds(user_id);
		CREATE INDEX IF NOT EXISTS idx_holds_status ON escrow_holds(status);
	`)
	return err
}

// GetBalance retrieves a user's balance with derived pending sums.
func (p *PostgresStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	bal := &Balance{UserID: userID}

	err := p.db.QueryRowContext(ctx, `
		SELECT available, total_earnings, credit, updated_at
		FROM wallet_balances WHERE user_id = $1
	`, userID).Scan(&bal.Available, &bal.TotalEarnings, &bal.Credit, &bal.UpdatedAt)
	if err == sql.ErrNoRows {
		bal.Available = "0.00"
		bal.TotalEarnings = "0.00"
		bal.Credit = "0.00"
		bal.UpdatedAt = time.Now()
	} else if err != nil {
		return nil, err
	}

	err = p.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE role = 'seller'), 0),
			COALESCE(SUM(amount) FILTER (WHERE role = 'buyer'), 0)
		FROM escrow_holds
		WHERE user_id = $1 AND status = 'open'
	`, userID).Scan(&bal.PendingIn, &bal.PendingOut)
	if err != nil {
		return nil, err
	}

	return bal, nil
}

// OpenHolds opens the two holds for a paid order in one transaction.
// The unique constraint on (order_id, role) rejects a second attempt.
func (p *PostgresStore) OpenHolds(ctx context.Context, orderID, buyerID, sellerID, amount string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM escrow_holds WHERE order_id = $1)
	`, orderID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrHoldExists
	}

	for _, h := range []struct {
		userID string
		role   Role
	}{{buyerID, RoleBuyer}, {sellerID, RoleSeller}} {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO escrow_holds (id, order_id, user_id, role, amount, status, opened_at)
			VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), 'open', NOW())
		`, idgen.WithPrefix("hld_"), orderID, h.userID, h.role, amount)
		if err != nil {
			return fmt.Errorf("failed to open %s hold: %w", h.role, err)
		}
	}

	return tx.Commit()
}

// lockOpenHolds reads the order's open holds under FOR UPDATE. Returning
// ErrHoldNotOpen here is what makes double settlement impossible: the
// second transaction finds no open rows.
func lockOpenHolds(ctx context.Context, tx *sql.Tx, orderID string) (buyerID, sellerID, amount string, err error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT user_id, role, amount
		FROM escrow_holds
		WHERE order_id = $1 AND status = 'open'
		FOR UPDATE
	`, orderID)
	if err != nil {
		return "", "", "", err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var userID string
		var role Role
		var amt string
		if err := rows.Scan(&userID, &role, &amt); err != nil {
			return "", "", "", err
		}
		n++
		amount = amt
		switch role {
		case RoleBuyer:
			buyerID = userID
		case RoleSeller:
			sellerID = userID
		}
	}
	if err := rows.Err(); err != nil {
		return "", "", "", err
	}
	if n == 0 {
		return "", "", "", ErrHoldNotOpen
	}
	return buyerID, sellerID, amount, nil
}

func closeHolds(ctx context.Context, tx *sql.Tx, orderID string, status HoldStatus) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE escrow_holds SET status = $2, settled_at = NOW()
		WHERE order_id = $1 AND status = 'open'
	`, orderID, status)
	if err != nil {
		return fmt.Errorf("failed to close holds: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrHoldNotOpen
	}
	return nil
}

func creditSeller(ctx context.Context, tx *sql.Tx, sellerID, amount string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_balances (user_id, available, total_earnings, updated_at)
		VALUES ($1, $2::NUMERIC(20,2), $2::NUMERIC(20,2), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			available      = wallet_balances.available      + $2::NUMERIC(20,2),
			total_earnings = wallet_balances.total_earnings + $2::NUMERIC(20,2),
			updated_at     = NOW()
	`, sellerID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit seller: %w", err)
	}
	return nil
}

func creditBuyer(ctx context.Context, tx *sql.Tx, buyerID, amount string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_balances (user_id, credit, updated_at)
		VALUES ($1, $2::NUMERIC(20,2), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			credit     = wallet_balances.credit + $2::NUMERIC(20,2),
			updated_at = NOW()
	`, buyerID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit buyer: %w", err)
	}
	return nil
}

// Release settles the full amount to the seller in one transaction.
func (p *PostgresStore) Release(ctx context.Context, orderID string) (*Settlement, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	buyerID, sellerID, amount, err := lockOpenHolds(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := closeHolds(ctx, tx, orderID, HoldReleased); err != nil {
		return nil, err
	}
	if err := creditSeller(ctx, tx, sellerID, amount); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Settlement{
		OrderID:     orderID,
		BuyerID:     buyerID,
		SellerID:    sellerID,
		Amount:      amount,
		BuyerShare:  "0.00",
		SellerShare: amount,
	}, nil
}

// Refund settles the full amount back to the buyer in one transaction.
func (p *PostgresStore) Refund(ctx context.Context, orderID string) (*Settlement, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	buyerID, sellerID, amount, err := lockOpenHolds(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := closeHolds(ctx, tx, orderID, HoldRefunded); err != nil {
		return nil, err
	}
	if err := creditBuyer(ctx, tx, buyerID, amount); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Settlement{
		OrderID:     orderID,
		BuyerID:     buyerID,
		SellerID:    sellerID,
		Amount:      amount,
		BuyerShare:  amount,
		SellerShare: "0.00",
	}, nil
}

// Split settles buyerShare to the buyer and the remainder to the seller
// in one transaction.
func (p *PostgresStore) Split(ctx context.Context, orderID, buyerShare string) (*Settlement, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	buyerID, sellerID, amount, err := lockOpenHolds(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	sellerShare, err := splitShares(amount, buyerShare)
	if err != nil {
		return nil, err
	}

	if err := closeHolds(ctx, tx, orderID, HoldSplit); err != nil {
		return nil, err
	}
	if err := creditBuyer(ctx, tx, buyerID, buyerShare); err != nil {
		return nil, err
	}
	if err := creditSeller(ctx, tx, sellerID, sellerShare); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Settlement{
		OrderID:     orderID,
		BuyerID:     buyerID,
		SellerID:    sellerID,
		Amount:      amount,
		BuyerShare:  buyerShare,
		SellerShare: sellerShare,
	}, nil
}

// HoldsByOrder returns both holds for an order.
func (p *PostgresStore) HoldsByOrder(ctx context.Context, orderID string) ([]*Hold, error) {
	return p.queryHolds(ctx, `
		SELECT id, order_id, user_id, role, amount, status, opened_at, settled_at
		FROM escrow_holds WHERE order_id = $1 ORDER BY role
	`, orderID)
}

// HoldsByUser returns a user's holds, newest first.
func (p *PostgresStore) HoldsByUser(ctx context.Context, userID string, limit int) ([]*Hold, error) {
	return p.queryHolds(ctx, `
		SELECT id, order_id, user_id, role, amount, status, opened_at, settled_at
		FROM escrow_holds WHERE user_id = $1 ORDER BY opened_at DESC LIMIT $2
	`, userID, limit)
}

func (p *PostgresStore) queryHolds(ctx context.Context, query string, args ...any) ([]*Hold, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []*Hold
	for rows.Next() {
		h := &Hold{}
		var settledAt sql.NullTime
		if err := rows.Scan(&h.ID, &h.OrderID, &h.UserID, &h.Role, &h.Amount, &h.Status, &h.OpenedAt, &settledAt); err != nil {
			return nil, err
		}
		if settledAt.Valid {
			h.SettledAt = &settledAt.Time
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

// OpenHoldTotal sums all open holds for one role.
func (p *PostgresStore) OpenHoldTotal(ctx context.Context, role Role) (string, error) {
	var total string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM escrow_holds WHERE role = $1 AND status = 'open'
	`, role).Scan(&total)
	return total, err
}
