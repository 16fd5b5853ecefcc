// Package ledger records the immutable financial history of the platform.
//
// Entries are append-only and written by the outbox consumer after a
// settlement commits. Each entry carries the outbox event ID so a retried
// event never produces duplicate rows.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/mbande/biskato/internal/idgen"
	"github.com/mbande/biskato/internal/money"
)

var (
	ErrInvalidKind   = errors.New("ledger: invalid entry kind")
	ErrInvalidAmount = errors.New("ledger: invalid amount")
)

// Kind is the closed set of ledger entry kinds. Each kind fixes which
// fields of Entry are meaningful; there is no free-form metadata.
type Kind string

const (
	// KindServicePayout credits a seller for completed work.
	KindServicePayout Kind = "service_payout"
	// KindEscrowRelease debits the buyer side when escrow leaves holding.
	KindEscrowRelease Kind = "escrow_release"
	// KindRefund credits a buyer after a refund or partial settlement.
	KindRefund Kind = "refund"
)

func validKind(k Kind) bool {
	switch k {
	case KindServicePayout, KindEscrowRelease, KindRefund:
		return true
	}
	return false
}

// Entry is one immutable ledger row.
type Entry struct {
	ID             string    `json:"id"`
	EventID        string    `json:"eventId"`
	UserID         string    `json:"userId"`
	Kind           Kind      `json:"kind"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	OrderID        string    `json:"orderId"`
	ListingID      string    `json:"listingId,omitempty"`
	CounterpartyID string    `json:"counterpartyId,omitempty"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store persists ledger entries. Append must be idempotent on
// (eventID, userID, kind).
type Store interface {
	Append(ctx context.Context, entries ...*Entry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Entry, error)
	ListByOrder(ctx context.Context, orderID string) ([]*Entry, error)
	// OrderTotals sums seller payouts and buyer refunds recorded for an
	// order, for conservation checks.
	OrderTotals(ctx context.Context, orderID string) (payout, refund string, err error)
}

// Ledger validates and writes entries through a Store.
type Ledger struct {
	store Store
}

// New creates a ledger service.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Record validates and appends entries. IDs and timestamps are filled in
// for entries that lack them.
func (l *Ledger) Record(ctx context.Context, entries ...*Entry) error {
	done := observeOp("record")
	defer done()

	now := time.Now()
	for _, e := range entries {
		if !validKind(e.Kind) {
			return ErrInvalidKind
		}
		amt, ok := money.Parse(e.Amount)
		if !ok || amt.Sign() < 0 {
			return ErrInvalidAmount
		}
		if e.ID == "" {
			e.ID = idgen.WithPrefix("txn_")
		}
		if e.Currency == "" {
			e.Currency = money.Currency
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
	}
	return l.store.Append(ctx, entries...)
}

// History returns a user's entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	done := observeOp("history")
	defer done()

	if limit <= 0 {
		limit = 50
	}
	return l.store.ListByUser(ctx, userID, limit)
}

// OrderHistory returns all entries recorded for an order.
func (l *Ledger) OrderHistory(ctx context.Context, orderID string) ([]*Entry, error) {
	return l.store.ListByOrder(ctx, orderID)
}

// OrderTotals reports the credited payout and refund sums for an order.
func (l *Ledger) OrderTotals(ctx context.Context, orderID string) (payout, refund string, err error) {
	return l.store.OrderTotals(ctx, orderID)
}
