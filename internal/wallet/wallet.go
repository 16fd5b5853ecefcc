// Package wallet tracks user balances and per-order escrow holds.
//
// Flow:
//  1. Buyer pays for an order (external gateway confirms)
//  2. Two holds open against the order, one per party
//  3. Settlement closes both holds atomically and credits the parties
//  4. Pending balances are derived from open holds, never stored
package wallet

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/mbande/biskato/internal/money"
)

var (
	ErrInvalidAmount = errors.New("wallet: invalid amount")
	ErrHoldExists    = errors.New("wallet: holds already open for order")
	ErrHoldNotOpen   = errors.New("wallet: no open holds for order")
	ErrShareTooLarge = errors.New("wallet: buyer share exceeds held amount")
)

// Role identifies which side of an order a hold belongs to.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// HoldStatus is the lifecycle state of an escrow hold.
type HoldStatus string

const (
	HoldOpen     HoldStatus = "open"
	HoldReleased HoldStatus = "released"
	HoldRefunded HoldStatus = "refunded"
	HoldSplit    HoldStatus = "split"
)

// Hold is one side of an order's escrowed funds.
type Hold struct {
	ID        string     `json:"id"`
	OrderID   string     `json:"orderId"`
	UserID    string     `json:"userId"`
	Role      Role       `json:"role"`
	Amount    string     `json:"amount"`
	Status    HoldStatus `json:"status"`
	OpenedAt  time.Time  `json:"openedAt"`
	SettledAt *time.Time `json:"settledAt,omitempty"`
}

// Balance is a user's wallet view. PendingIn and PendingOut are derived
// from open holds at read time.
type Balance struct {
	UserID        string    `json:"userId"`
	Available     string    `json:"available"`     // seller earnings ready for payout
	TotalEarnings string    `json:"totalEarnings"` // lifetime seller earnings
	Credit        string    `json:"credit"`        // buyer credit from refunds
	PendingIn     string    `json:"pendingIn"`     // open holds where user is seller
	PendingOut    string    `json:"pendingOut"`    // open holds where user is buyer
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Settlement describes how an order's escrowed amount was distributed.
type Settlement struct {
	OrderID     string `json:"orderId"`
	BuyerID     string `json:"buyerId"`
	SellerID    string `json:"sellerId"`
	Amount      string `json:"amount"`
	BuyerShare  string `json:"buyerShare"`
	SellerShare string `json:"sellerShare"`
}

// Store persists balances and holds. Settlement methods are atomic: the
// open-hold check, the hold close, and the balance credits happen in one
// transaction, so a second settlement of the same order always fails
// with ErrHoldNotOpen.
type Store interface {
	GetBalance(ctx context.Context, userID string) (*Balance, error)
	OpenHolds(ctx context.Context, orderID, buyerID, sellerID, amount string) error
	Release(ctx context.Context, orderID string) (*Settlement, error)
	Refund(ctx context.Context, orderID string) (*Settlement, error)
	Split(ctx context.Context, orderID, buyerShare string) (*Settlement, error)
	HoldsByOrder(ctx context.Context, orderID string) ([]*Hold, error)
	HoldsByUser(ctx context.Context, userID string, limit int) ([]*Hold, error)
	OpenHoldTotal(ctx context.Context, role Role) (string, error)
}

// Wallets manages user balances through a Store.
type Wallets struct {
	store Store
}

// New creates a wallet service.
func New(store Store) *Wallets {
	return &Wallets{store: store}
}

// GetBalance returns a user's balance with derived pending figures.
func (w *Wallets) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	return w.store.GetBalance(ctx, userID)
}

// OpenHolds opens the buyer and seller holds for a freshly paid order.
func (w *Wallets) OpenHolds(ctx context.Context, orderID, buyerID, sellerID, amount string) error {
	amt, ok := money.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return w.store.OpenHolds(ctx, orderID, buyerID, sellerID, amount)
}

// Release settles the full escrowed amount to the seller.
func (w *Wallets) Release(ctx context.Context, orderID string) (*Settlement, error) {
	return w.store.Release(ctx, orderID)
}

// Refund settles the full escrowed amount back to the buyer as credit.
func (w *Wallets) Refund(ctx context.Context, orderID string) (*Settlement, error) {
	return w.store.Refund(ctx, orderID)
}

// Split settles buyerShare to the buyer and the remainder to the seller.
func (w *Wallets) Split(ctx context.Context, orderID, buyerShare string) (*Settlement, error) {
	share, ok := money.Parse(buyerShare)
	if !ok || share.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return w.store.Split(ctx, orderID, buyerShare)
}

// HoldsByOrder returns both holds for an order.
func (w *Wallets) HoldsByOrder(ctx context.Context, orderID string) ([]*Hold, error) {
	return w.store.HoldsByOrder(ctx, orderID)
}

// HoldsByUser returns a user's holds, newest first.
func (w *Wallets) HoldsByUser(ctx context.Context, userID string, limit int) ([]*Hold, error) {
	if limit <= 0 {
		limit = 50
	}
	return w.store.HoldsByUser(ctx, userID, limit)
}

// splitShares computes the seller share for a split and checks bounds.
// Shared by both store implementations so the arithmetic cannot drift.
func splitShares(amount, buyerShare string) (string, error) {
	amt, ok := money.Parse(amount)
	if !ok {
		return "", ErrInvalidAmount
	}
	share, ok := money.Parse(buyerShare)
	if !ok || share.Sign() < 0 {
		return "", ErrInvalidAmount
	}
	if share.Cmp(amt) > 0 {
		return "", ErrShareTooLarge
	}
	return money.Format(new(big.Int).Sub(amt, share)), nil
}
