// Package receipts provides cryptographic receipt signing for settlements.
//
// Every settled order (release, refund, partial split) produces a signed
// receipt that buyers and sellers can independently verify.
package receipts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrReceiptNotFound = errors.New("receipts: not found")
	ErrSigningDisabled = errors.New("receipts: signing disabled (no HMAC secret configured)")
)

// Outcome identifies how the order's escrow was settled.
type Outcome string

const (
	OutcomeReleased Outcome = "released"
	OutcomeRefunded Outcome = "refunded"
	OutcomeSplit    Outcome = "split"
)

// Receipt is a cryptographically signed proof that the platform settled
// an order's escrow.
type Receipt struct {
	ID          string    `json:"id"`
	EventID     string    `json:"eventId"`
	OrderID     string    `json:"orderId"`
	ListingID   string    `json:"listingId,omitempty"`
	BuyerID     string    `json:"buyerId"`
	SellerID    string    `json:"sellerId"`
	Outcome     Outcome   `json:"outcome"`
	Amount      string    `json:"amount"`
	BuyerShare  string    `json:"buyerShare"`
	SellerShare string    `json:"sellerShare"`
	Currency    string    `json:"currency"`
	PayloadHash string    `json:"payloadHash"` // SHA-256 of canonical payload
	Signature   string    `json:"signature"`   // HMAC-SHA256 signature
	IssuedAt    time.Time `json:"issuedAt"`    // when the receipt was signed
	ExpiresAt   time.Time `json:"expiresAt"`   // when the signature expires
	CreatedAt   time.Time `json:"createdAt"`
}

// IssueRequest is the input for creating a receipt.
type IssueRequest struct {
	EventID     string
	OrderID     string
	ListingID   string
	BuyerID     string
	SellerID    string
	Outcome     Outcome
	Amount      string
	BuyerShare  string
	SellerShare string
}

// VerifyRequest is the input for verifying a receipt signature.
type VerifyRequest struct {
	ReceiptID string `json:"receiptId" binding:"required"`
}

// VerifyResponse is the result of receipt verification.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	ReceiptID string `json:"receiptId"`
	Expired   bool   `json:"expired,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Store persists receipt data. Create must be idempotent on EventID.
type Store interface {
	Create(ctx context.Context, receipt *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	GetByOrder(ctx context.Context, orderID string) (*Receipt, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Receipt, error)
}

// receiptPayload is the canonical struct signed by HMAC.
// Field order must be deterministic (JSON marshalling of struct is by field order).
type receiptPayload struct {
	Amount      string `json:"amount"`
	BuyerID     string `json:"buyerId"`
	BuyerShare  string `json:"buyerShare"`
	Currency    string `json:"currency"`
	OrderID     string `json:"orderId"`
	Outcome     string `json:"outcome"`
	SellerID    string `json:"sellerId"`
	SellerShare string `json:"sellerShare"`
}
