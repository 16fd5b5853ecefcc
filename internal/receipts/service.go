package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbande/biskato/internal/idgen"
	"github.com/mbande/biskato/internal/money"
)

// Service implements receipt business logic.
type Service struct {
	store  Store
	signer *Signer
}

// NewService creates a new receipt service.
// If signer is nil, IssueReceipt is a no-op (signing disabled).
func NewService(store Store, signer *Signer) *Service {
	return &Service{
		store:  store,
		signer: signer,
	}
}

// IssueReceipt signs and persists a receipt. Nil-safe: returns nil if service or signer is nil.
func (s *Service) IssueReceipt(ctx context.Context, req IssueRequest) error {
	if s == nil || s.signer == nil {
		return nil
	}

	payload := receiptPayload{
		Amount:      req.Amount,
		BuyerID:     req.BuyerID,
		BuyerShare:  req.BuyerShare,
		Currency:    money.Currency,
		OrderID:     req.OrderID,
		Outcome:     string(req.Outcome),
		SellerID:    req.SellerID,
		SellerShare: req.SellerShare,
	}

	// Compute payload hash
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("receipts: failed to marshal payload: %w", err)
	}
	hash := sha256.Sum256(data)
	payloadHash := fmt.Sprintf("%x", hash)

	// Sign
	sig, issuedAtStr, expiresAtStr, err := s.signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("receipts: failed to sign: %w", err)
	}

	issuedAt, _ := time.Parse(time.RFC3339, issuedAtStr)
	expiresAt, _ := time.Parse(time.RFC3339, expiresAtStr)

	receipt := &Receipt{
		ID:          idgen.WithPrefix("rcpt_"),
		EventID:     req.EventID,
		OrderID:     req.OrderID,
		ListingID:   req.ListingID,
		BuyerID:     req.BuyerID,
		SellerID:    req.SellerID,
		Outcome:     req.Outcome,
		Amount:      req.Amount,
		BuyerShare:  req.BuyerShare,
		SellerShare: req.SellerShare,
		Currency:    money.Currency,
		PayloadHash: payloadHash,
		Signature:   sig,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}

	return s.store.Create(ctx, receipt)
}

// Get returns a receipt by ID.
func (s *Service) Get(ctx context.Context, id string) (*Receipt, error) {
	return s.store.Get(ctx, id)
}

// GetByOrder returns the settlement receipt for an order.
func (s *Service) GetByOrder(ctx context.Context, orderID string) (*Receipt, error) {
	return s.store.GetByOrder(ctx, orderID)
}

// ListByUser returns receipts where the user is either buyer or seller.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// Verify checks whether a receipt's signature is valid.
func (s *Service) Verify(ctx context.Context, receiptID string) (*VerifyResponse, error) {
	if s.signer == nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrSigningDisabled.Error(),
		}, nil
	}

	receipt, err := s.store.Get(ctx, receiptID)
	if err != nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrReceiptNotFound.Error(),
		}, nil
	}

	payload := receiptPayload{
		Amount:      receipt.Amount,
		BuyerID:     receipt.BuyerID,
		BuyerShare:  receipt.BuyerShare,
		Currency:    receipt.Currency,
		OrderID:     receipt.OrderID,
		Outcome:     string(receipt.Outcome),
		SellerID:    receipt.SellerID,
		SellerShare: receipt.SellerShare,
	}

	valid := s.signer.Verify(payload, receipt.Signature)

	resp := &VerifyResponse{
		Valid:     valid,
		ReceiptID: receiptID,
	}

	if valid && time.Now().After(receipt.ExpiresAt) {
		resp.Expired = true
	}

	if !valid {
		resp.Error = "signature verification failed"
	}

	return resp, nil
}
