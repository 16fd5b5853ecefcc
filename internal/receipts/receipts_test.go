package receipts

import (
	"context"
	"testing"
	"time"
)

const (
	testBuyer  = "usr_buyer_1"
	testSeller = "usr_seller_1"
	testSecret = "test-hmac-secret-for-receipts"
)

func newTestService() *Service {
	return NewService(NewMemoryStore(), NewSigner(testSecret))
}

func issueTestReceipt(t *testing.T, svc *Service, eventID, orderID string, outcome Outcome) {
	t.Helper()
	err := svc.IssueReceipt(context.Background(), IssueRequest{
		EventID:     eventID,
		OrderID:     orderID,
		ListingID:   "lst_logo_design",
		BuyerID:     testBuyer,
		SellerID:    testSeller,
		Outcome:     outcome,
		Amount:      "15000.00",
		BuyerShare:  "0.00",
		SellerShare: "15000.00",
	})
	if err != nil {
		t.Fatalf("IssueReceipt failed: %v", err)
	}
}

func TestIssueReceipt_Success(t *testing.T) {
	svc := newTestService()
	issueTestReceipt(t, svc, "evt_1", "ord_123", OutcomeReleased)

	// Verify receipt was persisted
	receipts, err := svc.ListByUser(context.Background(), testBuyer, 10)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(receipts) != 1 {
		t.Fatalf("expected 1 receipt, got %d", len(receipts))
	}

	r := receipts[0]
	if r.Outcome != OutcomeReleased {
		t.Errorf("expected outcome released, got %s", r.Outcome)
	}
	if r.OrderID != "ord_123" {
		t.Errorf("expected order ord_123, got %s", r.OrderID)
	}
	if r.Amount != "15000.00" {
		t.Errorf("expected amount 15000.00, got %s", r.Amount)
	}
	if r.Currency != "Kz" {
		t.Errorf("expected currency Kz, got %s", r.Currency)
	}
	if r.Signature == "" {
		t.Error("expected non-empty signature")
	}
	if r.PayloadHash == "" {
		t.Error("expected non-empty payload hash")
	}
	if r.IssuedAt.IsZero() {
		t.Error("expected non-zero issuedAt")
	}
	// Should expire ~30 days from now
	expectedExpiry := time.Now().Add(30 * 24 * time.Hour)
	if r.ExpiresAt.Before(expectedExpiry.Add(-time.Minute)) {
		t.Errorf("expiresAt too early: %v", r.ExpiresAt)
	}
}

func TestIssueReceipt_IdempotentOnEvent(t *testing.T) {
	svc := newTestService()

	issueTestReceipt(t, svc, "evt_dup", "ord_123", OutcomeReleased)
	// Redelivered outbox event issues again with the same event ID
	issueTestReceipt(t, svc, "evt_dup", "ord_123", OutcomeReleased)

	receipts, _ := svc.ListByUser(context.Background(), testBuyer, 10)
	if len(receipts) != 1 {
		t.Errorf("expected 1 receipt after redelivery, got %d", len(receipts))
	}
}

func TestIssueReceipt_NilSigner(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil) // no signer

	err := svc.IssueReceipt(context.Background(), IssueRequest{
		EventID: "evt_1", OrderID: "ord_1",
		BuyerID: testBuyer, SellerID: testSeller,
		Outcome: OutcomeReleased,
		Amount:  "100.00", BuyerShare: "0.00", SellerShare: "100.00",
	})
	if err != nil {
		t.Fatalf("expected nil error for nil signer, got %v", err)
	}

	// No receipt should be stored
	receipts, _ := svc.ListByUser(context.Background(), testBuyer, 10)
	if len(receipts) != 0 {
		t.Errorf("expected 0 receipts with nil signer, got %d", len(receipts))
	}
}

func TestIssueReceipt_NilService(t *testing.T) {
	var svc *Service
	err := svc.IssueReceipt(context.Background(), IssueRequest{
		EventID: "evt_1", OrderID: "ord_1",
		BuyerID: testBuyer, SellerID: testSeller,
		Outcome: OutcomeReleased, Amount: "100.00",
	})
	if err != nil {
		t.Fatalf("expected nil error for nil service, got %v", err)
	}
}

func TestVerify_Valid(t *testing.T) {
	svc := newTestService()
	issueTestReceipt(t, svc, "evt_1", "ord_abc", OutcomeSplit)

	receipts, _ := svc.ListByUser(context.Background(), testBuyer, 10)
	if len(receipts) == 0 {
		t.Fatal("no receipts found")
	}

	resp, err := svc.Verify(context.Background(), receipts[0].ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !resp.Valid {
		t.Errorf("expected valid receipt, got invalid: %s", resp.Error)
	}
	if resp.Expired {
		t.Error("expected not expired")
	}
}

func TestVerify_InvalidSignature(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, NewSigner(testSecret))

	issueTestReceipt(t, svc, "evt_1", "ord_123", OutcomeReleased)

	receipts, _ := svc.ListByUser(context.Background(), testBuyer, 10)
	if len(receipts) == 0 {
		t.Fatal("no receipts found")
	}

	// Tamper with the signature in the store
	r := receipts[0]
	r.Signature = "deadbeef"
	store.mu.Lock()
	store.receipts[r.ID] = r
	store.mu.Unlock()

	resp, err := svc.Verify(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if resp.Valid {
		t.Error("expected invalid for tampered signature")
	}
}

func TestVerify_NotFound(t *testing.T) {
	svc := newTestService()

	resp, err := svc.Verify(context.Background(), "nonexistent_id")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if resp.Valid {
		t.Error("expected invalid for not-found receipt")
	}
	if resp.Error != ErrReceiptNotFound.Error() {
		t.Errorf("expected not_found error, got %s", resp.Error)
	}
}

func TestVerify_SigningDisabled(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)

	resp, err := svc.Verify(context.Background(), "any_id")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if resp.Valid {
		t.Error("expected invalid when signing disabled")
	}
	if resp.Error != ErrSigningDisabled.Error() {
		t.Errorf("expected signing_disabled error, got %s", resp.Error)
	}
}

func TestListByUser_BothSides(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	// Receipt where the user bought
	_ = svc.IssueReceipt(ctx, IssueRequest{
		EventID: "evt_1", OrderID: "ord_1",
		BuyerID: testBuyer, SellerID: testSeller,
		Outcome: OutcomeReleased,
		Amount:  "100.00", BuyerShare: "0.00", SellerShare: "100.00",
	})

	// Receipt where the same user sold
	_ = svc.IssueReceipt(ctx, IssueRequest{
		EventID: "evt_2", OrderID: "ord_2",
		BuyerID: testSeller, SellerID: testBuyer,
		Outcome: OutcomeRefunded,
		Amount:  "200.00", BuyerShare: "200.00", SellerShare: "0.00",
	})

	receipts, err := svc.ListByUser(ctx, testBuyer, 10)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(receipts) != 2 {
		t.Errorf("expected 2 receipts for user (as buyer and seller), got %d", len(receipts))
	}
}

func TestGetByOrder(t *testing.T) {
	svc := newTestService()
	issueTestReceipt(t, svc, "evt_1", "ord_find_me", OutcomeReleased)

	r, err := svc.GetByOrder(context.Background(), "ord_find_me")
	if err != nil {
		t.Fatalf("GetByOrder failed: %v", err)
	}
	if r.OrderID != "ord_find_me" {
		t.Errorf("unexpected order id %s", r.OrderID)
	}

	if _, err := svc.GetByOrder(context.Background(), "ord_missing"); err != ErrReceiptNotFound {
		t.Errorf("expected ErrReceiptNotFound, got %v", err)
	}
}

func TestListByUser_Limit(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = svc.IssueReceipt(ctx, IssueRequest{
			EventID: "evt_" + string(rune('a'+i)), OrderID: "ord_x",
			BuyerID: testBuyer, SellerID: testSeller,
			Outcome: OutcomeReleased,
			Amount:  "10.00", BuyerShare: "0.00", SellerShare: "10.00",
		})
	}

	receipts, err := svc.ListByUser(ctx, testBuyer, 3)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(receipts) != 3 {
		t.Errorf("expected 3 receipts (limited), got %d", len(receipts))
	}
}

func TestSigner_SignAndVerify(t *testing.T) {
	s := NewSigner(testSecret)

	payload := map[string]string{"key": "value"}
	sig, issuedAt, expiresAt, err := s.Sign(payload)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if sig == "" || issuedAt == "" || expiresAt == "" {
		t.Fatal("expected non-empty signature, issuedAt, expiresAt")
	}

	if !s.Verify(payload, sig) {
		t.Error("expected Verify to return true for valid signature")
	}

	if s.Verify(payload, "wrong_signature") {
		t.Error("expected Verify to return false for wrong signature")
	}

	// Tampered payload
	if s.Verify(map[string]string{"key": "tampered"}, sig) {
		t.Error("expected Verify to return false for tampered payload")
	}
}

func TestSigner_Nil(t *testing.T) {
	s := NewSigner("")
	if s != nil {
		t.Error("expected nil signer for empty secret")
	}

	sig, _, _, err := s.Sign(map[string]string{"key": "value"})
	if err != nil {
		t.Errorf("expected nil error for nil signer, got %v", err)
	}
	if sig != "" {
		t.Error("expected empty signature for nil signer")
	}

	if s.Verify(map[string]string{"key": "value"}, "anything") {
		t.Error("expected Verify to return false for nil signer")
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := newTestService()

	_, err := svc.Get(context.Background(), "nonexistent")
	if err != ErrReceiptNotFound {
		t.Errorf("expected ErrReceiptNotFound, got %v", err)
	}
}

func TestAllOutcomes(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	outcomes := []Outcome{OutcomeReleased, OutcomeRefunded, OutcomeSplit}
	for i, outcome := range outcomes {
		err := svc.IssueReceipt(ctx, IssueRequest{
			EventID: "evt_" + string(rune('a'+i)), OrderID: "ord_" + string(outcome),
			BuyerID: testBuyer, SellerID: testSeller,
			Outcome: outcome,
			Amount:  "50.00", BuyerShare: "25.00", SellerShare: "25.00",
		})
		if err != nil {
			t.Errorf("IssueReceipt failed for outcome %s: %v", outcome, err)
		}
	}

	receipts, _ := svc.ListByUser(ctx, testBuyer, 10)
	if len(receipts) != 3 {
		t.Errorf("expected 3 receipts (one per outcome), got %d", len(receipts))
	}
}
