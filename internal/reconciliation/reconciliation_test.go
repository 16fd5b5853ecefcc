package reconciliation

import (
	"context"
	"errors"
	"testing"
)

type mockOrders struct {
	settled []SettledOrder
	err     error
}

func (m *mockOrders) ListSettledOrders(_ context.Context, _ int) ([]SettledOrder, error) {
	return m.settled, m.err
}

type mockLedger struct {
	// orderID -> [payout, refund]
	totals map[string][2]string
}

func (m *mockLedger) OrderTotals(_ context.Context, orderID string) (string, string, error) {
	t, ok := m.totals[orderID]
	if !ok {
		return "0.00", "0.00", nil
	}
	return t[0], t[1], nil
}

type mockHolds struct {
	buyer, seller string
	err           error
}

func (m *mockHolds) OpenHoldTotals(_ context.Context) (string, string, error) {
	return m.buyer, m.seller, m.err
}

func balancedHolds() *mockHolds {
	return &mockHolds{buyer: "3000.00", seller: "3000.00"}
}

func TestRunAll_Clean(t *testing.T) {
	orders := &mockOrders{settled: []SettledOrder{
		{ID: "ord_1", Amount: "5000.00", Outcome: "released"},
		{ID: "ord_2", Amount: "8000.00", Outcome: "split", BuyerShare: "3000.00", SellerShare: "5000.00"},
	}}
	ledger := &mockLedger{totals: map[string][2]string{
		"ord_1": {"5000.00", "0.00"},
		"ord_2": {"5000.00", "3000.00"},
	}}

	runner := NewRunner(orders, ledger, balancedHolds())
	result, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	if !result.Clean() {
		t.Errorf("expected clean run, got %+v", result)
	}
	if result.CheckedOrders != 2 {
		t.Errorf("expected 2 checked orders, got %d", result.CheckedOrders)
	}
	if result.TotalDrift != "0.00" {
		t.Errorf("expected zero drift, got %s", result.TotalDrift)
	}
}

func TestRunAll_MissingLedgerEntries(t *testing.T) {
	orders := &mockOrders{settled: []SettledOrder{
		{ID: "ord_1", Amount: "5000.00", Outcome: "released"},
	}}
	ledger := &mockLedger{totals: map[string][2]string{}}

	runner := NewRunner(orders, ledger, balancedHolds())
	result, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	if result.Clean() {
		t.Fatal("expected drift for order with no ledger entries")
	}
	if len(result.Mismatches) != 1 {
		t.Fatalf("expected 1 mismatch, got %d", len(result.Mismatches))
	}
	m := result.Mismatches[0]
	if m.OrderID != "ord_1" || m.Diff != "5000.00" {
		t.Errorf("unexpected mismatch: %+v", m)
	}
	if result.TotalDrift != "5000.00" {
		t.Errorf("expected drift 5000.00, got %s", result.TotalDrift)
	}
}

func TestRunAll_DoubleWrittenLedger(t *testing.T) {
	orders := &mockOrders{settled: []SettledOrder{
		{ID: "ord_1", Amount: "5000.00", Outcome: "released"},
	}}
	ledger := &mockLedger{totals: map[string][2]string{
		"ord_1": {"10000.00", "0.00"},
	}}

	runner := NewRunner(orders, ledger, balancedHolds())
	result, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	if len(result.Mismatches) != 1 {
		t.Fatalf("expected 1 mismatch, got %d", len(result.Mismatches))
	}
	if result.Mismatches[0].Diff != "-5000.00" {
		t.Errorf("expected diff -5000.00, got %s", result.Mismatches[0].Diff)
	}
}

func TestRunAll_UnbalancedHolds(t *testing.T) {
	orders := &mockOrders{}
	ledger := &mockLedger{}
	holds := &mockHolds{buyer: "3000.00", seller: "2500.00"}

	runner := NewRunner(orders, ledger, holds)
	result, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	if result.HoldsBalanced {
		t.Error("expected unbalanced holds")
	}
	if result.Clean() {
		t.Error("unbalanced holds must not count as clean")
	}
	if result.TotalDrift != "500.00" {
		t.Errorf("expected drift 500.00, got %s", result.TotalDrift)
	}
}

func TestRunAll_OrderSourceError(t *testing.T) {
	orders := &mockOrders{err: errors.New("db down")}
	runner := NewRunner(orders, &mockLedger{}, balancedHolds())

	if _, err := runner.RunAll(context.Background()); err == nil {
		t.Fatal("expected error from order source")
	}
}

func TestRunAll_HoldSourceError(t *testing.T) {
	holds := &mockHolds{err: errors.New("db down")}
	runner := NewRunner(&mockOrders{}, &mockLedger{}, holds)

	if _, err := runner.RunAll(context.Background()); err == nil {
		t.Fatal("expected error from hold source")
	}
}
