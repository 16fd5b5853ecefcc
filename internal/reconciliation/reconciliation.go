// Package reconciliation audits conservation of money across the platform.
//
// Two checks run on a timer: every settled order's ledger entries must sum
// to the order amount, and the open buyer holds must mirror the open seller
// holds. Drift means a settlement wrote money without its ledger entries
// (or wrote them twice) and needs an operator.
package reconciliation

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/mbande/biskato/internal/metrics"
	"github.com/mbande/biskato/internal/money"
)

// SettledOrder is the slice of an order that conservation checks need.
type SettledOrder struct {
	ID          string
	Amount      string
	BuyerShare  string
	SellerShare string
	Outcome     string
}

// OrderSource lists settled orders for auditing.
type OrderSource interface {
	ListSettledOrders(ctx context.Context, limit int) ([]SettledOrder, error)
}

// LedgerTotals reports the credited payout and refund sums per order.
type LedgerTotals interface {
	OrderTotals(ctx context.Context, orderID string) (payout, refund string, err error)
}

// HoldTotals reports the platform-wide open hold sums per role.
type HoldTotals interface {
	OpenHoldTotals(ctx context.Context) (buyer, seller string, err error)
}

// OrderMismatch is one settled order whose ledger entries do not add up.
type OrderMismatch struct {
	OrderID     string `json:"orderId"`
	Outcome     string `json:"outcome"`
	Amount      string `json:"amount"`
	LedgerTotal string `json:"ledgerTotal"`
	Diff        string `json:"diff"`
}

// Result holds the outcome of one reconciliation run.
type Result struct {
	CheckedOrders   int             `json:"checkedOrders"`
	Mismatches      []OrderMismatch `json:"mismatches"`
	HoldBuyerTotal  string          `json:"holdBuyerTotal"`
	HoldSellerTotal string          `json:"holdSellerTotal"`
	HoldsBalanced   bool            `json:"holdsBalanced"`
	TotalDrift      string          `json:"totalDrift"`
	RanAt           time.Time       `json:"ranAt"`
}

// Clean reports whether the run found no discrepancies.
func (r *Result) Clean() bool {
	return len(r.Mismatches) == 0 && r.HoldsBalanced
}

const defaultAuditBatch = 500

// Runner performs the conservation checks.
type Runner struct {
	orders OrderSource
	ledger LedgerTotals
	holds  HoldTotals
	batch  int
}

// NewRunner creates a reconciliation runner.
func NewRunner(orders OrderSource, ledger LedgerTotals, holds HoldTotals) *Runner {
	return &Runner{
		orders: orders,
		ledger: ledger,
		holds:  holds,
		batch:  defaultAuditBatch,
	}
}

// RunAll performs both checks and updates the drift gauge.
func (r *Runner) RunAll(ctx context.Context) (*Result, error) {
	result := &Result{RanAt: time.Now()}

	settled, err := r.orders.ListSettledOrders(ctx, r.batch)
	if err != nil {
		metrics.ReconciliationRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reconciliation: list settled orders: %w", err)
	}

	totalDrift := new(big.Int)
	for _, o := range settled {
		payoutStr, refundStr, err := r.ledger.OrderTotals(ctx, o.ID)
		if err != nil {
			metrics.ReconciliationRunsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("reconciliation: ledger totals for %s: %w", o.ID, err)
		}

		amount, ok := money.Parse(o.Amount)
		if !ok {
			continue
		}
		payout, _ := money.Parse(payoutStr)
		refund, _ := money.Parse(refundStr)
		if payout == nil {
			payout = new(big.Int)
		}
		if refund == nil {
			refund = new(big.Int)
		}

		ledgerTotal := new(big.Int).Add(payout, refund)
		diff := new(big.Int).Sub(amount, ledgerTotal)
		result.CheckedOrders++

		if diff.Sign() != 0 {
			result.Mismatches = append(result.Mismatches, OrderMismatch{
				OrderID:     o.ID,
				Outcome:     o.Outcome,
				Amount:      o.Amount,
				LedgerTotal: money.Format(ledgerTotal),
				Diff:        money.Format(diff),
			})
			totalDrift.Add(totalDrift, new(big.Int).Abs(diff))
		}
	}

	buyerStr, sellerStr, err := r.holds.OpenHoldTotals(ctx)
	if err != nil {
		metrics.ReconciliationRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reconciliation: open hold totals: %w", err)
	}
	result.HoldBuyerTotal = buyerStr
	result.HoldSellerTotal = sellerStr

	buyer, _ := money.Parse(buyerStr)
	seller, _ := money.Parse(sellerStr)
	if buyer != nil && seller != nil {
		holdDiff := new(big.Int).Sub(buyer, seller)
		result.HoldsBalanced = holdDiff.Sign() == 0
		if !result.HoldsBalanced {
			totalDrift.Add(totalDrift, new(big.Int).Abs(holdDiff))
		}
	}

	result.TotalDrift = money.Format(totalDrift)
	driftCentimos, _ := new(big.Float).SetInt(totalDrift).Float64()
	metrics.ReconciliationDrift.Set(driftCentimos)
	if result.Clean() {
		metrics.ReconciliationRunsTotal.WithLabelValues("clean").Inc()
	} else {
		metrics.ReconciliationRunsTotal.WithLabelValues("drift").Inc()
	}
	return result, nil
}
