package server

import (
	"context"
	"fmt"

	"github.com/mbande/biskato/internal/ledger"
	"github.com/mbande/biskato/internal/money"
	"github.com/mbande/biskato/internal/notify"
	"github.com/mbande/biskato/internal/outbox"
	"github.com/mbande/biskato/internal/receipts"
)

// -----------------------------------------------------------------------------
// Outbox consumers
//
// Each consumer is idempotent keyed by the event ID: the ledger store
// dedupes on (eventID, userID, kind), the receipt store on eventID, the
// notification store on (eventID, userID). The relay may deliver an event
// to all of them more than once.
// -----------------------------------------------------------------------------

// ledgerWriter records ledger entries for settlement events.
type ledgerWriter struct {
	ledger *ledger.Ledger
}

func (c *ledgerWriter) Name() string { return "ledger" }

func (c *ledgerWriter) Handle(ctx context.Context, ev *outbox.Event) error {
	p := ev.Payload
	var entries []*ledger.Entry

	switch ev.Kind {
	case outbox.KindOrderReleased:
		entries = []*ledger.Entry{
			{
				EventID: ev.ID, UserID: p.SellerID, Kind: ledger.KindServicePayout,
				Amount: p.Amount, OrderID: p.OrderID, ListingID: p.ListingID,
				CounterpartyID: p.BuyerID, Description: "payment released",
			},
			{
				EventID: ev.ID, UserID: p.BuyerID, Kind: ledger.KindEscrowRelease,
				Amount: p.Amount, OrderID: p.OrderID, ListingID: p.ListingID,
				CounterpartyID: p.SellerID, Description: "escrow released to seller",
			},
		}
	case outbox.KindOrderRefunded:
		entries = []*ledger.Entry{
			{
				EventID: ev.ID, UserID: p.BuyerID, Kind: ledger.KindRefund,
				Amount: p.Amount, OrderID: p.OrderID, ListingID: p.ListingID,
				CounterpartyID: p.SellerID, Description: "order refunded",
			},
		}
	case outbox.KindOrderSplit:
		entries = []*ledger.Entry{
			{
				EventID: ev.ID, UserID: p.SellerID, Kind: ledger.KindServicePayout,
				Amount: p.SellerShare, OrderID: p.OrderID, ListingID: p.ListingID,
				CounterpartyID: p.BuyerID, Description: "partial payout",
			},
			{
				EventID: ev.ID, UserID: p.BuyerID, Kind: ledger.KindRefund,
				Amount: p.BuyerShare, OrderID: p.OrderID, ListingID: p.ListingID,
				CounterpartyID: p.SellerID, Description: "partial refund",
			},
		}
	default:
		// Dispute and rating events carry no money
		return nil
	}

	return c.ledger.Record(ctx, entries...)
}

// receiptIssuer signs a receipt for each settlement event.
type receiptIssuer struct {
	receipts *receipts.Service
}

func (c *receiptIssuer) Name() string { return "receipts" }

func (c *receiptIssuer) Handle(ctx context.Context, ev *outbox.Event) error {
	var outcome receipts.Outcome
	switch ev.Kind {
	case outbox.KindOrderReleased:
		outcome = receipts.OutcomeReleased
	case outbox.KindOrderRefunded:
		outcome = receipts.OutcomeRefunded
	case outbox.KindOrderSplit:
		outcome = receipts.OutcomeSplit
	default:
		return nil
	}

	p := ev.Payload
	return c.receipts.IssueReceipt(ctx, receipts.IssueRequest{
		EventID:     ev.ID,
		OrderID:     p.OrderID,
		ListingID:   p.ListingID,
		BuyerID:     p.BuyerID,
		SellerID:    p.SellerID,
		Outcome:     outcome,
		Amount:      p.Amount,
		BuyerShare:  p.BuyerShare,
		SellerShare: p.SellerShare,
	})
}

// notifier turns events into in-app notifications for both parties.
type notifier struct {
	notify *notify.Service
}

func (c *notifier) Name() string { return "notifier" }

func (c *notifier) Handle(ctx context.Context, ev *outbox.Event) error {
	p := ev.Payload
	var buyerMsg, sellerMsg string

	switch ev.Kind {
	case outbox.KindOrderReleased:
		buyerMsg = fmt.Sprintf("Payment of %s %s was released to the seller.", money.Currency, p.Amount)
		sellerMsg = fmt.Sprintf("You received %s %s for order %s.", money.Currency, p.Amount, p.OrderID)
	case outbox.KindOrderRefunded:
		buyerMsg = fmt.Sprintf("You were refunded %s %s.", money.Currency, p.Amount)
		sellerMsg = fmt.Sprintf("Order %s was refunded to the buyer.", p.OrderID)
	case outbox.KindOrderSplit:
		buyerMsg = fmt.Sprintf("You were refunded %s %s of the order amount.", money.Currency, p.BuyerShare)
		sellerMsg = fmt.Sprintf("You received %s %s of the order amount.", money.Currency, p.SellerShare)
	case outbox.KindOrderDisputed:
		buyerMsg = fmt.Sprintf("A dispute was opened on order %s (%s).", p.OrderID, p.Reason)
		sellerMsg = buyerMsg
	case outbox.KindOrderDisputeResolved:
		buyerMsg = fmt.Sprintf("The dispute on order %s was resolved: %s.", p.OrderID, p.Decision)
		sellerMsg = buyerMsg
	case outbox.KindOrderRated:
		sellerMsg = fmt.Sprintf("Your work on order %s was rated %d stars.", p.OrderID, p.Stars)
	default:
		return nil
	}

	if buyerMsg != "" {
		err := c.notify.Notify(ctx, &notify.Notification{
			EventID: ev.ID,
			UserID:  p.BuyerID,
			Kind:    ev.Kind,
			OrderID: p.OrderID,
			Title:   notificationTitle(ev.Kind),
			Body:    buyerMsg,
		})
		if err != nil {
			return err
		}
	}
	if sellerMsg != "" {
		err := c.notify.Notify(ctx, &notify.Notification{
			EventID: ev.ID,
			UserID:  p.SellerID,
			Kind:    ev.Kind,
			OrderID: p.OrderID,
			Title:   notificationTitle(ev.Kind),
			Body:    sellerMsg,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func notificationTitle(kind string) string {
	switch kind {
	case outbox.KindOrderReleased:
		return "Payment released"
	case outbox.KindOrderRefunded:
		return "Order refunded"
	case outbox.KindOrderSplit:
		return "Order settled"
	case outbox.KindOrderDisputed:
		return "Dispute opened"
	case outbox.KindOrderDisputeResolved:
		return "Dispute resolved"
	case outbox.KindOrderRated:
		return "New rating"
	default:
		return "Order update"
	}
}
