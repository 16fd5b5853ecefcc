package server

import (
	"context"
	"errors"

	"github.com/mbande/biskato/internal/listings"
	"github.com/mbande/biskato/internal/orders"
	"github.com/mbande/biskato/internal/outbox"
	"github.com/mbande/biskato/internal/reconciliation"
	"github.com/mbande/biskato/internal/wallet"
)

// walletSettler adapts wallet.Wallets to orders.Settler. The settlement
// details the wallet returns are recomputed by the orders service, so the
// adapter drops them.
type walletSettler struct {
	w *wallet.Wallets
}

func (a *walletSettler) OpenHolds(ctx context.Context, orderID, buyerID, sellerID, amount string) error {
	return a.w.OpenHolds(ctx, orderID, buyerID, sellerID, amount)
}

func (a *walletSettler) Release(ctx context.Context, orderID string) error {
	_, err := a.w.Release(ctx, orderID)
	return err
}

func (a *walletSettler) Refund(ctx context.Context, orderID string) error {
	_, err := a.w.Refund(ctx, orderID)
	return err
}

func (a *walletSettler) Split(ctx context.Context, orderID, buyerShare string) error {
	_, err := a.w.Split(ctx, orderID, buyerShare)
	return err
}

// outboxSink adapts the outbox to orders.EventSink.
type outboxSink struct {
	ob *outbox.Outbox
}

func (a *outboxSink) Append(ctx context.Context, ev orders.Event) error {
	return a.ob.Record(ctx, ev.Kind, outbox.Payload{
		OrderID:     ev.OrderID,
		ListingID:   ev.ListingID,
		BuyerID:     ev.BuyerID,
		SellerID:    ev.SellerID,
		Amount:      ev.Amount,
		BuyerShare:  ev.BuyerShare,
		SellerShare: ev.SellerShare,
		Reason:      ev.Reason,
		Decision:    ev.Decision,
		Stars:       ev.Stars,
	})
}

// listingsCatalog adapts listings.Service to orders.Catalog.
type listingsCatalog struct {
	svc *listings.Service
}

func (a *listingsCatalog) Lookup(ctx context.Context, listingID string) (string, string, bool, error) {
	lst, err := a.svc.Get(ctx, listingID)
	if err != nil {
		if errors.Is(err, listings.ErrListingNotFound) {
			return "", "", false, orders.ErrOrderNotFound
		}
		return "", "", false, err
	}
	return lst.SellerID, lst.Price, lst.Active, nil
}

func (a *listingsCatalog) ApplyRating(ctx context.Context, listingID string, stars int) error {
	return a.svc.ApplyRating(ctx, listingID, stars)
}

// settledOrderSource adapts orders.Store to reconciliation.OrderSource.
type settledOrderSource struct {
	store orders.Store
}

func (a *settledOrderSource) ListSettledOrders(ctx context.Context, limit int) ([]reconciliation.SettledOrder, error) {
	settled, err := a.store.ListSettled(ctx, limit)
	if err != nil {
		return nil, err
	}
	result := make([]reconciliation.SettledOrder, 0, len(settled))
	for _, o := range settled {
		result = append(result, reconciliation.SettledOrder{
			ID:          o.ID,
			Amount:      o.Amount,
			BuyerShare:  o.BuyerShare,
			SellerShare: o.SellerShare,
			Outcome:     string(o.Outcome),
		})
	}
	return result, nil
}

// holdTotalsSource adapts wallet.Store to reconciliation.HoldTotals.
type holdTotalsSource struct {
	store wallet.Store
}

func (a *holdTotalsSource) OpenHoldTotals(ctx context.Context) (string, string, error) {
	buyer, err := a.store.OpenHoldTotal(ctx, wallet.RoleBuyer)
	if err != nil {
		return "", "", err
	}
	seller, err := a.store.OpenHoldTotal(ctx, wallet.RoleSeller)
	if err != nil {
		return "", "", err
	}
	return buyer, seller, nil
}
