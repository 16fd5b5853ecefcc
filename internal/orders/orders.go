// Package orders implements the escrow order state machine.
//
// Flow:
//  1. Buyer places an order against a listing → pending
//  2. Payment gateway confirms → holds open for both parties → paid
//  3. Seller signals delivery, buyer confirms → escrow released → delivered
//  4. Admin can release, refund or split; either party can dispute
//  5. Inactivity sweep auto-releases delivered work the buyer ignored
package orders

import (
	"context"
	"errors"
	"log"
	"math/big"
	"time"

	"github.com/mbande/biskato/internal/idgen"
	"github.com/mbande/biskato/internal/metrics"
	"github.com/mbande/biskato/internal/money"
	"github.com/mbande/biskato/internal/syncutil"
	"github.com/mbande/biskato/internal/traces"
)

var (
	ErrOrderNotFound    = errors.New("orders: order not found")
	ErrInvalidStatus    = errors.New("orders: invalid order status for this operation")
	ErrUnauthorized     = errors.New("orders: caller not authorized for this operation")
	ErrListingInactive  = errors.New("orders: listing is not active")
	ErrSelfPurchase     = errors.New("orders: buyer cannot order their own listing")
	ErrAmountOutOfRange = errors.New("orders: amount outside allowed bounds")
	ErrDisputeOpen      = errors.New("orders: order has an open dispute")
	ErrDisputeExists    = errors.New("orders: dispute already opened for this order")
	ErrNoDispute        = errors.New("orders: no open dispute on this order")
	ErrDisputeResolved  = errors.New("orders: dispute already resolved")
	ErrInvalidReason    = errors.New("orders: unknown dispute reason")
	ErrInvalidDecision  = errors.New("orders: unknown dispute decision")
	ErrInvalidShare     = errors.New("orders: buyer share must be between 0 and the order amount")
	ErrInvalidStars     = errors.New("orders: stars must be between 1 and 5")
	ErrNotRateable      = errors.New("orders: only delivered orders can be rated")
	ErrEvidenceLimit    = errors.New("orders: evidence limit reached for this dispute")
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"   // placed, awaiting payment
	StatusPaid      Status = "paid"      // funds held in escrow
	StatusDelivered Status = "delivered" // settled in the seller's favor (full or split)
	StatusCancelled Status = "cancelled" // cancelled before payment, or fully refunded
)

// Outcome records how escrowed funds were distributed.
type Outcome string

const (
	OutcomeReleased Outcome = "released"
	OutcomeRefunded Outcome = "refunded"
	OutcomeSplit    Outcome = "split"
)

// DisputeStatus is the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// Decision is an admin ruling on a dispute.
type Decision string

const (
	DecisionPaySeller     Decision = "pay_seller"
	DecisionRefundBuyer   Decision = "refund_buyer"
	DecisionPartialRefund Decision = "partial_refund"
)

// Dispute reasons form a closed taxonomy.
var KnownDisputeReasons = []string{
	"work_not_delivered",
	"work_not_as_described",
	"work_incomplete",
	"seller_unresponsive",
	"buyer_unresponsive",
	"other",
}

func IsKnownDisputeReason(r string) bool {
	for _, known := range KnownDisputeReasons {
		if known == r {
			return true
		}
	}
	return false
}

// maxEvidenceEntries caps evidence per dispute.
const maxEvidenceEntries = 25

// Evidence is a single submission attached to a dispute.
type Evidence struct {
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	FileURL   string    `json:"fileUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Dispute is the dispute sub-record on an order.
type Dispute struct {
	ID         string        `json:"id"`
	Status     DisputeStatus `json:"status"`
	OpenedBy   string        `json:"openedBy"`
	Reason     string        `json:"reason"`
	Details    string        `json:"details,omitempty"`
	Evidence   []Evidence    `json:"evidence,omitempty"`
	Decision   Decision      `json:"decision,omitempty"`
	Notes      string        `json:"notes,omitempty"`
	OpenedAt   time.Time     `json:"openedAt"`
	ResolvedAt *time.Time    `json:"resolvedAt,omitempty"`
}

// Rating is the buyer's review of a delivered order.
type Rating struct {
	Stars   int       `json:"stars"`
	Comment string    `json:"comment,omitempty"`
	RatedAt time.Time `json:"ratedAt"`
}

// Order is an escrowed purchase of a listing.
type Order struct {
	ID           string  `json:"id"`
	ListingID    string  `json:"listingId"`
	BuyerID      string  `json:"buyerId"`
	SellerID     string  `json:"sellerId"`
	Amount       string  `json:"amount"`
	Currency     string  `json:"currency"`
	Status       Status  `json:"status"`
	Requirements string  `json:"requirements,omitempty"`
	Outcome      Outcome `json:"outcome,omitempty"`
	Resolution   string  `json:"resolution,omitempty"`
	BuyerShare   string  `json:"buyerShare,omitempty"`
	SellerShare  string  `json:"sellerShare,omitempty"`

	Dispute *Dispute `json:"dispute,omitempty"`
	Rating  *Rating  `json:"rating,omitempty"`

	SellerDeliveredAt *time.Time `json:"sellerDeliveredAt,omitempty"`
	PaidAt            *time.Time `json:"paidAt,omitempty"`
	SettledAt         *time.Time `json:"settledAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the order is in a final state.
func (o *Order) IsTerminal() bool {
	return o.Status == StatusDelivered || o.Status == StatusCancelled
}

// HasOpenDispute returns true if a dispute is open on the order.
func (o *Order) HasOpenDispute() bool {
	return o.Dispute != nil && o.Dispute.Status == DisputeOpen
}

// Store persists order data. Update is a compare-and-set: it only applies
// when the stored status matches prev, so settlement gates are re-checked
// at the persistence layer.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order, prev Status) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error)
	ListAutoReleasable(ctx context.Context, deliveredBefore time.Time, limit int) ([]*Order, error)
	ListSettled(ctx context.Context, limit int) ([]*Order, error)
}

// Settler abstracts the wallet's atomic settlement operations so orders
// doesn't import wallet. The wallet enforces no-double-settlement: a second
// call for the same order fails inside its transaction.
type Settler interface {
	OpenHolds(ctx context.Context, orderID, buyerID, sellerID, amount string) error
	Release(ctx context.Context, orderID string) error
	Refund(ctx context.Context, orderID string) error
	Split(ctx context.Context, orderID, buyerShare string) error
}

// Event is a settlement fact recorded for asynchronous delivery.
type Event struct {
	Kind        string `json:"kind"`
	OrderID     string `json:"orderId"`
	ListingID   string `json:"listingId,omitempty"`
	BuyerID     string `json:"buyerId"`
	SellerID    string `json:"sellerId"`
	Amount      string `json:"amount,omitempty"`
	BuyerShare  string `json:"buyerShare,omitempty"`
	SellerShare string `json:"sellerShare,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Decision    string `json:"decision,omitempty"`
	Stars       int    `json:"stars,omitempty"`
}

// EventSink records events for the relay worker so orders doesn't import
// outbox. Append failures never roll back money movement.
type EventSink interface {
	Append(ctx context.Context, ev Event) error
}

// Catalog abstracts listing lookups and the rating aggregate.
type Catalog interface {
	Lookup(ctx context.Context, listingID string) (sellerID, price string, active bool, err error)
	ApplyRating(ctx context.Context, listingID string, stars int) error
}

// PlaceRequest contains the parameters for placing an order.
type PlaceRequest struct {
	ListingID    string `json:"listingId" binding:"required"`
	Requirements string `json:"requirements"`
}

// DisputeRequest contains the parameters for opening a dispute.
type DisputeRequest struct {
	Reason  string `json:"reason" binding:"required"`
	Details string `json:"details"`
}

// EvidenceRequest contains the parameters for submitting evidence.
type EvidenceRequest struct {
	Text    string `json:"text" binding:"required"`
	FileURL string `json:"fileUrl"`
}

// ResolveRequest contains the parameters for resolving a dispute.
type ResolveRequest struct {
	Decision   Decision `json:"decision" binding:"required"`
	BuyerShare string   `json:"buyerShare"`
	Notes      string   `json:"notes"`
}

// SettleRequest contains the parameters for a partial settlement.
type SettleRequest struct {
	BuyerShare string `json:"buyerShare" binding:"required"`
}

// RateRequest contains the parameters for rating a delivered order.
type RateRequest struct {
	Stars   int    `json:"stars" binding:"required"`
	Comment string `json:"comment"`
}

// Service implements the order state machine.
type Service struct {
	store     Store
	escrow    Settler
	events    EventSink
	catalog   Catalog
	minAmount string
	maxAmount string
	locks     syncutil.ShardedMutex // per-order locks to prevent race conditions
}

// NewService creates a new order service.
func NewService(store Store, escrow Settler, catalog Catalog) *Service {
	return &Service{
		store:   store,
		escrow:  escrow,
		catalog: catalog,
	}
}

// WithEventSink adds an event sink for asynchronous settlement fan-out.
func (s *Service) WithEventSink(sink EventSink) *Service {
	s.events = sink
	return s
}

// WithAmountBounds constrains order amounts. Empty bounds disable the check.
func (s *Service) WithAmountBounds(min, max string) *Service {
	s.minAmount = min
	s.maxAmount = max
	return s
}

// orderLock acquires the lock for the given order ID and returns its unlock.
// This prevents concurrent state transitions (e.g. confirm + auto-release racing).
func (s *Service) orderLock(id string) func() {
	return s.locks.Lock(id)
}

// emit records an event for the relay worker. Fire-and-forget.
func (s *Service) emit(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(ctx, ev); err != nil {
		log.Printf("orders: failed to append %s event for order %s: %v", ev.Kind, ev.OrderID, err)
	}
}

// PlaceOrder creates a pending order priced from the listing.
func (s *Service) PlaceOrder(ctx context.Context, buyerID string, req PlaceRequest) (*Order, error) {
	sellerID, price, active, err := s.catalog.Lookup(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrListingInactive
	}
	if sellerID == buyerID {
		return nil, ErrSelfPurchase
	}

	amount, ok := money.Parse(price)
	if !ok || amount.Sign() <= 0 {
		return nil, ErrAmountOutOfRange
	}
	if s.minAmount != "" && money.Cmp(price, s.minAmount) < 0 {
		return nil, ErrAmountOutOfRange
	}
	if s.maxAmount != "" && money.Cmp(price, s.maxAmount) > 0 {
		return nil, ErrAmountOutOfRange
	}

	now := time.Now()
	order := &Order{
		ID:           idgen.WithPrefix("ord_"),
		ListingID:    req.ListingID,
		BuyerID:      buyerID,
		SellerID:     sellerID,
		Amount:       money.Format(amount),
		Currency:     money.Currency,
		Status:       StatusPending,
		Requirements: req.Requirements,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Create(ctx, order); err != nil {
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues("placed").Inc()
	return order, nil
}

// MarkPaid confirms external payment and opens escrow holds for both parties.
// Called from the payment gateway callback.
func (s *Service) MarkPaid(ctx context.Context, orderID string) (*Order, error) {
	unlock := s.orderLock(orderID)
	defer unlock()

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	if err := s.escrow.OpenHolds(ctx, order.ID, order.BuyerID, order.SellerID, order.Amount); err != nil {
		return nil, err
	}

	now := time.Now()
	order.Status = StatusPaid
	order.PaidAt = &now
	order.UpdatedAt = now

	if err := s.store.Update(ctx, order, StatusPending); err != nil {
		// Retry once — holds are already open, we must persist the state change
		if retryErr := s.store.Update(ctx, order, StatusPending); retryErr != nil {
			log.Printf("CRITICAL: order %s holds opened but status update failed: %v", order.ID, retryErr)
			return nil, retryErr
		}
	}

	metrics.OrdersTotal.WithLabelValues("paid").Inc()
	return order, nil
}

// MarkDelivered stamps the seller's delivery signal on a paid order.
// Status stays paid; the buyer still has to confirm.
func (s *Service) MarkDelivered(ctx context.Context, orderID, callerID string) (*Order, error) {
	unlock := s.orderLock(orderID)
	defer unlock()

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if callerID != order.SellerID {
		return nil, ErrUnauthorized
	}
	if order.Status != StatusPaid {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	order.SellerDeliveredAt = &now
	order.UpdatedAt = now

	if err := s.store.Update(ctx, order, StatusPaid); err != nil {
		return nil, err
	}
	return order, nil
}

// ConfirmDelivery releases escrowed funds to the seller. Buyer-only.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, callerID string) (*Order, error) {
	unlock := s.orderLock(orderID)
	defer unlock()

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if callerID != order.BuyerID {
		return nil, ErrUnauthorized
	}
	if order.Status != StatusPaid {
		return nil, ErrInvalidStatus
	}
	if order.HasOpenDispute() {
		return nil, ErrDisputeOpen
	}

	return s.settleRelease(ctx, order, "buyer_confirmed")
}

// Release settles the full amount to the seller. Admin path; force releases
// even while a dispute is open, recording the ruling as pay_seller.
func (s *Service) Release(ctx context.Context, orderID string, force bool) (*Order, error) {
	unlock := s.orderLock(orderID)
	defer unlock()

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusPaid {
		return nil, ErrInvalidStatus
	}
	if order.HasOpenDispute() {
		if !force {
			return nil, ErrDisputeOpen
		}
		now := time.Now()
		order.Dispute.Status = DisputeResolved
		order.Dispute.Decision = DecisionPaySeller
		order.Dispute.Notes = "force released by admin"
		order.Dispute.ResolvedAt = &now
	}

	resolution := "admin_release"
	if force {
		resolution = "force_release"
	}
	return s.settleRelease(ctx, order, resolution)
}

// settleRelease moves the full escrowed amount to the seller and flips the
// order to delivered. Caller holds the order lock and has checked the gates;
// the wallet re-checks the open holds inside its own transaction.
func (s *Service) settleRelease(ctx context.Context, order *Order, resolution string) (*Order, error) {
	ctx, span := traces.StartSpan(ctx, "orders.settleRelease",
		traces.OrderID(order.ID), traces.Amount(order.Amount))
	defer span.End()

	start := time.Now()
	if err := s.escrow.Release(ctx, order.ID); err != nil {
		return nil, err
	}
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())

	now := time.Now()
	order.Status = StatusDelivered
	order.Outcome = OutcomeReleased
	order.Resolution = resolution
	order.BuyerShare = money.Format(big.NewInt(0))
	order.SellerShare = order.Amount
	order.SettledAt = &now
	order.UpdatedAt = now

	if err := s.store.Update(ctx, order, StatusPaid); err != nil {
		// Retry once — funds already moved, we must persist the state change
		if retryErr := s.store.Update(ctx, order, StatusPaid); retryErr != nil {
			// CRITICAL: funds were released to the seller but the order record
			// is stale. There is no inverse operation; log for manual resolution.
			log.Printf("CRITICAL: order %s funds released to %s but status update failed: %v",
				order.ID, order.SellerID, retryErr)
			return nil, retryErr
		}
	}

	metrics.OrdersTotal.WithLabelValues("released").Inc()
	s.emit(ctx, Event{
		Kind: "order.released", OrderID: order.ID, ListingID: order.ListingID,
		BuyerID: order.BuyerID, SellerID: order.SellerID,
		Amount: order.Amount, BuyerShare: order.BuyerShare, SellerShare: order.SellerShare,
	})
	return order, nil
}

// Refund settles the full amount back to the buyer. Admin path; an open
// dispute must be resolved through ResolveDispute instead.
func (s *Service) Refund(ctx context.Context, orderID string) (*Order, error) {
	unlock := s.orderLock(orderID)
	defer unlock()

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusPaid {
		return nil, ErrInvalidStatus
	}
	if order.HasOpenDispute() {
		return nil, ErrDisputeOpen
	}

	return s.settleRefund(ctx, order, "admin_refund")
}

func (s *Service) settleRefund(ctx context.Context, order *Order, resolution string) (*Order, error) {
	ctx, span := traces.StartSpan(ctx, "orders.settleRefund",
		traces.OrderID(order.ID), traces.Amount(order.Amount))
	defer span.End()

	start := time.Now()
	if err := s.escrow.Refund(ctx, order.ID); err != nil {
		return nil, err
	}
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())

	now := time.Now()
	order.Status = StatusCancelled
	order.Outcome = OutcomeRefunded
	order.Resolution = resolution
	order.BuyerShare = order.Amount
	order.SellerShare = money.Format(big.NewInt(0))
	order.SettledAt = &now
	order.UpdatedAt = now

	if err := s.store.Update(ctx, order, StatusPaid); err != nil {
		if retryErr := s.store.Update(ctx, order, StatusPaid); retryErr != nil {
			log.Printf("CRITICAL: order %s refunded to %s but status update failed: %v",
				order.ID, order.BuyerID, retryErr)
			return nil, retryErr
		}
	}

	metrics.OrdersTotal.WithLabelValues("refunded").Inc()
	s.emit(ctx, Event{
		Kind: "order.refunded", OrderID: order.ID, ListingID: order.ListingID,
		BuyerID: order.BuyerID, SellerID: order.SellerID,
		Amount: order.Amount, BuyerShare: order.BuyerShare, SellerShare: order.SellerShare,
	})
	return order, nil
}

// Settle splits the escrowed amount: buyerShare to the buyer, the remainder
// to the seller. Admin path.
func (s *Service) Settle(ctx context.Context, orderID, buyerShare string) (*Order, error) {
	unlock := s.orderLock(orderID)
	defer unlock()

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusPaid {
		return nil, ErrInvalidStatus
	}
	if order.HasOpenDispute() {
		return nil, ErrDisputeOpen
	}

	return s.settleSplit(ctx, order, buyerShare, "admin_settle")
}

func (s *Service) settleSplit(ctx context.Context, order *Order, buyerShare, resolution string) (*Order, error) {
	share, ok := money.Parse(buyerShare)
	if !ok || share.Sign() < 0 {
		return nil, ErrInvalidShare
	}
	amount, _ := money.Parse(order.Amount)
	if share.Cmp(amount) > 0 {
		return nil, ErrInvalidShare
	}

	ctx, span := traces.StartSpan(ctx, "orders.settleSplit",
		traces.OrderID(order.ID), traces.Amount(order.Amount))
	defer span.End()

	start := time.Now()
	if err := s.escrow.Split(ctx, order.ID, money.Format(share)); err != nil {
		return nil, err
	}
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())

	now := time.Now()
	order.Status = StatusDelivered
	order.Outcome = OutcomeSplit
	order.Resolution = resolution
	order.BuyerShare = money.Format(share)
	order.SellerShare = money.Format(new(big.Int).Sub(amount, share))
	order.SettledAt = &now
	order.UpdatedAt = now

	if err := s.store.Update(ctx, order, StatusPaid); err != nil {
		if retryErr := s.store.Update(ctx, order, StatusPaid); retryErr != nil {
			log.Printf("CRITICAL: order %s split settled but status update failed: %v", order.ID, retryErr)
			return nil, retryErr
		}
	}

	metrics.OrdersTotal.WithLabelValues("split").Inc()
	s.emit(ctx, Event{
		Kind: "order.split", OrderID: order.ID, ListingID: order.ListingID,
		BuyerID: order.BuyerID, SellerID: order.SellerID,
		Amount: order.Amount, BuyerShare: order.BuyerShare, SellerShare: order.SellerShare,
	})
	return order, nil
}

// OpenDispute opens a dispute on a paid or delivered order. Parties only.
func (s *Service) OpenDispute(ctx context.Context, orderID, openerID string, req DisputeRequest) (*Order, error) {
	unlock := s.orderLock(orderID)
	defer unlock()

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if openerID != order.BuyerID && openerID != order.SellerID {
		return nil, ErrUnauthorized
	}
	if order.Status != StatusPaid && order.Status != StatusDelivered {
		return nil, ErrInvalidStatus
	}
	if order.Dispute != nil {
		if order.Dispute.Status == DisputeResolved {
			return nil, ErrDisputeResolved
		}
		return nil, ErrDisputeExists
	}
	if !IsKnownDisputeReason(req.Reason) {
		return nil, ErrInvalidReason
	}

	now := time.Now()
	order.Dispute = &Dispute{
		ID:       idgen.WithPrefix("dsp_"),
		Status:   DisputeOpen,
		OpenedBy: openerID,
		Reason:   req.Reason,
		Details:  req.Details,
		OpenedAt: now,
	}
	order.UpdatedAt = now

	if err := s.store.Update(ctx, order, order.Status); err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues("opened").Inc()
	s.emit(ctx, Event{
		Kind: "order.disputed", OrderID: order.ID, ListingID: order.ListingID,
		BuyerID: order.BuyerID, SellerID: order.SellerID, Reason: req.Reason,
	})
	return order, nil
}

// AddEvidence attaches an evidence entry to an open dispute. Parties only.
func (s *Service) AddEvidence(ctx context.Context, orderID, authorID string, req EvidenceRequest) (*Order, error) {
	unlock := s.orderLock(orderID)
	defer unlock()

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if authorID != order.BuyerID && authorID != order.SellerID {
		return nil, ErrUnauthorized
	}
	if !order.HasOpenDispute() {
		return nil, ErrNoDispute
	}
	if len(order.Dispute.Evidence) >= maxEvidenceEntries {
		return nil, ErrEvidenceLimit
	}

	now := time.Now()
	order.Dispute.Evidence = append(order.Dispute.Evidence, Evidence{
		AuthorID:  authorID,
		Text:      req.Text,
		FileURL:   req.FileURL,
		CreatedAt: now,
	})
	order.UpdatedAt = now

	if err := s.store.Update(ctx, order, order.Status); err != nil {
		return nil, err
	}
	return order, nil
}

// ResolveDispute applies an admin ruling to an open dispute. The ruling is
// terminal: no reopen, no second resolution.
//
// On a paid order the decision moves money (release, refund or split). On a
// delivered order the funds already settled, so only pay_seller is accepted
// and the ruling is recorded without money movement.
func (s *Service) ResolveDispute(ctx context.Context, orderID string, req ResolveRequest) (*Order, error) {
	unlock := s.orderLock(orderID)
	defer unlock()

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Dispute == nil {
		return nil, ErrNoDispute
	}
	if order.Dispute.Status == DisputeResolved {
		return nil, ErrDisputeResolved
	}

	switch req.Decision {
	case DecisionPaySeller, DecisionRefundBuyer, DecisionPartialRefund:
	default:
		return nil, ErrInvalidDecision
	}

	now := time.Now()
	order.Dispute.Status = DisputeResolved
	order.Dispute.Decision = req.Decision
	order.Dispute.Notes = req.Notes
	order.Dispute.ResolvedAt = &now
	order.UpdatedAt = now

	if order.Status == StatusDelivered {
		if req.Decision != DecisionPaySeller {
			return nil, ErrInvalidDecision
		}
		if err := s.store.Update(ctx, order, StatusDelivered); err != nil {
			return nil, err
		}
	} else {
		var settleErr error
		switch req.Decision {
		case DecisionPaySeller:
			_, settleErr = s.settleRelease(ctx, order, "dispute_pay_seller")
		case DecisionRefundBuyer:
			_, settleErr = s.settleRefund(ctx, order, "dispute_refund_buyer")
		case DecisionPartialRefund:
			_, settleErr = s.settleSplit(ctx, order, req.BuyerShare, "dispute_partial_refund")
		}
		if settleErr != nil {
			return nil, settleErr
		}
	}

	metrics.DisputesTotal.WithLabelValues("resolved").Inc()
	s.emit(ctx, Event{
		Kind: "order.dispute_resolved", OrderID: order.ID, ListingID: order.ListingID,
		BuyerID: order.BuyerID, SellerID: order.SellerID, Decision: string(req.Decision),
	})
	return order, nil
}

// Rate records the buyer's rating on a delivered order. Idempotent: a second
// call returns the stored rating unchanged.
func (s *Service) Rate(ctx context.Context, orderID, callerID string, req RateRequest) (*Order, error) {
	unlock := s.orderLock(orderID)
	defer unlock()

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if callerID != order.BuyerID {
		return nil, ErrUnauthorized
	}
	if order.Status != StatusDelivered {
		return nil, ErrNotRateable
	}
	if order.Rating != nil {
		return order, nil
	}
	if req.Stars < 1 || req.Stars > 5 {
		return nil, ErrInvalidStars
	}

	now := time.Now()
	order.Rating = &Rating{
		Stars:   req.Stars,
		Comment: req.Comment,
		RatedAt: now,
	}
	order.UpdatedAt = now

	if err := s.store.Update(ctx, order, StatusDelivered); err != nil {
		return nil, err
	}

	// The order-level rated flag above makes this exactly-once.
	if err := s.catalog.ApplyRating(ctx, order.ListingID, req.Stars); err != nil {
		log.Printf("orders: rating stored for order %s but listing aggregate update failed: %v", order.ID, err)
	}

	s.emit(ctx, Event{
		Kind: "order.rated", OrderID: order.ID, ListingID: order.ListingID,
		BuyerID: order.BuyerID, SellerID: order.SellerID, Stars: req.Stars,
	})
	return order, nil
}

// Cancel cancels a pending order. Buyer or seller.
func (s *Service) Cancel(ctx context.Context, orderID, callerID string) (*Order, error) {
	unlock := s.orderLock(orderID)
	defer unlock()

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if callerID != order.BuyerID && callerID != order.SellerID {
		return nil, ErrUnauthorized
	}
	if order.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	order.Status = StatusCancelled
	order.Resolution = "cancelled_before_payment"
	order.UpdatedAt = now

	if err := s.store.Update(ctx, order, StatusPending); err != nil {
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues("cancelled").Inc()
	return order, nil
}

// AutoRelease force-releases a paid, undisputed order whose seller delivered
// and whose buyer went quiet past the inactivity window. Called by the timer.
func (s *Service) AutoRelease(ctx context.Context, orderID string) error {
	unlock := s.orderLock(orderID)
	defer unlock()

	// Re-read under lock to prevent stale-state races with buyer actions
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != StatusPaid || order.HasOpenDispute() || order.SellerDeliveredAt == nil {
		return ErrInvalidStatus
	}

	if _, err := s.settleRelease(ctx, order, "auto_released"); err != nil {
		return err
	}
	metrics.AutoReleasedTotal.Inc()
	return nil
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns orders involving a user (as buyer or seller).
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// ListByStatus returns orders in the given status, newest first.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, status, limit)
}
