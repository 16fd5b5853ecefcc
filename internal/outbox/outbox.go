// Package outbox moves ledger, receipt and notification writes out of the
// money path. The orders service appends an event in the same flow that
// settles an order; a relay worker drains pending events and dispatches them
// to registered consumers. Consumers are idempotent keyed by event ID, so
// redelivery after a partial failure is harmless.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/mbande/biskato/internal/idgen"
)

var (
	ErrEventNotFound = errors.New("outbox: event not found")
	ErrUnknownKind   = errors.New("outbox: unknown event kind")
)

// Event kinds form a closed set.
const (
	KindOrderReleased        = "order.released"
	KindOrderRefunded        = "order.refunded"
	KindOrderSplit           = "order.split"
	KindOrderDisputed        = "order.disputed"
	KindOrderDisputeResolved = "order.dispute_resolved"
	KindOrderRated           = "order.rated"
)

func isKnownKind(k string) bool {
	switch k {
	case KindOrderReleased, KindOrderRefunded, KindOrderSplit,
		KindOrderDisputed, KindOrderDisputeResolved, KindOrderRated:
		return true
	}
	return false
}

// EventStatus is the delivery state of an outbox event.
type EventStatus string

const (
	StatusPending EventStatus = "pending"
	StatusDone    EventStatus = "done"
	StatusParked  EventStatus = "parked" // retries exhausted, needs operator attention
)

// Payload carries the settlement facts. The shape is fixed: every kind uses
// a subset of these fields and nothing else.
type Payload struct {
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

// Event is one recorded settlement fact awaiting delivery.
type Event struct {
	ID           string      `json:"id"`
	Kind         string      `json:"kind"`
	OrderID      string      `json:"orderId"`
	Payload      Payload     `json:"payload"`
	Status       EventStatus `json:"status"`
	Attempts     int         `json:"attempts"`
	LastError    string      `json:"lastError,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	DispatchedAt *time.Time  `json:"dispatchedAt,omitempty"`
}

// Store persists outbox events.
type Store interface {
	Append(ctx context.Context, ev *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	ListPending(ctx context.Context, limit int) ([]*Event, error)
	ListParked(ctx context.Context, limit int) ([]*Event, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, lastError string, park bool) error
	Requeue(ctx context.Context, id string) error
	PendingCount(ctx context.Context) (int, error)
}

// Consumer handles delivered events. Handle must be idempotent keyed by the
// event ID: the relay may deliver the same event more than once.
type Consumer interface {
	Name() string
	Handle(ctx context.Context, ev *Event) error
}

// Outbox appends events for later delivery.
type Outbox struct {
	store Store
}

// New creates an outbox over a store.
func New(store Store) *Outbox {
	return &Outbox{store: store}
}

// Record appends a pending event. The event ID is generated here so every
// consumer sees the same idempotency key.
func (o *Outbox) Record(ctx context.Context, kind string, payload Payload) error {
	if !isKnownKind(kind) {
		return ErrUnknownKind
	}
	ev := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Kind:      kind,
		OrderID:   payload.OrderID,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	return o.store.Append(ctx, ev)
}

// Get returns an event by ID.
func (o *Outbox) Get(ctx context.Context, id string) (*Event, error) {
	return o.store.Get(ctx, id)
}

// ListParked returns parked events, oldest first.
func (o *Outbox) ListParked(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return o.store.ListParked(ctx, limit)
}

// Requeue puts a parked event back in the pending queue.
func (o *Outbox) Requeue(ctx context.Context, id string) error {
	return o.store.Requeue(ctx, id)
}
