package orders

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory order store for demo/development mode.
type MemoryStore struct {
	orders map[string]*Order
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
	}
}

var _ Store = (*MemoryStore)(nil)

// copyOrder returns a deep copy. Shallow copy shares the dispute pointer and
// the evidence backing array, so an append on the copy can mutate the stored
// order.
func copyOrder(o *Order) *Order {
	cp := *o
	if o.Dispute != nil {
		d := *o.Dispute
		if o.Dispute.Evidence != nil {
			d.Evidence = make([]Evidence, len(o.Dispute.Evidence))
			copy(d.Evidence, o.Dispute.Evidence)
		}
		cp.Dispute = &d
	}
	if o.Rating != nil {
		r := *o.Rating
		cp.Rating = &r
	}
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders[o.ID] = copyOrder(o)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (m *MemoryStore) Update(_ context.Context, o *Order, prev Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if stored.Status != prev {
		return ErrInvalidStatus
	}
	m.orders[o.ID] = copyOrder(o)
	return nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.BuyerID == userID || o.SellerID == userID {
			result = append(result, copyOrder(o))
		}
	}
	sortNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.Status == status {
			result = append(result, copyOrder(o))
		}
	}
	sortNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListAutoReleasable(_ context.Context, deliveredBefore time.Time, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.Status != StatusPaid || o.HasOpenDispute() {
			continue
		}
		if o.SellerDeliveredAt == nil || !o.SellerDeliveredAt.Before(deliveredBefore) {
			continue
		}
		result = append(result, copyOrder(o))
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) ListSettled(_ context.Context, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.Outcome == "" {
			continue
		}
		result = append(result, copyOrder(o))
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func sortNewestFirst(orders []*Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
