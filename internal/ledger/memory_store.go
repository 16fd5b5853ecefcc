package ledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/mbande/biskato/internal/money"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	entries []*Entry
	seen    map[string]bool // eventID:userID:kind
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]bool)}
}

func dedupKey(e *Entry) string {
	return e.EventID + ":" + e.UserID + ":" + string(e.Kind)
}

func (m *MemoryStore) Append(ctx context.Context, entries ...*Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if e.EventID != "" && m.seen[dedupKey(e)] {
			continue
		}
		cp := *e
		m.entries = append(m.entries, &cp)
		if e.EventID != "" {
			m.seen[dedupKey(e)] = true
		}
		LedgerEntriesTotal.WithLabelValues(string(e.Kind)).Inc()
	}
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].UserID == userID {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListByOrder(ctx context.Context, orderID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for _, e := range m.entries {
		if e.OrderID == orderID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) OrderTotals(ctx context.Context, orderID string) (string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payout := big.NewInt(0)
	refund := big.NewInt(0)
	for _, e := range m.entries {
		if e.OrderID != orderID {
			continue
		}
		amt, _ := money.Parse(e.Amount)
		switch e.Kind {
		case KindServicePayout:
			payout.Add(payout, amt)
		case KindRefund:
			refund.Add(refund, amt)
		}
	}
	return money.Format(payout), money.Format(refund), nil
}
