package listings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbande/biskato/internal/money"
)

// MemoryStore is a thread-safe in-memory implementation for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[string]*Listing
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]*Listing)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(_ context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.listings[l.ID]; exists {
		return ErrListingExists
	}
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.listings[l.ID]; !ok {
		return ErrListingNotFound
	}
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *MemoryStore) List(_ context.Context, q Query) ([]*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if q.Limit <= 0 {
		q.Limit = 50
	}

	var results []*Listing
	for _, l := range m.listings {
		if q.Category != "" && l.Category != q.Category {
			continue
		}
		if q.SellerID != "" && l.SellerID != q.SellerID {
			continue
		}
		if q.Active != nil && *q.Active != l.Active {
			continue
		}
		if q.MinRating > 0 && l.RatingAvg < q.MinRating {
			continue
		}
		if q.MinPrice != "" && money.Cmp(l.Price, q.MinPrice) < 0 {
			continue
		}
		if q.MaxPrice != "" && money.Cmp(l.Price, q.MaxPrice) > 0 {
			continue
		}
		cp := *l
		results = append(results, &cp)
	}

	// Best rated first, newest breaks ties
	sort.Slice(results, func(i, j int) bool {
		if results[i].RatingAvg != results[j].RatingAvg {
			return results[i].RatingAvg > results[j].RatingAvg
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if q.Offset >= len(results) {
		return []*Listing{}, nil
	}
	end := q.Offset + q.Limit
	if end > len(results) {
		end = len(results)
	}
	return results[q.Offset:end], nil
}

func (m *MemoryStore) ApplyRating(_ context.Context, id string, rating int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok {
		return ErrListingNotFound
	}

	l.RatingCount++
	l.RatingAvg += (float64(rating) - l.RatingAvg) / float64(l.RatingCount)
	l.UpdatedAt = time.Now()
	return nil
}
