package outbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory outbox store for demo/development mode.
type MemoryStore struct {
	events map[string]*Event
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory outbox store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*Event)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Append(_ context.Context, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.events[ev.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *MemoryStore) listByStatus(status EventStatus, limit int) []*Event {
	var result []*Event
	for _, ev := range m.events {
		if ev.Status == status {
			cp := *ev
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (m *MemoryStore) ListPending(_ context.Context, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByStatus(StatusPending, limit), nil
}

func (m *MemoryStore) ListParked(_ context.Context, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByStatus(StatusParked, limit), nil
}

func (m *MemoryStore) MarkDone(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return ErrEventNotFound
	}
	now := time.Now()
	ev.Status = StatusDone
	ev.DispatchedAt = &now
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id, lastError string, park bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return ErrEventNotFound
	}
	ev.Attempts++
	ev.LastError = lastError
	if park {
		ev.Status = StatusParked
	}
	return nil
}

func (m *MemoryStore) Requeue(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return ErrEventNotFound
	}
	ev.Status = StatusPending
	ev.LastError = ""
	return nil
}

func (m *MemoryStore) PendingCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, ev := range m.events {
		if ev.Status == StatusPending {
			count++
		}
	}
	return count, nil
}
