// Package health aggregates readiness probes for the database and the
// outbox relay behind the /health endpoints.
package health

import (
	"context"
	"sync"
)

// Status is the result of probing one subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single subsystem.
type Checker func(ctx context.Context) Status

type entry struct {
	name  string
	check Checker
}

// Registry holds named checkers and runs them on demand. Checkers run in
// registration order so probe output stays stable.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.entries = append(r.entries, entry{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every checker and reports the aggregate plus per-subsystem
// results. The aggregate is healthy only when all subsystems are.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	entries := make([]entry, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, 0, len(entries))
	for _, e := range entries {
		st := e.check(ctx)
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
