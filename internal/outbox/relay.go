package outbox

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbande/biskato/internal/metrics"
)

const (
	defaultRelayInterval = 5 * time.Second
	defaultMaxAttempts   = 5
	relayBatchSize       = 100
)

// Relay drains pending events and dispatches them to registered consumers.
// An event is done only when every consumer succeeds; a failing consumer
// causes redelivery to all of them, which is why consumers must be
// idempotent. Events that exhaust their attempts are parked for an operator.
type Relay struct {
	store       Store
	consumers   []Consumer
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
	stop        chan struct{}
	running     atomic.Bool
}

// NewRelay creates a relay over a store with the default interval and
// attempts cap.
func NewRelay(store Store, logger *slog.Logger) *Relay {
	return &Relay{
		store:       store,
		interval:    defaultRelayInterval,
		maxAttempts: defaultMaxAttempts,
		logger:      logger,
		stop:        make(chan struct{}),
	}
}

// Register adds a consumer. Call before Start.
func (r *Relay) Register(c Consumer) {
	r.consumers = append(r.consumers, c)
}

// WithInterval overrides the drain interval.
func (r *Relay) WithInterval(d time.Duration) *Relay {
	if d > 0 {
		r.interval = d
	}
	return r
}

// WithMaxAttempts overrides the attempts cap before parking.
func (r *Relay) WithMaxAttempts(n int) *Relay {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// Start begins the drain loop in a background goroutine.
func (r *Relay) Start() {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	r.logger.Info("outbox relay started",
		"interval", r.interval.String(),
		"consumers", len(r.consumers))

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.safeDrain()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the drain loop.
func (r *Relay) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	close(r.stop)
	r.logger.Info("outbox relay stopped")
}

// Running reports whether the relay loop is active.
func (r *Relay) Running() bool {
	return r.running.Load()
}

func (r *Relay) safeDrain() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("outbox relay panic recovered", "panic", rec)
		}
	}()
	r.Drain(context.Background())
}

// Drain processes one batch of pending events. Exported so callers can
// flush synchronously.
func (r *Relay) Drain(ctx context.Context) {
	events, err := r.store.ListPending(ctx, relayBatchSize)
	if err != nil {
		r.logger.Error("outbox list pending failed", "error", err)
		return
	}

	for _, ev := range events {
		r.dispatch(ctx, ev)
	}

	if count, err := r.store.PendingCount(ctx); err == nil {
		metrics.OutboxPending.Set(float64(count))
	}
}

func (r *Relay) dispatch(ctx context.Context, ev *Event) {
	for _, c := range r.consumers {
		if err := c.Handle(ctx, ev); err != nil {
			park := ev.Attempts+1 >= r.maxAttempts
			if markErr := r.store.MarkFailed(ctx, ev.ID, c.Name()+": "+err.Error(), park); markErr != nil {
				r.logger.Error("outbox mark failed errored",
					"eventId", ev.ID, "error", markErr)
			}
			if park {
				metrics.OutboxDispatchTotal.WithLabelValues("parked").Inc()
				r.logger.Error("outbox event parked",
					"eventId", ev.ID,
					"kind", ev.Kind,
					"consumer", c.Name(),
					"attempts", ev.Attempts+1,
					"error", err)
			} else {
				metrics.OutboxDispatchTotal.WithLabelValues("retried").Inc()
				r.logger.Warn("outbox dispatch failed, will retry",
					"eventId", ev.ID,
					"kind", ev.Kind,
					"consumer", c.Name(),
					"attempts", ev.Attempts+1,
					"error", err)
			}
			return
		}
	}

	if err := r.store.MarkDone(ctx, ev.ID); err != nil {
		r.logger.Error("outbox mark done failed", "eventId", ev.ID, "error", err)
		return
	}
	metrics.OutboxDispatchTotal.WithLabelValues("delivered").Inc()
	r.logger.Debug("outbox event delivered", "eventId", ev.ID, "kind", ev.Kind)
}
