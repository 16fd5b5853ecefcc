package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically force-releases paid, undisputed orders whose seller
// delivered more than the configured window ago.
type Timer struct {
	service  *Service
	store    Store
	window   time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new auto-release timer.
func NewTimer(service *Service, store Store, window time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		store:    store,
		window:   window,
		interval: 30 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the auto-release loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeReleaseExpired(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeReleaseExpired(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in auto-release timer", "panic", fmt.Sprint(r))
		}
	}()
	t.releaseExpired(ctx)
}

func (t *Timer) releaseExpired(ctx context.Context) {
	cutoff := time.Now().Add(-t.window)

	expired, err := t.store.ListAutoReleasable(ctx, cutoff, 100)
	if err != nil {
		t.logger.Warn("failed to list auto-releasable orders", "error", err)
		return
	}

	for _, order := range expired {
		if err := t.service.AutoRelease(ctx, order.ID); err != nil {
			t.logger.Warn("failed to auto-release order",
				"orderId", order.ID,
				"error", err,
			)
			continue
		}
		t.logger.Info("auto-released order after buyer inactivity",
			"orderId", order.ID,
			"buyer", order.BuyerID,
			"seller", order.SellerID,
			"amount", order.Amount,
		)
	}
}
