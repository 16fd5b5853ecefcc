package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	limiter := New(cfg)
	t.Cleanup(limiter.Stop)
	return limiter
}

func TestBurstThenDeny(t *testing.T) {
	limiter := newTestLimiter(t, Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})

	for i := 0; i < 5; i++ {
		if !limiter.Allow("client") {
			t.Errorf("request %d within burst should be allowed", i)
		}
	}
	if limiter.Allow("client") {
		t.Error("request after burst should be denied")
	}

	// 60/min replenishes one token per second.
	time.Sleep(1100 * time.Millisecond)
	if !limiter.Allow("client") {
		t.Error("request after replenishment should be allowed")
	}
}

func TestClientsLimitedIndependently(t *testing.T) {
	limiter := newTestLimiter(t, Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})

	for i := 0; i < 3; i++ {
		limiter.Allow("buyer-ip")
	}
	if limiter.Allow("buyer-ip") {
		t.Error("exhausted client should be limited")
	}
	if !limiter.Allow("seller-ip") {
		t.Error("fresh client should not be limited")
	}
}

func TestReplenishmentRate(t *testing.T) {
	limiter := newTestLimiter(t, Config{
		RequestsPerMinute: 600,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})

	if !limiter.Allow("client") {
		t.Error("first request should be allowed")
	}
	if limiter.Allow("client") {
		t.Error("immediate second request should be denied")
	}

	// 600/min is 10 tokens per second.
	time.Sleep(110 * time.Millisecond)
	if !limiter.Allow("client") {
		t.Error("request after replenishment window should be allowed")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestsPerMinute != 60 {
		t.Errorf("RequestsPerMinute = %d, want 60", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("BurstSize = %d, want 10", cfg.BurstSize)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("CleanupInterval = %v, want 1m", cfg.CleanupInterval)
	}
}
