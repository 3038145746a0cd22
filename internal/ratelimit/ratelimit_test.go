package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/macronet-project/backend/internal/apperr"
)

func TestAcquireWithinBurstIsImmediate(t *testing.T) {
	p := NewPool(100 * time.Millisecond)
	src := uuid.New()

	start := time.Now()
	for i := 0; i < 60; i++ {
		if err := p.Acquire(context.Background(), src, "fred", 60); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("draining a full bucket should not block, took %s", elapsed)
	}
}

func TestAcquireTimesOutWhenBucketExhausted(t *testing.T) {
	p := NewPool(50 * time.Millisecond)
	src := uuid.New()

	// rpm=60 refills one token per second; drain the burst first.
	for i := 0; i < 60; i++ {
		if err := p.Acquire(context.Background(), src, "fred", 60); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}

	err := p.Acquire(context.Background(), src, "fred", 60)
	if err == nil {
		t.Fatal("expected a rate limit timeout, got nil")
	}
	if !apperr.IsRateLimitTimeout(err) {
		t.Fatalf("expected RateLimitTimeout, got %v", err)
	}
}

func TestRefillIsContinuousNotPerMinute(t *testing.T) {
	// 60 rpm means one token per second. After draining the bucket the next
	// token must arrive around the one second mark, not at a minute boundary.
	p := NewPool(2 * time.Second)
	src := uuid.New()

	for i := 0; i < 60; i++ {
		if err := p.Acquire(context.Background(), src, "bls", 60); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}

	start := time.Now()
	if err := p.Acquire(context.Background(), src, "bls", 60); err != nil {
		t.Fatalf("expected a token after the refill interval, got %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 700*time.Millisecond {
		t.Fatalf("token arrived after %s, before the refill interval", elapsed)
	}
	if elapsed > 1500*time.Millisecond {
		t.Fatalf("token arrived after %s, refill is not continuous", elapsed)
	}
}

func TestSourcesDoNotContend(t *testing.T) {
	p := NewPool(50 * time.Millisecond)
	srcA := uuid.New()
	srcB := uuid.New()

	// Exhaust A completely.
	for i := 0; i < 60; i++ {
		if err := p.Acquire(context.Background(), srcA, "fred", 60); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
	if err := p.Acquire(context.Background(), srcA, "fred", 60); err == nil {
		t.Fatal("source A should be exhausted")
	}

	// B must be unaffected.
	start := time.Now()
	if err := p.Acquire(context.Background(), srcB, "bls", 25); err != nil {
		t.Fatalf("source B blocked by source A: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("source B waited %s behind source A's bucket", elapsed)
	}
}

func TestAcquireHonorsCallerCancellation(t *testing.T) {
	p := NewPool(5 * time.Second)
	src := uuid.New()

	for i := 0; i < 60; i++ {
		if err := p.Acquire(context.Background(), src, "fred", 60); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.Acquire(ctx, src, "fred", 60)
	if err == nil {
		t.Fatal("expected an error after cancellation")
	}
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRPMChangeResizesBucket(t *testing.T) {
	p := NewPool(500 * time.Millisecond)
	src := uuid.New()

	if err := p.Acquire(context.Background(), src, "census", 1); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	// One token per minute: a second acquire must time out.
	if err := p.Acquire(context.Background(), src, "census", 1); err == nil {
		t.Fatal("expected exhaustion at rpm=1")
	}

	// Raising the limit speeds up the refill (600 rpm = one token per 100ms)
	// so the same bucket hands out a token within the acquire timeout.
	if err := p.Acquire(context.Background(), src, "census", 600); err != nil {
		t.Fatalf("acquire after rpm raise failed: %v", err)
	}
}
