/**
 * @description
 * Per-source request rate limiting.
 * Each data source gets its own token bucket with capacity equal to its
 * requests-per-minute limit, refilled continuously (rpm/60 tokens per
 * second) rather than in bursts at minute boundaries, so crawls never
 * thundering-herd a provider when a new minute starts. Buckets are fully
 * independent: exhausting one source's bucket never delays another source.
 *
 * @dependencies
 * - golang.org/x/time/rate: token bucket implementation
 * - github.com/google/uuid
 */

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/macronet-project/backend/internal/apperr"
	"github.com/macronet-project/backend/internal/metrics"
)

// Pool manages one token bucket per data source
type Pool struct {
	mu             sync.Mutex
	buckets        map[uuid.UUID]*bucket
	acquireTimeout time.Duration
}

type bucket struct {
	limiter *rate.Limiter
	rpm     int
}

// NewPool creates a limiter pool. acquireTimeout bounds how long one
// Acquire call may wait for a token before failing with RateLimitTimeout.
func NewPool(acquireTimeout time.Duration) *Pool {
	return &Pool{
		buckets:        make(map[uuid.UUID]*bucket),
		acquireTimeout: acquireTimeout,
	}
}

// Acquire blocks until a token is available for the source or the acquire
// timeout elapses. A timeout returns RateLimitTimeout: the caller must
// reschedule the crawl, not spin. Buckets are created lazily and resized in
// place when a source's configured rpm changes.
func (p *Pool) Acquire(ctx context.Context, sourceID uuid.UUID, sourceName string, rpm int) error {
	return p.AcquireN(ctx, sourceID, sourceName, rpm, 1)
}

// AcquireN reserves n tokens at once, for providers whose single logical
// fetch issues several HTTP requests.
func (p *Pool) AcquireN(ctx context.Context, sourceID uuid.UUID, sourceName string, rpm, n int) error {
	if rpm <= 0 {
		return apperr.Validation("rate_limit_per_minute", "must be positive")
	}
	if n < 1 {
		n = 1
	}
	lim := p.bucketFor(sourceID, rpm)

	waitCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	start := time.Now()
	if err := lim.WaitN(waitCtx, n); err != nil {
		// WaitN fails fast when the needed delay exceeds the deadline, and on
		// cancellation. Either way the caller gets the reschedule signal.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.RateLimitTimeouts.WithLabelValues(sourceName).Inc()
		return &apperr.RateLimitTimeout{Source: sourceName, Waited: time.Since(start)}
	}
	return nil
}

// Remove drops a source's bucket, e.g. after the source is deleted.
func (p *Pool) Remove(sourceID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.buckets, sourceID)
}

func (p *Pool) bucketFor(sourceID uuid.UUID, rpm int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buckets[sourceID]
	if !ok {
		b = &bucket{
			limiter: rate.NewLimiter(perMinute(rpm), rpm),
			rpm:     rpm,
		}
		p.buckets[sourceID] = b
		return b.limiter
	}
	if b.rpm != rpm {
		b.limiter.SetLimit(perMinute(rpm))
		b.limiter.SetBurst(rpm)
		b.rpm = rpm
	}
	return b.limiter
}

// perMinute spreads rpm tokens evenly across 60 seconds.
func perMinute(rpm int) rate.Limit {
	return rate.Limit(float64(rpm) / 60.0)
}
