package analyzer

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements the token-bucket-ish inter-request delay from
// original_source/token_analyzer.py's RateLimiter: a single scalar
// delay that doubles on a 429 up to a ceiling and halves back toward
// baseline after a success that followed throttling. Scope is
// per-worker per SPEC_FULL.md §13's resolution of the corresponding
// Open Question: one RateLimiter instance is shared by every goroutine
// in a single TokenAnalyzer batch, bounding steady-state request rate
// under sustained throttling by construction.
type RateLimiter struct {
	mu              sync.Mutex
	initialDelay    time.Duration
	maxDelay        time.Duration
	backoffFactor   float64
	currentDelay    time.Duration
	consecutive429s int
	lastRequest     time.Time
}

// NewRateLimiter constructs a RateLimiter with token_analyzer.py's
// defaults (1s initial, 60s ceiling, factor 2).
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		initialDelay:  time.Second,
		maxDelay:      60 * time.Second,
		backoffFactor: 2.0,
		currentDelay:  time.Second,
	}
}

// WaitIfNeeded sleeps the remaining portion of the current delay since
// the last request, respecting ctx cancellation.
func (r *RateLimiter) WaitIfNeeded(ctx context.Context) error {
	r.mu.Lock()
	remaining := r.currentDelay - time.Since(r.lastRequest)
	r.mu.Unlock()

	if remaining > 0 {
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	r.lastRequest = time.Now()
	r.mu.Unlock()
	return nil
}

// HandleSuccess halves the delay back toward baseline, but only if
// there were prior 429s — a request that never throttled never
// inflated the delay in the first place.
func (r *RateLimiter) HandleSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consecutive429s == 0 {
		return
	}
	r.consecutive429s = 0
	half := time.Duration(float64(r.currentDelay) / r.backoffFactor)
	if half < r.initialDelay {
		half = r.initialDelay
	}
	r.currentDelay = half
}

// Handle429 doubles the delay up to the ceiling and counts the
// consecutive throttle.
func (r *RateLimiter) Handle429() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutive429s++
	doubled := time.Duration(float64(r.currentDelay) * r.backoffFactor)
	if doubled > r.maxDelay {
		doubled = r.maxDelay
	}
	r.currentDelay = doubled
}
