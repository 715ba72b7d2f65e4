package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"topicgate/internal/policy"
)

// =============================================================================
// TOKEN BUCKET PAIR
// =============================================================================
//
// One bucket per dimension, each refilled at the ceiling per second with a
// burst of one second's worth of tokens:
//
//	┌────────────── msgs bucket ──────────────┐  ┌───────── bytes bucket ─────────┐
//	│ rate = MessagesPerSecond                │  │ rate = BytesPerSecond          │
//	│ burst = MessagesPerSecond               │  │ burst = BytesPerSecond         │
//	└─────────────────────────────────────────┘  └────────────────────────────────┘
//
// A batch always reserves its tokens, even when that drives a bucket into
// debt. The batch is admitted only if no reservation had to wait. The debt
// is what keeps an over-eager producer paused until the bucket has refilled,
// so a rejected batch still counts against the ceiling.

type bucketPair struct {
	msgs  *rate.Limiter
	bytes *rate.Limiter
}

func newBucketPair(r policy.PublishRate) bucketPair {
	var p bucketPair
	if r.MessagesPerSecond > 0 {
		p.msgs = rate.NewLimiter(rate.Limit(r.MessagesPerSecond), r.MessagesPerSecond)
	}
	if r.BytesPerSecond > 0 {
		p.bytes = rate.NewLimiter(rate.Limit(r.BytesPerSecond), clampBurst(r.BytesPerSecond))
	}
	return p
}

// reserve takes tokens for a batch and returns how long until the buckets
// are out of debt. Zero means admitted.
func (p bucketPair) reserve(now time.Time, msgs int, bytes int64) time.Duration {
	return max(reserveN(p.msgs, now, int64(msgs)), reserveN(p.bytes, now, bytes))
}

func reserveN(lim *rate.Limiter, now time.Time, n int64) time.Duration {
	if lim == nil || n <= 0 {
		return 0
	}
	// A batch larger than the burst could never be reserved; charge a full
	// bucket instead so it passes once the bucket is full.
	if b := int64(lim.Burst()); n > b {
		n = b
	}
	r := lim.ReserveN(now, int(n))
	if !r.OK() {
		return 0
	}
	return r.DelayFrom(now)
}

func clampBurst(n int64) int {
	const maxBurst = int64(^uint32(0) >> 1)
	if n > maxBurst {
		return int(maxBurst)
	}
	return int(n)
}

// =============================================================================
// RESUME TIMER
// =============================================================================

// resumeTimer fires a callback once the current debt has been repaid. While
// armed the owning limiter reports itself exceeded.
type resumeTimer struct {
	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	closed   bool
	fire     func()
}

func (t *resumeTimer) arm(now time.Time, wait time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	deadline := now.Add(wait)
	if t.timer != nil {
		if !deadline.After(t.deadline) {
			return
		}
		t.timer.Reset(wait)
		t.deadline = deadline
		return
	}
	t.deadline = deadline
	t.timer = time.AfterFunc(wait, t.expire)
}

func (t *resumeTimer) expire() {
	t.mu.Lock()
	if t.timer == nil || t.closed {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	fire := t.fire
	t.mu.Unlock()

	if fire != nil {
		fire()
	}
}

func (t *resumeTimer) pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

func (t *resumeTimer) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// =============================================================================
// PRECISE LIMITER
// =============================================================================

// PreciseLimiter enforces the publish rate with token buckets and calls
// resume when a throttled topic may send again.
type PreciseLimiter struct {
	mu      sync.Mutex
	rate    policy.PublishRate
	buckets bucketPair
	timer   resumeTimer
	now     func() time.Time
}

// NewPreciseLimiter creates a precise limiter. resume may be nil.
func NewPreciseLimiter(r policy.PublishRate, resume func()) *PreciseLimiter {
	l := &PreciseLimiter{
		rate:    r,
		buckets: newBucketPair(r),
		now:     time.Now,
	}
	l.timer.fire = resume
	return l
}

// TryAcquire reserves tokens for the batch.
func (l *PreciseLimiter) TryAcquire(msgs int, bytes int64) bool {
	l.mu.Lock()
	now := l.now()
	wait := l.buckets.reserve(now, msgs, bytes)
	l.mu.Unlock()

	if wait <= 0 {
		return true
	}
	l.timer.arm(now, wait)
	return false
}

// CheckPublishRate returns an error while a resume is pending.
func (l *PreciseLimiter) CheckPublishRate() error {
	if l.timer.pending() {
		return fmt.Errorf("%w: %s", ErrRateExceeded, l.Rate())
	}
	return nil
}

// IncrementPublishCount is a no-op; TryAcquire already charged the batch.
func (l *PreciseLimiter) IncrementPublishCount(int, int64) {}

// ResetPublishCount has no window to reset and always reports false. Reads
// come back through the resume timer instead.
func (l *PreciseLimiter) ResetPublishCount() bool {
	return false
}

// IsPublishRateExceeded is true from a rejection until the resume fires.
func (l *PreciseLimiter) IsPublishRateExceeded() bool {
	return l.timer.pending()
}

// Update rebuilds the buckets with new ceilings.
func (l *PreciseLimiter) Update(r policy.PublishRate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate = r
	l.buckets = newBucketPair(r)
}

// Rate returns the configured ceilings.
func (l *PreciseLimiter) Rate() policy.PublishRate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

func (l *PreciseLimiter) Kind() Kind { return KindPrecise }

// Close stops a pending resume.
func (l *PreciseLimiter) Close() {
	l.timer.stop()
}
