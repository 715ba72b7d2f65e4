package ratelimit

import (
	"fmt"
	"sync/atomic"

	"topicgate/internal/policy"
)

// WindowedLimiter counts publishes between window resets.
//
//	 window start            ceiling crossed            monitor tick
//	      │                        │                         │
//	──────┼────────────────────────┼─────────────────────────┼──────► time
//	      │ counts grow            │ exceeded = true         │ counts = 0
//	      │                        │ reads disabled          │ exceeded = false
//	      │                        │                         │ reads re-enabled
//
// All state is atomic; no call blocks.
type WindowedLimiter struct {
	maxMsgs  atomic.Int64
	maxBytes atomic.Int64

	msgs     atomic.Int64
	bytes    atomic.Int64
	exceeded atomic.Bool
}

// NewWindowedLimiter creates a windowed limiter with the given ceilings.
func NewWindowedLimiter(rate policy.PublishRate) *WindowedLimiter {
	l := &WindowedLimiter{}
	l.Update(rate)
	return l
}

func (l *WindowedLimiter) enabled() bool {
	return l.maxMsgs.Load() > 0 || l.maxBytes.Load() > 0
}

// CheckPublishRate marks the limiter exceeded once either counter has gone
// past its ceiling in the current window.
func (l *WindowedLimiter) CheckPublishRate() error {
	if !l.enabled() {
		return nil
	}
	if !l.exceeded.Load() {
		if maxBytes := l.maxBytes.Load(); maxBytes > 0 && l.bytes.Load() > maxBytes {
			l.exceeded.Store(true)
			l.bytes.Store(0)
		} else if maxMsgs := l.maxMsgs.Load(); maxMsgs > 0 && l.msgs.Load() > maxMsgs {
			l.exceeded.Store(true)
			l.msgs.Store(0)
		}
	}
	if l.exceeded.Load() {
		return fmt.Errorf("%w: msgs=%d/s bytes=%d/s", ErrRateExceeded, l.maxMsgs.Load(), l.maxBytes.Load())
	}
	return nil
}

// IncrementPublishCount adds a batch to the current window.
func (l *WindowedLimiter) IncrementPublishCount(msgs int, bytes int64) {
	if !l.enabled() {
		return
	}
	l.msgs.Add(int64(msgs))
	l.bytes.Add(bytes)
}

// ResetPublishCount clears the window. Returns false when disabled.
func (l *WindowedLimiter) ResetPublishCount() bool {
	if !l.enabled() {
		return false
	}
	l.msgs.Store(0)
	l.bytes.Store(0)
	l.exceeded.Store(false)
	return true
}

// IsPublishRateExceeded reports the sticky exceeded flag.
func (l *WindowedLimiter) IsPublishRateExceeded() bool {
	return l.exceeded.Load()
}

// TryAcquire reports whether the batch fits in the rest of the window. It
// does not count the batch; IncrementPublishCount does. A batch that does
// not fit marks the limiter exceeded until the next reset.
func (l *WindowedLimiter) TryAcquire(msgs int, bytes int64) bool {
	if !l.enabled() {
		return true
	}
	if l.exceeded.Load() {
		return false
	}
	// A fresh window always takes its first batch, however large.
	usedMsgs, usedBytes := l.msgs.Load(), l.bytes.Load()
	overMsgs := l.maxMsgs.Load() > 0 && usedMsgs > 0 && usedMsgs+int64(msgs) > l.maxMsgs.Load()
	overBytes := l.maxBytes.Load() > 0 && usedBytes > 0 && usedBytes+bytes > l.maxBytes.Load()
	if overMsgs || overBytes {
		l.exceeded.Store(true)
		return false
	}
	return true
}

// Update replaces the ceilings. Counters are kept.
func (l *WindowedLimiter) Update(rate policy.PublishRate) {
	l.maxMsgs.Store(int64(max(rate.MessagesPerSecond, 0)))
	l.maxBytes.Store(max(rate.BytesPerSecond, 0))
	if !l.enabled() {
		l.exceeded.Store(false)
	}
}

// Rate returns the current ceilings.
func (l *WindowedLimiter) Rate() policy.PublishRate {
	return policy.PublishRate{
		MessagesPerSecond: int(l.maxMsgs.Load()),
		BytesPerSecond:    l.maxBytes.Load(),
	}
}

func (l *WindowedLimiter) Kind() Kind { return KindWindowed }

func (l *WindowedLimiter) Close() {}
