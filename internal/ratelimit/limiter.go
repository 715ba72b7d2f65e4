// =============================================================================
// PUBLISH RATE LIMITERS
// =============================================================================
//
// THREE FLAVOURS OF TOPIC LIMITER:
//
//   ┌───────────────┬────────────────────────────────────────────────────────┐
//   │ Disabled      │ No ceiling. Every call admits. Shared singleton.       │
//   ├───────────────┼────────────────────────────────────────────────────────┤
//   │ Windowed      │ Counts msgs/bytes since the last window reset. Once a  │
//   │               │ count passes the ceiling the limiter is "exceeded"     │
//   │               │ until the monitor resets the window. Cheap, coarse.    │
//   ├───────────────┼────────────────────────────────────────────────────────┤
//   │ Precise       │ Token buckets (golang.org/x/time/rate). A publish that │
//   │               │ overdraws the bucket is rejected and a timer fires the │
//   │               │ resume callback when the debt has been repaid.         │
//   └───────────────┴────────────────────────────────────────────────────────┘
//
// The broker-wide limiter is a Windowed limiter shared by every topic.
// Resource groups use the precise buckets and are shared by every topic of
// the namespaces bound to them.
//
// A limiter is never switched between flavours in place. When the effective
// publish rate changes the topic's Cascade builds a fresh limiter and swaps it
// in with one atomic store.
//
// =============================================================================

package ratelimit

import (
	"errors"
	"fmt"

	"topicgate/internal/policy"
)

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================

var (
	// ErrRateExceeded is the root of every publish throttling error
	ErrRateExceeded = errors.New("publish rate exceeded")

	// ErrTopicRateExceeded means the topic-level ceiling was hit
	ErrTopicRateExceeded = fmt.Errorf("%w: topic limit", ErrRateExceeded)

	// ErrBrokerRateExceeded means the broker-wide ceiling was hit
	ErrBrokerRateExceeded = fmt.Errorf("%w: broker limit", ErrRateExceeded)

	// ErrResourceGroupRateExceeded means the shared resource group ceiling was hit
	ErrResourceGroupRateExceeded = fmt.Errorf("%w: resource group limit", ErrRateExceeded)

	// ErrResourceGroupNotFound means no resource group has the requested name
	ErrResourceGroupNotFound = errors.New("resource group not found")

	// ErrResourceGroupInUse means topics still reference the resource group
	ErrResourceGroupInUse = errors.New("resource group in use")
)

// Kind names a limiter implementation.
type Kind string

const (
	KindDisabled Kind = "disabled"
	KindWindowed Kind = "windowed"
	KindPrecise  Kind = "precise"
)

// PublishRateLimiter is one publish ceiling.
type PublishRateLimiter interface {
	// CheckPublishRate evaluates the counters and returns an error wrapping
	// ErrRateExceeded while the limiter is exceeded.
	CheckPublishRate() error

	// IncrementPublishCount records a published batch.
	IncrementPublishCount(msgs int, bytes int64)

	// ResetPublishCount starts a new window. It returns true if the limiter
	// is windowed and is clear after the reset; limiters without a window
	// return false.
	ResetPublishCount() bool

	// IsPublishRateExceeded reports whether publishes are currently refused.
	IsPublishRateExceeded() bool

	// TryAcquire reports whether a batch of the given size is admitted.
	TryAcquire(msgs int, bytes int64) bool

	// Update changes the ceilings.
	Update(rate policy.PublishRate)

	// Kind reports the implementation.
	Kind() Kind

	// Close stops any pending resume timer.
	Close()
}

// =============================================================================
// DISABLED LIMITER
// =============================================================================

type disabledLimiter struct{}

// Disabled is the limiter used when a topic has no publish ceiling.
var Disabled PublishRateLimiter = disabledLimiter{}

func (disabledLimiter) CheckPublishRate() error          { return nil }
func (disabledLimiter) IncrementPublishCount(int, int64) {}
func (disabledLimiter) ResetPublishCount() bool          { return false }
func (disabledLimiter) IsPublishRateExceeded() bool      { return false }
func (disabledLimiter) TryAcquire(int, int64) bool       { return true }
func (disabledLimiter) Update(policy.PublishRate)        {}
func (disabledLimiter) Kind() Kind                       { return KindDisabled }
func (disabledLimiter) Close()                           {}

// New builds the topic limiter for rate: Disabled when neither dimension
// has a positive ceiling, otherwise precise or windowed.
func New(rate policy.PublishRate, precise bool, resume func()) PublishRateLimiter {
	if !rate.Enabled() {
		return Disabled
	}
	if precise {
		return NewPreciseLimiter(rate, resume)
	}
	return NewWindowedLimiter(rate)
}
