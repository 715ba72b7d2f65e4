// =============================================================================
// POLICY VALUE - TIERED OVERRIDE CELL
// =============================================================================
//
// WHAT IS A TIERED VALUE?
// Every configuration knob that governs a topic can be set at three levels:
//
//   ┌──────────────────────────────────────────────────────────────────────┐
//   │  TOPIC      set by "topics set-policies"        highest precedence   │
//   │     │                                                                │
//   │     ▼  (empty? fall through)                                         │
//   │  NAMESPACE  set by "namespaces set-policies"                         │
//   │     │                                                                │
//   │     ▼  (empty? fall through)                                         │
//   │  BROKER     process-wide configuration file     lowest precedence    │
//   └──────────────────────────────────────────────────────────────────────┘
//
// The effective value is the first non-empty slot walking top-down.
//
// WHY THREE POINTERS AND NOT A SENTINEL?
// A zero value is a legitimate setting for most knobs (0 = unlimited
// producers, false = dedup disabled). "Unset" must be distinguishable from
// every real value, so each slot is an atomic pointer: nil means unset.
//
// CONCURRENCY:
//   - Each tier is written by exactly one update path (topic policy
//     listener, namespace watcher, broker config reload)
//   - Each write is a single atomic store, so a reader never sees a torn value
//   - Readers never take a lock
//
// =============================================================================

package policy

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Tier identifies which level of the override hierarchy a value came from.
type Tier int

const (
	TierBroker Tier = iota
	TierNamespace
	TierTopic
)

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierBroker:
		return "broker"
	case TierNamespace:
		return "namespace"
	case TierTopic:
		return "topic"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier converts "broker", "namespace" or "topic" to a Tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "broker":
		return TierBroker, nil
	case "namespace", "ns":
		return TierNamespace, nil
	case "topic":
		return TierTopic, nil
	}
	return 0, fmt.Errorf("%w: unknown tier %q", ErrInvalidValue, s)
}

// Value holds up to three candidate values for one configuration item.
// The zero Value is ready to use and has every tier unset.
type Value[T any] struct {
	broker    atomic.Pointer[T]
	namespace atomic.Pointer[T]
	topic     atomic.Pointer[T]
}

func (v *Value[T]) slot(tier Tier) *atomic.Pointer[T] {
	switch tier {
	case TierTopic:
		return &v.topic
	case TierNamespace:
		return &v.namespace
	default:
		return &v.broker
	}
}

// Update replaces the value at one tier. A nil pointer clears the tier.
// The pointed-to value is copied so later mutation by the caller has no effect.
func (v *Value[T]) Update(tier Tier, val *T) {
	if val == nil {
		v.slot(tier).Store(nil)
		return
	}
	cp := *val
	v.slot(tier).Store(&cp)
}

// Set stores val at the given tier.
func (v *Value[T]) Set(tier Tier, val T) {
	v.slot(tier).Store(&val)
}

// Clear unsets the given tier.
func (v *Value[T]) Clear(tier Tier) {
	v.slot(tier).Store(nil)
}

// Get returns the effective value: topic, else namespace, else broker.
// ok is false when every tier is unset.
func (v *Value[T]) Get() (val T, ok bool) {
	if p := v.topic.Load(); p != nil {
		return *p, true
	}
	if p := v.namespace.Load(); p != nil {
		return *p, true
	}
	if p := v.broker.Load(); p != nil {
		return *p, true
	}
	return val, false
}

// GetOr returns the effective value or def when every tier is unset.
func (v *Value[T]) GetOr(def T) T {
	if val, ok := v.Get(); ok {
		return val
	}
	return def
}

// Source reports which tier currently supplies the effective value.
func (v *Value[T]) Source() (Tier, bool) {
	switch {
	case v.topic.Load() != nil:
		return TierTopic, true
	case v.namespace.Load() != nil:
		return TierNamespace, true
	case v.broker.Load() != nil:
		return TierBroker, true
	}
	return 0, false
}

// At returns the raw value stored at a single tier.
func (v *Value[T]) At(tier Tier) (val T, ok bool) {
	if p := v.slot(tier).Load(); p != nil {
		return *p, true
	}
	return val, false
}
