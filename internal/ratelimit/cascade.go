// =============================================================================
// CASCADE - TOPIC, BROKER AND RESOURCE GROUP CEILINGS COMBINED
// =============================================================================
//
// A publish is admitted only when every gate admits it:
//
//   batch ──► [ topic limiter ] ──► [ broker limiter ] ──► [ resource group ] ──► admitted
//                  │ atomic swap         │ shared              │ atomic bind
//                  ▼                     ▼                     ▼
//             rebuilt when the      one per broker,       shared by all topics
//             publish rate moves    reset by monitor      of bound namespaces
//
// RE-ENABLING READS:
// A throttled producer's reads come back only when every gate that was over
// its ceiling is clear again. Each reset source checks the others first:
//
//   topic window reset   → resume if broker and group not exceeded
//   broker window reset  → resume if topic and group not exceeded
//   precise/group refill → resume if topic, broker and group not exceeded
//
// SWAPS DURING A THROTTLE:
// A publish may be rejected by a limiter that is swapped out (rebuild) or
// unbound (resource group detach) before the caller has paused the
// connection. If the swap's own resume ran first the connection would stay
// paused by a limiter nobody references any more. Admit therefore throttles
// under a read lock that swaps take exclusively, and skips the throttle when
// every gate that rejected has since been replaced.
//
// =============================================================================

package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"topicgate/internal/policy"
)

// Gate identifies one ceiling of the cascade.
type Gate string

const (
	GateTopic         Gate = "topic"
	GateBroker        Gate = "broker"
	GateResourceGroup Gate = "resource_group"
)

type topicRef struct {
	limiter PublishRateLimiter
}

type groupRef struct {
	limiter GroupLimiter
	reg     *Registration
}

// Cascade combines the publish ceilings of one topic.
type Cascade struct {
	id      string
	precise bool
	broker  PublishRateLimiter
	resume  func()

	topic atomic.Pointer[topicRef]
	group atomic.Pointer[groupRef]

	// writers serializes Rebuild, Attach and Detach.
	writers sync.Mutex

	// throttleMu is held shared while a connection is being paused and
	// exclusively while a replaced limiter is retired.
	throttleMu sync.RWMutex
}

// NewCascade creates a cascade for topic id. broker may be nil, in which
// case the broker gate always admits. resume is called whenever every gate
// is clear after having throttled.
func NewCascade(id string, broker PublishRateLimiter, precise bool, resume func()) *Cascade {
	if broker == nil {
		broker = Disabled
	}
	if resume == nil {
		resume = func() {}
	}
	c := &Cascade{
		id:      id,
		precise: precise,
		broker:  broker,
		resume:  resume,
	}
	c.topic.Store(&topicRef{limiter: Disabled})
	return c
}

// Topic returns the current topic limiter.
func (c *Cascade) Topic() PublishRateLimiter {
	return c.topic.Load().limiter
}

// Broker returns the broker-wide limiter.
func (c *Cascade) Broker() PublishRateLimiter {
	return c.broker
}

// ResourceGroup returns the bound group name, if any.
func (c *Cascade) ResourceGroup() (string, bool) {
	if g := c.group.Load(); g != nil {
		return g.limiter.Name(), true
	}
	return "", false
}

// =============================================================================
// HOT PATH
// =============================================================================

// CheckPublishRate evaluates the windowed counters of the topic and broker
// gates and returns the first violation.
func (c *Cascade) CheckPublishRate() error {
	if err := c.Topic().CheckPublishRate(); err != nil {
		return fmt.Errorf("%w: %v", ErrTopicRateExceeded, err)
	}
	if err := c.broker.CheckPublishRate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerRateExceeded, err)
	}
	return nil
}

// rejection records which gates refused a batch and which limiter
// instances they were at the time.
type rejection struct {
	topic  *topicRef
	broker bool
	group  *groupRef
}

func (r rejection) err() error {
	var errs []error
	if r.topic != nil {
		errs = append(errs, ErrTopicRateExceeded)
	}
	if r.broker {
		errs = append(errs, ErrBrokerRateExceeded)
	}
	if r.group != nil {
		errs = append(errs, fmt.Errorf("%w: %s", ErrResourceGroupRateExceeded, r.group.limiter.Name()))
	}
	return errors.Join(errs...)
}

// acquire asks every gate. All gates are charged even when an earlier one
// refuses, so each limiter sees the full offered load.
func (c *Cascade) acquire(msgs int, bytes int64) (rejection, bool) {
	var rej rejection
	ok := true

	if t := c.topic.Load(); !t.limiter.TryAcquire(msgs, bytes) {
		rej.topic, ok = t, false
	}
	if !c.broker.TryAcquire(msgs, bytes) {
		rej.broker, ok = true, false
	}
	if g := c.group.Load(); g != nil && !g.limiter.TryAcquire(msgs, bytes) {
		rej.group, ok = g, false
	}
	return rej, ok
}

// TryAcquire reports whether every gate admits the batch.
func (c *Cascade) TryAcquire(msgs int, bytes int64) bool {
	_, ok := c.acquire(msgs, bytes)
	return ok
}

// Admit is TryAcquire plus throttling: when a gate refuses, throttle is
// called to pause the producer's connection. The returned error wraps the
// gate errors of every refusing gate.
func (c *Cascade) Admit(msgs int, bytes int64, throttle func()) error {
	rej, ok := c.acquire(msgs, bytes)
	if ok {
		return nil
	}

	c.throttleMu.RLock()
	defer c.throttleMu.RUnlock()

	if c.stale(rej) {
		return nil
	}
	if throttle != nil {
		throttle()
	}
	// The gate may have cleared between the refusal and the pause.
	if c.clear(rej) {
		c.resume()
	}
	return rej.err()
}

// stale reports whether every refusing gate has been replaced since.
func (c *Cascade) stale(r rejection) bool {
	if r.broker {
		return false
	}
	if r.topic != nil && c.topic.Load() == r.topic {
		return false
	}
	if r.group != nil && c.group.Load() == r.group {
		return false
	}
	return true
}

// clear reports whether every refusing gate is no longer exceeded.
func (c *Cascade) clear(r rejection) bool {
	if r.topic != nil && r.topic.limiter.IsPublishRateExceeded() {
		return false
	}
	if r.broker && c.broker.IsPublishRateExceeded() {
		return false
	}
	if r.group != nil && r.group.limiter.IsPublishRateExceeded() {
		return false
	}
	return true
}

// IsExceeded reports whether the topic or broker gate is exceeded.
func (c *Cascade) IsExceeded() bool {
	return c.Topic().IsPublishRateExceeded() || c.broker.IsPublishRateExceeded()
}

// IncrementCounters records a published batch against the topic and broker
// windows.
func (c *Cascade) IncrementCounters(msgs int, bytes int64) {
	c.Topic().IncrementPublishCount(msgs, bytes)
	c.broker.IncrementPublishCount(msgs, bytes)
}

// =============================================================================
// WINDOW RESETS
// =============================================================================

// ResetTopicWindow resets the topic window and resumes reads when the
// broker gate and any bound resource group are also clear. It reports
// whether reads were resumed.
func (c *Cascade) ResetTopicWindow() bool {
	if c.broker.IsPublishRateExceeded() || !c.Topic().ResetPublishCount() {
		return false
	}
	// The group's refill callback resumes once it clears.
	if c.groupExceeded() {
		return false
	}
	c.resume()
	return true
}

// ResetBrokerWindow is called after the broker limiter has been reset.
// doneBrokerReset is what the broker limiter's ResetPublishCount returned.
func (c *Cascade) ResetBrokerWindow(doneBrokerReset bool) bool {
	if !doneBrokerReset || c.Topic().IsPublishRateExceeded() || c.groupExceeded() {
		return false
	}
	c.resume()
	return true
}

// resumeIfClear is handed to precise limiters and resource groups, which
// only know about their own ceiling.
func (c *Cascade) resumeIfClear() {
	if c.IsExceeded() || c.groupExceeded() {
		return
	}
	c.resume()
}

func (c *Cascade) groupExceeded() bool {
	g := c.group.Load()
	return g != nil && g.limiter.IsPublishRateExceeded()
}

// =============================================================================
// RECONFIGURATION
// =============================================================================

// Rebuild replaces the topic limiter for a new effective publish rate. The
// old limiter is never modified; a new one is swapped in.
func (c *Cascade) Rebuild(r policy.PublishRate) Kind {
	c.writers.Lock()
	defer c.writers.Unlock()

	next := New(r, c.precise, c.resumeIfClear)
	old := c.topic.Swap(&topicRef{limiter: next})

	c.throttleMu.Lock()
	old.limiter.Close()
	c.throttleMu.Unlock()

	if next.Kind() == KindDisabled {
		c.resume()
	}
	return next.Kind()
}

// AttachResourceGroup binds the cascade to g. Binding the group that is
// already bound is a no-op.
func (c *Cascade) AttachResourceGroup(g GroupLimiter) {
	if g == nil {
		c.DetachResourceGroup()
		return
	}
	c.writers.Lock()
	defer c.writers.Unlock()

	cur := c.group.Load()
	if cur != nil && cur.limiter == g {
		return
	}
	if cur != nil {
		c.retireGroup(cur)
	}
	reg := g.RegisterCallback(c.id, c.resumeIfClear)
	c.group.Store(&groupRef{limiter: g, reg: reg})
	if cur != nil {
		c.resumeIfClear()
	}
}

// DetachResourceGroup unbinds the resource group, if any, and makes one
// immediate attempt to resume reads.
func (c *Cascade) DetachResourceGroup() {
	c.writers.Lock()
	if cur := c.group.Swap(nil); cur != nil {
		c.retireGroup(cur)
	}
	c.writers.Unlock()

	c.resumeIfClear()
}

func (c *Cascade) retireGroup(g *groupRef) {
	c.group.CompareAndSwap(g, nil)
	c.throttleMu.Lock()
	g.limiter.UnregisterCallback(g.reg)
	c.throttleMu.Unlock()
}

// Close unbinds the resource group and stops the topic limiter. Another
// cascade registered under the same id keeps its callback.
func (c *Cascade) Close() {
	c.writers.Lock()
	defer c.writers.Unlock()
	if cur := c.group.Swap(nil); cur != nil {
		cur.limiter.UnregisterCallback(cur.reg)
	}
	c.topic.Load().limiter.Close()
}
