// =============================================================================
// CASCADE TESTS
// =============================================================================
//
// KEY BEHAVIORS TO TEST:
//   - Any single refusing gate refuses the batch
//   - Window resets resume reads only when the other side is clear
//   - A topic paused by its resource group stays paused until the group
//     refills, whatever the windows do
//   - Swapping the topic limiter never mutates the old one
//   - Detaching a resource group always leaves the connection readable,
//     even while producers are being throttled concurrently
//
// =============================================================================

package ratelimit

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"topicgate/internal/policy"
)

type stubGroup struct {
	name     string
	admit    atomic.Bool
	exceeded atomic.Bool

	mu        sync.Mutex
	callbacks map[string]*Registration
}

func newStubGroup(name string, admit bool) *stubGroup {
	g := &stubGroup{name: name, callbacks: map[string]*Registration{}}
	g.admit.Store(admit)
	return g
}

func (g *stubGroup) Name() string { return g.name }
func (g *stubGroup) TryAcquire(int, int64) bool {
	if !g.admit.Load() {
		g.exceeded.Store(true)
		return false
	}
	return true
}
func (g *stubGroup) IsPublishRateExceeded() bool { return g.exceeded.Load() }
func (g *stubGroup) RegisterCallback(id string, fn func()) *Registration {
	g.mu.Lock()
	defer g.mu.Unlock()
	reg := &Registration{id: id, fn: fn}
	g.callbacks[id] = reg
	return reg
}
func (g *stubGroup) UnregisterCallback(reg *Registration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.callbacks[reg.id] == reg {
		delete(g.callbacks, reg.id)
	}
}

// refill clears the group and runs the callback registered under id.
func (g *stubGroup) refill(id string) {
	g.admit.Store(true)
	g.exceeded.Store(false)
	g.mu.Lock()
	reg := g.callbacks[id]
	g.mu.Unlock()
	if reg != nil {
		reg.fn()
	}
}
func (g *stubGroup) registered(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.callbacks[id]
	return ok
}

func TestCascade_AnyGateRefuses(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(c *Cascade, broker *WindowedLimiter)
		wantErr error
	}{
		{
			name:  "all clear",
			setup: func(c *Cascade, broker *WindowedLimiter) {},
		},
		{
			name: "topic refuses",
			setup: func(c *Cascade, broker *WindowedLimiter) {
				c.Rebuild(policy.PublishRate{MessagesPerSecond: 1})
				c.IncrementCounters(1, 0)
			},
			wantErr: ErrTopicRateExceeded,
		},
		{
			name: "broker refuses",
			setup: func(c *Cascade, broker *WindowedLimiter) {
				broker.Update(policy.PublishRate{MessagesPerSecond: 1})
				broker.IncrementPublishCount(5, 0)
				_ = broker.CheckPublishRate()
			},
			wantErr: ErrBrokerRateExceeded,
		},
		{
			name: "resource group refuses",
			setup: func(c *Cascade, broker *WindowedLimiter) {
				c.AttachResourceGroup(newStubGroup("rg", false))
			},
			wantErr: ErrResourceGroupRateExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := NewWindowedLimiter(policy.PublishRate{})
			c := NewCascade("t", broker, false, nil)
			defer c.Close()
			tt.setup(c, broker)

			ok := c.TryAcquire(1, 10)
			if ok != (tt.wantErr == nil) {
				t.Fatalf("TryAcquire = %v, want %v", ok, tt.wantErr == nil)
			}
			err := c.Admit(1, 10, nil)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Admit = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Admit = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCascade_CheckPublishRate(t *testing.T) {
	broker := NewWindowedLimiter(policy.PublishRate{MessagesPerSecond: 100})
	c := NewCascade("t", broker, false, nil)
	c.Rebuild(policy.PublishRate{MessagesPerSecond: 10})

	c.IncrementCounters(11, 0)
	if err := c.CheckPublishRate(); !errors.Is(err, ErrTopicRateExceeded) {
		t.Fatalf("CheckPublishRate = %v, want topic violation", err)
	}
	if !c.IsExceeded() {
		t.Error("IsExceeded = false")
	}
	if broker.IsPublishRateExceeded() {
		t.Error("broker should still be under its ceiling")
	}
}

func TestCascade_ResetsResumeOnlyWhenOtherSideClear(t *testing.T) {
	var resumes atomic.Int32
	broker := NewWindowedLimiter(policy.PublishRate{MessagesPerSecond: 5})
	c := NewCascade("t", broker, false, func() { resumes.Add(1) })
	c.Rebuild(policy.PublishRate{MessagesPerSecond: 5})
	resumes.Store(0)

	// both windows over their ceilings
	c.IncrementCounters(10, 0)
	_ = c.CheckPublishRate()
	_ = broker.CheckPublishRate()

	if c.ResetTopicWindow() {
		t.Error("topic reset resumed while broker exceeded")
	}
	c.IncrementCounters(10, 0)
	_ = c.Topic().CheckPublishRate()

	done := broker.ResetPublishCount()
	if c.ResetBrokerWindow(done) {
		t.Error("broker reset resumed while topic exceeded")
	}
	if resumes.Load() != 0 {
		t.Fatalf("resumed %d times while a gate was exceeded", resumes.Load())
	}

	if !c.ResetTopicWindow() {
		t.Error("topic reset with broker clear should resume")
	}
	if resumes.Load() != 1 {
		t.Errorf("resumes = %d, want 1", resumes.Load())
	}
}

func TestCascade_RebuildSwapsWholesale(t *testing.T) {
	var resumes atomic.Int32
	c := NewCascade("t", nil, true, func() { resumes.Add(1) })

	if kind := c.Rebuild(policy.PublishRate{MessagesPerSecond: 10}); kind != KindPrecise {
		t.Fatalf("Rebuild kind = %s, want precise", kind)
	}
	first := c.Topic()

	c.Rebuild(policy.PublishRate{MessagesPerSecond: 20})
	if c.Topic() == first {
		t.Error("Rebuild mutated the limiter in place")
	}
	if got := first.(*PreciseLimiter).Rate().MessagesPerSecond; got != 10 {
		t.Errorf("old limiter rate changed to %d", got)
	}

	before := resumes.Load()
	if kind := c.Rebuild(policy.PublishRate{}); kind != KindDisabled {
		t.Fatalf("Rebuild kind = %s, want disabled", kind)
	}
	if resumes.Load() != before+1 {
		t.Error("switching to the disabled limiter should resume reads")
	}
}

func TestCascade_AttachDetachResourceGroup(t *testing.T) {
	var resumes atomic.Int32
	c := NewCascade("persistent://a/b/c", nil, false, func() { resumes.Add(1) })

	g1 := newStubGroup("g1", true)
	c.AttachResourceGroup(g1)
	if !g1.registered("persistent://a/b/c") {
		t.Fatal("callback not registered on attach")
	}
	if name, ok := c.ResourceGroup(); !ok || name != "g1" {
		t.Errorf("ResourceGroup = %q, %v", name, ok)
	}

	g2 := newStubGroup("g2", true)
	c.AttachResourceGroup(g2)
	if g1.registered("persistent://a/b/c") {
		t.Error("old group still has the callback after rebinding")
	}

	before := resumes.Load()
	c.DetachResourceGroup()
	if g2.registered("persistent://a/b/c") {
		t.Error("callback still registered after detach")
	}
	if _, ok := c.ResourceGroup(); ok {
		t.Error("group still bound after detach")
	}
	if resumes.Load() != before+1 {
		t.Error("detach should make one resume attempt")
	}

	// detaching twice is harmless and still tries to resume
	c.DetachResourceGroup()
	if resumes.Load() != before+2 {
		t.Error("second detach should still try to resume")
	}
}

func TestCascade_DetachRacingThrottleNeverStrandsReads(t *testing.T) {
	for round := 0; round < 50; round++ {
		var paused atomic.Bool
		c := NewCascade("t", nil, false, func() { paused.Store(false) })
		g := newStubGroup("rg", false)
		c.AttachResourceGroup(g)

		var wg sync.WaitGroup
		stop := make(chan struct{})
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					_ = c.Admit(1, 1, func() { paused.Store(true) })
				}
			}()
		}

		time.Sleep(time.Millisecond)
		c.DetachResourceGroup()
		time.Sleep(time.Millisecond)
		close(stop)
		wg.Wait()

		if paused.Load() {
			t.Fatalf("round %d: connection left paused after detach", round)
		}
	}
}

func TestCascade_ResourceGroupHoldsResumeAcrossWindowResets(t *testing.T) {
	var resumes, throttles atomic.Int32
	broker := NewWindowedLimiter(policy.PublishRate{MessagesPerSecond: 1000})
	c := NewCascade("t", broker, false, func() { resumes.Add(1) })
	defer c.Close()
	c.Rebuild(policy.PublishRate{MessagesPerSecond: 1000})

	g := newStubGroup("rg", false)
	c.AttachResourceGroup(g)
	resumes.Store(0)

	err := c.Admit(1, 10, func() { throttles.Add(1) })
	if !errors.Is(err, ErrResourceGroupRateExceeded) {
		t.Fatalf("Admit = %v, want ErrResourceGroupRateExceeded", err)
	}
	if throttles.Load() != 1 {
		t.Fatalf("throttles = %d, want 1", throttles.Load())
	}
	if c.IsExceeded() {
		t.Error("IsExceeded covers only the topic and broker gates")
	}

	for tick := 0; tick < 3; tick++ {
		if c.ResetTopicWindow() {
			t.Errorf("tick %d: topic reset resumed while the group is exceeded", tick)
		}
		if c.ResetBrokerWindow(broker.ResetPublishCount()) {
			t.Errorf("tick %d: broker reset resumed while the group is exceeded", tick)
		}
	}
	if resumes.Load() != 0 {
		t.Fatalf("resumed %d times while the group was exceeded", resumes.Load())
	}

	g.refill("t")
	if resumes.Load() != 1 {
		t.Errorf("resumes after refill = %d, want 1", resumes.Load())
	}
	if !c.ResetTopicWindow() {
		t.Error("topic reset should resume once every gate is clear")
	}
}

func TestCascade_PreciseIdleTicksDoNotResume(t *testing.T) {
	var resumes atomic.Int32
	c := NewCascade("t", nil, true, func() { resumes.Add(1) })
	defer c.Close()
	if kind := c.Rebuild(policy.PublishRate{MessagesPerSecond: 100}); kind != KindPrecise {
		t.Fatalf("Rebuild kind = %s, want precise", kind)
	}
	resumes.Store(0)

	for i := 0; i < 5; i++ {
		if c.ResetTopicWindow() {
			t.Errorf("tick %d resumed an idle precise topic", i)
		}
	}
	if resumes.Load() != 0 {
		t.Errorf("resumes = %d, want 0", resumes.Load())
	}
}

func TestCascade_CloseKeepsNewerRegistration(t *testing.T) {
	g := newStubGroup("rg", true)
	const id = "persistent://a/b/c"

	stale := NewCascade(id, nil, false, nil)
	stale.AttachResourceGroup(g)
	current := NewCascade(id, nil, false, nil)
	current.AttachResourceGroup(g)
	defer current.Close()

	stale.Close()
	if !g.registered(id) {
		t.Fatal("closing a replaced cascade removed the current callback")
	}

	current.DetachResourceGroup()
	if g.registered(id) {
		t.Error("callback still registered after the current cascade detached")
	}
}
