// =============================================================================
// RESOURCE GROUPS - PUBLISH CEILINGS SHARED ACROSS TOPICS
// =============================================================================
//
// A resource group is a named publish budget shared by every topic of every
// namespace bound to it:
//
//   namespace acme/orders  ──┐
//                            ├──► ResourceGroup "gold" (10K msg/s shared)
//   namespace acme/billing ──┘          │
//                                       │ on refill after a rejection
//                                       ▼
//                     callback per registered topic → re-enable reads
//
// Topics register a callback under their own name when they bind to the
// group and unregister it when the namespace binding goes away. A later
// registration under the same name replaces the earlier one, and only the
// current registration can remove the entry.
//
// =============================================================================

package ratelimit

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"topicgate/internal/policy"
)

// GroupLimiter is the shared limiter a topic consults when bound to a
// resource group.
type GroupLimiter interface {
	Name() string
	TryAcquire(msgs int, bytes int64) bool
	IsPublishRateExceeded() bool
	RegisterCallback(id string, fn func()) *Registration
	UnregisterCallback(reg *Registration)
}

// Registration is a callback installed under a topic id.
type Registration struct {
	id string
	fn func()
}

// ID returns the topic id the callback was registered under.
func (r *Registration) ID() string { return r.id }

// ResourceGroup is a named shared publish limiter.
type ResourceGroup struct {
	name string

	mu        sync.Mutex
	rate      policy.PublishRate
	buckets   bucketPair
	callbacks map[string]*Registration

	timer resumeTimer
	now   func() time.Time
}

// NewResourceGroup creates a standalone group. Most callers go through
// ResourceGroupManager.
func NewResourceGroup(name string, r policy.PublishRate) *ResourceGroup {
	g := &ResourceGroup{
		name:      name,
		rate:      r,
		buckets:   newBucketPair(r),
		callbacks: make(map[string]*Registration),
		now:       time.Now,
	}
	g.timer.fire = g.notify
	return g
}

func (g *ResourceGroup) Name() string { return g.name }

// Rate returns the group ceilings.
func (g *ResourceGroup) Rate() policy.PublishRate {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rate
}

// TryAcquire charges the batch against the shared budget.
func (g *ResourceGroup) TryAcquire(msgs int, bytes int64) bool {
	g.mu.Lock()
	now := g.now()
	wait := g.buckets.reserve(now, msgs, bytes)
	g.mu.Unlock()

	if wait <= 0 {
		return true
	}
	g.timer.arm(now, wait)
	return false
}

// IsPublishRateExceeded is true from a rejection until the callbacks fire.
func (g *ResourceGroup) IsPublishRateExceeded() bool {
	return g.timer.pending()
}

// RegisterCallback installs fn under id, replacing any previous one.
func (g *ResourceGroup) RegisterCallback(id string, fn func()) *Registration {
	reg := &Registration{id: id, fn: fn}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks[id] = reg
	return reg
}

// UnregisterCallback removes reg if it is still the callback for its id.
// A registration that has since been replaced is ignored.
func (g *ResourceGroup) UnregisterCallback(reg *Registration) {
	if reg == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.callbacks[reg.id] == reg {
		delete(g.callbacks, reg.id)
	}
}

// Members returns the ids with a registered callback, sorted.
func (g *ResourceGroup) Members() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.callbacks))
	for id := range g.callbacks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Update rebuilds the buckets with new ceilings.
func (g *ResourceGroup) Update(r policy.PublishRate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rate = r
	g.buckets = newBucketPair(r)
}

func (g *ResourceGroup) notify() {
	g.mu.Lock()
	fns := make([]func(), 0, len(g.callbacks))
	for _, reg := range g.callbacks {
		fns = append(fns, reg.fn)
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (g *ResourceGroup) close() {
	g.timer.stop()
}

// =============================================================================
// RESOURCE GROUP MANAGER
// =============================================================================

// ResourceGroupInfo is the admin view of a group.
type ResourceGroupInfo struct {
	Name        string             `json:"name" yaml:"name"`
	PublishRate policy.PublishRate `json:"publishRate" yaml:"publish_rate"`
	Topics      []string           `json:"topics" yaml:"topics"`
}

// ResourceGroupManager owns every resource group of the broker.
type ResourceGroupManager struct {
	mu     sync.RWMutex
	groups map[string]*ResourceGroup
	logger *slog.Logger
}

// NewResourceGroupManager creates an empty manager.
func NewResourceGroupManager(logger *slog.Logger) *ResourceGroupManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceGroupManager{
		groups: make(map[string]*ResourceGroup),
		logger: logger.With("component", "resource-groups"),
	}
}

// Upsert creates the group or updates its rate, returning the group.
func (m *ResourceGroupManager) Upsert(name string, r policy.PublishRate) (*ResourceGroup, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", policy.ErrInvalidValue)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.groups[name]; ok {
		g.Update(r)
		m.logger.Info("updated resource group", "group", name, "rate", r.String())
		return g, nil
	}
	g := NewResourceGroup(name, r)
	m.groups[name] = g
	m.logger.Info("created resource group", "group", name, "rate", r.String())
	return g, nil
}

// Get returns the group called name.
func (m *ResourceGroupManager) Get(name string) (*ResourceGroup, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[name]
	return g, ok
}

// Delete removes a group that no topic is bound to.
func (m *ResourceGroupManager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrResourceGroupNotFound, name)
	}
	if members := g.Members(); len(members) > 0 {
		return fmt.Errorf("%w: %s is used by %d topics", ErrResourceGroupInUse, name, len(members))
	}
	g.close()
	delete(m.groups, name)
	m.logger.Info("deleted resource group", "group", name)
	return nil
}

// List returns every group, sorted by name.
func (m *ResourceGroupManager) List() []ResourceGroupInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ResourceGroupInfo, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, ResourceGroupInfo{
			Name:        g.Name(),
			PublishRate: g.Rate(),
			Topics:      g.Members(),
		})
	}
	slices.SortFunc(out, func(a, b ResourceGroupInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}
