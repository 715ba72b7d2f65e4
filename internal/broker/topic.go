// =============================================================================
// TOPIC - THE ADMISSION AND THROTTLING SURFACE OF ONE TOPIC
// =============================================================================
//
// WHAT IS A TOPIC HERE?
// The in-process control surface the connection layer talks to when a
// producer or consumer attaches, and on every publish. It owns no message
// data; it decides who may attach and how fast they may publish.
//
//   ┌────────────────────────────── Topic ───────────────────────────────────┐
//   │                                                                        │
//   │   policies   policy.Resolver      topic > namespace > broker values    │
//   │   admission  AdmissionController  access modes, epochs, FIFO waiters   │
//   │   producers  ProducerRegistry     name → producer, lock-free reads     │
//   │   limiter    ratelimit.Cascade    topic ∧ broker ∧ resource group      │
//   │   usage      UsageCounter         producers + consumers attached       │
//   │                                                                        │
//   └────────────────────────────────────────────────────────────────────────┘
//
// ADD PRODUCER PIPELINE:
//
//   lifecycle check ─► ownership ─► admission decision ─► [epoch store] ─►
//   register (ceilings, successor swap) ─► usage++
//
// The topic write lock is held for the decision and the registration, never
// across the ownership check or the epoch store call.
//
// =============================================================================

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"topicgate/internal/policy"
	"topicgate/internal/ratelimit"
)

// =============================================================================
// TOPIC CONFIGURATION
// =============================================================================

// TopicConfig holds the broker-level settings a topic is created with.
type TopicConfig struct {
	// Name is the topic name in any form ParseTopicName accepts
	Name string

	// Cluster selects the namespace publish rate for this cluster
	Cluster string

	// BrokerDefaults is the broker tier of every policy item
	BrokerDefaults policy.BrokerDefaults

	// MaxSameAddressProducers caps producers per client address (0 = unlimited)
	MaxSameAddressProducers int

	// MaxSameAddressConsumers caps consumers per client address (0 = unlimited)
	MaxSameAddressConsumers int

	// ReplicatorPrefix marks replicator producers, whose names are treated
	// as broker-generated
	ReplicatorPrefix string

	// PreciseRateLimiting selects token buckets over reset windows
	PreciseRateLimiting bool
}

// DefaultTopicConfig returns default configuration for a topic.
func DefaultTopicConfig(name string) TopicConfig {
	return TopicConfig{
		Name:             name,
		Cluster:          "standalone",
		ReplicatorPrefix: "pulsar.repl",
		BrokerDefaults: policy.BrokerDefaults{
			InactiveTopicPolicies: policy.InactiveTopicPolicies{
				DeleteMode:                 policy.DeleteWhenNoSubscriptions,
				MaxInactiveDurationSeconds: 60,
			},
			SubscriptionTypesEnabled: []string{"Exclusive", "Shared", "Failover", "Key_Shared"},
			MaxMessageSize:           5 * 1024 * 1024,
		},
	}
}

// ResourceGroupLookup finds shared resource group limiters by name.
type ResourceGroupLookup interface {
	Get(name string) (*ratelimit.ResourceGroup, bool)
}

// TopicDeps are the collaborators a topic is wired to. Nil fields get a
// standalone default.
type TopicDeps struct {
	EpochStore     EpochStore
	Ownership      OwnershipChecker
	BrokerLimiter  ratelimit.PublishRateLimiter
	ResourceGroups ResourceGroupLookup
	Policies       PolicySource
	Logger         *slog.Logger
}

// =============================================================================
// TOPIC STRUCT
// =============================================================================

// Topic is the admission core of one topic.
type Topic struct {
	name   TopicName
	id     string
	config TopicConfig
	logger *slog.Logger

	// mu is the topic write lock. The admission controller shares it.
	mu            sync.RWMutex
	producers     ProducerRegistry
	subscriptions map[string]*subscription
	consumers     int

	admission *AdmissionController
	usage     UsageCounter

	policies    *policy.Resolver
	policyMu    sync.Mutex
	publishRate atomic.Pointer[policy.PublishRate]
	limiter     *ratelimit.Cascade

	epochs    EpochStore
	ownership OwnershipChecker
	groups    ResourceGroupLookup

	// lifecycle flags change under mu and are read lock-free
	fenced     atomic.Bool
	terminated atomic.Bool
	closed     atomic.Bool

	lastActive atomic.Int64
	msgIn      atomic.Int64
	bytesIn    atomic.Int64
	createdAt  time.Time
}

// =============================================================================
// TOPIC CREATION
// =============================================================================

// NewTopic creates a topic, loads its epoch, and applies the policies
// available from deps.Policies. A policy source failure is logged and the
// broker defaults stay in effect.
func NewTopic(ctx context.Context, config TopicConfig, deps TopicDeps) (*Topic, error) {
	name, err := ParseTopicName(config.Name)
	if err != nil {
		return nil, err
	}
	if deps.EpochStore == nil {
		deps.EpochStore = NewMemoryEpochStore()
	}
	if deps.Ownership == nil {
		deps.Ownership = AlwaysOwned{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	t := &Topic{
		name:          name,
		id:            name.String(),
		config:        config,
		logger:        deps.Logger.With("component", "topic"),
		subscriptions: make(map[string]*subscription),
		epochs:        deps.EpochStore,
		ownership:     deps.Ownership,
		groups:        deps.ResourceGroups,
		createdAt:     time.Now(),
	}
	t.touch()

	t.policies = policy.NewResolver(config.Cluster, name.IsSystem())
	t.policies.ApplyBroker(&config.BrokerDefaults)
	t.limiter = ratelimit.NewCascade(t.id, deps.BrokerLimiter, config.PreciseRateLimiting, t.enableProducerReadsForRateLimit)

	var initial *uint64
	epoch, ok, err := t.epochs.LoadEpoch(ctx, t.id)
	if err != nil {
		t.limiter.Close()
		return nil, fmt.Errorf("failed to load topic epoch: %w", err)
	}
	if ok {
		initial = &epoch
	}
	t.admission = NewAdmissionController(t.id, &t.mu, &t.producers, t.epochs, initial, deps.Logger)

	if deps.Policies != nil {
		t.loadPolicies(ctx, deps.Policies)
	}
	t.policyMu.Lock()
	t.refreshPublishRate()
	t.policyMu.Unlock()

	return t, nil
}

func (t *Topic) loadPolicies(ctx context.Context, src PolicySource) {
	ns, err := src.NamespacePolicies(ctx, t.name.NamespaceName())
	if err != nil {
		t.logger.Warn("namespace policies unavailable, broker defaults apply",
			"topic", t.id, "error", fmt.Errorf("%w: %v", ErrPolicyUnavailable, err))
	} else {
		t.policies.ApplyNamespace(ns)
	}

	tp, err := src.TopicPolicies(ctx, t.id)
	if err != nil {
		t.logger.Warn("topic policies unavailable",
			"topic", t.id, "error", fmt.Errorf("%w: %v", ErrPolicyUnavailable, err))
	} else if tp != nil {
		t.policies.ApplyTopic(tp)
	}
}

func (t *Topic) Name() TopicName { return t.name }

// ID is the fully qualified topic name.
func (t *Topic) ID() string { return t.id }

func (t *Topic) touch() {
	t.lastActive.Store(time.Now().UnixNano())
}

// =============================================================================
// PRODUCERS
// =============================================================================

// AddProducer admits p and returns the topic epoch it was admitted with
// (nil while the topic has none). onQueued is called if p has to wait for
// exclusive access; the call then blocks until p is promoted, the topic is
// closed, or ctx is done.
func (t *Topic) AddProducer(ctx context.Context, p *Producer, onQueued func()) (*uint64, error) {
	start := time.Now()
	epoch, err := t.addProducer(ctx, p, onQueued)
	if err != nil {
		instrumentRejected(t.id, err)
		t.logger.Warn("producer rejected",
			"topic", t.id, "producer", p.Name(), "accessMode", p.AccessMode(), "error", err)
		return nil, err
	}

	instrumentAdmitted(t.id, p.AccessMode(), start)
	instrumentTopicState(t)
	t.logger.Info("producer added",
		"topic", t.id, "producer", p.Name(), "accessMode", p.AccessMode(),
		"address", p.ClientAddress())
	return epoch, nil
}

func (t *Topic) addProducer(ctx context.Context, p *Producer, onQueued func()) (*uint64, error) {
	if err := t.checkAccepting(); err != nil {
		return nil, err
	}
	if err := t.ownership.VerifyOwnership(ctx, t.name); err != nil {
		if !errors.Is(err, ErrTopicUnavailable) {
			err = fmt.Errorf("%w: %v", ErrNotOwned, err)
		}
		return nil, err
	}

	register := func(epoch *uint64) error {
		if err := t.registerLocked(p); err != nil {
			return err
		}
		p.setAssignedEpoch(epoch)
		return nil
	}
	return t.admission.Admit(ctx, p, register, onQueued)
}

func (t *Topic) checkAccepting() error {
	switch {
	case t.closed.Load():
		return fmt.Errorf("%w: topic %s is closed", ErrTopicUnavailable, t.id)
	case t.fenced.Load():
		return fmt.Errorf("%w: topic %s is temporarily unavailable", ErrTopicFenced, t.id)
	case t.terminated.Load():
		return fmt.Errorf("%w: topic %s was already terminated", ErrTopicTerminated, t.id)
	}
	return nil
}

// registerLocked applies the producer ceilings and inserts p, swapping out
// a producer it legitimately succeeds. Caller holds t.mu.
func (t *Topic) registerLocked(p *Producer) error {
	if err := t.checkAccepting(); err != nil {
		return err
	}
	if limit := t.policies.MaxProducersPerTopic(); limit > 0 && t.producers.Len() >= limit {
		return fmt.Errorf("%w: topic reached max producers limit %d", ErrProducerBusy, limit)
	}
	if limit := t.config.MaxSameAddressProducers; limit > 0 && p.ClientAddress() != "" &&
		t.producers.CountAddress(p.ClientAddress()) >= limit {
		return fmt.Errorf("%w: topic reached max same address producers limit %d", ErrProducerBusy, limit)
	}

	if existing, loaded := t.producers.PutIfAbsent(p); loaded {
		if err := t.overwriteLocked(existing, p); err != nil {
			return err
		}
		return nil
	}
	t.usage.Increment()
	t.touch()
	return nil
}

// overwriteLocked replaces old by p if p is a reconnect of old and neither
// name was chosen by the client.
func (t *Topic) overwriteLocked(old, p *Producer) error {
	if !p.IsSuccessorTo(old) || t.isUserProvidedName(old) || t.isUserProvidedName(p) {
		return fmt.Errorf("%w: producer with name %q is already connected to topic", ErrNamingConflict, p.Name())
	}

	old.close(false)
	if !t.producers.Replace(old, p) {
		return fmt.Errorf("%w: producer %q", ErrProducerReplaceRace, p.Name())
	}
	// one detach, one attach
	t.usage.Decrement()
	t.usage.Increment()
	t.touch()
	t.logger.Info("producer replaced by its successor",
		"topic", t.id, "producer", p.Name(), "oldEpoch", old.Epoch(), "newEpoch", p.Epoch())
	return nil
}

// isUserProvidedName treats replicator producers as broker-named.
func (t *Topic) isUserProvidedName(p *Producer) bool {
	if t.config.ReplicatorPrefix != "" && strings.HasPrefix(p.Name(), t.config.ReplicatorPrefix) {
		return false
	}
	return p.IsUserProvidedName()
}

// RemoveProducer detaches p. Removing a producer that is not the one
// registered under its name is a no-op.
func (t *Topic) RemoveProducer(p *Producer) bool {
	t.mu.Lock()
	removed := t.producers.Remove(p)
	if removed {
		t.usage.Decrement()
		t.touch()
	}
	t.mu.Unlock()

	if !removed {
		return false
	}
	p.close(true)
	t.admission.Release(p)

	instrumentRemoved(t.id)
	instrumentTopicState(t)
	t.logger.Info("producer removed", "topic", t.id, "producer", p.Name())
	return true
}

// Producers returns the attached producers sorted by name.
func (t *Topic) Producers() []*Producer {
	return t.producers.List()
}

// Producer returns the producer registered under name.
func (t *Topic) Producer(name string) (*Producer, bool) {
	return t.producers.Get(name)
}

// =============================================================================
// CONSUMERS
// =============================================================================

// AddConsumer attaches c to its subscription, creating the subscription on
// first use.
func (t *Topic) AddConsumer(ctx context.Context, c *Consumer) error {
	err := t.addConsumer(ctx, c)
	if err != nil {
		instrumentConsumerRejected(t.id, err)
		t.logger.Warn("consumer rejected",
			"topic", t.id, "subscription", c.Subscription(), "consumer", c.Name(), "error", err)
		return err
	}
	instrumentTopicState(t)
	t.logger.Info("consumer added",
		"topic", t.id, "subscription", c.Subscription(), "consumer", c.Name(), "type", c.SubscriptionType())
	return nil
}

func (t *Topic) addConsumer(ctx context.Context, c *Consumer) error {
	if c.Subscription() == "" {
		return fmt.Errorf("%w: empty subscription name", ErrInvalidRequest)
	}
	if err := t.ownership.VerifyOwnership(ctx, t.name); err != nil {
		if !errors.Is(err, ErrTopicUnavailable) {
			err = fmt.Errorf("%w: %v", ErrNotOwned, err)
		}
		return err
	}
	if enabled := t.policies.SubscriptionTypesEnabled(); enabled != nil && !enabled.Contains(c.SubscriptionType()) {
		return fmt.Errorf("%w: subscription type %s is not enabled on topic", ErrInvalidRequest, c.SubscriptionType())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return fmt.Errorf("%w: topic %s is closed", ErrTopicUnavailable, t.id)
	}
	if t.fenced.Load() {
		return fmt.Errorf("%w: topic %s is temporarily unavailable", ErrTopicFenced, t.id)
	}
	if limit := t.policies.MaxConsumersPerTopic(); limit > 0 && t.consumers >= limit {
		return fmt.Errorf("%w: topic reached max consumers limit %d", ErrConsumerBusy, limit)
	}
	if limit := t.config.MaxSameAddressConsumers; limit > 0 && c.ClientAddress() != "" &&
		t.countConsumerAddressLocked(c.ClientAddress()) >= limit {
		return fmt.Errorf("%w: topic reached max same address consumers limit %d", ErrConsumerBusy, limit)
	}

	sub, ok := t.subscriptions[c.Subscription()]
	if !ok {
		if limit := t.policies.MaxSubscriptionsPerTopic(); limit > 0 && len(t.subscriptions) >= limit {
			return fmt.Errorf("%w: topic reached max subscriptions limit %d", ErrConsumerBusy, limit)
		}
		sub = &subscription{
			name:      c.Subscription(),
			subType:   c.SubscriptionType(),
			consumers: make(map[string]*Consumer),
			createdAt: time.Now(),
		}
	}
	if len(sub.consumers) > 0 && sub.subType != c.SubscriptionType() {
		return fmt.Errorf("%w: subscription %s is %s, consumer asked for %s",
			ErrConsumerBusy, sub.name, sub.subType, c.SubscriptionType())
	}
	if sub.subType == policy.SubscriptionExclusive && len(sub.consumers) > 0 {
		return fmt.Errorf("%w: exclusive consumer is already connected to %s", ErrConsumerBusy, sub.name)
	}
	if limit := t.policies.MaxConsumersPerSubscription(); limit > 0 && len(sub.consumers) >= limit {
		return fmt.Errorf("%w: subscription reached max consumers limit %d", ErrConsumerBusy, limit)
	}
	if _, dup := sub.consumers[c.Name()]; dup {
		return fmt.Errorf("%w: consumer %q is already attached to %s", ErrConsumerBusy, c.Name(), sub.name)
	}

	sub.subType = c.SubscriptionType()
	sub.consumers[c.Name()] = c
	t.subscriptions[sub.name] = sub
	t.consumers++
	t.usage.Increment()
	t.touch()
	return nil
}

func (t *Topic) countConsumerAddressLocked(addr string) int {
	n := 0
	for _, sub := range t.subscriptions {
		for _, c := range sub.consumers {
			if c.ClientAddress() == addr {
				n++
			}
		}
	}
	return n
}

// RemoveConsumer detaches c. Unknown consumers are ignored. The
// subscription itself stays until Unsubscribe.
func (t *Topic) RemoveConsumer(c *Consumer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.subscriptions[c.Subscription()]
	if !ok || sub.consumers[c.Name()] != c {
		return false
	}
	delete(sub.consumers, c.Name())
	t.consumers--
	t.usage.Decrement()
	t.touch()
	return true
}

// Unsubscribe deletes a subscription with no consumers attached.
func (t *Topic) Unsubscribe(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.subscriptions[name]
	if !ok {
		return fmt.Errorf("%w: subscription %s not found", ErrInvalidRequest, name)
	}
	if len(sub.consumers) > 0 {
		return fmt.Errorf("%w: subscription %s has %d consumers", ErrConsumerBusy, name, len(sub.consumers))
	}
	delete(t.subscriptions, name)
	t.touch()
	return nil
}

// =============================================================================
// PUBLISH THROTTLING
// =============================================================================

// CheckPublishThrottle returns an error wrapping ratelimit.ErrRateExceeded
// while the topic or broker window is over its ceiling.
func (t *Topic) CheckPublishThrottle() error {
	return t.limiter.CheckPublishRate()
}

// TryAcquirePublish reports whether every gate admits the batch.
func (t *Topic) TryAcquirePublish(msgs int, bytes int64) bool {
	return t.limiter.TryAcquire(msgs, bytes)
}

// IncrementPublishCounters records a published batch.
func (t *Topic) IncrementPublishCounters(msgs int, bytes int64) {
	t.limiter.IncrementCounters(msgs, bytes)
	t.msgIn.Add(int64(msgs))
	t.bytesIn.Add(bytes)
	instrumentPublish(t.id, msgs, bytes)
}

// IsExceedMaximumMessageSize reports whether a message of size bytes is
// over the effective max message size. Chunked messages are never checked,
// and neither is a limit at or above the broker-wide max message size,
// which the frame decoder already enforces.
func (t *Topic) IsExceedMaximumMessageSize(size int, chunked bool) bool {
	if chunked {
		return false
	}
	limit := t.policies.MaxMessageSize()
	if limit <= 0 {
		return false
	}
	if frame := t.config.BrokerDefaults.MaxMessageSize; frame > 0 && limit >= frame {
		return false
	}
	return size > limit
}

// AdmitPublish runs the publish path for one batch from p: size check,
// every rate gate (pausing p's connection on refusal), then the counters.
// A refused batch is not counted.
func (t *Topic) AdmitPublish(p *Producer, msgs int, bytes int64, chunked bool) error {
	if t.IsExceedMaximumMessageSize(int(bytes), chunked) {
		return fmt.Errorf("%w: %d bytes exceeds max message size %d",
			ErrMessageTooLarge, bytes, t.policies.MaxMessageSize())
	}

	var throttle func()
	if cnx := p.Connection(); cnx != nil {
		throttle = cnx.DisableReads
	}
	if err := t.limiter.Admit(msgs, bytes, throttle); err != nil {
		instrumentThrottle(t.id, err)
		t.logger.Debug("publish throttled", "topic", t.id, "producer", p.Name(), "error", err)
		return err
	}

	t.IncrementPublishCounters(msgs, bytes)
	t.touch()
	return nil
}

// enableProducerReadsForRateLimit is the resume callback of the cascade.
func (t *Topic) enableProducerReadsForRateLimit() {
	t.producers.Range(func(p *Producer) bool {
		if cnx := p.Connection(); cnx != nil {
			cnx.CancelThrottlingState()
			cnx.EnableReads()
		}
		return true
	})
	instrumentResume(t.id)
}

// DisableProducerReads pauses every producer connection.
func (t *Topic) DisableProducerReads() {
	t.producers.Range(func(p *Producer) bool {
		if cnx := p.Connection(); cnx != nil {
			cnx.DisableReads()
		}
		return true
	})
}

// EnableProducerReads resumes every producer connection.
func (t *Topic) EnableProducerReads() {
	t.producers.Range(func(p *Producer) bool {
		if cnx := p.Connection(); cnx != nil {
			cnx.EnableReads()
		}
		return true
	})
}

// ResetTopicWindow and ResetBrokerWindow let the monitor drive the windows.
func (t *Topic) ResetTopicWindow() bool {
	return t.limiter.ResetTopicWindow()
}

func (t *Topic) ResetBrokerWindow(doneBrokerReset bool) bool {
	return t.limiter.ResetBrokerWindow(doneBrokerReset)
}

// =============================================================================
// POLICIES
// =============================================================================

// UpdatePolicyTier replaces one whole tier from a document. A nil topic
// document clears the topic tier.
func (t *Topic) UpdatePolicyTier(tier policy.Tier, doc policy.Document) error {
	if doc != nil && doc.Tier() != tier {
		return fmt.Errorf("%w: %s document applied to %s tier", policy.ErrTierMismatch, doc.Tier(), tier)
	}

	t.policyMu.Lock()
	defer t.policyMu.Unlock()

	switch {
	case doc != nil:
		t.policies.Apply(doc)
	case tier == policy.TierTopic:
		t.policies.ApplyTopic(nil)
	default:
		return fmt.Errorf("%w: no %s policies given", ErrInvalidRequest, tier)
	}
	t.refreshPublishRate()
	return nil
}

// UpdatePolicyItem replaces one item at one tier.
func (t *Topic) UpdatePolicyItem(tier policy.Tier, item policy.Item, value any) error {
	t.policyMu.Lock()
	defer t.policyMu.Unlock()
	if err := t.policies.UpdateTier(tier, item, value); err != nil {
		return err
	}
	t.refreshPublishRate()
	return nil
}

// RefreshRateLimits re-reads the effective publish rate and resource group,
// for when a resource group the topic references changed.
func (t *Topic) RefreshRateLimits() {
	t.policyMu.Lock()
	defer t.policyMu.Unlock()
	t.refreshPublishRate()
}

// refreshPublishRate rebuilds the topic limiter when the effective rate
// changed and rebinds the resource group. Caller holds policyMu.
func (t *Topic) refreshPublishRate() {
	rate := t.policies.PublishRate()
	if cur := t.publishRate.Load(); cur == nil || *cur != rate {
		kind := t.limiter.Rebuild(rate)
		t.publishRate.Store(&rate)
		source, _ := t.policies.PublishRateSource()
		instrumentTopicRate(t.id, rate)
		t.logger.Info("publish rate limiter updated",
			"topic", t.id, "rate", rate, "kind", kind, "tier", source)
	}
	t.refreshResourceGroup()
}

func (t *Topic) refreshResourceGroup() {
	if name, ok := t.policies.ResourceGroup(); ok && t.groups != nil {
		if g, found := t.groups.Get(name); found {
			t.limiter.AttachResourceGroup(g)
			return
		}
		t.logger.Warn("resource group not found, publishing without it",
			"topic", t.id, "resourceGroup", name)
	}
	if _, bound := t.limiter.ResourceGroup(); bound {
		t.limiter.DetachResourceGroup()
	}
}

// EffectivePolicy returns the effective value of item, nil when no tier
// sets it.
func (t *Topic) EffectivePolicy(item policy.Item) (any, error) {
	if !t.policies.Tracks(item) {
		return nil, fmt.Errorf("%w: %s", policy.ErrUnknownItem, item)
	}
	v, _, _ := t.policies.Effective(item)
	return v, nil
}

// EffectivePolicies returns a snapshot of every effective value.
func (t *Topic) EffectivePolicies() policy.EffectivePolicies {
	return t.policies.Snapshot()
}

// Policies exposes the resolver for typed reads.
func (t *Topic) Policies() *policy.Resolver {
	return t.policies
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Fence stops new producers and consumers from attaching.
func (t *Topic) Fence() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fenced.CompareAndSwap(false, true) {
		t.logger.Info("topic fenced", "topic", t.id)
	}
}

func (t *Topic) Unfence() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fenced.CompareAndSwap(true, false) {
		t.logger.Info("topic unfenced", "topic", t.id)
	}
}

// Terminate permanently refuses new producers. Attached producers are
// closed.
func (t *Topic) Terminate() error {
	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		return fmt.Errorf("%w: topic %s is closed", ErrTopicUnavailable, t.id)
	}
	if !t.terminated.CompareAndSwap(false, true) {
		t.mu.Unlock()
		return nil
	}
	producers := t.producers.List()
	t.mu.Unlock()

	n := t.admission.FailWaiting(fmt.Errorf("%w: topic %s was terminated", ErrTopicTerminated, t.id))
	for _, p := range producers {
		p.close(false)
		t.RemoveProducer(p)
	}
	t.logger.Info("topic terminated", "topic", t.id, "producersClosed", len(producers), "waitersFailed", n)
	return nil
}

// Close tears the topic down. Queued producers fail with
// ErrTopicUnavailable and attached producers are disconnected.
func (t *Topic) Close() error {
	t.mu.Lock()
	if !t.closed.CompareAndSwap(false, true) {
		t.mu.Unlock()
		return nil
	}
	producers := t.producers.List()
	for _, p := range producers {
		if t.producers.Remove(p) {
			t.usage.Decrement()
		}
	}
	for _, sub := range t.subscriptions {
		for name := range sub.consumers {
			delete(sub.consumers, name)
			t.consumers--
			t.usage.Decrement()
		}
	}
	t.mu.Unlock()

	n := t.admission.FailWaiting(fmt.Errorf("%w: topic %s is closed", ErrTopicUnavailable, t.id))
	for _, p := range producers {
		p.close(false)
	}
	t.limiter.Close()

	t.logger.Info("topic closed", "topic", t.id, "producersClosed", len(producers), "waitersFailed", n)
	return nil
}

func (t *Topic) IsFenced() bool     { return t.fenced.Load() }
func (t *Topic) IsTerminated() bool { return t.terminated.Load() }
func (t *Topic) IsClosed() bool     { return t.closed.Load() }

// CurrentUsageCount is the number of attached producers and consumers.
func (t *Topic) CurrentUsageCount() int64 {
	return t.usage.Current()
}

// LastActive is the last time a client attached, detached or published.
func (t *Topic) LastActive() time.Time {
	return time.Unix(0, t.lastActive.Load())
}

// ShouldDeleteWhileInactive reports whether the inactive-topic policy
// allows deleting the topic at now.
func (t *Topic) ShouldDeleteWhileInactive(now time.Time) bool {
	p := t.policies.InactiveTopicPolicies()
	if !p.DeleteWhileInactive || t.usage.Current() > 0 {
		return false
	}
	if now.Sub(t.LastActive()) < time.Duration(p.MaxInactiveDurationSeconds)*time.Second {
		return false
	}
	if p.DeleteMode == policy.DeleteWhenNoSubscriptions {
		t.mu.RLock()
		defer t.mu.RUnlock()
		return len(t.subscriptions) == 0
	}
	// No backlog is tracked here, so subscriptions are always caught up.
	return true
}

// =============================================================================
// STATS
// =============================================================================

// TopicStats is the admin view of a topic.
type TopicStats struct {
	Name                string              `json:"name" yaml:"name"`
	Producers           []ProducerInfo      `json:"producers" yaml:"producers"`
	Subscriptions       []SubscriptionStats `json:"subscriptions" yaml:"subscriptions"`
	UsageCount          int64               `json:"usageCount" yaml:"usage_count"`
	TopicEpoch          *uint64             `json:"topicEpoch,omitempty" yaml:"topic_epoch,omitempty"`
	ExclusiveProducer   string              `json:"exclusiveProducer,omitempty" yaml:"exclusive_producer,omitempty"`
	WaitingProducers    []string            `json:"waitingProducers,omitempty" yaml:"waiting_producers,omitempty"`
	Fenced              bool                `json:"fenced" yaml:"fenced"`
	Terminated          bool                `json:"terminated" yaml:"terminated"`
	MsgInCounter        int64               `json:"msgInCounter" yaml:"msg_in_counter"`
	BytesInCounter      int64               `json:"bytesInCounter" yaml:"bytes_in_counter"`
	PublishRate         policy.PublishRate  `json:"publishRate" yaml:"publish_rate"`
	RateLimiter         string              `json:"rateLimiter" yaml:"rate_limiter"`
	PublishRateExceeded bool                `json:"publishRateExceeded" yaml:"publish_rate_exceeded"`
	ResourceGroup       string              `json:"resourceGroup,omitempty" yaml:"resource_group,omitempty"`
	LastActive          time.Time           `json:"lastActive" yaml:"last_active"`
	CreatedAt           time.Time           `json:"createdAt" yaml:"created_at"`
}

func (t *Topic) Stats() TopicStats {
	producers := t.producers.List()
	infos := make([]ProducerInfo, 0, len(producers))
	for _, p := range producers {
		infos = append(infos, p.Info())
	}

	t.mu.RLock()
	subs := sortedSubscriptionStats(t.subscriptions)
	t.mu.RUnlock()

	stats := TopicStats{
		Name:                t.id,
		Producers:           infos,
		Subscriptions:       subs,
		UsageCount:          t.usage.Current(),
		WaitingProducers:    t.admission.WaitingNames(),
		Fenced:              t.fenced.Load(),
		Terminated:          t.terminated.Load(),
		MsgInCounter:        t.msgIn.Load(),
		BytesInCounter:      t.bytesIn.Load(),
		PublishRate:         t.policies.PublishRate(),
		RateLimiter:         string(t.limiter.Topic().Kind()),
		PublishRateExceeded: t.limiter.IsExceeded(),
		LastActive:          t.LastActive(),
		CreatedAt:           t.createdAt,
	}
	if e, ok := t.admission.Epoch(); ok {
		stats.TopicEpoch = &e
	}
	if holder, ok := t.admission.Exclusive(); ok {
		stats.ExclusiveProducer = holder
	}
	if rg, ok := t.limiter.ResourceGroup(); ok {
		stats.ResourceGroup = rg
	}
	return stats
}
