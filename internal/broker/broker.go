// =============================================================================
// BROKER - TOPIC REGISTRY AND SHARED ADMISSION INFRASTRUCTURE
// =============================================================================
//
// WHAT IS THE BROKER?
// The process-wide owner of everything topics share:
//
//   ┌──────────────────────────────── Broker ────────────────────────────────┐
//   │                                                                        │
//   │   topics          name → *Topic                                        │
//   │   policies        PolicyStore (namespace + topic documents)            │
//   │   brokerLimiter   windowed limiter every topic cascades into           │
//   │   groups          ResourceGroupManager (shared limiters)               │
//   │   monitor         cron: window resets, inactive topic sweep            │
//   │   epochs          persistent → bolt, non-persistent → memory           │
//   │   ownership       OwnershipChecker                                     │
//   │                                                                        │
//   └────────────────────────────────────────────────────────────────────────┘
//
// Policy writes go to the store first and are then pushed to every loaded
// topic they affect; topics loaded later read the store at creation.
//
// =============================================================================

package broker

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"topicgate/internal/policy"
	"topicgate/internal/ratelimit"
)

// =============================================================================
// BROKER CONFIGURATION
// =============================================================================

// BrokerConfig holds broker configuration.
type BrokerConfig struct {
	// NodeID identifies this broker
	NodeID string

	// Cluster selects per-cluster namespace publish rates
	Cluster string

	// DataDir holds the epoch database. Empty keeps epochs in memory.
	DataDir string

	LogLevel slog.Level

	// Logger overrides the default text logger built from LogLevel
	Logger *slog.Logger

	// PolicyDefaults is the broker tier of every policy item
	PolicyDefaults policy.BrokerDefaults

	// BrokerPublishRate caps publishing across all topics (zero = unlimited)
	BrokerPublishRate policy.PublishRate

	PreciseRateLimiting     bool
	MaxSameAddressProducers int
	MaxSameAddressConsumers int
	ReplicatorPrefix        string

	Monitor ratelimit.MonitorConfig

	// InactiveTopicCheckInterval is how often idle topics are swept
	// (0 disables the sweep)
	InactiveTopicCheckInterval time.Duration

	// OwnedNamespaces limits the namespaces served (empty = all)
	OwnedNamespaces []string

	// Ownership overrides OwnedNamespaces with an external checker
	Ownership OwnershipChecker
}

// DefaultBrokerConfig returns sensible defaults for a standalone broker.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		NodeID:                     "node-1",
		Cluster:                    "standalone",
		DataDir:                    "./data",
		LogLevel:                   slog.LevelInfo,
		PolicyDefaults:             DefaultTopicConfig("public/default/x").BrokerDefaults,
		ReplicatorPrefix:           "pulsar.repl",
		Monitor:                    ratelimit.DefaultMonitorConfig(),
		InactiveTopicCheckInterval: time.Minute,
	}
}

// =============================================================================
// BROKER STRUCT
// =============================================================================

// Broker owns every loaded topic and the infrastructure they share.
type Broker struct {
	config BrokerConfig
	logger *slog.Logger

	mu      sync.RWMutex
	topics  map[string]*Topic
	loading map[string]*topicLoad
	closed  bool

	policies      *PolicyStore
	groups        *ratelimit.ResourceGroupManager
	brokerLimiter *ratelimit.WindowedLimiter
	monitor       *ratelimit.Monitor

	persistentEpochs EpochStore
	volatileEpochs   EpochStore
	ownership        OwnershipChecker

	startedAt time.Time
}

// NewBroker creates a broker. Call Start to begin the periodic jobs.
func NewBroker(config BrokerConfig) (*Broker, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.LogLevel,
		}))
	}

	b := &Broker{
		config:         config,
		logger:         logger,
		topics:         make(map[string]*Topic),
		loading:        make(map[string]*topicLoad),
		policies:       NewPolicyStore(),
		groups:         ratelimit.NewResourceGroupManager(logger),
		brokerLimiter:  ratelimit.NewWindowedLimiter(config.BrokerPublishRate),
		volatileEpochs: NewMemoryEpochStore(),
		startedAt:      time.Now(),
	}

	if config.DataDir != "" {
		store, err := OpenBoltEpochStore(filepath.Join(config.DataDir, "epochs.db"))
		if err != nil {
			return nil, err
		}
		b.persistentEpochs = store
	} else {
		b.persistentEpochs = NewMemoryEpochStore()
	}

	switch {
	case config.Ownership != nil:
		b.ownership = config.Ownership
	case len(config.OwnedNamespaces) > 0:
		b.ownership = NewNamespaceOwnership(config.OwnedNamespaces...)
	default:
		b.ownership = AlwaysOwned{}
	}

	monitor, err := ratelimit.NewMonitor(b.brokerLimiter, config.Monitor, logger)
	if err != nil {
		b.persistentEpochs.Close()
		return nil, err
	}
	b.monitor = monitor
	if config.InactiveTopicCheckInterval > 0 {
		err := monitor.Schedule("inactive-topic-sweep", config.InactiveTopicCheckInterval, b.sweepInactiveTopics)
		if err != nil {
			b.persistentEpochs.Close()
			return nil, err
		}
	}

	logger.Info("broker created",
		"nodeID", config.NodeID,
		"cluster", config.Cluster,
		"dataDir", config.DataDir,
		"preciseRateLimiting", config.PreciseRateLimiting,
		"brokerPublishRate", config.BrokerPublishRate)
	return b, nil
}

// Start begins the window resets and the inactive topic sweep.
func (b *Broker) Start() {
	b.monitor.Start()
}

// Close stops the periodic jobs, closes every topic, and closes the epoch
// stores.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	topics := make([]*Topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.topics = make(map[string]*Topic)
	b.mu.Unlock()

	<-b.monitor.Stop().Done()

	for _, t := range topics {
		t.Close()
	}

	var firstErr error
	if err := b.persistentEpochs.Close(); err != nil {
		firstErr = err
	}
	if err := b.volatileEpochs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	b.logger.Info("broker closed", "topics", len(topics))
	return firstErr
}

// =============================================================================
// TOPIC MANAGEMENT
// =============================================================================

// topicLoad is a topic being created. Concurrent callers for the same name
// wait on done instead of building their own copy.
type topicLoad struct {
	done  chan struct{}
	topic *Topic
	err   error
}

// GetOrCreateTopic returns the loaded topic, creating it on first use. Only
// one caller builds a given topic; the others wait for its result.
func (b *Broker) GetOrCreateTopic(ctx context.Context, name string) (*Topic, error) {
	tn, err := ParseTopicName(name)
	if err != nil {
		return nil, err
	}
	id := tn.String()

	b.mu.RLock()
	t, ok := b.topics[id]
	b.mu.RUnlock()
	if ok {
		return t, nil
	}

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrBrokerClosed
		}
		if t, ok := b.topics[id]; ok {
			b.mu.Unlock()
			return t, nil
		}
		if load, ok := b.loading[id]; ok {
			b.mu.Unlock()
			select {
			case <-load.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			// The loader's own deadline is not ours; try again.
			if errors.Is(load.err, context.Canceled) || errors.Is(load.err, context.DeadlineExceeded) {
				continue
			}
			return load.topic, load.err
		}
		load := &topicLoad{done: make(chan struct{})}
		b.loading[id] = load
		b.mu.Unlock()

		load.topic, load.err = b.loadTopic(ctx, tn)
		close(load.done)
		return load.topic, load.err
	}
}

// loadTopic builds the topic for tn and publishes it in the registry. The
// caller owns the loading entry for tn; loadTopic removes it.
func (b *Broker) loadTopic(ctx context.Context, tn TopicName) (*Topic, error) {
	id := tn.String()
	created, err := b.newTopic(ctx, tn)

	b.mu.Lock()
	delete(b.loading, id)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	if b.closed {
		b.mu.Unlock()
		created.Close()
		return nil, ErrBrokerClosed
	}
	b.topics[id] = created
	count := len(b.topics)
	b.mu.Unlock()

	b.monitor.Register(id, created)
	instrumentTopicCount(count)
	b.logger.Info("topic loaded", "topic", id)
	return created, nil
}

func (b *Broker) newTopic(ctx context.Context, tn TopicName) (*Topic, error) {
	id := tn.String()
	if err := b.ownership.VerifyOwnership(ctx, tn); err != nil {
		return nil, err
	}

	config := TopicConfig{
		Name:                    id,
		Cluster:                 b.config.Cluster,
		BrokerDefaults:          b.config.PolicyDefaults,
		MaxSameAddressProducers: b.config.MaxSameAddressProducers,
		MaxSameAddressConsumers: b.config.MaxSameAddressConsumers,
		ReplicatorPrefix:        b.config.ReplicatorPrefix,
		PreciseRateLimiting:     b.config.PreciseRateLimiting,
	}
	epochs := b.volatileEpochs
	if tn.IsPersistent() {
		epochs = b.persistentEpochs
	}
	created, err := NewTopic(ctx, config, TopicDeps{
		EpochStore:     epochs,
		Ownership:      b.ownership,
		BrokerLimiter:  b.brokerLimiter,
		ResourceGroups: b.groups,
		Policies:       b.policies,
		Logger:         b.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create topic %s: %w", id, err)
	}
	return created, nil
}

// GetTopic returns a loaded topic.
func (b *Broker) GetTopic(name string) (*Topic, error) {
	tn, err := ParseTopicName(name)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[tn.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, tn)
	}
	return t, nil
}

// ListTopics returns the names of loaded topics, sorted.
func (b *Broker) ListTopics() []string {
	b.mu.RLock()
	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	b.mu.RUnlock()
	slices.Sort(names)
	return names
}

// DeleteTopic unloads a topic and forgets its epoch and topic policies.
// Without force, a topic with attached clients is refused.
func (b *Broker) DeleteTopic(ctx context.Context, name string, force bool) error {
	t, err := b.GetTopic(name)
	if err != nil {
		return err
	}
	if n := t.CurrentUsageCount(); n > 0 && !force {
		return fmt.Errorf("%w: %s has %d attached clients", ErrTopicInUse, t.ID(), n)
	}

	b.mu.Lock()
	if b.topics[t.ID()] == t {
		delete(b.topics, t.ID())
	}
	count := len(b.topics)
	b.mu.Unlock()

	b.monitor.Unregister(t.ID())
	t.Close()

	epochs := b.volatileEpochs
	if t.Name().IsPersistent() {
		epochs = b.persistentEpochs
	}
	if err := epochs.DeleteEpoch(ctx, t.ID()); err != nil {
		b.logger.Warn("failed to delete topic epoch", "topic", t.ID(), "error", err)
	}
	b.policies.DeleteTopicPolicies(t.ID())

	instrumentTopicDeleted(t.ID())
	instrumentTopicCount(count)
	b.logger.Info("topic deleted", "topic", t.ID(), "force", force)
	return nil
}

func (b *Broker) loadedTopics() []*Topic {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Topic, 0, len(b.topics))
	for _, t := range b.topics {
		out = append(out, t)
	}
	return out
}

// sweepInactiveTopics deletes topics whose inactive-topic policy allows it.
func (b *Broker) sweepInactiveTopics() {
	now := time.Now()
	for _, t := range b.loadedTopics() {
		if !t.ShouldDeleteWhileInactive(now) {
			continue
		}
		if err := b.DeleteTopic(context.Background(), t.ID(), false); err != nil {
			b.logger.Debug("inactive topic not deleted", "topic", t.ID(), "error", err)
			continue
		}
		b.logger.Info("inactive topic deleted", "topic", t.ID(), "lastActive", t.LastActive())
	}
}

// =============================================================================
// POLICIES
// =============================================================================

func parseNamespace(ns string) (string, error) {
	tenant, name, ok := strings.Cut(ns, "/")
	if !ok || tenant == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: namespace %q is not tenant/namespace", ErrInvalidRequest, ns)
	}
	return ns, nil
}

// SetNamespacePolicies stores doc and applies it to every loaded topic of
// the namespace. A document marked deleted changes nothing on the topics.
func (b *Broker) SetNamespacePolicies(namespace string, doc *policy.NamespacePolicies) error {
	ns, err := parseNamespace(namespace)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: empty namespace policies", ErrInvalidRequest)
	}
	b.policies.SetNamespacePolicies(ns, doc)

	applied := 0
	for _, t := range b.loadedTopics() {
		if t.Name().NamespaceName() != ns {
			continue
		}
		if err := t.UpdatePolicyTier(policy.TierNamespace, doc); err != nil {
			return err
		}
		applied++
	}
	b.logger.Info("namespace policies updated", "namespace", ns, "topics", applied, "deleted", doc.Deleted)
	return nil
}

// NamespacePolicies returns the stored namespace document.
func (b *Broker) NamespacePolicies(namespace string) (*policy.NamespacePolicies, error) {
	ns, err := parseNamespace(namespace)
	if err != nil {
		return nil, err
	}
	doc, _ := b.policies.NamespacePolicies(context.Background(), ns)
	return doc, nil
}

// SetTopicPolicies stores doc and applies it if the topic is loaded.
func (b *Broker) SetTopicPolicies(topic string, doc *policy.TopicPolicies) error {
	tn, err := ParseTopicName(topic)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: empty topic policies", ErrInvalidRequest)
	}
	b.policies.SetTopicPolicies(tn.String(), doc)

	if t, err := b.GetTopic(tn.String()); err == nil {
		return t.UpdatePolicyTier(policy.TierTopic, doc)
	}
	return nil
}

// TopicPolicies returns the stored topic document, nil if none.
func (b *Broker) TopicPolicies(topic string) (*policy.TopicPolicies, error) {
	tn, err := ParseTopicName(topic)
	if err != nil {
		return nil, err
	}
	doc, _ := b.policies.TopicPolicies(context.Background(), tn.String())
	return doc, nil
}

// DeleteTopicPolicies clears the topic tier.
func (b *Broker) DeleteTopicPolicies(topic string) error {
	tn, err := ParseTopicName(topic)
	if err != nil {
		return err
	}
	b.policies.DeleteTopicPolicies(tn.String())
	if t, err := b.GetTopic(tn.String()); err == nil {
		return t.UpdatePolicyTier(policy.TierTopic, nil)
	}
	return nil
}

// =============================================================================
// RATE LIMITS
// =============================================================================

// UpsertResourceGroup creates or updates a resource group and rebinds every
// topic that references it.
func (b *Broker) UpsertResourceGroup(name string, rate policy.PublishRate) error {
	if _, err := b.groups.Upsert(name, rate); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for _, t := range b.loadedTopics() {
		if rg, ok := t.Policies().ResourceGroup(); ok && rg == name {
			t.RefreshRateLimits()
		}
	}
	instrumentResourceGroups(len(b.groups.List()))
	return nil
}

// DeleteResourceGroup removes a resource group no topic is attached to.
func (b *Broker) DeleteResourceGroup(name string) error {
	if err := b.groups.Delete(name); err != nil {
		return err
	}
	instrumentResourceGroups(len(b.groups.List()))
	return nil
}

func (b *Broker) ResourceGroups() []ratelimit.ResourceGroupInfo {
	return b.groups.List()
}

// UpdateBrokerPublishRate changes the broker-wide ceiling in place.
func (b *Broker) UpdateBrokerPublishRate(rate policy.PublishRate) {
	b.brokerLimiter.Update(rate)
	b.logger.Info("broker publish rate updated", "rate", rate)
}

// =============================================================================
// STATS
// =============================================================================

// BrokerStats is the admin view of the broker.
type BrokerStats struct {
	NodeID              string                        `json:"nodeId" yaml:"node_id"`
	Cluster             string                        `json:"cluster" yaml:"cluster"`
	Uptime              string                        `json:"uptime" yaml:"uptime"`
	TopicCount          int                           `json:"topicCount" yaml:"topic_count"`
	Producers           int                           `json:"producers" yaml:"producers"`
	UsageCount          int64                         `json:"usageCount" yaml:"usage_count"`
	BrokerPublishRate   policy.PublishRate            `json:"brokerPublishRate" yaml:"broker_publish_rate"`
	BrokerRateExceeded  bool                          `json:"brokerRateExceeded" yaml:"broker_rate_exceeded"`
	PreciseRateLimiting bool                          `json:"preciseRateLimiting" yaml:"precise_rate_limiting"`
	ResourceGroups      []ratelimit.ResourceGroupInfo `json:"resourceGroups" yaml:"resource_groups"`
}

func (b *Broker) Stats() BrokerStats {
	topics := b.loadedTopics()
	slices.SortFunc(topics, func(x, y *Topic) int { return cmp.Compare(x.ID(), y.ID()) })

	stats := BrokerStats{
		NodeID:              b.config.NodeID,
		Cluster:             b.config.Cluster,
		Uptime:              b.Uptime().Truncate(time.Second).String(),
		TopicCount:          len(topics),
		BrokerPublishRate:   b.brokerLimiter.Rate(),
		BrokerRateExceeded:  b.brokerLimiter.IsPublishRateExceeded(),
		PreciseRateLimiting: b.config.PreciseRateLimiting,
		ResourceGroups:      b.groups.List(),
	}
	for _, t := range topics {
		stats.Producers += t.producers.Len()
		stats.UsageCount += t.CurrentUsageCount()
	}
	return stats
}

// Ready reports whether the broker accepts new topics.
func (b *Broker) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func (b *Broker) Config() BrokerConfig  { return b.config }
func (b *Broker) NodeID() string        { return b.config.NodeID }
func (b *Broker) Uptime() time.Duration { return time.Since(b.startedAt) }
func (b *Broker) Logger() *slog.Logger  { return b.logger }

// Monitor exposes the window-reset scheduler, mainly for admin tooling that
// forces a reset.
func (b *Broker) Monitor() *ratelimit.Monitor { return b.monitor }
