// =============================================================================
// POLICY RESOLVER - EFFECTIVE CONFIGURATION FOR ONE TOPIC
// =============================================================================
//
// The resolver owns one Value per configuration item and three bulk update
// paths, one per tier:
//
//   ┌───────────────────┐   ApplyTopic()      ┌────────────────────────────┐
//   │ topic policies    │────────────────────►│                            │
//   └───────────────────┘                     │   Value[int]  maxProducers │
//   ┌───────────────────┐   ApplyNamespace()  │   Value[bool] dedup        │
//   │ namespace doc     │────────────────────►│   Value[...]  ...          │──► typed getters
//   └───────────────────┘                     │                            │
//   ┌───────────────────┐   ApplyBroker()     │   backlogQuota[type]       │
//   │ broker config     │────────────────────►│                            │
//   └───────────────────┘                     └────────────────────────────┘
//
// CONSISTENCY:
// A bulk apply writes each item with its own atomic store. A reader running
// alongside may see some items from the new document and some from the old
// one, but never half of one item.
//
// DEFAULTS WHEN EVERY TIER IS EMPTY:
//   - ceilings (max producers, consumers, ...) → 0, meaning unlimited
//   - booleans → false
//   - sizes and intervals → 0, meaning the check is disabled
//   - publish rate → zero, meaning no throttling
//
// =============================================================================

package policy

import (
	"fmt"
	"slices"
)

// Item names one resolvable configuration knob.
type Item string

const (
	ItemRetention                     Item = "retention"
	ItemMaxProducersPerTopic          Item = "max_producers_per_topic"
	ItemMaxConsumersPerTopic          Item = "max_consumers_per_topic"
	ItemMaxSubscriptionsPerTopic      Item = "max_subscriptions_per_topic"
	ItemMaxConsumersPerSubscription   Item = "max_consumers_per_subscription"
	ItemDeduplicationEnabled          Item = "deduplication_enabled"
	ItemDeduplicationSnapshotInterval Item = "deduplication_snapshot_interval_seconds"
	ItemBacklogQuotaStorage           Item = "backlog_quota.destination_storage"
	ItemBacklogQuotaMessageAge        Item = "backlog_quota.message_age"
	ItemMaxMessageSize                Item = "max_message_size"
	ItemMessageTTL                    Item = "message_ttl_seconds"
	ItemDelayedDeliveryEnabled        Item = "delayed_delivery_enabled"
	ItemDelayedDeliveryTickTime       Item = "delayed_delivery_tick_time_millis"
	ItemCompactionThreshold           Item = "compaction_threshold"
	ItemSubscriptionTypesEnabled      Item = "subscription_types_enabled"
	ItemReplicationClusters           Item = "replication_clusters"
	ItemInactiveTopicPolicies         Item = "inactive_topic_policies"
	ItemPublishRate                   Item = "publish_rate"
	ItemResourceGroup                 Item = "resource_group"
)

// BacklogQuotaItem returns the item tracking the quota of the given type.
func BacklogQuotaItem(t BacklogQuotaType) Item {
	return Item("backlog_quota." + string(t))
}

// cell is the type-erased view of a Value used by the generic accessors.
type cell struct {
	set    func(Tier, any) error
	get    func() (any, bool)
	source func() (Tier, bool)
}

func cellOf[T any](v *Value[T]) cell {
	return cell{
		set: func(tier Tier, value any) error {
			switch x := value.(type) {
			case nil:
				v.Clear(tier)
			case T:
				v.Set(tier, x)
			case *T:
				v.Update(tier, x)
			default:
				var zero T
				return fmt.Errorf("%w: want %T, got %T", ErrInvalidValue, zero, value)
			}
			return nil
		},
		get: func() (any, bool) {
			return v.Get()
		},
		source: v.Source,
	}
}

// Resolver computes the effective policy of a single topic.
type Resolver struct {
	cluster     string
	systemTopic bool

	retention                    Value[RetentionPolicy]
	maxProducers                 Value[int]
	maxConsumers                 Value[int]
	maxSubscriptions             Value[int]
	maxConsumersPerSubscription  Value[int]
	deduplicationEnabled         Value[bool]
	deduplicationSnapshotSeconds Value[int]
	backlogQuota                 map[BacklogQuotaType]*Value[BacklogQuota]
	maxMessageSize               Value[int]
	messageTTLSeconds            Value[int]
	delayedDeliveryEnabled       Value[bool]
	delayedDeliveryTickMillis    Value[int64]
	compactionThreshold          Value[int64]
	subscriptionTypes            Value[SubscriptionTypes]
	replicationClusters          Value[[]string]
	inactiveTopicPolicies        Value[InactiveTopicPolicies]
	publishRate                  Value[PublishRate]
	resourceGroup                Value[string]

	cells map[Item]cell
}

// NewResolver creates a resolver for a topic served by the given cluster.
// System topics ignore topic-level replication clusters.
func NewResolver(cluster string, systemTopic bool) *Resolver {
	r := &Resolver{
		cluster:      cluster,
		systemTopic:  systemTopic,
		backlogQuota: make(map[BacklogQuotaType]*Value[BacklogQuota], len(BacklogQuotaTypes)),
	}
	for _, t := range BacklogQuotaTypes {
		r.backlogQuota[t] = &Value[BacklogQuota]{}
	}

	r.cells = map[Item]cell{
		ItemRetention:                     cellOf(&r.retention),
		ItemMaxProducersPerTopic:          cellOf(&r.maxProducers),
		ItemMaxConsumersPerTopic:          cellOf(&r.maxConsumers),
		ItemMaxSubscriptionsPerTopic:      cellOf(&r.maxSubscriptions),
		ItemMaxConsumersPerSubscription:   cellOf(&r.maxConsumersPerSubscription),
		ItemDeduplicationEnabled:          cellOf(&r.deduplicationEnabled),
		ItemDeduplicationSnapshotInterval: cellOf(&r.deduplicationSnapshotSeconds),
		ItemMaxMessageSize:                cellOf(&r.maxMessageSize),
		ItemMessageTTL:                    cellOf(&r.messageTTLSeconds),
		ItemDelayedDeliveryEnabled:        cellOf(&r.delayedDeliveryEnabled),
		ItemDelayedDeliveryTickTime:       cellOf(&r.delayedDeliveryTickMillis),
		ItemCompactionThreshold:           cellOf(&r.compactionThreshold),
		ItemReplicationClusters:           cellOf(&r.replicationClusters),
		ItemInactiveTopicPolicies:         cellOf(&r.inactiveTopicPolicies),
		ItemPublishRate:                   cellOf(&r.publishRate),
		ItemResourceGroup:                 cellOf(&r.resourceGroup),
	}
	for t, v := range r.backlogQuota {
		r.cells[BacklogQuotaItem(t)] = cellOf(v)
	}

	subTypes := cellOf(&r.subscriptionTypes)
	r.cells[ItemSubscriptionTypesEnabled] = cell{
		set: func(tier Tier, value any) error {
			if names, ok := value.([]string); ok {
				value = ParseSubscriptionTypes(names)
			}
			if st, ok := value.(SubscriptionTypes); ok && len(st) == 0 {
				value = nil
			}
			return subTypes.set(tier, value)
		},
		get:    subTypes.get,
		source: subTypes.source,
	}
	return r
}

// Items lists every item the resolver tracks, sorted by name.
func (r *Resolver) Items() []Item {
	items := make([]Item, 0, len(r.cells))
	for item := range r.cells {
		items = append(items, item)
	}
	slices.Sort(items)
	return items
}

// Tracks reports whether item is known to the resolver.
func (r *Resolver) Tracks(item Item) bool {
	_, ok := r.cells[item]
	return ok
}

// UpdateTier replaces the value of one item at one tier. A nil value clears
// the tier. The value must be the item's type or a pointer to it.
func (r *Resolver) UpdateTier(tier Tier, item Item, value any) error {
	c, ok := r.cells[item]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, item)
	}
	if item == ItemReplicationClusters && tier == TierTopic && r.systemTopic {
		return nil
	}
	return c.set(tier, value)
}

// Effective returns the effective value of item. ok is false when every tier
// is unset.
func (r *Resolver) Effective(item Item) (value any, source Tier, ok bool) {
	c, found := r.cells[item]
	if !found {
		return nil, 0, false
	}
	value, ok = c.get()
	if !ok {
		return nil, 0, false
	}
	source, _ = c.source()
	return value, source, true
}

// =============================================================================
// BULK TIER UPDATES
// =============================================================================

// Apply routes a document to the tier it belongs to.
func (r *Resolver) Apply(doc Document) {
	switch d := doc.(type) {
	case *TopicPolicies:
		r.ApplyTopic(d)
	case *NamespacePolicies:
		r.ApplyNamespace(d)
	case *BrokerDefaults:
		r.ApplyBroker(d)
	}
}

// ApplyTopic replaces the topic tier of every item. A nil document clears
// the topic tier.
func (r *Resolver) ApplyTopic(d *TopicPolicies) {
	if d == nil {
		d = &TopicPolicies{}
	}
	if !r.systemTopic {
		r.replicationClusters.Update(TierTopic, nonEmpty(d.ReplicationClusters))
	}
	r.retention.Update(TierTopic, d.Retention)
	r.maxSubscriptions.Update(TierTopic, d.MaxSubscriptionsPerTopic)
	r.maxProducers.Update(TierTopic, d.MaxProducersPerTopic)
	r.maxConsumers.Update(TierTopic, d.MaxConsumersPerTopic)
	r.maxConsumersPerSubscription.Update(TierTopic, d.MaxConsumersPerSubscription)
	r.inactiveTopicPolicies.Update(TierTopic, d.InactiveTopicPolicies)
	r.deduplicationEnabled.Update(TierTopic, d.DeduplicationEnabled)
	r.deduplicationSnapshotSeconds.Update(TierTopic, d.DeduplicationSnapshotIntervalSeconds)
	r.subscriptionTypes.Update(TierTopic, subscriptionTypesOrNil(d.SubscriptionTypesEnabled))
	for _, t := range BacklogQuotaTypes {
		r.backlogQuota[t].Update(TierTopic, quotaOrNil(d.BacklogQuotaMap, t))
	}
	r.maxMessageSize.Update(TierTopic, d.MaxMessageSize)
	r.messageTTLSeconds.Update(TierTopic, d.MessageTTLSeconds)
	r.delayedDeliveryEnabled.Update(TierTopic, d.DelayedDeliveryEnabled)
	r.delayedDeliveryTickMillis.Update(TierTopic, d.DelayedDeliveryTickTimeMillis)
	r.compactionThreshold.Update(TierTopic, d.CompactionThreshold)
	r.publishRate.Update(TierTopic, d.PublishRate)
}

// ApplyNamespace replaces the namespace tier of every item. A document
// marked deleted is ignored.
func (r *Resolver) ApplyNamespace(d *NamespacePolicies) {
	if d == nil || d.Deleted {
		return
	}
	clusters := slices.Clone(d.ReplicationClusters)
	if clusters == nil {
		clusters = []string{}
	}
	r.replicationClusters.Set(TierNamespace, clusters)
	r.retention.Update(TierNamespace, d.Retention)
	r.compactionThreshold.Update(TierNamespace, d.CompactionThreshold)
	r.messageTTLSeconds.Update(TierNamespace, d.MessageTTLSeconds)
	r.maxSubscriptions.Update(TierNamespace, d.MaxSubscriptionsPerTopic)
	r.maxProducers.Update(TierNamespace, d.MaxProducersPerTopic)
	r.maxConsumers.Update(TierNamespace, d.MaxConsumersPerTopic)
	r.maxConsumersPerSubscription.Update(TierNamespace, d.MaxConsumersPerSubscription)
	r.inactiveTopicPolicies.Update(TierNamespace, d.InactiveTopicPolicies)
	r.deduplicationEnabled.Update(TierNamespace, d.DeduplicationEnabled)
	r.deduplicationSnapshotSeconds.Update(TierNamespace, d.DeduplicationSnapshotIntervalSeconds)
	if dd := d.DelayedDelivery; dd != nil {
		r.delayedDeliveryEnabled.Set(TierNamespace, dd.Active)
		r.delayedDeliveryTickMillis.Set(TierNamespace, dd.TickTimeMillis)
	} else {
		r.delayedDeliveryEnabled.Clear(TierNamespace)
		r.delayedDeliveryTickMillis.Clear(TierNamespace)
	}
	r.subscriptionTypes.Update(TierNamespace, subscriptionTypesOrNil(d.SubscriptionTypesEnabled))
	for _, t := range BacklogQuotaTypes {
		r.backlogQuota[t].Update(TierNamespace, quotaOrNil(d.BacklogQuotaMap, t))
	}
	if rate, ok := d.PublishMaxMessageRate[r.cluster]; ok {
		r.publishRate.Set(TierNamespace, rate)
	} else {
		r.publishRate.Clear(TierNamespace)
	}
	if d.ResourceGroupName != "" {
		r.resourceGroup.Set(TierNamespace, d.ResourceGroupName)
	} else {
		r.resourceGroup.Clear(TierNamespace)
	}
}

// ApplyBroker sets the broker tier of every item.
func (r *Resolver) ApplyBroker(d *BrokerDefaults) {
	if d == nil {
		return
	}
	r.inactiveTopicPolicies.Set(TierBroker, d.InactiveTopicPolicies)
	r.subscriptionTypes.Update(TierBroker, subscriptionTypesOrNil(d.SubscriptionTypesEnabled))
	r.maxSubscriptions.Set(TierBroker, d.MaxSubscriptionsPerTopic)
	r.maxProducers.Set(TierBroker, d.MaxProducersPerTopic)
	r.maxConsumers.Set(TierBroker, d.MaxConsumersPerTopic)
	r.maxConsumersPerSubscription.Set(TierBroker, d.MaxConsumersPerSubscription)
	r.deduplicationEnabled.Set(TierBroker, d.DeduplicationEnabled)
	r.retention.Set(TierBroker, d.Retention)
	r.deduplicationSnapshotSeconds.Set(TierBroker, d.DeduplicationSnapshotIntervalSeconds)
	for _, t := range BacklogQuotaTypes {
		r.backlogQuota[t].Set(TierBroker, d.BacklogQuota)
	}
	r.maxMessageSize.Set(TierBroker, d.MaxMessageSize)
	r.messageTTLSeconds.Set(TierBroker, d.MessageTTLSeconds)
	r.delayedDeliveryEnabled.Set(TierBroker, d.DelayedDeliveryEnabled)
	r.delayedDeliveryTickMillis.Set(TierBroker, d.DelayedDeliveryTickTimeMillis)
	r.compactionThreshold.Set(TierBroker, d.CompactionThreshold)
	r.replicationClusters.Set(TierBroker, []string{})
	r.publishRate.Set(TierBroker, d.PublishRate)
}

func nonEmpty(s []string) *[]string {
	if len(s) == 0 {
		return nil
	}
	cp := slices.Clone(s)
	return &cp
}

func subscriptionTypesOrNil(names []string) *SubscriptionTypes {
	st := ParseSubscriptionTypes(names)
	if st == nil {
		return nil
	}
	return &st
}

func quotaOrNil(m map[string]BacklogQuota, t BacklogQuotaType) *BacklogQuota {
	q, ok := m[string(t)]
	if !ok {
		return nil
	}
	return &q
}

// =============================================================================
// TYPED GETTERS
// =============================================================================

func (r *Resolver) Retention() RetentionPolicy {
	return r.retention.GetOr(RetentionPolicy{})
}

// MaxProducersPerTopic returns 0 when producers are unlimited.
func (r *Resolver) MaxProducersPerTopic() int {
	return r.maxProducers.GetOr(0)
}

func (r *Resolver) MaxConsumersPerTopic() int {
	return r.maxConsumers.GetOr(0)
}

func (r *Resolver) MaxSubscriptionsPerTopic() int {
	return r.maxSubscriptions.GetOr(0)
}

func (r *Resolver) MaxConsumersPerSubscription() int {
	return r.maxConsumersPerSubscription.GetOr(0)
}

func (r *Resolver) DeduplicationEnabled() bool {
	return r.deduplicationEnabled.GetOr(false)
}

func (r *Resolver) DeduplicationSnapshotIntervalSeconds() int {
	return r.deduplicationSnapshotSeconds.GetOr(0)
}

// MaxMessageSize returns 0 when the topic-level size check is disabled.
func (r *Resolver) MaxMessageSize() int {
	return r.maxMessageSize.GetOr(0)
}

func (r *Resolver) MessageTTLSeconds() int {
	return r.messageTTLSeconds.GetOr(0)
}

func (r *Resolver) DelayedDeliveryEnabled() bool {
	return r.delayedDeliveryEnabled.GetOr(false)
}

func (r *Resolver) DelayedDeliveryTickMillis() int64 {
	return r.delayedDeliveryTickMillis.GetOr(0)
}

func (r *Resolver) CompactionThreshold() int64 {
	return r.compactionThreshold.GetOr(0)
}

// PublishRate returns the per-topic publish ceiling: topic policy, then the
// namespace rate for this cluster, then the broker default.
func (r *Resolver) PublishRate() PublishRate {
	return r.publishRate.GetOr(PublishRate{})
}

// BacklogQuota returns the effective quota for one quota type.
func (r *Resolver) BacklogQuota(t BacklogQuotaType) (BacklogQuota, bool) {
	v, ok := r.backlogQuota[t]
	if !ok {
		return BacklogQuota{}, false
	}
	return v.Get()
}

// SubscriptionTypesEnabled returns nil when no tier restricts subscription types.
func (r *Resolver) SubscriptionTypesEnabled() SubscriptionTypes {
	return r.subscriptionTypes.GetOr(nil)
}

// ReplicationClusters returns a copy of the effective cluster list.
func (r *Resolver) ReplicationClusters() []string {
	return slices.Clone(r.replicationClusters.GetOr(nil))
}

func (r *Resolver) InactiveTopicPolicies() InactiveTopicPolicies {
	return r.inactiveTopicPolicies.GetOr(InactiveTopicPolicies{})
}

// IsDeleteWhileInactive reports whether idle-topic deletion is enabled.
func (r *Resolver) IsDeleteWhileInactive() bool {
	return r.InactiveTopicPolicies().DeleteWhileInactive
}

// ResourceGroup returns the resource group the topic is bound to, if any.
func (r *Resolver) ResourceGroup() (string, bool) {
	return r.resourceGroup.Get()
}

// PublishRateSource reports which tier currently supplies the publish rate.
func (r *Resolver) PublishRateSource() (Tier, bool) {
	return r.publishRate.Source()
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// EffectivePolicies is a point-in-time copy of every effective value.
type EffectivePolicies struct {
	Retention                            RetentionPolicy                   `json:"retention" yaml:"retention"`
	MaxProducersPerTopic                 int                               `json:"maxProducersPerTopic" yaml:"max_producers_per_topic"`
	MaxConsumersPerTopic                 int                               `json:"maxConsumersPerTopic" yaml:"max_consumers_per_topic"`
	MaxSubscriptionsPerTopic             int                               `json:"maxSubscriptionsPerTopic" yaml:"max_subscriptions_per_topic"`
	MaxConsumersPerSubscription          int                               `json:"maxConsumersPerSubscription" yaml:"max_consumers_per_subscription"`
	DeduplicationEnabled                 bool                              `json:"deduplicationEnabled" yaml:"deduplication_enabled"`
	DeduplicationSnapshotIntervalSeconds int                               `json:"deduplicationSnapshotIntervalSeconds" yaml:"deduplication_snapshot_interval_seconds"`
	BacklogQuota                         map[BacklogQuotaType]BacklogQuota `json:"backlogQuota" yaml:"backlog_quota"`
	MaxMessageSize                       int                               `json:"maxMessageSize" yaml:"max_message_size"`
	MessageTTLSeconds                    int                               `json:"messageTTLSeconds" yaml:"message_ttl_seconds"`
	DelayedDeliveryEnabled               bool                              `json:"delayedDeliveryEnabled" yaml:"delayed_delivery_enabled"`
	DelayedDeliveryTickTimeMillis        int64                             `json:"delayedDeliveryTickTimeMillis" yaml:"delayed_delivery_tick_time_millis"`
	CompactionThreshold                  int64                             `json:"compactionThreshold" yaml:"compaction_threshold"`
	SubscriptionTypesEnabled             SubscriptionTypes                 `json:"subscriptionTypesEnabled" yaml:"subscription_types_enabled"`
	ReplicationClusters                  []string                          `json:"replicationClusters" yaml:"replication_clusters"`
	InactiveTopicPolicies                InactiveTopicPolicies             `json:"inactiveTopicPolicies" yaml:"inactive_topic_policies"`
	PublishRate                          PublishRate                       `json:"publishRate" yaml:"publish_rate"`
	ResourceGroup                        string                            `json:"resourceGroup,omitempty" yaml:"resource_group,omitempty"`
}

// Snapshot copies every effective value. Items are read one at a time.
func (r *Resolver) Snapshot() EffectivePolicies {
	quotas := make(map[BacklogQuotaType]BacklogQuota, len(r.backlogQuota))
	for t, v := range r.backlogQuota {
		if q, ok := v.Get(); ok {
			quotas[t] = q
		}
	}
	rg, _ := r.ResourceGroup()
	return EffectivePolicies{
		Retention:                            r.Retention(),
		MaxProducersPerTopic:                 r.MaxProducersPerTopic(),
		MaxConsumersPerTopic:                 r.MaxConsumersPerTopic(),
		MaxSubscriptionsPerTopic:             r.MaxSubscriptionsPerTopic(),
		MaxConsumersPerSubscription:          r.MaxConsumersPerSubscription(),
		DeduplicationEnabled:                 r.DeduplicationEnabled(),
		DeduplicationSnapshotIntervalSeconds: r.DeduplicationSnapshotIntervalSeconds(),
		BacklogQuota:                         quotas,
		MaxMessageSize:                       r.MaxMessageSize(),
		MessageTTLSeconds:                    r.MessageTTLSeconds(),
		DelayedDeliveryEnabled:               r.DelayedDeliveryEnabled(),
		DelayedDeliveryTickTimeMillis:        r.DelayedDeliveryTickMillis(),
		CompactionThreshold:                  r.CompactionThreshold(),
		SubscriptionTypesEnabled:             r.SubscriptionTypesEnabled(),
		ReplicationClusters:                  r.ReplicationClusters(),
		InactiveTopicPolicies:                r.InactiveTopicPolicies(),
		PublishRate:                          r.PublishRate(),
		ResourceGroup:                        rg,
	}
}
