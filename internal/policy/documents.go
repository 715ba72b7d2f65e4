package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is a bulk policy update addressed to a single tier.
type Document interface {
	Tier() Tier
}

// TopicPolicies is the topic-tier document. Nil fields leave the tier unset.
type TopicPolicies struct {
	ReplicationClusters                  []string                `json:"replicationClusters,omitempty" yaml:"replication_clusters,omitempty"`
	Retention                            *RetentionPolicy        `json:"retentionPolicies,omitempty" yaml:"retention,omitempty"`
	MaxSubscriptionsPerTopic             *int                    `json:"maxSubscriptionsPerTopic,omitempty" yaml:"max_subscriptions_per_topic,omitempty"`
	MaxProducersPerTopic                 *int                    `json:"maxProducerPerTopic,omitempty" yaml:"max_producers_per_topic,omitempty"`
	MaxConsumersPerTopic                 *int                    `json:"maxConsumerPerTopic,omitempty" yaml:"max_consumers_per_topic,omitempty"`
	MaxConsumersPerSubscription          *int                    `json:"maxConsumersPerSubscription,omitempty" yaml:"max_consumers_per_subscription,omitempty"`
	InactiveTopicPolicies                *InactiveTopicPolicies  `json:"inactiveTopicPolicies,omitempty" yaml:"inactive_topic_policies,omitempty"`
	DeduplicationEnabled                 *bool                   `json:"deduplicationEnabled,omitempty" yaml:"deduplication_enabled,omitempty"`
	DeduplicationSnapshotIntervalSeconds *int                    `json:"deduplicationSnapshotIntervalSeconds,omitempty" yaml:"deduplication_snapshot_interval_seconds,omitempty"`
	SubscriptionTypesEnabled             []string                `json:"subscriptionTypesEnabled,omitempty" yaml:"subscription_types_enabled,omitempty"`
	BacklogQuotaMap                      map[string]BacklogQuota `json:"backLogQuotaMap,omitempty" yaml:"backlog_quota,omitempty"`
	MaxMessageSize                       *int                    `json:"maxMessageSize,omitempty" yaml:"max_message_size,omitempty"`
	MessageTTLSeconds                    *int                    `json:"messageTTLInSeconds,omitempty" yaml:"message_ttl_seconds,omitempty"`
	DelayedDeliveryEnabled               *bool                   `json:"delayedDeliveryEnabled,omitempty" yaml:"delayed_delivery_enabled,omitempty"`
	DelayedDeliveryTickTimeMillis        *int64                  `json:"delayedDeliveryTickTimeMillis,omitempty" yaml:"delayed_delivery_tick_time_millis,omitempty"`
	CompactionThreshold                  *int64                  `json:"compactionThreshold,omitempty" yaml:"compaction_threshold,omitempty"`
	PublishRate                          *PublishRate            `json:"publishRate,omitempty" yaml:"publish_rate,omitempty"`
}

// Tier implements Document.
func (*TopicPolicies) Tier() Tier { return TierTopic }

// NamespacePolicies is the namespace-tier document.
type NamespacePolicies struct {
	// Deleted marks a namespace being torn down; applying it is a no-op.
	Deleted bool `json:"deleted,omitempty" yaml:"deleted,omitempty"`

	ReplicationClusters                  []string                 `json:"replication_clusters,omitempty" yaml:"replication_clusters,omitempty"`
	Retention                            *RetentionPolicy         `json:"retention_policies,omitempty" yaml:"retention,omitempty"`
	MaxSubscriptionsPerTopic             *int                     `json:"max_subscriptions_per_topic,omitempty" yaml:"max_subscriptions_per_topic,omitempty"`
	MaxProducersPerTopic                 *int                     `json:"max_producers_per_topic,omitempty" yaml:"max_producers_per_topic,omitempty"`
	MaxConsumersPerTopic                 *int                     `json:"max_consumers_per_topic,omitempty" yaml:"max_consumers_per_topic,omitempty"`
	MaxConsumersPerSubscription          *int                     `json:"max_consumers_per_subscription,omitempty" yaml:"max_consumers_per_subscription,omitempty"`
	InactiveTopicPolicies                *InactiveTopicPolicies   `json:"inactive_topic_policies,omitempty" yaml:"inactive_topic_policies,omitempty"`
	DeduplicationEnabled                 *bool                    `json:"deduplicationEnabled,omitempty" yaml:"deduplication_enabled,omitempty"`
	DeduplicationSnapshotIntervalSeconds *int                     `json:"deduplicationSnapshotIntervalSeconds,omitempty" yaml:"deduplication_snapshot_interval_seconds,omitempty"`
	SubscriptionTypesEnabled             []string                 `json:"subscription_types_enabled,omitempty" yaml:"subscription_types_enabled,omitempty"`
	BacklogQuotaMap                      map[string]BacklogQuota  `json:"backlog_quota_map,omitempty" yaml:"backlog_quota,omitempty"`
	MessageTTLSeconds                    *int                     `json:"message_ttl_in_seconds,omitempty" yaml:"message_ttl_seconds,omitempty"`
	DelayedDelivery                      *DelayedDeliveryPolicies `json:"delayed_delivery_policies,omitempty" yaml:"delayed_delivery,omitempty"`
	CompactionThreshold                  *int64                   `json:"compaction_threshold,omitempty" yaml:"compaction_threshold,omitempty"`

	// PublishMaxMessageRate is keyed by cluster name.
	PublishMaxMessageRate map[string]PublishRate `json:"publishMaxMessageRate,omitempty" yaml:"publish_max_message_rate,omitempty"`

	// ResourceGroupName binds every topic in the namespace to a shared limiter.
	ResourceGroupName string `json:"resource_group_name,omitempty" yaml:"resource_group_name,omitempty"`
}

// Tier implements Document.
func (*NamespacePolicies) Tier() Tier { return TierNamespace }

// BrokerDefaults is the broker tier: one concrete value for every item.
type BrokerDefaults struct {
	Retention                            RetentionPolicy       `json:"retention" yaml:"retention"`
	MaxSubscriptionsPerTopic             int                   `json:"maxSubscriptionsPerTopic" yaml:"max_subscriptions_per_topic"`
	MaxProducersPerTopic                 int                   `json:"maxProducersPerTopic" yaml:"max_producers_per_topic"`
	MaxConsumersPerTopic                 int                   `json:"maxConsumersPerTopic" yaml:"max_consumers_per_topic"`
	MaxConsumersPerSubscription          int                   `json:"maxConsumersPerSubscription" yaml:"max_consumers_per_subscription"`
	InactiveTopicPolicies                InactiveTopicPolicies `json:"inactiveTopicPolicies" yaml:"inactive_topic_policies"`
	DeduplicationEnabled                 bool                  `json:"deduplicationEnabled" yaml:"deduplication_enabled"`
	DeduplicationSnapshotIntervalSeconds int                   `json:"deduplicationSnapshotIntervalSeconds" yaml:"deduplication_snapshot_interval_seconds"`
	SubscriptionTypesEnabled             []string              `json:"subscriptionTypesEnabled" yaml:"subscription_types_enabled"`
	BacklogQuota                         BacklogQuota          `json:"backlogQuota" yaml:"backlog_quota"`
	MaxMessageSize                       int                   `json:"maxMessageSize" yaml:"max_message_size"`
	MessageTTLSeconds                    int                   `json:"messageTTLSeconds" yaml:"message_ttl_seconds"`
	DelayedDeliveryEnabled               bool                  `json:"delayedDeliveryEnabled" yaml:"delayed_delivery_enabled"`
	DelayedDeliveryTickTimeMillis        int64                 `json:"delayedDeliveryTickTimeMillis" yaml:"delayed_delivery_tick_time_millis"`
	CompactionThreshold                  int64                 `json:"compactionThreshold" yaml:"compaction_threshold"`
	PublishRate                          PublishRate           `json:"publishRate" yaml:"publish_rate"`
}

// Tier implements Document.
func (*BrokerDefaults) Tier() Tier { return TierBroker }

// LoadDocument reads a YAML or JSON policy file into the document type
// matching tier.
func LoadDocument(path string, tier Tier) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return DecodeDocument(data, tier)
}

// DecodeDocument parses bytes into the document for tier. Input starting
// with '{' is decoded with the JSON field names, anything else as YAML.
func DecodeDocument(data []byte, tier Tier) (Document, error) {
	var doc Document
	switch tier {
	case TierTopic:
		doc = &TopicPolicies{}
	case TierNamespace:
		doc = &NamespacePolicies{}
	case TierBroker:
		doc = &BrokerDefaults{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidValue, tier)
	}
	unmarshal := yaml.Unmarshal
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		unmarshal = json.Unmarshal
	}
	if err := unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s policies: %v", ErrInvalidValue, tier, err)
	}
	return doc, nil
}
