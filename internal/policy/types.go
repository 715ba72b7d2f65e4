package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================

var (
	// ErrInvalidValue means a value does not fit the item it was applied to
	ErrInvalidValue = errors.New("invalid policy value")

	// ErrUnknownItem means the item name is not one the resolver tracks
	ErrUnknownItem = errors.New("unknown policy item")

	// ErrTierMismatch means a document was applied to the wrong tier
	ErrTierMismatch = errors.New("policy document does not belong to tier")
)

// =============================================================================
// POLICY VALUE TYPES
// =============================================================================

// RetentionPolicy bounds how long and how much acknowledged data is kept.
type RetentionPolicy struct {
	RetentionTimeMinutes int   `json:"retentionTimeInMinutes" yaml:"retention_time_minutes"`
	RetentionSizeMB      int64 `json:"retentionSizeInMB" yaml:"retention_size_mb"`
}

// BacklogQuotaType selects what a backlog quota measures.
type BacklogQuotaType string

const (
	BacklogQuotaDestinationStorage BacklogQuotaType = "destination_storage"
	BacklogQuotaMessageAge         BacklogQuotaType = "message_age"
)

// BacklogQuotaTypes lists every quota type, in resolution order.
var BacklogQuotaTypes = []BacklogQuotaType{BacklogQuotaDestinationStorage, BacklogQuotaMessageAge}

// BacklogRetentionAction is what the broker does once a backlog quota is hit.
type BacklogRetentionAction string

const (
	ActionProducerRequestHold     BacklogRetentionAction = "producer_request_hold"
	ActionProducerException       BacklogRetentionAction = "producer_exception"
	ActionConsumerBacklogEviction BacklogRetentionAction = "consumer_backlog_eviction"
)

// BacklogQuota limits unacknowledged backlog by size or by age.
type BacklogQuota struct {
	LimitSize int64                  `json:"limitSize" yaml:"limit_size"`
	LimitTime int                    `json:"limitTime" yaml:"limit_time"`
	Policy    BacklogRetentionAction `json:"policy" yaml:"policy"`
}

// InactiveTopicDeleteMode decides when an idle topic may be garbage collected.
type InactiveTopicDeleteMode string

const (
	DeleteWhenNoSubscriptions       InactiveTopicDeleteMode = "delete_when_no_subscriptions"
	DeleteWhenSubscriptionsCaughtUp InactiveTopicDeleteMode = "delete_when_subscriptions_caught_up"
)

// InactiveTopicPolicies controls inactive-topic deletion.
type InactiveTopicPolicies struct {
	DeleteMode                 InactiveTopicDeleteMode `json:"inactiveTopicDeleteMode" yaml:"delete_mode"`
	MaxInactiveDurationSeconds int                     `json:"maxInactiveDurationSeconds" yaml:"max_inactive_duration_seconds"`
	DeleteWhileInactive        bool                    `json:"deleteWhileInactive" yaml:"delete_while_inactive"`
}

// DelayedDeliveryPolicies is the namespace-level delayed delivery block.
type DelayedDeliveryPolicies struct {
	Active         bool  `json:"active" yaml:"active"`
	TickTimeMillis int64 `json:"tickTime" yaml:"tick_time_millis"`
}

// PublishRate is a per-topic publish ceiling. Zero or negative means no limit
// on that dimension.
type PublishRate struct {
	MessagesPerSecond int   `json:"publishThrottlingRateInMsg" yaml:"messages_per_second"`
	BytesPerSecond    int64 `json:"publishThrottlingRateInByte" yaml:"bytes_per_second"`
}

// Enabled reports whether either dimension carries a positive ceiling.
func (r PublishRate) Enabled() bool {
	return r.MessagesPerSecond > 0 || r.BytesPerSecond > 0
}

func (r PublishRate) String() string {
	return fmt.Sprintf("msgs=%d/s bytes=%d/s", r.MessagesPerSecond, r.BytesPerSecond)
}

// =============================================================================
// SUBSCRIPTION TYPES
// =============================================================================

// SubscriptionType is a consumer subscription mode.
type SubscriptionType string

const (
	SubscriptionExclusive SubscriptionType = "Exclusive"
	SubscriptionShared    SubscriptionType = "Shared"
	SubscriptionFailover  SubscriptionType = "Failover"
	SubscriptionKeyShared SubscriptionType = "Key_Shared"
)

var knownSubscriptionTypes = []SubscriptionType{
	SubscriptionExclusive, SubscriptionShared, SubscriptionFailover, SubscriptionKeyShared,
}

// SubscriptionTypes is a sorted set of subscription modes.
type SubscriptionTypes []SubscriptionType

// Contains reports whether t is in the set.
func (s SubscriptionTypes) Contains(t SubscriptionType) bool {
	return slices.Contains(s, t)
}

// ParseSubscriptionTypes converts names to a set. Unknown names are ignored.
// An input with no valid names yields nil, never an empty set, so an empty
// override does not mask a lower tier.
func ParseSubscriptionTypes(names []string) SubscriptionTypes {
	var out SubscriptionTypes
	for _, name := range names {
		name = strings.TrimSpace(name)
		for _, known := range knownSubscriptionTypes {
			if strings.EqualFold(name, string(known)) && !out.Contains(known) {
				out = append(out, known)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return out
}
