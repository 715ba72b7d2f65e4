// =============================================================================
// RESOLVER TESTS
// =============================================================================
//
// KEY BEHAVIORS TO TEST:
//   - Broker defaults apply until a higher tier overrides them
//   - Deleted namespace documents change nothing
//   - Empty subscription type sets never mask lower tiers
//   - Topic document round-trips through the effective getters
//
// =============================================================================

package policy

import (
	"errors"
	"slices"
	"testing"
)

func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }
func int64Ptr(v int64) *int64 { return &v }

func testDefaults() *BrokerDefaults {
	return &BrokerDefaults{
		Retention:                RetentionPolicy{RetentionTimeMinutes: 60, RetentionSizeMB: 100},
		MaxProducersPerTopic:     10,
		MaxConsumersPerTopic:     20,
		MaxSubscriptionsPerTopic: 5,
		SubscriptionTypesEnabled: []string{"Exclusive", "Shared", "Failover", "Key_Shared"},
		BacklogQuota:             BacklogQuota{LimitSize: 1 << 30, LimitTime: -1, Policy: ActionProducerRequestHold},
		MaxMessageSize:           5 << 20,
		PublishRate:              PublishRate{MessagesPerSecond: 1000},
		InactiveTopicPolicies: InactiveTopicPolicies{
			DeleteMode:                 DeleteWhenNoSubscriptions,
			MaxInactiveDurationSeconds: 60,
			DeleteWhileInactive:        true,
		},
	}
}

func TestResolver_BrokerDefaults(t *testing.T) {
	r := NewResolver("us-east", false)
	r.ApplyBroker(testDefaults())

	if got := r.MaxProducersPerTopic(); got != 10 {
		t.Errorf("MaxProducersPerTopic = %d, want 10", got)
	}
	if got := r.ReplicationClusters(); got == nil || len(got) != 0 {
		t.Errorf("ReplicationClusters = %v, want empty non-nil", got)
	}
	for _, qt := range BacklogQuotaTypes {
		q, ok := r.BacklogQuota(qt)
		if !ok || q.LimitSize != 1<<30 {
			t.Errorf("BacklogQuota(%s) = %+v, %v", qt, q, ok)
		}
	}
	if !r.IsDeleteWhileInactive() {
		t.Error("IsDeleteWhileInactive = false, want true")
	}
}

func TestResolver_EmptyTiersFailClosed(t *testing.T) {
	r := NewResolver("us-east", false)

	if r.MaxProducersPerTopic() != 0 || r.MaxConsumersPerTopic() != 0 {
		t.Error("ceilings should default to 0 (unlimited)")
	}
	if r.PublishRate().Enabled() {
		t.Error("publish rate should default to disabled")
	}
	if r.SubscriptionTypesEnabled() != nil {
		t.Error("subscription types should default to nil")
	}
}

func TestResolver_NamespaceOverridesBroker(t *testing.T) {
	r := NewResolver("us-east", false)
	r.ApplyBroker(testDefaults())
	r.ApplyNamespace(&NamespacePolicies{
		MaxProducersPerTopic: intPtr(3),
		PublishMaxMessageRate: map[string]PublishRate{
			"us-east": {MessagesPerSecond: 50},
			"eu-west": {MessagesPerSecond: 7},
		},
		DelayedDelivery:   &DelayedDeliveryPolicies{Active: true, TickTimeMillis: 250},
		ResourceGroupName: "gold",
	})

	if got := r.MaxProducersPerTopic(); got != 3 {
		t.Errorf("MaxProducersPerTopic = %d, want 3", got)
	}
	if got := r.PublishRate(); got.MessagesPerSecond != 50 {
		t.Errorf("PublishRate = %v, want the us-east namespace rate", got)
	}
	if src, _ := r.PublishRateSource(); src != TierNamespace {
		t.Errorf("PublishRateSource = %s, want namespace", src)
	}
	if !r.DelayedDeliveryEnabled() || r.DelayedDeliveryTickMillis() != 250 {
		t.Error("delayed delivery block not applied")
	}
	if rg, ok := r.ResourceGroup(); !ok || rg != "gold" {
		t.Errorf("ResourceGroup = %q, %v", rg, ok)
	}
	// untouched items keep the broker value
	if got := r.MaxConsumersPerTopic(); got != 20 {
		t.Errorf("MaxConsumersPerTopic = %d, want broker 20", got)
	}
}

func TestResolver_DeletedNamespaceIsNoOp(t *testing.T) {
	r := NewResolver("c1", false)
	r.ApplyBroker(testDefaults())
	r.ApplyNamespace(&NamespacePolicies{MaxProducersPerTopic: intPtr(4), ResourceGroupName: "rg"})

	before := r.Snapshot()
	r.ApplyNamespace(&NamespacePolicies{Deleted: true, MaxProducersPerTopic: intPtr(99)})
	after := r.Snapshot()

	if before.MaxProducersPerTopic != after.MaxProducersPerTopic || after.ResourceGroup != "rg" {
		t.Errorf("deleted namespace document changed state: before=%+v after=%+v", before, after)
	}
}

func TestResolver_EmptySubscriptionTypesDoNotMask(t *testing.T) {
	r := NewResolver("c1", false)
	r.ApplyBroker(&BrokerDefaults{SubscriptionTypesEnabled: []string{"Shared"}})
	r.ApplyNamespace(&NamespacePolicies{SubscriptionTypesEnabled: []string{}})
	r.ApplyTopic(&TopicPolicies{SubscriptionTypesEnabled: []string{"NotAType"}})

	got := r.SubscriptionTypesEnabled()
	if !slices.Equal(got, SubscriptionTypes{SubscriptionShared}) {
		t.Errorf("SubscriptionTypesEnabled = %v, want broker [Shared]", got)
	}

	if err := r.UpdateTier(TierTopic, ItemSubscriptionTypesEnabled, SubscriptionTypes{}); err != nil {
		t.Fatalf("UpdateTier: %v", err)
	}
	if src, _ := r.cells[ItemSubscriptionTypesEnabled].source(); src != TierBroker {
		t.Errorf("empty set should clear the tier, source = %s", src)
	}
}

func TestResolver_TopicDocumentRoundTrip(t *testing.T) {
	r := NewResolver("c1", false)
	r.ApplyBroker(testDefaults())

	doc := &TopicPolicies{
		ReplicationClusters:                  []string{"c1", "c2"},
		Retention:                            &RetentionPolicy{RetentionTimeMinutes: 1, RetentionSizeMB: 2},
		MaxSubscriptionsPerTopic:             intPtr(11),
		MaxProducersPerTopic:                 intPtr(12),
		MaxConsumersPerTopic:                 intPtr(13),
		MaxConsumersPerSubscription:          intPtr(14),
		InactiveTopicPolicies:                &InactiveTopicPolicies{DeleteMode: DeleteWhenSubscriptionsCaughtUp, MaxInactiveDurationSeconds: 9},
		DeduplicationEnabled:                 boolPtr(true),
		DeduplicationSnapshotIntervalSeconds: intPtr(15),
		SubscriptionTypesEnabled:             []string{"Failover", "Exclusive"},
		BacklogQuotaMap: map[string]BacklogQuota{
			"message_age": {LimitTime: 30, Policy: ActionProducerException},
		},
		MaxMessageSize:                intPtr(1024),
		MessageTTLSeconds:             intPtr(16),
		DelayedDeliveryEnabled:        boolPtr(true),
		DelayedDeliveryTickTimeMillis: int64Ptr(17),
		CompactionThreshold:           int64Ptr(18),
		PublishRate:                   &PublishRate{MessagesPerSecond: 19, BytesPerSecond: 20},
	}
	r.ApplyTopic(doc)

	if got := r.ReplicationClusters(); !slices.Equal(got, doc.ReplicationClusters) {
		t.Errorf("ReplicationClusters = %v", got)
	}
	if r.Retention() != *doc.Retention {
		t.Errorf("Retention = %+v", r.Retention())
	}
	checks := []struct {
		name      string
		got, want int
	}{
		{"MaxSubscriptionsPerTopic", r.MaxSubscriptionsPerTopic(), 11},
		{"MaxProducersPerTopic", r.MaxProducersPerTopic(), 12},
		{"MaxConsumersPerTopic", r.MaxConsumersPerTopic(), 13},
		{"MaxConsumersPerSubscription", r.MaxConsumersPerSubscription(), 14},
		{"DeduplicationSnapshotIntervalSeconds", r.DeduplicationSnapshotIntervalSeconds(), 15},
		{"MaxMessageSize", r.MaxMessageSize(), 1024},
		{"MessageTTLSeconds", r.MessageTTLSeconds(), 16},
		{"DelayedDeliveryTickMillis", int(r.DelayedDeliveryTickMillis()), 17},
		{"CompactionThreshold", int(r.CompactionThreshold()), 18},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if r.InactiveTopicPolicies() != *doc.InactiveTopicPolicies {
		t.Errorf("InactiveTopicPolicies = %+v", r.InactiveTopicPolicies())
	}
	if !r.DeduplicationEnabled() || !r.DelayedDeliveryEnabled() {
		t.Error("boolean items not applied")
	}
	if got := r.SubscriptionTypesEnabled(); !slices.Equal(got, SubscriptionTypes{SubscriptionExclusive, SubscriptionFailover}) {
		t.Errorf("SubscriptionTypesEnabled = %v", got)
	}
	if q, _ := r.BacklogQuota(BacklogQuotaMessageAge); q.LimitTime != 30 {
		t.Errorf("message_age quota = %+v", q)
	}
	if q, _ := r.BacklogQuota(BacklogQuotaDestinationStorage); q.LimitSize != 1<<30 {
		t.Errorf("destination_storage quota should still be the broker value, got %+v", q)
	}
	if r.PublishRate() != *doc.PublishRate {
		t.Errorf("PublishRate = %v", r.PublishRate())
	}

	// clearing the topic tier restores lower tiers
	r.ApplyTopic(nil)
	if got := r.MaxProducersPerTopic(); got != 10 {
		t.Errorf("after clear MaxProducersPerTopic = %d, want 10", got)
	}
}

func TestResolver_SystemTopicIgnoresTopicReplication(t *testing.T) {
	r := NewResolver("c1", true)
	r.ApplyBroker(testDefaults())
	r.ApplyNamespace(&NamespacePolicies{ReplicationClusters: []string{"c1"}})
	r.ApplyTopic(&TopicPolicies{ReplicationClusters: []string{"c1", "c2"}})

	if got := r.ReplicationClusters(); !slices.Equal(got, []string{"c1"}) {
		t.Errorf("ReplicationClusters = %v, want namespace value", got)
	}
	if err := r.UpdateTier(TierTopic, ItemReplicationClusters, []string{"x"}); err != nil {
		t.Fatalf("UpdateTier: %v", err)
	}
	if got := r.ReplicationClusters(); !slices.Equal(got, []string{"c1"}) {
		t.Errorf("ReplicationClusters = %v after UpdateTier", got)
	}
}

func TestResolver_UpdateTier(t *testing.T) {
	r := NewResolver("c1", false)
	r.ApplyBroker(testDefaults())

	if err := r.UpdateTier(TierTopic, ItemMaxProducersPerTopic, 2); err != nil {
		t.Fatalf("UpdateTier: %v", err)
	}
	v, src, ok := r.Effective(ItemMaxProducersPerTopic)
	if !ok || v.(int) != 2 || src != TierTopic {
		t.Errorf("Effective = %v, %s, %v", v, src, ok)
	}

	if err := r.UpdateTier(TierTopic, ItemMaxProducersPerTopic, "two"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("wrong type err = %v, want ErrInvalidValue", err)
	}
	if err := r.UpdateTier(TierTopic, Item("nope"), 1); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("unknown item err = %v, want ErrUnknownItem", err)
	}

	if err := r.UpdateTier(TierTopic, ItemMaxProducersPerTopic, nil); err != nil {
		t.Fatalf("UpdateTier(nil): %v", err)
	}
	if got := r.MaxProducersPerTopic(); got != 10 {
		t.Errorf("after clearing topic tier = %d, want 10", got)
	}
}

func TestDecodeDocument(t *testing.T) {
	yamlDoc := []byte("max_producers_per_topic: 4\npublish_rate:\n  messages_per_second: 100\n")
	doc, err := DecodeDocument(yamlDoc, TierTopic)
	if err != nil {
		t.Fatalf("DecodeDocument yaml: %v", err)
	}
	tp := doc.(*TopicPolicies)
	if *tp.MaxProducersPerTopic != 4 || tp.PublishRate.MessagesPerSecond != 100 {
		t.Errorf("yaml decode = %+v", tp)
	}

	jsonDoc := []byte(`{"deleted": true, "max_producers_per_topic": 3}`)
	doc, err = DecodeDocument(jsonDoc, TierNamespace)
	if err != nil {
		t.Fatalf("DecodeDocument json: %v", err)
	}
	if ns := doc.(*NamespacePolicies); !ns.Deleted || *ns.MaxProducersPerTopic != 3 {
		t.Errorf("json decode = %+v", ns)
	}

	if _, err := DecodeDocument([]byte("max_producers_per_topic: [oops"), TierTopic); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("malformed err = %v, want ErrInvalidValue", err)
	}
}
