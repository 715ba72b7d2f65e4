package broker

import (
	"cmp"
	"slices"
	"time"

	"topicgate/internal/policy"
)

// ConsumerConfig describes a consumer asking to attach to a subscription.
type ConsumerConfig struct {
	// Name is the consumer name. Empty means the broker generates one.
	Name             string
	Subscription     string
	SubscriptionType policy.SubscriptionType
	ClientAddress    string
}

// Consumer is a subscriber attached to one subscription of a topic.
type Consumer struct {
	name          string
	subscription  string
	subType       policy.SubscriptionType
	clientAddress string
	connectedAt   time.Time
}

func NewConsumer(config ConsumerConfig) *Consumer {
	name := config.Name
	if name == "" {
		name = GenerateProducerName("consumer")
	}
	subType := config.SubscriptionType
	if subType == "" {
		subType = policy.SubscriptionExclusive
	}
	return &Consumer{
		name:          name,
		subscription:  config.Subscription,
		subType:       subType,
		clientAddress: config.ClientAddress,
		connectedAt:   time.Now(),
	}
}

func (c *Consumer) Name() string                              { return c.name }
func (c *Consumer) Subscription() string                      { return c.subscription }
func (c *Consumer) SubscriptionType() policy.SubscriptionType { return c.subType }
func (c *Consumer) ClientAddress() string                     { return c.clientAddress }

// subscription groups the consumers attached under one subscription name.
// Guarded by the topic lock.
type subscription struct {
	name      string
	subType   policy.SubscriptionType
	consumers map[string]*Consumer
	createdAt time.Time
}

// SubscriptionStats is the stats view of a subscription.
type SubscriptionStats struct {
	Name      string   `json:"name" yaml:"name"`
	Type      string   `json:"type" yaml:"type"`
	Consumers []string `json:"consumers" yaml:"consumers"`
}

func (s *subscription) stats() SubscriptionStats {
	names := make([]string, 0, len(s.consumers))
	for n := range s.consumers {
		names = append(names, n)
	}
	slices.Sort(names)
	return SubscriptionStats{
		Name:      s.name,
		Type:      string(s.subType),
		Consumers: names,
	}
}

func sortedSubscriptionStats(subs map[string]*subscription) []SubscriptionStats {
	out := make([]SubscriptionStats, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.stats())
	}
	slices.SortFunc(out, func(a, b SubscriptionStats) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}
