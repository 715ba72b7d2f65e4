package broker

import (
	"context"
	"sync"

	"topicgate/internal/policy"
)

// PolicySource delivers namespace and topic policy documents. A missing
// document is (nil, nil).
type PolicySource interface {
	NamespacePolicies(ctx context.Context, namespace string) (*policy.NamespacePolicies, error)
	TopicPolicies(ctx context.Context, topic string) (*policy.TopicPolicies, error)
}

// PolicyStore is an in-memory PolicySource that the admin API writes to.
type PolicyStore struct {
	mu         sync.RWMutex
	namespaces map[string]*policy.NamespacePolicies
	topics     map[string]*policy.TopicPolicies
}

func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		namespaces: make(map[string]*policy.NamespacePolicies),
		topics:     make(map[string]*policy.TopicPolicies),
	}
}

func (s *PolicyStore) NamespacePolicies(_ context.Context, namespace string) (*policy.NamespacePolicies, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.namespaces[namespace], nil
}

func (s *PolicyStore) TopicPolicies(_ context.Context, topic string) (*policy.TopicPolicies, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topics[topic], nil
}

func (s *PolicyStore) SetNamespacePolicies(namespace string, doc *policy.NamespacePolicies) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces[namespace] = doc
}

func (s *PolicyStore) SetTopicPolicies(topic string, doc *policy.TopicPolicies) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = doc
}

// DeleteTopicPolicies removes the topic document and reports whether one
// existed.
func (s *PolicyStore) DeleteTopicPolicies(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.topics[topic]
	delete(s.topics, topic)
	return ok
}
