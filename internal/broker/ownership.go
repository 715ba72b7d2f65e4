package broker

import (
	"context"
	"fmt"
	"sync"
)

// OwnershipChecker confirms this broker serves a topic before a producer is
// admitted. Bundle assignment and leader election live outside this
// package.
type OwnershipChecker interface {
	VerifyOwnership(ctx context.Context, topic TopicName) error
}

// AlwaysOwned serves every topic. Used by standalone brokers.
type AlwaysOwned struct{}

func (AlwaysOwned) VerifyOwnership(context.Context, TopicName) error { return nil }

// NamespaceOwnership serves only the namespaces it was given. An empty set
// serves everything.
type NamespaceOwnership struct {
	mu         sync.RWMutex
	namespaces map[string]bool
}

func NewNamespaceOwnership(namespaces ...string) *NamespaceOwnership {
	o := &NamespaceOwnership{namespaces: make(map[string]bool)}
	for _, ns := range namespaces {
		o.namespaces[ns] = true
	}
	return o
}

func (o *NamespaceOwnership) VerifyOwnership(ctx context.Context, topic TopicName) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotOwned, err)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.namespaces) == 0 || o.namespaces[topic.NamespaceName()] {
		return nil
	}
	return fmt.Errorf("%w: namespace %s", ErrNotOwned, topic.NamespaceName())
}

// Acquire starts serving a namespace.
func (o *NamespaceOwnership) Acquire(namespace string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.namespaces[namespace] = true
}

// Release stops serving a namespace.
func (o *NamespaceOwnership) Release(namespace string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.namespaces, namespace)
}
