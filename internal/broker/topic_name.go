package broker

import (
	"fmt"
	"strings"
)

// Domain is the persistence domain of a topic.
type Domain string

const (
	DomainPersistent    Domain = "persistent"
	DomainNonPersistent Domain = "non-persistent"
)

// systemNamespaces hold broker-managed topics. Their topic-level replication
// settings are ignored.
var systemNamespaces = map[string]bool{
	"pulsar/system": true,
	"public/system": true,
}

const systemTopicPrefix = "__"

// TopicName is a parsed fully qualified topic name:
//
//	persistent://tenant/namespace/topic
//	non-persistent://tenant/namespace/topic
//	tenant/namespace/topic        (short form, persistent)
type TopicName struct {
	Domain    Domain
	Tenant    string
	Namespace string
	Local     string
}

// ParseTopicName parses a topic name in any accepted form.
func ParseTopicName(s string) (TopicName, error) {
	rest := s
	domain := DomainPersistent
	if d, r, ok := strings.Cut(s, "://"); ok {
		switch Domain(d) {
		case DomainPersistent, DomainNonPersistent:
			domain, rest = Domain(d), r
		default:
			return TopicName{}, fmt.Errorf("%w: unknown topic domain %q", ErrInvalidRequest, d)
		}
	}

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 {
		return TopicName{}, fmt.Errorf("%w: topic name %q is not tenant/namespace/topic", ErrInvalidRequest, s)
	}
	for _, p := range parts {
		if p == "" {
			return TopicName{}, fmt.Errorf("%w: topic name %q has an empty segment", ErrInvalidRequest, s)
		}
	}
	return TopicName{
		Domain:    domain,
		Tenant:    parts[0],
		Namespace: parts[1],
		Local:     parts[2],
	}, nil
}

// String returns the fully qualified form.
func (n TopicName) String() string {
	return fmt.Sprintf("%s://%s/%s/%s", n.Domain, n.Tenant, n.Namespace, n.Local)
}

// NamespaceName returns "tenant/namespace".
func (n TopicName) NamespaceName() string {
	return n.Tenant + "/" + n.Namespace
}

func (n TopicName) IsPersistent() bool {
	return n.Domain == DomainPersistent
}

// IsSystem reports whether the topic is managed by the broker itself.
func (n TopicName) IsSystem() bool {
	return systemNamespaces[n.NamespaceName()] || strings.HasPrefix(n.Local, systemTopicPrefix)
}
