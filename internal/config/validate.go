package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"topicgate/internal/policy"
)

// =============================================================================
// CONFIG VALIDATION MODULE
// =============================================================================
//
// WHY VALIDATE CONFIG AT STARTUP?
//
//   A negative producer ceiling or a typo in log_level is far cheaper to
//   report before the listeners open than after the first producer is
//   rejected for a reason nobody configured.
//
//   FAIL-FAST: Bad config -> process exits with every problem listed
//   FAIL-LAZY: Bad config -> broker starts -> admission misbehaves at runtime
//
//   PATTERN: ACCUMULATE ERRORS
//   Every check appends to one list, so the operator fixes the whole file in
//   one pass.
//
//   COMPARISON:
//     - Pulsar: broker.conf values are checked when the service starts
//     - Kafka: Validates config at startup, logs errors and exits
//     - topicgate: Returns all errors at once (not one-by-one)
//
// =============================================================================

// ValidationError holds one or more configuration problems. Callers can
// errors.As for it to tell bad config apart from I/O failures.
type ValidationError struct {
	Errors []string
}

// Error formats the problems as a numbered list.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0])
	}

	var b strings.Builder
	b.WriteString("configuration validation failed:\n")
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err)
	}
	return b.String()
}

// =============================================================================
// BROKER CONFIG VALIDATION
// =============================================================================

// Validate checks the broker configuration for common mistakes.
// Returns nil if valid, or a *ValidationError with all problems found.
func (c *BrokerConfig) Validate() error {
	var errs []string

	// DataDir: the bolt epoch store lives here
	if c.DataDir == "" {
		errs = append(errs, "data_dir: must not be empty")
	} else {
		errs = append(errs, validateDataDir(c.DataDir)...)
	}

	// NodeID: names this broker in logs and stats
	if c.NodeID == "" {
		errs = append(errs, "node_id: must not be empty")
	} else if strings.ContainsAny(c.NodeID, " \t\n\r") {
		errs = append(errs, "node_id: must not contain whitespace")
	}

	// Cluster: prefixes generated producer names and selects the
	// per-cluster namespace publish rate
	if c.Cluster == "" {
		errs = append(errs, "cluster: must not be empty")
	} else if strings.ContainsAny(c.Cluster, " \t\n\r/") {
		errs = append(errs, "cluster: must not contain whitespace or '/'")
	}

	if err := validateAddress(c.HTTPAddr); err != nil {
		errs = append(errs, fmt.Sprintf("http_addr: invalid %q: %v", c.HTTPAddr, err))
	}
	if c.GRPCAddr != "" {
		if err := validateAddress(c.GRPCAddr); err != nil {
			errs = append(errs, fmt.Sprintf("grpc_addr: invalid %q: %v", c.GRPCAddr, err))
		}
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Sprintf("shutdown_timeout: must be >= 0, got %s", c.ShutdownTimeout))
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level: unknown level %q (debug, info, warn, error)", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log_format: unknown format %q (text, json)", c.LogFormat))
	}

	errs = append(errs, validatePublishRate("broker_publish_rate", c.BrokerPublishRate)...)
	errs = append(errs, validatePolicyDefaults(c.Defaults)...)

	if c.MaxSameAddressProducers < 0 {
		errs = append(errs, fmt.Sprintf("max_same_address_producers_per_topic: must be >= 0, got %d", c.MaxSameAddressProducers))
	}
	if c.MaxSameAddressConsumers < 0 {
		errs = append(errs, fmt.Sprintf("max_same_address_consumers_per_topic: must be >= 0, got %d", c.MaxSameAddressConsumers))
	}

	if c.TopicRateResetInterval < 0 {
		errs = append(errs, fmt.Sprintf("topic_publish_rate_reset_interval: must be >= 0, got %s", c.TopicRateResetInterval))
	}
	if c.BrokerRateResetInterval < 0 {
		errs = append(errs, fmt.Sprintf("broker_publish_rate_reset_interval: must be >= 0, got %s", c.BrokerRateResetInterval))
	}
	if c.InactiveTopicCheckInterval < 0 {
		errs = append(errs, fmt.Sprintf("inactive_topic_check_interval: must be >= 0, got %s", c.InactiveTopicCheckInterval))
	}

	for i, ns := range c.OwnedNamespaces {
		parts := strings.Split(ns, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			errs = append(errs, fmt.Sprintf("owned_namespaces[%d]: %q must be tenant/namespace", i, ns))
		}
	}

	errs = append(errs, c.TLS.Validate()...)

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// validatePolicyDefaults checks the broker tier. Zero means unlimited for
// every ceiling, so only negative values are rejected.
func validatePolicyDefaults(d policy.BrokerDefaults) []string {
	var errs []string

	ceilings := []struct {
		name  string
		value int64
	}{
		{"max_producers_per_topic", int64(d.MaxProducersPerTopic)},
		{"max_consumers_per_topic", int64(d.MaxConsumersPerTopic)},
		{"max_subscriptions_per_topic", int64(d.MaxSubscriptionsPerTopic)},
		{"max_consumers_per_subscription", int64(d.MaxConsumersPerSubscription)},
		{"max_message_size", int64(d.MaxMessageSize)},
		{"message_ttl_seconds", int64(d.MessageTTLSeconds)},
		{"deduplication_snapshot_interval_seconds", int64(d.DeduplicationSnapshotIntervalSeconds)},
		{"delayed_delivery_tick_time_millis", d.DelayedDeliveryTickTimeMillis},
		{"compaction_threshold", d.CompactionThreshold},
		{"inactive_topic_policies.max_inactive_duration_seconds", int64(d.InactiveTopicPolicies.MaxInactiveDurationSeconds)},
	}
	for _, c := range ceilings {
		if c.value < 0 {
			errs = append(errs, fmt.Sprintf("policy_defaults.%s: must be >= 0, got %d", c.name, c.value))
		}
	}

	switch d.InactiveTopicPolicies.DeleteMode {
	case "", policy.DeleteWhenNoSubscriptions, policy.DeleteWhenSubscriptionsCaughtUp:
	default:
		errs = append(errs, fmt.Sprintf("policy_defaults.inactive_topic_policies.delete_mode: unknown mode %q", d.InactiveTopicPolicies.DeleteMode))
	}

	if len(d.SubscriptionTypesEnabled) > 0 && policy.ParseSubscriptionTypes(d.SubscriptionTypesEnabled) == nil {
		errs = append(errs, fmt.Sprintf("policy_defaults.subscription_types_enabled: no known type in %v", d.SubscriptionTypesEnabled))
	}

	errs = append(errs, validatePublishRate("policy_defaults.publish_rate", d.PublishRate)...)
	return errs
}

func validatePublishRate(field string, r policy.PublishRate) []string {
	var errs []string
	if r.MessagesPerSecond < 0 {
		errs = append(errs, fmt.Sprintf("%s.messages_per_second: must be >= 0, got %d", field, r.MessagesPerSecond))
	}
	if r.BytesPerSecond < 0 {
		errs = append(errs, fmt.Sprintf("%s.bytes_per_second: must be >= 0, got %d", field, r.BytesPerSecond))
	}
	return errs
}

// validateDataDir checks that the data directory is usable.
func validateDataDir(dir string) []string {
	var errs []string

	absDir, err := filepath.Abs(dir)
	if err != nil {
		errs = append(errs, fmt.Sprintf("data_dir: cannot resolve path %q: %v", dir, err))
		return errs
	}

	info, err := os.Stat(absDir)
	if err == nil {
		if !info.IsDir() {
			errs = append(errs, fmt.Sprintf("data_dir: %q exists but is not a directory", absDir))
		}
		return errs
	}

	if !os.IsNotExist(err) {
		errs = append(errs, fmt.Sprintf("data_dir: cannot access %q: %v", absDir, err))
		return errs
	}

	// Directory doesn't exist -- check if parent is accessible
	parent := filepath.Dir(absDir)
	if _, err := os.Stat(parent); err != nil {
		errs = append(errs, fmt.Sprintf("data_dir: %q does not exist and parent %q is not accessible: %v", absDir, parent, err))
	}

	return errs
}

// validateAddress checks that a string is a valid host:port or :port address.
func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be host:port format: %w", err)
	}
	if port == "" {
		return fmt.Errorf("port must not be empty")
	}
	return nil
}
