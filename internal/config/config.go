package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"topicgate/internal/broker"
	"topicgate/internal/metrics"
	"topicgate/internal/policy"
	"topicgate/internal/ratelimit"
	"topicgate/internal/security"
)

// =============================================================================
// BROKER CONFIGURATION FILE
// =============================================================================
//
// LOAD ORDER:
//
//   DefaultBrokerConfig() ──► YAML file (optional) ──► TOPICGATE_* env ──► Validate()
//
//   A missing file is not an error: a broker started with no config runs
//   standalone with the defaults. Env overrides are applied last so a
//   container can change the node identity and listeners without a file.
//
// EXAMPLE:
//
//   cluster: us-east
//   node_id: broker-0
//   data_dir: /var/lib/topicgate
//   http_addr: 0.0.0.0:8080
//   grpc_addr: 0.0.0.0:9000
//   log_level: info
//   log_format: json
//   precise_publish_rate_limiting: false
//   broker_publish_rate:
//     messages_per_second: 50000
//   policy_defaults:
//     max_producers_per_topic: 100
//     max_message_size: 5242880
//   tls:
//     enabled: true
//     cert_file: /etc/topicgate/tls/server.crt
//     key_file: /etc/topicgate/tls/server.key
//
// =============================================================================

// BrokerConfig is the on-disk configuration of a topicgate broker.
type BrokerConfig struct {
	Cluster string `yaml:"cluster"`
	NodeID  string `yaml:"node_id"`
	DataDir string `yaml:"data_dir"`

	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	GRPCReflection  bool          `yaml:"grpc_reflection"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Metrics MetricsConfig `yaml:"metrics"`

	// TLS secures both the admin API and the gRPC listener.
	TLS security.TLSConfig `yaml:"tls"`

	// Defaults is the broker tier of every topic policy item
	Defaults policy.BrokerDefaults `yaml:"policy_defaults"`

	// BrokerPublishRate caps publishing across every topic on this broker
	BrokerPublishRate policy.PublishRate `yaml:"broker_publish_rate"`

	PreciseRateLimiting bool `yaml:"precise_publish_rate_limiting"`

	// TopicRateResetInterval and BrokerRateResetInterval drive the windowed
	// limiters. Values under one second are raised to one second.
	TopicRateResetInterval  time.Duration `yaml:"topic_publish_rate_reset_interval"`
	BrokerRateResetInterval time.Duration `yaml:"broker_publish_rate_reset_interval"`

	MaxSameAddressProducers int `yaml:"max_same_address_producers_per_topic"`
	MaxSameAddressConsumers int `yaml:"max_same_address_consumers_per_topic"`

	ReplicatorPrefix string `yaml:"replicator_prefix"`

	// OwnedNamespaces restricts the namespaces this broker serves (empty = all)
	OwnedNamespaces []string `yaml:"owned_namespaces"`

	InactiveTopicCheckInterval time.Duration `yaml:"inactive_topic_check_interval"`
}

// MetricsConfig toggles the Prometheus collectors.
type MetricsConfig struct {
	Enabled          bool `yaml:"enabled"`
	GoCollector      bool `yaml:"go_collector"`
	ProcessCollector bool `yaml:"process_collector"`
}

// DefaultBrokerConfig returns the configuration of a standalone broker.
func DefaultBrokerConfig() *BrokerConfig {
	b := broker.DefaultBrokerConfig()
	return &BrokerConfig{
		Cluster:         b.Cluster,
		NodeID:          b.NodeID,
		DataDir:         b.DataDir,
		HTTPAddr:        "127.0.0.1:8080",
		GRPCAddr:        "127.0.0.1:9000",
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
		Metrics: MetricsConfig{
			Enabled:          true,
			GoCollector:      true,
			ProcessCollector: true,
		},
		TLS:                        security.DefaultTLSConfig(),
		Defaults:                   b.PolicyDefaults,
		TopicRateResetInterval:     b.Monitor.TopicInterval,
		BrokerRateResetInterval:    b.Monitor.BrokerInterval,
		ReplicatorPrefix:           b.ReplicatorPrefix,
		InactiveTopicCheckInterval: b.InactiveTopicCheckInterval,
	}
}

// Load reads the config file at path on top of the defaults and applies
// environment overrides. A missing file yields the defaults.
func Load(path string) (*BrokerConfig, error) {
	cfg := DefaultBrokerConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// LookupFunc matches os.LookupEnv so tests can supply their own environment.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from TOPICGATE_* variables.
//
//	TOPICGATE_CLUSTER                     cluster
//	TOPICGATE_NODE_ID                     node_id
//	TOPICGATE_DATA_DIR                    data_dir
//	TOPICGATE_HTTP_ADDR                   http_addr
//	TOPICGATE_GRPC_ADDR                   grpc_addr
//	TOPICGATE_LOG_LEVEL                   log_level
//	TOPICGATE_LOG_FORMAT                  log_format
//	TOPICGATE_METRICS_ENABLED             metrics.enabled
//	TOPICGATE_PRECISE_RATE_LIMITING       precise_publish_rate_limiting
//	TOPICGATE_BROKER_PUBLISH_RATE_MSG     broker_publish_rate.messages_per_second
//	TOPICGATE_BROKER_PUBLISH_RATE_BYTES   broker_publish_rate.bytes_per_second
//	TOPICGATE_OWNED_NAMESPACES            owned_namespaces (comma separated)
func (c *BrokerConfig) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("TOPICGATE_CLUSTER", &c.Cluster)
	str("TOPICGATE_NODE_ID", &c.NodeID)
	str("TOPICGATE_DATA_DIR", &c.DataDir)
	str("TOPICGATE_HTTP_ADDR", &c.HTTPAddr)
	str("TOPICGATE_GRPC_ADDR", &c.GRPCAddr)
	str("TOPICGATE_LOG_LEVEL", &c.LogLevel)
	str("TOPICGATE_LOG_FORMAT", &c.LogFormat)
	str("TOPICGATE_TLS_CERT_FILE", &c.TLS.CertFile)
	str("TOPICGATE_TLS_KEY_FILE", &c.TLS.KeyFile)
	str("TOPICGATE_TLS_CA_FILE", &c.TLS.CAFile)
	str("TOPICGATE_TLS_CLIENT_AUTH", &c.TLS.ClientAuth)
	str("TOPICGATE_TLS_MIN_VERSION", &c.TLS.MinVersion)

	var errs []string
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
			return
		}
		*dst = b
	}
	integer := func(key string, dst *int64) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}

	boolean("TOPICGATE_METRICS_ENABLED", &c.Metrics.Enabled)
	boolean("TOPICGATE_PRECISE_RATE_LIMITING", &c.PreciseRateLimiting)
	boolean("TOPICGATE_TLS_ENABLED", &c.TLS.Enabled)
	boolean("TOPICGATE_TLS_SELF_SIGNED", &c.TLS.SelfSigned)

	msgs := int64(c.BrokerPublishRate.MessagesPerSecond)
	integer("TOPICGATE_BROKER_PUBLISH_RATE_MSG", &msgs)
	c.BrokerPublishRate.MessagesPerSecond = int(msgs)
	integer("TOPICGATE_BROKER_PUBLISH_RATE_BYTES", &c.BrokerPublishRate.BytesPerSecond)

	if v, ok := lookup("TOPICGATE_OWNED_NAMESPACES"); ok && v != "" {
		c.OwnedNamespaces = splitList(v)
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// PolicyDefaults returns the broker tier handed to every topic resolver.
func (c *BrokerConfig) PolicyDefaults() policy.BrokerDefaults {
	d := c.Defaults
	d.SubscriptionTypesEnabled = append([]string(nil), d.SubscriptionTypesEnabled...)
	return d
}

// SlogLevel parses LogLevel, defaulting to info.
func (c *BrokerConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger: a text handler unless log_format is
// json.
func (c *BrokerConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// MetricsConfig returns the registry settings.
func (c *BrokerConfig) MetricsConfig() metrics.Config {
	m := metrics.DefaultConfig()
	m.Enabled = c.Metrics.Enabled
	m.IncludeGoCollector = c.Metrics.GoCollector
	m.IncludeProcessCollector = c.Metrics.ProcessCollector
	return m
}

// BrokerOptions converts the file config into the broker's runtime config.
func (c *BrokerConfig) BrokerOptions(logger *slog.Logger) broker.BrokerConfig {
	opts := broker.DefaultBrokerConfig()
	opts.NodeID = c.NodeID
	opts.Cluster = c.Cluster
	opts.DataDir = c.DataDir
	opts.LogLevel = c.SlogLevel()
	opts.Logger = logger
	opts.PolicyDefaults = c.PolicyDefaults()
	opts.BrokerPublishRate = c.BrokerPublishRate
	opts.PreciseRateLimiting = c.PreciseRateLimiting
	opts.MaxSameAddressProducers = c.MaxSameAddressProducers
	opts.MaxSameAddressConsumers = c.MaxSameAddressConsumers
	if c.ReplicatorPrefix != "" {
		opts.ReplicatorPrefix = c.ReplicatorPrefix
	}
	opts.Monitor = ratelimit.MonitorConfig{
		TopicInterval:  c.TopicRateResetInterval,
		BrokerInterval: c.BrokerRateResetInterval,
	}
	opts.InactiveTopicCheckInterval = c.InactiveTopicCheckInterval
	opts.OwnedNamespaces = append([]string(nil), c.OwnedNamespaces...)
	return opts
}
