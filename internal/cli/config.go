// =============================================================================
// CLI CONFIGURATION - ADMIN CONTEXTS
// =============================================================================
//
// WHAT IS THIS?
// A context names one broker's admin endpoint and how to talk to it:
//   - server URL and request timeout
//   - TLS trust for https endpoints (ca_file, insecure_skip_verify)
//   - a default namespace that short topic names resolve against
//
// With namespace "acme/orders" set, "topics describe created" addresses
// persistent://acme/orders/created.
//
// PRECEDENCE (highest to lowest):
//   1. Flags (--server, --namespace, --timeout, --context)
//   2. Environment (TOPICGATE_SERVER, TOPICGATE_NAMESPACE, TOPICGATE_TIMEOUT,
//      TOPICGATE_CONTEXT)
//   3. The current context
//   4. Defaults (http://localhost:8080, 30s, no namespace)
//
// TLS trust always comes from the current context, including when --server
// points somewhere else.
//
// CONFIG FILE (~/.topicgate/config.yaml, or --config / TOPICGATE_CONFIG):
//
//   current-context: prod
//   contexts:
//     local:
//       server: http://localhost:8080
//     prod:
//       server: https://topicgate.prod.example.com:8443
//       timeout: 10
//       namespace: acme/orders
//       ca_file: /etc/topicgate/ca.pem
//
// =============================================================================

package cli

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"topicgate/internal/security"
)

// Environment variable names
const (
	EnvConfig    = "TOPICGATE_CONFIG"
	EnvServer    = "TOPICGATE_SERVER"
	EnvContext   = "TOPICGATE_CONTEXT"
	EnvTimeout   = "TOPICGATE_TIMEOUT"
	EnvNamespace = "TOPICGATE_NAMESPACE"
)

const (
	// DefaultServer is used when nothing else names a broker.
	DefaultServer = "http://localhost:8080"

	// DefaultTimeout is the request timeout in seconds.
	DefaultTimeout = 30
)

// Config is the admin CLI's context file.
type Config struct {
	CurrentContext string                    `yaml:"current-context" json:"current_context"`
	Contexts       map[string]*ContextConfig `yaml:"contexts" json:"contexts"`

	// path is where the file was loaded from; Save writes back there.
	path string
}

// ContextConfig describes how to reach one broker.
type ContextConfig struct {
	Server  string `yaml:"server" json:"server"`
	Timeout int    `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Namespace is "tenant/namespace" for bare topic names.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	// CAFile verifies an https admin endpoint signed by a private CA.
	CAFile             string `yaml:"ca_file,omitempty" json:"ca_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
}

// Validate reports the first problem with the context.
func (c *ContextConfig) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("server %q must be an http or https URL", c.Server)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", c.Timeout)
	}
	if c.Namespace != "" {
		if _, _, ok := cutNamespace(c.Namespace); !ok {
			return fmt.Errorf("namespace %q must be tenant/namespace", c.Namespace)
		}
	}
	if u.Scheme != "https" && (c.CAFile != "" || c.InsecureSkipVerify) {
		return fmt.Errorf("ca_file and insecure_skip_verify need an https server, got %q", c.Server)
	}
	if c.CAFile != "" && c.InsecureSkipVerify {
		return errors.New("ca_file and insecure_skip_verify are mutually exclusive")
	}
	return nil
}

// clientTLS builds the transport's TLS settings for server. A nil result
// means the default transport is fine.
func (c *ContextConfig) clientTLS(server string) (*tls.Config, error) {
	u, err := url.Parse(server)
	if err != nil || u.Scheme != "https" {
		return nil, nil
	}
	if c.CAFile == "" && !c.InsecureSkipVerify {
		return nil, nil
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
	if c.CAFile != "" {
		pool, err := security.LoadCertPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// DefaultConfigPath returns ~/.topicgate/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".topicgate", "config.yaml")
	}
	return filepath.Join(home, ".topicgate", "config.yaml")
}

// ConfigPath picks the file to use: flagValue, then TOPICGATE_CONFIG, then
// the default.
func ConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env
	}
	return DefaultConfigPath()
}

// DefaultConfig has a single "local" context.
func DefaultConfig() *Config {
	return &Config{
		CurrentContext: "local",
		Contexts: map[string]*ContextConfig{
			"local": {Server: DefaultServer, Timeout: DefaultTimeout},
		},
	}
}

// LoadConfig reads the file at path. A missing file yields DefaultConfig,
// still bound to path so Save creates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		cfg.path = path
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{path: path}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*ContextConfig)
	}
	for name, ctx := range cfg.Contexts {
		if ctx == nil {
			return nil, fmt.Errorf("context %q is empty", name)
		}
	}
	return cfg, nil
}

// Path is the file Save writes to.
func (c *Config) Path() string {
	return c.path
}

// Save writes the file with owner-only permissions.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no file path")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetCurrentContext returns the active context.
func (c *Config) GetCurrentContext() (*ContextConfig, error) {
	if c.CurrentContext == "" {
		return nil, errors.New("no current context set")
	}
	return c.GetContext(c.CurrentContext)
}

func (c *Config) GetContext(name string) (*ContextConfig, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q not found", name)
	}
	return ctx, nil
}

// SetContext validates ctx and stores it under name.
func (c *Config) SetContext(name string, ctx *ContextConfig) error {
	if name == "" {
		return errors.New("context name is required")
	}
	if err := ctx.Validate(); err != nil {
		return fmt.Errorf("context %q: %w", name, err)
	}
	if c.Contexts == nil {
		c.Contexts = make(map[string]*ContextConfig)
	}
	c.Contexts[name] = ctx
	return nil
}

// DeleteContext removes name, clearing the current context if it pointed
// there.
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return nil
}

func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return nil
}

// ListContexts returns the context names sorted.
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Overrides are the command-line values that outrank the environment and
// the config file. Zero values mean "not given".
type Overrides struct {
	Server    string
	Namespace string
	Timeout   int
}

// Resolve builds the client configuration for one invocation.
func Resolve(o Overrides, config *Config) (ClientConfig, error) {
	cur := &ContextConfig{}
	if config != nil {
		if ctx, err := config.GetCurrentContext(); err == nil {
			cur = ctx
		}
	}

	cc := ClientConfig{
		ServerURL: firstNonEmpty(o.Server, os.Getenv(EnvServer), cur.Server, DefaultServer),
		Namespace: firstNonEmpty(o.Namespace, os.Getenv(EnvNamespace), cur.Namespace),
		Timeout:   time.Duration(resolveTimeout(o.Timeout, cur)) * time.Second,
	}
	if cc.Namespace != "" {
		if _, _, ok := cutNamespace(cc.Namespace); !ok {
			return ClientConfig{}, fmt.Errorf("namespace %q must be tenant/namespace", cc.Namespace)
		}
	}

	tlsConfig, err := cur.clientTLS(cc.ServerURL)
	if err != nil {
		return ClientConfig{}, err
	}
	cc.TLS = tlsConfig
	return cc, nil
}

func resolveTimeout(flagValue int, cur *ContextConfig) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(EnvTimeout); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > 0 {
			return n
		}
	}
	if cur.Timeout > 0 {
		return cur.Timeout
	}
	return DefaultTimeout
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
