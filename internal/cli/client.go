// =============================================================================
// CLI HTTP CLIENT - ADMIN INTERFACE TO A TOPICGATE BROKER
// =============================================================================
//
// WHAT IS THIS?
// A lightweight HTTP client over the broker's admin API. The admin CLI is
// its only caller; scripts that want typed access can import it too.
//
// HTTP ENDPOINTS USED:
//
//   Topics:
//     GET    /topics                                   List loaded topics
//     GET    /topics/{tenant}/{ns}/{topic}             Describe (stats)
//     PUT    /topics/{tenant}/{ns}/{topic}             Load
//     DELETE /topics/{tenant}/{ns}/{topic}?force=       Unload
//     POST   /topics/{tenant}/{ns}/{topic}/fence       Fence
//     POST   /topics/{tenant}/{ns}/{topic}/unfence     Unfence
//     POST   /topics/{tenant}/{ns}/{topic}/terminate   Terminate
//
//   Policies:
//     GET/PUT/DELETE /topics/{tenant}/{ns}/{topic}/policies
//     GET    /topics/{tenant}/{ns}/{topic}/policies/{item}
//     GET/PUT        /namespaces/{tenant}/{ns}/policies
//
//   Rate limits:
//     GET    /resourcegroups
//     PUT    /resourcegroups/{name}
//     DELETE /resourcegroups/{name}
//     PUT    /broker/publish-rate
//
//   Broker:
//     GET    /health, /stats, /version
//
// Non-persistent topics are addressed with ?domain=non-persistent.
//
// =============================================================================

package cli

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"topicgate/internal/api"
	"topicgate/internal/broker"
	"topicgate/internal/policy"
	"topicgate/internal/ratelimit"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration for the CLI HTTP client.
type ClientConfig struct {
	// ServerURL is the base URL of the admin API (e.g., "http://localhost:8080")
	ServerURL string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// Namespace ("tenant/namespace") qualifies bare topic names.
	Namespace string

	// TLS overrides the transport's TLS settings for https servers.
	TLS *tls.Config
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the HTTP client for CLI operations.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a new CLI HTTP client.
func NewClient(config ClientConfig) *Client {
	httpClient := &http.Client{Timeout: config.Timeout}
	if config.TLS != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = config.TLS
		httpClient.Transport = transport
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

// doRequest encodes body as JSON and decodes a JSON response into result.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}, result interface{}) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}
	return c.do(ctx, method, path, query, raw, "application/json", result)
}

// do executes a request with a pre-encoded body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, contentType string, result interface{}) error {
	u, err := url.JoinPath(c.config.ServerURL, path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	if len(query) > 0 {
		u = u + "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{
				StatusCode: resp.StatusCode,
				Message:    errResp.Error,
				Code:       errResp.Code,
				Retryable:  errResp.Retryable,
			}
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// qualifyTopic prefixes a bare topic name with namespace, keeping any
// domain prefix. Names that already carry a slash are left alone.
func qualifyTopic(namespace, name string) string {
	if namespace == "" {
		return name
	}
	domain, local, ok := strings.Cut(name, "://")
	if !ok {
		domain, local = "", name
	}
	if local == "" || strings.Contains(local, "/") {
		return name
	}
	if domain == "" {
		return namespace + "/" + local
	}
	return domain + "://" + namespace + "/" + local
}

// topicPath maps a topic name in any accepted form onto its admin route.
func topicPath(namespace, name string, suffix ...string) (string, url.Values, error) {
	tn, err := broker.ParseTopicName(qualifyTopic(namespace, name))
	if err != nil {
		return "", nil, err
	}
	parts := append([]string{"topics", tn.Tenant, tn.Namespace, tn.Local}, suffix...)
	path, err := url.JoinPath("/", parts...)
	if err != nil {
		return "", nil, fmt.Errorf("invalid topic name: %w", err)
	}
	var query url.Values
	if tn.Domain != broker.DomainPersistent {
		query = url.Values{"domain": {string(tn.Domain)}}
	}
	return path, query, nil
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// APIError represents an error from the API.
type APIError struct {
	StatusCode int
	Message    string

	// Code is the broker error kind (ProducerBusy, TopicFenced, ...) when
	// the server reported one.
	Code      string
	Retryable bool
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// ErrorResponse is the error response format from the API.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// TOPIC OPERATIONS
// =============================================================================

// ListTopicsResponse is the response from listing topics.
type ListTopicsResponse struct {
	Topics []string `json:"topics" yaml:"topics"`
}

// ListTopics returns all topics loaded on the broker.
func (c *Client) ListTopics(ctx context.Context) (*ListTopicsResponse, error) {
	var resp ListTopicsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/topics", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DescribeTopic returns the stats of a loaded topic.
func (c *Client) DescribeTopic(ctx context.Context, name string) (*broker.TopicStats, error) {
	return c.topicStats(ctx, http.MethodGet, name)
}

// LoadTopic loads a topic, creating its in-memory state if needed.
func (c *Client) LoadTopic(ctx context.Context, name string) (*broker.TopicStats, error) {
	return c.topicStats(ctx, http.MethodPut, name)
}

func (c *Client) topicStats(ctx context.Context, method, name string) (*broker.TopicStats, error) {
	path, query, err := topicPath(c.config.Namespace, name)
	if err != nil {
		return nil, err
	}
	var resp broker.TopicStats
	if err := c.doRequest(ctx, method, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteTopicResponse is the response from unloading a topic.
type DeleteTopicResponse struct {
	Deleted bool   `json:"deleted" yaml:"deleted"`
	Topic   string `json:"topic" yaml:"topic"`
}

// DeleteTopic unloads a topic. Without force, a topic in use is refused.
func (c *Client) DeleteTopic(ctx context.Context, name string, force bool) (*DeleteTopicResponse, error) {
	path, query, err := topicPath(c.config.Namespace, name)
	if err != nil {
		return nil, err
	}
	if force {
		if query == nil {
			query = url.Values{}
		}
		query.Set("force", strconv.FormatBool(force))
	}
	var resp DeleteTopicResponse
	if err := c.doRequest(ctx, http.MethodDelete, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TopicStateResponse is returned by fence, unfence and terminate.
type TopicStateResponse struct {
	Topic      string `json:"topic" yaml:"topic"`
	Fenced     *bool  `json:"fenced,omitempty" yaml:"fenced,omitempty"`
	Terminated bool   `json:"terminated,omitempty" yaml:"terminated,omitempty"`
}

// FenceTopic fences a topic so new producers are refused.
func (c *Client) FenceTopic(ctx context.Context, name string) (*TopicStateResponse, error) {
	return c.topicAction(ctx, name, "fence")
}

// UnfenceTopic lifts a fence.
func (c *Client) UnfenceTopic(ctx context.Context, name string) (*TopicStateResponse, error) {
	return c.topicAction(ctx, name, "unfence")
}

// TerminateTopic permanently closes a topic to new producers.
func (c *Client) TerminateTopic(ctx context.Context, name string) (*TopicStateResponse, error) {
	return c.topicAction(ctx, name, "terminate")
}

func (c *Client) topicAction(ctx context.Context, name, action string) (*TopicStateResponse, error) {
	path, query, err := topicPath(c.config.Namespace, name, action)
	if err != nil {
		return nil, err
	}
	var resp TopicStateResponse
	if err := c.doRequest(ctx, http.MethodPost, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// =============================================================================
// POLICY OPERATIONS
// =============================================================================

// GetTopicPolicies returns the stored topic tier and, when the topic is
// loaded, its effective values.
func (c *Client) GetTopicPolicies(ctx context.Context, name string) (*api.TopicPoliciesResponse, error) {
	path, query, err := topicPath(c.config.Namespace, name, "policies")
	if err != nil {
		return nil, err
	}
	var resp api.TopicPoliciesResponse
	if err := c.doRequest(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetTopicPolicies replaces the topic tier with a JSON or YAML document.
func (c *Client) SetTopicPolicies(ctx context.Context, name string, document []byte) error {
	path, query, err := topicPath(c.config.Namespace, name, "policies")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, path, query, document, documentContentType(document), nil)
}

// DeleteTopicPolicies clears the topic tier.
func (c *Client) DeleteTopicPolicies(ctx context.Context, name string) error {
	path, query, err := topicPath(c.config.Namespace, name, "policies")
	if err != nil {
		return err
	}
	return c.doRequest(ctx, http.MethodDelete, path, query, nil, nil)
}

// GetEffectivePolicy resolves one policy item for a loaded topic.
func (c *Client) GetEffectivePolicy(ctx context.Context, name string, item policy.Item) (*api.EffectivePolicyResponse, error) {
	path, query, err := topicPath(c.config.Namespace, name, "policies", string(item))
	if err != nil {
		return nil, err
	}
	var resp api.EffectivePolicyResponse
	if err := c.doRequest(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetNamespacePolicies returns the stored namespace tier.
func (c *Client) GetNamespacePolicies(ctx context.Context, namespace string) (*policy.NamespacePolicies, error) {
	path, err := namespacePath(namespace)
	if err != nil {
		return nil, err
	}
	var resp policy.NamespacePolicies
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetNamespacePolicies replaces the namespace tier.
func (c *Client) SetNamespacePolicies(ctx context.Context, namespace string, document []byte) error {
	path, err := namespacePath(namespace)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, path, nil, document, documentContentType(document), nil)
}

func namespacePath(namespace string) (string, error) {
	tenant, ns, ok := cutNamespace(namespace)
	if !ok {
		return "", fmt.Errorf("invalid namespace %q: expected tenant/namespace", namespace)
	}
	return url.JoinPath("/", "namespaces", tenant, ns, "policies")
}

func cutNamespace(namespace string) (string, string, bool) {
	tenant, ns, ok := strings.Cut(namespace, "/")
	if !ok || tenant == "" || ns == "" || strings.Contains(ns, "/") {
		return "", "", false
	}
	return tenant, ns, true
}

// documentContentType follows the server's sniffing rule: a body that
// starts with '{' is JSON, anything else YAML.
func documentContentType(document []byte) string {
	if trimmed := bytes.TrimSpace(document); len(trimmed) > 0 && trimmed[0] == '{' {
		return "application/json"
	}
	return "application/yaml"
}

// =============================================================================
// RATE LIMIT OPERATIONS
// =============================================================================

// ListResourceGroupsResponse is the response from listing resource groups.
type ListResourceGroupsResponse struct {
	ResourceGroups []ratelimit.ResourceGroupInfo `json:"resourceGroups" yaml:"resource_groups"`
}

// ListResourceGroups returns every resource group and its bound topics.
func (c *Client) ListResourceGroups(ctx context.Context) (*ListResourceGroupsResponse, error) {
	var resp ListResourceGroupsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/resourcegroups", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetResourceGroup creates a resource group or changes its rate.
func (c *Client) SetResourceGroup(ctx context.Context, name string, rate policy.PublishRate) error {
	path, err := url.JoinPath("/", "resourcegroups", name)
	if err != nil {
		return fmt.Errorf("invalid resource group name: %w", err)
	}
	return c.doRequest(ctx, http.MethodPut, path, nil, rate, nil)
}

// DeleteResourceGroup removes a resource group no topic is bound to.
func (c *Client) DeleteResourceGroup(ctx context.Context, name string) error {
	path, err := url.JoinPath("/", "resourcegroups", name)
	if err != nil {
		return fmt.Errorf("invalid resource group name: %w", err)
	}
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil, nil)
}

// SetBrokerPublishRate changes the broker-wide publish ceiling.
func (c *Client) SetBrokerPublishRate(ctx context.Context, rate policy.PublishRate) error {
	return c.doRequest(ctx, http.MethodPut, "/broker/publish-rate", nil, rate, nil)
}

// =============================================================================
// BROKER OPERATIONS
// =============================================================================

// HealthResponse is the response from health check.
type HealthResponse struct {
	Status    string `json:"status" yaml:"status"`
	NodeID    string `json:"node_id" yaml:"node_id"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
}

// Health checks the server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStats returns broker statistics.
func (c *Client) GetStats(ctx context.Context) (*broker.BrokerStats, error) {
	var resp broker.BrokerStats
	if err := c.doRequest(ctx, http.MethodGet, "/stats", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// =============================================================================
// VERSION INFORMATION
// =============================================================================

// VersionInfo contains version information.
type VersionInfo struct {
	ClientVersion string `json:"client_version" yaml:"client_version"`
	ServerVersion string `json:"server_version,omitempty" yaml:"server_version,omitempty"`
	GitCommit     string `json:"git_commit,omitempty" yaml:"git_commit,omitempty"`
}

// GetVersion returns the client version and, if reachable, the server's.
func (c *Client) GetVersion(ctx context.Context) (*VersionInfo, error) {
	info := &VersionInfo{ClientVersion: api.Version}

	var server struct {
		Version   string `json:"version"`
		GitCommit string `json:"git_commit"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/version", nil, nil, &server); err == nil {
		info.ServerVersion = server.Version
		info.GitCommit = server.GitCommit
	}

	return info, nil
}
