package cli

import (
	"context"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"topicgate/internal/api"
	"topicgate/internal/broker"
	"topicgate/internal/policy"
)

// newTestClient serves the real admin API over httptest and returns a
// client pointed at it.
func newTestClient(t *testing.T) (*Client, *broker.Broker) {
	t.Helper()

	config := broker.DefaultBrokerConfig()
	config.DataDir = t.TempDir()
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	config.InactiveTopicCheckInterval = 0

	b, err := broker.NewBroker(config)
	if err != nil {
		t.Fatalf("NewBroker failed: %v", err)
	}

	srv := httptest.NewServer(api.NewServer(b, api.DefaultServerConfig()).Handler())
	t.Cleanup(func() {
		srv.Close()
		b.Close()
	})

	return NewClient(ClientConfig{ServerURL: srv.URL, Timeout: 5 * time.Second}), b
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestTopicPath(t *testing.T) {
	tests := []struct {
		namespace string
		name      string
		suffix    []string
		path      string
		domain    string
		wantErr   bool
	}{
		{name: "acme/orders/created", path: "/topics/acme/orders/created"},
		{name: "persistent://acme/orders/created", suffix: []string{"fence"}, path: "/topics/acme/orders/created/fence"},
		{name: "non-persistent://acme/orders/tmp", path: "/topics/acme/orders/tmp", domain: "non-persistent"},
		{name: "acme/orders/created", suffix: []string{"policies", "publish_rate"}, path: "/topics/acme/orders/created/policies/publish_rate"},
		{name: "orders", wantErr: true},
		{name: "bogus://a/b/c", wantErr: true},

		// Bare names pick up the context namespace; qualified names ignore it.
		{namespace: "acme/orders", name: "created", path: "/topics/acme/orders/created"},
		{namespace: "acme/orders", name: "non-persistent://tmp", path: "/topics/acme/orders/tmp", domain: "non-persistent"},
		{namespace: "acme/orders", name: "other/ns/created", path: "/topics/other/ns/created"},
		{namespace: "acme/orders", name: "bogus://created", wantErr: true},
	}

	for _, tt := range tests {
		path, query, err := topicPath(tt.namespace, tt.name, tt.suffix...)
		if tt.wantErr {
			if err == nil {
				t.Errorf("topicPath(%q, %q) expected error", tt.namespace, tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("topicPath(%q, %q) error: %v", tt.namespace, tt.name, err)
			continue
		}
		if path != tt.path {
			t.Errorf("topicPath(%q, %q) = %q, want %q", tt.namespace, tt.name, path, tt.path)
		}
		if got := query.Get("domain"); got != tt.domain {
			t.Errorf("topicPath(%q, %q) domain = %q, want %q", tt.namespace, tt.name, got, tt.domain)
		}
	}
}

func TestNamespacePath(t *testing.T) {
	if p, err := namespacePath("acme/orders"); err != nil || p != "/namespaces/acme/orders/policies" {
		t.Errorf("namespacePath = %q, %v", p, err)
	}
	for _, bad := range []string{"acme", "acme/", "/orders", "acme/orders/x"} {
		if _, err := namespacePath(bad); err == nil {
			t.Errorf("namespacePath(%q) expected error", bad)
		}
	}
}

func TestDocumentContentType(t *testing.T) {
	if got := documentContentType([]byte("  {\"a\":1}")); got != "application/json" {
		t.Errorf("JSON sniffed as %q", got)
	}
	if got := documentContentType([]byte("max_producers_per_topic: 2\n")); got != "application/yaml" {
		t.Errorf("YAML sniffed as %q", got)
	}
}

func TestClient_TopicLifecycle(t *testing.T) {
	c, b := newTestClient(t)
	ctx := testContext(t)
	const name = "acme/orders/created"

	// Describe before load is a 404 carrying the broker code.
	_, err := c.DescribeTopic(ctx, name)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "TopicNotFound" {
		t.Fatalf("DescribeTopic before load: %v", err)
	}

	stats, err := c.LoadTopic(ctx, name)
	if err != nil {
		t.Fatalf("LoadTopic failed: %v", err)
	}
	if stats.Name != "persistent://acme/orders/created" {
		t.Errorf("loaded name = %q", stats.Name)
	}

	list, err := c.ListTopics(ctx)
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if len(list.Topics) != 1 || list.Topics[0] != stats.Name {
		t.Errorf("ListTopics = %v", list.Topics)
	}

	if _, err := c.FenceTopic(ctx, name); err != nil {
		t.Fatalf("FenceTopic failed: %v", err)
	}
	topic, err := b.GetTopic(stats.Name)
	if err != nil {
		t.Fatalf("GetTopic failed: %v", err)
	}
	if !topic.IsFenced() {
		t.Error("topic should be fenced")
	}
	if _, err := c.UnfenceTopic(ctx, name); err != nil {
		t.Fatalf("UnfenceTopic failed: %v", err)
	}
	if topic.IsFenced() {
		t.Error("topic should be unfenced")
	}

	if _, err := c.TerminateTopic(ctx, name); err != nil {
		t.Fatalf("TerminateTopic failed: %v", err)
	}
	stats, err = c.DescribeTopic(ctx, name)
	if err != nil {
		t.Fatalf("DescribeTopic failed: %v", err)
	}
	if !stats.Terminated {
		t.Error("stats should report terminated")
	}

	resp, err := c.DeleteTopic(ctx, name, false)
	if err != nil {
		t.Fatalf("DeleteTopic failed: %v", err)
	}
	if !resp.Deleted {
		t.Error("DeleteTopic should report deleted")
	}
}

func TestClient_TopicPolicies(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := testContext(t)
	const name = "acme/orders/created"

	if _, err := c.LoadTopic(ctx, name); err != nil {
		t.Fatalf("LoadTopic failed: %v", err)
	}

	doc := []byte("max_producers_per_topic: 2\n")
	if err := c.SetTopicPolicies(ctx, name, doc); err != nil {
		t.Fatalf("SetTopicPolicies failed: %v", err)
	}

	resp, err := c.GetTopicPolicies(ctx, name)
	if err != nil {
		t.Fatalf("GetTopicPolicies failed: %v", err)
	}
	if resp.Effective == nil || resp.Effective.MaxProducersPerTopic != 2 {
		t.Errorf("effective policies = %+v", resp.Effective)
	}

	eff, err := c.GetEffectivePolicy(ctx, name, policy.ItemMaxProducersPerTopic)
	if err != nil {
		t.Fatalf("GetEffectivePolicy failed: %v", err)
	}
	if eff.Source != policy.TierTopic.String() {
		t.Errorf("source = %q, want %q", eff.Source, policy.TierTopic.String())
	}

	if err := c.DeleteTopicPolicies(ctx, name); err != nil {
		t.Fatalf("DeleteTopicPolicies failed: %v", err)
	}

	err = c.SetTopicPolicies(ctx, name, []byte("{not json"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("bad document: %v", err)
	}
}

func TestClient_NamespacePolicies(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := testContext(t)

	if err := c.SetNamespacePolicies(ctx, "acme/orders", []byte(`{"max_producers_per_topic": 4}`)); err != nil {
		t.Fatalf("SetNamespacePolicies failed: %v", err)
	}
	doc, err := c.GetNamespacePolicies(ctx, "acme/orders")
	if err != nil {
		t.Fatalf("GetNamespacePolicies failed: %v", err)
	}
	if doc == nil {
		t.Fatal("expected a namespace document")
	}

	if _, err := c.GetNamespacePolicies(ctx, "acme/none"); err == nil {
		t.Error("expected error for a namespace without policies")
	}
}

func TestClient_ResourceGroupsAndBrokerRate(t *testing.T) {
	c, b := newTestClient(t)
	ctx := testContext(t)

	rate := policy.PublishRate{MessagesPerSecond: 100}
	if err := c.SetResourceGroup(ctx, "billing", rate); err != nil {
		t.Fatalf("SetResourceGroup failed: %v", err)
	}

	list, err := c.ListResourceGroups(ctx)
	if err != nil {
		t.Fatalf("ListResourceGroups failed: %v", err)
	}
	if len(list.ResourceGroups) != 1 || list.ResourceGroups[0].PublishRate != rate {
		t.Errorf("ListResourceGroups = %+v", list.ResourceGroups)
	}

	if err := c.DeleteResourceGroup(ctx, "billing"); err != nil {
		t.Fatalf("DeleteResourceGroup failed: %v", err)
	}
	err = c.DeleteResourceGroup(ctx, "billing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: %v", err)
	}

	brokerRate := policy.PublishRate{BytesPerSecond: 1 << 20}
	if err := c.SetBrokerPublishRate(ctx, brokerRate); err != nil {
		t.Fatalf("SetBrokerPublishRate failed: %v", err)
	}
	if got := b.Stats().BrokerPublishRate; got != brokerRate {
		t.Errorf("broker rate = %+v, want %+v", got, brokerRate)
	}
}

func TestClient_HealthStatsVersion(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := testContext(t)

	health, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("health status = %q", health.Status)
	}

	stats, err := c.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.NodeID == "" {
		t.Error("stats should carry the node id")
	}

	info, err := c.GetVersion(ctx)
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if info.ClientVersion != api.Version || info.ServerVersion != api.Version {
		t.Errorf("version = %+v", info)
	}
}

func TestClient_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{ServerURL: addr, Timeout: time.Second})
	ctx := testContext(t)

	if _, err := c.ListTopics(ctx); err == nil {
		t.Error("expected error for a closed server")
	}

	// Version never fails; the server part is just empty.
	info, err := c.GetVersion(ctx)
	if err != nil || info.ServerVersion != "" {
		t.Errorf("GetVersion = %+v, %v", info, err)
	}
}

func TestAPIError_Message(t *testing.T) {
	plain := &APIError{StatusCode: 500, Message: "boom"}
	if got := plain.Error(); got != "API error (status 500): boom" {
		t.Errorf("Error() = %q", got)
	}
	coded := &APIError{StatusCode: 409, Message: "producer busy", Code: "ProducerBusy"}
	if got := coded.Error(); got != "API error (status 409, ProducerBusy): producer busy" {
		t.Errorf("Error() = %q", got)
	}
}

func TestClient_DeleteForceQuery(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`{"deleted":true,"topic":"non-persistent://a/b/c"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{ServerURL: srv.URL, Timeout: time.Second})
	if _, err := c.DeleteTopic(testContext(t), "non-persistent://a/b/c", true); err != nil {
		t.Fatalf("DeleteTopic failed: %v", err)
	}
	if got.Get("force") != "true" || got.Get("domain") != "non-persistent" {
		t.Errorf("query = %v", got)
	}
}

func TestClient_HTTPSWithContextCA(t *testing.T) {
	t.Setenv(EnvServer, "")
	t.Setenv(EnvNamespace, "")
	t.Setenv(EnvTimeout, "")

	config := broker.DefaultBrokerConfig()
	config.DataDir = t.TempDir()
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	config.InactiveTopicCheckInterval = 0
	b, err := broker.NewBroker(config)
	if err != nil {
		t.Fatalf("NewBroker failed: %v", err)
	}
	srv := httptest.NewTLSServer(api.NewServer(b, api.DefaultServerConfig()).Handler())
	t.Cleanup(func() {
		srv.Close()
		b.Close()
	})

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(caFile, caPEM, 0600); err != nil {
		t.Fatal(err)
	}
	ctx := testContext(t)

	untrusted := NewClient(ClientConfig{ServerURL: srv.URL, Timeout: 5 * time.Second})
	if _, err := untrusted.Health(ctx); err == nil {
		t.Fatal("expected a certificate error without the context CA")
	}

	cfg := DefaultConfig()
	if err := cfg.SetContext("secure", &ContextConfig{Server: srv.URL, CAFile: caFile, Namespace: "acme/orders"}); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}
	if err := cfg.UseContext("secure"); err != nil {
		t.Fatalf("UseContext failed: %v", err)
	}
	cc, err := Resolve(Overrides{}, cfg)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cc.TLS == nil || cc.TLS.RootCAs == nil {
		t.Fatalf("resolved TLS = %+v, want the context CA", cc.TLS)
	}

	c := NewClient(cc)
	if _, err := c.Health(ctx); err != nil {
		t.Fatalf("Health over https failed: %v", err)
	}

	// A bare name lands in the context namespace.
	stats, err := c.LoadTopic(ctx, "created")
	if err != nil {
		t.Fatalf("LoadTopic failed: %v", err)
	}
	if stats.Name != "persistent://acme/orders/created" {
		t.Errorf("loaded topic = %q", stats.Name)
	}
	if _, err := b.GetTopic("persistent://acme/orders/created"); err != nil {
		t.Errorf("broker should hold the qualified topic: %v", err)
	}
}
