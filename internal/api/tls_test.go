package api

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"topicgate/internal/broker"
	"topicgate/internal/metrics"
	"topicgate/internal/security"
)

// freeAddr reserves a loopback port and releases it for the server.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestServer_StartTLS(t *testing.T) {
	config := broker.DefaultBrokerConfig()
	config.DataDir = t.TempDir()
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	config.InactiveTopicCheckInterval = 0
	b, err := broker.NewBroker(config)
	if err != nil {
		t.Fatalf("NewBroker failed: %v", err)
	}
	defer b.Close()

	tlsCfg := security.DefaultTLSConfig()
	tlsCfg.Enabled = true
	tlsCfg.SelfSigned = true
	serverTLS, err := tlsCfg.ServerConfig(config.Logger)
	if err != nil {
		t.Fatalf("ServerConfig failed: %v", err)
	}

	sc := DefaultServerConfig()
	sc.Addr = freeAddr(t)
	sc.Metrics = metrics.NewRegistry(metrics.Config{Enabled: true, Namespace: "tlstest"})
	sc.TLS = serverTLS
	s := NewServer(b, sc)
	errc := s.Start()

	client := &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed test cert
		},
	}

	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err = client.Get("https://" + sc.Addr + "/healthz")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET over TLS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.TLS == nil {
		t.Error("response was not served over TLS")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err, ok := <-errc; ok && err != nil {
		t.Errorf("server error: %v", err)
	}
}
