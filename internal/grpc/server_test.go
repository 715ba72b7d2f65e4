// =============================================================================
// GRPC SERVER TESTS
// =============================================================================
//
// These tests verify:
//   - Server startup and shutdown on a random port
//   - Health checks following broker readiness
//   - Error relay: broker errors become status + ErrorInfo
//
// TEST ARCHITECTURE:
//
//   ┌─────────────────────────────────────────────────────────────────────────┐
//   │   ┌─────────────────┐          ┌─────────────────┐                      │
//   │   │   Test Broker   │◄─Ready()─│  gRPC Server    │                      │
//   │   │   (temp dir)    │          │  (127.0.0.1:0)  │                      │
//   │   └─────────────────┘          └────────┬────────┘                      │
//   │                                ┌────────▼────────┐                      │
//   │                                │  Health Client  │                      │
//   │                                └─────────────────┘                      │
//   └─────────────────────────────────────────────────────────────────────────┘
//
// =============================================================================

package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"topicgate/internal/broker"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	broker *broker.Broker
	server *Server
	conn   *grpc.ClientConn
	done   chan error
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := broker.DefaultBrokerConfig()
	cfg.NodeID = "grpc-test"
	cfg.DataDir = t.TempDir()
	cfg.Logger = discardLogger()
	cfg.InactiveTopicCheckInterval = 0

	b, err := broker.NewBroker(cfg)
	if err != nil {
		t.Fatalf("NewBroker failed: %v", err)
	}

	config := DefaultServerConfig()
	config.Address = "127.0.0.1:0"
	config.HealthCheckInterval = time.Hour
	server := NewServer(b, config, discardLogger())

	listener, err := net.Listen("tcp", config.Address)
	if err != nil {
		b.Close()
		t.Fatalf("listen: %v", err)
	}

	ts := &testServer{broker: b, server: server, done: make(chan error, 1)}
	go func() { ts.done <- server.Serve(listener) }()

	conn, err := grpc.NewClient(listener.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		server.Stop()
		b.Close()
		t.Fatalf("dial: %v", err)
	}
	ts.conn = conn

	t.Cleanup(func() {
		conn.Close()
		server.Stop()
		b.Close()
	})
	return ts
}

func (ts *testServer) check(t *testing.T, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(ts.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q) failed: %v", service, err)
	}
	return resp.GetStatus()
}

// =============================================================================
// SERVER TESTS
// =============================================================================

func TestServer_HealthServing(t *testing.T) {
	ts := newTestServer(t)

	for _, service := range []string{"", AdmissionService} {
		if got := ts.check(t, service); got != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("Check(%q) = %v, want SERVING", service, got)
		}
	}
}

func TestServer_HealthUnknownService(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := healthpb.NewHealthClient(ts.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "nope"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound for unknown service, got %v", err)
	}
}

func TestServer_HealthFollowsBroker(t *testing.T) {
	ts := newTestServer(t)

	if err := ts.broker.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	ts.server.RefreshHealth()

	if got := ts.check(t, AdmissionService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after broker close: %v, want NOT_SERVING", got)
	}
}

func TestServer_StopReturnsFromServe(t *testing.T) {
	ts := newTestServer(t)

	// Make sure the server is actually serving before stopping it.
	ts.check(t, "")
	ts.server.Stop()

	select {
	case err := <-ts.done:
		if err != nil {
			t.Errorf("Serve returned %v after Stop", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	// Second Stop is a no-op.
	ts.server.Stop()
}

func TestServer_StartTwice(t *testing.T) {
	ts := newTestServer(t)
	ts.check(t, "")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := ts.server.Serve(listener); err == nil {
		t.Error("expected error when serving twice")
	}
}

func TestServer_Address(t *testing.T) {
	ts := newTestServer(t)
	ts.check(t, "")

	addr := ts.server.Address()
	if _, port, err := net.SplitHostPort(addr); err != nil || port == "0" {
		t.Errorf("Address() = %q, want a bound port", addr)
	}
}

// =============================================================================
// STATUS TESTS
// =============================================================================

func TestToStatus(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      codes.Code
		reason    string
		retryable string
	}{
		{"producer busy", broker.ErrProducerBusy, codes.ResourceExhausted, "ProducerBusy", "false"},
		{"producer fenced", fmt.Errorf("%w: epoch 3 < 4", broker.ErrProducerFenced), codes.FailedPrecondition, "ProducerFenced", "false"},
		{"topic fenced", broker.ErrTopicFenced, codes.Unavailable, "TopicFenced", "true"},
		{"terminated", broker.ErrTopicTerminated, codes.OutOfRange, "TopicTerminated", "false"},
		{"replace race", broker.ErrProducerReplaceRace, codes.AlreadyExists, "NamingConflict", "true"},
		{"naming conflict", broker.ErrNamingConflict, codes.AlreadyExists, "NamingConflict", "false"},
		{"invalid", broker.ErrInvalidRequest, codes.InvalidArgument, "InvalidRequest", "false"},
		{"not found", broker.ErrTopicNotFound, codes.NotFound, "TopicNotFound", "false"},
		{"broker closed", broker.ErrBrokerClosed, codes.Unavailable, "ServiceNotReady", "true"},
		{"policy", broker.ErrPolicyUnavailable, codes.Internal, "PolicyUnavailable", "false"},
		{"too large", broker.ErrMessageTooLarge, codes.InvalidArgument, "MessageTooLarge", "false"},
		{"unknown", errors.New("boom"), codes.Unknown, "UnknownError", "false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := status.FromError(ToStatus(tt.err))
			if !ok {
				t.Fatal("ToStatus did not return a status error")
			}
			if st.Code() != tt.code {
				t.Errorf("code = %v, want %v", st.Code(), tt.code)
			}
			if st.Message() != tt.err.Error() {
				t.Errorf("message = %q, want %q", st.Message(), tt.err.Error())
			}

			var info *errdetails.ErrorInfo
			for _, d := range st.Details() {
				if i, ok := d.(*errdetails.ErrorInfo); ok {
					info = i
				}
			}
			if info == nil {
				t.Fatal("missing ErrorInfo detail")
			}
			if info.GetReason() != tt.reason {
				t.Errorf("reason = %q, want %q", info.GetReason(), tt.reason)
			}
			if info.GetDomain() != ErrorDomain {
				t.Errorf("domain = %q, want %q", info.GetDomain(), ErrorDomain)
			}
			if got := info.GetMetadata()["retryable"]; got != tt.retryable {
				t.Errorf("retryable = %q, want %q", got, tt.retryable)
			}
		})
	}
}

func TestToStatus_Passthrough(t *testing.T) {
	if ToStatus(nil) != nil {
		t.Error("ToStatus(nil) should be nil")
	}

	orig := status.Error(codes.PermissionDenied, "no")
	if got := ToStatus(orig); status.Code(got) != codes.PermissionDenied {
		t.Errorf("existing status changed to %v", status.Code(got))
	}

	if got := ToStatus(context.Canceled); status.Code(got) != codes.Canceled {
		t.Errorf("context.Canceled -> %v", status.Code(got))
	}
	wrapped := fmt.Errorf("waiting for exclusive: %w", context.DeadlineExceeded)
	if got := ToStatus(wrapped); status.Code(got) != codes.DeadlineExceeded {
		t.Errorf("deadline -> %v", status.Code(got))
	}
}

func TestServerErrorFromStatus(t *testing.T) {
	for code := range grpcCodes {
		st := status.New(Code(code), "x")
		st, err := st.WithDetails(&errdetails.ErrorInfo{Reason: code.String(), Domain: ErrorDomain})
		if err != nil {
			t.Fatalf("WithDetails: %v", err)
		}
		got, ok := ServerErrorFromStatus(st.Err())
		if !ok || got != code {
			t.Errorf("ServerErrorFromStatus(%v) = %v, %v", code, got, ok)
		}
	}

	got, ok := ServerErrorFromStatus(ToStatus(broker.ErrTopicTerminated))
	if !ok || got != broker.TopicTerminated {
		t.Errorf("round trip = %v, %v, want TopicTerminated", got, ok)
	}

	if _, ok := ServerErrorFromStatus(status.Error(codes.Internal, "plain")); ok {
		t.Error("status without ErrorInfo should not resolve")
	}
	if _, ok := ServerErrorFromStatus(errors.New("not a status")); ok {
		t.Error("plain error should not resolve")
	}
}

func TestUnaryErrorInterceptor(t *testing.T) {
	interceptor := unaryErrorInterceptor()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, fmt.Errorf("add producer: %w", broker.ErrProducerFenced)
	}

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/test/Add"}, handler)
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("code = %v, want FailedPrecondition", status.Code(err))
	}
	if se, ok := ServerErrorFromStatus(err); !ok || se != broker.ProducerFenced {
		t.Errorf("reason = %v, %v, want ProducerFenced", se, ok)
	}
}

func TestUnaryRecoveryInterceptor(t *testing.T) {
	interceptor := unaryRecoveryInterceptor(discardLogger())
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		panic("boom")
	}

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/test/Panic"}, handler)
	if status.Code(err) != codes.Internal {
		t.Errorf("code = %v, want Internal", status.Code(err))
	}
}
