// =============================================================================
// gRPC SERVER - HEALTH & STATUS SURFACE FOR TOPICGATE
// =============================================================================
//
// WHAT IS THIS?
// The gRPC listener of the broker. It serves the standard health service
// (load balancers and Kubernetes gRPC probes) and, in development,
// reflection for grpcurl. The connection layer that admits producers
// registers its own services on the same server through Register.
//
// WHY gRPC IN ADDITION TO HTTP?
//
//   ┌─────────────────────────────────────────────────────────────────────────┐
//   │ Use Case                  │ HTTP (chi)        │ gRPC                    │
//   ├───────────────────────────┼───────────────────┼─────────────────────────┤
//   │ Admin operations          │ ✅ Simple         │ ⚠️ Overkill              │
//   │ Debugging/curl            │ ✅ Easy           │ ⚠️ Need grpcurl          │
//   │ Long-lived producer conns │ ⚠️ Polling        │ ✅ HTTP/2 + keepalive    │
//   │ Typed error relay         │ ⚠️ JSON body      │ ✅ status + ErrorInfo    │
//   └───────────────────────────┴───────────────────┴─────────────────────────┘
//
// ERROR RELAY:
//   Every handler error passes through errorInterceptor, which converts
//   broker errors with ToStatus. Clients switch on the ErrorInfo reason
//   (ProducerFenced, TopicTerminated, ...) rather than on message text.
//
// =============================================================================

package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds gRPC server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., ":9000")
	Address string

	// MaxRecvMsgSize is the max message size in bytes (default: 4MB)
	MaxRecvMsgSize int

	// MaxSendMsgSize is the max message size in bytes (default: 4MB)
	MaxSendMsgSize int

	// MaxConcurrentStreams per connection (default: 100)
	MaxConcurrentStreams uint32

	// Keepalive settings
	KeepaliveTime    time.Duration // How often to ping if no activity
	KeepaliveTimeout time.Duration // How long to wait for ping response

	// EnableReflection enables gRPC reflection for debugging tools
	// Set to true in development, false in production
	EnableReflection bool

	// HealthCheckInterval is how often broker readiness is re-read
	HealthCheckInterval time.Duration

	// TLS, when set, requires TLS from every client connection
	TLS *tls.Config
}

// DefaultServerConfig returns sensible defaults.
//
// TUNING NOTES:
//   - MaxRecvMsgSize: 4MB handles most messages, increase for large payloads
//   - MaxConcurrentStreams: 100 is conservative, increase for high-fanout
//   - Keepalive: 30s ping, 10s timeout detects producers behind dead NATs
//     well before the topic's inactivity sweep would
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:              ":9000",
		MaxRecvMsgSize:       4 * 1024 * 1024, // 4MB
		MaxSendMsgSize:       4 * 1024 * 1024, // 4MB
		MaxConcurrentStreams: 100,
		KeepaliveTime:        30 * time.Second,
		KeepaliveTimeout:     10 * time.Second,
		HealthCheckInterval:  5 * time.Second,
	}
}

// =============================================================================
// SERVER STRUCT
// =============================================================================

// Server is the gRPC server for topicgate.
type Server struct {
	config     ServerConfig
	grpcServer *grpc.Server
	health     *healthService
	logger     *slog.Logger

	// mu protects server state
	mu       sync.RWMutex
	running  bool
	listener net.Listener
}

// NewServer creates a new gRPC server whose health follows source (usually
// the *broker.Broker).
//
// INITIALIZATION FLOW:
//  1. Create gRPC server with options (interceptors, limits)
//  2. Register the health service
//  3. Optionally enable reflection
//  4. Server is ready but not yet listening
func NewServer(source ReadinessSource, config ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "grpc")

	// ==========================================================================
	// gRPC SERVER OPTIONS
	// ==========================================================================
	//
	// WHY THESE OPTIONS?
	//
	// MaxRecvMsgSize/MaxSendMsgSize:
	//   4MB default, raised per deployment when batches are larger.
	//
	// MaxConcurrentStreams:
	//   Bounds what a single client connection can hold open.
	//
	// Keepalive:
	//   - Time: How often to send PING if connection is idle
	//   - Timeout: How long to wait for PING response
	//   A dead producer connection is found here, and its producers are
	//   then removed from the topic (releasing exclusivity).
	//
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(config.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(config.MaxSendMsgSize),
		grpc.MaxConcurrentStreams(config.MaxConcurrentStreams),

		// Keepalive parameters
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    config.KeepaliveTime,
			Timeout: config.KeepaliveTimeout,
		}),

		// Keepalive enforcement policy
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			PermitWithoutStream: true,
			MinTime:             10 * time.Second,
		}),

		// Chain unary interceptors (middleware for unary RPCs)
		grpc.ChainUnaryInterceptor(
			unaryLoggingInterceptor(logger),
			unaryErrorInterceptor(),
			unaryRecoveryInterceptor(logger),
		),

		// Chain stream interceptors (middleware for streaming RPCs)
		grpc.ChainStreamInterceptor(
			streamLoggingInterceptor(logger),
			streamErrorInterceptor(),
			streamRecoveryInterceptor(logger),
		),
	}

	if config.TLS != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(config.TLS)))
	}

	grpcServer := grpc.NewServer(opts...)

	s := &Server{
		config:     config,
		grpcServer: grpcServer,
		health:     newHealthService(source, config.HealthCheckInterval, logger),
		logger:     logger,
	}

	healthpb.RegisterHealthServer(grpcServer, s.health.server)

	// Enable reflection for debugging tools (grpcurl, grpcui)
	if config.EnableReflection {
		reflection.Register(grpcServer)
	}

	return s
}

// Register adds a service implementation. Call before Start.
func (s *Server) Register(desc *grpc.ServiceDesc, impl any) {
	s.grpcServer.RegisterService(desc, impl)
}

// RefreshHealth re-reads broker readiness immediately.
func (s *Server) RefreshHealth() {
	s.health.refresh()
}

// =============================================================================
// SERVER LIFECYCLE
// =============================================================================

// Start begins listening for gRPC connections.
//
// This method blocks until the server is stopped. Typically called in a goroutine:
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        log.Fatal(err)
//	    }
//	}()
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.mu.Unlock()
	return s.Serve(listener)
}

// Serve accepts connections on an existing listener. It blocks like Start.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		listener.Close()
		return errors.New("server already running")
	}
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.health.start()
	s.logger.Info("gRPC server starting",
		"address", listener.Addr().String(),
		"reflection", s.config.EnableReflection,
	)

	// Serve blocks until Stop() is called
	err := s.grpcServer.Serve(listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server.
//
// GRACEFUL SHUTDOWN FLOW:
//  1. Stop accepting new connections
//  2. Wait for existing RPCs to complete (with timeout)
//  3. Force close remaining connections
//
// Health flips to NOT_SERVING first so probes drain traffic before the
// listener goes away.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("gRPC server stopping...")
	s.health.shutdown()

	// GracefulStop waits for existing RPCs to complete
	// Has built-in timeout, falls back to force stop
	s.grpcServer.GracefulStop()

	s.logger.Info("gRPC server stopped")
}

// Address returns the address the server is listening on.
// Useful when using port 0 for dynamic port assignment.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// =============================================================================
// INTERCEPTORS (MIDDLEWARE)
// =============================================================================
//
// WHAT ARE INTERCEPTORS?
// Interceptors in gRPC are like middleware in HTTP frameworks. They wrap
// RPCs to add cross-cutting concerns:
//   - Logging: Log every call
//   - Errors: Convert broker errors to status with ErrorInfo
//   - Recovery: Catch panics, convert to errors
//
// TWO TYPES:
//   - Unary: For request-response RPCs
//   - Stream: For streaming RPCs (client, server, or bidirectional)
//
// EXECUTION ORDER (ChainUnaryInterceptor):
//   Request → Logging → Errors → Recovery → Handler
//   Response ← Logging ← Errors ← Recovery ← Handler
//
// =============================================================================

// unaryLoggingInterceptor logs unary RPC calls.
func unaryLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		// Call the actual handler
		resp, err := handler(ctx, req)

		// Health probes arrive every few seconds, so success is debug
		duration := time.Since(start)
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}

		logger.Log(ctx, level, "gRPC unary",
			"method", info.FullMethod,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)

		return resp, err
	}
}

// unaryErrorInterceptor converts handler errors with ToStatus.
func unaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		return resp, ToStatus(err)
	}
}

// unaryRecoveryInterceptor catches panics and converts them to errors.
func unaryRecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		// Recover from panic
		defer func() {
			if r := recover(); r != nil {
				logger.Error("gRPC panic recovered",
					"method", info.FullMethod,
					"panic", r,
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// streamLoggingInterceptor logs streaming RPC calls.
func streamLoggingInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()

		// Call the actual handler
		err := handler(srv, ss)

		// Log after stream closes
		duration := time.Since(start)
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}

		logger.Log(ss.Context(), level, "gRPC stream",
			"method", info.FullMethod,
			"duration_ms", duration.Milliseconds(),
			"client_stream", info.IsClientStream,
			"server_stream", info.IsServerStream,
			"error", err,
		)

		return err
	}
}

func streamErrorInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		return ToStatus(handler(srv, ss))
	}
}

// streamRecoveryInterceptor catches panics in streaming RPCs.
func streamRecoveryInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("gRPC stream panic recovered",
					"method", info.FullMethod,
					"panic", r,
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()

		return handler(srv, ss)
	}
}
