// =============================================================================
// HTTP ADMIN API - REST INTERFACE FOR TOPICGATE
// =============================================================================
//
// WHAT IS THIS?
// The operator surface of the broker. Producers never come through here; the
// connection layer admits them directly. This API lets an operator:
//   - Inspect loaded topics (producers, epoch, waiting exclusive producers)
//   - Manage topic and namespace policy overrides
//   - Fence, unfence, and terminate topics
//   - Manage resource groups and the broker-wide publish rate
//
// WHY CHI ROUTER?
//
//   Chi is stdlib net/http compatible, supports URL parameters such as
//   /topics/{tenant}/{namespace}/{topic}, and ships the middleware we need
//   (request IDs, real IP, panic recovery).
//
// ENDPOINT OVERVIEW:
//
//   ADMIN
//   GET    /health                                   Health check
//   GET    /healthz, /readyz                         Liveness / readiness probes
//   GET    /version                                  Build information
//   GET    /stats                                    Broker statistics
//   GET    /metrics                                  Prometheus metrics
//   PUT    /broker/publish-rate                      Broker-wide publish rate
//
//   TOPICS
//   GET    /topics                                   List loaded topics
//   GET    /topics/{tenant}/{namespace}/{topic}      Topic stats
//   PUT    /topics/{tenant}/{namespace}/{topic}      Load (or create) a topic
//   DELETE /topics/{tenant}/{namespace}/{topic}      Unload a topic (?force=true)
//   POST   .../fence | .../unfence | .../terminate   Lifecycle
//
//   POLICIES
//   GET    .../policies                              Stored + effective policies
//   PUT    .../policies                              Replace topic tier (JSON or YAML)
//   DELETE .../policies                              Clear topic tier
//   GET    .../policies/{item}                       One effective value
//   GET    /namespaces/{tenant}/{namespace}/policies
//   PUT    /namespaces/{tenant}/{namespace}/policies
//
//   RESOURCE GROUPS
//   GET    /resourcegroups
//   PUT    /resourcegroups/{name}
//   DELETE /resourcegroups/{name}
//
// Topic paths use the persistent domain unless ?domain=non-persistent is set.
//
// =============================================================================

package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"topicgate/internal/broker"
	"topicgate/internal/metrics"
	"topicgate/internal/ratelimit"
)

// maxBodyBytes bounds policy documents and other request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// API SERVER
// =============================================================================

// Server is the HTTP admin server for topicgate.
type Server struct {
	broker     *broker.Broker
	metrics    *metrics.Registry
	health     *HealthState
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
}

// ServerConfig holds API server configuration.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Metrics serves /metrics. Nil falls back to the global registry.
	Metrics *metrics.Registry

	// TLS, when set, serves HTTPS with these certificates.
	TLS *tls.Config
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new API server.
func NewServer(b *broker.Broker, config ServerConfig) *Server {
	reg := config.Metrics
	if reg == nil {
		reg = metrics.Get()
	}

	r := chi.NewRouter()
	s := &Server{
		broker:  b,
		metrics: reg,
		health:  NewHealthState(),
		router:  r,
		logger:  b.Logger().With("component", "http-api"),
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
		TLSConfig:    config.TLS,
	}
	return s
}

// registerRoutes sets up all API endpoints using chi router.
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Get("/version", s.handleVersion)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/metrics", s.handleMetrics)
	s.router.Put("/broker/publish-rate", s.setBrokerPublishRate)

	s.router.Route("/topics", func(r chi.Router) {
		r.Get("/", s.listTopics)

		r.Route("/{tenant}/{namespace}/{topic}", func(r chi.Router) {
			r.Get("/", s.getTopic)
			r.Put("/", s.loadTopic)
			r.Delete("/", s.deleteTopic)

			r.Post("/fence", s.fenceTopic)
			r.Post("/unfence", s.unfenceTopic)
			r.Post("/terminate", s.terminateTopic)

			r.Get("/policies", s.getTopicPolicies)
			r.Put("/policies", s.setTopicPolicies)
			r.Delete("/policies", s.deleteTopicPolicies)
			r.Get("/policies/{item}", s.getEffectivePolicy)
		})
	})

	s.router.Route("/namespaces/{tenant}/{namespace}", func(r chi.Router) {
		r.Get("/policies", s.getNamespacePolicies)
		r.Put("/policies", s.setNamespacePolicies)
	})

	s.router.Route("/resourcegroups", func(r chi.Router) {
		r.Get("/", s.listResourceGroups)
		r.Put("/{name}", s.upsertResourceGroup)
		r.Delete("/{name}", s.deleteResourceGroup)
	})
}

// loggingMiddleware logs every request at debug, failures at warn.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		level := slog.LevelDebug
		if wrapped.status >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"requestID", middleware.GetReqID(r.Context()),
			"duration", time.Since(start).String(),
		)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	status int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// =============================================================================
// SERVER LIFECYCLE
// =============================================================================

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Health returns the probe state so the caller can flip readiness.
func (s *Server) Health() *HealthState {
	return s.health
}

// Start begins listening for HTTP requests (non-blocking). errc receives
// the listener error, if any.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	tlsEnabled := s.httpServer.TLSConfig != nil
	s.logger.Info("starting HTTP API server", "addr", s.httpServer.Addr, "tls", tlsEnabled)
	go func() {
		var err error
		if tlsEnabled {
			// Certificates come from TLSConfig.
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
			errc <- err
		}
		close(errc)
	}()
	s.health.SetReady(true)
	return errc
}

// Stop marks the server unready and shuts it down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.health.SetReady(false)
	s.logger.Info("shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("response encode failed", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}

// writeError maps a broker error onto its HTTP status and writes it with
// the protocol code, so clients can branch without parsing messages.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	s.writeJSON(w, status, map[string]interface{}{
		"error":     err.Error(),
		"status":    status,
		"code":      broker.ErrorCode(err).String(),
		"retryable": broker.IsRetryable(err),
	})
}

// HTTPStatus returns the status code reported for err.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, broker.ErrTopicInUse),
		errors.Is(err, ratelimit.ErrResourceGroupInUse):
		return http.StatusConflict
	case errors.Is(err, ratelimit.ErrResourceGroupNotFound):
		return http.StatusNotFound
	}

	switch broker.ErrorCode(err) {
	case broker.InvalidRequest:
		return http.StatusBadRequest
	case broker.TopicNotFound:
		return http.StatusNotFound
	case broker.ProducerBusy, broker.ProducerFenced, broker.TopicFenced,
		broker.NamingConflict, broker.ConsumerBusy:
		return http.StatusConflict
	case broker.TopicTerminated:
		return http.StatusGone
	case broker.ServiceNotReady, broker.PolicyUnavailable:
		return http.StatusServiceUnavailable
	case broker.RateLimited:
		return http.StatusTooManyRequests
	case broker.MessageTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
