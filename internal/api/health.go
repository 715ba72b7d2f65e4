// =============================================================================
// HEALTH, STATS & METRICS ENDPOINTS
// =============================================================================
//
//   GET /health      - Overall health status
//   GET /healthz     - Kubernetes liveness probe
//   GET /readyz      - Kubernetes readiness probe
//
//   ┌─────────────────────────────────────────────────────────────────────────┐
//   │   Pod Created ──► /healthz ──► alive? keep running : restart            │
//   │                                                                         │
//   │   /readyz: server started AND broker not closed                         │
//   │     ├── pass ──► receives admin traffic                                 │
//   │     └── fail ──► removed from endpoints (shutdown in progress)          │
//   └─────────────────────────────────────────────────────────────────────────┘
//
// =============================================================================

package api

import (
	"net/http"
	"sync/atomic"
	"time"
)

// HealthState tracks the server's probe status.
type HealthState struct {
	ready     atomic.Bool
	live      atomic.Bool
	startTime time.Time
}

// NewHealthState returns a live, not yet ready state.
func NewHealthState() *HealthState {
	h := &HealthState{startTime: time.Now()}
	h.live.Store(true)
	return h
}

func (h *HealthState) SetReady(ready bool) { h.ready.Store(ready) }
func (h *HealthState) SetLive(live bool)   { h.live.Store(live) }
func (h *HealthState) IsReady() bool       { return h.ready.Load() }
func (h *HealthState) IsLive() bool        { return h.live.Load() }

// Uptime returns how long the server has been running.
func (h *HealthState) Uptime() time.Duration {
	return time.Since(h.startTime)
}

// Version information (set at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if !s.broker.Ready() {
		status, code = "closing", http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"node_id":   s.broker.NodeID(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleHealthz answers the liveness probe. It never looks at the broker:
// a broker that is shutting down is still alive.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.health.IsLive() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "fail",
			"message": "broker is not alive",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "pass",
		"uptime": s.health.Uptime().Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.health.IsReady() || !s.broker.Ready() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "fail",
			"message": "broker is not ready",
		})
		return
	}

	resp := map[string]interface{}{
		"status": "pass",
		"uptime": s.health.Uptime().Truncate(time.Second).String(),
	}
	if r.URL.Query().Get("verbose") == "true" {
		resp["broker"] = s.broker.Stats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.broker.Stats())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "metrics not initialized")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}
