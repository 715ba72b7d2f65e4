// =============================================================================
// HEALTH SERVICE - STANDARD gRPC HEALTH CHECKS
// =============================================================================
//
// The standard grpc.health.v1.Health service, driven by broker readiness:
//
//   ┌─────────────────────────────────────────────────────────────────────────┐
//   │ Service name          │ SERVING when                                    │
//   ├───────────────────────┼─────────────────────────────────────────────────┤
//   │ "" (overall)          │ broker open                                     │
//   │ "topicgate.Admission" │ broker open (producers can be admitted)         │
//   └───────────────────────┴─────────────────────────────────────────────────┘
//
// Readiness is polled on an interval and once more on Stop, so Watch
// streams see NOT_SERVING as soon as the broker starts closing.
//
// =============================================================================

package grpc

import (
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// AdmissionService is the health service name for producer admission.
const AdmissionService = "topicgate.Admission"

// ReadinessSource reports whether the broker accepts work.
type ReadinessSource interface {
	Ready() bool
}

// healthService keeps a health.Server in step with broker readiness.
type healthService struct {
	server   *health.Server
	source   ReadinessSource
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	serving bool
	known   bool
	stop    chan struct{}
	done    chan struct{}
}

func newHealthService(source ReadinessSource, interval time.Duration, logger *slog.Logger) *healthService {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	h := &healthService{
		server:   health.NewServer(),
		source:   source,
		interval: interval,
		logger:   logger,
	}
	h.refresh()
	return h
}

// refresh publishes the current readiness. Only transitions are logged.
func (h *healthService) refresh() {
	ready := h.source.Ready()

	h.mu.Lock()
	changed := !h.known || h.serving != ready
	h.serving, h.known = ready, true
	h.mu.Unlock()

	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", st)
	h.server.SetServingStatus(AdmissionService, st)
	if changed {
		h.logger.Info("health status changed", "status", st.String())
	}
}

// start polls readiness until stop is called.
func (h *healthService) start() {
	h.mu.Lock()
	if h.stop != nil {
		h.mu.Unlock()
		return
	}
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	stop, done := h.stop, h.done
	h.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.refresh()
			case <-stop:
				return
			}
		}
	}()
}

// shutdown stops polling and reports NOT_SERVING for every service.
func (h *healthService) shutdown() {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop, h.done = nil, nil
	h.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	h.server.Shutdown()
}
