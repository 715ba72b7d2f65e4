// =============================================================================
// METRICS REGISTRY - PROMETHEUS INSTRUMENTATION FOR TOPICGATE
// =============================================================================
//
// WHAT THIS PACKAGE DOES:
// Owns a private Prometheus registry and the two metric subsystems the
// admission core reports into:
//
//   ┌────────────────────────────────────────────────────────────────────────┐
//   │                            metrics.Registry                            │
//   │                                                                        │
//   │   Admission  → producers admitted / rejected / waiting, topic epoch,   │
//   │                usage count, consumer rejections                        │
//   │   RateLimit  → messages and bytes in, throttles per gate, resumes,     │
//   │                configured topic rates, resource groups                 │
//   │                                                                        │
//   │   /metrics   ← Handler() (OpenMetrics via promhttp)                    │
//   └────────────────────────────────────────────────────────────────────────┘
//
// A private registry keeps tests isolated: every NewRegistry call starts from
// zero, while the process-wide instance lives behind Init/Get.
//
// NAMING:
//   <namespace>_<subsystem>_<name>_<unit>
//   topicgate_admission_producers_admitted_total
//   topicgate_ratelimit_publish_throttled_total
//
// =============================================================================

package metrics

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a Prometheus registry together with the subsystem metrics.
type Registry struct {
	promRegistry *prometheus.Registry
	config       Config
	logger       *slog.Logger
	enabled      bool

	Admission *AdmissionMetrics
	RateLimit *RateLimitMetrics
}

// Config controls what the registry collects.
type Config struct {
	// Enabled turns metrics collection on/off. A disabled registry still
	// serves /metrics, with a placeholder body.
	Enabled bool

	// Namespace is the prefix for all metrics (default: "topicgate").
	Namespace string

	IncludeGoCollector      bool
	IncludeProcessCollector bool

	// HistogramBuckets for latency measurements (in seconds). Producer
	// admission ranges from sub-millisecond (shared) to seconds (waiting
	// for exclusivity).
	HistogramBuckets []float64
}

// DefaultConfig returns sensible defaults for production.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		Namespace:               "topicgate",
		IncludeGoCollector:      true,
		IncludeProcessCollector: true,
		HistogramBuckets: []float64{
			0.0005,
			0.001,
			0.005,
			0.01,
			0.05,
			0.1,
			0.5,
			1,
			5,
			30,
		},
	}
}

// =============================================================================
// GLOBAL REGISTRY
// =============================================================================

var (
	globalRegistry *Registry
	globalOnce     sync.Once
)

// Init creates the process-wide registry. Subsequent calls return the first
// instance.
func Init(config Config) *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry(config)
	})
	return globalRegistry
}

// Get returns the process-wide registry, or nil before Init.
func Get() *Registry {
	return globalRegistry
}

// Handler returns the /metrics handler of the global registry.
func Handler() http.Handler {
	if globalRegistry == nil {
		return nil
	}
	return globalRegistry.Handler()
}

// NewRegistry creates an independent registry with all subsystems registered.
func NewRegistry(config Config) *Registry {
	logger := slog.Default().With("component", "metrics")
	if config.Namespace == "" {
		config.Namespace = "topicgate"
	}

	r := &Registry{
		promRegistry: prometheus.NewRegistry(),
		config:       config,
		logger:       logger,
		enabled:      config.Enabled,
	}

	if !config.Enabled {
		logger.Info("metrics collection disabled")
		return r
	}

	if config.IncludeGoCollector {
		r.promRegistry.MustRegister(collectors.NewGoCollector())
	}
	if config.IncludeProcessCollector {
		r.promRegistry.MustRegister(collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		))
	}

	r.Admission = newAdmissionMetrics(r)
	r.RateLimit = newRateLimitMetrics(r)

	logger.Info("metrics registry initialized", "namespace", config.Namespace)
	return r
}

// Handler returns an http.Handler serving the registry in Prometheus format.
func (r *Registry) Handler() http.Handler {
	if !r.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("# Metrics disabled\n"))
		})
	}

	return promhttp.HandlerFor(r.promRegistry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          &promLogger{logger: r.logger},
		Registry:          r.promRegistry,
	})
}

// promLogger adapts slog to promhttp's Println logger.
type promLogger struct {
	logger *slog.Logger
}

func (l *promLogger) Println(v ...interface{}) {
	l.logger.Error("prometheus handler error", "error", v)
}

func (r *Registry) Enabled() bool {
	return r.enabled
}

func (r *Registry) Config() Config {
	return r.config
}

func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.promRegistry
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *Registry) newCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace = r.config.Namespace
	counterVec := prometheus.NewCounterVec(opts, labelNames)
	r.promRegistry.MustRegister(counterVec)
	return counterVec
}

func (r *Registry) newGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = r.config.Namespace
	gauge := prometheus.NewGauge(opts)
	r.promRegistry.MustRegister(gauge)
	return gauge
}

func (r *Registry) newGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	opts.Namespace = r.config.Namespace
	gaugeVec := prometheus.NewGaugeVec(opts, labelNames)
	r.promRegistry.MustRegister(gaugeVec)
	return gaugeVec
}

func (r *Registry) newHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	opts.Namespace = r.config.Namespace
	if opts.Buckets == nil {
		opts.Buckets = r.config.HistogramBuckets
	}
	histogramVec := prometheus.NewHistogramVec(opts, labelNames)
	r.promRegistry.MustRegister(histogramVec)
	return histogramVec
}

// Timer measures an operation and reports it to an observer.
//
//	timer := metrics.NewTimer(m.Admission.AdmissionLatency.WithLabelValues("Shared"))
//	defer timer.ObserveDuration()
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

func NewTimer(observer prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: observer,
	}
}

// ObserveDuration records the elapsed time and returns it.
func (t *Timer) ObserveDuration() time.Duration {
	elapsed := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(elapsed.Seconds())
	}
	return elapsed
}
