package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for pondsync.
//
// Every method is safe to call on a nil *Metrics or on an instance created
// with metrics disabled; both record nothing.
type Metrics struct {
	config MetricsConfig

	// Remote API metrics
	remoteCalls    *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	authRefreshes  *prometheus.CounterVec

	// Pond operation metrics
	pondOperations *prometheus.CounterVec
	pondDuration   *prometheus.HistogramVec
	pondsManaged   prometheus.Gauge

	// Aggregate metrics
	aggregatePatches *prometheus.CounterVec

	// Sweep metrics
	sweepRuns     *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepCreated  prometheus.Counter
	sweepFailures prometheus.Counter

	// Management surface metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "remote",
				Name:      "requests_total",
				Help:      "Total number of FarmBot API requests",
			},
			[]string{"method", "resource", "status"},
		),
		remoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "remote",
				Name:      "request_duration_seconds",
				Help:      "Duration of FarmBot API requests in seconds",
				Buckets:   buckets,
			},
			[]string{"method", "resource"},
		),
		authRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "remote",
				Name:      "token_refreshes_total",
				Help:      "Total number of bearer token requests",
			},
			[]string{"outcome"},
		),

		pondOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pond_operations_total",
				Help:      "Total number of pond lifecycle operations",
			},
			[]string{"operation", "outcome"},
		),
		pondDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pond_operation_duration_seconds",
				Help:      "Duration of pond lifecycle operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		pondsManaged: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ponds_managed",
				Help:      "Number of pond points seen by the last sweep",
			},
		),

		aggregatePatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregate_patches_total",
				Help:      "Total number of aggregate sequence reconciliations",
			},
			[]string{"action"},
		),

		sweepRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "runs_total",
				Help:      "Total number of reconciliation sweeps",
			},
			[]string{"status"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "duration_seconds",
				Help:      "Duration of reconciliation sweeps in seconds",
				Buckets:   buckets,
			},
		),
		sweepCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "sequences_created_total",
				Help:      "Total number of derived sequences created by sweeps",
			},
		),
		sweepFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "item_failures_total",
				Help:      "Total number of pond/template pairs a sweep failed to create",
			},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total management HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Management HTTP request duration in seconds",
				Buckets:   buckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.remoteCalls,
		m.remoteDuration,
		m.authRefreshes,
		m.pondOperations,
		m.pondDuration,
		m.pondsManaged,
		m.aggregatePatches,
		m.sweepRuns,
		m.sweepDuration,
		m.sweepCreated,
		m.sweepFailures,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

// Remote API Metrics

// RecordRemoteCall records one HTTP round trip to the FarmBot API.
// A status of 0 means the request never got a response.
func (m *Metrics) RecordRemoteCall(method, resource string, status int, duration time.Duration) {
	if m == nil || m.remoteCalls == nil {
		return
	}
	m.remoteCalls.WithLabelValues(method, resource, strconv.Itoa(status)).Inc()
	m.remoteDuration.WithLabelValues(method, resource).Observe(duration.Seconds())
}

// RecordAuthRefresh records a token request.
func (m *Metrics) RecordAuthRefresh(ok bool) {
	if m == nil || m.authRefreshes == nil {
		return
	}
	m.authRefreshes.WithLabelValues(outcome(ok)).Inc()
}

// Pond Metrics

// RecordPondOperation records a create, update or delete.
func (m *Metrics) RecordPondOperation(operation string, err error, duration time.Duration) {
	if m == nil || m.pondOperations == nil {
		return
	}
	m.pondOperations.WithLabelValues(operation, outcome(err == nil)).Inc()
	m.pondDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetPondsManaged sets the pond count gauge.
func (m *Metrics) SetPondsManaged(count int) {
	if m == nil || m.pondsManaged == nil {
		return
	}
	m.pondsManaged.Set(float64(count))
}

// RecordAggregatePatch records an aggregate reconciliation. Action is one of
// "patched", "unchanged" or "skipped".
func (m *Metrics) RecordAggregatePatch(action string) {
	if m == nil || m.aggregatePatches == nil {
		return
	}
	m.aggregatePatches.WithLabelValues(action).Inc()
}

// Sweep Metrics

// RecordSweep records a finished sweep pass.
func (m *Metrics) RecordSweep(status string, created, failed int, duration time.Duration) {
	if m == nil || m.sweepRuns == nil {
		return
	}
	m.sweepRuns.WithLabelValues(status).Inc()
	m.sweepDuration.Observe(duration.Seconds())
	m.sweepCreated.Add(float64(created))
	m.sweepFailures.Add(float64(failed))
}

// HTTP Metrics

// RecordHTTPRequest records one management API request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Registry returns the registry metrics are registered on, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
