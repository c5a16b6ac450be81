package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Evaluation outcomes used as metric labels.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Metrics provides Prometheus metrics for kiln builds.
type Metrics struct {
	config MetricsConfig

	// Evaluation metrics
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	activeEvaluations  prometheus.Gauge

	// Listener metrics
	listenerFailures *prometheus.CounterVec

	// Fork metrics
	forkLaunches       *prometheus.CounterVec
	forkLaunchDuration *prometheus.HistogramVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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

		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "project_evaluations_total",
				Help:      "Total number of project evaluations by outcome",
			},
			[]string{"outcome"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "project_evaluation_duration_seconds",
				Help:      "Duration of project evaluations in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		activeEvaluations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "project_evaluations_active",
				Help:      "Number of project evaluations in progress",
			},
		),

		listenerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluation_listener_failures_total",
				Help:      "Total number of evaluation listener failures by phase",
			},
			[]string{"phase"},
		),

		forkLaunches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fork_launches_total",
				Help:      "Total number of forked JVM processes by exit code",
			},
			[]string{"exit_code"},
		),
		forkLaunchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fork_duration_seconds",
				Help:      "Run time of forked JVM processes in seconds",
				Buckets:   buckets,
			},
			[]string{"project"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of fork policy violations",
			},
			[]string{"policy", "severity"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of build errors by class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.activeEvaluations,
		m.listenerFailures,
		m.forkLaunches,
		m.forkLaunchDuration,
		m.policyViolations,
		m.errorsByClass,
	)

	return m, nil
}

// Registry returns the registry backing the metrics, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Evaluation Metrics

// EvaluationStarted marks a project evaluation as in progress.
func (m *Metrics) EvaluationStarted() {
	if m.activeEvaluations == nil {
		return
	}
	m.activeEvaluations.Inc()
}

// RecordEvaluation records a finished project evaluation.
func (m *Metrics) RecordEvaluation(outcome string, duration time.Duration) {
	if m.evaluationsTotal == nil {
		return
	}
	m.activeEvaluations.Dec()
	m.evaluationsTotal.WithLabelValues(outcome).Inc()
	m.evaluationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordListenerFailure records a listener failure in the given phase.
func (m *Metrics) RecordListenerFailure(phase string) {
	if m.listenerFailures == nil {
		return
	}
	m.listenerFailures.WithLabelValues(phase).Inc()
}

// Fork Metrics

// RecordForkLaunch records a finished fork.
func (m *Metrics) RecordForkLaunch(project string, exitCode int, duration time.Duration) {
	if m.forkLaunches == nil {
		return
	}
	m.forkLaunches.WithLabelValues(strconv.Itoa(exitCode)).Inc()
	m.forkLaunchDuration.WithLabelValues(project).Observe(duration.Seconds())
}

// RecordPolicyViolation records one policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Error Metrics

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
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

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics until ctx is done. It returns nil
// without starting anything unless metrics are enabled and served.
func (m *Metrics) StartMetricsServer(ctx context.Context, onError func(error)) error {
	if !m.config.Enabled || !m.config.Serve {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
