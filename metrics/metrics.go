// Package metrics exports healing run metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/semheal/llm"
)

const namespace = "semheal"

// Metrics holds the collectors of one run. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessions         *prometheus.CounterVec
	attempts         *prometheus.CounterVec
	strategies       *prometheus.CounterVec
	executorDuration *prometheus.HistogramVec
	llmCalls         *prometheus.CounterVec
	llmDuration      *prometheus.HistogramVec
	llmTokens        *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Labels: outcome (passed, failed, aborted)
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Healing sessions by terminal outcome",
		}, []string{"outcome"}),

		// Labels: version (initial, local, model, advanced), result (passed, failed)
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Executed attempts by script version and result",
		}, []string{"version", "result"}),

		// Labels: strategy, result (applied, none)
		strategies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategies_total",
			Help:      "Repair strategy invocations by result",
		}, []string{"strategy", "result"}),

		executorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of test executions",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		}, []string{"result"}),

		llmCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM calls by capability, model and status",
		}, []string{"capability", "model", "status"}),

		llmDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "duration_seconds",
			Help:      "LLM call latency including retries and fallbacks",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"capability"}),

		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by LLM calls",
		}, []string{"model", "kind"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordSession counts a finished session.
func (m *Metrics) RecordSession(outcome string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(outcome).Inc()
}

// RecordAttempt counts one execution and observes its duration.
func (m *Metrics) RecordAttempt(version string, passed bool, d time.Duration) {
	if m == nil {
		return
	}
	result := resultLabel(passed)
	m.attempts.WithLabelValues(version, result).Inc()
	m.executorDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordStrategy counts a repair strategy invocation.
func (m *Metrics) RecordStrategy(strategy string, produced bool) {
	if m == nil {
		return
	}
	result := "applied"
	if !produced {
		result = "none"
	}
	m.strategies.WithLabelValues(strategy, result).Inc()
}

// ObserveCall implements llm.CallObserver.
func (m *Metrics) ObserveCall(rec llm.CallRecord) {
	if m == nil {
		return
	}
	status := "success"
	if rec.Err != nil {
		status = "error"
	}
	model := rec.Model
	if model == "" {
		model = "none"
	}
	m.llmCalls.WithLabelValues(rec.Capability, model, status).Inc()
	m.llmDuration.WithLabelValues(rec.Capability).Observe(rec.Duration.Seconds())
	if rec.Usage.PromptTokens > 0 {
		m.llmTokens.WithLabelValues(model, "prompt").Add(float64(rec.Usage.PromptTokens))
	}
	if rec.Usage.CompletionTokens > 0 {
		m.llmTokens.WithLabelValues(model, "completion").Add(float64(rec.Usage.CompletionTokens))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func resultLabel(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}
