package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics
// registered on a private registry, so one process may host several sessions.
type PrometheusRecorder struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	rateLimitedTotal *prometheus.CounterVec
	queueWaitTime    *prometheus.HistogramVec
	testRunsTotal    *prometheus.CounterVec
	testRunDuration  prometheus.Histogram
	repairsTotal     *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeforge_llm_requests_total",
				Help: "Total number of backend requests by model, role and status",
			},
			[]string{"model", "role", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeforge_llm_tokens_total",
				Help: "Total number of tokens used in backend requests",
			},
			[]string{"model", "role", "type"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codeforge_llm_request_duration_seconds",
				Help:    "Duration of backend requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "role"},
		),
		rateLimitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeforge_llm_rate_limited_total",
				Help: "Total number of rate-limit signals by model and credential slot",
			},
			[]string{"model", "credential"},
		),
		queueWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codeforge_llm_queue_wait_duration_seconds",
				Help:    "Time spent waiting for local rate limit availability",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		testRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeforge_test_runs_total",
				Help: "Total number of test executor invocations by outcome",
			},
			[]string{"outcome"},
		),
		testRunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codeforge_test_run_duration_seconds",
				Help:    "Duration of test executor invocations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),
		repairsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeforge_repair_iterations_total",
				Help: "Total number of repair iterations by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry exposes the private registry for scraping or snapshots.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// ObserveRequest records metrics for a completed backend request.
func (p *PrometheusRecorder) ObserveRequest(
	model, role, status, errorType string,
	promptTokens, completionTokens int,
	duration time.Duration,
) {
	p.requestsTotal.WithLabelValues(model, role, status, errorType).Inc()

	if status == StatusSuccess {
		p.tokensTotal.WithLabelValues(model, role, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, role, "completion").Add(float64(completionTokens))
	}

	p.requestDuration.WithLabelValues(model, role).Observe(duration.Seconds())
}

// IncRateLimited increments the rate-limit counter.
func (p *PrometheusRecorder) IncRateLimited(model string, credential int) {
	p.rateLimitedTotal.WithLabelValues(model, strconv.Itoa(credential)).Inc()
}

// ObserveQueueWait records time spent waiting for rate limit availability.
func (p *PrometheusRecorder) ObserveQueueWait(model string, duration time.Duration) {
	p.queueWaitTime.WithLabelValues(model).Observe(duration.Seconds())
}

// ObserveTestRun records one test executor invocation.
func (p *PrometheusRecorder) ObserveTestRun(passed bool, duration time.Duration) {
	outcome := "fail"
	if passed {
		outcome = "pass"
	}
	p.testRunsTotal.WithLabelValues(outcome).Inc()
	p.testRunDuration.Observe(duration.Seconds())
}

// IncRepairIteration records one repair round.
func (p *PrometheusRecorder) IncRepairIteration(outcome string) {
	p.repairsTotal.WithLabelValues(outcome).Inc()
}

// WriteText writes every gathered metric family in the Prometheus text format.
func (p *PrometheusRecorder) WriteText(w io.Writer) error {
	families, err := p.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteSnapshot writes the text exposition to path, creating parent directories.
func (p *PrometheusRecorder) WriteSnapshot(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metrics snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	return p.WriteText(f)
}
