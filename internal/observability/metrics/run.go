package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

const namespace = "corpus"

// RunMetrics records ingestion runs, per-document extractions and spot checks.
type RunMetrics struct {
	registry *prometheus.Registry
	service  string

	runsTotal          *prometheus.CounterVec
	runDocumentsTotal  *prometheus.CounterVec
	runDuration        prometheus.Histogram
	lastRunTimestamp   prometheus.Gauge
	corruptShards      prometheus.Gauge
	extractionTotal    *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	spotCheckItems     *prometheus.CounterVec
	spotCheckPassed    prometheus.Gauge
	breakerOpen        *prometheus.GaugeVec
}

func NewRunMetrics(service string) *RunMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "run",
			Name:        "total",
			Help:        "Completed ingestion runs by shard outcome.",
			ConstLabels: constLabels,
		},
		[]string{"shard"},
	)
	runDocumentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "run",
			Name:        "documents_total",
			Help:        "Documents seen by ingestion runs by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "run",
			Name:        "duration_seconds",
			Help:        "Ingestion run wall time in seconds.",
			Buckets:     []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
			ConstLabels: constLabels,
		},
	)
	lastRunTimestamp := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "run",
			Name:        "last_finished_timestamp_seconds",
			Help:        "Unix time the last ingestion run finished.",
			ConstLabels: constLabels,
		},
	)
	corruptShards := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "shards",
			Name:        "corrupt",
			Help:        "Corrupt shards skipped by the last run.",
			ConstLabels: constLabels,
		},
	)
	extractionTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "extraction",
			Name:        "total",
			Help:        "Per-document extractions by status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	extractionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "extraction",
			Name:        "duration_seconds",
			Help:        "Per-document extraction duration in seconds by status.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	spotCheckItems := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "spot_check",
			Name:        "items_total",
			Help:        "Spot-checked records by result status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	spotCheckPassed := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "spot_check",
			Name:        "last_passed",
			Help:        "1 if the last spot check passed, 0 otherwise.",
			ConstLabels: constLabels,
		},
	)
	breakerOpen := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "breaker",
			Name:        "open",
			Help:        "1 while the circuit breaker of a backend operation is not closed.",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	registry.MustRegister(
		runsTotal,
		runDocumentsTotal,
		runDuration,
		lastRunTimestamp,
		corruptShards,
		extractionTotal,
		extractionDuration,
		spotCheckItems,
		spotCheckPassed,
		breakerOpen,
	)

	return &RunMetrics{
		registry:           registry,
		service:            service,
		runsTotal:          runsTotal,
		runDocumentsTotal:  runDocumentsTotal,
		runDuration:        runDuration,
		lastRunTimestamp:   lastRunTimestamp,
		corruptShards:      corruptShards,
		extractionTotal:    extractionTotal,
		extractionDuration: extractionDuration,
		spotCheckItems:     spotCheckItems,
		spotCheckPassed:    spotCheckPassed,
		breakerOpen:        breakerOpen,
	}
}

func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *RunMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *RunMetrics) ObserveRun(summary domain.RunSummary) {
	shard := "written"
	if summary.Shard == "" {
		shard = "none"
	}
	m.runsTotal.WithLabelValues(shard).Inc()

	m.runDocumentsTotal.WithLabelValues("processed").Add(float64(summary.Processed))
	m.runDocumentsTotal.WithLabelValues("skipped_present").Add(float64(summary.SkippedPresent))
	m.runDocumentsTotal.WithLabelValues("failed_extraction").Add(float64(summary.FailedExtraction))
	m.runDocumentsTotal.WithLabelValues("excluded_by_ledger").Add(float64(summary.ExcludedByLedger))
	m.runDocumentsTotal.WithLabelValues("deferred").Add(float64(summary.Deferred))

	m.runDuration.Observe(summary.Duration().Seconds())
	if !summary.FinishedAt.IsZero() {
		m.lastRunTimestamp.Set(float64(summary.FinishedAt.Unix()))
	}
	m.corruptShards.Set(float64(summary.CorruptShards))
}

func (m *RunMetrics) ObserveExtraction(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.extractionTotal.WithLabelValues(status).Inc()
	m.extractionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *RunMetrics) ObserveSpotCheck(report *domain.SpotCheckReport) {
	if report == nil {
		return
	}
	for _, item := range report.Items {
		m.spotCheckItems.WithLabelValues(string(item.Status)).Inc()
	}
	if report.Passed {
		m.spotCheckPassed.Set(1)
	} else {
		m.spotCheckPassed.Set(0)
	}
}

// ObserveBreakerState matches the resilience state listener; half-open counts as open.
func (m *RunMetrics) ObserveBreakerState(operation, state string) {
	open := 1.0
	if state == "closed" {
		open = 0
	}
	m.breakerOpen.WithLabelValues(operation).Set(open)
}

// WriteTextfile atomically writes the registry for the node_exporter textfile collector.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Push replaces this job's metrics on a Prometheus pushgateway.
func (m *RunMetrics) Push(ctx context.Context, gatewayURL string) error {
	err := push.New(gatewayURL, "filings_corpus").
		Grouping("service", m.service).
		Gatherer(m.registry).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
