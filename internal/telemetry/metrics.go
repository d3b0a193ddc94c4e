// Package telemetry collects Prometheus metrics for a single invocation and
// writes them in the node-exporter textfile format.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "craftbrew"

// Metrics holds the collectors of one run. A nil *Metrics or one built by
// Disabled records nothing.
type Metrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationAttempts *prometheus.CounterVec
	runsCompleted     *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	diffSize          *prometheus.GaugeVec
	lastRun           prometheus.Gauge

	registry *prometheus.Registry
}

// Disabled returns a Metrics that records nothing.
func Disabled() *Metrics {
	return &Metrics{}
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Package operations by kind, action and final status",
			},
			[]string{"kind", "action", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of package operations including retries",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind", "action"},
		),
		operationAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_attempts_total",
				Help:      "Package manager calls including retries",
			},
			[]string{"kind", "action"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Completed runs by verb and outcome",
			},
			[]string{"verb", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a run from load to report",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"verb"},
		),
		diffSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "diff_packages",
				Help:      "Packages in the last computed diff by category",
			},
			[]string{"category"},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last completed run",
			},
		),
	}

	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.operationAttempts,
		m.runsCompleted,
		m.runDuration,
		m.diffSize,
		m.lastRun,
	)
	return m
}

// RecordOperation records the outcome of one package operation.
func (m *Metrics) RecordOperation(kind, action, status string, attempts int, duration time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(kind, action, status).Inc()
	if attempts > 0 {
		m.operationAttempts.WithLabelValues(kind, action).Add(float64(attempts))
		m.operationDuration.WithLabelValues(kind, action).Observe(duration.Seconds())
	}
}

// RecordDiff records the sizes of a computed diff.
func (m *Metrics) RecordDiff(toInstall, toRemove, unchanged int) {
	if m == nil || m.diffSize == nil {
		return
	}
	m.diffSize.WithLabelValues("install").Set(float64(toInstall))
	m.diffSize.WithLabelValues("remove").Set(float64(toRemove))
	m.diffSize.WithLabelValues("unchanged").Set(float64(unchanged))
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(verb, status string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(verb, status).Inc()
	m.runDuration.WithLabelValues(verb).Observe(duration.Seconds())
	m.lastRun.SetToCurrentTime()
}

// Registry returns the underlying registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes all metrics to path in the Prometheus text format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || m.registry == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
