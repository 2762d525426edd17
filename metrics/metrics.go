// Package metrics counts what the pipeline finds and does.
//
// Every Metrics value owns a private registry so that several pipelines
// (and tests) never collide on the global default registry.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "madcsync"

// Study outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeNotFound  = "not_found"
)

// Result file actions.
const (
	ActionCopied  = "copied"
	ActionSkipped = "skipped"
	ActionFailed  = "failed"
)

// Metrics holds the collectors of one pipeline.
type Metrics struct {
	registry *prometheus.Registry

	studies          *prometheus.CounterVec
	records          *prometheus.CounterVec
	missingFields    *prometheus.CounterVec
	fragmentsMerged  *prometheus.CounterVec
	fragmentsDropped *prometheus.CounterVec
	resultFiles      *prometheus.CounterVec
	runDuration      prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		studies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "studies_total",
			Help:      "Studies processed, by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Complete repertoire records discovered, by scan mode.",
		}, []string{"mode"}),
		missingFields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_fields_total",
			Help:      "Required files not found in a repertoire folder.",
		}, []string{"mode", "field"}),
		fragmentsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_merged_total",
			Help:      "Metadata fragments merged into the project document.",
		}, []string{"mode"}),
		fragmentsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_dropped_total",
			Help:      "Metadata fragments whose repertoire is absent from the project document.",
		}, []string{"mode"}),
		resultFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_files_total",
			Help:      "Annotated result files handled, by action.",
		}, []string{"action"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one study run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}

	m.registry.MustRegister(
		m.studies,
		m.records,
		m.missingFields,
		m.fragmentsMerged,
		m.fragmentsDropped,
		m.resultFiles,
		m.runDuration,
	)
	return m
}

// Registry exposes the private registry, e.g. for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StudyFinished records the outcome and duration of a study run.
func (m *Metrics) StudyFinished(outcome string, d time.Duration) {
	m.studies.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordsFound(mode string, n int) {
	m.records.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) MissingField(mode, field string) {
	m.missingFields.WithLabelValues(mode, field).Inc()
}

func (m *Metrics) FragmentMerged(mode string) {
	m.fragmentsMerged.WithLabelValues(mode).Inc()
}

func (m *Metrics) FragmentDropped(mode string) {
	m.fragmentsDropped.WithLabelValues(mode).Inc()
}

func (m *Metrics) ResultFile(action string) {
	m.resultFiles.WithLabelValues(action).Inc()
}

// WriteTextfile writes the current values in the node exporter textfile
// format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
