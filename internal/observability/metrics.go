package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "silver_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	FilesDiscovered prometheus.Counter
	TablesWritten   prometheus.Counter
	TablesSkipped   *prometheus.CounterVec // labels: reason={no_columns,collision}
	ParseErrors     prometheus.Counter
	WriteErrors     prometheus.Counter
	SinkErrors      *prometheus.CounterVec // labels: sink
	PipelineRunning prometheus.Gauge

	// Normalization metrics.
	ColumnsDropped prometheus.Counter
	CellsImputed   *prometheus.CounterVec // labels: axis={column,row}

	ArtifactBytes    *prometheus.CounterVec // labels: format={csv,parquet}
	RunDuration      prometheus.Histogram
	LastRunTimestamp prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		FilesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_discovered_total",
			Help:      "Total bronze files found by the scanner.",
		}),
		TablesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_written_total",
			Help:      "Total silver tables written.",
		}),
		TablesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_skipped_total",
			Help:      "Tables not written, by reason.",
		}, []string{"reason"}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Total bronze files that could not be parsed.",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Total tables whose artifacts could not be written.",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Manifest sink failures by sink.",
		}, []string{"sink"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is in progress, 0 otherwise.",
		}),
		ColumnsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "columns_dropped_total",
			Help:      "Columns dropped because every value was missing.",
		}),
		CellsImputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_imputed_total",
			Help:      "Missing numeric cells filled with a median, by fill axis.",
		}, []string{"axis"}),
		ArtifactBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_bytes_total",
			Help:      "Bytes written to silver artifacts, by format.",
		}, []string{"format"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete bronze to silver run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FilesDiscovered,
		m.TablesWritten,
		m.TablesSkipped,
		m.ParseErrors,
		m.WriteErrors,
		m.SinkErrors,
		m.PipelineRunning,
		m.ColumnsDropped,
		m.CellsImputed,
		m.ArtifactBytes,
		m.RunDuration,
		m.LastRunTimestamp,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid "already
// registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
