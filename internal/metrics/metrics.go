package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Indexer metrics
var (
	IndexerRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pylapse_indexer_runs_total",
			Help: "Total number of directory index builds",
		},
	)

	IndexerFilesIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pylapse_indexer_files_indexed_total",
			Help: "Total number of files indexed with a parsed timestamp",
		},
	)

	IndexerFilesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pylapse_indexer_files_skipped_total",
			Help: "Total number of files skipped because no timestamp could be parsed",
		},
	)

	IndexerLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pylapse_indexer_last_run_duration_seconds",
			Help: "Duration of the last index build in seconds",
		},
	)
)

// Selector metrics
var (
	SelectorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pylapse_selector_runs_total",
			Help: "Total number of selection runs",
		},
		[]string{"selector"}, // "dayslice", "cron"
	)

	SelectorFilesSelected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pylapse_selector_files_selected_total",
			Help: "Total number of files selected",
		},
		[]string{"selector"},
	)
)

// Executor metrics
var (
	ExecutorItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pylapse_executor_items_processed_total",
			Help: "Total number of items processed by the parallel executor",
		},
		[]string{"strategy"}, // "threaded", "batched"
	)

	ExecutorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pylapse_executor_runs_total",
			Help: "Total number of executor runs by outcome",
		},
		[]string{"strategy", "outcome"}, // outcome: "completed", "failed", "cancelled"
	)

	ExecutorRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pylapse_executor_run_duration_seconds",
			Help:    "Duration of executor runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"strategy"},
	)

	ExecutorWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pylapse_executor_workers",
			Help: "Worker pool size of the most recent executor run",
		},
	)
)

// Task metrics
var (
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pylapse_tasks_total",
			Help: "Total number of background tasks by terminal status",
		},
		[]string{"status"}, // "completed", "failed", "cancelled"
	)

	TasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pylapse_tasks_running",
			Help: "Number of background tasks currently running",
		},
	)
)

// Export metrics
var (
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pylapse_exports_total",
			Help: "Total number of image sequence exports by outcome",
		},
		[]string{"outcome"}, // "completed", "failed", "cancelled"
	)

	ExportImagesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pylapse_export_images_written_total",
			Help: "Total number of processed images written to disk",
		},
	)

	ExportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pylapse_export_duration_seconds",
			Help:    "Duration of full exports (index, select, write) in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)
)
