package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StatementsAppended counts statements buffered by the write engine
	StatementsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "osmhistory_statements_appended_total",
		Help: "Statements buffered by the write engine",
	})

	// Batches counts executed write batches by status (committed, failed)
	Batches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osmhistory_batches_total",
		Help: "Write batches executed, by status",
	}, []string{"status"})

	// Entities counts merged entities by type and outcome (new, changed, unchanged)
	Entities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osmhistory_entities_total",
		Help: "Entities merged into the history store, by type and outcome",
	}, []string{"type", "outcome"})

	// ExportRows counts rows written to the export sink by geometry class
	ExportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osmhistory_export_rows_total",
		Help: "Rows written to the export sink, by geometry class",
	}, []string{"class"})
)

var (
	// ProcessCPU is the last sampled CPU usage of this process
	ProcessCPU = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "osmhistory_process_cpu_percent",
		Help: "CPU usage of this process, percent of one core",
	})

	// MemoryUsed is the last sampled system memory usage
	MemoryUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "osmhistory_system_memory_percent",
		Help: "System memory in use, percent",
	})
)
