package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"

	"expense_pipeline/pkg/core/consolidate"
	"expense_pipeline/pkg/core/registry"
)

// Metrics records one run. Each instance owns its registry so repeated runs in
// one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	// Periods chosen by the selector
	PeriodsSelected prometheus.Gauge

	// Periods whose archive could not be materialized
	PeriodsUnavailable prometheus.Counter

	// Source files by outcome: scanned, skipped
	SourceFiles *prometheus.CounterVec

	// Source lines by outcome: accepted or a skip reason
	SourceLines *prometheus.CounterVec

	ConsolidatedRows prometheus.Gauge

	// Consolidated rows by trust status
	ReconciledRows *prometheus.GaugeVec

	AggregateGroups prometheus.Gauge

	StageDuration *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance with all run metrics registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PeriodsSelected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "expenses_periods_selected",
			Help: "Number of periods chosen for consolidation",
		}),
		PeriodsUnavailable: factory.NewCounter(prometheus.CounterOpts{
			Name: "expenses_periods_unavailable_total",
			Help: "Selected periods whose archive could not be downloaded or extracted",
		}),
		SourceFiles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "expenses_source_files_total",
			Help: "Source tables seen during consolidation by outcome",
		}, []string{"outcome"}),
		SourceLines: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "expenses_source_lines_total",
			Help: "Source table lines by outcome",
		}, []string{"outcome"}),
		ConsolidatedRows: factory.NewGauge(prometheus.GaugeOpts{
			Name: "expenses_consolidated_rows",
			Help: "Rows in the consolidated table",
		}),
		ReconciledRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "expenses_reconciled_rows",
			Help: "Consolidated rows by trust status",
		}, []string{"status"}),
		AggregateGroups: factory.NewGauge(prometheus.GaugeOpts{
			Name: "expenses_aggregate_groups",
			Help: "Groups in the final report",
		}),
		StageDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "expenses_stage_duration_seconds",
			Help: "Wall time of each pipeline stage",
		}, []string{"stage"}),
	}
}

// ObserveSelection records how many periods were selected.
func (m *Metrics) ObserveSelection(n int) {
	if m != nil {
		m.PeriodsSelected.Set(float64(n))
	}
}

// IncrementUnavailable records a period that produced no archive.
func (m *Metrics) IncrementUnavailable() {
	if m != nil {
		m.PeriodsUnavailable.Inc()
	}
}

// ObserveConsolidation adds one period's consolidation statistics.
func (m *Metrics) ObserveConsolidation(stats consolidate.Stats) {
	if m == nil {
		return
	}
	m.SourceFiles.WithLabelValues("scanned").Add(float64(stats.FilesScanned))
	m.SourceFiles.WithLabelValues("skipped").Add(float64(stats.FilesSkipped))
	m.SourceLines.WithLabelValues("accepted").Add(float64(stats.RowsAccepted))
	for reason, n := range stats.RowsSkipped {
		m.SourceLines.WithLabelValues(string(reason)).Add(float64(n))
	}
}

// ObserveConsolidatedRows records the size of the consolidated table.
func (m *Metrics) ObserveConsolidatedRows(n int) {
	if m != nil {
		m.ConsolidatedRows.Set(float64(n))
	}
}

// ObserveTrust records the trust-status breakdown.
func (m *Metrics) ObserveTrust(summary registry.Summary) {
	if m == nil {
		return
	}
	for _, status := range registry.Statuses {
		m.ReconciledRows.WithLabelValues(string(status)).Set(float64(summary[status]))
	}
}

// ObserveGroups records the number of report groups.
func (m *Metrics) ObserveGroups(n int) {
	if m != nil {
		m.AggregateGroups.Set(float64(n))
	}
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Set(d.Seconds())
	}
}

// WriteTextfile writes every metric in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return eris.Wrapf(err, "pipeline: create directory for %s", path)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return eris.Wrapf(err, "pipeline: write metrics %s", path)
	}
	return nil
}
