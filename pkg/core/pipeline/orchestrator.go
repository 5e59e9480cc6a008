// Package pipeline runs the two stages of the expense pipeline: integrate
// (select, fetch and consolidate the latest periods) and validate (reconcile
// against the operator registry, aggregate and report).
package pipeline

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"expense_pipeline/pkg/core/aggregate"
	"expense_pipeline/pkg/core/config"
	"expense_pipeline/pkg/core/consolidate"
	"expense_pipeline/pkg/core/ingest"
	"expense_pipeline/pkg/core/period"
	"expense_pipeline/pkg/core/registry"
	"expense_pipeline/pkg/core/report"
)

// ErrNoPeriods is returned when no period could be selected at all; the run
// has no usable input.
var ErrNoPeriods = eris.New("no reporting periods available")

// PeriodSelector picks the periods to consolidate.
type PeriodSelector interface {
	SelectLatest(ctx context.Context, n int) []period.Selection
}

// ArtifactSource makes a selected period available on disk.
type ArtifactSource interface {
	Materialize(ctx context.Context, sel period.Selection) (string, bool)
}

// Runner wires the pipeline components from one configuration.
type Runner struct {
	cfg          config.Config
	runID        string
	client       *ingest.Client
	selector     PeriodSelector
	fetcher      ArtifactSource
	consolidator *consolidate.Consolidator
	engine       *aggregate.Engine
	metrics      *Metrics
	logger       *zap.Logger
}

// NewRunner creates a Runner talking to cfg.BaseURL.
func NewRunner(cfg config.Config, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	client := ingest.NewClient(cfg.ClientConfig(), logger)
	listing, err := ingest.NewListing(client, cfg.BaseURL, cfg.ArchiveSuffix)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:          cfg,
		runID:        runID,
		client:       client,
		selector:     period.NewSelector(listing, logger),
		fetcher:      ingest.NewArtifactFetcher(client, cfg.ZipDir(), cfg.ExtractDir(), logger),
		consolidator: consolidate.NewConsolidator(logger),
		engine:       aggregate.NewEngine(logger),
		metrics:      NewMetrics(),
		logger:       logger,
	}, nil
}

// SetSelector replaces the period selector (e.g., for testing).
func (r *Runner) SetSelector(s PeriodSelector) {
	r.selector = s
}

// SetFetcher replaces the artifact source (e.g., for testing).
func (r *Runner) SetFetcher(f ArtifactSource) {
	r.fetcher = f
}

// RunID identifies this run in logs.
func (r *Runner) RunID() string {
	return r.runID
}

// Metrics exposes the run metrics.
func (r *Runner) Metrics() *Metrics {
	return r.metrics
}

// Run executes both stages. A Stage 1 failure prevents Stage 2.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Integrate(ctx); err != nil {
		return err
	}
	return r.Validate(ctx)
}

// Integrate is Stage 1: select the latest periods, materialize their archives
// and write the consolidated table. Unavailable periods contribute no rows.
func (r *Runner) Integrate(ctx context.Context) error {
	start := time.Now()
	defer r.finishStage("integrate", start)

	selections := r.selector.SelectLatest(ctx, r.cfg.Periods)
	r.metrics.ObserveSelection(len(selections))
	if len(selections) == 0 {
		return eris.Wrapf(ErrNoPeriods, "pipeline: nothing published under %s", r.cfg.BaseURL)
	}

	names := make([]string, 0, len(selections))
	for _, sel := range selections {
		names = append(names, sel.Period.String())
	}
	r.logger.Info("pipeline: periods selected", zap.Strings("periods", names))

	var rows []consolidate.Row
	for _, sel := range selections {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: integrate cancelled")
		}

		dir, ok := r.fetcher.Materialize(ctx, sel)
		if !ok {
			r.metrics.IncrementUnavailable()
			continue
		}

		periodRows, stats, err := r.consolidator.Consolidate(sel.Period, dir)
		if err != nil {
			return err
		}
		r.metrics.ObserveConsolidation(stats)
		rows = append(rows, periodRows...)
	}

	if err := consolidate.WriteTable(r.cfg.ConsolidatedPath(), rows); err != nil {
		return err
	}
	r.metrics.ObserveConsolidatedRows(len(rows))
	r.logger.Info("pipeline: consolidated table written",
		zap.String("path", r.cfg.ConsolidatedPath()), zap.Int("rows", len(rows)))
	return nil
}

// Validate is Stage 2: reconcile the consolidated table against the registry,
// aggregate the trusted rows and write the report.
func (r *Runner) Validate(ctx context.Context) error {
	start := time.Now()
	defer r.finishStage("validate", start)

	rows, err := consolidate.ReadTable(r.cfg.ConsolidatedPath())
	if err != nil {
		return err
	}

	reg, err := r.loadRegistry(ctx)
	if err != nil {
		return err
	}
	if dups := reg.DuplicateIDs(); len(dups) > 0 {
		r.logger.Warn("pipeline: registry has duplicate operator ids", zap.Int("ids", len(dups)))
	}

	enriched, trust := registry.NewReconciler(reg, r.logger).Reconcile(rows)
	r.metrics.ObserveTrust(trust)

	groups := r.engine.Aggregate(enriched)
	r.metrics.ObserveGroups(len(groups))

	if err := report.WriteCSV(r.cfg.ReportPath(), groups); err != nil {
		return err
	}
	r.logger.Info("pipeline: report written",
		zap.String("path", r.cfg.ReportPath()), zap.Int("groups", len(groups)))

	if r.cfg.Summary {
		summary := report.Summary{
			Periods: periodsOf(rows),
			Trust:   trust,
			Groups:  groups,
		}
		if err := report.WriteSummary(r.cfg.SummaryBase(), summary); err != nil {
			return err
		}
	}
	return nil
}

// loadRegistry reads the local registry, downloading it first when it is
// missing and a registry URL is configured.
func (r *Runner) loadRegistry(ctx context.Context) (*registry.Registry, error) {
	path := r.cfg.RegistryPath
	if _, err := os.Stat(path); os.IsNotExist(err) && r.cfg.RegistryURL != "" {
		r.logger.Info("pipeline: downloading registry", zap.String("url", r.cfg.RegistryURL))
		if err := r.client.Download(ctx, r.cfg.RegistryURL, path); err != nil {
			return nil, eris.Wrapf(registry.ErrRegistryUnavailable, "pipeline: download %s: %v", r.cfg.RegistryURL, err)
		}
	}

	reg, err := registry.Load(path, r.cfg.RegistryColumns)
	if err != nil {
		return nil, err
	}
	r.logger.Info("pipeline: registry loaded", zap.String("path", path), zap.Int("entries", reg.Len()))
	return reg, nil
}

func (r *Runner) finishStage(stage string, start time.Time) {
	elapsed := time.Since(start)
	r.metrics.ObserveStage(stage, elapsed)
	r.logger.Info("pipeline: stage finished", zap.String("stage", stage), zap.Duration("elapsed", elapsed))

	if r.cfg.MetricsFile == "" {
		return
	}
	if err := r.metrics.WriteTextfile(r.cfg.MetricsFile); err != nil {
		r.logger.Warn("pipeline: metrics not written", zap.Error(err))
	}
}

// periodsOf returns the distinct periods of rows, oldest first.
func periodsOf(rows []consolidate.Row) []period.Period {
	seen := make(map[period.Period]bool)
	var out []period.Period
	for _, row := range rows {
		if !seen[row.Period] {
			seen[row.Period] = true
			out = append(out, row.Period)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
