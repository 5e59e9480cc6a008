package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"expense_pipeline/pkg/core/config"
	"expense_pipeline/pkg/core/logging"
	"expense_pipeline/pkg/core/pipeline"
)

type rootOptions struct {
	configPath string
	periods    int
	dataDir    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "Consolidate and aggregate ANS quarterly expense statements",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "YAML configuration file (optional)")
	root.PersistentFlags().IntVar(&opts.periods, "periods", 0, "Number of latest periods to consolidate (default from config)")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Working data directory (default from config)")

	root.AddCommand(
		newStageCmd(&opts, "integrate", "Stage 1: fetch the latest periods and write the consolidated table",
			(*pipeline.Runner).Integrate),
		newStageCmd(&opts, "validate", "Stage 2: reconcile against the registry and write the report",
			(*pipeline.Runner).Validate),
		newStageCmd(&opts, "run", "Run both stages in sequence",
			(*pipeline.Runner).Run),
	)
	return root
}

func newStageCmd(opts *rootOptions, use, short string, stage func(*pipeline.Runner, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, logger, err := setup(*opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("pipeline: starting", zap.String("command", use), zap.String("run_id", runner.RunID()))
			if err := stage(runner, cmd.Context()); err != nil {
				logger.Error("pipeline: failed", zap.String("command", use), zap.Error(err))
				return err
			}
			logger.Info("pipeline: done", zap.String("command", use))
			return nil
		},
	}
}

func setup(opts rootOptions) (*pipeline.Runner, *zap.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.periods != 0 {
		cfg.Periods = opts.periods
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}

	runner, err := pipeline.NewRunner(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return runner, logger, nil
}
