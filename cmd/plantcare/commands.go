package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"plantcare-engine/internal/api"
	"plantcare-engine/internal/config"
	"plantcare-engine/internal/di"
	"plantcare-engine/internal/growth"
	"plantcare-engine/internal/logging"
	"plantcare-engine/pkg/types"
)

const shutdownTimeout = 10 * time.Second

type cliOptions struct {
	logLevel  string
	logFormat string
}

func rootCmd() *cobra.Command {
	opts := &cliOptions{}
	cmd := &cobra.Command{
		Use:          "plantcare",
		Short:        "Plant-care task scheduling engine",
		Long:         `Generates care tasks per growth stage, batches their notifications and escalates overdue work.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Override the configured log format (json, text)")

	cmd.AddCommand(
		createServeCommand(opts),
		createSweepCommand(opts),
		createTablesCommand(),
		createOutboxCommand(opts),
	)
	return cmd
}

// load reads the configuration and builds a logger writing to out
func (o *cliOptions) load(out io.Writer) (*config.Config, logging.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	logger := logging.NewLoggerWithOptions(logging.Options{
		Level:  logging.ParseLogLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: out,
	})
	return cfg, logger, nil
}

// createServeCommand creates the 'serve' command
func createServeCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the escalation loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(os.Stdout)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := container.HealthCheck(healthCtx); err != nil {
		// Continue anyway, the backends may still come up
		logger.Warn("health check failed", "error", err)
	}
	healthCancel()

	router := api.NewRouter(api.Deps{
		Config:   cfg,
		Engine:   container.Engine,
		Profiles: container,
		Gatherer: container.Registry,
		Health:   container.HealthCheck,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go func() {
		if err := container.Engine.RunEscalations(loopCtx, cfg.Escalation.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("escalation loop stopped", "error", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("plantcare engine listening", "addr", srv.Addr, "storage", cfg.Storage.Driver, "redis", cfg.Redis.Enabled)
		serveErr <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server failed: %w", err)
		}
	}

	stopLoop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := container.Shutdown(); err != nil {
		logger.Error("shutdown failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// createSweepCommand creates the 'sweep' command
func createSweepCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one overdue escalation sweep against the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			container, err := di.NewContainer(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = container.Shutdown() }()

			report := container.Engine.RunEscalationSweep(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "notified: %d\ndropped:  %d\ntracked:  %d\n", report.Notified, report.Dropped, report.Tracked)
			for _, state := range container.Engine.Escalations() {
				fmt.Fprintf(out, "  %-36s %-9s %6.1fh  next %s\n",
					state.TaskID, state.Level, state.HoursOverdue, state.NextCheckTime.Format(time.RFC3339))
			}
			for _, err := range report.Errors {
				color.New(color.FgRed).Fprintf(out, "error: %v\n", err)
			}
			if len(report.Errors) > 0 {
				return fmt.Errorf("%d escalations failed", len(report.Errors))
			}
			return nil
		},
	}
}

// createTablesCommand creates the 'tables' command
func createTablesCommand() *cobra.Command {
	var strainName string
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Print the growth-stage scheduling tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tables := growth.Default()
			if err := tables.Validate(); err != nil {
				return err
			}
			printTables(cmd.OutOrStdout(), tables, types.ParseStrainType(strainName))
			return nil
		},
	}
	cmd.Flags().StringVarP(&strainName, "strain", "s", "", "Strain type to compute cadences for (indica, sativa, hybrid, cbd)")
	return cmd
}

func printTables(out io.Writer, tables *growth.Tables, strainType types.StrainType) {
	strain := tables.Strain(strainType)
	heading := color.New(color.Bold, color.FgGreen)

	for _, stage := range types.AllGrowthStages {
		cfg, ok := tables.Stage(stage)
		if !ok {
			continue
		}
		next := "-"
		if cfg.HasNext() {
			next = string(cfg.NextStage)
		}
		expected, _ := tables.ExpectedStageDays(stage, strain)
		heading.Fprintf(out, "%s (%.0f days, next: %s)\n", stage, expected, next)

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  TASK\tPRIORITY\tEVERY\tMINUTES")
		for _, taskType := range cfg.RecommendedTasks {
			fmt.Fprintf(tw, "  %s\t%s\t%dd\t%d\n",
				taskType,
				cfg.Priority(taskType),
				tables.FrequencyDays(taskType, strain, stage),
				tables.EstimatedMinutes(taskType))
		}
		_ = tw.Flush()
	}
}

// createOutboxCommand creates the 'outbox' command
func createOutboxCommand(opts *cliOptions) *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "List notifications in the redis outbox whose fire time has passed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return errors.New("the outbox needs redis; set PLANTCARE_REDIS_ENABLED=true")
			}
			container, err := di.NewContainer(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = container.Shutdown() }()

			due, err := container.Outbox.Due(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(due)
		},
	}
	cmd.Flags().Int64VarP(&limit, "limit", "n", 50, "Maximum notifications to list")
	return cmd
}
