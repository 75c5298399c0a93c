package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/armonia-contable/armonia/cmd/armonia/cli"
	"github.com/armonia-contable/armonia/internal/app"
	ledgerhttp "github.com/armonia-contable/armonia/internal/ledger/http"
	"github.com/armonia-contable/armonia/internal/ledger/postgres"
	"github.com/armonia-contable/armonia/internal/observability"
	"github.com/armonia-contable/armonia/internal/platform/db"
	"github.com/armonia-contable/armonia/jobs"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	metrics := observability.NewMetrics()
	engine, err := app.BuildEngine(ctx, cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	var jobHandler *jobs.Handler
	if engine.Redis != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		LedgerHandler: ledgerhttp.NewHandler(logger, engine.Services()),
		JobHandler:    jobHandler,
		Metrics:       metrics,
		Readiness:     engine.Readiness(),
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

func newMigrateCommand() *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema to PG_DSN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if printOnly {
				_, err := fmt.Fprint(cmd.OutOrStdout(), postgres.Schema())
				return err
			}
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN, cfg.PGMaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := postgres.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			logger.Info("schema migrated")
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the schema instead of applying it")
	return cmd
}

func newSeedCommand() *cobra.Command {
	var (
		jsonOutput bool
		actorID    int64
	)
	cmd := &cobra.Command{
		Use:   "seed <chart.yml>",
		Short: "Load accounts, classifiers, rules and fiscal years for one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			engine, err := app.BuildEngine(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			seeder, err := cli.NewSeedCLI(engine.Catalog, engine.Matrix, engine.Closing, actorID)
			if err != nil {
				return err
			}
			code := seeder.SeedCommand(cmd.Context(), cli.SeedOptions{
				Path:       args[0],
				JSONOutput: jsonOutput,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			})
			if code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the summary as JSON")
	cmd.Flags().Int64Var(&actorID, "actor", 1, "actor recorded in the audit trail")
	return cmd
}

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage background jobs",
	}

	var (
		entityID int64
		year     int
	)
	trigger := &cobra.Command{
		Use:   "trigger-integrity",
		Short: "Enqueue a balance integrity scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobsCLI(func(c *cli.JobsCLI) error {
				info, err := c.TriggerIntegrity(cmd.Context(), entityID, year)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s on %s\n", info.ID, info.Queue)
				return err
			})
		},
	}
	trigger.Flags().Int64Var(&entityID, "entity", 0, "entity to verify")
	trigger.Flags().IntVar(&year, "year", 0, "fiscal year (defaults to the current one)")
	_ = trigger.MarkFlagRequired("entity")

	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Print queue statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobsCLI(func(c *cli.JobsCLI) error {
				stats, err := c.InspectQueues(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			})
		},
	}

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks on the default queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobsCLI(func(c *cli.JobsCLI) error {
				tasks, err := c.ListScheduled(cmd.Context(), size)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	scheduled.Flags().IntVar(&size, "size", 10, "page size")

	cmd.AddCommand(trigger, inspect, scheduled)
	return cmd
}

func withJobsCLI(fn func(*cli.JobsCLI) error) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	c, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()
	return fn(c)
}
