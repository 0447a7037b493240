package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-lingo/internal/platform/database"
	"github.com/p-n-ai/pai-lingo/internal/report"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the health server and the background sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			runner := a.newRunner()
			if err := runner.Start(ctx); err != nil {
				return err
			}
			defer runner.Stop()

			srv := &http.Server{
				Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
				Handler:      newMux(a.checks...),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("server starting", "addr", srv.Addr, "store", cfg.Store)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			}
			slog.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("shutdown error", "error", err)
			}
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep over recently active learners and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.newRunner().Tick(ctx)
			if err != nil {
				return err
			}
			for id, ferr := range rep.Failed {
				slog.Warn("learner sweep failed", "learner_id", id, "error", ferr)
			}
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.New(ctx, cfg.Database.URL, database.Options{MaxConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			slog.Info("schema applied")
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var (
		output   string
		lookback time.Duration
	)
	cmd := &cobra.Command{
		Use:   "export [learner-id...]",
		Short: "Write a progress report workbook",
		Long:  "Write one row of progress per learner to an XLSX workbook. Without arguments every learner active within --lookback is exported.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ids := args
			if len(ids) == 0 {
				if ids, err = a.engine.ActiveLearners(ctx, lookback); err != nil {
					return err
				}
			}
			summaries, err := report.Collect(ctx, a.store, ids, time.Now(), a.policy)
			if err != nil {
				return err
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			defer f.Close()
			if err := report.WriteXLSX(f, summaries); err != nil {
				return err
			}
			slog.Info("progress report written", "path", output, "learners", len(summaries))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "progress.xlsx", "output file")
	cmd.Flags().DurationVar(&lookback, "lookback", 30*24*time.Hour, "activity window when no learner IDs are given")
	return cmd
}
