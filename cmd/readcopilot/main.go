package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/deusflow/readcopilot/internal/app"
	"github.com/deusflow/readcopilot/internal/config"
	"github.com/deusflow/readcopilot/internal/logger"
	"github.com/deusflow/readcopilot/internal/metrics"
	"github.com/deusflow/readcopilot/internal/news"
)

type rootFlags struct {
	configPath string
	dryRun     bool
	workers    int
}

func main() {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "readcopilot",
		Short:         "Feed to document pipeline",
		Long:          "Polls RSS/Atom feeds, stores new articles as structured documents, and announces them to chat webhooks.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file (env vars override it)")
	root.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "Convert and log articles without writing or notifying")
	root.PersistentFlags().IntVar(&flags.workers, "workers", 0, "Feeds processed concurrently (default from config)")

	root.AddCommand(
		runCmd(flags),
		serveCmd(flags),
		feedsCmd(flags),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the process logger.
func setup(flags *rootFlags) (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if flags.dryRun {
		cfg.DryRun = true
	}
	if flags.workers > 0 {
		cfg.Workers = flags.workers
	}

	log, closer, err := logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Debug:  cfg.Debug,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(log)
	return cfg, log, closer, nil
}

func runCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process every enabled feed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, logCloser, err := setup(flags)
			if err != nil {
				return err
			}
			defer logCloser.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner, closer, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closer.Close()

			report, err := runner.Run(ctx)
			if err != nil {
				return err
			}
			for _, res := range report.FailedFeeds() {
				log.Warn("feed needs attention", "feed", res.Feed.Title, "url", res.Feed.URL, "error", res.Err)
			}
			return nil
		},
	}
}

func serveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline on an interval and expose /health and /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, logCloser, err := setup(flags)
			if err != nil {
				return err
			}
			defer logCloser.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner, closer, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closer.Close()

			m := metrics.New()
			srv := &http.Server{Addr: cfg.MonitorAddr, Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}
			go func() {
				log.Info("starting monitoring server", "addr", cfg.MonitorAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("monitoring server error", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			runOnce := func() {
				report, err := runner.Run(ctx)
				if err != nil {
					log.Error("run failed", "error", err)
					m.SetError(err)
					return
				}
				m.RecordRun(report.Stats())
			}

			runOnce()
			ticker := time.NewTicker(cfg.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					log.Info("shutting down")
					return nil
				case <-ticker.C:
					runOnce()
				}
			}
		},
	}
}

func feedsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "List feeds with their last status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, logCloser, err := setup(flags)
			if err != nil {
				return err
			}
			defer logCloser.Close()

			store, closer, err := app.NewStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			var feeds []news.FeedSource
			if lister, ok := store.(app.FeedLister); ok {
				feeds, err = lister.AllFeeds(cmd.Context())
			} else {
				feeds, err = store.QueryEnabledFeeds(cmd.Context())
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TITLE\tENABLED\tSTATUS\tUPDATED\tREMARKS")
			for _, f := range feeds {
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", f.Title, f.Enabled, f.Status, f.Updated, f.Remarks)
			}
			return w.Flush()
		},
	}
}
