package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/platinummonkey/oris/internal/daemon"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process submitted batches in the background",
	Long: `Run oris as a long-running worker.

The worker polls the state store for pending batches, and for batches left
in processing by an interrupted worker, and processes them one at a time.
Pages already attempted are never recognized twice.

Features:
- Periodic polling at a configurable interval
- Graceful shutdown on SIGTERM/SIGINT; documents in progress finish
- Optional health, status and control HTTP endpoints
- Optional PID file for process management
- Several workers may share a Firestore store; documents are leased

Control endpoints (with --health-addr):
  GET  /health                    liveness
  GET  /ready                     ready after the first poll
  GET  /status                    worker state and current batch progress
  POST /api/poll                  poll now
  POST /api/batches/{id}/cancel   stop dispatching a running batch

Examples:
  # Run with the default 30 second interval
  oris worker

  # Poll every 5 minutes with 8 documents in flight
  oris worker --interval 5m --workers 8

  # Expose the status endpoints and write a PID file
  oris worker --health-addr :8080 --pid-file /var/run/oris.pid`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	// Worker-specific flags
	workerCmd.Flags().Duration("interval", 30*time.Second, "poll interval (e.g., 30s, 5m)")
	workerCmd.Flags().String("health-addr", "", "health check HTTP address (e.g., :8080)")
	workerCmd.Flags().String("pid-file", "", "PID file path")

	_ = viper.BindPFlag("daemon.poll-interval", workerCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("daemon.health-addr", workerCmd.Flags().Lookup("health-addr"))
	_ = viper.BindPFlag("daemon.pid-file", workerCmd.Flags().Lookup("pid-file"))
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// JSON logs for worker mode
	log, err := initLogger(cfg, "json")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.WithFields(
		"data_dir", cfg.DataDir,
		"store", cfg.Store.Backend,
		"page_storage", cfg.PageStorage.Backend,
		"interval", cfg.Daemon.PollInterval,
		"workers", cfg.Workers,
	).Info("Starting worker")

	ctx := commandContext(cmd)
	c, err := newPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	if names := c.registry.AvailableNames(); len(names) == 0 {
		log.Warn("No engine is available; every page will fail")
	} else {
		log.WithFields("engines", names).Info("Engines available")
	}

	tracker := daemon.NewStatusTracker()
	proc, err := c.processor(nil, tracker.BatchProgress)
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}

	d, err := daemon.New(&daemon.Config{
		Processor:       proc,
		Batches:         c.store,
		Tracker:         tracker,
		Logger:          log,
		PollInterval:    cfg.Daemon.PollInterval,
		HealthCheckAddr: cfg.Daemon.HealthAddr,
		PIDFile:         cfg.Daemon.PIDFile,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	// Run blocks until shutdown signal
	if err := d.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("worker error: %w", err)
	}

	log.Info("Worker shutdown complete")
	return nil
}
