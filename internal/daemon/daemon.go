// Package daemon runs the batch worker: it polls the store for batches waiting
// to be recognized and processes them in the background.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/models"
)

// DefaultPollInterval is used when Config.PollInterval is zero
const DefaultPollInterval = 30 * time.Second

// BatchProcessor processes one batch to completion or cancellation
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batchID string) (*models.Batch, error)
}

// BatchLister finds batches by status
type BatchLister interface {
	ListBatches(ctx context.Context, status models.BatchStatus) ([]*models.Batch, error)
}

// Daemon polls for work periodically and on demand
type Daemon struct {
	processor     BatchProcessor
	batches       BatchLister
	statusTracker *StatusTracker
	control       *batchControl
	logger        *logger.Logger
	interval      time.Duration
	healthAddr    string
	pidFile       string
	httpServer    *http.Server
}

// Config holds configuration for the daemon
type Config struct {
	Processor BatchProcessor
	Batches   BatchLister

	// Tracker receives progress; pass the same tracker to the processor's
	// progress callback. A new one is created when nil.
	Tracker *StatusTracker

	Logger          *logger.Logger
	PollInterval    time.Duration
	HealthCheckAddr string // Optional, e.g. ":8080"
	PIDFile         string // Optional
}

// New creates a new daemon instance
func New(cfg *Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if cfg.Batches == nil {
		return nil, fmt.Errorf("batch lister is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewStatusTracker()
	}

	return &Daemon{
		processor:     cfg.Processor,
		batches:       cfg.Batches,
		statusTracker: tracker,
		control:       newBatchControl(),
		logger:        log,
		interval:      interval,
		healthAddr:    cfg.HealthCheckAddr,
		pidFile:       cfg.PIDFile,
	}, nil
}

// Tracker returns the status tracker
func (d *Daemon) Tracker() *StatusTracker {
	return d.statusTracker
}

// Run polls immediately, then on every interval and manual trigger, until ctx
// ends or SIGTERM/SIGINT arrives. A poll in progress finishes its current
// documents before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.WithFields("interval", d.interval).Info("Starting worker")

	if d.pidFile != "" {
		if err := d.writePIDFile(); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer d.removePIDFile()
	}

	if d.healthAddr != "" {
		if err := d.startHealthCheck(); err != nil {
			return fmt.Errorf("failed to start health check: %w", err)
		}
		defer d.stopHealthCheck()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			d.logger.WithFields("signal", sig.String()).Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Poll(ctx)

	for {
		d.statusTracker.SetNextPollTime(time.Now().Add(d.interval))

		select {
		case <-ctx.Done():
			d.logger.Info("Worker stopped")
			return nil

		case <-ticker.C:
			d.Poll(ctx)

		case <-d.control.trigger:
			d.logger.Info("Manual poll requested")
			d.Poll(ctx)
		}
	}
}

// Poll processes every pending batch, and every processing batch left behind
// by an interrupted run, one batch at a time. Batches cancelled through the
// control API are skipped until the worker restarts.
func (d *Daemon) Poll(ctx context.Context) {
	start := time.Now()
	d.statusTracker.PollStarted()

	var queue []*models.Batch
	for _, st := range []models.BatchStatus{models.BatchProcessing, models.BatchPending} {
		found, err := d.batches.ListBatches(ctx, st)
		if err != nil {
			d.logger.WithError(err).Error("Failed to list batches")
			d.statusTracker.PollFailed(err, time.Since(start))
			return
		}
		queue = append(queue, found...)
	}

	summary := PollSummary{StartTime: start}
	for _, b := range queue {
		if ctx.Err() != nil {
			break
		}
		if d.control.cancelled(b.ID) {
			continue
		}

		summary.Batches++
		result, err := d.runBatch(ctx, b)
		switch {
		case err != nil:
			summary.Errors++
		case result.Status == models.BatchCompleted:
			summary.Completed++
		case result.Status == models.BatchPartial:
			summary.Partial++
		case result.Status == models.BatchFailed:
			summary.Failed++
		default:
			summary.Interrupted++
		}
	}

	summary.EndTime = time.Now()
	summary.Duration = summary.EndTime.Sub(start)
	d.statusTracker.PollCompleted(summary)

	if summary.Batches > 0 {
		d.logger.WithFields(
			"batches", summary.Batches,
			"completed", summary.Completed,
			"partial", summary.Partial,
			"failed", summary.Failed,
			"interrupted", summary.Interrupted,
			"errors", summary.Errors,
			"duration", summary.Duration,
		).Info("Poll completed")
	}
}

func (d *Daemon) runBatch(ctx context.Context, b *models.Batch) (*models.Batch, error) {
	log := d.logger.WithBatchID(b.ID)

	bctx, cancel := context.WithCancel(ctx)
	d.control.register(b.ID, cancel)
	defer func() {
		d.control.unregister(b.ID)
		cancel()
	}()

	d.statusTracker.BatchStarted(b)
	result, err := d.processor.ProcessBatch(bctx, b.ID)
	d.statusTracker.BatchFinished(err)

	if err != nil {
		log.WithError(err).Error("Batch processing failed")
		return nil, err
	}
	return result, nil
}

// writePIDFile writes the current process ID to the configured PID file
func (d *Daemon) writePIDFile() error {
	pid := os.Getpid()
	content := fmt.Sprintf("%d\n", pid)

	if err := os.WriteFile(d.pidFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.WithFields("pid", pid, "file", d.pidFile).Info("Wrote PID file")
	return nil
}

// removePIDFile removes the PID file
func (d *Daemon) removePIDFile() {
	if d.pidFile == "" {
		return
	}

	if err := os.Remove(d.pidFile); err != nil {
		d.logger.WithFields("file", d.pidFile, "error", err).Warn("Failed to remove PID file")
	} else {
		d.logger.WithFields("file", d.pidFile).Info("Removed PID file")
	}
}

// Handler serves the health, status and control endpoints
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	})

	// ready once the first poll went through
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if d.statusTracker.GetStatus().LastPollTime == nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	})

	mux.HandleFunc("/status", d.handleStatus)
	mux.HandleFunc("/api/poll", d.handleTriggerPoll)
	mux.HandleFunc("/api/batches/{id}/cancel", d.handleCancelBatch)

	return mux
}

// startHealthCheck starts the health check HTTP server
func (d *Daemon) startHealthCheck() error {
	d.httpServer = &http.Server{
		Addr:              d.healthAddr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		d.logger.WithFields("addr", d.healthAddr).Info("Starting health check server")
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.WithFields("error", err).Error("Health check server failed")
		}
	}()

	return nil
}

// stopHealthCheck stops the health check HTTP server
func (d *Daemon) stopHealthCheck() {
	if d.httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.httpServer.Shutdown(ctx); err != nil {
		d.logger.WithFields("error", err).Warn("Failed to shutdown health check server gracefully")
	} else {
		d.logger.Info("Health check server stopped")
	}
}
