package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/zynqcloud/vaultnode/internal/cleanup"
	"github.com/zynqcloud/vaultnode/internal/config"
	"github.com/zynqcloud/vaultnode/internal/handler"
	"github.com/zynqcloud/vaultnode/internal/metrics"
	"github.com/zynqcloud/vaultnode/internal/node"
	"github.com/zynqcloud/vaultnode/internal/registry"
)

// proofRetentionHours bounds how long old proof snapshots are kept on
// disk before the periodic sweep removes them.
const proofRetentionHours = 24

// replicationResweepInterval is how often the coordinator re-checks
// under-replicated blobs and re-pushes them to fresh candidates.
const replicationResweepInterval = 10 * time.Minute

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config.json")
	flag.Parse()

	cfg, err := config.Load(configPath, logger)
	if err != nil {
		logger.Error("configuration error", "err", err)
		os.Exit(1)
	}

	// A Static registry backs single-node and fixed-cluster deployments
	// out of the box; this node is always its own active member. It starts
	// with no authorized sender pairs, so with requireAppRegistry turned on
	// every store is refused as forbidden.
	reg := registry.NewStatic([]string{cfg.NodeID}, nil, "")

	m := metrics.New()

	n, err := node.New(cfg, reg, m, logger)
	if err != nil {
		logger.Error("failed to initialize vault node", "err", err)
		os.Exit(1)
	}

	// Root context — cancelled when a shutdown signal arrives. All
	// long-running background goroutines receive this context so they
	// stop cleanly without needing their own signal wiring.
	ctx, cancel := context.WithCancel(context.Background())

	var doneChans []<-chan struct{}

	doneChans = append(doneChans, cleanup.RunPeriodic(ctx, time.Hour, "proof-retention", func(ctx context.Context) {
		removed, err := n.Proof.CleanupOldProofs(proofRetentionHours)
		if err != nil {
			logger.Warn("proof cleanup failed", "err", err)
			return
		}
		if removed > 0 {
			logger.Info("proof cleanup removed stale snapshots", "removed", removed)
		}
	}, logger))

	doneChans = append(doneChans, cleanup.RunPeriodic(ctx, replicationResweepInterval, "replication-resweep", func(ctx context.Context) {
		n.Resweep(ctx)
	}, logger))

	if cfg.GCEnabled {
		interval := time.Duration(cfg.GCIntervalMinutes) * time.Minute
		n.GC.RunPeriodic(ctx, interval)
		logger.Info("garbage collection enabled", "interval_minutes", cfg.GCIntervalMinutes, "mode", cfg.GCRetentionMode)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler.New(n, cfg, m, logger),
		// ReadHeaderTimeout closes Slowloris: a client that never finishes
		// sending headers holds a goroutine until this fires.
		ReadHeaderTimeout: 10 * time.Second,
		// ReadTimeout and WriteTimeout are intentionally disabled (0 = no limit).
		//
		// Why: a multi-gigabyte blob uploaded at 1 MB/s takes a long time. Any
		// finite ReadTimeout will silently abort slow stores. The reverse proxy
		// in front of this node enforces the outer connection timeout — that
		// is the correct layer to set upper-bound limits. Go's
		// ReadHeaderTimeout already protects against Slowloris, so disabling
		// ReadTimeout is safe.
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("vault node starting",
			"node_id", n.ID(),
			"port", cfg.Port,
			"data_dir", cfg.DataDir,
			"shard_count", cfg.ShardCount,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// shutdownSignals is defined in signals.go (os.Interrupt) and extended by
	// signals_unix.go (+ SIGTERM) via build tags — no OS-specific imports here.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, shutdownSignals...)
	<-quit

	logger.Info("shutdown signal received — draining connections")

	// Cancel the root context first so background goroutines (cleanup,
	// GC, resweep) stop accepting new work before the HTTP server drains.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}

	for _, done := range doneChans {
		<-done
	}

	logger.Info("vault node stopped")
}
