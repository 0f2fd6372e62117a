package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/t-henke/glaskasten/internal/api"
	"github.com/t-henke/glaskasten/internal/config"
	"github.com/t-henke/glaskasten/internal/docker"
	"github.com/t-henke/glaskasten/internal/engine"
	"github.com/t-henke/glaskasten/internal/journal"
	"github.com/t-henke/glaskasten/internal/metrics"
	"github.com/t-henke/glaskasten/internal/ops"
	"github.com/t-henke/glaskasten/internal/pool"
	"github.com/t-henke/glaskasten/internal/reaper"
	"github.com/t-henke/glaskasten/internal/session"
	"github.com/t-henke/glaskasten/internal/workspace"
)

func main() {
	cfgPath := flag.String("config", "", "path to glaskasten.yaml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	logger.Info("starting", "variant", cfg.Variant, "image", cfg.ImageName, "max_sessions", cfg.MaxSessions)

	var jnl session.ExecutionJournal
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			logger.Error("open journal", "path", cfg.JournalPath, "error", err)
			os.Exit(1)
		}
		defer j.Close()
		jnl = j
	}

	dc, err := docker.New(cfg.RuntimeEndpoint)
	if err != nil {
		logger.Error("docker client", "error", err)
		os.Exit(1)
	}
	defer dc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dc.Ping(ctx); err != nil {
		logger.Error("docker ping failed — is Docker running?", "error", err)
		os.Exit(1)
	}
	logger.Info("docker connection OK")

	var ws session.Workspaces
	if cfg.WorkspaceRoot != "" {
		w, err := workspace.NewManager(cfg.WorkspaceRoot)
		if err != nil {
			logger.Error("workspace root", "path", cfg.WorkspaceRoot, "error", err)
			os.Exit(1)
		}
		ws = w
	}

	var eng engine.Engine
	if cfg.Persistent() {
		eng = engine.NewPersistent(dc)
	} else {
		eng = engine.NewOneshot(dc)
	}

	var warmPool *pool.Pool
	var cp session.ContainerPool
	if cfg.PoolSize > 0 {
		warmPool = pool.New(cfg.PoolSize, func(id string) docker.CreateSpec {
			return session.BuildCreateSpec(cfg, id, "")
		}, dc, logger)
		warmPool.Start(ctx)
		cp = warmPool
	}

	mgr := session.NewManager(cfg, logger, dc, eng, jnl, ws, cp)

	rpr := reaper.New(mgr, 30*time.Second, logger)
	go rpr.Run(ctx)

	poolReady := func() int { return 0 }
	if warmPool != nil {
		poolReady = warmPool.Ready
	}
	collector := metrics.NewCollector(func() (int, int) {
		live, terminating, _ := mgr.Registry().Counts()
		return live, terminating
	}, poolReady)
	collector.Start()

	srv := api.NewServer(ops.NewDispatcher(mgr, logger), bodyLimit(cfg), logger)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // executions can be long
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.ListenAddr)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	// Sessions left behind would be unreachable after a restart; remove
	// them while we still know about them.
	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cleanupCancel()
	mgr.Shutdown(cleanupCtx)
	if warmPool != nil {
		warmPool.Stop(cleanupCtx)
	}
	collector.Stop()
	logger.Info("shutdown complete")
}

// bodyLimit sizes the HTTP body cap to fit the largest allowed file upload
// after JSON escaping, plus headroom for the rest of the argument object.
func bodyLimit(cfg *config.Config) int64 {
	return 2*int64(cfg.MaxFileBytes) + 1<<20
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
