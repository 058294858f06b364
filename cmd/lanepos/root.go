package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanepos/lanepos/internal/api"
	"github.com/lanepos/lanepos/internal/config"
	"github.com/lanepos/lanepos/internal/connectivity"
	"github.com/lanepos/lanepos/internal/ledger"
	"github.com/lanepos/lanepos/internal/register"
	"github.com/lanepos/lanepos/internal/remote"
	"github.com/lanepos/lanepos/internal/store"
	"github.com/lanepos/lanepos/internal/syncengine"
	"github.com/lanepos/lanepos/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "lanepos",
	Short: "lanepos - offline-first POS lane daemon",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	initLogger(cfg.Log)
	slog.Info("configuration loaded", "actor_id", cfg.Sync.ActorID)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	client := remote.New(cfg.Remote.BaseURL, cfg.Remote.Token, time.Duration(cfg.Remote.RequestTimeout))
	monitor := connectivity.New(client, time.Duration(cfg.Sync.ProbeInterval))

	ldg := ledger.New(db)
	recorder := register.New(db, ldg, client, monitor.Online, cfg.Sync.ActorID)
	catalog := register.NewCatalogEditor(db)
	engine := syncengine.New(db, ldg, client)
	coordinator := worker.NewSyncCoordinator(engine, monitor, db, time.Duration(cfg.Sync.Interval))

	handler := api.NewHandler(db, recorder, catalog,
		syncControl{engine: engine, coordinator: coordinator}, monitor, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	startWorker(ctx, &wg, "connectivity", monitor.Run)
	startWorker(ctx, &wg, "sync-coordinator", coordinator.Run)

	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// syncControl pairs the engine's status view with the coordinator's trigger
// so the API sees one surface.
type syncControl struct {
	engine      *syncengine.Engine
	coordinator *worker.SyncCoordinator
}

func (s syncControl) Status(ctx context.Context) syncengine.Status { return s.engine.Status(ctx) }
func (s syncControl) TriggerSync() bool                            { return s.coordinator.TriggerSync() }

func initLogger(cfg config.LogConfig) {
	level := parseLogLevel(cfg.Level)
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch level {
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

// startWorker launches a background goroutine that respects context
// cancellation and is tracked for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
