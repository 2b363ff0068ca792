package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/examcards/internal/config"
	"github.com/conorfennell/examcards/internal/gitsource"
	"github.com/conorfennell/examcards/internal/scheduler"
	"github.com/conorfennell/examcards/internal/storage"
	cardsync "github.com/conorfennell/examcards/internal/sync"
	"github.com/conorfennell/examcards/internal/web"
)

func main() {
	// 1. Load configuration from flags, file and environment
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	// 2. Open the database
	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	logger.Info("Database opened successfully", "driver", cfg.Database.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := cardsync.NewRunner(db, cfg.Sync.ReposDir, logger)

	// 3. One-shot actions
	if cfg.AddSource != "" {
		if err := addNewSource(ctx, db, cfg.AddSource); err != nil {
			logger.Error("Failed to add source", "path", cfg.AddSource, "error", err)
			os.Exit(1)
		}
		return
	}
	if cfg.SyncOnce {
		report, err := runner.Run(ctx)
		fmt.Printf("Synced %d sources: %d inserted, %d reactivated, %d deactivated, %d errors.\n",
			report.Sources, report.Inserted, report.Reactivated, report.Deactivated, report.Errors)
		if err != nil {
			logger.Error("Sync finished with errors", "error", err)
			os.Exit(1)
		}
		return
	}

	// 4. Serve
	if err := serve(ctx, cfg, db, runner, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, db *storage.DB, runner *cardsync.Runner, logger *slog.Logger) error {
	params := scheduler.DefaultParams()
	params.ClockSkew = cfg.Scheduler.ClockSkew
	engine := scheduler.NewEngine(db, scheduler.WithParams(params), scheduler.WithLogger(logger))

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: web.NewServer(db, engine, runner, web.Options{
			BatchSize:      cfg.Scheduler.BatchSize,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RatePerSecond:  cfg.RateLimit.PerSecond,
			RateBurst:      cfg.RateLimit.Burst,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Sync.Interval > 0 {
		g.Go(func() error {
			syncPeriodically(gctx, runner, cfg.Sync.Interval, logger)
			return nil
		})
	}

	return g.Wait()
}

// syncPeriodically runs a sync at startup and then on every tick until ctx is done.
// Failed syncs are logged; the next tick tries again.
func syncPeriodically(ctx context.Context, runner *cardsync.Runner, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Background sync failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// addNewSource registers a local directory or git URL as a card source.
func addNewSource(ctx context.Context, db *storage.DB, path string) error {
	sourceType := storage.SourceLocal
	if gitsource.IsGitURL(path) {
		sourceType = storage.SourceGit
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("local source %s: %w", abs, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("local source %s is not a directory", abs)
		}
		path = abs
	}

	existing, err := db.FindSourceByPath(ctx, path)
	if err != nil {
		return err
	}
	if existing != nil {
		slog.Info("Source already exists", "id", existing.ID, "path", path)
		return nil
	}

	id, err := db.InsertSource(ctx, path, sourceType)
	if err != nil {
		return err
	}
	slog.Info("Source added", "id", id, "type", sourceType, "path", path)
	return nil
}
