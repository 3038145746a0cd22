/**
 * @description
 * Worker Service Entry Point.
 * Responsible for background tasks:
 * 1. Running the crawl scheduler (lease-based, one tick at a time).
 * 2. Running periodic network analysis passes (correlations, leading
 *    indicators, centrality).
 * 3. Seeding the source registry from sources.yaml on boot.
 *
 * @dependencies
 * - backend/internal/config
 * - backend/internal/db
 * - backend/internal/providers
 * - backend/internal/ratelimit
 * - backend/internal/services
 */

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/macronet-project/backend/internal/config"
	"github.com/macronet-project/backend/internal/db"
	"github.com/macronet-project/backend/internal/logger"
	"github.com/macronet-project/backend/internal/providers"
	"github.com/macronet-project/backend/internal/ratelimit"
	"github.com/macronet-project/backend/internal/services"
)

func main() {
	logger.Info("🔥 Starting Macronet Worker...")

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	// 2. Connect DBs
	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		logger.Fatal("Postgres connection failed: %v", err)
	}
	if err := db.Migrate(pgDB); err != nil {
		logger.Fatal("Schema migration failed: %v", err)
	}

	redisClient, err := db.ConnectRedis(cfg)
	if err != nil {
		logger.Fatal("Redis connection failed: %v", err)
	}

	// 3. Initialize Services
	notifier := services.NewNotifier(redisClient)
	limiter := ratelimit.NewPool(time.Duration(cfg.Crawler.AcquireTimeoutSeconds) * time.Second)
	registry := services.NewRegistryService(pgDB, limiter)
	syncService := services.NewSyncService(pgDB, limiter, providers.BuildRegistry(cfg))
	scheduler := services.NewCrawlScheduler(pgDB, syncService, notifier, cfg.Crawler)
	analysis := services.NewAnalysisService(pgDB, redisClient, notifier, cfg.Analysis)

	// 4. Context with Cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Seed the Source Registry
	// A missing seed file is fine on a pre-populated database.
	if report, err := registry.ApplySeedFile(ctx, cfg.Crawler.SourcesFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("No seed file at %s, skipping registry seed", cfg.Crawler.SourcesFile)
		} else {
			logger.Fatal("Failed to apply seed file: %v", err)
		}
	} else {
		logger.Info("✅ Seed applied: %d countries, %d sources, %d series",
			report.Countries, report.Sources, report.Series)
	}

	// 6. Crawl Scheduler Loop
	go scheduler.Run(ctx)

	// 7. Analysis Loop
	// Runs a full pass on boot, then every IntervalHours.
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Analysis.IntervalHours) * time.Hour)
		defer ticker.Stop()

		runAnalysis(ctx, analysis)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runAnalysis(ctx, analysis)
			}
		}
	}()

	// 8. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()

	time.Sleep(1 * time.Second) // Give in-flight crawls time to release leases
	logger.Info("Worker exited.")
}

// runAnalysis executes one full analysis pass and logs the outcome.
func runAnalysis(ctx context.Context, analysis *services.AnalysisService) {
	logger.Info("🔄 Running network analysis pass...")

	summary, err := analysis.RunFullPass(ctx)
	if err != nil {
		if errors.Is(err, services.ErrAnalysisInProgress) {
			logger.Info("Analysis pass already running elsewhere, skipping")
			return
		}
		logger.Error("Analysis pass failed: %v", err)
		return
	}

	logger.Info("✅ Analysis pass done: %d pairs computed, %d skipped, %d insufficient, %d leading detected",
		summary.PairsComputed, summary.PairsSkipped, summary.PairsInsufficient, summary.LeadingDetected)
}
