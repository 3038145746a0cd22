/**
 * @description
 * API Route definitions.
 * Sets up the router groups and assigns handlers.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/api/handlers
 * - backend/internal/services
 */

package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/macronet-project/backend/internal/api/handlers"
	"github.com/macronet-project/backend/internal/config"
	"github.com/macronet-project/backend/internal/ratelimit"
	"github.com/macronet-project/backend/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, db *gorm.DB, rdb *redis.Client, cfg *config.Config) {
	// 1. Initialize shared infrastructure
	notifier := services.NewNotifier(rdb)
	limiter := ratelimit.NewPool(time.Duration(cfg.Crawler.AcquireTimeoutSeconds) * time.Second)

	// 2. Initialize Services
	registryService := services.NewRegistryService(db, limiter)
	seriesService := services.NewSeriesService(db, rdb)
	analysisService := services.NewAnalysisService(db, rdb, notifier, cfg.Analysis)
	eventService := services.NewEventService(db, notifier, cfg.Analysis)

	// 3. Initialize Handlers
	sourceHandler := handlers.NewSourceHandler(registryService)
	seriesHandler := handlers.NewSeriesHandler(seriesService)
	analysisHandler := handlers.NewAnalysisHandler(analysisService)
	eventHandler := handlers.NewEventHandler(eventService)
	streamHandler := handlers.NewStreamHandler(rdb)

	// 4. Define Routes
	api := app.Group("/api")
	v1 := api.Group("/v1")

	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	sources := v1.Group("/sources")
	sources.Get("/", sourceHandler.ListSources)
	sources.Post("/", sourceHandler.RegisterSource)
	sources.Get("/:name", sourceHandler.GetSource)
	sources.Patch("/:name", sourceHandler.UpdateSource)
	sources.Get("/:name/attempts", sourceHandler.ListCrawlAttempts)

	series := v1.Group("/series")
	series.Get("/", seriesHandler.ListSeries)
	series.Get("/:id", seriesHandler.GetSeries)
	series.Get("/:id/observations", seriesHandler.ListObservations)

	analysis := v1.Group("/analysis")
	analysis.Get("/correlations", analysisHandler.GetCorrelations)
	analysis.Get("/leading-indicators", analysisHandler.GetLeadingIndicators)
	analysis.Get("/centrality", analysisHandler.GetCentrality)

	countries := v1.Group("/countries")
	countries.Get("/", sourceHandler.ListCountries)
	countries.Get("/:code/health", analysisHandler.GetCountryHealth)

	trade := v1.Group("/trade")
	trade.Get("/", eventHandler.ListTrade)
	trade.Post("/", eventHandler.UpsertTrade)

	events := v1.Group("/events")
	// The stream route must be registered ahead of the :id matcher.
	events.Get("/stream", streamHandler.StreamEvents)
	events.Get("/", eventHandler.ListEvents)
	events.Post("/", eventHandler.CreateEvent)
	events.Get("/:id", eventHandler.GetEvent)
	events.Get("/:id/impacts", eventHandler.GetImpacts)
	events.Post("/:id/impacts", eventHandler.AssertImpact)

	// Prometheus scrape endpoint, outside the versioned API group
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}
