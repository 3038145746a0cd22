package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/macronet-project/backend/internal/config"
	"github.com/macronet-project/backend/internal/db"
	"github.com/macronet-project/backend/internal/models"
	"github.com/macronet-project/backend/internal/providers"
	"github.com/macronet-project/backend/internal/ratelimit"
	"github.com/macronet-project/backend/internal/services"
)

// backend bundles the connected service layer for one CLI invocation.
type backend struct {
	cfg       *config.Config
	db        *gorm.DB
	registry  *services.RegistryService
	scheduler *services.CrawlScheduler
	analysis  *services.AnalysisService
	events    *services.EventService
}

// connect loads config and wires the same service stack the worker uses.
// Redis is best-effort: without it the CLI still works, it just cannot
// publish stream events or invalidate API caches.
func connect() (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.Migrate(pgDB); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	var redisClient *redis.Client
	if client, err := db.ConnectRedis(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "redis unavailable, live events disabled: %v\n", err)
	} else {
		redisClient = client
	}

	notifier := services.NewNotifier(redisClient)
	limiter := ratelimit.NewPool(time.Duration(cfg.Crawler.AcquireTimeoutSeconds) * time.Second)
	syncService := services.NewSyncService(pgDB, limiter, providers.BuildRegistry(cfg))

	return &backend{
		cfg:       cfg,
		db:        pgDB,
		registry:  services.NewRegistryService(pgDB, limiter),
		scheduler: services.NewCrawlScheduler(pgDB, syncService, notifier, cfg.Crawler),
		analysis:  services.NewAnalysisService(pgDB, redisClient, notifier, cfg.Analysis),
		events:    services.NewEventService(pgDB, notifier, cfg.Analysis),
	}, nil
}

func runSourcesList(jsonOutput bool) error {
	be, err := connect()
	if err != nil {
		return err
	}

	sources, err := be.registry.ListSources(context.Background(), services.QuerySourcesParams{
		IncludeDisabled: true,
		IncludeHidden:   true,
	})
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sources)
	}

	if len(sources) == 0 {
		fmt.Println("no sources registered (try: econctl seed --file sources.yaml)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENABLED\tRPM\tCADENCE\tSTATE\tLAST CRAWL")
	for _, s := range sources {
		lastCrawl := "never"
		if s.LastCrawlAt != nil {
			lastCrawl = s.LastCrawlAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%t\t%d\t%dh\t%s\t%s\n",
			s.Name, s.IsEnabled, s.RateLimitPerMinute, s.CrawlFrequencyHours,
			s.CrawlStatus, lastCrawl)
	}
	return w.Flush()
}

func runSourcesRegister(name, desc, baseURL string, rpm, cadence int, needsKey bool) error {
	be, err := connect()
	if err != nil {
		return err
	}

	source, err := be.registry.RegisterSource(context.Background(), services.SourceInput{
		Name:                name,
		Description:         desc,
		BaseURL:             baseURL,
		APIKeyRequired:      needsKey,
		RateLimitPerMinute:  rpm,
		CrawlFrequencyHours: cadence,
	})
	if err != nil {
		return fmt.Errorf("register source: %w", err)
	}

	fmt.Printf("registered %s (%d req/min, crawl every %dh)\n",
		source.Name, source.RateLimitPerMinute, source.CrawlFrequencyHours)
	return nil
}

func runSourcesSetEnabled(name string, enabled bool) error {
	be, err := connect()
	if err != nil {
		return err
	}

	source, err := be.registry.SetSourceEnabled(context.Background(), strings.ToLower(name), enabled)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}

	if source.IsEnabled {
		fmt.Printf("%s enabled\n", source.Name)
	} else {
		fmt.Printf("%s disabled (in-flight crawls will finish)\n", source.Name)
	}
	return nil
}

func runSourcesRemove(name string, yes bool) error {
	be, err := connect()
	if err != nil {
		return err
	}
	ctx := context.Background()

	source, err := be.registry.GetSource(ctx, strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("remove source: %w", err)
	}

	if !yes {
		fmt.Printf("remove %s and all of its series, observations and crawl history? [y/N] ", source.Name)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Println("aborted")
			return nil
		}
	}

	if err := be.registry.DeleteSource(ctx, source.Name); err != nil {
		return fmt.Errorf("remove source: %w", err)
	}

	fmt.Printf("%s removed\n", source.Name)
	return nil
}

func runSeed(file string) error {
	be, err := connect()
	if err != nil {
		return err
	}

	report, err := be.registry.ApplySeedFile(context.Background(), file)
	if err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}

	fmt.Printf("seed applied: %d countries, %d sources, %d series\n",
		report.Countries, report.Sources, report.Series)
	return nil
}

func runCrawl(sourceName string) error {
	be, err := connect()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if sourceName != "" {
		result, err := be.scheduler.TriggerSource(ctx, strings.ToLower(sourceName))
		if err != nil {
			if errors.Is(err, services.ErrCrawlInProgress) {
				return fmt.Errorf("source %s is already being crawled", sourceName)
			}
			if errors.Is(err, services.ErrSourceDisabled) {
				return fmt.Errorf("source %s is disabled (enable it first: econctl sources enable %s)", sourceName, sourceName)
			}
			return fmt.Errorf("crawl %s: %w", sourceName, err)
		}
		printCrawlResult(sourceName, result)
		return nil
	}

	// No source given: one scheduling pass over everything due.
	if err := be.scheduler.Tick(ctx); err != nil {
		return fmt.Errorf("crawl tick: %w", err)
	}
	fmt.Println("crawl tick complete (per-source outcomes: econctl sources list)")
	return nil
}

func printCrawlResult(name string, result *services.CrawlResult) {
	fmt.Printf("%s: %d created, %d updated, %d skipped, %d failed, %d observations\n",
		name, result.SeriesCreated, result.SeriesUpdated, result.SeriesSkipped,
		result.SeriesFailed, result.ObservationsUpserted)
	for _, o := range result.Outcomes {
		if o.Reason != "" {
			fmt.Printf("  %s: %s (%s)\n", o.ExternalID, o.Disposition, o.Reason)
		}
	}
}

func runAnalyze(correlations, leading, propagate bool) error {
	be, err := connect()
	if err != nil {
		return err
	}
	ctx := context.Background()

	// No flags: full pass plus event propagation.
	full := !correlations && !leading && !propagate

	switch {
	case full:
		summary, err := be.analysis.RunFullPass(ctx)
		if err != nil {
			return analyzeErr(err)
		}
		printSummary(summary)
		if err := be.events.RecomputeAllEvents(ctx); err != nil {
			return fmt.Errorf("recompute event impacts: %w", err)
		}
		fmt.Println("event impact propagation recomputed")
	case correlations:
		summary, err := be.analysis.RunCorrelationPass(ctx)
		if err != nil {
			return analyzeErr(err)
		}
		printSummary(summary)
	case leading:
		summary, err := be.analysis.RunLeadingPass(ctx)
		if err != nil {
			return analyzeErr(err)
		}
		printSummary(summary)
	case propagate:
		if err := be.events.RecomputeAllEvents(ctx); err != nil {
			return fmt.Errorf("recompute event impacts: %w", err)
		}
		fmt.Println("event impact propagation recomputed")
	}
	return nil
}

func analyzeErr(err error) error {
	if errors.Is(err, services.ErrAnalysisInProgress) {
		return errors.New("an analysis pass is already running elsewhere, try again later")
	}
	return fmt.Errorf("analysis pass: %w", err)
}

func printSummary(summary *services.AnalysisSummary) {
	fmt.Printf("window %s..%s\n",
		summary.WindowStart.Format("2006-01-02"), summary.WindowEnd.Format("2006-01-02"))
	fmt.Printf("correlations: %d computed, %d skipped, %d insufficient, %d failed\n",
		summary.PairsComputed, summary.PairsSkipped, summary.PairsInsufficient, summary.PairsFailed)
	fmt.Printf("leading indicators: %d detected, %d superseded, %d retained\n",
		summary.LeadingDetected, summary.LeadingSuperseded, summary.LeadingRetained)
}

func runEventsAdd(name, desc, category, date, endDate string) error {
	be, err := connect()
	if err != nil {
		return err
	}

	eventDate, err := time.Parse("2006-01-02", date)
	if err != nil {
		return fmt.Errorf("invalid --date %q (want YYYY-MM-DD)", date)
	}

	input := services.EventInput{
		Name:        name,
		Description: desc,
		Category:    category,
		EventDate:   eventDate,
	}
	if endDate != "" {
		end, err := time.Parse("2006-01-02", endDate)
		if err != nil {
			return fmt.Errorf("invalid --end-date %q (want YYYY-MM-DD)", endDate)
		}
		input.EndDate = &end
	}

	event, err := be.events.CreateEvent(context.Background(), input)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}

	fmt.Printf("event recorded: %s (%s)\n", event.Name, event.ID)
	return nil
}

func runEventsImpact(eventID, country string, magnitude, confidence float64) error {
	be, err := connect()
	if err != nil {
		return err
	}
	ctx := context.Background()

	id, err := uuid.Parse(eventID)
	if err != nil {
		return fmt.Errorf("invalid --event %q (want a UUID)", eventID)
	}

	impact, err := be.events.AssertImpact(ctx, id, services.ImpactInput{
		CountryCode: strings.ToUpper(country),
		Magnitude:   magnitude,
		Confidence:  confidence,
	})
	if err != nil {
		return fmt.Errorf("assert impact: %w", err)
	}

	fmt.Printf("asserted impact on %s: magnitude %.2f (%s), confidence %.2f\n",
		impact.CountryCode, impact.Magnitude,
		services.ClassifySeverity(impact.Magnitude), impact.Confidence)

	// Show what propagation derived from this assertion.
	impacts, err := be.events.GetImpacts(ctx, id, services.QueryImpactsParams{})
	if err != nil {
		return nil
	}
	derived := 0
	for _, i := range impacts {
		if i.ImpactType == models.ImpactDerived {
			derived++
		}
	}
	fmt.Printf("propagation derived %d downstream impact(s)\n", derived)
	return nil
}

func runEventsClose(eventID, date string) error {
	be, err := connect()
	if err != nil {
		return err
	}

	id, err := uuid.Parse(eventID)
	if err != nil {
		return fmt.Errorf("invalid --event %q (want a UUID)", eventID)
	}

	end, err := time.Parse("2006-01-02", date)
	if err != nil {
		return fmt.Errorf("invalid --date %q (want YYYY-MM-DD)", date)
	}

	event, err := be.events.CloseEvent(context.Background(), id, end)
	if err != nil {
		return fmt.Errorf("close event: %w", err)
	}

	fmt.Printf("event closed: %s (%s recovery, %s..%s)\n",
		event.Name, services.ClassifyRecovery(event),
		event.EventDate.Format("2006-01-02"), event.EndDate.Format("2006-01-02"))
	return nil
}
