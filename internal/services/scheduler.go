/**
 * @description
 * Crawl scheduler.
 * Periodically selects due sources (enabled, idle, cadence elapsed) and
 * crawls them through a bounded worker pool. Mutual exclusion per source is
 * a persisted lease: the idle->crawling transition is a conditional UPDATE
 * on the source row, so exactly one worker wins even across processes, and
 * a crashed worker's lease is visible in the database and reclaimed once it
 * exceeds the staleness ceiling.
 *
 * Every crawl leaves a CrawlAttempt row with per-series counts, updates the
 * source's last-crawl bookkeeping on success and failure alike (failed
 * crawls retry on the next cadence, not immediately), and publishes a
 * lifecycle event for live subscribers.
 *
 * @dependencies
 * - golang.org/x/sync/errgroup: bounded concurrent source crawls
 * - gorm.io/gorm
 * - internal/metrics
 *
 * @notes
 * - One source failing must never cancel its siblings, so the pool runs
 *   without a shared cancel-on-error context; per-source errors are folded
 *   into that source's attempt record.
 */

package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/macronet-project/backend/internal/apperr"
	"github.com/macronet-project/backend/internal/config"
	"github.com/macronet-project/backend/internal/db"
	"github.com/macronet-project/backend/internal/logger"
	"github.com/macronet-project/backend/internal/metrics"
	"github.com/macronet-project/backend/internal/models"
)

// ErrCrawlInProgress is returned when a manual trigger loses the lease race.
var ErrCrawlInProgress = errors.New("crawl already in progress")

// ErrSourceDisabled is returned when a manual trigger names a disabled source.
var ErrSourceDisabled = errors.New("source is disabled")

// finalizeTimeout bounds the post-crawl bookkeeping (attempt row, lease
// release) which must complete even when the crawl context is gone.
const finalizeTimeout = 10 * time.Second

// CrawlScheduler drives periodic source crawls.
type CrawlScheduler struct {
	DB       *gorm.DB
	Sync     *SyncService
	Notifier *Notifier
	Cfg      config.CrawlerConfig

	// now is injectable so tests can steer cadence and staleness decisions.
	now func() time.Time
}

// NewCrawlScheduler creates a new CrawlScheduler.
func NewCrawlScheduler(db *gorm.DB, sync *SyncService, notifier *Notifier, cfg config.CrawlerConfig) *CrawlScheduler {
	return &CrawlScheduler{
		DB:       db,
		Sync:     sync,
		Notifier: notifier,
		Cfg:      cfg,
		now:      time.Now,
	}
}

// Run ticks until the context is cancelled. The first pass runs immediately
// so a fresh deployment does not wait a full tick before crawling.
func (s *CrawlScheduler) Run(ctx context.Context) {
	logger.Info("CrawlScheduler: started (tick %ds, max %d concurrent crawls)",
		s.Cfg.TickSeconds, s.Cfg.MaxConcurrent)

	if err := s.Tick(ctx); err != nil {
		logger.Error("CrawlScheduler: tick failed: %v", err)
	}

	ticker := time.NewTicker(time.Duration(s.Cfg.TickSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("CrawlScheduler: stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				logger.Error("CrawlScheduler: tick failed: %v", err)
			}
		}
	}
}

// Tick runs one scheduling pass under a cross-process advisory lock:
// reclaim stale leases, pick due sources, crawl them concurrently up to the
// configured cap. The pass is skipped while another scheduler holds the
// lock; the per-source lease still guards each individual crawl.
func (s *CrawlScheduler) Tick(ctx context.Context) error {
	ran, err := db.WithAdvisoryLock(ctx, s.DB, db.LockKeyCrawlTick, func() error {
		return s.tick(ctx)
	})
	if err == nil && !ran {
		logger.Debug("CrawlScheduler: tick skipped, another scheduler is active")
	}
	return err
}

func (s *CrawlScheduler) tick(ctx context.Context) error {
	if err := s.reclaimStaleLeases(ctx); err != nil {
		// Reclamation failing must not stop scheduling of healthy sources.
		logger.Error("CrawlScheduler: stale lease sweep failed: %v", err)
	}

	due, err := s.dueSources(ctx)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	logger.Info("CrawlScheduler: %d source(s) due for crawl", len(due))

	g := new(errgroup.Group)
	g.SetLimit(s.Cfg.MaxConcurrent)
	for i := range due {
		source := due[i]
		g.Go(func() error {
			s.crawlOne(ctx, &source)
			return nil
		})
	}
	return g.Wait()
}

// TriggerSource crawls one source immediately, bypassing the cadence gate
// but still honoring enablement and the crawl lease.
func (s *CrawlScheduler) TriggerSource(ctx context.Context, name string) (*CrawlResult, error) {
	var source models.DataSource
	err := s.DB.WithContext(ctx).Where("name = ?", name).First(&source).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("source", name)
		}
		return nil, err
	}
	if !source.IsEnabled {
		return nil, ErrSourceDisabled
	}

	won, err := s.acquireLease(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrCrawlInProgress
	}
	return s.crawlLeased(ctx, &source)
}

// dueSources selects enabled idle sources whose cadence has elapsed. The
// cadence comparison happens in Go because the interval length lives on the
// row itself.
func (s *CrawlScheduler) dueSources(ctx context.Context) ([]models.DataSource, error) {
	var sources []models.DataSource
	err := s.DB.WithContext(ctx).
		Where("is_enabled = ? AND crawl_status = ?", true, models.CrawlStateIdle).
		Order("name asc").
		Find(&sources).Error
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	due := make([]models.DataSource, 0, len(sources))
	for _, src := range sources {
		cadence := time.Duration(src.CrawlFrequencyHours) * time.Hour
		if src.LastCrawlAt == nil || now.Sub(*src.LastCrawlAt) >= cadence {
			due = append(due, src)
		}
	}
	return due, nil
}

// reclaimStaleLeases flips crawling sources back to idle once their lease
// age exceeds the staleness ceiling. This is the crash-recovery path: a
// worker that died mid-crawl left crawl_started_at behind as evidence.
func (s *CrawlScheduler) reclaimStaleLeases(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-time.Duration(s.Cfg.LeaseTimeoutMinutes) * time.Minute)
	res := s.DB.WithContext(ctx).Model(&models.DataSource{}).
		Where("crawl_status = ? AND crawl_started_at IS NOT NULL AND crawl_started_at < ?",
			models.CrawlStateCrawling, cutoff).
		Updates(map[string]interface{}{
			"crawl_status":        models.CrawlStateIdle,
			"crawl_started_at":    nil,
			"crawl_error_message": "crawl lease exceeded staleness ceiling; reclaimed",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		logger.Info("CrawlScheduler: reclaimed %d stale crawl lease(s)", res.RowsAffected)
	}
	return nil
}

// acquireLease attempts the idle->crawling transition. The WHERE clause on
// the current state makes the update conditional: of N concurrent callers,
// exactly one sees RowsAffected == 1.
func (s *CrawlScheduler) acquireLease(ctx context.Context, sourceID uuid.UUID) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.DataSource{}).
		Where("id = ? AND crawl_status = ?", sourceID, models.CrawlStateIdle).
		Updates(map[string]interface{}{
			"crawl_status":     models.CrawlStateCrawling,
			"crawl_started_at": s.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// releaseLease transitions the source back to idle and records the outcome.
// last_crawl_at advances on success and failure alike so a failing source
// waits out its cadence instead of being retried in a tight loop.
func (s *CrawlScheduler) releaseLease(ctx context.Context, sourceID uuid.UUID, finished time.Time, errMsg *string) error {
	return s.DB.WithContext(ctx).Model(&models.DataSource{}).
		Where("id = ?", sourceID).
		Updates(map[string]interface{}{
			"crawl_status":        models.CrawlStateIdle,
			"crawl_started_at":    nil,
			"last_crawl_at":       finished,
			"crawl_error_message": errMsg,
		}).Error
}

// crawlOne is the scheduler-pool entry point: lease, crawl, finalize.
// Errors are recorded, never propagated, to keep sources isolated.
func (s *CrawlScheduler) crawlOne(ctx context.Context, source *models.DataSource) {
	won, err := s.acquireLease(ctx, source.ID)
	if err != nil {
		logger.Error("CrawlScheduler: lease acquisition for %s failed: %v", source.Name, err)
		return
	}
	if !won {
		logger.Info("CrawlScheduler: %s is already being crawled, skipping", source.Name)
		return
	}
	if _, err := s.crawlLeased(ctx, source); err != nil {
		logger.Error("CrawlScheduler: crawl of %s failed: %v", source.Name, err)
	}
}

// crawlLeased runs one crawl for a source whose lease the caller holds, and
// always finalizes: attempt record, lease release, metrics, live event.
func (s *CrawlScheduler) crawlLeased(ctx context.Context, source *models.DataSource) (*CrawlResult, error) {
	started := s.now().UTC()
	metrics.CrawlsStarted.WithLabelValues(source.Name).Inc()
	metrics.CrawlsInFlight.Inc()
	defer metrics.CrawlsInFlight.Dec()

	attempt := &models.CrawlAttempt{
		SourceID:   source.ID,
		SourceName: source.Name,
		Status:     models.CrawlAttemptRunning,
		StartedAt:  started,
	}
	if err := s.DB.Create(attempt).Error; err != nil {
		logger.Error("CrawlScheduler: recording crawl attempt for %s failed: %v", source.Name, err)
	}

	logger.Info("CrawlScheduler: crawl started for source %s", source.Name)
	result, crawlErr := s.Sync.CrawlSource(ctx, source)
	s.finalize(source, attempt, result, crawlErr, started)
	return result, crawlErr
}

func (s *CrawlScheduler) finalize(source *models.DataSource, attempt *models.CrawlAttempt, result *CrawlResult, crawlErr error, started time.Time) {
	// The crawl context may already be cancelled (shutdown, systemic abort);
	// bookkeeping still has to land or the lease leaks until the staleness
	// sweep. Use a fresh bounded context.
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	finished := s.now().UTC()
	status := models.CrawlAttemptCompleted
	kind := EventCrawlCompleted
	var errMsg *string
	if crawlErr != nil {
		status = models.CrawlAttemptFailed
		kind = EventCrawlFailed
		msg := crawlErr.Error()
		errMsg = &msg
	}

	attempt.Status = status
	attempt.SeriesCreated = result.SeriesCreated
	attempt.SeriesUpdated = result.SeriesUpdated
	attempt.SeriesSkipped = result.SeriesSkipped
	attempt.SeriesFailed = result.SeriesFailed
	attempt.ObservationsUpserted = result.ObservationsUpserted
	attempt.ErrorMessage = errMsg
	attempt.CompletedAt = &finished
	if attempt.ID != uuid.Nil {
		if err := s.DB.WithContext(ctx).Save(attempt).Error; err != nil {
			logger.Error("CrawlScheduler: finalizing crawl attempt for %s failed: %v", source.Name, err)
		}
	}

	if err := s.releaseLease(ctx, source.ID, finished, errMsg); err != nil {
		logger.Error("CrawlScheduler: releasing lease for %s failed: %v", source.Name, err)
	}

	outcome := "completed"
	if crawlErr != nil {
		outcome = "failed"
	}
	metrics.CrawlsCompleted.WithLabelValues(source.Name, outcome).Inc()
	metrics.CrawlDuration.WithLabelValues(source.Name).Observe(finished.Sub(started).Seconds())

	logger.Info("CrawlScheduler: crawl %s for source %s in %s (created %d, updated %d, skipped %d, failed %d, observations %d)",
		outcome, source.Name, finished.Sub(started).Round(time.Millisecond),
		result.SeriesCreated, result.SeriesUpdated, result.SeriesSkipped, result.SeriesFailed,
		result.ObservationsUpserted)

	s.Notifier.Publish(ctx, kind, source.Name, result)
}
