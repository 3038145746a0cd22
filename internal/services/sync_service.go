/**
 * @description
 * Series synchronization service.
 * Pulls one source's active series from its provider and merges them into
 * PostgreSQL. The merge is watermark-gated: a series whose provider
 * watermark has not advanced since the last sync skips the value merge
 * entirely (metadata is still refreshed), so re-crawling unchanged data is
 * idempotent and cheap. Value merges upsert by (series_id, date):
 * restatements overwrite the stored value for a date, dates absent from the
 * payload are preserved.
 *
 * Failure handling is per-series: a malformed or missing series is recorded
 * and skipped without aborting the source's crawl. Only systemic conditions
 * (auth failure, quota exhaustion, rate-budget timeout) abort the remaining
 * crawl for the source.
 *
 * @dependencies
 * - gorm.io/gorm + clause: conflict-target upserts
 * - github.com/jackc/pgconn: deadlock/serialization error codes for retries
 * - internal/providers: normalized provider payloads
 * - internal/ratelimit: per-source token buckets
 *
 * @notes
 * - Each series merge runs in its own transaction, retried on transient
 *   PostgreSQL failures (40P01 deadlock, 40001 serialization).
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/macronet-project/backend/internal/apperr"
	"github.com/macronet-project/backend/internal/logger"
	"github.com/macronet-project/backend/internal/metrics"
	"github.com/macronet-project/backend/internal/models"
	"github.com/macronet-project/backend/internal/providers"
	"github.com/macronet-project/backend/internal/ratelimit"
)

const (
	// ObservationBatchSize is the number of observation rows per upsert batch.
	ObservationBatchSize = 500
	// maxTxRetries bounds the transient-error retry loop around one merge.
	maxTxRetries = 5
)

// SyncDisposition is the per-series outcome of one crawl.
type SyncDisposition string

const (
	SyncCreated SyncDisposition = "created"
	SyncUpdated SyncDisposition = "updated"
	SyncSkipped SyncDisposition = "skipped"
	SyncFailed  SyncDisposition = "failed"
)

// SeriesOutcome records what happened to one series during a crawl.
type SeriesOutcome struct {
	ExternalID   string          `json:"external_id"`
	Disposition  SyncDisposition `json:"disposition"`
	Observations int             `json:"observations"`
	Reason       string          `json:"reason,omitempty"`
}

// CrawlResult aggregates the per-series outcomes of one source crawl.
// When the crawl aborted on a systemic failure the already-produced
// outcomes are still present; series after the abort point were never
// attempted and carry no outcome.
type CrawlResult struct {
	Outcomes             []SeriesOutcome `json:"outcomes"`
	SeriesCreated        int             `json:"series_created"`
	SeriesUpdated        int             `json:"series_updated"`
	SeriesSkipped        int             `json:"series_skipped"`
	SeriesFailed         int             `json:"series_failed"`
	ObservationsUpserted int             `json:"observations_upserted"`
}

func (r *CrawlResult) record(o SeriesOutcome) {
	switch o.Disposition {
	case SyncCreated:
		r.SeriesCreated++
	case SyncUpdated:
		r.SeriesUpdated++
	case SyncSkipped:
		r.SeriesSkipped++
	case SyncFailed:
		r.SeriesFailed++
	}
	r.ObservationsUpserted += o.Observations
	r.Outcomes = append(r.Outcomes, o)
}

// SyncService merges provider payloads into the series store.
type SyncService struct {
	DB        *gorm.DB
	Limiter   *ratelimit.Pool
	Providers map[string]providers.Provider
}

// NewSyncService creates a new SyncService.
func NewSyncService(db *gorm.DB, limiter *ratelimit.Pool, provs map[string]providers.Provider) *SyncService {
	return &SyncService{DB: db, Limiter: limiter, Providers: provs}
}

// CrawlSource fetches and merges every active series registered under the
// source. The caller is expected to hold the source's crawl lease. The
// returned error is non-nil only for systemic failures that aborted the
// crawl; per-series failures are folded into the result instead.
func (s *SyncService) CrawlSource(ctx context.Context, source *models.DataSource) (*CrawlResult, error) {
	result := &CrawlResult{}

	provider, ok := s.Providers[source.Name]
	if !ok {
		return result, &apperr.SystemicCrawlFailure{
			Source: source.Name,
			Err:    fmt.Errorf("no provider registered for source %q", source.Name),
		}
	}

	var seriesList []models.EconomicSeries
	err := s.DB.
		Where("source_id = ? AND is_active = ?", source.ID, true).
		Order("external_id asc").
		Find(&seriesList).Error
	if err != nil {
		return result, &apperr.SystemicCrawlFailure{
			Source: source.Name,
			Err:    fmt.Errorf("listing active series: %w", err),
		}
	}
	if len(seriesList) == 0 {
		logger.Info("SyncService: source %s has no active series registered, nothing to crawl", source.Name)
		return result, nil
	}

	for i := range seriesList {
		series := &seriesList[i]

		if err := ctx.Err(); err != nil {
			return result, &apperr.SystemicCrawlFailure{Source: source.Name, Err: err}
		}

		// Charge the source's rate budget before touching the provider. A
		// timeout here means the budget is exhausted for this window: stop
		// and let the next scheduled crawl pick up where this one left off.
		err := s.Limiter.AcquireN(ctx, source.ID, source.Name, source.RateLimitPerMinute, provider.RequestsPerFetch())
		if err != nil {
			if apperr.IsRateLimitTimeout(err) {
				return result, &apperr.SystemicCrawlFailure{Source: source.Name, Err: err}
			}
			return result, &apperr.SystemicCrawlFailure{Source: source.Name, Err: fmt.Errorf("rate limiter: %w", err)}
		}

		data, err := provider.FetchSeries(ctx, series.ExternalID)
		if err != nil {
			switch {
			case errors.Is(err, providers.ErrAuthFailed), errors.Is(err, providers.ErrQuotaExceeded):
				// Every remaining request would fail the same way.
				return result, &apperr.SystemicCrawlFailure{Source: source.Name, Err: err}
			case errors.Is(err, providers.ErrSeriesNotFound):
				outcome := s.deactivateSeries(source, series)
				result.record(outcome)
				metrics.SeriesSynced.WithLabelValues(source.Name, string(outcome.Disposition)).Inc()
				continue
			default:
				fetchErr := &apperr.FetchFailure{Source: source.Name, ExternalID: series.ExternalID, Err: err}
				logger.Error("SyncService: %v", fetchErr)
				result.record(SeriesOutcome{
					ExternalID:  series.ExternalID,
					Disposition: SyncFailed,
					Reason:      fetchErr.Error(),
				})
				metrics.SeriesSynced.WithLabelValues(source.Name, string(SyncFailed)).Inc()
				continue
			}
		}

		outcome, err := s.SyncSeries(ctx, source, series.ExternalID, data)
		if err != nil {
			logger.Error("SyncService: merging %s/%s failed: %v", source.Name, series.ExternalID, err)
			outcome = SeriesOutcome{
				ExternalID:  series.ExternalID,
				Disposition: SyncFailed,
				Reason:      err.Error(),
			}
		}
		result.record(outcome)
		metrics.SeriesSynced.WithLabelValues(source.Name, string(outcome.Disposition)).Inc()
		if outcome.Observations > 0 {
			metrics.ObservationsUpserted.WithLabelValues(source.Name).Add(float64(outcome.Observations))
		}
	}

	return result, nil
}

// SyncSeries merges one normalized provider payload into the store,
// creating the series row on first sight. The whole merge is a single
// transaction: either the series row and all its observation upserts land,
// or none do.
func (s *SyncService) SyncSeries(ctx context.Context, source *models.DataSource, externalID string, data *providers.SeriesData) (SeriesOutcome, error) {
	now := time.Now().UTC()

	var series models.EconomicSeries
	isNew := false
	err := s.DB.
		Where("source_id = ? AND external_id = ?", source.ID, externalID).
		First(&series).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return SeriesOutcome{}, fmt.Errorf("loading series %s/%s: %w", source.Name, externalID, err)
		}
		isNew = true
		series = models.EconomicSeries{
			SourceID:   source.ID,
			ExternalID: externalID,
			IsActive:   true,
		}
	}

	applySeriesMeta(&series, data.Meta)
	series.LastCrawledAt = &now

	remote := data.Meta.LastUpdated
	stored := series.LastUpdated

	// The watermark gate: merge values only when the provider says the
	// series moved, or when we have never merged it before.
	merge := len(data.Observations) > 0 &&
		(stored == nil || remote == nil || remote.After(*stored))

	// A registered stub that receives its first value merge counts as
	// created; only merges on top of existing data count as updated.
	firstSync := isNew || series.ObservationsSyncedAt == nil

	disposition := SyncSkipped
	reason := ""
	var rows []models.Observation
	switch {
	case merge && firstSync:
		disposition = SyncCreated
	case merge:
		disposition = SyncUpdated
	case isNew:
		disposition = SyncCreated
	default:
		if len(data.Observations) == 0 {
			reason = "provider returned no observations"
		} else {
			reason = "watermark unchanged since last sync"
		}
	}

	if merge {
		if remote != nil {
			series.LastUpdated = remote
		} else {
			latest := latestPointDate(data.Observations)
			series.LastUpdated = &latest
		}
		series.ObservationsSyncedAt = &now
	}

	err = withTransientRetry(fmt.Sprintf("sync %s/%s", source.Name, externalID), func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Save(&series).Error; err != nil {
				return fmt.Errorf("saving series: %w", err)
			}
			if !merge {
				return nil
			}
			rows = observationRows(series.ID, data.Observations)
			if len(rows) == 0 {
				return nil
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "series_id"}, {Name: "date"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"value", "is_original_release", "updated_at",
				}),
			}).CreateInBatches(rows, ObservationBatchSize).Error
			if err != nil {
				return fmt.Errorf("upserting observations: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return SeriesOutcome{}, err
	}

	return SeriesOutcome{
		ExternalID:   externalID,
		Disposition:  disposition,
		Observations: len(rows),
		Reason:       reason,
	}, nil
}

// deactivateSeries marks a series the provider no longer publishes. The
// stored history stays queryable; the crawler just stops asking for it.
func (s *SyncService) deactivateSeries(source *models.DataSource, series *models.EconomicSeries) SeriesOutcome {
	err := s.DB.Model(series).Updates(map[string]interface{}{
		"is_active":  false,
		"updated_at": time.Now().UTC(),
	}).Error
	if err != nil {
		logger.Error("SyncService: deactivating %s/%s failed: %v", source.Name, series.ExternalID, err)
		return SeriesOutcome{
			ExternalID:  series.ExternalID,
			Disposition: SyncFailed,
			Reason:      fmt.Sprintf("series gone upstream but deactivation failed: %v", err),
		}
	}
	logger.Info("SyncService: %s/%s no longer published upstream, deactivated", source.Name, series.ExternalID)
	return SeriesOutcome{
		ExternalID:  series.ExternalID,
		Disposition: SyncSkipped,
		Reason:      "provider no longer publishes this series; deactivated",
	}
}

// applySeriesMeta refreshes descriptive fields from the provider payload.
// Empty provider fields never blank out locally stored values, and the
// local analysis linkage (country, indicator category) is never touched.
func applySeriesMeta(series *models.EconomicSeries, meta providers.SeriesMeta) {
	if meta.Title != "" {
		series.Title = meta.Title
	}
	if meta.Description != "" {
		series.Description = meta.Description
	}
	if meta.Units != "" {
		series.Units = meta.Units
	}
	if meta.Frequency != "" {
		series.Frequency = meta.Frequency
	}
	if meta.SeasonalAdjustment != "" {
		series.SeasonalAdjustment = meta.SeasonalAdjustment
	}
	if meta.StartDate != nil {
		series.StartDate = meta.StartDate
	}
	if meta.EndDate != nil {
		series.EndDate = meta.EndDate
	}
}

// observationRows converts normalized points into rows for the upsert,
// deduplicating by date (last point wins) so a single batch never carries
// two assignments for the same conflict target.
func observationRows(seriesID uuid.UUID, points []providers.Point) []models.Observation {
	byDate := make(map[time.Time]providers.Point, len(points))
	for _, p := range points {
		byDate[normalizeObservationDate(p.Date)] = p
	}
	rows := make([]models.Observation, 0, len(byDate))
	for date, p := range byDate {
		rows = append(rows, models.Observation{
			SeriesID:          seriesID,
			Date:              date,
			Value:             p.Value,
			IsOriginalRelease: p.IsOriginalRelease,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows
}

// normalizeObservationDate pins a date to UTC midnight so the same
// calendar day always hits the same (series_id, date) conflict target.
func normalizeObservationDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func latestPointDate(points []providers.Point) time.Time {
	latest := points[0].Date
	for _, p := range points[1:] {
		if p.Date.After(latest) {
			latest = p.Date
		}
	}
	return normalizeObservationDate(latest)
}

// withTransientRetry retries a database operation on PostgreSQL deadlock
// (40P01) and serialization (40001) failures with jittered backoff. Any
// other error is returned as-is.
func withTransientRetry(op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxTxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "40P01" || pgErr.Code == "40001") {
			logger.Info("SyncService: %s hit transient error (%s), attempt %d/%d", op, pgErr.Code, attempt, maxTxRetries)
			time.Sleep(time.Duration(attempt*100+rand.Intn(100)) * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, err)
}
