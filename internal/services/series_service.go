/**
 * @description
 * Series catalog reads.
 * Serves series listings (with source/country/category/freshness filters),
 * single-series detail and observation ranges to the API layer. The
 * unfiltered active listing is the hot path for dashboards and is served
 * through a short-TTL Redis cache.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 * - gorm.io/gorm
 */

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/macronet-project/backend/internal/apperr"
	"github.com/macronet-project/backend/internal/logger"
	"github.com/macronet-project/backend/internal/models"
)

const (
	// CacheKeySeriesList caches the default active-series listing.
	CacheKeySeriesList = "catalog:series:active"
	seriesCacheTTL     = 5 * time.Minute

	defaultSeriesLimit      = 200
	defaultObservationLimit = 10000
)

// SeriesService serves catalog and observation reads.
type SeriesService struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewSeriesService creates a new SeriesService.
func NewSeriesService(db *gorm.DB, rdb *redis.Client) *SeriesService {
	return &SeriesService{DB: db, Redis: rdb}
}

// QuerySeriesParams filters ListSeries.
type QuerySeriesParams struct {
	Source          string // source name
	Country         string
	Category        string
	UpdatedSince    *time.Time // provider watermark moved after this instant
	IncludeInactive bool
	Limit           int
	Offset          int
}

func (p QuerySeriesParams) isDefault() bool {
	return p.Source == "" && p.Country == "" && p.Category == "" &&
		p.UpdatedSince == nil && !p.IncludeInactive &&
		(p.Limit == 0 || p.Limit == defaultSeriesLimit) && p.Offset == 0
}

// ListSeries lists catalog entries ordered by source then external id.
func (s *SeriesService) ListSeries(ctx context.Context, params QuerySeriesParams) ([]models.EconomicSeries, error) {
	if params.Limit <= 0 {
		params.Limit = defaultSeriesLimit
	}

	if params.isDefault() && s.Redis != nil {
		cached, err := s.Redis.Get(ctx, CacheKeySeriesList).Result()
		if err == nil && cached != "" {
			var out []models.EconomicSeries
			if jsonErr := json.Unmarshal([]byte(cached), &out); jsonErr == nil {
				return out, nil
			}
		}
	}

	query := s.DB.WithContext(ctx).Model(&models.EconomicSeries{})
	if params.Source != "" {
		var source models.DataSource
		err := s.DB.WithContext(ctx).Where("name = ?", params.Source).First(&source).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("source", params.Source)
			}
			return nil, fmt.Errorf("resolving source %s: %w", params.Source, err)
		}
		query = query.Where("source_id = ?", source.ID)
	}
	if params.Country != "" {
		query = query.Where("country_code = ?", params.Country)
	}
	if params.Category != "" {
		query = query.Where("indicator_category = ?", params.Category)
	}
	if params.UpdatedSince != nil {
		query = query.Where("last_updated > ?", *params.UpdatedSince)
	}
	if !params.IncludeInactive {
		query = query.Where("is_active = ?", true)
	}

	var series []models.EconomicSeries
	err := query.
		Order("external_id asc").
		Limit(params.Limit).
		Offset(params.Offset).
		Find(&series).Error
	if err != nil {
		return nil, fmt.Errorf("listing series: %w", err)
	}

	if params.isDefault() && s.Redis != nil {
		if raw, err := json.Marshal(series); err == nil {
			if err := s.Redis.Set(ctx, CacheKeySeriesList, raw, seriesCacheTTL).Err(); err != nil {
				logger.Error("SeriesService: caching series list failed: %v", err)
			}
		}
	}
	return series, nil
}

// GetSeries fetches one series by id.
func (s *SeriesService) GetSeries(ctx context.Context, id uuid.UUID) (*models.EconomicSeries, error) {
	var series models.EconomicSeries
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&series).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("series", id.String())
		}
		return nil, fmt.Errorf("loading series %s: %w", id, err)
	}
	return &series, nil
}

// GetSeriesByKey fetches one series by its natural (source, external id) key.
func (s *SeriesService) GetSeriesByKey(ctx context.Context, sourceName, externalID string) (*models.EconomicSeries, error) {
	var source models.DataSource
	err := s.DB.WithContext(ctx).Where("name = ?", sourceName).First(&source).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("source", sourceName)
		}
		return nil, fmt.Errorf("resolving source %s: %w", sourceName, err)
	}
	var series models.EconomicSeries
	err = s.DB.WithContext(ctx).
		Where("source_id = ? AND external_id = ?", source.ID, externalID).
		First(&series).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("series", externalID)
		}
		return nil, fmt.Errorf("loading series %s/%s: %w", sourceName, externalID, err)
	}
	return &series, nil
}

// QueryObservationsParams filters ListObservations.
type QueryObservationsParams struct {
	From         *time.Time
	To           *time.Time
	OriginalOnly bool // only first-release values
	Limit        int
}

// ListObservations returns a series' values in date order. Null values are
// included: a suppressed figure is information, not absence.
func (s *SeriesService) ListObservations(ctx context.Context, seriesID uuid.UUID, params QueryObservationsParams) ([]models.Observation, error) {
	if _, err := s.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		params.Limit = defaultObservationLimit
	}

	query := s.DB.WithContext(ctx).Where("series_id = ?", seriesID)
	if params.From != nil {
		query = query.Where("date >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("date <= ?", *params.To)
	}
	if params.OriginalOnly {
		query = query.Where("is_original_release = ?", true)
	}

	var obs []models.Observation
	err := query.
		Order("date asc").
		Limit(params.Limit).
		Find(&obs).Error
	if err != nil {
		return nil, fmt.Errorf("listing observations: %w", err)
	}
	return obs, nil
}
