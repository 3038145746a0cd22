/**
 * @description
 * Source registry service.
 * Manages the catalog of external data sources, the series registered under
 * them, and the country reference table. Registration is an upsert keyed by
 * the source name, but the conflict action only touches configuration
 * columns: re-applying a seed file or re-registering a source never clobbers
 * the crawl lease or the last-crawl bookkeeping owned by the scheduler.
 *
 * @dependencies
 * - gorm.io/gorm + clause: name-keyed upserts
 * - internal/apperr: validation and not-found errors
 * - internal/ratelimit: bucket teardown on source deletion
 */

package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/macronet-project/backend/internal/apperr"
	"github.com/macronet-project/backend/internal/logger"
	"github.com/macronet-project/backend/internal/models"
	"github.com/macronet-project/backend/internal/ratelimit"
)

// RegistryService manages data sources, series registrations and countries.
type RegistryService struct {
	DB      *gorm.DB
	Limiter *ratelimit.Pool
}

// NewRegistryService creates a new RegistryService.
func NewRegistryService(db *gorm.DB, limiter *ratelimit.Pool) *RegistryService {
	return &RegistryService{DB: db, Limiter: limiter}
}

// SourceInput is the operator-supplied configuration for a data source.
type SourceInput struct {
	Name                  string `json:"name"`
	Description           string `json:"description"`
	BaseURL               string `json:"base_url"`
	APIKeyRequired        bool   `json:"api_key_required"`
	RateLimitPerMinute    int    `json:"rate_limit_per_minute"`
	CrawlFrequencyHours   int    `json:"crawl_frequency_hours"`
	IsEnabled             *bool  `json:"is_enabled"`
	IsVisible             *bool  `json:"is_visible"`
	RequiresAdminApproval *bool  `json:"requires_admin_approval"`
}

func (in *SourceInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Validation("name", "must not be empty")
	}
	if strings.TrimSpace(in.BaseURL) == "" {
		return apperr.Validation("base_url", "must not be empty")
	}
	if u, err := url.Parse(in.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return apperr.Validation("base_url", "must be an absolute URL")
	}
	if in.RateLimitPerMinute <= 0 {
		return apperr.Validation("rate_limit_per_minute", "must be positive")
	}
	if in.CrawlFrequencyHours <= 0 {
		return apperr.Validation("crawl_frequency_hours", "must be positive")
	}
	return nil
}

// RegisterSource creates or reconfigures a source by name. Existing rows
// keep their crawl lease and history; only configuration columns change.
func (s *RegistryService) RegisterSource(ctx context.Context, in SourceInput) (*models.DataSource, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	enabled := true
	if in.IsEnabled != nil {
		enabled = *in.IsEnabled
	}
	visible := true
	if in.IsVisible != nil {
		visible = *in.IsVisible
	}
	approval := false
	if in.RequiresAdminApproval != nil {
		approval = *in.RequiresAdminApproval
	}

	source := models.DataSource{
		Name:                  strings.TrimSpace(in.Name),
		Description:           in.Description,
		BaseURL:               strings.TrimRight(in.BaseURL, "/"),
		APIKeyRequired:        in.APIKeyRequired,
		RateLimitPerMinute:    in.RateLimitPerMinute,
		CrawlFrequencyHours:   in.CrawlFrequencyHours,
		IsEnabled:             enabled,
		IsVisible:             visible,
		RequiresAdminApproval: approval,
		CrawlStatus:           models.CrawlStateIdle,
	}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"description", "base_url", "api_key_required",
			"rate_limit_per_minute", "crawl_frequency_hours",
			"is_enabled", "is_visible", "requires_admin_approval",
			"updated_at",
		}),
	}).Create(&source).Error
	if err != nil {
		return nil, fmt.Errorf("registering source %s: %w", in.Name, err)
	}

	// Re-read: on conflict the insert's generated id is not the stored row's.
	stored, err := s.GetSource(ctx, source.Name)
	if err != nil {
		return nil, err
	}
	logger.Info("RegistryService: source %s registered (rate %d/min, every %dh)",
		stored.Name, stored.RateLimitPerMinute, stored.CrawlFrequencyHours)
	return stored, nil
}

// GetSource fetches one source by its unique name.
func (s *RegistryService) GetSource(ctx context.Context, name string) (*models.DataSource, error) {
	var source models.DataSource
	err := s.DB.WithContext(ctx).Where("name = ?", name).First(&source).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("source", name)
		}
		return nil, fmt.Errorf("loading source %s: %w", name, err)
	}
	return &source, nil
}

// QuerySourcesParams filters ListSources.
type QuerySourcesParams struct {
	IncludeDisabled bool
	IncludeHidden   bool
}

// ListSources returns the source catalog ordered by name.
func (s *RegistryService) ListSources(ctx context.Context, params QuerySourcesParams) ([]models.DataSource, error) {
	query := s.DB.WithContext(ctx).Model(&models.DataSource{})
	if !params.IncludeDisabled {
		query = query.Where("is_enabled = ?", true)
	}
	if !params.IncludeHidden {
		query = query.Where("is_visible = ?", true)
	}
	var sources []models.DataSource
	if err := query.Order("name asc").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	return sources, nil
}

// SourceUpdate is a partial patch; nil fields are left unchanged.
type SourceUpdate struct {
	Description           *string `json:"description"`
	BaseURL               *string `json:"base_url"`
	APIKeyRequired        *bool   `json:"api_key_required"`
	RateLimitPerMinute    *int    `json:"rate_limit_per_minute"`
	CrawlFrequencyHours   *int    `json:"crawl_frequency_hours"`
	IsEnabled             *bool   `json:"is_enabled"`
	IsVisible             *bool   `json:"is_visible"`
	RequiresAdminApproval *bool   `json:"requires_admin_approval"`
}

// UpdateSource applies a partial configuration patch to a source. Rate limit
// changes take effect on the crawler's next token acquisition.
func (s *RegistryService) UpdateSource(ctx context.Context, name string, patch SourceUpdate) (*models.DataSource, error) {
	source, err := s.GetSource(ctx, name)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.BaseURL != nil {
		if u, err := url.Parse(*patch.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, apperr.Validation("base_url", "must be an absolute URL")
		}
		updates["base_url"] = strings.TrimRight(*patch.BaseURL, "/")
	}
	if patch.APIKeyRequired != nil {
		updates["api_key_required"] = *patch.APIKeyRequired
	}
	if patch.RateLimitPerMinute != nil {
		if *patch.RateLimitPerMinute <= 0 {
			return nil, apperr.Validation("rate_limit_per_minute", "must be positive")
		}
		updates["rate_limit_per_minute"] = *patch.RateLimitPerMinute
	}
	if patch.CrawlFrequencyHours != nil {
		if *patch.CrawlFrequencyHours <= 0 {
			return nil, apperr.Validation("crawl_frequency_hours", "must be positive")
		}
		updates["crawl_frequency_hours"] = *patch.CrawlFrequencyHours
	}
	if patch.IsEnabled != nil {
		updates["is_enabled"] = *patch.IsEnabled
	}
	if patch.IsVisible != nil {
		updates["is_visible"] = *patch.IsVisible
	}
	if patch.RequiresAdminApproval != nil {
		updates["requires_admin_approval"] = *patch.RequiresAdminApproval
	}
	if len(updates) == 0 {
		return source, nil
	}
	updates["updated_at"] = time.Now().UTC()

	if err := s.DB.WithContext(ctx).Model(source).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("updating source %s: %w", name, err)
	}
	return s.GetSource(ctx, name)
}

// SetSourceEnabled flips scheduling for a source. Disabling does not cancel
// an in-flight crawl; it only stops future scheduling.
func (s *RegistryService) SetSourceEnabled(ctx context.Context, name string, enabled bool) (*models.DataSource, error) {
	return s.UpdateSource(ctx, name, SourceUpdate{IsEnabled: &enabled})
}

// DeleteSource removes a source and everything hanging off it: series,
// observations and crawl attempts. Intended for decommissioning, not for
// temporarily stopping crawls (use SetSourceEnabled for that).
func (s *RegistryService) DeleteSource(ctx context.Context, name string) error {
	source, err := s.GetSource(ctx, name)
	if err != nil {
		return err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seriesIDs := tx.Model(&models.EconomicSeries{}).
			Select("id").
			Where("source_id = ?", source.ID)
		if err := tx.Where("series_id IN (?)", seriesIDs).Delete(&models.Observation{}).Error; err != nil {
			return fmt.Errorf("deleting observations: %w", err)
		}
		if err := tx.Where("source_id = ?", source.ID).Delete(&models.EconomicSeries{}).Error; err != nil {
			return fmt.Errorf("deleting series: %w", err)
		}
		if err := tx.Where("source_id = ?", source.ID).Delete(&models.CrawlAttempt{}).Error; err != nil {
			return fmt.Errorf("deleting crawl attempts: %w", err)
		}
		if err := tx.Delete(source).Error; err != nil {
			return fmt.Errorf("deleting source: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.Limiter != nil {
		s.Limiter.Remove(source.ID)
	}
	logger.Info("RegistryService: source %s deleted", name)
	return nil
}

// SeriesInput registers one series under a source. CountryCode and
// IndicatorCategory are optional: without both, the series is synchronized
// but stays out of the analysis graph.
type SeriesInput struct {
	ExternalID        string  `json:"external_id"`
	CountryCode       *string `json:"country_code"`
	IndicatorCategory *string `json:"indicator_category"`
}

func (in *SeriesInput) validate() error {
	if strings.TrimSpace(in.ExternalID) == "" {
		return apperr.Validation("external_id", "must not be empty")
	}
	if in.CountryCode != nil && len(*in.CountryCode) != 3 {
		return apperr.Validation("country_code", "must be an ISO alpha-3 code")
	}
	return nil
}

// RegisterSeries creates or relinks a series stub under a source. The title
// defaults to the external id until the first crawl fills in provider
// metadata. Re-registration reactivates a previously deactivated series.
func (s *RegistryService) RegisterSeries(ctx context.Context, sourceName string, in SeriesInput) (*models.EconomicSeries, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	source, err := s.GetSource(ctx, sourceName)
	if err != nil {
		return nil, err
	}

	externalID := strings.TrimSpace(in.ExternalID)
	var country *string
	if in.CountryCode != nil {
		c := strings.ToUpper(*in.CountryCode)
		country = &c
	}

	series := models.EconomicSeries{
		SourceID:          source.ID,
		ExternalID:        externalID,
		Title:             externalID,
		CountryCode:       country,
		IndicatorCategory: in.IndicatorCategory,
		IsActive:          true,
	}
	err = s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"country_code", "indicator_category", "is_active", "updated_at",
		}),
	}).Create(&series).Error
	if err != nil {
		return nil, fmt.Errorf("registering series %s/%s: %w", sourceName, externalID, err)
	}

	var stored models.EconomicSeries
	err = s.DB.WithContext(ctx).
		Where("source_id = ? AND external_id = ?", source.ID, externalID).
		First(&stored).Error
	if err != nil {
		return nil, fmt.Errorf("reloading series %s/%s: %w", sourceName, externalID, err)
	}
	return &stored, nil
}

// SetSeriesActive toggles whether the crawler asks the provider for a series.
func (s *RegistryService) SetSeriesActive(ctx context.Context, sourceName, externalID string, active bool) error {
	source, err := s.GetSource(ctx, sourceName)
	if err != nil {
		return err
	}
	res := s.DB.WithContext(ctx).Model(&models.EconomicSeries{}).
		Where("source_id = ? AND external_id = ?", source.ID, externalID).
		Updates(map[string]interface{}{"is_active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("toggling series %s/%s: %w", sourceName, externalID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("series", externalID)
	}
	return nil
}

// UpsertCountry creates or refreshes one country reference row by ISO code.
func (s *RegistryService) UpsertCountry(ctx context.Context, country models.Country) (*models.Country, error) {
	country.ISOCode = strings.ToUpper(strings.TrimSpace(country.ISOCode))
	if len(country.ISOCode) != 3 {
		return nil, apperr.Validation("iso_code", "must be an ISO alpha-3 code")
	}
	if strings.TrimSpace(country.Name) == "" {
		return nil, apperr.Validation("name", "must not be empty")
	}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "iso_code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"iso_code_2", "name", "region", "sub_region", "income_group",
			"currency_code", "latitude", "longitude", "is_active", "updated_at",
		}),
	}).Create(&country).Error
	if err != nil {
		return nil, fmt.Errorf("upserting country %s: %w", country.ISOCode, err)
	}

	var stored models.Country
	if err := s.DB.WithContext(ctx).Where("iso_code = ?", country.ISOCode).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("reloading country %s: %w", country.ISOCode, err)
	}
	return &stored, nil
}

// ListCrawlAttempts returns a source's crawl history, newest first.
func (s *RegistryService) ListCrawlAttempts(ctx context.Context, sourceName string, limit int) ([]models.CrawlAttempt, error) {
	source, err := s.GetSource(ctx, sourceName)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	var attempts []models.CrawlAttempt
	err = s.DB.WithContext(ctx).
		Where("source_id = ?", source.ID).
		Order("started_at desc").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("listing crawl attempts: %w", err)
	}
	return attempts, nil
}

// ListCountries returns active countries ordered by ISO code.
func (s *RegistryService) ListCountries(ctx context.Context) ([]models.Country, error) {
	var countries []models.Country
	err := s.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("iso_code asc").
		Find(&countries).Error
	if err != nil {
		return nil, fmt.Errorf("listing countries: %w", err)
	}
	return countries, nil
}
