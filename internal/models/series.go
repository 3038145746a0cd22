/**
 * @description
 * EconomicSeries and Observation database models.
 * A series is identified by (source_id, external_id); external ids are
 * provider-scoped, never global. Observations are identified by
 * (series_id, date); provider restatements overwrite the value for a date
 * in place rather than appending duplicates.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/google/uuid
 * - github.com/shopspring/decimal: exact observation values
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EconomicSeries represents one time series as published by a provider
type EconomicSeries struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	SourceID   uuid.UUID `gorm:"column:source_id;type:uuid;not null;uniqueIndex:idx_series_source_external" json:"source_id"`
	ExternalID string    `gorm:"column:external_id;not null;uniqueIndex:idx_series_source_external" json:"external_id"`

	Title              string `gorm:"column:title;not null" json:"title"`
	Description        string `gorm:"column:description" json:"description"`
	Units              string `gorm:"column:units" json:"units"`
	Frequency          string `gorm:"column:frequency" json:"frequency"`
	SeasonalAdjustment string `gorm:"column:seasonal_adjustment" json:"seasonal_adjustment"`

	// Optional linkage into the country/indicator graph. Series without both
	// fields set are synchronized but ignored by the network analysis engine.
	CountryCode       *string `gorm:"column:country_code;index" json:"country_code"`
	IndicatorCategory *string `gorm:"column:indicator_category;index" json:"indicator_category"`

	StartDate *time.Time `gorm:"column:start_date" json:"start_date"`
	EndDate   *time.Time `gorm:"column:end_date" json:"end_date"`

	// LastUpdated is the provider-asserted freshness watermark. It is compared
	// against incoming payloads to short-circuit idempotent re-crawls and is
	// distinct from ObservationsSyncedAt, the local time of the last value merge.
	LastUpdated          *time.Time `gorm:"column:last_updated;index" json:"last_updated"`
	ObservationsSyncedAt *time.Time `gorm:"column:observations_synced_at" json:"observations_synced_at"`

	IsActive      bool       `gorm:"column:is_active;default:true" json:"is_active"`
	LastCrawledAt *time.Time `gorm:"column:last_crawled_at" json:"last_crawled_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by EconomicSeries to `economic_series`
func (EconomicSeries) TableName() string {
	return "economic_series"
}

// BeforeCreate ensures UUID is generated if not present
func (s *EconomicSeries) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return
}

// Observation represents one dated value of a series.
// Value is nullable: providers publish placeholder rows for dates where the
// figure is suppressed or not yet available.
type Observation struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	SeriesID uuid.UUID `gorm:"column:series_id;type:uuid;not null;uniqueIndex:idx_obs_series_date" json:"series_id"`
	Date     time.Time `gorm:"column:date;not null;uniqueIndex:idx_obs_series_date" json:"date"`

	Value             decimal.NullDecimal `gorm:"column:value;type:numeric" json:"value"`
	IsOriginalRelease bool                `gorm:"column:is_original_release;default:true" json:"is_original_release"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by Observation to `observations`
func (Observation) TableName() string {
	return "observations"
}

// BeforeCreate ensures UUID is generated if not present
func (o *Observation) BeforeCreate(tx *gorm.DB) (err error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return
}
