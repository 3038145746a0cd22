/**
 * @description
 * Derived network-analysis models: CountryCorrelation and LeadingIndicator.
 * Both are written exclusively by the analysis engine. Correlations are
 * keyed by the canonically ordered country pair plus the indicator category
 * and the exact window they were computed over, so results computed under
 * different windows coexist as distinct facts. Leading indicators keep
 * superseded rows for auditability instead of updating in place.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/google/uuid
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CountryCorrelation stores one Pearson correlation fact between two
// country-indicator series over a specific window. CountryACode always sorts
// before CountryBCode; callers must order pairs via CanonicalPair.
type CountryCorrelation struct {
	ID uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`

	CountryACode      string `gorm:"column:country_a_code;not null;uniqueIndex:idx_corr_pair_window" json:"country_a_code"`
	CountryBCode      string `gorm:"column:country_b_code;not null;uniqueIndex:idx_corr_pair_window" json:"country_b_code"`
	IndicatorCategory string `gorm:"column:indicator_category;not null;uniqueIndex:idx_corr_pair_window" json:"indicator_category"`

	WindowStart time.Time `gorm:"column:window_start;not null;uniqueIndex:idx_corr_pair_window" json:"window_start"`
	WindowEnd   time.Time `gorm:"column:window_end;not null;uniqueIndex:idx_corr_pair_window" json:"window_end"`

	CorrelationCoefficient float64 `gorm:"column:correlation_coefficient;not null" json:"correlation_coefficient"`
	SampleSize             int     `gorm:"column:sample_size;not null" json:"sample_size"`

	SeriesAID uuid.UUID `gorm:"column:series_a_id;type:uuid" json:"series_a_id"`
	SeriesBID uuid.UUID `gorm:"column:series_b_id;type:uuid" json:"series_b_id"`

	RecomputedAt time.Time `gorm:"column:recomputed_at;not null" json:"recomputed_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by CountryCorrelation to `country_correlations`
func (CountryCorrelation) TableName() string {
	return "country_correlations"
}

// BeforeCreate ensures UUID is generated if not present
func (c *CountryCorrelation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return
}

// CanonicalPair orders two country codes so that (A,B) and (B,A) identify
// the same correlation row.
func CanonicalPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// LeadingIndicator records "the leading series' movement at LagPeriods
// predicts the following series' movement". Superseded candidates stay in
// the table with IsCurrent=false so the history of detections is auditable.
type LeadingIndicator struct {
	ID uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`

	LeadingSeriesID   uuid.UUID `gorm:"column:leading_series_id;type:uuid;not null;index:idx_leading_pair" json:"leading_series_id"`
	FollowingSeriesID uuid.UUID `gorm:"column:following_series_id;type:uuid;not null;index:idx_leading_pair" json:"following_series_id"`

	LeadingCountryCode   string `gorm:"column:leading_country_code" json:"leading_country_code"`
	FollowingCountryCode string `gorm:"column:following_country_code" json:"following_country_code"`
	IndicatorCategory    string `gorm:"column:indicator_category" json:"indicator_category"`

	LagPeriods int     `gorm:"column:lag_periods;not null" json:"lag_periods"`
	Strength   float64 `gorm:"column:strength;not null" json:"strength"` // signed coefficient; compared by absolute value
	SampleSize int     `gorm:"column:sample_size" json:"sample_size"`

	IsCurrent    bool       `gorm:"column:is_current;default:true;index" json:"is_current"`
	SupersededAt *time.Time `gorm:"column:superseded_at" json:"superseded_at"`
	ComputedAt   time.Time  `gorm:"column:computed_at;not null" json:"computed_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by LeadingIndicator to `leading_indicators`
func (LeadingIndicator) TableName() string {
	return "leading_indicators"
}

// BeforeCreate ensures UUID is generated if not present
func (l *LeadingIndicator) BeforeCreate(tx *gorm.DB) (err error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return
}
