/**
 * @description
 * DataSource database model.
 * Maps to the 'data_sources' table in PostgreSQL. One row per external
 * statistical provider (FRED, BLS, Census, World Bank, ...), carrying its
 * rate limit, crawl cadence and the persisted crawl lease used for
 * cross-process mutual exclusion.
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

// CrawlState is the scheduler-visible state of a source
type CrawlState string

const (
	CrawlStateIdle     CrawlState = "idle"
	CrawlStateCrawling CrawlState = "crawling"
)

// DataSource represents one external data provider configuration
type DataSource struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Name        string    `gorm:"column:name;uniqueIndex;not null" json:"name"`
	Description string    `gorm:"column:description" json:"description"`
	BaseURL     string    `gorm:"column:base_url;not null" json:"base_url"`

	APIKeyRequired      bool `gorm:"column:api_key_required;default:false" json:"api_key_required"`
	RateLimitPerMinute  int  `gorm:"column:rate_limit_per_minute;not null" json:"rate_limit_per_minute"`
	CrawlFrequencyHours int  `gorm:"column:crawl_frequency_hours;not null" json:"crawl_frequency_hours"`

	IsEnabled             bool `gorm:"column:is_enabled;default:true" json:"is_enabled"`
	IsVisible             bool `gorm:"column:is_visible;default:true" json:"is_visible"`
	RequiresAdminApproval bool `gorm:"column:requires_admin_approval;default:false" json:"requires_admin_approval"`

	// Crawl lease. CrawlStartedAt is set when a worker wins the idle->crawling
	// transition and doubles as the staleness marker for crash recovery.
	CrawlStatus       CrawlState `gorm:"column:crawl_status;default:idle" json:"crawl_status"`
	CrawlStartedAt    *time.Time `gorm:"column:crawl_started_at" json:"crawl_started_at"`
	LastCrawlAt       *time.Time `gorm:"column:last_crawl_at" json:"last_crawl_at"`
	CrawlErrorMessage *string    `gorm:"column:crawl_error_message" json:"crawl_error_message"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by DataSource to `data_sources`
func (DataSource) TableName() string {
	return "data_sources"
}

// BeforeCreate ensures UUID is generated if not present
func (s *DataSource) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return
}
