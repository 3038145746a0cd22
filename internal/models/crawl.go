/**
 * @description
 * CrawlAttempt database model.
 * One row per crawl of one source: the durable outcome record behind the
 * "partial progress is always observable" requirement. Counts are
 * per-series dispositions, so a crawl that synced two series and failed one
 * is visible as exactly that, not as a single pass/fail bit.
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

// CrawlAttemptStatus is the lifecycle state of one crawl attempt
type CrawlAttemptStatus string

const (
	CrawlAttemptRunning   CrawlAttemptStatus = "running"
	CrawlAttemptCompleted CrawlAttemptStatus = "completed"
	CrawlAttemptFailed    CrawlAttemptStatus = "failed"
)

// CrawlAttempt is the audit record for one crawl of one source
type CrawlAttempt struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	SourceID   uuid.UUID `gorm:"column:source_id;type:uuid;not null;index" json:"source_id"`
	SourceName string    `gorm:"column:source_name;not null" json:"source_name"`

	Status CrawlAttemptStatus `gorm:"column:status;not null;default:running" json:"status"`

	SeriesCreated int `gorm:"column:series_created;default:0" json:"series_created"`
	SeriesUpdated int `gorm:"column:series_updated;default:0" json:"series_updated"`
	SeriesSkipped int `gorm:"column:series_skipped;default:0" json:"series_skipped"`
	SeriesFailed  int `gorm:"column:series_failed;default:0" json:"series_failed"`

	ObservationsUpserted int `gorm:"column:observations_upserted;default:0" json:"observations_upserted"`

	ErrorMessage *string `gorm:"column:error_message" json:"error_message"`

	StartedAt   time.Time  `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName overrides the table name used by CrawlAttempt to `crawl_attempts`
func (CrawlAttempt) TableName() string {
	return "crawl_attempts"
}

// BeforeCreate ensures UUID is generated if not present
func (a *CrawlAttempt) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return
}
