/**
 * @description
 * Country reference model.
 * Referenced by correlations, trade relationships and event impacts via the
 * ISO alpha-3 code rather than the row id, so derived tables stay readable
 * and the canonical pair ordering used by the analysis engine is stable.
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

// Country represents one country in the economic network
type Country struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	ISOCode  string    `gorm:"column:iso_code;uniqueIndex;not null" json:"iso_code"` // alpha-3
	ISOCode2 string    `gorm:"column:iso_code_2" json:"iso_code_2"`
	Name     string    `gorm:"column:name;not null" json:"name"`

	Region       string  `gorm:"column:region" json:"region"`
	SubRegion    string  `gorm:"column:sub_region" json:"sub_region"`
	IncomeGroup  string  `gorm:"column:income_group" json:"income_group"`
	CurrencyCode string  `gorm:"column:currency_code" json:"currency_code"`
	Latitude     *float64 `gorm:"column:latitude" json:"latitude"`
	Longitude    *float64 `gorm:"column:longitude" json:"longitude"`

	IsActive bool `gorm:"column:is_active;default:true" json:"is_active"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by Country to `countries`
func (Country) TableName() string {
	return "countries"
}

// BeforeCreate ensures UUID is generated if not present
func (c *Country) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return
}
