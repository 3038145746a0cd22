/**
 * @description
 * TradeRelationship database model.
 * Edges are directed exporter -> importer; a mutual dependency is stored as
 * two explicit reciprocal edges. Intensity is the normalized weight in
 * [0, 1] used by event-impact propagation; the raw USD values are kept as
 * exact decimals for reporting.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/google/uuid
 * - github.com/shopspring/decimal
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradeRelationship represents one directed trade edge for one year
type TradeRelationship struct {
	ID uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`

	ExporterCode string `gorm:"column:exporter_code;not null;uniqueIndex:idx_trade_edge_year" json:"exporter_code"`
	ImporterCode string `gorm:"column:importer_code;not null;uniqueIndex:idx_trade_edge_year" json:"importer_code"`
	Year         int    `gorm:"column:year;not null;uniqueIndex:idx_trade_edge_year" json:"year"`

	RelationshipType string `gorm:"column:relationship_type;default:bilateral" json:"relationship_type"`

	ExportValueUSD  decimal.Decimal `gorm:"column:export_value_usd;type:numeric" json:"export_value_usd"`
	ImportValueUSD  decimal.Decimal `gorm:"column:import_value_usd;type:numeric" json:"import_value_usd"`
	TradeBalanceUSD decimal.Decimal `gorm:"column:trade_balance_usd;type:numeric" json:"trade_balance_usd"`

	Intensity float64 `gorm:"column:intensity;not null" json:"intensity"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by TradeRelationship to `trade_relationships`
func (TradeRelationship) TableName() string {
	return "trade_relationships"
}

// BeforeCreate ensures UUID is generated if not present
func (t *TradeRelationship) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return
}
