/**
 * @description
 * GlobalEconomicEvent and EventCountryImpact database models.
 * Events are created once; impacts form an append-only audit chain: a
 * revision inserts a fresh row and flips the previous one to
 * IsCurrent=false with SupersededAt set, so no assertion is ever silently
 * overwritten. Derived (propagated) impacts are distinguishable from
 * asserted ones via ImpactType.
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

// ImpactType distinguishes operator-asserted impacts from propagated ones
type ImpactType string

const (
	ImpactAsserted ImpactType = "asserted"
	ImpactDerived  ImpactType = "derived"
)

// GlobalEconomicEvent represents one discrete global economic event
type GlobalEconomicEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Description string    `gorm:"column:description" json:"description"`
	Category    string    `gorm:"column:category;index" json:"category"`

	EventDate time.Time  `gorm:"column:event_date;not null;index" json:"event_date"`
	EndDate   *time.Time `gorm:"column:end_date" json:"end_date"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by GlobalEconomicEvent to `global_economic_events`
func (GlobalEconomicEvent) TableName() string {
	return "global_economic_events"
}

// BeforeCreate ensures UUID is generated if not present
func (e *GlobalEconomicEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return
}

// EventCountryImpact represents one (event, country) impact assertion or
// derivation. Magnitude keeps its sign: negative values are contractions.
type EventCountryImpact struct {
	ID      uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	EventID uuid.UUID `gorm:"column:event_id;type:uuid;not null;index:idx_impact_event_country" json:"event_id"`

	CountryCode string     `gorm:"column:country_code;not null;index:idx_impact_event_country" json:"country_code"`
	ImpactType  ImpactType `gorm:"column:impact_type;not null;default:asserted" json:"impact_type"`

	Magnitude  float64 `gorm:"column:magnitude;not null" json:"magnitude"`
	Confidence float64 `gorm:"column:confidence;default:1" json:"confidence"`

	// For derived impacts: the asserted impact's country this one was
	// propagated from, and the trade weight applied.
	DerivedFromCode *string  `gorm:"column:derived_from_code" json:"derived_from_code"`
	TradeWeight     *float64 `gorm:"column:trade_weight" json:"trade_weight"`

	IsCurrent    bool       `gorm:"column:is_current;default:true;index" json:"is_current"`
	SupersededAt *time.Time `gorm:"column:superseded_at" json:"superseded_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by EventCountryImpact to `event_country_impacts`
func (EventCountryImpact) TableName() string {
	return "event_country_impacts"
}

// BeforeCreate ensures UUID is generated if not present
func (i *EventCountryImpact) BeforeCreate(tx *gorm.DB) (err error) {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return
}
