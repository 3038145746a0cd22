/**
 * @description
 * Global economic event service.
 * Events carry operator-asserted country impacts; the service propagates
 * attenuated secondary impacts to trade partners through the trade graph
 * (secondary = primary x trade weight x decay factor). Impact rows form an
 * append-only audit chain: revisions and re-propagations supersede the
 * previous rows instead of mutating or summing them, so every assertion
 * ever made stays reconstructible.
 *
 * @dependencies
 * - gorm.io/gorm + clause: trade edge upserts
 * - github.com/shopspring/decimal: exact trade values
 *
 * @notes
 * - A country with a current asserted impact never receives a derived one;
 *   operator assertions always win over propagation.
 * - Derived impacts are keyed (event, country, derived-from): two primaries
 *   propagating to the same country yield two distinguishable rows.
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/macronet-project/backend/internal/apperr"
	"github.com/macronet-project/backend/internal/config"
	"github.com/macronet-project/backend/internal/logger"
	"github.com/macronet-project/backend/internal/models"
)

// Severity labels for impact magnitudes.
const (
	SeverityCritical = "critical"
	SeveritySevere   = "severe"
	SeverityModerate = "moderate"
	SeverityMild     = "mild"
)

// Recovery labels for event durations.
const (
	RecoveryRapid     = "rapid"
	RecoveryGradual   = "gradual"
	RecoveryProlonged = "prolonged"
	RecoveryOngoing   = "ongoing"
)

// EventService manages events, impact assertions and trade relationships.
type EventService struct {
	DB       *gorm.DB
	Notifier *Notifier
	Cfg      config.AnalysisConfig

	now func() time.Time
}

// NewEventService creates a new EventService.
func NewEventService(db *gorm.DB, notifier *Notifier, cfg config.AnalysisConfig) *EventService {
	return &EventService{DB: db, Notifier: notifier, Cfg: cfg, now: time.Now}
}

// EventInput creates one global economic event.
type EventInput struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	EventDate   time.Time  `json:"event_date"`
	EndDate     *time.Time `json:"end_date"`
}

func (in *EventInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Validation("name", "must not be empty")
	}
	if in.EventDate.IsZero() {
		return apperr.Validation("event_date", "must be set")
	}
	if in.EndDate != nil && in.EndDate.Before(in.EventDate) {
		return apperr.Validation("end_date", "must not precede event_date")
	}
	return nil
}

// CreateEvent records a new event with no impacts yet.
func (s *EventService) CreateEvent(ctx context.Context, in EventInput) (*models.GlobalEconomicEvent, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	event := models.GlobalEconomicEvent{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Category:    in.Category,
		EventDate:   in.EventDate.UTC(),
		EndDate:     in.EndDate,
	}
	if err := s.DB.WithContext(ctx).Create(&event).Error; err != nil {
		return nil, fmt.Errorf("creating event: %w", err)
	}
	logger.Info("EventService: event %s created (%s)", event.Name, event.ID)
	return &event, nil
}

// GetEvent fetches one event by id.
func (s *EventService) GetEvent(ctx context.Context, id uuid.UUID) (*models.GlobalEconomicEvent, error) {
	var event models.GlobalEconomicEvent
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("event", id.String())
		}
		return nil, fmt.Errorf("loading event %s: %w", id, err)
	}
	return &event, nil
}

// QueryEventsParams filters ListEvents.
type QueryEventsParams struct {
	Category string
	From     *time.Time
	To       *time.Time
}

// ListEvents returns events newest first.
func (s *EventService) ListEvents(ctx context.Context, params QueryEventsParams) ([]models.GlobalEconomicEvent, error) {
	query := s.DB.WithContext(ctx).Model(&models.GlobalEconomicEvent{})
	if params.Category != "" {
		query = query.Where("category = ?", params.Category)
	}
	if params.From != nil {
		query = query.Where("event_date >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("event_date <= ?", *params.To)
	}
	var events []models.GlobalEconomicEvent
	if err := query.Order("event_date desc").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	return events, nil
}

// CloseEvent sets the end date on an ongoing event.
func (s *EventService) CloseEvent(ctx context.Context, id uuid.UUID, endDate time.Time) (*models.GlobalEconomicEvent, error) {
	event, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if endDate.Before(event.EventDate) {
		return nil, apperr.Validation("end_date", "must not precede event_date")
	}
	end := endDate.UTC()
	err = s.DB.WithContext(ctx).Model(event).Updates(map[string]interface{}{
		"end_date":   end,
		"updated_at": s.now().UTC(),
	}).Error
	if err != nil {
		return nil, fmt.Errorf("closing event %s: %w", id, err)
	}
	event.EndDate = &end
	return event, nil
}

// ImpactInput asserts one primary country impact for an event.
type ImpactInput struct {
	CountryCode string  `json:"country_code"`
	Magnitude   float64 `json:"magnitude"` // signed; negative is contraction
	Confidence  float64 `json:"confidence"`
}

func (in *ImpactInput) validate() error {
	if len(in.CountryCode) != 3 {
		return apperr.Validation("country_code", "must be an ISO alpha-3 code")
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return apperr.Validation("confidence", "must be in [0, 1]")
	}
	return nil
}

// AssertImpact records (or revises) the asserted impact of an event on a
// country, then re-propagates derived impacts across the trade graph. A
// prior assertion for the same country is superseded, never overwritten.
func (s *EventService) AssertImpact(ctx context.Context, eventID uuid.UUID, in ImpactInput) (*models.EventCountryImpact, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	code := strings.ToUpper(in.CountryCode)
	var country models.Country
	err = s.DB.WithContext(ctx).Where("iso_code = ?", code).First(&country).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("country", code)
		}
		return nil, fmt.Errorf("loading country %s: %w", code, err)
	}

	confidence := in.Confidence
	if confidence == 0 {
		confidence = 1
	}
	now := s.now().UTC()
	impact := models.EventCountryImpact{
		EventID:     event.ID,
		CountryCode: code,
		ImpactType:  models.ImpactAsserted,
		Magnitude:   in.Magnitude,
		Confidence:  confidence,
		IsCurrent:   true,
	}

	err = withTransientRetry(fmt.Sprintf("assert impact %s/%s", event.ID, code), func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := tx.Model(&models.EventCountryImpact{}).
				Where("event_id = ? AND country_code = ? AND impact_type = ? AND is_current = ?",
					event.ID, code, models.ImpactAsserted, true).
				Updates(map[string]interface{}{
					"is_current":    false,
					"superseded_at": now,
				}).Error
			if err != nil {
				return fmt.Errorf("superseding prior assertion: %w", err)
			}
			return tx.Create(&impact).Error
		})
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.RecomputeDerivedImpacts(ctx, event.ID); err != nil {
		// The assertion itself landed; propagation can be repaired by the
		// next recomputation trigger.
		logger.Error("EventService: propagation after assertion failed: %v", err)
	}
	return &impact, nil
}

// RecomputeDerivedImpacts rebuilds the derived impact set for one event
// from its current assertions and the freshest trade edges. All current
// derived rows are superseded and a fresh set is inserted: propagation
// results replace each other, they never accumulate.
func (s *EventService) RecomputeDerivedImpacts(ctx context.Context, eventID uuid.UUID) (int, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}

	var asserted []models.EventCountryImpact
	err = s.DB.WithContext(ctx).
		Where("event_id = ? AND impact_type = ? AND is_current = ?", event.ID, models.ImpactAsserted, true).
		Find(&asserted).Error
	if err != nil {
		return 0, fmt.Errorf("loading assertions: %w", err)
	}

	assertedCodes := make(map[string]bool, len(asserted))
	for _, a := range asserted {
		assertedCodes[a.CountryCode] = true
	}

	neighbors, err := s.tradeNeighbors(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	derived := make([]models.EventCountryImpact, 0)
	for _, primary := range asserted {
		for partner, weight := range neighbors[primary.CountryCode] {
			if assertedCodes[partner] {
				continue
			}
			from := primary.CountryCode
			w := weight
			derived = append(derived, models.EventCountryImpact{
				EventID:         event.ID,
				CountryCode:     partner,
				ImpactType:      models.ImpactDerived,
				Magnitude:       primary.Magnitude * weight * s.Cfg.DecayFactor,
				Confidence:      primary.Confidence * s.Cfg.DecayFactor,
				DerivedFromCode: &from,
				TradeWeight:     &w,
				IsCurrent:       true,
			})
		}
	}
	// Stable insert order keeps listings and tests deterministic.
	sort.Slice(derived, func(i, j int) bool {
		if derived[i].CountryCode != derived[j].CountryCode {
			return derived[i].CountryCode < derived[j].CountryCode
		}
		return *derived[i].DerivedFromCode < *derived[j].DerivedFromCode
	})

	err = withTransientRetry(fmt.Sprintf("propagate event %s", event.ID), func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := tx.Model(&models.EventCountryImpact{}).
				Where("event_id = ? AND impact_type = ? AND is_current = ?", event.ID, models.ImpactDerived, true).
				Updates(map[string]interface{}{
					"is_current":    false,
					"superseded_at": now,
				}).Error
			if err != nil {
				return fmt.Errorf("superseding derived impacts: %w", err)
			}
			if len(derived) == 0 {
				return nil
			}
			return tx.Create(&derived).Error
		})
	})
	if err != nil {
		return 0, err
	}

	logger.Info("EventService: event %s propagated to %d partner countries", event.Name, len(derived))
	s.Notifier.Publish(ctx, EventImpactsRecomputed, "", map[string]interface{}{
		"event_id": event.ID,
		"asserted": len(asserted),
		"derived":  len(derived),
	})
	return len(derived), nil
}

// RecomputeAllEvents re-propagates every event that has current assertions.
// Called after trade edges change, since stored derived impacts embed the
// old weights.
func (s *EventService) RecomputeAllEvents(ctx context.Context) error {
	var eventIDs []uuid.UUID
	err := s.DB.WithContext(ctx).Model(&models.EventCountryImpact{}).
		Where("impact_type = ? AND is_current = ?", models.ImpactAsserted, true).
		Distinct("event_id").
		Pluck("event_id", &eventIDs).Error
	if err != nil {
		return fmt.Errorf("listing events with assertions: %w", err)
	}
	for _, id := range eventIDs {
		if _, err := s.RecomputeDerivedImpacts(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// tradeNeighbors builds the undirected propagation adjacency from directed
// trade edges, using each pair's most recent year and, when reciprocal
// edges disagree, the stronger intensity.
func (s *EventService) tradeNeighbors(ctx context.Context) (map[string]map[string]float64, error) {
	var edges []models.TradeRelationship
	err := s.DB.WithContext(ctx).Order("year asc").Find(&edges).Error
	if err != nil {
		return nil, fmt.Errorf("loading trade edges: %w", err)
	}

	type pair struct{ from, to string }
	latestYear := map[pair]int{}
	latestIntensity := map[pair]float64{}
	for _, e := range edges {
		key := pair{e.ExporterCode, e.ImporterCode}
		if e.Year >= latestYear[key] {
			latestYear[key] = e.Year
			latestIntensity[key] = e.Intensity
		}
	}

	neighbors := map[string]map[string]float64{}
	link := func(a, b string, w float64) {
		if neighbors[a] == nil {
			neighbors[a] = map[string]float64{}
		}
		if w > neighbors[a][b] {
			neighbors[a][b] = w
		}
	}
	for key, w := range latestIntensity {
		link(key.from, key.to, w)
		link(key.to, key.from, w)
	}
	return neighbors, nil
}

// QueryImpactsParams filters GetImpacts.
type QueryImpactsParams struct {
	IncludeHistory bool
}

// GetImpacts lists an event's impacts: assertions first, then derived,
// strongest first within each group.
func (s *EventService) GetImpacts(ctx context.Context, eventID uuid.UUID, params QueryImpactsParams) ([]models.EventCountryImpact, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	query := s.DB.WithContext(ctx).Where("event_id = ?", eventID)
	if !params.IncludeHistory {
		query = query.Where("is_current = ?", true)
	}
	var impacts []models.EventCountryImpact
	err := query.
		Order("impact_type asc").
		Order("abs(magnitude) desc").
		Order("country_code asc").
		Find(&impacts).Error
	if err != nil {
		return nil, fmt.Errorf("listing impacts: %w", err)
	}
	return impacts, nil
}

// TradeInput upserts one directed trade edge (optionally its reciprocal).
type TradeInput struct {
	ExporterCode   string          `json:"exporter_code"`
	ImporterCode   string          `json:"importer_code"`
	Year           int             `json:"year"`
	ExportValueUSD decimal.Decimal `json:"export_value_usd"`
	ImportValueUSD decimal.Decimal `json:"import_value_usd"`
	Intensity      float64         `json:"intensity"`
	Reciprocal     bool            `json:"reciprocal"`
}

func (in *TradeInput) validate() error {
	if len(in.ExporterCode) != 3 {
		return apperr.Validation("exporter_code", "must be an ISO alpha-3 code")
	}
	if len(in.ImporterCode) != 3 {
		return apperr.Validation("importer_code", "must be an ISO alpha-3 code")
	}
	if strings.EqualFold(in.ExporterCode, in.ImporterCode) {
		return apperr.Validation("importer_code", "must differ from exporter_code")
	}
	if in.Year < 1900 || in.Year > 2200 {
		return apperr.Validation("year", "out of range")
	}
	if in.Intensity < 0 || in.Intensity > 1 {
		return apperr.Validation("intensity", "must be in [0, 1]")
	}
	return nil
}

// UpsertTradeRelationship writes a trade edge keyed by (exporter, importer,
// year) and re-propagates all event impacts, since stored derived impacts
// embed trade weights.
func (s *EventService) UpsertTradeRelationship(ctx context.Context, in TradeInput) ([]models.TradeRelationship, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	edges := []models.TradeRelationship{{
		ExporterCode:     strings.ToUpper(in.ExporterCode),
		ImporterCode:     strings.ToUpper(in.ImporterCode),
		Year:             in.Year,
		RelationshipType: "bilateral",
		ExportValueUSD:   in.ExportValueUSD,
		ImportValueUSD:   in.ImportValueUSD,
		TradeBalanceUSD:  in.ExportValueUSD.Sub(in.ImportValueUSD),
		Intensity:        in.Intensity,
	}}
	if in.Reciprocal {
		edges = append(edges, models.TradeRelationship{
			ExporterCode:     strings.ToUpper(in.ImporterCode),
			ImporterCode:     strings.ToUpper(in.ExporterCode),
			Year:             in.Year,
			RelationshipType: "bilateral",
			ExportValueUSD:   in.ImportValueUSD,
			ImportValueUSD:   in.ExportValueUSD,
			TradeBalanceUSD:  in.ImportValueUSD.Sub(in.ExportValueUSD),
			Intensity:        in.Intensity,
		})
	}

	err := withTransientRetry(fmt.Sprintf("trade edge %s->%s/%d", in.ExporterCode, in.ImporterCode, in.Year), func() error {
		return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "exporter_code"}, {Name: "importer_code"}, {Name: "year"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"relationship_type", "export_value_usd", "import_value_usd",
				"trade_balance_usd", "intensity", "updated_at",
			}),
		}).Create(&edges).Error
	})
	if err != nil {
		return nil, fmt.Errorf("upserting trade edge: %w", err)
	}

	if err := s.RecomputeAllEvents(ctx); err != nil {
		logger.Error("EventService: re-propagation after trade change failed: %v", err)
	}
	return edges, nil
}

// QueryTradeParams filters ListTradeRelationships.
type QueryTradeParams struct {
	Country  string // matches either endpoint
	Exporter string
	Importer string
	Year     int
}

// ListTradeRelationships returns trade edges, newest year first.
func (s *EventService) ListTradeRelationships(ctx context.Context, params QueryTradeParams) ([]models.TradeRelationship, error) {
	query := s.DB.WithContext(ctx).Model(&models.TradeRelationship{})
	if params.Country != "" {
		query = query.Where("exporter_code = ? OR importer_code = ?", params.Country, params.Country)
	}
	if params.Exporter != "" {
		query = query.Where("exporter_code = ?", params.Exporter)
	}
	if params.Importer != "" {
		query = query.Where("importer_code = ?", params.Importer)
	}
	if params.Year != 0 {
		query = query.Where("year = ?", params.Year)
	}
	var edges []models.TradeRelationship
	err := query.
		Order("year desc").
		Order("exporter_code asc, importer_code asc").
		Find(&edges).Error
	if err != nil {
		return nil, fmt.Errorf("listing trade edges: %w", err)
	}
	return edges, nil
}

// ClassifySeverity labels an impact magnitude by absolute size.
func ClassifySeverity(magnitude float64) string {
	abs := math.Abs(magnitude)
	switch {
	case abs >= 10:
		return SeverityCritical
	case abs >= 5:
		return SeveritySevere
	case abs >= 2:
		return SeverityModerate
	default:
		return SeverityMild
	}
}

// ClassifyRecovery labels how long an event took to resolve. Events with
// no end date are ongoing.
func ClassifyRecovery(event *models.GlobalEconomicEvent) string {
	if event.EndDate == nil {
		return RecoveryOngoing
	}
	days := event.EndDate.Sub(event.EventDate).Hours() / 24
	switch {
	case days <= 90:
		return RecoveryRapid
	case days <= 365:
		return RecoveryGradual
	default:
		return RecoveryProlonged
	}
}
