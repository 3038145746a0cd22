package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/macronet-project/backend/internal/apperr"
	"github.com/macronet-project/backend/internal/config"
	"github.com/macronet-project/backend/internal/models"
)

func newEventFixture(t *testing.T) (*EventService, *gorm.DB) {
	t.Helper()
	gdb := newTestDB(t)
	svc := NewEventService(gdb, NewNotifier(nil), config.AnalysisConfig{
		MinOverlap:     3,
		MinStrength:    0.8,
		MinImprovement: 0.05,
		DecayFactor:    0.5,
		MaxLag:         4,
		WindowYears:    10,
	})
	return svc, gdb
}

func seedTradeEdge(t *testing.T, svc *EventService, exporter, importer string, year int, intensity float64) {
	t.Helper()
	_, err := svc.UpsertTradeRelationship(context.Background(), TradeInput{
		ExporterCode:   exporter,
		ImporterCode:   importer,
		Year:           year,
		ExportValueUSD: decimal.NewFromInt(100),
		ImportValueUSD: decimal.NewFromInt(80),
		Intensity:      intensity,
	})
	if err != nil {
		t.Fatalf("seeding trade edge %s->%s: %v", exporter, importer, err)
	}
}

func mustCreateEvent(t *testing.T, svc *EventService, name string) *models.GlobalEconomicEvent {
	t.Helper()
	event, err := svc.CreateEvent(context.Background(), EventInput{
		Name:      name,
		Category:  "financial_crisis",
		EventDate: day(2025, time.February, 1),
	})
	if err != nil {
		t.Fatalf("creating event %s: %v", name, err)
	}
	return event
}

func TestCreateEventValidation(t *testing.T) {
	svc, _ := newEventFixture(t)
	ctx := context.Background()

	_, err := svc.CreateEvent(ctx, EventInput{Name: "  ", EventDate: day(2025, time.January, 1)})
	if !apperr.IsValidation(err) {
		t.Errorf("blank name: got %v, want validation error", err)
	}

	_, err = svc.CreateEvent(ctx, EventInput{Name: "Shock"})
	if !apperr.IsValidation(err) {
		t.Errorf("missing event_date: got %v, want validation error", err)
	}

	end := day(2024, time.December, 1)
	_, err = svc.CreateEvent(ctx, EventInput{Name: "Shock", EventDate: day(2025, time.January, 1), EndDate: &end})
	if !apperr.IsValidation(err) {
		t.Errorf("end before start: got %v, want validation error", err)
	}
}

func TestAssertImpactPropagatesToTradePartners(t *testing.T) {
	svc, gdb := newEventFixture(t)
	seedCountry(t, gdb, "USA", "United States")
	seedCountry(t, gdb, "DEU", "Germany")
	seedCountry(t, gdb, "FRA", "France")
	seedTradeEdge(t, svc, "USA", "DEU", 2024, 0.4)
	seedTradeEdge(t, svc, "USA", "FRA", 2024, 0.2)
	event := mustCreateEvent(t, svc, "Banking Crisis")
	ctx := context.Background()

	asserted, err := svc.AssertImpact(ctx, event.ID, ImpactInput{
		CountryCode: "usa", Magnitude: -8, Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("asserting impact: %v", err)
	}
	if asserted.CountryCode != "USA" {
		t.Errorf("country = %s, want uppercased USA", asserted.CountryCode)
	}

	impacts, err := svc.GetImpacts(ctx, event.ID, QueryImpactsParams{})
	if err != nil {
		t.Fatalf("listing impacts: %v", err)
	}
	if len(impacts) != 3 {
		t.Fatalf("current impacts = %d, want 1 asserted + 2 derived", len(impacts))
	}

	// Assertions sort before derived rows, strongest derived first.
	if impacts[0].ImpactType != models.ImpactAsserted || impacts[0].CountryCode != "USA" {
		t.Errorf("impacts[0] = %s/%s, want asserted USA", impacts[0].ImpactType, impacts[0].CountryCode)
	}
	deu, fra := impacts[1], impacts[2]
	if deu.CountryCode != "DEU" || fra.CountryCode != "FRA" {
		t.Fatalf("derived order = %s, %s, want DEU then FRA", deu.CountryCode, fra.CountryCode)
	}
	if math.Abs(deu.Magnitude-(-1.6)) > 1e-9 {
		t.Errorf("DEU magnitude = %v, want -1.6 (-8 x 0.4 x 0.5)", deu.Magnitude)
	}
	if math.Abs(deu.Confidence-0.45) > 1e-9 {
		t.Errorf("DEU confidence = %v, want 0.45 (0.9 x 0.5)", deu.Confidence)
	}
	if deu.DerivedFromCode == nil || *deu.DerivedFromCode != "USA" {
		t.Error("DEU impact must record the asserted country it derives from")
	}
	if deu.TradeWeight == nil || math.Abs(*deu.TradeWeight-0.4) > 1e-9 {
		t.Error("DEU impact must record the trade weight used")
	}
	if math.Abs(fra.Magnitude-(-0.8)) > 1e-9 {
		t.Errorf("FRA magnitude = %v, want -0.8 (-8 x 0.2 x 0.5)", fra.Magnitude)
	}
}

func TestAssertImpactDefaultsConfidence(t *testing.T) {
	svc, gdb := newEventFixture(t)
	seedCountry(t, gdb, "USA", "United States")
	event := mustCreateEvent(t, svc, "Oil Shock")

	impact, err := svc.AssertImpact(context.Background(), event.ID, ImpactInput{
		CountryCode: "USA", Magnitude: 3,
	})
	if err != nil {
		t.Fatalf("asserting impact: %v", err)
	}
	if impact.Confidence != 1 {
		t.Errorf("confidence = %v, want default 1", impact.Confidence)
	}
}

func TestAssertImpactValidation(t *testing.T) {
	svc, gdb := newEventFixture(t)
	seedCountry(t, gdb, "USA", "United States")
	event := mustCreateEvent(t, svc, "Drought")
	ctx := context.Background()

	_, err := svc.AssertImpact(ctx, event.ID, ImpactInput{CountryCode: "US", Magnitude: 1})
	if !apperr.IsValidation(err) {
		t.Errorf("two-letter code: got %v, want validation error", err)
	}

	_, err = svc.AssertImpact(ctx, event.ID, ImpactInput{CountryCode: "USA", Magnitude: 1, Confidence: 1.5})
	if !apperr.IsValidation(err) {
		t.Errorf("confidence > 1: got %v, want validation error", err)
	}

	_, err = svc.AssertImpact(ctx, event.ID, ImpactInput{CountryCode: "ZZZ", Magnitude: 1})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown country: got %v, want not-found", err)
	}

	_, err = svc.AssertImpact(ctx, uuid.New(), ImpactInput{CountryCode: "USA", Magnitude: 1})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown event: got %v, want not-found", err)
	}
}

func TestAssertImpactRevisionSupersedes(t *testing.T) {
	svc, gdb := newEventFixture(t)
	seedCountry(t, gdb, "USA", "United States")
	event := mustCreateEvent(t, svc, "Rate Hike")
	ctx := context.Background()

	if _, err := svc.AssertImpact(ctx, event.ID, ImpactInput{CountryCode: "USA", Magnitude: -3}); err != nil {
		t.Fatalf("first assertion: %v", err)
	}
	if _, err := svc.AssertImpact(ctx, event.ID, ImpactInput{CountryCode: "USA", Magnitude: -6}); err != nil {
		t.Fatalf("revised assertion: %v", err)
	}

	current, err := svc.GetImpacts(ctx, event.ID, QueryImpactsParams{})
	if err != nil {
		t.Fatalf("listing current impacts: %v", err)
	}
	if len(current) != 1 {
		t.Fatalf("current impacts = %d, want 1", len(current))
	}
	if current[0].Magnitude != -6 {
		t.Errorf("current magnitude = %v, want the revision", current[0].Magnitude)
	}

	history, err := svc.GetImpacts(ctx, event.ID, QueryImpactsParams{IncludeHistory: true})
	if err != nil {
		t.Fatalf("listing history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history rows = %d, want 2", len(history))
	}
	for _, impact := range history {
		if impact.IsCurrent {
			continue
		}
		if impact.Magnitude != -3 {
			t.Errorf("superseded magnitude = %v, want the original -3", impact.Magnitude)
		}
		if impact.SupersededAt == nil {
			t.Error("superseded row must carry its supersede timestamp")
		}
	}
}

func TestAssertionDisplacesDerivedImpact(t *testing.T) {
	svc, gdb := newEventFixture(t)
	seedCountry(t, gdb, "USA", "United States")
	seedCountry(t, gdb, "DEU", "Germany")
	seedTradeEdge(t, svc, "USA", "DEU", 2024, 0.4)
	event := mustCreateEvent(t, svc, "Credit Crunch")
	ctx := context.Background()

	if _, err := svc.AssertImpact(ctx, event.ID, ImpactInput{CountryCode: "USA", Magnitude: -8}); err != nil {
		t.Fatalf("asserting USA: %v", err)
	}

	impacts, err := svc.GetImpacts(ctx, event.ID, QueryImpactsParams{})
	if err != nil {
		t.Fatalf("listing impacts: %v", err)
	}
	if len(impacts) != 2 {
		t.Fatalf("current impacts = %d, want asserted USA + derived DEU", len(impacts))
	}

	// Direct evidence for DEU replaces the propagated estimate.
	if _, err := svc.AssertImpact(ctx, event.ID, ImpactInput{CountryCode: "DEU", Magnitude: -5}); err != nil {
		t.Fatalf("asserting DEU: %v", err)
	}

	impacts, err = svc.GetImpacts(ctx, event.ID, QueryImpactsParams{})
	if err != nil {
		t.Fatalf("listing impacts after DEU assertion: %v", err)
	}
	if len(impacts) != 2 {
		t.Fatalf("current impacts = %d, want two assertions and no derived rows", len(impacts))
	}
	for _, impact := range impacts {
		if impact.ImpactType != models.ImpactAsserted {
			t.Errorf("%s is %s, want only assertions once both countries are asserted",
				impact.CountryCode, impact.ImpactType)
		}
	}
}

func TestTradeReweightRecomputesDerivedImpacts(t *testing.T) {
	svc, gdb := newEventFixture(t)
	seedCountry(t, gdb, "USA", "United States")
	seedCountry(t, gdb, "DEU", "Germany")
	seedTradeEdge(t, svc, "USA", "DEU", 2024, 0.4)
	event := mustCreateEvent(t, svc, "Tariff Round")
	ctx := context.Background()

	if _, err := svc.AssertImpact(ctx, event.ID, ImpactInput{CountryCode: "USA", Magnitude: -8}); err != nil {
		t.Fatalf("asserting USA: %v", err)
	}

	// Same (exporter, importer, year) key: the edge is updated in place and
	// every event's derived set is rebuilt with the new weight.
	seedTradeEdge(t, svc, "USA", "DEU", 2024, 0.8)

	current, err := svc.GetImpacts(ctx, event.ID, QueryImpactsParams{})
	if err != nil {
		t.Fatalf("listing impacts: %v", err)
	}
	if len(current) != 2 {
		t.Fatalf("current impacts = %d, want 2", len(current))
	}
	derived := current[1]
	if derived.ImpactType != models.ImpactDerived || derived.CountryCode != "DEU" {
		t.Fatalf("impacts[1] = %s/%s, want derived DEU", derived.ImpactType, derived.CountryCode)
	}
	if math.Abs(derived.Magnitude-(-3.2)) > 1e-9 {
		t.Errorf("reweighted magnitude = %v, want -3.2 (-8 x 0.8 x 0.5)", derived.Magnitude)
	}

	history, err := svc.GetImpacts(ctx, event.ID, QueryImpactsParams{IncludeHistory: true})
	if err != nil {
		t.Fatalf("listing history: %v", err)
	}
	var stale int
	for _, impact := range history {
		if impact.ImpactType == models.ImpactDerived && !impact.IsCurrent {
			stale++
			if math.Abs(impact.Magnitude-(-1.6)) > 1e-9 {
				t.Errorf("superseded magnitude = %v, want the pre-reweight -1.6", impact.Magnitude)
			}
		}
	}
	if stale != 1 {
		t.Errorf("superseded derived rows = %d, want 1", stale)
	}
}

func TestTradeAdjacencyUsesLatestYearAndStrongerDirection(t *testing.T) {
	svc, gdb := newEventFixture(t)
	seedCountry(t, gdb, "USA", "United States")
	seedCountry(t, gdb, "DEU", "Germany")
	// The 2020 edge is stale, the 2023 edges disagree: propagation must use
	// the stronger 2023 intensity.
	seedTradeEdge(t, svc, "USA", "DEU", 2020, 0.9)
	seedTradeEdge(t, svc, "USA", "DEU", 2023, 0.3)
	seedTradeEdge(t, svc, "DEU", "USA", 2023, 0.6)
	event := mustCreateEvent(t, svc, "Currency Swing")
	ctx := context.Background()

	if _, err := svc.AssertImpact(ctx, event.ID, ImpactInput{CountryCode: "USA", Magnitude: -10, Confidence: 1}); err != nil {
		t.Fatalf("asserting USA: %v", err)
	}

	impacts, err := svc.GetImpacts(ctx, event.ID, QueryImpactsParams{})
	if err != nil {
		t.Fatalf("listing impacts: %v", err)
	}
	if len(impacts) != 2 {
		t.Fatalf("current impacts = %d, want 2", len(impacts))
	}
	derived := impacts[1]
	if math.Abs(derived.Magnitude-(-3.0)) > 1e-9 {
		t.Errorf("derived magnitude = %v, want -3.0 (-10 x 0.6 x 0.5)", derived.Magnitude)
	}
	if derived.TradeWeight == nil || math.Abs(*derived.TradeWeight-0.6) > 1e-9 {
		t.Error("propagation must use the stronger direction of the latest year")
	}
}

func TestUpsertTradeRelationshipReciprocal(t *testing.T) {
	svc, _ := newEventFixture(t)
	ctx := context.Background()

	edges, err := svc.UpsertTradeRelationship(ctx, TradeInput{
		ExporterCode:   "usa",
		ImporterCode:   "deu",
		Year:           2024,
		ExportValueUSD: decimal.NewFromInt(100),
		ImportValueUSD: decimal.NewFromInt(40),
		Intensity:      0.5,
		Reciprocal:     true,
	})
	if err != nil {
		t.Fatalf("upserting reciprocal edge: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("edges written = %d, want 2", len(edges))
	}

	listed, err := svc.ListTradeRelationships(ctx, QueryTradeParams{Year: 2024})
	if err != nil {
		t.Fatalf("listing edges: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("edges stored = %d, want 2", len(listed))
	}

	deuToUsa, usaToDeu := listed[0], listed[1]
	if deuToUsa.ExporterCode != "DEU" || usaToDeu.ExporterCode != "USA" {
		t.Fatalf("listing order = %s, %s, want DEU->USA then USA->DEU", deuToUsa.ExporterCode, usaToDeu.ExporterCode)
	}
	// The reciprocal edge swaps the flow values, so its balance flips sign.
	if !usaToDeu.TradeBalanceUSD.Equal(decimal.NewFromInt(60)) {
		t.Errorf("USA->DEU balance = %s, want 60", usaToDeu.TradeBalanceUSD)
	}
	if !deuToUsa.TradeBalanceUSD.Equal(decimal.NewFromInt(-60)) {
		t.Errorf("DEU->USA balance = %s, want -60", deuToUsa.TradeBalanceUSD)
	}
	if !deuToUsa.ExportValueUSD.Equal(decimal.NewFromInt(40)) {
		t.Errorf("DEU->USA export value = %s, want the swapped 40", deuToUsa.ExportValueUSD)
	}
}

func TestUpsertTradeRelationshipValidation(t *testing.T) {
	svc, _ := newEventFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   TradeInput
	}{
		{"short exporter", TradeInput{ExporterCode: "US", ImporterCode: "DEU", Year: 2024, Intensity: 0.5}},
		{"same endpoints", TradeInput{ExporterCode: "USA", ImporterCode: "usa", Year: 2024, Intensity: 0.5}},
		{"year out of range", TradeInput{ExporterCode: "USA", ImporterCode: "DEU", Year: 1024, Intensity: 0.5}},
		{"intensity out of range", TradeInput{ExporterCode: "USA", ImporterCode: "DEU", Year: 2024, Intensity: 1.5}},
	}
	for _, tc := range cases {
		if _, err := svc.UpsertTradeRelationship(ctx, tc.in); !apperr.IsValidation(err) {
			t.Errorf("%s: got %v, want validation error", tc.name, err)
		}
	}
}

func TestCloseEventSetsEndDate(t *testing.T) {
	svc, _ := newEventFixture(t)
	event := mustCreateEvent(t, svc, "Port Strike")
	ctx := context.Background()

	end := day(2025, time.March, 15)
	closed, err := svc.CloseEvent(ctx, event.ID, end)
	if err != nil {
		t.Fatalf("closing event: %v", err)
	}
	if closed.EndDate == nil || !closed.EndDate.Equal(end) {
		t.Errorf("end date = %v, want %s", closed.EndDate, end.Format("2006-01-02"))
	}

	_, err = svc.CloseEvent(ctx, event.ID, day(2025, time.January, 1))
	if !apperr.IsValidation(err) {
		t.Errorf("end before start: got %v, want validation error", err)
	}
}

func TestClassifySeverity(t *testing.T) {
	cases := []struct {
		magnitude float64
		want      string
	}{
		{-12, SeverityCritical},
		{10, SeverityCritical},
		{-7.5, SeveritySevere},
		{5, SeveritySevere},
		{-3, SeverityModerate},
		{2, SeverityModerate},
		{-1.9, SeverityMild},
		{0, SeverityMild},
	}
	for _, tc := range cases {
		if got := ClassifySeverity(tc.magnitude); got != tc.want {
			t.Errorf("ClassifySeverity(%v) = %s, want %s", tc.magnitude, got, tc.want)
		}
	}
}

func TestClassifyRecovery(t *testing.T) {
	start := day(2024, time.January, 1)
	endAfter := func(days int) *time.Time {
		end := start.AddDate(0, 0, days)
		return &end
	}
	cases := []struct {
		name string
		end  *time.Time
		want string
	}{
		{"no end date", nil, RecoveryOngoing},
		{"90 days", endAfter(90), RecoveryRapid},
		{"six months", endAfter(180), RecoveryGradual},
		{"two years", endAfter(730), RecoveryProlonged},
	}
	for _, tc := range cases {
		event := &models.GlobalEconomicEvent{EventDate: start, EndDate: tc.end}
		if got := ClassifyRecovery(event); got != tc.want {
			t.Errorf("%s: ClassifyRecovery = %s, want %s", tc.name, got, tc.want)
		}
	}
}
