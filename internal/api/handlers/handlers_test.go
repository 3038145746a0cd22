package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/macronet-project/backend/internal/config"
	"github.com/macronet-project/backend/internal/db"
	"github.com/macronet-project/backend/internal/models"
	"github.com/macronet-project/backend/internal/ratelimit"
	"github.com/macronet-project/backend/internal/services"
)

// newTestAPI wires the REST handlers onto a Fiber app backed by an isolated
// in-memory database, mirroring the production route table.
func newTestAPI(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrapping test database: %v", err)
	}
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	analysisCfg := config.AnalysisConfig{
		MinOverlap:     3,
		MinStrength:    0.5,
		MinImprovement: 0.05,
		DecayFactor:    0.5,
		MaxLag:         4,
		WindowYears:    10,
	}

	limiter := ratelimit.NewPool(time.Second)
	registryService := services.NewRegistryService(gdb, limiter)
	seriesService := services.NewSeriesService(gdb, nil)
	analysisService := services.NewAnalysisService(gdb, nil, nil, analysisCfg)
	eventService := services.NewEventService(gdb, nil, analysisCfg)

	sourceHandler := NewSourceHandler(registryService)
	seriesHandler := NewSeriesHandler(seriesService)
	analysisHandler := NewAnalysisHandler(analysisService)
	eventHandler := NewEventHandler(eventService)

	app := fiber.New()
	v1 := app.Group("/api/v1")
	v1.Get("/sources", sourceHandler.ListSources)
	v1.Post("/sources", sourceHandler.RegisterSource)
	v1.Get("/sources/:name", sourceHandler.GetSource)
	v1.Patch("/sources/:name", sourceHandler.UpdateSource)
	v1.Get("/sources/:name/attempts", sourceHandler.ListCrawlAttempts)
	v1.Get("/series", seriesHandler.ListSeries)
	v1.Get("/series/:id", seriesHandler.GetSeries)
	v1.Get("/series/:id/observations", seriesHandler.ListObservations)
	v1.Get("/countries", sourceHandler.ListCountries)
	v1.Get("/countries/:code/health", analysisHandler.GetCountryHealth)
	v1.Get("/analysis/correlations", analysisHandler.GetCorrelations)
	v1.Get("/analysis/centrality", analysisHandler.GetCentrality)
	v1.Get("/trade", eventHandler.ListTrade)
	v1.Post("/trade", eventHandler.UpsertTrade)
	v1.Get("/events", eventHandler.ListEvents)
	v1.Post("/events", eventHandler.CreateEvent)
	v1.Get("/events/:id", eventHandler.GetEvent)
	v1.Get("/events/:id/impacts", eventHandler.GetImpacts)
	v1.Post("/events/:id/impacts", eventHandler.AssertImpact)

	return app, gdb
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, 10000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return resp.StatusCode, raw
}

func decodeInto(t *testing.T, raw []byte, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decoding response %s: %v", raw, err)
	}
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	decodeInto(t, raw, &body)
	return body.Code
}

func TestRegisterSourceValidation(t *testing.T) {
	app, _ := newTestAPI(t)

	status, raw := doJSON(t, app, http.MethodPost, "/api/v1/sources", map[string]interface{}{
		"name":                  "fred",
		"base_url":              "https://api.stlouisfed.org",
		"rate_limit_per_minute": 0,
		"crawl_frequency_hours": 6,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if code := errorCode(t, raw); code != "validation_failed" {
		t.Errorf("code = %q, want validation_failed", code)
	}
}

func TestSourceLifecycle(t *testing.T) {
	app, _ := newTestAPI(t)

	status, raw := doJSON(t, app, http.MethodPost, "/api/v1/sources", map[string]interface{}{
		"name":                  "fred",
		"description":           "Federal Reserve Economic Data",
		"base_url":              "https://api.stlouisfed.org",
		"api_key_required":      true,
		"rate_limit_per_minute": 120,
		"crawl_frequency_hours": 6,
	})
	if status != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", status, raw)
	}

	newLimit := 60
	status, raw = doJSON(t, app, http.MethodPatch, "/api/v1/sources/fred", map[string]interface{}{
		"rate_limit_per_minute": newLimit,
	})
	if status != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", status, raw)
	}
	var patched models.DataSource
	decodeInto(t, raw, &patched)
	if patched.RateLimitPerMinute != newLimit {
		t.Errorf("rate limit = %d, want %d", patched.RateLimitPerMinute, newLimit)
	}
	if patched.CrawlFrequencyHours != 6 {
		t.Errorf("patch must not clobber unrelated fields, cadence = %d", patched.CrawlFrequencyHours)
	}

	status, _ = doJSON(t, app, http.MethodGet, "/api/v1/sources/fred", nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}

	status, raw = doJSON(t, app, http.MethodPatch, "/api/v1/sources/nope", map[string]interface{}{
		"rate_limit_per_minute": 10,
	})
	if status != http.StatusNotFound {
		t.Fatalf("patch unknown status = %d, want 404", status)
	}
	if code := errorCode(t, raw); code != "not_found" {
		t.Errorf("code = %q, want not_found", code)
	}

	var listed []models.DataSource
	status, raw = doJSON(t, app, http.MethodGet, "/api/v1/sources", nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	decodeInto(t, raw, &listed)
	if len(listed) != 1 || listed[0].Name != "fred" {
		t.Errorf("unexpected source list: %+v", listed)
	}
}

func TestSeriesReads(t *testing.T) {
	app, gdb := newTestAPI(t)

	country := "USA"
	category := "gdp_growth"
	source := models.DataSource{
		Name: "fred", BaseURL: "https://api.stlouisfed.org",
		RateLimitPerMinute: 120, CrawlFrequencyHours: 6,
		IsEnabled: true, IsVisible: true, CrawlStatus: models.CrawlStateIdle,
	}
	if err := gdb.Create(&source).Error; err != nil {
		t.Fatalf("seeding source: %v", err)
	}
	series := models.EconomicSeries{
		SourceID: source.ID, ExternalID: "GDPC1", Title: "Real GDP",
		IsActive: true, CountryCode: &country, IndicatorCategory: &category,
	}
	if err := gdb.Create(&series).Error; err != nil {
		t.Fatalf("seeding series: %v", err)
	}
	dates := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, d := range dates {
		obs := models.Observation{
			SeriesID: series.ID, Date: d,
			Value:             decimal.NullDecimal{Decimal: decimal.NewFromFloat(2.5), Valid: true},
			IsOriginalRelease: true,
		}
		if err := gdb.Create(&obs).Error; err != nil {
			t.Fatalf("seeding observation: %v", err)
		}
	}

	var listed []models.EconomicSeries
	status, raw := doJSON(t, app, http.MethodGet, "/api/v1/series?source=fred&country=USA", nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d, body %s", status, raw)
	}
	decodeInto(t, raw, &listed)
	if len(listed) != 1 || listed[0].ExternalID != "GDPC1" {
		t.Fatalf("unexpected series list: %s", raw)
	}

	status, raw = doJSON(t, app, http.MethodGet, "/api/v1/series/"+series.ID.String(), nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d, body %s", status, raw)
	}

	status, raw = doJSON(t, app, http.MethodGet, "/api/v1/series/not-a-uuid", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", status)
	}

	status, raw = doJSON(t, app, http.MethodGet, "/api/v1/series/"+uuid.NewString(), nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", status)
	}

	var observations []models.Observation
	path := "/api/v1/series/" + series.ID.String() + "/observations?from=2024-02-01"
	status, raw = doJSON(t, app, http.MethodGet, path, nil)
	if status != http.StatusOK {
		t.Fatalf("observations status = %d, body %s", status, raw)
	}
	decodeInto(t, raw, &observations)
	if len(observations) != 1 {
		t.Fatalf("from filter returned %d observations, want 1", len(observations))
	}

	status, _ = doJSON(t, app, http.MethodGet, "/api/v1/series/"+series.ID.String()+"/observations?from=bogus", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bogus from status = %d, want 400", status)
	}

	status, raw = doJSON(t, app, http.MethodGet, "/api/v1/series?source=unknown", nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown source filter status = %d, want 404", status)
	}
}

func TestEventImpactFlow(t *testing.T) {
	app, _ := newTestAPI(t)

	status, raw := doJSON(t, app, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"name":       "Supply shock",
		"category":   "commodity",
		"event_date": "2024-03-01",
	})
	if status != http.StatusCreated {
		t.Fatalf("create event status = %d, body %s", status, raw)
	}
	var event models.GlobalEconomicEvent
	decodeInto(t, raw, &event)

	status, raw = doJSON(t, app, http.MethodPost, "/api/v1/trade", map[string]interface{}{
		"exporter_code":    "USA",
		"importer_code":    "DEU",
		"year":             2023,
		"export_value_usd": 100000,
		"import_value_usd": 80000,
		"intensity":        0.4,
	})
	if status != http.StatusCreated {
		t.Fatalf("trade upsert status = %d, body %s", status, raw)
	}

	status, raw = doJSON(t, app, http.MethodPost, "/api/v1/events/"+event.ID.String()+"/impacts", map[string]interface{}{
		"country_code": "USA",
		"magnitude":    -8.0,
		"confidence":   0.9,
	})
	if status != http.StatusCreated {
		t.Fatalf("assert impact status = %d, body %s", status, raw)
	}
	var asserted impactResponse
	decodeInto(t, raw, &asserted)
	if asserted.Severity != services.SeveritySevere {
		t.Errorf("severity = %q, want %q", asserted.Severity, services.SeveritySevere)
	}

	var impacts []impactResponse
	status, raw = doJSON(t, app, http.MethodGet, "/api/v1/events/"+event.ID.String()+"/impacts", nil)
	if status != http.StatusOK {
		t.Fatalf("get impacts status = %d, body %s", status, raw)
	}
	decodeInto(t, raw, &impacts)
	if len(impacts) != 2 {
		t.Fatalf("got %d impacts, want asserted USA + derived DEU: %s", len(impacts), raw)
	}
	var derived *impactResponse
	for i := range impacts {
		if impacts[i].ImpactType == models.ImpactDerived {
			derived = &impacts[i]
		}
	}
	if derived == nil {
		t.Fatal("no derived impact propagated over the trade edge")
	}
	if derived.CountryCode != "DEU" {
		t.Errorf("derived country = %s, want DEU", derived.CountryCode)
	}
	// -8 x 0.4 intensity x 0.5 decay
	if got := derived.Magnitude; got != -1.6 {
		t.Errorf("derived magnitude = %v, want -1.6", got)
	}
	if derived.Severity != services.SeverityMild {
		t.Errorf("derived severity = %q, want %q", derived.Severity, services.SeverityMild)
	}

	status, raw = doJSON(t, app, http.MethodGet, "/api/v1/events/"+event.ID.String(), nil)
	if status != http.StatusOK {
		t.Fatalf("get event status = %d", status)
	}
	var fetched eventResponse
	decodeInto(t, raw, &fetched)
	if fetched.Recovery != services.RecoveryOngoing {
		t.Errorf("recovery = %q, want %q", fetched.Recovery, services.RecoveryOngoing)
	}

	status, raw = doJSON(t, app, http.MethodPost, "/api/v1/events/"+uuid.NewString()+"/impacts", map[string]interface{}{
		"country_code": "USA",
		"magnitude":    1.0,
		"confidence":   1.0,
	})
	if status != http.StatusNotFound {
		t.Fatalf("unknown event status = %d, want 404", status)
	}
}

func TestCountryHealthEndpoint(t *testing.T) {
	app, gdb := newTestAPI(t)

	if err := gdb.Create(&models.Country{ISOCode: "USA", Name: "United States", IsActive: true}).Error; err != nil {
		t.Fatalf("seeding country: %v", err)
	}
	source := models.DataSource{
		Name: "fred", BaseURL: "https://api.stlouisfed.org",
		RateLimitPerMinute: 120, CrawlFrequencyHours: 6,
		IsEnabled: true, IsVisible: true, CrawlStatus: models.CrawlStateIdle,
	}
	if err := gdb.Create(&source).Error; err != nil {
		t.Fatalf("seeding source: %v", err)
	}

	country := "USA"
	seed := []struct {
		externalID string
		category   string
		value      float64
	}{
		{"GDPGROWTH", services.CategoryGDPGrowth, 3.0},
		{"UNRATE", services.CategoryUnemployment, 4.0},
		{"CPI", services.CategoryInflation, 2.0},
	}
	for _, s := range seed {
		cat := s.category
		series := models.EconomicSeries{
			SourceID: source.ID, ExternalID: s.externalID, Title: s.externalID,
			IsActive: true, CountryCode: &country, IndicatorCategory: &cat,
		}
		if err := gdb.Create(&series).Error; err != nil {
			t.Fatalf("seeding series %s: %v", s.externalID, err)
		}
		obs := models.Observation{
			SeriesID: series.ID,
			Date:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			Value:    decimal.NullDecimal{Decimal: decimal.NewFromFloat(s.value), Valid: true},
		}
		if err := gdb.Create(&obs).Error; err != nil {
			t.Fatalf("seeding observation %s: %v", s.externalID, err)
		}
	}

	status, raw := doJSON(t, app, http.MethodGet, "/api/v1/countries/usa/health", nil)
	if status != http.StatusOK {
		t.Fatalf("health status = %d, body %s", status, raw)
	}
	var health services.CountryHealth
	decodeInto(t, raw, &health)
	// 50 + min(3x10, 20) - 4x2 - |2-2|x5 = 62
	if health.Score != 62 {
		t.Errorf("score = %v, want 62", health.Score)
	}
	if len(health.Components) != 3 {
		t.Errorf("got %d components, want 3", len(health.Components))
	}

	status, raw = doJSON(t, app, http.MethodGet, "/api/v1/countries/FRA/health", nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown country status = %d, want 404", status)
	}
	if code := errorCode(t, raw); code != "not_found" {
		t.Errorf("code = %q, want not_found", code)
	}
}
