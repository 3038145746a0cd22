package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/macronet-project/backend/internal/db"
	"github.com/macronet-project/backend/internal/models"
	"github.com/macronet-project/backend/internal/providers"
)

// newTestDB opens an isolated in-memory database with the full schema.
// Connections are capped at one so every test statement sees the same
// in-memory store.
func newTestDB(t *testing.T) *gorm.DB {
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
	return gdb
}

func seedSource(t *testing.T, gdb *gorm.DB, name string) *models.DataSource {
	t.Helper()
	src := &models.DataSource{
		Name:                name,
		BaseURL:             "https://stats.example.org",
		RateLimitPerMinute:  600,
		CrawlFrequencyHours: 24,
		IsEnabled:           true,
		IsVisible:           true,
		CrawlStatus:         models.CrawlStateIdle,
	}
	if err := gdb.Create(src).Error; err != nil {
		t.Fatalf("seeding source %s: %v", name, err)
	}
	return src
}

func seedSeries(t *testing.T, gdb *gorm.DB, src *models.DataSource, externalID, country, category string) *models.EconomicSeries {
	t.Helper()
	series := &models.EconomicSeries{
		SourceID:   src.ID,
		ExternalID: externalID,
		Title:      externalID,
		IsActive:   true,
	}
	if country != "" {
		series.CountryCode = &country
	}
	if category != "" {
		series.IndicatorCategory = &category
	}
	if err := gdb.Create(series).Error; err != nil {
		t.Fatalf("seeding series %s: %v", externalID, err)
	}
	return series
}

func seedCountry(t *testing.T, gdb *gorm.DB, iso, name string) *models.Country {
	t.Helper()
	c := &models.Country{ISOCode: iso, Name: name, IsActive: true}
	if err := gdb.Create(c).Error; err != nil {
		t.Fatalf("seeding country %s: %v", iso, err)
	}
	return c
}

func seedObservation(t *testing.T, gdb *gorm.DB, series *models.EconomicSeries, date time.Time, value string) {
	t.Helper()
	obs := &models.Observation{
		SeriesID:          series.ID,
		Date:              date,
		Value:             dec(value),
		IsOriginalRelease: true,
	}
	if err := gdb.Create(obs).Error; err != nil {
		t.Fatalf("seeding observation for %s at %s: %v", series.ExternalID, date, err)
	}
}

func dec(raw string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(raw), Valid: true}
}

func day(year int, month time.Month, dayOfMonth int) time.Time {
	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

// fakeProvider serves canned payloads and errors keyed by external id.
// When gate is set, FetchSeries blocks until the gate closes, which lets
// tests hold a crawl in flight.
type fakeProvider struct {
	name     string
	perFetch int
	gate     chan struct{}

	mu        sync.Mutex
	responses map[string]*providers.SeriesData
	errs      map[string]error
	calls     map[string]int
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:      name,
		responses: map[string]*providers.SeriesData{},
		errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) RequestsPerFetch() int {
	if f.perFetch <= 0 {
		return 1
	}
	return f.perFetch
}

func (f *fakeProvider) FetchSeries(ctx context.Context, externalID string) (*providers.SeriesData, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[externalID]++
	if err, ok := f.errs[externalID]; ok {
		return nil, err
	}
	if data, ok := f.responses[externalID]; ok {
		return data, nil
	}
	return nil, providers.ErrSeriesNotFound
}

func (f *fakeProvider) callCount(externalID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[externalID]
}

func payload(watermark time.Time, points ...providers.Point) *providers.SeriesData {
	wm := watermark
	return &providers.SeriesData{
		Meta: providers.SeriesMeta{
			Title:       "Test Indicator",
			Units:       "Percent",
			Frequency:   "Monthly",
			LastUpdated: &wm,
		},
		Observations: points,
	}
}

func pt(date time.Time, value string) providers.Point {
	return providers.Point{Date: date, Value: dec(value), IsOriginalRelease: true}
}
