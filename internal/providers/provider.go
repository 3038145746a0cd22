/**
 * @description
 * Provider abstraction for external statistical APIs.
 * Each provider (FRED, BLS, Census, World Bank) normalizes its native
 * payload shape into the common SeriesData form consumed by the series
 * synchronizer, so provider quirks (missing-value markers, period codes,
 * envelope formats) never leak past this package.
 *
 * @dependencies
 * - github.com/shopspring/decimal
 */

package providers

import (
	"context"
	"errors"
	"time"

	"github.com/macronet-project/backend/internal/config"
	"github.com/shopspring/decimal"
)

const requestTimeout = 15 * time.Second

var (
	// ErrSeriesNotFound means the provider no longer publishes the series.
	// The synchronizer soft-deactivates the local series on this error.
	ErrSeriesNotFound = errors.New("series not found")
	// ErrAuthFailed means the configured API key was rejected. Systemic.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrQuotaExceeded means the provider throttled us despite local rate
	// limiting. Systemic: the source's crawl aborts until the next cadence.
	ErrQuotaExceeded = errors.New("provider quota exceeded")
)

// Point is one normalized observation. A point with Value.Valid == false is
// a placeholder the provider published without a figure.
type Point struct {
	Date              time.Time
	Value             decimal.NullDecimal
	IsOriginalRelease bool
}

// SeriesMeta is the normalized series metadata
type SeriesMeta struct {
	Title              string
	Description        string
	Units              string
	Frequency          string
	SeasonalAdjustment string
	// LastUpdated is the provider-asserted freshness watermark. Providers
	// without one (BLS, Census) report the latest observation date instead.
	LastUpdated *time.Time
	StartDate   *time.Time
	EndDate     *time.Time
}

// SeriesData is one fetched series: metadata plus its observations in the
// order the provider returned them.
type SeriesData struct {
	Meta         SeriesMeta
	Observations []Point
}

// Provider fetches one series in normalized form. Implementations must be
// safe for concurrent use; the crawler calls them from multiple workers.
// RequestsPerFetch is the number of HTTP requests one FetchSeries issues,
// so the caller can charge the source's rate budget accurately.
type Provider interface {
	Name() string
	RequestsPerFetch() int
	FetchSeries(ctx context.Context, externalID string) (*SeriesData, error)
}

// BuildRegistry maps registry source names to provider implementations.
// A source whose name has no entry here fails its crawls systemically
// until a provider is added.
func BuildRegistry(cfg *config.Config) map[string]Provider {
	return map[string]Provider{
		"fred":       NewFRED(cfg),
		"bls":        NewBLS(cfg),
		"census":     NewCensus(cfg),
		"world_bank": NewWorldBank(cfg),
	}
}

// value builds a present decimal point value from a string, returning
// ok=false when the figure does not parse.
func value(raw string) (decimal.NullDecimal, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, false
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, true
}

// missing is the null observation value
func missing() decimal.NullDecimal {
	return decimal.NullDecimal{}
}
