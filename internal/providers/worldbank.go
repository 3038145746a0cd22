/**
 * @description
 * World Bank open data provider.
 * Series are addressed as "<ISO3>:<indicator code>" because a World Bank
 * series only exists per country. The API wraps rows in a two-element JSON
 * array [paging envelope, rows]; nulls are gaps, and the envelope's
 * lastupdated field is the freshness watermark.
 *
 * @dependencies
 * - net/http
 * - encoding/json
 * - backend/internal/config
 */

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/macronet-project/backend/internal/config"
	"github.com/shopspring/decimal"
)

const worldBankDateLayout = "2006-01-02"

// WorldBank talks to the World Bank v2 country indicator API. No API key.
type WorldBank struct {
	BaseURL    string
	HTTPClient *http.Client
}

var _ Provider = (*WorldBank)(nil)

// NewWorldBank builds the World Bank provider from configuration
func NewWorldBank(cfg *config.Config) *WorldBank {
	return &WorldBank{
		BaseURL: cfg.Providers.WorldBankBaseURL,
		HTTPClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Name implements Provider
func (w *WorldBank) Name() string { return "world_bank" }

// RequestsPerFetch implements Provider
func (w *WorldBank) RequestsPerFetch() int { return 1 }

type worldBankEnvelope struct {
	Page        int    `json:"page"`
	Pages       int    `json:"pages"`
	Total       int    `json:"total"`
	LastUpdated string `json:"lastupdated"`
}

type worldBankRow struct {
	Indicator struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"indicator"`
	Country struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"country"`
	CountryISO3 string           `json:"countryiso3code"`
	Date        string           `json:"date"`
	Value       *decimal.Decimal `json:"value"`
	Unit        string           `json:"unit"`
}

// FetchSeries implements Provider. externalID is "<ISO3>:<indicator>".
func (w *WorldBank) FetchSeries(ctx context.Context, externalID string) (*SeriesData, error) {
	iso, indicator, ok := strings.Cut(externalID, ":")
	if !ok || iso == "" || indicator == "" {
		return nil, fmt.Errorf("world bank series id %q must be ISO3:indicator", externalID)
	}

	u, err := url.Parse(fmt.Sprintf("%s/v2/country/%s/indicator/%s", w.BaseURL, url.PathEscape(iso), url.PathEscape(indicator)))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("format", "json")
	q.Set("per_page", "20000")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrSeriesNotFound
	case http.StatusTooManyRequests:
		return nil, ErrQuotaExceeded
	default:
		return nil, fmt.Errorf("world bank api error: status %d", resp.StatusCode)
	}

	var parts []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&parts); err != nil {
		return nil, err
	}
	// A single-element body carries an error envelope, e.g. an invalid
	// indicator code.
	if len(parts) < 2 {
		return nil, ErrSeriesNotFound
	}

	var envelope worldBankEnvelope
	if err := json.Unmarshal(parts[0], &envelope); err != nil {
		return nil, err
	}
	var rows []worldBankRow
	if err := json.Unmarshal(parts[1], &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrSeriesNotFound
	}

	first := rows[0]
	data := &SeriesData{
		Meta: SeriesMeta{
			Title:       first.Indicator.Value,
			Description: fmt.Sprintf("World Bank indicator %s for %s", first.Indicator.ID, first.Country.Value),
			Units:       first.Unit,
			Frequency:   "Annual",
		},
	}
	if t, err := time.Parse(worldBankDateLayout, envelope.LastUpdated); err == nil {
		data.Meta.LastUpdated = &t
	}

	data.Observations = make([]Point, 0, len(rows))
	var minDate, maxDate time.Time
	for _, row := range rows {
		date, ok := parseWorldBankDate(row.Date)
		if !ok {
			continue
		}
		p := Point{Date: date, IsOriginalRelease: true}
		if row.Value != nil {
			p.Value = decimal.NullDecimal{Decimal: *row.Value, Valid: true}
		} else {
			p.Value = missing()
		}
		data.Observations = append(data.Observations, p)
		if minDate.IsZero() || date.Before(minDate) {
			minDate = date
		}
		if date.After(maxDate) {
			maxDate = date
		}
	}
	if !minDate.IsZero() {
		data.Meta.StartDate = &minDate
		data.Meta.EndDate = &maxDate
	}
	return data, nil
}

// parseWorldBankDate handles "2022" (annual, period end), "2022Q1" (quarter
// end) and "2022M01" (mid-month, matching the BLS monthly convention).
func parseWorldBankDate(raw string) (time.Time, bool) {
	if qi := strings.IndexByte(raw, 'Q'); qi > 0 {
		year, err := strconv.Atoi(raw[:qi])
		if err != nil {
			return time.Time{}, false
		}
		quarter, err := strconv.Atoi(raw[qi+1:])
		if err != nil || quarter < 1 || quarter > 4 {
			return time.Time{}, false
		}
		month := time.Month(quarter * 3)
		return endOfMonth(year, month), true
	}
	if mi := strings.IndexByte(raw, 'M'); mi > 0 {
		year, err := strconv.Atoi(raw[:mi])
		if err != nil {
			return time.Time{}, false
		}
		month, err := strconv.Atoi(raw[mi+1:])
		if err != nil || month < 1 || month > 12 {
			return time.Time{}, false
		}
		return time.Date(year, time.Month(month), 15, 0, 0, 0, 0, time.UTC), true
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC), true
}

func endOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}
