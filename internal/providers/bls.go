/**
 * @description
 * BLS (Bureau of Labor Statistics) provider.
 * Single POST per series against the v2 timeseries endpoint. BLS encodes
 * dates as (year, period) codes: monthly M01-M12, quarterly Q01-Q04,
 * semiannual S01/S02, annual A01. Those are normalized to concrete dates
 * here. BLS carries no freshness watermark, so the latest observation date
 * stands in for one.
 *
 * @dependencies
 * - net/http
 * - encoding/json
 * - backend/internal/config
 */

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/macronet-project/backend/internal/config"
)

const (
	blsDataPath = "/publicAPI/v2/timeseries/data/"
	// BLS allows at most 20 years per request for registered callers
	blsYearSpan = 20
)

// BLS talks to the Bureau of Labor Statistics public API
type BLS struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	// now is injectable for deterministic year-window tests
	now func() time.Time
}

var _ Provider = (*BLS)(nil)

// NewBLS builds the BLS provider from configuration
func NewBLS(cfg *config.Config) *BLS {
	return &BLS{
		BaseURL: cfg.Providers.BLSBaseURL,
		APIKey:  cfg.Providers.BLSAPIKey,
		HTTPClient: &http.Client{
			Timeout: requestTimeout,
		},
		now: time.Now,
	}
}

// Name implements Provider
func (b *BLS) Name() string { return "bls" }

// RequestsPerFetch implements Provider
func (b *BLS) RequestsPerFetch() int { return 1 }

type blsRequest struct {
	SeriesID        []string `json:"seriesid"`
	StartYear       string   `json:"startyear"`
	EndYear         string   `json:"endyear"`
	Catalog         bool     `json:"catalog"`
	RegistrationKey string   `json:"registrationkey,omitempty"`
}

type blsResponse struct {
	Status  string   `json:"status"`
	Message []string `json:"message"`
	Results struct {
		Series []struct {
			SeriesID string `json:"seriesID"`
			Catalog  *struct {
				SeriesTitle string `json:"series_title"`
				SurveyName  string `json:"survey_name"`
				Seasonality string `json:"seasonality"`
			} `json:"catalog"`
			Data []struct {
				Year   string `json:"year"`
				Period string `json:"period"`
				Value  string `json:"value"`
			} `json:"data"`
		} `json:"series"`
	} `json:"Results"`
}

// FetchSeries implements Provider
func (b *BLS) FetchSeries(ctx context.Context, externalID string) (*SeriesData, error) {
	endYear := b.now().Year()
	payload := blsRequest{
		SeriesID:        []string{externalID},
		StartYear:       strconv.Itoa(endYear - blsYearSpan + 1),
		EndYear:         strconv.Itoa(endYear),
		Catalog:         true,
		RegistrationKey: b.APIKey,
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+blsDataPath, bytes.NewBuffer(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrAuthFailed
	case http.StatusTooManyRequests:
		return nil, ErrQuotaExceeded
	default:
		return nil, fmt.Errorf("bls api error: status %d", resp.StatusCode)
	}

	var body blsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Status != "REQUEST_SUCCEEDED" {
		return nil, classifyBLSFailure(body.Message)
	}
	if len(body.Results.Series) == 0 || len(body.Results.Series[0].Data) == 0 {
		return nil, ErrSeriesNotFound
	}
	s := body.Results.Series[0]

	data := &SeriesData{
		Meta: SeriesMeta{Title: externalID, Frequency: "Monthly"},
	}
	if s.Catalog != nil {
		if s.Catalog.SeriesTitle != "" {
			data.Meta.Title = s.Catalog.SeriesTitle
		}
		data.Meta.Description = s.Catalog.SurveyName
		data.Meta.SeasonalAdjustment = s.Catalog.Seasonality
	}

	data.Observations = make([]Point, 0, len(s.Data))
	var earliest, latest time.Time
	for _, d := range s.Data {
		date, ok := parseBLSDate(d.Year, d.Period)
		if !ok {
			continue
		}
		v, ok := value(d.Value)
		if !ok {
			continue
		}
		data.Observations = append(data.Observations, Point{
			Date:              date,
			Value:             v,
			IsOriginalRelease: true,
		})
		if earliest.IsZero() || date.Before(earliest) {
			earliest = date
		}
		if date.After(latest) {
			latest = date
		}
	}
	if !latest.IsZero() {
		// BLS has no freshness field; the newest period stands in
		data.Meta.LastUpdated = &latest
		data.Meta.StartDate = &earliest
		data.Meta.EndDate = &latest
	}
	return data, nil
}

// parseBLSDate turns a (year, period) code into a concrete date: monthly
// periods use mid-month, quarterly and semiannual periods use the period's
// last day. M13 (annual average rows mixed into monthly series) is skipped.
func parseBLSDate(yearStr, period string) (time.Time, bool) {
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, false
	}
	if len(period) != 3 {
		return time.Time{}, false
	}
	num, err := strconv.Atoi(period[1:])
	if err != nil {
		return time.Time{}, false
	}

	switch period[0] {
	case 'M':
		if num < 1 || num > 12 {
			return time.Time{}, false
		}
		return time.Date(year, time.Month(num), 15, 0, 0, 0, 0, time.UTC), true
	case 'Q':
		switch num {
		case 1:
			return time.Date(year, time.March, 31, 0, 0, 0, 0, time.UTC), true
		case 2:
			return time.Date(year, time.June, 30, 0, 0, 0, 0, time.UTC), true
		case 3:
			return time.Date(year, time.September, 30, 0, 0, 0, 0, time.UTC), true
		case 4:
			return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC), true
		}
		return time.Time{}, false
	case 'S':
		switch num {
		case 1:
			return time.Date(year, time.June, 30, 0, 0, 0, 0, time.UTC), true
		case 2:
			return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC), true
		}
		return time.Time{}, false
	case 'A':
		return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

func classifyBLSFailure(messages []string) error {
	joined := strings.ToLower(strings.Join(messages, "; "))
	switch {
	case strings.Contains(joined, "registration"):
		return ErrAuthFailed
	case strings.Contains(joined, "threshold"):
		return ErrQuotaExceeded
	case strings.Contains(joined, "not exist"), strings.Contains(joined, "invalid series"):
		return ErrSeriesNotFound
	default:
		return fmt.Errorf("bls request not processed: %s", joined)
	}
}
