/**
 * @description
 * FRED (Federal Reserve Economic Data) provider.
 * Two calls per series: /fred/series for metadata (including the
 * last_updated watermark) and /fred/series/observations for values.
 * FRED publishes "." for dates without a figure, and marks restatements by
 * giving them a realtime window wider than a single vintage.
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
	"time"

	"github.com/macronet-project/backend/internal/config"
)

const (
	fredSeriesPath       = "/fred/series"
	fredObservationsPath = "/fred/series/observations"
	fredTimeLayout       = "2006-01-02 15:04:05-07"
	fredDateLayout       = "2006-01-02"
)

// FRED talks to the St. Louis Fed API
type FRED struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

var _ Provider = (*FRED)(nil)

// NewFRED builds the FRED provider from configuration
func NewFRED(cfg *config.Config) *FRED {
	return &FRED{
		BaseURL: cfg.Providers.FredBaseURL,
		APIKey:  cfg.Providers.FredAPIKey,
		HTTPClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Name implements Provider
func (f *FRED) Name() string { return "fred" }

// RequestsPerFetch implements Provider. Every fetch issues one request for
// series metadata and one for the observation set.
func (f *FRED) RequestsPerFetch() int { return 2 }

type fredSeriesResponse struct {
	Seriess []struct {
		ID                 string `json:"id"`
		Title              string `json:"title"`
		Notes              string `json:"notes"`
		Units              string `json:"units"`
		Frequency          string `json:"frequency"`
		SeasonalAdjustment string `json:"seasonal_adjustment"`
		LastUpdated        string `json:"last_updated"`
		ObservationStart   string `json:"observation_start"`
		ObservationEnd     string `json:"observation_end"`
	} `json:"seriess"`
}

type fredObservationsResponse struct {
	Observations []struct {
		RealtimeStart string `json:"realtime_start"`
		RealtimeEnd   string `json:"realtime_end"`
		Date          string `json:"date"`
		Value         string `json:"value"`
	} `json:"observations"`
}

// FetchSeries implements Provider
func (f *FRED) FetchSeries(ctx context.Context, externalID string) (*SeriesData, error) {
	var meta fredSeriesResponse
	if err := f.get(ctx, fredSeriesPath, externalID, &meta); err != nil {
		return nil, err
	}
	if len(meta.Seriess) == 0 {
		return nil, ErrSeriesNotFound
	}
	s := meta.Seriess[0]

	var obs fredObservationsResponse
	if err := f.get(ctx, fredObservationsPath, externalID, &obs); err != nil {
		return nil, err
	}

	data := &SeriesData{
		Meta: SeriesMeta{
			Title:              s.Title,
			Description:        s.Notes,
			Units:              s.Units,
			Frequency:          s.Frequency,
			SeasonalAdjustment: s.SeasonalAdjustment,
		},
	}
	if t, err := time.Parse(fredTimeLayout, s.LastUpdated); err == nil {
		utc := t.UTC()
		data.Meta.LastUpdated = &utc
	}
	if t, err := time.Parse(fredDateLayout, s.ObservationStart); err == nil {
		data.Meta.StartDate = &t
	}
	if t, err := time.Parse(fredDateLayout, s.ObservationEnd); err == nil {
		data.Meta.EndDate = &t
	}

	data.Observations = make([]Point, 0, len(obs.Observations))
	for _, o := range obs.Observations {
		date, err := time.Parse(fredDateLayout, o.Date)
		if err != nil {
			continue
		}
		p := Point{
			Date: date,
			// A vintage that was never revised keeps realtime_start == realtime_end.
			IsOriginalRelease: o.RealtimeStart == o.RealtimeEnd,
		}
		if o.Value == "." {
			p.Value = missing()
		} else if v, ok := value(o.Value); ok {
			p.Value = v
		} else {
			continue
		}
		data.Observations = append(data.Observations, p)
	}
	return data, nil
}

func (f *FRED) get(ctx context.Context, path, seriesID string, out interface{}) error {
	u, err := url.Parse(f.BaseURL + path)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("series_id", seriesID)
	q.Set("api_key", f.APIKey)
	q.Set("file_type", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusNotFound:
		// FRED answers 400 for unknown series ids
		return ErrSeriesNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusTooManyRequests:
		return ErrQuotaExceeded
	default:
		return fmt.Errorf("fred api error: status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
