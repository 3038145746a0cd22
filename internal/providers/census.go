/**
 * @description
 * U.S. Census Bureau provider for economic indicator time series.
 * Series are addressed as "<dataset path>:<variable>", e.g.
 * "timeseries/eits/marts:cell_value". The API returns a row-oriented JSON
 * array of string cells whose first row is the header; this provider keys
 * cells by header position and normalizes the "time" column.
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
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/macronet-project/backend/internal/config"
)

// Census talks to the Census Bureau data API
type Census struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

var _ Provider = (*Census)(nil)

// NewCensus builds the Census provider from configuration
func NewCensus(cfg *config.Config) *Census {
	return &Census{
		BaseURL: cfg.Providers.CensusBaseURL,
		APIKey:  cfg.Providers.CensusAPIKey,
		HTTPClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Name implements Provider
func (c *Census) Name() string { return "census" }

// RequestsPerFetch implements Provider
func (c *Census) RequestsPerFetch() int { return 1 }

// FetchSeries implements Provider. externalID is "<dataset>:<variable>".
func (c *Census) FetchSeries(ctx context.Context, externalID string) (*SeriesData, error) {
	dataset, variable, ok := strings.Cut(externalID, ":")
	if !ok || dataset == "" || variable == "" {
		return nil, fmt.Errorf("census series id %q must be dataset:variable", externalID)
	}

	u, err := url.Parse(fmt.Sprintf("%s/data/%s", c.BaseURL, dataset))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("get", variable)
	q.Set("time", "from 1990")
	if c.APIKey != "" {
		q.Set("key", c.APIKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusNotFound:
		// The API reports both unknown datasets and unknown variables as
		// client errors with a plain-text reason; a key problem also comes
		// back as 400.
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if strings.Contains(strings.ToLower(string(reason)), "key") {
			return nil, ErrAuthFailed
		}
		return nil, ErrSeriesNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrAuthFailed
	case http.StatusTooManyRequests:
		return nil, ErrQuotaExceeded
	default:
		return nil, fmt.Errorf("census api error: status %d", resp.StatusCode)
	}

	var table [][]string
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return nil, err
	}
	if len(table) < 2 {
		return nil, ErrSeriesNotFound
	}

	header := table[0]
	valueCol, timeCol := -1, -1
	for i, name := range header {
		switch name {
		case variable:
			valueCol = i
		case "time":
			timeCol = i
		}
	}
	if valueCol < 0 || timeCol < 0 {
		return nil, fmt.Errorf("census response for %s lacks %q or time column", externalID, variable)
	}

	data := &SeriesData{
		Meta: SeriesMeta{
			Title:       fmt.Sprintf("%s %s", dataset, variable),
			Description: fmt.Sprintf("Census Bureau %s, variable %s", dataset, variable),
			Frequency:   "Monthly",
		},
	}

	data.Observations = make([]Point, 0, len(table)-1)
	var minDate, maxDate time.Time
	for _, row := range table[1:] {
		if len(row) <= valueCol || len(row) <= timeCol {
			continue
		}
		date, ok := parseCensusTime(row[timeCol])
		if !ok {
			continue
		}
		p := Point{Date: date, IsOriginalRelease: true}
		if v, ok := value(row[valueCol]); ok {
			p.Value = v
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
	if len(data.Observations) == 0 {
		return nil, ErrSeriesNotFound
	}
	data.Meta.StartDate = &minDate
	data.Meta.EndDate = &maxDate
	// no provider watermark; the latest period stands in
	data.Meta.LastUpdated = &maxDate
	return data, nil
}

// parseCensusTime handles "YYYY-MM" (mid-month, matching the BLS monthly
// convention) and "YYYY" (period end).
func parseCensusTime(raw string) (time.Time, bool) {
	if yearStr, monthStr, ok := strings.Cut(raw, "-"); ok {
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			return time.Time{}, false
		}
		month, err := strconv.Atoi(monthStr)
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
