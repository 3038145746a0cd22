package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/macronet-project/backend/internal/config"
)

func testConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Providers.FredBaseURL = baseURL
	cfg.Providers.FredAPIKey = "test-key"
	cfg.Providers.BLSBaseURL = baseURL
	cfg.Providers.BLSAPIKey = "test-key"
	cfg.Providers.CensusBaseURL = baseURL
	cfg.Providers.CensusAPIKey = "test-key"
	cfg.Providers.WorldBankBaseURL = baseURL
	return cfg
}

func TestFREDNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case fredSeriesPath:
			w.Write([]byte(`{"seriess":[{"id":"GDP","title":"Gross Domestic Product",
				"notes":"Quarterly GDP","units":"Billions of Dollars","frequency":"Quarterly",
				"seasonal_adjustment":"Seasonally Adjusted Annual Rate",
				"last_updated":"2024-03-28 07:51:02-05",
				"observation_start":"1947-01-01","observation_end":"2023-10-01"}]}`))
		case fredObservationsPath:
			w.Write([]byte(`{"observations":[
				{"realtime_start":"2024-03-28","realtime_end":"2024-03-28","date":"2023-07-01","value":"27610.128"},
				{"realtime_start":"2024-01-25","realtime_end":"2024-03-27","date":"2023-10-01","value":"27938.9"},
				{"realtime_start":"2024-03-28","realtime_end":"2024-03-28","date":"2023-04-01","value":"."}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewFRED(testConfig(srv.URL))
	data, err := p.FetchSeries(context.Background(), "GDP")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if data.Meta.Title != "Gross Domestic Product" {
		t.Errorf("title = %q", data.Meta.Title)
	}
	if data.Meta.LastUpdated == nil {
		t.Fatal("watermark not parsed")
	}
	if got := data.Meta.LastUpdated.UTC().Format("2006-01-02 15:04"); got != "2024-03-28 12:51" {
		t.Errorf("watermark = %s, want 2024-03-28 12:51 UTC", got)
	}
	if len(data.Observations) != 3 {
		t.Fatalf("got %d observations, want 3", len(data.Observations))
	}
	if !data.Observations[0].IsOriginalRelease {
		t.Error("matching realtime window should be an original release")
	}
	if data.Observations[1].IsOriginalRelease {
		t.Error("widened realtime window should not be an original release")
	}
	if data.Observations[2].Value.Valid {
		t.Error("a '.' value must normalize to a missing observation")
	}
	if got := data.Observations[0].Value.Decimal.String(); got != "27610.128" {
		t.Errorf("value = %s", got)
	}
}

func TestFREDUnknownSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewFRED(testConfig(srv.URL))
	if _, err := p.FetchSeries(context.Background(), "NOPE"); err != ErrSeriesNotFound {
		t.Fatalf("expected ErrSeriesNotFound, got %v", err)
	}
}

func TestBLSPeriodDecoding(t *testing.T) {
	cases := []struct {
		year, period string
		want         string
		ok           bool
	}{
		{"2023", "M01", "2023-01-15", true},
		{"2023", "M12", "2023-12-15", true},
		{"2023", "M13", "", false}, // annual average row, skipped
		{"2023", "Q01", "2023-03-31", true},
		{"2023", "Q02", "2023-06-30", true},
		{"2023", "Q03", "2023-09-30", true},
		{"2023", "Q04", "2023-12-31", true},
		{"2023", "S01", "2023-06-30", true},
		{"2023", "S02", "2023-12-31", true},
		{"2023", "A01", "2023-12-31", true},
		{"2023", "X01", "", false},
	}
	for _, tc := range cases {
		got, ok := parseBLSDate(tc.year, tc.period)
		if ok != tc.ok {
			t.Errorf("%s/%s: ok = %v, want %v", tc.year, tc.period, ok, tc.ok)
			continue
		}
		if ok && got.Format("2006-01-02") != tc.want {
			t.Errorf("%s/%s = %s, want %s", tc.year, tc.period, got.Format("2006-01-02"), tc.want)
		}
	}
}

func TestBLSNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Write([]byte(`{"status":"REQUEST_SUCCEEDED","message":[],"Results":{"series":[
			{"seriesID":"LNS14000000",
			 "catalog":{"series_title":"Unemployment Rate","survey_name":"CPS","seasonality":"Seasonally Adjusted"},
			 "data":[
				{"year":"2024","period":"M02","value":"3.9"},
				{"year":"2024","period":"M01","value":"3.7"},
				{"year":"2023","period":"M13","value":"3.6"}]}]}}`))
	}))
	defer srv.Close()

	p := NewBLS(testConfig(srv.URL))
	data, err := p.FetchSeries(context.Background(), "LNS14000000")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if data.Meta.Title != "Unemployment Rate" {
		t.Errorf("title = %q", data.Meta.Title)
	}
	if len(data.Observations) != 2 {
		t.Fatalf("M13 must be skipped; got %d observations", len(data.Observations))
	}
	if data.Meta.LastUpdated == nil || data.Meta.LastUpdated.Format("2006-01-02") != "2024-02-15" {
		t.Errorf("watermark should be the newest period, got %v", data.Meta.LastUpdated)
	}
}

func TestBLSFailureClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"REQUEST_NOT_PROCESSED","message":["Your registrationkey=bad is invalid."],"Results":{}}`))
	}))
	defer srv.Close()

	p := NewBLS(testConfig(srv.URL))
	if _, err := p.FetchSeries(context.Background(), "LNS14000000"); err != ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestWorldBankNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/country/USA/indicator/NY.GDP.MKTP.KD.ZG" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`[{"page":1,"pages":1,"per_page":20000,"total":3,"lastupdated":"2024-03-28"},
			[{"indicator":{"id":"NY.GDP.MKTP.KD.ZG","value":"GDP growth (annual %)"},
			  "country":{"id":"US","value":"United States"},"countryiso3code":"USA",
			  "date":"2023","value":2.5,"unit":""},
			 {"indicator":{"id":"NY.GDP.MKTP.KD.ZG","value":"GDP growth (annual %)"},
			  "country":{"id":"US","value":"United States"},"countryiso3code":"USA",
			  "date":"2022","value":null,"unit":""},
			 {"indicator":{"id":"NY.GDP.MKTP.KD.ZG","value":"GDP growth (annual %)"},
			  "country":{"id":"US","value":"United States"},"countryiso3code":"USA",
			  "date":"2021","value":5.8,"unit":""}]]`))
	}))
	defer srv.Close()

	p := NewWorldBank(testConfig(srv.URL))
	data, err := p.FetchSeries(context.Background(), "USA:NY.GDP.MKTP.KD.ZG")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if data.Meta.Title != "GDP growth (annual %)" {
		t.Errorf("title = %q", data.Meta.Title)
	}
	if data.Meta.LastUpdated == nil || data.Meta.LastUpdated.Format("2006-01-02") != "2024-03-28" {
		t.Errorf("watermark = %v", data.Meta.LastUpdated)
	}
	if len(data.Observations) != 3 {
		t.Fatalf("got %d observations", len(data.Observations))
	}
	if data.Observations[0].Date.Format("2006-01-02") != "2023-12-31" {
		t.Errorf("annual date = %s", data.Observations[0].Date.Format("2006-01-02"))
	}
	if data.Observations[1].Value.Valid {
		t.Error("null value must normalize to a missing observation")
	}
	if got := data.Observations[2].Value.Decimal.String(); got != "5.8" {
		t.Errorf("value = %s", got)
	}
}

func TestWorldBankBadExternalID(t *testing.T) {
	p := NewWorldBank(testConfig("http://unused"))
	if _, err := p.FetchSeries(context.Background(), "NY.GDP.MKTP.KD.ZG"); err == nil {
		t.Fatal("expected an error for an id without a country prefix")
	}
}

func TestCensusNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/timeseries/eits/marts" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("get") != "cell_value" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[["cell_value","time"],
			["526697","2023-01"],
			["531741","2023-02"],
			["6coffee","2023-03"],
			["540000","2023"]]`))
	}))
	defer srv.Close()

	p := NewCensus(testConfig(srv.URL))
	data, err := p.FetchSeries(context.Background(), "timeseries/eits/marts:cell_value")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(data.Observations) != 4 {
		t.Fatalf("got %d observations, want 4", len(data.Observations))
	}
	if data.Observations[0].Date.Format("2006-01-02") != "2023-01-15" {
		t.Errorf("monthly date = %s", data.Observations[0].Date.Format("2006-01-02"))
	}
	if data.Observations[2].Value.Valid {
		t.Error("an unparseable cell must normalize to a missing observation")
	}
	if data.Observations[3].Date.Format("2006-01-02") != "2023-12-31" {
		t.Errorf("annual date = %s", data.Observations[3].Date.Format("2006-01-02"))
	}
	if data.Meta.LastUpdated == nil || !data.Meta.LastUpdated.Equal(data.Observations[3].Date) {
		t.Errorf("watermark should be the latest period, got %v", data.Meta.LastUpdated)
	}
}

func TestCensusMissingColumn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[["other","time"],["1","2023-01"]]`))
	}))
	defer srv.Close()

	p := NewCensus(testConfig(srv.URL))
	if _, err := p.FetchSeries(context.Background(), "timeseries/eits/marts:cell_value"); err == nil {
		t.Fatal("expected an error when the requested variable column is absent")
	}
}

func TestProviderTimeoutsAreScopedToContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewFRED(testConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := p.FetchSeries(ctx, "GDP"); err == nil {
		t.Fatal("expected a context deadline error")
	}
}
