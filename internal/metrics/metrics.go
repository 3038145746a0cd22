/**
 * @description
 * Prometheus metrics for the crawler and analysis engine.
 * All metrics are registered with promauto at package init and exposed by
 * the API at /metrics.
 *
 * @dependencies
 * - github.com/prometheus/client_golang/prometheus
 * - github.com/prometheus/client_golang/prometheus/promauto
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CrawlsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macronet_crawls_started_total",
			Help: "Crawls started, by source",
		},
		[]string{"source"},
	)
	CrawlsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macronet_crawls_completed_total",
			Help: "Crawls finished, by source and outcome (completed|failed)",
		},
		[]string{"source", "outcome"},
	)
	CrawlDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "macronet_crawl_duration_seconds",
			Help:    "End-to-end crawl duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"source"},
	)
	CrawlsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "macronet_crawls_in_flight",
			Help: "Crawls currently holding a source lease",
		},
	)
	SeriesSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macronet_series_synced_total",
			Help: "Per-series sync outcomes, by source and disposition (created|updated|skipped|failed)",
		},
		[]string{"source", "disposition"},
	)
	ObservationsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macronet_observations_upserted_total",
			Help: "Observations written (inserted or restated), by source",
		},
		[]string{"source"},
	)
	RateLimitTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macronet_rate_limit_timeouts_total",
			Help: "Rate-limiter token waits that hit the acquire timeout, by source",
		},
		[]string{"source"},
	)
	AnalysisPairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macronet_analysis_pairs_total",
			Help: "Correlation pair outcomes per pass (computed|skipped|insufficient|failed)",
		},
		[]string{"outcome"},
	)
	AnalysisPassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "macronet_analysis_pass_duration_seconds",
			Help:    "Analysis pass duration in seconds, by pass kind",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"pass"},
	)
)
