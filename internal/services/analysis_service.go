/**
 * @description
 * Network analysis engine.
 * Computes pairwise Pearson correlations between country indicator series,
 * detects lagged leading-indicator relationships, and serves the derived
 * views (correlations, leading indicators, correlation centrality, country
 * health) with Redis read-through caching.
 *
 * Correlation facts are keyed by canonical country pair + category + the
 * exact window they cover; windows are pinned to calendar years so repeated
 * passes within a year address the same stored fact instead of spawning a
 * new row per day. A pair is recomputed only when both of its series have
 * merged new observations since the fact was last computed.
 *
 * Leading indicators use hysteresis: a newly detected candidate replaces the
 * current one only when its strength exceeds the incumbent's by a
 * configured margin, and replaced rows are superseded, never deleted.
 *
 * @dependencies
 * - github.com/montanaflynn/stats: Pearson correlation
 * - github.com/redis/go-redis/v9: read-through caches
 * - gorm.io/gorm + clause
 *
 * @notes
 * - Pairs with fewer than the configured minimum of overlapping
 *   observations are recorded as "not computed"; they never abort a pass.
 * - When several active series map to the same (country, category), the
 *   oldest registration wins; the rest are ignored by analysis so derived
 *   facts stay uniquely keyed.
 */

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/macronet-project/backend/internal/apperr"
	"github.com/macronet-project/backend/internal/config"
	"github.com/macronet-project/backend/internal/db"
	"github.com/macronet-project/backend/internal/logger"
	"github.com/macronet-project/backend/internal/metrics"
	"github.com/macronet-project/backend/internal/models"
)

const (
	// CacheKeyCorrelations caches the unfiltered correlation listing.
	CacheKeyCorrelations = "analysis:correlations"
	// CacheKeyCentrality caches the centrality ranking.
	CacheKeyCentrality = "analysis:centrality"
	// analysisCacheTTL bounds staleness between passes.
	analysisCacheTTL = 5 * time.Minute

	defaultCorrelationLimit = 100
)

// Indicator categories with first-class meaning to the health score.
const (
	CategoryGDPGrowth    = "gdp_growth"
	CategoryUnemployment = "unemployment"
	CategoryInflation    = "inflation"
)

// AnalysisService computes and serves the derived economic network.
type AnalysisService struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Notifier *Notifier
	Cfg      config.AnalysisConfig

	now func() time.Time
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(db *gorm.DB, rdb *redis.Client, notifier *Notifier, cfg config.AnalysisConfig) *AnalysisService {
	return &AnalysisService{DB: db, Redis: rdb, Notifier: notifier, Cfg: cfg, now: time.Now}
}

// AnalysisSummary aggregates one full pass.
type AnalysisSummary struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	PairsComputed     int `json:"pairs_computed"`
	PairsSkipped      int `json:"pairs_skipped"`
	PairsInsufficient int `json:"pairs_insufficient"`
	PairsFailed       int `json:"pairs_failed"`

	LeadingDetected   int `json:"leading_detected"`
	LeadingSuperseded int `json:"leading_superseded"`
	LeadingRetained   int `json:"leading_retained"`
}

// analysisSeries couples one elected series with its in-window values.
type analysisSeries struct {
	Series models.EconomicSeries
	Values map[time.Time]float64
}

// ErrAnalysisInProgress is returned when another process holds the
// analysis-pass lock.
var ErrAnalysisInProgress = errors.New("analysis pass already in progress")

// RunFullPass runs the correlation pass followed by the leading-indicator
// pass over the current window, then invalidates derived caches and
// publishes a summary event. Partial progress persists if a pass errors.
// A cross-process advisory lock keeps concurrent passes from interleaving
// their supersede chains.
func (s *AnalysisService) RunFullPass(ctx context.Context) (*AnalysisSummary, error) {
	var summary *AnalysisSummary
	ran, err := db.WithAdvisoryLock(ctx, s.DB, db.LockKeyAnalysisPass, func() error {
		var passErr error
		summary, passErr = s.runFullPass(ctx)
		return passErr
	})
	if err != nil {
		return summary, err
	}
	if !ran {
		return nil, ErrAnalysisInProgress
	}
	return summary, nil
}

func (s *AnalysisService) runFullPass(ctx context.Context) (*AnalysisSummary, error) {
	started := s.now()
	windowStart, windowEnd := s.windowBounds()
	summary := &AnalysisSummary{WindowStart: windowStart, WindowEnd: windowEnd}

	set, err := s.loadAnalysisSeries(ctx, windowStart, windowEnd)
	if err != nil {
		return summary, err
	}
	logger.Info("AnalysisService: pass started over %d series, window %s..%s",
		len(set), windowStart.Format("2006-01-02"), windowEnd.Format("2006-01-02"))

	if err := s.correlationPass(ctx, set, windowStart, windowEnd, summary); err != nil {
		return summary, err
	}
	if err := s.leadingIndicatorPass(ctx, set, summary); err != nil {
		return summary, err
	}

	s.invalidateCaches(ctx)
	elapsed := time.Since(started)
	metrics.AnalysisPassDuration.WithLabelValues("full").Observe(elapsed.Seconds())
	logger.Info("AnalysisService: pass complete in %s (correlations: %d computed, %d skipped, %d insufficient, %d failed; leading: %d new, %d superseded, %d retained)",
		elapsed.Round(time.Millisecond),
		summary.PairsComputed, summary.PairsSkipped, summary.PairsInsufficient, summary.PairsFailed,
		summary.LeadingDetected, summary.LeadingSuperseded, summary.LeadingRetained)

	s.Notifier.Publish(ctx, EventAnalysisCompleted, "", summary)
	return summary, nil
}

// RunCorrelationPass recomputes pairwise correlation facts only, for
// targeted operator backfills.
func (s *AnalysisService) RunCorrelationPass(ctx context.Context) (*AnalysisSummary, error) {
	return s.runSubPass(ctx, func(set []analysisSeries, windowStart, windowEnd time.Time, summary *AnalysisSummary) error {
		return s.correlationPass(ctx, set, windowStart, windowEnd, summary)
	})
}

// RunLeadingPass recomputes leading-indicator facts only.
func (s *AnalysisService) RunLeadingPass(ctx context.Context) (*AnalysisSummary, error) {
	return s.runSubPass(ctx, func(set []analysisSeries, _, _ time.Time, summary *AnalysisSummary) error {
		return s.leadingIndicatorPass(ctx, set, summary)
	})
}

// runSubPass loads the current window and runs one targeted pass under the
// same advisory lock as the full pass, since both write the same tables.
func (s *AnalysisService) runSubPass(ctx context.Context, pass func(set []analysisSeries, windowStart, windowEnd time.Time, summary *AnalysisSummary) error) (*AnalysisSummary, error) {
	var summary *AnalysisSummary
	ran, err := db.WithAdvisoryLock(ctx, s.DB, db.LockKeyAnalysisPass, func() error {
		windowStart, windowEnd := s.windowBounds()
		summary = &AnalysisSummary{WindowStart: windowStart, WindowEnd: windowEnd}
		set, loadErr := s.loadAnalysisSeries(ctx, windowStart, windowEnd)
		if loadErr != nil {
			return loadErr
		}
		if passErr := pass(set, windowStart, windowEnd, summary); passErr != nil {
			return passErr
		}
		s.invalidateCaches(ctx)
		return nil
	})
	if err != nil {
		return summary, err
	}
	if !ran {
		return nil, ErrAnalysisInProgress
	}
	return summary, nil
}

// windowBounds pins the correlation window to calendar years: the window
// ends on Dec 31 of the current year and spans WindowYears calendar years.
func (s *AnalysisService) windowBounds() (time.Time, time.Time) {
	year := s.now().UTC().Year()
	start := time.Date(year-s.Cfg.WindowYears+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	return start, end
}

// loadAnalysisSeries elects one active series per (country, category),
// oldest registration first, and loads its non-null in-window values.
func (s *AnalysisService) loadAnalysisSeries(ctx context.Context, windowStart, windowEnd time.Time) ([]analysisSeries, error) {
	var rows []models.EconomicSeries
	err := s.DB.WithContext(ctx).
		Where("is_active = ? AND country_code IS NOT NULL AND indicator_category IS NOT NULL", true).
		Order("created_at asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing analyzable series: %w", err)
	}

	type slot struct{ country, category string }
	elected := make([]models.EconomicSeries, 0, len(rows))
	seen := make(map[slot]bool, len(rows))
	for _, row := range rows {
		key := slot{*row.CountryCode, *row.IndicatorCategory}
		if seen[key] {
			logger.Debug("AnalysisService: series %s shadowed by an older registration for %s/%s",
				row.ExternalID, key.country, key.category)
			continue
		}
		seen[key] = true
		elected = append(elected, row)
	}
	if len(elected) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(elected))
	for _, e := range elected {
		ids = append(ids, e.ID)
	}
	var obs []models.Observation
	err = s.DB.WithContext(ctx).
		Where("series_id IN ? AND date >= ? AND date <= ?", ids, windowStart, windowEnd).
		Find(&obs).Error
	if err != nil {
		return nil, fmt.Errorf("loading window observations: %w", err)
	}

	valuesBySeries := make(map[string]map[time.Time]float64, len(elected))
	for _, o := range obs {
		if !o.Value.Valid {
			continue
		}
		m, ok := valuesBySeries[o.SeriesID.String()]
		if !ok {
			m = make(map[time.Time]float64)
			valuesBySeries[o.SeriesID.String()] = m
		}
		m[normalizeObservationDate(o.Date)] = o.Value.Decimal.InexactFloat64()
	}

	set := make([]analysisSeries, 0, len(elected))
	for _, e := range elected {
		values := valuesBySeries[e.ID.String()]
		if values == nil {
			values = map[time.Time]float64{}
		}
		set = append(set, analysisSeries{Series: e, Values: values})
	}
	return set, nil
}

type pairKey struct {
	A, B, Category string
}

// correlationPass computes pairwise Pearson correlations per category.
func (s *AnalysisService) correlationPass(ctx context.Context, set []analysisSeries, windowStart, windowEnd time.Time, summary *AnalysisSummary) error {
	passStart := s.now()
	defer func() {
		metrics.AnalysisPassDuration.WithLabelValues("correlation").Observe(time.Since(passStart).Seconds())
	}()

	byCategory := make(map[string][]analysisSeries)
	for _, as := range set {
		cat := *as.Series.IndicatorCategory
		byCategory[cat] = append(byCategory[cat], as)
	}
	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	existing, err := s.existingFacts(ctx, windowStart, windowEnd)
	if err != nil {
		return err
	}

	for _, cat := range categories {
		group := byCategory[cat]
		sort.Slice(group, func(i, j int) bool {
			return *group[i].Series.CountryCode < *group[j].Series.CountryCode
		})
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				outcome := s.computePair(ctx, group[i], group[j], cat, windowStart, windowEnd, existing)
				metrics.AnalysisPairs.WithLabelValues(outcome).Inc()
				switch outcome {
				case "computed":
					summary.PairsComputed++
				case "skipped":
					summary.PairsSkipped++
				case "insufficient":
					summary.PairsInsufficient++
				default:
					summary.PairsFailed++
				}
			}
		}
	}
	return nil
}

func (s *AnalysisService) existingFacts(ctx context.Context, windowStart, windowEnd time.Time) (map[pairKey]models.CountryCorrelation, error) {
	var facts []models.CountryCorrelation
	err := s.DB.WithContext(ctx).
		Where("window_start = ? AND window_end = ?", windowStart, windowEnd).
		Find(&facts).Error
	if err != nil {
		return nil, fmt.Errorf("loading existing correlation facts: %w", err)
	}
	byPair := make(map[pairKey]models.CountryCorrelation, len(facts))
	for _, f := range facts {
		byPair[pairKey{f.CountryACode, f.CountryBCode, f.IndicatorCategory}] = f
	}
	return byPair, nil
}

// computePair evaluates one country pair and returns the outcome label.
func (s *AnalysisService) computePair(ctx context.Context, a, b analysisSeries, category string, windowStart, windowEnd time.Time, existing map[pairKey]models.CountryCorrelation) string {
	codeA, codeB := models.CanonicalPair(*a.Series.CountryCode, *b.Series.CountryCode)
	if codeA != *a.Series.CountryCode {
		a, b = b, a
	}
	key := pairKey{codeA, codeB, category}

	// Recompute only when both sides merged new observations since the
	// stored fact; a pass over unchanged data touches nothing.
	if fact, ok := existing[key]; ok {
		if !syncedSince(a.Series.ObservationsSyncedAt, fact.RecomputedAt) ||
			!syncedSince(b.Series.ObservationsSyncedAt, fact.RecomputedAt) {
			return "skipped"
		}
	}

	xs, ys, _ := alignedValues(a.Values, b.Values)
	if len(xs) < s.Cfg.MinOverlap {
		logger.Debug("AnalysisService: %s-%s %s not computed: %v", codeA, codeB, category,
			&apperr.InsufficientData{Needed: s.Cfg.MinOverlap, Got: len(xs)})
		return "insufficient"
	}

	r, err := stats.Pearson(xs, ys)
	if err != nil || math.IsNaN(r) {
		logger.Error("AnalysisService: pearson failed for %s-%s %s: %v", codeA, codeB, category, err)
		return "failed"
	}

	fact := models.CountryCorrelation{
		CountryACode:           codeA,
		CountryBCode:           codeB,
		IndicatorCategory:      category,
		WindowStart:            windowStart,
		WindowEnd:              windowEnd,
		CorrelationCoefficient: r,
		SampleSize:             len(xs),
		SeriesAID:              a.Series.ID,
		SeriesBID:              b.Series.ID,
		RecomputedAt:           s.now().UTC(),
	}
	err = withTransientRetry(fmt.Sprintf("correlation %s-%s %s", codeA, codeB, category), func() error {
		return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "country_a_code"}, {Name: "country_b_code"},
				{Name: "indicator_category"},
				{Name: "window_start"}, {Name: "window_end"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"correlation_coefficient", "sample_size",
				"series_a_id", "series_b_id", "recomputed_at", "updated_at",
			}),
		}).Create(&fact).Error
	})
	if err != nil {
		logger.Error("AnalysisService: persisting %s-%s %s failed: %v", codeA, codeB, category, err)
		return "failed"
	}
	return "computed"
}

func syncedSince(syncedAt *time.Time, mark time.Time) bool {
	return syncedAt != nil && syncedAt.After(mark)
}

// alignedValues intersects two date->value maps and returns the values in
// date order, plus the shared dates themselves.
func alignedValues(a, b map[time.Time]float64) ([]float64, []float64, []time.Time) {
	dates := make([]time.Time, 0, len(a))
	for d := range a {
		if _, ok := b[d]; ok {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	xs := make([]float64, 0, len(dates))
	ys := make([]float64, 0, len(dates))
	for _, d := range dates {
		xs = append(xs, a[d])
		ys = append(ys, b[d])
	}
	return xs, ys, dates
}

// leadingIndicatorPass scans ordered cross-country pairs within each
// category for the lag that maximizes |correlation|.
func (s *AnalysisService) leadingIndicatorPass(ctx context.Context, set []analysisSeries, summary *AnalysisSummary) error {
	passStart := s.now()
	defer func() {
		metrics.AnalysisPassDuration.WithLabelValues("leading").Observe(time.Since(passStart).Seconds())
	}()

	byCategory := make(map[string][]analysisSeries)
	for _, as := range set {
		cat := *as.Series.IndicatorCategory
		byCategory[cat] = append(byCategory[cat], as)
	}
	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	for _, cat := range categories {
		group := byCategory[cat]
		sort.Slice(group, func(i, j int) bool {
			return *group[i].Series.CountryCode < *group[j].Series.CountryCode
		})
		for i := range group {
			for j := range group {
				if i == j || *group[i].Series.CountryCode == *group[j].Series.CountryCode {
					continue
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				s.evaluateLeadingPair(ctx, group[i], group[j], cat, summary)
			}
		}
	}
	return nil
}

// evaluateLeadingPair tests whether lead's movements predict follow's at
// some positive lag, then applies the hysteresis rule against the current
// stored candidate for the pair.
func (s *AnalysisService) evaluateLeadingPair(ctx context.Context, lead, follow analysisSeries, category string, summary *AnalysisSummary) {
	xs, ys, _ := alignedValues(lead.Values, follow.Values)

	bestLag := 0
	bestStrength := 0.0
	bestSample := 0
	for lag := 1; lag <= s.Cfg.MaxLag; lag++ {
		n := len(xs) - lag
		if n < s.Cfg.MinOverlap {
			break
		}
		// lead at t against follow at t+lag.
		r, err := stats.Pearson(xs[:n], ys[lag:lag+n])
		if err != nil || math.IsNaN(r) {
			continue
		}
		// Strict > keeps the smallest lag on equal strength.
		if math.Abs(r) > math.Abs(bestStrength) {
			bestStrength = r
			bestLag = lag
			bestSample = n
		}
	}

	if bestLag == 0 || math.Abs(bestStrength) < s.Cfg.MinStrength {
		// No qualifying candidate. An existing detection is retained: weak
		// evidence in one pass does not retract an established indicator.
		return
	}

	var current models.LeadingIndicator
	err := s.DB.WithContext(ctx).
		Where("leading_series_id = ? AND following_series_id = ? AND is_current = ?",
			lead.Series.ID, follow.Series.ID, true).
		First(&current).Error
	hasCurrent := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error("AnalysisService: loading current leading indicator failed: %v", err)
		return
	}

	if hasCurrent && math.Abs(bestStrength) <= math.Abs(current.Strength)+s.Cfg.MinImprovement {
		summary.LeadingRetained++
		return
	}

	now := s.now().UTC()
	candidate := models.LeadingIndicator{
		LeadingSeriesID:      lead.Series.ID,
		FollowingSeriesID:    follow.Series.ID,
		LeadingCountryCode:   *lead.Series.CountryCode,
		FollowingCountryCode: *follow.Series.CountryCode,
		IndicatorCategory:    category,
		LagPeriods:           bestLag,
		Strength:             bestStrength,
		SampleSize:           bestSample,
		IsCurrent:            true,
		ComputedAt:           now,
	}
	err = withTransientRetry(fmt.Sprintf("leading %s->%s %s", candidate.LeadingCountryCode, candidate.FollowingCountryCode, category), func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if hasCurrent {
				err := tx.Model(&current).Updates(map[string]interface{}{
					"is_current":    false,
					"superseded_at": now,
				}).Error
				if err != nil {
					return fmt.Errorf("superseding prior candidate: %w", err)
				}
			}
			return tx.Create(&candidate).Error
		})
	})
	if err != nil {
		logger.Error("AnalysisService: persisting leading indicator failed: %v", err)
		return
	}
	if hasCurrent {
		summary.LeadingSuperseded++
	} else {
		summary.LeadingDetected++
	}
}

// QueryCorrelationsParams filters GetCorrelations.
type QueryCorrelationsParams struct {
	Country     string  // matches either side of the pair
	Category    string
	MinStrength float64 // minimum |coefficient|
	Limit       int
}

func (p QueryCorrelationsParams) isDefault() bool {
	return p.Country == "" && p.Category == "" && p.MinStrength == 0 &&
		(p.Limit == 0 || p.Limit == defaultCorrelationLimit)
}

// GetCorrelations lists stored correlation facts, strongest first. The
// unfiltered listing is served from cache when warm.
func (s *AnalysisService) GetCorrelations(ctx context.Context, params QueryCorrelationsParams) ([]models.CountryCorrelation, error) {
	if params.Limit <= 0 {
		params.Limit = defaultCorrelationLimit
	}

	if params.isDefault() && s.Redis != nil {
		cached, err := s.Redis.Get(ctx, CacheKeyCorrelations).Result()
		if err == nil && cached != "" {
			var out []models.CountryCorrelation
			if jsonErr := json.Unmarshal([]byte(cached), &out); jsonErr == nil {
				return out, nil
			}
		}
	}

	query := s.DB.WithContext(ctx).Model(&models.CountryCorrelation{})
	if params.Country != "" {
		query = query.Where("country_a_code = ? OR country_b_code = ?", params.Country, params.Country)
	}
	if params.Category != "" {
		query = query.Where("indicator_category = ?", params.Category)
	}
	if params.MinStrength > 0 {
		query = query.Where("abs(correlation_coefficient) >= ?", params.MinStrength)
	}

	var facts []models.CountryCorrelation
	err := query.
		Order("abs(correlation_coefficient) desc").
		Order("country_a_code asc, country_b_code asc").
		Limit(params.Limit).
		Find(&facts).Error
	if err != nil {
		return nil, fmt.Errorf("listing correlations: %w", err)
	}

	if params.isDefault() && s.Redis != nil {
		if raw, err := json.Marshal(facts); err == nil {
			if err := s.Redis.Set(ctx, CacheKeyCorrelations, raw, analysisCacheTTL).Err(); err != nil {
				logger.Error("AnalysisService: caching correlations failed: %v", err)
			}
		}
	}
	return facts, nil
}

// QueryLeadingParams filters GetLeadingIndicators.
type QueryLeadingParams struct {
	Country        string // matches leading or following side
	Category       string
	IncludeHistory bool // include superseded detections
}

// GetLeadingIndicators lists detections, strongest first.
func (s *AnalysisService) GetLeadingIndicators(ctx context.Context, params QueryLeadingParams) ([]models.LeadingIndicator, error) {
	query := s.DB.WithContext(ctx).Model(&models.LeadingIndicator{})
	if !params.IncludeHistory {
		query = query.Where("is_current = ?", true)
	}
	if params.Country != "" {
		query = query.Where("leading_country_code = ? OR following_country_code = ?", params.Country, params.Country)
	}
	if params.Category != "" {
		query = query.Where("indicator_category = ?", params.Category)
	}

	var out []models.LeadingIndicator
	err := query.
		Order("abs(strength) desc").
		Order("lag_periods asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing leading indicators: %w", err)
	}
	return out, nil
}

// CentralityEntry is one country's rank in the correlation network.
type CentralityEntry struct {
	CountryCode string  `json:"country_code"`
	Centrality  float64 `json:"centrality"`
	Pairs       int     `json:"pairs"`
}

// GetCentrality ranks countries by mean |coefficient| across the most
// recent window's correlation facts: the "how coupled is this economy"
// number. Served from cache when warm.
func (s *AnalysisService) GetCentrality(ctx context.Context) ([]CentralityEntry, error) {
	if s.Redis != nil {
		cached, err := s.Redis.Get(ctx, CacheKeyCentrality).Result()
		if err == nil && cached != "" {
			var out []CentralityEntry
			if jsonErr := json.Unmarshal([]byte(cached), &out); jsonErr == nil {
				return out, nil
			}
		}
	}

	var latest models.CountryCorrelation
	err := s.DB.WithContext(ctx).Order("window_end desc").First(&latest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []CentralityEntry{}, nil
		}
		return nil, fmt.Errorf("finding latest window: %w", err)
	}

	var facts []models.CountryCorrelation
	err = s.DB.WithContext(ctx).
		Where("window_end = ?", latest.WindowEnd).
		Find(&facts).Error
	if err != nil {
		return nil, fmt.Errorf("loading correlation facts: %w", err)
	}

	sums := map[string]float64{}
	counts := map[string]int{}
	for _, f := range facts {
		sums[f.CountryACode] += math.Abs(f.CorrelationCoefficient)
		counts[f.CountryACode]++
		sums[f.CountryBCode] += math.Abs(f.CorrelationCoefficient)
		counts[f.CountryBCode]++
	}

	out := make([]CentralityEntry, 0, len(sums))
	for code, sum := range sums {
		out = append(out, CentralityEntry{
			CountryCode: code,
			Centrality:  sum / float64(counts[code]),
			Pairs:       counts[code],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Centrality != out[j].Centrality {
			return out[i].Centrality > out[j].Centrality
		}
		return out[i].CountryCode < out[j].CountryCode
	})

	if s.Redis != nil {
		if raw, err := json.Marshal(out); err == nil {
			if err := s.Redis.Set(ctx, CacheKeyCentrality, raw, analysisCacheTTL).Err(); err != nil {
				logger.Error("AnalysisService: caching centrality failed: %v", err)
			}
		}
	}
	return out, nil
}

// HealthComponent is one indicator's contribution to a health score.
type HealthComponent struct {
	Category     string    `json:"category"`
	Value        float64   `json:"value"`
	AsOf         time.Time `json:"as_of"`
	Contribution float64   `json:"contribution"`
}

// CountryHealth is the composite health score for one country.
type CountryHealth struct {
	CountryCode string            `json:"country_code"`
	Score       float64           `json:"score"`
	Components  []HealthComponent `json:"components"`
	ComputedAt  time.Time         `json:"computed_at"`
}

// GetCountryHealth derives a 0-100 composite from the country's latest GDP
// growth, unemployment and inflation readings. Starting from a neutral 50:
// GDP growth adds 10 points per percent (capped at +/-20), unemployment
// subtracts 2 per percent (capped at 20), and distance from 2% inflation
// subtracts 5 per percent (capped at 15). Missing indicators contribute
// nothing rather than failing the score.
func (s *AnalysisService) GetCountryHealth(ctx context.Context, countryCode string) (*CountryHealth, error) {
	var country models.Country
	err := s.DB.WithContext(ctx).Where("iso_code = ?", countryCode).First(&country).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("country", countryCode)
		}
		return nil, fmt.Errorf("loading country %s: %w", countryCode, err)
	}

	health := &CountryHealth{
		CountryCode: country.ISOCode,
		Score:       50,
		ComputedAt:  s.now().UTC(),
		Components:  []HealthComponent{},
	}

	if comp, ok := s.latestReading(ctx, country.ISOCode, CategoryGDPGrowth); ok {
		comp.Contribution = clamp(comp.Value*10, -20, 20)
		health.Score += comp.Contribution
		health.Components = append(health.Components, comp)
	}
	if comp, ok := s.latestReading(ctx, country.ISOCode, CategoryUnemployment); ok {
		comp.Contribution = -math.Min(math.Max(comp.Value, 0)*2, 20)
		health.Score += comp.Contribution
		health.Components = append(health.Components, comp)
	}
	if comp, ok := s.latestReading(ctx, country.ISOCode, CategoryInflation); ok {
		comp.Contribution = -math.Min(math.Abs(comp.Value-2)*5, 15)
		health.Score += comp.Contribution
		health.Components = append(health.Components, comp)
	}

	if len(health.Components) == 0 {
		return nil, &apperr.InsufficientData{Needed: 1, Got: 0}
	}
	health.Score = clamp(health.Score, 0, 100)
	return health, nil
}

// latestReading finds the most recent non-null observation of the elected
// series for (country, category).
func (s *AnalysisService) latestReading(ctx context.Context, countryCode, category string) (HealthComponent, bool) {
	var series models.EconomicSeries
	err := s.DB.WithContext(ctx).
		Where("is_active = ? AND country_code = ? AND indicator_category = ?", true, countryCode, category).
		Order("created_at asc, id asc").
		First(&series).Error
	if err != nil {
		return HealthComponent{}, false
	}

	var obs models.Observation
	err = s.DB.WithContext(ctx).
		Where("series_id = ? AND value IS NOT NULL", series.ID).
		Order("date desc").
		First(&obs).Error
	if err != nil {
		return HealthComponent{}, false
	}

	return HealthComponent{
		Category: category,
		Value:    obs.Value.Decimal.InexactFloat64(),
		AsOf:     normalizeObservationDate(obs.Date),
	}, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// invalidateCaches drops derived-view caches after a pass or impact change.
func (s *AnalysisService) invalidateCaches(ctx context.Context) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Del(ctx, CacheKeyCorrelations, CacheKeyCentrality).Err(); err != nil {
		logger.Error("AnalysisService: cache invalidation failed: %v", err)
	}
}
