package insights

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/juanfero/rappi-intelligent-ops/internal/config"
	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/stats"
)

// zeroVariance is the standard deviation below which a peer group is treated
// as having no spread.
const zeroVariance = 1e-12

// scopeClause renders " AND ..." predicates for the insight scope.
func scopeClause(s domain.InsightScope) (string, []any) {
	var b strings.Builder
	var args []any
	if s.Country != "" {
		b.WriteString(" AND upper(country) = upper(?)")
		args = append(args, s.Country)
	}
	if s.City != "" {
		b.WriteString(" AND upper(city) = upper(?)")
		args = append(args, s.City)
	}
	if s.Zone != "" {
		b.WriteString(" AND upper(zone) = upper(?)")
		args = append(args, s.Zone)
	}
	return b.String(), args
}

type zoneKey struct {
	country, city, zone string
}

type seriesKey struct {
	zoneKey
	metric string
}

func zoneOf(r domain.Row) zoneKey {
	return zoneKey{
		country: domain.StringValue(r["country"]),
		city:    domain.StringValue(r["city"]),
		zone:    domain.StringValue(r["zone"]),
	}
}

// chronological builds a series indexed oldest to newest from
// (week_offset, value) rows over offsets 0..maxOffset. Missing weeks are NaN.
func chronological(rows []domain.Row, valueCol string, maxOffset int) []float64 {
	series := stats.NaNs(maxOffset + 1)
	for _, r := range rows {
		week, ok := domain.IntValue(r["week_offset"])
		if !ok || week < 0 || week > maxOffset {
			continue
		}
		if v, ok := domain.FloatValue(r[valueCol]); ok {
			series[maxOffset-week] = v
		}
	}
	return series
}

func present(series []float64) []float64 {
	out := make([]float64, 0, len(series))
	for _, v := range series {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func where(zone, country string) string {
	if zone == "" {
		return country
	}
	return fmt.Sprintf("%s (%s)", zone, country)
}

type detectorFunc func(ctx context.Context, wh domain.Warehouse, scope domain.InsightScope) ([]domain.Insight, error)

// anomalies compares the current week with the previous one for every
// zone and metric.
func (e *Engine) anomalies(ctx context.Context, wh domain.Warehouse, scope domain.InsightScope) ([]domain.Insight, error) {
	sc, args := scopeClause(scope)
	q := fmt.Sprintf(`
WITH cur AS (
  SELECT country, city, zone, metric, value
  FROM %[1]s
  WHERE week_offset = 0 AND value IS NOT NULL%[2]s
),
prev AS (
  SELECT country, city, zone, metric, value AS prev_value
  FROM %[1]s
  WHERE week_offset = 1 AND value IS NOT NULL%[2]s
)
SELECT c.country, c.city, c.zone, c.metric, c.value, p.prev_value
FROM cur c
LEFT JOIN prev p ON p.country = c.country AND p.city = c.city AND p.zone = c.zone AND p.metric = c.metric
ORDER BY c.country, c.city, c.zone, c.metric`, metricsView, sc)

	rows, err := wh.Query(ctx, q, append(slices.Clone(args), args...)...)
	if err != nil {
		return nil, err
	}

	th := e.th
	var out []domain.Insight
	for _, r := range rows {
		cur, ok := domain.FloatValue(r["value"])
		if !ok {
			continue
		}
		prev, ok := domain.FloatValue(r["prev_value"])
		if !ok {
			continue
		}
		pct, ok := stats.PctChange(cur, prev)
		if !ok || math.Abs(pct) < th.AnomalyPct {
			continue
		}

		z := zoneOf(r)
		metric := domain.StringValue(r["metric"])
		higherBetter := e.polarity.HigherIsBetter(metric)
		concerning := (pct < 0) == higherBetter
		direction := "improvement"
		if pct < 0 {
			direction = "drop"
		}
		reco := recommend(recoImprovement)
		if concerning {
			reco = deteriorationRecommendation(metric)
		}

		out = append(out, domain.Insight{
			Category:       domain.CategoryAnomaly,
			Country:        z.country,
			City:           z.city,
			Zone:           z.zone,
			Metric:         metric,
			Title:          fmt.Sprintf("%s: week-over-week %s of %+.1f%% in %s", metric, direction, pct*100, where(z.zone, z.country)),
			Summary:        fmt.Sprintf("Current vs previous week: %.3f vs %.3f. Threshold ±%.0f%%.", cur, prev, th.AnomalyPct*100),
			Severity:       anomalySeverity(pct, th.AnomalySaturation),
			Recommendation: reco,
			Extra: map[string]any{
				"current":    cur,
				"prev":       prev,
				"pct_change": pct,
				"concerning": concerning,
			},
		})
	}
	return out, nil
}

// anomalySeverity reaches 1 when |pct| hits the saturation point.
func anomalySeverity(pct, saturation float64) float64 {
	if saturation <= 0 {
		return 1
	}
	return stats.Clamp01(math.Abs(pct) / saturation)
}

// trends fits a line to each zone and metric over the trend window.
func (e *Engine) trends(ctx context.Context, wh domain.Warehouse, scope domain.InsightScope) ([]domain.Insight, error) {
	th := e.th
	sc, args := scopeClause(scope)
	q := fmt.Sprintf(`
SELECT country, city, zone, metric, week_offset, value
FROM %s
WHERE week_offset BETWEEN 0 AND ? AND value IS NOT NULL%s
ORDER BY country, city, zone, metric, week_offset`, metricsView, sc)

	rows, err := wh.Query(ctx, q, append([]any{th.TrendMaxOffset}, args...)...)
	if err != nil {
		return nil, err
	}

	groups, order := groupRows(rows, func(r domain.Row) seriesKey {
		return seriesKey{zoneKey: zoneOf(r), metric: domain.StringValue(r["metric"])}
	})

	var out []domain.Insight
	for _, k := range order {
		vals := present(chronological(groups[k], "value", th.TrendMaxOffset))
		if len(vals) < th.MinPoints {
			continue
		}
		fit, ok := stats.LinearFit(vals)
		if !ok {
			continue
		}
		higherBetter := e.polarity.HigherIsBetter(k.metric)
		unfavorable := (fit.Slope < 0 && higherBetter) || (fit.Slope > 0 && !higherBetter)
		run := unfavorableRun(vals, higherBetter)
		if !((unfavorable && fit.R2 >= th.TrendMinR2) || run >= th.TrendMinRun) {
			continue
		}

		out = append(out, domain.Insight{
			Category:       domain.CategoryTrend,
			Country:        k.country,
			City:           k.city,
			Zone:           k.zone,
			Metric:         k.metric,
			Title:          fmt.Sprintf("%s: unfavorable trend in %s", k.metric, where(k.zone, k.country)),
			Summary:        fmt.Sprintf("Slope %+.3f per week (R²=%.2f); %d consecutive unfavorable weeks over %d weeks.", fit.Slope, fit.R2, run, len(vals)),
			Severity:       trendSeverity(fit.Slope, stats.PopStdDev(vals)),
			Recommendation: deteriorationRecommendation(k.metric),
			Extra: map[string]any{
				"slope":       fit.Slope,
				"r2":          fit.R2,
				"decline_run": run,
				"points":      len(vals),
			},
		})
	}
	return out, nil
}

// unfavorableRun counts the latest consecutive moves in the bad direction.
func unfavorableRun(vals []float64, higherBetter bool) int {
	if higherBetter {
		return stats.DeclineRun(vals)
	}
	neg := make([]float64, len(vals))
	for i, v := range vals {
		neg[i] = -v
	}
	return stats.DeclineRun(neg)
}

// trendSeverity scales the slope by half the series spread.
func trendSeverity(slope, scale float64) float64 {
	if scale <= 0 {
		return stats.Clamp01(math.Abs(slope))
	}
	return stats.Clamp01(math.Abs(slope) / (0.5 * scale))
}

// benchmarks z-scores each zone against its peer group in the current week.
func (e *Engine) benchmarks(ctx context.Context, wh domain.Warehouse, scope domain.InsightScope) ([]domain.Insight, error) {
	th := e.th
	sc, args := scopeClause(scope)
	q := fmt.Sprintf(`
SELECT country, coalesce(zone_type, '') AS zone_type, city, zone, metric, value
FROM %s
WHERE week_offset = 0 AND value IS NOT NULL%s
ORDER BY country, zone_type, metric, city, zone`, metricsView, sc)

	rows, err := wh.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}

	byZoneType := th.PeerGroup != config.PeerGroupCountry
	type peerKey struct{ country, zoneType, metric string }
	groups, order := groupRows(rows, func(r domain.Row) peerKey {
		k := peerKey{country: domain.StringValue(r["country"]), metric: domain.StringValue(r["metric"])}
		if byZoneType {
			k.zoneType = domain.StringValue(r["zone_type"])
		}
		return k
	})

	var out []domain.Insight
	for _, k := range order {
		g := groups[k]
		vals := make([]float64, 0, len(g))
		for _, r := range g {
			v, _ := domain.FloatValue(r["value"])
			vals = append(vals, v)
		}
		mean := stats.Mean(vals)
		sd := stats.PopStdDev(vals)
		if sd <= zeroVariance*math.Max(1, math.Abs(mean)) {
			continue
		}
		higherBetter := e.polarity.HigherIsBetter(k.metric)

		for i, r := range g {
			z := (vals[i] - mean) / sd
			if math.Abs(z) < th.BenchmarkZ {
				continue
			}
			zk := zoneOf(r)
			level, reco := "high", recommend(recoBenchmarkPositive)
			if z < 0 {
				level = "low"
			}
			if (z < 0) == higherBetter {
				reco = recommend(recoBenchmarkNegative)
			}
			peers := "country"
			if byZoneType {
				peers = "country + zone type"
			}
			out = append(out, domain.Insight{
				Category:       domain.CategoryBenchmark,
				Country:        zk.country,
				City:           zk.city,
				Zone:           zk.zone,
				Metric:         k.metric,
				Title:          fmt.Sprintf("%s: %s performance vs peers in %s", k.metric, level, where(zk.zone, zk.country)),
				Summary:        fmt.Sprintf("z-score %+.2f against the %s peer group (mean %.3f, n=%d).", z, peers, mean, len(vals)),
				Severity:       stats.Clamp01(math.Abs(z) / th.BenchmarkZMax),
				Recommendation: reco,
				Extra: map[string]any{
					"z":          z,
					"value":      vals[i],
					"peer_mean":  mean,
					"peer_std":   sd,
					"peer_group": th.PeerGroup,
					"zone_type":  domain.StringValue(r["zone_type"]),
				},
			})
		}
	}
	return domain.TopN(out, th.BenchmarkTopN), nil
}

// correlations rank-correlates every metric pair within each zone.
func (e *Engine) correlations(ctx context.Context, wh domain.Warehouse, scope domain.InsightScope) ([]domain.Insight, error) {
	th := e.th
	sc, args := scopeClause(scope)
	q := fmt.Sprintf(`
SELECT country, city, zone, metric, week_offset, value
FROM %s
WHERE week_offset BETWEEN 0 AND ? AND value IS NOT NULL%s
ORDER BY country, city, zone, metric, week_offset`, metricsView, sc)

	rows, err := wh.Query(ctx, q, append([]any{th.TrendMaxOffset}, args...)...)
	if err != nil {
		return nil, err
	}

	zones, order := groupRows(rows, zoneOf)
	var out []domain.Insight
	for _, zk := range order {
		zr := zones[zk]
		weeks := map[int]bool{}
		byMetric := map[string][]domain.Row{}
		for _, r := range zr {
			if w, ok := domain.IntValue(r["week_offset"]); ok {
				weeks[w] = true
			}
			m := domain.StringValue(r["metric"])
			byMetric[m] = append(byMetric[m], r)
		}
		if len(weeks) < th.MinPoints {
			continue
		}

		metrics := make([]string, 0, len(byMetric))
		for m := range byMetric {
			metrics = append(metrics, m)
		}
		slices.Sort(metrics)
		series := make(map[string][]float64, len(metrics))
		for _, m := range metrics {
			series[m] = chronological(byMetric[m], "value", th.TrendMaxOffset)
		}

		for i := range metrics {
			for j := i + 1; j < len(metrics); j++ {
				a, b := metrics[i], metrics[j]
				rho, ok := stats.Spearman(series[a], series[b])
				if !ok || math.Abs(rho) < th.CorrelationMin {
					continue
				}
				reco := recommend(recoCorrelation)
				if isLPPOPair(a, b) {
					reco = recommend(recoCorrelationLPPO)
				}
				out = append(out, domain.Insight{
					Category:       domain.CategoryCorrelation,
					Country:        zk.country,
					City:           zk.city,
					Zone:           zk.zone,
					Title:          fmt.Sprintf("Correlation %s ↔ %s in %s", a, b, where(zk.zone, zk.country)),
					Summary:        fmt.Sprintf("Spearman rho %+.2f over %d weeks.", rho, len(weeks)),
					Severity:       correlationSeverity(rho, th.CorrelationMin),
					Recommendation: reco,
					Extra: map[string]any{
						"rho":     rho,
						"metrics": []string{a, b},
						"points":  len(weeks),
					},
				})
			}
		}
	}
	return out, nil
}

func isLPPOPair(a, b string) bool {
	return (a == domain.MetricLeadPenetration && b == domain.MetricPerfectOrders) ||
		(a == domain.MetricPerfectOrders && b == domain.MetricLeadPenetration)
}

func correlationSeverity(rho, floor float64) float64 {
	if floor >= 1 {
		return 1
	}
	return stats.Clamp01((math.Abs(rho) - floor) / (1 - floor))
}

// opportunities finds zones whose orders grow while their Perfect Orders lag
// the country's lower quantile.
func (e *Engine) opportunities(ctx context.Context, wh domain.Warehouse, scope domain.InsightScope) ([]domain.Insight, error) {
	th := e.th

	exists, err := wh.Query(ctx, `SELECT count(*) AS n FROM information_schema.tables WHERE table_name = ?`, ordersView)
	if err != nil {
		return nil, err
	}
	if n, _ := domain.IntValue(firstValue(exists, "n")); n == 0 {
		e.logger.InfoContext(ctx, "orders view missing, skipping opportunities")
		return nil, nil
	}

	maxOffset := th.OpportunityWeeks - 1
	sc, args := scopeClause(scope)
	ordersQ := fmt.Sprintf(`
SELECT country, city, zone, week_offset, orders
FROM %s
WHERE week_offset BETWEEN 0 AND ? AND orders IS NOT NULL%s
ORDER BY country, city, zone, week_offset`, ordersView, sc)
	orders, err := wh.Query(ctx, ordersQ, append([]any{maxOffset}, args...)...)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}

	// Peer quantiles use the whole country even when the scope is narrower.
	countrySc, countryArgs := scopeClause(domain.InsightScope{Country: scope.Country})
	poQ := fmt.Sprintf(`
SELECT country, city, zone, value
FROM %s
WHERE week_offset = 0 AND value IS NOT NULL AND lower(metric) = lower(?)%s`, metricsView, countrySc)
	poRows, err := wh.Query(ctx, poQ, append([]any{domain.MetricPerfectOrders}, countryArgs...)...)
	if err != nil {
		return nil, err
	}
	poByCountry := map[string][]float64{}
	poByZone := map[zoneKey]float64{}
	for _, r := range poRows {
		v, ok := domain.FloatValue(r["value"])
		if !ok {
			continue
		}
		zk := zoneOf(r)
		upper := zoneKey{strings.ToUpper(zk.country), strings.ToUpper(zk.city), strings.ToUpper(zk.zone)}
		poByCountry[upper.country] = append(poByCountry[upper.country], v)
		poByZone[upper] = v
	}

	allOrders := make([]float64, 0, len(orders))
	for _, r := range orders {
		if v, ok := domain.FloatValue(r["orders"]); ok {
			allOrders = append(allOrders, v)
		}
	}
	scale := stats.PopStdDev(allOrders) + 1e-9

	groups, order := groupRows(orders, zoneOf)
	var out []domain.Insight
	for _, zk := range order {
		vals := present(chronological(groups[zk], "orders", maxOffset))
		if len(vals) < th.MinPoints {
			continue
		}
		fit, ok := stats.LinearFit(vals)
		if !ok || fit.Slope <= 0 {
			continue
		}
		upper := zoneKey{strings.ToUpper(zk.country), strings.ToUpper(zk.city), strings.ToUpper(zk.zone)}
		peers := poByCountry[upper.country]
		po, ok := poByZone[upper]
		if len(peers) == 0 || !ok {
			continue
		}
		threshold := stats.Quantile(th.OpportunityPOQ, peers)
		if po >= threshold {
			continue
		}

		out = append(out, domain.Insight{
			Category:       domain.CategoryOpportunity,
			Country:        zk.country,
			City:           zk.city,
			Zone:           zk.zone,
			Metric:         domain.MetricPerfectOrders,
			Title:          fmt.Sprintf("Opportunity: orders growing but Perfect Orders lagging in %s", where(zk.zone, zk.country)),
			Summary:        fmt.Sprintf("Orders slope %+.2f per week; current PO %.2f%% is below the country p%.0f of %.2f%%.", fit.Slope, po*100, th.OpportunityPOQ*100, threshold*100),
			Severity:       stats.Clamp01(math.Abs(fit.Slope) / scale),
			Recommendation: recommend(recoOpportunity),
			Extra: map[string]any{
				"orders_slope": fit.Slope,
				"po":           po,
				"po_threshold": threshold,
				"quantile":     th.OpportunityPOQ,
			},
		})
	}
	return out, nil
}

func firstValue(rows []domain.Row, col string) any {
	if len(rows) == 0 {
		return nil
	}
	return rows[0][col]
}

// groupRows buckets rows by key, keeping first-seen key order.
func groupRows[K comparable](rows []domain.Row, key func(domain.Row) K) (map[K][]domain.Row, []K) {
	groups := map[K][]domain.Row{}
	var order []K
	for _, r := range rows {
		k := key(r)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}
	return groups, order
}
