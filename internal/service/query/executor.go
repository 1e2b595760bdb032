// Package query executes AnalyticsSpecs against the metrics warehouse. Each
// task has its own parameterized SQL; every batch of statements for one spec
// runs on a single read-only warehouse handle.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/stats"
)

const (
	metricsView = domain.MetricsView
	ordersView  = domain.OrdersView
)

// defaultInferenceTopK caps inference results when the spec sets no top_k.
const defaultInferenceTopK = 10

// contextualMetrics are the metrics checked for week-over-week problems.
var contextualMetrics = []string{domain.MetricLeadPenetration, domain.MetricPerfectOrders, domain.MetricGrossProfitUE}

// Source hands out read-only warehouse batches. Implemented by engine.Warehouse.
type Source interface {
	Batch(ctx context.Context, fn func(domain.Warehouse) error) error
}

// Result is the executor payload returned to callers.
type Result struct {
	Title         string               `json:"title"`
	Data          []domain.Row         `json:"data"`
	Visualization domain.Visualization `json:"visualization,omitempty"`
	Suggestions   []string             `json:"suggestions"`
	DebugSQL      string               `json:"debug_sql,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// Thresholds are the business constants used by the multivariable and
// contextual tasks.
type Thresholds struct {
	HighLPQuantile    float64
	LowPOQuantile     float64
	ContextualPOFloor float64
	ContextualDrop    float64
}

// DefaultThresholds returns the standard thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{HighLPQuantile: 0.70, LowPOQuantile: 0.30, ContextualPOFloor: 0.85, ContextualDrop: -0.10}
}

// Executor runs specs.
type Executor struct {
	src        Source
	logger     *slog.Logger
	debug      bool
	thresholds Thresholds
}

// NewExecutor creates an Executor. debug attaches generated SQL to every
// result; callers must keep it off in production.
func NewExecutor(src Source, logger *slog.Logger, debug bool, th Thresholds) *Executor {
	return &Executor{src: src, logger: logger.With("component", "executor"), debug: debug, thresholds: th}
}

// plan is the shared preprocessing of one spec.
type plan struct {
	spec      *domain.AnalyticsSpec
	window    domain.WeekRange
	timeLabel string
	label     string
}

func newPlan(spec *domain.AnalyticsSpec) plan {
	label := spec.Metrics[0]
	if l, ok := spec.Context[domain.CtxMetricLabel].(string); ok && l != "" {
		label = l
	}
	return plan{
		spec:      spec,
		window:    domain.ParseWindow(spec.Time.Range),
		timeLabel: domain.PrettyWindow(spec.Time.Range),
		label:     label,
	}
}

// base returns the predicate shared by the metrics-view tasks.
func (p plan) base(metrics []string) *predicate {
	pred := &predicate{}
	pred.addFilters(p.spec.Filters, metricsView)
	pred.addMetrics(metrics)
	pred.add("value IS NOT NULL")
	pred.addWindow(p.window)
	return pred
}

// Execute runs spec. Warehouse failures are returned as errors; an
// unrecognized task yields a Result carrying Error instead.
func (e *Executor) Execute(ctx context.Context, spec *domain.AnalyticsSpec) (*Result, error) {
	if spec == nil {
		return nil, domain.ErrValidation("spec is required")
	}
	if len(spec.Metrics) == 0 {
		return nil, domain.ErrValidation("at least one metric is required")
	}

	p := newPlan(spec)
	var run func(context.Context, domain.Warehouse, plan) (*Result, []string, error)
	switch spec.Task {
	case domain.TaskFilter:
		run = e.filter
	case domain.TaskCompare:
		run = e.compare
	case domain.TaskTrend:
		run = e.trend
	case domain.TaskAggregate:
		run = e.aggregate
	case domain.TaskMultivariable:
		run = e.multivariable
	case domain.TaskInference:
		run = e.inference
	case domain.TaskContextual:
		run = e.contextual
	default:
		return &Result{
			Data:          []domain.Row{},
			Visualization: spec.Visualization,
			Suggestions:   []string{},
			Error:         fmt.Sprintf("task not implemented: %s", spec.Task),
		}, nil
	}

	start := time.Now()
	var (
		res     *Result
		queries []string
	)
	err := e.src.Batch(ctx, func(wh domain.Warehouse) error {
		var err error
		res, queries, err = run(ctx, wh, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	res.Visualization = spec.Visualization
	if e.debug || spec.Ops.Explain {
		res.DebugSQL = strings.Join(queries, "\n\n")
	}
	e.logger.DebugContext(ctx, "spec executed", "task", spec.Task, "rows", len(res.Data), "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

func (e *Executor) filter(ctx context.Context, wh domain.Warehouse, p plan) (*Result, []string, error) {
	pred := p.base(p.spec.Metrics)
	dir := direction(p.spec.Ops.Order)

	var q, title string
	var suggestions []string
	if p.window.SingleWeek() {
		q = fmt.Sprintf(`
SELECT country, city, zone, zone_type, metric, week_offset, value
FROM %s
%s
ORDER BY value %s, country, city, zone
%s`, metricsView, pred.where(), dir, limitClause(p.spec.Ops.TopK))
		title = fmt.Sprintf("%s by %s (%s)", rankingLabel(p.spec.Ops), p.label, p.timeLabel)
		suggestions = []string{"See the 8-week trend?", "Compare with last week?", "Export to CSV?"}
	} else {
		q = fmt.Sprintf(`
SELECT country, city, zone, zone_type, metric, avg(value) AS value, count(*) AS weeks
FROM %s
%s
GROUP BY country, city, zone, zone_type, metric
ORDER BY value %s, country, city, zone
%s`, metricsView, pred.where(), dir, limitClause(p.spec.Ops.TopK))
		title = fmt.Sprintf("%s by %s (%s, window average)", rankingLabel(p.spec.Ops), p.label, p.timeLabel)
		suggestions = []string{"See week by week?", "Switch to the median?", "Export to CSV?"}
	}

	rows, err := wh.Query(ctx, q, pred.args...)
	if err != nil {
		return nil, nil, err
	}
	return &Result{Title: title, Data: rows, Suggestions: suggestions}, []string{debugText(q, pred.args)}, nil
}

func rankingLabel(ops domain.Ops) string {
	word := "Top"
	if ops.Order == domain.OrderAsc {
		word = "Bottom"
	}
	if ops.TopK > 0 {
		return fmt.Sprintf("%s %d zones", word, ops.TopK)
	}
	return word + " zones"
}

func (e *Executor) compare(ctx context.Context, wh domain.Warehouse, p plan) (*Result, []string, error) {
	dim := domain.DimZoneType
	if len(p.spec.GroupBy) > 0 {
		if _, ok := dimColumns[p.spec.GroupBy[0]]; ok {
			dim = p.spec.GroupBy[0]
		}
	}
	pred := p.base(p.spec.Metrics)
	q := fmt.Sprintf(`
SELECT %s AS grp, avg(value) AS value, count(*) AS n_rows
FROM %s
%s
GROUP BY 1
ORDER BY value DESC, grp`, dimColumns[dim], metricsView, pred.where())

	rows, err := wh.Query(ctx, q, pred.args...)
	if err != nil {
		return nil, nil, err
	}
	return &Result{
		Title:       fmt.Sprintf("%s comparison by %s (%s)", p.label, strings.ToUpper(dim), p.timeLabel),
		Data:        rows,
		Suggestions: []string{"Break down by city?", "See the distribution per segment?"},
	}, []string{debugText(q, pred.args)}, nil
}

func (e *Executor) trend(ctx context.Context, wh domain.Warehouse, p plan) (*Result, []string, error) {
	pred := p.base(p.spec.Metrics)
	q := fmt.Sprintf(`
SELECT week_offset AS week, avg(value) AS value
FROM %s
%s
GROUP BY week_offset
ORDER BY week`, metricsView, pred.where())

	rows, err := wh.Query(ctx, q, pred.args...)
	if err != nil {
		return nil, nil, err
	}
	return &Result{
		Title:       fmt.Sprintf("%s evolution (%s)", p.label, p.timeLabel),
		Data:        rows,
		Suggestions: []string{"Compute slope and R²?", "Highlight 3 consecutive drops or rises?"},
	}, []string{debugText(q, pred.args)}, nil
}

func (e *Executor) aggregate(ctx context.Context, wh domain.Warehouse, p plan) (*Result, []string, error) {
	groups := p.spec.GroupBy
	if len(groups) == 0 {
		groups = []string{domain.DimCountry}
	}
	cols := make([]string, 0, len(groups))
	for _, g := range groups {
		col, ok := dimColumns[g]
		if !ok {
			return nil, nil, domain.ErrValidation("group_by %q is not one of %v", g, domain.Dimensions)
		}
		cols = append(cols, col)
	}
	colList := strings.Join(cols, ", ")

	agg := p.spec.Ops.Agg
	if agg == "" {
		agg = domain.AggMean
	}
	pred := p.base(p.spec.Metrics)
	var aggExpr string
	args := pred.args
	switch agg {
	case domain.AggMean:
		aggExpr = "avg(value)"
	case domain.AggSum:
		aggExpr = "sum(value)"
	case domain.AggMedian:
		aggExpr = "median(value)"
	case domain.AggPctChange:
		// newest week against oldest week of the window
		aggExpr = "(avg(value) FILTER (WHERE week_offset = ?) - avg(value) FILTER (WHERE week_offset = ?))" +
			" / nullif(abs(avg(value) FILTER (WHERE week_offset = ?)), 0)"
		args = append([]any{p.window.Lo, p.window.Hi, p.window.Hi}, pred.args...)
	default:
		return nil, nil, domain.ErrValidation("unrecognized aggregation %q", agg)
	}

	q := fmt.Sprintf(`
SELECT %s, %s AS value
FROM %s
%s
GROUP BY %s
ORDER BY value DESC NULLS LAST, %s`, colList, aggExpr, metricsView, pred.where(), colList, colList)

	rows, err := wh.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, err
	}
	aggName := string(agg)
	return &Result{
		Title:       fmt.Sprintf("%s of %s by %s (%s)", strings.ToUpper(aggName[:1])+aggName[1:], p.label, strings.Join(groups, ", "), p.timeLabel),
		Data:        rows,
		Suggestions: []string{"See the 8-week evolution per country?", "Top or bottom 5 countries?"},
	}, []string{debugText(q, args)}, nil
}

func (e *Executor) multivariable(ctx context.Context, wh domain.Warehouse, p plan) (*Result, []string, error) {
	highQ := contextFloat(p.spec.Context, domain.CtxHighQuantile, e.thresholds.HighLPQuantile)
	lowQ := contextFloat(p.spec.Context, domain.CtxLowQuantile, e.thresholds.LowPOQuantile)

	pred := p.base([]string{domain.MetricLeadPenetration, domain.MetricPerfectOrders})
	args := append([]any{strings.ToLower(domain.MetricLeadPenetration), strings.ToLower(domain.MetricPerfectOrders)}, pred.args...)
	q := fmt.Sprintf(`
WITH wide AS (
  SELECT country, city, zone,
         avg(value) FILTER (WHERE lower(metric) = ?) AS lp,
         avg(value) FILTER (WHERE lower(metric) = ?) AS po
  FROM %s
  %s
  GROUP BY country, city, zone
),
thresholds AS (
  SELECT country,
         quantile_cont(lp, %s) AS lp_threshold,
         quantile_cont(po, %s) AS po_threshold
  FROM wide
  GROUP BY country
)
SELECT w.country, w.city, w.zone, w.lp, w.po, t.lp_threshold, t.po_threshold
FROM wide w
JOIN thresholds t ON t.country = w.country
WHERE w.lp IS NOT NULL AND w.po IS NOT NULL
  AND w.lp >= t.lp_threshold AND w.po <= t.po_threshold
ORDER BY w.lp DESC, w.po ASC, w.country, w.city, w.zone
%s`, metricsView, pred.where(), quantileLiteral(highQ), quantileLiteral(lowQ), limitClause(p.spec.Ops.TopK))

	rows, err := wh.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, err
	}
	return &Result{
		Title:       fmt.Sprintf("Zones with high Lead Penetration and low Perfect Orders (%s)", p.timeLabel),
		Data:        rows,
		Suggestions: []string{"See the peer group?", "8-week trend?"},
	}, []string{debugText(q, args)}, nil
}

func contextFloat(ctx map[string]any, key string, fallback float64) float64 {
	switch v := ctx[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return fallback
}

// correlationPairs are the metric pairs attached to inference rows.
var correlationPairs = []struct {
	key  string
	a, b string
}{
	{"corr_lp_po", domain.MetricLeadPenetration, domain.MetricPerfectOrders},
	{"corr_lp_gp", domain.MetricLeadPenetration, domain.MetricGrossProfitUE},
	{"corr_po_gp", domain.MetricPerfectOrders, domain.MetricGrossProfitUE},
}

func (e *Executor) inference(ctx context.Context, wh domain.Warehouse, p plan) (*Result, []string, error) {
	topK := p.spec.Ops.TopK
	if topK <= 0 {
		topK = defaultInferenceTopK
	}

	pred := &predicate{}
	pred.addFilters(p.spec.Filters, ordersView)
	pred.add("orders IS NOT NULL")
	pred.addWindow(p.window)
	// x counts weeks oldest to newest so a positive slope means growth.
	slopeQ := fmt.Sprintf(`
WITH indexed AS (
  SELECT country, city, zone, orders,
         row_number() OVER (PARTITION BY country, city, zone ORDER BY week_offset DESC) - 1 AS x
  FROM %s
  %s
)
SELECT country, city, zone,
       covar_samp(orders, x) / nullif(var_samp(x), 0) AS slope,
       count(*) AS weeks
FROM indexed
GROUP BY country, city, zone
HAVING var_samp(x) > 0
ORDER BY slope DESC, country, city, zone
%s`, ordersView, pred.where(), limitClause(topK))

	top, err := wh.Query(ctx, slopeQ, pred.args...)
	if err != nil {
		return nil, nil, err
	}

	corrMetrics := []string{domain.MetricLeadPenetration, domain.MetricPerfectOrders, domain.MetricGrossProfitUE}
	corrQ := fmt.Sprintf(`
SELECT week_offset, metric, value
FROM %s
WHERE upper(country) = upper(?) AND upper(city) = upper(?) AND upper(zone) = upper(?)
  AND week_offset BETWEEN ? AND ?
  AND value IS NOT NULL
  AND lower(metric) IN (%s)
ORDER BY week_offset DESC`, metricsView, placeholders(len(corrMetrics)))

	for _, row := range top {
		args := []any{row["country"], row["city"], row["zone"], p.window.Lo, p.window.Hi}
		for _, m := range corrMetrics {
			args = append(args, strings.ToLower(m))
		}
		series, err := wh.Query(ctx, corrQ, args...)
		if err != nil {
			return nil, nil, err
		}
		wide := pivotWeeks(series, p.window)
		for _, pair := range correlationPairs {
			if rho, ok := stats.Spearman(wide[strings.ToLower(pair.a)], wide[strings.ToLower(pair.b)]); ok {
				row[pair.key] = rho
			} else {
				row[pair.key] = nil
			}
		}
	}

	return &Result{
		Title:       fmt.Sprintf("Fastest-growing zones by Orders (%s) with correlations", p.timeLabel),
		Data:        top,
		Suggestions: []string{"Drivers by peer group?", "Playbook per zone?"},
	}, []string{debugText(slopeQ, pred.args), strings.TrimSpace(corrQ)}, nil
}

// pivotWeeks turns (week_offset, metric, value) rows into one chronological
// series per lowercased metric name. Missing weeks are NaN.
func pivotWeeks(rows []domain.Row, r domain.WeekRange) map[string][]float64 {
	n := r.Weeks()
	out := map[string][]float64{}
	for _, row := range rows {
		metric := strings.ToLower(domain.StringValue(row["metric"]))
		week, ok := domain.IntValue(row["week_offset"])
		if !ok || week < r.Lo || week > r.Hi {
			continue
		}
		v, ok := domain.FloatValue(row["value"])
		if !ok {
			continue
		}
		series, exists := out[metric]
		if !exists {
			series = stats.NaNs(n)
			out[metric] = series
		}
		series[r.Hi-week] = v
	}
	return out
}

func (e *Executor) contextual(ctx context.Context, wh domain.Warehouse, p plan) (*Result, []string, error) {
	pred := &predicate{}
	pred.addFilters(p.spec.Filters, metricsView)
	pred.addMetrics(contextualMetrics)
	pred.add("value IS NOT NULL")

	args := append([]any{}, pred.args...)
	args = append(args, pred.args...)
	args = append(args, strings.ToLower(domain.MetricPerfectOrders), e.thresholds.ContextualPOFloor, e.thresholds.ContextualDrop)

	q := fmt.Sprintf(`
WITH cur AS (
  SELECT country, city, zone, metric, value
  FROM %[1]s
  %[2]s AND week_offset = 0
),
prev AS (
  SELECT country, city, zone, metric, value AS prev_value
  FROM %[1]s
  %[2]s AND week_offset = 1
),
joined AS (
  SELECT c.country, c.city, c.zone, c.metric, c.value, p.prev_value,
         CASE WHEN p.prev_value IS NULL OR p.prev_value = 0 THEN NULL
              ELSE (c.value - p.prev_value) / abs(p.prev_value) END AS pct_change
  FROM cur c
  LEFT JOIN prev p ON p.country = c.country AND p.city = c.city AND p.zone = c.zone AND p.metric = c.metric
)
SELECT country, city, zone, metric, value, prev_value, pct_change
FROM joined
WHERE (lower(metric) = ? AND value < ?)
   OR (pct_change IS NOT NULL AND pct_change < ?)
ORDER BY metric, value ASC, country, city, zone`, metricsView, pred.where())

	rows, err := wh.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, err
	}
	return &Result{
		Title: fmt.Sprintf("Problem zones (Perfect Orders below %.0f%% or week-over-week drop over %.0f%%)",
			e.thresholds.ContextualPOFloor*100, -e.thresholds.ContextualDrop*100),
		Data:        rows,
		Suggestions: []string{"Prioritize by country or city?", "Recommendations per problem type?"},
	}, []string{debugText(q, args)}, nil
}
