package insights

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanfero/rappi-intelligent-ops/internal/config"
	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/engine"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/catalog"
	"github.com/juanfero/rappi-intelligent-ops/internal/testutil"
)

func zone(country, name, zoneType string) testutil.Zone {
	return testutil.Zone{Country: country, City: "City " + country, Zone: name, ZoneType: zoneType}
}

func newEngine(t *testing.T, src Source, mutate ...func(*config.InsightThresholds)) *Engine {
	t.Helper()
	th := config.DefaultInsightThresholds()
	for _, m := range mutate {
		m(&th)
	}
	e := NewEngine(src, catalog.DefaultMetricCatalog(), th, testutil.DiscardLogger())
	e.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	return e
}

func generate(t *testing.T, e *Engine, scope domain.InsightScope) *domain.InsightReport {
	t.Helper()
	report, err := e.Generate(context.Background(), scope)
	require.NoError(t, err)
	return report
}

// rowSource wraps a warehouse and rewrites or fails selected queries.
type rowSource struct {
	inner     Source
	intercept func(sqlQuery string) ([]domain.Row, bool, error)
}

func (s rowSource) Batch(ctx context.Context, fn func(domain.Warehouse) error) error {
	return s.inner.Batch(ctx, func(wh domain.Warehouse) error {
		return fn(interceptedWarehouse{inner: wh, intercept: s.intercept})
	})
}

type interceptedWarehouse struct {
	inner     domain.Warehouse
	intercept func(string) ([]domain.Row, bool, error)
}

func (w interceptedWarehouse) Query(ctx context.Context, q string, args ...any) ([]domain.Row, error) {
	if rows, ok, err := w.intercept(q); ok {
		return rows, err
	}
	return w.inner.Query(ctx, q, args...)
}

func TestAnomaly_Deterioration(t *testing.T) {
	z := zone("CO", "Chapinero", "Wealthy")
	var metrics []engine.MetricRow
	metrics = append(metrics, testutil.Series(z, domain.MetricPerfectOrders, 0.70, 0.80)...)
	metrics = append(metrics, testutil.Series(z, domain.MetricLeadPenetration, 0.50, 0.48)...)
	metrics = append(metrics, testutil.Series(z, domain.MetricGrossProfitUE, 5.0, 4.0)...)

	report := generate(t, newEngine(t, testutil.NewWarehouse(t, metrics, nil)), domain.InsightScope{})
	require.Len(t, report.Anomalies, 2)

	gp := report.Anomalies[0]
	assert.Equal(t, domain.MetricGrossProfitUE, gp.Metric)
	assert.InDelta(t, 0.25, gp.Extra["pct_change"], 1e-9)
	assert.InDelta(t, 1.0, gp.Severity, 1e-9)
	assert.Equal(t, false, gp.Extra["concerning"])
	assert.Equal(t, recommend(recoImprovement), gp.Recommendation)

	po := report.Anomalies[1]
	assert.Equal(t, domain.CategoryAnomaly, po.Category)
	assert.Equal(t, domain.MetricPerfectOrders, po.Metric)
	assert.Equal(t, "Chapinero", po.Zone)
	assert.Equal(t, "City CO", po.City)
	assert.InDelta(t, -0.125, po.Extra["pct_change"], 1e-9)
	assert.InDelta(t, 0.625, po.Severity, 1e-9)
	assert.Equal(t, true, po.Extra["concerning"])
	assert.Equal(t, recommendations[lowKey(domain.MetricPerfectOrders)], po.Recommendation)
	assert.Contains(t, po.Title, "-12.5%")
}

func TestAnomalySeverity(t *testing.T) {
	tests := []struct {
		pct  float64
		want float64
	}{
		{0.05, 0.25},
		{-0.10, 0.5},
		{0.20, 1.0},
		{-0.25, 1.0},
		{0, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, anomalySeverity(tt.pct, 0.20), 1e-9, "pct=%v", tt.pct)
	}
	assert.LessOrEqual(t, anomalySeverity(0.11, 0.20), anomalySeverity(0.12, 0.20))
}

func TestAnomaly_SkipsZeroPrevious(t *testing.T) {
	z := zone("CO", "Nueva", "Wealthy")
	metrics := testutil.Series(z, domain.MetricOrders, 100, 0)

	report := generate(t, newEngine(t, testutil.NewWarehouse(t, metrics, nil)), domain.InsightScope{})
	assert.Empty(t, report.Anomalies)
}

func benchmarkFixture() []engine.MetricRow {
	var metrics []engine.MetricRow
	for i, v := range []float64{0.9, 0.9, 0.9, 0.9, 0.5} {
		metrics = append(metrics, testutil.Series(zone("CO", "W"+string(rune('A'+i)), "Wealthy"), domain.MetricPerfectOrders, v)...)
	}
	for i := range 3 {
		metrics = append(metrics, testutil.Series(zone("CO", "N"+string(rune('A'+i)), "Non Wealthy"), domain.MetricPerfectOrders, 0.5)...)
	}
	return metrics
}

func TestBenchmark_PeerGroups(t *testing.T) {
	wh := testutil.NewWarehouse(t, benchmarkFixture(), nil)

	t.Run("country and zone type", func(t *testing.T) {
		report := generate(t, newEngine(t, wh), domain.InsightScope{})
		require.Len(t, report.Benchmarking, 1)
		b := report.Benchmarking[0]
		assert.Equal(t, "WE", b.Zone)
		assert.InDelta(t, -2.0, b.Extra["z"], 1e-9)
		assert.InDelta(t, 2.0/3.0, b.Severity, 1e-9)
		assert.Equal(t, recommend(recoBenchmarkNegative), b.Recommendation)
		assert.Equal(t, config.PeerGroupCountryZoneType, b.Extra["peer_group"])
	})

	t.Run("country only", func(t *testing.T) {
		e := newEngine(t, wh, func(th *config.InsightThresholds) { th.PeerGroup = config.PeerGroupCountry })
		report := generate(t, e, domain.InsightScope{})
		assert.Empty(t, report.Benchmarking, "all |z| are 1 when both segments are pooled")
	})
}

func TestBenchmark_ZeroVarianceGroup(t *testing.T) {
	var metrics []engine.MetricRow
	for i := range 6 {
		metrics = append(metrics, testutil.Series(zone("CO", "Z"+string(rune('A'+i)), "Wealthy"), domain.MetricPerfectOrders, 0.8)...)
	}
	report := generate(t, newEngine(t, testutil.NewWarehouse(t, metrics, nil)), domain.InsightScope{})
	assert.Empty(t, report.Benchmarking)
}

func TestTrend_Decline(t *testing.T) {
	declining := zone("CO", "Declining", "Wealthy")
	rising := zone("CO", "Rising", "Wealthy")
	short := zone("CO", "Short", "Wealthy")

	var metrics []engine.MetricRow
	// offset 0 is the newest week
	metrics = append(metrics, testutil.Series(declining, domain.MetricPerfectOrders, 0.80, 0.82, 0.84, 0.86, 0.88, 0.90, 0.92, 0.94, 0.96)...)
	metrics = append(metrics, testutil.Series(rising, domain.MetricPerfectOrders, 0.96, 0.94, 0.92, 0.90, 0.88, 0.86, 0.84, 0.82, 0.80)...)
	metrics = append(metrics, testutil.Series(short, domain.MetricPerfectOrders, 0.80, 0.82, 0.84, 0.86, 0.88)...)

	report := generate(t, newEngine(t, testutil.NewWarehouse(t, metrics, nil)), domain.InsightScope{})
	require.Len(t, report.Trends, 1)

	tr := report.Trends[0]
	assert.Equal(t, "Declining", tr.Zone)
	assert.InDelta(t, -0.02, tr.Extra["slope"], 1e-9)
	assert.InDelta(t, 1.0, tr.Extra["r2"], 1e-9)
	assert.Equal(t, 8, tr.Extra["decline_run"])
	assert.InDelta(t, 0.7746, tr.Severity, 1e-3)
}

func TestTrend_RunWithoutFit(t *testing.T) {
	z := zone("CO", "Dip", "Wealthy")
	// Oldest to newest: 0.5 0.9 0.5 0.9 0.9 0.85 0.8 0.75, a weak fit but three recent drops.
	metrics := testutil.Series(z, domain.MetricLeadPenetration, 0.75, 0.80, 0.85, 0.9, 0.9, 0.5, 0.9, 0.5)

	report := generate(t, newEngine(t, testutil.NewWarehouse(t, metrics, nil)), domain.InsightScope{})
	require.Len(t, report.Trends, 1)
	assert.Equal(t, 3, report.Trends[0].Extra["decline_run"])
}

func TestTrendSeverity(t *testing.T) {
	assert.InDelta(t, 0.5, trendSeverity(-0.5, 0), 1e-9)
	assert.InDelta(t, 1.0, trendSeverity(3, 0), 1e-9)
	assert.InDelta(t, 0.4, trendSeverity(0.1, 0.5), 1e-9)
}

func TestCorrelation_MinimumPoints(t *testing.T) {
	six := zone("CO", "Six", "Wealthy")
	five := zone("CO", "Five", "Wealthy")

	var metrics []engine.MetricRow
	metrics = append(metrics, testutil.Series(six, domain.MetricLeadPenetration, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1)...)
	metrics = append(metrics, testutil.Series(six, domain.MetricPerfectOrders, 0.95, 0.94, 0.93, 0.92, 0.91, 0.90)...)
	metrics = append(metrics, testutil.Series(five, domain.MetricLeadPenetration, 0.5, 0.4, 0.3, 0.2, 0.1)...)
	metrics = append(metrics, testutil.Series(five, domain.MetricPerfectOrders, 0.94, 0.93, 0.92, 0.91, 0.90)...)

	report := generate(t, newEngine(t, testutil.NewWarehouse(t, metrics, nil)), domain.InsightScope{})
	require.Len(t, report.Correlations, 1)

	c := report.Correlations[0]
	assert.Equal(t, "Six", c.Zone)
	assert.Empty(t, c.Metric)
	assert.InDelta(t, 1.0, c.Extra["rho"], 1e-9)
	assert.InDelta(t, 1.0, c.Severity, 1e-9)
	assert.Equal(t, []string{domain.MetricLeadPenetration, domain.MetricPerfectOrders}, c.Extra["metrics"])
	assert.Equal(t, recommend(recoCorrelationLPPO), c.Recommendation)
}

func TestCorrelationSeverity(t *testing.T) {
	assert.InDelta(t, 0.0, correlationSeverity(0.5, 0.5), 1e-9)
	assert.InDelta(t, 0.5, correlationSeverity(-0.75, 0.5), 1e-9)
	assert.InDelta(t, 1.0, correlationSeverity(1, 0.5), 1e-9)
}

func opportunityFixture() ([]engine.MetricRow, []engine.OrdersRow) {
	growing := zone("CO", "Growing", "Wealthy")
	flat := zone("CO", "Flat", "Wealthy")
	var metrics []engine.MetricRow
	metrics = append(metrics, testutil.Series(growing, domain.MetricPerfectOrders, 0.70)...)
	metrics = append(metrics, testutil.Series(flat, domain.MetricPerfectOrders, 0.90)...)
	metrics = append(metrics, testutil.Series(zone("CO", "Peer1", "Wealthy"), domain.MetricPerfectOrders, 0.92)...)
	metrics = append(metrics, testutil.Series(zone("CO", "Peer2", "Wealthy"), domain.MetricPerfectOrders, 0.95)...)

	var orders []engine.OrdersRow
	orders = append(orders, testutil.OrderSeries(growing, 160, 150, 140, 130, 120, 110)...)
	orders = append(orders, testutil.OrderSeries(flat, 100, 100, 100, 100, 100, 100)...)
	return metrics, orders
}

func TestOpportunity(t *testing.T) {
	metrics, orders := opportunityFixture()
	report := generate(t, newEngine(t, testutil.NewWarehouse(t, metrics, orders)), domain.InsightScope{})
	require.Len(t, report.Opportunities, 1)

	o := report.Opportunities[0]
	assert.Equal(t, "Growing", o.Zone)
	assert.Equal(t, domain.MetricPerfectOrders, o.Metric)
	assert.InDelta(t, 10, o.Extra["orders_slope"], 1e-9)
	assert.InDelta(t, 0.904, o.Extra["po_threshold"], 1e-9)
	assert.Greater(t, o.Severity, 0.0)
	assert.LessOrEqual(t, o.Severity, 1.0)
	assert.Equal(t, recommend(recoOpportunity), o.Recommendation)
}

func TestOpportunity_MissingOrdersView(t *testing.T) {
	metrics, orders := opportunityFixture()
	src := rowSource{
		inner: testutil.NewWarehouse(t, metrics, orders),
		intercept: func(q string) ([]domain.Row, bool, error) {
			if strings.Contains(q, "information_schema") {
				return []domain.Row{{"n": int64(0)}}, true, nil
			}
			return nil, false, nil
		},
	}
	report := generate(t, newEngine(t, src), domain.InsightScope{})
	assert.NotNil(t, report.Opportunities)
	assert.Empty(t, report.Opportunities)
	assert.Empty(t, report.Meta.Failed)
}

func TestGenerate_DetectorFailureIsIsolated(t *testing.T) {
	metrics, orders := opportunityFixture()
	z := zone("CO", "Chapinero", "Wealthy")
	metrics = append(metrics, testutil.Series(z, domain.MetricLeadPenetration, 0.70, 0.80)...)

	src := rowSource{
		inner: testutil.NewWarehouse(t, metrics, orders),
		intercept: func(q string) ([]domain.Row, bool, error) {
			if strings.Contains(q, "information_schema") || strings.Contains(q, "coalesce(zone_type") {
				return nil, true, domain.ErrExecution(errors.New("boom"), "warehouse query failed")
			}
			return nil, false, nil
		},
	}
	report := generate(t, newEngine(t, src), domain.InsightScope{})

	assert.Equal(t, []domain.Category{domain.CategoryBenchmark, domain.CategoryOpportunity}, report.Meta.Failed)
	assert.NotNil(t, report.Benchmarking)
	assert.Empty(t, report.Opportunities)
	require.NotEmpty(t, report.Anomalies)
	assert.NotEmpty(t, report.ExecutiveSummary)
}

func TestGenerate_DetectorPanicIsIsolated(t *testing.T) {
	z := zone("CO", "Chapinero", "Wealthy")
	metrics := testutil.Series(z, domain.MetricPerfectOrders, 0.70, 0.80)
	src := rowSource{
		inner: testutil.NewWarehouse(t, metrics, nil),
		intercept: func(q string) ([]domain.Row, bool, error) {
			if strings.Contains(q, "coalesce(zone_type") {
				panic("driver exploded")
			}
			return nil, false, nil
		},
	}
	report := generate(t, newEngine(t, src), domain.InsightScope{})
	assert.Equal(t, []domain.Category{domain.CategoryBenchmark}, report.Meta.Failed)
	assert.Len(t, report.Anomalies, 1)
}

func TestGenerate_ExecutiveSummaryAndCounts(t *testing.T) {
	var metrics []engine.MetricRow
	for i, prev := range []float64{0.80, 0.85, 0.90, 0.95, 1.00, 1.05, 1.10} {
		z := zone("CO", "A"+string(rune('A'+i)), "Wealthy")
		metrics = append(metrics, testutil.Series(z, domain.MetricGrossProfitUE, 0.70, prev)...)
	}
	e := newEngine(t, testutil.NewWarehouse(t, metrics, nil), func(th *config.InsightThresholds) { th.TopN = 6 })
	report := generate(t, e, domain.InsightScope{Country: "co"})

	assert.Len(t, report.Anomalies, 6)
	require.Len(t, report.ExecutiveSummary, 5)
	for i := 1; i < len(report.ExecutiveSummary); i++ {
		assert.GreaterOrEqual(t, report.ExecutiveSummary[i-1].Severity, report.ExecutiveSummary[i].Severity)
	}
	assert.Equal(t, 5, report.Meta.Counts.Executive)
	assert.Equal(t, 6, report.Meta.Counts.Anomalies)
	assert.Equal(t, "co", report.Meta.Scope.Country)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), report.Meta.GeneratedAt)
	for _, c := range domain.Categories {
		assert.NotNil(t, report.Section(c), c)
	}
}

func TestGenerate_Scope(t *testing.T) {
	var metrics []engine.MetricRow
	metrics = append(metrics, testutil.Series(zone("CO", "Chapinero", "Wealthy"), domain.MetricPerfectOrders, 0.70, 0.80)...)
	metrics = append(metrics, testutil.Series(zone("MX", "Roma", "Wealthy"), domain.MetricPerfectOrders, 0.60, 0.80)...)
	e := newEngine(t, testutil.NewWarehouse(t, metrics, nil))

	report := generate(t, e, domain.InsightScope{Country: "MX"})
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, "Roma", report.Anomalies[0].Zone)

	report = generate(t, e, domain.InsightScope{Country: "CO", Zone: "chapinero"})
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, "Chapinero", report.Anomalies[0].Zone)
}

func TestGenerate_MissingWarehouse(t *testing.T) {
	wh := engine.NewWarehouse(filepath.Join(t.TempDir(), "none.duckdb"), testutil.DiscardLogger())
	_, err := newEngine(t, wh).Generate(context.Background(), domain.InsightScope{})
	var execErr *domain.ExecutionError
	assert.True(t, errors.As(err, &execErr))
}
