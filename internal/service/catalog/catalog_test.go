package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/testutil"
)

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "ordenes perfectas en bogota", NormalizeText("  Órdenes   PERFECTAS en Bogotá "))
	assert.Equal(t, "ultimas 4 semanas", NormalizeText("últimas\t4 semanas"))
	assert.Equal(t, "", NormalizeText("   "))
}

func TestContainsPhrase(t *testing.T) {
	tests := []struct {
		text, phrase string
		want         bool
	}{
		{"el po de la zona", "po", true},
		{"tiempo de entrega", "po", false},
		{"po", "po", true},
		{"lp/po", "po", true},
		{"grupos y po", "po", true},
		{"chapinero norte", "chapinero", true},
		{"chapineros", "chapinero", false},
		{"", "po", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainsPhrase(tt.text, tt.phrase), "%q in %q", tt.phrase, tt.text)
	}
}

func TestMetricCatalog_Match(t *testing.T) {
	c := DefaultMetricCatalog()

	tests := []struct {
		question string
		want     string
		found    bool
	}{
		{"Top 5 zonas con mayor Lead Penetration esta semana", domain.MetricLeadPenetration, true},
		{"compara Perfect Orders entre wealthy y non wealthy", domain.MetricPerfectOrders, true},
		{"zonas que más crecen en pedidos", domain.MetricOrders, true},
		{"¿cómo va el LP en Bogotá?", domain.MetricLeadPenetration, true},
		{"promedio del gp ue por país", domain.MetricGrossProfitUE, true},
		{"órdenes perfectas en México", domain.MetricPerfectOrders, true},
		{"tiempo de entrega promedio", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			m, ok := c.Match(tt.question)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, m.DataName)
		})
	}
}

func TestMetricCatalog_Props(t *testing.T) {
	c := DefaultMetricCatalog()

	orders := c.Props(domain.MetricOrders)
	assert.Equal(t, ValueCount, orders.ValueType)
	assert.Equal(t, "sum", orders.AggDefault)
	assert.True(t, orders.IsHigherBetter())

	unknown := c.Props("Cancellation Rate")
	assert.Equal(t, "Cancellation Rate", unknown.Label)
	assert.Equal(t, ValueRatio, unknown.ValueType)
	assert.Equal(t, "mean", unknown.AggDefault)
	assert.Equal(t, []float64{0, 1}, unknown.RangeHint)

	assert.Equal(t, "Perfect Orders", c.Label(domain.MetricPerfectOrders))
}

func TestMetricCatalog_Canonical(t *testing.T) {
	c := DefaultMetricCatalog()

	name, ok := c.Canonical("PO")
	require.True(t, ok)
	assert.Equal(t, domain.MetricPerfectOrders, name)

	name, ok = c.Canonical("Gross Profit UE")
	require.True(t, ok)
	assert.Equal(t, domain.MetricGrossProfitUE, name)

	_, ok = c.Canonical("perfect orders in bogota")
	assert.False(t, ok)
}

func TestParseMetricCatalog_Errors(t *testing.T) {
	tests := []struct {
		name, yaml, errMsg string
	}{
		{"empty", "version: 1\n", "no metrics"},
		{"missing data name", "metrics:\n  a:\n    label: A\n", "data_name is required"},
		{"synonym clash", "metrics:\n  a:\n    data_name: A\n    synonyms: [x1]\n  b:\n    data_name: B\n    synonyms: [X1]\n", "maps to both"},
		{"bad yaml", "metrics: [", "parse metric catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMetricCatalog([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadMetricCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.yaml")
	content := `version: 1
metrics:
  cancellations:
    label: Cancellation Rate
    data_name: Cancel Rate
    synonyms: [cancelaciones, cancel rate]
    higher_is_better: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := LoadMetricCatalog(path)
	require.NoError(t, err)
	m, ok := c.Match("zonas con más cancelaciones")
	require.True(t, ok)
	assert.Equal(t, "Cancel Rate", m.DataName)
	assert.False(t, c.HigherIsBetter("Cancel Rate"))
	assert.Equal(t, "mean", m.AggDefault)

	_, err = LoadMetricCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	def, err := LoadMetricCatalog("")
	require.NoError(t, err)
	assert.Same(t, DefaultMetricCatalog(), def)
}

func TestRemovePhrase(t *testing.T) {
	tests := []struct {
		text, phrase, want string
	}{
		{"zonas en costa rica por po", "costa rica", "zonas en   por po"},
		{"costa rica", "costa rica", " "},
		{"chapineros y chapinero", "chapinero", "chapineros y  "},
		{"sin cambios", "", "sin cambios"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RemovePhrase(tt.text, tt.phrase), "%q from %q", tt.phrase, tt.text)
	}
}

func TestStripCountries(t *testing.T) {
	q := StripCountries("Top 5 zonas en Costa Rica por Perfect Orders")
	assert.NotContains(t, q, "rica")
	assert.Contains(t, q, "perfect orders")
}

func TestGeoIndex(t *testing.T) {
	idx := NewGeoIndex([]Location{
		{Country: "CO", City: "Bogota", Zone: "Chapinero"},
		{Country: "CO", City: "Bogota", Zone: "Chapinero Alto"},
		{Country: "CO", City: "Medellin", Zone: "El Poblado"},
		{Country: "MX", City: "Ciudad de Mexico", Zone: "Roma Norte"},
	})

	loc, ok := idx.MatchZone("¿cómo va Chapinero Alto esta semana?")
	require.True(t, ok)
	assert.Equal(t, Location{Country: "CO", City: "Bogota", Zone: "Chapinero Alto"}, loc)

	loc, ok = idx.MatchCity("pedidos en Medellín")
	require.True(t, ok)
	assert.Equal(t, Location{Country: "CO", City: "Medellin"}, loc)

	_, ok = idx.MatchZone("pedidos en Lima")
	assert.False(t, ok)

	stripped := idx.StripNames("LP en Chapinero Alto y Medellín")
	assert.NotContains(t, stripped, "chapinero")
	assert.NotContains(t, stripped, "medellin")
	assert.Contains(t, stripped, "lp en")

	zones, cities := idx.Size()
	assert.Equal(t, 4, zones)
	assert.Equal(t, 3, cities)
}

func TestMatchCountry(t *testing.T) {
	code, ok := MatchCountry("Top 5 zonas en Perú")
	require.True(t, ok)
	assert.Equal(t, "PE", code)

	code, ok = MatchCountry("ventas en México")
	require.True(t, ok)
	assert.Equal(t, "MX", code)

	_, ok = MatchCountry("top zonas")
	assert.False(t, ok)
}

type countingWarehouse struct {
	mu    sync.Mutex
	calls int
	rows  []domain.Row
	err   error
}

func (w *countingWarehouse) Query(_ context.Context, _ string, _ ...any) ([]domain.Row, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	return w.rows, w.err
}

func TestGeoCatalog_LazyAndInvalidate(t *testing.T) {
	wh := &countingWarehouse{rows: []domain.Row{{"country": "CO", "city": "Bogota", "zone": "Usaquen"}}}
	g := NewGeoCatalog(wh, testutil.DiscardLogger())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Index(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wh.calls)

	g.Invalidate()
	idx, err := g.Index(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, wh.calls)
	_, ok := idx.MatchZone("usaquén")
	assert.True(t, ok)
}

func TestGeoCatalog_FailureNotCached(t *testing.T) {
	wh := &countingWarehouse{err: errors.New("boom")}
	g := NewGeoCatalog(wh, testutil.DiscardLogger())

	idx := g.IndexOrEmpty(context.Background())
	zones, _ := idx.Size()
	assert.Zero(t, zones)

	wh.err = nil
	wh.rows = []domain.Row{{"country": "PE", "city": "Lima", "zone": "Miraflores"}}
	idx = g.IndexOrEmpty(context.Background())
	zones, _ = idx.Size()
	assert.Equal(t, 1, zones)
	assert.Equal(t, 2, wh.calls)
}

func TestGeoCatalog_FromDuckDB(t *testing.T) {
	z := testutil.Zone{Country: "CO", City: "Cali", Zone: "Granada", ZoneType: "Wealthy"}
	wh := testutil.NewWarehouse(t, testutil.Series(z, domain.MetricOrders, 10, 11), nil)

	g := NewGeoCatalog(wh, testutil.DiscardLogger())
	idx, err := g.Index(context.Background())
	require.NoError(t, err)
	loc, ok := idx.MatchZone("como va granada")
	require.True(t, ok)
	assert.Equal(t, "Cali", loc.City)
}
