package testutil

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/juanfero/rappi-intelligent-ops/internal/engine"
)

// Zone identifies one zone in a fixture.
type Zone struct {
	Country            string
	City               string
	Zone               string
	ZoneType           string
	ZonePrioritization string
}

// Series builds metric rows for zone z. values[i] is the value at week offset i
// (offset 0 is the current week).
func Series(z Zone, metric string, values ...float64) []engine.MetricRow {
	rows := make([]engine.MetricRow, 0, len(values))
	for i, v := range values {
		rows = append(rows, engine.MetricRow{
			Country:            z.Country,
			City:               z.City,
			Zone:               z.Zone,
			ZoneType:           z.ZoneType,
			ZonePrioritization: z.ZonePrioritization,
			Metric:             metric,
			WeekOffset:         i,
			Value:              v,
		})
	}
	return rows
}

// OrderSeries builds orders rows for zone z. orders[i] is the count at week offset i.
func OrderSeries(z Zone, orders ...float64) []engine.OrdersRow {
	rows := make([]engine.OrdersRow, 0, len(orders))
	for i, v := range orders {
		rows = append(rows, engine.OrdersRow{Country: z.Country, City: z.City, Zone: z.Zone, WeekOffset: i, Orders: v})
	}
	return rows
}

// WriteWarehouse writes a DuckDB warehouse file in t.TempDir() and returns its path.
func WriteWarehouse(t *testing.T, metrics []engine.MetricRow, orders []engine.OrdersRow) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "warehouse.duckdb")
	db, err := engine.OpenWritable(path)
	if err != nil {
		t.Fatalf("open fixture warehouse: %v", err)
	}
	if err := engine.LoadWarehouse(context.Background(), db, metrics, orders); err != nil {
		_ = db.Close()
		t.Fatalf("load fixture warehouse: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close fixture warehouse: %v", err)
	}
	return path
}

// NewWarehouse writes a fixture file and returns a read-only Warehouse over it.
func NewWarehouse(t *testing.T, metrics []engine.MetricRow, orders []engine.OrdersRow) *engine.Warehouse {
	t.Helper()
	return engine.NewWarehouse(WriteWarehouse(t, metrics, orders), DiscardLogger())
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
