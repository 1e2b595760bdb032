package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math"
)

// MetricRow is one long-format row of zone_weekly_metrics.
type MetricRow struct {
	Country            string
	City               string
	Zone               string
	ZoneType           string
	ZonePrioritization string
	Metric             string
	WeekOffset         int
	Value              float64 // NaN is stored as NULL
}

// OrdersRow is one long-format row of zone_weekly_orders.
type OrdersRow struct {
	Country    string
	City       string
	Zone       string
	WeekOffset int
	Orders     float64 // NaN is stored as NULL
}

var schemaDDL = []string{
	`CREATE OR REPLACE TABLE ` + MetricsView + ` (
		country VARCHAR,
		city VARCHAR,
		zone VARCHAR,
		zone_type VARCHAR,
		zone_prioritization VARCHAR,
		metric VARCHAR,
		week_offset INTEGER,
		value DOUBLE
	)`,
	`CREATE OR REPLACE TABLE ` + OrdersView + ` (
		country VARCHAR,
		city VARCHAR,
		zone VARCHAR,
		week_offset INTEGER,
		orders DOUBLE
	)`,
}

// OpenWritable opens (or creates) a warehouse file for loading.
func OpenWritable(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open warehouse %s: %w", path, err)
	}
	return db, nil
}

// LoadWarehouse replaces both warehouse tables with the given rows in one
// transaction.
func LoadWarehouse(ctx context.Context, db *sql.DB, metrics []MetricRow, orders []OrdersRow) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range schemaDDL {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	ms, err := tx.PrepareContext(ctx, `INSERT INTO `+MetricsView+` VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare metrics insert: %w", err)
	}
	defer ms.Close() //nolint:errcheck
	for _, r := range metrics {
		if _, err := ms.ExecContext(ctx, r.Country, r.City, r.Zone, nullString(r.ZoneType), nullString(r.ZonePrioritization),
			r.Metric, r.WeekOffset, nullFloat(r.Value)); err != nil {
			return fmt.Errorf("insert metric row %s/%s/%s L%dW: %w", r.Country, r.Zone, r.Metric, r.WeekOffset, err)
		}
	}

	ordStmt, err := tx.PrepareContext(ctx, `INSERT INTO `+OrdersView+` VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare orders insert: %w", err)
	}
	defer ordStmt.Close() //nolint:errcheck
	for _, r := range orders {
		if _, err := ordStmt.ExecContext(ctx, r.Country, r.City, r.Zone, r.WeekOffset, nullFloat(r.Orders)); err != nil {
			return fmt.Errorf("insert orders row %s/%s L%dW: %w", r.Country, r.Zone, r.WeekOffset, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit load: %w", err)
	}
	return nil
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
