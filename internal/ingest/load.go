package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/juanfero/rappi-intelligent-ops/internal/engine"
)

// Summary describes one completed load.
type Summary struct {
	Workbook   string `json:"workbook"`
	Warehouse  string `json:"warehouse"`
	MetricRows int    `json:"metric_rows"`
	OrderRows  int    `json:"order_rows"`
	Zones      int    `json:"zones"`
	Skipped    int    `json:"skipped_cells"`
	DurationMs int64  `json:"duration_ms"`
}

// Load reads the workbook at xlsxPath and replaces the warehouse tables in
// the DuckDB file at warehousePath, creating its directory when needed.
func Load(ctx context.Context, xlsxPath, warehousePath string, opts Options, logger *slog.Logger) (*Summary, error) {
	logger = logger.With("component", "ingest")
	start := time.Now()

	wb, err := Read(xlsxPath, opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(warehousePath), 0o755); err != nil {
		return nil, fmt.Errorf("create warehouse dir: %w", err)
	}
	db, err := engine.OpenWritable(warehousePath)
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck

	if err := engine.LoadWarehouse(ctx, db, wb.Metrics, wb.Orders); err != nil {
		return nil, fmt.Errorf("load warehouse: %w", err)
	}

	zones := map[string]struct{}{}
	for _, r := range wb.Metrics {
		zones[zoneKey(r.Country, r.City, r.Zone)] = struct{}{}
	}
	sum := &Summary{
		Workbook:   xlsxPath,
		Warehouse:  warehousePath,
		MetricRows: len(wb.Metrics),
		OrderRows:  len(wb.Orders),
		Zones:      len(zones),
		Skipped:    wb.Skipped,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if wb.Skipped > 0 {
		logger.WarnContext(ctx, "non-numeric cells loaded as NULL", "count", wb.Skipped)
	}
	logger.InfoContext(ctx, "warehouse loaded",
		"metric_rows", sum.MetricRows,
		"order_rows", sum.OrderRows,
		"zones", sum.Zones,
		"duration_ms", sum.DurationMs,
	)
	return sum, nil
}
