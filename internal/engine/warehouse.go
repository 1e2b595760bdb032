// Package engine provides the DuckDB-backed metrics warehouse.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

// Warehouse view names.
const (
	MetricsView = domain.MetricsView
	OrdersView  = domain.OrdersView
)

// QueryObserver receives the outcome of every warehouse query.
type QueryObserver interface {
	ObserveQuery(d time.Duration, err error)
}

// Warehouse runs read-only queries against a DuckDB file. Every batch opens
// its own read-only handle and releases it when the batch ends, so the file
// is never locked between requests.
type Warehouse struct {
	path     string
	logger   *slog.Logger
	observer QueryObserver
}

// NewWarehouse creates a Warehouse over the DuckDB file at path.
func NewWarehouse(path string, logger *slog.Logger) *Warehouse {
	return &Warehouse{path: path, logger: logger.With("component", "warehouse")}
}

// SetObserver attaches a query observer (metrics).
func (w *Warehouse) SetObserver(o QueryObserver) {
	w.observer = o
}

// Path returns the warehouse file path.
func (w *Warehouse) Path() string { return w.path }

// Query runs one statement in its own read-only batch.
func (w *Warehouse) Query(ctx context.Context, sqlQuery string, args ...any) ([]domain.Row, error) {
	var out []domain.Row
	err := w.Batch(ctx, func(q domain.Warehouse) error {
		rows, err := q.Query(ctx, sqlQuery, args...)
		out = rows
		return err
	})
	return out, err
}

// Batch opens a read-only handle, hands it to fn, and closes it afterwards.
// fn may issue concurrent queries on the handle.
func (w *Warehouse) Batch(ctx context.Context, fn func(domain.Warehouse) error) error {
	db, err := w.open()
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	if err := db.PingContext(ctx); err != nil {
		return domain.ErrExecution(err, "connect to warehouse %s", w.path)
	}
	return fn(&batch{db: db, logger: w.logger, observer: w.observer})
}

func (w *Warehouse) open() (*sql.DB, error) {
	if _, err := os.Stat(w.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrExecution(err, "warehouse file %s does not exist, run `opsctl ingest` first", w.path)
		}
		return nil, domain.ErrExecution(err, "stat warehouse %s", w.path)
	}
	db, err := sql.Open("duckdb", w.path+"?access_mode=READ_ONLY")
	if err != nil {
		return nil, domain.ErrExecution(err, "open warehouse %s", w.path)
	}
	return db, nil
}

type batch struct {
	db       *sql.DB
	logger   *slog.Logger
	observer QueryObserver
}

func (b *batch) Query(ctx context.Context, sqlQuery string, args ...any) ([]domain.Row, error) {
	start := time.Now()
	rows, err := QueryRows(ctx, b.db, sqlQuery, args...)
	elapsed := time.Since(start)
	if b.observer != nil {
		b.observer.ObserveQuery(elapsed, err)
	}
	b.logger.DebugContext(ctx, "warehouse query", "sql", sqlQuery, "args", len(args), "rows", len(rows), "duration_ms", elapsed.Milliseconds())
	if err != nil {
		return nil, domain.ErrExecution(err, "warehouse query failed")
	}
	return rows, nil
}

// QueryRows runs a query on db and scans every row into a column-keyed map.
func QueryRows(ctx context.Context, db *sql.DB, sqlQuery string, args ...any) ([]domain.Row, error) {
	rows, err := db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]domain.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []domain.Row{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(domain.Row, len(cols))
		for i, v := range vals {
			row[cols[i]] = normalizeValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// normalizeValue converts driver-specific types into JSON-friendly scalars.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case *big.Int:
		if t.IsInt64() {
			return t.Int64()
		}
		f, _ := new(big.Float).SetInt(t).Float64()
		return f
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case interface{ Float64() float64 }:
		return t.Float64()
	}
	return v
}
