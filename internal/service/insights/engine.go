// Package insights runs the automated detectors over the metrics warehouse
// and merges their findings into a ranked report.
package insights

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/juanfero/rappi-intelligent-ops/internal/config"
	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

const (
	metricsView = domain.MetricsView
	ordersView  = domain.OrdersView
)

// maxParallelDetectors bounds concurrent detector queries on one batch.
const maxParallelDetectors = 8

// Source hands out read-only warehouse batches. Implemented by engine.Warehouse.
type Source interface {
	Batch(ctx context.Context, fn func(domain.Warehouse) error) error
}

// Polarity reports whether higher values of a metric are better.
// Implemented by catalog.MetricCatalog.
type Polarity interface {
	HigherIsBetter(dataName string) bool
}

// DetectorObserver receives the outcome of every detector run.
type DetectorObserver interface {
	ObserveDetector(category domain.Category, d time.Duration, findings int, err error)
}

// Engine generates insight reports.
type Engine struct {
	src      Source
	polarity Polarity
	th       config.InsightThresholds
	logger   *slog.Logger
	observer DetectorObserver
	now      func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(src Source, polarity Polarity, th config.InsightThresholds, logger *slog.Logger) *Engine {
	return &Engine{
		src:      src,
		polarity: polarity,
		th:       th,
		logger:   logger.With("component", "insights"),
		now:      time.Now,
	}
}

// SetObserver attaches a detector observer (metrics).
func (e *Engine) SetObserver(o DetectorObserver) {
	e.observer = o
}

func (e *Engine) detectors() []struct {
	category domain.Category
	run      detectorFunc
} {
	return []struct {
		category domain.Category
		run      detectorFunc
	}{
		{domain.CategoryAnomaly, e.anomalies},
		{domain.CategoryTrend, e.trends},
		{domain.CategoryBenchmark, e.benchmarks},
		{domain.CategoryCorrelation, e.correlations},
		{domain.CategoryOpportunity, e.opportunities},
	}
}

// Generate runs every detector over one read-only warehouse batch. A failing
// detector leaves its section empty and is listed in meta.failed_detectors;
// only a failure to open the warehouse fails the whole report.
func (e *Engine) Generate(ctx context.Context, scope domain.InsightScope) (*domain.InsightReport, error) {
	report := &domain.InsightReport{
		Meta: domain.InsightMeta{Scope: scope, GeneratedAt: e.now().UTC()},
	}

	err := e.src.Batch(ctx, func(wh domain.Warehouse) error {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxParallelDetectors)

		for _, d := range e.detectors() {
			g.Go(func() error {
				start := time.Now()
				items, err := runDetector(gctx, d.run, wh, scope)
				if e.observer != nil {
					e.observer.ObserveDetector(d.category, time.Since(start), len(items), err)
				}

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					e.logger.WarnContext(ctx, "detector failed", "detector", d.category, "error", err)
					report.Meta.Failed = append(report.Meta.Failed, d.category)
					report.SetSection(d.category, nil)
					return nil
				}
				report.SetSection(d.category, domain.TopN(items, e.th.TopN))
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(report.Meta.Failed, func(a, b domain.Category) int {
		return slices.Index(domain.Categories, a) - slices.Index(domain.Categories, b)
	})
	report.Finalize(e.th.Executive)
	e.logger.InfoContext(ctx, "insights generated",
		"executive", report.Meta.Counts.Executive,
		"failed", len(report.Meta.Failed),
		"scope_country", scope.Country,
	)
	return report, nil
}

// runDetector converts a detector panic into an error.
func runDetector(ctx context.Context, fn detectorFunc, wh domain.Warehouse, scope domain.InsightScope) (items []domain.Insight, err error) {
	defer func() {
		if r := recover(); r != nil {
			items, err = nil, fmt.Errorf("detector panic: %v", r)
		}
	}()
	return fn(ctx, wh, scope)
}
