// Package app wires the configuration into the running services shared by
// the HTTP server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/juanfero/rappi-intelligent-ops/internal/api"
	"github.com/juanfero/rappi-intelligent-ops/internal/config"
	internaldb "github.com/juanfero/rappi-intelligent-ops/internal/db"
	"github.com/juanfero/rappi-intelligent-ops/internal/db/repository"
	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/engine"
	"github.com/juanfero/rappi-intelligent-ops/internal/report"
	"github.com/juanfero/rappi-intelligent-ops/internal/scheduler"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/catalog"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/chat"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/insights"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/memory"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/parser"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/query"
	"github.com/juanfero/rappi-intelligent-ops/internal/telemetry"
)

const sessionSweepEvery = 5 * time.Minute

// Options selects the optional parts of the wiring.
type Options struct {
	// WithHistory opens the SQLite history store at Config.HistoryDBPath.
	// Without it chat turns and insight runs are not recorded.
	WithHistory bool
}

// App holds every wired service.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
	Catalog  *catalog.MetricCatalog
	Geo      *catalog.GeoCatalog
	Parser   *parser.Parser
	Executor *query.Executor
	Insights *insights.Engine
	Renderer *report.Renderer
	Runs     *insights.RunService
	Chat     *chat.Service

	// History is nil when the store is not opened.
	History domain.HistoryRepository

	store *internaldb.Store
}

// New builds the application graph. The LLM generator is optional; a failure
// to create it is logged and the parser runs on rules only.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	metricCatalog, err := catalog.LoadMetricCatalog(cfg.MetricCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load metric catalog: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: telemetry.New(),
		Catalog: metricCatalog,
	}

	if opts.WithHistory {
		store, err := internaldb.Open(cfg.HistoryDBPath)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		a.store = store
		a.History = repository.NewHistoryRepo(store.Write, store.Read)
	}

	wh := engine.NewWarehouse(cfg.WarehousePath, logger)
	wh.SetObserver(a.Metrics)
	a.Geo = catalog.NewGeoCatalog(wh, logger)

	th := cfg.Insights
	parserOpts := []parser.Option{parser.WithQuantiles(th.HighLPQuantile, th.LowPOQuantile)}
	if cfg.LLMEnabled() {
		gen, err := parser.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
		if err != nil {
			logger.Warn("LLM parser disabled", "error", err)
		} else {
			parserOpts = append(parserOpts, parser.WithGenerator(gen))
		}
	}
	a.Parser = parser.New(metricCatalog, a.Geo, logger, parserOpts...)

	a.Executor = query.NewExecutor(wh, logger, cfg.DebugSQL && !cfg.IsProduction(), query.Thresholds{
		HighLPQuantile:    th.HighLPQuantile,
		LowPOQuantile:     th.LowPOQuantile,
		ContextualPOFloor: th.ContextualPOFloor,
		ContextualDrop:    th.ContextualDrop,
	})

	a.Insights = insights.NewEngine(wh, metricCatalog, th, logger)
	a.Insights.SetObserver(a.Metrics)
	a.Renderer = report.NewRenderer(report.CriteriaFrom(th))
	a.Runs = insights.NewRunService(a.Insights, a.Renderer, cfg.ReportDir, a.History, logger)
	sessions := memory.NewStore(memory.WithIdleTTL(cfg.SessionIdleTTL))
	sessions.StartSweeper(ctx, sessionSweepEvery)
	a.Chat = chat.NewService(sessions, a.Parser, a.Executor, a.History, logger)

	return a, nil
}

// Router returns the HTTP handler for every route. ctx bounds background
// middleware goroutines.
func (a *App) Router(ctx context.Context) http.Handler {
	h := api.NewHandler(a.Chat, a.Runs, a.Executor, a.History, a.Logger)
	return api.NewRouter(ctx, h, api.RouterConfig{
		AllowedOrigins: a.Config.CORSAllowedOrigins,
		RateLimitRPS:   a.Config.RateLimitRPS,
		RateLimitBurst: a.Config.RateLimitBurst,
		Metrics:        a.Metrics,
		Logger:         a.Logger,
	})
}

// Scheduler returns the periodic insight runner for the configured
// schedule. Start is a no-op when the schedule is empty.
func (a *App) Scheduler() *scheduler.Scheduler {
	return scheduler.New(a.Runs, a.Config.InsightsSchedule, a.Logger)
}

// Close releases the history store.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
