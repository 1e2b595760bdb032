package domain

import "context"

// Warehouse view names.
const (
	MetricsView = "zone_weekly_metrics"
	OrdersView  = "zone_weekly_orders"
)

// Row is one result row keyed by column name.
type Row = map[string]any

// Warehouse answers read-only analytical queries with bound parameters.
// Implemented by engine.Warehouse.
type Warehouse interface {
	Query(ctx context.Context, sqlQuery string, args ...any) ([]Row, error)
}

// SpecGenerator is an optional first-pass parser that turns a question and
// the remembered filters into a JSON-encoded AnalyticsSpec.
// Implemented by parser.GeminiGenerator.
type SpecGenerator interface {
	GenerateSpec(ctx context.Context, question string, memory Filters) ([]byte, error)
}

// HistoryRepository persists chat turns and insight runs.
// Implemented by repository.HistoryRepo.
type HistoryRepository interface {
	RecordChatTurn(ctx context.Context, turn *ChatTurn) error
	ListChatTurns(ctx context.Context, filter ChatTurnFilter) ([]ChatTurn, int64, error)
	RecordInsightRun(ctx context.Context, run *InsightRun) error
	ListInsightRuns(ctx context.Context, page PageRequest) ([]InsightRun, int64, error)
}
