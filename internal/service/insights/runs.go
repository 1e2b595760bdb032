package insights

import (
	"context"
	"log/slog"
	"time"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/report"
)

// Generator produces insight reports. Implemented by Engine.
type Generator interface {
	Generate(ctx context.Context, scope domain.InsightScope) (*domain.InsightReport, error)
}

// Saver writes a report to disk. Implemented by report.Renderer.
type Saver interface {
	Save(dir string, rep *domain.InsightReport, now time.Time) (report.Paths, error)
}

// RunOutput is the result of one recorded run.
type RunOutput struct {
	RunID  string                `json:"run_id"`
	Report *domain.InsightReport `json:"insights"`
	Files  *report.Paths         `json:"files"`
}

// RunService generates reports, optionally saves them, and records each run
// in history.
type RunService struct {
	gen     Generator
	saver   Saver
	dir     string
	history domain.HistoryRepository
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunService creates a RunService writing saved reports to dir. history
// may be nil.
func NewRunService(gen Generator, saver Saver, dir string, history domain.HistoryRepository, logger *slog.Logger) *RunService {
	return &RunService{
		gen:     gen,
		saver:   saver,
		dir:     dir,
		history: history,
		logger:  logger.With("component", "insight-runs"),
		now:     time.Now,
	}
}

// Run generates a report for scope. With save, the report is written to the
// report directory and the paths are returned and recorded.
func (s *RunService) Run(ctx context.Context, scope domain.InsightScope, save bool, trigger string) (*RunOutput, error) {
	start := s.now()
	rep, err := s.gen.Generate(ctx, scope)
	if err != nil {
		return nil, err
	}

	out := &RunOutput{Report: rep}
	run := &domain.InsightRun{Scope: scope, Counts: rep.Meta.Counts, Trigger: trigger}
	if save {
		paths, err := s.saver.Save(s.dir, rep, start)
		if err != nil {
			return nil, err
		}
		out.Files = &paths
		run.ReportPaths = paths.List()
	}
	run.DurationMs = s.now().Sub(start).Milliseconds()
	run.CreatedAt = start.UTC()

	if s.history != nil {
		if err := s.history.RecordInsightRun(ctx, run); err != nil {
			s.logger.WarnContext(ctx, "record insight run", "error", err)
		}
	}
	out.RunID = run.ID
	s.logger.InfoContext(ctx, "insight run",
		"run_id", run.ID,
		"trigger", trigger,
		"saved", save,
		"duration_ms", run.DurationMs,
	)
	return out, nil
}
