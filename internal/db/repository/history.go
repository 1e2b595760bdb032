// Package repository implements the domain persistence ports on SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

// timeLayout is the stored timestamp format; it sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// HistoryRepo implements domain.HistoryRepository.
type HistoryRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewHistoryRepo creates a HistoryRepo. read may equal write.
func NewHistoryRepo(write, read *sql.DB) *HistoryRepo {
	return &HistoryRepo{write: write, read: read}
}

var _ domain.HistoryRepository = (*HistoryRepo)(nil)

// RecordChatTurn inserts turn and sets its ID. A zero CreatedAt is set to now.
func (r *HistoryRepo) RecordChatTurn(ctx context.Context, turn *domain.ChatTurn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	if turn.SpecJSON == "" {
		turn.SpecJSON = "{}"
	}
	res, err := r.write.ExecContext(ctx, `
		INSERT INTO chat_turns (session_id, question, spec_json, task, status, error, duration_ms, row_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.SessionID, turn.Question, turn.SpecJSON, string(turn.Task), turn.Status,
		nullString(turn.Error), turn.DurationMs, turn.RowCount, formatTime(turn.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert chat turn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("chat turn id: %w", err)
	}
	turn.ID = id
	return nil
}

// ListChatTurns returns turns newest first, optionally for one session.
func (r *HistoryRepo) ListChatTurns(ctx context.Context, filter domain.ChatTurnFilter) ([]domain.ChatTurn, int64, error) {
	var session any
	if filter.SessionID != nil {
		session = *filter.SessionID
	}

	var total int64
	if err := r.read.QueryRowContext(ctx,
		`SELECT count(*) FROM chat_turns WHERE (? IS NULL OR session_id = ?)`, session, session,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count chat turns: %w", err)
	}

	rows, err := r.read.QueryContext(ctx, `
		SELECT id, session_id, question, spec_json, task, status, error, duration_ms, row_count, created_at
		FROM chat_turns
		WHERE (? IS NULL OR session_id = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?`,
		session, session, filter.Page.Limit(), filter.Page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list chat turns: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.ChatTurn{}
	for rows.Next() {
		var (
			t       domain.ChatTurn
			task    string
			errText sql.NullString
			created string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Question, &t.SpecJSON, &task, &t.Status,
			&errText, &t.DurationMs, &t.RowCount, &created); err != nil {
			return nil, 0, fmt.Errorf("scan chat turn: %w", err)
		}
		t.Task = domain.Task(task)
		if errText.Valid {
			t.Error = &errText.String
		}
		t.CreatedAt = parseTime(created)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list chat turns: %w", err)
	}
	return out, total, nil
}

// RecordInsightRun inserts run, assigning an ID when empty.
func (r *HistoryRepo) RecordInsightRun(ctx context.Context, run *domain.InsightRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return fmt.Errorf("encode run counts: %w", err)
	}
	paths := run.ReportPaths
	if paths == nil {
		paths = []string{}
	}
	pathsJSON, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("encode report paths: %w", err)
	}

	_, err = r.write.ExecContext(ctx, `
		INSERT INTO insight_runs (id, scope_country, scope_city, scope_zone, counts_json, run_trigger, report_paths, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scope.Country, run.Scope.City, run.Scope.Zone, string(counts), run.Trigger,
		string(pathsJSON), run.DurationMs, formatTime(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert insight run: %w", err)
	}
	return nil
}

// ListInsightRuns returns runs newest first.
func (r *HistoryRepo) ListInsightRuns(ctx context.Context, page domain.PageRequest) ([]domain.InsightRun, int64, error) {
	var total int64
	if err := r.read.QueryRowContext(ctx, `SELECT count(*) FROM insight_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count insight runs: %w", err)
	}

	rows, err := r.read.QueryContext(ctx, `
		SELECT id, scope_country, scope_city, scope_zone, counts_json, run_trigger, report_paths, duration_ms, created_at
		FROM insight_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`,
		page.Limit(), page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list insight runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.InsightRun{}
	for rows.Next() {
		var (
			run           domain.InsightRun
			counts, paths string
			created       string
		)
		if err := rows.Scan(&run.ID, &run.Scope.Country, &run.Scope.City, &run.Scope.Zone,
			&counts, &run.Trigger, &paths, &run.DurationMs, &created); err != nil {
			return nil, 0, fmt.Errorf("scan insight run: %w", err)
		}
		if err := json.Unmarshal([]byte(counts), &run.Counts); err != nil {
			return nil, 0, fmt.Errorf("decode run counts %s: %w", run.ID, err)
		}
		if err := json.Unmarshal([]byte(paths), &run.ReportPaths); err != nil {
			return nil, 0, fmt.Errorf("decode report paths %s: %w", run.ID, err)
		}
		run.CreatedAt = parseTime(created)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list insight runs: %w", err)
	}
	return out, total, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
