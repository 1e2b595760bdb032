// Package testutil provides shared fixtures and mock implementations of
// domain interfaces for use in tests across the codebase.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

// === History Repository Mock ===

// MockHistoryRepo implements domain.HistoryRepository for testing. Recorded
// turns and runs are collected for assertions. Safe for concurrent use.
type MockHistoryRepo struct {
	RecordChatTurnFn   func(ctx context.Context, turn *domain.ChatTurn) error
	RecordInsightRunFn func(ctx context.Context, run *domain.InsightRun) error

	mu    sync.Mutex
	Turns []domain.ChatTurn
	Runs  []domain.InsightRun
}

// RecordChatTurn implements the interface method for testing.
func (m *MockHistoryRepo) RecordChatTurn(ctx context.Context, turn *domain.ChatTurn) error {
	if m.RecordChatTurnFn != nil {
		if err := m.RecordChatTurnFn(ctx, turn); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	turn.ID = int64(len(m.Turns) + 1)
	m.Turns = append(m.Turns, *turn)
	return nil
}

// ListChatTurns returns the collected turns, filtered by session, newest first.
func (m *MockHistoryRepo) ListChatTurns(_ context.Context, filter domain.ChatTurnFilter) ([]domain.ChatTurn, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ChatTurn
	for i := len(m.Turns) - 1; i >= 0; i-- {
		t := m.Turns[i]
		if filter.SessionID != nil && t.SessionID != *filter.SessionID {
			continue
		}
		out = append(out, t)
	}
	return page(out, filter.Page)
}

// RecordInsightRun implements the interface method for testing.
func (m *MockHistoryRepo) RecordInsightRun(ctx context.Context, run *domain.InsightRun) error {
	if m.RecordInsightRunFn != nil {
		if err := m.RecordInsightRunFn(ctx, run); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = fmt.Sprintf("run-%d", len(m.Runs)+1)
	}
	m.Runs = append(m.Runs, *run)
	return nil
}

// ListInsightRuns returns the collected runs, newest first.
func (m *MockHistoryRepo) ListInsightRuns(_ context.Context, p domain.PageRequest) ([]domain.InsightRun, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.InsightRun, 0, len(m.Runs))
	for i := len(m.Runs) - 1; i >= 0; i-- {
		out = append(out, m.Runs[i])
	}
	return page(out, p)
}

// LastTurn returns the last recorded chat turn, or nil if none.
func (m *MockHistoryRepo) LastTurn() *domain.ChatTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Turns) == 0 {
		return nil
	}
	t := m.Turns[len(m.Turns)-1]
	return &t
}

// RunCount returns the number of recorded insight runs.
func (m *MockHistoryRepo) RunCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Runs)
}

func page[T any](items []T, p domain.PageRequest) ([]T, int64, error) {
	total := int64(len(items))
	off := min(p.Offset(), len(items))
	end := min(off+p.Limit(), len(items))
	return items[off:end], total, nil
}

// === Spec Generator Mock ===

// MockGenerator implements domain.SpecGenerator for testing.
type MockGenerator struct {
	GenerateSpecFn func(ctx context.Context, question string, memory domain.Filters) ([]byte, error)
	Calls          int
}

// GenerateSpec implements the interface method for testing.
func (m *MockGenerator) GenerateSpec(ctx context.Context, question string, memory domain.Filters) ([]byte, error) {
	m.Calls++
	if m.GenerateSpecFn != nil {
		return m.GenerateSpecFn(ctx, question, memory)
	}
	panic("unexpected call to MockGenerator.GenerateSpec")
}
