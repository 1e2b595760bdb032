// Package chat answers natural-language questions: it resolves the session
// memory, parses the question into a spec, updates memory, executes the spec
// and records the turn.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/memory"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/query"
)

// SpecParser turns a question into a spec. Implemented by parser.Parser.
type SpecParser interface {
	Parse(ctx context.Context, question string, mem domain.Filters, useLLM bool) *domain.AnalyticsSpec
}

// SpecExecutor runs a spec. Implemented by query.Executor.
type SpecExecutor interface {
	Execute(ctx context.Context, spec *domain.AnalyticsSpec) (*query.Result, error)
}

// Request is one question.
type Request struct {
	Question  string `json:"question"`
	UseLLM    bool   `json:"use_llm"`
	SessionID string `json:"session_id,omitempty"`
}

// Response is the answer to one question.
type Response struct {
	SessionID string                `json:"session_id"`
	Spec      *domain.AnalyticsSpec `json:"spec"`
	Result    *query.Result         `json:"result"`
}

// Service is the chat orchestrator.
type Service struct {
	sessions *memory.Store
	parser   SpecParser
	executor SpecExecutor
	history  domain.HistoryRepository
	logger   *slog.Logger
}

// NewService creates a Service. history may be nil.
func NewService(sessions *memory.Store, p SpecParser, exec SpecExecutor, history domain.HistoryRepository, logger *slog.Logger) *Service {
	return &Service{
		sessions: sessions,
		parser:   p,
		executor: exec,
		history:  history,
		logger:   logger.With("component", "chat"),
	}
}

// Ask answers req.Question within req.SessionID, generating a session id when
// none is given. Memory is updated from the parsed spec before execution, so a
// failed execution still carries the geography to the next question.
func (s *Service) Ask(ctx context.Context, req Request) (*Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.ErrValidation("question is required")
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	start := time.Now()
	mem := s.sessions.Session(sessionID)
	spec := s.parser.Parse(ctx, question, mem.Get(), req.UseLLM)
	mem.UpdateFromSpec(spec)

	result, err := s.executor.Execute(ctx, spec)
	elapsed := time.Since(start)

	turn := &domain.ChatTurn{
		SessionID:  sessionID,
		Question:   question,
		SpecJSON:   encodeSpec(spec),
		Task:       spec.Task,
		Status:     domain.TurnStatusOK,
		DurationMs: elapsed.Milliseconds(),
	}
	switch {
	case err != nil:
		msg := err.Error()
		turn.Status, turn.Error = domain.TurnStatusError, &msg
	case result.Error != "":
		msg := result.Error
		turn.Status, turn.Error = domain.TurnStatusError, &msg
	default:
		turn.RowCount = int64(len(result.Data))
	}
	s.record(ctx, turn)

	if err != nil {
		s.logger.WarnContext(ctx, "chat turn failed", "session_id", sessionID, "task", spec.Task, "error", err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "chat turn",
		"session_id", sessionID,
		"task", spec.Task,
		"duration_ms", elapsed.Milliseconds(),
		"rows", len(result.Data),
	)
	return &Response{SessionID: sessionID, Spec: spec, Result: result}, nil
}

// ResetMemory clears the remembered filters of a session.
func (s *Service) ResetMemory(id string) error {
	if !s.sessions.Reset(id) {
		return domain.ErrNotFound("session %q not found", id)
	}
	return nil
}

// Memory returns the remembered filters of a session.
func (s *Service) Memory(id string) (domain.Filters, error) {
	if !s.sessions.Has(id) {
		return domain.Filters{}, domain.ErrNotFound("session %q not found", id)
	}
	return s.sessions.Session(id).Get(), nil
}

// record persists turn; history failures never fail the question.
func (s *Service) record(ctx context.Context, turn *domain.ChatTurn) {
	if s.history == nil {
		return
	}
	turn.CreatedAt = time.Now().UTC()
	if err := s.history.RecordChatTurn(ctx, turn); err != nil {
		s.logger.WarnContext(ctx, "record chat turn", "error", err)
	}
}

func encodeSpec(spec *domain.AnalyticsSpec) string {
	b, err := json.Marshal(spec)
	if err != nil {
		return "{}"
	}
	return string(b)
}
