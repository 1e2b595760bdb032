// Package api serves the chat and insights HTTP boundary.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/chat"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/insights"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/query"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// ChatService answers questions. Implemented by chat.Service.
type ChatService interface {
	Ask(ctx context.Context, req chat.Request) (*chat.Response, error)
	ResetMemory(id string) error
}

// InsightRunner generates insight reports. Implemented by insights.RunService.
type InsightRunner interface {
	Run(ctx context.Context, scope domain.InsightScope, save bool, trigger string) (*insights.RunOutput, error)
}

// SummaryService answers the headline orders endpoints. Implemented by
// query.Executor.
type SummaryService interface {
	Summary(ctx context.Context, f query.SummaryFilter) (*query.OrdersSummary, error)
	OrdersSeries(ctx context.Context, country, zone string) ([]query.OrdersPoint, error)
}

// Handler implements every route.
type Handler struct {
	chat     ChatService
	insights InsightRunner
	summary  SummaryService
	history  domain.HistoryRepository
	logger   *slog.Logger
}

// NewHandler creates a Handler. history may be nil, in which case the
// history endpoints return empty lists.
func NewHandler(c ChatService, ins InsightRunner, sum SummaryService, history domain.HistoryRepository, logger *slog.Logger) *Handler {
	return &Handler{chat: c, insights: ins, summary: sum, history: history, logger: logger.With("component", "api")}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) postChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			h.writeError(w, r, domain.ErrValidation("request body is required"))
			return
		}
		h.writeError(w, r, domain.ErrValidation("decode request body: %v", err))
		return
	}

	resp, err := h.chat.Ask(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getInsights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	save, err := boolParam(q.Get("save"), true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	scope := domain.InsightScope{
		Country: strings.ToUpper(strings.TrimSpace(q.Get("country"))),
		City:    strings.TrimSpace(q.Get("city")),
		Zone:    strings.TrimSpace(q.Get("zone")),
	}

	out, err := h.insights.Run(r.Context(), scope, save, domain.TriggerAPI)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type runsResponse struct {
	Runs          []domain.InsightRun `json:"runs"`
	Total         int64               `json:"total"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

func (h *Handler) listInsightRuns(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.history == nil {
		writeJSON(w, http.StatusOK, runsResponse{Runs: []domain.InsightRun{}})
		return
	}
	runs, total, err := h.history.ListInsightRuns(r.Context(), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runsResponse{
		Runs:          runs,
		Total:         total,
		NextPageToken: domain.NextPageToken(page.Offset(), page.Limit(), total),
	})
}

type historyResponse struct {
	Turns         []domain.ChatTurn `json:"turns"`
	Total         int64             `json:"total"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.history == nil {
		writeJSON(w, http.StatusOK, historyResponse{Turns: []domain.ChatTurn{}})
		return
	}
	filter := domain.ChatTurnFilter{Page: page}
	if s := strings.TrimSpace(r.URL.Query().Get("session_id")); s != "" {
		filter.SessionID = &s
	}
	turns, total, err := h.history.ListChatTurns(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Turns:         turns,
		Total:         total,
		NextPageToken: domain.NextPageToken(page.Offset(), page.Limit(), total),
	})
}

func (h *Handler) resetSessionMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.ResetMemory(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) metricsSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := query.SummaryFilter{
		Country: strings.TrimSpace(q.Get("country")),
		Zone:    strings.TrimSpace(q.Get("zone")),
	}
	if raw := q.Get("week"); raw != "" {
		week, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, domain.ErrValidation("week must be an integer, got %q", raw))
			return
		}
		f.Week = &week
	}

	out, err := h.summary.Summary(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ordersTimeseries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	points, err := h.summary.OrdersSeries(r.Context(), strings.TrimSpace(q.Get("country")), strings.TrimSpace(q.Get("zone")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// pageParams reads max_results and page_token.
func pageParams(r *http.Request) (domain.PageRequest, error) {
	q := r.URL.Query()
	p := domain.PageRequest{PageToken: q.Get("page_token")}
	if raw := q.Get("max_results"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, domain.ErrValidation("max_results must be a non-negative integer, got %q", raw)
		}
		p.MaxResults = n
	}
	return p, nil
}

func boolParam(raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.ErrValidation("expected a boolean, got %q", raw)
	}
	return b, nil
}
