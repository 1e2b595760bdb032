package domain

import (
	"strconv"
	"time"
)

// Chat turn status values.
const (
	TurnStatusOK    = "ok"
	TurnStatusError = "error"
)

// ChatTurn records one question answered by the chat service.
type ChatTurn struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Question   string    `json:"question"`
	SpecJSON   string    `json:"spec"`
	Task       Task      `json:"task"`
	Status     string    `json:"status"`
	Error      *string   `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	RowCount   int64     `json:"row_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChatTurnFilter holds filter parameters for listing chat turns.
type ChatTurnFilter struct {
	SessionID *string
	Page      PageRequest
}

// Insight run triggers.
const (
	TriggerAPI      = "api"
	TriggerCLI      = "cli"
	TriggerSchedule = "schedule"
)

// InsightRun records one insight report generation.
type InsightRun struct {
	ID          string        `json:"id"`
	Scope       InsightScope  `json:"scope"`
	Counts      InsightCounts `json:"counts"`
	Trigger     string        `json:"trigger"`
	ReportPaths []string      `json:"report_paths,omitempty"`
	DurationMs  int64         `json:"duration_ms"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Page size bounds for list operations.
const (
	DefaultMaxResults = 50
	MaxMaxResults     = 500
)

// PageRequest holds pagination parameters for list operations.
type PageRequest struct {
	MaxResults int
	PageToken  string // decimal offset
}

// Offset decodes the page token. Returns 0 if the token is empty or invalid.
func (p PageRequest) Offset() int {
	n, err := strconv.Atoi(p.PageToken)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Limit returns the effective page size, clamped to [1, MaxMaxResults].
func (p PageRequest) Limit() int {
	if p.MaxResults <= 0 {
		return DefaultMaxResults
	}
	return min(p.MaxResults, MaxMaxResults)
}

// NextPageToken returns the token for the page after offset, or "" when the
// listing is exhausted.
func NextPageToken(offset, limit int, total int64) string {
	next := offset + limit
	if int64(next) >= total {
		return ""
	}
	return strconv.Itoa(next)
}
