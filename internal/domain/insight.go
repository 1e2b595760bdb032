package domain

import (
	"cmp"
	"slices"
	"time"
)

// Category is the detector that produced an Insight.
type Category string

// Category values.
const (
	CategoryAnomaly     Category = "anomaly"
	CategoryTrend       Category = "trend"
	CategoryBenchmark   Category = "benchmark"
	CategoryCorrelation Category = "correlation"
	CategoryOpportunity Category = "opportunity"
)

// Categories lists detector categories in report order.
var Categories = []Category{CategoryAnomaly, CategoryTrend, CategoryBenchmark, CategoryCorrelation, CategoryOpportunity}

// Insight is one detector finding. Metric is empty for correlations, which
// name their pair in Extra["metrics"].
type Insight struct {
	Category       Category       `json:"category"`
	Country        string         `json:"country,omitempty"`
	City           string         `json:"city,omitempty"`
	Zone           string         `json:"zone,omitempty"`
	Metric         string         `json:"metric,omitempty"`
	Title          string         `json:"title"`
	Summary        string         `json:"summary"`
	Severity       float64        `json:"severity"`
	Recommendation string         `json:"recommendation"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// SortBySeverity orders insights by severity descending. Ties keep their
// incoming order.
func SortBySeverity(items []Insight) {
	slices.SortStableFunc(items, func(a, b Insight) int {
		return cmp.Compare(b.Severity, a.Severity)
	})
}

// TopN sorts items by severity and truncates to n. n <= 0 keeps everything.
func TopN(items []Insight, n int) []Insight {
	SortBySeverity(items)
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

// InsightScope narrows detector queries to one geography. Empty fields are absent.
type InsightScope struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	Zone    string `json:"zone,omitempty"`
}

// InsightCounts is the per-section count block under meta.
type InsightCounts struct {
	Executive     int `json:"executive"`
	Anomalies     int `json:"anomalies"`
	Trends        int `json:"trends"`
	Benchmarking  int `json:"benchmarking"`
	Correlations  int `json:"correlations"`
	Opportunities int `json:"opportunities"`
}

// InsightMeta carries report metadata.
type InsightMeta struct {
	Counts      InsightCounts `json:"counts"`
	Scope       InsightScope  `json:"scope"`
	GeneratedAt time.Time     `json:"generated_at"`
	Failed      []Category    `json:"failed_detectors,omitempty"`
}

// InsightReport is the merged output of all detectors.
type InsightReport struct {
	ExecutiveSummary []Insight   `json:"executive_summary"`
	Anomalies        []Insight   `json:"anomalies"`
	Trends           []Insight   `json:"trends"`
	Benchmarking     []Insight   `json:"benchmarking"`
	Correlations     []Insight   `json:"correlations"`
	Opportunities    []Insight   `json:"opportunities"`
	Meta             InsightMeta `json:"meta"`
}

// Section returns the findings list for a category.
func (r *InsightReport) Section(c Category) []Insight {
	switch c {
	case CategoryAnomaly:
		return r.Anomalies
	case CategoryTrend:
		return r.Trends
	case CategoryBenchmark:
		return r.Benchmarking
	case CategoryCorrelation:
		return r.Correlations
	case CategoryOpportunity:
		return r.Opportunities
	}
	return nil
}

// SetSection stores the findings list for a category. A nil list is stored
// as empty so the JSON payload always carries an array.
func (r *InsightReport) SetSection(c Category, items []Insight) {
	if items == nil {
		items = []Insight{}
	}
	switch c {
	case CategoryAnomaly:
		r.Anomalies = items
	case CategoryTrend:
		r.Trends = items
	case CategoryBenchmark:
		r.Benchmarking = items
	case CategoryCorrelation:
		r.Correlations = items
	case CategoryOpportunity:
		r.Opportunities = items
	}
}

// Finalize builds the executive summary from the global top n and fills
// meta.counts.
func (r *InsightReport) Finalize(executive int) {
	var all []Insight
	for _, c := range Categories {
		if r.Section(c) == nil {
			r.SetSection(c, nil)
		}
		all = append(all, r.Section(c)...)
	}
	r.ExecutiveSummary = TopN(all, executive)
	if r.ExecutiveSummary == nil {
		r.ExecutiveSummary = []Insight{}
	}
	r.Meta.Counts = InsightCounts{
		Executive:     len(r.ExecutiveSummary),
		Anomalies:     len(r.Anomalies),
		Trends:        len(r.Trends),
		Benchmarking:  len(r.Benchmarking),
		Correlations:  len(r.Correlations),
		Opportunities: len(r.Opportunities),
	}
}
