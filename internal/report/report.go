// Package report renders insight reports as Markdown, HTML and JSON and
// saves them to disk.
package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/juanfero/rappi-intelligent-ops/internal/config"
	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

// DefaultTitle heads every rendered report.
const DefaultTitle = "Insights Report - Rappi Intelligent Ops"

// baseName prefixes saved report files.
const baseName = "insights_report"

//go:embed report.md.tmpl
var markdownSource string

var markdownTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct": func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
}).Parse(markdownSource))

// Criteria are the detector thresholds quoted in the report footer.
type Criteria struct {
	AnomalyPct     float64
	TrendMinRun    int
	BenchmarkZ     float64
	CorrelationMin float64
}

// CriteriaFrom extracts the footer criteria from the detector thresholds.
func CriteriaFrom(th config.InsightThresholds) Criteria {
	return Criteria{
		AnomalyPct:     th.AnomalyPct,
		TrendMinRun:    th.TrendMinRun,
		BenchmarkZ:     th.BenchmarkZ,
		CorrelationMin: th.CorrelationMin,
	}
}

// Section is one titled list of findings.
type Section struct {
	Title string
	Items []domain.Insight
}

// Sections returns the report sections in display order.
func Sections(rep *domain.InsightReport) []Section {
	return []Section{
		{"Executive Summary", rep.ExecutiveSummary},
		{"Anomalies (week over week)", rep.Anomalies},
		{"Concerning Trends (8 weeks)", rep.Trends},
		{"Benchmarking (peer zones)", rep.Benchmarking},
		{"Metric Correlations", rep.Correlations},
		{"Opportunities", rep.Opportunities},
	}
}

// Renderer renders reports with a fixed title and criteria footer.
type Renderer struct {
	Title    string
	Criteria Criteria
}

// NewRenderer creates a Renderer with the default title.
func NewRenderer(c Criteria) *Renderer {
	return &Renderer{Title: DefaultTitle, Criteria: c}
}

type markdownView struct {
	Title       string
	GeneratedAt string
	Sections    []Section
	Failed      []domain.Category
	Criteria    Criteria
}

// Markdown writes rep as Markdown.
func (r *Renderer) Markdown(w io.Writer, rep *domain.InsightReport) error {
	return markdownTmpl.Execute(w, markdownView{
		Title:       r.Title,
		GeneratedAt: formatGenerated(rep.Meta.GeneratedAt),
		Sections:    Sections(rep),
		Failed:      rep.Meta.Failed,
		Criteria:    r.Criteria,
	})
}

// JSON writes rep as indented JSON.
func (r *Renderer) JSON(w io.Writer, rep *domain.InsightReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(rep)
}

// Paths are the files written by Save.
type Paths struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	JSON     string `json:"json"`
}

// List returns the paths in Markdown, HTML, JSON order.
func (p Paths) List() []string {
	return []string{p.Markdown, p.HTML, p.JSON}
}

// Save writes rep to dir in all three formats under a base name stamped
// with now (minute precision), creating dir when needed.
func (r *Renderer) Save(dir string, rep *domain.InsightReport, now time.Time) (Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create report dir: %w", err)
	}
	stem := filepath.Join(dir, fmt.Sprintf("%s_%s", baseName, now.Format("20060102_1504")))
	paths := Paths{Markdown: stem + ".md", HTML: stem + ".html", JSON: stem + ".json"}

	writers := []struct {
		path   string
		render func(io.Writer, *domain.InsightReport) error
	}{
		{paths.Markdown, r.Markdown},
		{paths.HTML, r.HTML},
		{paths.JSON, r.JSON},
	}
	for _, wr := range writers {
		var buf bytes.Buffer
		if err := wr.render(&buf, rep); err != nil {
			return Paths{}, fmt.Errorf("render %s: %w", filepath.Base(wr.path), err)
		}
		if err := os.WriteFile(wr.path, buf.Bytes(), 0o644); err != nil {
			return Paths{}, fmt.Errorf("write %s: %w", wr.path, err)
		}
	}
	return paths, nil
}

func formatGenerated(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format("2006-01-02 15:04 UTC")
}
