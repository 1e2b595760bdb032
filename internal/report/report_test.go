package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanfero/rappi-intelligent-ops/internal/config"
	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

func sampleReport() *domain.InsightReport {
	rep := &domain.InsightReport{
		Meta: domain.InsightMeta{GeneratedAt: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)},
	}
	rep.SetSection(domain.CategoryAnomaly, []domain.Insight{{
		Category:       domain.CategoryAnomaly,
		Zone:           "Chapinero",
		Metric:         domain.MetricPerfectOrders,
		Title:          "Perfect Orders fell in Chapinero",
		Summary:        "-12.5% week over week",
		Severity:       0.625,
		Recommendation: "Review fulfillment <and> quality control.",
	}})
	rep.Finalize(5)
	return rep
}

func newRenderer() *Renderer {
	return NewRenderer(CriteriaFrom(config.DefaultInsightThresholds()))
}

func TestMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newRenderer().Markdown(&buf, sampleReport()))
	md := buf.String()

	assert.True(t, strings.HasPrefix(md, "# "+DefaultTitle+"\n"))
	assert.Contains(t, md, "_Generated: 2026-03-02 09:30 UTC_")
	assert.Contains(t, md, "## Executive Summary")
	assert.Contains(t, md, "- **Perfect Orders fell in Chapinero**: -12.5% week over week\n  _Recommendation:_ Review fulfillment <and> quality control.")
	assert.Contains(t, md, "## Concerning Trends (8 weeks)\n\n_No relevant findings._")
	assert.Contains(t, md, "±10% week over week, runs of at least 3 weeks, |z| ≥ 1.5, |ρ| ≥ 0.5")
	assert.NotContains(t, md, "failed")

	// Sections appear in display order.
	last := -1
	for _, s := range Sections(sampleReport()) {
		idx := strings.Index(md, "## "+s.Title)
		require.GreaterOrEqual(t, idx, 0, s.Title)
		assert.Greater(t, idx, last, s.Title)
		last = idx
	}
}

func TestMarkdown_FailedDetectors(t *testing.T) {
	rep := sampleReport()
	rep.Meta.Failed = []domain.Category{domain.CategoryBenchmark, domain.CategoryOpportunity}

	var buf bytes.Buffer
	require.NoError(t, newRenderer().Markdown(&buf, rep))
	assert.Contains(t, buf.String(), "failed and were skipped: benchmark, opportunity")
}

func TestHTML(t *testing.T) {
	rep := sampleReport()
	rep.Meta.Failed = []domain.Category{domain.CategoryTrend}

	var buf bytes.Buffer
	require.NoError(t, newRenderer().HTML(&buf, rep))
	page := buf.String()

	assert.True(t, strings.HasPrefix(page, "<!doctype html>"))
	assert.Contains(t, page, "<title>"+DefaultTitle+"</title>")
	assert.Contains(t, page, "<strong>Perfect Orders fell in Chapinero</strong>")
	assert.Contains(t, page, "Review fulfillment &lt;and&gt; quality control.")
	assert.Contains(t, page, "<code>trend</code>")
	assert.Contains(t, page, "No relevant findings.")
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newRenderer().JSON(&buf, sampleReport()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	for _, key := range []string{"executive_summary", "anomalies", "trends", "benchmarking", "correlations", "opportunities", "meta"} {
		assert.Contains(t, decoded, key)
	}
	assert.Empty(t, decoded["trends"])
	assert.Contains(t, buf.String(), "<and>", "HTML is not escaped")
}

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "reports")
	now := time.Date(2026, 3, 2, 9, 30, 45, 0, time.UTC)

	paths, err := newRenderer().Save(dir, sampleReport(), now)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "insights_report_20260302_0930.md"), paths.Markdown)
	assert.Equal(t, filepath.Join(dir, "insights_report_20260302_0930.html"), paths.HTML)
	assert.Equal(t, filepath.Join(dir, "insights_report_20260302_0930.json"), paths.JSON)
	assert.Equal(t, []string{paths.Markdown, paths.HTML, paths.JSON}, paths.List())

	for _, p := range paths.List() {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Positive(t, info.Size(), p)
	}
}

func TestSave_UnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := newRenderer().Save(filepath.Join(file, "reports"), sampleReport(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create report dir")
}
