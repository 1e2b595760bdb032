package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopN(t *testing.T) {
	items := []Insight{
		{Title: "a", Severity: 0.2},
		{Title: "b", Severity: 0.9},
		{Title: "c", Severity: 0.5},
		{Title: "d", Severity: 0.5},
	}
	got := TopN(items, 3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"b", "c", "d"}, []string{got[0].Title, got[1].Title, got[2].Title})

	assert.Len(t, TopN([]Insight{{}, {}}, 0), 2)
}

func TestInsightReport_Finalize(t *testing.T) {
	r := &InsightReport{}
	r.SetSection(CategoryAnomaly, []Insight{{Title: "a1", Severity: 1}, {Title: "a2", Severity: 0.1}})
	r.SetSection(CategoryTrend, []Insight{{Title: "t1", Severity: 0.8}})
	r.SetSection(CategoryBenchmark, []Insight{{Title: "b1", Severity: 0.7}, {Title: "b2", Severity: 0.6}})
	r.SetSection(CategoryOpportunity, []Insight{{Title: "o1", Severity: 0.65}})

	r.Finalize(5)

	require.Len(t, r.ExecutiveSummary, 5)
	titles := make([]string, 0, 5)
	for _, in := range r.ExecutiveSummary {
		titles = append(titles, in.Title)
	}
	assert.Equal(t, []string{"a1", "t1", "b1", "o1", "b2"}, titles)
	assert.Equal(t, InsightCounts{Executive: 5, Anomalies: 2, Trends: 1, Benchmarking: 2, Correlations: 0, Opportunities: 1}, r.Meta.Counts)
	assert.NotNil(t, r.Correlations)
}

func TestInsightReport_JSONKeys(t *testing.T) {
	r := &InsightReport{}
	r.Finalize(5)

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	for _, key := range []string{"executive_summary", "anomalies", "trends", "benchmarking", "correlations", "opportunities", "meta"} {
		assert.Contains(t, payload, key)
	}
	meta := payload["meta"].(map[string]any)
	assert.Contains(t, meta, "counts")
}
