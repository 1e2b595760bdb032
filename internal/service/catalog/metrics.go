// Package catalog provides the metric catalog and the warehouse geography index
// used to resolve metric and location mentions in free text.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed metrics.yaml
var defaultMetricsYAML []byte

// Metric value types.
const (
	ValueRatio    = "ratio"
	ValueCount    = "count"
	ValueCurrency = "currency"
)

// MetricProps describes one catalog metric.
type MetricProps struct {
	Key            string    `yaml:"-" json:"key"`
	Label          string    `yaml:"label" json:"label"`
	DataName       string    `yaml:"data_name" json:"data_name"`
	Synonyms       []string  `yaml:"synonyms" json:"synonyms,omitempty"`
	ValueType      string    `yaml:"value_type" json:"value_type"`
	AggDefault     string    `yaml:"agg_default" json:"agg_default"`
	HigherIsBetter *bool     `yaml:"higher_is_better" json:"higher_is_better"`
	RangeHint      []float64 `yaml:"range_hint" json:"range_hint,omitempty"`
}

// IsHigherBetter reports the metric polarity. Unset means higher is better.
func (p MetricProps) IsHigherBetter() bool {
	return p.HigherIsBetter == nil || *p.HigherIsBetter
}

type catalogFile struct {
	Version int                    `yaml:"version"`
	Metrics map[string]MetricProps `yaml:"metrics"`
}

type synonymEntry struct {
	phrase   string
	dataName string
}

// MetricCatalog is an immutable index of metric definitions.
type MetricCatalog struct {
	metrics  []MetricProps
	byData   map[string]int
	synonyms []synonymEntry
}

var defaultCatalog = sync.OnceValues(func() (*MetricCatalog, error) {
	return ParseMetricCatalog(defaultMetricsYAML)
})

// DefaultMetricCatalog returns the embedded catalog, built once per process.
func DefaultMetricCatalog() *MetricCatalog {
	c, err := defaultCatalog()
	if err != nil {
		panic(fmt.Sprintf("embedded metric catalog: %v", err))
	}
	return c
}

// LoadMetricCatalog reads a YAML catalog from path. An empty path yields the
// embedded default.
func LoadMetricCatalog(path string) (*MetricCatalog, error) {
	if path == "" {
		return defaultCatalog()
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		return nil, fmt.Errorf("read metric catalog %s: %w", path, err)
	}
	return ParseMetricCatalog(data)
}

// ParseMetricCatalog builds a catalog from YAML bytes.
func ParseMetricCatalog(data []byte) (*MetricCatalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse metric catalog: %w", err)
	}
	if len(f.Metrics) == 0 {
		return nil, fmt.Errorf("metric catalog defines no metrics")
	}

	keys := make([]string, 0, len(f.Metrics))
	for k := range f.Metrics {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	c := &MetricCatalog{byData: make(map[string]int, len(keys))}
	owner := map[string]string{}
	for _, k := range keys {
		m := f.Metrics[k]
		m.Key = k
		if m.DataName == "" {
			return nil, fmt.Errorf("metric %q: data_name is required", k)
		}
		if m.Label == "" {
			m.Label = m.DataName
		}
		if m.ValueType == "" {
			m.ValueType = ValueRatio
		}
		if m.AggDefault == "" {
			m.AggDefault = "mean"
		}
		if _, dup := c.byData[m.DataName]; dup {
			return nil, fmt.Errorf("metric %q: data_name %q declared twice", k, m.DataName)
		}
		c.byData[m.DataName] = len(c.metrics)
		c.metrics = append(c.metrics, m)

		for _, w := range append([]string{m.Label, m.DataName}, m.Synonyms...) {
			phrase := NormalizeText(w)
			if phrase == "" {
				continue
			}
			if prev, ok := owner[phrase]; ok {
				if prev != m.DataName {
					return nil, fmt.Errorf("synonym %q maps to both %q and %q", w, prev, m.DataName)
				}
				continue
			}
			owner[phrase] = m.DataName
			c.synonyms = append(c.synonyms, synonymEntry{phrase: phrase, dataName: m.DataName})
		}
	}

	// Longest phrase first so "perfect orders" wins over "orders".
	slices.SortStableFunc(c.synonyms, func(a, b synonymEntry) int {
		if d := len(b.phrase) - len(a.phrase); d != 0 {
			return d
		}
		return strings.Compare(a.phrase, b.phrase)
	})
	return c, nil
}

// Match finds the first metric mentioned in text by label, data name, or
// synonym. Short synonyms (three characters or fewer) must match a whole word.
func (c *MetricCatalog) Match(text string) (MetricProps, bool) {
	q := NormalizeText(text)
	for _, s := range c.synonyms {
		if matchPhrase(q, s.phrase) {
			return c.metrics[c.byData[s.dataName]], true
		}
	}
	return MetricProps{}, false
}

func matchPhrase(text, phrase string) bool {
	if len(phrase) <= 3 {
		return ContainsPhrase(text, phrase)
	}
	return strings.Contains(text, phrase)
}

// Canonical maps an exact label, data name, or synonym to its data name.
func (c *MetricCatalog) Canonical(name string) (string, bool) {
	q := NormalizeText(name)
	for _, s := range c.synonyms {
		if s.phrase == q {
			return s.dataName, true
		}
	}
	return "", false
}

// Lookup returns the catalog entry for a data name.
func (c *MetricCatalog) Lookup(dataName string) (MetricProps, bool) {
	i, ok := c.byData[dataName]
	if !ok {
		return MetricProps{}, false
	}
	return c.metrics[i], true
}

// Props returns the catalog entry for a data name, or a neutral ratio
// definition for unknown names.
func (c *MetricCatalog) Props(dataName string) MetricProps {
	if m, ok := c.Lookup(dataName); ok {
		return m
	}
	higher := true
	return MetricProps{
		Label:          dataName,
		DataName:       dataName,
		ValueType:      ValueRatio,
		AggDefault:     "mean",
		HigherIsBetter: &higher,
		RangeHint:      []float64{0, 1},
	}
}

// Label returns the display label for a data name.
func (c *MetricCatalog) Label(dataName string) string {
	return c.Props(dataName).Label
}

// HigherIsBetter reports the polarity of a data name.
func (c *MetricCatalog) HigherIsBetter(dataName string) bool {
	return c.Props(dataName).IsHigherBetter()
}

// Metrics returns every catalog entry ordered by key.
func (c *MetricCatalog) Metrics() []MetricProps {
	return slices.Clone(c.metrics)
}
