// Package parser turns natural-language analytics questions into an
// AnalyticsSpec. A rule engine built from ordered keyword tables always runs;
// an optional LLM may propose the spec first, but the rule engine's business
// overrides and country hygiene are applied to whatever is used.
package parser

import (
	"context"
	"log/slog"
	"strings"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/catalog"
)

// Spec sources recorded under context["source"].
const (
	SourceRules = "rules"
	SourceLLM   = "llm"
)

// GeoSource supplies the warehouse geography index.
type GeoSource interface {
	IndexOrEmpty(ctx context.Context) *catalog.GeoIndex
}

// Parser resolves questions into specs.
type Parser struct {
	metrics   *catalog.MetricCatalog
	geo       GeoSource
	generator domain.SpecGenerator
	logger    *slog.Logger

	highLPQuantile float64
	lowPOQuantile  float64
}

// Option configures a Parser.
type Option func(*Parser)

// WithGenerator enables the LLM first pass.
func WithGenerator(g domain.SpecGenerator) Option {
	return func(p *Parser) { p.generator = g }
}

// WithQuantiles sets the multivariable quantile parameters attached to specs.
func WithQuantiles(highLP, lowPO float64) Option {
	return func(p *Parser) {
		p.highLPQuantile = highLP
		p.lowPOQuantile = lowPO
	}
}

// New creates a Parser. geo may be nil, in which case only country names are
// recognized.
func New(metrics *catalog.MetricCatalog, geo GeoSource, logger *slog.Logger, opts ...Option) *Parser {
	p := &Parser{
		metrics:        metrics,
		geo:            geo,
		logger:         logger.With("component", "parser"),
		highLPQuantile: 0.70,
		lowPOQuantile:  0.30,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// LLMAvailable reports whether an LLM generator is configured.
func (p *Parser) LLMAvailable() bool { return p.generator != nil }

// Parse never fails: every unresolved field degrades to a safe default.
// With useLLM and a configured generator, the LLM proposal is used when it
// decodes and validates; otherwise the rule spec is returned.
func (p *Parser) Parse(ctx context.Context, question string, mem domain.Filters, useLLM bool) *domain.AnalyticsSpec {
	rules := p.ParseRules(ctx, question, mem)
	if !useLLM || p.generator == nil {
		return rules
	}

	spec, err := p.parseLLM(ctx, question, mem, rules)
	if err != nil {
		p.logger.WarnContext(ctx, "llm parse failed, using rule spec", "error", err)
		return rules
	}
	return spec
}

// ParseRules runs the rule engine only.
func (p *Parser) ParseRules(ctx context.Context, question string, mem domain.Filters) *domain.AnalyticsSpec {
	q := catalog.NormalizeText(question)
	spec := domain.DefaultSpec()

	// 1. metric
	if m, ok := p.metrics.Match(q); ok {
		spec.Metrics = []string{m.DataName}
	} else if name, ok := fallbackMetric(q); ok {
		spec.Metrics = []string{name}
	}

	// 2. task
	spec.Task = classifyTask(q)

	// 3. location
	idx := p.geoIndex(ctx)
	explicitCountry := p.resolveLocation(idx, q, mem, &spec.Filters)

	// 4. segment, read with place names removed ("Costa Rica")
	seg, segMentioned := resolveZoneType(stripPlaces(idx, q))
	if segMentioned {
		spec.Filters.ZoneType = seg
	} else {
		spec.Filters.ZoneType = mem.ZoneType
	}

	// 5. ranking
	spec.Ops.TopK = resolveTopK(q)
	spec.Ops.Order = resolveOrder(q)
	spec.Ops.Agg = resolveAgg(q)
	spec.Ops.Explain = strings.Contains(q, "explain") || catalog.ContainsPhrase(q, "sql")

	// 6. time
	spec.Time = domain.TimeSpec{Range: resolveWindow(q), CompareTo: resolveCompareTo(q)}

	// 7. grouping and visualization
	spec.GroupBy = defaultGroupBy(spec.Task, segMentioned)
	spec.Visualization = defaultVisualization(spec.Task)

	spec.Context = map[string]any{
		domain.CtxExplicitCountry: explicitCountry,
		domain.CtxSource:          SourceRules,
	}

	// 8-9. overrides and hygiene
	p.finalize(spec, q)
	return spec
}

// resolveLocation fills country/city/zone. A zone implies its city and
// country; a city implies its country; a country name is the last resort.
// Nothing resolved means city and zone come from memory and country from
// memory only as kept by its hygiene rules. It reports whether the question
// itself named the country.
func (p *Parser) resolveLocation(idx *catalog.GeoIndex, q string, mem domain.Filters, f *domain.Filters) bool {
	if idx != nil {
		if loc, ok := idx.MatchZone(q); ok {
			f.Country, f.City, f.Zone = loc.Country, loc.City, loc.Zone
			return true
		}
		if loc, ok := idx.MatchCity(q); ok {
			f.Country, f.City = loc.Country, loc.City
			return true
		}
	}
	if code, ok := catalog.MatchCountry(q); ok {
		f.Country = code
		return true
	}
	f.Country, f.City, f.Zone = mem.Country, mem.City, mem.Zone
	return false
}

func (p *Parser) geoIndex(ctx context.Context) *catalog.GeoIndex {
	if p.geo == nil {
		return nil
	}
	return p.geo.IndexOrEmpty(ctx)
}

func stripPlaces(idx *catalog.GeoIndex, q string) string {
	if idx != nil {
		q = idx.StripNames(q)
	}
	return catalog.StripCountries(q)
}

// finalize applies the business overrides, attaches metric metadata, and
// enforces country hygiene. It runs on every spec regardless of origin.
func (p *Parser) finalize(spec *domain.AnalyticsSpec, q string) {
	if spec.Context == nil {
		spec.Context = map[string]any{}
	}

	if spec.Task == domain.TaskMultivariable {
		spec.Metrics = []string{domain.MetricLeadPenetration, domain.MetricPerfectOrders}
		spec.Context[domain.CtxHighQuantile] = p.highLPQuantile
		spec.Context[domain.CtxLowQuantile] = p.lowPOQuantile
	}
	if spec.Task == domain.TaskInference || (hasGrowthWord(q) && hasOrderWord(q)) {
		spec.Metrics = []string{domain.MetricOrders}
		if _, ok := resolveLastN(q); !ok {
			spec.Time.Range = domain.LastNWeeks(5)
		}
	}

	if spec.Task == domain.TaskAggregate && spec.Ops.Agg == "" {
		switch agg := domain.Aggregation(p.metrics.Props(spec.Metrics[0]).AggDefault); agg {
		case domain.AggMean, domain.AggSum, domain.AggMedian:
			spec.Ops.Agg = agg
		default:
			spec.Ops.Agg = domain.AggMean
		}
	}

	props := p.metrics.Props(spec.Metrics[0])
	spec.Context[domain.CtxMetricLabel] = props.Label
	spec.Context[domain.CtxHigherIsBetter] = props.IsHigherBetter()
	spec.Context[domain.CtxValueType] = props.ValueType

	spec.Normalize()
}

func (p *Parser) parseLLM(ctx context.Context, question string, mem domain.Filters, rules *domain.AnalyticsSpec) (*domain.AnalyticsSpec, error) {
	raw, err := p.generator.GenerateSpec(ctx, question, mem)
	if err != nil {
		return nil, err
	}
	spec, err := domain.DecodeSpec(raw)
	if err != nil {
		return nil, err
	}

	metrics := make([]string, 0, len(spec.Metrics))
	for _, m := range spec.Metrics {
		if name, ok := p.metrics.Canonical(m); ok {
			metrics = append(metrics, name)
		}
	}
	if len(metrics) == 0 {
		metrics = rules.Metrics
	}
	spec.Metrics = metrics

	// The rule engine owns the explicit-country signal.
	spec.Context = map[string]any{
		domain.CtxExplicitCountry: rules.Context[domain.CtxExplicitCountry],
		domain.CtxSource:          SourceLLM,
	}

	p.finalize(spec, catalog.NormalizeText(question))
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
