package domain

import (
	"encoding/json"
	"regexp"
	"slices"
	"strings"
)

// Canonical data-layer metric names.
const (
	MetricLeadPenetration = "Lead Penetration"
	MetricPerfectOrders   = "Perfect Orders"
	MetricGrossProfitUE   = "Gross Profit UE"
	MetricOrders          = "Orders"
)

// Task is the analytical task an AnalyticsSpec asks for.
type Task string

// Task values.
const (
	TaskFilter        Task = "filter"
	TaskCompare       Task = "compare"
	TaskTrend         Task = "trend"
	TaskAggregate     Task = "aggregate"
	TaskMultivariable Task = "multivariable"
	TaskInference     Task = "inference"
	TaskContextual    Task = "contextual"
)

// Tasks lists every recognized task.
var Tasks = []Task{TaskFilter, TaskCompare, TaskTrend, TaskAggregate, TaskMultivariable, TaskInference, TaskContextual}

// Valid reports whether t is a recognized task.
func (t Task) Valid() bool { return slices.Contains(Tasks, t) }

// Order is a sort direction.
type Order string

// Order values.
const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Aggregation is the aggregator requested for aggregate tasks.
type Aggregation string

// Aggregation values.
const (
	AggMean      Aggregation = "mean"
	AggSum       Aggregation = "sum"
	AggPctChange Aggregation = "pct_change"
	AggMedian    Aggregation = "median"
)

// Visualization is a rendering hint for the UI collaborator.
type Visualization string

// Visualization values.
const (
	VizTable Visualization = "table"
	VizBar   Visualization = "bar"
	VizLine  Visualization = "line"
)

// CompareTo names the comparison baseline for a time window.
type CompareTo string

// CompareTo values.
const (
	CompareNone       CompareTo = "none"
	ComparePrevWeek   CompareTo = "prev_week"
	ComparePrevPeriod CompareTo = "prev_period"
)

// ZoneType is the wealth segment of a zone.
type ZoneType string

// ZoneType values.
const (
	ZoneTypeWealthy    ZoneType = "Wealthy"
	ZoneTypeNonWealthy ZoneType = "Non Wealthy"
)

// Grouping dimensions.
const (
	DimCountry            = "country"
	DimCity               = "city"
	DimZone               = "zone"
	DimZoneType           = "zone_type"
	DimZonePrioritization = "zone_prioritization"
	DimWeek               = "week"
)

// Dimensions is the fixed set of allowed group_by keys, in display order.
var Dimensions = []string{DimCountry, DimCity, DimZone, DimZoneType, DimZonePrioritization, DimWeek}

// Context keys written by the parser.
const (
	CtxExplicitCountry = "explicit_country"
	CtxMetricLabel     = "metric_label"
	CtxHigherIsBetter  = "higher_is_better"
	CtxValueType       = "value_type"
	CtxHighQuantile    = "lp_quantile"
	CtxLowQuantile     = "po_quantile"
	CtxSource          = "source"
)

var separatorRe = regexp.MustCompile(`[-_\s]+`)

// NormalizeZoneType maps free-form spellings ("non-wealthy", "NON_WEALTHY",
// "nonwealthy", "wealthy ") to the canonical ZoneType. Empty input yields "".
func NormalizeZoneType(v string) (ZoneType, error) {
	s := strings.TrimSpace(strings.ToLower(v))
	if s == "" {
		return "", nil
	}
	s = strings.TrimSpace(separatorRe.ReplaceAllString(s, " "))
	compact := strings.ReplaceAll(s, " ", "")
	switch {
	case compact == "nonwealthy" || s == "no wealthy":
		return ZoneTypeNonWealthy, nil
	case compact == "wealthy":
		return ZoneTypeWealthy, nil
	}
	return "", ErrValidation("zone_type %q is not one of %q, %q", v, ZoneTypeWealthy, ZoneTypeNonWealthy)
}

// Filters restricts a query to one geography or segment. Empty fields are absent.
type Filters struct {
	Country  string   `json:"country,omitempty"`
	City     string   `json:"city,omitempty"`
	Zone     string   `json:"zone,omitempty"`
	ZoneType ZoneType `json:"zone_type,omitempty"`
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool { return f == Filters{} }

// TimeSpec is the time window of a spec.
type TimeSpec struct {
	Range     string    `json:"range"`
	CompareTo CompareTo `json:"compare_to"`
}

// Ops carries ordering, limits, and aggregation.
type Ops struct {
	Agg     Aggregation `json:"agg,omitempty"`
	TopK    int         `json:"top_k,omitempty"`
	Order   Order       `json:"order"`
	Explain bool        `json:"explain"`
}

// AnalyticsSpec is the contract between the intent parser and the executor.
type AnalyticsSpec struct {
	Task          Task           `json:"task"`
	Metrics       []string       `json:"metrics"`
	Filters       Filters        `json:"filters"`
	GroupBy       []string       `json:"group_by,omitempty"`
	Time          TimeSpec       `json:"time"`
	Ops           Ops            `json:"ops"`
	Visualization Visualization  `json:"visualization,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// DefaultSpec returns the safe default every unresolved field degrades to.
func DefaultSpec() *AnalyticsSpec {
	return &AnalyticsSpec{
		Task:    TaskFilter,
		Metrics: []string{MetricOrders},
		Time:    TimeSpec{Range: WindowDefault, CompareTo: CompareNone},
		Ops:     Ops{Order: OrderDesc},
		Context: map[string]any{},
	}
}

// DecodeSpec parses a JSON spec, normalizes it, and validates it.
func DecodeSpec(data []byte) (*AnalyticsSpec, error) {
	var raw struct {
		AnalyticsSpec
		Filters struct {
			Country  string `json:"country"`
			City     string `json:"city"`
			Zone     string `json:"zone"`
			ZoneType string `json:"zone_type"`
		} `json:"filters"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ErrValidation("decode spec: %v", err)
	}
	spec := raw.AnalyticsSpec
	zt, err := NormalizeZoneType(raw.Filters.ZoneType)
	if err != nil {
		return nil, err
	}
	spec.Filters = Filters{Country: raw.Filters.Country, City: raw.Filters.City, Zone: raw.Filters.Zone, ZoneType: zt}
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// HasGroup reports whether dim is one of the grouping dimensions.
func (s *AnalyticsSpec) HasGroup(dim string) bool {
	for _, g := range s.GroupBy {
		if strings.EqualFold(strings.TrimSpace(g), dim) {
			return true
		}
	}
	return false
}

// Normalize fills defaults, lowercases grouping keys, and enforces the
// group-by-country invariant. It never fails.
func (s *AnalyticsSpec) Normalize() {
	if s.Task == "" {
		s.Task = TaskFilter
	}
	if len(s.Metrics) == 0 {
		s.Metrics = []string{MetricOrders}
	}
	if s.Time.Range == "" {
		s.Time.Range = WindowDefault
	}
	if s.Time.CompareTo == "" {
		s.Time.CompareTo = CompareNone
	}
	if s.Ops.Order == "" {
		s.Ops.Order = OrderDesc
	}
	if s.Context == nil {
		s.Context = map[string]any{}
	}
	for i, g := range s.GroupBy {
		s.GroupBy[i] = strings.ToLower(strings.TrimSpace(g))
	}
	if s.HasGroup(DimCountry) {
		s.Filters.Country = ""
	}
}

// Validate checks every closed value set.
func (s *AnalyticsSpec) Validate() error {
	if !s.Task.Valid() {
		return ErrValidation("unrecognized task %q", s.Task)
	}
	if len(s.Metrics) == 0 {
		return ErrValidation("at least one metric is required")
	}
	switch s.Ops.Order {
	case OrderAsc, OrderDesc:
	default:
		return ErrValidation("order %q must be asc or desc", s.Ops.Order)
	}
	switch s.Ops.Agg {
	case "", AggMean, AggSum, AggPctChange, AggMedian:
	default:
		return ErrValidation("unrecognized aggregation %q", s.Ops.Agg)
	}
	if s.Ops.TopK < 0 {
		return ErrValidation("top_k must be non-negative, got %d", s.Ops.TopK)
	}
	switch s.Visualization {
	case "", VizTable, VizBar, VizLine:
	default:
		return ErrValidation("unrecognized visualization %q", s.Visualization)
	}
	switch s.Time.CompareTo {
	case CompareNone, ComparePrevWeek, ComparePrevPeriod:
	default:
		return ErrValidation("unrecognized compare_to %q", s.Time.CompareTo)
	}
	switch s.Filters.ZoneType {
	case "", ZoneTypeWealthy, ZoneTypeNonWealthy:
	default:
		return ErrValidation("zone_type %q is not one of %q, %q", s.Filters.ZoneType, ZoneTypeWealthy, ZoneTypeNonWealthy)
	}
	for _, g := range s.GroupBy {
		if !slices.Contains(Dimensions, g) {
			return ErrValidation("group_by %q is not one of %v", g, Dimensions)
		}
	}
	return nil
}

// ExplicitCountry reports the parser's explicit_country marker and whether
// the context carried that key at all. Other context keys are not a signal.
func (s *AnalyticsSpec) ExplicitCountry() (explicit bool, hasContext bool) {
	raw, present := s.Context[CtxExplicitCountry]
	if !present {
		return false, false
	}
	v, ok := raw.(bool)
	return ok && v, true
}

// Clone returns a deep copy.
func (s *AnalyticsSpec) Clone() *AnalyticsSpec {
	c := *s
	c.Metrics = slices.Clone(s.Metrics)
	c.GroupBy = slices.Clone(s.GroupBy)
	c.Context = make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		c.Context[k] = v
	}
	return &c
}
