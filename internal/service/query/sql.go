package query

import (
	"fmt"
	"strings"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

// dimColumns maps group_by keys to warehouse columns. Only these identifiers
// are ever interpolated into SQL; every value is a bound parameter.
var dimColumns = map[string]string{
	domain.DimCountry:            "country",
	domain.DimCity:               "city",
	domain.DimZone:               "zone",
	domain.DimZoneType:           "zone_type",
	domain.DimZonePrioritization: "zone_prioritization",
	domain.DimWeek:               "week_offset",
}

// predicate accumulates AND-ed clauses and their bound arguments.
type predicate struct {
	clauses []string
	args    []any
}

func (p *predicate) add(clause string, args ...any) {
	p.clauses = append(p.clauses, clause)
	p.args = append(p.args, args...)
}

// where renders "WHERE ..." or an empty string.
func (p *predicate) where() string {
	if len(p.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(p.clauses, " AND ")
}

// zoneTypeExpr compares zone types with separators collapsed, so "Non-Wealthy"
// and "NON_WEALTHY" both match "Non Wealthy".
const zoneTypeExpr = `regexp_replace(upper(zone_type), '[-_\s]+', ' ', 'g')`

func zoneTypeArg(zt domain.ZoneType) string {
	return strings.ToUpper(string(zt))
}

// addFilters adds case-insensitive geography predicates. The orders view has
// no zone_type column, so for it the segment is resolved through the metrics
// view.
func (p *predicate) addFilters(f domain.Filters, view string) {
	if f.Country != "" {
		p.add("upper(country) = upper(?)", f.Country)
	}
	if f.City != "" {
		p.add("upper(city) = upper(?)", f.City)
	}
	if f.Zone != "" {
		p.add("upper(zone) = upper(?)", f.Zone)
	}
	if f.ZoneType == "" {
		return
	}
	if view == ordersView {
		p.add("EXISTS (SELECT 1 FROM "+metricsView+" m WHERE m.country = "+ordersView+".country AND m.city = "+ordersView+".city AND m.zone = "+ordersView+".zone AND "+zoneTypeExpr+" = ?)", zoneTypeArg(f.ZoneType))
		return
	}
	p.add(zoneTypeExpr+" = ?", zoneTypeArg(f.ZoneType))
}

// addMetrics restricts rows to the given metrics, case-insensitively.
func (p *predicate) addMetrics(metrics []string) {
	if len(metrics) == 0 {
		return
	}
	args := make([]any, len(metrics))
	for i, m := range metrics {
		args[i] = strings.ToLower(m)
	}
	p.add("lower(metric) IN ("+placeholders(len(metrics))+")", args...)
}

func (p *predicate) addWindow(r domain.WeekRange) {
	p.add("week_offset BETWEEN ? AND ?", r.Lo, r.Hi)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func direction(o domain.Order) string {
	if o == domain.OrderAsc {
		return "ASC"
	}
	return "DESC"
}

func limitClause(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf("LIMIT %d", n)
}

// quantileLiteral renders a quantile constant. DuckDB requires quantile
// arguments to be constant at bind time, so it cannot be a parameter.
func quantileLiteral(q float64) string {
	return fmt.Sprintf("%g", min(max(q, 0), 1))
}

// debugText renders a query with its arguments for inspection.
func debugText(sqlQuery string, args []any) string {
	text := strings.TrimSpace(sqlQuery)
	if len(args) == 0 {
		return text
	}
	return fmt.Sprintf("%s\n-- args: %v", text, args)
}
