package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/catalog"
)

// Every matcher below runs on text already passed through catalog.NormalizeText
// (lowercase, no accents, single spaces).

func anyOf(words ...string) func(string) bool {
	return func(q string) bool {
		for _, w := range words {
			if strings.Contains(q, w) {
				return true
			}
		}
		return false
	}
}

func allOf(words ...string) func(string) bool {
	return func(q string) bool {
		for _, w := range words {
			if !strings.Contains(q, w) {
				return false
			}
		}
		return true
	}
}

var (
	growthRe      = regexp.MustCompile(`\b(?:crec\w*|aument\w*|suben|sube|subir|grow\w*|increas\w*)\b`)
	hasGrowthWord = growthRe.MatchString
	hasOrderWord  = anyOf("orden", "orders", "pedido")
)

type taskRule struct {
	task  domain.Task
	match func(string) bool
}

// taskRules is evaluated top to bottom; the first match wins.
var taskRules = []taskRule{
	{domain.TaskCompare, anyOf("compara", "comparar", "comparacion", "diferencia entre", "compare", " versus ", " vs ")},
	{domain.TaskTrend, anyOf("evolucion", "tendencia", "trend")},
	{domain.TaskAggregate, anyOf("promedio", "media", "suma", "total", "average")},
	{domain.TaskMultivariable, allOf("alto", "bajo")},
	{domain.TaskInference, hasGrowthWord},
	{domain.TaskContextual, anyOf("zonas problem", "problem zones", "problematic zones", "zonas con problemas")},
	{domain.TaskFilter, anyOf("top", "mayor", "menor", "mejores", "peores", "best", "worst", "highest", "lowest")},
}

func classifyTask(q string) domain.Task {
	for _, r := range taskRules {
		if r.match(q) {
			return r.task
		}
	}
	return domain.TaskFilter
}

var (
	nonWealthyRe = regexp.MustCompile(`\b(non[ -]?wealthy|no wealthy|no ricas?|populares|popular)\b`)
	wealthyRe    = regexp.MustCompile(`\b(wealthy|ricas?|acomodadas?)\b`)
)

// resolveZoneType returns the segment named in q. mentioned is true when any
// segment keyword appears; seg is empty when both polarities appear.
func resolveZoneType(q string) (seg domain.ZoneType, mentioned bool) {
	non := nonWealthyRe.MatchString(q)
	rest := nonWealthyRe.ReplaceAllString(q, " ")
	rich := wealthyRe.MatchString(rest)
	switch {
	case non && rich:
		return "", true
	case non:
		return domain.ZoneTypeNonWealthy, true
	case rich:
		return domain.ZoneTypeWealthy, true
	}
	return "", false
}

var spelledNumbers = map[string]int{
	"uno": 1, "una": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5, "seis": 6, "siete": 7,
	"ocho": 8, "nueve": 9, "diez": 10, "once": 11, "doce": 12, "trece": 13, "catorce": 14,
	"quince": 15, "dieciseis": 16, "diecisiete": 17, "dieciocho": 18, "diecinueve": 19, "veinte": 20,
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7, "eight": 8,
	"nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20,
}

const numberPattern = `(\d+|uno|una|dos|tres|cuatro|cinco|seis|siete|ocho|nueve|diez|once|doce|trece|catorce|quince|dieciseis|diecisiete|dieciocho|diecinueve|veinte|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty)`

func parseNumber(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	n, ok := spelledNumbers[s]
	return n, ok
}

var topKPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:top|bottom|mejores|peores|primeras|primeros)\s+` + numberPattern + `\b`),
	regexp.MustCompile(`\b` + numberPattern + `\s+(?:mejores|peores|best|worst)\b`),
	regexp.MustCompile(`\b` + numberPattern + `\s+(?:zonas?|ciudades|zones?|cities)\b`),
}

func resolveTopK(q string) int {
	for _, re := range topKPatterns {
		if m := re.FindStringSubmatch(q); m != nil {
			if n, ok := parseNumber(m[1]); ok && n > 0 {
				return n
			}
		}
	}
	return 0
}

var (
	ascWords  = anyOf("bottom", "peor", "worst", "lowest", "menor", "menores", "mas bajo", "mas baja", "least")
	descWords = anyOf("top", "mejor", "best", "highest", "mayor", "mas alto", "mas alta")
)

// resolveOrder defaults to descending; bottom or worst language wins ties.
func resolveOrder(q string) domain.Order {
	if ascWords(q) {
		return domain.OrderAsc
	}
	if descWords(q) {
		return domain.OrderDesc
	}
	return domain.OrderDesc
}

var (
	thisWeek  = anyOf("esta semana", "semana actual", "this week", "current week", "l0w")
	lastWeeks = regexp.MustCompile(`\b(?:ultim[oa]s?|last|past)\s+` + numberPattern + `\s+(?:semanas?|weeks?)\b`)
	prevWeek  = anyOf("semana pasada", "semana anterior", "last week", "previous week")
)

// resolveLastN returns N from "ultimas N semanas" when N is within [1,12].
func resolveLastN(q string) (int, bool) {
	m := lastWeeks.FindStringSubmatch(q)
	if m == nil {
		return 0, false
	}
	n, ok := parseNumber(m[1])
	if !ok || n < 1 || n > 12 {
		return 0, false
	}
	return n, true
}

func resolveWindow(q string) string {
	if n, ok := resolveLastN(q); ok {
		return domain.LastNWeeks(n)
	}
	if thisWeek(q) {
		return domain.WindowCurrentWeek
	}
	return domain.WindowDefault
}

func resolveCompareTo(q string) domain.CompareTo {
	if prevWeek(q) {
		return domain.ComparePrevWeek
	}
	return domain.CompareNone
}

type aggRule struct {
	agg   domain.Aggregation
	match func(string) bool
}

// aggRules: median before mean since "media" is a prefix of "mediana".
var aggRules = []aggRule{
	{domain.AggMedian, anyOf("mediana", "median")},
	{domain.AggMean, anyOf("promedio", "media", "average", "mean")},
	{domain.AggSum, anyOf("suma", "total", "sum")},
}

func resolveAgg(q string) domain.Aggregation {
	for _, r := range aggRules {
		if r.match(q) {
			return r.agg
		}
	}
	return ""
}

func defaultGroupBy(task domain.Task, segmentMentioned bool) []string {
	switch task {
	case domain.TaskAggregate:
		return []string{domain.DimCountry}
	case domain.TaskCompare:
		if segmentMentioned {
			return []string{domain.DimZoneType}
		}
		return []string{domain.DimZone}
	case domain.TaskTrend:
		return []string{domain.DimWeek}
	default:
		return []string{domain.DimZone}
	}
}

func defaultVisualization(task domain.Task) domain.Visualization {
	switch task {
	case domain.TaskCompare, domain.TaskAggregate:
		return domain.VizBar
	case domain.TaskTrend:
		return domain.VizLine
	default:
		return domain.VizTable
	}
}

// fallbackMetrics is consulted when the catalog finds nothing. Canonical
// names must exist in the catalog.
var fallbackMetrics = []struct {
	canonical string
	words     []string
}{
	{domain.MetricPerfectOrders, []string{"perfect", "perfectas", "perfectos"}},
	{domain.MetricLeadPenetration, []string{"lead", "penetracion", "leads"}},
	{domain.MetricGrossProfitUE, []string{"profit", "margen", "gp"}},
	{domain.MetricOrders, []string{"orden", "order", "pedido", "volumen"}},
}

func fallbackMetric(q string) (string, bool) {
	for _, f := range fallbackMetrics {
		for _, w := range f.words {
			if catalog.ContainsPhrase(q, w) || (len(w) > 3 && strings.Contains(q, w)) {
				return f.canonical, true
			}
		}
	}
	return "", false
}
