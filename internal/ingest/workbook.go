// Package ingest converts the weekly operations workbook into the long-format
// warehouse tables.
//
// The metrics sheet is wide: one row per zone and metric with one column per
// week, L8W (oldest) through L0W (current), optionally suffixed _ROLL. The
// orders sheet has the same shape without zone type columns. Both are
// unpivoted to one row per zone, metric and week offset.
package ingest

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/engine"
)

// Default sheet names.
const (
	DefaultMetricsSheet = "RAW_INPUT_METRICS"
	DefaultOrdersSheet  = "RAW_ORDERS"
)

// Header names, after normalization.
const (
	colCountry            = "COUNTRY"
	colCity               = "CITY"
	colZone               = "ZONE"
	colZoneType           = "ZONE_TYPE"
	colZonePrioritization = "ZONE_PRIORITIZATION"
	colMetric             = "METRIC"
)

var weekHeader = regexp.MustCompile(`^L(\d+)W(?:_ROLL)?$`)

// Options selects the sheets to read. Empty names use the defaults.
type Options struct {
	MetricsSheet string
	OrdersSheet  string
}

func (o Options) withDefaults() Options {
	if o.MetricsSheet == "" {
		o.MetricsSheet = DefaultMetricsSheet
	}
	if o.OrdersSheet == "" {
		o.OrdersSheet = DefaultOrdersSheet
	}
	return o
}

// Workbook is the unpivoted content of one workbook.
type Workbook struct {
	Metrics []engine.MetricRow
	Orders  []engine.OrdersRow
	// Skipped counts non-empty cells that were not numbers; they load as NULL.
	Skipped int
}

// header maps normalized column names to indexes.
type header struct {
	cols    map[string]int
	weeks   map[int]int // week offset -> column index
	offsets []int       // ascending
}

func normalizeHeader(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "_")
}

func parseHeader(sheet string, row []string, required ...string) (header, error) {
	h := header{cols: map[string]int{}, weeks: map[int]int{}}
	for i, raw := range row {
		name := normalizeHeader(raw)
		if m := weekHeader.FindStringSubmatch(name); m != nil {
			off, _ := strconv.Atoi(m[1])
			if _, dup := h.weeks[off]; dup {
				return header{}, domain.ErrValidation("sheet %s: duplicate week column L%dW", sheet, off)
			}
			h.weeks[off] = i
			continue
		}
		if name != "" {
			h.cols[name] = i
		}
	}
	for _, c := range required {
		if _, ok := h.cols[c]; !ok {
			return header{}, domain.ErrValidation("sheet %s: missing column %s", sheet, c)
		}
	}
	if len(h.weeks) == 0 {
		return header{}, domain.ErrValidation("sheet %s: no week columns (L0W..L8W)", sheet)
	}
	h.offsets = slices.Sorted(maps.Keys(h.weeks))
	return h, nil
}

func (h header) get(row []string, col string) string {
	i, ok := h.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// value parses the cell at week offset off. Empty cells are NaN; bad
// reports a non-empty cell that is not a number.
func (h header) value(row []string, off int) (v float64, bad bool) {
	i := h.weeks[off]
	if i >= len(row) {
		return math.NaN(), false
	}
	s := strings.TrimSpace(row[i])
	if s == "" {
		return math.NaN(), false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN(), true
	}
	return f, false
}

func sheetRows(f *excelize.File, sheet string) ([][]string, error) {
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, domain.ErrNotFound("sheet %s not found", sheet)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrValidation("sheet %s is empty", sheet)
	}
	return rows, nil
}

// Read unpivots the workbook at path. When the orders sheet is absent, orders
// are taken from metrics sheet rows whose metric is Orders. Orders always also
// appear in the metrics table under the Orders metric.
func Read(path string, opts Options) (*Workbook, error) {
	opts = opts.withDefaults()

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	wb := &Workbook{}
	if err := wb.readMetrics(f, opts.MetricsSheet); err != nil {
		return nil, err
	}

	err = wb.readOrders(f, opts.OrdersSheet)
	switch {
	case err == nil:
	case isNotFound(err):
		wb.ordersFromMetrics()
	default:
		return nil, err
	}
	return wb, nil
}

func (wb *Workbook) readMetrics(f *excelize.File, sheet string) error {
	rows, err := sheetRows(f, sheet)
	if err != nil {
		return err
	}
	h, err := parseHeader(sheet, rows[0], colCountry, colCity, colZone, colMetric)
	if err != nil {
		return err
	}

	for _, row := range rows[1:] {
		zone, metric := h.get(row, colZone), h.get(row, colMetric)
		if zone == "" || metric == "" {
			continue
		}
		base := engine.MetricRow{
			Country:            strings.ToUpper(h.get(row, colCountry)),
			City:               h.get(row, colCity),
			Zone:               zone,
			ZoneType:           h.get(row, colZoneType),
			ZonePrioritization: h.get(row, colZonePrioritization),
			Metric:             metric,
		}
		for _, off := range h.offsets {
			v, bad := h.value(row, off)
			if bad {
				wb.Skipped++
			}
			r := base
			r.WeekOffset, r.Value = off, v
			wb.Metrics = append(wb.Metrics, r)
		}
	}
	return nil
}

func (wb *Workbook) readOrders(f *excelize.File, sheet string) error {
	rows, err := sheetRows(f, sheet)
	if err != nil {
		return err
	}
	h, err := parseHeader(sheet, rows[0], colCountry, colCity, colZone)
	if err != nil {
		return err
	}

	segments := wb.zoneSegments()
	for _, row := range rows[1:] {
		zone := h.get(row, colZone)
		if zone == "" {
			continue
		}
		if m := h.get(row, colMetric); m != "" && !strings.EqualFold(m, domain.MetricOrders) {
			continue
		}
		country, city := strings.ToUpper(h.get(row, colCountry)), h.get(row, colCity)
		seg := segments[zoneKey(country, city, zone)]
		for _, off := range h.offsets {
			v, bad := h.value(row, off)
			if bad {
				wb.Skipped++
			}
			wb.Orders = append(wb.Orders, engine.OrdersRow{Country: country, City: city, Zone: zone, WeekOffset: off, Orders: v})
			wb.Metrics = append(wb.Metrics, engine.MetricRow{
				Country:            country,
				City:               city,
				Zone:               zone,
				ZoneType:           seg.ZoneType,
				ZonePrioritization: seg.ZonePrioritization,
				Metric:             domain.MetricOrders,
				WeekOffset:         off,
				Value:              v,
			})
		}
	}
	return nil
}

func (wb *Workbook) ordersFromMetrics() {
	for _, r := range wb.Metrics {
		if strings.EqualFold(r.Metric, domain.MetricOrders) {
			wb.Orders = append(wb.Orders, engine.OrdersRow{
				Country: r.Country, City: r.City, Zone: r.Zone, WeekOffset: r.WeekOffset, Orders: r.Value,
			})
		}
	}
}

// zoneSegments returns the first zone type seen per zone in the metrics rows.
func (wb *Workbook) zoneSegments() map[string]engine.MetricRow {
	out := map[string]engine.MetricRow{}
	for _, r := range wb.Metrics {
		k := zoneKey(r.Country, r.City, r.Zone)
		if _, ok := out[k]; !ok && r.ZoneType != "" {
			out[k] = r
		}
	}
	return out
}

func zoneKey(country, city, zone string) string {
	return strings.ToUpper(country) + "\x00" + strings.ToUpper(city) + "\x00" + strings.ToUpper(zone)
}

func isNotFound(err error) bool {
	var nf *domain.NotFoundError
	return errors.As(err, &nf)
}
