package query

import (
	"context"
	"fmt"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

// SummaryFilter narrows the orders summary endpoints.
type SummaryFilter struct {
	Country string
	Zone    string
	Week    *int
}

// OrdersSummary is the headline figure for a country/zone/week filter.
type OrdersSummary struct {
	Country          string  `json:"country,omitempty"`
	Zone             string  `json:"zone,omitempty"`
	Week             *int    `json:"week,omitempty"`
	TotalOrders      int64   `json:"total_orders"`
	AvgGrossProfitUE float64 `json:"avg_gross_profit_ue"`
}

// OrdersPoint is one week of an orders time series.
type OrdersPoint struct {
	Week   int   `json:"week"`
	Orders int64 `json:"orders"`
}

// Summary returns total orders and average Gross Profit UE for the filter.
func (e *Executor) Summary(ctx context.Context, f SummaryFilter) (*OrdersSummary, error) {
	if f.Week != nil && (*f.Week < 0 || *f.Week > 52) {
		return nil, domain.ErrValidation("week must be between 0 and 52, got %d", *f.Week)
	}

	geo := domain.Filters{Country: f.Country, Zone: f.Zone}
	orders := &predicate{}
	orders.addFilters(geo, ordersView)
	gp := &predicate{}
	gp.addFilters(geo, metricsView)
	gp.addMetrics([]string{domain.MetricGrossProfitUE})
	gp.add("value IS NOT NULL")
	if f.Week != nil {
		orders.add("week_offset = ?", *f.Week)
		gp.add("week_offset = ?", *f.Week)
	}

	ordersQ := fmt.Sprintf(`SELECT coalesce(sum(orders), 0)::BIGINT AS total_orders FROM %s %s`, ordersView, orders.where())
	gpQ := fmt.Sprintf(`SELECT coalesce(avg(value), 0.0) AS avg_gross_profit_ue FROM %s %s`, metricsView, gp.where())

	out := &OrdersSummary{Country: f.Country, Zone: f.Zone, Week: f.Week}
	err := e.src.Batch(ctx, func(wh domain.Warehouse) error {
		rows, err := wh.Query(ctx, ordersQ, orders.args...)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			total, _ := domain.FloatValue(rows[0]["total_orders"])
			out.TotalOrders = int64(total)
		}
		rows, err = wh.Query(ctx, gpQ, gp.args...)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			out.AvgGrossProfitUE, _ = domain.FloatValue(rows[0]["avg_gross_profit_ue"])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OrdersSeries returns total orders per week offset, most recent week first.
func (e *Executor) OrdersSeries(ctx context.Context, country, zone string) ([]OrdersPoint, error) {
	pred := &predicate{}
	pred.addFilters(domain.Filters{Country: country, Zone: zone}, ordersView)
	q := fmt.Sprintf(`
SELECT week_offset AS week, coalesce(sum(orders), 0)::BIGINT AS orders
FROM %s
%s
GROUP BY week_offset
ORDER BY week_offset`, ordersView, pred.where())

	var rows []domain.Row
	err := e.src.Batch(ctx, func(wh domain.Warehouse) error {
		var err error
		rows, err = wh.Query(ctx, q, pred.args...)
		return err
	})
	if err != nil {
		return nil, err
	}

	points := make([]OrdersPoint, 0, len(rows))
	for _, r := range rows {
		week, _ := domain.IntValue(r["week"])
		orders, _ := domain.FloatValue(r["orders"])
		points = append(points, OrdersPoint{Week: week, Orders: int64(orders)})
	}
	return points, nil
}
