package insights

import "github.com/juanfero/rappi-intelligent-ops/internal/domain"

// Recommendation template keys.
const (
	recoBenchmarkNegative = "benchmark_negative"
	recoBenchmarkPositive = "benchmark_positive"
	recoImprovement       = "improvement"
	recoCorrelationLPPO   = "correlation_lp_po"
	recoCorrelation       = "correlation"
	recoOpportunity       = "orders_growth_po_low"
)

var recommendations = map[string]string{
	lowKey(domain.MetricPerfectOrders):   "Review fulfillment and quality control; audit preparation and delivery times.",
	lowKey(domain.MetricLeadPenetration): "Reinforce acquisition and activation with targeted prospecting campaigns.",
	lowKey(domain.MetricGrossProfitUE):   "Tune pricing, discounts and category mix; review logistics costs.",
	lowKey(domain.MetricOrders):          "Check demand drivers: store availability, promotions and delivery coverage.",
	recoBenchmarkNegative:                "Compare playbooks with high-performing peer zones and replicate what works.",
	recoBenchmarkPositive:                "Document this zone's practices and share them with its peer group.",
	recoImprovement:                      "Confirm the improvement holds next week and document what drove it.",
	recoCorrelationLPPO:                  "Run joint initiatives to raise LP and PO together (onboarding plus service quality).",
	recoCorrelation:                      "Explore causality between both metrics and plan a joint improvement.",
	recoOpportunity:                      "Prioritize operational stabilization: improve PO to sustain order growth.",
}

const fallbackRecommendation = "Investigate the root cause and define an action plan."

func lowKey(metric string) string { return metric + "_low" }

func recommend(key string) string {
	if r, ok := recommendations[key]; ok {
		return r
	}
	return fallbackRecommendation
}

// deteriorationRecommendation picks the per-metric template, falling back to
// the peer benchmark playbook for metrics without one.
func deteriorationRecommendation(metric string) string {
	if r, ok := recommendations[lowKey(metric)]; ok {
		return r
	}
	return recommend(recoBenchmarkNegative)
}
