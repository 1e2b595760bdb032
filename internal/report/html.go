package report

import (
	"fmt"
	"io"

	gomponents "maragu.dev/gomponents"
	html "maragu.dev/gomponents/html"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

const pageStyle = `body{font-family:system-ui,Arial,sans-serif;max-width:960px;margin:2rem auto;line-height:1.5}
h1,h2{margin-top:2rem}
.muted{color:#666}
.severity{display:inline-block;min-width:3.5rem;font-variant-numeric:tabular-nums;color:#a33}
li{margin-bottom:.6rem}`

// HTML writes rep as a standalone HTML document.
func (r *Renderer) HTML(w io.Writer, rep *domain.InsightReport) error {
	return r.page(rep).Render(w)
}

func (r *Renderer) page(rep *domain.InsightReport) gomponents.Node {
	sections := make([]gomponents.Node, 0, len(Sections(rep)))
	for _, s := range Sections(rep) {
		sections = append(sections, sectionNode(s))
	}

	return html.Doctype(html.HTML(
		html.Lang("en"),
		html.Head(
			html.Meta(html.Charset("utf-8")),
			html.Meta(html.Name("viewport"), html.Content("width=device-width, initial-scale=1")),
			html.TitleEl(gomponents.Text(r.Title)),
			html.StyleEl(gomponents.Raw(pageStyle)),
		),
		html.Body(
			html.Main(
				html.H1(gomponents.Text(r.Title)),
				html.P(html.Class("muted"), gomponents.Text("Generated: "+formatGenerated(rep.Meta.GeneratedAt))),
				gomponents.Group(sections),
				gomponents.If(len(rep.Meta.Failed) > 0, failedNode(rep.Meta.Failed)),
				html.Hr(),
				html.P(html.Class("muted"), gomponents.Text(r.criteriaText())),
			),
		),
	))
}

func sectionNode(s Section) gomponents.Node {
	if len(s.Items) == 0 {
		return html.Section(
			html.H2(gomponents.Text(s.Title)),
			html.P(html.Em(gomponents.Text("No relevant findings."))),
		)
	}
	items := make([]gomponents.Node, 0, len(s.Items))
	for _, it := range s.Items {
		items = append(items, html.Li(
			html.Span(html.Class("severity"), gomponents.Text(fmt.Sprintf("%.2f", it.Severity))),
			html.Strong(gomponents.Text(it.Title)),
			gomponents.Text(": "+it.Summary),
			html.Br(),
			html.Em(gomponents.Text("Recommendation: ")),
			gomponents.Text(it.Recommendation),
		))
	}
	return html.Section(
		html.H2(gomponents.Text(s.Title)),
		html.Ul(gomponents.Group(items)),
	)
}

func failedNode(failed []domain.Category) gomponents.Node {
	names := make([]gomponents.Node, 0, len(failed))
	for _, c := range failed {
		names = append(names, html.Li(html.Code(gomponents.Text(string(c)))))
	}
	return html.Aside(
		html.P(gomponents.Text("Detectors that failed and were skipped:")),
		html.Ul(gomponents.Group(names)),
	)
}

func (r *Renderer) criteriaText() string {
	c := r.Criteria
	return fmt.Sprintf("Criteria: ±%.0f%% week over week, runs of at least %d weeks, |z| ≥ %g, |ρ| ≥ %g.",
		c.AnomalyPct*100, c.TrendMinRun, c.BenchmarkZ, c.CorrelationMin)
}
