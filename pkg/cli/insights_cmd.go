package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/juanfero/rappi-intelligent-ops/internal/app"
	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/report"
)

func newInsightsCmd(g *globals) *cobra.Command {
	var (
		scope domain.InsightScope
		save  bool
	)
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Generate the insights report",
		Example: `  opsctl insights --country CO
  opsctl insights --save -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope.Country = strings.ToUpper(strings.TrimSpace(scope.Country))
			return g.withApp(cmd.Context(), cmd.ErrOrStderr(), func(a *app.App) error {
				run, err := a.Runs.Run(cmd.Context(), scope, save, domain.TriggerCLI)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resolveOutput(cmd, out) == outputJSON {
					return PrintJSON(out, run)
				}

				for _, s := range report.Sections(run.Report) {
					fmt.Fprintf(out, "== %s (%d)\n", s.Title, len(s.Items))
					for _, it := range s.Items {
						fmt.Fprintf(out, "  [%.2f] %s: %s\n", it.Severity, it.Title, it.Summary)
					}
					fmt.Fprintln(out)
				}
				if failed := run.Report.Meta.Failed; len(failed) > 0 {
					names := make([]string, len(failed))
					for i, c := range failed {
						names[i] = string(c)
					}
					fmt.Fprintf(out, "Failed detectors: %s\n", strings.Join(names, ", "))
				}
				if run.Files != nil {
					fmt.Fprintln(out, "Saved:")
					for _, p := range run.Files.List() {
						fmt.Fprintf(out, "  %s\n", p)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope.Country, "country", "", "Restrict to a country code")
	cmd.Flags().StringVar(&scope.City, "city", "", "Restrict to a city")
	cmd.Flags().StringVar(&scope.Zone, "zone", "", "Restrict to a zone")
	cmd.Flags().BoolVar(&save, "save", false, "Write the Markdown, HTML and JSON reports to REPORT_DIR")
	return cmd
}
