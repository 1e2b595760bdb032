package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/juanfero/rappi-intelligent-ops/internal/ingest"
)

func newIngestCmd(g *globals) *cobra.Command {
	var (
		xlsx string
		opts ingest.Options
	)
	cmd := &cobra.Command{
		Use:     "ingest",
		Short:   "Load the metrics workbook into the warehouse",
		Example: `  opsctl ingest --xlsx data/raw/metrics.xlsx`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			sum, err := ingest.Load(cmd.Context(), xlsx, cfg.WarehousePath, opts, newLogger(cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if resolveOutput(cmd, out) == outputJSON {
				return PrintJSON(out, sum)
			}
			fmt.Fprintf(out, "Loaded %s into %s\n", sum.Workbook, sum.Warehouse)
			fmt.Fprintf(out, "  metric rows:   %d\n", sum.MetricRows)
			fmt.Fprintf(out, "  order rows:    %d\n", sum.OrderRows)
			fmt.Fprintf(out, "  zones:         %d\n", sum.Zones)
			fmt.Fprintf(out, "  skipped cells: %d\n", sum.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "Path to the metrics workbook")
	cmd.Flags().StringVar(&opts.MetricsSheet, "metrics-sheet", ingest.DefaultMetricsSheet, "Sheet with the weekly metric rows")
	cmd.Flags().StringVar(&opts.OrdersSheet, "orders-sheet", ingest.DefaultOrdersSheet, "Sheet with the weekly orders rows")
	_ = cmd.MarkFlagRequired("xlsx")
	return cmd
}
