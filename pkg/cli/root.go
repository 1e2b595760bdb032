// Package cli implements the opsctl command-line interface. Commands run the
// chat and insight services in-process against the configured warehouse.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/juanfero/rappi-intelligent-ops/internal/app"
	"github.com/juanfero/rappi-intelligent-ops/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if resolveOutput(rootCmd, os.Stdout) == outputJSON {
			_ = PrintJSON(os.Stdout, map[string]any{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// globals holds the persistent flag values.
type globals struct {
	output    string
	envFile   string
	warehouse string
	profile   string
	noHistory bool

	// active is the resolved user profile.
	active Profile
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:           "opsctl",
		Short:         "Rappi Intelligent Ops CLI",
		Long:          "Ask questions about the weekly ops metrics and generate insight reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			uc, err := LoadUserConfig()
			if err != nil {
				return err
			}
			if g.active, err = uc.ActiveProfile(g.profile); err != nil {
				return err
			}

			// Precedence: flag > env > profile > default.
			if !cmd.Flags().Changed("output") {
				if v := os.Getenv("OPSCTL_OUTPUT"); v != "" {
					g.output = v
				} else if g.active.Output != "" {
					g.output = g.active.Output
				}
			}
			return validateOutputFormat(g.output)
		},
	}

	rootCmd.SetGlobalNormalizationFunc(wordSepNormalizeFunc)

	rootCmd.PersistentFlags().StringVarP(&g.output, "output", "o", "", "Output format (table, json); defaults to table on a terminal")
	rootCmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Dotenv file loaded before the environment")
	rootCmd.PersistentFlags().StringVar(&g.warehouse, "warehouse", "", "DuckDB warehouse file (overrides WAREHOUSE_PATH)")
	rootCmd.PersistentFlags().StringVarP(&g.profile, "profile", "p", "", "Profile from ~/.opsctl/config.yaml")
	rootCmd.PersistentFlags().BoolVar(&g.noHistory, "no-history", false, "Do not record chat turns and insight runs")

	rootCmd.AddCommand(newAskCmd(g))
	rootCmd.AddCommand(newInsightsCmd(g))
	rootCmd.AddCommand(newIngestCmd(g))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// wordSepNormalizeFunc accepts underscores in flag names: --metrics_sheet is
// --metrics-sheet.
func wordSepNormalizeFunc(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// loadConfig reads the dotenv file and the environment, then fills paths the
// environment left unset from the active profile and applies flag overrides.
func (g *globals) loadConfig() (*config.Config, error) {
	if g.envFile != "" {
		if err := config.LoadDotEnv(g.envFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	p := g.active
	if p.Warehouse != "" && os.Getenv("WAREHOUSE_PATH") == "" {
		cfg.WarehousePath = p.Warehouse
	}
	if p.HistoryDB != "" && os.Getenv("HISTORY_DB_PATH") == "" {
		cfg.HistoryDBPath = p.HistoryDB
	}
	if p.ReportDir != "" && os.Getenv("REPORT_DIR") == "" {
		cfg.ReportDir = p.ReportDir
	}
	if g.warehouse != "" {
		cfg.WarehousePath = g.warehouse
	}
	return cfg, nil
}

// withApp builds the application graph, runs fn and closes it.
func (g *globals) withApp(ctx context.Context, stderr io.Writer, fn func(*app.App) error) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, stderr)
	a, err := app.New(ctx, cfg, logger, app.Options{WithHistory: !g.noHistory})
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck
	return fn(a)
}
