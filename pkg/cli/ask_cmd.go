package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/juanfero/rappi-intelligent-ops/internal/app"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/chat"
)

func newAskCmd(g *globals) *cobra.Command {
	var (
		useLLM  bool
		session string
		showSQL bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about the ops metrics",
		Example: `  opsctl ask "Top 5 zonas con mayor Lead Penetration esta semana"
  opsctl ask --llm "Compara Perfect Orders entre Wealthy y Non Wealthy en Mexico"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return g.withApp(cmd.Context(), cmd.ErrOrStderr(), func(a *app.App) error {
				resp, err := a.Chat.Ask(cmd.Context(), chat.Request{Question: question, UseLLM: useLLM, SessionID: session})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resolveOutput(cmd, out) == outputJSON {
					return PrintJSON(out, resp)
				}

				res := resp.Result
				fmt.Fprintf(out, "%s\n\n", res.Title)
				if res.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", res.Error)
				} else if err := PrintRows(out, res.Data); err != nil {
					return err
				}
				if showSQL && res.DebugSQL != "" {
					fmt.Fprintf(out, "\nSQL:\n%s\n", res.DebugSQL)
				}
				if len(res.Suggestions) > 0 {
					fmt.Fprintln(out, "\nSuggestions:")
					for _, s := range res.Suggestions {
						fmt.Fprintf(out, "  - %s\n", s)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&useLLM, "llm", false, "Try the LLM parser before the rule engine")
	cmd.Flags().StringVar(&session, "session", "", "Session id recorded with the turn")
	cmd.Flags().BoolVar(&showSQL, "sql", false, "Print the generated SQL when DEBUG_SQL is enabled")
	return cmd
}
