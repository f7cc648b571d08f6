package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tower/internal/ipc"
)

func newGateCommand(ctx *commandContext) *cobra.Command {
	var showHistory bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "gate <projectID>",
		Short: "Show phase-gate decisions for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Gate(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				for _, line := range renderSectionHeader(fmt.Sprintf("Gate: %s", resp.ProjectID), colorize) {
					fmt.Fprintln(out, line)
				}
				if len(resp.Latest) == 0 {
					fmt.Fprintln(out, "No gate evaluations recorded")
					return nil
				}
				table := renderTable(
					[]string{"Phase", "Decision", "Pass Rate", "Passing", "Jobs", "Blocking", "Evaluated"},
					buildGateRows(resp.Latest),
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(out, table)

				if showHistory && len(resp.History) > 0 {
					fmt.Fprintln(out)
					for _, line := range renderSectionHeader("History", colorize) {
						fmt.Fprintln(out, line)
					}
					historyTable := renderTable(
						[]string{"Phase", "Decision", "Pass Rate", "Passing", "Jobs", "Blocking", "Evaluated"},
						buildGateRows(resp.History),
						[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
					)
					fmt.Fprintln(out, historyTable)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showHistory, "history", false, "Include retained evaluation history")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit gate results as JSON")
	return cmd
}
