package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tower/internal/ipc"
)

func newRefsCommand(ctx *commandContext) *cobra.Command {
	var characterID string
	var modality string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "refs",
		Short: "Browse character reference sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()

				if characterID == "" {
					resp, err := client.Characters()
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, resp)
					}
					if len(resp.Characters) == 0 {
						fmt.Fprintln(out, "No characters with stored references")
						return nil
					}
					for _, name := range resp.Characters {
						fmt.Fprintln(out, name)
					}
					return nil
				}

				resp, err := client.References(characterID, modality)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				if len(resp.References) == 0 {
					fmt.Fprintf(out, "No references stored for %s\n", resp.CharacterID)
					return nil
				}
				table := renderTable(
					[]string{"ID", "Modality", "Quality", "Dim", "Added By", "Created"},
					buildReferenceRows(resp.References),
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				)
				fmt.Fprint(out, table)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&characterID, "character", "", "Character identifier (omit to list characters)")
	cmd.Flags().StringVar(&modality, "modality", "", "Filter by modality (face, style)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit references as JSON")
	return cmd
}
