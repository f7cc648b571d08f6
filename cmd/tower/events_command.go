package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"tower/internal/broadcast"
	"tower/internal/ipc"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var since uint64
	var limit int
	var follow bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream pipeline progress events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				cmdCtx := cmd.Context()
				cursor := since
				printed := false

				if cursor == 0 {
					// Replay the latest event per job first so jobs idle
					// since before the ring rotated still show up.
					snap, err := client.Events(ipc.EventsRequest{Snapshot: true})
					if err != nil {
						return fmt.Errorf("fetch events: %w", err)
					}
					for _, evt := range snap.Events {
						if asJSON {
							if err := writeJSON(cmd, evt); err != nil {
								return err
							}
						} else {
							fmt.Fprintln(cmd.OutOrStdout(), formatEvent(evt))
						}
						printed = true
					}
					cursor = snap.Next
				}

				for {
					resp, err := client.Events(ipc.EventsRequest{
						Since:      cursor,
						Limit:      limit,
						Follow:     follow,
						WaitMillis: 1000,
					})
					if err != nil {
						return fmt.Errorf("fetch events: %w", err)
					}
					for _, evt := range resp.Events {
						if asJSON {
							if err := writeJSON(cmd, evt); err != nil {
								return err
							}
						} else {
							fmt.Fprintln(cmd.OutOrStdout(), formatEvent(evt))
						}
						printed = true
					}
					cursor = resp.Next
					if !follow {
						if !printed && !asJSON {
							fmt.Fprintln(cmd.OutOrStdout(), "No events available")
						}
						return nil
					}
					select {
					case <-cmdCtx.Done():
						return nil
					default:
					}
				}
			})
		},
	}

	cmd.Flags().Uint64Var(&since, "since", 0, "Start after this event sequence")
	cmd.Flags().IntVar(&limit, "limit", 200, "Maximum events per fetch")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit events as JSON")
	return cmd
}

func formatEvent(evt broadcast.Event) string {
	ts := evt.Timestamp.Format("2006-01-02 15:04:05")
	parts := []string{ts, strings.ToUpper(evt.Type)}
	if evt.JobID > 0 {
		parts = append(parts, fmt.Sprintf("job #%d", evt.JobID))
	}
	if evt.CharacterID != "" {
		parts = append(parts, evt.CharacterID)
	}
	line := strings.Join(parts, " ")

	switch evt.Type {
	case broadcast.TypeProgress:
		line += fmt.Sprintf(" %.0f%%", evt.ProgressPct)
		if evt.Message != "" {
			line += " " + evt.Message
		}
	case broadcast.TypeStatus:
		line += " " + formatStatusLabel(evt.Status)
		if evt.Reason != "" {
			line += fmt.Sprintf(" (%s)", evt.Reason)
		}
	case broadcast.TypeScores:
		metrics := make([]string, 0, len(evt.Metrics))
		for metric, value := range evt.Metrics {
			metrics = append(metrics, fmt.Sprintf("%s=%.3f", metric, value))
		}
		sort.Strings(metrics)
		line += " " + strings.Join(metrics, " ")
	case broadcast.TypeGate:
		line += fmt.Sprintf(" %s phase %d %s (%.0f%% pass)", evt.ProjectID, evt.Phase, evt.Decision, evt.PassRate*100)
		if len(evt.Blocking) > 0 {
			line += " blocking: " + strings.Join(evt.Blocking, ", ")
		}
	default:
		if evt.Message != "" {
			line += " " + evt.Message
		}
	}
	return line
}
