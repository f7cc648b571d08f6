package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tower/internal/api"
	"tower/internal/ipc"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		jobType       string
		characterID   string
		projectID     string
		prompt        string
		priority      int
		maxRetries    int
		seed          int64
		modelID       string
		sampler       string
		scheduler     string
		steps         int
		cfgScale      float64
		width         int
		height        int
		frameCount    int
		loraRefs      []string
		controlNets   []string
		workflowGraph string
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a generation job",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := api.SubmitRequest{
				JobType:     jobType,
				CharacterID: characterID,
				ProjectID:   projectID,
				Prompt:      prompt,
				Priority:    priority,
				Params: api.GenerationParams{
					Seed:             seed,
					ModelID:          modelID,
					Sampler:          sampler,
					Scheduler:        scheduler,
					Steps:            steps,
					CFGScale:         cfgScale,
					Width:            width,
					Height:           height,
					FrameCount:       frameCount,
					LoraRefs:         loraRefs,
					ControlNetRefs:   controlNets,
					WorkflowGraphRef: workflowGraph,
				},
			}
			if cmd.Flags().Changed("max-retries") {
				spec.MaxRetries = &maxRetries
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{Spec: spec})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Job)
				}
				job := resp.Job
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %d (%s, character %s, status %s)\n",
					job.ID, job.JobType, job.CharacterID, job.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&jobType, "type", "t", "still", "Job type (still, animation_loop, video)")
	cmd.Flags().StringVar(&characterID, "character", "", "Character identifier")
	cmd.Flags().StringVar(&projectID, "project", "", "Project identifier")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Generation prompt")
	cmd.Flags().IntVar(&priority, "priority", 0, "Scheduling priority (higher runs first)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retry budget override")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Generation seed (0 picks a random seed)")
	cmd.Flags().StringVar(&modelID, "model", "", "Model identifier")
	cmd.Flags().StringVar(&sampler, "sampler", "", "Sampler name")
	cmd.Flags().StringVar(&scheduler, "scheduler", "", "Scheduler name")
	cmd.Flags().IntVar(&steps, "steps", 0, "Sampling steps")
	cmd.Flags().Float64Var(&cfgScale, "cfg-scale", 0, "Classifier-free guidance scale")
	cmd.Flags().IntVar(&width, "width", 0, "Output width in pixels")
	cmd.Flags().IntVar(&height, "height", 0, "Output height in pixels")
	cmd.Flags().IntVar(&frameCount, "frames", 0, "Frame count for animation and video jobs")
	cmd.Flags().StringSliceVar(&loraRefs, "lora", nil, "LoRA reference (repeatable)")
	cmd.Flags().StringSliceVar(&controlNets, "controlnet", nil, "ControlNet reference (repeatable)")
	cmd.Flags().StringVar(&workflowGraph, "workflow-graph", "", "Workflow graph reference")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the created job as JSON")

	_ = cmd.MarkFlagRequired("character")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var characterID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generation jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobList(ipc.JobListRequest{
					Statuses:    listStatuses,
					CharacterID: characterID,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{"jobs": resp.Jobs})
				}
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Type", "Character", "Project", "Status", "Progress", "Created"},
					buildJobListRows(resp.Jobs),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().StringVar(&characterID, "character", "", "Filter by character identifier")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit jobs as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <jobID>",
		Short: "Display a job with its recipe, scores, and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobDescribe(id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				printJobDetail(cmd, resp)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit job detail as JSON")
	return cmd
}

func printJobDetail(cmd *cobra.Command, detail *ipc.JobDescribeResponse) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	job := detail.Job

	for _, line := range renderSectionHeader(fmt.Sprintf("Job %d", job.ID), colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Type", statusInfo, formatStatusLabel(job.JobType), colorize))
	fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(job.Status), formatStatusLabel(job.Status), colorize))
	fmt.Fprintln(out, renderStatusLine("Character", statusInfo, job.CharacterID, colorize))
	if job.ProjectID != "" {
		fmt.Fprintln(out, renderStatusLine("Project", statusInfo, job.ProjectID, colorize))
	}
	if job.Prompt != "" {
		fmt.Fprintln(out, renderStatusLine("Prompt", statusInfo, job.Prompt, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Retries", statusInfo, fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries), colorize))
	if job.Progress.Percent > 0 {
		fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, formatProgress(job), colorize))
	}
	if job.AssetRef != "" {
		fmt.Fprintln(out, renderStatusLine("Asset", statusInfo, job.AssetRef, colorize))
	}
	if job.FailureReason != "" {
		fmt.Fprintln(out, renderStatusLine("Failure", statusWarn, job.FailureReason, colorize))
	}
	if job.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, job.ErrorMessage, colorize))
	}
	if job.CancelRequested {
		fmt.Fprintln(out, renderStatusLine("Cancel Requested", statusWarn, yesNo(job.CancelRequested), colorize))
	}

	if params := detail.Params; params != nil {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Recipe", colorize) {
			fmt.Fprintln(out, line)
		}
		fmt.Fprintln(out, renderStatusLine("Seed", statusInfo, fmt.Sprintf("%d", params.Seed), colorize))
		fmt.Fprintln(out, renderStatusLine("Model", statusInfo, params.ModelID, colorize))
		fmt.Fprintln(out, renderStatusLine("Sampler", statusInfo, params.Sampler, colorize))
		fmt.Fprintln(out, renderStatusLine("Steps", statusInfo, fmt.Sprintf("%d", params.Steps), colorize))
		fmt.Fprintln(out, renderStatusLine("CFG Scale", statusInfo, fmt.Sprintf("%.2f", params.CFGScale), colorize))
		fmt.Fprintln(out, renderStatusLine("Size", statusInfo, fmt.Sprintf("%dx%d", params.Width, params.Height), colorize))
		if params.FrameCount > 1 {
			fmt.Fprintln(out, renderStatusLine("Frames", statusInfo, fmt.Sprintf("%d", params.FrameCount), colorize))
		}
	}

	if len(detail.Scores) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Scores", colorize) {
			fmt.Fprintln(out, line)
		}
		rows := make([][]string, 0, len(detail.Scores))
		for _, score := range detail.Scores {
			verdict := "fail"
			if score.Passed {
				verdict = "pass"
			}
			if score.ExtractionFailed {
				verdict = "extraction failed"
			}
			rows = append(rows, []string{
				score.Metric,
				fmt.Sprintf("%.3f", score.Value),
				fmt.Sprintf("%.3f", score.Threshold),
				verdict,
			})
		}
		table := renderTable(
			[]string{"Metric", "Value", "Threshold", "Verdict"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
		)
		fmt.Fprintln(out, table)
	}

	if len(detail.Transitions) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("History", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, tr := range detail.Transitions {
			line := fmt.Sprintf("%s%s -> %s", statusIndent, formatStatusLabel(tr.FromStatus), formatStatusLabel(tr.ToStatus))
			if tr.Reason != "" {
				line += fmt.Sprintf(" (%s)", tr.Reason)
			}
			if ts := formatDisplayTime(tr.CreatedAt); ts != "" {
				line += " at " + ts
			}
			fmt.Fprintln(out, line)
		}
	}
}

func jobStatusKind(status string) statusKind {
	switch status {
	case "completed", "passed":
		return statusOK
	case "failed", "retry_queued":
		return statusWarn
	case "aborted":
		return statusError
	default:
		return statusInfo
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <jobID>",
		Short: "Request cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel(id)
				if err != nil {
					return err
				}
				job := resp.Job
				if job.Status == "aborted" {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %d aborted\n", job.ID)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %d (status %s)\n", job.ID, job.Status)
				return nil
			})
		},
	}
}

func newReproduceCommand(ctx *commandContext) *cobra.Command {
	var freshSeed bool

	cmd := &cobra.Command{
		Use:   "reproduce <jobID>",
		Short: "Resubmit a job's stored recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reproduce(id, freshSeed)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reproduced job %d as job %d\n", id, resp.Job.ID)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&freshSeed, "fresh-seed", false, "Draw a new seed instead of reusing the stored one")
	return cmd
}

func parseJobID(arg string) (int64, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 0, errors.New("job id is required")
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}
	return id, nil
}
