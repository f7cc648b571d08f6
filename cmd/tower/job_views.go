package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tower/internal/api"
)

func buildQueueStatusRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatStatusLabel(key), fmt.Sprintf("%d", stats[key])})
	}
	return rows
}

func buildJobListRows(jobs []api.Job) [][]string {
	if len(jobs) == 0 {
		return nil
	}
	sorted := make([]api.Job, len(jobs))
	copy(sorted, jobs)

	sort.Slice(sorted, func(i, j int) bool {
		ti := parseDisplayTime(sorted[i].CreatedAt)
		tj := parseDisplayTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID > sorted[j].ID
		}
		return ti.After(tj)
	})

	rows := make([][]string, 0, len(sorted))
	for _, job := range sorted {
		rows = append(rows, []string{
			fmt.Sprintf("%d", job.ID),
			formatStatusLabel(job.JobType),
			job.CharacterID,
			job.ProjectID,
			formatStatusLabel(job.Status),
			formatProgress(job),
			formatDisplayTime(job.CreatedAt),
		})
	}
	return rows
}

func buildGateRows(results []api.GateResult) [][]string {
	rows := make([][]string, 0, len(results))
	for _, result := range results {
		blocking := strings.Join(result.BlockingMetrics, ", ")
		if blocking == "" {
			blocking = "-"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", result.Phase),
			formatStatusLabel(result.Decision),
			fmt.Sprintf("%.0f%%", result.PassRate*100),
			fmt.Sprintf("%d", result.PassCount),
			fmt.Sprintf("%d/%d", result.JobsConsidered, result.WindowSize),
			blocking,
			formatDisplayTime(result.EvaluatedAt),
		})
	}
	return rows
}

func buildReferenceRows(refs []api.Reference) [][]string {
	rows := make([][]string, 0, len(refs))
	for _, ref := range refs {
		addedBy := "-"
		if ref.AddedByJob > 0 {
			addedBy = fmt.Sprintf("%d", ref.AddedByJob)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", ref.ID),
			ref.Modality,
			fmt.Sprintf("%.2f", ref.Quality),
			fmt.Sprintf("%d", ref.Dimension),
			addedBy,
			formatDisplayTime(ref.CreatedAt),
		})
	}
	return rows
}

func formatProgress(job api.Job) string {
	if job.Progress.Percent <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", job.Progress.Percent)
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	parts := strings.Split(status, "_")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if lower == "" {
			continue
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}

func formatDisplayTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC().Format("2006-01-02 15:04")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC().Format("2006-01-02 15:04")
	}
	return value
}

func parseDisplayTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
