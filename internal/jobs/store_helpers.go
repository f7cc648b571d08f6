package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, job_type, phase, status, priority, retry_count, max_retries, character_id, project_id, prompt, renderer_handle, asset_ref, failure_reason, error_message, cancel_requested, progress_percent, progress_message, last_poll_at, dispatched_at, completed_at, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              int64
		jobType         string
		phase           int
		statusStr       string
		priority        int
		retryCount      int
		maxRetries      int
		characterID     string
		projectID       string
		prompt          string
		rendererHandle  sql.NullString
		assetRef        sql.NullString
		failureReason   sql.NullString
		errorMessage    sql.NullString
		cancelRequested sql.NullInt64
		progressPercent sql.NullFloat64
		progressMessage sql.NullString
		lastPollRaw     sql.NullString
		dispatchedRaw   sql.NullString
		completedRaw    sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&jobType,
		&phase,
		&statusStr,
		&priority,
		&retryCount,
		&maxRetries,
		&characterID,
		&projectID,
		&prompt,
		&rendererHandle,
		&assetRef,
		&failureReason,
		&errorMessage,
		&cancelRequested,
		&progressPercent,
		&progressMessage,
		&lastPollRaw,
		&dispatchedRaw,
		&completedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		JobType:         JobType(jobType),
		Phase:           phase,
		Status:          Status(statusStr),
		Priority:        priority,
		RetryCount:      retryCount,
		MaxRetries:      maxRetries,
		CharacterID:     characterID,
		ProjectID:       projectID,
		Prompt:          prompt,
		RendererHandle:  rendererHandle.String,
		AssetRef:        assetRef.String,
		FailureReason:   failureReason.String,
		ErrorMessage:    errorMessage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
	}
	if cancelRequested.Valid {
		job.CancelRequested = cancelRequested.Int64 != 0
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if lastPollRaw.Valid {
		if polled, err := parseTimeString(lastPollRaw.String); err == nil {
			job.LastPollAt = &polled
		}
	}
	if dispatchedRaw.Valid {
		if dispatched, err := parseTimeString(dispatchedRaw.String); err == nil {
			job.DispatchedAt = &dispatched
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func marshalStrings(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return nil, fmt.Errorf("unmarshal string list: %w", err)
	}
	return values, nil
}

func marshalEmbedding(vector []float64) (string, error) {
	if len(vector) == 0 {
		return "", errors.New("embedding is empty")
	}
	data, err := json.Marshal(vector)
	if err != nil {
		return "", fmt.Errorf("marshal embedding: %w", err)
	}
	return string(data), nil
}

func unmarshalEmbedding(raw string) ([]float64, error) {
	if raw == "" {
		return nil, errors.New("embedding is empty")
	}
	var vector []float64
	if err := json.Unmarshal([]byte(raw), &vector); err != nil {
		return nil, fmt.Errorf("unmarshal embedding: %w", err)
	}
	return vector, nil
}
