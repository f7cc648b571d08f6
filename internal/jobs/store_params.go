package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ParamsByJob reads back the generation parameters recorded when the job
// was created. Returns nil when no row exists.
func (s *Store) ParamsByJob(ctx context.Context, jobID int64) (*GenerationParams, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seed, model_id, sampler, scheduler, steps, cfg_scale, width, height,
	            frame_count, lora_refs, controlnet_refs, workflow_graph_ref
	     FROM generation_params WHERE job_id = ?`,
		jobID,
	)

	var (
		params           GenerationParams
		scheduler        sql.NullString
		loraRefs         sql.NullString
		controlNetRefs   sql.NullString
		workflowGraphRef sql.NullString
	)
	err := row.Scan(
		&params.Seed,
		&params.ModelID,
		&params.Sampler,
		&scheduler,
		&params.Steps,
		&params.CFGScale,
		&params.Width,
		&params.Height,
		&params.FrameCount,
		&loraRefs,
		&controlNetRefs,
		&workflowGraphRef,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get generation params: %w", err)
	}

	params.Scheduler = scheduler.String
	params.WorkflowGraphRef = workflowGraphRef.String
	if params.LoraRefs, err = unmarshalStrings(loraRefs); err != nil {
		return nil, err
	}
	if params.ControlNetRefs, err = unmarshalStrings(controlNetRefs); err != nil {
		return nil, err
	}
	return &params, nil
}
