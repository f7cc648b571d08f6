package jobs

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// GenerationParams is the full render recipe for a job. The row is written
// once when the job is created and never updated afterwards; reproduce
// relies on reading back exactly what the original render used.
type GenerationParams struct {
	Seed             int64
	ModelID          string
	Sampler          string
	Scheduler        string
	Steps            int
	CFGScale         float64
	Width            int
	Height           int
	FrameCount       int
	LoraRefs         []string
	ControlNetRefs   []string
	WorkflowGraphRef string
}

const (
	maxSteps     = 500
	maxCFGScale  = 50.0
	minDimension = 64
	maxDimension = 8192
	maxFrames    = 100000
)

// Validate checks the recipe against a job type. It accumulates every
// problem rather than stopping at the first so a submit rejection names
// all of them at once.
func (p GenerationParams) Validate(jobType JobType) error {
	var problems []error

	if _, ok := ParseJobType(string(jobType)); !ok {
		problems = append(problems, fmt.Errorf("unknown job type %q", string(jobType)))
	}
	if p.Seed < 0 {
		problems = append(problems, fmt.Errorf("seed must be non-negative, got %d", p.Seed))
	}
	if strings.TrimSpace(p.ModelID) == "" {
		problems = append(problems, errors.New("model_id is required"))
	}
	if strings.TrimSpace(p.Sampler) == "" {
		problems = append(problems, errors.New("sampler is required"))
	}
	if p.Steps < 1 || p.Steps > maxSteps {
		problems = append(problems, fmt.Errorf("steps must be in [1, %d], got %d", maxSteps, p.Steps))
	}
	if p.CFGScale < 0 || p.CFGScale > maxCFGScale {
		problems = append(problems, fmt.Errorf("cfg_scale must be in [0, %g], got %g", maxCFGScale, p.CFGScale))
	}
	if p.Width < minDimension || p.Width > maxDimension {
		problems = append(problems, fmt.Errorf("width must be in [%d, %d], got %d", minDimension, maxDimension, p.Width))
	}
	if p.Height < minDimension || p.Height > maxDimension {
		problems = append(problems, fmt.Errorf("height must be in [%d, %d], got %d", minDimension, maxDimension, p.Height))
	}

	switch jobType {
	case TypeStill:
		if p.FrameCount > 1 {
			problems = append(problems, fmt.Errorf("still jobs render one frame, got frame_count %d", p.FrameCount))
		}
	case TypeAnimationLoop, TypeVideo:
		if p.FrameCount < 2 {
			problems = append(problems, fmt.Errorf("%s jobs need frame_count >= 2, got %d", jobType, p.FrameCount))
		}
		if p.FrameCount > maxFrames {
			problems = append(problems, fmt.Errorf("frame_count must not exceed %d, got %d", maxFrames, p.FrameCount))
		}
	}

	return errors.Join(problems...)
}

// Equal reports field-for-field equality between two recipes.
func (p GenerationParams) Equal(other GenerationParams) bool {
	return p.Seed == other.Seed &&
		p.ModelID == other.ModelID &&
		p.Sampler == other.Sampler &&
		p.Scheduler == other.Scheduler &&
		p.Steps == other.Steps &&
		p.CFGScale == other.CFGScale &&
		p.Width == other.Width &&
		p.Height == other.Height &&
		p.FrameCount == other.FrameCount &&
		p.WorkflowGraphRef == other.WorkflowGraphRef &&
		slices.Equal(p.LoraRefs, other.LoraRefs) &&
		slices.Equal(p.ControlNetRefs, other.ControlNetRefs)
}

// Clone returns a deep copy so callers cannot mutate stored slices.
func (p GenerationParams) Clone() GenerationParams {
	cp := p
	if p.LoraRefs != nil {
		cp.LoraRefs = make([]string, len(p.LoraRefs))
		copy(cp.LoraRefs, p.LoraRefs)
	}
	if p.ControlNetRefs != nil {
		cp.ControlNetRefs = make([]string, len(p.ControlNetRefs))
		copy(cp.ControlNetRefs, p.ControlNetRefs)
	}
	return cp
}

// JobSpec is the validated submission payload for a new job.
type JobSpec struct {
	JobType     JobType
	CharacterID string
	ProjectID   string
	Prompt      string
	Priority    int
	MaxRetries  int
	Params      GenerationParams
}

// Validate checks the spec and its embedded recipe.
func (s JobSpec) Validate() error {
	var problems []error

	if NormalizeCharacterID(s.CharacterID) == "" {
		problems = append(problems, errors.New("character_id is required"))
	}
	if strings.TrimSpace(s.Prompt) == "" {
		problems = append(problems, errors.New("prompt is required"))
	}
	if s.MaxRetries < 0 {
		problems = append(problems, fmt.Errorf("max_retries must be non-negative, got %d", s.MaxRetries))
	}
	if err := s.Params.Validate(s.JobType); err != nil {
		problems = append(problems, err)
	}

	return errors.Join(problems...)
}
