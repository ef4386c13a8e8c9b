package types

// RunState tags the outcome of an engine start or resume call.
type RunState string

const (
	// RunPaused means the engine stopped at a review point and awaits a decision.
	RunPaused RunState = "paused"
	// RunFinished means the engine completed the task.
	RunFinished RunState = "finished"
	// RunFailed means the engine reported a failure.
	RunFailed RunState = "failed"
)

// Pause carries the engine's interrupt payload: the review point it
// stopped at and the content awaiting review.
type Pause struct {
	ReviewPointID string  `json:"review_point_id"`
	Content       Content `json:"content"`
	Message       string  `json:"message,omitempty"`
	Topic         string  `json:"topic,omitempty"`
}

// RunResult is the tagged outcome of one engine call. Exactly one of
// Pause, Output, or Err is meaningful, selected by State.
type RunResult struct {
	State  RunState `json:"state"`
	Pause  *Pause   `json:"pause,omitempty"`
	Output Content  `json:"output,omitempty"`
	Err    error    `json:"-"`
}

// PausedResult builds a paused RunResult.
func PausedResult(p Pause) *RunResult {
	return &RunResult{State: RunPaused, Pause: &p}
}

// FinishedResult builds a finished RunResult.
func FinishedResult(output Content) *RunResult {
	return &RunResult{State: RunFinished, Output: output}
}

// FailedResult builds a failed RunResult.
func FailedResult(err error) *RunResult {
	return &RunResult{State: RunFailed, Err: err}
}

// IsPaused reports whether the result is an explicit interrupt. This is
// the single pause predicate; pause is never inferred from content shape.
func (r *RunResult) IsPaused() bool {
	return r != nil && r.State == RunPaused && r.Pause != nil
}
