package engine

import (
	"context"
	"net/http"
	"sync"

	"github.com/BaSui01/reviewflow/types"
)

// =============================================================================
// In-memory bridge
// =============================================================================

// MemoryCall records one call made against a MemoryBridge.
type MemoryCall struct {
	Operation string
	TaskID    string
	Start     StartInput
	Resume    ResumePayload
}

// MemoryBridge is a scriptable Bridge for tests and local development.
// Queue results with Script, or set StartFn/ResumeFn for full control.
type MemoryBridge struct {
	mu      sync.Mutex
	scripts map[string][]*types.RunResult
	calls   []MemoryCall

	// StartFn, when set, overrides scripted behavior for StartTask.
	StartFn func(ctx context.Context, in StartInput) (*types.RunResult, error)
	// ResumeFn, when set, overrides scripted behavior for Resume.
	ResumeFn func(ctx context.Context, taskID string, payload ResumePayload) (*types.RunResult, error)
}

// NewMemoryBridge creates an empty in-memory bridge. With nothing
// scripted, every call finishes immediately with empty output.
func NewMemoryBridge() *MemoryBridge {
	return &MemoryBridge{
		scripts: make(map[string][]*types.RunResult),
	}
}

// Script queues outcomes for taskID, consumed one per call in order.
func (b *MemoryBridge) Script(taskID string, results ...*types.RunResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[taskID] = append(b.scripts[taskID], results...)
}

// Calls returns a copy of the recorded call log.
func (b *MemoryBridge) Calls() []MemoryCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]MemoryCall, len(b.calls))
	copy(out, b.calls)
	return out
}

// StartTask implements Bridge.
func (b *MemoryBridge) StartTask(ctx context.Context, in StartInput) (*types.RunResult, error) {
	if b.StartFn != nil {
		b.record(MemoryCall{Operation: "start", TaskID: in.TaskID, Start: in})
		return b.StartFn(ctx, in)
	}
	if in.TaskID == "" {
		return nil, types.NewError(types.ErrValidation, "task id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	b.record(MemoryCall{Operation: "start", TaskID: in.TaskID, Start: in})
	return b.next(in.TaskID), nil
}

// Resume implements Bridge.
func (b *MemoryBridge) Resume(ctx context.Context, taskID string, payload ResumePayload) (*types.RunResult, error) {
	if b.ResumeFn != nil {
		b.record(MemoryCall{Operation: "resume", TaskID: taskID, Resume: payload})
		return b.ResumeFn(ctx, taskID, payload)
	}
	if taskID == "" {
		return nil, types.NewError(types.ErrValidation, "task id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	b.record(MemoryCall{Operation: "resume", TaskID: taskID, Resume: payload})
	return b.next(taskID), nil
}

func (b *MemoryBridge) record(call MemoryCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *MemoryBridge) next(taskID string) *types.RunResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue := b.scripts[taskID]
	if len(queue) == 0 {
		return types.FinishedResult(types.Content{})
	}
	result := queue[0]
	b.scripts[taskID] = queue[1:]
	return result
}
