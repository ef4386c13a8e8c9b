// Package engine bridges the coordinator to the graph execution engine.
//
// The bridge is the only component that talks to the engine. It never
// interprets content: it forwards start and resume calls and hands the
// tagged run outcome back to the coordinator. Pause detection happens
// here and only here, on the engine's explicit interrupt marker.
package engine

import (
	"context"
	"time"

	"github.com/BaSui01/reviewflow/types"
)

// StartInput describes a task run to launch.
type StartInput struct {
	// TaskID is the resumption key for the run.
	TaskID string `json:"task_id"`
	// ConversationID scopes the run.
	ConversationID string `json:"conversation_id"`
	// AgentSlug selects the workflow graph.
	AgentSlug string `json:"agent_slug"`
	// Input is the user request content.
	Input types.Content `json:"input,omitempty"`
}

// ResumePayload carries a review decision into a paused run.
type ResumePayload struct {
	// Decision is the reviewer's verdict.
	Decision types.Decision `json:"decision"`
	// Feedback guides regeneration; empty for other decisions.
	Feedback string `json:"feedback,omitempty"`
	// Content is the reviewer-supplied substitute for replace.
	Content types.Content `json:"content,omitempty"`
}

// Bridge is the engine-facing interface of the coordinator.
type Bridge interface {
	// StartTask launches a run and blocks until it pauses, finishes,
	// or fails.
	StartTask(ctx context.Context, in StartInput) (*types.RunResult, error)

	// Resume injects a decision into the paused run identified by
	// taskID and blocks until the next pause, finish, or failure.
	Resume(ctx context.Context, taskID string, payload ResumePayload) (*types.RunResult, error)
}

// Metrics records engine call outcomes.
type Metrics interface {
	RecordEngineCall(operation, status string, duration time.Duration)
}
