package types

import (
	"fmt"
	"strings"
)

// Decision is a human review decision carried on a resume request.
// Decisions are ephemeral values, never persisted as entities.
type Decision string

const (
	// DecisionApprove accepts the current content and continues the run.
	DecisionApprove Decision = "approve"
	// DecisionReject discards the current content; the engine regenerates.
	DecisionReject Decision = "reject"
	// DecisionRegenerate requests regeneration guided by feedback.
	DecisionRegenerate Decision = "regenerate"
	// DecisionReplace substitutes reviewer-supplied content.
	DecisionReplace Decision = "replace"
	// DecisionSkip continues the run without judging the content.
	DecisionSkip Decision = "skip"
)

// ParseDecision normalizes and validates a decision string.
func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DecisionApprove, DecisionReject, DecisionRegenerate, DecisionReplace, DecisionSkip:
		return d, nil
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

// DecisionRequest is an inbound request to resume a paused task.
type DecisionRequest struct {
	TaskID   string   `json:"task_id"`
	Decision Decision `json:"decision"`
	Feedback string   `json:"feedback,omitempty"`
	Content  Content  `json:"content,omitempty"`
}

// Validate checks the request before any side effect. Violations fail
// fast and must never reach the engine bridge.
func (r *DecisionRequest) Validate() *Error {
	if strings.TrimSpace(r.TaskID) == "" {
		return NewError(ErrValidation, "task_id is required")
	}
	if _, err := ParseDecision(string(r.Decision)); err != nil {
		return NewError(ErrValidation, err.Error())
	}
	switch r.Decision {
	case DecisionRegenerate:
		if strings.TrimSpace(r.Feedback) == "" {
			return NewError(ErrValidation, "regenerate requires non-empty feedback")
		}
	case DecisionReplace:
		if len(r.Content) == 0 || r.Content.IsEmpty() {
			return NewError(ErrValidation, "replace requires non-empty content")
		}
	}
	return nil
}
