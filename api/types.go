package api

import (
	"time"

	"github.com/BaSui01/reviewflow/store/pending"
	"github.com/BaSui01/reviewflow/types"
)

// =============================================================================
// Task types
// =============================================================================

// StartTaskRequest launches a workflow run.
type StartTaskRequest struct {
	// Conversation the task belongs to
	ConversationID string `json:"conversation_id" example:"conv-123"`
	// Workflow graph to execute
	AgentSlug string `json:"agent_slug" example:"writer"`
	// User request content handed to the engine
	Input types.Content `json:"input,omitempty"`
}

// TaskResponse is the API view of a task.
type TaskResponse struct {
	ID             string           `json:"id" example:"task-123"`
	ConversationID string           `json:"conversation_id" example:"conv-123"`
	AgentSlug      string           `json:"agent_slug" example:"writer"`
	Status         types.TaskStatus `json:"status" example:"awaiting_decision"`
	HitlPending    bool             `json:"hitl_pending" example:"true"`
	PendingSince   *time.Time       `json:"pending_since,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// TaskFromModel maps a task model to its API view.
func TaskFromModel(t *types.Task) TaskResponse {
	return TaskResponse{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		AgentSlug:      t.AgentSlug,
		Status:         t.Status,
		HitlPending:    t.HitlPending,
		PendingSince:   t.HitlPendingSince,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

// =============================================================================
// Review types
// =============================================================================

// ResumeRequest injects a review decision into a paused task.
type ResumeRequest struct {
	// Task to resume
	TaskID string `json:"task_id" example:"task-123"`
	// Decision: approve, reject, regenerate, replace, skip
	Decision string `json:"decision" example:"approve"`
	// Reviewer feedback (required for regenerate)
	Feedback string `json:"feedback,omitempty" example:"tighten the intro"`
	// Replacement content (required for replace)
	Content types.Content `json:"content,omitempty"`
}

// StatusResponse is the coordinator's view of a task.
type StatusResponse struct {
	Task                 TaskResponse `json:"task"`
	DeliverableID        string       `json:"deliverable_id,omitempty"`
	CurrentVersionNumber int          `json:"current_version_number,omitempty"`
	Pause                *types.Pause `json:"pause,omitempty"`
}

// VersionResponse is the API view of a deliverable version.
type VersionResponse struct {
	DeliverableID    string             `json:"deliverable_id" example:"d-123"`
	VersionNumber    int                `json:"version_number" example:"2"`
	Content          string             `json:"content"`
	ContentFormat    string             `json:"content_format" example:"markdown"`
	CreatedByType    types.CreationKind `json:"created_by_type" example:"AI_ENHANCEMENT"`
	IsCurrentVersion bool               `json:"is_current_version" example:"true"`
	Feedback         *string            `json:"feedback,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// VersionFromModel maps a version model to its API view.
func VersionFromModel(v *types.DeliverableVersion) VersionResponse {
	return VersionResponse{
		DeliverableID:    v.DeliverableID,
		VersionNumber:    v.VersionNumber,
		Content:          v.Content,
		ContentFormat:    v.ContentFormat,
		CreatedByType:    v.CreatedByType,
		IsCurrentVersion: v.IsCurrentVersion,
		Feedback:         v.Feedback,
		CreatedAt:        v.CreatedAt,
	}
}

// HistoryResponse lists a task's version chain, oldest first.
type HistoryResponse struct {
	TaskID   string            `json:"task_id"`
	Versions []VersionResponse `json:"versions"`
}

// PromoteRequest restores an older version as current.
type PromoteRequest struct {
	DeliverableID string `json:"deliverable_id" example:"d-123"`
	VersionNumber int    `json:"version_number" example:"1"`
}

// =============================================================================
// Pending queue types
// =============================================================================

// PendingEntryResponse is one entry of the caller's review queue.
type PendingEntryResponse struct {
	TaskID            string     `json:"task_id" example:"task-123"`
	ConversationID    string     `json:"conversation_id" example:"conv-123"`
	ConversationTitle string     `json:"conversation_title,omitempty"`
	AgentSlug         string     `json:"agent_slug" example:"writer"`
	PendingSince      *time.Time `json:"pending_since,omitempty"`
	DeliverableID     string     `json:"deliverable_id,omitempty"`
	DeliverableTitle  string     `json:"deliverable_title,omitempty"`
	CurrentVersion    int        `json:"current_version,omitempty"`
}

// PendingEntryFromModel maps a pending-index row to its API view.
func PendingEntryFromModel(p *pending.PendingTask) PendingEntryResponse {
	return PendingEntryResponse{
		TaskID:            p.TaskID,
		ConversationID:    p.ConversationID,
		ConversationTitle: p.ConversationTitle,
		AgentSlug:         p.AgentSlug,
		PendingSince:      p.PendingSince,
		DeliverableID:     p.DeliverableID,
		DeliverableTitle:  p.DeliverableTitle,
		CurrentVersion:    p.CurrentVersion,
	}
}

// PendingResponse is the caller's review queue plus its size.
type PendingResponse struct {
	Items      []PendingEntryResponse `json:"items"`
	TotalCount int                    `json:"total_count"`
}

// =============================================================================
// Deliverable types
// =============================================================================

// DeliverableResponse is the API view of a deliverable.
type DeliverableResponse struct {
	ID             string    `json:"id" example:"d-123"`
	ConversationID string    `json:"conversation_id" example:"conv-123"`
	TaskID         *string   `json:"task_id,omitempty"`
	Title          string    `json:"title" example:"Launch Plan"`
	AgentName      string    `json:"agent_name" example:"writer"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DeliverableFromModel maps a deliverable model to its API view.
func DeliverableFromModel(d *types.Deliverable) DeliverableResponse {
	return DeliverableResponse{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		TaskID:         d.TaskID,
		Title:          d.Title,
		AgentName:      d.AgentName,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// DeliverableListResponse lists a conversation's deliverables.
type DeliverableListResponse struct {
	Deliverables []DeliverableResponse `json:"deliverables"`
}
