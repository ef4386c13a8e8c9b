package types

import "time"

// TaskStatus is the coordinator-visible state of a task. It is derived
// from engine progress, not from any engine-internal scheduling state.
type TaskStatus string

const (
	// TaskStatusRunning means the engine is executing the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusAwaitingDecision means the engine paused at a review point.
	TaskStatusAwaitingDecision TaskStatus = "awaiting_decision"
	// TaskStatusCompleted means the engine finished the task.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed means the engine reported a failure.
	TaskStatusFailed TaskStatus = "failed"
)

// Task is a single unit of workflow execution. Its ID doubles as the
// engine's resumption key; no separate thread id exists.
type Task struct {
	ID             string     `gorm:"primaryKey;size:64" json:"id"`
	ConversationID string     `gorm:"size:64;index" json:"conversation_id"`
	UserID         string     `gorm:"size:64;index" json:"user_id"`
	OrgID          string     `gorm:"size:64;index" json:"org_id,omitempty"`
	AgentSlug      string     `gorm:"size:128" json:"agent_slug"`
	Status         TaskStatus `gorm:"size:32" json:"status"`

	// HitlPending fields are owned exclusively by the pending index.
	HitlPending      bool       `gorm:"column:hitl_pending;index" json:"hitl_pending"`
	HitlPendingSince *time.Time `gorm:"column:hitl_pending_since" json:"hitl_pending_since,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName implements the gorm table name convention.
func (Task) TableName() string { return "tasks" }

// Conversation is the owning container for tasks and deliverables.
// ReviewFlow reads it for ownership checks and display titles; the
// conversational content itself lives outside this service.
type Conversation struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	UserID    string    `gorm:"size:64;index" json:"user_id"`
	OrgID     string    `gorm:"size:64;index" json:"org_id,omitempty"`
	Title     string    `gorm:"size:512" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName implements the gorm table name convention.
func (Conversation) TableName() string { return "conversations" }
