package types

import "time"

// CreationKind records how a deliverable version came to exist.
type CreationKind string

const (
	// CreationAIResponse is the first generation at a review point.
	CreationAIResponse CreationKind = "AI_RESPONSE"
	// CreationAIEnhancement is a regeneration guided by reviewer feedback.
	CreationAIEnhancement CreationKind = "AI_ENHANCEMENT"
	// CreationManualEdit is reviewer-supplied replacement content.
	CreationManualEdit CreationKind = "MANUAL_EDIT"
	// CreationUserRequest is content produced on explicit user request.
	CreationUserRequest CreationKind = "USER_REQUEST"
	// CreationLLMRerun is a rerun of the generation without new feedback.
	CreationLLMRerun CreationKind = "LLM_RERUN"
)

// ValidCreationKind reports whether k is a known creation kind.
func ValidCreationKind(k CreationKind) bool {
	switch k {
	case CreationAIResponse, CreationAIEnhancement, CreationManualEdit,
		CreationUserRequest, CreationLLMRerun:
		return true
	}
	return false
}

// Deliverable is a reviewable unit of output tied to a conversation and,
// once linked, to the task that produced it. Content never lives here;
// only versions carry content.
type Deliverable struct {
	ID             string `gorm:"primaryKey;size:64" json:"id"`
	ConversationID string `gorm:"size:64;index" json:"conversation_id"`

	// TaskID is nullable: legacy deliverables predate task linkage and
	// stay unlinked rather than being guessed into a task.
	TaskID *string `gorm:"size:64;index" json:"task_id,omitempty"`

	Title     string    `gorm:"size:512" json:"title"`
	AgentName string    `gorm:"size:128" json:"agent_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName implements the gorm table name convention.
func (Deliverable) TableName() string { return "deliverables" }

// DeliverableVersion is one immutable snapshot of deliverable content.
// Version numbers per deliverable form a gapless 1-based sequence and
// exactly one version per deliverable carries IsCurrentVersion = true.
type DeliverableVersion struct {
	ID            string       `gorm:"primaryKey;size:64" json:"id"`
	DeliverableID string       `gorm:"size:64;index:idx_deliverable_version,unique,priority:1" json:"deliverable_id"`
	VersionNumber int          `gorm:"index:idx_deliverable_version,unique,priority:2" json:"version_number"`
	Content       string       `gorm:"type:text" json:"content"`
	ContentFormat string       `gorm:"size:32" json:"content_format"`
	CreatedByType CreationKind `gorm:"size:32" json:"created_by_type"`

	IsCurrentVersion bool `gorm:"column:is_current_version;index" json:"is_current_version"`

	TaskID    *string   `gorm:"size:64;index" json:"task_id,omitempty"`
	Feedback  *string   `gorm:"type:text" json:"feedback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName implements the gorm table name convention.
func (DeliverableVersion) TableName() string { return "deliverable_versions" }
