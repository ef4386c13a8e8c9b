// Package events publishes the review lifecycle as a typed event stream.
//
// Emitters are fire-and-forget: coordination never blocks or fails on
// event delivery. The websocket hub in this package fans events out to
// connected reviewers; the log emitter keeps an audit trail.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/reviewflow/types"
)

// Kind names a lifecycle event.
type Kind string

const (
	// KindTaskStarted fires when a run is launched.
	KindTaskStarted Kind = "task.started"
	// KindTaskPaused fires when a run stops at a review point.
	KindTaskPaused Kind = "task.paused"
	// KindTaskResumed fires when a decision is injected into a run.
	KindTaskResumed Kind = "task.resumed"
	// KindTaskCompleted fires when a run finishes.
	KindTaskCompleted Kind = "task.completed"
	// KindTaskFailed fires when a run fails.
	KindTaskFailed Kind = "task.failed"
	// KindVersionCreated fires when a deliverable version is recorded.
	KindVersionCreated Kind = "version.created"
)

// Event is one lifecycle occurrence.
type Event struct {
	ID             string         `json:"id"`
	Kind           Kind           `json:"kind"`
	TaskID         string         `json:"task_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	DeliverableID  string         `json:"deliverable_id,omitempty"`
	VersionNumber  int            `json:"version_number,omitempty"`
	Decision       types.Decision `json:"decision,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// New builds an event with identity and timestamp filled in.
func New(kind Kind, taskID string) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
	}
}

// Emitter receives lifecycle events. Implementations must not block.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// =============================================================================
// Emitters
// =============================================================================

// LogEmitter writes events to the structured log.
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter creates a log-backed emitter.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.With(zap.String("component", "events"))}
}

// Emit implements Emitter.
func (e *LogEmitter) Emit(_ context.Context, event Event) {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("kind", string(event.Kind)),
		zap.String("task_id", event.TaskID),
	}
	if event.ConversationID != "" {
		fields = append(fields, zap.String("conversation_id", event.ConversationID))
	}
	if event.DeliverableID != "" {
		fields = append(fields,
			zap.String("deliverable_id", event.DeliverableID),
			zap.Int("version_number", event.VersionNumber),
		)
	}
	if event.Decision != "" {
		fields = append(fields, zap.String("decision", string(event.Decision)))
	}
	e.logger.Info("lifecycle event", fields...)
}

// Multi fans an event out to several emitters.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, event Event) {
	for _, e := range m {
		e.Emit(ctx, event)
	}
}

// Discard drops every event.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(context.Context, Event) {}
