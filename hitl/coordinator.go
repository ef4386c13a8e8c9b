// Package hitl coordinates human-in-the-loop review of workflow runs.
//
// The coordinator owns the decision state machine: it launches runs,
// records paused content as deliverable versions, and injects review
// decisions back into the engine. All request validation happens before
// any side effect, and resume calls for one task are serialized.
package hitl

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/reviewflow/access"
	"github.com/BaSui01/reviewflow/engine"
	"github.com/BaSui01/reviewflow/events"
	"github.com/BaSui01/reviewflow/store/deliverable"
	"github.com/BaSui01/reviewflow/store/pending"
	"github.com/BaSui01/reviewflow/store/task"
	"github.com/BaSui01/reviewflow/store/version"
	"github.com/BaSui01/reviewflow/types"
)

// tracerName identifies coordinator spans.
const tracerName = "reviewflow/hitl"

// Identity names the caller of a coordinator operation.
type Identity struct {
	UserID string
	OrgID  string
}

// StartRequest describes a task to launch.
type StartRequest struct {
	ConversationID string        `json:"conversation_id"`
	AgentSlug      string        `json:"agent_slug"`
	Input          types.Content `json:"input,omitempty"`
}

// Validate checks the request before any side effect.
func (r *StartRequest) Validate() *types.Error {
	if r.ConversationID == "" {
		return types.NewError(types.ErrValidation, "conversation_id is required")
	}
	if r.AgentSlug == "" {
		return types.NewError(types.ErrValidation, "agent_slug is required")
	}
	return nil
}

// TaskStatus is the coordinator's view of one task.
type TaskStatus struct {
	Task                 *types.Task  `json:"task"`
	Pause                *types.Pause `json:"pause,omitempty"`
	DeliverableID        string       `json:"deliverable_id,omitempty"`
	CurrentVersionNumber int          `json:"current_version_number,omitempty"`
}

// Metrics records coordinator outcomes.
type Metrics interface {
	RecordDecision(decision, status string, duration time.Duration)
	RecordVersionCreated(creationKind string)
	IncPendingTasks()
	DecPendingTasks()
}

type noopMetrics struct{}

func (noopMetrics) RecordDecision(string, string, time.Duration) {}
func (noopMetrics) RecordVersionCreated(string)                  {}
func (noopMetrics) IncPendingTasks()                             {}
func (noopMetrics) DecPendingTasks()                             {}

// =============================================================================
// Coordinator
// =============================================================================

// Coordinator drives the review lifecycle.
type Coordinator struct {
	tasks    task.Store
	registry deliverable.Registry
	versions version.Store
	pending  pending.Index
	bridge   engine.Bridge
	access   access.Checker
	emitter  events.Emitter
	metrics  Metrics
	tracer   trace.Tracer
	logger   *zap.Logger

	locks *keyedMutex
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithEmitter attaches a lifecycle event emitter.
func WithEmitter(e events.Emitter) CoordinatorOption {
	return func(c *Coordinator) { c.emitter = e }
}

// WithMetrics attaches outcome recording.
func WithMetrics(m Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator wires the coordinator.
func NewCoordinator(
	tasks task.Store,
	registry deliverable.Registry,
	versions version.Store,
	pendingIndex pending.Index,
	bridge engine.Bridge,
	checker access.Checker,
	logger *zap.Logger,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		tasks:    tasks,
		registry: registry,
		versions: versions,
		pending:  pendingIndex,
		bridge:   bridge,
		access:   checker,
		emitter:  events.Discard{},
		metrics:  noopMetrics{},
		tracer:   otel.Tracer(tracerName),
		logger:   logger.With(zap.String("component", "hitl_coordinator")),
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartTask launches a run and handles its first outcome. The returned
// task reflects the post-call state: awaiting_decision when the run
// paused, completed or failed when it did not.
func (c *Coordinator) StartTask(ctx context.Context, id Identity, req StartRequest) (*types.Task, error) {
	ctx, span := c.tracer.Start(ctx, "hitl.start_task",
		trace.WithAttributes(attribute.String("conversation_id", req.ConversationID)))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, spanError(span, err.WithHTTPStatus(http.StatusBadRequest))
	}
	if err := c.access.CheckConversation(ctx, req.ConversationID, id.UserID, id.OrgID); err != nil {
		return nil, spanError(span, err)
	}

	t := &types.Task{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		UserID:         id.UserID,
		OrgID:          id.OrgID,
		AgentSlug:      req.AgentSlug,
		Status:         types.TaskStatusRunning,
	}
	if err := c.tasks.Create(ctx, t); err != nil {
		return nil, spanError(span, err)
	}
	span.SetAttributes(attribute.String("task_id", t.ID))
	c.emit(ctx, t, events.KindTaskStarted)

	result, err := c.bridge.StartTask(ctx, engine.StartInput{
		TaskID:         t.ID,
		ConversationID: t.ConversationID,
		AgentSlug:      t.AgentSlug,
		Input:          req.Input,
	})
	if err != nil {
		c.markFailed(ctx, t)
		return nil, spanError(span, err)
	}

	if err := c.handleRunResult(ctx, t, result, types.CreationAIResponse, nil); err != nil {
		return nil, spanError(span, err)
	}
	return t, nil
}

// Resume injects a review decision into a paused task. Calls for the
// same task are serialized; losers of the race observe the task no
// longer pending and get TASK_NOT_PAUSED.
func (c *Coordinator) Resume(ctx context.Context, id Identity, req types.DecisionRequest) (*types.Task, error) {
	ctx, span := c.tracer.Start(ctx, "hitl.resume",
		trace.WithAttributes(
			attribute.String("task_id", req.TaskID),
			attribute.String("decision", string(req.Decision)),
		))
	defer span.End()

	start := time.Now()
	t, err := c.resume(ctx, id, req)

	status := "ok"
	if err != nil {
		status = string(types.GetErrorCode(err))
		spanError(span, err)
	}
	c.metrics.RecordDecision(string(req.Decision), status, time.Since(start))
	return t, err
}

func (c *Coordinator) resume(ctx context.Context, id Identity, req types.DecisionRequest) (*types.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err.WithHTTPStatus(http.StatusBadRequest)
	}

	unlock := c.locks.Lock(req.TaskID)
	defer unlock()

	t, err := c.tasks.Get(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if err := c.access.CheckConversation(ctx, t.ConversationID, id.UserID, id.OrgID); err != nil {
		return nil, err
	}
	if !t.HitlPending || t.Status != types.TaskStatusAwaitingDecision {
		return nil, types.NewError(types.ErrTaskNotPaused,
			"task is not awaiting a decision: "+req.TaskID).
			WithHTTPStatus(http.StatusConflict)
	}

	// Replace records the reviewer's content before the engine hears
	// anything; a resume failure must not lose a manual edit.
	if req.Decision == types.DecisionReplace {
		feedback := optional(req.Feedback)
		d, v, err := c.registry.UpsertVersion(ctx, deliverable.UpsertVersionInput{
			Task:     t,
			Content:  req.Content,
			Kind:     types.CreationManualEdit,
			Feedback: feedback,
		})
		if err != nil {
			return nil, err
		}
		c.metrics.RecordVersionCreated(string(types.CreationManualEdit))
		c.emitVersion(ctx, t, d, v)
	}

	result, err := c.bridge.Resume(ctx, t.ID, engine.ResumePayload{
		Decision: req.Decision,
		Feedback: req.Feedback,
		Content:  req.Content,
	})
	if err != nil {
		// The task stays paused; the reviewer can retry the decision.
		return nil, err
	}

	if err := c.pending.SetPending(ctx, t.ID, false); err != nil {
		return nil, err
	}
	c.metrics.DecPendingTasks()
	t.HitlPending = false
	t.HitlPendingSince = nil
	c.emitDecision(ctx, t, req.Decision)

	var feedback *string
	if req.Decision == types.DecisionRegenerate {
		feedback = optional(req.Feedback)
	}
	if err := c.handleRunResult(ctx, t, result, nextPauseKind(req.Decision), feedback); err != nil {
		return nil, err
	}
	return t, nil
}

// Status returns the coordinator's view of a task.
func (c *Coordinator) Status(ctx context.Context, id Identity, taskID string) (*TaskStatus, error) {
	t, err := c.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := c.access.CheckConversation(ctx, t.ConversationID, id.UserID, id.OrgID); err != nil {
		return nil, err
	}

	status := &TaskStatus{Task: t}
	d, err := c.registry.FindByTask(ctx, taskID)
	if types.IsCode(err, types.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, err
	}
	status.DeliverableID = d.ID

	current, err := c.versions.Current(ctx, d.ID)
	if types.IsCode(err, types.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, err
	}
	status.CurrentVersionNumber = current.VersionNumber
	if t.HitlPending {
		content, decodeErr := types.ContentFromJSON(current.Content)
		if decodeErr != nil {
			return nil, types.NewError(types.ErrInternalError, "decode version content failed").
				WithCause(decodeErr).
				WithHTTPStatus(http.StatusInternalServerError)
		}
		status.Pause = &types.Pause{Content: content}
	}
	return status, nil
}

// History returns the full version chain of the task's deliverable.
func (c *Coordinator) History(ctx context.Context, id Identity, taskID string) ([]types.DeliverableVersion, error) {
	t, err := c.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := c.access.CheckConversation(ctx, t.ConversationID, id.UserID, id.OrgID); err != nil {
		return nil, err
	}

	d, err := c.registry.FindByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return c.versions.List(ctx, d.ID)
}

// Pending returns the caller's review queue, newest first.
func (c *Coordinator) Pending(ctx context.Context, id Identity) ([]pending.PendingTask, error) {
	return c.pending.ListForUser(ctx, id.UserID, id.OrgID)
}

// Deliverables lists a conversation's deliverables, newest first.
func (c *Coordinator) Deliverables(ctx context.Context, id Identity, conversationID string) ([]types.Deliverable, error) {
	if conversationID == "" {
		return nil, types.NewError(types.ErrValidation, "conversation_id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if err := c.access.CheckConversation(ctx, conversationID, id.UserID, id.OrgID); err != nil {
		return nil, err
	}
	return c.registry.ListByConversation(ctx, conversationID)
}

// Promote restores an older version as current without rewriting the
// chain.
func (c *Coordinator) Promote(ctx context.Context, id Identity, deliverableID string, versionNumber int) (*types.DeliverableVersion, error) {
	d, err := c.registry.Get(ctx, deliverableID)
	if err != nil {
		return nil, err
	}
	if err := c.access.CheckConversation(ctx, d.ConversationID, id.UserID, id.OrgID); err != nil {
		return nil, err
	}
	return c.versions.Promote(ctx, deliverableID, versionNumber)
}

// =============================================================================
// Run outcome handling
// =============================================================================

// handleRunResult applies one engine outcome to the task. pauseKind is
// the creation kind a pause at this point records, decided by the
// decision that led here.
func (c *Coordinator) handleRunResult(ctx context.Context, t *types.Task, result *types.RunResult, pauseKind types.CreationKind, feedback *string) error {
	switch {
	case result.IsPaused():
		d, v, err := c.registry.UpsertVersion(ctx, deliverable.UpsertVersionInput{
			Task:     t,
			Content:  result.Pause.Content,
			Kind:     pauseKind,
			Feedback: feedback,
		})
		if err != nil {
			return err
		}
		if err := c.pending.SetPending(ctx, t.ID, true); err != nil {
			return err
		}
		if err := c.tasks.UpdateStatus(ctx, t.ID, types.TaskStatusAwaitingDecision); err != nil {
			return err
		}
		t.Status = types.TaskStatusAwaitingDecision
		t.HitlPending = true
		now := time.Now().UTC()
		t.HitlPendingSince = &now

		c.metrics.IncPendingTasks()
		c.metrics.RecordVersionCreated(string(pauseKind))
		c.emit(ctx, t, events.KindTaskPaused)
		c.emitVersion(ctx, t, d, v)

		c.logger.Info("task paused for review",
			zap.String("task_id", t.ID),
			zap.String("review_point_id", result.Pause.ReviewPointID),
			zap.String("creation_kind", string(pauseKind)),
		)
		return nil

	case result.State == types.RunFinished:
		if err := c.tasks.UpdateStatus(ctx, t.ID, types.TaskStatusCompleted); err != nil {
			return err
		}
		t.Status = types.TaskStatusCompleted
		c.emit(ctx, t, events.KindTaskCompleted)
		c.logger.Info("task completed", zap.String("task_id", t.ID))
		return nil

	default:
		if err := c.tasks.UpdateStatus(ctx, t.ID, types.TaskStatusFailed); err != nil {
			return err
		}
		t.Status = types.TaskStatusFailed
		c.emit(ctx, t, events.KindTaskFailed)
		c.logger.Warn("task failed",
			zap.String("task_id", t.ID),
			zap.Error(result.Err),
		)
		return nil
	}
}

// markFailed moves a task to failed after a bridge error, best effort.
func (c *Coordinator) markFailed(ctx context.Context, t *types.Task) {
	if err := c.tasks.UpdateStatus(ctx, t.ID, types.TaskStatusFailed); err != nil {
		c.logger.Error("mark task failed", zap.String("task_id", t.ID), zap.Error(err))
		return
	}
	t.Status = types.TaskStatusFailed
	c.emit(ctx, t, events.KindTaskFailed)
}

// nextPauseKind maps the decision that resumed the run to the creation
// kind its next pause records. Regenerate produces feedback-guided
// content; everything else yields a fresh generation.
func nextPauseKind(d types.Decision) types.CreationKind {
	if d == types.DecisionRegenerate {
		return types.CreationAIEnhancement
	}
	return types.CreationAIResponse
}

func (c *Coordinator) emit(ctx context.Context, t *types.Task, kind events.Kind) {
	event := events.New(kind, t.ID)
	event.ConversationID = t.ConversationID
	event.UserID = t.UserID
	c.emitter.Emit(ctx, event)
}

func (c *Coordinator) emitDecision(ctx context.Context, t *types.Task, decision types.Decision) {
	event := events.New(events.KindTaskResumed, t.ID)
	event.ConversationID = t.ConversationID
	event.UserID = t.UserID
	event.Decision = decision
	c.emitter.Emit(ctx, event)
}

func (c *Coordinator) emitVersion(ctx context.Context, t *types.Task, d *types.Deliverable, v *types.DeliverableVersion) {
	event := events.New(events.KindVersionCreated, t.ID)
	event.ConversationID = t.ConversationID
	event.UserID = t.UserID
	event.DeliverableID = d.ID
	event.VersionNumber = v.VersionNumber
	c.emitter.Emit(ctx, event)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
