// Package deliverable manages deliverable records and their task links.
//
// A deliverable belongs to a conversation; the task link is nullable
// because deliverables created before task linkage existed stay
// unlinked rather than being guessed into a task. The registry owns the
// find-or-create step of the review loop: the first pause in a
// conversation creates its deliverable, every later pause appends a
// version to it, whichever task produced the pause.
package deliverable

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/reviewflow/store/version"
	"github.com/BaSui01/reviewflow/types"
)

// UpsertVersionInput describes one pause's worth of content.
type UpsertVersionInput struct {
	Task     *types.Task
	Content  types.Content
	Kind     types.CreationKind
	Feedback *string
}

// Registry is the deliverable repository.
type Registry interface {
	// Create inserts a deliverable.
	Create(ctx context.Context, d *types.Deliverable) error

	// Get returns the deliverable or NOT_FOUND.
	Get(ctx context.Context, id string) (*types.Deliverable, error)

	// FindByTask returns the deliverable linked to taskID or NOT_FOUND.
	FindByTask(ctx context.Context, taskID string) (*types.Deliverable, error)

	// ListByConversation returns a conversation's deliverables, newest first.
	ListByConversation(ctx context.Context, conversationID string) ([]types.Deliverable, error)

	// ListUnlinked returns a conversation's deliverables with no task link.
	ListUnlinked(ctx context.Context, conversationID string) ([]types.Deliverable, error)

	// LinkTask sets the task link on an unlinked deliverable.
	LinkTask(ctx context.Context, deliverableID, taskID string) error

	// UpsertVersion finds or creates the conversation's deliverable
	// (preferring the one already linked to the task) and appends a
	// version holding the serialized pause content.
	UpsertVersion(ctx context.Context, in UpsertVersionInput) (*types.Deliverable, *types.DeliverableVersion, error)
}

// =============================================================================
// GORM registry
// =============================================================================

// GormRegistry implements Registry on a relational database.
type GormRegistry struct {
	db       *gorm.DB
	versions version.Store
	logger   *zap.Logger
}

// NewGormRegistry creates a registry writing versions through versions.
func NewGormRegistry(db *gorm.DB, versions version.Store, logger *zap.Logger) *GormRegistry {
	return &GormRegistry{
		db:       db,
		versions: versions,
		logger:   logger.With(zap.String("component", "deliverable_registry")),
	}
}

// Create implements Registry.
func (r *GormRegistry) Create(ctx context.Context, d *types.Deliverable) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.ConversationID == "" {
		return types.NewError(types.ErrValidation, "conversation id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if d.Title == "" {
		d.Title = types.DefaultDeliverableTitle
	}

	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return types.NewError(types.ErrInternalError, "create deliverable failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	r.logger.Debug("deliverable created",
		zap.String("deliverable_id", d.ID),
		zap.String("conversation_id", d.ConversationID),
	)
	return nil
}

// Get implements Registry.
func (r *GormRegistry) Get(ctx context.Context, id string) (*types.Deliverable, error) {
	var d types.Deliverable
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, deliverableNotFound(id)
		}
		return nil, types.NewError(types.ErrInternalError, "deliverable lookup failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return &d, nil
}

// FindByTask implements Registry.
func (r *GormRegistry) FindByTask(ctx context.Context, taskID string) (*types.Deliverable, error) {
	var d types.Deliverable
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, "no deliverable for task: "+taskID).
				WithHTTPStatus(http.StatusNotFound)
		}
		return nil, types.NewError(types.ErrInternalError, "deliverable lookup failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return &d, nil
}

// ListByConversation implements Registry.
func (r *GormRegistry) ListByConversation(ctx context.Context, conversationID string) ([]types.Deliverable, error) {
	var out []types.Deliverable
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "list deliverables failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return out, nil
}

// ListUnlinked implements Registry.
func (r *GormRegistry) ListUnlinked(ctx context.Context, conversationID string) ([]types.Deliverable, error) {
	var out []types.Deliverable
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND task_id IS NULL", conversationID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "list unlinked deliverables failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return out, nil
}

// LinkTask implements Registry. Linking is one-shot: an already linked
// deliverable keeps its link.
func (r *GormRegistry) LinkTask(ctx context.Context, deliverableID, taskID string) error {
	result := r.db.WithContext(ctx).
		Model(&types.Deliverable{}).
		Where("id = ? AND task_id IS NULL", deliverableID).
		Update("task_id", taskID)
	if result.Error != nil {
		return types.NewError(types.ErrInternalError, "link deliverable failed").
			WithCause(result.Error).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	if result.RowsAffected == 0 {
		var d types.Deliverable
		err := r.db.WithContext(ctx).Where("id = ?", deliverableID).First(&d).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return deliverableNotFound(deliverableID)
		}
		return types.NewError(types.ErrConflict, "deliverable already linked: "+deliverableID).
			WithHTTPStatus(http.StatusConflict)
	}
	return nil
}

// UpsertVersion implements Registry.
func (r *GormRegistry) UpsertVersion(ctx context.Context, in UpsertVersionInput) (*types.Deliverable, *types.DeliverableVersion, error) {
	if in.Task == nil {
		return nil, nil, types.NewError(types.ErrValidation, "task is required").
			WithHTTPStatus(http.StatusBadRequest)
	}

	d, err := r.findOrCreateForTask(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	// The version row stores the whole content blob; primary text and
	// title are extraction views, not the persisted shape.
	blob, jsonErr := in.Content.JSON()
	if jsonErr != nil {
		return nil, nil, types.NewError(types.ErrInternalError, "encode version content failed").
			WithCause(jsonErr).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	v, err := r.versions.Append(ctx, version.AppendInput{
		DeliverableID: d.ID,
		Content:       blob,
		Kind:          in.Kind,
		TaskID:        &in.Task.ID,
		Feedback:      in.Feedback,
	})
	if err != nil {
		return nil, nil, err
	}

	return d, v, nil
}

// findOrCreateForTask resolves the deliverable a pause appends to: the
// task's own deliverable, else the conversation's existing one, else a
// new record. A conversation keeps a single deliverable even when it
// hosts several tasks over time.
func (r *GormRegistry) findOrCreateForTask(ctx context.Context, in UpsertVersionInput) (*types.Deliverable, error) {
	d, err := r.FindByTask(ctx, in.Task.ID)
	if err == nil {
		return d, nil
	}
	if !types.IsCode(err, types.ErrNotFound) {
		return nil, err
	}

	d, err = r.latestForConversation(ctx, in.Task.ConversationID)
	if err == nil {
		if d.TaskID == nil {
			// Adopt an unlinked legacy record; the first link wins, so a
			// concurrent linker turning up is not an error here.
			if linkErr := r.LinkTask(ctx, d.ID, in.Task.ID); linkErr == nil {
				d.TaskID = &in.Task.ID
			} else if !types.IsCode(linkErr, types.ErrConflict) {
				return nil, linkErr
			}
		}
		return d, nil
	}
	if !types.IsCode(err, types.ErrNotFound) {
		return nil, err
	}

	d = &types.Deliverable{
		ID:             uuid.NewString(),
		ConversationID: in.Task.ConversationID,
		TaskID:         &in.Task.ID,
		Title:          in.Content.Title(),
		AgentName:      in.Task.AgentSlug,
	}
	if err := r.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *GormRegistry) latestForConversation(ctx context.Context, conversationID string) (*types.Deliverable, error) {
	var d types.Deliverable
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, "no deliverable for conversation: "+conversationID).
				WithHTTPStatus(http.StatusNotFound)
		}
		return nil, types.NewError(types.ErrInternalError, "deliverable lookup failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return &d, nil
}

func deliverableNotFound(id string) *types.Error {
	return types.NewError(types.ErrNotFound, "deliverable not found: "+id).
		WithHTTPStatus(http.StatusNotFound)
}
