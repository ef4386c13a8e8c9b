// Package task persists tasks and their coordinator-visible status.
package task

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/reviewflow/types"
)

// Store is the task repository.
type Store interface {
	// Create inserts a new task.
	Create(ctx context.Context, task *types.Task) error

	// Get returns the task or NOT_FOUND.
	Get(ctx context.Context, id string) (*types.Task, error)

	// UpdateStatus moves the task to status.
	UpdateStatus(ctx context.Context, id string, status types.TaskStatus) error

	// ListByConversation returns the conversation's tasks, newest first.
	ListByConversation(ctx context.Context, conversationID string) ([]types.Task, error)
}

// =============================================================================
// GORM store
// =============================================================================

// GormStore implements Store on a relational database.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a task store.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "task_store")),
	}
}

// Create implements Store.
func (s *GormStore) Create(ctx context.Context, task *types.Task) error {
	if task.ID == "" {
		return types.NewError(types.ErrValidation, "task id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}

	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return types.NewError(types.ErrInternalError, "create task failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	s.logger.Debug("task created",
		zap.String("task_id", task.ID),
		zap.String("conversation_id", task.ConversationID),
	)
	return nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, "task not found: "+id).
				WithHTTPStatus(http.StatusNotFound)
		}
		return nil, types.NewError(types.ErrInternalError, "task lookup failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return &task, nil
}

// UpdateStatus implements Store.
func (s *GormStore) UpdateStatus(ctx context.Context, id string, status types.TaskStatus) error {
	result := s.db.WithContext(ctx).
		Model(&types.Task{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return types.NewError(types.ErrInternalError, "update task status failed").
			WithCause(result.Error).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	if result.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "task not found: "+id).
			WithHTTPStatus(http.StatusNotFound)
	}
	return nil
}

// ListByConversation implements Store.
func (s *GormStore) ListByConversation(ctx context.Context, conversationID string) ([]types.Task, error) {
	var tasks []types.Task
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "list tasks failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return tasks, nil
}
