// Package pending maintains the task-level awaiting-decision index.
//
// The hitl_pending flag and its timestamp live on the task row and are
// owned exclusively by this package: coordinator code flips them only
// through SetPending, which touches nothing else on the task. Listing
// is a per-user read model served read-through from Redis when a cache
// manager is attached.
package pending

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/BaSui01/reviewflow/internal/cache"
	"github.com/BaSui01/reviewflow/types"
)

// cacheType labels pending-list cache metrics.
const cacheType = "pending_list"

// PendingTask is one entry of a user's review queue.
type PendingTask struct {
	TaskID            string     `json:"task_id"`
	ConversationID    string     `json:"conversation_id"`
	ConversationTitle string     `json:"conversation_title"`
	AgentSlug         string     `json:"agent_slug"`
	PendingSince      *time.Time `json:"pending_since,omitempty"`
	DeliverableID     string     `json:"deliverable_id,omitempty"`
	DeliverableTitle  string     `json:"deliverable_title,omitempty"`
	CurrentVersion    int        `json:"current_version,omitempty"`
}

// Index tracks which tasks await a review decision.
type Index interface {
	// SetPending flips the task's pending flag. Setting the current
	// value again is a no-op: the pending-since timestamp never moves
	// on repeated marking.
	SetPending(ctx context.Context, taskID string, pending bool) error

	// ListForUser returns the user's pending tasks, newest first.
	ListForUser(ctx context.Context, userID, orgID string) ([]PendingTask, error)

	// Count returns the number of pending tasks across all users.
	Count(ctx context.Context) (int64, error)
}

// CacheMetrics records pending-list cache effectiveness.
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// =============================================================================
// GORM index
// =============================================================================

// GormIndex implements Index on the tasks table with an optional Redis
// read cache for per-user listings.
type GormIndex struct {
	db      *gorm.DB
	cache   *cache.Manager
	ttl     time.Duration
	metrics CacheMetrics
	logger  *zap.Logger

	// group collapses concurrent cache-miss reads for the same user
	// into one database query.
	group singleflight.Group
}

// Option configures a GormIndex.
type Option func(*GormIndex)

// WithCache attaches a Redis read cache for listings.
func WithCache(manager *cache.Manager, ttl time.Duration) Option {
	return func(idx *GormIndex) {
		idx.cache = manager
		idx.ttl = ttl
	}
}

// WithMetrics attaches cache hit/miss recording.
func WithMetrics(m CacheMetrics) Option {
	return func(idx *GormIndex) {
		idx.metrics = m
	}
}

// NewGormIndex creates a pending index.
func NewGormIndex(db *gorm.DB, logger *zap.Logger, opts ...Option) *GormIndex {
	idx := &GormIndex{
		db:     db,
		logger: logger.With(zap.String("component", "pending_index")),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// SetPending implements Index.
func (idx *GormIndex) SetPending(ctx context.Context, taskID string, pending bool) error {
	var task types.Task
	err := idx.db.WithContext(ctx).Where("id = ?", taskID).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.NewError(types.ErrNotFound, "task not found: "+taskID).
				WithHTTPStatus(http.StatusNotFound)
		}
		return types.NewError(types.ErrInternalError, "task lookup failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	if task.HitlPending == pending {
		return nil
	}

	updates := map[string]any{"hitl_pending": pending}
	if pending {
		updates["hitl_pending_since"] = time.Now().UTC()
	} else {
		updates["hitl_pending_since"] = nil
	}

	// Partial update on the pending columns only; status and the rest
	// of the task row are other components' business.
	err = idx.db.WithContext(ctx).
		Model(&types.Task{}).
		Where("id = ?", taskID).
		Updates(updates).Error
	if err != nil {
		return types.NewError(types.ErrInternalError, "update pending flag failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	idx.invalidate(ctx, task.UserID, task.OrgID)

	idx.logger.Info("pending flag updated",
		zap.String("task_id", taskID),
		zap.Bool("pending", pending),
	)
	return nil
}

// ListForUser implements Index.
func (idx *GormIndex) ListForUser(ctx context.Context, userID, orgID string) ([]PendingTask, error) {
	if userID == "" {
		return nil, types.NewError(types.ErrUnauthorized, "user identity is required").
			WithHTTPStatus(http.StatusUnauthorized)
	}

	key := cache.PendingListKey(userID, orgID)
	if idx.cache != nil {
		var cached []PendingTask
		if err := idx.cache.GetJSON(ctx, key, &cached); err == nil {
			if idx.metrics != nil {
				idx.metrics.RecordCacheHit(cacheType)
			}
			return cached, nil
		} else if !cache.IsCacheMiss(err) {
			idx.logger.Warn("pending list cache read failed", zap.Error(err))
		}
		if idx.metrics != nil {
			idx.metrics.RecordCacheMiss(cacheType)
		}
	}

	result, err, _ := idx.group.Do(key, func() (any, error) {
		return idx.listFromDB(ctx, key, userID, orgID)
	})
	if err != nil {
		return nil, err
	}
	return result.([]PendingTask), nil
}

func (idx *GormIndex) listFromDB(ctx context.Context, key, userID, orgID string) ([]PendingTask, error) {
	query := idx.db.WithContext(ctx).
		Table("tasks").
		Select(`tasks.id AS task_id,
			tasks.conversation_id,
			conversations.title AS conversation_title,
			tasks.agent_slug,
			tasks.hitl_pending_since AS pending_since,
			deliverables.id AS deliverable_id,
			deliverables.title AS deliverable_title,
			deliverable_versions.version_number AS current_version`).
		Joins("LEFT JOIN conversations ON conversations.id = tasks.conversation_id").
		Joins("LEFT JOIN deliverables ON deliverables.task_id = tasks.id").
		Joins("LEFT JOIN deliverable_versions ON deliverable_versions.deliverable_id = deliverables.id AND deliverable_versions.is_current_version = ?", true).
		Where("tasks.hitl_pending = ? AND tasks.user_id = ?", true, userID).
		Order("tasks.hitl_pending_since DESC")
	if orgID != "" {
		query = query.Where("tasks.org_id = ?", orgID)
	}

	var out []PendingTask
	if err := query.Scan(&out).Error; err != nil {
		return nil, types.NewError(types.ErrInternalError, "list pending tasks failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	if idx.cache != nil {
		if err := idx.cache.SetJSON(ctx, key, out, idx.ttl); err != nil {
			idx.logger.Warn("pending list cache write failed", zap.Error(err))
		}
	}

	return out, nil
}

// Count implements Index.
func (idx *GormIndex) Count(ctx context.Context) (int64, error) {
	var count int64
	err := idx.db.WithContext(ctx).
		Model(&types.Task{}).
		Where("hitl_pending = ?", true).
		Count(&count).Error
	if err != nil {
		return 0, types.NewError(types.ErrInternalError, "count pending tasks failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return count, nil
}

// invalidate drops the user's cached listings, with and without the
// org-scoped key.
func (idx *GormIndex) invalidate(ctx context.Context, userID, orgID string) {
	if idx.cache == nil {
		return
	}
	keys := []string{cache.PendingListKey(userID, "")}
	if orgID != "" {
		keys = append(keys, cache.PendingListKey(userID, orgID))
	}
	if err := idx.cache.Delete(ctx, keys...); err != nil {
		idx.logger.Warn("pending list cache invalidation failed", zap.Error(err))
	}
}
