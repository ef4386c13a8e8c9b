package version

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/reviewflow/internal/database"
	"github.com/BaSui01/reviewflow/types"
)

// appendAttempts bounds retries when a concurrent append takes the same
// version number.
const appendAttempts = 3

// GormStore implements Store on a relational database.
type GormStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewGormStore creates a version store on top of the connection pool.
func NewGormStore(pool *database.PoolManager, logger *zap.Logger) *GormStore {
	return &GormStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "version_store")),
	}
}

// Append implements Store. The whole append runs in one transaction:
// read the highest number, demote the current version, insert the new
// one. A duplicate-key failure means another writer won the number and
// the append retries from scratch.
func (s *GormStore) Append(ctx context.Context, in AppendInput) (*types.DeliverableVersion, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	format := in.ContentFormat
	if format == "" {
		format = DefaultContentFormat
	}

	var created *types.DeliverableVersion
	var lastErr error

	for attempt := 0; attempt < appendAttempts; attempt++ {
		err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
			var maxNumber int
			err := tx.Model(&types.DeliverableVersion{}).
				Where("deliverable_id = ?", in.DeliverableID).
				Select("COALESCE(MAX(version_number), 0)").
				Scan(&maxNumber).Error
			if err != nil {
				return err
			}

			err = tx.Model(&types.DeliverableVersion{}).
				Where("deliverable_id = ? AND is_current_version = ?", in.DeliverableID, true).
				Update("is_current_version", false).Error
			if err != nil {
				return err
			}

			v := &types.DeliverableVersion{
				ID:               uuid.NewString(),
				DeliverableID:    in.DeliverableID,
				VersionNumber:    maxNumber + 1,
				Content:          in.Content,
				ContentFormat:    format,
				CreatedByType:    in.Kind,
				IsCurrentVersion: true,
				TaskID:           in.TaskID,
				Feedback:         in.Feedback,
			}
			if err := tx.Create(v).Error; err != nil {
				return err
			}
			created = v
			return nil
		})
		if err == nil {
			s.logger.Debug("version appended",
				zap.String("deliverable_id", in.DeliverableID),
				zap.Int("version_number", created.VersionNumber),
				zap.String("kind", string(in.Kind)),
			)
			return created, nil
		}

		lastErr = err
		if !isDuplicateVersion(err) {
			// The atomic section rolled back with nothing written, so the
			// whole decision call is safe to replay.
			return nil, types.NewError(types.ErrConflict, "version append could not complete").
				WithCause(err).
				WithHTTPStatus(http.StatusConflict).
				WithRetryable(true)
		}

		s.logger.Warn("version number taken, retrying append",
			zap.String("deliverable_id", in.DeliverableID),
			zap.Int("attempt", attempt+1),
		)
	}

	return nil, types.NewError(types.ErrConflict, "concurrent version appends exhausted retries").
		WithCause(lastErr).
		WithHTTPStatus(http.StatusConflict).
		WithRetryable(true)
}

// Current implements Store.
func (s *GormStore) Current(ctx context.Context, deliverableID string) (*types.DeliverableVersion, error) {
	var v types.DeliverableVersion
	err := s.pool.DB().WithContext(ctx).
		Where("deliverable_id = ? AND is_current_version = ?", deliverableID, true).
		First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, noVersions(deliverableID)
		}
		return nil, types.NewError(types.ErrInternalError, "current version lookup failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return &v, nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, deliverableID string, versionNumber int) (*types.DeliverableVersion, error) {
	var v types.DeliverableVersion
	err := s.pool.DB().WithContext(ctx).
		Where("deliverable_id = ? AND version_number = ?", deliverableID, versionNumber).
		First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, noVersions(deliverableID)
		}
		return nil, types.NewError(types.ErrInternalError, "version lookup failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return &v, nil
}

// List implements Store.
func (s *GormStore) List(ctx context.Context, deliverableID string) ([]types.DeliverableVersion, error) {
	var versions []types.DeliverableVersion
	err := s.pool.DB().WithContext(ctx).
		Where("deliverable_id = ?", deliverableID).
		Order("version_number ASC").
		Find(&versions).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "list versions failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return versions, nil
}

// Promote implements Store.
func (s *GormStore) Promote(ctx context.Context, deliverableID string, versionNumber int) (*types.DeliverableVersion, error) {
	var promoted *types.DeliverableVersion

	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var v types.DeliverableVersion
		err := tx.Where("deliverable_id = ? AND version_number = ?", deliverableID, versionNumber).
			First(&v).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return noVersions(deliverableID)
			}
			return err
		}

		err = tx.Model(&types.DeliverableVersion{}).
			Where("deliverable_id = ? AND is_current_version = ?", deliverableID, true).
			Update("is_current_version", false).Error
		if err != nil {
			return err
		}

		err = tx.Model(&types.DeliverableVersion{}).
			Where("id = ?", v.ID).
			Update("is_current_version", true).Error
		if err != nil {
			return err
		}

		v.IsCurrentVersion = true
		promoted = &v
		return nil
	})
	if err != nil {
		if types.GetErrorCode(err) != "" {
			return nil, err
		}
		return nil, types.NewError(types.ErrInternalError, "promote version failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	s.logger.Info("version promoted",
		zap.String("deliverable_id", deliverableID),
		zap.Int("version_number", versionNumber),
	)
	return promoted, nil
}

func noVersions(deliverableID string) *types.Error {
	return types.NewError(types.ErrNotFound, "version not found for deliverable: "+deliverableID).
		WithHTTPStatus(http.StatusNotFound)
}

// isDuplicateVersion reports whether err is a unique-index violation on
// the (deliverable_id, version_number) pair.
func isDuplicateVersion(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
