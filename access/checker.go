// Package access enforces conversation ownership.
//
// Every read or decision path goes through a Checker before touching
// deliverable content. A failed check surfaces as NOT_FOUND rather than
// ACCESS_DENIED so the API never confirms that a resource exists to a
// caller who doesn't own it.
package access

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/reviewflow/types"
)

// Checker decides whether a user may touch a conversation's resources.
type Checker interface {
	// CheckConversation returns nil when userID owns conversationID.
	// Denials and missing conversations both come back as NOT_FOUND.
	CheckConversation(ctx context.Context, conversationID, userID, orgID string) error
}

// =============================================================================
// Database-backed checker
// =============================================================================

// DBChecker verifies ownership against the conversations table.
type DBChecker struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDBChecker creates a checker reading from db.
func NewDBChecker(db *gorm.DB, logger *zap.Logger) *DBChecker {
	return &DBChecker{
		db:     db,
		logger: logger.With(zap.String("component", "access")),
	}
}

// CheckConversation implements Checker.
func (c *DBChecker) CheckConversation(ctx context.Context, conversationID, userID, orgID string) error {
	if conversationID == "" {
		return types.NewError(types.ErrValidation, "conversation id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if userID == "" {
		return types.NewError(types.ErrUnauthorized, "user identity is required").
			WithHTTPStatus(http.StatusUnauthorized)
	}

	var conv types.Conversation
	query := c.db.WithContext(ctx).Where("id = ?", conversationID)
	err := query.First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(conversationID)
		}
		return types.NewError(types.ErrInternalError, "conversation lookup failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	if conv.UserID != userID {
		c.logger.Warn("conversation access denied",
			zap.String("conversation_id", conversationID),
			zap.String("user_id", userID),
		)
		return notFound(conversationID)
	}
	if orgID != "" && conv.OrgID != "" && conv.OrgID != orgID {
		c.logger.Warn("conversation org mismatch",
			zap.String("conversation_id", conversationID),
			zap.String("org_id", orgID),
		)
		return notFound(conversationID)
	}

	return nil
}

func notFound(conversationID string) *types.Error {
	return types.NewError(types.ErrNotFound, "conversation not found: "+conversationID).
		WithHTTPStatus(http.StatusNotFound)
}

// =============================================================================
// Allow-all checker
// =============================================================================

// AllowAll skips ownership checks. Used when auth is disabled and in tests.
type AllowAll struct{}

// CheckConversation implements Checker.
func (AllowAll) CheckConversation(ctx context.Context, conversationID, userID, orgID string) error {
	return nil
}
