// =============================================================================
// Test helpers
// =============================================================================
// Shared helpers for store, coordinator and handler tests.
//
// Usage:
//
//	db := testutil.NewSQLiteDB(t)
//	ctx := testutil.TestContext(t)
//
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/reviewflow/types"
)

// =============================================================================
// Context helpers
// =============================================================================

// TestContext returns a context with a 30s timeout tied to the test.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout returns a context with a custom timeout.
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext returns an already-cancelled context.
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// Database helpers
// =============================================================================

// NewSQLiteDB opens an in-memory SQLite database (pure Go driver) with
// the review schema migrated. Each call gets an isolated database.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	err = db.AutoMigrate(
		&types.Conversation{},
		&types.Task{},
		&types.Deliverable{},
		&types.DeliverableVersion{},
	)
	if err != nil {
		t.Fatalf("migrate schema: %v", err)
	}

	// A pooled :memory: DSN would give every connection its own database.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SeedConversation inserts a conversation owned by userID.
func SeedConversation(t *testing.T, db *gorm.DB, userID, orgID string) *types.Conversation {
	t.Helper()

	conv := &types.Conversation{
		ID:     uuid.NewString(),
		UserID: userID,
		OrgID:  orgID,
		Title:  "test conversation",
	}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return conv
}

// SeedTask inserts a task in the given conversation.
func SeedTask(t *testing.T, db *gorm.DB, conv *types.Conversation, status types.TaskStatus) *types.Task {
	t.Helper()

	task := &types.Task{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		OrgID:          conv.OrgID,
		AgentSlug:      "writer",
		Status:         status,
	}
	if status == types.TaskStatusAwaitingDecision {
		now := time.Now().UTC()
		task.HitlPending = true
		task.HitlPendingSince = &now
	}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

// SeedDeliverable inserts a deliverable linked to task (pass nil for an
// unlinked legacy deliverable).
func SeedDeliverable(t *testing.T, db *gorm.DB, conv *types.Conversation, task *types.Task) *types.Deliverable {
	t.Helper()

	d := &types.Deliverable{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Title:          "test deliverable",
		AgentName:      "writer",
	}
	if task != nil {
		d.TaskID = &task.ID
	}
	if err := db.Create(d).Error; err != nil {
		t.Fatalf("seed deliverable: %v", err)
	}
	return d
}

// =============================================================================
// Assertion helpers
// =============================================================================

// AssertJSONEqual asserts that two values have the same JSON encoding.
func AssertJSONEqual(t *testing.T, expected, actual any) {
	t.Helper()

	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		t.Fatalf("failed to marshal expected: %v", err)
	}

	actualJSON, err := json.Marshal(actual)
	if err != nil {
		t.Fatalf("failed to marshal actual: %v", err)
	}

	if string(expectedJSON) != string(actualJSON) {
		t.Errorf("JSON mismatch:\nexpected: %s\nactual: %s", expectedJSON, actualJSON)
	}
}

// AssertEventuallyTrue asserts that the condition becomes true in time.
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("condition did not become true within %v", timeout)
}

// AssertEventuallyEqual asserts that the getter eventually yields expected.
func AssertEventuallyEqual(t *testing.T, expected any, getter func() any, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var lastValue any

	for time.Now().Before(deadline) {
		lastValue = getter()
		if reflect.DeepEqual(expected, lastValue) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("value did not become %v within %v, last value: %v", expected, timeout, lastValue)
}

// =============================================================================
// Timing helpers
// =============================================================================

// WaitFor polls the condition until it holds or the timeout expires.
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForChannel receives from ch or gives up after the timeout.
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// =============================================================================
// Test data helpers
// =============================================================================

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// MustParseJSON unmarshals s or panics.
func MustParseJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string {
	return &s
}
