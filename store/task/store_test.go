package task

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/reviewflow/testutil"
	"github.com/BaSui01/reviewflow/types"
)

func TestGormStore_CreateAndGet(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	store := NewGormStore(db, zap.NewNop())
	ctx := testutil.TestContext(t)

	task := &types.Task{
		ID:             uuid.NewString(),
		ConversationID: "conv-1",
		UserID:         "user-1",
		AgentSlug:      "writer",
		Status:         types.TaskStatusRunning,
	}
	require.NoError(t, store.Create(ctx, task))

	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, types.TaskStatusRunning, got.Status)
	assert.False(t, got.HitlPending)
}

func TestGormStore_CreateRequiresID(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	store := NewGormStore(db, zap.NewNop())

	err := store.Create(testutil.TestContext(t), &types.Task{})
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestGormStore_GetMissing(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	store := NewGormStore(db, zap.NewNop())

	_, err := store.Get(testutil.TestContext(t), "no-such-task")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestGormStore_UpdateStatus(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	store := NewGormStore(db, zap.NewNop())
	ctx := testutil.TestContext(t)

	conv := testutil.SeedConversation(t, db, "user-1", "")
	task := testutil.SeedTask(t, db, conv, types.TaskStatusRunning)

	require.NoError(t, store.UpdateStatus(ctx, task.ID, types.TaskStatusAwaitingDecision))

	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusAwaitingDecision, got.Status)
}

func TestGormStore_UpdateStatusMissing(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	store := NewGormStore(db, zap.NewNop())

	err := store.UpdateStatus(testutil.TestContext(t), "no-such-task", types.TaskStatusCompleted)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestGormStore_ListByConversation(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	store := NewGormStore(db, zap.NewNop())
	ctx := testutil.TestContext(t)

	conv := testutil.SeedConversation(t, db, "user-1", "")
	testutil.SeedTask(t, db, conv, types.TaskStatusCompleted)
	testutil.SeedTask(t, db, conv, types.TaskStatusRunning)

	other := testutil.SeedConversation(t, db, "user-2", "")
	testutil.SeedTask(t, db, other, types.TaskStatusRunning)

	tasks, err := store.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, conv.ID, task.ConversationID)
	}
}
