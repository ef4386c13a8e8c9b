package hitl

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/reviewflow/access"
	"github.com/BaSui01/reviewflow/engine"
	"github.com/BaSui01/reviewflow/events"
	"github.com/BaSui01/reviewflow/internal/database"
	"github.com/BaSui01/reviewflow/store/deliverable"
	"github.com/BaSui01/reviewflow/store/pending"
	"github.com/BaSui01/reviewflow/store/task"
	"github.com/BaSui01/reviewflow/store/version"
	"github.com/BaSui01/reviewflow/testutil"
	"github.com/BaSui01/reviewflow/types"
)

type fixture struct {
	db          *gorm.DB
	coordinator *Coordinator
	bridge      *engine.MemoryBridge
	versions    version.Store
	registry    deliverable.Registry
	events      *capturedEvents
	conv        *types.Conversation
	id          Identity
}

type capturedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturedEvents) Emit(_ context.Context, e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capturedEvents) kinds() []events.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Kind, len(c.events))
	for i, e := range c.events {
		out[i] = e.Kind
	}
	return out
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	pool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)

	versions := version.NewGormStore(pool, zap.NewNop())
	registry := deliverable.NewGormRegistry(db, versions, zap.NewNop())
	bridge := engine.NewMemoryBridge()
	captured := &capturedEvents{}

	coordinator := NewCoordinator(
		task.NewGormStore(db, zap.NewNop()),
		registry,
		versions,
		pending.NewGormIndex(db, zap.NewNop()),
		bridge,
		access.NewDBChecker(db, zap.NewNop()),
		zap.NewNop(),
		WithEmitter(captured),
	)

	conv := testutil.SeedConversation(t, db, "user-1", "org-1")

	return &fixture{
		db:          db,
		coordinator: coordinator,
		bridge:      bridge,
		versions:    versions,
		registry:    registry,
		events:      captured,
		conv:        conv,
		id:          Identity{UserID: "user-1", OrgID: "org-1"},
	}
}

func pauseWith(text string) *types.RunResult {
	return types.PausedResult(types.Pause{
		ReviewPointID: "rp-1",
		Content:       types.Content{"primaryText": text},
	})
}

// startPaused launches a task scripted to pause immediately.
func (f *fixture) startPaused(t *testing.T, ctx context.Context) *types.Task {
	t.Helper()

	f.bridge.StartFn = func(_ context.Context, in engine.StartInput) (*types.RunResult, error) {
		f.bridge.StartFn = nil
		return pauseWith("# Draft\n\nfirst version"), nil
	}
	started, err := f.coordinator.StartTask(ctx, f.id, StartRequest{
		ConversationID: f.conv.ID,
		AgentSlug:      "writer",
	})
	require.NoError(t, err)
	require.Equal(t, types.TaskStatusAwaitingDecision, started.Status)
	require.True(t, started.HitlPending)
	return started
}

func TestCoordinator_StartThenApprove(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	started := f.startPaused(t, ctx)

	// The pause recorded version 1 as the first generation.
	d, err := f.registry.FindByTask(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, "Draft", d.Title)
	v1, err := f.versions.Current(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNumber)
	assert.Equal(t, types.CreationAIResponse, v1.CreatedByType)

	f.bridge.Script(started.ID, types.FinishedResult(types.Content{"primaryText": "done"}))
	resumed, err := f.coordinator.Resume(ctx, f.id, types.DecisionRequest{
		TaskID:   started.ID,
		Decision: types.DecisionApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, resumed.Status)
	assert.False(t, resumed.HitlPending)

	// Approve never creates a version.
	versions, err := f.versions.List(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	assert.Equal(t, []events.Kind{
		events.KindTaskStarted,
		events.KindTaskPaused,
		events.KindVersionCreated,
		events.KindTaskResumed,
		events.KindTaskCompleted,
	}, f.events.kinds())
}

func TestCoordinator_RegenerateRecordsEnhancement(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	started := f.startPaused(t, ctx)
	f.bridge.Script(started.ID, pauseWith("# Draft\n\nsecond version"))

	resumed, err := f.coordinator.Resume(ctx, f.id, types.DecisionRequest{
		TaskID:   started.ID,
		Decision: types.DecisionRegenerate,
		Feedback: "make it shorter",
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusAwaitingDecision, resumed.Status)
	assert.True(t, resumed.HitlPending)

	d, err := f.registry.FindByTask(ctx, started.ID)
	require.NoError(t, err)
	current, err := f.versions.Current(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.VersionNumber)
	assert.Equal(t, types.CreationAIEnhancement, current.CreatedByType)
	require.NotNil(t, current.Feedback)
	assert.Equal(t, "make it shorter", *current.Feedback)

	// The decision itself travelled to the engine.
	calls := f.bridge.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "resume", last.Operation)
	assert.Equal(t, types.DecisionRegenerate, last.Resume.Decision)
	assert.Equal(t, "make it shorter", last.Resume.Feedback)
}

func TestCoordinator_RejectRecordsFreshResponse(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	started := f.startPaused(t, ctx)
	f.bridge.Script(started.ID, pauseWith("# Draft\n\nregenerated"))

	_, err := f.coordinator.Resume(ctx, f.id, types.DecisionRequest{
		TaskID:   started.ID,
		Decision: types.DecisionReject,
	})
	require.NoError(t, err)

	d, err := f.registry.FindByTask(ctx, started.ID)
	require.NoError(t, err)
	current, err := f.versions.Current(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.VersionNumber)
	assert.Equal(t, types.CreationAIResponse, current.CreatedByType)
	assert.Nil(t, current.Feedback)
}

func TestCoordinator_ReplacePersistsBeforeResume(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	started := f.startPaused(t, ctx)

	// The engine is down: the manual edit must survive anyway.
	f.bridge.ResumeFn = func(context.Context, string, engine.ResumePayload) (*types.RunResult, error) {
		return nil, types.NewError(types.ErrEngineUnavailable, "engine is unreachable").WithRetryable(true)
	}

	_, err := f.coordinator.Resume(ctx, f.id, types.DecisionRequest{
		TaskID:   started.ID,
		Decision: types.DecisionReplace,
		Content:  types.Content{"primaryText": "# Draft\n\nhand-written"},
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrEngineUnavailable))

	d, err := f.registry.FindByTask(ctx, started.ID)
	require.NoError(t, err)
	current, err := f.versions.Current(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.VersionNumber)
	assert.Equal(t, types.CreationManualEdit, current.CreatedByType)
	assert.Contains(t, current.Content, "hand-written")

	// The task stays paused so the decision can be retried.
	var got types.Task
	require.NoError(t, f.db.First(&got, "id = ?", started.ID).Error)
	assert.True(t, got.HitlPending)
	assert.Equal(t, types.TaskStatusAwaitingDecision, got.Status)

	// Retry once the engine is back.
	f.bridge.ResumeFn = nil
	f.bridge.Script(started.ID, types.FinishedResult(types.Content{}))
	resumed, err := f.coordinator.Resume(ctx, f.id, types.DecisionRequest{
		TaskID:   started.ID,
		Decision: types.DecisionApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, resumed.Status)
}

func TestCoordinator_ReplaceKeepsOpaqueContent(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	started := f.startPaused(t, ctx)
	f.bridge.Script(started.ID, types.FinishedResult(types.Content{}))

	// Replacement content whose only field is not a primary-text key.
	_, err := f.coordinator.Resume(ctx, f.id, types.DecisionRequest{
		TaskID:   started.ID,
		Decision: types.DecisionReplace,
		Content:  types.Content{"body": "user text"},
	})
	require.NoError(t, err)

	d, err := f.registry.FindByTask(ctx, started.ID)
	require.NoError(t, err)
	edit, err := f.versions.Get(ctx, d.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, types.CreationManualEdit, edit.CreatedByType)
	require.NotEmpty(t, edit.Content)

	decoded, err := types.ContentFromJSON(edit.Content)
	require.NoError(t, err)
	assert.Equal(t, "user text", decoded["body"])
}

func TestCoordinator_SkipResumesWithoutVersion(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	started := f.startPaused(t, ctx)
	f.bridge.Script(started.ID, types.FinishedResult(types.Content{}))

	resumed, err := f.coordinator.Resume(ctx, f.id, types.DecisionRequest{
		TaskID:   started.ID,
		Decision: types.DecisionSkip,
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, resumed.Status)

	d, err := f.registry.FindByTask(ctx, started.ID)
	require.NoError(t, err)
	versions, err := f.versions.List(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestCoordinator_ResumeNotPaused(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	// Task completes without ever pausing.
	created, err := f.coordinator.StartTask(ctx, f.id, StartRequest{
		ConversationID: f.conv.ID,
		AgentSlug:      "writer",
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, created.Status)

	_, err = f.coordinator.Resume(ctx, f.id, types.DecisionRequest{
		TaskID:   created.ID,
		Decision: types.DecisionApprove,
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrTaskNotPaused))
}

func TestCoordinator_ConcurrentResumeSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	started := f.startPaused(t, ctx)
	f.bridge.Script(started.ID, types.FinishedResult(types.Content{}))

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coordinator.Resume(ctx, f.id, types.DecisionRequest{
				TaskID:   started.ID,
				Decision: types.DecisionApprove,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	winners, losers := 0, 0
	for err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, types.IsCode(err, types.ErrTaskNotPaused))
		losers++
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, callers-1, losers)
}

func TestCoordinator_ResumeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	cases := []types.DecisionRequest{
		{TaskID: "", Decision: types.DecisionApprove},
		{TaskID: "task-1", Decision: "ship-it"},
		{TaskID: "task-1", Decision: types.DecisionRegenerate},
		{TaskID: "task-1", Decision: types.DecisionReplace},
	}
	for _, req := range cases {
		_, err := f.coordinator.Resume(ctx, f.id, req)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrValidation))
	}

	// Nothing reached the engine.
	assert.Empty(t, f.bridge.Calls())
}

func TestCoordinator_ForeignUserSeesNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	started := f.startPaused(t, ctx)

	stranger := Identity{UserID: "user-2", OrgID: "org-1"}
	_, err := f.coordinator.Resume(ctx, stranger, types.DecisionRequest{
		TaskID:   started.ID,
		Decision: types.DecisionApprove,
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNotFound))

	_, err = f.coordinator.Status(ctx, stranger, started.ID)
	assert.True(t, types.IsCode(err, types.ErrNotFound))

	_, err = f.coordinator.History(ctx, stranger, started.ID)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestCoordinator_StartBridgeFailure(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	f.bridge.StartFn = func(context.Context, engine.StartInput) (*types.RunResult, error) {
		return nil, types.NewError(types.ErrEngineTimeout, "engine call timed out").WithRetryable(true)
	}

	_, err := f.coordinator.StartTask(ctx, f.id, StartRequest{
		ConversationID: f.conv.ID,
		AgentSlug:      "writer",
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrEngineTimeout))

	// The task record survives in failed state.
	var got types.Task
	require.NoError(t, f.db.First(&got, "conversation_id = ?", f.conv.ID).Error)
	assert.Equal(t, types.TaskStatusFailed, got.Status)
}

func TestCoordinator_EngineRunFailure(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	started := f.startPaused(t, ctx)
	f.bridge.Script(started.ID, types.FailedResult(assert.AnError))

	resumed, err := f.coordinator.Resume(ctx, f.id, types.DecisionRequest{
		TaskID:   started.ID,
		Decision: types.DecisionApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, resumed.Status)
	assert.False(t, resumed.HitlPending)
}

func TestCoordinator_StatusAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	started := f.startPaused(t, ctx)
	f.bridge.Script(started.ID, pauseWith("# Draft\n\nsecond version"))

	_, err := f.coordinator.Resume(ctx, f.id, types.DecisionRequest{
		TaskID:   started.ID,
		Decision: types.DecisionRegenerate,
		Feedback: "more detail",
	})
	require.NoError(t, err)

	status, err := f.coordinator.Status(ctx, f.id, started.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusAwaitingDecision, status.Task.Status)
	assert.NotEmpty(t, status.DeliverableID)
	assert.Equal(t, 2, status.CurrentVersionNumber)
	require.NotNil(t, status.Pause)
	assert.Contains(t, status.Pause.Content.PrimaryText(), "second version")

	history, err := f.coordinator.History(ctx, f.id, started.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].VersionNumber)
	assert.Equal(t, 2, history[1].VersionNumber)
}

func TestCoordinator_PendingQueue(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	started := f.startPaused(t, ctx)

	list, err := f.coordinator.Pending(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, started.ID, list[0].TaskID)

	// Another user's queue is empty.
	other, err := f.coordinator.Pending(ctx, Identity{UserID: "user-2", OrgID: "org-1"})
	require.NoError(t, err)
	assert.Empty(t, other)

	// Approving drains the queue.
	f.bridge.Script(started.ID, types.FinishedResult(types.Content{}))
	_, err = f.coordinator.Resume(ctx, f.id, types.DecisionRequest{
		TaskID:   started.ID,
		Decision: types.DecisionApprove,
	})
	require.NoError(t, err)

	list, err = f.coordinator.Pending(ctx, f.id)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCoordinator_Promote(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	started := f.startPaused(t, ctx)
	f.bridge.Script(started.ID, pauseWith("# Draft\n\nsecond version"))
	_, err := f.coordinator.Resume(ctx, f.id, types.DecisionRequest{
		TaskID:   started.ID,
		Decision: types.DecisionReject,
	})
	require.NoError(t, err)

	d, err := f.registry.FindByTask(ctx, started.ID)
	require.NoError(t, err)

	promoted, err := f.coordinator.Promote(ctx, f.id, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted.VersionNumber)
	assert.True(t, promoted.IsCurrentVersion)

	// Strangers cannot promote.
	_, err = f.coordinator.Promote(ctx, Identity{UserID: "user-2"}, d.ID, 2)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestCoordinator_StartValidation(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	_, err := f.coordinator.StartTask(ctx, f.id, StartRequest{AgentSlug: "writer"})
	assert.True(t, types.IsCode(err, types.ErrValidation))

	_, err = f.coordinator.StartTask(ctx, f.id, StartRequest{ConversationID: f.conv.ID})
	assert.True(t, types.IsCode(err, types.ErrValidation))
}
