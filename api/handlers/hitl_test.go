package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/reviewflow/access"
	"github.com/BaSui01/reviewflow/api"
	"github.com/BaSui01/reviewflow/engine"
	"github.com/BaSui01/reviewflow/hitl"
	"github.com/BaSui01/reviewflow/internal/database"
	"github.com/BaSui01/reviewflow/store/deliverable"
	"github.com/BaSui01/reviewflow/store/pending"
	"github.com/BaSui01/reviewflow/store/task"
	"github.com/BaSui01/reviewflow/store/version"
	"github.com/BaSui01/reviewflow/testutil"
	"github.com/BaSui01/reviewflow/types"
)

type handlerFixture struct {
	mux    *http.ServeMux
	bridge *engine.MemoryBridge
	conv   *types.Conversation
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	pool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)

	versions := version.NewGormStore(pool, zap.NewNop())
	bridge := engine.NewMemoryBridge()
	coordinator := hitl.NewCoordinator(
		task.NewGormStore(db, zap.NewNop()),
		deliverable.NewGormRegistry(db, versions, zap.NewNop()),
		versions,
		pending.NewGormIndex(db, zap.NewNop()),
		bridge,
		access.NewDBChecker(db, zap.NewNop()),
		zap.NewNop(),
	)

	mux := http.NewServeMux()
	NewHitlHandler(coordinator, zap.NewNop()).Register(mux)

	return &handlerFixture{
		mux:    mux,
		bridge: bridge,
		conv:   testutil.SeedConversation(t, db, "user-1", "org-1"),
	}
}

func (f *handlerFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-Org-ID", "org-1")

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

// startPaused drives a run to its first pause through the API. The
// server generates the task id, so the bridge is scripted through the
// function override rather than by key.
func startPaused(t *testing.T, f *handlerFixture) api.TaskResponse {
	t.Helper()

	f.bridge.StartFn = func(_ context.Context, in engine.StartInput) (*types.RunResult, error) {
		return types.PausedResult(types.Pause{
			ReviewPointID: "rp-1",
			Content:       types.Content{"primaryText": "# Plan\n\ndraft"},
		}), nil
	}

	rec := f.do(t, http.MethodPost, "/v1/tasks",
		`{"conversation_id":"`+f.conv.ID+`","agent_slug":"writer"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data api.TaskResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, types.TaskStatusAwaitingDecision, resp.Data.Status)
	return resp.Data
}

func TestHitlHandler_StartAndStatus(t *testing.T) {
	f := newHandlerFixture(t)

	started := startPaused(t, f)
	assert.True(t, started.HitlPending)

	rec := f.do(t, http.MethodGet, "/v1/hitl/status?task_id="+started.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data api.StatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, started.ID, resp.Data.Task.ID)
	assert.Equal(t, 1, resp.Data.CurrentVersionNumber)
	require.NotNil(t, resp.Data.Pause)
}

func TestHitlHandler_ResumeApprove(t *testing.T) {
	f := newHandlerFixture(t)

	started := startPaused(t, f)
	f.bridge.Script(started.ID, types.FinishedResult(types.Content{}))

	rec := f.do(t, http.MethodPost, "/v1/hitl/resume",
		`{"task_id":"`+started.ID+`","decision":"approve"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data api.TaskResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.TaskStatusCompleted, resp.Data.Status)

	// A second approve hits TASK_NOT_PAUSED and maps to 409.
	rec = f.do(t, http.MethodPost, "/v1/hitl/resume",
		`{"task_id":"`+started.ID+`","decision":"approve"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHitlHandler_ResumeValidation(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/hitl/resume",
		`{"task_id":"t","decision":"regenerate"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/hitl/resume", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHitlHandler_HistoryAndPending(t *testing.T) {
	f := newHandlerFixture(t)

	started := startPaused(t, f)

	rec := f.do(t, http.MethodGet, "/v1/hitl/history?task_id="+started.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var history struct {
		Data api.HistoryResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Data.Versions, 1)
	assert.Equal(t, types.CreationAIResponse, history.Data.Versions[0].CreatedByType)

	rec = f.do(t, http.MethodGet, "/v1/hitl/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var queue struct {
		Data api.PendingResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queue))
	assert.Equal(t, 1, queue.Data.TotalCount)
	require.Len(t, queue.Data.Items, 1)
	assert.Equal(t, started.ID, queue.Data.Items[0].TaskID)

	rec = f.do(t, http.MethodGet, "/v1/hitl/history", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHitlHandler_PromoteAndList(t *testing.T) {
	f := newHandlerFixture(t)

	started := startPaused(t, f)
	f.bridge.Script(started.ID, types.PausedResult(types.Pause{
		ReviewPointID: "rp-1",
		Content:       types.Content{"primaryText": "# Plan\n\nsecond"},
	}))

	rec := f.do(t, http.MethodPost, "/v1/hitl/resume",
		`{"task_id":"`+started.ID+`","decision":"reject"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/deliverables?conversation_id="+f.conv.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Data api.DeliverableListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data.Deliverables, 1)
	deliverableID := list.Data.Deliverables[0].ID

	rec = f.do(t, http.MethodPost, "/v1/deliverables/promote",
		`{"deliverable_id":"`+deliverableID+`","version_number":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var promoted struct {
		Data api.VersionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &promoted))
	assert.Equal(t, 1, promoted.Data.VersionNumber)
	assert.True(t, promoted.Data.IsCurrentVersion)
}

func TestHitlHandler_ForeignUserSeesNotFound(t *testing.T) {
	f := newHandlerFixture(t)

	started := startPaused(t, f)

	req := httptest.NewRequest(http.MethodGet, "/v1/hitl/status?task_id="+started.ID, nil)
	req.Header.Set("X-User-ID", "user-2")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
