package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/reviewflow/api"
	"github.com/BaSui01/reviewflow/hitl"
	"github.com/BaSui01/reviewflow/types"
)

// HitlHandler serves the review coordination endpoints.
type HitlHandler struct {
	coordinator *hitl.Coordinator
	logger      *zap.Logger
}

// NewHitlHandler creates the review handler.
func NewHitlHandler(coordinator *hitl.Coordinator, logger *zap.Logger) *HitlHandler {
	return &HitlHandler{
		coordinator: coordinator,
		logger:      logger.With(zap.String("component", "hitl_handler")),
	}
}

// Register mounts the handler's routes on mux.
func (h *HitlHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/tasks", h.StartTask)
	mux.HandleFunc("POST /v1/hitl/resume", h.Resume)
	mux.HandleFunc("GET /v1/hitl/status", h.Status)
	mux.HandleFunc("GET /v1/hitl/history", h.History)
	mux.HandleFunc("GET /v1/hitl/pending", h.Pending)
	mux.HandleFunc("POST /v1/deliverables/promote", h.Promote)
	mux.HandleFunc("GET /v1/deliverables", h.ListDeliverables)
}

// StartTask handles POST /v1/tasks.
func (h *HitlHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	var req api.StartTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	t, err := h.coordinator.StartTask(r.Context(), IdentityFromRequest(r), hitl.StartRequest{
		ConversationID: req.ConversationID,
		AgentSlug:      req.AgentSlug,
		Input:          req.Input,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.TaskFromModel(t))
}

// Resume handles POST /v1/hitl/resume.
func (h *HitlHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req api.ResumeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	t, err := h.coordinator.Resume(r.Context(), IdentityFromRequest(r), types.DecisionRequest{
		TaskID:   req.TaskID,
		Decision: types.Decision(req.Decision),
		Feedback: req.Feedback,
		Content:  req.Content,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.TaskFromModel(t))
}

// Status handles GET /v1/hitl/status?task_id=.
func (h *HitlHandler) Status(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskIDParam(w, r)
	if !ok {
		return
	}

	status, err := h.coordinator.Status(r.Context(), IdentityFromRequest(r), taskID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.StatusResponse{
		Task:                 api.TaskFromModel(status.Task),
		DeliverableID:        status.DeliverableID,
		CurrentVersionNumber: status.CurrentVersionNumber,
		Pause:                status.Pause,
	})
}

// History handles GET /v1/hitl/history?task_id=.
func (h *HitlHandler) History(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskIDParam(w, r)
	if !ok {
		return
	}

	versions, err := h.coordinator.History(r.Context(), IdentityFromRequest(r), taskID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	out := make([]api.VersionResponse, len(versions))
	for i := range versions {
		out[i] = api.VersionFromModel(&versions[i])
	}
	WriteSuccess(w, api.HistoryResponse{TaskID: taskID, Versions: out})
}

// Pending handles GET /v1/hitl/pending.
func (h *HitlHandler) Pending(w http.ResponseWriter, r *http.Request) {
	list, err := h.coordinator.Pending(r.Context(), IdentityFromRequest(r))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	items := make([]api.PendingEntryResponse, len(list))
	for i := range list {
		items[i] = api.PendingEntryFromModel(&list[i])
	}
	WriteSuccess(w, api.PendingResponse{Items: items, TotalCount: len(items)})
}

// Promote handles POST /v1/deliverables/promote.
func (h *HitlHandler) Promote(w http.ResponseWriter, r *http.Request) {
	var req api.PromoteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.DeliverableID == "" || req.VersionNumber < 1 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"deliverable_id and a positive version_number are required", h.logger)
		return
	}

	v, err := h.coordinator.Promote(r.Context(), IdentityFromRequest(r), req.DeliverableID, req.VersionNumber)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.VersionFromModel(v))
}

// ListDeliverables handles GET /v1/deliverables?conversation_id=.
func (h *HitlHandler) ListDeliverables(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(r.URL.Query().Get("conversation_id"))

	deliverables, err := h.coordinator.Deliverables(r.Context(), IdentityFromRequest(r), conversationID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	out := make([]api.DeliverableResponse, len(deliverables))
	for i := range deliverables {
		out[i] = api.DeliverableFromModel(&deliverables[i])
	}
	WriteSuccess(w, api.DeliverableListResponse{Deliverables: out})
}

func (h *HitlHandler) taskIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	taskID := strings.TrimSpace(r.URL.Query().Get("task_id"))
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"task_id query parameter is required", h.logger)
		return "", false
	}
	return taskID, true
}
