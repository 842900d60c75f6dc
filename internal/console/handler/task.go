package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agent-control-plane/internal/console/service"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/infra/auth"
)

// TaskPipeline Описываем, что нам нужно от сервиса
type TaskPipeline interface {
	Create(ctx context.Context, ownerID string, in service.CreateTaskInput) (*service.TaskResult, error)
	Reassign(ctx context.Context, ownerID, taskID, targetAgentID string) (*service.TaskResult, error)
	Get(ctx context.Context, ownerID, id string) (*domain.AgentTask, error)
	List(ctx context.Context, ownerID string, status domain.TaskStatus, limit int) ([]*domain.AgentTask, error)
}

type TaskHandler struct {
	service TaskPipeline
}

func NewTaskHandler(s TaskPipeline) *TaskHandler {
	return &TaskHandler{service: s}
}

// Create проводит задачу через конвейер: подбор агента, оценка риска,
// перехват HITL либо назначение с планированием запуска.
// 202 означает, что задача ждет решения оператора или заблокирована
// срочными зависимостями.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTaskInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.Create(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}

	code := http.StatusCreated
	if !result.Assigned {
		code = http.StatusAccepted
	}
	writeJSON(w, code, result)
}

type reassignRequest struct {
	AgentID string `json:"agent_id,omitempty"` // Пустой — автоподбор
}

func (h *TaskHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Reassign(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), req.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.service.List(r.Context(), auth.UserID(r.Context()), status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
