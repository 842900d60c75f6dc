package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agent-control-plane/internal/console/service"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/infra/auth"
	"github.com/xela07ax/agent-control-plane/internal/registry"
)

// AgentManager Описываем, что нам нужно от сервиса
type AgentManager interface {
	Register(ctx context.Context, ownerID string, in service.RegisterInput) (*domain.Agent, error)
	Get(ctx context.Context, ownerID, id string) (*domain.Agent, error)
	List(ctx context.Context, ownerID string) ([]*domain.Agent, error)
	Deactivate(ctx context.Context, ownerID, id string) error
	SetTrust(ctx context.Context, ownerID, id string, trust float64) error
	Statuses(ctx context.Context, ownerID string) ([]domain.AgentStatus, error)
}

// StatusUpdater — Status Registry за узким интерфейсом
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, ownerID, agentID string, req domain.StatusUpdateRequest) (*registry.UpdateResult, error)
}

type AgentHandler struct {
	service  AgentManager
	registry StatusUpdater
}

func NewAgentHandler(s AgentManager, reg StatusUpdater) *AgentHandler {
	return &AgentHandler{service: s, registry: reg}
}

func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	agent, err := h.service.Register(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.service.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AgentHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Deactivate(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type trustRequest struct {
	TrustScore float64 `json:"trust_score"`
}

func (h *AgentHandler) SetTrust(w http.ResponseWriter, r *http.Request) {
	var req trustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.service.SetTrust(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), req.TrustScore); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateStatus — переход конечного автомата статуса.
// dry_run в теле запроса проверяет переход без применения.
func (h *AgentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	result, err := h.registry.UpdateStatus(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Statuses — снапшот статусов всех агентов владельца
func (h *AgentHandler) Statuses(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Statuses(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
