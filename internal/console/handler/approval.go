package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/infra/auth"
)

// ApprovalDecider Описываем, что нам нужно от сервиса
type ApprovalDecider interface {
	Get(ctx context.Context, ownerID, id string) (*domain.ApprovalQueueEntry, error)
	List(ctx context.Context, ownerID string, status domain.ApprovalStatus) ([]*domain.ApprovalQueueEntry, error)
	History(ctx context.Context, ownerID, id string) ([]*domain.ApprovalHistoryRecord, error)
	Decide(ctx context.Context, ownerID, reviewerID, approvalID string, approve bool, notes string) (*domain.ApprovalQueueEntry, error)
	Escalate(ctx context.Context, ownerID, reviewerID, approvalID, newReviewerID, notes string) (*domain.ApprovalQueueEntry, error)
}

type ApprovalHandler struct {
	service ApprovalDecider
}

func NewApprovalHandler(s ApprovalDecider) *ApprovalHandler {
	return &ApprovalHandler{service: s}
}

// List — очередь решений (Decision Queue); дефолт — pending
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.ApprovalStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.ApprovalPending
	}

	list, err := h.service.List(r.Context(), auth.UserID(r.Context()), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ApprovalHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *ApprovalHandler) History(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.History(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type decideRequest struct {
	Approved bool   `json:"approved"`
	Notes    string `json:"notes,omitempty"`
}

// Decide — решение ревьюера. Повторное решение по той же заявке — 409:
// первый пишущий побеждает.
func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reviewerID := auth.UserID(r.Context())
	entry, err := h.service.Decide(r.Context(), reviewerID, reviewerID, chi.URLParam(r, "id"), req.Approved, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type escalateRequest struct {
	NewReviewerID string `json:"new_reviewer_id"`
	Notes         string `json:"notes,omitempty"`
}

// Escalate передает заявку другому ревьюеру (клон с коротким TTL)
func (h *ApprovalHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.NewReviewerID == "" {
		http.Error(w, "new_reviewer_id is required", http.StatusBadRequest)
		return
	}

	reviewerID := auth.UserID(r.Context())
	clone, err := h.service.Escalate(r.Context(), reviewerID, reviewerID, chi.URLParam(r, "id"), req.NewReviewerID, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, clone)
}
