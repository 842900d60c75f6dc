package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/infra/auth"
)

// NotificationFeed Описываем, что нам нужно от сервиса
type NotificationFeed interface {
	List(ctx context.Context, ownerID string, f domain.NotificationFilter) ([]domain.Notification, error)
	Get(ctx context.Context, ownerID, id string) (*domain.Notification, error)
	Resolve(ctx context.Context, ownerID, id string, notes *string) error
}

type NotificationHandler struct {
	service NotificationFeed
}

func NewNotificationHandler(s NotificationFeed) *NotificationHandler {
	return &NotificationHandler{service: s}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.NotificationFilter{
		Type: domain.NotificationType(q.Get("type")),
	}
	if v := q.Get("resolved"); v != "" {
		resolved := v == "true"
		filter.Resolved = &resolved
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Until = &t
		}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	list, err := h.service.List(r.Context(), auth.UserID(r.Context()), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type resolveRequest struct {
	Notes *string `json:"notes,omitempty"`
}

func (h *NotificationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	// Тело опционально
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.service.Resolve(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), req.Notes); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
