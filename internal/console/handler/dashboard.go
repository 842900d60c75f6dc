package handler

import (
	"context"
	"net/http"

	"github.com/xela07ax/agent-control-plane/internal/console/service"
	"github.com/xela07ax/agent-control-plane/internal/infra/auth"
)

// DashboardProvider Описываем, что нам нужно от сервиса
type DashboardProvider interface {
	Stats(ctx context.Context, ownerID string) (*service.DashboardStats, error)
}

type DashboardHandler struct {
	service DashboardProvider
}

func NewDashboardHandler(s DashboardProvider) *DashboardHandler {
	return &DashboardHandler{service: s}
}

func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
