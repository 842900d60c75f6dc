package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/heartbeat"
	"github.com/xela07ax/agent-control-plane/internal/infra/auth"
)

type HeartbeatHandler struct {
	monitor *heartbeat.Monitor
}

func NewHeartbeatHandler(m *heartbeat.Monitor) *HeartbeatHandler {
	return &HeartbeatHandler{monitor: m}
}

// Record принимает heartbeat агента и возвращает ack с ожидаемым
// временем следующего сигнала
func (h *HeartbeatHandler) Record(w http.ResponseWriter, r *http.Request) {
	var hb domain.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	hb.AgentID = chi.URLParam(r, "id")
	hb.OwnerID = auth.UserID(r.Context())

	ack, err := h.monitor.Record(r.Context(), hb)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// Liveness — классификация одного агента по давности heartbeat-ов
func (h *HeartbeatHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Liveness(chi.URLParam(r, "id")))
}

// Snapshot — liveness всех агентов владельца, шлющих heartbeat-ы
func (h *HeartbeatHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Snapshot(auth.UserID(r.Context())))
}
