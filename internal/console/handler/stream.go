package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xela07ax/agent-control-plane/internal/broadcast"
	"github.com/xela07ax/agent-control-plane/internal/infra/auth"
	"go.uber.org/zap"
)

type StreamHandler struct {
	hub    *broadcast.Hub
	poller *broadcast.Poller
	logger *zap.Logger
}

func NewStreamHandler(hub *broadcast.Hub, poller *broadcast.Poller, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		hub:    hub,
		poller: poller,
		logger: logger.Named("stream-api"),
	}
}

// Stream — SSE-поток событий наблюдателя. ?agents=id1,id2 ограничивает
// подписку конкретными агентами, без параметра — все агенты владельца.
// Соединение живет до закрытия клиентом, отмены контекста или выселения
// хабом (переполнение буфера, простой).
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var agentIDs []string
	if raw := r.URL.Query().Get("agents"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				agentIDs = append(agentIDs, id)
			}
		}
	}

	userID := auth.UserID(r.Context())
	conn := h.hub.Subscribe(userID, agentIDs)
	defer h.hub.Unsubscribe(conn.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, open := <-conn.Events():
			if !open {
				return // Хаб выселил соединение
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				h.logger.Debug("observer write failed",
					zap.String("conn_id", conn.ID), zap.Error(err))
				return
			}
			flusher.Flush()
			h.hub.Touch(conn.ID)
		}
	}
}

// Poll — дельта для наблюдателей без streaming-соединения:
// ?since=RFC3339 отдает статусы, изменившиеся после отметки
func (h *StreamHandler) Poll(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	result, err := h.poller.Delta(r.Context(), auth.UserID(r.Context()), since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
