package domain

import "time"

// EventKind — тип события, уходящего наблюдателям через Realtime Broadcast
type EventKind string

const (
	EventConnectionEstablished EventKind = "connection_established"
	EventStatusUpdate          EventKind = "status_update"
	EventHeartbeat             EventKind = "heartbeat"
	EventError                 EventKind = "error"
)

// BroadcastEvent сериализуется один раз и рассылается всем подписанным
// соединениям. AgentID пустой только у служебных событий (keep-alive, welcome).
type BroadcastEvent struct {
	Kind    EventKind   `json:"kind"`
	OwnerID string      `json:"-"` // Скоуп доставки, наружу не уходит
	AgentID string      `json:"agent_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	SentAt  time.Time   `json:"sent_at"`
}
