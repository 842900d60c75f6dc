package domain

import "time"

// Liveness — классификация свежести последнего heartbeat
type Liveness string

const (
	LivenessActive  Liveness = "active"  // < 60s
	LivenessStale   Liveness = "stale"   // 60s..300s
	LivenessOffline Liveness = "offline" // > 300s
)

// Рекомендуемая частота heartbeat и пороги классификации
const (
	HeartbeatInterval     = 60 * time.Second
	HeartbeatStaleAfter   = 60 * time.Second
	HeartbeatOfflineAfter = 300 * time.Second
	HeartbeatRetention    = 10 * time.Minute
)

// Heartbeat — сигнал живости от агента. Хранится только в памяти монитора,
// в durable store не пишется.
type Heartbeat struct {
	AgentID string `json:"agent_id"`
	OwnerID string `json:"owner_id"`

	State       AgentState        `json:"state"`
	HealthScore float64           `json:"health_score"`
	CPUUsage    float64           `json:"cpu_usage"`
	MemoryUsage float64           `json:"memory_usage"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// ClassifyLiveness определяет живость по времени с последнего сигнала
func ClassifyLiveness(elapsed time.Duration) Liveness {
	switch {
	case elapsed < HeartbeatStaleAfter:
		return LivenessActive
	case elapsed <= HeartbeatOfflineAfter:
		return LivenessStale
	default:
		return LivenessOffline
	}
}
