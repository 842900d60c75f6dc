package audit

import "time"

// Категории событий аудита Control Plane
const (
	EventStatusTransition   = "status_transition"
	EventStatusBypass       = "status_bypass"        // Переход в обход валидации
	EventStatusRejected     = "status_rejected"      // Отклоненный переход (с причинами)
	EventApprovalCreated    = "approval_created"
	EventApprovalDecided    = "approval_decided"
	EventApprovalExpired    = "approval_expired"
	EventApprovalEscalated  = "approval_escalated"
	EventExecutionFailed    = "action_execution_failed"
	EventTaskAssigned       = "task_assigned"
)

type Event struct {
	ID      string `json:"id"`       // UUID события
	TraceID string `json:"trace_id"` // Сквозной ID запроса
	OwnerID string `json:"owner_id"`
	AgentID string `json:"agent_id"`

	Kind   string `json:"kind"`   // Категория (см. константы выше)
	Source string `json:"source"` // Кто инициировал: "api", "heartbeat", "sweeper"

	// Снапшот перехода: старое/новое состояние и метаданные
	OldState string                 `json:"old_state,omitempty"`
	NewState string                 `json:"new_state,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
