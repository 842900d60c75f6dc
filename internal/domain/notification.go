package domain

import "time"

// NotificationType классифицирует источник уведомления
type NotificationType string

const (
	NotifyApprovalRequired  NotificationType = "approval_required"
	NotifyApprovalEscalated NotificationType = "approval_escalated"
	NotifyApprovalResolved  NotificationType = "approval_resolved"
	NotifyAgentError        NotificationType = "agent_error"
	NotifyAgentOffline      NotificationType = "agent_offline"
	NotifyHighCPU           NotificationType = "high_cpu"
	NotifyLowHealth         NotificationType = "low_health"
)

type Notification struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	AgentID string `json:"agent_id,omitempty"`

	Type    NotificationType `json:"type"`
	Title   string           `json:"title"`
	Message string           `json:"message"`

	// RefID связывает уведомление с заявкой/задачей (для идемпотентности эскалаций
	// и закрытия при решении)
	RefID string `json:"ref_id,omitempty"`
	// EscalationLevel > 0 только у уведомлений эскалационного sweeper-а
	EscalationLevel int `json:"escalation_level,omitempty"`

	Resolved        bool    `json:"resolved"`
	ResolutionNotes *string `json:"resolution_notes,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// NotificationFilter — параметры выборки для Notification surface
type NotificationFilter struct {
	Resolved *bool
	Type     NotificationType
	Since    *time.Time
	Until    *time.Time
	Limit    int
}
