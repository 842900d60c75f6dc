package domain

import (
	"encoding/json"
	"time"
)

// TaskStatus — жизненный цикл задачи агента
type TaskStatus string

const (
	TaskPending         TaskStatus = "pending"
	TaskPendingApproval TaskStatus = "pending_approval" // Пре-состояние: ждем решения оператора
	TaskInProgress      TaskStatus = "in_progress"
	TaskCompleted       TaskStatus = "completed"
	TaskFailed          TaskStatus = "failed"
	TaskCancelled       TaskStatus = "cancelled"
)

// Приоритеты: 1 — самый срочный, 5 — самый низкий
const (
	PriorityHighest = 1
	PriorityUrgent  = 2
	PriorityNormal  = 3
	PriorityLow     = 4
	PriorityLowest  = 5
)

type AgentTask struct {
	ID      string `json:"id"`
	AgentID string `json:"agent_id"` // Владеет ровно один агент (переназначаемо)
	OwnerID string `json:"owner_id"`

	Title    string `json:"title"`
	Type     string `json:"type"`     // "email", "research", "general"...
	Priority int    `json:"priority"` // 1..5

	Status    TaskStatus `json:"status"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`

	EstimatedMinutes int `json:"estimated_minutes,omitempty"`
	ActualMinutes    int `json:"actual_minutes,omitempty"`

	// Произвольный payload параметров; структуру знает только исполнитель
	Parameters json.RawMessage `json:"parameters,omitempty"`

	// Ссылка на заявку HITL, если задача была перехвачена Risk Assessor
	ApprovalID *string `json:"approval_id,omitempty"`

	// Требуемые capabilities для назначения
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive — задача учитывается в нагрузке агента
func (t *AgentTask) IsActive() bool {
	return t.Status == TaskPending || t.Status == TaskInProgress
}

// IsUrgent — приоритет 1-2 считается срочным (блокирует новые назначения)
func (t *AgentTask) IsUrgent() bool {
	return t.Priority <= PriorityUrgent
}

// IsTerminal — из терминального статуса задача не возвращается
func (t *AgentTask) IsTerminal() bool {
	switch t.Status {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}
