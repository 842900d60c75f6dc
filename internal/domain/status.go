package domain

import (
	"fmt"
	"strings"
	"time"
)

// AgentStatus — текущее операционное состояние агента (1:1 с Agent).
// Мутируется исключительно через Status Registry.
type AgentStatus struct {
	AgentID       string     `json:"agent_id"`
	State         AgentState `json:"state"`
	StatusMessage string     `json:"status_message,omitempty"`
	CurrentTaskID string     `json:"current_task_id,omitempty"`

	HealthScore   float64 `json:"health_score"`   // [0,1]
	CPUUsage      float64 `json:"cpu_usage"`      // [0,100]
	MemoryUsage   float64 `json:"memory_usage"`   // [0,100]
	UptimeSeconds int64   `json:"uptime_seconds"`

	LastActivity time.Time `json:"last_activity"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StatusUpdateRequest — запрос на переход состояния с метаданными.
// Опциональные поля — указатели: отличаем "не передано" от нулевого значения.
type StatusUpdateRequest struct {
	State         AgentState `json:"state"`
	StatusMessage *string    `json:"status_message,omitempty"`
	CurrentTaskID *string    `json:"current_task_id,omitempty"`
	HealthScore   *float64   `json:"health_score,omitempty"`
	CPUUsage      *float64   `json:"cpu_usage,omitempty"`
	MemoryUsage   *float64   `json:"memory_usage,omitempty"`
	UptimeSeconds *int64     `json:"uptime_seconds,omitempty"`

	// DryRun — только проверить переход, не применяя
	DryRun bool `json:"dry_run,omitempty"`
	// Bypass — пропустить валидацию (фиксируется в аудите как bypass)
	Bypass bool `json:"bypass,omitempty"`
	// Source — кто инициировал переход: "api", "heartbeat", "sweeper"...
	Source string `json:"source,omitempty"`
}

const maxStatusMessageLen = 500

// ValidateTransition собирает ПОЛНЫЙ список нарушенных правил, а не первое попавшееся.
// Пустой список означает, что переход можно применять.
func (r *StatusUpdateRequest) ValidateTransition(current AgentState) []string {
	var violations []string

	if !IsValidState(r.State) {
		violations = append(violations, fmt.Sprintf("unknown target state %q", r.State))
		return violations
	}

	if !CanTransition(current, r.State) {
		violations = append(violations, fmt.Sprintf("transition %s -> %s is not allowed", current, r.State))
	}

	// Правила по полям для целевого состояния
	switch r.State {
	case StateError, StateMaintenance:
		if r.StatusMessage == nil || strings.TrimSpace(*r.StatusMessage) == "" {
			violations = append(violations, fmt.Sprintf("status_message is required for state %s", r.State))
		}
	}

	if r.StatusMessage != nil && len(*r.StatusMessage) > maxStatusMessageLen {
		violations = append(violations, fmt.Sprintf("status_message exceeds %d characters", maxStatusMessageLen))
	}

	if r.State == StateBusy {
		if r.CurrentTaskID == nil || strings.TrimSpace(*r.CurrentTaskID) == "" {
			violations = append(violations, "current_task_id is required for state busy")
		}
	}

	// Для "рабочих" состояний агент обязан отчитаться о здоровье и аптайме
	if r.State == StateBusy || r.State == StateCompleted {
		if r.HealthScore == nil {
			violations = append(violations, fmt.Sprintf("health_score is required for state %s", r.State))
		}
		if r.UptimeSeconds == nil {
			violations = append(violations, fmt.Sprintf("uptime_seconds is required for state %s", r.State))
		}
	}

	if r.HealthScore != nil && (*r.HealthScore < 0 || *r.HealthScore > 1) {
		violations = append(violations, "health_score must be within [0, 1]")
	}
	if r.CPUUsage != nil && (*r.CPUUsage < 0 || *r.CPUUsage > 100) {
		violations = append(violations, "cpu_usage must be within [0, 100]")
	}
	if r.MemoryUsage != nil && (*r.MemoryUsage < 0 || *r.MemoryUsage > 100) {
		violations = append(violations, "memory_usage must be within [0, 100]")
	}
	if r.UptimeSeconds != nil && *r.UptimeSeconds < 0 {
		violations = append(violations, "uptime_seconds must be non-negative")
	}

	return violations
}

// Apply накладывает метаданные запроса на снапшот статуса.
// Вызывается Registry только ПОСЛЕ успешной валидации (или при bypass).
func (r *StatusUpdateRequest) Apply(st *AgentStatus, now time.Time) {
	st.State = r.State
	if r.StatusMessage != nil {
		st.StatusMessage = *r.StatusMessage
	}
	if r.CurrentTaskID != nil {
		st.CurrentTaskID = *r.CurrentTaskID
	}
	if r.State != StateBusy && r.CurrentTaskID == nil {
		// Выход из busy без явной привязки задачи очищает ссылку
		st.CurrentTaskID = ""
	}
	if r.HealthScore != nil {
		st.HealthScore = *r.HealthScore
	}
	if r.CPUUsage != nil {
		st.CPUUsage = *r.CPUUsage
	}
	if r.MemoryUsage != nil {
		st.MemoryUsage = *r.MemoryUsage
	}
	if r.UptimeSeconds != nil {
		st.UptimeSeconds = *r.UptimeSeconds
	}
	st.LastActivity = now
	st.UpdatedAt = now
}
