package domain

import (
	"encoding/json"
	"time"
)

// Статусы State Machine заявки на подтверждение.
// pending — единственное нетерминальное состояние.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalExpired   ApprovalStatus = "expired"
	ApprovalEscalated ApprovalStatus = "escalated"
)

// IsTerminal: терминальный статус присваивается ровно один раз (first writer wins)
func (s ApprovalStatus) IsTerminal() bool {
	return s != ApprovalPending && s != ""
}

// RiskTier — грубая классификация потенциального вреда действия
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// Raise поднимает уровень риска на одну ступень (critical — потолок)
func (t RiskTier) Raise() RiskTier {
	switch t {
	case RiskLow:
		return RiskMedium
	case RiskMedium:
		return RiskHigh
	default:
		return RiskCritical
	}
}

type ApprovalQueueEntry struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	AgentID string `json:"agent_id"`
	TaskID  string `json:"task_id,omitempty"` // Задача, которую перехватил Risk Assessor

	ActionType string          `json:"action_type"`
	ActionData json.RawMessage `json:"action_data"` // Сериализованный payload действия

	RiskTier RiskTier       `json:"risk_tier"`
	Priority int            `json:"priority"` // 1..5, понижается (срочность растет) при эскалации
	Status   ApprovalStatus `json:"status"`

	ReviewerID  *string `json:"reviewer_id,omitempty"`
	ReviewNotes *string `json:"review_notes,omitempty"`

	// EscalatedFrom заполняется у клона, созданного ручной эскалацией
	EscalatedFrom *string `json:"escalated_from,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo проверяет правила конечного автомата заявки
func (a *ApprovalQueueEntry) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != ApprovalPending {
		return ErrAlreadyProcessed
	}
	if !next.IsTerminal() {
		return ErrInvalidTransition
	}
	return nil
}

// IsExpired — заявка пережила свой TTL (но еще не подметена sweeper-ом)
func (a *ApprovalQueueEntry) IsExpired(now time.Time) bool {
	return a.Status == ApprovalPending && now.After(a.ExpiresAt)
}

// ApprovalHistoryRecord — append-only запись аудита по заявке.
// Пишется ровно один раз при достижении терминального статуса и никогда не мутируется.
type ApprovalHistoryRecord struct {
	ID         string `json:"id"`
	ApprovalID string `json:"approval_id"`
	OwnerID    string `json:"owner_id"`

	ActionTaken string  `json:"action_taken"` // approved|rejected|expired|escalated|action_execution_failed
	ReviewerID  *string `json:"reviewer_id,omitempty"`
	Notes       string  `json:"notes,omitempty"`

	// Сколько заявка ждала решения (decision time − creation time)
	ProcessingLatencyMs int64 `json:"processing_latency_ms"`

	CreatedAt time.Time `json:"created_at"`
}
