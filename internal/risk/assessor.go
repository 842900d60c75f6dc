package risk

import (
	"encoding/json"
	"time"

	"github.com/xela07ax/agent-control-plane/internal/domain"
	"go.uber.org/zap"
)

// Template — базовые параметры риска для типа действия.
// AutoApproveTrust == nil означает: auto-approve для этого действия невозможен
// в принципе, подтверждение обязательно при любом trust score.
type Template struct {
	BaseTier         domain.RiskTier
	BasePriority     int
	TTL              time.Duration
	AutoApproveTrust *float64
}

// Assessment — итог оценки конкретного действия
type Assessment struct {
	ActionType       string          `json:"action_type"`
	Tier             domain.RiskTier `json:"tier"`
	Priority         int             `json:"priority"`
	TTL              time.Duration   `json:"ttl"`
	RequiresApproval bool            `json:"requires_approval"`
	Reasons          []string        `json:"reasons,omitempty"`
}

func trustPtr(v float64) *float64 { return &v }

// defaultTemplates — карта известных типов действий.
// data_deletion сознательно без auto-approve: критичные действия проходят
// через оператора всегда, независимо от trust score агента.
var defaultTemplates = map[string]Template{
	"task_execution": {
		BaseTier:         domain.RiskLow,
		BasePriority:     domain.PriorityLow,
		TTL:              24 * time.Hour,
		AutoApproveTrust: trustPtr(0.7),
	},
	"external_send": {
		BaseTier:         domain.RiskMedium,
		BasePriority:     domain.PriorityNormal,
		TTL:              8 * time.Hour,
		AutoApproveTrust: trustPtr(0.9),
	},
	"config_change": {
		BaseTier:     domain.RiskMedium,
		BasePriority: domain.PriorityNormal,
		TTL:          12 * time.Hour,
	},
	"data_deletion": {
		BaseTier:     domain.RiskHigh,
		BasePriority: domain.PriorityUrgent,
		TTL:          4 * time.Hour,
	},
	"deployment": {
		BaseTier:     domain.RiskHigh,
		BasePriority: domain.PriorityUrgent,
		TTL:          6 * time.Hour,
	},
}

// unknownTemplate — дефолт для неизвестных типов: средний риск, обязательный апрув
var unknownTemplate = Template{
	BaseTier:     domain.RiskMedium,
	BasePriority: domain.PriorityNormal,
	TTL:          8 * time.Hour,
}

type Assessor struct {
	templates map[string]Template
	logger    *zap.Logger
}

func NewAssessor(logger *zap.Logger) *Assessor {
	return &Assessor{
		templates: defaultTemplates,
		logger:    logger.Named("risk-assessor"),
	}
}

// Assess классифицирует действие агента: уровень поднимается по признакам
// payload-а, auto-approve возможен только там, где шаблон задал порог доверия.
func (a *Assessor) Assess(actionType string, payload json.RawMessage, agentTrust float64) Assessment {
	tpl, known := a.templates[actionType]
	if !known {
		tpl = unknownTemplate
		a.logger.Warn("unknown action type, defaulting to medium risk",
			zap.String("action_type", actionType))
	}

	out := Assessment{
		ActionType:       actionType,
		Tier:             tpl.BaseTier,
		Priority:         tpl.BasePriority,
		TTL:              tpl.TTL,
		RequiresApproval: true,
	}

	p := DecodePayload(payload)

	// 1. Массовые операции — на ступень выше
	if p.IsBulk() {
		out.Tier = out.Tier.Raise()
		out.Reasons = append(out.Reasons, "bulk operation")
	}

	// 2. Приватные/финансовые данные — еще ступень выше и рост срочности
	if p.IsSensitive() {
		out.Tier = out.Tier.Raise()
		if out.Priority > domain.PriorityHighest {
			out.Priority--
		}
		if p.PrivacyImpact {
			out.Reasons = append(out.Reasons, "privacy-sensitive data")
		}
		if p.FinancialImpact {
			out.Reasons = append(out.Reasons, "financial data")
		}
	}

	// 3. Auto-approve возможен только если шаблон его определяет
	// и trust агента дотягивает до порога. Неизвестные типы — никогда.
	if known && tpl.AutoApproveTrust != nil && agentTrust >= *tpl.AutoApproveTrust {
		out.RequiresApproval = false
		out.Reasons = append(out.Reasons, "auto-approved by trust threshold")

		a.logger.Info("action auto-approved",
			zap.String("action_type", actionType),
			zap.Float64("agent_trust", agentTrust),
			zap.Float64("threshold", *tpl.AutoApproveTrust))
	}

	return out
}
