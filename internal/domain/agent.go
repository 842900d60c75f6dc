package domain

import "time"

// AgentState — операционное состояние агента в Control Plane
type AgentState string

const (
	StateIdle        AgentState = "idle"        // Свободен, ждет задач
	StateBusy        AgentState = "busy"        // Выполняет задачу
	StateCompleted   AgentState = "completed"   // Завершил задачу, еще не взял новую
	StateError       AgentState = "error"       // Сбой, требует внимания оператора
	StateOffline     AgentState = "offline"     // Нет связи (heartbeat пропал)
	StateMaintenance AgentState = "maintenance" // Выведен на обслуживание
)

// allowedTransitions — таблица конечного автомата статусов.
// Любой переход, которого нет в таблице, отклоняется Status Registry.
var allowedTransitions = map[AgentState][]AgentState{
	StateIdle:        {StateBusy, StateOffline, StateError, StateMaintenance},
	StateBusy:        {StateIdle, StateCompleted, StateError, StateOffline, StateMaintenance},
	StateCompleted:   {StateIdle, StateBusy, StateOffline, StateMaintenance},
	StateError:       {StateIdle, StateOffline, StateMaintenance},
	StateOffline:     {StateIdle, StateBusy, StateMaintenance},
	StateMaintenance: {StateIdle, StateBusy, StateOffline},
}

// CanTransition проверяет правило конечного автомата (без метаданных)
func CanTransition(from, to AgentState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidStates возвращает все известные состояния (для валидации входа)
func ValidStates() []AgentState {
	return []AgentState{StateIdle, StateBusy, StateCompleted, StateError, StateOffline, StateMaintenance}
}

// IsValidState отсекает мусорные значения из внешних запросов
func IsValidState(s AgentState) bool {
	_, ok := allowedTransitions[s]
	return ok
}

type Agent struct {
	ID      string `json:"id"`       // UUID
	OwnerID string `json:"owner_id"` // Владелец (все запросы скоупятся по нему)
	Name    string `json:"name"`     // Человекочитаемое имя (например, "Inbox-Triage-Bot")

	Type         string   `json:"type"`          // Специализация: "email", "research", "general"...
	Capabilities []string `json:"capabilities"`  // Декларированные возможности
	Expertise    []string `json:"expertise"`     // Профильные области (бонус при назначении задач)
	ModelProfile string   `json:"model_profile"` // Ссылка на профиль/модель

	// TrustScore используется Risk Assessor для auto-approve правил
	TrustScore float64 `json:"trust_score"`

	IsActive  bool      `json:"is_active"` // Деактивация вместо удаления
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCapability — проверка пригодности агента для задачи
func (a *Agent) HasCapability(cap string) bool {
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// HasExpertise проверяет, входит ли тип задачи в профильные области агента
func (a *Agent) HasExpertise(area string) bool {
	for _, e := range a.Expertise {
		if e == area {
			return true
		}
	}
	return false
}
