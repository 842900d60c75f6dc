package workload

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/agent-control-plane/internal/domain"
	"go.uber.org/zap"
)

// Бонусы и штрафы при подборе агента
const (
	typeMatchBonus        = -20.0 // Тип агента совпал с типом задачи (или кто-то "general")
	expertiseBonus        = -15.0 // Тип задачи в профильных областях агента
	urgentOverloadPenalty = 10.0  // Срочную задачу не хотим класть на занятого
	urgentOverloadFloor   = 30.0  // Порог занятости для штрафа
)

// TaskProvider — что ассайнору нужно от хранилища задач
type TaskProvider interface {
	ListActiveTasksByAgent(ctx context.Context, ownerID, agentID string) ([]*domain.AgentTask, error)
}

// StatusProvider — текущие статусы для скоринга
type StatusProvider interface {
	GetStatus(ctx context.Context, ownerID, agentID string) (*domain.AgentStatus, error)
}

// AssignRequest — параметры новой единицы работы
type AssignRequest struct {
	TaskType             string
	Priority             int
	RequiredCapabilities []string
}

// Candidate — результат скоринга одного агента (для объяснимости решения)
type Candidate struct {
	AgentID  string  `json:"agent_id"`
	Score    float64 `json:"score"`
	Eligible bool    `json:"eligible"`
}

// DependencyBlock возвращается, когда у агента есть срочные незакрытые задачи.
// Это не жесткая ошибка: вызывающий получает список блокеров и рекомендацию.
type DependencyBlock struct {
	BlockingTasks  []*domain.AgentTask `json:"blocking_tasks"`
	Recommendation string              `json:"recommendation"`
}

type Assignor struct {
	tasks    TaskProvider
	statuses StatusProvider
	// suspension опционален: nil отключает проверку L1-кэша
	suspension *SuspensionManager
	logger     *zap.Logger
}

func NewAssignor(tasks TaskProvider, statuses StatusProvider, suspension *SuspensionManager, logger *zap.Logger) *Assignor {
	return &Assignor{
		tasks:      tasks,
		statuses:   statuses,
		suspension: suspension,
		logger:     logger.Named("assignor"),
	}
}

// PickAgent выбирает лучшего агента для задачи среди активных агентов владельца.
// Возвращает domain.ErrNoEligibleAgent, если ни один не проходит по capabilities —
// вызывающий откатывается на вручную указанного агента.
func (a *Assignor) PickAgent(ctx context.Context, ownerID string, agents []*domain.Agent, req AssignRequest) (*domain.Agent, []Candidate, error) {
	var best *domain.Agent
	var bestScore float64
	candidates := make([]Candidate, 0, len(agents))

	for _, agent := range agents {
		if !agent.IsActive {
			continue
		}
		// Деактивация могла прийти с другого инстанса и еще не попасть в выборку
		if a.suspension != nil && a.suspension.IsSuspended(agent.ID) {
			continue
		}

		// Пригодность: агент обязан иметь ВСЕ требуемые capabilities
		eligible := true
		for _, cap := range req.RequiredCapabilities {
			if !agent.HasCapability(cap) {
				eligible = false
				break
			}
		}
		if !eligible {
			candidates = append(candidates, Candidate{AgentID: agent.ID, Eligible: false})
			continue
		}

		score, err := a.scoreCandidate(ctx, ownerID, agent, req)
		if err != nil {
			return nil, nil, fmt.Errorf("assignor: failed to score agent %s: %w", agent.ID, err)
		}
		candidates = append(candidates, Candidate{AgentID: agent.ID, Score: score, Eligible: true})

		// Ничья решается порядком обхода: первый найденный остается
		if best == nil || score < bestScore {
			best = agent
			bestScore = score
		}
	}

	if best == nil {
		return nil, candidates, domain.ErrNoEligibleAgent
	}

	a.logger.Debug("agent picked for task",
		zap.String("agent_id", best.ID),
		zap.String("task_type", req.TaskType),
		zap.Float64("score", bestScore))

	return best, candidates, nil
}

func (a *Assignor) scoreCandidate(ctx context.Context, ownerID string, agent *domain.Agent, req AssignRequest) (float64, error) {
	active, err := a.tasks.ListActiveTasksByAgent(ctx, ownerID, agent.ID)
	if err != nil {
		return 0, err
	}
	status, err := a.statuses.GetStatus(ctx, ownerID, agent.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return 0, err
		}
		status = nil // Агент без строки статуса оценивается по одним задачам
	}

	workload := Score(active, status)
	score := workload

	// Совпадение специализации (или универсал с любой из сторон)
	if agent.Type == req.TaskType || agent.Type == "general" || req.TaskType == "general" {
		score += typeMatchBonus
	}

	// Профильная область из профиля агента
	if agent.HasExpertise(req.TaskType) {
		score += expertiseBonus
	}

	// Срочную работу не наваливаем на уже занятого агента
	if req.Priority <= domain.PriorityUrgent && workload > urgentOverloadFloor {
		score += urgentOverloadPenalty
	}

	return score, nil
}

// CheckDependencies проверяет, может ли агент взять новую задачу.
// Агент с незакрытыми задачами приоритета ≤2 блокируется: возвращаем список
// блокеров и рекомендацию, nil — путь свободен. excludeTaskID выводит из
// проверки саму размещаемую задачу, если она уже записана за агентом.
func (a *Assignor) CheckDependencies(ctx context.Context, ownerID, agentID, excludeTaskID string) (*DependencyBlock, error) {
	active, err := a.tasks.ListActiveTasksByAgent(ctx, ownerID, agentID)
	if err != nil {
		return nil, fmt.Errorf("assignor: dependency check failed: %w", err)
	}

	var blocking []*domain.AgentTask
	for _, t := range active {
		if t.IsUrgent() && t.ID != excludeTaskID {
			blocking = append(blocking, t)
		}
	}

	if len(blocking) == 0 {
		return nil, nil
	}

	return &DependencyBlock{
		BlockingTasks:  blocking,
		Recommendation: fmt.Sprintf("agent has %d urgent task(s) pending; complete or reassign them before starting new work", len(blocking)),
	}, nil
}
