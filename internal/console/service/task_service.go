package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agent-control-plane/internal/approval"
	"github.com/xela07ax/agent-control-plane/internal/audit"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/engine"
	"github.com/xela07ax/agent-control-plane/internal/language"
	"github.com/xela07ax/agent-control-plane/internal/registry"
	"github.com/xela07ax/agent-control-plane/internal/risk"
	"github.com/xela07ax/agent-control-plane/internal/workload"
	"go.uber.org/zap"
)

// TaskRepository описывает требования к хранилищу задач и агентов
type TaskRepository interface {
	CreateTask(ctx context.Context, t *domain.AgentTask) error
	GetTask(ctx context.Context, ownerID, id string) (*domain.AgentTask, error)
	ListTasksByOwner(ctx context.Context, ownerID string, status domain.TaskStatus, limit int) ([]*domain.AgentTask, error)
	ListActiveTasksByAgent(ctx context.Context, ownerID, agentID string) ([]*domain.AgentTask, error)
	AssignTask(ctx context.Context, ownerID, taskID, agentID string, status domain.TaskStatus, scheduledStart time.Time) error
	SetTaskApproval(ctx context.Context, ownerID, taskID, approvalID string) error
	UpdateTaskStatus(ctx context.Context, ownerID, taskID string, status domain.TaskStatus) error

	GetAgent(ctx context.Context, ownerID, id string) (*domain.Agent, error)
	ListActiveAgents(ctx context.Context, ownerID string) ([]*domain.Agent, error)
}

// CreateTaskInput — параметры новой задачи от API
type CreateTaskInput struct {
	Title                string          `json:"title"`
	Type                 string          `json:"type"`
	Priority             int             `json:"priority"`
	Deadline             *time.Time      `json:"deadline,omitempty"`
	EstimatedMinutes     int             `json:"estimated_minutes,omitempty"`
	Parameters           json.RawMessage `json:"parameters,omitempty"`
	RequiredCapabilities []string        `json:"required_capabilities,omitempty"`

	// ActionType для оценки риска; пустой трактуется как task_execution
	ActionType string `json:"action_type,omitempty"`
	// AgentID позволяет миновать автоподбор (явное назначение)
	AgentID string `json:"agent_id,omitempty"`
}

// TaskResult — исход конвейера создания/назначения задачи.
// Ровно один из путей: Assigned, Approval (перехват HITL) или Blocked.
type TaskResult struct {
	Task       *domain.AgentTask          `json:"task"`
	Assigned   bool                       `json:"assigned"`
	Schedule   *workload.ScheduleHint     `json:"schedule,omitempty"`
	Candidates []workload.Candidate       `json:"candidates,omitempty"`
	Approval   *domain.ApprovalQueueEntry `json:"approval,omitempty"`
	Blocked    *workload.DependencyBlock  `json:"blocked,omitempty"`
}

// TaskService — конвейер задачи: подбор агента, оценка риска,
// перехват HITL, планирование запуска
type TaskService struct {
	repo     TaskRepository
	assignor *workload.Assignor
	assessor *risk.Assessor
	workflow *approval.Workflow
	registry *registry.Registry
	analyzer language.Analyzer
	auditor  audit.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewTaskService(repo TaskRepository, assignor *workload.Assignor, assessor *risk.Assessor, workflow *approval.Workflow, reg *registry.Registry, analyzer language.Analyzer, auditor audit.Recorder, logger *zap.Logger) *TaskService {
	return &TaskService{
		repo:     repo,
		assignor: assignor,
		assessor: assessor,
		workflow: workflow,
		registry: reg,
		analyzer: analyzer,
		auditor:  auditor,
		logger:   logger.Named("task-service"),
		now:      time.Now,
	}
}

// Create проводит задачу через полный конвейер:
//  1. подбор наименее загруженного пригодного агента (или явный выбор);
//  2. оценка риска действия с учетом trust score агента;
//  3. рискованное действие перехватывается в очередь HITL, задача замирает
//     в pending_approval до решения оператора;
//  4. безопасное — проверка срочных блокеров и планирование запуска.
func (s *TaskService) Create(ctx context.Context, ownerID string, in CreateTaskInput) (*TaskResult, error) {
	if in.Priority < domain.PriorityHighest || in.Priority > domain.PriorityLowest {
		in.Priority = domain.PriorityNormal
	}
	actionType := in.ActionType
	if actionType == "" {
		actionType = "task_execution"
	}

	// Тип задачи не указан — выводим намерение из заголовка.
	// Сбой анализа деградирует, не блокируя создание.
	if in.Type == "" && s.analyzer != nil {
		if analysis, err := s.analyzer.AnalyzeText(ctx, in.Title, nil); err == nil && !analysis.Degraded {
			in.Type = analysis.Intent
			if analysis.SentimentCategory == "negative" && in.Priority > domain.PriorityHighest {
				in.Priority-- // Недовольный тон повышает срочность
			}
		}
	}
	if in.Type == "" {
		in.Type = "general"
	}

	now := s.now()
	task := &domain.AgentTask{
		ID:                   uuid.New().String(),
		OwnerID:              ownerID,
		Title:                in.Title,
		Type:                 in.Type,
		Priority:             in.Priority,
		Status:               domain.TaskPending,
		Deadline:             in.Deadline,
		EstimatedMinutes:     in.EstimatedMinutes,
		Parameters:           in.Parameters,
		RequiredCapabilities: in.RequiredCapabilities,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	agent, candidates, err := s.pickAgent(ctx, ownerID, in)
	if err != nil {
		return nil, err
	}
	task.AgentID = agent.ID

	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	result := &TaskResult{Task: task, Candidates: candidates}

	// Оценка риска: auto-approve зависит от шаблона действия и trust агента
	assessment := s.assessor.Assess(actionType, in.Parameters, agent.TrustScore)
	if assessment.RequiresApproval {
		entry, err := s.workflow.Create(ctx, ownerID, approval.CreateInput{
			AgentID:    agent.ID,
			TaskID:     task.ID,
			ActionType: actionType,
			ActionData: in.Parameters,
			RiskTier:   assessment.Tier,
			Priority:   assessment.Priority,
			TTL:        assessment.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("create approval: %w", err)
		}
		if err := s.repo.SetTaskApproval(ctx, ownerID, task.ID, entry.ID); err != nil {
			return nil, fmt.Errorf("link task to approval: %w", err)
		}
		task.Status = domain.TaskPendingApproval
		task.ApprovalID = &entry.ID
		result.Approval = entry

		s.logger.Info("task intercepted for approval",
			zap.String("task_id", task.ID),
			zap.String("approval_id", entry.ID),
			zap.String("risk_tier", string(assessment.Tier)))
		return result, nil
	}

	return s.assignAndSchedule(ctx, ownerID, task, agent.ID, result)
}

// pickAgent — явный выбор или автоподбор по workload score
func (s *TaskService) pickAgent(ctx context.Context, ownerID string, in CreateTaskInput) (*domain.Agent, []workload.Candidate, error) {
	if in.AgentID != "" {
		agent, err := s.repo.GetAgent(ctx, ownerID, in.AgentID)
		if err != nil {
			return nil, nil, err
		}
		return agent, nil, nil
	}

	agents, err := s.repo.ListActiveAgents(ctx, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("list agents: %w", err)
	}
	return s.assignor.PickAgent(ctx, ownerID, agents, workload.AssignRequest{
		TaskType:             in.Type,
		Priority:             in.Priority,
		RequiredCapabilities: in.RequiredCapabilities,
	})
}

// assignAndSchedule закрепляет задачу за агентом с учетом срочных блокеров
// и вычисленного момента запуска
func (s *TaskService) assignAndSchedule(ctx context.Context, ownerID string, task *domain.AgentTask, agentID string, result *TaskResult) (*TaskResult, error) {
	// Агент с незакрытыми срочными блокерами не принимает новых задач:
	// сначала доводятся priority<=2, потом все остальное
	block, err := s.assignor.CheckDependencies(ctx, ownerID, agentID, task.ID)
	if err != nil {
		return nil, fmt.Errorf("check dependencies: %w", err)
	}
	if block != nil {
		result.Blocked = block
		return result, nil
	}

	active, err := s.repo.ListActiveTasksByAgent(ctx, ownerID, agentID)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	hasUrgentQueued := false
	for _, t := range active {
		if t.IsUrgent() && t.ID != task.ID {
			hasUrgentQueued = true
			break
		}
	}

	hint := workload.Schedule(task, hasUrgentQueued, s.now())
	status := domain.TaskPending
	if hint.Immediate {
		status = domain.TaskInProgress
	}

	if err := s.repo.AssignTask(ctx, ownerID, task.ID, agentID, status, hint.StartAt); err != nil {
		return nil, fmt.Errorf("assign task: %w", err)
	}
	task.AgentID = agentID
	task.Status = status
	task.StartedAt = &hint.StartAt

	// Статус агента ведется симметрично задаче: in_progress у задачи —
	// busy с current_task_id у исполнителя
	if hint.Immediate {
		if err := s.registry.MarkBusy(ctx, ownerID, agentID, task.ID); err != nil {
			s.logger.Warn("failed to mark agent busy",
				zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	s.auditor.Record(audit.Event{
		TraceID: engine.ExtractTraceID(ctx),
		OwnerID: ownerID,
		AgentID: agentID,
		Kind:    audit.EventTaskAssigned,
		Source:  "api",
		Details: map[string]interface{}{
			"task_id":   task.ID,
			"priority":  task.Priority,
			"start_at":  hint.StartAt,
			"immediate": hint.Immediate,
			"reason":    hint.Reason,
		},
		Timestamp: s.now(),
	})

	s.logger.Info("task assigned",
		zap.String("task_id", task.ID),
		zap.String("agent_id", agentID),
		zap.Bool("immediate", hint.Immediate))

	result.Assigned = true
	result.Schedule = &hint
	return result, nil
}

// Reassign переводит задачу на другого агента (или на лучшего по score).
// Прежний агент, если он был занят этой задачей, принудительно
// возвращается в idle.
func (s *TaskService) Reassign(ctx context.Context, ownerID, taskID, targetAgentID string) (*TaskResult, error) {
	task, err := s.repo.GetTask(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsTerminal() {
		return nil, domain.ErrInvalidTransition
	}
	previousAgent := task.AgentID

	agent, candidates, err := s.pickAgent(ctx, ownerID, CreateTaskInput{
		AgentID:              targetAgentID,
		Type:                 task.Type,
		Priority:             task.Priority,
		RequiredCapabilities: task.RequiredCapabilities,
	})
	if err != nil {
		return nil, err
	}

	result := &TaskResult{Task: task, Candidates: candidates}
	result, err = s.assignAndSchedule(ctx, ownerID, task, agent.ID, result)
	if err != nil || !result.Assigned {
		return result, err
	}

	// Прежний исполнитель освобождается от снятой задачи
	if previousAgent != "" && previousAgent != agent.ID {
		if err := s.registry.ForceIdle(ctx, ownerID, previousAgent, "reassignment"); err != nil {
			s.logger.Warn("failed to force idle previous agent",
				zap.String("agent_id", previousAgent), zap.Error(err))
		}
	}
	return result, nil
}

// ResolveApprovalOutcome доводит задачу до консистентного статуса после
// решения по связанной заявке: одобрение запускает конвейер назначения,
// отказ и протухание отменяют задачу.
func (s *TaskService) ResolveApprovalOutcome(ctx context.Context, entry *domain.ApprovalQueueEntry) {
	if entry.TaskID == "" {
		return
	}

	task, err := s.repo.GetTask(ctx, entry.OwnerID, entry.TaskID)
	if err != nil {
		s.logger.Warn("approval references missing task",
			zap.String("task_id", entry.TaskID), zap.Error(err))
		return
	}
	if task.Status != domain.TaskPendingApproval {
		return // Уже доведена другим путем
	}

	switch entry.Status {
	case domain.ApprovalApproved:
		result := &TaskResult{Task: task}
		if _, err := s.assignAndSchedule(ctx, entry.OwnerID, task, entry.AgentID, result); err != nil {
			s.logger.Error("failed to dispatch approved task",
				zap.String("task_id", task.ID), zap.Error(err))
		}
	case domain.ApprovalRejected, domain.ApprovalExpired:
		if err := s.repo.UpdateTaskStatus(ctx, entry.OwnerID, task.ID, domain.TaskCancelled); err != nil {
			s.logger.Error("failed to cancel task",
				zap.String("task_id", task.ID), zap.Error(err))
		}
	}
	// escalated оставляет задачу в pending_approval: решение еще впереди
}

// Get — задача владельца
func (s *TaskService) Get(ctx context.Context, ownerID, id string) (*domain.AgentTask, error) {
	return s.repo.GetTask(ctx, ownerID, id)
}

// List — задачи владельца с фильтром по статусу
func (s *TaskService) List(ctx context.Context, ownerID string, status domain.TaskStatus, limit int) ([]*domain.AgentTask, error) {
	return s.repo.ListTasksByOwner(ctx, ownerID, status, limit)
}
