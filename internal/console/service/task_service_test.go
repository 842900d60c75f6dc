package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

// fakeControlRepo — in-memory срез хранилища: задачи, агенты, статусы.
// Служит одновременно TaskRepository сервиса и Task/StatusProvider ассайнора.
type fakeControlRepo struct {
	mu       sync.Mutex
	tasks    map[string]*domain.AgentTask
	agents   map[string]*domain.Agent
	statuses map[string]*domain.AgentStatus
}

func newFakeControlRepo() *fakeControlRepo {
	return &fakeControlRepo{
		tasks:    make(map[string]*domain.AgentTask),
		agents:   make(map[string]*domain.Agent),
		statuses: make(map[string]*domain.AgentStatus),
	}
}

func (f *fakeControlRepo) addAgent(a *domain.Agent) {
	f.agents[a.ID] = a
	f.statuses[a.ID] = &domain.AgentStatus{AgentID: a.ID, State: domain.StateIdle, HealthScore: 1.0}
}

func (f *fakeControlRepo) CreateTask(_ context.Context, t *domain.AgentTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.tasks[t.ID] = &cp
	return nil
}

func (f *fakeControlRepo) GetTask(_ context.Context, ownerID, id string) (*domain.AgentTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeControlRepo) ListTasksByOwner(_ context.Context, ownerID string, status domain.TaskStatus, limit int) ([]*domain.AgentTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.AgentTask
	for _, t := range f.tasks {
		if t.OwnerID == ownerID && (status == "" || t.Status == status) && len(out) < limit {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeControlRepo) ListActiveTasksByAgent(_ context.Context, ownerID, agentID string) ([]*domain.AgentTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.AgentTask
	for _, t := range f.tasks {
		if t.OwnerID == ownerID && t.AgentID == agentID && t.IsActive() {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeControlRepo) AssignTask(_ context.Context, ownerID, taskID, agentID string, status domain.TaskStatus, scheduledStart time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	t.AgentID = agentID
	t.Status = status
	t.StartedAt = &scheduledStart
	return nil
}

func (f *fakeControlRepo) SetTaskApproval(_ context.Context, ownerID, taskID, approvalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	t.Status = domain.TaskPendingApproval
	t.ApprovalID = &approvalID
	return nil
}

func (f *fakeControlRepo) UpdateTaskStatus(_ context.Context, ownerID, taskID string, status domain.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	t.Status = status
	return nil
}

func (f *fakeControlRepo) GetAgent(_ context.Context, ownerID, id string) (*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok || a.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeControlRepo) ListActiveAgents(_ context.Context, ownerID string) ([]*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Agent
	for _, a := range f.agents {
		if a.OwnerID == ownerID && a.IsActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetStatus / SaveStatus — срез для ассайнора и Status Registry
func (f *fakeControlRepo) GetStatus(_ context.Context, _, agentID string) (*domain.AgentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[agentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (f *fakeControlRepo) SaveStatus(_ context.Context, _ string, status *domain.AgentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *status
	f.statuses[status.AgentID] = &cp
	return nil
}

// fakeApprovalStore — минимальный Store для воркфлоу (условный финализатор)
type fakeApprovalStore struct {
	mu      sync.Mutex
	entries map[string]*domain.ApprovalQueueEntry
}

func newFakeApprovalStore() *fakeApprovalStore {
	return &fakeApprovalStore{entries: make(map[string]*domain.ApprovalQueueEntry)}
}

func (f *fakeApprovalStore) CreateApproval(_ context.Context, entry *domain.ApprovalQueueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *entry
	f.entries[entry.ID] = &cp
	return nil
}

func (f *fakeApprovalStore) GetApproval(_ context.Context, ownerID, id string) (*domain.ApprovalQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok || entry.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (f *fakeApprovalStore) ListApprovals(_ context.Context, _ string, _ domain.ApprovalStatus, _ int) ([]*domain.ApprovalQueueEntry, error) {
	return nil, nil
}

func (f *fakeApprovalStore) FinalizeApproval(_ context.Context, ownerID, id string, next domain.ApprovalStatus, reviewerID, notes *string) (*domain.ApprovalQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok || entry.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	if entry.Status != domain.ApprovalPending {
		return nil, domain.ErrAlreadyProcessed
	}
	entry.Status = next
	if reviewerID != nil {
		entry.ReviewerID = reviewerID
	}
	if notes != nil {
		entry.ReviewNotes = notes
	}
	cp := *entry
	return &cp, nil
}

func (f *fakeApprovalStore) UpdateApprovalPriority(_ context.Context, _ string, _ int) error {
	return nil
}

func (f *fakeApprovalStore) ListExpiredPending(_ context.Context, _ time.Time) ([]*domain.ApprovalQueueEntry, error) {
	return nil, nil
}

func (f *fakeApprovalStore) ListPendingCreatedBefore(_ context.Context, _, _ time.Time) ([]*domain.ApprovalQueueEntry, error) {
	return nil, nil
}

func (f *fakeApprovalStore) CreateHistory(_ context.Context, _ *domain.ApprovalHistoryRecord) error {
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Create(context.Context, *domain.Notification) error { return nil }
func (nopNotifier) ResolveByRef(context.Context, string, string, string) error {
	return nil
}
func (nopNotifier) HasEscalation(context.Context, string, string, int) (bool, error) {
	return false, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.BroadcastEvent) {}

type nopAuditor struct{}

func (nopAuditor) Record(audit.Event) {}

type nopExecutor struct{}

func (nopExecutor) Call(context.Context, string, []byte) ([]byte, error) {
	return []byte(`{}`), nil
}

type taskRig struct {
	service *TaskService
	repo    *fakeControlRepo
}

func newTaskRig(t *testing.T) *taskRig {
	t.Helper()
	logger := zap.NewNop()
	metrics := engine.NewMetrics(nil)
	repo := newFakeControlRepo()

	reg := registry.New(repo, nopPublisher{}, nopNotifier{},
		registry.NewAlertEvaluator(registry.NewMemoryAlertLimiter()), nopAuditor{}, metrics, logger)
	workflow := approval.NewWorkflow(newFakeApprovalStore(), nopNotifier{}, nopPublisher{}, nopExecutor{}, nopAuditor{}, metrics, logger)
	assignor := workload.NewAssignor(repo, repo, nil, logger)

	svc := NewTaskService(repo, assignor, risk.NewAssessor(logger), workflow, reg,
		&language.MockAnalyzer{}, nopAuditor{}, logger)

	return &taskRig{service: svc, repo: repo}
}

func trustedAgent(id, ownerID string, trust float64) *domain.Agent {
	return &domain.Agent{
		ID:         id,
		OwnerID:    ownerID,
		Name:       id,
		Type:       "general",
		TrustScore: trust,
		IsActive:   true,
	}
}

func TestTaskCreate_AutoAssignTrustedAgent(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.8))

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:    "Summarize meeting notes",
		Type:     "research",
		Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)

	// trust 0.8 >= 0.7: task_execution авто-одобрен, задача сразу назначена
	assert.True(t, res.Assigned)
	assert.Nil(t, res.Approval)
	assert.Equal(t, "a1", res.Task.AgentID)
	assert.Equal(t, domain.TaskInProgress, res.Task.Status)
	require.NotNil(t, res.Schedule)
	assert.True(t, res.Schedule.Immediate)
}

func TestTaskCreate_RiskyActionIntercepted(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.9))

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:      "Purge old backups",
		Type:       "ops",
		Priority:   domain.PriorityNormal,
		ActionType: "data_deletion",
	})
	require.NoError(t, err)

	// data_deletion не авто-одобряется никогда: задача замирает до решения
	assert.False(t, res.Assigned)
	require.NotNil(t, res.Approval)
	assert.Equal(t, domain.ApprovalPending, res.Approval.Status)
	assert.Equal(t, domain.TaskPendingApproval, res.Task.Status)
	require.NotNil(t, res.Task.ApprovalID)
	assert.Equal(t, res.Approval.ID, *res.Task.ApprovalID)
	assert.Equal(t, res.Task.ID, res.Approval.TaskID)
}

func TestTaskCreate_LowTrustRequiresApproval(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.3))

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:    "Routine cleanup",
		Type:     "general",
		Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)

	assert.NotNil(t, res.Approval)
	assert.False(t, res.Assigned)
}

func TestTaskCreate_ExplicitAgentBypassesScoring(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.8))
	rig.repo.addAgent(trustedAgent("a2", "owner", 0.8))

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:    "Directed work",
		Type:     "general",
		Priority: domain.PriorityNormal,
		AgentID:  "a2",
	})
	require.NoError(t, err)

	assert.Equal(t, "a2", res.Task.AgentID)
	assert.Empty(t, res.Candidates)
}

func TestTaskCreate_NoAgents(t *testing.T) {
	rig := newTaskRig(t)

	_, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title: "Orphan work",
		Type:  "general",
	})
	assert.ErrorIs(t, err, domain.ErrNoEligibleAgent)
}

func TestTaskCreate_IntentInferredFromTitle(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.8))

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:    "URGENT: client escalation, need reply asap",
		Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)

	// Тип выведен из заголовка, негативный тон поднял приоритет на ступень
	assert.Equal(t, "escalate", res.Task.Type)
	assert.Equal(t, domain.PriorityUrgent, res.Task.Priority)
}

func TestTaskCreate_InvalidPriorityClamped(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.8))

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:    "Weird priority",
		Type:     "general",
		Priority: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityNormal, res.Task.Priority)
}

func TestTaskCreate_UrgentBlockedByDependencies(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.8))

	// У агента уже есть срочная незакрытая задача
	require.NoError(t, rig.repo.CreateTask(context.Background(), &domain.AgentTask{
		ID: "blocker", OwnerID: "owner", AgentID: "a1",
		Priority: domain.PriorityHighest, Status: domain.TaskInProgress,
	}))

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:    "Another urgent thing",
		Type:     "general",
		Priority: domain.PriorityUrgent,
		AgentID:  "a1",
	})
	require.NoError(t, err)

	assert.False(t, res.Assigned)
	require.NotNil(t, res.Blocked)
	require.Len(t, res.Blocked.BlockingTasks, 1)
	assert.Equal(t, "blocker", res.Blocked.BlockingTasks[0].ID)
}

func TestTaskCreate_ImmediateAssignmentMarksAgentBusy(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.8))

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:    "Critical fix",
		Type:     "general",
		Priority: domain.PriorityHighest,
		AgentID:  "a1",
	})
	require.NoError(t, err)
	require.True(t, res.Assigned)
	require.Equal(t, domain.TaskInProgress, res.Task.Status)

	// Задача in_progress ведет агента: busy и current_task_id на нее
	st, err := rig.repo.GetStatus(context.Background(), "owner", "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateBusy, st.State)
	assert.Equal(t, res.Task.ID, st.CurrentTaskID)
}

func TestTaskCreate_NormalTaskBlockedByUrgentBacklog(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.8))

	// Срочный бэклог блокирует любую новую задачу, не только срочную
	for _, id := range []string{"crit-1", "crit-2"} {
		require.NoError(t, rig.repo.CreateTask(context.Background(), &domain.AgentTask{
			ID: id, OwnerID: "owner", AgentID: "a1",
			Priority: domain.PriorityHighest, Status: domain.TaskPending,
		}))
	}

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:    "Routine report",
		Type:     "general",
		Priority: domain.PriorityNormal,
		AgentID:  "a1",
	})
	require.NoError(t, err)

	assert.False(t, res.Assigned)
	require.NotNil(t, res.Blocked)
	assert.Len(t, res.Blocked.BlockingTasks, 2)
}

func TestReassign_ForcesPreviousAgentIdle(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.8))
	rig.repo.addAgent(trustedAgent("a2", "owner", 0.8))

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:    "Movable work",
		Type:     "general",
		Priority: domain.PriorityNormal,
		AgentID:  "a1",
	})
	require.NoError(t, err)
	require.True(t, res.Assigned)

	// Прежний агент занят этой задачей
	rig.repo.statuses["a1"].State = domain.StateBusy

	moved, err := rig.service.Reassign(context.Background(), "owner", res.Task.ID, "a2")
	require.NoError(t, err)

	assert.True(t, moved.Assigned)
	assert.Equal(t, "a2", moved.Task.AgentID)

	st, _ := rig.repo.GetStatus(context.Background(), "owner", "a1")
	assert.Equal(t, domain.StateIdle, st.State)
}

func TestReassign_TerminalTaskRejected(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.8))

	require.NoError(t, rig.repo.CreateTask(context.Background(), &domain.AgentTask{
		ID: "done", OwnerID: "owner", AgentID: "a1",
		Priority: domain.PriorityNormal, Status: domain.TaskCompleted,
	}))

	_, err := rig.service.Reassign(context.Background(), "owner", "done", "a1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestResolveApprovalOutcome_ApprovedDispatchesTask(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.6))

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:      "Send contract to partner",
		Type:       "email",
		Priority:   domain.PriorityNormal,
		ActionType: "external_send",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Approval)

	entry := res.Approval
	entry.Status = domain.ApprovalApproved
	rig.service.ResolveApprovalOutcome(context.Background(), entry)

	task, err := rig.repo.GetTask(context.Background(), "owner", res.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskInProgress, task.Status)
	assert.Equal(t, "a1", task.AgentID)
}

func TestResolveApprovalOutcome_RejectedCancelsTask(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.6))

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:      "Send contract to partner",
		Type:       "email",
		Priority:   domain.PriorityNormal,
		ActionType: "external_send",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Approval)

	entry := res.Approval
	entry.Status = domain.ApprovalRejected
	rig.service.ResolveApprovalOutcome(context.Background(), entry)

	task, _ := rig.repo.GetTask(context.Background(), "owner", res.Task.ID)
	assert.Equal(t, domain.TaskCancelled, task.Status)
}

func TestResolveApprovalOutcome_EscalatedKeepsTaskWaiting(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.6))

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:      "Send contract to partner",
		Type:       "email",
		ActionType: "external_send",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Approval)

	entry := res.Approval
	entry.Status = domain.ApprovalEscalated
	rig.service.ResolveApprovalOutcome(context.Background(), entry)

	task, _ := rig.repo.GetTask(context.Background(), "owner", res.Task.ID)
	assert.Equal(t, domain.TaskPendingApproval, task.Status)
}

func TestResolveApprovalOutcome_TaskAlreadySettled(t *testing.T) {
	rig := newTaskRig(t)
	rig.repo.addAgent(trustedAgent("a1", "owner", 0.6))

	res, err := rig.service.Create(context.Background(), "owner", CreateTaskInput{
		Title:      "Send contract to partner",
		Type:       "email",
		ActionType: "external_send",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Approval)

	// Задачу успели отменить вручную до решения по заявке
	require.NoError(t, rig.repo.UpdateTaskStatus(context.Background(), "owner", res.Task.ID, domain.TaskCancelled))

	entry := res.Approval
	entry.Status = domain.ApprovalApproved
	rig.service.ResolveApprovalOutcome(context.Background(), entry)

	task, _ := rig.repo.GetTask(context.Background(), "owner", res.Task.ID)
	assert.Equal(t, domain.TaskCancelled, task.Status)
}
