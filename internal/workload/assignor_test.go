package workload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"go.uber.org/zap"
)

// fakeWorkStore отдает заранее заготовленные задачи и статусы агентов
type fakeWorkStore struct {
	tasks    map[string][]*domain.AgentTask
	statuses map[string]*domain.AgentStatus
}

func (f *fakeWorkStore) ListActiveTasksByAgent(_ context.Context, _, agentID string) ([]*domain.AgentTask, error) {
	return f.tasks[agentID], nil
}

func (f *fakeWorkStore) GetStatus(_ context.Context, _, agentID string) (*domain.AgentStatus, error) {
	if st, ok := f.statuses[agentID]; ok {
		return st, nil
	}
	// Свежий агент без строки статуса: ассайнор оценивает его по задачам
	return nil, domain.ErrNotFound
}

func newTestAssignor(store *fakeWorkStore, susp *SuspensionManager) *Assignor {
	return NewAssignor(store, store, susp, zap.NewNop())
}

func activeAgent(id, typ string, caps ...string) *domain.Agent {
	return &domain.Agent{ID: id, Type: typ, Capabilities: caps, IsActive: true}
}

func TestPickAgent_CapabilityFilter(t *testing.T) {
	store := &fakeWorkStore{tasks: map[string][]*domain.AgentTask{}, statuses: map[string]*domain.AgentStatus{}}
	a := newTestAssignor(store, nil)

	agents := []*domain.Agent{
		activeAgent("a1", "email", "send_email"),
		activeAgent("a2", "email", "send_email", "search_web"),
	}

	best, candidates, err := a.PickAgent(context.Background(), "owner", agents, AssignRequest{
		TaskType:             "email",
		Priority:             domain.PriorityNormal,
		RequiredCapabilities: []string{"send_email", "search_web"},
	})
	require.NoError(t, err)

	assert.Equal(t, "a2", best.ID)
	require.Len(t, candidates, 2)
	assert.False(t, candidates[0].Eligible)
	assert.True(t, candidates[1].Eligible)
}

func TestPickAgent_NoEligibleAgent(t *testing.T) {
	store := &fakeWorkStore{tasks: map[string][]*domain.AgentTask{}, statuses: map[string]*domain.AgentStatus{}}
	a := newTestAssignor(store, nil)

	agents := []*domain.Agent{
		activeAgent("a1", "email", "send_email"),
		{ID: "a2", Type: "email", Capabilities: []string{"deploy"}, IsActive: false},
	}

	_, _, err := a.PickAgent(context.Background(), "owner", agents, AssignRequest{
		TaskType:             "email",
		RequiredCapabilities: []string{"deploy"},
	})
	assert.ErrorIs(t, err, domain.ErrNoEligibleAgent)
}

func TestPickAgent_TypeMatchBeatsIdleGeneralist(t *testing.T) {
	store := &fakeWorkStore{tasks: map[string][]*domain.AgentTask{}, statuses: map[string]*domain.AgentStatus{}}
	a := newTestAssignor(store, nil)

	// У специалиста одна задача в работе, но бонус профильной области
	// перевешивает разницу нагрузки
	store.tasks["specialist"] = []*domain.AgentTask{
		{Priority: domain.PriorityLow, Status: domain.TaskPending}, // +2 к нагрузке
	}
	specialist := activeAgent("specialist", "research")
	specialist.Expertise = []string{"research"}
	other := activeAgent("other", "email")

	best, _, err := a.PickAgent(context.Background(), "owner", []*domain.Agent{other, specialist}, AssignRequest{
		TaskType: "research",
		Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)

	// other: 0 нагрузки, без бонусов = 0
	// specialist: 2 − 20 (тип) − 15 (экспертиза) = −33
	assert.Equal(t, "specialist", best.ID)
}

func TestPickAgent_UrgentOverloadPenalty(t *testing.T) {
	store := &fakeWorkStore{tasks: map[string][]*domain.AgentTask{}, statuses: map[string]*domain.AgentStatus{}}
	a := newTestAssignor(store, nil)

	// busy набирает нагрузку 32 (>30): срочная задача получает штраф +10
	store.tasks["busy"] = []*domain.AgentTask{
		{Priority: domain.PriorityHighest, Status: domain.TaskInProgress}, // 10
		{Priority: domain.PriorityHighest, Status: domain.TaskInProgress}, // 10
		{Priority: domain.PriorityHighest, Status: domain.TaskInProgress}, // 10
		{Priority: domain.PriorityLow, Status: domain.TaskPending},        // 2
	}
	store.tasks["calm"] = []*domain.AgentTask{
		{Priority: domain.PriorityHighest, Status: domain.TaskInProgress}, // 10
		{Priority: domain.PriorityHighest, Status: domain.TaskInProgress}, // 10
		{Priority: domain.PriorityLow, Status: domain.TaskPending},        // 2
	}

	// busy профильнее (экспертиза −15), но для срочной задачи штраф
	// перегрузки меняет победителя:
	//   normal: busy 32−15=17 против calm 22 — выигрывает busy
	//   urgent: busy 32−15+10=27 против calm 22 — выигрывает calm
	busy := activeAgent("busy", "ops")
	busy.Expertise = []string{"deploy"}
	calm := activeAgent("calm", "ops")

	best, _, err := a.PickAgent(context.Background(), "owner", []*domain.Agent{busy, calm}, AssignRequest{
		TaskType: "deploy",
		Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, "busy", best.ID)

	best, _, err = a.PickAgent(context.Background(), "owner", []*domain.Agent{busy, calm}, AssignRequest{
		TaskType: "deploy",
		Priority: domain.PriorityUrgent,
	})
	require.NoError(t, err)
	assert.Equal(t, "calm", best.ID)
}

func TestPickAgent_TieGoesToFirst(t *testing.T) {
	store := &fakeWorkStore{tasks: map[string][]*domain.AgentTask{}, statuses: map[string]*domain.AgentStatus{}}
	a := newTestAssignor(store, nil)

	agents := []*domain.Agent{
		activeAgent("first", "email"),
		activeAgent("second", "email"),
	}

	best, _, err := a.PickAgent(context.Background(), "owner", agents, AssignRequest{
		TaskType: "email",
		Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, "first", best.ID)
}

func TestPickAgent_SuspendedAgentSkipped(t *testing.T) {
	store := &fakeWorkStore{tasks: map[string][]*domain.AgentTask{}, statuses: map[string]*domain.AgentStatus{}}

	susp := NewSuspensionManager(nil, zap.NewNop())
	susp.Suspend(context.Background(), "first")

	a := newTestAssignor(store, susp)

	agents := []*domain.Agent{
		activeAgent("first", "email"),
		activeAgent("second", "email"),
	}

	best, candidates, err := a.PickAgent(context.Background(), "owner", agents, AssignRequest{
		TaskType: "email",
		Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, "second", best.ID)
	assert.Len(t, candidates, 1)
}

func TestCheckDependencies_UrgentTasksBlock(t *testing.T) {
	store := &fakeWorkStore{
		tasks: map[string][]*domain.AgentTask{
			"a1": {
				{ID: "t1", Priority: domain.PriorityUrgent, Status: domain.TaskInProgress},
				{ID: "t2", Priority: domain.PriorityNormal, Status: domain.TaskPending},
			},
		},
		statuses: map[string]*domain.AgentStatus{},
	}
	a := newTestAssignor(store, nil)

	block, err := a.CheckDependencies(context.Background(), "owner", "a1", "")
	require.NoError(t, err)
	require.NotNil(t, block)

	require.Len(t, block.BlockingTasks, 1)
	assert.Equal(t, "t1", block.BlockingTasks[0].ID)
	assert.Contains(t, block.Recommendation, "1 urgent task")

	// Сама размещаемая задача блокером не считается
	block, err = a.CheckDependencies(context.Background(), "owner", "a1", "t1")
	require.NoError(t, err)
	assert.Nil(t, block)
}

func TestCheckDependencies_ClearPath(t *testing.T) {
	store := &fakeWorkStore{
		tasks: map[string][]*domain.AgentTask{
			"a1": {{ID: "t1", Priority: domain.PriorityNormal, Status: domain.TaskPending}},
		},
		statuses: map[string]*domain.AgentStatus{},
	}
	a := newTestAssignor(store, nil)

	block, err := a.CheckDependencies(context.Background(), "owner", "a1", "")
	require.NoError(t, err)
	assert.Nil(t, block)
}
