package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/registry"
	"go.uber.org/zap"
)

type fakeUpdater struct {
	mu       sync.Mutex
	requests []domain.StatusUpdateRequest
	err      error
}

func (f *fakeUpdater) UpdateStatus(_ context.Context, _, _ string, req domain.StatusUpdateRequest) (*registry.UpdateResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &registry.UpdateResult{Applied: true}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.BroadcastEvent
}

func (f *fakePublisher) Publish(event domain.BroadcastEvent) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

var baseTime = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func newTestMonitor() (*Monitor, *fakeUpdater, *fakePublisher, *time.Time) {
	updater := &fakeUpdater{}
	publisher := &fakePublisher{}
	m := NewMonitor(updater, publisher, zap.NewNop())

	clock := baseTime
	m.now = func() time.Time { return clock }
	return m, updater, publisher, &clock
}

func sampleHeartbeat(agentID string, state domain.AgentState) domain.Heartbeat {
	return domain.Heartbeat{
		AgentID:     agentID,
		OwnerID:     "owner",
		State:       state,
		HealthScore: 0.95,
		CPUUsage:    20,
		MemoryUsage: 40,
	}
}

func TestRecord_AckAndFastPath(t *testing.T) {
	m, updater, _, _ := newTestMonitor()

	ack, err := m.Record(context.Background(), sampleHeartbeat("a1", domain.StateBusy))
	require.NoError(t, err)

	assert.True(t, ack.Received)
	assert.Equal(t, baseTime.Add(60*time.Second), ack.ExpectedNextAt)
	assert.Equal(t, 60, ack.IntervalSeconds)

	// Статус обновляется быстрым путем, минуя конечный автомат
	require.Len(t, updater.requests, 1)
	req := updater.requests[0]
	assert.True(t, req.Bypass)
	assert.Equal(t, "heartbeat", req.Source)
	assert.Equal(t, domain.StateBusy, req.State)
	require.NotNil(t, req.HealthScore)
	assert.InDelta(t, 0.95, *req.HealthScore, 0.001)
}

func TestRecord_StatusUpdateFailureIsNotFatal(t *testing.T) {
	m, updater, _, _ := newTestMonitor()
	updater.err = errors.New("store down")

	ack, err := m.Record(context.Background(), sampleHeartbeat("a1", domain.StateIdle))
	require.NoError(t, err)
	assert.True(t, ack.Received)

	// Сэмпл при этом сохранен: живость считается по памяти монитора
	rep := m.Liveness("a1")
	assert.Equal(t, domain.LivenessActive, rep.Liveness)
}

func TestRecord_AbnormalStateRebroadcast(t *testing.T) {
	m, _, publisher, _ := newTestMonitor()

	for _, state := range []domain.AgentState{domain.StateError, domain.StateOffline, domain.StateMaintenance} {
		_, err := m.Record(context.Background(), sampleHeartbeat("a1", state))
		require.NoError(t, err)
	}
	// Нормальные состояния в эфир не дублируются
	_, err := m.Record(context.Background(), sampleHeartbeat("a1", domain.StateIdle))
	require.NoError(t, err)

	require.Len(t, publisher.events, 3)
	for _, e := range publisher.events {
		assert.Equal(t, domain.EventHeartbeat, e.Kind)
		assert.Equal(t, "owner", e.OwnerID)
	}
}

func TestLiveness_Classification(t *testing.T) {
	m, _, _, clock := newTestMonitor()

	_, err := m.Record(context.Background(), sampleHeartbeat("a1", domain.StateIdle))
	require.NoError(t, err)

	tests := []struct {
		elapsed time.Duration
		want    domain.Liveness
	}{
		{0, domain.LivenessActive},
		{59 * time.Second, domain.LivenessActive},
		{60 * time.Second, domain.LivenessStale},
		{300 * time.Second, domain.LivenessStale},
		{301 * time.Second, domain.LivenessOffline},
	}

	for _, tc := range tests {
		*clock = baseTime.Add(tc.elapsed)
		rep := m.Liveness("a1")
		assert.Equal(t, tc.want, rep.Liveness, "elapsed %s", tc.elapsed)
		require.NotNil(t, rep.LastSeen)
		assert.Equal(t, baseTime, *rep.LastSeen)
	}
}

func TestLiveness_UnknownAgentIsOffline(t *testing.T) {
	m, _, _, _ := newTestMonitor()

	rep := m.Liveness("ghost")
	assert.Equal(t, domain.LivenessOffline, rep.Liveness)
	assert.Nil(t, rep.LastSeen)
}

func TestSnapshot_ScopedToOwner(t *testing.T) {
	m, _, _, _ := newTestMonitor()

	_, _ = m.Record(context.Background(), sampleHeartbeat("a1", domain.StateIdle))

	other := sampleHeartbeat("b1", domain.StateIdle)
	other.OwnerID = "someone-else"
	_, _ = m.Record(context.Background(), other)

	reports := m.Snapshot("owner")
	require.Len(t, reports, 1)
	assert.Equal(t, "a1", reports[0].AgentID)
}

func TestPrune_RemovesStaleSamples(t *testing.T) {
	m, _, _, clock := newTestMonitor()

	_, _ = m.Record(context.Background(), sampleHeartbeat("old", domain.StateIdle))

	*clock = baseTime.Add(5 * time.Minute)
	_, _ = m.Record(context.Background(), sampleHeartbeat("fresh", domain.StateIdle))

	// old старше 10 минут, fresh — нет
	*clock = baseTime.Add(11 * time.Minute)
	removed := m.Prune()

	assert.Equal(t, 1, removed)
	assert.Equal(t, domain.LivenessOffline, m.Liveness("old").Liveness)
	assert.NotNil(t, m.Liveness("fresh").LastSeen)

	// Повторный прогон без работы — no-op
	assert.Zero(t, m.Prune())
}
