package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"go.uber.org/zap"
)

type fakeDashboardRepo struct {
	statuses      []domain.AgentStatus
	approvals     []*domain.ApprovalQueueEntry
	notifications []domain.Notification
}

func (f *fakeDashboardRepo) ListStatuses(context.Context, string) ([]domain.AgentStatus, error) {
	return f.statuses, nil
}

func (f *fakeDashboardRepo) ListApprovals(_ context.Context, _ string, status domain.ApprovalStatus, _ int) ([]*domain.ApprovalQueueEntry, error) {
	var out []*domain.ApprovalQueueEntry
	for _, a := range f.approvals {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeDashboardRepo) ListNotifications(_ context.Context, _ string, filter domain.NotificationFilter) ([]domain.Notification, error) {
	var out []domain.Notification
	for _, n := range f.notifications {
		if filter.Resolved != nil && n.Resolved != *filter.Resolved {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

type fixedCounter int

func (c fixedCounter) ConnectionCount() int { return int(c) }

func TestDashboardStats(t *testing.T) {
	repo := &fakeDashboardRepo{
		statuses: []domain.AgentStatus{
			{AgentID: "a1", State: domain.StateIdle, HealthScore: 1.0},
			{AgentID: "a2", State: domain.StateBusy, HealthScore: 0.8},
			{AgentID: "a3", State: domain.StateBusy, HealthScore: 0.6},
		},
		approvals: []*domain.ApprovalQueueEntry{
			{ID: "p1", Status: domain.ApprovalPending},
			{ID: "p2", Status: domain.ApprovalApproved},
		},
		notifications: []domain.Notification{
			{ID: "n1", Resolved: false},
			{ID: "n2", Resolved: true},
		},
	}

	s := NewDashboardService(repo, fixedCounter(4), zap.NewNop())

	stats, err := s.Stats(context.Background(), "owner")
	require.NoError(t, err)

	assert.Equal(t, 3, stats.AgentsTotal)
	assert.Equal(t, 1, stats.AgentsByState[domain.StateIdle])
	assert.Equal(t, 2, stats.AgentsByState[domain.StateBusy])
	assert.Equal(t, 1, stats.PendingApprovals)
	assert.Equal(t, 1, stats.UnresolvedAlerts)
	assert.Equal(t, 4, stats.ObserverConnections)
	assert.InDelta(t, 0.8, stats.AverageHealthScore, 0.001)
	assert.False(t, stats.GeneratedAt.IsZero())
}

func TestDashboardStats_Empty(t *testing.T) {
	s := NewDashboardService(&fakeDashboardRepo{}, nil, zap.NewNop())

	stats, err := s.Stats(context.Background(), "owner")
	require.NoError(t, err)

	assert.Zero(t, stats.AgentsTotal)
	assert.Zero(t, stats.AverageHealthScore)
	assert.Zero(t, stats.ObserverConnections)
}
