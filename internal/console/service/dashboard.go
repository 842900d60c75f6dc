package service

import (
	"context"
	"time"

	"github.com/xela07ax/agent-control-plane/internal/domain"
	"go.uber.org/zap"
)

// DashboardStats — сводка контура управления для главного экрана
type DashboardStats struct {
	AgentsByState       map[domain.AgentState]int `json:"agents_by_state"`
	AgentsTotal         int                       `json:"agents_total"`
	PendingApprovals    int                       `json:"pending_approvals"`
	UnresolvedAlerts    int                       `json:"unresolved_alerts"`
	ObserverConnections int                       `json:"observer_connections"`
	AverageHealthScore  float64                   `json:"average_health_score"`
	GeneratedAt         time.Time                 `json:"generated_at"`
}

type dashboardRepo interface {
	ListStatuses(ctx context.Context, ownerID string) ([]domain.AgentStatus, error)
	ListApprovals(ctx context.Context, ownerID string, status domain.ApprovalStatus, limit int) ([]*domain.ApprovalQueueEntry, error)
	ListNotifications(ctx context.Context, ownerID string, f domain.NotificationFilter) ([]domain.Notification, error)
}

// ConnectionCounter — текущее число realtime-наблюдателей
type ConnectionCounter interface {
	ConnectionCount() int
}

type DashboardService struct {
	repo   dashboardRepo
	hub    ConnectionCounter
	logger *zap.Logger
}

func NewDashboardService(repo dashboardRepo, hub ConnectionCounter, logger *zap.Logger) *DashboardService {
	return &DashboardService{
		repo:   repo,
		hub:    hub,
		logger: logger.Named("dashboard"),
	}
}

func (s *DashboardService) Stats(ctx context.Context, ownerID string) (*DashboardStats, error) {
	statuses, err := s.repo.ListStatuses(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		AgentsByState: make(map[domain.AgentState]int),
		AgentsTotal:   len(statuses),
		GeneratedAt:   time.Now(),
	}
	var healthSum float64
	for _, st := range statuses {
		stats.AgentsByState[st.State]++
		healthSum += st.HealthScore
	}
	if len(statuses) > 0 {
		stats.AverageHealthScore = healthSum / float64(len(statuses))
	}

	pending, err := s.repo.ListApprovals(ctx, ownerID, domain.ApprovalPending, 500)
	if err != nil {
		return nil, err
	}
	stats.PendingApprovals = len(pending)

	unresolved := false
	alerts, err := s.repo.ListNotifications(ctx, ownerID, domain.NotificationFilter{Resolved: &unresolved, Limit: 500})
	if err != nil {
		return nil, err
	}
	stats.UnresolvedAlerts = len(alerts)

	if s.hub != nil {
		stats.ObserverConnections = s.hub.ConnectionCount()
	}
	return stats, nil
}
