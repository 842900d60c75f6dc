package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/workload"
	"go.uber.org/zap"
)

// AgentRepository описывает требования к хранилищу данных об агентах
type AgentRepository interface {
	CreateAgent(ctx context.Context, a *domain.Agent) error
	GetAgent(ctx context.Context, ownerID, id string) (*domain.Agent, error)
	ListActiveAgents(ctx context.Context, ownerID string) ([]*domain.Agent, error)
	SetAgentActive(ctx context.Context, ownerID, id string, active bool) error
	UpdateAgentTrust(ctx context.Context, ownerID, id string, trust float64) error
	ListStatuses(ctx context.Context, ownerID string) ([]domain.AgentStatus, error)
}

type AgentService struct {
	repo       AgentRepository
	suspension *workload.SuspensionManager
	logger     *zap.Logger
}

func NewAgentService(repo AgentRepository, suspension *workload.SuspensionManager, logger *zap.Logger) *AgentService {
	return &AgentService{
		repo:       repo,
		suspension: suspension,
		logger:     logger.Named("agent-service"),
	}
}

// RegisterInput — параметры регистрации агента
type RegisterInput struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
	Expertise    []string `json:"expertise,omitempty"`
	ModelProfile string   `json:"model_profile,omitempty"`
}

// Register создает агента. Новый агент стартует с нейтральным trust score:
// auto-approve правила он заработает позже.
func (s *AgentService) Register(ctx context.Context, ownerID string, in RegisterInput) (*domain.Agent, error) {
	now := time.Now()
	agent := &domain.Agent{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		Name:         in.Name,
		Type:         in.Type,
		Capabilities: in.Capabilities,
		Expertise:    in.Expertise,
		ModelProfile: in.ModelProfile,
		TrustScore:   0.5,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}

	s.logger.Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("owner_id", ownerID),
		zap.String("type", agent.Type))
	return agent, nil
}

func (s *AgentService) Get(ctx context.Context, ownerID, id string) (*domain.Agent, error) {
	return s.repo.GetAgent(ctx, ownerID, id)
}

func (s *AgentService) List(ctx context.Context, ownerID string) ([]*domain.Agent, error) {
	return s.repo.ListActiveAgents(ctx, ownerID)
}

// Deactivate выводит агента из ротации (деактивация вместо удаления).
// Сигнал расходится по инстансам мгновенно, не дожидаясь выборки из БД.
func (s *AgentService) Deactivate(ctx context.Context, ownerID, id string) error {
	if err := s.repo.SetAgentActive(ctx, ownerID, id, false); err != nil {
		return err
	}
	if s.suspension != nil {
		s.suspension.Suspend(ctx, id)
	}
	return nil
}

// SetTrust корректирует trust score агента (вход auto-approve правил)
func (s *AgentService) SetTrust(ctx context.Context, ownerID, id string, trust float64) error {
	if trust < 0 {
		trust = 0
	}
	if trust > 1 {
		trust = 1
	}
	return s.repo.UpdateAgentTrust(ctx, ownerID, id, trust)
}

// Statuses — снапшот статусов всех агентов владельца (дашборд)
func (s *AgentService) Statuses(ctx context.Context, ownerID string) ([]domain.AgentStatus, error) {
	return s.repo.ListStatuses(ctx, ownerID)
}
