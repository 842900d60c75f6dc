package service

import (
	"context"

	"github.com/xela07ax/agent-control-plane/internal/approval"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"go.uber.org/zap"
)

// HistoryProvider — append-only история решений по заявке
type HistoryProvider interface {
	ListHistory(ctx context.Context, ownerID, approvalID string) ([]*domain.ApprovalHistoryRecord, error)
}

// ApprovalService связывает очередь HITL с жизненным циклом задач:
// решение по заявке доводит перехваченную задачу до консистентного статуса.
type ApprovalService struct {
	workflow *approval.Workflow
	tasks    *TaskService
	history  HistoryProvider
	logger   *zap.Logger
}

func NewApprovalService(workflow *approval.Workflow, tasks *TaskService, history HistoryProvider, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{
		workflow: workflow,
		tasks:    tasks,
		history:  history,
		logger:   logger.Named("approval-service"),
	}
}

func (s *ApprovalService) Get(ctx context.Context, ownerID, id string) (*domain.ApprovalQueueEntry, error) {
	return s.workflow.Get(ctx, ownerID, id)
}

func (s *ApprovalService) List(ctx context.Context, ownerID string, status domain.ApprovalStatus) ([]*domain.ApprovalQueueEntry, error) {
	return s.workflow.List(ctx, ownerID, status)
}

func (s *ApprovalService) History(ctx context.Context, ownerID, id string) ([]*domain.ApprovalHistoryRecord, error) {
	return s.history.ListHistory(ctx, ownerID, id)
}

// Decide фиксирует решение ревьюера и доводит связанную задачу.
// Конкурентные решения сериализует хранилище: проигравший получает
// domain.ErrAlreadyProcessed (хендлер маппит в 409).
func (s *ApprovalService) Decide(ctx context.Context, ownerID, reviewerID, approvalID string, approve bool, notes string) (*domain.ApprovalQueueEntry, error) {
	entry, err := s.workflow.Decide(ctx, ownerID, reviewerID, approvalID, approve, notes)
	if err != nil {
		return nil, err
	}
	s.tasks.ResolveApprovalOutcome(ctx, entry)
	return entry, nil
}

// Escalate передает заявку другому ревьюеру (оригинал терминально
// закрывается, создается клон с коротким TTL)
func (s *ApprovalService) Escalate(ctx context.Context, ownerID, reviewerID, approvalID, newReviewerID, notes string) (*domain.ApprovalQueueEntry, error) {
	return s.workflow.Escalate(ctx, ownerID, reviewerID, approvalID, newReviewerID, notes)
}
