package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agent-control-plane/internal/audit"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/engine"
	"go.uber.org/zap"
)

// Store — durable-операции над заявками (Store Gateway).
// FinalizeApproval обязан быть атомарным условным обновлением
// (WHERE status='pending'): первый пишущий побеждает, проигравший
// получает domain.ErrAlreadyProcessed.
type Store interface {
	CreateApproval(ctx context.Context, entry *domain.ApprovalQueueEntry) error
	GetApproval(ctx context.Context, ownerID, id string) (*domain.ApprovalQueueEntry, error)
	ListApprovals(ctx context.Context, ownerID string, status domain.ApprovalStatus, limit int) ([]*domain.ApprovalQueueEntry, error)
	FinalizeApproval(ctx context.Context, ownerID, id string, next domain.ApprovalStatus, reviewerID, notes *string) (*domain.ApprovalQueueEntry, error)
	UpdateApprovalPriority(ctx context.Context, id string, priority int) error

	// Выборки для sweeper-ов
	ListExpiredPending(ctx context.Context, now time.Time) ([]*domain.ApprovalQueueEntry, error)
	ListPendingCreatedBefore(ctx context.Context, cutoff, now time.Time) ([]*domain.ApprovalQueueEntry, error)

	CreateHistory(ctx context.Context, rec *domain.ApprovalHistoryRecord) error
}

// Notifier — уведомления пользователю + проверка идемпотентности эскалаций
type Notifier interface {
	Create(ctx context.Context, n *domain.Notification) error
	ResolveByRef(ctx context.Context, ownerID, refID, notes string) error
	HasEscalation(ctx context.Context, ownerID, refID string, level int) (bool, error)
}

// EventPublisher — трансляция событий заявок наблюдателям
type EventPublisher interface {
	Publish(event domain.BroadcastEvent)
}

// Пороги эскалаций: уровень N наступает после thresholds[N-1] ожидания
var escalationThresholds = []time.Duration{1 * time.Hour, 4 * time.Hour, 8 * time.Hour}

// TTL клона при ручной эскалации на другого ревьюера
const escalationCloneTTL = 2 * time.Hour

// Workflow владеет жизненным циклом заявок HITL: создание, решение,
// эскалация, протухание, диспатч одобренных действий.
type Workflow struct {
	store     Store
	notifier  Notifier
	publisher EventPublisher
	executor  engine.ExecutionProvider
	auditor   audit.Recorder
	metrics   *engine.Metrics
	logger    *zap.Logger

	// now подменяется в тестах (границы TTL, пороги эскалаций)
	now func() time.Time

	// onExpired вызывается sweeper-ом после терминального протухания:
	// вызывающий доводит связанные сущности (задачу) до консистентного статуса
	onExpired func(ctx context.Context, entry *domain.ApprovalQueueEntry)
}

// SetExpiryHook регистрирует колбэк протухания (до старта sweeper-ов)
func (w *Workflow) SetExpiryHook(h func(ctx context.Context, entry *domain.ApprovalQueueEntry)) {
	w.onExpired = h
}

func NewWorkflow(store Store, notifier Notifier, publisher EventPublisher, executor engine.ExecutionProvider, auditor audit.Recorder, metrics *engine.Metrics, logger *zap.Logger) *Workflow {
	return &Workflow{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		executor:  executor,
		auditor:   auditor,
		metrics:   metrics,
		logger:    logger.Named("approval-workflow"),
		now:       time.Now,
	}
}

// CreateInput — параметры новой заявки (обычно приходит от Risk Assessor)
type CreateInput struct {
	AgentID    string
	TaskID     string
	ActionType string
	ActionData json.RawMessage
	RiskTier   domain.RiskTier
	Priority   int
	TTL        time.Duration
}

// Create создает pending-заявку и уведомляет ответственного пользователя.
// Сбой хранилища — decision-critical: ошибка уходит вызывающему.
func (w *Workflow) Create(ctx context.Context, ownerID string, in CreateInput) (*domain.ApprovalQueueEntry, error) {
	now := w.now()
	entry := &domain.ApprovalQueueEntry{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		AgentID:    in.AgentID,
		TaskID:     in.TaskID,
		ActionType: in.ActionType,
		ActionData: in.ActionData,
		RiskTier:   in.RiskTier,
		Priority:   in.Priority,
		Status:     domain.ApprovalPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(in.TTL),
		UpdatedAt:  now,
	}

	if err := w.store.CreateApproval(ctx, entry); err != nil {
		return nil, fmt.Errorf("approval: failed to create entry: %w", err)
	}

	w.auditor.Record(audit.Event{
		ID:      uuid.New().String(),
		TraceID: engine.ExtractTraceID(ctx),
		OwnerID: ownerID,
		AgentID: in.AgentID,
		Kind:    audit.EventApprovalCreated,
		Details: map[string]interface{}{
			"approval_id": entry.ID,
			"action_type": in.ActionType,
			"risk_tier":   string(in.RiskTier),
			"expires_at":  entry.ExpiresAt,
		},
	})

	// Уведомление не decision-critical: заявка уже создана
	if err := w.notifier.Create(ctx, &domain.Notification{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		AgentID:   in.AgentID,
		Type:      domain.NotifyApprovalRequired,
		Title:     "Approval required",
		Message:   fmt.Sprintf("agent requests approval for %s (risk: %s)", in.ActionType, in.RiskTier),
		RefID:     entry.ID,
		CreatedAt: now,
	}); err != nil {
		w.logger.Warn("approval notification failed", zap.String("approval_id", entry.ID), zap.Error(err))
	}

	w.publisher.Publish(domain.BroadcastEvent{
		Kind:    domain.EventStatusUpdate,
		OwnerID: ownerID,
		AgentID: in.AgentID,
		Payload: entry,
		SentAt:  now,
	})

	return entry, nil
}

// Decide фиксирует решение ревьюера: approved или rejected.
// Конкурентные решения по одной заявке сериализуются условным обновлением
// в хранилище: ровно один терминальный переход, проигравший получает
// domain.ErrAlreadyProcessed.
func (w *Workflow) Decide(ctx context.Context, ownerID, reviewerID, approvalID string, approve bool, notes string) (*domain.ApprovalQueueEntry, error) {
	next := domain.ApprovalRejected
	if approve {
		next = domain.ApprovalApproved
	}

	var notesPtr *string
	if notes != "" {
		notesPtr = &notes
	}

	// Скоуп по владельцу прямо в условном обновлении: чужая заявка
	// не мутируется и неотличима от несуществующей
	entry, err := w.store.FinalizeApproval(ctx, ownerID, approvalID, next, &reviewerID, notesPtr)
	if err != nil {
		return nil, err // ErrAlreadyProcessed / ErrNotFound маппятся хендлером
	}

	w.recordOutcome(ctx, entry, string(next), &reviewerID, notes)

	// Закрываем открытые уведомления по заявке
	if err := w.notifier.ResolveByRef(ctx, ownerID, entry.ID, "decision: "+string(next)); err != nil {
		w.logger.Warn("failed to resolve notifications", zap.String("approval_id", entry.ID), zap.Error(err))
	}

	w.logger.Info("approval decided",
		zap.String("approval_id", entry.ID),
		zap.String("reviewer", reviewerID),
		zap.String("outcome", string(next)))

	// Одобренное действие уходит исполнителю. Approval и execution расцеплены:
	// сбой диспатча НЕ откатывает терминальный статус
	if next == domain.ApprovalApproved {
		w.dispatch(ctx, entry)
	}

	return entry, nil
}

// Escalate передает заявку другому ревьюеру: оригинал терминально помечается
// escalated, под новым ревьюером создается клон с коротким TTL (2 часа).
func (w *Workflow) Escalate(ctx context.Context, ownerID, reviewerID, approvalID, newReviewerID, notes string) (*domain.ApprovalQueueEntry, error) {
	var notesPtr *string
	if notes != "" {
		notesPtr = &notes
	}

	original, err := w.store.FinalizeApproval(ctx, ownerID, approvalID, domain.ApprovalEscalated, &reviewerID, notesPtr)
	if err != nil {
		return nil, err
	}

	w.recordOutcome(ctx, original, string(domain.ApprovalEscalated), &reviewerID, notes)

	if err := w.notifier.ResolveByRef(ctx, ownerID, original.ID, "escalated to "+newReviewerID); err != nil {
		w.logger.Warn("failed to resolve notifications", zap.String("approval_id", original.ID), zap.Error(err))
	}

	now := w.now()
	clone := &domain.ApprovalQueueEntry{
		ID:            uuid.New().String(),
		OwnerID:       original.OwnerID,
		AgentID:       original.AgentID,
		TaskID:        original.TaskID,
		ActionType:    original.ActionType,
		ActionData:    original.ActionData,
		RiskTier:      original.RiskTier,
		Priority:      original.Priority,
		Status:        domain.ApprovalPending,
		ReviewerID:    &newReviewerID,
		EscalatedFrom: &original.ID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(escalationCloneTTL),
		UpdatedAt:     now,
	}
	if err := w.store.CreateApproval(ctx, clone); err != nil {
		// Оригинал уже терминален: фиксируем сбой клона явно, оператору
		// придется создать заявку заново
		w.logger.Error("escalation clone creation failed",
			zap.String("original_id", original.ID), zap.Error(err))
		return nil, fmt.Errorf("approval: failed to create escalation clone: %w", err)
	}

	if err := w.notifier.Create(ctx, &domain.Notification{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		AgentID:   clone.AgentID,
		Type:      domain.NotifyApprovalRequired,
		Title:     "Approval escalated to you",
		Message:   fmt.Sprintf("approval for %s escalated, expires in %s", clone.ActionType, escalationCloneTTL),
		RefID:     clone.ID,
		CreatedAt: now,
	}); err != nil {
		w.logger.Warn("escalation notification failed", zap.String("approval_id", clone.ID), zap.Error(err))
	}

	return clone, nil
}

// Get возвращает заявку с проверкой владения
func (w *Workflow) Get(ctx context.Context, ownerID, id string) (*domain.ApprovalQueueEntry, error) {
	return w.store.GetApproval(ctx, ownerID, id)
}

// List возвращает очередь заявок владельца (по умолчанию pending)
func (w *Workflow) List(ctx context.Context, ownerID string, status domain.ApprovalStatus) ([]*domain.ApprovalQueueEntry, error) {
	return w.store.ListApprovals(ctx, ownerID, status, 100)
}

// recordOutcome пишет ровно одну append-only запись истории с латентностью решения
func (w *Workflow) recordOutcome(ctx context.Context, entry *domain.ApprovalQueueEntry, action string, reviewerID *string, notes string) {
	now := w.now()
	latency := now.Sub(entry.CreatedAt)

	rec := &domain.ApprovalHistoryRecord{
		ID:                  uuid.New().String(),
		ApprovalID:          entry.ID,
		OwnerID:             entry.OwnerID,
		ActionTaken:         action,
		ReviewerID:          reviewerID,
		Notes:               notes,
		ProcessingLatencyMs: latency.Milliseconds(),
		CreatedAt:           now,
	}
	if err := w.store.CreateHistory(ctx, rec); err != nil {
		// История — аудит, не источник истины; дешевый одиночный ретрай
		if err2 := w.store.CreateHistory(ctx, rec); err2 != nil {
			w.logger.Error("approval history write failed",
				zap.String("approval_id", entry.ID), zap.Error(err2))
		}
	}

	w.metrics.ApprovalDecisions.WithLabelValues(action).Inc()
	w.metrics.ApprovalLatency.WithLabelValues(action).Observe(latency.Seconds())

	w.auditor.Record(audit.Event{
		ID:      uuid.New().String(),
		TraceID: engine.ExtractTraceID(ctx),
		OwnerID: entry.OwnerID,
		AgentID: entry.AgentID,
		Kind:    audit.EventApprovalDecided,
		Details: map[string]interface{}{
			"approval_id":  entry.ID,
			"action_taken": action,
			"latency_ms":   latency.Milliseconds(),
		},
	})
}

// dispatch отправляет одобренное действие исполнителю через ReliabilityWrapper.
// Сбой фиксируется записью action_execution_failed и остается на ручное
// устранение оператором — терминальный статус заявки не меняется.
func (w *Workflow) dispatch(ctx context.Context, entry *domain.ApprovalQueueEntry) {
	_, err := w.executor.Call(ctx, entry.ActionType, entry.ActionData)
	if err == nil {
		w.logger.Info("approved action dispatched",
			zap.String("approval_id", entry.ID),
			zap.String("action_type", entry.ActionType))
		return
	}

	w.logger.Error("approved action dispatch failed",
		zap.String("approval_id", entry.ID),
		zap.String("action_type", entry.ActionType),
		zap.Error(err))

	w.auditor.Record(audit.Event{
		ID:      uuid.New().String(),
		TraceID: engine.ExtractTraceID(ctx),
		OwnerID: entry.OwnerID,
		AgentID: entry.AgentID,
		Kind:    audit.EventExecutionFailed,
		Error:   err.Error(),
		Details: map[string]interface{}{"approval_id": entry.ID, "action_type": entry.ActionType},
	})

	failRec := &domain.ApprovalHistoryRecord{
		ID:          uuid.New().String(),
		ApprovalID:  entry.ID,
		OwnerID:     entry.OwnerID,
		ActionTaken: "action_execution_failed",
		Notes:       err.Error(),
		CreatedAt:   w.now(),
	}
	if err := w.store.CreateHistory(ctx, failRec); err != nil {
		w.logger.Error("failed to record execution failure", zap.Error(err))
	}
}
