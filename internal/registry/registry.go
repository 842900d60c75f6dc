package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agent-control-plane/internal/audit"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/engine"
	"go.uber.org/zap"
)

// StatusStore — durable-хранилище статусов (Store Gateway)
type StatusStore interface {
	GetStatus(ctx context.Context, ownerID, agentID string) (*domain.AgentStatus, error)
	SaveStatus(ctx context.Context, ownerID string, status *domain.AgentStatus) error
}

// EventPublisher — fire-and-forget доставка наблюдателям (Realtime Broadcast).
// Не должен блокировать путь записи.
type EventPublisher interface {
	Publish(event domain.BroadcastEvent)
}

// Notifier — синтез durable-уведомлений при алертах
type Notifier interface {
	Create(ctx context.Context, n *domain.Notification) error
}

// Пороговые значения алертов
const (
	alertCPUThreshold    = 90.0
	alertHealthThreshold = 0.3
)

// Registry владеет переходами статусов всех агентов.
// Инжектируемый объект с жизненным циклом сервиса, а не глобальный синглтон:
// тесты поднимают изолированные экземпляры.
type Registry struct {
	store     StatusStore
	publisher EventPublisher
	notifier  Notifier
	alerts    *AlertEvaluator
	auditor   audit.Recorder
	metrics   *engine.Metrics
	logger    *zap.Logger

	// Пер-агентная сериализация read-modify-write: в каждый момент времени
	// применяется не больше одного перехода на агента
	mu      sync.Mutex
	agentMu map[string]*sync.Mutex
}

func New(store StatusStore, publisher EventPublisher, notifier Notifier, alerts *AlertEvaluator, auditor audit.Recorder, metrics *engine.Metrics, logger *zap.Logger) *Registry {
	return &Registry{
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		alerts:    alerts,
		auditor:   auditor,
		metrics:   metrics,
		logger:    logger.Named("status-registry"),
		agentMu:   make(map[string]*sync.Mutex),
	}
}

// lockAgent выдает (лениво создавая) мьютекс конкретного агента
func (r *Registry) lockAgent(agentID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.agentMu[agentID]
	if !ok {
		m = &sync.Mutex{}
		r.agentMu[agentID] = m
	}
	return m
}

// UpdateResult — итог запроса на переход
type UpdateResult struct {
	Applied    bool                `json:"applied"`
	DryRun     bool                `json:"dry_run,omitempty"`
	Violations []string            `json:"violations,omitempty"`
	Status     *domain.AgentStatus `json:"status,omitempty"`
}

// UpdateStatus применяет переход состояния агента.
//
// Гарантии:
//   - переход применяется тогда и только тогда, когда он есть в таблице
//     автомата И все правила метаданных целевого состояния выполнены;
//   - при отказе прежнее состояние не меняется, вызывающий получает
//     полный список нарушений;
//   - конкурентные вызовы по одному агенту сериализуются.
func (r *Registry) UpdateStatus(ctx context.Context, ownerID, agentID string, req domain.StatusUpdateRequest) (*UpdateResult, error) {
	lock := r.lockAgent(agentID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()

	current, err := r.store.GetStatus(ctx, ownerID, agentID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("registry: failed to load status: %w", err)
		}
		// Свежезарегистрированный агент еще не имеет строки статуса:
		// его неявная база — здоровый idle, первый переход идет от нее
		current = &domain.AgentStatus{
			AgentID:      agentID,
			State:        domain.StateIdle,
			HealthScore:  1.0,
			LastActivity: now,
			UpdatedAt:    now,
		}
	}

	if !req.Bypass {
		violations := req.ValidateTransition(current.State)
		if len(violations) > 0 {
			r.metrics.RejectedTransitions.WithLabelValues("validation").Inc()
			r.auditor.Record(audit.Event{
				ID:       uuid.New().String(),
				TraceID:  engine.ExtractTraceID(ctx),
				OwnerID:  ownerID,
				AgentID:  agentID,
				Kind:     audit.EventStatusRejected,
				Source:   req.Source,
				OldState: string(current.State),
				NewState: string(req.State),
				Details:  map[string]interface{}{"violations": violations},
			})
			return &UpdateResult{Applied: false, Violations: violations}, domain.NewValidationError(violations)
		}
	}

	// Dry-run: валидация прошла, мутации не будет
	if req.DryRun {
		return &UpdateResult{Applied: false, DryRun: true, Status: current}, nil
	}

	oldState := current.State
	updated := *current
	req.Apply(&updated, now)

	if err := r.store.SaveStatus(ctx, ownerID, &updated); err != nil {
		// Decision-critical путь: сбой хранилища не глотаем, отдаем вызывающему
		return nil, fmt.Errorf("registry: failed to persist transition: %w", err)
	}

	kind := audit.EventStatusTransition
	if req.Bypass {
		kind = audit.EventStatusBypass
	}
	r.auditor.Record(audit.Event{
		ID:       uuid.New().String(),
		TraceID:  engine.ExtractTraceID(ctx),
		OwnerID:  ownerID,
		AgentID:  agentID,
		Kind:     kind,
		Source:   req.Source,
		OldState: string(oldState),
		NewState: string(updated.State),
		Details: map[string]interface{}{
			"status_message":  updated.StatusMessage,
			"current_task_id": updated.CurrentTaskID,
			"health_score":    updated.HealthScore,
			"cpu_usage":       updated.CPUUsage,
			"memory_usage":    updated.MemoryUsage,
			"uptime_seconds":  updated.UptimeSeconds,
		},
	})

	r.metrics.StatusTransitions.WithLabelValues(string(oldState), string(updated.State), req.Source).Inc()

	r.logger.Info("status transition applied",
		zap.String("agent_id", agentID),
		zap.String("from", string(oldState)),
		zap.String("to", string(updated.State)),
		zap.String("source", req.Source),
		zap.Bool("bypass", req.Bypass))

	// Fire-and-forget: доставка наблюдателям не блокирует путь записи
	r.publisher.Publish(domain.BroadcastEvent{
		Kind:    domain.EventStatusUpdate,
		OwnerID: ownerID,
		AgentID: agentID,
		Payload: &updated,
		SentAt:  now,
	})

	// Алерты по целевому состоянию и гейджам
	r.evaluateAlerts(ctx, ownerID, agentID, &updated)

	return &UpdateResult{Applied: true, Status: &updated}, nil
}

// MarkBusy переводит агента в busy с привязкой к задаче: агент с задачей
// in_progress обязан ссылаться на нее в current_task_id. Вызывается путем
// назначения, валидация обходится как при ForceIdle и фиксируется в аудите.
func (r *Registry) MarkBusy(ctx context.Context, ownerID, agentID, taskID string) error {
	_, err := r.UpdateStatus(ctx, ownerID, agentID, domain.StatusUpdateRequest{
		State:         domain.StateBusy,
		CurrentTaskID: &taskID,
		Bypass:        true,
		Source:        "assignment",
	})
	return err
}

// ForceIdle принудительно возвращает агента в idle (напр., при переназначении
// его задачи другому агенту). Валидация обходится сознательно и фиксируется в аудите.
func (r *Registry) ForceIdle(ctx context.Context, ownerID, agentID, reason string) error {
	msg := reason
	_, err := r.UpdateStatus(ctx, ownerID, agentID, domain.StatusUpdateRequest{
		State:         domain.StateIdle,
		StatusMessage: &msg,
		Bypass:        true,
		Source:        "reassignment",
	})
	return err
}

func (r *Registry) evaluateAlerts(ctx context.Context, ownerID, agentID string, st *domain.AgentStatus) {
	if r.alerts == nil {
		return
	}
	for _, n := range r.alerts.Evaluate(ctx, ownerID, agentID, st) {
		if err := r.notifier.Create(ctx, n); err != nil {
			// Алерты не decision-critical: логируем и едем дальше
			r.logger.Warn("failed to create alert notification",
				zap.String("agent_id", agentID),
				zap.String("type", string(n.Type)),
				zap.Error(err))
		}
	}
}
