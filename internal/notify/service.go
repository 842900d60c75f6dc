package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"go.uber.org/zap"
)

// Store — durable-хранилище уведомлений
type Store interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	GetNotification(ctx context.Context, ownerID, id string) (*domain.Notification, error)
	ListNotifications(ctx context.Context, ownerID string, f domain.NotificationFilter) ([]domain.Notification, error)
	ResolveNotification(ctx context.Context, ownerID, id string, notes *string, at time.Time) error
	ResolveNotificationsByRef(ctx context.Context, ownerID, refID string, notes *string, at time.Time) error
	CountEscalationNotifications(ctx context.Context, ownerID, refID string, level int) (int, error)
}

// Publisher — realtime-дублирование уведомления наблюдателям
type Publisher interface {
	Publish(event domain.BroadcastEvent)
}

// Service — единая точка синтеза уведомлений. Durable-запись первична,
// realtime-доставка best-effort: наблюдатель мог отключиться, запись
// в ленте останется.
type Service struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func New(store Store, publisher Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger.Named("notify"),
		now:       time.Now,
	}
}

// Create сохраняет уведомление и транслирует его realtime-наблюдателям
func (s *Service) Create(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	if err := s.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	s.logger.Info("notification created",
		zap.String("notification_id", n.ID),
		zap.String("owner_id", n.OwnerID),
		zap.String("type", string(n.Type)))

	if s.publisher != nil {
		s.publisher.Publish(domain.BroadcastEvent{
			Kind:    domain.EventStatusUpdate,
			OwnerID: n.OwnerID,
			AgentID: n.AgentID,
			Payload: map[string]any{"notification": n},
			SentAt:  n.CreatedAt,
		})
	}
	return nil
}

// List отдает ленту уведомлений владельца по фильтру
func (s *Service) List(ctx context.Context, ownerID string, f domain.NotificationFilter) ([]domain.Notification, error) {
	return s.store.ListNotifications(ctx, ownerID, f)
}

// Get — одно уведомление владельца
func (s *Service) Get(ctx context.Context, ownerID, id string) (*domain.Notification, error) {
	return s.store.GetNotification(ctx, ownerID, id)
}

// Resolve закрывает уведомление вручную, с опциональной пометкой
func (s *Service) Resolve(ctx context.Context, ownerID, id string, notes *string) error {
	if err := s.store.ResolveNotification(ctx, ownerID, id, notes, s.now()); err != nil {
		return err
	}
	s.logger.Debug("notification resolved",
		zap.String("notification_id", id),
		zap.String("owner_id", ownerID))
	return nil
}

// ResolveByRef закрывает все открытые уведомления, привязанные к сущности
// (заявке на согласование): при решении заявки ожидающие уведомления
// теряют смысл.
func (s *Service) ResolveByRef(ctx context.Context, ownerID, refID, notes string) error {
	var p *string
	if notes != "" {
		p = &notes
	}
	return s.store.ResolveNotificationsByRef(ctx, ownerID, refID, p, s.now())
}

// HasEscalation отвечает, было ли уже создано эскалационное уведомление
// данного уровня для заявки. Опора идемпотентности эскалационного sweeper-а.
func (s *Service) HasEscalation(ctx context.Context, ownerID, refID string, level int) (bool, error) {
	count, err := s.store.CountEscalationNotifications(ctx, ownerID, refID, level)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
