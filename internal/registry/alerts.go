package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/infra"
	"go.uber.org/zap"
)

// offlineAlertWindow — окно подавления повторных offline-алертов по агенту
const offlineAlertWindow = 10 * time.Minute

// OfflineAlertLimiter решает, можно ли слать очередной offline-алерт.
// Redis-реализация работает между инстансами; memory — для тестов
// и single-instance запуска.
type OfflineAlertLimiter interface {
	Allow(ctx context.Context, agentID string) bool
}

// RedisAlertLimiter использует SetNX с TTL: первый инстанс, успевший поставить
// ключ, шлет алерт, остальные в пределах окна — нет.
type RedisAlertLimiter struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisAlertLimiter(rdb *redis.Client, logger *zap.Logger) *RedisAlertLimiter {
	return &RedisAlertLimiter{rdb: rdb, logger: logger.Named("alert-limiter")}
}

func (l *RedisAlertLimiter) Allow(ctx context.Context, agentID string) bool {
	ok, err := l.rdb.SetNX(ctx, infra.GetOfflineAlertKey(agentID), "sent", offlineAlertWindow).Result()
	if err != nil {
		// При недоступном Redis лучше замолчать, чем устроить шторм
		l.logger.Warn("offline alert dedup check failed, suppressing", zap.Error(err))
		return false
	}
	return ok
}

// MemoryAlertLimiter — локальное окно подавления (тесты, single instance)
type MemoryAlertLimiter struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemoryAlertLimiter() *MemoryAlertLimiter {
	return &MemoryAlertLimiter{last: make(map[string]time.Time)}
}

func (l *MemoryAlertLimiter) Allow(ctx context.Context, agentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if t, ok := l.last[agentID]; ok && now.Sub(t) < offlineAlertWindow {
		return false
	}
	l.last[agentID] = now
	return true
}

// AlertEvaluator синтезирует уведомления по нездоровым состояниям:
// error, offline (с окном подавления), высокий CPU, низкий health.
type AlertEvaluator struct {
	offline OfflineAlertLimiter
}

func NewAlertEvaluator(offline OfflineAlertLimiter) *AlertEvaluator {
	return &AlertEvaluator{offline: offline}
}

func (e *AlertEvaluator) Evaluate(ctx context.Context, ownerID, agentID string, st *domain.AgentStatus) []*domain.Notification {
	var out []*domain.Notification
	now := time.Now()

	newNotification := func(typ domain.NotificationType, title, msg string) *domain.Notification {
		return &domain.Notification{
			ID:        uuid.New().String(),
			OwnerID:   ownerID,
			AgentID:   agentID,
			Type:      typ,
			Title:     title,
			Message:   msg,
			CreatedAt: now,
		}
	}

	switch st.State {
	case domain.StateError:
		out = append(out, newNotification(domain.NotifyAgentError,
			"Agent error",
			fmt.Sprintf("agent entered error state: %s", st.StatusMessage)))

	case domain.StateOffline:
		// Не больше одного offline-алерта на агента за 10-минутное окно
		if e.offline.Allow(ctx, agentID) {
			out = append(out, newNotification(domain.NotifyAgentOffline,
				"Agent offline",
				"agent went offline"))
		}
	}

	if st.CPUUsage > alertCPUThreshold {
		out = append(out, newNotification(domain.NotifyHighCPU,
			"High CPU usage",
			fmt.Sprintf("cpu usage at %.1f%%", st.CPUUsage)))
	}

	if st.HealthScore < alertHealthThreshold {
		out = append(out, newNotification(domain.NotifyLowHealth,
			"Low health score",
			fmt.Sprintf("health score dropped to %.2f", st.HealthScore)))
	}

	return out
}
