package workload

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agent-control-plane/internal/engine"
	"github.com/xela07ax/agent-control-plane/internal/infra"
	"go.uber.org/zap"
)

// SuspensionManager держит L1 (RAM) кэш деактивированных агентов.
// Деактивация через API мгновенно выводит агента из ротации назначения
// на всех инстансах: сигнал летит через Redis Pub/Sub, durable-состояние
// живет в Redis Set и переживает рестарт.
type SuspensionManager struct {
	mu        sync.RWMutex
	suspended map[string]struct{}
	rdb       *redis.Client
	logger    *zap.Logger
}

func NewSuspensionManager(rdb *redis.Client, logger *zap.Logger) *SuspensionManager {
	return &SuspensionManager{
		suspended: make(map[string]struct{}),
		rdb:       rdb,
		logger:    logger.Named("suspension"),
	}
}

// Init загружает текущее множество при старте сервиса
func (m *SuspensionManager) Init(ctx context.Context) error {
	if m.rdb == nil {
		return nil
	}
	agents, err := m.rdb.SMembers(ctx, infra.RedisKeySuspendedSet).Result()
	if err != nil {
		return fmt.Errorf("suspension warm-up: %w", err)
	}

	m.mu.Lock()
	for _, id := range agents {
		m.suspended[id] = struct{}{}
	}
	m.mu.Unlock()

	m.logger.Info("suspension cache warmed up", zap.Int("agents", len(agents)))
	return nil
}

// Suspend выводит агента из ротации и рассылает сигнал остальным инстансам
func (m *SuspensionManager) Suspend(ctx context.Context, agentID string) {
	m.mark(agentID, true)

	if m.rdb == nil {
		return
	}
	if err := m.rdb.SAdd(ctx, infra.RedisKeySuspendedSet, agentID).Err(); err != nil {
		m.logger.Warn("failed to persist suspension", zap.String("agent_id", agentID), zap.Error(err))
	}
	if err := m.rdb.Publish(ctx, infra.RedisChanSuspension, agentID+":true").Err(); err != nil {
		m.logger.Warn("suspension signal delivery failed", zap.String("agent_id", agentID), zap.Error(err))
	}
}

// Resume возвращает агента в ротацию
func (m *SuspensionManager) Resume(ctx context.Context, agentID string) {
	m.mark(agentID, false)

	if m.rdb == nil {
		return
	}
	if err := m.rdb.SRem(ctx, infra.RedisKeySuspendedSet, agentID).Err(); err != nil {
		m.logger.Warn("failed to remove suspension", zap.String("agent_id", agentID), zap.Error(err))
	}
	if err := m.rdb.Publish(ctx, infra.RedisChanSuspension, agentID+":false").Err(); err != nil {
		m.logger.Warn("suspension signal delivery failed", zap.String("agent_id", agentID), zap.Error(err))
	}
}

// IsSuspended — проверка по локальному кэшу, без похода в Redis
func (m *SuspensionManager) IsSuspended(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.suspended[agentID]
	return ok
}

func (m *SuspensionManager) mark(agentID string, suspended bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if suspended {
		m.suspended[agentID] = struct{}{}
	} else {
		delete(m.suspended, agentID)
	}
}

// StartListener подписывается на сигналы других инстансов и обновляет
// локальный кэш. Подписка устойчива к обрывам соединения.
func (m *SuspensionManager) StartListener(ctx context.Context) {
	if m.rdb == nil {
		return
	}

	go engine.ListenEventsResilient(ctx, m.rdb, m.logger, infra.RedisChanSuspension,
		func() error {
			// После переподключения состояние могло уехать: перечитываем множество
			return m.Init(ctx)
		},
		func(payload []byte) {
			parts := strings.SplitN(string(payload), ":", 2)
			if len(parts) != 2 {
				m.logger.Warn("malformed suspension signal", zap.ByteString("payload", payload))
				return
			}
			m.mark(parts[0], parts[1] == "true")
		},
	)
}
