package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/registry"
	"go.uber.org/zap"
)

// StatusUpdater — быстрый (невалидируемый) путь обновления AgentStatus
// по данным heartbeat-а. Реализуется Status Registry через bypass.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, ownerID, agentID string, req domain.StatusUpdateRequest) (*registry.UpdateResult, error)
}

// EventPublisher — ре-трансляция ненормативного состояния наблюдателям
type EventPublisher interface {
	Publish(event domain.BroadcastEvent)
}

// Monitor держит последний heartbeat каждого агента в volatile-памяти.
// Инжектируемый объект: тесты создают изолированные экземпляры с собственным clock-ом.
type Monitor struct {
	updater   StatusUpdater
	publisher EventPublisher
	logger    *zap.Logger

	mu      sync.RWMutex
	samples map[string]domain.Heartbeat

	// now подменяется в тестах для проверки границ классификации
	now func() time.Time
}

func NewMonitor(updater StatusUpdater, publisher EventPublisher, logger *zap.Logger) *Monitor {
	return &Monitor{
		updater:   updater,
		publisher: publisher,
		logger:    logger.Named("heartbeat"),
		samples:   make(map[string]domain.Heartbeat),
		now:       time.Now,
	}
}

// Ack — ответ на heartbeat: когда ждем следующий сигнал
type Ack struct {
	Received        bool      `json:"received"`
	ExpectedNextAt  time.Time `json:"expected_next_at"`
	IntervalSeconds int       `json:"interval_seconds"`
}

// Record принимает heartbeat агента: сохраняет сэмпл, быстрым путем обновляет
// AgentStatus и ре-транслирует событие, если агент отчитался о ненормативном
// состоянии (error/offline/maintenance).
func (m *Monitor) Record(ctx context.Context, hb domain.Heartbeat) (*Ack, error) {
	now := m.now()
	hb.ReceivedAt = now

	m.mu.Lock()
	m.samples[hb.AgentID] = hb
	m.mu.Unlock()

	// Fast path: heartbeat не проходит валидацию конечного автомата,
	// это телеметрия, а не управляемый переход
	req := domain.StatusUpdateRequest{
		State:       hb.State,
		HealthScore: &hb.HealthScore,
		CPUUsage:    &hb.CPUUsage,
		MemoryUsage: &hb.MemoryUsage,
		Bypass:      true,
		Source:      "heartbeat",
	}
	if _, err := m.updater.UpdateStatus(ctx, hb.OwnerID, hb.AgentID, req); err != nil {
		// Телеметрия не decision-critical: сэмпл уже в памяти, статус догонит
		m.logger.Warn("heartbeat status fast-path failed",
			zap.String("agent_id", hb.AgentID), zap.Error(err))
	}

	if hb.State == domain.StateError || hb.State == domain.StateOffline || hb.State == domain.StateMaintenance {
		m.publisher.Publish(domain.BroadcastEvent{
			Kind:    domain.EventHeartbeat,
			OwnerID: hb.OwnerID,
			AgentID: hb.AgentID,
			Payload: hb,
			SentAt:  now,
		})
	}

	return &Ack{
		Received:        true,
		ExpectedNextAt:  now.Add(domain.HeartbeatInterval),
		IntervalSeconds: int(domain.HeartbeatInterval.Seconds()),
	}, nil
}

// LivenessReport — живость одного агента
type LivenessReport struct {
	AgentID  string          `json:"agent_id"`
	Liveness domain.Liveness `json:"liveness"`
	LastSeen *time.Time      `json:"last_seen,omitempty"`
}

// Liveness классифицирует агента по давности последнего heartbeat.
// Агент без сэмпла (не слал или вычищен) считается offline.
func (m *Monitor) Liveness(agentID string) LivenessReport {
	m.mu.RLock()
	hb, ok := m.samples[agentID]
	m.mu.RUnlock()

	if !ok {
		return LivenessReport{AgentID: agentID, Liveness: domain.LivenessOffline}
	}

	seen := hb.ReceivedAt
	return LivenessReport{
		AgentID:  agentID,
		Liveness: domain.ClassifyLiveness(m.now().Sub(seen)),
		LastSeen: &seen,
	}
}

// Snapshot возвращает живость всех известных агентов владельца
func (m *Monitor) Snapshot(ownerID string) []LivenessReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	out := make([]LivenessReport, 0, len(m.samples))
	for _, hb := range m.samples {
		if hb.OwnerID != ownerID {
			continue
		}
		seen := hb.ReceivedAt
		out = append(out, LivenessReport{
			AgentID:  hb.AgentID,
			Liveness: domain.ClassifyLiveness(now.Sub(seen)),
			LastSeen: &seen,
		})
	}
	return out
}

// Prune вычищает сэмплы старше retention-окна. Возвращает число удаленных.
func (m *Monitor) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, hb := range m.samples {
		if now.Sub(hb.ReceivedAt) > domain.HeartbeatRetention {
			delete(m.samples, id)
			removed++
		}
	}
	return removed
}

// StartPruner запускает периодическую чистку. Останавливается через контекст —
// явная фоновая задача с жизненным циклом сервиса, а не ambient-таймер.
func (m *Monitor) StartPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("heartbeat pruner stopping")
				return
			case <-ticker.C:
				if n := m.Prune(); n > 0 {
					m.logger.Debug("pruned stale heartbeats", zap.Int("count", n))
				}
			}
		}
	}()
}
