package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/engine"
	"github.com/xela07ax/agent-control-plane/internal/infra"
	"go.uber.org/zap"
)

// Connection — живой streaming-наблюдатель. Канал буферизован: переполнение
// означает мертвый или безнадежно медленный сокет, такое соединение выселяется.
type Connection struct {
	ID       string
	UserID   string
	AgentIDs []string // Пустой список = без фильтра ("all")

	ch           chan []byte
	createdAt    time.Time
	lastActivity time.Time // Под мьютексом хаба

	// sendMu сериализует отправку с закрытием канала: выселение,
	// конкурентное Publish/Subscribe, не должно уронить send-on-closed
	sendMu sync.Mutex
	closed bool
}

// Events — канал исходящих сериализованных событий соединения
func (c *Connection) Events() <-chan []byte {
	return c.ch
}

// trySend — неблокирующая отправка. false: буфер полон либо соединение
// уже закрыто (в обоих случаях событие наблюдателю не уйдет).
func (c *Connection) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.ch <- data:
		return true
	default:
		return false
	}
}

// closeSend закрывает канал ровно один раз; буферизованные события
// читатель дочитывает до конца
func (c *Connection) closeSend() {
	c.sendMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	c.sendMu.Unlock()
}

// Unfiltered — соединение без скоупа по агентам
func (c *Connection) Unfiltered() bool {
	return len(c.AgentIDs) == 0
}

// Hub владеет реестром наблюдателей и пер-агентным индексом подписчиков.
// Инжектируемый объект с жизненным циклом сервиса (не процесс-глобальная мапа):
// тесты поднимают изолированные экземпляры.
//
// Доставка fire-and-forget: Publish никогда не блокирует путь записи,
// сбой доставки одному наблюдателю не влияет на остальных.
type Hub struct {
	logger  *zap.Logger
	metrics *engine.Metrics

	// rdb позволяет событиям других инстансов доходить до локальных
	// наблюдателей; nil — single-instance режим
	rdb        *redis.Client
	instanceID string

	sendBuffer int

	mu      sync.RWMutex
	conns   map[string]*Connection
	byAgent map[string]map[string]struct{} // agentID -> set(connID)
	allSet  map[string]struct{}            // connID нефильтрованных

	now func() time.Time
}

func NewHub(rdb *redis.Client, metrics *engine.Metrics, logger *zap.Logger, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		logger:     logger.Named("broadcast-hub"),
		metrics:    metrics,
		rdb:        rdb,
		instanceID: uuid.New().String(),
		sendBuffer: sendBuffer,
		conns:      make(map[string]*Connection),
		byAgent:    make(map[string]map[string]struct{}),
		allSet:     make(map[string]struct{}),
		now:        time.Now,
	}
}

// Subscribe регистрирует наблюдателя. Первое событие в канале —
// connection_established с ID соединения.
func (h *Hub) Subscribe(userID string, agentIDs []string) *Connection {
	now := h.now()
	conn := &Connection{
		ID:           uuid.New().String(),
		UserID:       userID,
		AgentIDs:     agentIDs,
		ch:           make(chan []byte, h.sendBuffer),
		createdAt:    now,
		lastActivity: now,
	}

	h.mu.Lock()
	h.conns[conn.ID] = conn
	if conn.Unfiltered() {
		h.allSet[conn.ID] = struct{}{}
	} else {
		for _, agentID := range agentIDs {
			set, ok := h.byAgent[agentID]
			if !ok {
				set = make(map[string]struct{})
				h.byAgent[agentID] = set
			}
			set[conn.ID] = struct{}{}
		}
	}
	total := len(h.conns)
	h.mu.Unlock()

	h.metrics.ObserverConnections.Set(float64(total))

	welcome, _ := json.Marshal(domain.BroadcastEvent{
		Kind:    domain.EventConnectionEstablished,
		Payload: map[string]string{"connection_id": conn.ID},
		SentAt:  now,
	})
	conn.trySend(welcome) // Буфер пуст; после конкурентного выселения — no-op

	h.logger.Debug("observer subscribed",
		zap.String("conn_id", conn.ID),
		zap.String("user_id", userID),
		zap.Int("agent_filter", len(agentIDs)))

	return conn
}

// Unsubscribe выселяет соединение из реестра и всех индексов.
// Дальнейшая доставка в него прекращается; остальных не трогаем.
func (h *Hub) Unsubscribe(connID string) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if ok {
		h.evictLocked(conn)
	}
	total := len(h.conns)
	h.mu.Unlock()

	if ok {
		h.metrics.ObserverConnections.Set(float64(total))
	}
}

// evictLocked вызывается строго под h.mu
func (h *Hub) evictLocked(conn *Connection) {
	delete(h.conns, conn.ID)
	delete(h.allSet, conn.ID)
	for _, agentID := range conn.AgentIDs {
		if set, ok := h.byAgent[agentID]; ok {
			delete(set, conn.ID)
			if len(set) == 0 {
				delete(h.byAgent, agentID)
			}
		}
	}
	conn.closeSend()
}

// Touch отмечает активность соединения (успешную запись в сокет)
func (h *Hub) Touch(connID string) {
	h.mu.Lock()
	if conn, ok := h.conns[connID]; ok {
		conn.lastActivity = h.now()
	}
	h.mu.Unlock()
}

// wireEvent — конверт для транзита через Redis между инстансами
type wireEvent struct {
	Origin  string          `json:"origin"`
	OwnerID string          `json:"owner_id"`
	AgentID string          `json:"agent_id,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Publish сериализует событие один раз и доставляет его каждому соединению,
// подписанному на агента события, плюс всем нефильтрованным соединениям
// того же владельца. O(подписчиков), не O(всех соединений).
func (h *Hub) Publish(event domain.BroadcastEvent) {
	if event.SentAt.IsZero() {
		event.SentAt = h.now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to serialize broadcast event", zap.Error(err))
		return
	}

	h.deliverLocal(event.OwnerID, event.AgentID, data)

	// Транзит другим инстансам; сбой Redis не трогает локальную доставку
	if h.rdb != nil {
		wire, _ := json.Marshal(wireEvent{
			Origin:  h.instanceID,
			OwnerID: event.OwnerID,
			AgentID: event.AgentID,
			Data:    data,
		})
		if err := h.rdb.Publish(context.Background(), infra.RedisChanStatusEvents, wire).Err(); err != nil {
			h.logger.Warn("redis event relay failed", zap.Error(err))
		}
	}
}

func (h *Hub) deliverLocal(ownerID, agentID string, data []byte) {
	// Собираем целевые соединения под RLock, отправляем без блокировки
	h.mu.RLock()
	targets := make([]*Connection, 0, 4)
	seen := make(map[string]struct{})

	addTarget := func(connID string) {
		if _, dup := seen[connID]; dup {
			return
		}
		if conn, ok := h.conns[connID]; ok && conn.UserID == ownerID {
			targets = append(targets, conn)
			seen[connID] = struct{}{}
		}
	}

	if agentID != "" {
		for connID := range h.byAgent[agentID] {
			addTarget(connID)
		}
	}
	for connID := range h.allSet {
		addTarget(connID)
	}
	h.mu.RUnlock()

	var dead []*Connection
	for _, conn := range targets {
		if conn.trySend(data) {
			h.metrics.BroadcastDeliveries.Inc()
		} else {
			// Переполненный буфер = мертвый сокет: выселяем, остальных не трогаем
			h.metrics.BroadcastDrops.Inc()
			dead = append(dead, conn)
		}
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, conn := range dead {
			if _, ok := h.conns[conn.ID]; ok {
				h.evictLocked(conn)
				h.logger.Warn("observer connection evicted: send buffer full",
					zap.String("conn_id", conn.ID))
			}
		}
		total := len(h.conns)
		h.mu.Unlock()
		h.metrics.ObserverConnections.Set(float64(total))
	}
}

// StartBridge подписывается на Redis-канал событий: события, опубликованные
// другим инстансом Control Plane, доставляются локальным наблюдателям.
func (h *Hub) StartBridge(ctx context.Context) {
	if h.rdb == nil {
		return
	}

	go engine.ListenEventsResilient(ctx, h.rdb, h.logger, infra.RedisChanStatusEvents,
		nil,
		func(payload []byte) {
			var wire wireEvent
			if err := json.Unmarshal(payload, &wire); err != nil {
				h.logger.Error("invalid wire event", zap.Error(err))
				return
			}
			if wire.Origin == h.instanceID {
				return // Свое же событие, локально уже доставлено
			}
			h.deliverLocal(wire.OwnerID, wire.AgentID, wire.Data)
		},
	)
}

// StartMaintenance запускает keep-alive и чистку простаивающих соединений.
// Останавливается контекстом сервиса.
func (h *Hub) StartMaintenance(ctx context.Context, keepAliveEvery, sweepEvery, idleTimeout time.Duration) {
	if keepAliveEvery <= 0 {
		keepAliveEvery = 30 * time.Second
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}

	go func() {
		keepAlive := time.NewTicker(keepAliveEvery)
		sweep := time.NewTicker(sweepEvery)
		defer keepAlive.Stop()
		defer sweep.Stop()

		for {
			select {
			case <-ctx.Done():
				h.logger.Info("broadcast maintenance stopping")
				return
			case <-keepAlive.C:
				h.sendKeepAlive()
			case <-sweep.C:
				start := time.Now()
				h.sweepIdle(idleTimeout)
				h.metrics.SweepDuration.WithLabelValues("idle_connections").Observe(time.Since(start).Seconds())
			}
		}
	}()
}

// sendKeepAlive шлет heartbeat-событие всем streaming-соединениям:
// полуоткрытые сокеты обнаруживаются при записи на стороне хендлера.
func (h *Hub) sendKeepAlive() {
	data, _ := json.Marshal(domain.BroadcastEvent{
		Kind:   domain.EventHeartbeat,
		SentAt: h.now(),
	})

	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		// Полный буфер выселит idle sweep или следующий Publish
		conn.trySend(data)
	}
}

// sweepIdle выселяет соединения без активности дольше таймаута
func (h *Hub) sweepIdle(idleTimeout time.Duration) {
	now := h.now()

	h.mu.Lock()
	var evicted int
	for _, conn := range h.conns {
		if now.Sub(conn.lastActivity) > idleTimeout {
			h.evictLocked(conn)
			evicted++
		}
	}
	total := len(h.conns)
	h.mu.Unlock()

	if evicted > 0 {
		h.metrics.ObserverConnections.Set(float64(total))
		h.logger.Info("idle observer connections dropped", zap.Int("count", evicted))
	}
}

// ConnectionCount — текущее число наблюдателей (для тестов и дашборда)
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
