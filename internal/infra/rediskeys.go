package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "acp"
)

// Ключи (состояние, дедупликация)
const (
	// RedisKeyOfflineAlert + agentID — окно подавления повторных offline-алертов.
	// SetNX с TTL 10 минут: не больше одного алерта на агента за окно.
	RedisKeyOfflineAlert = RedisNamespace + ":alerts:offline:"

	// RedisKeyLockSweep + имя sweep-а — распределенный замок, чтобы при нескольких
	// инстансах sweep выполнял только один
	RedisKeyLockSweep = RedisNamespace + ":lock:sweep:"

	// RedisKeySuspendedSet — множество деактивированных агентов.
	// L1 (RAM) кэш Assignor-а инициализируется из него при старте.
	RedisKeySuspendedSet = RedisNamespace + ":agents:suspended_set"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanStatusEvents — трансляция событий статуса между инстансами,
	// каждый инстанс доставляет их своим локальным наблюдателям
	RedisChanStatusEvents = RedisNamespace + ":events:status"

	// RedisChanApprovalEvents — решения и эскалации по заявкам HITL
	RedisChanApprovalEvents = RedisNamespace + ":events:approvals"

	// RedisChanSuspension — сигналы деактивации/реактивации агентов:
	// "agentID:true" выводит агента из ротации на всех инстансах мгновенно
	RedisChanSuspension = RedisNamespace + ":agents:suspension"
)

// GetOfflineAlertKey — ключ окна подавления для конкретного агента
func GetOfflineAlertKey(agentID string) string {
	return RedisKeyOfflineAlert + agentID
}

// GetSweepLockKey Генератор ключей замков для sweeper-ов
func GetSweepLockKey(name string) string {
	return fmt.Sprintf("%s%s", RedisKeyLockSweep, name)
}
