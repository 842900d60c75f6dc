package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agent-control-plane/internal/infra"
	"go.uber.org/zap"
)

// SweepLock — распределенный замок для фоновых sweeper-ов.
// При нескольких инстансах Control Plane прогон выполняет только один:
// остальные пропускают тик. SetNX с TTL страхует от зависшего владельца.
type SweepLock struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewSweepLock(rdb *redis.Client, logger *zap.Logger) *SweepLock {
	return &SweepLock{rdb: rdb, logger: logger.Named("sweep-lock")}
}

// TryAcquire возвращает true, если этот инстанс должен выполнить прогон.
// Ошибка Redis трактуется как "выполняй": sweep идемпотентен, двойной прогон
// безопаснее пропущенного.
func (l *SweepLock) TryAcquire(ctx context.Context, sweep string, ttl time.Duration) bool {
	if l.rdb == nil {
		return true // Single-instance режим (тесты, локальный запуск)
	}

	ok, err := l.rdb.SetNX(ctx, infra.GetSweepLockKey(sweep), "processing", ttl).Result()
	if err != nil {
		l.logger.Warn("sweep lock check failed, running anyway",
			zap.String("sweep", sweep), zap.Error(err))
		return true
	}
	return ok
}
