package broadcast

import (
	"context"
	"time"

	"github.com/xela07ax/agent-control-plane/internal/domain"
)

// PollInterval — рекомендованный клиенту интервал опроса
const PollInterval = 30 * time.Second

// DeltaStore отдает статусы, изменившиеся после отметки времени
type DeltaStore interface {
	ListStatusesChangedSince(ctx context.Context, ownerID string, since time.Time) ([]domain.AgentStatus, error)
}

// PollResult — дельта для polling-наблюдателя: только изменившиеся записи
// и серверная отметка времени для следующего запроса
type PollResult struct {
	Updates             []domain.AgentStatus `json:"updates"`
	ServerTime          time.Time            `json:"server_time"`
	PollIntervalSeconds int                  `json:"poll_interval_seconds"`
}

// Poller обслуживает наблюдателей без streaming-соединения
type Poller struct {
	store DeltaStore
	now   func() time.Time
}

func NewPoller(store DeltaStore) *Poller {
	return &Poller{store: store, now: time.Now}
}

// Delta возвращает изменения с момента since. Нулевой since означает
// первый запрос клиента: отдаем все записи владельца.
func (p *Poller) Delta(ctx context.Context, ownerID string, since time.Time) (*PollResult, error) {
	updates, err := p.store.ListStatusesChangedSince(ctx, ownerID, since)
	if err != nil {
		return nil, err
	}
	return &PollResult{
		Updates:             updates,
		ServerTime:          p.now(),
		PollIntervalSeconds: int(PollInterval.Seconds()),
	}, nil
}
