package workload

import (
	"time"

	"github.com/xela07ax/agent-control-plane/internal/domain"
)

// Рабочие часы и пороги планирования
const (
	businessHoursStart = 9
	businessHoursEnd   = 17

	normalDeferral   = 30 * time.Minute
	imminentDeadline = time.Hour
)

// ScheduleHint — рекомендация, когда запускать задачу
type ScheduleHint struct {
	StartAt   time.Time `json:"start_at"`
	Immediate bool      `json:"immediate"`
	Reason    string    `json:"reason"`
}

// Schedule вычисляет момент запуска по приоритету и дедлайну:
//   - приоритет ≤2 — немедленно;
//   - приоритет 3 — +30 минут, если в очереди есть срочные задачи;
//   - приоритет ≥4 — за пределы рабочих часов (09:00–17:00);
//   - горящий дедлайн (<1ч или уже просрочен) всегда форсирует немедленный запуск.
func Schedule(task *domain.AgentTask, hasUrgentQueued bool, now time.Time) ScheduleHint {
	// Дедлайн важнее любых правил отсрочки
	if task.Deadline != nil {
		until := task.Deadline.Sub(now)
		if until < imminentDeadline {
			reason := "deadline imminent"
			if until < 0 {
				reason = "deadline overdue"
			}
			return ScheduleHint{StartAt: now, Immediate: true, Reason: reason}
		}
	}

	switch {
	case task.Priority <= domain.PriorityUrgent:
		return ScheduleHint{StartAt: now, Immediate: true, Reason: "urgent priority"}

	case task.Priority == domain.PriorityNormal:
		if hasUrgentQueued {
			return ScheduleHint{StartAt: now.Add(normalDeferral), Reason: "deferred behind urgent queue"}
		}
		return ScheduleHint{StartAt: now, Immediate: true, Reason: "queue is clear"}

	default:
		// Низкий приоритет — не мешаем рабочему дню
		return ScheduleHint{StartAt: nextOffHours(now), Reason: "deferred to off-business hours"}
	}
}

// nextOffHours возвращает ближайший момент вне окна 09:00–17:00
func nextOffHours(now time.Time) time.Time {
	h := now.Hour()
	if h < businessHoursStart || h >= businessHoursEnd {
		return now
	}
	return time.Date(now.Year(), now.Month(), now.Day(), businessHoursEnd, 0, 0, 0, now.Location())
}
