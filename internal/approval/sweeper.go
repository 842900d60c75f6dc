package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agent-control-plane/internal/audit"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"github.com/xela07ax/agent-control-plane/internal/engine"
	"go.uber.org/zap"
)

// SweepExpired переводит протухшие pending-заявки в expired.
// Идемпотентен: прогон без работы — no-op, конфликт условного обновления
// (кто-то успел решить/подмести) просто пропускается.
// Протухание — штатный терминальный исход, не ошибка.
func (w *Workflow) SweepExpired(ctx context.Context) (int, error) {
	now := w.now()
	expired, err := w.store.ListExpiredPending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("approval: expiration sweep query failed: %w", err)
	}

	swept := 0
	for _, entry := range expired {
		finalized, err := w.store.FinalizeApproval(ctx, entry.OwnerID, entry.ID, domain.ApprovalExpired, nil, nil)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyProcessed) {
				continue // Параллельный прогон или решение успели раньше
			}
			w.logger.Error("failed to expire approval", zap.String("approval_id", entry.ID), zap.Error(err))
			continue
		}

		w.recordOutcome(ctx, finalized, "expired", nil, "ttl elapsed")

		if err := w.notifier.ResolveByRef(ctx, finalized.OwnerID, finalized.ID, "expired"); err != nil {
			w.logger.Warn("failed to resolve notifications for expired approval",
				zap.String("approval_id", finalized.ID), zap.Error(err))
		}

		w.auditor.Record(audit.Event{
			ID:      uuid.New().String(),
			OwnerID: finalized.OwnerID,
			AgentID: finalized.AgentID,
			Kind:    audit.EventApprovalExpired,
			Details: map[string]interface{}{"approval_id": finalized.ID},
		})

		if w.onExpired != nil {
			w.onExpired(ctx, finalized)
		}
		swept++
	}

	if swept > 0 {
		w.logger.Info("expiration sweep finished", zap.Int("expired", swept))
	}
	return swept, nil
}

// SweepEscalations рассылает эскалационные уведомления по порогам 1h/4h/8h
// ожидания. Для пары (заявка, уровень) уведомление создается не больше
// одного раза: перед отправкой проверяем существующие записи — повторный
// или параллельный прогон не дает дублей. С каждым новым уровнем приоритет
// заявки растет (численно уменьшается, пол — 1).
func (w *Workflow) SweepEscalations(ctx context.Context) (int, error) {
	now := w.now()
	cutoff := now.Add(-escalationThresholds[0])

	pending, err := w.store.ListPendingCreatedBefore(ctx, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("approval: escalation sweep query failed: %w", err)
	}

	sent := 0
	for _, entry := range pending {
		if entry.IsExpired(now) {
			continue // Протухшие — забота expiration sweep
		}

		waited := now.Sub(entry.CreatedAt)
		priority := entry.Priority

		for i, threshold := range escalationThresholds {
			level := i + 1
			if waited < threshold {
				break
			}

			exists, err := w.notifier.HasEscalation(ctx, entry.OwnerID, entry.ID, level)
			if err != nil {
				w.logger.Warn("escalation dedup check failed, skipping level",
					zap.String("approval_id", entry.ID), zap.Int("level", level), zap.Error(err))
				continue
			}
			if exists {
				continue
			}

			if err := w.notifier.Create(ctx, &domain.Notification{
				ID:              uuid.New().String(),
				OwnerID:         entry.OwnerID,
				AgentID:         entry.AgentID,
				Type:            domain.NotifyApprovalEscalated,
				Title:           fmt.Sprintf("Approval waiting %s", threshold),
				Message:         fmt.Sprintf("approval for %s still pending after %s", entry.ActionType, threshold),
				RefID:           entry.ID,
				EscalationLevel: level,
				CreatedAt:       now,
			}); err != nil {
				w.logger.Error("escalation notification failed",
					zap.String("approval_id", entry.ID), zap.Int("level", level), zap.Error(err))
				continue
			}
			sent++

			if priority > domain.PriorityHighest {
				priority--
			}

			w.auditor.Record(audit.Event{
				ID:      uuid.New().String(),
				OwnerID: entry.OwnerID,
				AgentID: entry.AgentID,
				Kind:    audit.EventApprovalEscalated,
				Details: map[string]interface{}{"approval_id": entry.ID, "level": level},
			})
		}

		if priority != entry.Priority {
			if err := w.store.UpdateApprovalPriority(ctx, entry.ID, priority); err != nil {
				w.logger.Warn("failed to raise approval priority",
					zap.String("approval_id", entry.ID), zap.Error(err))
			}
		}
	}

	if sent > 0 {
		w.logger.Info("escalation sweep finished", zap.Int("notifications", sent))
	}
	return sent, nil
}

// StartSweepers запускает фоновые прогоны с явным жизненным циклом:
// контекст сервиса останавливает обе горутины. SweepLock гарантирует,
// что при нескольких инстансах тик исполняет только один.
func (w *Workflow) StartSweepers(ctx context.Context, lock *engine.SweepLock, expirationEvery, escalationEvery time.Duration) {
	if expirationEvery <= 0 {
		expirationEvery = 5 * time.Minute
	}
	if escalationEvery <= 0 {
		escalationEvery = 15 * time.Minute
	}

	run := func(name string, fn func(context.Context) (int, error)) {
		if !lock.TryAcquire(ctx, name, time.Minute) {
			return
		}
		start := time.Now()
		if _, err := fn(ctx); err != nil {
			w.logger.Error("sweep run failed", zap.String("sweep", name), zap.Error(err))
		}
		w.metrics.SweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}

	go func() {
		ticker := time.NewTicker(expirationEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				w.logger.Info("expiration sweeper stopping")
				return
			case <-ticker.C:
				run("expiration", w.SweepExpired)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(escalationEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				w.logger.Info("escalation sweeper stopping")
				return
			case <-ticker.C:
				run("escalation", w.SweepEscalations)
			}
		}
	}()
}
