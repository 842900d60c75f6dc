package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/agent-control-plane/internal/domain"
)

const notificationColumns = `id, owner_id, agent_id, type, title, message,
	ref_id, escalation_level, resolved, resolution_notes, created_at, resolved_at`

func scanNotification(row interface{ Scan(...any) error }) (*domain.Notification, error) {
	var n domain.Notification
	var agentID, refID, notes sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&n.ID, &n.OwnerID, &agentID, &n.Type, &n.Title, &n.Message,
		&refID, &n.EscalationLevel, &n.Resolved, &notes, &n.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if agentID.Valid {
		n.AgentID = agentID.String
	}
	if refID.Valid {
		n.RefID = refID.String
	}
	if notes.Valid {
		val := notes.String
		n.ResolutionNotes = &val
	}
	if resolvedAt.Valid {
		val := resolvedAt.Time
		n.ResolvedAt = &val
	}
	return &n, nil
}

func (r *Repo) CreateNotification(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (id, owner_id, agent_id, type, title, message,
		                           ref_id, escalation_level, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.OwnerID, nullString(n.AgentID), n.Type, n.Title, n.Message,
		nullString(n.RefID), n.EscalationLevel, n.Resolved, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create notification: %w", err)
	}
	return nil
}

func (r *Repo) GetNotification(ctx context.Context, ownerID, id string) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
	          WHERE owner_id = $1 AND id = $2`

	n, err := scanNotification(r.db.QueryRowContext(ctx, query, ownerID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get notification: %w", err)
	}
	return n, nil
}

// ListNotifications — лента уведомлений владельца с фильтрами
func (r *Repo) ListNotifications(ctx context.Context, ownerID string, f domain.NotificationFilter) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE owner_id = $1`
	args := []any{ownerID}

	if f.Resolved != nil {
		args = append(args, *f.Resolved)
		query += fmt.Sprintf(" AND resolved = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query notifications: %w", err)
	}
	defer rows.Close()

	results := make([]domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan notification: %w", err)
		}
		results = append(results, *n)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// ResolveNotification закрывает одно уведомление
func (r *Repo) ResolveNotification(ctx context.Context, ownerID, id string, notes *string, at time.Time) error {
	query := `UPDATE notifications
	          SET resolved = TRUE, resolution_notes = $1, resolved_at = $2
	          WHERE owner_id = $3 AND id = $4 AND resolved = FALSE`

	result, err := r.db.ExecContext(ctx, query, nullStringPtr(notes), at, ownerID, id)
	if err != nil {
		return fmt.Errorf("postgres: resolve notification: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ResolveNotificationsByRef закрывает все открытые уведомления сущности.
// Ноль затронутых строк — не ошибка: уведомлений могло не быть вовсе.
func (r *Repo) ResolveNotificationsByRef(ctx context.Context, ownerID, refID string, notes *string, at time.Time) error {
	query := `UPDATE notifications
	          SET resolved = TRUE, resolution_notes = $1, resolved_at = $2
	          WHERE owner_id = $3 AND ref_id = $4 AND resolved = FALSE`

	_, err := r.db.ExecContext(ctx, query, nullStringPtr(notes), at, ownerID, refID)
	if err != nil {
		return fmt.Errorf("postgres: resolve notifications by ref: %w", err)
	}
	return nil
}

// CountEscalationNotifications — число эскалационных уведомлений уровня level
// для заявки. Опора идемпотентности эскалационного sweeper-а.
func (r *Repo) CountEscalationNotifications(ctx context.Context, ownerID, refID string, level int) (int, error) {
	query := `SELECT COUNT(*) FROM notifications
	          WHERE owner_id = $1 AND ref_id = $2 AND escalation_level = $3`

	var count int
	if err := r.db.QueryRowContext(ctx, query, ownerID, refID, level).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count escalation notifications: %w", err)
	}
	return count, nil
}
