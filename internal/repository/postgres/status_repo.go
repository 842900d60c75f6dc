package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/agent-control-plane/internal/domain"
)

const statusColumns = `agent_id, state, status_message, current_task_id,
	health_score, cpu_usage, memory_usage, uptime_seconds, last_activity, updated_at`

func scanStatus(row interface{ Scan(...any) error }) (*domain.AgentStatus, error) {
	var st domain.AgentStatus
	var message, taskID sql.NullString

	err := row.Scan(
		&st.AgentID, &st.State, &message, &taskID,
		&st.HealthScore, &st.CPUUsage, &st.MemoryUsage, &st.UptimeSeconds,
		&st.LastActivity, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if message.Valid {
		st.StatusMessage = message.String
	}
	if taskID.Valid {
		st.CurrentTaskID = taskID.String
	}
	return &st, nil
}

// GetStatus возвращает текущий статус агента владельца.
// Отсутствие записи — domain.ErrNotFound.
func (r *Repo) GetStatus(ctx context.Context, ownerID, agentID string) (*domain.AgentStatus, error) {
	query := `SELECT ` + statusColumns + `
	          FROM agent_statuses WHERE owner_id = $1 AND agent_id = $2`

	st, err := scanStatus(r.db.QueryRowContext(ctx, query, ownerID, agentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get status: %w", err)
	}
	return st, nil
}

// SaveStatus сохраняет снапшот статуса (upsert: первая запись агента создается
// тем же путем, что и переход)
func (r *Repo) SaveStatus(ctx context.Context, ownerID string, st *domain.AgentStatus) error {
	query := `
		INSERT INTO agent_statuses (owner_id, agent_id, state, status_message, current_task_id,
		                            health_score, cpu_usage, memory_usage, uptime_seconds,
		                            last_activity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (owner_id, agent_id) DO UPDATE SET
			state = EXCLUDED.state,
			status_message = EXCLUDED.status_message,
			current_task_id = EXCLUDED.current_task_id,
			health_score = EXCLUDED.health_score,
			cpu_usage = EXCLUDED.cpu_usage,
			memory_usage = EXCLUDED.memory_usage,
			uptime_seconds = EXCLUDED.uptime_seconds,
			last_activity = EXCLUDED.last_activity,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		ownerID, st.AgentID, st.State, nullString(st.StatusMessage), nullString(st.CurrentTaskID),
		st.HealthScore, st.CPUUsage, st.MemoryUsage, st.UptimeSeconds,
		st.LastActivity, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save status: %w", err)
	}
	return nil
}

// ListStatuses — все статусы агентов владельца (дашборд)
func (r *Repo) ListStatuses(ctx context.Context, ownerID string) ([]domain.AgentStatus, error) {
	return r.listStatuses(ctx,
		`SELECT `+statusColumns+` FROM agent_statuses WHERE owner_id = $1 ORDER BY agent_id`,
		ownerID)
}

// ListStatusesChangedSince — дельта для polling-наблюдателей: записи,
// изменившиеся строго после отметки since. Нулевой since отдает все.
func (r *Repo) ListStatusesChangedSince(ctx context.Context, ownerID string, since time.Time) ([]domain.AgentStatus, error) {
	if since.IsZero() {
		return r.ListStatuses(ctx, ownerID)
	}
	return r.listStatuses(ctx,
		`SELECT `+statusColumns+` FROM agent_statuses
		 WHERE owner_id = $1 AND updated_at > $2 ORDER BY updated_at`,
		ownerID, since)
}

func (r *Repo) listStatuses(ctx context.Context, query string, args ...any) ([]domain.AgentStatus, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query statuses: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]domain.AgentStatus, 0)
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan status: %w", err)
		}
		results = append(results, *st)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
