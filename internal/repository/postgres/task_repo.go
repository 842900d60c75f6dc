package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/agent-control-plane/internal/domain"
)

const taskColumns = `id, agent_id, owner_id, title, type, priority, status,
	deadline, started_at, estimated_minutes, actual_minutes, parameters,
	approval_id, required_capabilities, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*domain.AgentTask, error) {
	var t domain.AgentTask
	var deadline, startedAt sql.NullTime
	var approvalID sql.NullString
	var params, caps []byte

	err := row.Scan(
		&t.ID, &t.AgentID, &t.OwnerID, &t.Title, &t.Type, &t.Priority, &t.Status,
		&deadline, &startedAt, &t.EstimatedMinutes, &t.ActualMinutes, &params,
		&approvalID, &caps, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if deadline.Valid {
		v := deadline.Time
		t.Deadline = &v
	}
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if approvalID.Valid {
		v := approvalID.String
		t.ApprovalID = &v
	}
	t.Parameters = params
	t.RequiredCapabilities = decodeStringList(caps)
	return &t, nil
}

// CreateTask сохраняет новую единицу работы
func (r *Repo) CreateTask(ctx context.Context, t *domain.AgentTask) error {
	query := `
		INSERT INTO agent_tasks (id, agent_id, owner_id, title, type, priority, status,
		                         deadline, started_at, estimated_minutes, actual_minutes,
		                         parameters, approval_id, required_capabilities,
		                         created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.AgentID, t.OwnerID, t.Title, t.Type, t.Priority, t.Status,
		nullTimePtr(t.Deadline), nullTimePtr(t.StartedAt), t.EstimatedMinutes, t.ActualMinutes,
		emptyJSON(t.Parameters), nullStringPtr(t.ApprovalID), encodeStringList(t.RequiredCapabilities),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create task: %w", err)
	}
	return nil
}

// GetTask — задача владельца по ID
func (r *Repo) GetTask(ctx context.Context, ownerID, id string) (*domain.AgentTask, error) {
	query := `SELECT ` + taskColumns + ` FROM agent_tasks WHERE owner_id = $1 AND id = $2`

	t, err := scanTask(r.db.QueryRowContext(ctx, query, ownerID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get task: %w", err)
	}
	return t, nil
}

// ListActiveTasksByAgent — активные (pending + in_progress) задачи агента.
// Вход Workload Scorer: только они дают вклад в нагрузку.
func (r *Repo) ListActiveTasksByAgent(ctx context.Context, ownerID, agentID string) ([]*domain.AgentTask, error) {
	query := `SELECT ` + taskColumns + ` FROM agent_tasks
	          WHERE owner_id = $1 AND agent_id = $2 AND status IN ('pending', 'in_progress')
	          ORDER BY priority, created_at`

	return r.listTasks(ctx, query, ownerID, agentID)
}

// ListTasksByOwner — задачи владельца с опциональным фильтром по статусу
func (r *Repo) ListTasksByOwner(ctx context.Context, ownerID string, status domain.TaskStatus, limit int) ([]*domain.AgentTask, error) {
	query := `SELECT ` + taskColumns + ` FROM agent_tasks WHERE owner_id = $1`
	args := []any{ownerID}

	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	return r.listTasks(ctx, query, args...)
}

func (r *Repo) listTasks(ctx context.Context, query string, args ...any) ([]*domain.AgentTask, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query tasks: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.AgentTask, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan task: %w", err)
		}
		results = append(results, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// AssignTask привязывает задачу к агенту и фиксирует момент старта.
// scheduledStart может лежать в будущем (отложенный запуск планировщика).
func (r *Repo) AssignTask(ctx context.Context, ownerID, taskID, agentID string, status domain.TaskStatus, scheduledStart time.Time) error {
	query := `UPDATE agent_tasks
	          SET agent_id = $1, status = $2, started_at = $3, updated_at = NOW()
	          WHERE owner_id = $4 AND id = $5`

	result, err := r.db.ExecContext(ctx, query, agentID, status, scheduledStart, ownerID, taskID)
	if err != nil {
		return fmt.Errorf("postgres: assign task: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetTaskApproval переводит задачу в pending_approval со ссылкой на заявку HITL
func (r *Repo) SetTaskApproval(ctx context.Context, ownerID, taskID, approvalID string) error {
	query := `UPDATE agent_tasks
	          SET status = 'pending_approval', approval_id = $1, updated_at = NOW()
	          WHERE owner_id = $2 AND id = $3`

	result, err := r.db.ExecContext(ctx, query, approvalID, ownerID, taskID)
	if err != nil {
		return fmt.Errorf("postgres: set task approval: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateTaskStatus — смена статуса задачи (завершение, отмена, провал)
func (r *Repo) UpdateTaskStatus(ctx context.Context, ownerID, taskID string, status domain.TaskStatus) error {
	query := `UPDATE agent_tasks SET status = $1, updated_at = NOW()
	          WHERE owner_id = $2 AND id = $3`

	result, err := r.db.ExecContext(ctx, query, status, ownerID, taskID)
	if err != nil {
		return fmt.Errorf("postgres: update task status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func emptyJSON(data []byte) []byte {
	if len(data) == 0 {
		return []byte("{}")
	}
	return data
}
