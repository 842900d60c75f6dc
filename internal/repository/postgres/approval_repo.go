package postgres

/*
Файл approval_repo.go содержит durable-операции механизма Human-in-the-loop
(HITL, «человек в контуре»): очередь заявок, атомарная финализация,
выборки для sweeper-ов и append-only история решений.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/agent-control-plane/internal/domain"
)

const approvalColumns = `id, owner_id, agent_id, task_id, action_type, action_data,
	risk_tier, priority, status, reviewer_id, review_notes, escalated_from,
	created_at, expires_at, updated_at`

func scanApproval(row interface{ Scan(...any) error }) (*domain.ApprovalQueueEntry, error) {
	var a domain.ApprovalQueueEntry
	var taskID, reviewerID, notes, escalatedFrom sql.NullString // Обработка NULL из БД

	err := row.Scan(
		&a.ID, &a.OwnerID, &a.AgentID, &taskID, &a.ActionType, &a.ActionData,
		&a.RiskTier, &a.Priority, &a.Status, &reviewerID, &notes, &escalatedFrom,
		&a.CreatedAt, &a.ExpiresAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if taskID.Valid {
		a.TaskID = taskID.String
	}
	if reviewerID.Valid {
		val := reviewerID.String
		a.ReviewerID = &val
	}
	if notes.Valid {
		val := notes.String
		a.ReviewNotes = &val
	}
	if escalatedFrom.Valid {
		val := escalatedFrom.String
		a.EscalatedFrom = &val
	}
	return &a, nil
}

// CreateApproval ставит заявку в очередь решений оператора
func (r *Repo) CreateApproval(ctx context.Context, a *domain.ApprovalQueueEntry) error {
	query := `
		INSERT INTO approval_queue (id, owner_id, agent_id, task_id, action_type, action_data,
		                            risk_tier, priority, status, escalated_from,
		                            created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.OwnerID, a.AgentID, nullString(a.TaskID), a.ActionType, emptyJSON(a.ActionData),
		a.RiskTier, a.Priority, a.Status, nullStringPtr(a.EscalatedFrom),
		a.CreatedAt, a.ExpiresAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create approval: %w", err)
	}
	return nil
}

// GetApproval — заявка владельца по ID
func (r *Repo) GetApproval(ctx context.Context, ownerID, id string) (*domain.ApprovalQueueEntry, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_queue WHERE owner_id = $1 AND id = $2`

	a, err := scanApproval(r.db.QueryRowContext(ctx, query, ownerID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get approval: %w", err)
	}
	return a, nil
}

// ListApprovals — очередь решений владельца (Decision Queue): pending вперед,
// внутри группы самые срочные выше
func (r *Repo) ListApprovals(ctx context.Context, ownerID string, status domain.ApprovalStatus, limit int) ([]*domain.ApprovalQueueEntry, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_queue WHERE owner_id = $1`
	args := []any{ownerID}

	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY priority, created_at DESC LIMIT %d", limit)

	return r.listApprovals(ctx, query, args...)
}

// FinalizeApproval атомарно присваивает заявке терминальный статус.
// Условие WHERE status = 'pending' предотвращает Double Decision:
// выигрывает первый пишущий, проигравший получает domain.ErrAlreadyProcessed.
// Скоуп по owner_id стоит прямо в UPDATE: чужая заявка не мутируется
// и неотличима от несуществующей. RETURNING отдает полную строку
// за один проход, без предварительного SELECT.
func (r *Repo) FinalizeApproval(ctx context.Context, ownerID, id string, next domain.ApprovalStatus, reviewerID, notes *string) (*domain.ApprovalQueueEntry, error) {
	query := `
		UPDATE approval_queue
		SET status = $1,
		    reviewer_id = COALESCE($2, reviewer_id),
		    review_notes = COALESCE($3, review_notes),
		    updated_at = NOW()
		WHERE owner_id = $4 AND id = $5 AND status = 'pending'
		RETURNING ` + approvalColumns

	a, err := scanApproval(r.db.QueryRowContext(ctx, query,
		next, nullStringPtr(reviewerID), nullStringPtr(notes), ownerID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Строк не найдено: либо заявки нет у этого владельца, либо
			// (что чаще) решение по ней уже было принято ранее
			return nil, r.classifyFinalizeMiss(ctx, ownerID, id)
		}
		return nil, fmt.Errorf("postgres: finalize approval: %w", err)
	}
	return a, nil
}

// classifyFinalizeMiss различает "нет такой заявки у владельца" и "уже обработана"
func (r *Repo) classifyFinalizeMiss(ctx context.Context, ownerID, id string) error {
	var status domain.ApprovalStatus
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM approval_queue WHERE owner_id = $1 AND id = $2`, ownerID, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: classify finalize miss: %w", err)
	}
	return domain.ErrAlreadyProcessed
}

// UpdateApprovalPriority поднимает срочность заявки (эскалационный sweeper)
func (r *Repo) UpdateApprovalPriority(ctx context.Context, id string, priority int) error {
	query := `UPDATE approval_queue SET priority = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, priority, id)
	if err != nil {
		return fmt.Errorf("postgres: update approval priority: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListExpiredPending — pending-заявки с истекшим TTL (вход expiration sweeper-а)
func (r *Repo) ListExpiredPending(ctx context.Context, now time.Time) ([]*domain.ApprovalQueueEntry, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_queue
	          WHERE status = 'pending' AND expires_at < $1
	          ORDER BY expires_at LIMIT 500`

	return r.listApprovals(ctx, query, now)
}

// ListPendingCreatedBefore — pending-заявки старше cutoff, у которых TTL
// еще не истек (вход escalation sweeper-а)
func (r *Repo) ListPendingCreatedBefore(ctx context.Context, cutoff, now time.Time) ([]*domain.ApprovalQueueEntry, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_queue
	          WHERE status = 'pending' AND created_at < $1 AND expires_at >= $2
	          ORDER BY created_at LIMIT 500`

	return r.listApprovals(ctx, query, cutoff, now)
}

func (r *Repo) listApprovals(ctx context.Context, query string, args ...any) ([]*domain.ApprovalQueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query approvals: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.ApprovalQueueEntry, 0)
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan approval: %w", err)
		}
		results = append(results, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// CreateHistory пишет append-only запись о терминальном событии заявки
func (r *Repo) CreateHistory(ctx context.Context, rec *domain.ApprovalHistoryRecord) error {
	query := `
		INSERT INTO approval_history (id, approval_id, owner_id, action_taken,
		                              reviewer_id, notes, processing_latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.ApprovalID, rec.OwnerID, rec.ActionTaken,
		nullStringPtr(rec.ReviewerID), nullString(rec.Notes), rec.ProcessingLatencyMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create approval history: %w", err)
	}
	return nil
}

// ListHistory — история решений по заявке (хронологически)
func (r *Repo) ListHistory(ctx context.Context, ownerID, approvalID string) ([]*domain.ApprovalHistoryRecord, error) {
	query := `
		SELECT id, approval_id, owner_id, action_taken, reviewer_id, notes,
		       processing_latency_ms, created_at
		FROM approval_history
		WHERE owner_id = $1 AND approval_id = $2
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, ownerID, approvalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query approval history: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.ApprovalHistoryRecord, 0)
	for rows.Next() {
		var rec domain.ApprovalHistoryRecord
		var reviewerID, notes sql.NullString

		err := rows.Scan(&rec.ID, &rec.ApprovalID, &rec.OwnerID, &rec.ActionTaken,
			&reviewerID, &notes, &rec.ProcessingLatencyMs, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan approval history: %w", err)
		}
		if reviewerID.Valid {
			val := reviewerID.String
			rec.ReviewerID = &val
		}
		if notes.Valid {
			rec.Notes = notes.String
		}
		results = append(results, &rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}
