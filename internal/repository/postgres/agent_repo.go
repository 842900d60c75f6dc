package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/agent-control-plane/internal/domain"
)

func encodeStringList(list []string) []byte {
	if list == nil {
		list = []string{}
	}
	data, _ := json.Marshal(list)
	return data
}

func decodeStringList(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var list []string
	_ = json.Unmarshal(data, &list)
	return list
}

const agentColumns = `id, owner_id, name, type, capabilities, expertise,
	model_profile, trust_score, is_active, created_at, updated_at`

// Capabilities и expertise хранятся в jsonb: database/sql не сканирует
// text[] без дополнительных зависимостей
func scanAgent(row interface{ Scan(...any) error }) (*domain.Agent, error) {
	var a domain.Agent
	var caps, exp []byte

	err := row.Scan(
		&a.ID, &a.OwnerID, &a.Name, &a.Type, &caps, &exp,
		&a.ModelProfile, &a.TrustScore, &a.IsActive, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Capabilities = decodeStringList(caps)
	a.Expertise = decodeStringList(exp)
	return &a, nil
}

// CreateAgent регистрирует агента владельца
func (r *Repo) CreateAgent(ctx context.Context, a *domain.Agent) error {
	query := `
		INSERT INTO agents (id, owner_id, name, type, capabilities, expertise,
		                    model_profile, trust_score, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.OwnerID, a.Name, a.Type, encodeStringList(a.Capabilities), encodeStringList(a.Expertise),
		a.ModelProfile, a.TrustScore, a.IsActive, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create agent: %w", err)
	}
	return nil
}

// GetAgent — агент владельца по ID. Отсутствие — domain.ErrNotFound.
func (r *Repo) GetAgent(ctx context.Context, ownerID, id string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE owner_id = $1 AND id = $2`

	a, err := scanAgent(r.db.QueryRowContext(ctx, query, ownerID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get agent: %w", err)
	}
	return a, nil
}

// ListActiveAgents — кандидаты для назначения задач (только активные)
func (r *Repo) ListActiveAgents(ctx context.Context, ownerID string) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents
	          WHERE owner_id = $1 AND is_active = TRUE ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query agents: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		results = append(results, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// SetAgentActive деактивирует/реактивирует агента (деактивация вместо удаления)
func (r *Repo) SetAgentActive(ctx context.Context, ownerID, id string, active bool) error {
	query := `UPDATE agents SET is_active = $1, updated_at = NOW()
	          WHERE owner_id = $2 AND id = $3`

	result, err := r.db.ExecContext(ctx, query, active, ownerID, id)
	if err != nil {
		return fmt.Errorf("postgres: set agent active: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateAgentTrust корректирует trust score (вход auto-approve правил)
func (r *Repo) UpdateAgentTrust(ctx context.Context, ownerID, id string, trust float64) error {
	query := `UPDATE agents SET trust_score = $1, updated_at = NOW()
	          WHERE owner_id = $2 AND id = $3`

	result, err := r.db.ExecContext(ctx, query, trust, ownerID, id)
	if err != nil {
		return fmt.Errorf("postgres: update trust: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
