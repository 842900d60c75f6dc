package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/agent-control-plane/internal/audit"
)

// WriteBatch сохраняет пачку событий аудита одним INSERT.
// Вызывается асинхронным worker-ом Trail, не горячим путем запросов.
func (r *Repo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_log
	numFields := 11
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11)

		details, _ := json.Marshal(e.Details)

		vals = append(vals,
			e.ID, e.TraceID, e.OwnerID, e.AgentID, e.Kind, e.Source,
			nullString(e.OldState), nullString(e.NewState), details, nullString(e.Error), e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO audit_log (id, trace_id, owner_id, agent_id, kind, source, old_state, new_state, details, error, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}
