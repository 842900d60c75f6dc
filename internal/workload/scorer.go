package workload

import (
	"github.com/xela07ax/agent-control-plane/internal/domain"
)

// HighWorkloadThreshold — выше этого значения агент считается перегруженным
const HighWorkloadThreshold = 80

// Score вычисляет числовую оценку загрузки агента. Меньше — доступнее.
//
// Формула:
//   Σ по активным задачам: (6 − priority) × (2, если in_progress, иначе 1)
//   + (1 − health_score) × 10
//   + 100, если агент offline/maintenance/error
func Score(tasks []*domain.AgentTask, status *domain.AgentStatus) float64 {
	var score float64

	for _, t := range tasks {
		if !t.IsActive() {
			continue
		}
		weight := 1.0
		if t.Status == domain.TaskInProgress {
			weight = 2.0
		}
		score += float64(6-t.Priority) * weight
	}

	if status != nil {
		score += (1 - status.HealthScore) * 10

		switch status.State {
		case domain.StateOffline, domain.StateMaintenance, domain.StateError:
			score += 100
		}
	}

	return score
}

// IsHighWorkload — операционный индикатор для дашборда и алертов
func IsHighWorkload(score float64) bool {
	return score > HighWorkloadThreshold
}
