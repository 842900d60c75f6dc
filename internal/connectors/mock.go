package connectors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// MockExecutor имитирует внешний исполнитель действий для локальной разработки.
type MockExecutor struct{}

func (c *MockExecutor) Call(ctx context.Context, actionType string, payload []byte) ([]byte, error) {
	// Имитируем задержку 50-300мс
	latency := time.Duration(50+rand.Intn(250)) * time.Millisecond

	select {
	case <-time.After(latency):
		// Имитация работы
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch actionType {
	case "task_execution":
		return []byte(`{"status": "started", "runner": "mock"}`), nil
	case "external_send":
		return []byte(`{"status": "sent", "channel": "email"}`), nil
	case "config_change":
		return []byte(`{"status": "applied"}`), nil
	case "data_deletion":
		return []byte(`{"status": "deleted", "rows_affected": 1}`), nil
	case "deployment":
		return []byte(`{"status": "deployed", "revision": "r-42"}`), nil
	case "unstable.action":
		return nil, fmt.Errorf("executor internal error")
	default:
		return nil, fmt.Errorf("action type %s not supported by executor", actionType)
	}
}
