package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTPAdapter отправляет одобренные действия во внешний исполнитель
// (task runner, почтовый шлюз, деплой-сервис) по простому JSON-контракту:
// POST {base}/execute {"action_type": ..., "payload": {...}}
type HTTPAdapter struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAdapter(baseURL string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPAdapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type executeRequest struct {
	ActionType string          `json:"action_type"`
	Payload    json.RawMessage `json:"payload"`
}

// Call реализует интерфейс engine.ExecutionProvider
func (a *HTTPAdapter) Call(ctx context.Context, actionType string, payload []byte) ([]byte, error) {
	body, err := json.Marshal(executeRequest{ActionType: actionType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read executor response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		// Уважаем Retry-After: ReliabilityWrapper использует его как задержку ретрая
		retryAfter := 5 * time.Second
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, &ThrottleError{
			RetryAfter: retryAfter,
			Cause:      fmt.Errorf("executor throttled request"),
		}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("executor returned error [%d]: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
