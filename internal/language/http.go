package language

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPAnalyzer — клиент внешнего Language Service по синхронному
// request/response контракту с ограниченным таймаутом.
type HTTPAnalyzer struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

func NewHTTPAnalyzer(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPAnalyzer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPAnalyzer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.Named("language"),
	}
}

type analyzeRequest struct {
	Text    string            `json:"text"`
	Context map[string]string `json:"context,omitempty"`
}

// AnalyzeText вызывает Language Service. Любой сбой (сеть, таймаут, 5xx)
// деградирует до пустого результата с флагом Degraded — вызывающий
// продолжает работу без подсказки.
func (a *HTTPAnalyzer) AnalyzeText(ctx context.Context, text string, convContext map[string]string) (*Analysis, error) {
	body, err := json.Marshal(analyzeRequest{Text: text, Context: convContext})
	if err != nil {
		return nil, fmt.Errorf("language: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("language: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("language service unavailable, degrading to no suggestion", zap.Error(err))
		return &Analysis{Degraded: true, SentimentCategory: "neutral"}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		a.logger.Warn("language service error, degrading to no suggestion",
			zap.Int("status", resp.StatusCode))
		return &Analysis{Degraded: true, SentimentCategory: "neutral"}, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		a.logger.Warn("language service response unreadable", zap.Error(err))
		return &Analysis{Degraded: true, SentimentCategory: "neutral"}, nil
	}

	var out Analysis
	if err := json.Unmarshal(raw, &out); err != nil {
		a.logger.Warn("language service response malformed", zap.Error(err))
		return &Analysis{Degraded: true, SentimentCategory: "neutral"}, nil
	}

	return &out, nil
}
