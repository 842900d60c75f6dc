package language

import (
	"context"
	"strings"
)

// MockAnalyzer — примитивная стратегия для локальной разработки и тестов.
type MockAnalyzer struct{}

func (m *MockAnalyzer) AnalyzeText(ctx context.Context, text string, convContext map[string]string) (*Analysis, error) {
	out := &Analysis{Intent: "unknown", SentimentCategory: "neutral"}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "urgent"), strings.Contains(lower, "asap"):
		out.Intent = "escalate"
		out.SentimentScore = -0.4
		out.SentimentCategory = "negative"
	case strings.Contains(lower, "thank"):
		out.Intent = "acknowledge"
		out.SentimentScore = 0.6
		out.SentimentCategory = "positive"
	case strings.Contains(lower, "?"):
		out.Intent = "question"
	}

	return out, nil
}
