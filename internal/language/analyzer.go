package language

import "context"

// Analysis — результат разбора свободного текста внешним Language Service.
// Control Plane не делает предположений о технике реализации (regex, LLM, ...).
type Analysis struct {
	Intent            string   `json:"intent"`
	SentimentScore    float64  `json:"sentiment_score"`    // [-1, 1]
	SentimentCategory string   `json:"sentiment_category"` // negative|neutral|positive
	Entities          []Entity `json:"entities,omitempty"`

	// Опциональный сгенерированный ответ
	Reply      string  `json:"reply,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	TokensUsed int     `json:"tokens_used,omitempty"`
	Degraded   bool    `json:"degraded,omitempty"` // true: сервис был недоступен, подсказки нет
}

type Entity struct {
	Kind  string `json:"kind"` // "person", "date", "project"...
	Value string `json:"value"`
}

// Analyzer — подменяемая стратегия анализа текста.
// Сбои деградируют до "no suggestion", а не роняют вызывающего.
type Analyzer interface {
	AnalyzeText(ctx context.Context, text string, convContext map[string]string) (*Analysis, error)
}
