package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/agent-control-plane/internal/connectors"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ExecutionProvider — контракт исполнителя одобренных действий
type ExecutionProvider interface {
	Call(ctx context.Context, actionType string, payload []byte) ([]byte, error)
}

// ReliabilityWrapper оборачивает исполнителя в Rate Limiter, Circuit Breaker
// и ретраи с учетом ThrottleError от коннектора.
type ReliabilityWrapper struct {
	next        ExecutionProvider
	cb          *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	callTimeout time.Duration
}

// ReliabilityConfig — настройки CB/таймаутов (берутся из EngineConfig)
type ReliabilityConfig struct {
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	CallTimeout   time.Duration
	OnStateChange func(name string, open bool)
}

func NewReliabilityWrapper(next ExecutionProvider, cfg ReliabilityConfig) *ReliabilityWrapper {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "action-executor",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, to == gobreaker.StateOpen)
			}
		},
	})

	// Лимитер: исполнение одобренных действий не горит, 100 rps достаточно
	limiter := rate.NewLimiter(rate.Limit(100), 20)

	return &ReliabilityWrapper{
		next:        next,
		cb:          cb,
		limiter:     limiter,
		callTimeout: cfg.CallTimeout,
	}
}

func (w *ReliabilityWrapper) Call(ctx context.Context, actionType string, payload []byte) (res []byte, err error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var finalData []byte

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если коннектор вернул ThrottleError (считал Retry-After заголовок)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
			defer cancel()

			var callErr error
			finalData, callErr = w.next.Call(tCtx, actionType, payload)
			return callErr
		})

		return finalData, retryErr
	})

	if err != nil {
		return nil, err
	}

	return cbResult.([]byte), nil
}
