package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/soc-response-gateway/internal/domain"
)

// SafeInvoker — внешний слой надежности вокруг движка исполнения
// (Rate Limiter + Circuit Breaker + Retries). Сам движок ретраев не делает:
// повторы — осознанная политика вызывающего, и применяется она только к
// идемпотентным действиям (status). Повторять isolate или terminate нельзя.
type SafeInvoker struct {
	next     Invoker
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
}

// ReliabilityConfig — границы слоя надежности.
type ReliabilityConfig struct {
	RateLimit     float64
	RateBurst     int
	RetryAttempts uint
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
}

func NewSafeInvoker(next Invoker, cfg ReliabilityConfig, onStateChange func(open bool)) *SafeInvoker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "srg-remote-invoker",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if onStateChange != nil {
				onStateChange(to == gobreaker.StateOpen)
			}
		},
	})

	return &SafeInvoker{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		attempts: cfg.RetryAttempts,
	}
}

func (w *SafeInvoker) Invoke(ctx context.Context, address string, spec domain.ActionSpec, params map[string]any, timeout time.Duration) (*RawOutput, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		// Мутирующие действия — строго один заход
		if !spec.Idempotent || w.attempts <= 1 {
			return w.next.Invoke(ctx, address, spec, params, timeout)
		}

		var finalOutput *RawOutput
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.DelayType(retry.BackOffDelay),
			// Повторяем только недоставленные вызовы: таймаут значит, что
			// процедура могла начать исполняться — его не ретраим
			retry.RetryIf(func(err error) bool {
				var connErr *domain.ConnectivityError
				return errors.As(err, &connErr)
			}),
		)

		retryErr := r.Do(func() error {
			var callErr error
			finalOutput, callErr = w.next.Invoke(ctx, address, spec, params, timeout)
			return callErr
		})

		return finalOutput, retryErr
	})

	if err != nil {
		return nil, err
	}
	return cbResult.(*RawOutput), nil
}
