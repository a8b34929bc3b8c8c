package application

import (
	"context"
	"time"

	"college-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit de janela fixa.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Store domain.CounterStore
	Limit domain.Limit
	Now   func() time.Time
}

// Check decide com o limite padrão do serviço.
func (s Service) Check(ctx context.Context, key domain.Key) domain.Decision {
	return s.CheckLimit(ctx, key, s.Limit)
}

// CheckLimit decide com um limite explícito. O limite é parâmetro (e não campo
// mutado) para que chamadas concorrentes com limites diferentes não se misturem.
func (s Service) CheckLimit(ctx context.Context, key domain.Key, limit domain.Limit) domain.Decision {
	if s.Store == nil || limit.Max <= 0 || limit.Window <= 0 {
		return domain.Decision{Allowed: true, Limit: limit.Max, Remaining: limit.Max}
	}

	wc, err := s.Store.Increment(ctx, key, limit)
	if err != nil {
		// store sem fallback: falha aberta, a indisponibilidade não vira 429
		return domain.Decision{Allowed: true, Limit: limit.Max, Remaining: limit.Max, ResetAt: s.now().Add(limit.Window)}
	}

	dec := domain.Decision{
		Allowed:   wc.Count <= limit.Max,
		Limit:     limit.Max,
		Remaining: limit.Max - wc.Count,
		ResetAt:   wc.ResetAt,
	}
	if dec.Remaining < 0 {
		dec.Remaining = 0
	}
	if !dec.Allowed {
		dec.RetryAfter = dec.ResetAt.Sub(s.now())
		if dec.RetryAfter < 0 {
			dec.RetryAfter = 0
		}
	}
	return dec
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
