package infra

import (
	"context"
	"time"

	"college-gateway/middleware/ratelimit/domain"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// FallbackStore tenta o store primário (distribuído) e, se ele falhar, usa o local.
//
// A decisão é por chamada: não existe estado de "failover" prolongado, a próxima
// chamada volta a tentar o primário. O erro do primário nunca chega ao chamador.
type FallbackStore struct {
	Primary domain.CounterStore
	Local   domain.CounterStore
	Logger  zerolog.Logger
	// OnFallback é chamado a cada decisão desviada para o store local (ex: métrica).
	OnFallback func(err error)

	warn rate.Sometimes
}

func NewFallbackStore(primary, local domain.CounterStore, logger zerolog.Logger) *FallbackStore {
	return &FallbackStore{
		Primary: primary,
		Local:   local,
		Logger:  logger,
		// um warning a cada 10s já basta; o Redis fora do ar gera um erro por request
		warn: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Increment implementa domain.CounterStore e nunca devolve erro do primário.
func (s *FallbackStore) Increment(ctx context.Context, key domain.Key, limit domain.Limit) (domain.WindowCount, error) {
	if s.Primary != nil {
		wc, err := s.Primary.Increment(ctx, key, limit)
		if err == nil {
			return wc, nil
		}
		s.warn.Do(func() {
			s.Logger.Warn().Err(err).Str("key", string(key)).Msg("rate limit backing store unavailable, using local fallback")
		})
		if s.OnFallback != nil {
			s.OnFallback(err)
		}
	}

	if s.Local == nil {
		// sem store local: decide como primeira requisição da janela
		return domain.WindowCount{Count: 1, ResetAt: time.Now().Add(limit.Window)}, nil
	}
	return s.Local.Increment(ctx, key, limit)
}
