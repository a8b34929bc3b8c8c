package application

import (
	"context"
	"math"

	"college-gateway/middleware/ratelimit/domain"
)

const (
	DefaultHighThreshold     = 0.7
	DefaultCriticalThreshold = 0.9
)

// AdaptiveService reduz o limite efetivo quando a carga do sistema sobe.
//
// Cada Check amostra a carga e passa o limite ajustado como parâmetro; nenhum
// estado compartilhado é alterado.
type AdaptiveService struct {
	Service
	Sampler           domain.LoadSampler
	HighThreshold     float64
	CriticalThreshold float64
}

func (a AdaptiveService) Check(ctx context.Context, key domain.Key) domain.Decision {
	return a.CheckLimit(ctx, key, a.Limit)
}

func (a AdaptiveService) CheckLimit(ctx context.Context, key domain.Key, limit domain.Limit) domain.Decision {
	return a.Service.CheckLimit(ctx, key, a.EffectiveLimit(ctx, limit))
}

// EffectiveLimit aplica a escala de carga sobre `limit`.
func (a AdaptiveService) EffectiveLimit(ctx context.Context, limit domain.Limit) domain.Limit {
	if a.Sampler == nil {
		return limit
	}
	high, critical := a.HighThreshold, a.CriticalThreshold
	if high <= 0 {
		high = DefaultHighThreshold
	}
	if critical <= 0 {
		critical = DefaultCriticalThreshold
	}
	limit.Max = ScaleLimit(limit.Max, a.Sampler.Load(ctx), high, critical)
	return limit
}

// ScaleLimit: load >= critical -> 30% do base, load >= high -> 60%, senão base.
// Nunca devolve menos que 1 para um base positivo.
func ScaleLimit(base int, load, high, critical float64) int {
	if base <= 0 {
		return base
	}
	factor := 1.0
	switch {
	case load >= critical:
		factor = 0.3
	case load >= high:
		factor = 0.6
	}
	scaled := int(math.Floor(float64(base) * factor))
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}
