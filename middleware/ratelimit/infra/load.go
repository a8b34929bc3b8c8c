package infra

import (
	"context"

	"college-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisKeyLoad usa o número de chaves do Redis (DBSIZE) como proxy de carga:
// load = keys / MaxKeys. É um sinal fraco, mas monotônico no volume de clientes.
// Se o Redis não responde, a carga é 0 (não penaliza os clientes por uma falha nossa).
type RedisKeyLoad struct {
	RDB     redis.Cmdable
	MaxKeys int64
}

func (l RedisKeyLoad) Load(ctx context.Context) float64 {
	if l.RDB == nil || l.MaxKeys <= 0 {
		return 0
	}
	n, err := l.RDB.DBSize(ctx).Result()
	if err != nil {
		return 0
	}
	return clamp01(float64(n) / float64(l.MaxKeys))
}

// PoolLoad usa a ocupação do pool de admissão (active/max).
type PoolLoad struct {
	Pool domain.SlotPool
}

func (l PoolLoad) Load(context.Context) float64 {
	if l.Pool == nil {
		return 0
	}
	st := l.Pool.Stats()
	if st.Max <= 0 {
		return 0
	}
	return clamp01(float64(st.Active+st.Queued) / float64(st.Max))
}

// MaxLoad devolve a maior carga entre os samplers.
type MaxLoad []domain.LoadSampler

func (m MaxLoad) Load(ctx context.Context) float64 {
	var out float64
	for _, s := range m {
		if s == nil {
			continue
		}
		if v := s.Load(ctx); v > out {
			out = v
		}
	}
	return clamp01(out)
}

// StaticLoad é uma carga fixa (testes e desligar o adaptativo sem mudar o wiring).
type StaticLoad float64

func (l StaticLoad) Load(context.Context) float64 { return clamp01(float64(l)) }

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
