package infra

import (
	"context"
	"testing"

	"college-gateway/middleware/ratelimit/domain"
)

type fixedPool struct{ st domain.PoolStats }

func (p fixedPool) Acquire(context.Context) (domain.Ticket, error) { return nil, nil }
func (p fixedPool) Stats() domain.PoolStats                         { return p.st }

func TestPoolLoad_CountsActiveAndQueued(t *testing.T) {
	l := PoolLoad{Pool: fixedPool{st: domain.PoolStats{Active: 4, Queued: 3, Max: 10}}}
	if got := l.Load(context.Background()); got != 0.7 {
		t.Fatalf("expected 0.7, got %v", got)
	}
}

func TestPoolLoad_ClampsAtOne(t *testing.T) {
	l := PoolLoad{Pool: fixedPool{st: domain.PoolStats{Active: 10, Queued: 50, Max: 10}}}
	if got := l.Load(context.Background()); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
}

func TestMaxLoad_ReturnsHighestSample(t *testing.T) {
	m := MaxLoad{StaticLoad(0.2), nil, StaticLoad(0.95), StaticLoad(0.5)}
	if got := m.Load(context.Background()); got != 0.95 {
		t.Fatalf("expected 0.95, got %v", got)
	}
}

func TestRedisKeyLoad_ZeroWithoutClient(t *testing.T) {
	if got := (RedisKeyLoad{MaxKeys: 100}).Load(context.Background()); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
