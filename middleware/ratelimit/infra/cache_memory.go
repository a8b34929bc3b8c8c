package infra

import (
	"context"
	"sync"
	"time"
)

// CacheEntry guarda um valor com o instante de gravação e o TTL.
type CacheEntry[T any] struct {
	Data     T
	StoredAt time.Time
	TTL      time.Duration
}

// Expired indica se a entrada venceu em `now`. TTL <= 0 nunca vence.
func (e CacheEntry[T]) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.StoredAt.Add(e.TTL))
}

// MemoryCache é um cache local com expiração preguiçosa: a validade é checada
// no Get e a entrada vencida é removida ali mesmo. O janitor é opcional.
type MemoryCache[T any] struct {
	mu      sync.Mutex
	entries map[string]CacheEntry[T]
	now     func() time.Time
}

func NewMemoryCache[T any](now func() time.Time) *MemoryCache[T] {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache[T]{
		entries: make(map[string]CacheEntry[T]),
		now:     now,
	}
}

func (c *MemoryCache[T]) Get(_ context.Context, key string) (T, bool, error) {
	var zero T

	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		return zero, false, nil
	}
	if ent.Expired(c.now()) {
		delete(c.entries, key)
		return zero, false, nil
	}
	return ent.Data, true, nil
}

func (c *MemoryCache[T]) Set(_ context.Context, key string, val T, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = CacheEntry[T]{Data: val, StoredAt: c.now(), TTL: ttl}
	return nil
}

func (c *MemoryCache[T]) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *MemoryCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep remove todas as entradas vencidas.
func (c *MemoryCache[T]) Sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, ent := range c.entries {
		if ent.Expired(now) {
			delete(c.entries, k)
		}
	}
}

func (c *MemoryCache[T]) StartJanitor(ctx DoneContext, every time.Duration) {
	startJanitor(ctx, every, c.Sweep)
}

// Clear apaga tudo.
func (c *MemoryCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]CacheEntry[T])
}
