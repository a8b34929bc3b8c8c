package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"college-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RedisCache é o cache de respostas compartilhado entre instâncias.
type RedisCache struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisCache(rdb redis.Cmdable, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: strings.Trim(prefix, ":")}
}

func (c *RedisCache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache get %q: %w", key, err)
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.key(key), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache set %q: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis cache delete: %w", err)
	}
	return nil
}

// FallbackCache segue a mesma regra do FallbackStore: primário por chamada,
// local quando o primário falha, nunca propaga o erro do primário.
type FallbackCache struct {
	Primary domain.Cache
	Local   domain.Cache
	Logger  zerolog.Logger

	warn rate.Sometimes
}

func NewFallbackCache(primary, local domain.Cache, logger zerolog.Logger) *FallbackCache {
	return &FallbackCache{
		Primary: primary,
		Local:   local,
		Logger:  logger,
		warn:    rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

func (c *FallbackCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.Primary != nil {
		b, ok, err := c.Primary.Get(ctx, key)
		if err == nil {
			return b, ok, nil
		}
		c.warnf(err)
	}
	if c.Local == nil {
		return nil, false, nil
	}
	return c.Local.Get(ctx, key)
}

func (c *FallbackCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if c.Primary != nil {
		err := c.Primary.Set(ctx, key, val, ttl)
		if err == nil {
			return nil
		}
		c.warnf(err)
	}
	if c.Local == nil {
		return nil
	}
	return c.Local.Set(ctx, key, val, ttl)
}

// Delete apaga nos dois lados: uma entrada gravada no local durante uma queda
// do Redis não pode sobreviver à invalidação.
func (c *FallbackCache) Delete(ctx context.Context, keys ...string) error {
	if c.Primary != nil {
		if err := c.Primary.Delete(ctx, keys...); err != nil {
			c.warnf(err)
		}
	}
	if c.Local == nil {
		return nil
	}
	return c.Local.Delete(ctx, keys...)
}

func (c *FallbackCache) warnf(err error) {
	c.warn.Do(func() {
		c.Logger.Warn().Err(err).Msg("response cache backing store unavailable, using local fallback")
	})
}
