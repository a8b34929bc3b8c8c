package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"college-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// incrScript faz INCR com expiração numa única operação atômica.
// ARGV[1] = janela em ms, ARGV[2] = teto do contador (Max+1).
var incrScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[2]) then
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {current, ttl}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisCounterStore é o backing store distribuído do rate limit.
//
// Todas as instâncias do gateway compartilham os contadores; a atomicidade vem
// do script Lua, nunca de read-modify-write no cliente.
type RedisCounterStore struct {
	rdb    redis.Scripter
	prefix string
	now    func() time.Time
}

type RedisStoreOption func(*RedisCounterStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisCounterStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisCounterStore) { s.now = now }
}

func NewRedisCounterStore(rdb redis.Scripter, opts ...RedisStoreOption) *RedisCounterStore {
	s := &RedisCounterStore{
		rdb:    rdb,
		prefix: "gateway",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Increment implementa domain.CounterStore.
func (s *RedisCounterStore) Increment(ctx context.Context, key domain.Key, limit domain.Limit) (domain.WindowCount, error) {
	if s == nil || s.rdb == nil {
		return domain.WindowCount{}, fmt.Errorf("redis counter store is not configured")
	}

	windowMs := limit.Window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}

	res, err := incrScript.Run(ctx, s.rdb, []string{s.fullKey(key)}, windowMs, limit.Max+1).Int64Slice()
	if err != nil {
		return domain.WindowCount{}, fmt.Errorf("redis increment %q: %w", key, err)
	}
	if len(res) != 2 {
		return domain.WindowCount{}, fmt.Errorf("redis increment %q: unexpected reply %v", key, res)
	}

	return domain.WindowCount{
		Count:   int(res[0]),
		ResetAt: s.now().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

func (s *RedisCounterStore) fullKey(key domain.Key) string {
	if s.prefix == "" {
		return string(key)
	}
	return s.prefix + ":" + string(key)
}
