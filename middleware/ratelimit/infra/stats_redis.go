package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"college-gateway/middleware/ratelimit/domain"
)

// RedisStatsStore agrega as decisões de todas as instâncias por classe de
// endpoint, em buckets de tempo (minuto ou hora):
//
//	<prefix>:<bucket>          hash  "<class>:allowed" / "<class>:denied"
//	<prefix>:<bucket>:denied   zset  identidades mais negadas no bucket (opcional)
//
// Não há hash por chave: com identidade por usuário a cardinalidade seria a da
// base de alunos. O ranking é aparado a cada escrita e fica aproximado.
type RedisStatsStore struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	bucket time.Duration
	topN   int
	now    func() time.Time
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithStatsTTL é a vida de cada bucket; deve cobrir a janela que o health quer olhar.
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket aceita "minute" ou "hour"; outro valor mantém o atual.
func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		switch strings.ToLower(strings.TrimSpace(bucket)) {
		case "minute":
			s.bucket = time.Minute
		case "hour":
			s.bucket = time.Hour
		}
	}
}

// WithStatsTopDenied liga o ranking das n identidades mais negadas (0 desliga).
func WithStatsTopDenied(n int) RedisStatsOption {
	return func(s *RedisStatsStore) { s.topN = n }
}

func WithStatsClock(now func() time.Time) RedisStatsOption {
	return func(s *RedisStatsStore) { s.now = now }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "gateway:stats",
		ttl:    24 * time.Hour,
		bucket: time.Minute,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) bucketKey(at time.Time) string {
	return s.prefix + ":" + strconv.FormatInt(at.UTC().Truncate(s.bucket).Unix(), 10)
}

// Record implementa domain.StatsStore com um único round-trip (MULTI/EXEC).
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = s.now()
	}
	class := ev.Class
	if class == "" {
		class = "root"
	}
	field := class + ":denied"
	if ev.Allowed {
		field = class + ":allowed"
	}
	key := s.bucketKey(at)

	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, key, field, 1)
		p.Expire(ctx, key, s.ttl)

		if !ev.Allowed && s.topN > 0 && ev.Key != "" {
			zkey := key + ":denied"
			p.ZIncrBy(ctx, zkey, 1, string(ev.Key))
			// mantém só uma margem acima do topN
			p.ZRemRangeByRank(ctx, zkey, 0, int64(-(s.topN*4)-1))
			p.Expire(ctx, zkey, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis stats record: %w", err)
	}
	return nil
}

// Summary implementa domain.StatsReader com o bucket corrente, somando todas as instâncias.
func (s *RedisStatsStore) Summary(ctx context.Context) (domain.StatsSummary, error) {
	since := s.now().UTC().Truncate(s.bucket)
	key := s.bucketKey(since)

	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.StatsSummary{}, fmt.Errorf("redis stats summary: %w", err)
	}

	sum := domain.StatsSummary{
		Source:  "redis",
		Since:   since,
		ByClass: make(map[string]domain.StatsCounters),
	}
	for f, v := range fields {
		i := strings.LastIndexByte(f, ':')
		n, err := strconv.ParseInt(v, 10, 64)
		if i <= 0 || err != nil {
			continue
		}
		class, kind := f[:i], f[i+1:]
		c := sum.ByClass[class]
		switch kind {
		case "allowed":
			c.Allowed += n
			sum.Total.Allowed += n
		case "denied":
			c.Denied += n
			sum.Total.Denied += n
		default:
			continue
		}
		sum.ByClass[class] = c
	}

	if s.topN > 0 {
		top, err := s.rdb.ZRevRangeWithScores(ctx, key+":denied", 0, int64(s.topN-1)).Result()
		if err != nil {
			return domain.StatsSummary{}, fmt.Errorf("redis stats top denied: %w", err)
		}
		for _, z := range top {
			member, _ := z.Member.(string)
			sum.TopDenied = append(sum.TopDenied, domain.KeyCount{Key: member, Count: int64(z.Score)})
		}
	}
	return sum, nil
}
