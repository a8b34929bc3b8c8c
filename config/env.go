package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides aplica as variáveis de ambiente por cima do arquivo.
// Valor inválido é ignorado e o valor anterior fica.
func applyEnvOverrides(cfg *Config) {
	cfg.Environment = getenvDefault("ENVIRONMENT", cfg.Environment)

	cfg.Server.Addr = getenvDefault("LISTEN_ADDR", cfg.Server.Addr)
	cfg.Server.InstanceID = getenvDefault("INSTANCE_ID", cfg.Server.InstanceID)

	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)

	cfg.Redis.Addr = getenvDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenvDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getenvIntDefault("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.KeyPrefix = getenvDefault("REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)

	cfg.RateLimit.MaxRequests = getenvIntDefault("RATE_MAX_REQUESTS", cfg.RateLimit.MaxRequests)
	cfg.RateLimit.Window = getenvDurationDefault("RATE_WINDOW", cfg.RateLimit.Window)
	cfg.RateLimit.KeyHeader = getenvDefault("RATE_KEY_HEADER", cfg.RateLimit.KeyHeader)
	cfg.RateLimit.TrustXFF = getenvBoolDefault("TRUST_XFF", cfg.RateLimit.TrustXFF)
	cfg.RateLimit.Debug = getenvBoolDefault("ADD_RATELIMIT_HEADERS", cfg.RateLimit.Debug)
	cfg.RateLimit.Adaptive.Enabled = getenvBoolDefault("RATE_ADAPTIVE_ENABLED", cfg.RateLimit.Adaptive.Enabled)
	cfg.RateLimit.Burst.RPS = getenvFloatDefault("RATE_BURST_RPS", cfg.RateLimit.Burst.RPS)
	cfg.RateLimit.Burst.Burst = getenvIntDefault("RATE_BURST", cfg.RateLimit.Burst.Burst)
	cfg.RateLimit.Stats.Enabled = getenvBoolDefault("RATE_STATS_ENABLED", cfg.RateLimit.Stats.Enabled)
	cfg.RateLimit.Stats.TTL = getenvDurationDefault("RATE_STATS_TTL", cfg.RateLimit.Stats.TTL)
	cfg.RateLimit.Stats.Bucket = getenvDefault("RATE_STATS_BUCKET", cfg.RateLimit.Stats.Bucket)
	cfg.RateLimit.Stats.TrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", cfg.RateLimit.Stats.TrackKeys)
	cfg.RateLimit.Stats.TopDenied = getenvIntDefault("RATE_STATS_TOP_DENIED", cfg.RateLimit.Stats.TopDenied)

	cfg.Pool.MaxConnections = getenvIntDefault("POOL_MAX_CONNECTIONS", cfg.Pool.MaxConnections)
	cfg.Pool.QueueLimit = getenvIntDefault("POOL_QUEUE_LIMIT", cfg.Pool.QueueLimit)
	cfg.Pool.AcquireTimeout = getenvDurationDefault("POOL_ACQUIRE_TIMEOUT", cfg.Pool.AcquireTimeout)
	cfg.Pool.RetryCount = getenvIntDefault("POOL_RETRY_COUNT", cfg.Pool.RetryCount)
	cfg.Pool.RetryDelay = getenvDurationDefault("POOL_RETRY_DELAY", cfg.Pool.RetryDelay)

	cfg.Breaker.MaxFailures = getenvIntDefault("BREAKER_MAX_FAILURES", cfg.Breaker.MaxFailures)
	cfg.Breaker.Cooldown = getenvDurationDefault("BREAKER_COOLDOWN", cfg.Breaker.Cooldown)

	cfg.Cache.TTL = getenvDurationDefault("CACHE_TTL", cfg.Cache.TTL)

	cfg.Auth.JWTSecret = getenvDefault("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.Issuer = getenvDefault("JWT_ISSUER", cfg.Auth.Issuer)

	cfg.Database.Path = getenvDefault("DATABASE_PATH", cfg.Database.Path)

	// UPSTREAM_URLS="s1=http://a:9001,s2=http://b:9002" ou só URLs separadas por vírgula
	if v := os.Getenv("UPSTREAM_URLS"); v != "" {
		cfg.Upstream.Servers = parseTargets(v)
	}
	cfg.Upstream.HealthInterval = getenvDurationDefault("UPSTREAM_HEALTH_INTERVAL", cfg.Upstream.HealthInterval)
}

func parseTargets(v string) []ServerTarget {
	var out []ServerTarget
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t := ServerTarget{Weight: 1}
		if id, u, ok := strings.Cut(part, "="); ok {
			t.ID, t.URL = strings.TrimSpace(id), strings.TrimSpace(u)
		} else {
			t.URL = part
		}
		out = append(out, t)
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
