// Package config carrega a configuração do gateway: arquivo YAML opcional,
// depois variáveis de ambiente (sempre prevalecem), defaults e validação.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"college-gateway/middleware/rbac"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DevJWTSecret só é aceito fora de produção.
const DevJWTSecret = "dev-secret-change-me"

type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Logging     LoggingConfig   `yaml:"logging"`
	Redis       RedisConfig     `yaml:"redis"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Pool        PoolConfig      `yaml:"pool"`
	Breaker     BreakerConfig   `yaml:"breaker"`
	Cache       CacheConfig     `yaml:"cache"`
	Auth        AuthConfig      `yaml:"auth"`
	Database    DatabaseConfig  `yaml:"database"`
	Upstream    UpstreamConfig  `yaml:"upstream"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	InstanceID      string        `yaml:"instance_id"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json ou console
}

// RedisConfig: Addr vazio desliga o Redis e tudo roda só em memória.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"key_prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// MaxKeys é o denominador do load sampler baseado em DBSIZE.
	MaxKeys int64 `yaml:"max_keys"`
}

type ClassLimit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

type AdaptiveConfig struct {
	Enabled           bool    `yaml:"enabled"`
	HighThreshold     float64 `yaml:"high_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
}

type BurstConfig struct {
	RPS     float64  `yaml:"rps"`
	Burst   int      `yaml:"burst"`
	Classes []string `yaml:"classes"`
}

type StatsConfig struct {
	Enabled   bool          `yaml:"enabled"`
	TTL       time.Duration `yaml:"ttl"`
	Bucket    string        `yaml:"bucket"`
	TrackKeys bool          `yaml:"track_keys"`
	// TopDenied é o tamanho do ranking de identidades negadas (exige track_keys).
	TopDenied int `yaml:"top_denied"`
}

type RateLimitConfig struct {
	MaxRequests int                   `yaml:"max_requests"`
	Window      time.Duration         `yaml:"window"`
	KeyHeader   string                `yaml:"key_header"`
	TrustXFF    bool                  `yaml:"trust_xff"`
	Classes     map[string]ClassLimit `yaml:"classes"`
	Adaptive    AdaptiveConfig        `yaml:"adaptive"`
	Burst       BurstConfig           `yaml:"burst"`
	Stats       StatsConfig           `yaml:"stats"`
	Debug       bool                  `yaml:"debug"`
}

type PoolConfig struct {
	MaxConnections int           `yaml:"max_connections"`
	// QueueLimit: 0 usa o padrão, -1 desliga a fila (sem vaga, 503 imediato).
	QueueLimit     int           `yaml:"queue_limit"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	RetryCount     int           `yaml:"retry_count"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret string                     `yaml:"jwt_secret"`
	Issuer    string                     `yaml:"issuer"`
	Roles     map[string]rbac.RoleConfig `yaml:"roles"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ServerTarget struct {
	ID     string `yaml:"id"`
	URL    string `yaml:"url"`
	Weight int    `yaml:"weight"`
}

type UpstreamConfig struct {
	Servers           []ServerTarget    `yaml:"servers"`
	HealthPath        string            `yaml:"health_path"`
	HealthInterval    time.Duration     `yaml:"health_interval"`
	HealthTimeout     time.Duration     `yaml:"health_timeout"`
	Routes            map[string]string `yaml:"routes"`
	DefaultPermission string            `yaml:"default_permission"`
}

// Load lê o YAML em path (vazio: só ambiente), aplica overrides, defaults e valida.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Production indica se o ambiente é produção (sem stack trace nas respostas).
func (c *Config) Production() bool {
	return c.Environment == EnvProduction
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = "gw-" + uuid.NewString()[:8]
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "gateway"
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 2 * time.Second
	}
	if cfg.Redis.MaxKeys == 0 {
		cfg.Redis.MaxKeys = 100000
	}

	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 100
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
	for name, cl := range cfg.RateLimit.Classes {
		if cl.Window == 0 {
			cl.Window = cfg.RateLimit.Window
			cfg.RateLimit.Classes[name] = cl
		}
	}
	if cfg.RateLimit.Adaptive.HighThreshold == 0 {
		cfg.RateLimit.Adaptive.HighThreshold = 0.7
	}
	if cfg.RateLimit.Adaptive.CriticalThreshold == 0 {
		cfg.RateLimit.Adaptive.CriticalThreshold = 0.9
	}
	if cfg.RateLimit.Stats.TTL == 0 {
		cfg.RateLimit.Stats.TTL = 24 * time.Hour
	}
	if cfg.RateLimit.Stats.Bucket == "" {
		cfg.RateLimit.Stats.Bucket = "minute"
	}
	if cfg.RateLimit.Stats.TopDenied == 0 {
		cfg.RateLimit.Stats.TopDenied = 10
	}

	if cfg.Pool.MaxConnections == 0 {
		cfg.Pool.MaxConnections = 10
	}
	if cfg.Pool.QueueLimit == 0 {
		cfg.Pool.QueueLimit = 50
	}
	if cfg.Pool.AcquireTimeout == 0 {
		cfg.Pool.AcquireTimeout = 5 * time.Second
	}
	if cfg.Pool.RetryCount == 0 {
		cfg.Pool.RetryCount = 3
	}
	if cfg.Pool.RetryDelay == 0 {
		cfg.Pool.RetryDelay = 100 * time.Millisecond
	}

	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker.MaxFailures = 5
	}
	if cfg.Breaker.Cooldown == 0 {
		cfg.Breaker.Cooldown = 30 * time.Second
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 30 * time.Second
	}

	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "college-portal"
	}
	if cfg.Auth.JWTSecret == "" && cfg.Environment != EnvProduction {
		cfg.Auth.JWTSecret = DevJWTSecret
	}
	if len(cfg.Auth.Roles) == 0 {
		cfg.Auth.Roles = rbac.DefaultRoles()
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "gateway.db"
	}

	if cfg.Upstream.HealthPath == "" {
		cfg.Upstream.HealthPath = "/api/health"
	}
	if cfg.Upstream.HealthInterval == 0 {
		cfg.Upstream.HealthInterval = 10 * time.Second
	}
	if cfg.Upstream.HealthTimeout == 0 {
		cfg.Upstream.HealthTimeout = 5 * time.Second
	}
	if cfg.Upstream.DefaultPermission == "" {
		cfg.Upstream.DefaultPermission = "portal:access"
	}
}

func validate(cfg *Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(cfg.Environment == EnvDevelopment || cfg.Environment == EnvProduction || cfg.Environment == "test",
		"environment must be development, test or production, got %q", cfg.Environment)
	check(cfg.Logging.Format == "json" || cfg.Logging.Format == "console",
		"logging.format must be json or console, got %q", cfg.Logging.Format)

	check(cfg.RateLimit.MaxRequests > 0, "rate_limit.max_requests must be > 0")
	check(cfg.RateLimit.Window > 0, "rate_limit.window must be > 0")
	for name, cl := range cfg.RateLimit.Classes {
		check(cl.MaxRequests > 0, "rate_limit.classes.%s.max_requests must be > 0", name)
	}
	a := cfg.RateLimit.Adaptive
	check(a.HighThreshold > 0 && a.HighThreshold <= a.CriticalThreshold && a.CriticalThreshold <= 1,
		"rate_limit.adaptive thresholds must satisfy 0 < high <= critical <= 1")
	if len(cfg.RateLimit.Burst.Classes) > 0 || cfg.RateLimit.Burst.RPS > 0 {
		check(cfg.RateLimit.Burst.RPS > 0 && cfg.RateLimit.Burst.Burst > 0, "rate_limit.burst needs rps > 0 and burst > 0")
	}
	check(cfg.RateLimit.Stats.Bucket == "minute" || cfg.RateLimit.Stats.Bucket == "hour",
		"rate_limit.stats.bucket must be minute or hour")

	check(cfg.Pool.MaxConnections > 0, "pool.max_connections must be > 0")
	check(cfg.Pool.QueueLimit >= -1, "pool.queue_limit must be >= -1 (-1 disables the queue)")
	check(cfg.RateLimit.Stats.TopDenied >= 0, "rate_limit.stats.top_denied must be >= 0")
	check(cfg.Pool.AcquireTimeout >= 0, "pool.acquire_timeout must be >= 0")
	check(cfg.Pool.RetryCount >= 1, "pool.retry_count must be >= 1")
	check(cfg.Pool.RetryDelay >= 0, "pool.retry_delay must be >= 0")

	check(cfg.Breaker.MaxFailures >= 1, "breaker.max_failures must be >= 1")
	check(cfg.Breaker.Cooldown > 0, "breaker.cooldown must be > 0")
	check(cfg.Cache.TTL >= 0, "cache.ttl must be >= 0")

	check(cfg.Auth.JWTSecret != "", "auth.jwt_secret is required in production")
	check(!(cfg.Production() && cfg.Auth.JWTSecret == DevJWTSecret), "auth.jwt_secret must be changed in production")
	if _, err := rbac.NewPolicy(cfg.Auth.Roles); err != nil {
		errs = append(errs, fmt.Errorf("auth.roles: %w", err))
	}

	for i, s := range cfg.Upstream.Servers {
		check(strings.HasPrefix(s.URL, "http://") || strings.HasPrefix(s.URL, "https://"),
			"upstream.servers[%d].url must be http(s), got %q", i, s.URL)
	}

	return errors.Join(errs...)
}
