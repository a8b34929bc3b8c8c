package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"college-gateway/config"
	"college-gateway/gateway"
	"college-gateway/logging"
	"college-gateway/metrics"
	"college-gateway/middleware/ratelimit"
	"college-gateway/middleware/ratelimit/application"
	"college-gateway/middleware/ratelimit/domain"
	"college-gateway/middleware/ratelimit/infra"
	"college-gateway/middleware/rbac"
	"college-gateway/storage/sqlite"
	"college-gateway/upstream"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fatal := zerolog.New(os.Stderr)
		fatal.Fatal().Err(err).Msg("config error")
	}
	logger := logging.New(cfg.Logging).With().Str("instance", cfg.Server.InstanceID).Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("gateway stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Redis é opcional: sem ele (ou com ele fora do ar) tudo segue nos stores locais.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup, using local fallback")
		}
		cancelPing()
	}

	// contadores da janela fixa
	local := infra.NewMemoryCounterStore()
	local.StartJanitor(ctx)
	var counters domain.CounterStore = local
	if rdb != nil {
		fb := infra.NewFallbackStore(
			infra.NewRedisCounterStore(rdb, infra.WithKeyPrefix(cfg.Redis.KeyPrefix)),
			local,
			logger,
		)
		fb.OnFallback = m.Fallback("ratelimit")
		counters = fb
	}

	// pool de conexões do banco/upstream
	fifo := infra.NewFIFOPool(cfg.Pool.MaxConnections, cfg.Pool.QueueLimit)
	defer fifo.Close()
	m.RegisterPool(fifo.Stats)
	// falhas de validação e cancelamento do cliente não são transitórias
	transient := func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, sqlite.ErrInvalidNotice)
	}
	pool := application.PoolAdmission{
		Pool:           fifo,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		RetryCount:     cfg.Pool.RetryCount,
		RetryDelay:     cfg.Pool.RetryDelay,
		Retryable:      transient,
		OnRetry: func(attempt int, err error) {
			m.Retry(attempt, err)
			logger.Warn().Err(err).Int("attempt", attempt).Msg("operation failed, retrying")
		},
		OnWait: m.ObserveWait,
	}

	breaker := application.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Cooldown)
	breaker.IsFailure = transient
	breaker.OnStateChange = func(key string, from, to domain.BreakerState) {
		m.BreakerChanged(key, from, to)
		logger.Warn().Str("breaker", key).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
	}

	limit := domain.Limit{Max: cfg.RateLimit.MaxRequests, Window: cfg.RateLimit.Window}
	var limiter ratelimit.Checker = application.Service{Store: counters, Limit: limit}
	if cfg.RateLimit.Adaptive.Enabled {
		samplers := infra.MaxLoad{infra.PoolLoad{Pool: fifo}}
		if rdb != nil {
			samplers = append(samplers, infra.RedisKeyLoad{RDB: rdb, MaxKeys: cfg.Redis.MaxKeys})
		}
		limiter = application.AdaptiveService{
			Service:           application.Service{Store: counters, Limit: limit},
			Sampler:           samplers,
			HighThreshold:     cfg.RateLimit.Adaptive.HighThreshold,
			CriticalThreshold: cfg.RateLimit.Adaptive.CriticalThreshold,
		}
	}

	classes := make(map[string]domain.Limit, len(cfg.RateLimit.Classes))
	for name, cl := range cfg.RateLimit.Classes {
		w := cl.Window
		if w <= 0 {
			w = cfg.RateLimit.Window
		}
		classes[name] = domain.Limit{Max: cl.MaxRequests, Window: w}
	}

	var burst domain.LimiterStore
	if cfg.RateLimit.Burst.RPS > 0 {
		bs := infra.NewBurstStore(cfg.RateLimit.Burst.RPS, cfg.RateLimit.Burst.Burst)
		bs.StartJanitor(ctx)
		burst = bs
	}

	// stats: o health lê do Redis (todas as instâncias) e cai para a memória
	var (
		stats     domain.StatsStore
		rateStats domain.StatsReader
	)
	if sc := cfg.RateLimit.Stats; sc.Enabled {
		mem := infra.NewMemoryStatsStore(infra.WithTrackKeys(sc.TrackKeys), infra.WithTopDenied(sc.TopDenied))
		stats, rateStats = mem, mem
		if rdb != nil {
			topN := 0
			if sc.TrackKeys {
				topN = sc.TopDenied
			}
			multi := domain.MultiStats{infra.NewRedisStatsStore(
				rdb,
				infra.WithStatsPrefix(cfg.Redis.KeyPrefix+":stats"),
				infra.WithStatsTTL(sc.TTL),
				infra.WithStatsBucket(sc.Bucket),
				infra.WithStatsTopDenied(topN),
			), mem}
			stats, rateStats = multi, multi
		}
	}

	// cache de respostas
	memCache := infra.NewMemoryCache[[]byte](time.Now)
	memCache.StartJanitor(ctx, time.Minute)
	var cache domain.Cache = memCache
	if rdb != nil {
		cache = infra.NewFallbackCache(infra.NewRedisCache(rdb, cfg.Redis.KeyPrefix+":cache"), memCache, logger)
	}

	db, err := sqlite.Open(cfg.Database.Path, cfg.Pool.MaxConnections)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	notices := sqlite.NewNoticeStore(db)

	auth := rbac.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	policy, err := rbac.NewPolicy(cfg.Auth.Roles)
	if err != nil {
		return err
	}

	checks := map[string]gateway.HealthChecker{
		"database": gateway.CheckFunc(notices.Ping),
	}
	if rdb != nil {
		checks["redis"] = gateway.CheckFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	var (
		servers *upstream.ServerPool
		proxy   http.Handler
	)
	if len(cfg.Upstream.Servers) > 0 {
		targets := make([]upstream.Target, 0, len(cfg.Upstream.Servers))
		for _, s := range cfg.Upstream.Servers {
			targets = append(targets, upstream.Target{ID: s.ID, URL: s.URL, Weight: s.Weight})
		}
		servers, err = upstream.NewServerPool(targets, upstream.Options{
			HealthPath:     cfg.Upstream.HealthPath,
			HealthTimeout:  cfg.Upstream.HealthTimeout,
			HealthInterval: cfg.Upstream.HealthInterval,
			Logger:         logger,
			OnHealth:       m.UpstreamHealth,
		})
		if err != nil {
			return err
		}
		servers.Start(ctx)
		defer servers.Stop()
		proxy = upstream.NewProxy(servers, breaker, logger)
	}

	h := gateway.NewRouter(gateway.Deps{
		Logger:     logger,
		Production: cfg.Production(),
		InstanceID: cfg.Server.InstanceID,
		RateLimit: ratelimit.Options{
			Limiter:      limiter,
			Limit:        limit,
			Classes:      classes,
			Burst:        burst,
			BurstClasses: cfg.RateLimit.Burst.Classes,
			Stats:        stats,
			KeyFn: rbac.SubjectKeyFunc(auth, ratelimit.DefaultKeyFunc(
				cfg.RateLimit.KeyHeader, cfg.RateLimit.TrustXFF,
			)),
			Debug: cfg.RateLimit.Debug,
		},
		Auth:        auth,
		Policy:      policy,
		Pool:        pool,
		Breaker:     breaker,
		Cache:       cache,
		CacheTTL:    cfg.Cache.TTL,
		Notices:     notices,
		Proxy:       proxy,
		Routes:      upstream.RouteTable{Routes: cfg.Upstream.Routes, Default: cfg.Upstream.DefaultPermission},
		Servers:     servers,
		Metrics:     m,
		Gatherer:    reg,
		Checks:      checks,
		RateStats:   rateStats,
		HealthLimit: upstream.DefaultHealthTimeout,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       90 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Str("environment", cfg.Environment).
		Bool("redis", rdb != nil).
		Int("upstreams", len(cfg.Upstream.Servers)).
		Msg("gateway listening")
	logger.Info().
		Int("max_requests", limit.Max).
		Dur("window", limit.Window).
		Bool("adaptive", cfg.RateLimit.Adaptive.Enabled).
		Float64("burst_rps", cfg.RateLimit.Burst.RPS).
		Msg("rate limit")
	logger.Info().
		Int("max_connections", cfg.Pool.MaxConnections).
		Int("queue_limit", cfg.Pool.QueueLimit).
		Dur("acquire_timeout", cfg.Pool.AcquireTimeout).
		Int("retry_count", cfg.Pool.RetryCount).
		Msg("connection pool")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	logger.Info().Msg("gateway stopped")
	return nil
}
