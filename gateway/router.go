package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"college-gateway/logging"
	"college-gateway/metrics"
	"college-gateway/middleware/ratelimit"
	"college-gateway/middleware/ratelimit/application"
	"college-gateway/middleware/ratelimit/domain"
	"college-gateway/middleware/rbac"
	"college-gateway/middleware/respond"
	"college-gateway/storage/sqlite"
	"college-gateway/upstream"
)

// DBBreakerKey é a chave do breaker do banco de avisos.
const DBBreakerKey = "breaker:db"

// NoticeRepo é o repositório do mural (storage/sqlite.NoticeStore).
type NoticeRepo interface {
	List(ctx context.Context, limit int) ([]sqlite.Notice, error)
	Create(ctx context.Context, n sqlite.Notice) (sqlite.Notice, error)
}

// Deps são os componentes montados uma vez em cmd/gateway e injetados aqui.
type Deps struct {
	Logger      zerolog.Logger
	Production  bool
	InstanceID  string
	RateLimit   ratelimit.Options
	Auth        rbac.Authenticator
	Policy      *rbac.Policy
	Pool        application.PoolAdmission
	Breaker     *application.Breaker
	Cache       domain.Cache
	CacheTTL    time.Duration
	Notices     NoticeRepo
	Proxy       http.Handler
	Routes      upstream.RouteTable
	Servers     *upstream.ServerPool
	Metrics     *metrics.Collector
	Gatherer    prometheus.Gatherer
	Checks      map[string]HealthChecker
	HealthLimit time.Duration
	// RateStats alimenta o bloco rateLimit do health (nil: omitido).
	RateStats domain.StatsReader
}

// NewRouter monta o chi.Router com o pipeline completo.
func NewRouter(d Deps) http.Handler {
	if d.Policy == nil {
		d.Policy = rbac.DefaultPolicy()
	}
	if d.Breaker == nil {
		d.Breaker = application.NewBreaker(5, 30*time.Second)
	}

	h := &handlers{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestIDHeader)
	r.Use(logging.AccessLog(d.Logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.Use(respond.Recoverer(d.Logger, !d.Production))

	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(d.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Group(func(r chi.Router) {
			rl := d.RateLimit
			if rl.OnDecision == nil && d.Metrics != nil {
				rl.OnDecision = d.Metrics.ObserveDecision
			}
			r.Use(ratelimit.Middleware(rl))
			r.Use(rbac.Authenticate(d.Auth, d.Logger))
			r.Use(h.serverID)

			r.With(rbac.RequirePermission(d.Policy, "notices:read")).Get("/notices", h.listNotices)
			r.With(rbac.RequirePermission(d.Policy, "notices:write")).Post("/notices", h.createNotice)
			r.Get("/me", h.me)

			if d.Proxy != nil {
				admit := ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
					Pool:     d.Pool,
					OnReject: h.rejected,
				})
				r.With(rbac.RequireFunc(d.Policy, d.Routes.Permission), admit).Handle("/*", d.Proxy)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.WriteError(w, r, http.StatusNotFound, "Not found", "no route for "+r.URL.Path)
	})
	return r
}

type handlers struct {
	deps Deps
}

// requestIDHeader devolve o id da requisição no header de resposta.
func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(respond.RequestIDHeader, respond.RequestID(r))
		next.ServeHTTP(w, r)
	})
}

// serverID marca as respostas locais com o id desta instância; o proxy sobrescreve
// com o id do servidor de aplicação.
func (h *handlers) serverID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.InstanceID != "" {
			w.Header().Set(upstream.ServerIDHeader, h.deps.InstanceID)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) rejected(r *http.Request, err error) {
	h.deps.Logger.Warn().Err(err).Str("path", r.URL.Path).Msg("admission rejected")
	if h.deps.Metrics != nil {
		h.deps.Metrics.Rejected(err)
	}
}
