package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"college-gateway/middleware/ratelimit/domain"
	"college-gateway/middleware/respond"
)

type KeyFunc func(r *http.Request) string

// Checker é o que o middleware precisa do limiter (Service ou AdaptiveService).
type Checker interface {
	CheckLimit(ctx context.Context, key domain.Key, limit domain.Limit) domain.Decision
}

type Options struct {
	Limiter Checker
	// Limit é o limite padrão; Classes sobrescreve por classe de endpoint (ex: "api/auth").
	Limit   domain.Limit
	Classes map[string]domain.Limit

	// Burst é um token bucket opcional checado antes da janela fixa.
	// BurstClasses restringe as classes afetadas (vazio: todas).
	Burst        domain.LimiterStore
	BurstClasses []string
	// BurstRetryAfter é o Retry-After quando o bucket nega.
	BurstRetryAfter time.Duration

	Stats              domain.StatsStore
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	// Prefix das chaves do limiter, padrão "rate".
	Prefix string
	// Bypass são caminhos exatos que não passam pelo limiter.
	Bypass []string
	// Debug adiciona X-RateLimit-Key/Class (e RPS/Burst do bucket quando houver).
	Debug bool

	// OnDecision é chamado a cada decisão (metrics).
	OnDecision func(class string, dec domain.Decision)
	Now        func() time.Time
}

// DefaultBypass são as rotas que nunca sofrem rate limit.
var DefaultBypass = []string{"/api/health", "/metrics"}

type rateInfo interface {
	RPS() float64
	Burst() int
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					ip := strings.TrimSpace(parts[0])
					if ip != "" {
						return ip
					}
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// EndpointClass devolve os dois primeiros segmentos do path ("/api/notices/7" -> "api/notices").
func EndpointClass(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}
	parts := strings.SplitN(path, "/", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, "/")
}

// BuildKey monta a chave do limiter: "<prefix>:<classe>:<identidade>".
func BuildKey(prefix, class, identity string) domain.Key {
	return domain.Key(prefix + ":" + class + ":" + identity)
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Prefix == "" {
		opts.Prefix = "rate"
	}
	if opts.Bypass == nil {
		opts.Bypass = DefaultBypass
	}
	if opts.BurstRetryAfter <= 0 {
		opts.BurstRetryAfter = 1 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	bypass := make(map[string]struct{}, len(opts.Bypass))
	for _, p := range opts.Bypass {
		bypass[p] = struct{}{}
	}
	burstClasses := make(map[string]struct{}, len(opts.BurstClasses))
	for _, c := range opts.BurstClasses {
		burstClasses[c] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := bypass[r.URL.Path]; ok || opts.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			class := EndpointClass(r.URL.Path)
			identity := opts.KeyFn(r)
			key := BuildKey(opts.Prefix, class, identity)

			if opts.Debug {
				w.Header().Set("X-RateLimit-Key", string(key))
				w.Header().Set("X-RateLimit-Class", class)
				if ri, ok := opts.Burst.(rateInfo); ok {
					w.Header().Set("X-RateLimit-RPS", formatFloat(ri.RPS()))
					w.Header().Set("X-RateLimit-Burst", formatInt(ri.Burst()))
				}
			}

			limit := opts.Limit
			if l, ok := opts.Classes[class]; ok {
				limit = l
			}

			dec := opts.Limiter.CheckLimit(r.Context(), key, limit)
			if dec.Allowed && opts.Burst != nil && burstApplies(burstClasses, class) {
				if !opts.Burst.Get(BuildKey("burst", class, identity)).Allow() {
					dec.Allowed = false
					dec.Remaining = 0
					dec.RetryAfter = opts.BurstRetryAfter
				}
			}

			if opts.OnDecision != nil {
				opts.OnDecision(class, dec)
			}
			if opts.Stats != nil {
				// best-effort: erro de stats não muda a decisão
				_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     key,
					Class:   class,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      opts.Now(),
				})
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
			h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
			if !dec.ResetAt.IsZero() {
				h.Set("X-RateLimit-Reset", formatISO(dec.ResetAt))
			}

			if !dec.Allowed {
				respond.RateLimited(w, r, dec.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func burstApplies(classes map[string]struct{}, class string) bool {
	if len(classes) == 0 {
		return true
	}
	_, ok := classes[class]
	return ok
}
