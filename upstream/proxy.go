package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"college-gateway/middleware/ratelimit/application"
	"college-gateway/middleware/ratelimit/domain"
	"college-gateway/middleware/respond"
)

// ServerIDHeader identifica qual servidor atendeu.
const ServerIDHeader = "X-Server-Id"

// BreakerKey é a chave do breaker de um servidor.
func BreakerKey(serverID string) string { return "breaker:upstream:" + serverID }

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       60 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
	}
}

type attemptKey struct{}

// attempt carrega o servidor escolhido e o resultado de uma passagem pelo proxy.
type attempt struct {
	server *Server
	err    error
}

// Proxy encaminha a requisição para um servidor saudável. Cada servidor tem seu
// breaker; com o breaker aberto o próximo servidor é tentado sem tocar na requisição.
type Proxy struct {
	pool    *ServerPool
	breaker *application.Breaker
	logger  zerolog.Logger
	rp      *httputil.ReverseProxy
}

func NewProxy(pool *ServerPool, br *application.Breaker, logger zerolog.Logger) *Proxy {
	p := &Proxy{pool: pool, breaker: br, logger: logger}
	p.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			a := pr.In.Context().Value(attemptKey{}).(*attempt)
			pr.SetURL(a.server.URL)
			pr.SetXForwarded()
		},
		Transport:     newTransport(),
		FlushInterval: 100 * time.Millisecond,
		ModifyResponse: func(resp *http.Response) error {
			if resp.StatusCode >= 500 {
				if a, ok := resp.Request.Context().Value(attemptKey{}).(*attempt); ok {
					a.err = fmt.Errorf("upstream %s status %d", a.server.ID, resp.StatusCode)
				}
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			a := r.Context().Value(attemptKey{}).(*attempt)
			a.err = err
			if errors.Is(err, context.Canceled) {
				w.WriteHeader(499)
				return
			}
			logger.Warn().Err(err).Str("server", a.server.ID).Str("path", r.URL.Path).Msg("proxy error")

			status := http.StatusBadGateway
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				status = http.StatusGatewayTimeout
			}
			respond.WriteError(w, r, status, http.StatusText(status), "upstream "+a.server.ID+" failed")
		},
	}
	return p
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tried := make(map[string]bool, p.pool.Len())
	var retryAfter time.Duration

	for len(tried) < p.pool.Len() {
		s, ok := p.pool.Next(tried)
		if !ok {
			break
		}
		tried[s.ID] = true

		a := &attempt{server: s}
		err := p.breaker.Call(r.Context(), BreakerKey(s.ID), func(ctx context.Context) error {
			w.Header().Set(ServerIDHeader, s.ID)
			p.rp.ServeHTTP(w, r.WithContext(context.WithValue(ctx, attemptKey{}, a)))
			return a.err
		})

		var boe *domain.BreakerOpenError
		if errors.As(err, &boe) {
			if retryAfter == 0 || (boe.RetryAfter > 0 && boe.RetryAfter < retryAfter) {
				retryAfter = boe.RetryAfter
			}
			continue
		}
		// a resposta (sucesso ou erro do upstream) já foi escrita
		return
	}

	respond.Unavailable(w, r, "no healthy upstream server", retryAfter)
}

// RouteTable mapeia prefixos de path para a permissão exigida no proxy.
type RouteTable struct {
	Routes  map[string]string
	Default string
}

// Permission devolve a permissão do maior prefixo que casa com o path.
func (t RouteTable) Permission(r *http.Request) string {
	best, perm := -1, t.Default
	for prefix, p := range t.Routes {
		if strings.HasPrefix(r.URL.Path, prefix) && len(prefix) > best {
			best, perm = len(prefix), p
		}
	}
	if perm == "" {
		return "portal:access"
	}
	return perm
}
