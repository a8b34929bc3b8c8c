package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"college-gateway/middleware/ratelimit/domain"
	"college-gateway/middleware/respond"
	"college-gateway/upstream"
)

// HealthChecker é implementado por dependências que sabem se verificar.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckFunc adapta uma função (ex.: redis Ping, db Ping) para HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// CheckResult é o resultado de uma verificação individual.
type CheckResult struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse é o corpo de GET /api/health.
type HealthResponse struct {
	Status     string                   `json:"status"`
	Timestamp  string                   `json:"timestamp"`
	InstanceID string                   `json:"instanceId,omitempty"`
	Pool       domain.PoolStats         `json:"pool"`
	Breakers   []domain.BreakerSnapshot `json:"breakers"`
	Upstreams  []upstream.ServerStatus  `json:"upstreams,omitempty"`
	Checks     map[string]CheckResult   `json:"checks,omitempty"`
	RateLimit  *domain.StatsSummary     `json:"rateLimit,omitempty"`
}

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusHealthy  = "healthy"
	statusDown     = "unhealthy"
)

// health não passa pelo rate limit, pela autenticação nem pelo pool: só lê estado.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     statusOK,
		Timestamp:  respond.Now().UTC().Format(time.RFC3339),
		InstanceID: h.deps.InstanceID,
		Pool:       h.deps.Pool.Stats(),
		Breakers:   h.deps.Breaker.Snapshot(),
	}

	if h.deps.Servers != nil {
		resp.Upstreams = h.deps.Servers.Status()
		if h.deps.Servers.HealthyCount() < h.deps.Servers.Len() {
			resp.Status = statusDegraded
		}
	}

	if len(h.deps.Checks) > 0 {
		resp.Checks = h.runChecks(r.Context())
		for _, c := range resp.Checks {
			if c.Status != statusHealthy {
				resp.Status = statusDegraded
			}
		}
	}

	if h.deps.RateStats != nil {
		if sum, err := h.deps.RateStats.Summary(r.Context()); err == nil {
			resp.RateLimit = &sum
		} else {
			h.deps.Logger.Warn().Err(err).Msg("rate limit stats unavailable")
		}
	}

	for _, b := range resp.Breakers {
		if b.State != domain.BreakerClosed.String() {
			resp.Status = statusDegraded
		}
	}

	respond.JSON(w, http.StatusOK, resp)
}

func (h *handlers) runChecks(ctx context.Context) map[string]CheckResult {
	timeout := h.deps.HealthLimit
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]CheckResult, len(h.deps.Checks))
	)
	for name, c := range h.deps.Checks {
		wg.Add(1)
		go func(name string, c HealthChecker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := c.CheckHealth(cctx)
			res := CheckResult{Status: statusHealthy, Latency: time.Since(start).String()}
			if err != nil {
				res.Status = statusDown
				res.Error = err.Error()
			}
			mu.Lock()
			out[name] = res
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()
	return out
}
