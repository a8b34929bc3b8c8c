package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"college-gateway/middleware/ratelimit/application"
	"college-gateway/middleware/ratelimit/domain"
	"college-gateway/middleware/ratelimit/infra"
	"college-gateway/middleware/respond"
)

// Admission é o contrato de admissão usado pelo middleware (application.PoolAdmission).
type Admission interface {
	Acquire(ctx context.Context) (domain.Ticket, error)
	Release(t domain.Ticket) bool
	Stats() domain.PoolStats
}

type ConcurrencyOptions struct {
	// Pool tem precedência; sem ele um FIFOPool é criado com Max/QueueLimit/AcquireTimeout.
	Pool           Admission
	Max            int
	QueueLimit     int
	AcquireTimeout time.Duration

	// OnReject é chamado com o erro de admissão antes do 503 (metrics/logs).
	OnReject func(r *http.Request, err error)
}

// ConcurrencyMiddleware admite a requisição no pool, anota X-Server-Load e
// libera a vaga quando o handler termina (inclusive em panic).
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	pool := opts.Pool
	if pool == nil {
		if opts.Max <= 0 {
			return func(next http.Handler) http.Handler { return next }
		}
		pool = application.PoolAdmission{
			Pool:           infra.NewFIFOPool(opts.Max, opts.QueueLimit),
			AcquireTimeout: opts.AcquireTimeout,
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t, err := pool.Acquire(r.Context())
			if err != nil {
				if opts.OnReject != nil {
					opts.OnReject(r, err)
				}
				WriteError(w, r, err)
				return
			}
			defer pool.Release(t)

			st := pool.Stats()
			w.Header().Set("X-Server-Load", formatInt(st.Active)+"/"+formatInt(st.Max))

			next.ServeHTTP(w, r)
		})
	}
}

// WriteError traduz erros de admissão/operação para a resposta HTTP padrão.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var boe *domain.BreakerOpenError
	switch {
	case errors.As(err, &boe):
		respond.Unavailable(w, r, "dependency circuit is open", boe.RetryAfter)
	case errors.Is(err, domain.ErrQueueFull):
		respond.Unavailable(w, r, "admission queue is full", 0)
	case errors.Is(err, domain.ErrQueueTimeout):
		respond.Unavailable(w, r, "timed out waiting for a free slot", 0)
	case errors.Is(err, domain.ErrPoolClosed):
		respond.Unavailable(w, r, "server is shutting down", 0)
	case errors.Is(err, context.Canceled):
		// cliente foi embora; nada útil a responder
		w.WriteHeader(499)
	default:
		var opErr *domain.OperationError
		if errors.As(err, &opErr) {
			respond.Unavailable(w, r, "dependency failed after "+formatInt(opErr.Attempts)+" attempt(s)", 0)
			return
		}
		respond.WriteError(w, r, http.StatusInternalServerError, respond.MsgInternalError, "")
	}
}
