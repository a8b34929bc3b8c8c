package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"college-gateway/middleware/ratelimit/domain"
)

// PoolAdmission concentra a regra de aquisição/liberação de vagas com timeout
// e o retry das operações que passam pelo pool, sem saber nada sobre HTTP.
type PoolAdmission struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
	// RetryCount é o número máximo de tentativas da operação (>= 1).
	RetryCount int
	// RetryDelay é multiplicado pelo número da tentativa (backoff linear).
	RetryDelay time.Duration
	// Retryable decide se um erro da operação merece nova tentativa.
	// nil: todo erro que não seja de admissão é re-tentado.
	Retryable func(err error) bool
	// OnRetry é chamado antes de cada espera entre tentativas.
	OnRetry func(attempt int, err error)
	// OnWait recebe quanto tempo cada Acquire bem sucedido esperou.
	OnWait func(d time.Duration)
	// Sleep permite trocar a espera do backoff (testes). nil: timer real que respeita o ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Acquire tenta adquirir uma vaga.
//   - Se `AcquireTimeout <= 0`, espera até o ctx cancelar.
//   - Se `AcquireTimeout > 0`, espera até o timeout e devolve ErrQueueTimeout.
func (s PoolAdmission) Acquire(ctx context.Context) (domain.Ticket, error) {
	if s.Pool == nil {
		return noopTicket{at: time.Now()}, nil
	}

	start := time.Now()
	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	t, err := s.Pool.Acquire(acqCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w (waited %s)", domain.ErrQueueTimeout, time.Since(start).Round(time.Millisecond))
		}
		return nil, err
	}
	if s.OnWait != nil {
		s.OnWait(time.Since(start))
	}
	return t, nil
}

// Release devolve a vaga. É seguro chamar com nil.
func (s PoolAdmission) Release(t domain.Ticket) bool {
	if t == nil {
		return false
	}
	return t.Release()
}

// Do adquire uma vaga, executa op com até RetryCount tentativas e libera a vaga
// exatamente uma vez ao final, qualquer que seja o resultado.
//
// Erros de admissão (breaker aberto, fila) e os recusados por Retryable não são
// re-tentados. O cancelamento do
// ctx só é observado entre tentativas: uma tentativa em andamento roda até o fim.
func (s PoolAdmission) Do(ctx context.Context, op func(context.Context) error) error {
	t, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.Release(t)

	attempts := s.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if domain.IsAdmissionError(lastErr) {
			return lastErr
		}
		if s.Retryable != nil && !s.Retryable(lastErr) {
			return &domain.OperationError{Attempts: attempt, Err: lastErr}
		}
		if attempt == attempts {
			break
		}
		if s.OnRetry != nil {
			s.OnRetry(attempt, lastErr)
		}
		if err := s.sleep(ctx, s.RetryDelay*time.Duration(attempt)); err != nil {
			return &domain.OperationError{Attempts: attempt, Err: lastErr}
		}
	}
	return &domain.OperationError{Attempts: attempts, Err: lastErr}
}

// Stats devolve o snapshot do pool para health/metrics.
func (s PoolAdmission) Stats() domain.PoolStats {
	if s.Pool == nil {
		return domain.PoolStats{}
	}
	return s.Pool.Stats()
}

func (s PoolAdmission) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Guarded compõe o caminho completo de uma operação no banco/dependência:
// acquire -> breaker(key) -> fn -> release, com retry do pool em volta do breaker.
func Guarded[T any](ctx context.Context, pool PoolAdmission, br *Breaker, key string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := pool.Do(ctx, func(ctx context.Context) error {
		call := func(ctx context.Context) error {
			v, err := fn(ctx)
			if err != nil {
				return err
			}
			out = v
			return nil
		}
		if br == nil {
			return call(ctx)
		}
		return br.Call(ctx, key, call)
	})
	return out, err
}

type noopTicket struct {
	at time.Time
}

func (t noopTicket) AcquiredAt() time.Time { return t.at }
func (noopTicket) Release() bool           { return true }
