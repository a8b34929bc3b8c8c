package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrQueueFull    = errors.New("admission queue is full")
	ErrQueueTimeout = errors.New("timed out waiting for admission")
	ErrPoolClosed   = errors.New("admission pool is closed")
	ErrBreakerOpen  = errors.New("circuit breaker is open")
)

// BreakerOpenError é devolvido sem chamar a operação protegida.
// RetryAfter é o tempo restante de cooldown (0 quando há um trial em andamento).
type BreakerOpenError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Key)
}

func (e *BreakerOpenError) Is(target error) bool { return target == ErrBreakerOpen }

// OperationError é a falha final de uma operação após esgotar as tentativas.
type OperationError struct {
	Attempts int
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// IsAdmissionError indica erros de admissão (fila, timeout, breaker, pool fechado).
// Eles são terminais para a requisição e nunca são re-tentados.
func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrQueueTimeout) ||
		errors.Is(err, ErrPoolClosed) ||
		errors.Is(err, ErrBreakerOpen)
}
