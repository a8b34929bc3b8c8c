package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"college-gateway/middleware/ratelimit/domain"
	"college-gateway/middleware/ratelimit/infra"
)

type blockingPool struct{}

func (blockingPool) Acquire(ctx context.Context) (domain.Ticket, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		// não deve chegar aqui nos testes
		return nil, errors.New("unexpected")
	}
}

func (blockingPool) Stats() domain.PoolStats { return domain.PoolStats{} }

func recordSleeps(out *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*out = append(*out, d)
		return nil
	}
}

func TestPoolAdmission_AllowsWhenNoPool(t *testing.T) {
	svc := PoolAdmission{}
	tk, err := svc.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	svc.Release(tk)
}

func TestPoolAdmission_TimeoutMapsToQueueTimeout(t *testing.T) {
	svc := PoolAdmission{Pool: blockingPool{}, AcquireTimeout: 10 * time.Millisecond}

	_, err := svc.Acquire(context.Background())
	if !errors.Is(err, domain.ErrQueueTimeout) {
		t.Fatalf("expected ErrQueueTimeout, got %v", err)
	}
}

// maxConnections=2, queueLimit=1, acquireTimeout=100ms: três acquires, o terceiro espera e estoura.
func TestPoolAdmission_ThirdAcquireTimesOutInQueue(t *testing.T) {
	pool := infra.NewFIFOPool(2, 1)
	svc := PoolAdmission{Pool: pool, AcquireTimeout: 100 * time.Millisecond}
	ctx := context.Background()

	t1, err := svc.Acquire(ctx)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer t1.Release()
	t2, err := svc.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	defer t2.Release()

	start := time.Now()
	_, err = svc.Acquire(ctx)
	if !errors.Is(err, domain.ErrQueueTimeout) {
		t.Fatalf("expected ErrQueueTimeout, got %v", err)
	}
	if waited := time.Since(start); waited < 90*time.Millisecond {
		t.Fatalf("expected to wait about 100ms in queue, waited %s", waited)
	}
	if got := pool.Stats().Queued; got != 0 {
		t.Fatalf("expected timed out waiter removed from queue, got queued=%d", got)
	}
}

func TestPoolAdmission_QueueFullIsImmediate(t *testing.T) {
	pool := infra.NewFIFOPool(1, 0)
	svc := PoolAdmission{Pool: pool, AcquireTimeout: time.Second}

	tk, _ := svc.Acquire(context.Background())
	defer tk.Release()

	start := time.Now()
	if _, err := svc.Acquire(context.Background()); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("expected queue full to be reported without waiting")
	}
}

// retryCount=3, falha duas vezes e depois funciona: um único ciclo acquire/release.
func TestPoolAdmission_DoRetriesThenSucceeds(t *testing.T) {
	pool := infra.NewFIFOPool(2, 0)
	var sleeps []time.Duration
	svc := PoolAdmission{Pool: pool, RetryCount: 3, RetryDelay: 10 * time.Millisecond, Sleep: recordSleeps(&sleeps)}

	attempts := 0
	maxActive := 0
	err := svc.Do(context.Background(), func(context.Context) error {
		attempts++
		if a := pool.Stats().Active; a > maxActive {
			maxActive = a
		}
		if attempts < 3 {
			return errDB
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if maxActive != 1 {
		t.Fatalf("expected a single ticket held across retries, got %d", maxActive)
	}
	if got := pool.Stats().Active; got != 0 {
		t.Fatalf("expected ticket released, active=%d", got)
	}
	if len(sleeps) != 2 || sleeps[0] != 10*time.Millisecond || sleeps[1] != 20*time.Millisecond {
		t.Fatalf("expected linear backoff [10ms 20ms], got %v", sleeps)
	}
}

func TestPoolAdmission_DoReleasesAfterFinalFailure(t *testing.T) {
	pool := infra.NewFIFOPool(1, 0)
	var sleeps []time.Duration
	svc := PoolAdmission{Pool: pool, RetryCount: 3, Sleep: recordSleeps(&sleeps)}

	err := svc.Do(context.Background(), func(context.Context) error { return errDB })

	var opErr *domain.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %v", err)
	}
	if opErr.Attempts != 3 || !errors.Is(err, errDB) {
		t.Fatalf("expected 3 attempts wrapping errDB, got %+v", opErr)
	}
	if got := pool.Stats().Active; got != 0 {
		t.Fatalf("expected ticket released exactly once, active=%d", got)
	}
}

func TestPoolAdmission_DoDoesNotRetryBreakerOpen(t *testing.T) {
	svc := PoolAdmission{Pool: infra.NewFIFOPool(1, 0), RetryCount: 5}

	attempts := 0
	err := svc.Do(context.Background(), func(context.Context) error {
		attempts++
		return &domain.BreakerOpenError{Key: "breaker:db"}
	})
	if !errors.Is(err, domain.ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected no retry for admission errors, got %d attempts", attempts)
	}
}

func TestPoolAdmission_DoSkipsRetryForNonRetryableErrors(t *testing.T) {
	errInvalid := errors.New("invalid input")
	pool := infra.NewFIFOPool(1, 0)
	var sleeps []time.Duration
	retries := 0
	svc := PoolAdmission{
		Pool:       pool,
		RetryCount: 3,
		Retryable:  func(err error) bool { return !errors.Is(err, errInvalid) },
		OnRetry:    func(int, error) { retries++ },
		Sleep:      recordSleeps(&sleeps),
	}

	attempts := 0
	err := svc.Do(context.Background(), func(context.Context) error {
		attempts++
		return errInvalid
	})

	var opErr *domain.OperationError
	if !errors.As(err, &opErr) || opErr.Attempts != 1 || !errors.Is(err, errInvalid) {
		t.Fatalf("expected OperationError after 1 attempt wrapping errInvalid, got %v", err)
	}
	if attempts != 1 || retries != 0 || len(sleeps) != 0 {
		t.Fatalf("expected no retry, got attempts=%d retries=%d sleeps=%v", attempts, retries, sleeps)
	}
	if got := pool.Stats().Active; got != 0 {
		t.Fatalf("expected ticket released, active=%d", got)
	}

	// erros transitórios continuam com retry
	attempts = 0
	_ = svc.Do(context.Background(), func(context.Context) error {
		attempts++
		return errDB
	})
	if attempts != 3 {
		t.Fatalf("expected 3 attempts for retryable error, got %d", attempts)
	}
}

func TestPoolAdmission_DoStopsWhenContextCanceledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := PoolAdmission{Pool: infra.NewFIFOPool(1, 0), RetryCount: 5, RetryDelay: time.Hour}

	attempts := 0
	err := svc.Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errDB
	})

	var opErr *domain.OperationError
	if !errors.As(err, &opErr) || opErr.Attempts != 1 {
		t.Fatalf("expected OperationError after 1 attempt, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestGuarded_ComposesBreakerAndPool(t *testing.T) {
	pool := infra.NewFIFOPool(1, 0)
	svc := PoolAdmission{Pool: pool, RetryCount: 2, Sleep: recordSleeps(new([]time.Duration))}
	br := NewBreaker(2, time.Minute)

	_, err := Guarded(context.Background(), svc, br, "breaker:db", func(context.Context) (int, error) {
		return 0, errDB
	})
	if !errors.Is(err, errDB) {
		t.Fatalf("expected errDB, got %v", err)
	}
	if got := br.State("breaker:db"); got != domain.BreakerOpen {
		t.Fatalf("expected both retries to count as breaker failures, got %s", got)
	}

	calls := 0
	_, err = Guarded(context.Background(), svc, br, "breaker:db", func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	if !errors.Is(err, domain.ErrBreakerOpen) || calls != 0 {
		t.Fatalf("expected fast failure without invoking op, err=%v calls=%d", err, calls)
	}

	v, err := Guarded(context.Background(), svc, nil, "", func(context.Context) (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("expected ok without breaker, got %q %v", v, err)
	}
	if got := pool.Stats().Active; got != 0 {
		t.Fatalf("expected all tickets released, active=%d", got)
	}
}
