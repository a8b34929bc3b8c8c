package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"college-gateway/middleware/ratelimit/domain"
)

func TestFIFOPool_GrantsImmediatelyUpToMax(t *testing.T) {
	p := NewFIFOPool(2, 0)

	t1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := p.Acquire(context.Background()); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull with queueLimit=0, got %v", err)
	}

	st := p.Stats()
	if st.Active != 2 || st.Max != 2 || st.UsagePercentage != 100 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	t1.Release()
	t2.Release()
	if got := p.Stats().Active; got != 0 {
		t.Fatalf("expected active=0 after release, got %d", got)
	}
}

func TestFIFOPool_NegativeQueueLimitRejectsWithoutWaiting(t *testing.T) {
	p := NewFIFOPool(1, -1)
	t1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer t1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	if _, err := p.Acquire(ctx); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull with queueLimit=-1, got %v", err)
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		t.Fatalf("expected immediate rejection, waited %s", waited)
	}
	if st := p.Stats(); st.Queued != 0 {
		t.Fatalf("expected nothing queued, got %+v", st)
	}
}

func TestFIFOPool_ReleaseIsIdempotent(t *testing.T) {
	p := NewFIFOPool(1, 0)

	tk, _ := p.Acquire(context.Background())
	if !tk.Release() {
		t.Fatalf("expected first release to return true")
	}
	if tk.Release() {
		t.Fatalf("expected second release to be a no-op")
	}
	if got := p.Stats().Active; got != 0 {
		t.Fatalf("expected active=0, got %d", got)
	}

	// a vaga devolvida uma única vez continua valendo uma única vaga
	a, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Release()
	if _, err := p.Acquire(context.Background()); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected pool to still have capacity 1, got %v", err)
	}
}

func TestFIFOPool_GrantsInQueueOrder(t *testing.T) {
	const waiters = 4
	p := NewFIFOPool(1, waiters)

	held, _ := p.Acquire(context.Background())

	granted := make(chan int, waiters)
	tickets := make(chan domain.Ticket, waiters)
	for i := 0; i < waiters; i++ {
		go func(id int) {
			tk, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("waiter %d: unexpected error %v", id, err)
				return
			}
			tickets <- tk
			granted <- id
		}(i)
		waitQueued(t, p, i+1)
	}

	held.Release()
	for want := 0; want < waiters; want++ {
		select {
		case got := <-granted:
			if got != want {
				t.Fatalf("expected waiter %d to be granted, got %d", want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for waiter %d", want)
		}
		(<-tickets).Release()
	}
}

func TestFIFOPool_CanceledWaiterLeavesQueue(t *testing.T) {
	p := NewFIFOPool(1, 1)
	held, _ := p.Acquire(context.Background())
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := p.Stats().Queued; got != 0 {
		t.Fatalf("expected empty queue after timeout, got %d", got)
	}
}

func TestFIFOPool_CloseRejectsNewAcquires(t *testing.T) {
	p := NewFIFOPool(1, 1)
	p.Close()

	if _, err := p.Acquire(context.Background()); !errors.Is(err, domain.ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func waitQueued(t *testing.T, p *FIFOPool, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for p.Stats().Queued < n {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d queued waiters", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFIFOPool_CloseWakesWaiters(t *testing.T) {
	p := NewFIFOPool(1, 1)
	held, _ := p.Acquire(context.Background())
	defer held.Release()

	errc := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errc <- err
	}()
	waitQueued(t, p, 1)

	p.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, domain.ErrPoolClosed) {
			t.Fatalf("expected ErrPoolClosed for waiter, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter was not woken by Close")
	}
}
