package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"college-gateway/middleware/ratelimit/domain"
)

// Breaker é um circuit breaker por chave (ex: "breaker:db", "breaker:upstream:s1").
//
//	CLOSED --MaxFailures falhas seguidas--> OPEN
//	OPEN --Cooldown decorrido (checado na chamada)--> HALF_OPEN
//	HALF_OPEN --trial ok--> CLOSED
//	HALF_OPEN --trial falhou--> OPEN
//
// Não existe timer: a transição OPEN -> HALF_OPEN acontece na primeira chamada
// após o cooldown. Em HALF_OPEN só um trial roda por vez.
type Breaker struct {
	MaxFailures int
	Cooldown    time.Duration
	Now         func() time.Time
	// IsFailure decide se o erro conta como falha. nil: todo erro conta,
	// exceto cancelamento do chamador.
	IsFailure func(error) bool
	// OnStateChange é chamado fora do lock a cada transição.
	OnStateChange func(key string, from, to domain.BreakerState)

	mu      sync.Mutex
	records map[string]*breakerRecord
}

type breakerRecord struct {
	state         domain.BreakerState
	failures      int
	lastFailureAt time.Time
	trialInFlight bool
}

func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &Breaker{
		MaxFailures: maxFailures,
		Cooldown:    cooldown,
		records:     make(map[string]*breakerRecord),
	}
}

// Call executa op protegida pelo breaker de `key`.
// Com o breaker aberto devolve *domain.BreakerOpenError sem chamar op; senão
// devolve o erro original de op.
func (b *Breaker) Call(ctx context.Context, key string, op func(context.Context) error) (err error) {
	if err := b.before(key); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.after(key, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		b.after(key, err)
	}()
	return op(ctx)
}

func (b *Breaker) before(key string) error {
	var changed func()

	b.mu.Lock()
	rec := b.record(key)
	now := b.now()
	switch rec.state {
	case domain.BreakerOpen:
		elapsed := now.Sub(rec.lastFailureAt)
		if elapsed < b.Cooldown {
			b.mu.Unlock()
			return &domain.BreakerOpenError{Key: key, RetryAfter: b.Cooldown - elapsed}
		}
		rec.state = domain.BreakerHalfOpen
		rec.trialInFlight = true
		changed = b.notify(key, domain.BreakerOpen, domain.BreakerHalfOpen)
	case domain.BreakerHalfOpen:
		if rec.trialInFlight {
			b.mu.Unlock()
			return &domain.BreakerOpenError{Key: key}
		}
		rec.trialInFlight = true
	}
	b.mu.Unlock()

	if changed != nil {
		changed()
	}
	return nil
}

func (b *Breaker) after(key string, err error) {
	var changed func()

	b.mu.Lock()
	rec := b.record(key)
	switch {
	case err == nil:
		if rec.state == domain.BreakerHalfOpen {
			rec.state = domain.BreakerClosed
			changed = b.notify(key, domain.BreakerHalfOpen, domain.BreakerClosed)
		}
		rec.failures = 0
		rec.trialInFlight = false
	case !b.isFailure(err):
		// neutro: libera o trial sem mudar o estado
		rec.trialInFlight = false
	default:
		rec.failures++
		rec.lastFailureAt = b.now()
		switch rec.state {
		case domain.BreakerHalfOpen:
			rec.state = domain.BreakerOpen
			rec.trialInFlight = false
			changed = b.notify(key, domain.BreakerHalfOpen, domain.BreakerOpen)
		case domain.BreakerClosed:
			if rec.failures >= b.MaxFailures {
				rec.state = domain.BreakerOpen
				changed = b.notify(key, domain.BreakerClosed, domain.BreakerOpen)
			}
		}
	}
	b.mu.Unlock()

	if changed != nil {
		changed()
	}
}

// State devolve o estado atual sem provocar transição.
func (b *Breaker) State(key string) domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.records[key]; ok {
		return rec.state
	}
	return domain.BreakerClosed
}

// Failures devolve a contagem de falhas consecutivas de `key`.
func (b *Breaker) Failures(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.records[key]; ok {
		return rec.failures
	}
	return 0
}

// Snapshot devolve todos os breakers conhecidos ordenados por chave.
func (b *Breaker) Snapshot() []domain.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.BreakerSnapshot, 0, len(b.records))
	for k, rec := range b.records {
		out = append(out, domain.BreakerSnapshot{
			Key:           k,
			State:         rec.state.String(),
			Failures:      rec.failures,
			LastFailureAt: rec.lastFailureAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Reset esquece todos os breakers (shutdown/testes).
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = make(map[string]*breakerRecord)
}

func (b *Breaker) record(key string) *breakerRecord {
	if b.records == nil {
		b.records = make(map[string]*breakerRecord)
	}
	rec, ok := b.records[key]
	if !ok {
		rec = &breakerRecord{}
		b.records[key] = rec
	}
	return rec
}

func (b *Breaker) notify(key string, from, to domain.BreakerState) func() {
	if b.OnStateChange == nil {
		return nil
	}
	fn := b.OnStateChange
	return func() { fn(key, from, to) }
}

func (b *Breaker) isFailure(err error) bool {
	if b.IsFailure != nil {
		return b.IsFailure(err)
	}
	return !errors.Is(err, context.Canceled)
}

func (b *Breaker) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}
