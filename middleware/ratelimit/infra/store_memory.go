package infra

import (
	"context"
	"sync"
	"time"

	"college-gateway/middleware/ratelimit/domain"
)

// MemoryCounterStore é o contador de janela fixa em memória do processo.
//
// Serve como fallback local do Redis e como store única em desenvolvimento.
// O estado não é compartilhado entre instâncias.
type MemoryCounterStore struct {
	mu           sync.Mutex
	entries      map[domain.Key]*windowEntry
	now          func() time.Time
	cleanupEvery time.Duration
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

type MemoryStoreOption func(*MemoryCounterStore)

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

// WithCleanupEvery define o intervalo do janitor. 0 desliga a varredura
// (a expiração continua acontecendo de forma preguiçosa no Increment).
func WithCleanupEvery(d time.Duration) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

func NewMemoryCounterStore(opts ...MemoryStoreOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		entries:      make(map[domain.Key]*windowEntry),
		now:          time.Now,
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Increment implementa domain.CounterStore.
func (s *MemoryCounterStore) Increment(_ context.Context, key domain.Key, limit domain.Limit) (domain.WindowCount, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || !now.Before(ent.resetAt) {
		ent = &windowEntry{count: 1, resetAt: now.Add(limit.Window)}
		s.entries[key] = ent
		return domain.WindowCount{Count: ent.count, ResetAt: ent.resetAt}, nil
	}

	// o contador para em Max+1: suficiente para negar sem crescer sem limite
	if ent.count <= limit.Max {
		ent.count++
	}
	return domain.WindowCount{Count: ent.count, ResetAt: ent.resetAt}, nil
}

// Len devolve o número de chaves vivas (inclui expiradas ainda não varridas).
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup remove janelas já encerradas.
func (s *MemoryCounterStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if !now.Before(ent.resetAt) {
			delete(s.entries, k)
		}
	}
}

// Reset apaga todo o estado local.
func (s *MemoryCounterStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[domain.Key]*windowEntry)
}

// StartJanitor inicia uma goroutine que limpa janelas expiradas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryCounterStore) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.cleanupEvery, s.Cleanup)
}

// DoneContext é o mínimo necessário para aceitar context.Context sem acoplar ao resto da interface.
type DoneContext interface {
	Done() <-chan struct{}
}

func startJanitor(ctx DoneContext, every time.Duration, fn func()) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
}
