package infra

import (
	"context"
	"sort"
	"sync"
	"time"

	"college-gateway/middleware/ratelimit/domain"
)

// Counters é mantido como nome local para quem só usa a store em memória.
type Counters = domain.StatsCounters

// DefaultStatsMaxEntries limita rotas e chaves distintas guardadas em memória.
const DefaultStatsMaxEntries = 10000

// overflowEntry agrupa o que chega depois do limite de entradas.
const overflowEntry = "_other"

// MemoryStatsStore agrega decisões em memória (total, por classe, por rota e,
// opcionalmente, por chave). Rotas e chaves são limitadas a maxEntries; o
// excedente é somado em "_other". Classes são poucas e não têm limite.
type MemoryStatsStore struct {
	mu      sync.Mutex
	since   time.Time
	total   Counters
	byClass map[string]Counters
	byRoute map[string]Counters
	byKey   map[string]Counters

	trackKeys  bool
	maxEntries int
	topN       int
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

// WithMaxEntries troca o limite de rotas/chaves distintas (<= 0 usa o padrão).
func WithMaxEntries(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithTopDenied define quantas chaves aparecem no ranking do Summary.
func WithTopDenied(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.topN = n }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		since:      time.Now(),
		byClass:    make(map[string]Counters),
		byRoute:    make(map[string]Counters),
		byKey:      make(map[string]Counters),
		maxEntries: DefaultStatsMaxEntries,
		topN:       10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.Add(ev.Allowed)
	bump(s.byRoute, route, ev.Allowed, s.maxEntries)
	if ev.Class != "" {
		bump(s.byClass, ev.Class, ev.Allowed, 0)
	}
	if s.trackKeys {
		bump(s.byKey, string(ev.Key), ev.Allowed, s.maxEntries)
	}
	return nil
}

// bump soma no contador de k; com limit > 0, chaves novas além do limite vão para overflowEntry.
func bump(m map[string]Counters, k string, allowed bool, limit int) {
	c, ok := m[k]
	if !ok && limit > 0 && len(m) >= limit {
		k = overflowEntry
		c = m[k]
	}
	c.Add(allowed)
	m[k] = c
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByClass() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byClass)
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byRoute)
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byKey)
}

// Summary implementa domain.StatsReader: contadores desta instância desde o start.
func (s *MemoryStatsStore) Summary(context.Context) (domain.StatsSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := domain.StatsSummary{
		Source:  "memory",
		Since:   s.since,
		Total:   s.total,
		ByClass: copyCounters(s.byClass),
	}
	for k, c := range s.byKey {
		if c.Denied > 0 && k != overflowEntry {
			sum.TopDenied = append(sum.TopDenied, domain.KeyCount{Key: k, Count: c.Denied})
		}
	}
	sort.Slice(sum.TopDenied, func(i, j int) bool {
		a, b := sum.TopDenied[i], sum.TopDenied[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Key < b.Key
	})
	if len(sum.TopDenied) > s.topN {
		sum.TopDenied = sum.TopDenied[:s.topN]
	}
	return sum, nil
}

func copyCounters(in map[string]Counters) map[string]Counters {
	out := make(map[string]Counters, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
