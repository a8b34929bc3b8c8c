package infra

import (
	"sync"
	"time"

	"college-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// BurstStore mantém um token bucket (x/time/rate) por chave.
//
// Complementa a janela fixa: a janela limita o volume por período e o bucket
// suaviza rajadas dentro dela (ex: POST repetido em sequência).
type BurstStore struct {
	mu      sync.Mutex
	buckets map[domain.Key]*bucket
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	every   time.Duration
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type BurstOption func(*BurstStore)

func WithBurstIdleTTL(d time.Duration) BurstOption {
	return func(s *BurstStore) { s.idleTTL = d }
}

func WithBurstCleanupEvery(d time.Duration) BurstOption {
	return func(s *BurstStore) { s.every = d }
}

func NewBurstStore(rps float64, burst int, opts ...BurstOption) *BurstStore {
	s := &BurstStore{
		buckets: make(map[domain.Key]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		every:   2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BurstStore) RPS() float64 { return float64(s.rps) }
func (s *BurstStore) Burst() int   { return s.burst }

// Get implementa domain.LimiterStore.
func (s *BurstStore) Get(key domain.Key) domain.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[key]; ok {
		b.lastSeen = now
		return b.lim
	}

	b := &bucket{lim: rate.NewLimiter(s.rps, s.burst), lastSeen: now}
	s.buckets[key] = b
	return b.lim
}

// Cleanup remove buckets ociosos há mais de idleTTL.
func (s *BurstStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, k)
		}
	}
}

func (s *BurstStore) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.every, s.Cleanup)
}
