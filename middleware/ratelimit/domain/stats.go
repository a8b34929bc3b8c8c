package domain

import (
	"context"
	"errors"
	"time"
)

// StatsEvent representa um evento de decisão do rate limit.
//
// Method/Path são strings genéricas; Class é a classe de endpoint usada na chave.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Key     Key
	Class   string
	Allowed bool

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// O middleware trata erro como best-effort (não derruba a request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// MultiStats repassa o evento para várias stores e devolve o primeiro erro.
type MultiStats []StatsStore

func (m MultiStats) Record(ctx context.Context, ev StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// StatsCounters soma decisões permitidas e negadas.
type StatsCounters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// Add conta uma decisão.
func (c *StatsCounters) Add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

// KeyCount é uma identidade no ranking de negações.
type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// StatsSummary é o resumo exposto em /api/health.
type StatsSummary struct {
	// Source diz de onde veio o resumo ("memory" ou "redis").
	Source    string                   `json:"source"`
	Since     time.Time                `json:"since"`
	Total     StatsCounters            `json:"total"`
	ByClass   map[string]StatsCounters `json:"byClass"`
	TopDenied []KeyCount               `json:"topDenied,omitempty"`
}

// StatsReader é implementado pelas stores que sabem se resumir.
type StatsReader interface {
	Summary(ctx context.Context) (StatsSummary, error)
}

// Summary devolve o resumo da primeira store legível que responder sem erro.
func (m MultiStats) Summary(ctx context.Context) (StatsSummary, error) {
	err := errors.New("no readable stats store")
	for _, s := range m {
		r, ok := s.(StatsReader)
		if !ok {
			continue
		}
		var sum StatsSummary
		if sum, err = r.Summary(ctx); err == nil {
			return sum, nil
		}
	}
	return StatsSummary{}, err
}
