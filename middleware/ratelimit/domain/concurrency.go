package domain

import (
	"context"
	"time"
)

// Ticket é uma vaga adquirida em um SlotPool.
//
// Release devolve a vaga e deve ser chamado exatamente uma vez; chamadas
// repetidas não têm efeito e retornam false.
type Ticket interface {
	AcquiredAt() time.Time
	Release() bool
}

// SlotPool representa um recurso com capacidade finita (ex: conexões com o banco).
//
// Acquire concede a vaga imediatamente se houver capacidade, senão entra numa fila
// FIFO limitada. Retorna ErrQueueFull se a fila estiver cheia e o erro do ctx
// (ou ErrQueueTimeout, dependendo da implementação) se a espera estourar.
type SlotPool interface {
	Acquire(ctx context.Context) (Ticket, error)
	Stats() PoolStats
}

type PoolStats struct {
	Active          int     `json:"active"`
	Max             int     `json:"max"`
	Queued          int     `json:"queued"`
	UsagePercentage float64 `json:"usagePercentage"`
}
