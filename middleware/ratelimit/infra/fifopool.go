package infra

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"college-gateway/middleware/ratelimit/domain"
)

// FIFOPool limita operações concorrentes com fila FIFO de tamanho fixo.
//
// Release entrega a vaga diretamente para o primeiro da fila (active não muda),
// então ninguém que chegou depois passa na frente de quem já está esperando.
type FIFOPool struct {
	mu         sync.Mutex
	max        int
	queueLimit int
	active     int
	waiters    list.List // *waiter
	closed     bool
	now        func() time.Time
}

type waiter struct {
	ready chan struct{}
	err   error
}

// NewFIFOPool cria um pool com `max` vagas e até `queueLimit` chamadores esperando.
// queueLimit <= 0 desliga a fila: sem vaga livre a resposta é ErrQueueFull.
func NewFIFOPool(max, queueLimit int) *FIFOPool {
	if max <= 0 {
		max = 1
	}
	if queueLimit < 0 {
		queueLimit = 0
	}
	return &FIFOPool{
		max:        max,
		queueLimit: queueLimit,
		now:        time.Now,
	}
}

// Acquire implementa domain.SlotPool.
// Se o ctx encerrar durante a espera, o waiter sai da fila e o erro do ctx é devolvido.
func (p *FIFOPool) Acquire(ctx context.Context) (domain.Ticket, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, domain.ErrPoolClosed
	}
	if p.active < p.max && p.waiters.Len() == 0 {
		p.active++
		p.mu.Unlock()
		return p.newTicket(), nil
	}
	if p.waiters.Len() >= p.queueLimit {
		p.mu.Unlock()
		return nil, domain.ErrQueueFull
	}
	w := &waiter{ready: make(chan struct{})}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	select {
	case <-w.ready:
		if w.err != nil {
			return nil, w.err
		}
		return p.newTicket(), nil
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case <-w.ready:
			// a vaga chegou junto com o cancelamento: repassa para o próximo
			if w.err == nil {
				p.releaseLocked()
			}
		default:
			p.waiters.Remove(elem)
		}
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (p *FIFOPool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked()
}

func (p *FIFOPool) releaseLocked() {
	if front := p.waiters.Front(); front != nil {
		w := p.waiters.Remove(front).(*waiter)
		close(w.ready)
		return
	}
	p.active--
}

func (p *FIFOPool) newTicket() domain.Ticket {
	return &ticket{pool: p, acquiredAt: p.now()}
}

// Stats implementa domain.SlotPool.
func (p *FIFOPool) Stats() domain.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.PoolStats{
		Active:          p.active,
		Max:             p.max,
		Queued:          p.waiters.Len(),
		UsagePercentage: float64(p.active) / float64(p.max) * 100,
	}
}

// Close recusa novas aquisições e acorda quem está na fila com ErrPoolClosed.
// Tickets já concedidos continuam válidos até o Release.
func (p *FIFOPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for e := p.waiters.Front(); e != nil; e = p.waiters.Front() {
		w := p.waiters.Remove(e).(*waiter)
		w.err = domain.ErrPoolClosed
		close(w.ready)
	}
}

type ticket struct {
	pool       *FIFOPool
	acquiredAt time.Time
	released   atomic.Bool
}

func (t *ticket) AcquiredAt() time.Time { return t.acquiredAt }

func (t *ticket) Release() bool {
	if !t.released.CompareAndSwap(false, true) {
		return false
	}
	t.pool.release()
	return true
}
