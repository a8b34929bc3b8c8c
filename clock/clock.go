// Package clock fornece relógios injetáveis: o real e um fake controlável para testes.
package clock

import (
	"sync"
	"time"
)

// Func é a forma usada pelos componentes para obter o "agora".
type Func func() time.Time

// Real devolve time.Now.
func Real() time.Time { return time.Now() }

// Fake é um relógio controlado manualmente.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
}

func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}
