package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

type Key string

// Limit é a configuração de uma janela fixa: no máximo Max requisições a cada Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// WindowCount é o estado de uma chave após um incremento.
// ResetAt só anda para frente: uma janela nova sempre começa depois da anterior.
type WindowCount struct {
	Count   int
	ResetAt time.Time
}

// CounterStore incrementa atomicamente o contador de uma chave dentro da janela atual.
//
// Na primeira requisição da janela cria o registro com Count=1 e ResetAt=now+Window.
// Quando now >= ResetAt o registro é reiniciado. Implementações devem limitar o
// crescimento do contador (não precisa passar de Max+1).
type CounterStore interface {
	Increment(ctx context.Context, key Key, limit Limit) (WindowCount, error)
}

// Limiter representa algo que pode decidir se uma ação é permitida agora.
// Usado pelo token bucket de rajada (golang.org/x/time/rate).
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por chave (ex: IP, API key, usuário).
type LimiterStore interface {
	Get(Key) Limiter
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}

// LoadSampler devolve uma medida de carga do sistema em [0,1].
// Qualquer sinal monotônico serve; o limiter adaptativo só compara com limiares.
type LoadSampler interface {
	Load(ctx context.Context) float64
}
