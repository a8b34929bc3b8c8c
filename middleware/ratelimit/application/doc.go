// Package application contém os casos de uso (regras de aplicação) de admissão:
// rate limit de janela fixa, limiter adaptativo, circuit breaker e pool de
// conexões com fila, timeout e retry.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Check(ctx, key) retorna uma Decision (allow/deny + remaining + reset).
package application
