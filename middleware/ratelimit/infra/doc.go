// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryCounterStore / RedisCounterStore / FallbackStore: janela fixa local, distribuída e com fallback
//   - BurstStore: token bucket por chave usando golang.org/x/time/rate
//   - FIFOPool: vagas limitadas com fila FIFO limitada
//   - MemoryCache / RedisCache / FallbackCache: cache de respostas com TTL
//   - RedisKeyLoad / PoolLoad / MaxLoad: amostras de carga para o limiter adaptativo
//   - MemoryStatsStore / RedisStatsStore: estatísticas de decisão
package infra
