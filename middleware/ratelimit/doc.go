// Package ratelimit fornece adapters HTTP (net/http) para rate limit e admissão no pool.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (janela fixa, limite adaptativo, circuit breaker, pool com retry)
//   - infra: implementações concretas (Redis, memória com fallback, fila FIFO, cache, load samplers)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a identidade do cliente (usuário autenticado, header, XFF ou IP)
//  2. Monta a chave "rate:<classe>:<identidade>" e consulta o limiter
//  3. Anota X-RateLimit-Limit/Remaining/Reset; se bloqueado responde 429 com Retry-After
//  4. Depois de auth/RBAC, admite a requisição no pool (503 sem vaga) e anota X-Server-Load
//
// A configuração vem de config.Load (YAML + variáveis de ambiente como RATE_MAX_REQUESTS,
// RATE_WINDOW, POOL_MAX_CONNECTIONS e POOL_ACQUIRE_TIMEOUT).
package ratelimit
