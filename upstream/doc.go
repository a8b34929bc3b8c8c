// Package upstream balanceia as rotas do portal entre servidores de aplicação.
//
// Seleção por smooth weighted round robin apenas entre servidores saudáveis,
// health check periódico com timeout de 5s por servidor e um circuit breaker
// por servidor ("breaker:upstream:<id>") em volta do reverse proxy.
package upstream
