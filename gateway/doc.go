// Package gateway compõe o pipeline HTTP do portal da faculdade:
//
//	request id -> access log -> metrics -> recovery -> rate limit -> auth (401)
//	-> permissão (403) -> admissão no pool (503) -> handler
//
// /api/health e /metrics ficam fora do rate limit e da autenticação.
package gateway
