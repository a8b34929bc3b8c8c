// Package respond normaliza as respostas de erro HTTP do gateway.
//
// Todo erro que atravessa a borda HTTP sai no mesmo formato JSON:
//
//	{"error": "...", "message": "...", "retryAfter": 3, "requestId": "...", "timestamp": "..."}
//
// O campo `stack` só aparece fora de produção e apenas em 500 vindos de panic.
package respond
