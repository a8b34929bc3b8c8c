package respond

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// Recoverer converte panics em 500 no formato padrão.
// exposeStack inclui o stack trace no corpo (apenas fora de produção).
func Recoverer(logger zerolog.Logger, exposeStack bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				stack := debug.Stack()
				logger.Error().
					Str("request_id", RequestID(r)).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Interface("panic", rec).
					Bytes("stack", stack).
					Msg("panic recovered")

				body := newError(r, MsgInternalError, fmt.Sprintf("%v", rec))
				if exposeStack {
					body.Stack = string(stack)
				} else {
					body.Message = ""
				}
				JSON(w, http.StatusInternalServerError, body)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
