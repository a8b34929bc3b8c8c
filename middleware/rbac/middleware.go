package rbac

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"college-gateway/middleware/respond"
)

// Authenticate exige identidade válida; sem ela responde 401.
func Authenticate(auth Authenticator, logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.Authenticate(r)
			if err != nil {
				msg := "Invalid or expired token"
				if errors.Is(err, ErrMissingToken) {
					msg = "Missing bearer token"
				} else {
					logger.Debug().Err(err).Str("path", r.URL.Path).Msg("token rejected")
				}
				respond.Unauthorized(w, r, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequirePermission responde 403 quando o papel da identidade não concede perm.
func RequirePermission(p *Policy, perm string) func(next http.Handler) http.Handler {
	return RequireFunc(p, func(*http.Request) string { return perm })
}

// RequireFunc é RequirePermission com a permissão derivada da requisição
// (ex: tabela de rotas do proxy).
func RequireFunc(p *Policy, permFor func(r *http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				respond.Unauthorized(w, r, "Missing identity")
				return
			}
			if !p.Can(id.Role, permFor(r)) {
				respond.Forbidden(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectKeyFunc identifica o cliente do rate limit pelo usuário do token.
// Ela roda antes de Authenticate, então valida o token por conta própria; sem
// token válido usa fallback (normalmente o IP).
func SubjectKeyFunc(auth Authenticator, fallback func(r *http.Request) string) func(r *http.Request) string {
	return func(r *http.Request) string {
		if id, ok := FromContext(r.Context()); ok {
			return "user:" + id.Subject
		}
		if id, err := auth.Authenticate(r); err == nil {
			return "user:" + id.Subject
		}
		return fallback(r)
	}
}
