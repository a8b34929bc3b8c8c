// portal-server é um servidor de aplicação de exemplo para rodar atrás do gateway
// (ou sozinho, com o rate limit embutido) em desenvolvimento e testes de carga.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"college-gateway/config"
	"college-gateway/logging"
	"college-gateway/middleware/ratelimit"
	"college-gateway/middleware/ratelimit/application"
	"college-gateway/middleware/ratelimit/domain"
	"college-gateway/middleware/ratelimit/infra"
	"college-gateway/middleware/respond"
	"college-gateway/upstream"
)

func main() {
	logger := logging.New(config.LoggingConfig{Level: os.Getenv("LOG_LEVEL"), Format: "console"})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	id := os.Getenv("SERVER_ID")
	if id == "" {
		id = "portal-1"
	}

	// Exemplo: rate limit embutido direto no servidor (sem gateway na frente).
	var limiter ratelimit.Checker
	if os.Getenv("EMBED_RATELIMIT") == "true" {
		store := infra.NewMemoryCounterStore()
		store.StartJanitor(ctx)
		limiter = application.Service{Store: store, Limit: domain.Limit{Max: 100, Window: 15 * time.Minute}}
	}

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(id, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Str("server_id", id).Bool("embedded_ratelimit", limiter != nil).Msg("portal server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func newRouter(id string, limiter ratelimit.Checker, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.AccessLog(logger))
	r.Use(respond.Recoverer(logger, true))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(upstream.ServerIDHeader, id)
			next.ServeHTTP(w, r)
		})
	})
	r.Use(ratelimit.Middleware(ratelimit.Options{
		Limiter: limiter,
		Limit:   domain.Limit{Max: 100, Window: 15 * time.Minute},
	}))

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok", "serverId": id})
	})
	r.Get("/api/timetable", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]any{
			"serverId": id,
			"slots": []map[string]string{
				{"day": "monday", "time": "09:00", "course": "CS101"},
				{"day": "monday", "time": "11:00", "course": "MA201"},
			},
		})
	})
	r.Get("/api/attendance/{studentID}", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]any{
			"serverId":  id,
			"studentId": chi.URLParam(r, "studentID"),
			"present":   42,
			"total":     45,
		})
	})
	r.Get("/api/grades", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]any{
			"serverId": id,
			"user":     r.Header.Get("X-Forwarded-For"),
			"grades":   map[string]string{"CS101": "A", "MA201": "B+"},
		})
	})

	// /api/slow?ms=N segura a requisição (teste de fila/timeout do pool)
	r.Get("/api/slow", func(w http.ResponseWriter, r *http.Request) {
		ms, _ := strconv.Atoi(r.URL.Query().Get("ms"))
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		respond.JSON(w, http.StatusOK, map[string]any{"serverId": id, "sleptMs": ms})
	})
	// /api/fail sempre falha (teste do circuit breaker)
	r.Get("/api/fail", func(w http.ResponseWriter, r *http.Request) {
		respond.WriteError(w, r, http.StatusInternalServerError, respond.MsgInternalError, "simulated failure")
	})
	return r
}
