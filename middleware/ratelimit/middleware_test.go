package ratelimit

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"college-gateway/clock"
	"college-gateway/middleware/ratelimit/application"
	"college-gateway/middleware/ratelimit/domain"
	"college-gateway/middleware/ratelimit/infra"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newLimiter(clk *clock.Fake) application.Service {
	return application.Service{
		Store: infra.NewMemoryCounterStore(infra.WithClock(clk.Now)),
		Now:   clk.Now,
	}
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func get(h http.Handler, path, remote string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example"+path, nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	clk := clock.NewFake(base)
	calls := 0

	h := Middleware(Options{
		Limiter: newLimiter(clk),
		Limit:   domain.Limit{Max: 1, Window: time.Minute},
		Debug:   true,
		Now:     clk.Now,
	})(okHandler(&calls))

	// 1) primeira passa
	w1 := get(h, "/api/notices", "10.0.0.1:1234")
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	if got := w1.Header().Get("X-RateLimit-Key"); got != "rate:api/notices:10.0.0.1" {
		t.Fatalf("expected X-RateLimit-Key rate:api/notices:10.0.0.1, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("expected X-RateLimit-Limit=1, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Reset"); got != "2026-03-02T08:01:00.000Z" {
		t.Fatalf("expected ISO reset, got %q", got)
	}

	// 2) segunda bloqueia com corpo JSON e Retry-After
	clk.Advance(30 * time.Second)
	w2 := get(h, "/api/notices", "10.0.0.1:1234")
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected Retry-After=30, got %q", got)
	}
	if !strings.HasPrefix(w2.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("expected JSON body")
	}
	var body struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retryAfter"`
	}
	if err := json.NewDecoder(w2.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error == "" || body.Message == "" || body.RetryAfter != 30 {
		t.Fatalf("unexpected body: %+v", body)
	}

	if calls != 1 {
		t.Fatalf("expected next handler to be called once, got %d", calls)
	}
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	clk := clock.NewFake(base)
	calls := 0

	h := Middleware(Options{
		Limiter:   newLimiter(clk),
		Limit:     domain.Limit{Max: 1, Window: time.Minute},
		KeyHeader: "X-Api-Key",
	})(okHandler(&calls))

	// duas chaves diferentes => ambas passam (cada chave tem sua própria janela)
	for _, k := range []string{"k1", "k2"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/api/x", nil)
		r.Header.Set("X-Api-Key", k)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for key %s, got %d", k, w.Code)
		}
	}
}

func TestMiddleware_ClassesAreIndependent(t *testing.T) {
	clk := clock.NewFake(base)
	calls := 0

	h := Middleware(Options{
		Limiter: newLimiter(clk),
		Limit:   domain.Limit{Max: 1, Window: time.Minute},
		Classes: map[string]domain.Limit{"api/auth": {Max: 2, Window: time.Minute}},
	})(okHandler(&calls))

	if w := get(h, "/api/notices/1", "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := get(h, "/api/notices/2", "10.0.0.1:1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected same class to share the window, got %d", w.Code)
	}
	for i := 0; i < 2; i++ {
		if w := get(h, "/api/auth/login", "10.0.0.1:1"); w.Code != http.StatusOK {
			t.Fatalf("auth call %d: expected 200 under class limit, got %d", i, w.Code)
		}
	}
	if w := get(h, "/api/auth/login", "10.0.0.1:1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected class limit to apply, got %d", w.Code)
	}
}

func TestMiddleware_HealthBypassesLimiter(t *testing.T) {
	clk := clock.NewFake(base)
	calls := 0
	stats := infra.NewMemoryStatsStore()

	h := Middleware(Options{
		Limiter: newLimiter(clk),
		Limit:   domain.Limit{Max: 1, Window: time.Minute},
		Stats:   stats,
	})(okHandler(&calls))

	for i := 0; i < 5; i++ {
		w := get(h, "/api/health", "10.0.0.1:1")
		if w.Code != http.StatusOK {
			t.Fatalf("expected health to bypass rate limit, got %d", w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") != "" {
			t.Fatalf("expected no rate limit headers on health")
		}
	}
	if got := stats.Total(); got.Allowed+got.Denied != 0 {
		t.Fatalf("expected health checks to leave no stats, got %+v", got)
	}
}

func TestMiddleware_BurstDeniesAfterWindowAllows(t *testing.T) {
	clk := clock.NewFake(base)
	calls := 0

	h := Middleware(Options{
		Limiter:         newLimiter(clk),
		Limit:           domain.Limit{Max: 100, Window: time.Minute},
		Burst:           infra.NewBurstStore(0.02, 1),
		BurstClasses:    []string{"api/auth"},
		BurstRetryAfter: 2500 * time.Millisecond,
	})(okHandler(&calls))

	if w := get(h, "/api/auth/login", "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w := get(h, "/api/auth/login", "10.0.0.1:1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected burst bucket to deny, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("expected Retry-After=3, got %q", got)
	}
	// a janela ainda tinha cota, mas a resposta negada não pode anunciá-la
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0 on burst denial, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Fatalf("expected X-RateLimit-Limit=100, got %q", got)
	}
	// classe fora de BurstClasses não usa o bucket
	for i := 0; i < 3; i++ {
		if w := get(h, "/api/notices", "10.0.0.1:1"); w.Code != http.StatusOK {
			t.Fatalf("expected notices unaffected by burst guard, got %d", w.Code)
		}
	}
}

func TestMiddleware_RecordsStatsAndDecisions(t *testing.T) {
	clk := clock.NewFake(base)
	calls := 0
	stats := infra.NewMemoryStatsStore()
	denied := 0

	h := Middleware(Options{
		Limiter: newLimiter(clk),
		Limit:   domain.Limit{Max: 1, Window: time.Minute},
		Stats:   stats,
		OnDecision: func(class string, dec domain.Decision) {
			if !dec.Allowed {
				denied++
			}
		},
	})(okHandler(&calls))

	get(h, "/api/notices", "10.0.0.1:1")
	get(h, "/api/notices", "10.0.0.1:1")

	if got := stats.ByClass()["api/notices"]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("expected 1 allowed / 1 denied for class, got %+v", got)
	}
	if denied != 1 {
		t.Fatalf("expected OnDecision to see one denial, got %d", denied)
	}
}

func TestMiddleware_AdaptiveLimiterShrinksUnderLoad(t *testing.T) {
	calls := 0
	h := Middleware(Options{
		Limiter: application.AdaptiveService{
			Service: application.Service{Store: infra.NewMemoryCounterStore()},
			Sampler: infra.StaticLoad(0.95),
		},
		Limit: domain.Limit{Max: 10, Window: time.Minute},
	})(okHandler(&calls))

	w := get(h, "/api/notices", "10.0.0.1:1")
	if got := w.Header().Get("X-RateLimit-Limit"); got != "3" {
		t.Fatalf("expected critical load to scale limit to 3, got %q", got)
	}
}
