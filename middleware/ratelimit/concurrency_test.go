package ratelimit

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"college-gateway/middleware/ratelimit/domain"
)

func TestConcurrencyMiddleware_TimesOutWhenNoSlot(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	secondDone := make(chan struct{})
	var startedOnce sync.Once

	// handler que segura a vaga até liberarmos.
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedOnce.Do(func() { close(started) })
		<-release
		w.WriteHeader(http.StatusOK)
	})

	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Max:            1,
		QueueLimit:     1,
		AcquireTimeout: 25 * time.Millisecond,
	})(next)

	var wg sync.WaitGroup
	wg.Add(2)

	// request 1: ocupa a vaga e fica pendurado
	go func() {
		defer wg.Done()
		r1 := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		w1 := httptest.NewRecorder()
		h.ServeHTTP(w1, r1)
		if w1.Code != http.StatusOK {
			t.Errorf("expected first request 200, got %d", w1.Code)
		}
		if got := w1.Header().Get("X-Server-Load"); got != "1/1" {
			t.Errorf("expected X-Server-Load=1/1, got %q", got)
		}
	}()

	// espera a primeira realmente entrar no handler
	select {
	case <-started:
	case <-time.After(200 * time.Millisecond):
		close(release)
		wg.Wait()
		t.Fatalf("timeout waiting first request to start")
	}

	// request 2: entra na fila e falha por timeout
	go func() {
		defer wg.Done()
		r2 := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		w2 := httptest.NewRecorder()
		h.ServeHTTP(w2, r2)
		if w2.Code != http.StatusServiceUnavailable {
			t.Errorf("expected second request 503, got %d", w2.Code)
		}
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(w2.Body).Decode(&body)
		if body.Error != "Service temporarily unavailable" {
			t.Errorf("unexpected 503 body: %+v", body)
		}
		close(secondDone)
	}()

	// garante que a segunda terminou antes de liberar a primeira (senão a 2ª pode adquirir)
	select {
	case <-secondDone:
	case <-time.After(500 * time.Millisecond):
		close(release)
		wg.Wait()
		t.Fatalf("timeout waiting second request to finish")
	}

	// libera a primeira
	close(release)
	wg.Wait()
}

func TestConcurrencyMiddleware_ReleasesSlotOnPanic(t *testing.T) {
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	var rejected []error

	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Max: 1,
		OnReject: func(r *http.Request, err error) {
			rejected = append(rejected, err)
		},
	})(boom)

	for i := 0; i < 2; i++ {
		func() {
			defer func() { _ = recover() }()
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example/", nil))
		}()
	}
	if len(rejected) != 0 {
		t.Fatalf("expected slot released after panic, got rejections %v", rejected)
	}
}

func TestWriteError_MapsAdmissionErrors(t *testing.T) {
	cases := []struct {
		err        error
		status     int
		retryAfter string
	}{
		{&domain.BreakerOpenError{Key: "breaker:db", RetryAfter: 4 * time.Second}, http.StatusServiceUnavailable, "4"},
		{domain.ErrQueueFull, http.StatusServiceUnavailable, ""},
		{domain.ErrQueueTimeout, http.StatusServiceUnavailable, ""},
		{&domain.OperationError{Attempts: 3, Err: errors.New("db")}, http.StatusServiceUnavailable, ""},
		{errors.New("unexpected"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		WriteError(w, httptest.NewRequest(http.MethodGet, "http://example/", nil), tc.err)
		if w.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, w.Code)
		}
		if got := w.Header().Get("Retry-After"); got != tc.retryAfter {
			t.Fatalf("%v: expected Retry-After %q, got %q", tc.err, tc.retryAfter, got)
		}
	}
}
