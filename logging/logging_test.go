package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"college-gateway/config"
)

func TestNewWriter_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, config.LoggingConfig{Level: "warn", Format: "json"})

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("expected only warn line, got %q", out)
	}

	buf.Reset()
	console := NewWriter(&buf, config.LoggingConfig{Level: "bogus", Format: "console"})
	console.Info().Msg("console line")
	if !strings.Contains(buf.String(), "console line") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected console output at info, got %q", buf.String())
	}
}

func TestAccessLog_WritesRequestLine(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"})

	h := middleware.RequestID(AccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Server-Id", "s1")
		w.WriteHeader(http.StatusTeapot)
	})))
	r := httptest.NewRequest(http.MethodGet, "http://example/api/notices", nil)
	r.Header.Set("X-Request-ID", "req-9")
	h.ServeHTTP(httptest.NewRecorder(), r)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["level"] != "warn" || line["status"] != float64(418) || line["request_id"] != "req-9" || line["server_id"] != "s1" {
		t.Fatalf("unexpected access log %v", line)
	}
}
