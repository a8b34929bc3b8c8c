package respond

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RequestIDHeader é o header usado para propagar o id da requisição.
const RequestIDHeader = "X-Request-ID"

const (
	MsgRateLimited   = "Too many requests"
	MsgUnauthorized  = "Authentication required"
	MsgForbidden     = "Access denied. Insufficient permissions."
	MsgUnavailable   = "Service temporarily unavailable"
	MsgInternalError = "Internal server error"
)

// Error é o corpo JSON padrão de erro.
type Error struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
	RequestID  string `json:"requestId"`
	Timestamp  string `json:"timestamp"`
	Stack      string `json:"stack,omitempty"`
}

// Now pode ser trocado em testes.
var Now = time.Now

// RequestID devolve o id da requisição: chi middleware.RequestID, header ou um uuid novo.
func RequestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

// JSON escreve v como JSON com o status informado.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError escreve o envelope padrão.
func WriteError(w http.ResponseWriter, r *http.Request, status int, errMsg, message string) {
	JSON(w, status, newError(r, errMsg, message))
}

// RateLimited escreve 429 com o header Retry-After (segundos, arredondado para cima).
func RateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	secs := RetryAfterSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))

	body := newError(r, MsgRateLimited, "Rate limit exceeded, try again in "+strconv.Itoa(secs)+" second(s)")
	body.RetryAfter = &secs
	JSON(w, http.StatusTooManyRequests, body)
}

// Unavailable escreve 503. retryAfter > 0 também vira header Retry-After.
func Unavailable(w http.ResponseWriter, r *http.Request, message string, retryAfter time.Duration) {
	body := newError(r, MsgUnavailable, message)
	if retryAfter > 0 {
		secs := RetryAfterSeconds(retryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		body.RetryAfter = &secs
	}
	JSON(w, http.StatusServiceUnavailable, body)
}

func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusUnauthorized, MsgUnauthorized, message)
}

func Forbidden(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusForbidden, MsgForbidden, "")
}

// RetryAfterSeconds converte para segundos inteiros, mínimo 1.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func newError(r *http.Request, errMsg, message string) Error {
	return Error{
		Error:     errMsg,
		Message:   message,
		RequestID: RequestID(r),
		Timestamp: Now().UTC().Format(time.RFC3339),
	}
}
