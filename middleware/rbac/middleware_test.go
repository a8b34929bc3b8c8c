package rbac

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
)

const secret = "test-secret"

func mint(t *testing.T, a *JWTAuthenticator, sub string, role Role) string {
	t.Helper()
	tok, err := a.Issue(sub, role, "", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func request(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "http://example/api/notices", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestJWTAuthenticator_RoundTrip(t *testing.T) {
	a := NewJWTAuthenticator(secret, "college")

	id, err := a.Authenticate(request(mint(t, a, "u-42", RoleFaculty)))
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if id.Subject != "u-42" || id.Role != RoleFaculty {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestJWTAuthenticator_Rejects(t *testing.T) {
	a := NewJWTAuthenticator(secret, "college")
	other := NewJWTAuthenticator("other-secret", "college")
	wrongIssuer := NewJWTAuthenticator(secret, "someone-else")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "student",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "college",
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expiredTok, _ := expired.SignedString([]byte(secret))

	cases := map[string]string{
		"bad signature": mint(t, other, "u-1", RoleStudent),
		"wrong issuer":  mint(t, wrongIssuer, "u-1", RoleStudent),
		"expired":       expiredTok,
		"garbage":       "not-a-jwt",
	}
	for name, tok := range cases {
		if _, err := a.Authenticate(request(tok)); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
	if _, err := a.Authenticate(request("")); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestMiddleware_AuthThenPermission(t *testing.T) {
	a := NewJWTAuthenticator(secret, "college")
	p := DefaultPolicy()

	calls := 0
	h := Authenticate(a, zerolog.Nop())(RequirePermission(p, "notices:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if id, ok := FromContext(r.Context()); !ok || id.Subject != "hod-1" {
			t.Errorf("expected identity in context, got %+v", id)
		}
		w.WriteHeader(http.StatusCreated)
	})))

	cases := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"student", mint(t, a, "stu-1", RoleStudent), http.StatusForbidden},
		{"hod", mint(t, a, "hod-1", RoleHOD), http.StatusCreated},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, request(tc.token))
		if w.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, w.Code)
		}
	}
	if calls != 1 {
		t.Fatalf("expected handler called once, got %d", calls)
	}
}

func TestRequirePermission_WithoutIdentityIs401(t *testing.T) {
	h := RequirePermission(DefaultPolicy(), "notices:read")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, request(""))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestSubjectKeyFunc(t *testing.T) {
	a := NewJWTAuthenticator(secret, "college")
	fn := SubjectKeyFunc(a, func(r *http.Request) string { return "ip:10.0.0.1" })

	if got := fn(request(mint(t, a, "u-9", RoleStudent))); got != "user:u-9" {
		t.Fatalf("expected user key, got %q", got)
	}
	if got := fn(request("forged")); got != "ip:10.0.0.1" {
		t.Fatalf("expected fallback for invalid token, got %q", got)
	}
}
