package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/cyberguard/internal/auth"
	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/models"
)

func createTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r)
	}))

	t.Run("generated", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.NotEqual(t, "unknown", seen)
		assert.Equal(t, seen, rr.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", rr.Header().Get(RequestIDHeader))
	})

	t.Run("oversized header replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("a", maxRequestIDLength+1))
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Len(t, seen, 36)
	})

	t.Run("missing outside middleware", func(t *testing.T) {
		assert.Equal(t, "unknown", GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil)))
	})
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	h := RequestID()(Logging(createTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	req.Header.Set(RequestIDHeader, "log-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, "request_id=log-1")
	assert.Contains(t, out, "method=GET")
	assert.Contains(t, out, "path=/api/dashboard")
	assert.Contains(t, out, "status=418")
	assert.Contains(t, out, "duration_ms=")
}

type recordedRequest struct {
	method, route string
	status        int
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	logins   []string
}

func (f *fakeRecorder) RecordHTTPRequest(method, route string, status int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method, route, status})
}

func (f *fakeRecorder) RecordLogin(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, outcome)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	rec := &fakeRecorder{}
	router := mux.NewRouter()
	router.Use(Metrics(rec))
	router.HandleFunc("/api/scan/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/scan/abc", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/scan/def", nil))

	require.Len(t, rec.requests, 2)
	for _, r := range rec.requests {
		assert.Equal(t, recordedRequest{http.MethodGet, "/api/scan/{id}", http.StatusNotFound}, r)
	}

	t.Run("outside a router", func(t *testing.T) {
		rec := &fakeRecorder{}
		Metrics(rec)(okHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
		require.Len(t, rec.requests, 1)
		assert.Equal(t, "unmatched", rec.requests[0].route)
	})
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	h := RequestID()(Recovery(createTestLogger(&buf))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(RequestIDHeader, "panic-1")
	rr := httptest.NewRecorder()
	require.NotPanics(t, func() { h.ServeHTTP(rr, req) })

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeError(t, rr)
	assert.Equal(t, "Internal Server Error", body.Error)
	assert.Equal(t, "panic-1", body.RequestID)
	assert.NotContains(t, body.Message, "boom")
	assert.Contains(t, buf.String(), "panic=boom")
}

func TestContentType(t *testing.T) {
	h := ContentType()(okHandler)

	tests := []struct {
		name        string
		method      string
		contentType string
		want        int
	}{
		{"get ignores header", http.MethodGet, "text/plain", http.StatusOK},
		{"json post", http.MethodPost, "application/json", http.StatusOK},
		{"json with charset", http.MethodPost, "application/json; charset=utf-8", http.StatusOK},
		{"missing header", http.MethodPost, "", http.StatusOK},
		{"form post", http.MethodPost, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"xml put", http.MethodPut, "application/xml", http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders()(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rr.Header().Get("Content-Security-Policy"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"), "burst exhausted")
	assert.True(t, rl.Allow("b"), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"), "one token refilled")

	assert.Equal(t, 2, rl.Len())
	now = now.Add(time.Hour)
	assert.Equal(t, 2, rl.Cleanup(time.Minute))
	assert.Equal(t, 0, rl.Len())
}

func TestRateLimitMiddleware(t *testing.T) {
	var buf bytes.Buffer
	rl := NewRateLimiter(0.5, 1)
	limited := 0
	h := RateLimit(rl, createTestLogger(&buf), func(*http.Request) { limited++ })(okHandler)

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = remote
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234").Code)

	rr := send("10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "3", rr.Header().Get("Retry-After"))
	assert.Equal(t, string(errors.CodeRateLimited), decodeError(t, rr).Code)
	assert.Equal(t, 1, limited)
	assert.Contains(t, buf.String(), "client_ip=10.0.0.1")

	assert.Equal(t, http.StatusOK, send("10.0.0.2:1234").Code, "other clients unaffected")
}

type fakeResolver map[string]*auth.Session

func (f fakeResolver) Resolve(token string) (*auth.Session, error) {
	if s, ok := f[token]; ok {
		return s, nil
	}
	return nil, errors.ErrUnauthenticated()
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, TokenFromRequest(req, "cg"))

	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", TokenFromRequest(req, "cg"))

	req.AddCookie(&http.Cookie{Name: "cg", Value: "cookie-token"})
	assert.Equal(t, "cookie-token", TokenFromRequest(req, "cg"), "cookie wins")

	basic := httptest.NewRequest(http.MethodGet, "/", nil)
	basic.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	assert.Empty(t, TokenFromRequest(basic, "cg"))
}

func TestSessionAndRequireSession(t *testing.T) {
	resolver := fakeResolver{"good": {ID: "s1", UserID: "u1", Role: models.RoleAdmin}}

	var got *auth.Session
	protected := Session(resolver, "cg", createTestLogger(&bytes.Buffer{}))(
		RequireSession()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = auth.SessionFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})))

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"unknown token", "bad", http.StatusUnauthorized},
		{"valid token", "good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
			if tt.token != "" {
				req.AddCookie(&http.Cookie{Name: "cg", Value: tt.token})
			}
			rr := httptest.NewRecorder()
			protected.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			if tt.status == http.StatusOK {
				require.NotNil(t, got)
				assert.Equal(t, "u1", got.UserID)
			} else {
				assert.Nil(t, got)
				assert.Equal(t, string(errors.CodeUnauthenticated), decodeError(t, rr).Code)
			}
		})
	}
}

func TestResponseWriterCapturesFirstStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	w := wrap(rr)
	w.WriteHeader(http.StatusCreated)
	w.WriteHeader(http.StatusInternalServerError)
	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.Equal(t, http.StatusCreated, w.statusCode)
	assert.Equal(t, 3, w.size)
	assert.Same(t, rr, w.Unwrap())

	_, _, err = w.Hijack()
	assert.Error(t, err, "recorder cannot be hijacked")
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.7:5555"
	assert.Equal(t, "192.168.1.7", getClientIP(req))

	req.RemoteAddr = "[::1]:80"
	assert.Equal(t, "::1", getClientIP(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", getClientIP(req))

	req.RemoteAddr = ""
	assert.Equal(t, "unknown", getClientIP(req))
}
