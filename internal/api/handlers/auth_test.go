package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/models"
)

// loginRecorder captures login outcomes.
type loginRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *loginRecorder) RecordHTTPRequest(string, string, int, time.Duration) {}

func (r *loginRecorder) RecordLogin(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func newTestAuthHandler(t *testing.T) (*AuthHandler, *testEnv, *loginRecorder) {
	t.Helper()
	env := newTestEnv(t)
	rec := &loginRecorder{}
	h := NewAuthHandler(env.gate, CookieConfig{Name: "cyberguard_session"}, rec, createTestLogger())
	return h, env, rec
}

func TestAuthHandler_Login(t *testing.T) {
	tests := []struct {
		name            string
		body            string
		expectedStatus  int
		expectedCode    errors.ErrorCode
		expectedOutcome string
	}{
		{
			name:            "valid credentials",
			body:            `{"username":"admin","email":"admin@cyberguard.com","password":"admin123"}`,
			expectedStatus:  http.StatusOK,
			expectedOutcome: LoginSuccess,
		},
		{
			name:            "wrong password",
			body:            `{"username":"admin","email":"admin@cyberguard.com","password":"nope"}`,
			expectedStatus:  http.StatusUnauthorized,
			expectedCode:    errors.CodeInvalidCredentials,
			expectedOutcome: LoginInvalidCredentials,
		},
		{
			name:            "wrong email",
			body:            `{"username":"admin","email":"analyst@cyberguard.com","password":"admin123"}`,
			expectedStatus:  http.StatusUnauthorized,
			expectedCode:    errors.CodeInvalidCredentials,
			expectedOutcome: LoginInvalidCredentials,
		},
		{
			name:            "unknown user",
			body:            `{"username":"ghost","email":"ghost@cyberguard.com","password":"ghost123"}`,
			expectedStatus:  http.StatusUnauthorized,
			expectedCode:    errors.CodeInvalidCredentials,
			expectedOutcome: LoginInvalidCredentials,
		},
		{
			name:            "missing password",
			body:            `{"username":"admin","email":"admin@cyberguard.com"}`,
			expectedStatus:  http.StatusBadRequest,
			expectedCode:    errors.CodeValidation,
			expectedOutcome: LoginInvalidPayload,
		},
		{
			name:            "malformed email",
			body:            `{"username":"admin","email":"admin","password":"admin123"}`,
			expectedStatus:  http.StatusBadRequest,
			expectedCode:    errors.CodeValidation,
			expectedOutcome: LoginInvalidPayload,
		},
		{
			name:            "malformed json",
			body:            `{"username":`,
			expectedStatus:  http.StatusBadRequest,
			expectedCode:    errors.CodeValidation,
			expectedOutcome: LoginInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, rec := newTestAuthHandler(t)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			h.Login(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, []string{tt.expectedOutcome}, rec.outcomes)

			if tt.expectedStatus != http.StatusOK {
				assert.Equal(t, string(tt.expectedCode), decodeError(t, rr).Code)
				assert.Empty(t, rr.Result().Cookies())
				return
			}

			var resp LoginResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, "admin", resp.User.Username)
			assert.Equal(t, models.RoleAdmin, resp.User.Role)
			assert.NotEmpty(t, resp.Token)
			assert.NotContains(t, rr.Body.String(), "password")

			cookies := rr.Result().Cookies()
			require.Len(t, cookies, 1)
			assert.Equal(t, "cyberguard_session", cookies[0].Name)
			assert.Equal(t, resp.Token, cookies[0].Value)
			assert.True(t, cookies[0].HttpOnly)
		})
	}
}

func TestAuthHandler_InvalidCredentialsAreIndistinguishable(t *testing.T) {
	h, _, _ := newTestAuthHandler(t)

	bodies := []string{
		`{"username":"admin","email":"admin@cyberguard.com","password":"wrong"}`,
		`{"username":"nobody","email":"admin@cyberguard.com","password":"admin123"}`,
	}

	var messages []string
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		rr := httptest.NewRecorder()
		h.Login(rr, req)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		messages = append(messages, decodeError(t, rr).Message)
	}
	assert.Equal(t, messages[0], messages[1])
}

func TestAuthHandler_Logout(t *testing.T) {
	h, env, _ := newTestAuthHandler(t)

	_, token, session, err := env.gate.Login(t.Context(), "admin", "admin@cyberguard.com", "admin123")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "cyberguard_session", Value: token})
	req = withSession(req, session)
	rr := httptest.NewRecorder()

	h.Logout(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Logged out successfully"}`, rr.Body.String())

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)

	_, err = env.sessions.Resolve(token)
	assert.True(t, errors.IsCode(err, errors.CodeUnauthenticated))
}

func TestAuthHandler_LogoutWithoutSession(t *testing.T) {
	h, _, _ := newTestAuthHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	rr := httptest.NewRecorder()

	h.Logout(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthHandler_Me(t *testing.T) {
	h, env, _ := newTestAuthHandler(t)

	t.Run("with session", func(t *testing.T) {
		req := withSession(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), env.sessionFor(t, "analyst"))
		rr := httptest.NewRecorder()

		h.Me(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp UserResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "analyst", resp.User.Username)
		assert.Equal(t, "analyst@cyberguard.com", resp.User.Email)
		assert.Equal(t, models.RoleAnalyst, resp.User.Role)
	})

	t.Run("without session", func(t *testing.T) {
		rr := httptest.NewRecorder()

		h.Me(rr, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, string(errors.CodeUnauthenticated), decodeError(t, rr).Code)
	})
}
