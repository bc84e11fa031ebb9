package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/cyberguard/internal/auth"
	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/models"
)

func TestAdminHandler_ListUsers(t *testing.T) {
	env := newTestEnv(t)
	h := NewAdminHandler(env.gate, env.service, createTestLogger())

	tests := []struct {
		name           string
		session        func(t *testing.T) *auth.Session
		expectedStatus int
		expectedCode   errors.ErrorCode
	}{
		{
			name:           "admin",
			session:        func(t *testing.T) *auth.Session { return env.sessionFor(t, "admin") },
			expectedStatus: http.StatusOK,
		},
		{
			name:           "analyst is forbidden",
			session:        func(t *testing.T) *auth.Session { return env.sessionFor(t, "analyst") },
			expectedStatus: http.StatusForbidden,
			expectedCode:   errors.CodeForbidden,
		},
		{
			name:           "no session",
			session:        func(*testing.T) *auth.Session { return nil },
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   errors.CodeUnauthenticated,
		},
		{
			name: "session for deleted user",
			session: func(*testing.T) *auth.Session {
				return &auth.Session{ID: "s1", UserID: "missing-user", Role: models.RoleAdmin}
			},
			expectedStatus: http.StatusNotFound,
			expectedCode:   errors.CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
			if s := tt.session(t); s != nil {
				req = withSession(req, s)
			}
			rr := httptest.NewRecorder()

			h.ListUsers(rr, req)

			require.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus != http.StatusOK {
				assert.Equal(t, string(tt.expectedCode), decodeError(t, rr).Code)
				return
			}

			var resp UsersResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			require.Len(t, resp.Users, 2)
			assert.Equal(t, "admin", resp.Users[0].Username)
			assert.Equal(t, "analyst", resp.Users[1].Username)
			assert.NotContains(t, rr.Body.String(), "password")
			assert.NotContains(t, rr.Body.String(), "$2a$")
		})
	}
}

func TestAdminHandler_CreateUser(t *testing.T) {
	tests := []struct {
		name           string
		caller         string
		body           string
		expectedStatus int
		expectedCode   errors.ErrorCode
	}{
		{
			name:           "creates viewer by default",
			caller:         "admin",
			body:           `{"username":"viewer1","email":"viewer1@cyberguard.com","password":"viewer123"}`,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "duplicate username",
			caller:         "admin",
			body:           `{"username":"analyst","email":"other@cyberguard.com","password":"pw"}`,
			expectedStatus: http.StatusConflict,
			expectedCode:   errors.CodeConflict,
		},
		{
			name:           "duplicate email",
			caller:         "admin",
			body:           `{"username":"other","email":"analyst@cyberguard.com","password":"pw"}`,
			expectedStatus: http.StatusConflict,
			expectedCode:   errors.CodeConflict,
		},
		{
			name:           "invalid role",
			caller:         "admin",
			body:           `{"username":"x","email":"x@cyberguard.com","password":"pw","role":"root"}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   errors.CodeValidation,
		},
		{
			name:           "analyst is forbidden",
			caller:         "analyst",
			body:           `{"username":"y","email":"y@cyberguard.com","password":"pw"}`,
			expectedStatus: http.StatusForbidden,
			expectedCode:   errors.CodeForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			h := NewAdminHandler(env.gate, env.service, createTestLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(tt.body))
			req = withSession(req, env.sessionFor(t, tt.caller))
			rr := httptest.NewRecorder()

			h.CreateUser(rr, req)

			require.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
			if tt.expectedStatus != http.StatusCreated {
				assert.Equal(t, string(tt.expectedCode), decodeError(t, rr).Code)
				return
			}

			var resp UserResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, "viewer1", resp.User.Username)
			assert.Equal(t, models.RoleViewer, resp.User.Role)
			assert.True(t, resp.User.IsActive)

			_, _, _, err := env.gate.Login(t.Context(), "viewer1", "viewer1@cyberguard.com", "viewer123")
			assert.NoError(t, err)
		})
	}
}
