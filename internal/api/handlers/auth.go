package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cyberguard/cyberguard/internal/api/middleware"
	"github.com/cyberguard/cyberguard/internal/auth"
	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/metrics"
	"github.com/cyberguard/cyberguard/internal/models"
)

// Login outcomes reported to the metrics recorder.
const (
	LoginSuccess            = "success"
	LoginInvalidPayload     = "invalid_payload"
	LoginInvalidCredentials = "invalid_credentials"
	LoginError              = "error"
	LoginRateLimited        = "rate_limited"
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	User      models.PublicUser `json:"user"`
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// UserResponse wraps a single user.
type UserResponse struct {
	User models.PublicUser `json:"user"`
}

// MessageResponse carries a plain status message.
type MessageResponse struct {
	Message string `json:"message"`
}

// AuthHandler handles login, logout and the current-user lookup.
type AuthHandler struct {
	gate           *auth.Gate
	cookie         CookieConfig
	recorder       metrics.Recorder
	logger         *slog.Logger
	validator      *validator.Validate
	maxRequestSize int64
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(gate *auth.Gate, cookie CookieConfig, recorder metrics.Recorder, logger *slog.Logger) *AuthHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &AuthHandler{
		gate:           gate,
		cookie:         cookie,
		recorder:       recorder,
		logger:         logger.With("handler", "auth"),
		validator:      newValidator(),
		maxRequestSize: defaultMaxRequestSize,
	}
}

// WithMaxRequestSize overrides the body size limit.
func (h *AuthHandler) WithMaxRequestSize(n int64) *AuthHandler {
	h.maxRequestSize = n
	return h
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := parseJSON(w, r, &req, h.maxRequestSize); err != nil {
		h.recorder.RecordLogin(LoginInvalidPayload)
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.recorder.RecordLogin(LoginInvalidPayload)
		writeError(w, r, h.logger, validationError(err))
		return
	}

	user, token, session, err := h.gate.Login(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.IsCode(err, errors.CodeInvalidCredentials) {
			h.recorder.RecordLogin(LoginInvalidCredentials)
		} else {
			h.recorder.RecordLogin(LoginError)
		}
		writeError(w, r, h.logger, err)
		return
	}
	h.recorder.RecordLogin(LoginSuccess)

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   int(time.Until(session.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, r, http.StatusOK, LoginResponse{
		User:      user.Public(),
		Token:     token,
		ExpiresAt: session.ExpiresAt,
	})
}

// Logout handles POST /api/auth/logout. It succeeds with or without a
// session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.TokenFromRequest(r, h.cookie.Name); token != "" {
		h.gate.Logout(token)
	}
	if s := auth.SessionFromContext(r.Context()); s != nil {
		h.logger.Info("User logged out", "user_id", s.UserID, "session_id", s.ID)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, r, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.gate.CurrentUser(r.Context(), auth.SessionFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, UserResponse{User: user.Public()})
}
