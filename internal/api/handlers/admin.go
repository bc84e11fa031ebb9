// Package handlers provides HTTP request handlers for the cyberguard API.
// This file implements the administrative user endpoints, which require an
// authenticated session belonging to an admin.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/cyberguard/cyberguard/internal/auth"
	"github.com/cyberguard/cyberguard/internal/dashboard"
	"github.com/cyberguard/cyberguard/internal/models"
)

// UsersResponse wraps the account list.
type UsersResponse struct {
	Users []models.PublicUser `json:"users"`
}

// AdminHandler handles administrative API endpoints.
type AdminHandler struct {
	gate           *auth.Gate
	service        *dashboard.Service
	logger         *slog.Logger
	maxRequestSize int64
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(gate *auth.Gate, service *dashboard.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		gate:           gate,
		service:        service,
		logger:         logger.With("handler", "admin"),
		maxRequestSize: defaultMaxRequestSize,
	}
}

// WithMaxRequestSize overrides the body size limit.
func (h *AdminHandler) WithMaxRequestSize(n int64) *AdminHandler {
	h.maxRequestSize = n
	return h
}

// requireAdmin resolves the caller and checks the admin role. It writes the
// error response and returns false when the caller may not proceed.
func (h *AdminHandler) requireAdmin(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, err := h.gate.CurrentUser(r.Context(), auth.SessionFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return models.User{}, false
	}
	if err := h.gate.RequireRole(user, models.RoleAdmin); err != nil {
		h.logger.Warn("Admin access denied",
			"user_id", user.ID,
			"role", user.Role,
			"path", r.URL.Path)
		writeError(w, r, h.logger, err)
		return models.User{}, false
	}
	return user, true
}

// ListUsers handles GET /api/users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	users, err := h.service.Users(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, UsersResponse{Users: users})
}

// CreateUser handles POST /api/users.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var req models.NewUser
	if err := parseJSON(w, r, &req, h.maxRequestSize); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.gate.CreateUser(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info("User created by admin", "admin_id", admin.ID, "user_id", user.ID)
	writeJSON(w, r, http.StatusCreated, UserResponse{User: user.Public()})
}
