// Package handlers provides HTTP request handlers for the cyberguard API.
// This file implements the scan endpoints: starting a simulated scan and
// reading its progress.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/cyberguard/cyberguard/internal/api/middleware"
	"github.com/cyberguard/cyberguard/internal/auth"
	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/models"
)

// ScanService is the part of the scan manager the handlers use.
type ScanService interface {
	CreateScan(ctx context.Context, target string) (models.ScanResult, error)
	GetScan(ctx context.Context, id string) (models.ScanResult, error)
	ListScans(ctx context.Context) ([]models.ScanResult, error)
}

// ScanRequest is the body of POST /api/scan.
type ScanRequest struct {
	Target string `json:"target" validate:"scantarget"`
}

// ScanResponse wraps a single scan.
type ScanResponse struct {
	Scan models.ScanResult `json:"scan"`
}

// ScansResponse wraps the scan list.
type ScansResponse struct {
	Scans []models.ScanResult `json:"scans"`
}

// ScanHandler handles scan-related API endpoints.
type ScanHandler struct {
	scans          ScanService
	logger         *slog.Logger
	validator      *validator.Validate
	maxRequestSize int64
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(scans ScanService, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{
		scans:          scans,
		logger:         logger.With("handler", "scan"),
		validator:      newValidator(),
		maxRequestSize: defaultMaxRequestSize,
	}
}

// WithMaxRequestSize overrides the body size limit.
func (h *ScanHandler) WithMaxRequestSize(n int64) *ScanHandler {
	h.maxRequestSize = n
	return h
}

// CreateScan handles POST /api/scan. The scan is returned pending; its
// progress is driven in the background.
func (h *ScanHandler) CreateScan(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	var req ScanRequest
	if err := parseJSON(w, r, &req, h.maxRequestSize); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, h.logger, errors.ErrInvalidTarget(req.Target))
		return
	}

	scan, err := h.scans.CreateScan(r.Context(), req.Target)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	attrs := []any{"request_id", requestID, "scan_id", scan.ID, "target", scan.Target}
	if s := auth.SessionFromContext(r.Context()); s != nil {
		attrs = append(attrs, "user_id", s.UserID)
	}
	h.logger.Info("Scan requested", attrs...)

	writeJSON(w, r, http.StatusOK, ScanResponse{Scan: scan})
}

// GetScan handles GET /api/scan/{id}.
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	id, err := extractStringFromPath(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	scan, err := h.scans.GetScan(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ScanResponse{Scan: scan})
}

// ListScans handles GET /api/scans.
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := h.scans.ListScans(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if scans == nil {
		scans = []models.ScanResult{}
	}
	writeJSON(w, r, http.StatusOK, ScansResponse{Scans: scans})
}
