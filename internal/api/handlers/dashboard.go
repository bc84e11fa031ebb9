package handlers

import (
	"log/slog"
	"net/http"

	"github.com/cyberguard/cyberguard/internal/dashboard"
	"github.com/cyberguard/cyberguard/internal/models"
)

// DevicesResponse wraps the device inventory.
type DevicesResponse struct {
	Devices []models.Device `json:"devices"`
}

// OpenPortsResponse wraps the open-port records.
type OpenPortsResponse struct {
	OpenPorts []models.OpenPort `json:"openPorts"`
}

// CVEsResponse wraps the vulnerability list.
type CVEsResponse struct {
	CVEs []models.CVE `json:"cves"`
}

// DashboardHandler serves the read-only dashboard views.
type DashboardHandler struct {
	service *dashboard.Service
	logger  *slog.Logger
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(service *dashboard.Service, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		service: service,
		logger:  logger.With("handler", "dashboard"),
	}
}

// Summary handles GET /api/dashboard.
func (h *DashboardHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

// Severity handles GET /api/dashboard/severity.
func (h *DashboardHandler) Severity(w http.ResponseWriter, r *http.Request) {
	breakdown, err := h.service.SeverityBreakdown(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, breakdown)
}

// Devices handles GET /api/devices.
func (h *DashboardHandler) Devices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.service.Devices(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, DevicesResponse{Devices: devices})
}

// OpenPorts handles GET /api/open-ports.
func (h *DashboardHandler) OpenPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := h.service.OpenPorts(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, OpenPortsResponse{OpenPorts: ports})
}

// CVEs handles GET /api/cves.
func (h *DashboardHandler) CVEs(w http.ResponseWriter, r *http.Request) {
	cves, err := h.service.CVEs(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, CVEsResponse{CVEs: cves})
}
