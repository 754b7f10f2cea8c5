package handlers

import (
	"errors"
	"net/http"

	apimiddleware "orbguard-appscan/internal/api/middleware"
	"orbguard-appscan/internal/domain/models"
	"orbguard-appscan/internal/domain/services"
	"orbguard-appscan/pkg/logger"
)

// ScansHandler triggers scans and reports their outcome
type ScansHandler struct {
	scanner   *services.Scanner
	scheduler *services.Scheduler
	logger    *logger.Logger
}

// NewScansHandler creates a new scans handler. scheduler may be nil.
func NewScansHandler(scanner *services.Scanner, scheduler *services.Scheduler, log *logger.Logger) *ScansHandler {
	return &ScansHandler{
		scanner:   scanner,
		scheduler: scheduler,
		logger:    log.WithComponent("scans-handler"),
	}
}

// StatusResponse reports scanner and scheduler state
type StatusResponse struct {
	Scanner   services.ScannerStats    `json:"scanner"`
	Scheduler *services.SchedulerStats `json:"scheduler,omitempty"`
}

// Trigger handles POST /api/v1/scans. The scan runs to completion before
// the response is written.
func (h *ScansHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	result, err := h.scanner.Scan(r.Context(), models.ScanTriggerManual)
	switch {
	case err == nil:
		w.Header().Set(apimiddleware.ScanIDHeader, result.ID.String())
		respondJSON(w, http.StatusOK, result)
	case errors.Is(err, services.ErrScanInProgress):
		respondError(w, http.StatusConflict, services.ErrScanInProgress.Error())
	case errors.Is(err, services.ErrDiscoveryFailed):
		respondError(w, http.StatusServiceUnavailable, services.ScanFailedMessage)
	default:
		h.logger.Error().Err(err).Msg("scan failed")
		respondError(w, http.StatusInternalServerError, services.ScanFailedMessage)
	}
}

// Latest handles GET /api/v1/scans/latest
func (h *ScansHandler) Latest(w http.ResponseWriter, r *http.Request) {
	result := h.scanner.LastResult()
	if result == nil {
		respondError(w, http.StatusNotFound, "no scan has completed yet")
		return
	}
	w.Header().Set(apimiddleware.ScanIDHeader, result.ID.String())
	respondJSON(w, http.StatusOK, result)
}

// Status handles GET /api/v1/scans/status
func (h *ScansHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Scanner: h.scanner.Stats()}
	if h.scheduler != nil {
		stats := h.scheduler.Stats()
		resp.Scheduler = &stats
	}
	respondJSON(w, http.StatusOK, resp)
}
