package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"orbguard-appscan/internal/domain/services"
	"orbguard-appscan/pkg/logger"
)

// ExclusionsHandler manages the packages excluded from analysis
type ExclusionsHandler struct {
	feedback *services.FeedbackService
	logger   *logger.Logger
}

// NewExclusionsHandler creates a new exclusions handler
func NewExclusionsHandler(feedback *services.FeedbackService, log *logger.Logger) *ExclusionsHandler {
	return &ExclusionsHandler{
		feedback: feedback,
		logger:   log.WithComponent("exclusions-handler"),
	}
}

// List handles GET /api/v1/exclusions
func (h *ExclusionsHandler) List(w http.ResponseWriter, r *http.Request) {
	set, err := h.feedback.Exclusions(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list exclusions")
		respondError(w, http.StatusInternalServerError, "failed to list exclusions")
		return
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	respondJSON(w, http.StatusOK, map[string]any{
		"exclusions": names,
		"count":      len(names),
	})
}

// Include handles DELETE /api/v1/exclusions/{package}
func (h *ExclusionsHandler) Include(w http.ResponseWriter, r *http.Request) {
	packageName := chi.URLParam(r, "package")

	if err := h.feedback.Include(r.Context(), packageName); err != nil {
		h.logger.Error().Err(err).Str("package", packageName).Msg("failed to remove exclusion")
		respondError(w, http.StatusInternalServerError, "failed to remove exclusion")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"package_name": packageName,
		"excluded":     false,
	})
}
