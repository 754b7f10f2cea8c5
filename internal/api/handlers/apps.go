package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"orbguard-appscan/internal/domain/models"
	"orbguard-appscan/internal/domain/services"
	"orbguard-appscan/pkg/logger"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// AppsHandler serves analyzed apps and the user's trust/flag/exclude actions
type AppsHandler struct {
	analyzer *services.AppAnalyzer
	feedback *services.FeedbackService
	apps     services.AppStore
	logger   *logger.Logger
}

// NewAppsHandler creates a new apps handler
func NewAppsHandler(analyzer *services.AppAnalyzer, feedback *services.FeedbackService, apps services.AppStore, log *logger.Logger) *AppsHandler {
	return &AppsHandler{
		analyzer: analyzer,
		feedback: feedback,
		apps:     apps,
		logger:   log.WithComponent("apps-handler"),
	}
}

// AppListResponse wraps a page of apps
type AppListResponse struct {
	Apps  []*models.AnalyzedApp `json:"apps"`
	Count int                   `json:"count"`
}

// Analyze handles POST /api/v1/apps/analyze. The posted facts are analyzed
// statelessly; nothing is stored.
func (h *AppsHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var facts models.InstalledPackageFacts
	if err := decodeJSON(w, r, &facts); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(facts.PackageName) == "" {
		respondError(w, http.StatusBadRequest, "package_name is required")
		return
	}

	respondJSON(w, http.StatusOK, h.analyzer.Analyze(facts))
}

// List handles GET /api/v1/apps
func (h *AppsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAppFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	apps, err := h.apps.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list apps")
		respondError(w, http.StatusInternalServerError, "failed to list apps")
		return
	}
	if apps == nil {
		apps = []*models.AnalyzedApp{}
	}

	respondJSON(w, http.StatusOK, AppListResponse{Apps: apps, Count: len(apps)})
}

// Get handles GET /api/v1/apps/{package}
func (h *AppsHandler) Get(w http.ResponseWriter, r *http.Request) {
	packageName := chi.URLParam(r, "package")

	app, err := h.apps.Get(r.Context(), packageName)
	if err != nil {
		h.logger.Error().Err(err).Str("package", packageName).Msg("failed to get app")
		respondError(w, http.StatusInternalServerError, "failed to get app")
		return
	}
	if app == nil {
		respondError(w, http.StatusNotFound, "app not found")
		return
	}

	respondJSON(w, http.StatusOK, app)
}

// Trust handles POST /api/v1/apps/{package}/trust
func (h *AppsHandler) Trust(w http.ResponseWriter, r *http.Request) {
	packageName := chi.URLParam(r, "package")
	app, err := h.feedback.Trust(r.Context(), packageName)
	h.respondFeedback(w, packageName, app, err)
}

// Flag handles POST /api/v1/apps/{package}/flag
func (h *AppsHandler) Flag(w http.ResponseWriter, r *http.Request) {
	packageName := chi.URLParam(r, "package")
	app, err := h.feedback.Flag(r.Context(), packageName)
	h.respondFeedback(w, packageName, app, err)
}

// Exclude handles DELETE /api/v1/apps/{package}
func (h *AppsHandler) Exclude(w http.ResponseWriter, r *http.Request) {
	packageName := chi.URLParam(r, "package")

	if err := h.feedback.Exclude(r.Context(), packageName); err != nil {
		h.logger.Error().Err(err).Str("package", packageName).Msg("failed to exclude app")
		respondError(w, http.StatusInternalServerError, "failed to exclude app")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"package_name": packageName,
		"excluded":     true,
	})
}

// ImportRequest carries feedback in the legacy pipe-delimited format
type ImportRequest struct {
	Raw string `json:"raw"`
}

// ImportFeedback handles POST /api/v1/feedback/import
func (h *AppsHandler) ImportFeedback(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	imported, skipped, err := h.feedback.ImportLegacy(r.Context(), req.Raw)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to import feedback")
		respondError(w, http.StatusInternalServerError, "failed to import feedback")
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{
		"imported": imported,
		"skipped":  skipped,
	})
}

func (h *AppsHandler) respondFeedback(w http.ResponseWriter, packageName string, app *models.AnalyzedApp, err error) {
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, app)
	case errors.Is(err, services.ErrAppNotFound):
		respondError(w, http.StatusNotFound, "app not found")
	default:
		h.logger.Error().Err(err).Str("package", packageName).Msg("failed to record feedback")
		respondError(w, http.StatusInternalServerError, "failed to record feedback")
	}
}

func parseAppFilter(r *http.Request) (models.AppFilter, error) {
	q := r.URL.Query()
	filter := models.AppFilter{Limit: defaultListLimit}

	if tier := q.Get("tier"); tier != "" {
		filter.Tier = models.RiskTier(strings.ToUpper(tier))
		if filter.Tier != models.RiskTierUnknown && models.ParseRiskTier(tier) == models.RiskTierUnknown {
			return filter, errors.New("invalid tier")
		}
	}

	if category := q.Get("category"); category != "" {
		filter.Category = models.ParseCategory(category)
		if filter.Category == models.CategoryUnknown && !strings.EqualFold(category, string(models.CategoryUnknown)) {
			return filter, errors.New("invalid category")
		}
	}

	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = min(n, maxListLimit)
	}

	return filter, nil
}
