package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"orbguard-appscan/internal/domain/services"
	"orbguard-appscan/internal/streaming"
	"orbguard-appscan/pkg/logger"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Handlers holds all API handlers
type Handlers struct {
	Health     *HealthHandler
	Apps       *AppsHandler
	Exclusions *ExclusionsHandler
	Scans      *ScansHandler
	Streaming  *StreamingHandler
}

// Pinger is a dependency the readiness probe checks
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Analyzer  *services.AppAnalyzer
	Scanner   *services.Scanner
	Scheduler *services.Scheduler
	Feedback  *services.FeedbackService
	Apps      services.AppStore
	WSHub     *streaming.WebSocketHub
	EventBus  *streaming.EventBus
	Checks    map[string]Pinger
	Version   string
	Logger    *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:     NewHealthHandler(deps.Checks, deps.Version, deps.Logger),
		Apps:       NewAppsHandler(deps.Analyzer, deps.Feedback, deps.Apps, deps.Logger),
		Exclusions: NewExclusionsHandler(deps.Feedback, deps.Logger),
		Scans:      NewScansHandler(deps.Scanner, deps.Scheduler, deps.Logger),
		Streaming:  NewStreamingHandler(deps.WSHub, deps.EventBus, deps.Logger),
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dest)
}
