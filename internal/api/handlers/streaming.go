package handlers

import (
	"net/http"

	"orbguard-appscan/internal/streaming"
	"orbguard-appscan/pkg/logger"
)

// StreamingHandler handles real-time streaming endpoints
type StreamingHandler struct {
	wsHub    *streaming.WebSocketHub
	eventBus *streaming.EventBus
	logger   *logger.Logger
}

// NewStreamingHandler creates a new streaming handler
func NewStreamingHandler(wsHub *streaming.WebSocketHub, eventBus *streaming.EventBus, log *logger.Logger) *StreamingHandler {
	return &StreamingHandler{
		wsHub:    wsHub,
		eventBus: eventBus,
		logger:   log.WithComponent("streaming-handler"),
	}
}

// HandleWebSocket handles GET /api/v1/scans/stream
// Query: ?types=app_risk_changed,feedback_recorded&package=com.example.app&min_tier=HIGH
func (h *StreamingHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		respondError(w, http.StatusServiceUnavailable, "event stream not available")
		return
	}

	sub, err := streaming.SubscriptionFromQuery(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	event := h.logger.Debug().Str("remote_addr", r.RemoteAddr)
	if sub != nil {
		event = event.
			Int("types", len(sub.Types)).
			Strs("packages", sub.PackageNames).
			Str("min_tier", string(sub.MinTier))
	}
	event.Msg("scan stream subscriber connecting")

	h.wsHub.ServeSubscribed(w, r, sub)
}

// GetStats handles GET /api/v1/scans/stream/stats
func (h *StreamingHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]int{
		"websocket_clients":     0,
		"event_bus_subscribers": 0,
	}

	if h.wsHub != nil {
		stats["websocket_clients"] = h.wsHub.ClientCount()
	}
	if h.eventBus != nil {
		stats["event_bus_subscribers"] = h.eventBus.SubscriberCount()
	}

	respondJSON(w, http.StatusOK, stats)
}
