package streaming

import (
	"context"

	"orbguard-appscan/internal/domain/models"
)

// EventBusPublisher implements services.EventPublisher by fanning events out
// to the event bus and the WebSocket hub. Either may be nil.
type EventBusPublisher struct {
	eventBus *EventBus
	wsHub    *WebSocketHub
}

// NewEventBusPublisher creates a new publisher adapter
func NewEventBusPublisher(eventBus *EventBus, wsHub *WebSocketHub) *EventBusPublisher {
	return &EventBusPublisher{
		eventBus: eventBus,
		wsHub:    wsHub,
	}
}

// PublishScanEvent publishes to the event bus (NATS + local subscribers)
// and then broadcasts to WebSocket clients
func (p *EventBusPublisher) PublishScanEvent(ctx context.Context, event *models.ScanEvent) error {
	if p.eventBus != nil {
		if err := p.eventBus.Publish(ctx, event); err != nil {
			return err
		}
	}

	if p.wsHub != nil {
		p.wsHub.BroadcastEvent(event)
	}

	return nil
}
