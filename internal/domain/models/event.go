package models

import (
	"time"

	"github.com/google/uuid"
)

// ScanEventType identifies a scan or app lifecycle event
type ScanEventType string

const (
	EventScanStarted      ScanEventType = "scan_started"
	EventScanCompleted    ScanEventType = "scan_completed"
	EventScanFailed       ScanEventType = "scan_failed"
	EventAppRiskChanged   ScanEventType = "app_risk_changed"
	EventFeedbackRecorded ScanEventType = "feedback_recorded"
)

// Scope returns "scan" for scan lifecycle events and "app" for per-app events
func (t ScanEventType) Scope() string {
	switch t {
	case EventAppRiskChanged, EventFeedbackRecorded:
		return "app"
	default:
		return "scan"
	}
}

// ParseScanEventType validates an event type name
func ParseScanEventType(s string) (ScanEventType, bool) {
	switch t := ScanEventType(s); t {
	case EventScanStarted, EventScanCompleted, EventScanFailed, EventAppRiskChanged, EventFeedbackRecorded:
		return t, true
	default:
		return "", false
	}
}

// ScanEvent is published to the event bus, NATS and WebSocket subscribers
type ScanEvent struct {
	ID        uuid.UUID      `json:"id"`
	Type      ScanEventType  `json:"type"`
	ScanID    *uuid.UUID     `json:"scan_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewScanEvent creates an event stamped with a fresh ID and the current time
func NewScanEvent(eventType ScanEventType, data map[string]any) *ScanEvent {
	return &ScanEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// WithScan attaches the scan ID
func (e *ScanEvent) WithScan(id uuid.UUID) *ScanEvent {
	e.ScanID = &id
	return e
}
