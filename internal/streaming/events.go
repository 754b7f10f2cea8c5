package streaming

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"orbguard-appscan/internal/domain/models"
)

// SubjectPrefix roots every NATS subject published by this service
const SubjectPrefix = "appscan"

// Subject returns the NATS subject for an event.
// Example: appscan.scan.scan_completed, appscan.app.app_risk_changed
func Subject(event *models.ScanEvent) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, event.Type.Scope(), event.Type)
}

// Subscription represents a client's subscription preferences
type Subscription struct {
	// Filter by event types (empty = all)
	Types []models.ScanEventType `json:"types,omitempty"`

	// Filter app events by package (empty = all). Scan events always pass.
	PackageNames []string `json:"package_names,omitempty"`

	// Drop app events whose new tier is below this one
	MinTier models.RiskTier `json:"min_tier,omitempty"`
}

// Matches checks if an event matches the subscription filters
func (s *Subscription) Matches(event *models.ScanEvent) bool {
	if s == nil {
		return true
	}

	if len(s.Types) > 0 && !slices.Contains(s.Types, event.Type) {
		return false
	}

	if event.Type.Scope() != "app" {
		return true
	}

	if len(s.PackageNames) > 0 {
		name, _ := event.Data["package_name"].(string)
		if !slices.Contains(s.PackageNames, name) {
			return false
		}
	}

	if s.MinTier != "" {
		tier := models.ParseRiskTier(fmt.Sprint(event.Data["tier"]))
		if tier.Rank() < s.MinTier.Rank() {
			return false
		}
	}

	return true
}

// SubscriptionFromQuery builds the initial subscription of a stream request
// from ?types=, ?package= and ?min_tier=. List values may be repeated or
// comma separated. It returns nil when no filter is given.
func SubscriptionFromQuery(q url.Values) (*Subscription, error) {
	var sub Subscription

	for _, name := range splitValues(q["types"]) {
		t, ok := models.ParseScanEventType(name)
		if !ok {
			return nil, fmt.Errorf("unknown event type %q", name)
		}
		sub.Types = append(sub.Types, t)
	}

	sub.PackageNames = splitValues(q["package"])

	if raw := strings.TrimSpace(q.Get("min_tier")); raw != "" {
		tier := models.ParseRiskTier(raw)
		if tier == models.RiskTierUnknown {
			return nil, fmt.Errorf("invalid min_tier %q", raw)
		}
		sub.MinTier = tier
	}

	if len(sub.Types) == 0 && len(sub.PackageNames) == 0 && sub.MinTier == "" {
		return nil, nil
	}
	return &sub, nil
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
