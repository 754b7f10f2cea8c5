package services

import (
	"fmt"

	"orbguard-appscan/internal/domain/models"
)

const (
	utilityPermissionLimit   = 20
	socialSensitiveThreshold = 3
	otherSensitiveThreshold  = 4
)

// Findings emitted by the pattern detector
const (
	PatternGameSMS                = "Game requests SMS permissions"
	PatternGameCallLog            = "Game requests call log access"
	PatternGameContacts           = "Game requests contacts access"
	PatternSocialCallPhone        = "Social app can place phone calls directly"
	PatternSocialSensitive        = "Excessive sensitive permissions for a social app"
	PatternManySensitive          = "Requests an unusually broad set of sensitive permissions"
	PatternUploadLocationContacts = "Can upload location and contact data"
	PatternPremiumSMS             = "Potential premium-SMS fraud capability"
	PatternAudioLocation          = "Audio recording with precise location tracking"
	PatternCameraContactsLocation = "Camera, contacts, and location combination"
)

// PatternDetector flags permission combinations that are suspicious on
// their own or for the app's category. It is stateless.
type PatternDetector struct{}

// NewPatternDetector creates a new PatternDetector
func NewPatternDetector() *PatternDetector {
	return &PatternDetector{}
}

// Detect returns the triggered findings, category-specific first, then the
// universal combinations, deduplicated in first-seen order.
func (d *PatternDetector) Detect(permissions []string, category models.Category, displayName string) []string {
	perms := newPermissionSet(permissions)
	findings := newFindingList()

	switch category {
	case models.CategoryGame:
		if perms.has("SMS") {
			findings.add(PatternGameSMS)
		}
		if perms.has("CALL_LOG") {
			findings.add(PatternGameCallLog)
		}
		if perms.has("CONTACTS") {
			findings.add(PatternGameContacts)
		}
	case models.CategoryUtility:
		if len(perms) > utilityPermissionLimit {
			if displayName == "" {
				displayName = "Utility app"
			}
			findings.add(fmt.Sprintf("%s requests %d permissions, excessive for a utility app", displayName, len(perms)))
		}
	case models.CategorySocial:
		if perms.has("CALL_PHONE") {
			findings.add(PatternSocialCallPhone)
		}
		if perms.countOf("CAMERA", "RECORD_AUDIO", "FINE_LOCATION", "SMS") >= socialSensitiveThreshold {
			findings.add(PatternSocialSensitive)
		}
	default:
		if perms.countOf("CAMERA", "RECORD_AUDIO", "FINE_LOCATION", "SMS", "CONTACTS") >= otherSensitiveThreshold {
			findings.add(PatternManySensitive)
		}
	}

	hasInternet := perms.has("INTERNET")
	if hasInternet && perms.has("LOCATION") && perms.has("CONTACTS") {
		findings.add(PatternUploadLocationContacts)
	}
	if hasInternet && perms.has("SEND_SMS") {
		findings.add(PatternPremiumSMS)
	}
	if perms.has("RECORD_AUDIO") && perms.has("FINE_LOCATION") {
		findings.add(PatternAudioLocation)
	}
	if perms.has("CAMERA") && perms.has("CONTACTS") && perms.has("FINE_LOCATION") {
		findings.add(PatternCameraContactsLocation)
	}

	return findings.items
}

// findingList is an insertion-ordered string set
type findingList struct {
	seen  map[string]struct{}
	items []string
}

func newFindingList() *findingList {
	return &findingList{seen: make(map[string]struct{}), items: []string{}}
}

func (l *findingList) add(s string) {
	if _, ok := l.seen[s]; ok {
		return
	}
	l.seen[s] = struct{}{}
	l.items = append(l.items, s)
}
