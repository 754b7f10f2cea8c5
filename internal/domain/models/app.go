package models

import (
	"strings"
	"time"
)

// Category is the coarse functional category of an app
type Category string

const (
	CategoryGame              Category = "GAME"
	CategorySocial            Category = "SOCIAL"
	CategoryFinance           Category = "FINANCE"
	CategoryCommunication     Category = "COMMUNICATION"
	CategoryMedia             Category = "MEDIA"
	CategoryProductivity      Category = "PRODUCTIVITY"
	CategoryHealth            Category = "HEALTH"
	CategoryEducation         Category = "EDUCATION"
	CategoryTravel            Category = "TRAVEL"
	CategoryShopping          Category = "SHOPPING"
	CategoryNews              Category = "NEWS"
	CategoryUtility           Category = "UTILITY"
	CategorySystem            Category = "SYSTEM"
	CategoryPhotography       Category = "PHOTOGRAPHY"
	CategoryMusicAndAudio     Category = "MUSIC_AND_AUDIO"
	CategoryMapsAndNavigation Category = "MAPS_AND_NAVIGATION"
	CategoryWeather           Category = "WEATHER"
	CategoryTools             Category = "TOOLS"
	CategoryUnknown           Category = "UNKNOWN"
)

// AllCategories lists every category in declaration order
var AllCategories = []Category{
	CategoryGame, CategorySocial, CategoryFinance, CategoryCommunication,
	CategoryMedia, CategoryProductivity, CategoryHealth, CategoryEducation,
	CategoryTravel, CategoryShopping, CategoryNews, CategoryUtility,
	CategorySystem, CategoryPhotography, CategoryMusicAndAudio,
	CategoryMapsAndNavigation, CategoryWeather, CategoryTools, CategoryUnknown,
}

// ParseCategory converts a stored or user-supplied string to a Category.
// Unrecognized values map to CategoryUnknown.
func ParseCategory(s string) Category {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllCategories {
		if c == known {
			return c
		}
	}
	return CategoryUnknown
}

// RiskTier is the bucketed risk level derived from a score
type RiskTier string

const (
	RiskTierCritical RiskTier = "CRITICAL"
	RiskTierHigh     RiskTier = "HIGH"
	RiskTierMedium   RiskTier = "MEDIUM"
	RiskTierLow      RiskTier = "LOW"
	RiskTierMinimal  RiskTier = "MINIMAL"
	RiskTierUnknown  RiskTier = "UNKNOWN"
)

// Tier thresholds, inclusive lower bounds
const (
	CriticalThreshold = 85
	HighThreshold     = 65
	MediumThreshold   = 35
	LowThreshold      = 15
)

// TierForScore maps a 0-100 score onto the five scored tiers.
// UNKNOWN is never returned here; it is reserved for incomplete analysis.
func TierForScore(score int) RiskTier {
	switch {
	case score >= CriticalThreshold:
		return RiskTierCritical
	case score >= HighThreshold:
		return RiskTierHigh
	case score >= MediumThreshold:
		return RiskTierMedium
	case score >= LowThreshold:
		return RiskTierLow
	default:
		return RiskTierMinimal
	}
}

// ParseRiskTier converts a string to a RiskTier, UNKNOWN when unrecognized
func ParseRiskTier(s string) RiskTier {
	switch t := RiskTier(strings.ToUpper(strings.TrimSpace(s))); t {
	case RiskTierCritical, RiskTierHigh, RiskTierMedium, RiskTierLow, RiskTierMinimal:
		return t
	default:
		return RiskTierUnknown
	}
}

// Rank orders tiers from least (0) to most severe. UNKNOWN ranks lowest.
func (t RiskTier) Rank() int {
	switch t {
	case RiskTierMinimal:
		return 1
	case RiskTierLow:
		return 2
	case RiskTierMedium:
		return 3
	case RiskTierHigh:
		return 4
	case RiskTierCritical:
		return 5
	default:
		return 0
	}
}

// QueryStatus records how much of a package's metadata the source could read
type QueryStatus string

const (
	QueryStatusOK                     QueryStatus = "ok"
	QueryStatusPermissionsUnavailable QueryStatus = "permissions_unavailable"
	QueryStatusMetadataUnavailable    QueryStatus = "metadata_unavailable"
)

// InstalledPackageFacts is an immutable snapshot of one installed package,
// as supplied by a package source for a single scan pass.
type InstalledPackageFacts struct {
	PackageName          string      `json:"package_name" yaml:"package_name"`
	DisplayName          string      `json:"display_name" yaml:"display_name"`
	RequestedPermissions []string    `json:"requested_permissions" yaml:"requested_permissions"`
	IsSystemApp          bool        `json:"is_system_app" yaml:"is_system_app"`
	IsEnabled            bool        `json:"is_enabled" yaml:"is_enabled"`
	HasLauncherActivity  bool        `json:"has_launcher_activity" yaml:"has_launcher_activity"`
	InstallTime          time.Time   `json:"install_time" yaml:"install_time"`
	LastUpdateTime       time.Time   `json:"last_update_time" yaml:"last_update_time"`
	TargetSDK            int         `json:"target_sdk" yaml:"target_sdk"`
	MinSDK               int         `json:"min_sdk" yaml:"min_sdk"`
	VersionName          string      `json:"version_name" yaml:"version_name"`
	VersionCode          int64       `json:"version_code" yaml:"version_code"`
	ApproxSizeBytes      int64       `json:"approx_size_bytes" yaml:"approx_size_bytes"`
	SignatureHash        string      `json:"signature_hash,omitempty" yaml:"signature_hash"`
	QueryStatus          QueryStatus `json:"query_status,omitempty" yaml:"query_status"`
	QueryError           string      `json:"query_error,omitempty" yaml:"query_error"`
}

// Normalize fills defaults for unreadable metadata: display name falls back
// to the package name, timestamps to now, version name to "unknown", and the
// permission list is deduplicated preserving first-seen order.
func (f InstalledPackageFacts) Normalize(now time.Time) InstalledPackageFacts {
	if strings.TrimSpace(f.DisplayName) == "" {
		f.DisplayName = f.PackageName
	}
	if f.InstallTime.IsZero() {
		f.InstallTime = now
	}
	if f.LastUpdateTime.IsZero() {
		f.LastUpdateTime = f.InstallTime
	}
	if f.VersionName == "" {
		f.VersionName = "unknown"
	}
	if f.QueryStatus == "" {
		f.QueryStatus = QueryStatusOK
	}
	f.RequestedPermissions = UniquePermissions(f.RequestedPermissions)
	return f
}

// PermissionsReadable reports whether the requested permission list is trustworthy
func (f InstalledPackageFacts) PermissionsReadable() bool {
	return f.QueryStatus == "" || f.QueryStatus == QueryStatusOK
}

// UniquePermissions drops empty and duplicate entries, keeping first-seen order
func UniquePermissions(perms []string) []string {
	if len(perms) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// SamePermissionSet compares two permission lists as sets
func SamePermissionSet(a, b []string) bool {
	ua, ub := UniquePermissions(a), UniquePermissions(b)
	if len(ua) != len(ub) {
		return false
	}
	set := make(map[string]struct{}, len(ua))
	for _, p := range ua {
		set[p] = struct{}{}
	}
	for _, p := range ub {
		if _, ok := set[p]; !ok {
			return false
		}
	}
	return true
}

// RiskAssessment is the output of the risk scoring engine
type RiskAssessment struct {
	Score       int      `json:"score"`
	Tier        RiskTier `json:"tier"`
	RiskFactors []string `json:"risk_factors"`
	TrustScore  float64  `json:"trust_score"`
	Incomplete  bool     `json:"incomplete,omitempty"`
}

// FeedbackType is the direction of a user's judgement of an app
type FeedbackType string

const (
	FeedbackTrusted FeedbackType = "TRUSTED"
	FeedbackFlagged FeedbackType = "FLAGGED"
)

// ParseFeedbackType parses a feedback type; ok is false for anything else
func ParseFeedbackType(s string) (FeedbackType, bool) {
	switch t := FeedbackType(strings.ToUpper(strings.TrimSpace(s))); t {
	case FeedbackTrusted, FeedbackFlagged:
		return t, true
	default:
		return "", false
	}
}

// UserFeedback is the persisted record of an explicit trust/flag action
type UserFeedback struct {
	PackageName    string       `json:"package_name"`
	Type           FeedbackType `json:"type"`
	RiskAdjustment int          `json:"risk_adjustment"`
	TrustScore     float64      `json:"trust_score"`
	RecordedAt     time.Time    `json:"recorded_at"`
}

// AnalyzedApp is the aggregate read model produced for each scanned package
type AnalyzedApp struct {
	InstalledPackageFacts
	Assessment         RiskAssessment `json:"assessment"`
	Category           Category       `json:"category"`
	SuspiciousPatterns []string       `json:"suspicious_patterns"`
	Feedback           *UserFeedback  `json:"feedback,omitempty"`
	AnalyzedAt         time.Time      `json:"analyzed_at"`
}

// AppFilter narrows a listing of stored apps
type AppFilter struct {
	Tier     RiskTier
	Category Category
	Limit    int
}

// Matches reports whether an app passes the filter (Limit is ignored)
func (f AppFilter) Matches(app *AnalyzedApp) bool {
	if f.Tier != "" && app.Assessment.Tier != f.Tier {
		return false
	}
	if f.Category != "" && app.Category != f.Category {
		return false
	}
	return true
}
