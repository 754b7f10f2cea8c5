package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ScanTrigger identifies what started a scan
type ScanTrigger string

const (
	ScanTriggerManual    ScanTrigger = "manual"
	ScanTriggerScheduled ScanTrigger = "scheduled"
)

// ScanStatus is the outcome of a scan pass
type ScanStatus string

const (
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// DropReason names the discovery stage that removed a package
type DropReason string

const (
	DropExcluded           DropReason = "excluded"
	DropSystemInternal     DropReason = "system_internal"
	DropSystemBackground   DropReason = "system_background"
	DropNoLauncher         DropReason = "no_launcher"
	DropAccessibility      DropReason = "accessibility_service"
	DropNonEssentialSystem DropReason = "non_essential_system"
)

// ScanCounts summarizes how the packages of one scan were accounted for.
// Total = Candidates + Failed + sum(Dropped) + Truncated, and
// Candidates = Analyzed + Skipped.
type ScanCounts struct {
	Total      int                `json:"total"`
	Candidates int                `json:"candidates"`
	Analyzed   int                `json:"analyzed"`
	Incomplete int                `json:"incomplete"`
	Failed     int                `json:"failed"`
	Skipped    int                `json:"skipped"`
	Truncated  int                `json:"truncated"`
	Dropped    map[DropReason]int `json:"dropped"`
}

// ScanResult is the outcome of one full scan pass
type ScanResult struct {
	ID          uuid.UUID     `json:"id"`
	Trigger     ScanTrigger   `json:"trigger"`
	Status      ScanStatus    `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Counts      ScanCounts    `json:"counts"`
	Apps        []AnalyzedApp `json:"apps"`
	Error       string        `json:"error,omitempty"`
}

// TierCounts tallies scanned apps per tier
func (r *ScanResult) TierCounts() map[RiskTier]int {
	counts := make(map[RiskTier]int)
	for i := range r.Apps {
		counts[r.Apps[i].Assessment.Tier]++
	}
	return counts
}

// SortAppsByRisk orders apps by score descending, ties broken by package name
func SortAppsByRisk(apps []AnalyzedApp) {
	sort.SliceStable(apps, func(i, j int) bool {
		if apps[i].Assessment.Score != apps[j].Assessment.Score {
			return apps[i].Assessment.Score > apps[j].Assessment.Score
		}
		return apps[i].PackageName < apps[j].PackageName
	})
}
