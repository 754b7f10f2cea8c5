package services

import (
	"math"
	"strings"

	"orbguard-appscan/internal/domain/models"
)

const (
	// MaxRiskFactors caps the explanations attached to one assessment
	MaxRiskFactors = 5

	basePermissionWeight    = 1.5
	unmatchedPermissionRisk = 1

	systemCategoryDiscount = 30
	systemFlagDiscount     = 25
	gameSMSPenalty         = 20
	financeNoteThreshold   = 40

	surveillanceComboBonus = 25
	pairComboBonus         = 15

	trustPerScorePoint = 0.008
	systemTrustBonus   = 0.20
	financeTrustBonus  = 0.10
	careTrustBonus     = 0.05
)

// Risk factor strings appended by the non-permission rules
const (
	FactorSystemTrusted      = "System app - inherently trusted"
	FactorGameSMS            = "Game requesting SMS access - unusual for this category"
	FactorFinanceExtensive   = "Extensive permissions for a finance app"
	FactorSurveillanceCombo  = "Camera, location, microphone and contacts together enable covert surveillance"
	FactorCameraLocation     = "Camera with location can capture geotagged images of your surroundings"
	FactorAudioContacts      = "Microphone with contacts access can profile your conversations"
	FactorAnalysisIncomplete = "Analysis incomplete: permissions could not be read"
)

// permissionRule adds weight when a requested permission contains match
type permissionRule struct {
	match  string
	weight int
	factor string
}

// permissionRiskRules is checked in order; a permission is charged by the
// first rule it matches. Matching is case-insensitive substring containment
// so vendor-prefixed variants of the same permission are caught.
var permissionRiskRules = []permissionRule{
	{"READ_SMS", 35, "Can read text messages"},
	{"SEND_SMS", 30, "Can send text messages, including to premium numbers"},
	{"FINE_LOCATION", 25, "Can track your precise location"},
	{"RECORD_AUDIO", 25, "Can record audio with the microphone"},
	{"CAMERA", 20, "Can take pictures and record video"},
	{"READ_CONTACTS", 20, "Can read your contacts"},
	{"CALL_PHONE", 18, "Can place phone calls without confirmation"},
	{"READ_CALL_LOG", 18, "Can read your call history"},
	{"WRITE_EXTERNAL_STORAGE", 15, "Can modify files in shared storage"},
	{"SYSTEM_ALERT_WINDOW", 15, "Can draw over other apps"},
	{"READ_EXTERNAL_STORAGE", 10, "Can read files in shared storage"},
	{"GET_ACCOUNTS", 12, "Can list accounts on the device"},
}

// permissionSet is an upper-cased view of requested permissions used for
// substring lookups
type permissionSet []string

func newPermissionSet(perms []string) permissionSet {
	upper := make([]string, len(perms))
	for i, p := range perms {
		upper[i] = strings.ToUpper(p)
	}
	return permissionSet(models.UniquePermissions(upper))
}

// has reports whether any permission contains the upper-case fragment
func (ps permissionSet) has(fragment string) bool {
	for _, p := range ps {
		if strings.Contains(p, fragment) {
			return true
		}
	}
	return false
}

// countOf counts how many of the fragments are present
func (ps permissionSet) countOf(fragments ...string) int {
	n := 0
	for _, f := range fragments {
		if ps.has(f) {
			n++
		}
	}
	return n
}

// RiskScorer converts a permission list plus app context into a RiskAssessment.
// It is stateless and safe for concurrent use.
type RiskScorer struct{}

// NewRiskScorer creates a new RiskScorer
func NewRiskScorer() *RiskScorer {
	return &RiskScorer{}
}

// Score computes the assessment for a readable permission list
func (s *RiskScorer) Score(permissions []string, category models.Category, isSystemApp bool) models.RiskAssessment {
	perms := newPermissionSet(permissions)

	// 1. Base prior: more permissions, more risk
	score := int(math.Round(float64(len(perms)) * basePermissionWeight))

	// 2. Per-permission table
	fired := make([]bool, len(permissionRiskRules))
	for _, p := range perms {
		matched := false
		for i, rule := range permissionRiskRules {
			if strings.Contains(p, rule.match) {
				score += rule.weight
				fired[i] = true
				matched = true
				break
			}
		}
		if !matched {
			score += unmatchedPermissionRisk
		}
	}

	factors := make([]string, 0, MaxRiskFactors+3)
	for i, rule := range permissionRiskRules {
		if fired[i] {
			factors = append(factors, rule.factor)
		}
	}

	// 3. Category adjustment
	score, factors = applyCategoryAdjustment(score, factors, category, perms)

	// 4. System flag, stacks with the SYSTEM category discount
	if isSystemApp {
		score = max(0, score-systemFlagDiscount)
	}

	// 5. Combination bonus, highest tier only
	hasCamera := perms.has("CAMERA")
	hasLocation := perms.has("LOCATION")
	hasAudio := perms.has("RECORD_AUDIO")
	hasContacts := perms.has("CONTACTS")
	switch {
	case hasCamera && hasLocation && hasAudio && hasContacts:
		score += surveillanceComboBonus
		factors = append(factors, FactorSurveillanceCombo)
	case hasCamera && hasLocation:
		score += pairComboBonus
		factors = append(factors, FactorCameraLocation)
	case hasAudio && hasContacts:
		score += pairComboBonus
		factors = append(factors, FactorAudioContacts)
	}

	// 6. Clamp
	score = clampScore(score)

	// 8. Cap explanations
	if len(factors) > MaxRiskFactors {
		factors = factors[:MaxRiskFactors]
	}

	return models.RiskAssessment{
		Score:       score,
		Tier:        models.TierForScore(score),
		RiskFactors: factors,
		TrustScore:  TrustScore(score, category, isSystemApp),
	}
}

// ScoreIncomplete produces the best-effort assessment for a package whose
// permissions could not be read: the empty set is scored, the tier is
// UNKNOWN, and a single synthetic factor explains why.
func (s *RiskScorer) ScoreIncomplete(category models.Category, isSystemApp bool) models.RiskAssessment {
	a := s.Score(nil, category, isSystemApp)
	a.Tier = models.RiskTierUnknown
	a.RiskFactors = []string{FactorAnalysisIncomplete}
	a.Incomplete = true
	return a
}

func applyCategoryAdjustment(score int, factors []string, category models.Category, perms permissionSet) (int, []string) {
	switch category {
	case models.CategorySystem:
		score = max(0, score-systemCategoryDiscount)
		factors = append(factors, FactorSystemTrusted)
	case models.CategoryGame:
		if perms.has("SMS") {
			score += gameSMSPenalty
			factors = append(factors, FactorGameSMS)
		}
	case models.CategoryFinance:
		if score > financeNoteThreshold {
			factors = append(factors, FactorFinanceExtensive)
		}
	}
	return score, factors
}

// TrustScore derives the 0-1 trust value shown alongside a risk score.
// It starts from the inverse of the score and credits system apps and
// categories that legitimately need sensitive access.
func TrustScore(score int, category models.Category, isSystemApp bool) float64 {
	trust := 1.0 - float64(score)*trustPerScorePoint
	if isSystemApp {
		trust += systemTrustBonus
	}
	switch category {
	case models.CategoryFinance:
		trust += financeTrustBonus
	case models.CategoryHealth, models.CategoryEducation:
		trust += careTrustBonus
	}
	return clampTrust(trust)
}

func clampScore(score int) int {
	return min(100, max(0, score))
}

// clampTrust bounds trust to [0,1] and rounds to three decimals so repeated
// arithmetic does not drift
func clampTrust(trust float64) float64 {
	trust = math.Max(0, math.Min(1, trust))
	return math.Round(trust*1000) / 1000
}
