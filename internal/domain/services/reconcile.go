package services

import (
	"strconv"
	"strings"
	"time"

	"orbguard-appscan/internal/domain/models"
)

const (
	// FeedbackAdjustment is the score magnitude of an explicit trust/flag action
	FeedbackAdjustment = 25

	// TrustedScoreFloor is the lowest score a TRUSTED app can reach
	TrustedScoreFloor = 10

	trustedTrustGain = 0.3
	flaggedTrustLoss = 0.2
)

// Reconcile merges a fresh analysis with the previously stored record and
// the user's feedback for the same package.
//
// Without feedback the fresh analysis is adopted as-is. When the stored
// assessment already reflects this feedback and the permission set is
// unchanged, the stored score, tier and trust are kept and only metadata is
// refreshed. Otherwise the fresh score is the new baseline and the
// feedback's direction is applied on top of it.
func Reconcile(prev *models.AnalyzedApp, fresh models.AnalyzedApp, fb *models.UserFeedback) models.AnalyzedApp {
	if fb == nil {
		fresh.Feedback = nil
		return fresh
	}

	fresh.Feedback = fb

	if fresh.Assessment.Incomplete {
		return fresh
	}

	if prev != nil && !prev.Assessment.Incomplete && reflectsFeedback(prev, fb) &&
		models.SamePermissionSet(prev.RequestedPermissions, fresh.RequestedPermissions) {
		fresh.Assessment = prev.Assessment
		fresh.Assessment.RiskFactors = append([]string(nil), prev.Assessment.RiskFactors...)
		return fresh
	}

	fresh.Assessment.Score = adjustScore(fresh.Assessment.Score, fb.Type, fb.RiskAdjustment)
	fresh.Assessment.Tier = models.TierForScore(fresh.Assessment.Score)
	fresh.Assessment.TrustScore = clampTrust(fb.TrustScore)
	return fresh
}

// reflectsFeedback reports whether the stored assessment was adjusted with fb
func reflectsFeedback(prev *models.AnalyzedApp, fb *models.UserFeedback) bool {
	applied := prev.Feedback
	return applied != nil &&
		applied.Type == fb.Type &&
		applied.RecordedAt.Equal(fb.RecordedAt)
}

// ApplyFeedback applies an explicit user trust or flag action to an analyzed
// app and returns the updated app together with the feedback record to store.
func ApplyFeedback(app models.AnalyzedApp, feedbackType models.FeedbackType, now time.Time) (models.AnalyzedApp, models.UserFeedback) {
	a := app.Assessment
	a.Score = adjustScore(a.Score, feedbackType, FeedbackAdjustment)
	switch feedbackType {
	case models.FeedbackTrusted:
		a.TrustScore = clampTrust(a.TrustScore + trustedTrustGain)
	case models.FeedbackFlagged:
		a.TrustScore = clampTrust(a.TrustScore - flaggedTrustLoss)
	}
	a.Tier = models.TierForScore(a.Score)
	a.Incomplete = false
	a.RiskFactors = append([]string(nil), app.Assessment.RiskFactors...)

	fb := models.UserFeedback{
		PackageName:    app.PackageName,
		Type:           feedbackType,
		RiskAdjustment: FeedbackAdjustment,
		TrustScore:     a.TrustScore,
		RecordedAt:     now.UTC(),
	}

	app.Assessment = a
	app.Feedback = &fb
	return app, fb
}

// adjustScore moves a score in the feedback's direction
func adjustScore(score int, feedbackType models.FeedbackType, adjustment int) int {
	switch feedbackType {
	case models.FeedbackTrusted:
		return max(TrustedScoreFloor, score-adjustment)
	case models.FeedbackFlagged:
		return min(100, score+adjustment)
	default:
		return score
	}
}

// ParseLegacyFeedback decodes the old delimited feedback format
// "pkg:TYPE:adjustment:trust:timestampMillis" joined by "|". Malformed
// segments are skipped and counted; later entries for a package win.
func ParseLegacyFeedback(raw string) ([]models.UserFeedback, int) {
	var (
		out     []models.UserFeedback
		skipped int
		index   = make(map[string]int)
	)

	for _, segment := range strings.Split(raw, "|") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		fb, ok := parseLegacySegment(segment)
		if !ok {
			skipped++
			continue
		}

		if i, seen := index[fb.PackageName]; seen {
			out[i] = fb
			continue
		}
		index[fb.PackageName] = len(out)
		out = append(out, fb)
	}

	return out, skipped
}

func parseLegacySegment(segment string) (models.UserFeedback, bool) {
	parts := strings.Split(segment, ":")
	if len(parts) != 5 || parts[0] == "" {
		return models.UserFeedback{}, false
	}

	fbType, ok := models.ParseFeedbackType(parts[1])
	if !ok {
		return models.UserFeedback{}, false
	}
	adjustment, err := strconv.Atoi(parts[2])
	if err != nil || adjustment < 0 {
		return models.UserFeedback{}, false
	}
	trust, err := strconv.ParseFloat(parts[3], 64)
	if err != nil || trust < 0 || trust > 1 {
		return models.UserFeedback{}, false
	}
	millis, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil || millis < 0 {
		return models.UserFeedback{}, false
	}

	return models.UserFeedback{
		PackageName:    parts[0],
		Type:           fbType,
		RiskAdjustment: adjustment,
		TrustScore:     clampTrust(trust),
		RecordedAt:     time.UnixMilli(millis).UTC(),
	}, true
}
