package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbguard-appscan/internal/domain/models"
)

const (
	permInternet     = "android.permission.INTERNET"
	permCamera       = "android.permission.CAMERA"
	permFineLocation = "android.permission.ACCESS_FINE_LOCATION"
	permCoarseLoc    = "android.permission.ACCESS_COARSE_LOCATION"
	permRecordAudio  = "android.permission.RECORD_AUDIO"
	permContacts     = "android.permission.READ_CONTACTS"
	permReadSMS      = "android.permission.READ_SMS"
	permSendSMS      = "android.permission.SEND_SMS"
	permCallPhone    = "android.permission.CALL_PHONE"
	permCallLog      = "android.permission.READ_CALL_LOG"
	permVibrate      = "android.permission.VIBRATE"
)

var surveillancePerms = []string{permCamera, permFineLocation, permRecordAudio, permContacts}

func TestScore_InternetOnly(t *testing.T) {
	a := NewRiskScorer().Score([]string{permInternet}, models.CategoryUnknown, false)

	// round(1*1.5) + 1 for the unmatched permission
	assert.Equal(t, 3, a.Score)
	assert.Equal(t, models.RiskTierMinimal, a.Tier)
	assert.Empty(t, a.RiskFactors)
	assert.InDelta(t, 0.976, a.TrustScore, 1e-9)
	assert.False(t, a.Incomplete)
}

func TestScore_SurveillanceSocialApp(t *testing.T) {
	a := NewRiskScorer().Score(surveillancePerms, models.CategorySocial, false)

	assert.Equal(t, 100, a.Score)
	assert.Equal(t, models.RiskTierCritical, a.Tier)
	assert.Equal(t, []string{
		"Can track your precise location",
		"Can record audio with the microphone",
		"Can take pictures and record video",
		"Can read your contacts",
		FactorSurveillanceCombo,
	}, a.RiskFactors)
	assert.InDelta(t, 0.2, a.TrustScore, 1e-9)
}

func TestScore_SystemAppDiscounts(t *testing.T) {
	scorer := NewRiskScorer()
	category := ClassifyCategory("com.example.social", "Social", true)
	require.Equal(t, models.CategorySystem, category)

	userApp := scorer.Score(surveillancePerms, models.CategorySocial, false)
	systemApp := scorer.Score(surveillancePerms, category, true)

	// 96 - 30 - 25 + 25
	assert.Equal(t, 66, systemApp.Score)
	assert.Equal(t, models.RiskTierHigh, systemApp.Tier)
	assert.LessOrEqual(t, systemApp.Score, userApp.Score-25)
	assert.Contains(t, systemApp.RiskFactors, FactorSystemTrusted)
	assert.Len(t, systemApp.RiskFactors, MaxRiskFactors)
	assert.NotContains(t, systemApp.RiskFactors, FactorSurveillanceCombo, "combination factor is truncated")
	assert.InDelta(t, 0.672, systemApp.TrustScore, 1e-9)
}

func TestScore_CategoryAdjustments(t *testing.T) {
	scorer := NewRiskScorer()

	t.Run("game with SMS is penalized", func(t *testing.T) {
		plain := scorer.Score([]string{permReadSMS}, models.CategoryUnknown, false)
		game := scorer.Score([]string{permReadSMS}, models.CategoryGame, false)
		assert.Equal(t, plain.Score+20, game.Score)
		assert.Contains(t, game.RiskFactors, FactorGameSMS)
	})

	t.Run("finance note without score change", func(t *testing.T) {
		perms := []string{permReadSMS, permSendSMS}
		plain := scorer.Score(perms, models.CategoryUnknown, false)
		finance := scorer.Score(perms, models.CategoryFinance, false)
		assert.Equal(t, plain.Score, finance.Score)
		assert.Contains(t, finance.RiskFactors, FactorFinanceExtensive)
		assert.InDelta(t, plain.TrustScore+0.1, finance.TrustScore, 1e-9)
	})

	t.Run("finance below threshold has no note", func(t *testing.T) {
		finance := scorer.Score([]string{permInternet}, models.CategoryFinance, false)
		assert.NotContains(t, finance.RiskFactors, FactorFinanceExtensive)
	})

	t.Run("system category floors at zero", func(t *testing.T) {
		a := scorer.Score([]string{permInternet}, models.CategorySystem, true)
		assert.Equal(t, 0, a.Score)
		assert.Equal(t, models.RiskTierMinimal, a.Tier)
		assert.Equal(t, []string{FactorSystemTrusted}, a.RiskFactors)
		assert.Equal(t, 1.0, a.TrustScore)
	})
}

func TestScore_CombinationBonusIsExclusive(t *testing.T) {
	scorer := NewRiskScorer()

	tests := []struct {
		name   string
		perms  []string
		factor string
		score  int
	}{
		// round(2*1.5)=3, +20 camera, +1 coarse location, +15
		{"camera and coarse location", []string{permCamera, permCoarseLoc}, FactorCameraLocation, 39},
		// 3 + 25 + 20 + 15
		{"audio and contacts", []string{permRecordAudio, permContacts}, FactorAudioContacts, 63},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := scorer.Score(tt.perms, models.CategoryUnknown, false)
			assert.Equal(t, tt.score, a.Score)
			assert.Contains(t, a.RiskFactors, tt.factor)
		})
	}

	all := scorer.Score(surveillancePerms, models.CategoryUnknown, true)
	assert.NotContains(t, all.RiskFactors, FactorCameraLocation)
	assert.NotContains(t, all.RiskFactors, FactorAudioContacts)
}

func TestScore_Deterministic(t *testing.T) {
	scorer := NewRiskScorer()
	perms := []string{permSendSMS, permCamera, permVibrate, permFineLocation}

	first := scorer.Score(perms, models.CategoryGame, false)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, scorer.Score(perms, models.CategoryGame, false))
	}
}

func TestScore_DuplicatePermissionsCountedOnce(t *testing.T) {
	scorer := NewRiskScorer()
	once := scorer.Score([]string{permCamera}, models.CategoryUnknown, false)
	twice := scorer.Score([]string{permCamera, permCamera}, models.CategoryUnknown, false)
	assert.Equal(t, once, twice)
}

func TestScore_CaseVariantsCountedOnce(t *testing.T) {
	scorer := NewRiskScorer()
	once := scorer.Score([]string{permCamera}, models.CategoryUnknown, false)
	mixed := scorer.Score([]string{permCamera, "android.permission.camera"}, models.CategoryUnknown, false)
	assert.Equal(t, once, mixed)
}

func TestScore_SubstringMatchingIsCaseInsensitive(t *testing.T) {
	scorer := NewRiskScorer()
	canonical := scorer.Score([]string{permReadSMS}, models.CategoryUnknown, false)
	vendor := scorer.Score([]string{"com.vendor.permission.read_sms"}, models.CategoryUnknown, false)
	assert.Equal(t, canonical.Score, vendor.Score)
	assert.Equal(t, canonical.RiskFactors, vendor.RiskFactors)
}

func TestScore_Bounds(t *testing.T) {
	scorer := NewRiskScorer()
	pool := []string{
		permInternet, permCamera, permFineLocation, permCoarseLoc, permRecordAudio,
		permContacts, permReadSMS, permSendSMS, permCallPhone, permCallLog, permVibrate,
		"android.permission.WRITE_EXTERNAL_STORAGE", "android.permission.SYSTEM_ALERT_WINDOW",
		"android.permission.READ_EXTERNAL_STORAGE", "android.permission.GET_ACCOUNTS",
	}

	for n := 0; n <= len(pool); n++ {
		for _, category := range models.AllCategories {
			for _, system := range []bool{false, true} {
				a := scorer.Score(pool[:n], category, system)
				assert.GreaterOrEqual(t, a.Score, 0)
				assert.LessOrEqual(t, a.Score, 100)
				assert.GreaterOrEqual(t, a.TrustScore, 0.0)
				assert.LessOrEqual(t, a.TrustScore, 1.0)
				assert.LessOrEqual(t, len(a.RiskFactors), MaxRiskFactors)
				assert.Equal(t, models.TierForScore(a.Score), a.Tier)
			}
		}
	}
}

func TestScore_AddingHighRiskPermissionNeverLowersScore(t *testing.T) {
	scorer := NewRiskScorer()
	bases := [][]string{
		{},
		{permInternet},
		{permCamera, permCoarseLoc},
		surveillancePerms,
		{permVibrate, permCallLog, permInternet},
	}

	for _, base := range bases {
		for _, category := range models.AllCategories {
			for _, system := range []bool{false, true} {
				before := scorer.Score(base, category, system)
				after := scorer.Score(append(append([]string(nil), base...), permReadSMS), category, system)
				assert.GreaterOrEqual(t, after.Score, before.Score, "base=%v category=%s system=%v", base, category, system)
			}
		}
	}
}

func TestScoreIncomplete(t *testing.T) {
	a := NewRiskScorer().ScoreIncomplete(models.CategoryUnknown, false)

	assert.True(t, a.Incomplete)
	assert.Equal(t, models.RiskTierUnknown, a.Tier)
	assert.Equal(t, 0, a.Score)
	assert.Equal(t, []string{FactorAnalysisIncomplete}, a.RiskFactors)
	assert.Equal(t, 1.0, a.TrustScore)
}

func TestTrustScore(t *testing.T) {
	assert.InDelta(t, 0.6, TrustScore(50, models.CategoryUnknown, false), 1e-9)
	assert.InDelta(t, 0.7, TrustScore(50, models.CategoryFinance, false), 1e-9)
	assert.InDelta(t, 0.65, TrustScore(50, models.CategoryHealth, false), 1e-9)
	assert.InDelta(t, 0.65, TrustScore(50, models.CategoryEducation, false), 1e-9)
	assert.InDelta(t, 0.8, TrustScore(50, models.CategoryUnknown, true), 1e-9)
	assert.Equal(t, 1.0, TrustScore(0, models.CategoryFinance, true))
	assert.InDelta(t, 0.2, TrustScore(100, models.CategoryUnknown, false), 1e-9)
}
