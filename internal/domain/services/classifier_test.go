package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"orbguard-appscan/internal/domain/models"
)

func TestClassifyCategory(t *testing.T) {
	tests := []struct {
		pkg      string
		name     string
		system   bool
		expected models.Category
	}{
		{"com.king.candycrushsaga", "Candy Crush Saga", false, models.CategoryGame},
		{"com.instagram.android", "Instagram", false, models.CategorySocial},
		{"com.paypal.android.p2pmobile", "PayPal", false, models.CategoryFinance},
		{"org.telegram.messenger", "Telegram", false, models.CategoryCommunication},
		{"com.google.android.apps.messaging", "Messages", false, models.CategoryCommunication},
		{"com.netflix.mediaclient", "Netflix", false, models.CategoryMedia},
		{"com.evernote", "Evernote", false, models.CategoryProductivity},
		{"com.example.fit", "Daily Workout", false, models.CategoryHealth},
		{"com.duolingo", "Duolingo", false, models.CategoryEducation},
		{"com.airbnb.android", "Airbnb", false, models.CategoryTravel},
		{"com.ebay.mobile", "eBay", false, models.CategoryShopping},
		{"bbc.mobile.news.ww", "BBC", false, models.CategoryNews},
		{"com.example.flashlight", "Torch", false, models.CategoryUtility},
		{"com.example.foo", "Foo", false, models.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.pkg, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyCategory(tt.pkg, tt.name, tt.system))
		})
	}
}

func TestClassifyCategory_SystemFlagWins(t *testing.T) {
	assert.Equal(t, models.CategorySystem, ClassifyCategory("com.example.game", "Game Center", true))
}

func TestClassifyCategory_PrecedenceFollowsRuleOrder(t *testing.T) {
	// matches both game and finance keywords
	assert.Equal(t, models.CategoryGame, ClassifyCategory("com.example.gamebank", "", false))
	// matches social and communication keywords
	assert.Equal(t, models.CategorySocial, ClassifyCategory("com.example.app", "Social Chat", false))
}

func TestClassifyCategory_MatchesDisplayNameCaseInsensitively(t *testing.T) {
	assert.Equal(t, models.CategoryFinance, ClassifyCategory("com.example.xyz", "My BANK", false))
}
