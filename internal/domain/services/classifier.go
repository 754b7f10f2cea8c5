package services

import (
	"strings"

	"orbguard-appscan/internal/domain/models"
)

// categoryRule maps a set of name keywords to a category
type categoryRule struct {
	category models.Category
	keywords []string
}

// categoryRules is evaluated top to bottom; the first rule with a keyword
// contained in the package or display name wins.
var categoryRules = []categoryRule{
	{models.CategoryGame, []string{
		"game", "puzzle", "arcade", "casino", "racing", "chess", "solitaire",
		"minecraft", "pubg", "roblox", "supercell", "rovio", "candycrush", "clashof",
	}},
	{models.CategorySocial, []string{
		"social", "facebook", "instagram", "twitter", "tiktok", "musically",
		"snapchat", "reddit", "linkedin", "pinterest", "tumblr", "tinder", "bumble", "dating",
	}},
	{models.CategoryFinance, []string{
		"bank", "finance", "wallet", "money", "invest", "crypto", "trading",
		"stock", "paypal", "venmo", "coinbase", "revolut", "loan", "credit", "pay",
	}},
	{models.CategoryCommunication, []string{
		"messenger", "message", "chat", "whatsapp", "telegram", "signal", "viber",
		"skype", "zoom", "discord", "slack", "messaging", "mail", "sms", "dialer", "call",
	}},
	{models.CategoryMedia, []string{
		"video", "youtube", "netflix", "movie", "stream", "player", "twitch",
		"hulu", "media", "tv",
	}},
	{models.CategoryProductivity, []string{
		"office", "docs", "note", "calendar", "task", "todo", "drive", "dropbox",
		"evernote", "notion", "word", "excel", "pdf",
	}},
	{models.CategoryHealth, []string{
		"health", "fitness", "workout", "medical", "doctor", "diet", "pharmacy",
		"meditation", "sleep", "steps",
	}},
	{models.CategoryEducation, []string{
		"education", "learn", "school", "course", "duolingo", "study", "quiz",
		"classroom", "dictionary",
	}},
	{models.CategoryTravel, []string{
		"travel", "booking", "airbnb", "flight", "hotel", "trip", "expedia",
		"uber", "lyft", "airline",
	}},
	{models.CategoryShopping, []string{
		"shop", "amazon", "ebay", "aliexpress", "etsy", "cart", "coupon", "deal", "market",
	}},
	{models.CategoryNews, []string{
		"news", "times", "journal", "magazine", "bbc", "cnn", "reuters",
	}},
	{models.CategoryUtility, []string{
		"util", "tool", "cleaner", "battery", "flashlight", "calculator",
		"file", "manager", "vpn", "launcher", "keyboard", "clock",
	}},
}

// ClassifyCategory assigns one coarse category from the package and display
// names. A system app is always SYSTEM regardless of its names.
func ClassifyCategory(packageName, displayName string, isSystemApp bool) models.Category {
	if isSystemApp {
		return models.CategorySystem
	}

	pkg := strings.ToLower(packageName)
	name := strings.ToLower(displayName)

	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(pkg, kw) || strings.Contains(name, kw) {
				return rule.category
			}
		}
	}

	return models.CategoryUnknown
}
