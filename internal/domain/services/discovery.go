package services

import (
	"strings"
	"time"

	"orbguard-appscan/internal/domain/models"
)

// DefaultMaxApps bounds the candidate set handed to the analyzer
const DefaultMaxApps = 500

// systemInternalPrefixes are platform packages users never open directly.
// An entry matches the package name exactly or as a dotted prefix.
var systemInternalPrefixes = []string{
	"android",
	"com.android.shell",
	"com.android.systemui",
	"com.android.providers",
	"com.android.packageinstaller",
	"com.google.android.packageinstaller",
	"com.android.permissioncontroller",
	"com.google.android.permissioncontroller",
	"com.android.externalstorage",
	"com.android.keychain",
	"com.android.server",
	"com.android.location",
	"com.android.networkstack",
	"com.android.bluetooth",
	"com.android.nfc",
	"com.android.phone",
	"com.android.se",
	"com.android.wallpaperbackup",
	"com.android.sharedstoragebackup",
	"com.android.backupconfirm",
	"com.android.proxyhandler",
	"com.android.inputdevices",
	"com.android.localtransport",
	"com.android.statementservice",
	"com.android.certinstaller",
	"com.android.carrierconfig",
	"com.android.cellbroadcastreceiver",
	"com.android.emergency",
	"com.android.printspooler",
	"com.android.dynsystem",
}

// systemBackgroundPrefixes are OEM daemons, Play services internals and
// carrier services. Matching is a case-sensitive prefix match.
var systemBackgroundPrefixes = []string{
	"com.qualcomm.",
	"com.qti.",
	"vendor.qti.",
	"com.mediatek.",
	"com.sec.android.daemonapp",
	"com.samsung.android.providers",
	"com.samsung.android.knox",
	"com.samsung.android.bixby.agent",
	"com.samsung.android.app.telephonyui",
	"com.miui.daemon",
	"com.miui.analytics",
	"com.xiaomi.xmsf",
	"com.huawei.hwid",
	"com.oneplus.opbackup",
	"com.coloros.",
	"com.google.android.gms",
	"com.google.android.gsf",
	"com.google.android.ext.",
	"com.google.android.overlay",
	"com.google.android.carriersetup",
	"com.google.android.networkstack",
	"com.verizon.",
	"com.tmobile.",
	"com.att.",
	"com.sprint.",
}

// accessibilityDenylist covers input and accessibility services that are
// not user-facing apps in their own right
var accessibilityDenylist = []string{
	"accessibility",
	"inputmethod",
	"keyboard",
	"talkback",
	"autofill",
	"voiceaccess",
	"switchaccess",
}

// accessibilityAllowlist is checked before the denylist and wins over it
var accessibilityAllowlist = []string{
	"com.google.android.inputmethod.latin",
	"com.google.android.marvin.talkback",
	"com.touchtype.swiftkey",
	"com.samsung.android.honeyboard",
	"com.grammarly.android.keyboard",
	"com.syntellia.fleksy.keyboard",
}

// popularAppPatterns are well-known consumer apps that are always kept once
// they have passed the earlier stages. Each entry is matched as a prefix or
// as a substring of the package name that ends at a dot or at the end of the
// name, so "com.google.android.gm" does not match Play services.
var popularAppPatterns = []string{
	"com.whatsapp",
	"com.facebook.katana",
	"com.facebook.orca",
	"com.instagram.android",
	"com.twitter.android",
	"com.zhiliaoapp.musically",
	"com.snapchat.android",
	"org.telegram.messenger",
	"org.thoughtcrime.securesms",
	"com.viber.voip",
	"com.skype.raider",
	"us.zoom.videomeetings",
	"com.discord",
	"com.Slack",
	"com.linkedin.android",
	"com.reddit.frontpage",
	"com.pinterest",
	"com.spotify.music",
	"com.netflix.mediaclient",
	"com.google.android.youtube",
	"com.amazon.mShop.android.shopping",
	"com.ebay.mobile",
	"com.paypal.android.p2pmobile",
	"com.ubercab",
	"com.airbnb.android",
	"com.booking",
	"com.duolingo",
	"com.microsoft.teams",
	"com.microsoft.office.outlook",
	"com.dropbox.android",
	"com.evernote",
	"com.google.android.apps.maps",
	"com.google.android.gm",
	"com.google.android.apps.photos",
	"com.google.android.apps.docs",
	"com.google.android.apps.messaging",
	"com.google.android.calendar",
	"com.android.chrome",
	"org.mozilla.firefox",
	"com.opera.browser",
	"com.tinder",
	"com.king.candycrushsaga",
}

// essentialSystemApps are preinstalled apps users interact with directly
var essentialSystemApps = []string{
	"com.android.dialer",
	"com.google.android.dialer",
	"com.samsung.android.dialer",
	"com.android.contacts",
	"com.google.android.contacts",
	"com.android.mms",
	"com.android.settings",
	"com.android.camera",
	"com.android.camera2",
	"com.google.android.GoogleCamera",
	"com.sec.android.app.camera",
	"com.android.gallery3d",
	"com.sec.android.gallery3d",
	"com.miui.gallery",
	"com.android.vending",
	"com.android.calculator2",
	"com.google.android.calculator",
	"com.android.deskclock",
	"com.google.android.deskclock",
	"com.android.calendar",
	"com.android.email",
	"com.android.browser",
	"com.android.music",
	"com.android.documentsui",
	"com.google.android.apps.nbu.files",
	"com.google.android.inputmethod.latin",
	"com.google.android.googlequicksearchbox",
	"com.google.android.apps.wellbeing",
}

// DiscoveryResult is the working set produced by the discovery filter
type DiscoveryResult struct {
	Candidates []models.InstalledPackageFacts
	Total      int
	Failed     int
	Truncated  int
	Dropped    map[models.DropReason]int
}

// Discovery filters installed packages down to the user-facing apps worth scoring
type Discovery struct {
	maxApps int
	now     func() time.Time
}

// NewDiscovery creates a discovery filter. maxApps <= 0 uses DefaultMaxApps.
func NewDiscovery(maxApps int) *Discovery {
	if maxApps <= 0 {
		maxApps = DefaultMaxApps
	}
	return &Discovery{maxApps: maxApps, now: time.Now}
}

// DiscoverCandidates runs the filter pipeline over all packages. Source order
// is preserved; the first stage that matches drops a package. Packages whose
// metadata could not be read are counted as failed and never kept.
func (d *Discovery) DiscoverCandidates(all []models.InstalledPackageFacts, excluded map[string]struct{}) *DiscoveryResult {
	result := &DiscoveryResult{
		Candidates: make([]models.InstalledPackageFacts, 0, min(len(all), d.maxApps)),
		Total:      len(all),
		Dropped:    make(map[models.DropReason]int),
	}

	now := d.now()
	for _, pkg := range all {
		if pkg.QueryStatus == models.QueryStatusMetadataUnavailable || pkg.PackageName == "" {
			result.Failed++
			continue
		}
		if reason, drop := filterPackage(pkg, excluded); drop {
			result.Dropped[reason]++
			continue
		}
		if len(result.Candidates) >= d.maxApps {
			result.Truncated++
			continue
		}
		result.Candidates = append(result.Candidates, pkg.Normalize(now))
	}

	return result
}

// filterPackage applies stages 1 to 8 and returns the drop reason, if any
func filterPackage(pkg models.InstalledPackageFacts, excluded map[string]struct{}) (models.DropReason, bool) {
	name := pkg.PackageName

	if _, ok := excluded[name]; ok {
		return models.DropExcluded, true
	}
	if matchesDottedPrefix(name, systemInternalPrefixes) {
		return models.DropSystemInternal, true
	}

	popular := IsPopularApp(name)

	// Popular apps are never dropped as background services, even when an
	// OEM namespace overlaps.
	if !popular && matchesPrefix(name, systemBackgroundPrefixes) {
		return models.DropSystemBackground, true
	}
	if !pkg.HasLauncherActivity {
		return models.DropNoLauncher, true
	}
	if !matchesPrefix(name, accessibilityAllowlist) && containsAny(strings.ToLower(name), accessibilityDenylist) {
		return models.DropAccessibility, true
	}
	if popular {
		return "", false
	}
	if pkg.IsSystemApp && !IsEssentialSystemApp(name) {
		return models.DropNonEssentialSystem, true
	}
	return "", false
}

// IsPopularApp reports whether the package is on the popular consumer app list
func IsPopularApp(packageName string) bool {
	for _, p := range popularAppPatterns {
		if containsSegment(packageName, p) {
			return true
		}
	}
	return false
}

// containsSegment reports whether p occurs in name followed by a dot or the
// end of the name
func containsSegment(name, p string) bool {
	for offset := 0; offset < len(name); {
		i := strings.Index(name[offset:], p)
		if i < 0 {
			return false
		}
		end := offset + i + len(p)
		if end == len(name) || name[end] == '.' {
			return true
		}
		offset += i + 1
	}
	return false
}

// IsEssentialSystemApp reports whether a system package is one users open directly
func IsEssentialSystemApp(packageName string) bool {
	return matchesDottedPrefix(packageName, essentialSystemApps)
}

func matchesPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// matchesDottedPrefix matches name == p or name starting with p + "."
func matchesDottedPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if name == p || strings.HasPrefix(name, p+".") {
			return true
		}
	}
	return false
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}
