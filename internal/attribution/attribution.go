// Package attribution classifies how a visitor arrived: the (source, medium,
// campaign) triple derived from the referrer URL, utm_* query parameters and
// the user agent. All functions are pure and never return an error — malformed
// input degrades to direct/unknown.
package attribution

import (
	"net/url"
	"strings"
)

// Canonical sources and mediums
const (
	SourceDirect   = "direct"
	SourceReferral = "referral"

	MediumNone     = "none"
	MediumOrganic  = "organic"
	MediumSocial   = "social"
	MediumEmail    = "email"
	MediumCPC      = "cpc"
	MediumReferral = "referral"
)

// Traffic source reporting buckets
const (
	BucketPaid          = "paid"
	BucketOrganicSearch = "organic_search"
	BucketSocial        = "social"
	BucketEmail         = "email"
	BucketDirect        = "direct"
	BucketReferral      = "referral"
	BucketAppStore      = "app_store"
	BucketOther         = "other"
)

// source categories, used to infer medium
const (
	categorySearch   = "search"
	categorySocial   = "social"
	categoryEmail    = "email"
	categoryPaid     = "paid"
	categoryContent  = "content"
	categoryNews     = "news"
	categoryShopping = "shopping"
	categoryAppStore = "app_store"
	categoryOther    = "other"
)

const maxSlugLength = 50

// Attribution is the normalized classification result.
type Attribution struct {
	Source   string
	Medium   string
	Campaign string
}

// UTMParams carries the campaign query parameters of a request.
// GCLID/FBCLID are paid click identifiers appended by Google/Meta ads.
type UTMParams struct {
	Source   string
	Medium   string
	Campaign string
	Term     string
	Content  string
	GCLID    string
	FBCLID   string
}

// HasCampaignData reports whether any attribution-relevant parameter is set.
func (u UTMParams) HasCampaignData() bool {
	return u.Source != "" || u.Medium != "" || u.Campaign != "" || u.GCLID != "" || u.FBCLID != ""
}

type sourceRule struct {
	substr   string
	source   string
	category string
}

// utmSourceRules maps well-known utm_source fragments to canonical sources.
// Order matters: first match wins, so more specific fragments come first.
var utmSourceRules = []sourceRule{
	{"google-ads", "google", categoryPaid},
	{"googleads", "google", categoryPaid},
	{"adwords", "google", categoryPaid},
	{"gads", "google", categoryPaid},
	{"google", "google", categorySearch},
	{"bing-ads", "bing", categoryPaid},
	{"bing", "bing", categorySearch},
	{"duckduckgo", "duckduckgo", categorySearch},
	{"yandex", "yandex", categorySearch},
	{"baidu", "baidu", categorySearch},
	{"fb_ads", "facebook", categoryPaid},
	{"facebook-ads", "facebook", categoryPaid},
	{"meta", "facebook", categorySocial},
	{"facebook", "facebook", categorySocial},
	{"fbig", "instagram", categorySocial},
	{"fb", "facebook", categorySocial},
	{"instagram", "instagram", categorySocial},
	{"ig", "instagram", categorySocial},
	{"twitter", "twitter", categorySocial},
	{"x.com", "twitter", categorySocial},
	{"linkedin", "linkedin", categorySocial},
	{"tiktok", "tiktok", categorySocial},
	{"pinterest", "pinterest", categorySocial},
	{"reddit", "reddit", categorySocial},
	{"youtube", "youtube", categorySocial},
	{"newsletter", "email", categoryEmail},
	{"mailchimp", "email", categoryEmail},
	{"sendgrid", "email", categoryEmail},
	{"convertkit", "email", categoryEmail},
	{"substack", "substack", categoryContent},
	{"email", "email", categoryEmail},
	{"mail", "email", categoryEmail},
	{"app-store", "app_store", categoryAppStore},
	{"appstore", "app_store", categoryAppStore},
	{"play-store", "play_store", categoryAppStore},
	{"playstore", "play_store", categoryAppStore},
}

// referrerHostRules maps referrer hostname fragments to canonical sources.
// Grouped by channel; first match wins.
var referrerHostRules = []sourceRule{
	// Specific hosts first: mail.google.com and play.google.com must not
	// fall into the generic "google." search rule below.
	{"mail.google.com", "gmail", categoryEmail},
	{"mail.yahoo.com", "yahoo_mail", categoryEmail},
	{"apps.apple.com", "app_store", categoryAppStore},
	{"play.google.com", "play_store", categoryAppStore},

	// Search engines
	{"google.", "google", categorySearch},
	{"bing.com", "bing", categorySearch},
	{"duckduckgo.com", "duckduckgo", categorySearch},
	{"search.yahoo.", "yahoo", categorySearch},
	{"yahoo.com", "yahoo", categorySearch},
	{"baidu.com", "baidu", categorySearch},
	{"yandex.", "yandex", categorySearch},
	{"ecosia.org", "ecosia", categorySearch},
	{"search.brave.com", "brave", categorySearch},
	{"kagi.com", "kagi", categorySearch},

	// Social platforms
	{"facebook.com", "facebook", categorySocial},
	{"fb.com", "facebook", categorySocial},
	{"messenger.com", "facebook", categorySocial},
	{"instagram.com", "instagram", categorySocial},
	{"t.co", "twitter", categorySocial},
	{"twitter.com", "twitter", categorySocial},
	{"x.com", "twitter", categorySocial},
	{"linkedin.com", "linkedin", categorySocial},
	{"lnkd.in", "linkedin", categorySocial},
	{"tiktok.com", "tiktok", categorySocial},
	{"pinterest.", "pinterest", categorySocial},
	{"reddit.com", "reddit", categorySocial},
	{"threads.net", "threads", categorySocial},
	{"bsky.app", "bluesky", categorySocial},
	{"mastodon.", "mastodon", categorySocial},
	{"youtube.com", "youtube", categorySocial},
	{"youtu.be", "youtube", categorySocial},
	{"whatsapp.com", "whatsapp", categorySocial},
	{"t.me", "telegram", categorySocial},
	{"telegram.", "telegram", categorySocial},
	{"discord.", "discord", categorySocial},

	// Email and newsletter platforms
	{"outlook.live.com", "outlook", categoryEmail},
	{"outlook.office.com", "outlook", categoryEmail},
	{"mail.proton.me", "protonmail", categoryEmail},
	{"protonmail.com", "protonmail", categoryEmail},
	{"mailchi.mp", "mailchimp", categoryEmail},
	{"campaign-archive.com", "mailchimp", categoryEmail},

	// Content platforms
	{"news.ycombinator.com", "hackernews", categoryContent},
	{"hn.algolia.com", "hackernews", categoryContent},
	{"medium.com", "medium", categoryContent},
	{"substack.com", "substack", categoryContent},
	{"dev.to", "devto", categoryContent},
	{"hashnode.", "hashnode", categoryContent},
	{"github.com", "github", categoryContent},
	{"stackoverflow.com", "stackoverflow", categoryContent},
	{"producthunt.com", "producthunt", categoryContent},
	{"quora.com", "quora", categoryContent},
	{"wikipedia.org", "wikipedia", categoryContent},

	// News and e-commerce
	{"nytimes.com", "nytimes", categoryNews},
	{"theguardian.com", "guardian", categoryNews},
	{"bbc.co", "bbc", categoryNews},
	{"cnn.com", "cnn", categoryNews},
	{"reuters.com", "reuters", categoryNews},
	{"bloomberg.com", "bloomberg", categoryNews},
	{"forbes.com", "forbes", categoryNews},
	{"techcrunch.com", "techcrunch", categoryNews},
	{"theverge.com", "theverge", categoryNews},
	{"amazon.", "amazon", categoryShopping},
	{"ebay.", "ebay", categoryShopping},
	{"etsy.com", "etsy", categoryShopping},
}

// inAppBrowserRules detects social in-app webviews from the user agent. These
// browsers often strip the referrer, so the UA is the only attribution signal.
var inAppBrowserRules = []sourceRule{
	{"fban", "facebook", categorySocial},
	{"fbav", "facebook", categorySocial},
	{"instagram", "instagram", categorySocial},
	{"twitter", "twitter", categorySocial},
	{"linkedinapp", "linkedin", categorySocial},
	{"musical_ly", "tiktok", categorySocial},
	{"bytedance", "tiktok", categorySocial},
	{"pinterest", "pinterest", categorySocial},
	{"snapchat", "snapchat", categorySocial},
}

// sourceCategories resolves a canonical source back to its channel, for
// sources produced by any of the rule tables above.
var sourceCategories = buildSourceCategoryIndex()

func buildSourceCategoryIndex() map[string]string {
	idx := make(map[string]string)
	for _, rules := range [][]sourceRule{referrerHostRules, utmSourceRules, inAppBrowserRules} {
		for _, r := range rules {
			if _, exists := idx[r.source]; !exists {
				idx[r.source] = r.category
			}
		}
	}
	// Paid variants of search/social sources must not shadow the organic
	// category: google stays "search", facebook stays "social".
	idx["google"] = categorySearch
	idx["bing"] = categorySearch
	idx["facebook"] = categorySocial
	idx["email"] = categoryEmail
	return idx
}

// ExtractUTMParams pulls the utm_* campaign parameters plus the gclid/fbclid
// click identifiers out of a parsed query string.
func ExtractUTMParams(query url.Values) UTMParams {
	return UTMParams{
		Source:   strings.TrimSpace(query.Get("utm_source")),
		Medium:   strings.TrimSpace(query.Get("utm_medium")),
		Campaign: strings.TrimSpace(query.Get("utm_campaign")),
		Term:     strings.TrimSpace(query.Get("utm_term")),
		Content:  strings.TrimSpace(query.Get("utm_content")),
		GCLID:    strings.TrimSpace(query.Get("gclid")),
		FBCLID:   strings.TrimSpace(query.Get("fbclid")),
	}
}

// Classify resolves the attribution triple for a request.
// Precedence: explicit UTM source, then referrer hostname, then in-app
// browser detection from the user agent, then direct.
func Classify(referrerURL string, utm UTMParams, userAgent string) Attribution {
	source := DetermineSource(referrerURL, utm, userAgent)
	medium := DetermineMedium(source, utm)
	return Attribution{
		Source:   source,
		Medium:   medium,
		Campaign: Slugify(utm.Campaign),
	}
}

// DetermineSource resolves the canonical traffic source.
func DetermineSource(referrerURL string, utm UTMParams, userAgent string) string {
	if utm.Source != "" {
		normalized := strings.ToLower(utm.Source)
		for _, rule := range utmSourceRules {
			if strings.Contains(normalized, rule.substr) {
				return rule.source
			}
		}
		// Unmatched UTM sources pass through slugified so reporting stays
		// grouping-safe without losing the advertiser's label.
		if slug := Slugify(utm.Source); slug != "" {
			return slug
		}
	}

	// Click ids imply the ad platform even without utm_source
	if utm.GCLID != "" {
		return "google"
	}
	if utm.FBCLID != "" {
		return "facebook"
	}

	host := referrerHostname(referrerURL)
	if host == "" {
		if source := matchInAppBrowser(userAgent); source != "" {
			return source
		}
		return SourceDirect
	}

	for _, rule := range referrerHostRules {
		if strings.Contains(host, rule.substr) {
			return rule.source
		}
	}

	return SourceReferral
}

// DetermineMedium resolves the medium: the explicit utm_medium wins, else it
// is inferred from the source's channel.
func DetermineMedium(source string, utm UTMParams) string {
	if utm.Medium != "" {
		return normalizeMedium(utm.Medium)
	}

	// Paid click ids force cpc regardless of source channel
	if utm.GCLID != "" || utm.FBCLID != "" {
		return MediumCPC
	}

	switch sourceCategories[source] {
	case categoryPaid:
		return MediumCPC
	case categorySearch:
		return MediumOrganic
	case categorySocial:
		return MediumSocial
	case categoryEmail:
		return MediumEmail
	}

	switch source {
	case SourceDirect:
		return MediumNone
	case SourceReferral:
		return MediumReferral
	}
	return MediumReferral
}

// CategorizeTrafficSource collapses a (source, medium) pair into a reporting
// bucket. Total: every input maps to exactly one bucket.
func CategorizeTrafficSource(source, medium string) string {
	medium = strings.ToLower(medium)
	source = strings.ToLower(source)

	switch medium {
	case MediumCPC, "ppc", "paid", "paid_social", "paidsearch", "display", "banner":
		return BucketPaid
	case MediumEmail:
		return BucketEmail
	case MediumSocial:
		return BucketSocial
	case MediumOrganic:
		return BucketOrganicSearch
	}

	switch sourceCategories[source] {
	case categorySearch:
		return BucketOrganicSearch
	case categorySocial:
		return BucketSocial
	case categoryEmail:
		return BucketEmail
	case categoryAppStore:
		return BucketAppStore
	case categoryContent, categoryNews, categoryShopping:
		return BucketReferral
	}

	switch source {
	case SourceDirect:
		return BucketDirect
	case SourceReferral:
		return BucketReferral
	}

	if medium == MediumReferral {
		return BucketReferral
	}
	if medium == MediumNone || medium == "" {
		if source == "" {
			return BucketDirect
		}
		return BucketOther
	}
	return BucketOther
}

// Changed reports whether a newly classified attribution represents a new
// visit for an existing visitor: a non-direct source/medium that differs from
// the stored pair, or a different campaign. Direct hits never re-session —
// typing the URL mid-session is still the same visit.
func Changed(stored, next Attribution) bool {
	if next.Campaign != "" && next.Campaign != stored.Campaign {
		return true
	}
	if next.Source == SourceDirect {
		return false
	}
	return next.Source != stored.Source || next.Medium != stored.Medium
}

// IsSelfReferral checks if a referrer hostname matches the platform's own
// domain; such hits are treated as direct (internal navigation).
func IsSelfReferral(hostname, platformDomain string) bool {
	if hostname == "" || platformDomain == "" {
		return false
	}

	lowerHostname := strings.ToLower(hostname)
	lowerDomain := strings.ToLower(platformDomain)

	if lowerHostname == lowerDomain {
		return true
	}
	return strings.HasSuffix(lowerHostname, "."+lowerDomain)
}

// Slugify normalizes a campaign or source label to lowercase [a-z0-9_-],
// truncated to 50 characters. Whitespace collapses to hyphens.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ', r == '\t':
			b.WriteRune('-')
		}
	}

	slug := b.String()
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
	}
	return slug
}

func normalizeMedium(medium string) string {
	m := strings.ToLower(strings.TrimSpace(medium))
	switch m {
	case "cpc", "ppc", "paidsearch", "paid-search", "paid_search", "sem":
		return MediumCPC
	case "social", "social-media", "social_media", "sm":
		return MediumSocial
	case "email", "e-mail", "newsletter":
		return MediumEmail
	case "organic":
		return MediumOrganic
	case "referral", "link":
		return MediumReferral
	case "none", "(none)":
		return MediumNone
	}
	if slug := Slugify(m); slug != "" {
		return slug
	}
	return MediumReferral
}

// referrerHostname extracts a lowercase hostname from a referrer URL.
// Malformed URLs yield "" so classification degrades to direct.
func referrerHostname(referrerURL string) string {
	referrerURL = strings.TrimSpace(referrerURL)
	if referrerURL == "" {
		return ""
	}

	parsed, err := url.Parse(referrerURL)
	if err != nil {
		return ""
	}

	host := strings.ToLower(parsed.Hostname())
	// Schemeless referrers like "m.facebook.com/p/1" parse as a path
	if host == "" && !strings.Contains(referrerURL, "://") {
		parsed, err = url.Parse("https://" + referrerURL)
		if err != nil {
			return ""
		}
		host = strings.ToLower(parsed.Hostname())
	}

	return strings.TrimPrefix(host, "www.")
}

func matchInAppBrowser(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	ua := strings.ToLower(userAgent)
	for _, rule := range inAppBrowserRules {
		if strings.Contains(ua, rule.substr) {
			return rule.source
		}
	}
	return ""
}
