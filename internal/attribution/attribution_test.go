package attribution

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyUTMSourcePrecedence(t *testing.T) {
	tests := []struct {
		name       string
		utmSource  string
		utmMedium  string
		wantSource string
		wantMedium string
	}{
		{"paid facebook variant", "FB_ads", "", "facebook", "cpc"},
		{"plain facebook", "facebook", "", "facebook", "social"},
		{"newsletter maps to email", "newsletter", "", "email", "email"},
		{"google ads", "google-ads", "", "google", "cpc"},
		{"plain google", "google", "", "google", "organic"},
		{"explicit medium wins", "partner-site", "cpc", "partner-site", "cpc"},
		{"unknown source slugified", "My Partner!", "", "my-partner", "referral"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Classify("https://ignored.example.com/", UTMParams{Source: tt.utmSource, Medium: tt.utmMedium}, "")
			assert.Equal(t, tt.wantSource, a.Source)
			assert.Equal(t, tt.wantMedium, a.Medium)
		})
	}
}

func TestClassifyReferrerHosts(t *testing.T) {
	tests := []struct {
		referrer   string
		wantSource string
		wantMedium string
	}{
		{"https://m.facebook.com/some/post", "facebook", "social"},
		{"https://www.google.com/search?q=pressbeat", "google", "organic"},
		{"https://t.co/abc123", "twitter", "social"},
		{"https://news.ycombinator.com/item?id=1", "hackernews", "referral"},
		{"https://mail.google.com/mail/u/0/", "gmail", "email"},
		{"https://apps.apple.com/app/id1", "app_store", "referral"},
		{"https://some-random-blog.net/post", "referral", "referral"},
	}

	for _, tt := range tests {
		a := Classify(tt.referrer, UTMParams{}, "")
		assert.Equal(t, tt.wantSource, a.Source, "referrer %s", tt.referrer)
		assert.Equal(t, tt.wantMedium, a.Medium, "referrer %s", tt.referrer)
	}
}

func TestClassifyDirect(t *testing.T) {
	for _, referrer := range []string{"", "   ", "::not a url::"} {
		a := Classify(referrer, UTMParams{}, "Mozilla/5.0")
		assert.Equal(t, SourceDirect, a.Source, "referrer %q", referrer)
		assert.Equal(t, MediumNone, a.Medium, "referrer %q", referrer)
		assert.Empty(t, a.Campaign)
	}
}

func TestClassifySchemelessReferrer(t *testing.T) {
	a := Classify("m.facebook.com/p/123", UTMParams{}, "")
	assert.Equal(t, "facebook", a.Source)
	assert.Equal(t, MediumSocial, a.Medium)
}

func TestClassifyInAppBrowser(t *testing.T) {
	// Facebook's in-app browser strips the referrer; the UA token is the
	// only signal left.
	ua := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) [FBAN/FBIOS;FBAV/440.0]"
	a := Classify("", UTMParams{}, ua)
	assert.Equal(t, "facebook", a.Source)
	assert.Equal(t, MediumSocial, a.Medium)
}

func TestClassifyClickIDs(t *testing.T) {
	gclid := Classify("", UTMParams{GCLID: "abc"}, "")
	assert.Equal(t, "google", gclid.Source)
	assert.Equal(t, MediumCPC, gclid.Medium)

	fbclid := Classify("", UTMParams{FBCLID: "xyz"}, "")
	assert.Equal(t, "facebook", fbclid.Source)
	assert.Equal(t, MediumCPC, fbclid.Medium)
}

func TestExtractUTMParams(t *testing.T) {
	query, err := url.ParseQuery("utm_source=newsletter&utm_medium=email&utm_campaign=weekly&utm_term=go&gclid=g1")
	assert.NoError(t, err)

	utm := ExtractUTMParams(query)
	assert.Equal(t, "newsletter", utm.Source)
	assert.Equal(t, "email", utm.Medium)
	assert.Equal(t, "weekly", utm.Campaign)
	assert.Equal(t, "go", utm.Term)
	assert.Equal(t, "g1", utm.GCLID)
	assert.True(t, utm.HasCampaignData())
	assert.False(t, UTMParams{Term: "only-term"}.HasCampaignData())
}

func TestCategorizeTrafficSourceIsTotal(t *testing.T) {
	tests := []struct {
		source string
		medium string
		want   string
	}{
		{"google", "cpc", BucketPaid},
		{"google", "organic", BucketOrganicSearch},
		{"google", "", BucketOrganicSearch},
		{"facebook", "social", BucketSocial},
		{"email", "email", BucketEmail},
		{"direct", "none", BucketDirect},
		{"referral", "referral", BucketReferral},
		{"app_store", "", BucketAppStore},
		{"medium", "", BucketReferral},
		{"something-odd", "weird", BucketOther},
		{"", "", BucketDirect},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CategorizeTrafficSource(tt.source, tt.medium),
			"source=%q medium=%q", tt.source, tt.medium)
	}
}

func TestChanged(t *testing.T) {
	facebook := Attribution{Source: "facebook", Medium: "social"}
	email := Attribution{Source: "email", Medium: "email", Campaign: "weekly"}
	direct := Attribution{Source: SourceDirect, Medium: MediumNone}

	// Spec scenario: facebook session, then an email campaign link arrives
	assert.True(t, Changed(facebook, email))

	// Same attribution keeps the session
	assert.False(t, Changed(facebook, facebook))

	// Direct mid-session never re-sessions
	assert.False(t, Changed(facebook, direct))

	// Campaign change alone is enough
	assert.True(t, Changed(
		Attribution{Source: "email", Medium: "email", Campaign: "weekly"},
		Attribution{Source: "email", Medium: "email", Campaign: "monthly"},
	))
}

func TestIsSelfReferral(t *testing.T) {
	assert.True(t, IsSelfReferral("pressbeat.io", "pressbeat.io"))
	assert.True(t, IsSelfReferral("www.pressbeat.io", "pressbeat.io"))
	assert.False(t, IsSelfReferral("notpressbeat.io", "pressbeat.io"))
	assert.False(t, IsSelfReferral("", "pressbeat.io"))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "summer-sale", Slugify("Summer Sale"))
	assert.Equal(t, "q3_launch", Slugify("Q3_Launch!"))
	assert.Equal(t, "", Slugify("   "))
	assert.LessOrEqual(t, len(Slugify("a very long campaign name that keeps going and going and going well past fifty characters")), 50)
}
