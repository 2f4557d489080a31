// Package middleware holds pressbeat's request middleware. Tracking is the
// main one: it runs the attribute, resolve and record pipeline on every
// content page request.
package middleware

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"pressbeat/internal/attribution"
	"pressbeat/internal/config"
	"pressbeat/internal/content"
	"pressbeat/internal/pageviews"
	"pressbeat/internal/pkg/clientip"
	"pressbeat/internal/pkg/useragent"
	"pressbeat/internal/sessions"
)

// SessionLocalKey is where the resolved session lives on the request context.
const SessionLocalKey = "pressbeat_session"

// Tracking classifies, resolves and records every content page request.
// Tracking always fails open: whatever goes wrong, the business request
// proceeds untouched and the error only reaches the logs.
func Tracking(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config) fiber.Handler {
	resolver := sessions.NewResolver(cfg, logger)
	recorder := pageviews.NewRecorder(logger)

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodGet || !pageviews.IsPageViewRoute(c.Path()) {
			return c.Next()
		}

		track(c, dbManager, logger, cfg, resolver, recorder)
		return c.Next()
	}
}

func track(c *fiber.Ctx, dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config,
	resolver *sessions.Resolver, recorder *pageviews.Recorder) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered in tracking pipeline",
				slog.String("path", c.Path()),
				slog.Any("panic", r))
		}
	}()

	userAgent := c.Get("User-Agent")
	if useragent.Classify(userAgent).Bot {
		return
	}

	req := buildRequest(c, cfg, userAgent)
	db := dbManager.GetConnection()

	resolution, err := resolver.Resolve(db, req)
	if err != nil {
		logger.Error("Session resolution failed",
			slog.String("path", c.Path()),
			slog.Any("error", err))
		return
	}

	ApplyCookies(c, cfg, resolution)
	c.Locals(SessionLocalKey, resolution.Session)

	contentID := contentIDForPath(db, c.Path())
	_, err = recorder.Record(db, resolution.Session, pageviews.RecordInput{
		PageURL:   c.OriginalURL(),
		Referrer:  req.Referrer,
		ContentID: contentID,
		Now:       req.Now,
	})
	if err != nil {
		logger.Error("Page view recording failed",
			slog.String("path", c.Path()),
			slog.String("session_id", resolution.Session.SessionID),
			slog.Any("error", err))
	}
}

// buildRequest assembles the resolver input from the raw request.
func buildRequest(c *fiber.Ctx, cfg *config.Config, userAgent string) sessions.Request {
	referrer := c.Get("Referer")
	if isOwnReferrer(referrer, cfg.Domain) {
		// Internal navigation carries no attribution signal.
		referrer = ""
	}

	query, _ := url.ParseQuery(string(c.Request().URI().QueryString()))
	utm := attribution.ExtractUTMParams(query)

	return sessions.Request{
		TrackingCookie:   c.Cookies(cfg.TrackingCookieName),
		AuthCookie:       c.Cookies(cfg.AuthCookieName),
		IPAddress:        clientip.FromRequest(c),
		UserAgent:        userAgent,
		Referrer:         referrer,
		ScreenResolution: c.Get("X-Screen-Resolution"),
		Attribution:      attribution.Classify(referrer, utm, userAgent),
		PageCountDelta:   1,
		Now:              time.Now().UTC(),
	}
}

func isOwnReferrer(referrer, platformDomain string) bool {
	if referrer == "" || platformDomain == "" {
		return false
	}
	parsed, err := url.Parse(referrer)
	if err != nil {
		return false
	}
	return attribution.IsSelfReferral(parsed.Hostname(), platformDomain)
}

// contentIDForPath maps an article detail path to its content id. Non-article
// pages (home, category, search) carry no content id.
func contentIDForPath(db *gorm.DB, path string) *uint {
	slug, ok := strings.CutPrefix(path, "/articles/")
	if !ok || slug == "" {
		return nil
	}
	slug = strings.TrimSuffix(slug, "/")

	article, err := content.FindBySlug(db, slug)
	if err != nil {
		return nil
	}
	return &article.ID
}

// SessionFromContext returns the session the tracking middleware attached,
// or nil when the request was not tracked.
func SessionFromContext(c *fiber.Ctx) *sessions.Session {
	if s, ok := c.Locals(SessionLocalKey).(*sessions.Session); ok {
		return s
	}
	return nil
}

// ApplyCookies translates a resolution's cookie verdicts into Set-Cookie
// headers. SameSite is strict outside production; production relaxes it to
// none over TLS so tracking survives cross-site entry links.
func ApplyCookies(c *fiber.Ctx, cfg *config.Config, resolution *sessions.Resolution) {
	sameSite := "Strict"
	if cfg.IsProduction() {
		sameSite = "None"
	}

	if resolution.ClearAuthCookie {
		expireCookie(c, cfg.AuthCookieName, cfg.IsProduction(), sameSite)
	}
	if resolution.ClearTrackingCookie {
		expireCookie(c, cfg.TrackingCookieName, cfg.IsProduction(), sameSite)
	}
	if resolution.SetTrackingCookie && resolution.Session != nil {
		maxAge := cfg.TrackingCookieMaxAgeDays * 24 * 60 * 60
		setCookie(c, cfg.TrackingCookieName, resolution.Session.SessionID, maxAge, cfg.IsProduction(), sameSite)
	}
	if resolution.SetAuthCookie && resolution.Session != nil {
		setCookie(c, cfg.AuthCookieName, resolution.Session.SessionID, cfg.AuthSessionTimeoutSeconds, cfg.IsProduction(), sameSite)
	}
}

func setCookie(c *fiber.Ctx, name, value string, maxAgeSeconds int, secure bool, sameSite string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAgeSeconds,
		Expires:  time.Now().Add(time.Duration(maxAgeSeconds) * time.Second),
		Secure:   secure,
		HTTPOnly: true,
		SameSite: sameSite,
	})
}

func expireCookie(c *fiber.Ctx, name string, secure bool, sameSite string) {
	c.ClearCookie(name)
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Now().Add(-24 * time.Hour),
		Secure:   secure,
		HTTPOnly: true,
		SameSite: sameSite,
	})
}
