// Package v1 is pressbeat's public tracking API: engagement event ingestion
// and visitor session introspection.
package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pressbeat/internal/attribution"
	"pressbeat/internal/config"
	"pressbeat/internal/content"
	"pressbeat/internal/events"
	httpmiddleware "pressbeat/internal/http/middleware"
	"pressbeat/internal/pkg/clientip"
	"pressbeat/internal/pkg/useragent"
	"pressbeat/internal/sessions"
)

const (
	msgEventAdded     = "Event added successfully"
	errInvalidRequest = "Invalid request"
)

type CreateEventParams struct {
	ContentID *uint                  `json:"contentId"`
	EventType string                 `json:"eventType"`
	EventData map[string]interface{} `json:"eventData"`
	PageURL   string                 `json:"pageUrl"`
	Referrer  string                 `json:"referrer"`
}

// CreateEventHandler ingests one engagement event. The visitor's session is
// resolved from cookies; a cookieless caller gets a fresh tracking session so
// the event is never orphaned.
func CreateEventHandler(ctx *cartridge.Context) error {
	var params CreateEventParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": errInvalidRequest,
			"code":  "INVALID_BODY",
		})
	}
	return collectEvent(ctx, params, false)
}

// CreateEventBeaconHandler handles events sent via navigator.sendBeacon,
// which arrive as text/plain and cannot observe the response. It always
// answers 202.
func CreateEventBeaconHandler(ctx *cartridge.Context) error {
	var params CreateEventParams
	if err := json.Unmarshal(ctx.Body(), &params); err != nil {
		ctx.Logger.Debug("Failed to parse beacon request", slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}
	return collectEvent(ctx, params, true)
}

func collectEvent(ctx *cartridge.Context, params CreateEventParams, beacon bool) error {
	if !events.ValidEventType(params.EventType) {
		if beacon {
			return ctx.SendStatus(http.StatusAccepted)
		}
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown event type",
			"code":  "INVALID_EVENT_TYPE",
		})
	}

	cfg := config.GetConfig()
	db := ctx.DBManager.GetConnection()
	userAgent := ctx.Get("User-Agent")

	if useragent.Classify(userAgent).Bot {
		// Bots get a polite 202 and no rows.
		return ctx.SendStatus(http.StatusAccepted)
	}

	if params.ContentID != nil {
		if _, err := content.FindByID(db, *params.ContentID); err != nil {
			var notFound *content.ContentNotFoundError
			if errors.As(err, &notFound) {
				if beacon {
					return ctx.SendStatus(http.StatusAccepted)
				}
				return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
					"error": "Content not found",
					"code":  "CONTENT_NOT_FOUND",
				})
			}
			ctx.Logger.Error("Failed to look up content", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to collect event",
				"code":  "COLLECTION_ERROR",
			})
		}
	}

	resolver := sessions.NewResolver(cfg, ctx.Logger)
	req := sessions.Request{
		TrackingCookie: ctx.Cookies(cfg.TrackingCookieName),
		AuthCookie:     ctx.Cookies(cfg.AuthCookieName),
		IPAddress:      clientip.FromRequest(ctx.Ctx),
		UserAgent:      userAgent,
		Referrer:       params.Referrer,
		Attribution:    attribution.Classify(params.Referrer, attribution.UTMParams{}, userAgent),
		PageCountDelta: 0,
		Now:            time.Now().UTC(),
	}

	resolution, err := resolver.Resolve(db, req)
	if err != nil {
		ctx.Logger.Error("Failed to resolve session for event", slog.Any("error", err))
		if beacon {
			return ctx.SendStatus(http.StatusAccepted)
		}
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to collect event",
			"code":  "COLLECTION_ERROR",
		})
	}
	httpmiddleware.ApplyCookies(ctx.Ctx, cfg, resolution)

	recorder := events.NewRecorder(ctx.Logger)
	_, err = recorder.Record(db, resolution.Session, events.RecordInput{
		ContentID: params.ContentID,
		EventType: events.EventType(params.EventType),
		EventData: params.EventData,
		IPAddress: req.IPAddress,
		UserAgent: userAgent,
		Referrer:  params.Referrer,
		PageURL:   params.PageURL,
	})
	if err != nil {
		ctx.Logger.Error("Failed to record event",
			slog.String("event_type", params.EventType),
			slog.Any("error", err))
		if beacon {
			return ctx.SendStatus(http.StatusAccepted)
		}
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to collect event",
			"code":  "COLLECTION_ERROR",
		})
	}

	if beacon {
		return ctx.SendStatus(http.StatusAccepted)
	}
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": msgEventAdded,
		"status":  http.StatusAccepted,
	})
}

// GetSessionInfoHandler returns the caller's current session summary, mostly
// for the client SDK to decide whether it is mid-session.
func GetSessionInfoHandler(ctx *cartridge.Context) error {
	cfg := config.GetConfig()
	db := ctx.DBManager.GetConnection()
	now := time.Now().UTC()

	sessionID := ctx.Cookies(cfg.AuthCookieName)
	sessionType := sessions.TypeAuthentication
	timeout := time.Duration(cfg.AuthSessionTimeoutSeconds) * time.Second
	if sessionID == "" {
		sessionID = ctx.Cookies(cfg.TrackingCookieName)
		sessionType = sessions.TypeTracking
		timeout = time.Duration(cfg.SessionTimeoutSeconds) * time.Second
	}
	if sessionID == "" {
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "No active session",
			"code":  "NO_SESSION",
		})
	}

	session, err := sessions.FindActiveBySessionID(db, sessionID, sessionType, now, timeout)
	if err != nil {
		var notFound *sessions.SessionNotFoundError
		if errors.As(err, &notFound) {
			return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
				"error": "No active session",
				"code":  "NO_SESSION",
			})
		}
		ctx.Logger.Error("Failed to load session", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load session",
			"code":  "SESSION_ERROR",
		})
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"sessionId":       session.SessionID,
		"sessionType":     session.SessionType,
		"isAuthenticated": session.IsAuthenticated,
		"isNewVisitor":    session.IsNewVisitor,
		"pageCount":       session.PageCount,
		"duration":        session.Duration,
		"source":          session.Source,
		"medium":          session.Medium,
		"campaign":        session.Campaign,
		"country":         session.Country,
		"deviceType":      session.DeviceType,
	})
}
