package http

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pressbeat/internal/attribution"
	"pressbeat/internal/config"
	"pressbeat/internal/http/middleware"
	"pressbeat/internal/pkg/clientip"
	"pressbeat/internal/sessions"
	"pressbeat/internal/users"
)

type loginParams struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// ProcessLoginAction authenticates a user and converts their tracking session
// to an authenticated one in place, keeping the attribution chain intact.
func ProcessLoginAction(ctx *cartridge.Context) error {
	var params loginParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request",
		})
	}

	db := ctx.DBManager.GetConnection()
	user, err := users.Authenticate(db, params.Email, params.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid email or password",
			})
		}
		ctx.Logger.Error("Login failed", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Login failed",
		})
	}

	cfg := config.GetConfig()
	resolver := sessions.NewResolver(cfg, ctx.Logger)
	resolution, err := resolver.Login(db, sessionRequest(ctx, cfg), user.ID)
	if err != nil {
		ctx.Logger.Error("Session conversion failed",
			slog.Uint64("user_id", uint64(user.ID)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Login failed",
		})
	}
	middleware.ApplyCookies(ctx.Ctx, cfg, resolution)

	ctx.Logger.Info("Login successful",
		slog.String("email", user.Email),
		slog.Uint64("user_id", uint64(user.ID)),
		slog.String("session_id", resolution.Session.SessionID))

	return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
		"user": fiber.Map{
			"id":          user.ID,
			"email":       user.Email,
			"displayName": user.DisplayName,
		},
		"sessionId": resolution.Session.SessionID,
	})
}

// LogoutAction deactivates the auth session and mints a fresh anonymous
// tracking session so post-logout browsing stays attributable.
func LogoutAction(ctx *cartridge.Context) error {
	cfg := config.GetConfig()
	db := ctx.DBManager.GetConnection()

	resolver := sessions.NewResolver(cfg, ctx.Logger)
	resolution, err := resolver.Logout(db, sessionRequest(ctx, cfg))
	if err != nil {
		ctx.Logger.Error("Logout failed", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Logout failed",
		})
	}
	middleware.ApplyCookies(ctx.Ctx, cfg, resolution)

	return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"message": "Logged out"})
}

// sessionRequest assembles resolver input for the auth endpoints. Login and
// logout carry no attribution signal of their own.
func sessionRequest(ctx *cartridge.Context, cfg *config.Config) sessions.Request {
	userAgent := ctx.Get("User-Agent")
	return sessions.Request{
		TrackingCookie: ctx.Cookies(cfg.TrackingCookieName),
		AuthCookie:     ctx.Cookies(cfg.AuthCookieName),
		IPAddress:      clientip.FromRequest(ctx.Ctx),
		UserAgent:      userAgent,
		Attribution:    attribution.Classify("", attribution.UTMParams{}, userAgent),
		Now:            time.Now().UTC(),
	}
}
