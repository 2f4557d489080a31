package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "pressbeat/api/v1"
	"pressbeat/internal/config"
	"pressbeat/internal/http"
	"pressbeat/internal/http/middleware"
)

// publicCORSConfig is the CORS setup shared by the public tracking endpoints,
// permissive so the client SDK can report from any page.
var publicCORSConfig = &cors.Config{
	AllowOrigins:     "*",
	AllowMethods:     "POST,GET,OPTIONS",
	AllowHeaders:     "Origin, Content-Type, Accept, Referrer, User-Agent, X-Screen-Resolution",
	AllowCredentials: false,
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()
	logger := srv.GetLogger()
	dbManager := srv.GetDBManager()

	// Rate limiting would get in the way of tests, so it only runs in
	// production.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Event ingestion: 70 requests per minute per IP
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Auth endpoints: 10 per minute, against brute force
	authRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(10),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	trackingMiddleware := middleware.Tracking(dbManager, logger, cfg)

	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	pageConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{trackingMiddleware},
	}

	loginConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{authRateLimiter},
	}

	// === CONTENT PAGES (tracked) ===
	srv.Get("/", http.HomeIndexAction, pageConfig)
	srv.Get("/articles/:slug", http.ArticleShowAction, pageConfig)
	srv.Get("/search", http.SearchAction, pageConfig)

	// === HEALTH ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === PUBLIC TRACKING API ===
	srv.Post("/api/v1/events", v1.CreateEventHandler, publicAPIConfig)
	srv.Options("/api/v1/events", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)
	srv.Post("/api/v1/events/beacon", v1.CreateEventBeaconHandler, publicAPIConfig)
	srv.Options("/api/v1/events/beacon", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)
	srv.Get("/api/v1/session", v1.GetSessionInfoHandler, publicAPIConfig)

	// === AUTHENTICATION ===
	srv.Post("/login", http.ProcessLoginAction, loginConfig)
	srv.Post("/logout", http.LogoutAction)
}
