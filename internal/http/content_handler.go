package http

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pressbeat/internal/content"
	"pressbeat/internal/http/middleware"
)

const articlePageSize = 20

// HomeIndexAction lists the most recent articles. The tracking middleware has
// already recorded the page view by the time this runs.
func HomeIndexAction(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()

	var articles []content.Article
	err := db.Order("published_at DESC").Limit(articlePageSize).Find(&articles).Error
	if err != nil {
		ctx.Logger.Error("Failed to list articles", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load articles",
		})
	}

	return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"articles": articles})
}

// ArticleShowAction serves one article by slug.
func ArticleShowAction(ctx *cartridge.Context) error {
	slug := ctx.Params("slug")
	db := ctx.DBManager.GetConnection()

	article, err := content.FindBySlug(db, slug)
	if err != nil {
		var notFound *content.ContentNotFoundError
		if errors.As(err, &notFound) {
			return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Article not found",
			})
		}
		ctx.Logger.Error("Failed to load article",
			slog.String("slug", slug),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load article",
		})
	}

	response := fiber.Map{"article": article}
	if session := middleware.SessionFromContext(ctx.Ctx); session != nil {
		response["isNewVisitor"] = session.IsNewVisitor
	}
	return ctx.Status(fiber.StatusOK).JSON(response)
}

// SearchAction runs a naive title search over articles.
func SearchAction(ctx *cartridge.Context) error {
	query := strings.TrimSpace(ctx.Query("q"))
	if query == "" {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"articles": []content.Article{}})
	}

	db := ctx.DBManager.GetConnection()
	var articles []content.Article
	err := db.Where("title LIKE ?", "%"+query+"%").
		Order("published_at DESC").
		Limit(articlePageSize).
		Find(&articles).Error
	if err != nil {
		ctx.Logger.Error("Failed to search articles",
			slog.String("query", query),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Search failed",
		})
	}

	return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"articles": articles})
}
