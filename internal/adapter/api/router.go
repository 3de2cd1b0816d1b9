package api

import (
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

func SetupRouter(app *fiber.App, handler *Handler) {
	// Middleware
	app.Use(logger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		var providers []string
		if handler.orchestrator != nil {
			providers = handler.orchestrator.Providers()
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":    "healthy",
			"version":   os.Getenv("APP_VERSION"),
			"providers": providers,
		})
	})

	v1 := app.Group("/v1")
	v1.Post("/discover-chat", handler.HandleDiscoverChat)
	v1.Post("/resume-feedback", handler.HandleResumeFeedback)

	coins := v1.Group("/coins/:userId")
	coins.Get("/", handler.HandleBalance)
	coins.Get("/history", handler.HandleHistory)
	coins.Get("/usage", handler.HandleUsage)
	coins.Get("/stats", handler.HandleStats)
}
