package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	controller "dripline/controllers"
	"dripline/middleware"
)

type Options struct {
	JWTSecret        string
	TriggerRateLimit int
	// RateLimitStorage backs the trigger limiter; nil keeps it in memory.
	RateLimitStorage fiber.Storage
	// AccessLog enables the request log line.
	AccessLog bool
}

func SetupDripRoutes(app *fiber.App, drips *controller.DripController, hub *controller.JobEventHub, opts Options) {
	handlers := []fiber.Handler{middleware.Protected(opts.JWTSecret)}
	if opts.AccessLog {
		handlers = append(handlers, logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}

	// API group with versioning and protection
	api := app.Group("/api/v1", handlers...)
	d := api.Group("/drips")

	// Sequence definitions
	d.Get("/sequences", drips.ListSequences)
	d.Put("/sequences", drips.UpsertSequence)
	d.Get("/sequences/:id", drips.GetSequence)
	d.Delete("/sequences/:id", drips.DeleteSequence)
	d.Post("/sequences/:id/steps", drips.CreateStep)
	d.Put("/sequences/:id/steps/order", drips.ReorderSteps)
	d.Put("/steps/:stepId", drips.UpdateStep)
	d.Delete("/steps/:stepId", drips.DeleteStep)

	// Trigger intake with per company rate limiting
	limit := opts.TriggerRateLimit
	if limit <= 0 {
		limit = 120
	}
	d.Post("/triggers", middleware.TriggerRateLimiter(limit, opts.RateLimitStorage), drips.HandleTrigger)

	// Jobs
	d.Get("/deals/:dealId/jobs", drips.ListDealJobs)
	d.Delete("/jobs/:id", drips.CancelJob)

	// Live job events
	d.Get("/events", controller.RequireUpgrade, hub.Stream())
}

func SetupRoutes(app *fiber.App, drips *controller.DripController, hub *controller.JobEventHub, opts Options) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupDripRoutes(app, drips, hub, opts)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
