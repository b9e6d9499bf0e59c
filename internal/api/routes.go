package api

import "github.com/gofiber/fiber/v2"

// SetupRoutes wires spec.md §6's HTTP surface, grounded on the
// teacher's cmd/server/main.go setupRoutes grouping (v1 group per
// resource, one route per handler method).
func SetupRoutes(app *fiber.App, h *Handlers, debug *DebugHandler) {
	app.Get("/health", h.Health)

	v1 := app.Group("/api/v1")
	v1.Post("/scrape", h.Scrape)
	v1.Post("/crawl", h.Crawl)
	v1.Get("/crawl/:id", h.GetCrawl)
	v1.Post("/map", h.Map)

	debugGroup := v1.Group("/debug")
	debugGroup.Get("/semaphore", debug.GetSemaphore)
	debugGroup.Get("/queue", debug.GetQueue)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": "crawlfleet",
			"docs":    "/health, /api/v1/scrape, /api/v1/crawl, /api/v1/map",
		})
	})
}
