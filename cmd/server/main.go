// Package main is crawlfleet's server entry point: coordination store
// + admission/fairness/lifecycle stack + Temporal worker (when
// configured) + fiber HTTP API, wired the way the teacher's
// cmd/server/main.go wires Temporal client, worker, and fiber app
// together, generalized from document ingestion to job admission.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/Caia-Tech/crawlfleet/internal/api"
	"github.com/Caia-Tech/crawlfleet/internal/coordinator"
	"github.com/Caia-Tech/crawlfleet/internal/crawltracker"
	"github.com/Caia-Tech/crawlfleet/internal/mappipeline"
	"github.com/Caia-Tech/crawlfleet/internal/mappipeline/searchengine"
	"github.com/Caia-Tech/crawlfleet/internal/queue"
	"github.com/Caia-Tech/crawlfleet/internal/robots"
	"github.com/Caia-Tech/crawlfleet/internal/scrapeengine"
	"github.com/Caia-Tech/crawlfleet/internal/semaphore"
	"github.com/Caia-Tech/crawlfleet/internal/sitemap"
	"github.com/Caia-Tech/crawlfleet/internal/store"
	"github.com/Caia-Tech/crawlfleet/internal/store/memstore"
	"github.com/Caia-Tech/crawlfleet/internal/store/redisstore"
	"github.com/Caia-Tech/crawlfleet/pkg/config"
	"github.com/Caia-Tech/crawlfleet/pkg/embedder"
	"github.com/Caia-Tech/crawlfleet/pkg/logging"
	"github.com/Caia-Tech/crawlfleet/pkg/tenant"
)

const temporalTaskQueue = "crawlfleet-crawls"

func main() {
	cfg := config.Load()

	if err := logging.SetupLogger(&logging.LogConfig{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Console: true,
	}); err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}

	st := newStore(cfg)
	defer st.Close()

	tenants := tenant.NewStaticProvider(tenant.View{
		TenantID:         "default",
		ConcurrencyLimit: 10,
		CreditsAvailable: 1_000_000,
	})

	sem := semaphore.New(st, cfg.SemaphoreLeaseTTL, semaphore.WithSelfHosted(cfg.SelfHosted))
	tracker := crawltracker.New(st)
	q := queue.New(st, sem, tracker)

	engine := scrapeengine.New()
	robotsResolver := robots.New(st, engine)
	sitemapTraverser := sitemap.New(engine)

	embedEngine, err := embedder.NewEngine()
	if err != nil {
		log.Fatalf("failed to build embedder: %v", err)
	}
	search := searchengine.New(engine, "https://html.duckduckgo.com/html/?q=%s")
	// No RedirectResolver wired by default: following a redirect chain
	// needs the final landed URL, which net/http's Client hides once it
	// has already followed the chain internally. Deployments that need
	// spec.md §4.H point 1's redirect-aware behavior can wire their own
	// RedirectResolver; omitting it just means the origin URL is used
	// as-is, which mappipeline already treats as a valid empty collaborator.
	mapPipeline := mappipeline.New(st, sitemapTraverser, search, nil, nil, robotsResolver, mappipeline.NewEmbedderAdapter(embedEngine))

	coord := coordinator.New(st, tenants, sem, q, tracker, robotsResolver, sitemapTraverser, engine)

	var temporalClient client.Client
	if cfg.TemporalHostPort != "" {
		temporalClient, err = client.Dial(client.Options{HostPort: cfg.TemporalHostPort})
		if err != nil {
			log.Fatalf("failed to create Temporal client: %v", err)
		}
		defer temporalClient.Close()

		w := worker.New(temporalClient, temporalTaskQueue, worker.Options{
			MaxConcurrentActivityExecutionSize:     10,
			MaxConcurrentWorkflowTaskExecutionSize: 10,
		})
		w.RegisterWorkflow(coordinator.CrawlWorkflow)
		activities := coordinator.NewCrawlActivities(coord)
		w.RegisterActivity(activities.KickoffCrawlActivity)
		w.RegisterActivity(activities.DrainCrawlActivity)

		go func() {
			if err := w.Run(worker.InterruptCh()); err != nil {
				log.Fatalf("temporal worker stopped: %v", err)
			}
		}()
	}

	app := fiber.New(fiber.Config{
		AppName:               "crawlfleet",
		DisableStartupMessage: false,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${error}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "UTC",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	h := api.NewHandlers(coord, mapPipeline, st, temporalClient)
	debugHandler := api.NewDebugHandler(st)
	api.SetupRoutes(app, h, debugHandler)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("shutting down server...")
		if err := app.Shutdown(); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	log.Printf("starting crawlfleet server on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

// newStore builds the coordination store: redisstore for a
// multi-process production deployment, memstore for self-hosted /
// single-process use (spec.md §4.A point 4).
func newStore(cfg config.Config) store.Store {
	if cfg.RedisAddr == "" {
		return memstore.New()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return redisstore.New(client)
}
