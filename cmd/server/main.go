package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/claraverse/mcp-gateway/internal/audit"
	"github.com/claraverse/mcp-gateway/internal/config"
	"github.com/claraverse/mcp-gateway/internal/database"
	"github.com/claraverse/mcp-gateway/internal/handlers"
	"github.com/claraverse/mcp-gateway/internal/jobs"
	"github.com/claraverse/mcp-gateway/internal/logging"
	"github.com/claraverse/mcp-gateway/internal/middleware"
	"github.com/claraverse/mcp-gateway/internal/models"
	"github.com/claraverse/mcp-gateway/internal/preflight"
	"github.com/claraverse/mcp-gateway/internal/security"
	"github.com/claraverse/mcp-gateway/internal/services"
	"github.com/claraverse/mcp-gateway/pkg/auth"
)

// Version is set at build time
var Version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting MCP Gateway...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s)", cfg.Port, cfg.Environment)

	// Audit database (SQLite path or mysql:// DSN)
	db, err := database.New(cfg.AuditDatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to audit database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize audit database: %v", err)
	}

	if results := preflight.NewChecker(db, cfg).RunAll(); preflight.HasFailures(results) {
		log.Fatal("❌ Pre-flight checks failed, refusing to start")
	}

	// Audit sinks: log, SQL, and optional Redis fan-out
	auditStore := audit.NewSQLStore(db)
	recorders := audit.Multi{audit.NewLogRecorder(slog.Default().With("component", "audit")), auditStore}

	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, audit fan-out disabled: %v", err)
		} else {
			recorders = append(recorders, audit.NewRedisPublisher(redisService.Client(), ""))
			log.Println("📡 Audit events published to Redis")
		}
	}
	var recorder audit.Recorder = recorders

	// The connection gauge reads the manager, which is built after the metrics it records to
	var manager *services.MCPConnectionManager
	metrics := services.InitMetrics(prometheus.DefaultRegisterer, services.CounterFunc(func() int {
		if manager == nil {
			return 0
		}
		return manager.Count()
	}))

	// Launcher link and connection manager
	hub := services.NewLauncherHub(metrics, nil)
	manager = services.NewMCPConnectionManager(services.ManagerOptions{
		Launcher:              hub,
		Dialer:                services.NewSDKDialer("claraverse-mcp-gateway", Version),
		Validator:             security.NewLaunchValidator(recorder),
		Recorder:              recorder,
		Metrics:               metrics,
		ConnectTimeout:        cfg.ConnectTimeout,
		CallTimeout:           cfg.CallTimeout,
		AllowPrivateEndpoints: cfg.AllowPrivateEndpoints,
	})
	hub.SetOnDetach(func(reason string) {
		if lost := manager.MarkTransportLost(models.TransportLocalProcess, reason); lost > 0 {
			log.Printf("⚠️  [LAUNCHER] %d local servers marked lost: %s", lost, reason)
		}
	})

	catalog := services.NewToolCatalog(manager, cfg.ToolCacheTTL)
	executor := services.NewToolExecutor(manager, recorder, metrics, cfg.MaxParallelTools)

	app := fiber.New(fiber.Config{
		AppName:      "ClaraVerse MCP Gateway",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.CallTimeout + 10*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prom := fiberprometheus.New("mcp_gateway")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: cfg.AllowedOrigins != "*",
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, ToolCalls=%d/min, Launcher=%d/min",
		rateLimitConfig.GlobalAPIMax, rateLimitConfig.ToolCallMax, rateLimitConfig.LauncherMax)
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	scheduler := jobs.NewJobScheduler()
	scheduler.Register("audit_retention", jobs.NewAuditRetentionJob(auditStore, cfg.AuditRetentionDays, 24*time.Hour))

	// Routes
	app.Get("/health", handlers.NewHealthHandler(manager, hub).Handle)

	api := app.Group("/api")
	toolLimiter := middleware.ToolCallRateLimiter(rateLimitConfig)
	api.Use("/mcp/tool-calls", toolLimiter)
	api.Use("/mcp/execute", toolLimiter)
	handlers.NewMCPHandler(manager, catalog, executor).RegisterRoutes(api)
	auditHandler := handlers.NewAuditHandler(auditStore, scheduler)
	api.Get("/mcp/audit", auditHandler.ListEvents)
	api.Get("/mcp/jobs", auditHandler.JobStatus)

	if cfg.LauncherSecret != "" {
		launcherAuth, err := auth.NewLauncherAuth(cfg.LauncherSecret, 0)
		if err != nil {
			log.Fatalf("❌ Invalid launcher secret: %v", err)
		}
		launcherHandler := handlers.NewLauncherWebSocketHandler(hub, launcherAuth)
		app.Get("/mcp/launcher", middleware.LauncherRateLimiter(rateLimitConfig), launcherHandler.Upgrade, websocket.New(launcherHandler.HandleConnection))
		log.Printf("🔌 Launcher endpoint: ws://localhost:%s/mcp/launcher", cfg.Port)
	} else {
		log.Println("⚠️  LAUNCHER_SECRET not set - launcher endpoint disabled, stdio servers unavailable")
	}

	// Servers file bootstrap with hot reload
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.ServersFile != "" {
		sync := services.NewServerSync(manager)
		servers, err := config.LoadServers(cfg.ServersFile)
		if err != nil {
			log.Printf("⚠️  Failed to load servers file: %v", err)
		} else {
			failed := sync.Apply(ctx, servers)
			log.Printf("✅ Bootstrapped %d servers from %s (%d failed)", len(servers)-failed, cfg.ServersFile, failed)
		}

		go func() {
			err := config.WatchServers(ctx, cfg.ServersFile, func(servers []models.ServerConfig) {
				sync.Apply(ctx, servers)
				catalog.Flush()
			})
			if err != nil {
				log.Printf("⚠️  Servers file watcher stopped: %v", err)
			}
		}()

		scheduler.Register("server_retry", jobs.NewServerRetryJob(sync, time.Minute))
	}

	if err := scheduler.Start(); err != nil {
		log.Printf("⚠️  Failed to start job scheduler: %v", err)
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down gateway...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := manager.DisconnectAll(shutdownCtx); err != nil {
			log.Printf("⚠️  Errors while disconnecting servers: %v", err)
		}

		scheduler.Stop()
		hub.Close()

		if redisService != nil {
			if err := redisService.Close(); err != nil {
				log.Printf("⚠️  Error closing Redis: %v", err)
			}
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️  Error shutting down server: %v", err)
		}
	}()

	log.Printf("✅ Gateway ready on port %s", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
