package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go/v7"

	"ticket-admission/config"
	"ticket-admission/internal/handlers"
	"ticket-admission/internal/services"
	"ticket-admission/internal/store"
	"ticket-admission/monitoring"
	"ticket-admission/security"
	"ticket-admission/utils"

	_ "ticket-admission/migrations"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId("ticket-admission-server"))
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var monitor *monitoring.Monitor
	if cfg.EnableMetrics {
		monitor = monitoring.NewMonitor(ctx, redisClient)
	}

	// Initialize services
	tierStore := store.New(app, cfg)
	notifier := services.NewNotifierService(pn)
	gateService := services.NewGateService(redisClient, tierStore, notifier, monitor, cfg)
	ledgerService := services.NewLedgerService(tierStore, monitor, cfg)
	sessionService := services.NewSessionService(redisClient, gateService, ledgerService, cfg)

	// Initialize handlers
	gateHandler := handlers.NewGateHandler(app, gateService)
	sessionHandler := handlers.NewSessionHandler(app, sessionService)
	ledgerHandler := handlers.NewLedgerHandler(app, ledgerService)
	adminHandler := handlers.NewAdminHandler(app, gateService, sessionService, redisClient)
	rateLimiter := security.NewRateLimiter(redisClient)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Start background tasks
	go gateService.UpdateQueuePositions(ctx)
	go gateService.CleanupAbandoned(ctx)
	go sessionService.SweepLoop(ctx)
	go ledgerService.SweepLoop(ctx)

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		go gateService.RestoreGateState(ctx)

		// Gate endpoints
		e.Router.POST("/api/v1/gate/enter", gateHandler.Enter).
			Bind(rateLimiter.AntiBot(), rateLimiter.GateRateLimit(30))
		e.Router.POST("/api/v1/gate/exit", gateHandler.Exit)
		e.Router.GET("/api/v1/gate/status", gateHandler.Status).
			Bind(rateLimiter.GateRateLimit(60))

		// Session endpoints
		e.Router.POST("/api/v1/sessions/renew", sessionHandler.Renew)
		e.Router.POST("/api/v1/sessions/release", sessionHandler.Release)

		// Tier and reservation endpoints
		e.Router.GET("/api/v1/events/{eventId}/tiers", ledgerHandler.Tiers)
		e.Router.PUT("/api/v1/events/{eventId}/tiers", ledgerHandler.SaveTiers).
			Bind(apis.RequireSuperuserAuth())
		e.Router.POST("/api/v1/reservations", ledgerHandler.Reserve)
		e.Router.POST("/api/v1/reservations/{reservationId}/commit", ledgerHandler.Commit)
		e.Router.POST("/api/v1/reservations/{reservationId}/release", ledgerHandler.Release)

		// Admin endpoints
		e.Router.GET("/api/v1/admin/gate-dashboard", adminHandler.GateDashboard).
			Bind(apis.RequireSuperuserAuth())
		e.Router.POST("/api/v1/admin/force-expire", adminHandler.ForceExpire).
			Bind(apis.RequireSuperuserAuth())
		e.Router.GET("/api/v1/admin/events/{eventId}/availability", ledgerHandler.Availability).
			Bind(apis.RequireSuperuserAuth())

		// Metrics
		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// handleShutdown stops the background loops on SIGINT/SIGTERM.
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
