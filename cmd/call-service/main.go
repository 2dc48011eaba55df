package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	intDatabase "peercall-backend/internal/database"
	callHandler "peercall-backend/internal/handler/http/call"
	wsHandler "peercall-backend/internal/handler/ws"
	"peercall-backend/internal/events"
	"peercall-backend/internal/middleware"
	"peercall-backend/internal/notifier"
	"peercall-backend/internal/repository/cassandra"
	"peercall-backend/internal/repository/cockroach"
	redisRepo "peercall-backend/internal/repository/redis"
	callService "peercall-backend/internal/service/call"
	"peercall-backend/pkg/constants"
	pkgDatabase "peercall-backend/pkg/database"
	"peercall-backend/pkg/env"
	"peercall-backend/pkg/jwt"
	"peercall-backend/pkg/logger"
	"peercall-backend/pkg/metrics"
)

func main() {
	// Create context for startup operations
	ctx := context.Background()

	// 1. Initialize structured logging
	if err := logger.Init(&logger.Config{
		Level:  env.GetString("LOG_LEVEL", "info"),
		Format: env.GetString("LOG_FORMAT", "json"),
		Output: env.GetString("LOG_OUTPUT", "stdout"),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 2. Setup JWT Manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}

	jwtManager := jwt.NewJWTManager(jwtSecret, constants.AccessTokenExpiry, constants.RefreshTokenExpiry)

	// 3. Connect to CockroachDB with exponential backoff retry
	var db *pkgDatabase.CockroachDB
	var err error

	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err = pkgDatabase.NewCockroachDBFromEnv(ctx)
	if err != nil {
		for attempt := 2; attempt <= maxRetries; attempt++ {
			delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > maxDelay {
				delay = maxDelay
			}
			log.Printf("⚠️  CockroachDB connection attempt %d failed: %v. Retrying in %v...", attempt-1, err, delay)
			time.Sleep(delay)

			db, err = pkgDatabase.NewCockroachDBFromEnv(ctx)
			if err == nil {
				break
			}
		}
	}
	if err != nil {
		log.Fatalf("Failed to connect to CockroachDB after %d attempts: %v", maxRetries, err)
	}
	defer db.Close()
	log.Println("✅ Connected to CockroachDB")

	// 4. Connect to Cassandra (ICE candidate log) with retry
	var cassandraDB *pkgDatabase.CassandraDB
	cassandraDB, err = pkgDatabase.NewCassandraDBFromEnv()
	if err != nil {
		for attempt := 2; attempt <= maxRetries; attempt++ {
			delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > maxDelay {
				delay = maxDelay
			}
			log.Printf("⚠️  Cassandra connection attempt %d failed: %v. Retrying in %v...", attempt-1, err, delay)
			time.Sleep(delay)

			cassandraDB, err = pkgDatabase.NewCassandraDBFromEnv()
			if err == nil {
				break
			}
		}
	}
	if err != nil {
		log.Fatalf("Failed to connect to Cassandra after %d attempts: %v", maxRetries, err)
	}
	defer cassandraDB.Close()
	log.Println("✅ Connected to Cassandra")

	// 5. Initialize Redis with degraded mode support
	intDatabase.InitRedisMetrics()

	redisConfig := &intDatabase.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	}

	redisDB, err := intDatabase.NewRedisDB(redisConfig)
	if err != nil {
		log.Fatalf("Failed to create Redis client: %v", err)
	}
	defer redisDB.Close()

	if err := redisDB.HealthCheck(ctx); err != nil {
		log.Printf("Warning: Redis unavailable at startup, running degraded: %v", err)
	} else {
		log.Println("✅ Connected to Redis")
	}

	redisDB.StartHealthCheck(ctx, 10*time.Second)
	log.Println("✅ Redis health check started (10s interval)")

	// 6. Repositories
	callRepo := cockroach.NewCallRepository(db.Pool)
	claimRepo := cockroach.NewClaimRepository(db.Pool)
	historyRepo := cockroach.NewHistoryRepository(db.Pool)
	candidateRepo := cassandra.NewCandidateRepository(cassandraDB.Session)
	directoryRepo := redisRepo.NewDirectoryRepository(redisDB)

	// 7. Event bus and push notifier
	bus := events.NewBus(redisDB)
	pushNotifier := notifier.NewPushNotifier(redisDB)

	// 8. Metrics
	metrics.InitTimeoutMetrics()
	appMetrics := metrics.NewMetrics("call-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 9. Call service
	ringTimeout := env.GetDuration("RING_TIMEOUT", constants.DefaultRingTimeout)
	callSvc := callService.NewService(
		callRepo,
		claimRepo,
		historyRepo,
		candidateRepo,
		bus,
		directoryRepo,
		pushNotifier,
		appMetrics,
		ringTimeout,
	)
	defer callSvc.Shutdown()

	// 10. Handlers
	callHdlr := callHandler.NewHandler(callSvc)
	signalingHub := wsHandler.NewSignalingHub(callSvc)
	incomingHdlr := wsHandler.NewIncomingHandler(callSvc)

	// 11. Setup Gin Router
	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New() // Don't use Default() to have full control

	trustedProxies := []string{}
	if os.Getenv("ENV") != "production" {
		trustedProxies = []string{"127.0.0.1"}
	}
	router.SetTrustedProxies(trustedProxies)

	// Apply global middleware
	timeoutMiddleware := middleware.NewTimeoutMiddleware(&middleware.TimeoutConfig{
		DefaultTimeout: constants.DefaultTimeout,
	})

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(prometheusMiddleware.Handler())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":         "healthy",
			"service":        "call-service",
			"redis_degraded": redisDB.IsDegraded(),
			"time":           time.Now().UTC(),
		})
	})

	// Metrics endpoint (for Prometheus scraping)
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	// Revocation checker and per-endpoint rate limiting
	revocationChecker := middleware.NewRedisRevocationChecker(redisDB.Client)
	rateLimiter := middleware.NewAdvancedRateLimiter(redisDB.Client)

	// Call routes (all require authentication)
	v1 := router.Group("/v1/calls")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	v1.Use(rateLimiter.Middleware())
	v1.Use(timeoutMiddleware.Middleware())
	{
		v1.POST("", callHdlr.CreateCall)
		v1.GET("/incoming", callHdlr.GetIncomingCall)
		v1.GET("/active", callHdlr.GetActiveCall)
		v1.GET("/history", callHdlr.GetHistory)
		v1.GET("/:id", callHdlr.GetCall)
		v1.POST("/:id/accept", callHdlr.AcceptCall)
		v1.POST("/:id/decline", callHdlr.DeclineCall)
		v1.POST("/:id/cancel", callHdlr.CancelCall)
		v1.POST("/:id/end", callHdlr.EndCall)

		// WebSocket endpoints for WebRTC signaling and the incoming-call stream
		v1.GET("/ws/signaling", signalingHub.ServeWS)
		v1.GET("/ws/incoming", incomingHdlr.ServeWS)
	}

	// 12. Start server with graceful shutdown
	port := env.GetString("PORT", "8084")
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Call Service starting on port %s\n", port)
		log.Println("📡 WebRTC Signaling: /v1/calls/ws/signaling")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down call service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}

	log.Println("Call service stopped")
}
