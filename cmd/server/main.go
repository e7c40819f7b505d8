package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/quantpulse/identity-api/internal/config"
	"github.com/quantpulse/identity-api/internal/database"
	"github.com/quantpulse/identity-api/internal/handlers"
	"github.com/quantpulse/identity-api/internal/logger"
	"github.com/quantpulse/identity-api/internal/mailer"
	"github.com/quantpulse/identity-api/internal/middleware"
	"github.com/quantpulse/identity-api/internal/queue"
	"github.com/quantpulse/identity-api/internal/services/auth"
	"github.com/quantpulse/identity-api/internal/services/oauth"
	"github.com/quantpulse/identity-api/internal/telemetry"
	"github.com/quantpulse/identity-api/internal/token"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

func main() {
	// Parse command-line flags
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override debug mode if flag is set
	debugMode := cfg.ServerDebugMode || *debugFlag

	// Initialize logger
	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if syncErr := zapLogger.Sync(); syncErr != nil {
			// Ignore sync errors in production
			_ = syncErr
		}
	}()

	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("frontend_url", cfg.FrontendURL),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	// Initialize OpenTelemetry if enabled
	var tracerProvider interface{ Shutdown(context.Context) error }
	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else {
			tp, err := telemetry.InitTracer(context.Background(), "identity-api", cfg.OTELEndpoint)
			if err != nil {
				zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
			} else {
				tracerProvider = tp
				zapLogger.Info("otel_tracer_initialized",
					zap.String("endpoint", cfg.OTELEndpoint),
				)
				defer func() {
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer shutdownCancel()
					if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
						zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
					}
				}()
			}
		}
	}

	// Connect to database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()

	zapLogger.Info("connected_to_database")

	// Connect to Redis for rate limiting
	redisLimiter, err := middleware.NewRedisRateLimiter(cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_redis", zap.Error(err))
	}
	defer func() {
		if err := redisLimiter.Close(); err != nil {
			zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_redis")

	// Connect to RabbitMQ for email dispatch (required)
	// Retry connection with exponential backoff to handle RabbitMQ startup delays
	jobQueue := connectQueue(cfg.RabbitMQURL, zapLogger)
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
		}
	}()

	// Initialize repositories
	userRepo := database.NewUserRepository(db)
	sessionRepo := database.NewSessionRepository(db)
	magicLinkRepo := database.NewMagicLinkRepository(db)
	mergeRecordRepo := database.NewMergeRecordRepository(db)
	dashboardRepo := database.NewDashboardRepository(db)
	oauthConfigRepo := database.NewOAuthConfigRepository(db)
	corsConfigRepo := database.NewCorsConfigRepository(db)
	ratelimitConfigRepo := database.NewRatelimitConfigRepository(db)

	// Initialize services
	retry := database.DefaultRetryPolicy()
	signer := token.NewSigner(cfg.TokenSecret, cfg.TokenIssuer)
	linkSigner := token.NewLinkSigner(cfg.MagicLinkSecret)
	queueMailer := mailer.NewQueueMailer(jobQueue, zapLogger)
	oauthRegistry := oauth.NewRegistry(oauthConfigRepo)

	anonymousIssuer := auth.NewAnonymousIssuer(userRepo, sessionRepo, signer, retry, zapLogger)
	anonymousIssuer.FingerprintIdempotent = cfg.AnonFingerprintIdem
	merger := auth.NewMergeCoordinator(mergeRecordRepo, dashboardRepo, retry, zapLogger)
	magicLinkService := auth.NewMagicLinkService(
		magicLinkRepo, userRepo, sessionRepo, merger,
		signer, linkSigner, queueMailer, retry, zapLogger, cfg.BaseURL,
	)
	oauthService := auth.NewOAuthCallbackService(
		oauthRegistry, userRepo, sessionRepo, merger, signer, retry, zapLogger,
	)
	sessionManager := auth.NewSessionLifecycleManager(userRepo, sessionRepo, signer, retry, zapLogger)

	// Per-email limiter for magic-link requests
	emailLimiter, err := middleware.NewLimiterFromDB(
		redisLimiter.Client(), ratelimitConfigRepo,
		database.RatelimitKeyMagicLink, cfg.MagicLinkRequestRate,
	)
	if err != nil {
		zapLogger.Fatal("failed_to_create_magic_link_rate_limiter", zap.Error(err))
	}

	// Per-IP limiter for OAuth callbacks
	oauthRateLimitMW, err := middleware.RateLimitFromDB(
		redisLimiter.Client(), ratelimitConfigRepo,
		database.RatelimitKeyOAuthCallback, cfg.OAuthCallbackRate,
	)
	if err != nil {
		zapLogger.Fatal("failed_to_create_oauth_rate_limiter", zap.Error(err))
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(
		anonymousIssuer, magicLinkService, oauthService, oauthRegistry,
		merger, sessionManager, emailLimiter, zapLogger,
	)
	adminHandler := handlers.NewAdminHandler(sessionManager, cfg.AdminAPIKey, zapLogger)
	healthChecker := handlers.NewHealthChecker(db, redisLimiter, handlers.PingerFunc(jobQueue.HealthCheck))

	// Setup router
	r := mux.NewRouter()

	// Apply middleware (order matters - executed in registration order,
	// so middleware registered FIRST is outermost)
	zapLogger.Info("setting_up_middleware")

	// 0. OpenTelemetry tracing (if enabled)
	if cfg.OTELEnabled && tracerProvider != nil {
		r.Use(otelmux.Middleware("identity-api"))
		zapLogger.Info("otel_middleware_enabled")
	}
	// 1. Request correlation id (echoed on every response)
	r.Use(middleware.RequestID())
	// 2. Security headers (set on all responses)
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	// 3. CORS (load from DB, hot-reload; fallback to FRONTEND_URL)
	corsReloader := middleware.NewCORSReloader(corsConfigRepo, cfg.FrontendURL, zapLogger, 1*time.Minute)
	r.Use(corsReloader.Middleware())
	// Rate limit middleware (applied selectively to specific routes, not globally)
	rateLimitReloader := middleware.NewRateLimitReloader(
		redisLimiter.Client(), ratelimitConfigRepo,
		database.RatelimitKeyDefault, "5-S", zapLogger, 1*time.Minute,
	)
	if rateLimitReloader == nil {
		zapLogger.Fatal("failed_to_create_rate_limit_reloader")
	}
	rateLimitMW := rateLimitReloader.Middleware()
	// 4. Request size limits (protects against DoS)
	r.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	// 5. Content-Type validation for POST/PATCH/PUT requests
	r.Use(middleware.ContentType)
	// 6. Request timeout (30 seconds default)
	r.Use(middleware.Timeout(30 * time.Second))
	// 7. Error handler (catches panics)
	r.Use(middleware.ErrorHandler(zapLogger))
	// 8. Audit logging (for security events)
	r.Use(middleware.Audit(zapLogger))
	// 9. Logging (innermost, executes last before handler)
	r.Use(middleware.Logging(zapLogger))

	// Public routes (no rate limiting for health checks)
	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")
	r.HandleFunc("/version", versionInfo).Methods("GET")

	// OpenAPI spec (public)
	openAPIPath := filepath.Join("api", "openapi", "openapi.yaml")
	openAPIHandler := handlers.NewOpenAPIHandler(openAPIPath)
	openAPIHandler.RegisterRoutes(r)

	// Auth routes
	authRouter := r.PathPrefix("/auth").Subrouter()

	// Public auth routes with rate limiting
	publicAuthRouter := authRouter.PathPrefix("").Subrouter()
	publicAuthRouter.Use(rateLimitMW)
	authHandler.RegisterPublicRoutes(publicAuthRouter)

	// OAuth callback gets its own, stricter per-IP limit
	callbackRouter := authRouter.PathPrefix("/oauth/callback").Subrouter()
	callbackRouter.Use(rateLimitMW)
	callbackRouter.Use(oauthRateLimitMW)
	authHandler.RegisterCallbackRoute(callbackRouter)

	// Protected auth routes
	protectedAuthRouter := authRouter.PathPrefix("").Subrouter()
	protectedAuthRouter.Use(middleware.Auth(sessionManager))
	protectedAuthRouter.Use(rateLimitMW)
	authHandler.RegisterProtectedRoutes(protectedAuthRouter)

	// Admin routes (API-key gated, not bearer-token gated)
	adminRouter := r.PathPrefix("/admin").Subrouter()
	adminRouter.Use(rateLimitMW)
	adminHandler.RegisterRoutes(adminRouter)

	// Catch-all OPTIONS handler for preflight requests
	// The CORS middleware will handle setting headers before this is called
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Setup server
	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB max header size
	}

	// CORS and rate limit hot-reload loops
	reloadCtx, reloadCancel := context.WithCancel(context.Background())
	defer reloadCancel()
	go corsReloader.Start(reloadCtx)
	go rateLimitReloader.Start(reloadCtx)

	// Start DLQ garbage collector if the queue implementation supports it
	// Run every hour, retain messages for 24 hours
	if dlqPurger, ok := jobQueue.(queue.DLQPurger); ok {
		dlqGC := queue.NewGarbageCollector(dlqPurger, 1*time.Hour, 24*time.Hour)
		go func() {
			if err := dlqGC.Start(reloadCtx); err != nil && err != context.Canceled {
				zapLogger.Error("dlq_garbage_collector_stopped_with_error", zap.Error(err))
			}
		}()
		zapLogger.Info("started_dlq_garbage_collector",
			zap.Duration("interval", 1*time.Hour),
			zap.Duration("retention", 24*time.Hour),
		)
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("server_starting",
			zap.String("port", cfg.ServerPort),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("server_shutting_down")
	reloadCancel()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Fatal("server_forced_to_shutdown", zap.Error(err))
	}

	zapLogger.Info("server_exited")
}

// connectQueue dials RabbitMQ with exponential backoff
func connectQueue(amqpURL string, zapLogger *zap.Logger) queue.JobQueue {
	const maxRetries = 10
	const initialDelay = 2 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		jobQueue, err := queue.NewRabbitMQQueue(amqpURL)
		if err == nil {
			zapLogger.Info("connected_to_rabbitmq")
			return jobQueue
		}

		lastErr = err
		delay := initialDelay * time.Duration(1<<uint(attempt)) // Exponential backoff
		if delay > 30*time.Second {
			delay = 30 * time.Second // Cap at 30 seconds
		}
		zapLogger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
			zap.Duration("retry_delay", delay),
		)
		time.Sleep(delay)
	}

	zapLogger.Fatal("failed_to_connect_to_rabbitmq_after_retries",
		zap.Int("max_retries", maxRetries),
		zap.Error(lastErr),
	)
	return nil
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	// Only expose minimal version info (sanitized for security)
	if _, err := fmt.Fprintf(w, `{"version":"1.0.0","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339)); err != nil {
		// Fallback endpoint; nothing useful to do with a write error
		_ = err
	}
}
