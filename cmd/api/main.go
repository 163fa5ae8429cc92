// Package main is the entry point for the payments API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/huduma-collective/hudumahub/internal/api"
	"github.com/huduma-collective/hudumahub/internal/auth"
	"github.com/huduma-collective/hudumahub/internal/booking"
	"github.com/huduma-collective/hudumahub/internal/config"
	"github.com/huduma-collective/hudumahub/internal/db"
	"github.com/huduma-collective/hudumahub/internal/health"
	"github.com/huduma-collective/hudumahub/internal/idempotency"
	"github.com/huduma-collective/hudumahub/internal/middleware"
	"github.com/huduma-collective/hudumahub/internal/mpesa"
	"github.com/huduma-collective/hudumahub/internal/payment"
	"github.com/huduma-collective/hudumahub/internal/seller"
	"github.com/huduma-collective/hudumahub/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "path to YAML config file (optional)")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("HudumaHub Payments API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	ctx := context.Background()

	// Tracing provider (no-op unless enabled).
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "hudumahub-payments-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Storage. Repositories fall back to in-memory when no database is
	// configured, which keeps local development friction low.
	var (
		paymentRepo payment.Repository
		sellerRepo  seller.Repository
		bookingRepo booking.Repository
		dbChecker   api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer sqlDB.Close()
		paymentRepo = payment.NewPostgresRepository(sqlDB, logger)
		sellerRepo = seller.NewPostgresRepository(sqlDB)
		bookingRepo = booking.NewPostgresRepository(sqlDB)
		dbChecker = health.NewDBChecker(sqlDB)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory repositories")
		paymentRepo = payment.NewInMemoryRepository()
		sellerRepo = seller.NewInMemoryRepository()
		bookingRepo = booking.NewInMemoryRepository()
	}

	// Redis backs the poll rate limiter; the limiter falls back to an
	// in-process store when Redis is not configured.
	var (
		redisClient  *redis.Client
		redisChecker api.HealthChecker
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		redisChecker = health.NewRedisChecker(redisClient)
	}

	// Metrics.
	registry := prometheus.NewRegistry()
	paymentMetrics := payment.NewMetrics()
	if err := paymentMetrics.Register(registry); err != nil {
		logger.Error("failed to register payment metrics", "error", err)
		os.Exit(1)
	}
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	// M-Pesa gateway client. The callback URL must be publicly reachable
	// by Safaricom, so it is built from the configured public base URL.
	gateway := mpesa.NewHTTPClient(mpesa.Config{
		ConsumerKey:    cfg.MpesaConsumerKey,
		ConsumerSecret: cfg.MpesaConsumerSecret,
		Passkey:        cfg.MpesaPasskey,
		Shortcode:      cfg.MpesaShortcode,
		BaseURL:        cfg.MpesaBaseURL,
		CallbackURL:    cfg.MpesaCallbackBaseURL + "/payments/mpesa/callback",
	}, logger)

	// Payment pipeline: initiator, reconciler and completion dispatcher.
	validators := map[payment.Purpose]payment.PurposeValidator{
		payment.PurposePackageUpgrade: seller.NewUpgradeValidator(sellerRepo),
		payment.PurposeServiceBooking: booking.NewValidator(bookingRepo),
	}
	completionHandlers := map[payment.Purpose]payment.CompletionHandler{
		payment.PurposeSellerRegistration: seller.NewRegistrationHandler(sellerRepo, logger),
		payment.PurposePackageUpgrade:     seller.NewUpgradeHandler(sellerRepo, logger),
		payment.PurposeServiceBooking:     booking.NewCompletionHandler(bookingRepo, logger),
	}
	dispatcher, err := payment.NewDispatcher(paymentRepo, completionHandlers, paymentMetrics, logger)
	if err != nil {
		logger.Error("failed to build completion dispatcher", "error", err)
		os.Exit(1)
	}
	initiator := payment.NewInitiator(paymentRepo, gateway, validators, paymentMetrics, logger)
	reconciler := payment.NewReconciler(paymentRepo, gateway, dispatcher, paymentMetrics, logger)

	// Background sweeper reconciles payments whose callbacks never arrived.
	sweeper := payment.NewSweeper(paymentRepo, reconciler, paymentMetrics, logger, payment.SweeperConfig{
		MinAge:    time.Duration(cfg.SweepMinAgeSeconds) * time.Second,
		Interval:  time.Duration(cfg.SweepIntervalSeconds) * time.Second,
		BatchSize: cfg.SweepBatchSize,
	})
	sweeper.Start(ctx)

	// Idempotency keys for the initiate endpoint.
	idempotencyRepo := idempotency.NewInMemoryRepository()
	cleanupStop := make(chan struct{})
	go idempotency.RunPeriodicCleanup(idempotencyRepo, time.Hour, 24*time.Hour, cleanupStop)

	jwtService := auth.NewJWTService(cfg.JWTSecret)

	paymentAPI := api.NewPaymentHandlers(initiator, reconciler, paymentRepo, cfg.StatusQueryEnabled)
	webhookAPI := api.NewWebhookHandlers(reconciler, logger)
	completionAPI := api.NewCompletionHandlers(paymentRepo, reconciler, dispatcher, sellerRepo, bookingRepo, jwtService, cfg.StatusQueryEnabled, logger)
	bookingAPI := api.NewBookingHandlers(bookingRepo, logger)
	healthAPI := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:    dbChecker,
		RedisChecker: redisChecker,
		MpesaChecker: health.NewMpesaChecker(cfg.MpesaBaseURL, cfg.MpesaConsumerKey, cfg.MpesaConsumerSecret),
	})

	// Status polls are rate limited per caller so clients cannot hammer
	// the gateway query API.
	var pollStore middleware.RateLimitStore
	if redisClient != nil {
		pollStore = middleware.NewRedisRateLimitStore(redisClient).WithMetrics(httpMetrics)
	} else {
		pollStore = middleware.NewInMemoryRateLimitStore()
	}
	pollLimit := middleware.DefaultPollLimit()
	if cfg.PollRateLimitPerMinute > 0 {
		pollLimit = middleware.RateLimitConfig{
			RequestsPerWindow: cfg.PollRateLimitPerMinute,
			WindowDuration:    time.Minute,
		}
	}
	rateLimitStatus := middleware.RateLimiter(pollStore, pollLimit, middleware.UserKeyFunc(), httpMetrics)
	requireAuth := middleware.RequireAuth(jwtService)

	mux := http.NewServeMux()
	mux.HandleFunc("/payments/initiate", paymentAPI.InitiatePayment)
	mux.HandleFunc("/payments/mpesa/callback", webhookAPI.HandleMpesaCallback)
	mux.Handle(api.StatusPathPrefix, rateLimitStatus(http.HandlerFunc(paymentAPI.PaymentStatus)))
	mux.HandleFunc("/auth/complete-seller-registration", completionAPI.CompleteSellerRegistration)
	mux.Handle("/auth/complete-seller-upgrade", requireAuth(http.HandlerFunc(completionAPI.CompleteSellerUpgrade)))
	mux.HandleFunc("/appointments", bookingAPI.CreateAppointment)
	mux.HandleFunc(api.AppointmentsPathPrefix, bookingAPI.GetAppointment)
	mux.Handle("/appointments/complete-payment", requireAuth(http.HandlerFunc(completionAPI.CompleteAppointmentPayment)))
	mux.HandleFunc("/health", healthAPI.Health)
	mux.HandleFunc("/ready", healthAPI.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	profilingConfig := middleware.ProfilingConfig{
		Enabled:     cfg.Env == "development",
		Environment: cfg.Env,
	}
	mux.HandleFunc("/debug/profiling-status", middleware.ProfilingStatus(profilingConfig))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"hudumahub-payments-api","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Middleware chain, outermost first:
	// RequestID -> Tracing -> CORS -> Logging -> HTTPMetrics -> Idempotency -> Profiling -> mux
	var handler http.Handler = mux
	handler = middleware.Profiling(profilingConfig)(handler)
	handler = middleware.IdempotencyMiddleware(idempotencyRepo, map[string]bool{
		"/payments/initiate": true,
	})(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	})(handler)
	if cfg.TracingEnabled {
		handler = middleware.Tracing("hudumahub-payments-api")(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	sweeper.Stop()
	close(cleanupStop)

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
