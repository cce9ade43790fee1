// Penpal - writing practice server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/penpal/internal/api"
	"github.com/ashureev/penpal/internal/auth"
	"github.com/ashureev/penpal/internal/config"
	"github.com/ashureev/penpal/internal/convlog"
	"github.com/ashureev/penpal/internal/goals"
	"github.com/ashureev/penpal/internal/identity"
	"github.com/ashureev/penpal/internal/metrics"
	"github.com/ashureev/penpal/internal/middleware"
	"github.com/ashureev/penpal/internal/oracle"
	"github.com/ashureev/penpal/internal/ratelimit"
	"github.com/ashureev/penpal/internal/scheduler"
	"github.com/ashureev/penpal/internal/store"
	"github.com/ashureev/penpal/internal/telemetry"
	"github.com/ashureev/penpal/internal/vocab"
	"github.com/ashureev/penpal/internal/writing"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "db_driver", cfg.DB.Driver)

	shutdownTracing, err := telemetry.Init(telemetry.Config{
		ServiceName: "penpal",
		Environment: cfg.AppEnv,
		Stdout:      cfg.TracingStdout,
	})
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Error("Failed to flush traces", "error", err)
		}
	}()

	// Initialize dependencies.
	dsn := cfg.DB.Path
	if cfg.DB.Driver == "postgres" {
		dsn = cfg.DB.DatabaseURL
	}
	repo, err := store.Open(cfg.DB.Driver, dsn)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	m := metrics.NewMetrics()

	oracleClient := oracle.New(oracle.Config{
		BaseURL:          cfg.Oracle.BaseURL,
		APIKey:           cfg.Oracle.APIKey,
		Model:            cfg.Oracle.Model,
		Timeout:          cfg.Oracle.Timeout,
		RetryBudget:      cfg.Oracle.RetryBudget,
		FeedbackLanguage: cfg.Oracle.FeedbackLanguage,
	}, m)
	if !oracleClient.Configured() {
		slog.Warn("ORACLE_API_KEY not set, grammar checks fall back to accepting every sentence")
	}

	conversationLogger, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
		OnDrop:        m.ConvLogDrops.Inc,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := conversationLogger.Close(); err != nil {
			slog.Error("Failed to close conversation logger", "error", err)
		}
	}()

	// Initialize services.
	writingCfg := writing.Config{
		MaxMessages:        cfg.Writing.MaxMessages,
		ConflictRetries:    cfg.Writing.ConflictRetries,
		MaxSubmissionChars: cfg.Writing.MaxSubmissionChars,
		HistoryPageSize:    cfg.Writing.HistoryPageSize,
		ImprovementEnabled: cfg.Writing.ImprovementEnabled,
	}
	writingOpts := []writing.Option{
		writing.WithMetrics(m),
		writing.WithConversationLog(conversationLogger),
	}
	engine := writing.NewEngine(repo, oracleClient, writingCfg, writingOpts...)
	lifecycle := writing.NewLifecycle(repo, oracleClient, writingCfg, writingOpts...)

	authManager := auth.NewManager(repo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	goalService := goals.NewService(repo)
	vocabService := vocab.NewService(repo)

	rdb := newRedisClient(cfg)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	checkLimiter, stopCheckLimiter := newLimiter(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer stopCheckLimiter()
	checkLimit := ratelimit.Middleware(checkLimiter, cfg.RateLimit.Window,
		func(r *http.Request) string { return identity.UserIDFromContext(r.Context()) },
		func(*http.Request) { m.RateLimited.WithLabelValues("check").Inc() },
	)
	signInLimiter, stopSignInLimiter := newLimiter(rdb, cfg.RateLimit.SignInRequests, cfg.RateLimit.Window)
	defer stopSignInLimiter()
	signInLimit := ratelimit.Middleware(signInLimiter, cfg.RateLimit.Window,
		func(r *http.Request) string { return "signin:" + identity.IPFromRequest(r) },
		func(*http.Request) { m.RateLimited.WithLabelValues("signin").Inc() },
	)

	// Initialize handlers.
	baseHandler := api.NewHandler(cfg.IsDevelopment(), cfg.DebugErrors)
	healthHandler := api.NewHealthHandler(baseHandler, repo, oracleClient.Configured())
	authHandler := api.NewAuthHandler(baseHandler, authManager, repo, signInLimit)
	writingHandler := api.NewWritingHandler(baseHandler, engine, lifecycle, checkLimit)
	flashcardHandler := api.NewFlashcardHandler(baseHandler, vocabService)
	goalHandler := api.NewGoalHandler(baseHandler, goalService)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(corsOrigins(cfg)))
	r.Use(identity.Middleware(authManager))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		healthHandler.RegisterRoutes(r)
		authHandler.RegisterRoutes(r)
		writingHandler.RegisterRoutes(r)
		flashcardHandler.RegisterRoutes(r)
		goalHandler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: otelhttp.NewHandler(r, "penpal.http"),
		// Step waits on several oracle calls.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Oracle.Timeout*4 + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start reminder worker.
	if cfg.Reminders.Enabled {
		reminders := scheduler.New(goalService, scheduler.LogNotifier{Logger: logger}, cfg.Reminders.Interval, m)
		if err := reminders.Start(); err != nil {
			slog.Error("Failed to start reminder scheduler", "error", err)
			os.Exit(1)
		}
		defer reminders.Stop()
		slog.Info("Reminder scheduler started", "interval", cfg.Reminders.Interval)
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// newRedisClient connects to REDIS_ADDR. It returns nil when Redis is not
// configured or not reachable at startup.
func newRedisClient(cfg *config.Config) *goredis.Client {
	if cfg.RateLimit.RedisAddr == "" {
		return nil
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RateLimit.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis unreachable, using in-memory rate limiters", "addr", cfg.RateLimit.RedisAddr, "error", err)
		_ = rdb.Close()
		return nil
	}
	slog.Info("Rate limiters using Redis", "addr", cfg.RateLimit.RedisAddr)
	return rdb
}

// newLimiter shares limits through Redis when rdb is set and keeps them in
// process otherwise.
func newLimiter(rdb *goredis.Client, limit int, window time.Duration) (ratelimit.Limiter, func()) {
	if rdb != nil {
		return ratelimit.NewRedisLimiter(rdb, limit, window), func() {}
	}
	l := ratelimit.NewMemoryLimiter(limit, window)
	return l, l.Stop
}

func corsOrigins(cfg *config.Config) []string {
	if len(cfg.CORSOrigins) > 0 {
		return cfg.CORSOrigins
	}
	if cfg.FrontendURL != "" {
		return []string{cfg.FrontendURL}
	}
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return nil
}
