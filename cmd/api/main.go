package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quickauth/server/internal/auth"
	"github.com/quickauth/server/internal/config"
	"github.com/quickauth/server/internal/db"
	httphandler "github.com/quickauth/server/internal/http"
	"github.com/quickauth/server/internal/http/handlers"
	"github.com/quickauth/server/internal/logger"
	"github.com/quickauth/server/internal/notify"
	"github.com/quickauth/server/internal/repo"
	"github.com/quickauth/server/internal/session"
	"github.com/quickauth/server/internal/verification"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog := logger.New(cfg.LogLevel, cfg.Environment)
	defer func() { _ = zlog.Sync() }()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Open database connection
	database, err := db.Open(ctx, cfg.DatabaseURL, zlog)
	if err != nil {
		zlog.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		zlog.Fatal("failed to run migrations", zap.Error(err))
	}

	// Initialize repositories
	identities := repo.NewIdentityRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	profiles := repo.NewProfileRepo(database)

	// Per-device stores live in Redis when configured, otherwise in process
	var (
		revocations auth.RevocationList
		sessions    session.Factory
		sink        notify.Sink = notify.NewLogSink(zlog)
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			zlog.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			zlog.Fatal("failed to reach redis", zap.Error(err))
		}
		revocations = auth.NewRedisRevocations(rdb, "")
		sessions = session.NewRedisFactory(rdb, "")
		sink = notify.Multi{sink, notify.NewRedisSink(rdb, notify.DefaultChannel, zlog)}
		zlog.Info("using redis for sessions and revocations")
	} else {
		revocations = auth.NewMemoryRevocations()
		sessions = session.NewMemoryFactory().Store
		zlog.Warn("REDIS_URL not set; sessions and revocations are kept in memory")
	}

	// Initialize auth services
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.CredentialTTL)
	provider := auth.NewPhoneProvider(otpRepo, identities, jwtService, revocations, auth.ProviderConfig{
		Salt:              cfg.OTPSalt,
		DevMode:           cfg.OTPDevMode,
		AutoVerifyNumbers: cfg.AutoVerifyNumbers,
		CountryPrefix:     cfg.DefaultCountryPrefix,
	}, zlog)
	if cfg.OTPDevMode {
		zlog.Warn("OTP dev mode enabled; every code is 123456")
	}

	flows := handlers.NewFlowRegistry(cfg.FlowTTL, func() *verification.Controller {
		return verification.NewController(provider,
			verification.WithCountryPrefix(cfg.DefaultCountryPrefix),
			verification.WithResendTimer(verification.NewResendTimer(cfg.ResendCooldown)),
			verification.WithLogger(zlog),
		)
	}, zlog)
	go flows.Run(ctx)

	orchestrators := func(deviceID string) *auth.Orchestrator {
		return auth.NewOrchestrator(profiles, sessions(deviceID), sink, provider, zlog.With(zap.String("device_id", deviceID)))
	}

	// Initialize handlers
	flowHandler := handlers.NewFlowHandler(flows, orchestrators, zlog)
	sessionHandler := handlers.NewSessionHandler(sessions, orchestrators, flows, jwtService, revocations, profiles, zlog)

	// Create router
	router := httphandler.NewRouter(flowHandler, sessionHandler, jwtService, revocations, zlog)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Provider calls block the request until they answer.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		zlog.Info("server starting", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down server")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
		return
	}

	zlog.Info("server exited")
}
