package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/background"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/handlers"
	middlewareCustom "github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/services"
	"github.com/BradenHooton/warden/migrations"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("denylist", cfg.Denylist.Backend),
		slog.String("email_provider", cfg.Email.Provider),
	)

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := db.Migrate(ctx, migrations.FS)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	healthChecks := map[string]handlers.HealthChecker{"database": db}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	var denylist interface {
		services.TokenRevocationRepository
		background.ExpiredTokenPurger
	}
	switch cfg.Denylist.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Denylist.RedisAddr,
			Password: cfg.Denylist.RedisPassword,
			DB:       cfg.Denylist.RedisDB,
		})
		defer client.Close()

		redisDenylist := repositories.NewRedisTokenRevocationRepository(client)
		healthChecks["redis"] = redisDenylist
		denylist = redisDenylist
	default:
		denylist = repositories.NewTokenRevocationRepository(db)
	}

	// Mail dispatcher
	var mailer services.Mailer
	switch cfg.Email.Provider {
	case "ses":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ses, err := services.NewAWSSESEmailService(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		mailer = ses
	default:
		mailer = services.NewLogEmailService(logger)
	}

	// Token and MFA primitives
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		cfg.Auth.MFATokenExpiry,
	)
	totpManager, err := auth.NewTOTPManager(cfg.MFA.EncryptionKey, cfg.MFA.Issuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}
	hasher := pkgauth.NewHasher(cfg.Auth.BcryptCost)

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandMs,
	})

	// Initialize services
	auditService := services.NewAuditService(auditRepo, pkglogger.NewAuditLogger(logger), logger)
	statusService := services.NewAccountStatusService(userRepo, auditService, logger)
	lockoutService := services.NewLockoutService(userRepo, statusService, mailer, auditService, services.LockoutPolicy{
		MaxAttempts: cfg.Lockout.MaxAttempts,
		Window:      cfg.Lockout.Window,
		Duration:    cfg.Lockout.Duration,
	}, logger)
	tokenService := services.NewTokenService(tokenManager, denylist, logger)
	otpService := services.NewOTPService(userRepo, mailer, auditService, services.OTPPolicy{
		TTL:            cfg.OTP.TTL,
		ResendCooldown: cfg.OTP.ResendCooldown,
		Length:         cfg.OTP.Length,
		MaxAttempts:    cfg.OTP.MaxAttempts,
	}, logger)
	mfaService := services.NewMFAService(userRepo, totpManager, auditService, services.MFAPolicy{
		BackupCodeCount: cfg.MFA.BackupCodeCount,
		MaxAttempts:     cfg.MFA.MaxAttempts,
		AttemptWindow:   cfg.MFA.AttemptWindow,
	}, logger)

	authService := services.NewAuthService(services.AuthServiceDeps{
		Users:        userRepo,
		Status:       statusService,
		Lockout:      lockoutService,
		Tokens:       tokenService,
		OTP:          otpService,
		MFA:          mfaService,
		Hasher:       hasher,
		Audit:        auditService,
		Timing:       timingDelay,
		StoreTimeout: cfg.Server.StoreTimeout,
		Logger:       logger,
	})
	adminService := services.NewAdminService(userRepo, statusService, mailer, auditService, cfg.Server.StoreTimeout, logger)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, hasher, cfg.Bootstrap, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Initialize handlers
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	h := routes.Handlers{
		Auth:   handlers.NewAuthHandler(authService, ipConfig, logger),
		MFA:    handlers.NewMFAHandler(authService, ipConfig, logger),
		Admin:  handlers.NewAdminHandler(adminService, logger),
		Health: handlers.NewHealthHandler(healthChecks, logger),
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, h, authService, middlewareCustom.RateLimitConfig{
		CredentialPerMinute:    cfg.RateLimit.CredentialPerMinute,
		CodePerMinute:          cfg.RateLimit.CodePerMinute,
		AuthenticatedPerMinute: cfg.RateLimit.AuthenticatedPerMinute,
	}, ipConfig)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(denylist, userRepo, auditRepo, background.CleanupConfig{
		Interval:       cfg.Auth.CleanupInterval,
		LockoutWindow:  cfg.Lockout.Window,
		AuditRetention: cfg.Auth.AuditRetention,
	}, logger)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
