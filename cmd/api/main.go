package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/veltix/auth-api/internal/auth"
	"github.com/veltix/auth-api/internal/config"
	"github.com/veltix/auth-api/internal/database"
	"github.com/veltix/auth-api/internal/email"
	httpServer "github.com/veltix/auth-api/internal/http"
	"github.com/veltix/auth-api/internal/logging"
	"github.com/veltix/auth-api/internal/ratelimit"
	"github.com/veltix/auth-api/internal/session"
	"github.com/veltix/auth-api/internal/user"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"token_codec", cfg.Auth.TokenCodec,
	)

	// Initialize database connection
	db, err := initDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Initialize Redis connection
	redisClient, err := initRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	// Initialize repositories
	userRepo := user.NewRepository(db)
	tokenRepo := auth.NewTokenRepository(db)
	oauthRepo := auth.NewOAuthRepository(db)
	passwordResetRepo := auth.NewPasswordResetRepository(db)

	// Initialize rate limiter
	rateLimiter := ratelimit.NewLimiter(redisClient)

	// Initialize the access token codec
	codec, err := initCodec(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}

	// Initialize the two factor engine
	twoFactor := auth.NewTwoFactorEngine(cfg.Auth.TwoFactorIssuer)

	// Initialize session store
	sessions := session.NewStore(
		redisClient,
		logger,
		cfg.Auth.SessionCookieName,
		cfg.Auth.SessionDuration,
		cfg.Auth.SecureCookies,
	)

	// Initialize refresh token rotation
	rotation := auth.NewRotationManager(
		tokenRepo,
		logger,
		cfg.Auth.RefreshTokenDuration,
		cfg.Auth.RolesAndPermissions,
	)

	// Initialize email service
	emailService := email.NewService(cfg.Email, logger)

	// Initialize auth service
	authService := auth.NewService(
		userRepo,
		rotation,
		oauthRepo,
		passwordResetRepo,
		codec,
		twoFactor,
		emailService,
		logger,
		cfg.Auth,
	)

	// Initialize HTTP handlers and the authorization pipeline
	authHandler := auth.NewHandler(authService, rateLimiter, sessions, logger, cfg.Auth)
	resolver := auth.NewResolver(userRepo, codec, sessions, logger, cfg.Auth.RolesAndPermissions)
	pipeline := auth.NewPipeline(resolver, logger, cfg.Auth.RolesAndPermissions)

	// Initialize router
	router := httpServer.NewRouter(cfg, authHandler, pipeline, logger)

	// Initialize HTTP server
	serverAddr := ":" + cfg.Server.Port
	server := httpServer.NewServer(
		serverAddr,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Printf("Received signal: %v", sig)

		// Graceful shutdown with timeout
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// initDB initializes the database connection and returns a Bun DB instance
func initDB(cfg config.DatabaseConfig) (*bun.DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	return database.NewBunDB(sqlDB), nil
}

// initRedis initializes the Redis connection and returns a Redis client
func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}

// initCodec builds the configured access token codec.
func initCodec(cfg config.AuthConfig) (auth.TokenService, error) {
	switch cfg.TokenCodec {
	case "jwt":
		return auth.NewJWTService(cfg.SecretKey)
	default:
		return auth.NewPasetoService(cfg.SecretKey)
	}
}
