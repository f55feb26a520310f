package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is loaded once at startup and never mutated afterwards. Every
// component receives it (or the slice of it that it needs) by reference.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Email    EmailConfig
}

type ServerConfig struct {
	Port            string
	Env             string // dev or prod
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TrustedOrigins  []string // CORS allowed origins for cookie auth
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// AuthConfig carries the token secrets, TTLs and the feature flags that shape
// the auth surface. Flags gate behavior, never schema: optional columns are
// always present and nullable.
type AuthConfig struct {
	// TokenCodec selects the access token implementation: "paseto" (v4.local)
	// or "jwt" (HS256).
	TokenCodec string
	// Secret key. Must be exactly 32 bytes for the PASETO codec.
	SecretKey            []byte
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration

	APIPath string

	// DisableCookies switches the transport from session + http-only refresh
	// cookie to tokens in the response body.
	DisableCookies      bool
	RolesAndPermissions bool
	TwoFactorAuth       bool
	TwoFactorIssuer     string
	VerifyEmails        bool
	SkipWelcomeEmail    bool

	SessionCookieName      string
	RefreshTokenCookieName string
	SessionDuration        time.Duration
	// SecureCookies marks auth cookies Secure. Enable behind TLS.
	SecureCookies bool
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	FrontendURL  string // Frontend URL for verification and reset links
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Env:             getEnv("APP_ENV", "dev"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			TrustedOrigins:  getSliceEnv("TRUSTED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "authapi"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			TokenCodec:             getEnv("TOKEN_CODEC", "paseto"),
			SecretKey:              []byte(getEnv("AUTH_SECRET_KEY", "")),
			AccessTokenDuration:    getDurationEnv("ACCESS_TOKEN_DURATION", time.Hour),
			RefreshTokenDuration:   getDurationEnv("REFRESH_TOKEN_DURATION", 7*24*time.Hour),
			APIPath:                getEnv("AUTH_API_PATH", "auth"),
			DisableCookies:         getBoolEnv("AUTH_DISABLE_COOKIES", false),
			RolesAndPermissions:    getBoolEnv("AUTH_ROLES_AND_PERMISSIONS", false),
			TwoFactorAuth:          getBoolEnv("AUTH_TWO_FACTOR", false),
			TwoFactorIssuer:        getEnv("AUTH_TWO_FACTOR_ISSUER", "auth-api"),
			VerifyEmails:           getBoolEnv("AUTH_VERIFY_EMAILS", false),
			SkipWelcomeEmail:       getBoolEnv("AUTH_SKIP_WELCOME_EMAIL", false),
			SessionCookieName:      getEnv("AUTH_SESSION_COOKIE", "auth_session"),
			RefreshTokenCookieName: getEnv("AUTH_REFRESH_COOKIE", "___refresh__token"),
			SessionDuration:        getDurationEnv("AUTH_SESSION_DURATION", 7*24*time.Hour),
			SecureCookies:          getBoolEnv("AUTH_SECURE_COOKIES", false),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUser:     getEnv("SMTP_USER", ""),
			SMTPPassword: getEnv("SMTP_PASS", ""),
			FrontendURL:  getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
	}

	switch cfg.Auth.TokenCodec {
	case "paseto":
		// v4.local requires a 32 byte symmetric key
		if len(cfg.Auth.SecretKey) != 32 {
			return nil, fmt.Errorf("AUTH_SECRET_KEY must be exactly 32 bytes for the paseto codec, got %d", len(cfg.Auth.SecretKey))
		}
	case "jwt":
		if len(cfg.Auth.SecretKey) == 0 {
			return nil, fmt.Errorf("AUTH_SECRET_KEY is required for the jwt codec")
		}
	default:
		return nil, fmt.Errorf("unknown TOKEN_CODEC %q (want paseto or jwt)", cfg.Auth.TokenCodec)
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Address returns Redis connection address (host:port)
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if the environment is set to dev
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "dev"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	seconds, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return time.Duration(seconds) * time.Second
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}
