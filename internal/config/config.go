package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Lockout   LockoutConfig
	OTP       OTPConfig
	MFA       MFAConfig
	Email     EmailConfig
	Denylist  DenylistConfig
	RateLimit RateLimitConfig
	Bootstrap BootstrapConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	StoreTimeout   time.Duration // upper bound on every store round trip
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	MFATokenExpiry     time.Duration
	CleanupInterval    time.Duration
	TimingDelayBaseMs  int
	TimingDelayRandMs  int
	BcryptCost         int
	AuditRetention     time.Duration // 0 keeps audit records forever
}

type LockoutConfig struct {
	MaxAttempts int
	Window      time.Duration
	Duration    time.Duration
}

type OTPConfig struct {
	TTL            time.Duration
	ResendCooldown time.Duration
	Length         int
	MaxAttempts    int // wrong guesses before a code is burned
}

type MFAConfig struct {
	EncryptionKey   []byte // AES-256, 32 bytes
	Issuer          string
	BackupCodeCount int
	MaxAttempts     int
	AttemptWindow   time.Duration
}

type EmailConfig struct {
	Provider    string // "ses" or "log"
	AWSRegion   string
	FromAddress string
}

type DenylistConfig struct {
	Backend       string // "postgres" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// RateLimitConfig holds per-minute request budgets for the HTTP surface
type RateLimitConfig struct {
	CredentialPerMinute    int
	CodePerMinute          int
	AuthenticatedPerMinute int
}

// BootstrapConfig seeds the first administrator when both fields are set
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "warden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", false),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			StoreTimeout:   getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			MFATokenExpiry:     getEnvAsDuration("MFA_TOKEN_EXPIRY", 5*time.Minute),
			CleanupInterval:    getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),
			TimingDelayBaseMs:  getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandMs:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 50),
			BcryptCost:         getEnvAsInt("BCRYPT_COST", 12),
			AuditRetention:     getEnvAsDuration("AUDIT_RETENTION", 0),
		},
		Lockout: LockoutConfig{
			MaxAttempts: getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
			Window:      getEnvAsDuration("LOCKOUT_WINDOW", 15*time.Minute),
			Duration:    getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
		},
		OTP: OTPConfig{
			TTL:            getEnvAsDuration("OTP_TTL", 10*time.Minute),
			ResendCooldown: getEnvAsDuration("OTP_RESEND_COOLDOWN", 2*time.Minute),
			Length:         getEnvAsInt("OTP_LENGTH", 6),
			MaxAttempts:    getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
		},
		MFA: MFAConfig{
			Issuer:          getEnv("MFA_ISSUER", "Warden"),
			BackupCodeCount: getEnvAsInt("MFA_BACKUP_CODE_COUNT", 8),
			MaxAttempts:     getEnvAsInt("MFA_MAX_ATTEMPTS", 5),
			AttemptWindow:   getEnvAsDuration("MFA_ATTEMPT_WINDOW", 15*time.Minute),
		},
		Email: EmailConfig{
			Provider:    getEnv("EMAIL_PROVIDER", "log"),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@example.com"),
		},
		Denylist: DenylistConfig{
			Backend:       getEnv("DENYLIST_BACKEND", "postgres"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			CredentialPerMinute:    getEnvAsInt("RATE_LIMIT_CREDENTIAL_PER_MINUTE", 10),
			CodePerMinute:          getEnvAsInt("RATE_LIMIT_CODE_PER_MINUTE", 5),
			AuthenticatedPerMinute: getEnvAsInt("RATE_LIMIT_AUTHENTICATED_PER_MINUTE", 60),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    getEnv("ADMIN_EMAIL", ""),
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	key, err := parseEncryptionKey(getEnv("MFA_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}
	cfg.MFA.EncryptionKey = key

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Lockout.MaxAttempts <= 0 {
		return fmt.Errorf("LOCKOUT_MAX_ATTEMPTS must be positive")
	}
	if c.Lockout.Window <= 0 || c.Lockout.Duration <= 0 {
		return fmt.Errorf("LOCKOUT_WINDOW and LOCKOUT_DURATION must be positive")
	}
	if c.OTP.TTL <= 0 || c.OTP.ResendCooldown < 0 {
		return fmt.Errorf("OTP_TTL must be positive and OTP_RESEND_COOLDOWN non-negative")
	}
	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10")
	}
	if c.OTP.MaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}
	if c.MFA.BackupCodeCount <= 0 {
		return fmt.Errorf("MFA_BACKUP_CODE_COUNT must be positive")
	}
	if c.MFA.MaxAttempts <= 0 || c.MFA.AttemptWindow <= 0 {
		return fmt.Errorf("MFA_MAX_ATTEMPTS and MFA_ATTEMPT_WINDOW must be positive")
	}
	if c.RateLimit.CredentialPerMinute <= 0 || c.RateLimit.CodePerMinute <= 0 || c.RateLimit.AuthenticatedPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_* values must be positive")
	}
	if c.Server.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	switch c.Email.Provider {
	case "ses", "log":
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be ses or log, got %q", c.Email.Provider)
	}
	switch c.Denylist.Backend {
	case "postgres", "redis":
	default:
		return fmt.Errorf("DENYLIST_BACKEND must be postgres or redis, got %q", c.Denylist.Backend)
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// parseEncryptionKey accepts a 64-char hex string or a raw 32-byte string
func parseEncryptionKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY is required")
	}
	if len(raw) == 64 {
		if key, err := hex.DecodeString(raw); err == nil {
			return key, nil
		}
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be 32 bytes or 64 hex characters (got %d characters)", len(raw))
	}
	return []byte(raw), nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		origins := splitList(getEnv("ALLOWED_ORIGINS", ""))
		if origins == nil {
			return []string{}
		}
		return origins
	}

	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
