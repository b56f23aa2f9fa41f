package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/campusgate/internal/attempts"
	pkghttp "github.com/BradenHooton/campusgate/pkg/http"
	"github.com/joho/godotenv"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendEventBus = "eventbus"
)

// GatewayConfig configures cmd/gateway
type GatewayConfig struct {
	Server     ServerConfig
	Lockout    LockoutConfig
	Session    SessionConfig
	Credential CredentialClientConfig
	Database   DatabaseConfig
	Redis      RedisConfig
}

// CredentialServerConfig configures cmd/credserver
type CredentialServerConfig struct {
	Server    ServerConfig
	Auth      AuthConfig
	Challenge ChallengeConfig
	Directory DirectoryConfig
	Timing    TimingConfig
	Email     EmailConfig
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
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	// requests per minute per IP on the login endpoints; 0 disables
	LoginRateLimit int
	// CIDR ranges or addresses of reverse proxies allowed to set X-Forwarded-For
	TrustedProxies []string
}

type LockoutConfig struct {
	Policy        attempts.Policy
	Backend       string
	Retention     time.Duration
	PruneInterval time.Duration
}

type SessionConfig struct {
	Backend        string
	Broadcast      string
	CookieSecure   bool
	SnapshotTTL    time.Duration
	PendingTTL     time.Duration
	StoreIdleLimit time.Duration
	SweepInterval  time.Duration
}

type CredentialClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	CleanupInterval    time.Duration
}

type ChallengeConfig struct {
	TTL       time.Duration
	MaxTries  int
	FixedCode string
}

type DirectoryConfig struct {
	Path string
}

type TimingConfig struct {
	BaseDelayMs    int
	RandomDelayMs  int
	DelayOnSuccess bool
}

type EmailConfig struct {
	Provider    string
	AWSRegion   string
	FromAddress string
}

// LoadGateway reads the gateway configuration from the environment (and .env)
func LoadGateway() (*GatewayConfig, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	policy, err := attempts.ParsePolicy(
		getEnv("LOCKOUT_STEPS", "3:30s,5:5m,7:30m"),
		getEnvAsInt("LOCKOUT_DEACTIVATE_AFTER", 10),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid lockout policy: %w", err)
	}

	cfg := &GatewayConfig{
		Server: loadServer(env, "8080"),
		Lockout: LockoutConfig{
			Policy:        policy,
			Backend:       getEnv("LOCKOUT_BACKEND", BackendMemory),
			Retention:     getEnvAsDuration("LOCKOUT_RETENTION", 24*time.Hour),
			PruneInterval: getEnvAsDuration("LOCKOUT_PRUNE_INTERVAL", 10*time.Minute),
		},
		Session: SessionConfig{
			Backend:        getEnv("SESSION_BACKEND", BackendMemory),
			Broadcast:      getEnv("SESSION_BROADCAST", BackendEventBus),
			CookieSecure:   env == "production",
			SnapshotTTL:    getEnvAsDuration("SESSION_SNAPSHOT_TTL", 7*24*time.Hour),
			PendingTTL:     getEnvAsDuration("SESSION_PENDING_TTL", 15*time.Minute),
			StoreIdleLimit: getEnvAsDuration("SESSION_STORE_IDLE_LIMIT", 30*time.Minute),
			SweepInterval:  getEnvAsDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Credential: CredentialClientConfig{
			BaseURL: getEnv("CREDENTIAL_SERVICE_URL", "http://localhost:8081"),
			Timeout: getEnvAsDuration("CREDENTIAL_SERVICE_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabase(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	if _, err := cfg.Server.ClientIPResolver(); err != nil {
		return nil, err
	}
	if err := validateBackend("LOCKOUT_BACKEND", cfg.Lockout.Backend, BackendMemory, BackendRedis, BackendPostgres); err != nil {
		return nil, err
	}
	if err := validateBackend("SESSION_BACKEND", cfg.Session.Backend, BackendMemory, BackendRedis); err != nil {
		return nil, err
	}
	if err := validateBackend("SESSION_BROADCAST", cfg.Session.Broadcast, BackendEventBus, BackendRedis); err != nil {
		return nil, err
	}
	if cfg.Lockout.Backend == BackendPostgres && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required when LOCKOUT_BACKEND=postgres")
	}
	if cfg.Credential.BaseURL == "" {
		return nil, fmt.Errorf("CREDENTIAL_SERVICE_URL is required")
	}

	return cfg, nil
}

// LoadCredentialServer reads the development credential service configuration
func LoadCredentialServer() (*CredentialServerConfig, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &CredentialServerConfig{
		Server: loadServer(env, "8081"),
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			CleanupInterval:    getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),
		},
		Challenge: ChallengeConfig{
			TTL:       getEnvAsDuration("OTP_TTL", 5*time.Minute),
			MaxTries:  getEnvAsInt("OTP_MAX_TRIES", 5),
			FixedCode: getEnv("OTP_FIXED_CODE", ""),
		},
		Directory: DirectoryConfig{
			Path: getEnv("DIRECTORY_FILE", "directory.yaml"),
		},
		Timing: TimingConfig{
			BaseDelayMs:    getEnvAsInt("TIMING_DELAY_BASE_MS", 500),
			RandomDelayMs:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
			DelayOnSuccess: getEnvAsBool("TIMING_DELAY_ON_SUCCESS", false),
		},
		Email: EmailConfig{
			Provider:    getEnv("CODE_DELIVERY", "log"),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		},
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}
	if _, err := cfg.Server.ClientIPResolver(); err != nil {
		return nil, err
	}
	if cfg.Challenge.FixedCode != "" && env == "production" {
		return nil, fmt.Errorf("OTP_FIXED_CODE must not be set in production")
	}
	if cfg.Challenge.MaxTries <= 0 {
		return nil, fmt.Errorf("OTP_MAX_TRIES must be positive")
	}
	if err := validateBackend("CODE_DELIVERY", cfg.Email.Provider, "log", "ses"); err != nil {
		return nil, err
	}
	if cfg.Email.Provider == "ses" && cfg.Email.FromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when CODE_DELIVERY=ses")
	}

	return cfg, nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info
func (s ServerConfig) SlogLevel() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ClientIPResolver builds the resolver for TRUSTED_PROXIES
func (s ServerConfig) ClientIPResolver() (*pkghttp.ClientIPResolver, error) {
	resolver, err := pkghttp.NewClientIPResolver(s.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	return resolver, nil
}

func loadServer(env, defaultPort string) ServerConfig {
	return ServerConfig{
		Port:           getEnv("PORT", defaultPort),
		Env:            env,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: parseAllowedOrigins(env),
		ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		LoginRateLimit: getEnvAsInt("LOGIN_RATE_LIMIT", 20),
		TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
	}
}

func loadDatabase() DatabaseConfig {
	return DatabaseConfig{
		Host:              getEnv("DB_HOST", "localhost"),
		Port:              getEnvAsInt("DB_PORT", 5432),
		User:              getEnv("DB_USER", "postgres"),
		Password:          getEnv("DB_PASSWORD", ""),
		Name:              getEnv("DB_NAME", "campusgate"),
		SSLMode:           getEnv("DB_SSLMODE", "disable"),
		MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 10)),
		MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 2)),
		MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
		MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
		HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
	}
}

func validateBackend(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s (got %q)", key, strings.Join(allowed, ", "), value)
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
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

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{}
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
