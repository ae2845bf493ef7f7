package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage backends selectable at startup.
const (
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
	StorageMemory   = "memory"
)

// ProviderConfig holds OAuth client credentials for one social provider.
type ProviderConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URI"`
}

// Enabled reports whether the provider has enough configuration to be offered.
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.RedirectURL != ""
}

// Config contains runtime configuration values.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	Issuer      string `env:"ISSUER" envDefault:"http://localhost:8080"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"idp-server"`

	DatabaseURL   string `env:"DATABASE_URL"`
	Storage       string `env:"STORAGE" envDefault:"postgres"`
	AuthCodeStore string `env:"AUTH_CODE_STORE" envDefault:"redis"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	AutoMigrate   bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`

	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"30s"`
	NodeID         int64         `env:"NODE_ID" envDefault:"1"`

	JWTPrivateKeyPath string `env:"JWT_PRIVATE_KEY_PATH"`
	JWTPublicKeyPath  string `env:"JWT_PUBLIC_KEY_PATH"`
	JWTKeyID          string `env:"JWT_KEY_ID"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"30m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	AuthCodeTTL     time.Duration `env:"AUTH_CODE_TTL" envDefault:"10m"`
	StateTTL        time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
	ExchangeCodeTTL time.Duration `env:"SOCIAL_EXCHANGE_TTL" envDefault:"60s"`

	TokenCleanupInterval time.Duration `env:"TOKEN_CLEANUP_INTERVAL" envDefault:"1h"`
	RevokedRetention     time.Duration `env:"REVOKED_RETENTION" envDefault:"720h"`

	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"true"`
	AdminAPIKey  string `env:"ADMIN_API_KEY"`
	AdminEmail   string `env:"ADMIN_EMAIL"`
	AdminPass    string `env:"ADMIN_PASSWORD"`

	RateLimitRPM      int    `env:"RATE_LIMIT_RPM" envDefault:"600"`
	TelemetryEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TelemetryInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`

	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	CORSAllowedMethods   []string `env:"CORS_ALLOWED_METHODS" envSeparator:"," envDefault:"GET,POST,DELETE,OPTIONS"`
	CORSAllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS" envSeparator:"," envDefault:"Authorization,Content-Type"`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"true"`

	SocialHTTPTimeout      time.Duration `env:"SOCIAL_HTTP_TIMEOUT" envDefault:"10s"`
	SocialAllowedRedirects []string      `env:"SOCIAL_ALLOWED_REDIRECTS" envSeparator:","`
	Google                 ProviderConfig `envPrefix:"GOOGLE_"`
	Kakao                  ProviderConfig `envPrefix:"KAKAO_"`
	Naver                  ProviderConfig `envPrefix:"NAVER_"`
}

// Load reads configuration from the environment, after an optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.Issuer = strings.TrimRight(strings.TrimSpace(c.Issuer), "/")
	if c.Issuer == "" {
		return fmt.Errorf("ISSUER is required")
	}

	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	switch c.Storage {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("STORAGE must be postgres or memory, got %q", c.Storage)
	}

	c.AuthCodeStore = strings.ToLower(strings.TrimSpace(c.AuthCodeStore))
	switch c.AuthCodeStore {
	case StoragePostgres, StorageRedis, StorageMemory:
	default:
		return fmt.Errorf("AUTH_CODE_STORE must be redis, postgres or memory, got %q", c.AuthCodeStore)
	}

	if c.UsesPostgres() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.AuthCodeTTL < time.Second {
		c.AuthCodeTTL = time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.SocialHTTPTimeout <= 0 {
		c.SocialHTTPTimeout = 10 * time.Second
	}
	return nil
}

// UsesPostgres reports whether any store is backed by Postgres.
func (c Config) UsesPostgres() bool {
	return c.Storage == StoragePostgres || c.AuthCodeStore == StoragePostgres
}

// UsesRedis reports whether a Redis connection is needed. Ephemeral state lives in Redis
// unless every store runs in memory.
func (c Config) UsesRedis() bool {
	return c.AuthCodeStore != StorageMemory || c.Storage != StorageMemory
}

// IsDevelopment reports whether development conveniences are allowed.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}
