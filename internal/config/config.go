// Package config loads ledgerd settings from the environment and an optional
// config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/example/creator-ledger/internal/ledger"
	"github.com/example/creator-ledger/internal/security"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	DatabaseURL string
	HTTPAddr    string
	GRPCAddr    string
	RedisURL    string

	PlatformAccountID string
	DefaultCurrency   string
	StoreTimeout      time.Duration
	AutoMigrate       bool

	WebhookIPAllowlist    []string
	CORSAllowedOrigins    []string
	MaxBodyBytes          int64
	RateLimitCapacity     int
	RateLimitRefillPerSec float64

	TLS security.TLSConfig
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("PLATFORM_ACCOUNT_ID", ledger.DefaultPlatformAccountID)
	v.SetDefault("DEFAULT_CURRENCY", "usd")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("AUTO_MIGRATE", "")
	v.SetDefault("WEBHOOK_IP_ALLOWLIST", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("MAX_BODY_BYTES", 1<<20)
	v.SetDefault("RATE_LIMIT_CAPACITY", 50)
	v.SetDefault("RATE_LIMIT_REFILL_PER_SEC", 25)
	v.SetDefault("TLS_CERT_FILE", "")
	v.SetDefault("TLS_KEY_FILE", "")
	v.SetDefault("TLS_CLIENT_CA_FILE", "")
	return v
}

// Load reads configFile, if given, then applies environment overrides and
// validates the result.
func Load(configFile string) (*Config, error) {
	v := newViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Environment:           v.GetString("APP_ENV"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		HTTPAddr:              v.GetString("HTTP_ADDR"),
		GRPCAddr:              v.GetString("GRPC_ADDR"),
		RedisURL:              v.GetString("REDIS_URL"),
		PlatformAccountID:     v.GetString("PLATFORM_ACCOUNT_ID"),
		DefaultCurrency:       v.GetString("DEFAULT_CURRENCY"),
		StoreTimeout:          v.GetDuration("STORE_TIMEOUT"),
		WebhookIPAllowlist:    splitList(v.GetString("WEBHOOK_IP_ALLOWLIST")),
		CORSAllowedOrigins:    splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		MaxBodyBytes:          v.GetInt64("MAX_BODY_BYTES"),
		RateLimitCapacity:     v.GetInt("RATE_LIMIT_CAPACITY"),
		RateLimitRefillPerSec: v.GetFloat64("RATE_LIMIT_REFILL_PER_SEC"),
		TLS: security.TLSConfig{
			CertFile:     v.GetString("TLS_CERT_FILE"),
			KeyFile:      v.GetString("TLS_KEY_FILE"),
			ClientCAFile: v.GetString("TLS_CLIENT_CA_FILE"),
		},
	}

	// Migrations run on boot everywhere except production unless set.
	if raw := v.GetString("AUTO_MIGRATE"); raw != "" {
		cfg.AutoMigrate = v.GetBool("AUTO_MIGRATE")
	} else {
		cfg.AutoMigrate = cfg.Environment != "production"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	// Webhook intake is internet facing outside development.
	if c.Environment == "production" || c.Environment == "staging" {
		if len(c.WebhookIPAllowlist) == 0 {
			missing = append(missing, "WEBHOOK_IP_ALLOWLIST")
		}
		if c.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}

		if len(missing) > 0 {
			return errors.New("missing required environment variables for " + c.Environment + ": " + strings.Join(missing, ", "))
		}
	}

	if c.StoreDriver() == "" {
		return errors.New("DATABASE_URL must start with postgres://, postgresql:// or sqlite://")
	}
	if _, err := security.ParseCIDRAllowlist(c.WebhookIPAllowlist); err != nil {
		return fmt.Errorf("WEBHOOK_IP_ALLOWLIST: %w", err)
	}
	if res := ledger.NewValidator().ValidateCurrencyCode(c.DefaultCurrency); !res.IsValid {
		return fmt.Errorf("DEFAULT_CURRENCY: %s", res.Message)
	}
	if c.PlatformAccountID == "" {
		return errors.New("PLATFORM_ACCOUNT_ID must not be empty")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("STORE_TIMEOUT must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("MAX_BODY_BYTES must be positive")
	}
	if c.RedisURL != "" && (c.RateLimitCapacity <= 0 || c.RateLimitRefillPerSec <= 0) {
		return errors.New("RATE_LIMIT_CAPACITY and RATE_LIMIT_REFILL_PER_SEC must be positive when REDIS_URL is set")
	}
	if c.TLS.Enabled() && c.TLS.KeyFile == "" {
		return errors.New("TLS_KEY_FILE is required when TLS_CERT_FILE is set")
	}

	return nil
}

// StoreDriver names the ledger backend selected by DATABASE_URL, or "" when
// the scheme is unsupported.
func (c *Config) StoreDriver() string {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"):
		return "sqlite"
	default:
		return ""
	}
}

// SQLitePath is the database path of a sqlite:// URL.
func (c *Config) SQLitePath() string {
	return strings.TrimPrefix(c.DatabaseURL, "sqlite://")
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
