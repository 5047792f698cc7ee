package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	BaseURL              string        `mapstructure:"FHIR_BASE_URL"`
	StoreDriver          string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema             string        `mapstructure:"DB_SCHEMA"`
	MongoURI             string        `mapstructure:"MONGO_URI"`
	MongoDatabase        string        `mapstructure:"MONGO_DATABASE"`
	NamespacesFile       string        `mapstructure:"NAMESPACES_FILE"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	AuthMode             string        `mapstructure:"AUTH_MODE"`
	AuthSigningKey       string        `mapstructure:"AUTH_SIGNING_KEY"`
	WearableAPIBase      string        `mapstructure:"WEARABLE_API_BASE"`
	WearableClientID     string        `mapstructure:"WEARABLE_CLIENT_ID"`
	WearableClientSecret string        `mapstructure:"WEARABLE_CLIENT_SECRET"`
	WearableHTTPTimeout  time.Duration `mapstructure:"WEARABLE_HTTP_TIMEOUT"`
	IngestInterval       time.Duration `mapstructure:"INGEST_INTERVAL"`
	IngestClientIDs      []string      `mapstructure:"INGEST_CLIENT_IDS"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL", "FHIR_BASE_URL",
	"STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"MONGO_URI", "MONGO_DATABASE", "NAMESPACES_FILE", "CORS_ORIGINS",
	"AUTH_MODE", "AUTH_SIGNING_KEY",
	"WEARABLE_API_BASE", "WEARABLE_CLIENT_ID", "WEARABLE_CLIENT_SECRET", "WEARABLE_HTTP_TIMEOUT",
	"INGEST_INTERVAL", "INGEST_CLIENT_IDS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("FHIR_BASE_URL", "http://localhost:8000")
	v.SetDefault("STORE_DRIVER", DriverMemory)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("MONGO_DATABASE", "fhir")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("WEARABLE_API_BASE", "https://api.whoop.com/v1")
	v.SetDefault("WEARABLE_HTTP_TIMEOUT", "30s")
	v.SetDefault("INGEST_INTERVAL", "0s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.IngestClientIDs = splitList(cfg.IngestClientIDs, v.GetString("INGEST_CLIENT_IDS"))
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)

	return cfg, nil
}

// splitList normalizes a comma separated setting. Environment values arrive
// as one string that mapstructure does not split.
func splitList(parsed []string, raw string) []string {
	if len(parsed) == 1 && strings.Contains(parsed[0], ",") {
		raw, parsed = parsed[0], nil
	}
	if len(parsed) == 0 && raw != "" {
		parsed = strings.Split(raw, ",")
	}
	var out []string
	for _, s := range parsed {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments run without authentication and everything else requires JWTs.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks driver and auth specific requirements.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORE_DRIVER is %q", DriverMongo)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q, %q or %q, got %q", DriverMemory, DriverPostgres, DriverMongo, c.StoreDriver)
	}

	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
	case "jwt":
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY must be set when AUTH_MODE is \"jwt\" (current ENV=%q)", c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	if c.IngestInterval < 0 {
		return fmt.Errorf("INGEST_INTERVAL must not be negative")
	}
	if c.WearableHTTPTimeout <= 0 {
		return fmt.Errorf("WEARABLE_HTTP_TIMEOUT must be positive")
	}
	return nil
}
