package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Session store drivers.
const (
	SessionMemory   = "memory"
	SessionPostgres = "postgres"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Shipping
	CatalogPath         string `envconfig:"CATALOG_PATH" default:"catalog.yaml"`
	BaseCurrency        string `envconfig:"BASE_CURRENCY" default:"USD"`
	TaxInclusiveDefault bool   `envconfig:"TAX_INCLUSIVE" default:"false"`

	// Cross-request cache
	CrossRequestCache bool   `envconfig:"CROSS_REQUEST_CACHE" default:"false"`
	SessionDriver     string `envconfig:"SESSION_DRIVER" default:"memory"`
	DatabaseURL       string `envconfig:"DATABASE_URL"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"shiprate"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	c.BaseCurrency = strings.ToUpper(c.BaseCurrency)
	if len(c.BaseCurrency) != 3 {
		return fmt.Errorf("invalid BASE_CURRENCY %q", c.BaseCurrency)
	}
	switch c.SessionDriver {
	case SessionMemory:
	case SessionPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for session driver %q", c.SessionDriver)
		}
	default:
		return fmt.Errorf("unknown SESSION_DRIVER %q", c.SessionDriver)
	}
	return nil
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.String("shipping.base_currency", c.BaseCurrency),
		attribute.Bool("shipping.cross_request_cache", c.CrossRequestCache),
		attribute.String("shipping.session_driver", c.SessionDriver),
	}
}
