// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/novalabs/meterlink/domain/tier"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Vendor      VendorConfig      `yaml:"vendor"`
	Billing     BillingConfig     `yaml:"billing"`
	Pricing     PricingConfig     `yaml:"pricing"`
	BalanceGate BalanceGateConfig `yaml:"balance_gate"`
	State       StateConfig       `yaml:"state"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// VendorConfig configures the billing vendor API client.
type VendorConfig struct {
	BaseURL      string        `yaml:"base_url"`
	BearerToken  string        `yaml:"bearer_token"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// TierConfig declares one pricing tier.
type TierConfig struct {
	Values     map[string]string `yaml:"values"`
	PriceCents int64             `yaml:"price_cents"`
}

// BillingConfig configures the billable metric and the tier taxonomy.
type BillingConfig struct {
	// Namespace prefixes allocated transaction IDs.
	Namespace string `yaml:"namespace"`

	MetricName      string `yaml:"metric_name"`
	EventType       string `yaml:"event_type"`
	AggregationType string `yaml:"aggregation_type"`
	AggregationKey  string `yaml:"aggregation_key"`

	// GroupKey is the event property carrying the composite tier key.
	GroupKey string `yaml:"group_key"`

	// GroupKeys are the dimension names composing a tier key, in order.
	GroupKeys []string `yaml:"group_keys"`

	Tiers []TierConfig `yaml:"tiers"`

	// Default customer provisioned by the demo flow.
	CustomerName string `yaml:"customer_name"`
	IngestAlias  string `yaml:"ingest_alias"`
}

// PricingConfig configures product and rate card provisioning.
type PricingConfig struct {
	ProductName         string `yaml:"product_name"`
	RateCardName        string `yaml:"rate_card_name"`
	RateCardDescription string `yaml:"rate_card_description"`

	// EffectiveAt is the RFC3339 instant rates and contracts start at.
	// Empty means the current UTC midnight.
	EffectiveAt string `yaml:"effective_at"`

	// Reuse keeps product/rate-card IDs found in state. Defaults to true.
	Reuse *bool `yaml:"reuse"`
}

// ReuseEnabled resolves the reuse flag with its default.
func (p PricingConfig) ReuseEnabled() bool {
	return p.Reuse == nil || *p.Reuse
}

// BalanceGateConfig configures the prepaid-balance ingestion gate.
type BalanceGateConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StateConfig configures the local state store.
type StateConfig struct {
	Driver string `yaml:"driver"` // "file" or "sqlite"
	Path   string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Useful for container deployments where no config file is mounted.
//
// Environment variables:
//
//	METERLINK_VENDOR_BASE_URL  - Billing vendor API base URL (required)
//	METERLINK_VENDOR_TOKEN     - Vendor bearer token
//	METERLINK_SERVER_HOST      - Server host (default: 0.0.0.0)
//	METERLINK_SERVER_PORT      - Server port (default: 8080)
//	METERLINK_STATE_DRIVER     - State driver: file or sqlite (default: file)
//	METERLINK_STATE_PATH       - State file/database path
//	METERLINK_LOG_LEVEL        - Log level: debug, info, warn, error
//	METERLINK_LOG_FORMAT       - Log format: json or console
//	METERLINK_METRICS_ENABLED  - Enable /metrics endpoint
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if os.Getenv("METERLINK_VENDOR_BASE_URL") != "" {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set METERLINK_VENDOR_BASE_URL")
}

// Catalog builds the tier catalog from the configured tiers.
func (c *Config) Catalog() (tier.Catalog, error) {
	defs := make([]tier.Definition, 0, len(c.Billing.Tiers))
	for _, t := range c.Billing.Tiers {
		defs = append(defs, tier.Definition{Values: t.Values, PriceCents: t.PriceCents})
	}
	return tier.NewCatalog(c.Billing.GroupKeys, defs)
}

// applyEnvOverrides applies METERLINK_* environment variables.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("METERLINK_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("METERLINK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("METERLINK_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("METERLINK_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if v := os.Getenv("METERLINK_VENDOR_BASE_URL"); v != "" {
		cfg.Vendor.BaseURL = v
	}
	if v := os.Getenv("METERLINK_VENDOR_TOKEN"); v != "" {
		cfg.Vendor.BearerToken = v
	}
	if v := os.Getenv("METERLINK_VENDOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Vendor.Timeout = d
		}
	}

	if v := os.Getenv("METERLINK_STATE_DRIVER"); v != "" {
		cfg.State.Driver = v
	}
	if v := os.Getenv("METERLINK_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}

	if v := os.Getenv("METERLINK_BALANCE_GATE_ENABLED"); v != "" {
		cfg.BalanceGate.Enabled = parseBool(v)
	}

	if v := os.Getenv("METERLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("METERLINK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("METERLINK_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("METERLINK_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Vendor.Timeout == 0 {
		cfg.Vendor.Timeout = 10 * time.Second
	}
	if cfg.Vendor.MaxAttempts == 0 {
		cfg.Vendor.MaxAttempts = 3
	}
	if cfg.Vendor.RetryBackoff == 0 {
		cfg.Vendor.RetryBackoff = 250 * time.Millisecond
	}

	if cfg.Billing.Namespace == "" {
		cfg.Billing.Namespace = "nova"
	}
	if cfg.Billing.MetricName == "" {
		cfg.Billing.MetricName = "Compute Usage"
	}
	if cfg.Billing.EventType == "" {
		cfg.Billing.EventType = "job_completed"
	}
	if cfg.Billing.AggregationType == "" {
		cfg.Billing.AggregationType = "SUM"
	}
	if cfg.Billing.AggregationKey == "" {
		cfg.Billing.AggregationKey = "count"
	}
	if cfg.Billing.GroupKey == "" {
		cfg.Billing.GroupKey = "tier"
	}
	if len(cfg.Billing.GroupKeys) == 0 {
		cfg.Billing.GroupKeys = []string{"size", "warehouse"}
	}
	if len(cfg.Billing.Tiers) == 0 {
		cfg.Billing.Tiers = []TierConfig{
			{Values: map[string]string{"size": "small", "warehouse": "aws"}, PriceCents: 54},
			{Values: map[string]string{"size": "medium", "warehouse": "aws"}, PriceCents: 108},
			{Values: map[string]string{"size": "large", "warehouse": "aws"}, PriceCents: 216},
		}
	}

	if cfg.Pricing.ProductName == "" {
		cfg.Pricing.ProductName = "Compute"
	}
	if cfg.Pricing.RateCardName == "" {
		cfg.Pricing.RateCardName = "Standard Rate Card"
	}

	if cfg.State.Driver == "" {
		cfg.State.Driver = "file"
	}
	if cfg.State.Path == "" {
		if cfg.State.Driver == "sqlite" {
			cfg.State.Path = "meterlink.db"
		} else {
			cfg.State.Path = ".meterlink_state.json"
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Vendor.BaseURL == "" {
		return fmt.Errorf("vendor.base_url is required")
	}

	validDrivers := map[string]bool{"file": true, "sqlite": true}
	if !validDrivers[cfg.State.Driver] {
		return fmt.Errorf("state.driver must be 'file' or 'sqlite', got %q", cfg.State.Driver)
	}

	validAggregations := map[string]bool{"SUM": true, "COUNT": true, "MAX": true, "UNIQUE": true}
	if !validAggregations[cfg.Billing.AggregationType] {
		return fmt.Errorf("billing.aggregation_type must be one of: SUM, COUNT, MAX, UNIQUE")
	}

	if cfg.Pricing.EffectiveAt != "" {
		if _, err := time.Parse(time.RFC3339, cfg.Pricing.EffectiveAt); err != nil {
			return fmt.Errorf("pricing.effective_at: %w", err)
		}
	}

	// Surface tier mistakes at startup rather than first request.
	if _, err := cfg.Catalog(); err != nil {
		return fmt.Errorf("billing.tiers: %w", err)
	}

	return nil
}
