// Package config loads service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// CarrierConfig holds per-carrier API settings.
type CarrierConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Mock          bool   `yaml:"mock"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// MiraklConfig holds marketplace API settings.
type MiraklConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	ShopID  string `yaml:"shop_id"`
	Mock    bool   `yaml:"mock"`
}

// Config is the full service configuration.
type Config struct {
	Addr         string        `yaml:"addr"`
	DataDir      string        `yaml:"data_dir"`
	PollInterval time.Duration `yaml:"poll_interval"`

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	AuthMode       string `yaml:"auth_mode"` // dev, hmac, jwks
	AuthHMACSecret string `yaml:"auth_hmac_secret"`
	AuthJWKSURL    string `yaml:"auth_jwks_url"`

	Mirakl   MiraklConfig             `yaml:"mirakl"`
	Carriers map[string]CarrierConfig `yaml:"carriers"`

	// CarrierRate limits outbound carrier calls per second. Zero disables
	// limiting.
	CarrierRate float64 `yaml:"carrier_rate"`
}

// Load reads the YAML file at path (skipped when path is empty or missing)
// and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Config{
		Addr:         ":8080",
		DataDir:      "data",
		PollInterval: 5 * time.Minute,
		AuthMode:     "dev",
		Mirakl:       MiraklConfig{Mock: true},
		Carriers:     map[string]CarrierConfig{},
	}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to env-only config
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if cfg.Carriers == nil {
		cfg.Carriers = map[string]CarrierConfig{}
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = envOr("ADDR", c.Addr)
	if v := os.Getenv("PORT"); v != "" {
		c.Addr = ":" + v
	}
	c.DataDir = envOr("DATA_DIR", c.DataDir)
	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.PollInterval = time.Duration(n) * time.Second
		}
	}
	c.DatabaseURL = envOr("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = envOr("REDIS_URL", c.RedisURL)
	c.AuthMode = envOr("AUTH_MODE", c.AuthMode)
	c.AuthHMACSecret = envOr("AUTH_HMAC_SECRET", c.AuthHMACSecret)
	c.AuthJWKSURL = envOr("AUTH_JWKS_URL", c.AuthJWKSURL)
	c.Mirakl.BaseURL = envOr("MIRAKL_BASE_URL", c.Mirakl.BaseURL)
	c.Mirakl.APIKey = envOr("MIRAKL_API_KEY", c.Mirakl.APIKey)
	c.Mirakl.ShopID = envOr("MIRAKL_SHOP_ID", c.Mirakl.ShopID)
	if v := os.Getenv("MIRAKL_MOCK"); v != "" {
		c.Mirakl.Mock = v != "false"
	}
	if v := os.Getenv("CARRIER_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.CarrierRate = f
		}
	}
}

// Carrier returns the config block for a carrier code, zero value when unset.
func (c Config) Carrier(code string) CarrierConfig {
	cc, ok := c.Carriers[code]
	if !ok {
		// carriers without explicit config run in mock mode
		return CarrierConfig{Mock: true}
	}
	return cc
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
