// Package config loads gateway configuration.
//
// Precedence, lowest first: built-in defaults, the optional YAML file, then
// environment variables (a .env file is merged into the environment by the
// caller before Load runs).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultPort matches the port the gateway has always listened on.
const DefaultPort = 3000

type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Log      LogConfig      `yaml:"log"`
}

type GatewayConfig struct {
	Host           string   `yaml:"host" env:"HOST"`
	Port           int      `yaml:"port" env:"PORT"`
	APIKey         string   `yaml:"api_key" env:"WAGW_API_KEY"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"WAGW_ALLOWED_ORIGINS" envSeparator:","`
}

type WhatsAppConfig struct {
	BridgeURL     string        `yaml:"bridge_url" env:"WAGW_BRIDGE_URL"`
	QRPath        string        `yaml:"qr_path" env:"WAGW_QR_PATH"`
	SendTimeout   time.Duration `yaml:"send_timeout" env:"WAGW_SEND_TIMEOUT"`
	AttachmentDir string        `yaml:"attachment_dir" env:"WAGW_ATTACHMENT_DIR"`
	ReconnectMin  time.Duration `yaml:"reconnect_min" env:"WAGW_RECONNECT_MIN"`
	ReconnectMax  time.Duration `yaml:"reconnect_max" env:"WAGW_RECONNECT_MAX"`
}

type DeliveryConfig struct {
	// DBPath is the sqlite file for the delivery log. Empty disables it.
	DBPath string `yaml:"db_path" env:"WAGW_DELIVERY_DB"`
	// StatusCron schedules the periodic session status report. Empty disables it.
	StatusCron string `yaml:"status_cron" env:"WAGW_STATUS_CRON"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"WAGW_LOG_LEVEL"`
	Format string `yaml:"format" env:"WAGW_LOG_FORMAT"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           DefaultPort,
			AllowedOrigins: []string{"*"},
		},
		WhatsApp: WhatsAppConfig{
			BridgeURL:    "ws://localhost:3001",
			QRPath:       "./wa_authentication.png",
			SendTimeout:  30 * time.Second,
			ReconnectMin: time.Second,
			ReconnectMax: 30 * time.Second,
		},
		Delivery: DeliveryConfig{
			DBPath:     "./deliveries.db",
			StatusCron: "*/5 * * * *",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty or the file does not exist) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	applyDisableOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDisableOverrides honours optional features switched off with an
// empty variable. env.Parse skips empty values, so these are read directly.
func applyDisableOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("WAGW_DELIVERY_DB"); ok && strings.TrimSpace(v) == "" {
		cfg.Delivery.DBPath = ""
	}
	if v, ok := os.LookupEnv("WAGW_STATUS_CRON"); ok && strings.TrimSpace(v) == "" {
		cfg.Delivery.StatusCron = ""
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	if c.WhatsApp.BridgeURL == "" {
		return errors.New("whatsapp.bridge_url is required")
	}
	if c.WhatsApp.SendTimeout <= 0 {
		return fmt.Errorf("whatsapp.send_timeout must be positive, got %s", c.WhatsApp.SendTimeout)
	}
	if c.WhatsApp.ReconnectMin <= 0 || c.WhatsApp.ReconnectMax < c.WhatsApp.ReconnectMin {
		return fmt.Errorf("whatsapp reconnect backoff %s..%s is invalid", c.WhatsApp.ReconnectMin, c.WhatsApp.ReconnectMax)
	}
	if c.Delivery.StatusCron != "" && !gronx.New().IsValid(c.Delivery.StatusCron) {
		return fmt.Errorf("delivery.status_cron %q is not a valid cron expression", c.Delivery.StatusCron)
	}
	return nil
}

// Addr is the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}
