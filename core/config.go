package core

import (
	"fmt"
	"strings"
	"time"
)

type PollingConfig struct {
	Interval time.Duration `koanf:"interval" mapstructure:"interval"`
}

type CorrelationConfig struct {
	Timeout time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type WebhookConfig struct {
	MaxBodyBytes  int64         `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	DeliveryLease time.Duration `koanf:"delivery_lease" mapstructure:"delivery_lease"`
	DedupeHeaders []string      `koanf:"dedupe_headers" mapstructure:"dedupe_headers"`
}

type HTTPConfig struct {
	Address  string `koanf:"address" mapstructure:"address"`
	BasePath string `koanf:"base_path" mapstructure:"base_path"`
}

type StorageConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type RedisConfig struct {
	Address string `koanf:"address" mapstructure:"address"`
}

type EngineConfig struct {
	BaseURL   string        `koanf:"base_url" mapstructure:"base_url"`
	AuthToken string        `koanf:"auth_token" mapstructure:"auth_token"`
	Timeout   time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

// SecretsConfig holds named secrets referenced as "{{secrets.NAME}}" from
// connector properties. Values may be sealed with the app key.
type SecretsConfig struct {
	AppKey string            `koanf:"app_key" mapstructure:"app_key"`
	Values map[string]string `koanf:"values" mapstructure:"values"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	Polling     PollingConfig     `koanf:"polling" mapstructure:"polling"`
	Correlation CorrelationConfig `koanf:"correlation" mapstructure:"correlation"`
	Webhook     WebhookConfig     `koanf:"webhook" mapstructure:"webhook"`
	HTTP        HTTPConfig        `koanf:"http" mapstructure:"http"`
	Storage     StorageConfig     `koanf:"storage" mapstructure:"storage"`
	Redis       RedisConfig       `koanf:"redis" mapstructure:"redis"`
	Engine      EngineConfig      `koanf:"engine" mapstructure:"engine"`
	Secrets     SecretsConfig     `koanf:"secrets" mapstructure:"secrets"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "connectors",
		Polling:     PollingConfig{Interval: 5 * time.Second},
		Correlation: CorrelationConfig{Timeout: 10 * time.Second},
		Webhook: WebhookConfig{
			MaxBodyBytes:  1 << 20,
			DeliveryLease: 30 * time.Second,
			DedupeHeaders: []string{"Idempotency-Key", "X-Delivery-Id", "X-Request-Id"},
		},
		HTTP: HTTPConfig{
			Address:  ":8080",
			BasePath: "/inbound",
		},
		Storage: StorageConfig{
			Driver: "sqlite3",
			DSN:    "file:connectors.db?cache=shared&_foreign_keys=on",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("core: polling.interval must be positive")
	}
	if c.Correlation.Timeout <= 0 {
		return fmt.Errorf("core: correlation.timeout must be positive")
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("core: webhook.max_body_bytes must be positive")
	}
	switch strings.TrimSpace(c.Storage.Driver) {
	case "", "sqlite3", "postgres":
	default:
		return fmt.Errorf("core: storage.driver %q is not supported", c.Storage.Driver)
	}
	return nil
}
