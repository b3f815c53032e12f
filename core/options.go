package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StaticRawConfigLoader serves a fixed map, mostly for tests and embedding.
type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return normalizeDurations(out), nil
}

// YAMLFileLoader reads raw configuration from a YAML document on disk.
type YAMLFileLoader struct {
	Path string
}

func (l YAMLFileLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("core: read config %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: parse config %s: %w", path, err)
	}
	return normalizeDurations(raw), nil
}

var durationKeys = map[string]struct{}{
	"interval":       {},
	"timeout":        {},
	"delivery_lease": {},
}

// normalizeDurations turns "5s" style strings under known duration keys into
// time.Duration values before decoding.
func normalizeDurations(raw map[string]any) map[string]any {
	for key, value := range raw {
		switch typed := value.(type) {
		case map[string]any:
			raw[key] = normalizeDurations(typed)
		case string:
			if _, ok := durationKeys[key]; !ok {
				continue
			}
			if parsed, err := time.ParseDuration(strings.TrimSpace(typed)); err == nil {
				raw[key] = parsed
			}
		}
	}
	return raw
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults < loaded file < runtime overrides.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || cfg.Polling.Interval > 0 {
		layer["polling"] = map[string]any{"interval": cfg.Polling.Interval}
	}
	if includeZero || cfg.Correlation.Timeout > 0 {
		layer["correlation"] = map[string]any{"timeout": cfg.Correlation.Timeout}
	}

	webhook := map[string]any{}
	if includeZero || cfg.Webhook.MaxBodyBytes > 0 {
		webhook["max_body_bytes"] = cfg.Webhook.MaxBodyBytes
	}
	if includeZero || cfg.Webhook.DeliveryLease > 0 {
		webhook["delivery_lease"] = cfg.Webhook.DeliveryLease
	}
	if includeZero || len(cfg.Webhook.DedupeHeaders) > 0 {
		webhook["dedupe_headers"] = append([]string(nil), cfg.Webhook.DedupeHeaders...)
	}
	if len(webhook) > 0 {
		layer["webhook"] = webhook
	}

	putStrings(layer, "http", includeZero, map[string]string{
		"address":   cfg.HTTP.Address,
		"base_path": cfg.HTTP.BasePath,
	})
	putStrings(layer, "storage", includeZero, map[string]string{
		"driver": cfg.Storage.Driver,
		"dsn":    cfg.Storage.DSN,
	})
	if cfg.Storage.Debug {
		storage, _ := layer["storage"].(map[string]any)
		if storage == nil {
			storage = map[string]any{}
		}
		storage["debug"] = true
		layer["storage"] = storage
	}
	putStrings(layer, "redis", includeZero, map[string]string{"address": cfg.Redis.Address})
	putStrings(layer, "engine", includeZero, map[string]string{
		"base_url":   cfg.Engine.BaseURL,
		"auth_token": cfg.Engine.AuthToken,
	})
	if includeZero || cfg.Engine.Timeout > 0 {
		engine, _ := layer["engine"].(map[string]any)
		if engine == nil {
			engine = map[string]any{}
		}
		engine["timeout"] = cfg.Engine.Timeout
		layer["engine"] = engine
	}
	return layer
}

func putStrings(layer map[string]any, section string, includeZero bool, values map[string]string) {
	out := map[string]any{}
	for key, value := range values {
		if includeZero || strings.TrimSpace(value) != "" {
			out[key] = value
		}
	}
	if len(out) > 0 {
		layer[section] = out
	}
}

// ResolveConfig loads the provider config and layers runtime overrides on top.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}
