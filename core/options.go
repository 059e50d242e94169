package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// ResolveConfig loads the file layer through provider and merges it between
// the defaults and the runtime layer.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, MapError(err)
	}
	resolved, err := resolver.Resolve(defaults, loaded, runtime)
	if err != nil {
		return Config{}, MapError(err)
	}
	return resolved, nil
}

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
	return out, nil
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
	raw, err = normalizeDurations(raw)
	if err != nil {
		return Config{}, err
	}
	return cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

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
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	setDuration := func(target map[string]any, key string, value time.Duration) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	setInt := func(target map[string]any, key string, value int64) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	section := func(key string, values map[string]any) {
		if len(values) > 0 {
			layer[key] = values
		}
	}

	setString(layer, "service_name", cfg.ServiceName)

	gate := map[string]any{}
	setDuration(gate, "timeout", cfg.Gate.Timeout)
	setInt(gate, "max_body_bytes", cfg.Gate.MaxBodyBytes)
	section("gate", gate)

	relay := map[string]any{}
	setDuration(relay, "visibility_timeout", cfg.Relay.VisibilityTimeout)
	setInt(relay, "max_attempts", int64(cfg.Relay.MaxAttempts))
	setDuration(relay, "max_delay", cfg.Relay.MaxDelay)
	setDuration(relay, "poll_interval", cfg.Relay.PollInterval)
	setInt(relay, "workers", int64(cfg.Relay.Workers))
	section("relay", relay)

	commands := map[string]any{}
	setDuration(commands, "interval", cfg.Commands.Interval)
	setDuration(commands, "timeout", cfg.Commands.Timeout)
	setString(commands, "api_base_url", cfg.Commands.APIBaseURL)
	section("commands", commands)

	dns := map[string]any{}
	setString(dns, "default_zone", cfg.DNS.DefaultZone)
	section("dns", dns)

	httpSection := map[string]any{}
	setString(httpSection, "addr", cfg.HTTP.Addr)
	section("http", httpSection)

	persistence := map[string]any{}
	setString(persistence, "driver", cfg.Persistence.Driver)
	setString(persistence, "dsn", cfg.Persistence.DSN)
	if includeZero || cfg.Persistence.Debug {
		persistence["debug"] = cfg.Persistence.Debug
	}
	section("persistence", persistence)

	redis := map[string]any{}
	setString(redis, "url", cfg.Redis.URL)
	section("redis", redis)

	deadLetter := map[string]any{}
	setString(deadLetter, "s3_bucket", cfg.DeadLetter.S3Bucket)
	setString(deadLetter, "s3_region", cfg.DeadLetter.S3Region)
	setString(deadLetter, "s3_endpoint", cfg.DeadLetter.S3Endpoint)
	setString(deadLetter, "s3_prefix", cfg.DeadLetter.S3Prefix)
	section("dead_letter", deadLetter)

	security := map[string]any{}
	setString(security, "app_key", cfg.Security.AppKey)
	section("security", security)

	if includeZero || len(cfg.Tenants) > 0 {
		tenants := make([]any, 0, len(cfg.Tenants))
		for _, tenant := range cfg.Tenants {
			entry := map[string]any{
				"name":     tenant.Name,
				"dns_zone": tenant.DNSZone,
				"plugin":   tenant.Plugin,
			}
			if len(tenant.Settings) > 0 {
				settings := make(map[string]any, len(tenant.Settings))
				for key, value := range tenant.Settings {
					settings[key] = value
				}
				entry["settings"] = settings
			}
			tenants = append(tenants, entry)
		}
		layer["tenants"] = tenants
	}
	return layer
}

var durationKeys = map[string]bool{
	"timeout":            true,
	"visibility_timeout": true,
	"max_delay":          true,
	"poll_interval":      true,
	"interval":           true,
}

// normalizeDurations converts duration strings such as "5s" found in file
// sources into time.Duration values.
func normalizeDurations(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		switch typed := value.(type) {
		case map[string]any:
			nested, err := normalizeDurations(typed)
			if err != nil {
				return nil, err
			}
			out[key] = nested
		case string:
			if durationKeys[key] {
				parsed, err := time.ParseDuration(strings.TrimSpace(typed))
				if err != nil {
					return nil, fmt.Errorf("core: config key %q: invalid duration %q", key, typed)
				}
				out[key] = parsed
				continue
			}
			out[key] = typed
		default:
			out[key] = value
		}
	}
	return out, nil
}
