package core

import (
	"context"
	"testing"
	"time"
)

func TestResolveConfig_Defaults(t *testing.T) {
	cfg, err := ResolveConfig(context.Background(), nil, nil, Config{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ServiceName != "botfactory" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.Gate.Timeout != DefaultGateTimeout {
		t.Fatalf("expected 5s gate timeout, got %s", cfg.Gate.Timeout)
	}
	if cfg.Relay.VisibilityTimeout != DefaultVisibilityTimeout {
		t.Fatalf("expected 60s visibility timeout, got %s", cfg.Relay.VisibilityTimeout)
	}
	if cfg.DNS.DefaultZone != DefaultDNSZone {
		t.Fatalf("expected default zone, got %q", cfg.DNS.DefaultZone)
	}
}

func TestResolveConfig_FileThenRuntimePrecedence(t *testing.T) {
	loader := StaticRawConfigLoader{Values: map[string]any{
		"service_name": "from-file",
		"relay": map[string]any{
			"max_attempts":       3,
			"visibility_timeout": "30s",
		},
	}}
	runtime := Config{ServiceName: "from-runtime"}

	cfg, err := ResolveConfig(context.Background(), NewCfgxConfigProvider(loader), GoOptionsResolver{}, runtime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime to win, got %q", cfg.ServiceName)
	}
	if cfg.Relay.MaxAttempts != 3 {
		t.Fatalf("expected file max_attempts, got %d", cfg.Relay.MaxAttempts)
	}
	if cfg.Relay.VisibilityTimeout != 30*time.Second {
		t.Fatalf("expected parsed duration, got %s", cfg.Relay.VisibilityTimeout)
	}
	if cfg.Gate.Timeout != DefaultGateTimeout {
		t.Fatalf("expected untouched defaults, got %s", cfg.Gate.Timeout)
	}
}

func TestResolveConfig_InvalidDuration(t *testing.T) {
	loader := StaticRawConfigLoader{Values: map[string]any{
		"gate": map[string]any{"timeout": "soon"},
	}}
	if _, err := ResolveConfig(context.Background(), NewCfgxConfigProvider(loader), nil, Config{}); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestConfigValidate_DuplicateTenants(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tenants = []TenantDescriptor{{Name: "SimpBot"}, {Name: "SimpBot"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duplicate tenant error")
	}
}

func TestConfigZoneFor(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ZoneFor(TenantDescriptor{Name: "SimpBot"}); got != DefaultDNSZone {
		t.Fatalf("expected default zone, got %q", got)
	}
	if got := cfg.ZoneFor(TenantDescriptor{Name: "SimpBot", DNSZone: "example.com"}); got != "example.com" {
		t.Fatalf("expected tenant zone, got %q", got)
	}
}
