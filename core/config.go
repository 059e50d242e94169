package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultGateTimeout       = 5 * time.Second
	DefaultVisibilityTimeout = 60 * time.Second
	DefaultMaxAttempts       = 5
	DefaultDNSZone           = "botfactory.lol"
)

type GateConfig struct {
	Timeout      time.Duration `koanf:"timeout" mapstructure:"timeout"`
	MaxBodyBytes int64         `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type RelayConfig struct {
	VisibilityTimeout time.Duration `koanf:"visibility_timeout" mapstructure:"visibility_timeout"`
	MaxAttempts       int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	MaxDelay          time.Duration `koanf:"max_delay" mapstructure:"max_delay"`
	PollInterval      time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	Workers           int           `koanf:"workers" mapstructure:"workers"`
}

type CommandsConfig struct {
	Interval   time.Duration `koanf:"interval" mapstructure:"interval"`
	Timeout    time.Duration `koanf:"timeout" mapstructure:"timeout"`
	APIBaseURL string        `koanf:"api_base_url" mapstructure:"api_base_url"`
}

type DNSConfig struct {
	DefaultZone string `koanf:"default_zone" mapstructure:"default_zone"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" mapstructure:"addr"`
}

type PersistenceConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type RedisConfig struct {
	URL string `koanf:"url" mapstructure:"url"`
}

type DeadLetterConfig struct {
	S3Bucket   string `koanf:"s3_bucket" mapstructure:"s3_bucket"`
	S3Region   string `koanf:"s3_region" mapstructure:"s3_region"`
	S3Endpoint string `koanf:"s3_endpoint" mapstructure:"s3_endpoint"`
	S3Prefix   string `koanf:"s3_prefix" mapstructure:"s3_prefix"`
}

type SecurityConfig struct {
	AppKey string `koanf:"app_key" mapstructure:"app_key"`
}

type Config struct {
	ServiceName string             `koanf:"service_name" mapstructure:"service_name"`
	Gate        GateConfig         `koanf:"gate" mapstructure:"gate"`
	Relay       RelayConfig        `koanf:"relay" mapstructure:"relay"`
	Commands    CommandsConfig     `koanf:"commands" mapstructure:"commands"`
	DNS         DNSConfig          `koanf:"dns" mapstructure:"dns"`
	HTTP        HTTPConfig         `koanf:"http" mapstructure:"http"`
	Persistence PersistenceConfig  `koanf:"persistence" mapstructure:"persistence"`
	Redis       RedisConfig        `koanf:"redis" mapstructure:"redis"`
	DeadLetter  DeadLetterConfig   `koanf:"dead_letter" mapstructure:"dead_letter"`
	Security    SecurityConfig     `koanf:"security" mapstructure:"security"`
	Tenants     []TenantDescriptor `koanf:"tenants" mapstructure:"tenants"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "botfactory",
		Gate: GateConfig{
			Timeout:      DefaultGateTimeout,
			MaxBodyBytes: 1 << 20,
		},
		Relay: RelayConfig{
			VisibilityTimeout: DefaultVisibilityTimeout,
			MaxAttempts:       DefaultMaxAttempts,
			MaxDelay:          30 * time.Second,
			PollInterval:      time.Second,
			Workers:           4,
		},
		Commands: CommandsConfig{
			Interval:   24 * time.Hour,
			Timeout:    5 * time.Minute,
			APIBaseURL: "https://discord.com/api/v10",
		},
		DNS:  DNSConfig{DefaultZone: DefaultDNSZone},
		HTTP: HTTPConfig{Addr: ":8080"},
		Persistence: PersistenceConfig{
			Driver: "sqlite3",
			DSN:    "file:botfactory.db?cache=shared&_foreign_keys=on",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Gate.Timeout <= 0 {
		return fmt.Errorf("core: gate.timeout must be positive")
	}
	if c.Relay.VisibilityTimeout <= 0 {
		return fmt.Errorf("core: relay.visibility_timeout must be positive")
	}
	if c.Relay.MaxAttempts <= 0 {
		return fmt.Errorf("core: relay.max_attempts must be positive")
	}
	if c.Relay.Workers < 0 {
		return fmt.Errorf("core: relay.workers must not be negative")
	}
	switch strings.TrimSpace(c.Persistence.Driver) {
	case "", "sqlite3", "sqlite", "postgres":
	default:
		return fmt.Errorf("core: persistence.driver %q is invalid", c.Persistence.Driver)
	}
	seen := map[string]bool{}
	for _, tenant := range c.Tenants {
		name := strings.TrimSpace(tenant.Name)
		if name == "" {
			return fmt.Errorf("core: tenants[].name is required")
		}
		if seen[name] {
			return fmt.Errorf("core: tenant %q is declared twice", name)
		}
		seen[name] = true
	}
	return nil
}

// ZoneFor returns the hosted zone for a tenant, falling back to dns.default_zone.
func (c Config) ZoneFor(tenant TenantDescriptor) string {
	if zone := strings.TrimSpace(tenant.DNSZone); zone != "" {
		return zone
	}
	if zone := strings.TrimSpace(c.DNS.DefaultZone); zone != "" {
		return zone
	}
	return DefaultDNSZone
}
