// Package config holds the single configuration struct handed to the migration entry point.
//
// Values are layered (lowest to highest precedence): built-in defaults, an optional YAML file,
// ADGRAPH_* environment variables, and CLI flags that were explicitly set.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Log      LogConfig      `koanf:"log"`
	Source   SourceConfig   `koanf:"source"`
	Graph    GraphConfig    `koanf:"graph"`
	Redis    RedisConfig    `koanf:"redis"`
	Migrate  MigrateConfig  `koanf:"migrate"`
	Retry    RetryConfig    `koanf:"retry"`
	Otel     OtelConfig     `koanf:"otel"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Taxonomy TaxonomyConfig `koanf:"taxonomy"`
}

type LogConfig struct {
	Mode   string `koanf:"mode"`
	Level  string `koanf:"level"`
	Redact bool   `koanf:"redact"`
}

// SourceConfig points at the relational account database.
type SourceConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	SSLMode  string `koanf:"sslmode"`
	// DSN overrides the discrete fields when set.
	DSN string `koanf:"dsn"`
}

func (s SourceConfig) ConnString() string {
	if strings.TrimSpace(s.DSN) != "" {
		return strings.TrimSpace(s.DSN)
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(s.User, s.Password),
		Host:   fmt.Sprintf("%s:%d", s.Host, s.Port),
		Path:   "/" + s.Name,
	}
	q := u.Query()
	sslmode := strings.TrimSpace(s.SSLMode)
	if sslmode == "" {
		sslmode = "disable"
	}
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

type GraphConfig struct {
	// Host is the short form accepted by the CLI (-s); URI wins when both are set.
	Host           string `koanf:"host"`
	URI            string `koanf:"uri"`
	User           string `koanf:"user"`
	Password       string `koanf:"password"`
	Database       string `koanf:"database"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
	MaxPoolSize    int    `koanf:"max_pool_size"`
}

func (g GraphConfig) ResolvedURI() string {
	if strings.TrimSpace(g.URI) != "" {
		return strings.TrimSpace(g.URI)
	}
	host := strings.TrimSpace(g.Host)
	if host == "" {
		host = "localhost"
	}
	if strings.Contains(host, "://") {
		return host
	}
	if !strings.Contains(host, ":") {
		host += ":7687"
	}
	return "neo4j://" + host
}

func (g GraphConfig) Timeout() time.Duration {
	if g.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(g.TimeoutSeconds) * time.Second
}

type RedisConfig struct {
	Addr       string `koanf:"addr"`
	LockTTLSec int    `koanf:"lock_ttl_seconds"`
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

type MigrateConfig struct {
	Workers       int      `koanf:"workers"`
	Prefetch      int      `koanf:"prefetch"`
	CampaignTypes []string `koanf:"campaign_types"`
	AdGroupTypes  []string `koanf:"adgroup_types"`
	Countries     []string `koanf:"countries"`
	IncludePaused bool     `koanf:"include_paused"`
	OptimizedOnly bool     `koanf:"optimized_only"`
	Limit         int      `koanf:"limit"`
	DryRun        bool     `koanf:"dry_run"`
}

type RetryConfig struct {
	MaxAttempts  int     `koanf:"max_attempts"`
	MinBackoffMS int     `koanf:"min_backoff_ms"`
	MaxBackoffMS int     `koanf:"max_backoff_ms"`
	JitterFrac   float64 `koanf:"jitter_frac"`
}

type OtelConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Insecure     bool    `koanf:"insecure"`
	SampleRatio  float64 `koanf:"sample_ratio"`
	ServiceName  string  `koanf:"service_name"`
	Environment  string  `koanf:"environment"`
	ServiceBuild string  `koanf:"version"`
}

// MetricsConfig controls the Prometheus text dump written when a run finishes.
type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

type LedgerConfig struct {
	Enabled bool `koanf:"enabled"`
}

type TaxonomyConfig struct {
	SplitDimension string `koanf:"split_dimension"`
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Migrate.Workers < 1 {
		return fmt.Errorf("config: migrate.workers must be >= 1 (got %d)", c.Migrate.Workers)
	}
	if c.Migrate.Prefetch < 1 {
		return fmt.Errorf("config: migrate.prefetch must be >= 1 (got %d)", c.Migrate.Prefetch)
	}
	if c.Migrate.Limit < 0 {
		return fmt.Errorf("config: migrate.limit must be >= 0 (got %d)", c.Migrate.Limit)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be >= 1 (got %d)", c.Retry.MaxAttempts)
	}
	if c.Otel.SampleRatio < 0 || c.Otel.SampleRatio > 1 {
		return fmt.Errorf("config: otel.sample_ratio must be within [0,1] (got %v)", c.Otel.SampleRatio)
	}
	return nil
}
