package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const EnvPrefix = "ADGRAPH_"

// DefaultConfigFile is picked up from the working directory when no explicit path is given.
const DefaultConfigFile = "adgraph.yaml"

// flagKeys maps CLI flag names onto config keys. Flags not listed here are command-local.
var flagKeys = map[string]string{
	"host":            "graph.host",
	"neo4j-uri":       "graph.uri",
	"neo4j-database":  "graph.database",
	"source-dsn":      "source.dsn",
	"redis-addr":      "redis.addr",
	"workers":         "migrate.workers",
	"prefetch":        "migrate.prefetch",
	"campaign-types":  "migrate.campaign_types",
	"adgroup-types":   "migrate.adgroup_types",
	"countries":       "migrate.countries",
	"include-paused":  "migrate.include_paused",
	"optimized-only":  "migrate.optimized_only",
	"limit":           "migrate.limit",
	"dry-run":         "migrate.dry_run",
	"log-mode":        "log.mode",
	"log-level":       "log.level",
	"split-dimension": "taxonomy.split_dimension",
	"metrics-out":     "metrics.textfile",
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"log.mode":                 "development",
		"log.level":                "info",
		"log.redact":               true,
		"source.host":              "localhost",
		"source.port":              5432,
		"source.user":              "postgres",
		"source.name":              "account",
		"source.sslmode":           "disable",
		"graph.host":               "localhost",
		"graph.user":               "neo4j",
		"graph.timeout_seconds":    10,
		"graph.max_pool_size":      50,
		"redis.lock_ttl_seconds":   30,
		"migrate.workers":          4,
		"migrate.prefetch":         64,
		"migrate.campaign_types":   []string{"SHOPPING"},
		"migrate.countries":        []string{},
		"migrate.optimized_only":   false,
		"retry.max_attempts":       5,
		"retry.min_backoff_ms":     100,
		"retry.max_backoff_ms":     5000,
		"retry.jitter_frac":        0.2,
		"otel.sample_ratio":        0.1,
		"otel.service_name":        "adgraph",
		"taxonomy.split_dimension": "brand",
	}
}

// Load layers defaults, the YAML file (explicit path or ./adgraph.yaml when present),
// ADGRAPH_* env vars and explicitly-set flags into a Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	path := strings.TrimSpace(cfgFile)
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	// ADGRAPH_GRAPH__MAX_POOL_SIZE -> graph.max_pool_size
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return Config{}, fmt.Errorf("config: load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Migrate.CampaignTypes = normalizeList(cfg.Migrate.CampaignTypes)
	cfg.Migrate.AdGroupTypes = normalizeList(cfg.Migrate.AdGroupTypes)
	cfg.Migrate.Countries = normalizeList(cfg.Migrate.Countries)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey turns ADGRAPH_SECTION__FIELD_NAME into section.field_name. A double underscore
// separates levels so single underscores survive inside field names.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// normalizeList splits comma-joined entries (env vars arrive as one string) and trims blanks.
func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
