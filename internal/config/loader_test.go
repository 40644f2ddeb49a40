package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Migrate.Workers != 4 || cfg.Migrate.Prefetch != 64 {
		t.Fatalf("migrate defaults: got workers=%d prefetch=%d", cfg.Migrate.Workers, cfg.Migrate.Prefetch)
	}
	if !reflect.DeepEqual(cfg.Migrate.CampaignTypes, []string{"SHOPPING"}) {
		t.Fatalf("campaign types default: got %v", cfg.Migrate.CampaignTypes)
	}
	if cfg.Graph.ResolvedURI() != "neo4j://localhost:7687" {
		t.Fatalf("graph uri: got %s", cfg.Graph.ResolvedURI())
	}
	if cfg.Taxonomy.SplitDimension != "brand" {
		t.Fatalf("split dimension: got %q", cfg.Taxonomy.SplitDimension)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "adgraph.yaml")
	yml := []byte(`
migrate:
  workers: 2
  countries: [DE]
graph:
  host: graph.internal
`)
	if err := os.WriteFile(path, yml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ADGRAPH_MIGRATE__WORKERS", "6")
	t.Setenv("ADGRAPH_MIGRATE__COUNTRIES", "DE, AT")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("workers", 1, "")
	flags.String("host", "", "")
	flags.Bool("include-paused", false, "")
	if err := flags.Parse([]string{"--workers=8", "--include-paused"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Migrate.Workers != 8 {
		t.Fatalf("flag should win: want=8 got=%d", cfg.Migrate.Workers)
	}
	if !cfg.Migrate.IncludePaused {
		t.Fatalf("include-paused flag not applied")
	}
	if !reflect.DeepEqual(cfg.Migrate.Countries, []string{"DE", "AT"}) {
		t.Fatalf("env should override file: got %v", cfg.Migrate.Countries)
	}
	if cfg.Graph.Host != "graph.internal" {
		t.Fatalf("unset flag must not clobber file value: got %q", cfg.Graph.Host)
	}
	if cfg.Graph.ResolvedURI() != "neo4j://graph.internal:7687" {
		t.Fatalf("graph uri: got %s", cfg.Graph.ResolvedURI())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("ADGRAPH_MIGRATE__WORKERS", "0")
	if _, err := Load("", nil); err == nil {
		t.Fatalf("expected validation error for zero workers")
	}
}

func TestSourceConnString(t *testing.T) {
	s := SourceConfig{Host: "db", Port: 5433, User: "u", Password: "p@ss", Name: "acct"}
	want := "postgres://u:p%40ss@db:5433/acct?sslmode=disable"
	if got := s.ConnString(); got != want {
		t.Fatalf("conn string: want=%s got=%s", want, got)
	}
	s.DSN = "postgres://override"
	if got := s.ConnString(); got != "postgres://override" {
		t.Fatalf("dsn override: got=%s", got)
	}
}
