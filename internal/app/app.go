// Package app wires configuration, clients and components for one CLI invocation.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/adgraph/internal/config"
	"github.com/yungbote/adgraph/internal/data/source"
	"github.com/yungbote/adgraph/internal/graphstore"
	"github.com/yungbote/adgraph/internal/migrate"
	"github.com/yungbote/adgraph/internal/observability"
	"github.com/yungbote/adgraph/internal/platform/logger"
	"github.com/yungbote/adgraph/internal/platform/retry"
	"github.com/yungbote/adgraph/internal/resolve"
	"github.com/yungbote/adgraph/internal/schema"
)

// Needs selects which external clients a command opens.
type Needs struct {
	Source bool
	Graph  bool
}

type App struct {
	Log       *logger.Logger
	Cfg       config.Config
	Clients   *Clients
	Repos     Repos
	Registry  *schema.Registry
	Resolver  *resolve.Resolver
	Extractor *source.Extractor
	Metrics   *observability.Metrics

	shutdownOTel func(context.Context) error
}

func New(ctx context.Context, cfg config.Config, needs Needs) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logger.NewWithLevel(cfg.Log.Mode, cfg.Log.Level, cfg.Log.Redact)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	shutdown := observability.InitOTel(ctx, log, cfg.Otel)

	reg, err := schema.NewRegistry(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init schema registry: %w", err)
	}

	clients, err := wireClients(ctx, log, cfg, needs)
	if err != nil {
		_ = shutdown(ctx)
		log.Sync()
		return nil, err
	}

	a := &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Registry:     reg,
		Metrics:      observability.NewMetrics(),
		shutdownOTel: shutdown,
	}
	if clients.Source != nil {
		a.Repos = wireRepos(clients.Source.DB(), log, cfg.Ledger.Enabled)
		a.Extractor = source.NewExtractor(clients.Source.DB(), log)
	}
	a.Resolver = resolve.New(log, resolve.Options{
		Retry:  a.RetryPolicy(),
		Locker: clients.Locker,
		Hooks:  a.Metrics,
	})
	return a, nil
}

func (a *App) RetryPolicy() retry.Policy {
	r := a.Cfg.Retry
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		MinBackoff:  time.Duration(r.MinBackoffMS) * time.Millisecond,
		MaxBackoff:  time.Duration(r.MaxBackoffMS) * time.Millisecond,
		JitterFrac:  r.JitterFrac,
		Retryable:   graphstore.IsTransient,
	}
}

// Filter translates the migrate settings into the extraction predicate set.
func (a *App) Filter() source.Filter {
	m := a.Cfg.Migrate
	f := source.Filter{
		CampaignTypes: m.CampaignTypes,
		AdGroupTypes:  m.AdGroupTypes,
		Countries:     m.Countries,
		OptimizedOnly: m.OptimizedOnly,
		Limit:         m.Limit,
	}
	if m.IncludePaused {
		f.Status = source.StatusModePaused
	}
	return f
}

// Migrate runs one action for account.
func (a *App) Migrate(ctx context.Context, account string, action migrate.Action) (migrate.Result, error) {
	if a.Extractor == nil || a.Clients.Graph == nil {
		return migrate.Result{}, fmt.Errorf("app: migrate needs source and graph clients")
	}
	job, err := migrate.NewJob(migrate.Deps{
		Log:       a.Log,
		Store:     a.Clients.Graph,
		Registry:  a.Registry,
		Resolver:  a.Resolver,
		Extractor: a.Extractor,
		Runs:      a.Repos.MigrationRun,
		Metrics:   a.Metrics,
	}, migrate.Options{
		Account:         account,
		Action:          action,
		Filter:          a.Filter(),
		Workers:         a.Cfg.Migrate.Workers,
		Prefetch:        a.Cfg.Migrate.Prefetch,
		DryRun:          a.Cfg.Migrate.DryRun,
		Retry:           a.RetryPolicy(),
		MetricsTextfile: a.Cfg.Metrics.Textfile,
	})
	if err != nil {
		return migrate.Result{}, err
	}
	return job.Run(ctx)
}

// Taxonomy builds the classification tree of account for the configured filter.
func (a *App) Taxonomy(ctx context.Context, account string) (migrate.TaxonomyResult, error) {
	if a.Extractor == nil {
		return migrate.TaxonomyResult{}, fmt.Errorf("app: taxonomy needs the source client")
	}
	account = strings.TrimSpace(account)
	if account == "" {
		return migrate.TaxonomyResult{}, fmt.Errorf("app: account is required")
	}
	return migrate.BuildTaxonomy(ctx, a.Log.With("account", account), a.Extractor, a.Filter(), a.Cfg.Taxonomy.SplitDimension)
}

// Session opens a graph session on keyspace.
func (a *App) Session(ctx context.Context, keyspace string) (graphstore.Session, error) {
	if a.Clients.Graph == nil {
		return nil, fmt.Errorf("app: graph client not wired")
	}
	s, err := a.Clients.Graph.Session(ctx, keyspace)
	if err != nil {
		return nil, graphstore.MapError("app.session", err)
	}
	return s, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.Clients != nil {
		a.Clients.close(ctx, a.Log)
	}
	if a.shutdownOTel != nil {
		if err := a.shutdownOTel(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
