package app

import (
	"context"
	"fmt"

	"github.com/yungbote/adgraph/internal/config"
	"github.com/yungbote/adgraph/internal/data/db"
	"github.com/yungbote/adgraph/internal/graphstore"
	"github.com/yungbote/adgraph/internal/graphstore/memstore"
	"github.com/yungbote/adgraph/internal/graphstore/neo4jstore"
	"github.com/yungbote/adgraph/internal/platform/logger"
	"github.com/yungbote/adgraph/internal/platform/neo4jdb"
	"github.com/yungbote/adgraph/internal/platform/redislock"
	"github.com/yungbote/adgraph/internal/resolve"
)

type Clients struct {
	Source *db.PostgresService
	Graph  graphstore.Store
	Locker resolve.Locker

	closers []func(context.Context) error
}

func (c *Clients) close(ctx context.Context, log *logger.Logger) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			log.Warn("client close failed", "error", err)
		}
	}
	c.closers = nil
}

func wireClients(ctx context.Context, log *logger.Logger, cfg config.Config, needs Needs) (*Clients, error) {
	log.Info("Wiring clients...")
	c := &Clients{}

	if needs.Source {
		pg, err := db.NewPostgresService(cfg.Source, log)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		c.Source = pg
		c.closers = append(c.closers, func(context.Context) error { return pg.Close() })
		if cfg.Ledger.Enabled {
			if err := db.AutoMigrateLedger(pg.DB()); err != nil {
				c.close(ctx, log)
				return nil, err
			}
		}
	}

	if needs.Graph {
		if cfg.Migrate.DryRun {
			log.Info("dry run: writing to an in-process graph store")
			c.Graph = memstore.New()
		} else {
			client, err := neo4jdb.New(ctx, cfg.Graph, log)
			if err != nil {
				c.close(ctx, log)
				return nil, fmt.Errorf("init neo4j: %w", err)
			}
			store, err := neo4jstore.New(client, log)
			if err != nil {
				_ = client.Close(ctx)
				c.close(ctx, log)
				return nil, fmt.Errorf("init graph store: %w", err)
			}
			c.Graph = store
			c.closers = append(c.closers, store.Close)
		}
	}

	if needs.Graph && cfg.Redis.Enabled() && !cfg.Migrate.DryRun {
		lk, err := redislock.New(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn("redis lock unavailable; canonical keys are deduplicated in-process only", "error", err)
		} else {
			c.Locker = lk
			c.closers = append(c.closers, func(context.Context) error { return lk.Close() })
		}
	}
	return c, nil
}
