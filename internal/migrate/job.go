// Package migrate runs one migration: schema apply, then the load phases of the selected action
// in dependency order.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/yungbote/adgraph/internal/data/repos/ledger"
	"github.com/yungbote/adgraph/internal/data/source"
	"github.com/yungbote/adgraph/internal/domain/adaccount"
	"github.com/yungbote/adgraph/internal/domain/migerr"
	"github.com/yungbote/adgraph/internal/graphstore"
	"github.com/yungbote/adgraph/internal/loader"
	"github.com/yungbote/adgraph/internal/observability"
	"github.com/yungbote/adgraph/internal/pkg/dbctx"
	"github.com/yungbote/adgraph/internal/platform/logger"
	"github.com/yungbote/adgraph/internal/platform/retry"
	"github.com/yungbote/adgraph/internal/resolve"
	"github.com/yungbote/adgraph/internal/schema"
)

type Action string

const (
	ActionAccount  Action = "account"
	ActionShopping Action = "shopping"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionAccount, ActionShopping:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q (want account or shopping)", s)
}

// SchemaSet is the module set an action needs applied before loading.
func (a Action) SchemaSet() string {
	if a == ActionShopping {
		return schema.SetShopping
	}
	return schema.SetBase
}

// Keyspace names the graph keyspace holding one account.
func Keyspace(account string) string {
	return "account_" + strings.TrimSpace(account)
}

type Options struct {
	Account  string
	Keyspace string
	Action   Action
	Filter   source.Filter
	Workers  int
	Prefetch int
	DryRun   bool
	Retry    retry.Policy
	// MetricsTextfile receives a Prometheus text dump when the run ends; empty disables it.
	MetricsTextfile string
}

type Deps struct {
	Log       *logger.Logger
	Store     graphstore.Store
	Registry  *schema.Registry
	Resolver  *resolve.Resolver
	Extractor *source.Extractor
	// Runs is optional; without it no ledger row is written.
	Runs    ledger.MigrationRunRepo
	Metrics *observability.Metrics
}

type Result struct {
	RunID    uuid.UUID
	Keyspace string
	Action   Action
	Schema   []schema.Created
	Summary  loader.Summary
	Duration time.Duration
}

func (r Result) Failed() int64 { return r.Summary.Failed() }

// stage is one dependency-ordered step of a run.
type stage struct {
	name string
	run  func(ctx context.Context, s graphstore.Session, l *loader.Loader) error
}

type Job struct {
	log  *logger.Logger
	deps Deps
	opts Options
}

func NewJob(deps Deps, opts Options) (*Job, error) {
	if deps.Store == nil || deps.Registry == nil || deps.Resolver == nil || deps.Extractor == nil {
		return nil, fmt.Errorf("migrate: store, registry, resolver and extractor are required")
	}
	if strings.TrimSpace(opts.Account) == "" {
		return nil, fmt.Errorf("migrate: account is required")
	}
	if opts.Action == "" {
		return nil, fmt.Errorf("migrate: action is required")
	}
	if opts.Keyspace == "" {
		opts.Keyspace = Keyspace(opts.Account)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Prefetch < 1 {
		opts.Prefetch = opts.Workers * 4
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Job{
		log:  log.With("component", "MigrationJob", "keyspace", opts.Keyspace, "action", string(opts.Action)),
		deps: deps,
		opts: opts,
	}, nil
}

func (j *Job) stages() []stage {
	ex, f := j.deps.Extractor, j.opts.Filter
	if j.opts.Action == ActionShopping {
		return []stage{
			{name: "partitions", run: func(ctx context.Context, s graphstore.Session, l *loader.Loader) error {
				return runPhase(ctx, j, "partitions", ex.Partitions(f), func(ctx context.Context, rec source.PartitionRecord) error {
					return l.LoadPartition(ctx, s, rec)
				})
			}},
			{name: "offers", run: func(ctx context.Context, s graphstore.Session, l *loader.Loader) error {
				return runPhase(ctx, j, "offers", ex.Offers(f), func(ctx context.Context, rec source.OfferRecord) error {
					return l.LoadOffer(ctx, s, rec)
				})
			}},
			{name: "hierarchy", run: func(ctx context.Context, s graphstore.Session, l *loader.Loader) error {
				return l.DeriveHierarchy(ctx, s)
			}},
		}
	}
	return []stage{
		{name: "campaigns", run: func(ctx context.Context, s graphstore.Session, l *loader.Loader) error {
			return runPhase(ctx, j, "campaigns", ex.Campaigns(f), func(ctx context.Context, rec source.CampaignRecord) error {
				return l.LoadCampaign(ctx, s, rec)
			})
		}},
		{name: "adgroups", run: func(ctx context.Context, s graphstore.Session, l *loader.Loader) error {
			return runPhase(ctx, j, "adgroups", ex.AdGroups(f), func(ctx context.Context, rec source.AdGroupRecord) error {
				return l.LoadAdGroup(ctx, s, rec)
			})
		}},
	}
}

// Run applies the schema and executes every stage. Row failures are counted in the result; the
// returned error is set only for schema failures, fatal row errors, source failures and
// cancellation.
func (j *Job) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	res := Result{Keyspace: j.opts.Keyspace, Action: j.opts.Action}

	ctx, span := observability.Tracer().Start(ctx, "migrate.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("adgraph.keyspace", j.opts.Keyspace),
		attribute.String("adgraph.action", string(j.opts.Action)),
		attribute.Bool("adgraph.dry_run", j.opts.DryRun),
	)

	res.RunID = j.startLedger(ctx)

	l := loader.New(j.log, j.deps.Registry, j.deps.Resolver, loader.Options{
		Retry:   j.opts.Retry,
		Hooks:   j.hooks(),
		Workers: j.opts.Workers,
	})
	err := j.run(ctx, l, &res)

	res.Summary = l.Report()
	res.Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int64("adgraph.created", res.Summary.Created()),
		attribute.Int64("adgraph.failed", res.Summary.Failed()),
	)
	j.finishLedger(ctx, res, err)
	j.flushMetrics(res)

	j.log.Info("migration finished",
		"run_id", res.RunID,
		"created", res.Summary.Created(),
		"failed", res.Summary.Failed(),
		"duration_ms", res.Duration.Milliseconds(),
		"error", err,
	)
	return res, err
}

func (j *Job) run(ctx context.Context, l *loader.Loader, res *Result) error {
	s, err := j.deps.Store.Session(ctx, j.opts.Keyspace)
	if err != nil {
		return graphstore.MapError("migrate.session", err)
	}
	defer func() {
		if cerr := s.Close(context.WithoutCancel(ctx)); cerr != nil {
			j.log.Warn("graph session close failed", "error", cerr)
		}
	}()

	sctx, span := observability.Tracer().Start(ctx, "migrate.schema")
	created, err := j.deps.Registry.Apply(sctx, s, j.opts.Action.SchemaSet())
	span.End()
	res.Schema = created
	if err != nil {
		return fmt.Errorf("apply schema %s: %w", j.opts.Action.SchemaSet(), err)
	}
	for _, c := range created {
		j.log.Info("schema module applied", "module", c.Module, "created", c.Total())
	}

	for _, st := range j.stages() {
		if err := ctx.Err(); err != nil {
			return err
		}
		pctx, span := observability.Tracer().Start(ctx, "migrate.stage."+st.name)
		begin := time.Now()
		err := st.run(pctx, s, l)
		if j.deps.Metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			j.deps.Metrics.ObserveOperation("stage_"+st.name, status, time.Since(begin))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if err != nil {
			return fmt.Errorf("stage %s: %w", st.name, err)
		}
	}
	return nil
}

// runPhase streams seq through a bounded worker pool. Only fatal row errors stop the phase; the
// prefetch buffer bounds how far the source reads ahead. Rows admitted after cancellation are not
// started and not counted.
func runPhase[T any](ctx context.Context, j *Job, name string, seq source.Sequence[T], fn func(context.Context, T) error) error {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := source.Prefetch(pctx, seq, j.opts.Prefetch)
	g, gctx := errgroup.WithContext(pctx)
	g.SetLimit(j.opts.Workers)

	var rows atomic.Int64
	for rec := range stream.C {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Cancellation is only observed between rows; a started row runs to completion.
			if gctx.Err() != nil {
				return nil
			}
			rows.Add(1)
			if err := fn(context.WithoutCancel(gctx), rec); err != nil && migerr.IsFatal(err) {
				return err
			}
			return nil
		})
	}
	werr := g.Wait()
	cancel()
	serr := stream.Wait()

	j.log.Info("phase done", "phase", name, "rows", rows.Load())
	switch {
	case werr != nil:
		return werr
	case ctx.Err() != nil:
		return ctx.Err()
	case serr != nil && !errors.Is(serr, context.Canceled):
		return serr
	}
	return nil
}

func (j *Job) hooks() loader.Hooks {
	if j.deps.Metrics == nil {
		return nil
	}
	return loader.NewObservabilityHooks(j.deps.Metrics)
}

func (j *Job) startLedger(ctx context.Context) uuid.UUID {
	if j.deps.Runs == nil {
		return uuid.New()
	}
	filter, _ := json.Marshal(j.opts.Filter)
	run := &adaccount.MigrationRun{
		Account:  j.opts.Account,
		Keyspace: j.opts.Keyspace,
		Action:   string(j.opts.Action),
		DryRun:   j.opts.DryRun,
		Filter:   datatypes.JSON(filter),
	}
	if err := j.deps.Runs.Start(dbctx.Context{Ctx: ctx}, run); err != nil {
		j.log.Warn("ledger start failed (continuing)", "error", err)
		return uuid.New()
	}
	return run.ID
}

func (j *Job) finishLedger(ctx context.Context, res Result, runErr error) {
	if j.deps.Runs == nil {
		return
	}
	status, msg := adaccount.RunStatusSucceeded, ""
	if runErr != nil {
		status, msg = adaccount.RunStatusFailed, runErr.Error()
	}
	dbc := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
	if err := j.deps.Runs.Finish(dbc, res.RunID, status, res.Summary, int(res.Summary.Failed()), msg); err != nil {
		j.log.Warn("ledger finish failed", "run_id", res.RunID, "error", err)
	}
}

func (j *Job) flushMetrics(res Result) {
	if j.deps.Metrics == nil {
		return
	}
	j.deps.Metrics.SetRunDuration(string(res.Action), res.Duration)
	if j.opts.MetricsTextfile == "" {
		return
	}
	if err := j.deps.Metrics.WriteTextfile(j.opts.MetricsTextfile); err != nil {
		j.log.Warn("metrics textfile write failed", "path", j.opts.MetricsTextfile, "error", err)
	}
}
