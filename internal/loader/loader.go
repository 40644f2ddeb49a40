// Package loader writes extracted account rows into the graph store, one transaction per record.
package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/adgraph/internal/data/source"
	"github.com/yungbote/adgraph/internal/domain/migerr"
	"github.com/yungbote/adgraph/internal/graphstore"
	"github.com/yungbote/adgraph/internal/platform/logger"
	"github.com/yungbote/adgraph/internal/platform/retry"
	"github.com/yungbote/adgraph/internal/resolve"
	"github.com/yungbote/adgraph/internal/schema"
)

// Entity and relation type labels written by the loader.
const (
	TypeCampaign         = "Campaign"
	TypeAdGroup          = "AdGroup"
	TypeProductPartition = "ProductPartition"
	TypeProductDimension = "ProductDimension"
	TypeProduct          = "Product"

	RelCampaignAdGroup  = "campaign-adgroup"
	RelAdGroupCriterion = "adgroup-criterion"
	RelCaseValue        = "case-value"
	RelProductOffer     = "product-offer"
	RelNodeHierarchy    = "node-hierarchy"
	RelAncestorship     = "ancestorship"
	RelSiblings         = "siblings"
)

type Options struct {
	Retry retry.Policy
	Hooks Hooks
	// Workers bounds the concurrency of DeriveHierarchy.
	Workers int
}

// Loader is scoped to one run: its natural-key index and partition registry describe what this run
// has seen.
type Loader struct {
	log      *logger.Logger
	reg      *schema.Registry
	resolver *resolve.Resolver
	policy   retry.Policy
	hooks    Hooks
	workers  int
	report   *Report

	mu    sync.RWMutex
	index map[string]graphstore.ConceptID
	parts []partition
}

// partition is the hierarchy-relevant view of a loaded product partition.
type partition struct {
	id          graphstore.ConceptID
	criterionID int64
	adGroupID   int64
	parentID    *int64
}

func New(log *logger.Logger, reg *schema.Registry, resolver *resolve.Resolver, opts Options) *Loader {
	if log == nil {
		log = logger.Nop()
	}
	policy := opts.Retry
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 5
	}
	if policy.Retryable == nil {
		policy.Retryable = graphstore.IsTransient
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = noopHooks{}
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Loader{
		log:      log.With("component", "GraphLoader"),
		reg:      reg,
		resolver: resolver,
		policy:   policy,
		hooks:    hooks,
		workers:  workers,
		report:   NewReport(),
		index:    map[string]graphstore.ConceptID{},
	}
}

func (l *Loader) Report() Summary { return l.report.Summary() }

func indexKey(typ string, key int64) string {
	return fmt.Sprintf("%s:%d", typ, key)
}

func (l *Loader) indexed(typ string, key int64) (graphstore.ConceptID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.index[indexKey(typ, key)]
	return id, ok
}

func (l *Loader) remember(typ string, key int64, id graphstore.ConceptID) {
	l.mu.Lock()
	l.index[indexKey(typ, key)] = id
	l.mu.Unlock()
}

// finish records the outcome of one entity or relation write and decides what the caller sees:
// fatal errors propagate, everything else is counted and logged.
func (l *Loader) finish(relation bool, kind string, o Outcome, err error, start time.Time, fields ...any) error {
	phase := "entity"
	if relation {
		phase = "relation"
	}
	if err != nil {
		switch {
		case migerr.IsCode(err, migerr.CodeMalformedRecord):
			o = OutcomeSkipped
			l.log.Warn("record skipped", append(fields, "kind", kind, "error", err)...)
		default:
			o = OutcomeFailed
			if migerr.IsFatal(err) {
				l.hooks.IncConflict(kind)
			}
			l.log.Error("record failed", append(fields, "kind", kind, "error", err)...)
		}
	}
	if relation {
		l.report.AddRelation(kind, o)
	} else {
		l.report.AddEntity(kind, o)
	}
	l.hooks.IncRow(phase, kind, string(o))
	l.hooks.ObserveOperation("load_"+kind, string(o), time.Since(start))
	return err
}

// withRetry runs fn in a write transaction, retrying transient failures.
func (l *Loader) withRetry(ctx context.Context, s graphstore.Session, op string, fn func(tx graphstore.Tx) error) error {
	return retry.Do(ctx, l.policy, func(attempt int) error {
		if attempt > 1 {
			l.hooks.IncRetry(op)
		}
		return graphstore.MapError(op, graphstore.InTx(ctx, s, fn))
	})
}

// ensureEntity reuses the instance of typ whose key attribute equals key, or creates it with attrs.
func (l *Loader) ensureEntity(ctx context.Context, s graphstore.Session, typ string, key int64, attrs map[string]any) (graphstore.ConceptID, Outcome, error) {
	op := "loader.ensure_" + strings.ToLower(typ)
	h, err := l.reg.Resolve(typ)
	if err != nil {
		return "", OutcomeFailed, err
	}
	for a := range attrs {
		if !h.Owns[a] {
			return "", OutcomeFailed, migerr.New(migerr.CodeUnknownType, op, fmt.Sprintf("%s does not own %s", typ, a), nil)
		}
	}

	var (
		id graphstore.ConceptID
		o  Outcome
	)
	err = l.withRetry(ctx, s, op, func(tx graphstore.Tx) error {
		ids, err := tx.Match(ctx, graphstore.Query{Type: typ, Attrs: map[string]any{h.Key: key}, Limit: 1})
		if err != nil {
			return err
		}
		if len(ids) == 1 {
			id, o = ids[0], OutcomeExisting
			return nil
		}
		id, err = tx.CreateEntity(ctx, typ)
		if err != nil {
			return err
		}
		if err := attach(ctx, tx, id, attrs); err != nil {
			return err
		}
		o = OutcomeCreated
		return nil
	})
	if err != nil {
		return "", OutcomeFailed, err
	}
	l.remember(typ, key, id)
	return id, o, nil
}

func attach(ctx context.Context, tx graphstore.Tx, owner graphstore.ConceptID, attrs map[string]any) error {
	for _, label := range sortedLabels(attrs) {
		attr, err := tx.CreateAttribute(ctx, label, attrs[label])
		if err != nil {
			return err
		}
		if err := tx.AttachAttribute(ctx, owner, attr); err != nil {
			return err
		}
	}
	return nil
}

// ensureRelation creates typ between players unless an instance with the same players exists.
func (l *Loader) ensureRelation(ctx context.Context, s graphstore.Session, typ string, players []graphstore.RolePlayer, attrs map[string]any) (Outcome, error) {
	op := "loader.ensure_" + typ
	h, err := l.reg.Resolve(typ)
	if err != nil {
		return OutcomeFailed, err
	}
	for _, p := range players {
		if !h.Relates[p.Role] {
			return OutcomeFailed, migerr.New(migerr.CodeUnknownType, op, fmt.Sprintf("%s does not relate %s", typ, p.Role), nil)
		}
	}

	var o Outcome
	err = l.withRetry(ctx, s, op, func(tx graphstore.Tx) error {
		ids, err := tx.Match(ctx, graphstore.Query{Type: typ, Players: players, Limit: 1})
		if err != nil {
			return err
		}
		if len(ids) == 1 {
			o = OutcomeExisting
			return nil
		}
		rel, err := tx.CreateRelation(ctx, typ)
		if err != nil {
			return err
		}
		for _, p := range players {
			if err := tx.AssignRole(ctx, rel, p.Role, p.Player); err != nil {
				return err
			}
		}
		if err := attach(ctx, tx, rel, attrs); err != nil {
			return err
		}
		o = OutcomeCreated
		return nil
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return o, nil
}

// endpoint finds an already-loaded entity by natural key, first in this run's index and then in
// the store for entities written by earlier runs.
func (l *Loader) endpoint(ctx context.Context, s graphstore.Session, typ string, key int64) (graphstore.ConceptID, error) {
	if id, ok := l.indexed(typ, key); ok {
		return id, nil
	}
	op := "loader.endpoint"
	h, err := l.reg.Resolve(typ)
	if err != nil {
		return "", err
	}
	var ids []graphstore.ConceptID
	err = retry.Do(ctx, l.policy, func(int) error {
		return graphstore.MapError(op, graphstore.InReadTx(ctx, s, func(tx graphstore.Tx) error {
			var err error
			ids, err = tx.Match(ctx, graphstore.Query{Type: typ, Attrs: map[string]any{h.Key: key}, Limit: 1})
			return err
		}))
	})
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", migerr.MalformedRecord(op, "%s %d is not loaded", typ, key)
	}
	l.remember(typ, key, ids[0])
	return ids[0], nil
}

func putString(m map[string]any, label, v string) {
	if v = strings.TrimSpace(v); v != "" {
		m[label] = v
	}
}

// LoadCampaign writes one Campaign keyed by campaign-id.
func (l *Loader) LoadCampaign(ctx context.Context, s graphstore.Session, rec source.CampaignRecord) error {
	start := time.Now()
	if rec.CampaignID <= 0 {
		return l.finish(false, TypeCampaign, "", migerr.MalformedRecord("loader.campaign", "campaign_id %d", rec.CampaignID), start, "record", rec)
	}
	attrs := map[string]any{"campaign-id": rec.CampaignID}
	putString(attrs, "campaign-name", rec.CampaignName)
	putString(attrs, "aw-campaign-type", rec.AwCampaignType)
	putString(attrs, "status", rec.Status)
	_, o, err := l.ensureEntity(ctx, s, TypeCampaign, rec.CampaignID, attrs)
	return l.finish(false, TypeCampaign, o, err, start, "campaign_id", rec.CampaignID)
}

// LoadAdGroup writes one AdGroup and links it to its campaign.
func (l *Loader) LoadAdGroup(ctx context.Context, s graphstore.Session, rec source.AdGroupRecord) error {
	start := time.Now()
	if rec.AdGroupID <= 0 || rec.CampaignID <= 0 {
		return l.finish(false, TypeAdGroup, "", migerr.MalformedRecord("loader.adgroup", "adgroup_id %d campaign_id %d", rec.AdGroupID, rec.CampaignID), start, "record", rec)
	}
	attrs := map[string]any{"adgroup-id": rec.AdGroupID, "campaign-id": rec.CampaignID}
	putString(attrs, "adgroup-name", rec.AdGroupName)
	putString(attrs, "status", rec.Status)
	putString(attrs, "aw-adgroup-type", rec.AwAdGroupType)
	id, o, err := l.ensureEntity(ctx, s, TypeAdGroup, rec.AdGroupID, attrs)
	if err := l.finish(false, TypeAdGroup, o, err, start, "adgroup_id", rec.AdGroupID); err != nil {
		return err
	}

	start = time.Now()
	o, err = l.linkParent(ctx, s, TypeCampaign, rec.CampaignID, RelCampaignAdGroup, "campaign", "adgroup", id)
	return l.finish(true, RelCampaignAdGroup, o, err, start, "adgroup_id", rec.AdGroupID, "campaign_id", rec.CampaignID)
}

func (l *Loader) linkParent(ctx context.Context, s graphstore.Session, parentType string, parentKey int64, rel, parentRole, childRole string, child graphstore.ConceptID) (Outcome, error) {
	parent, err := l.endpoint(ctx, s, parentType, parentKey)
	if err != nil {
		return OutcomeFailed, err
	}
	return l.ensureRelation(ctx, s, rel, []graphstore.RolePlayer{
		{Role: parentRole, Player: parent},
		{Role: childRole, Player: child},
	}, nil)
}

// LoadPartition writes one ProductPartition, links it to its ad group and, when it carries a
// dimension, to the canonical ProductDimension through a case-value.
func (l *Loader) LoadPartition(ctx context.Context, s graphstore.Session, rec source.PartitionRecord) error {
	start := time.Now()
	if rec.CriterionID <= 0 || rec.AdGroupID <= 0 {
		return l.finish(false, TypeProductPartition, "", migerr.MalformedRecord("loader.partition", "criterion_id %d adgroup_id %d", rec.CriterionID, rec.AdGroupID), start, "record", rec)
	}
	if rec.ParentID != nil && *rec.ParentID == rec.CriterionID {
		return l.finish(false, TypeProductPartition, "", migerr.MalformedRecord("loader.partition", "criterion %d is its own parent", rec.CriterionID), start, "record", rec)
	}
	attrs := map[string]any{"criterion-id": rec.CriterionID, "adgroup-id": rec.AdGroupID}
	if rec.ParentID != nil {
		attrs["parent-id"] = *rec.ParentID
	}
	putString(attrs, "partition-type", rec.PartitionType)
	putString(attrs, "status", rec.Status)
	id, o, err := l.ensureEntity(ctx, s, TypeProductPartition, rec.CriterionID, attrs)
	if err := l.finish(false, TypeProductPartition, o, err, start, "criterion_id", rec.CriterionID); err != nil {
		return err
	}
	l.mu.Lock()
	l.parts = append(l.parts, partition{id: id, criterionID: rec.CriterionID, adGroupID: rec.AdGroupID, parentID: rec.ParentID})
	l.mu.Unlock()

	start = time.Now()
	o, err = l.linkParent(ctx, s, TypeAdGroup, rec.AdGroupID, RelAdGroupCriterion, "adgroup", "biddable-criterion", id)
	if err := l.finish(true, RelAdGroupCriterion, o, err, start, "criterion_id", rec.CriterionID); err != nil && migerr.IsFatal(err) {
		return err
	}

	dimType := strings.ToUpper(strings.TrimSpace(rec.DimensionType))
	if dimType == "" {
		return nil
	}
	start = time.Now()
	o, err = l.caseValue(ctx, s, id, dimType, rec.DimensionValue)
	return l.finish(true, RelCaseValue, o, err, start, "criterion_id", rec.CriterionID, "dimension_type", dimType)
}

func (l *Loader) caseValue(ctx context.Context, s graphstore.Session, partition graphstore.ConceptID, dimType, dimValue string) (Outcome, error) {
	attrs := map[string]any{}
	putString(attrs, "dimension-value", dimValue)
	dim, err := l.resolver.GetOrCreate(ctx, s, resolve.CanonicalKey{Type: TypeProductDimension, KeyAttr: "dimension-type", Value: dimType}, nil)
	if err != nil {
		return OutcomeFailed, err
	}
	dimOutcome := OutcomeExisting
	if dim.Created {
		dimOutcome = OutcomeCreated
	}
	l.report.AddEntity(TypeProductDimension, dimOutcome)
	l.hooks.IncRow("entity", TypeProductDimension, string(dimOutcome))
	return l.ensureRelation(ctx, s, RelCaseValue, []graphstore.RolePlayer{
		{Role: "product-dimension", Player: dim.ID},
		{Role: "product-partition", Player: partition},
	}, attrs)
}

// LoadOffer resolves the canonical Product of an offer row and links it to the offer's ad group.
// The source yields one row per product dimension, so the same offer may arrive several times.
func (l *Loader) LoadOffer(ctx context.Context, s graphstore.Session, rec source.OfferRecord) error {
	start := time.Now()
	itemID := strings.TrimSpace(rec.ItemID)
	if itemID == "" || rec.AdGroupID <= 0 {
		return l.finish(false, TypeProduct, "", migerr.MalformedRecord("loader.offer", "item_id %q adgroup_id %d", rec.ItemID, rec.AdGroupID), start, "record", rec)
	}
	attrs := map[string]any{}
	putString(attrs, "title", rec.Title)

	product, err := l.resolver.GetOrCreate(ctx, s, resolve.CanonicalKey{Type: TypeProduct, KeyAttr: "item-id", Value: itemID}, attrs)
	if err != nil {
		return l.finish(false, TypeProduct, OutcomeFailed, err, start, "item_id", itemID)
	}
	o := OutcomeExisting
	if product.Created {
		o = OutcomeCreated
	}
	l.finish(false, TypeProduct, o, nil, start, "item_id", itemID)

	start = time.Now()
	adGroup, err := l.endpoint(ctx, s, TypeAdGroup, rec.AdGroupID)
	if err != nil {
		return l.finish(true, RelProductOffer, OutcomeFailed, err, start, "item_id", itemID, "adgroup_id", rec.AdGroupID)
	}
	o, err = l.ensureRelation(ctx, s, RelProductOffer, []graphstore.RolePlayer{
		{Role: "product", Player: product.ID},
		{Role: "offer-adgroup", Player: adGroup},
	}, nil)
	return l.finish(true, RelProductOffer, o, err, start, "item_id", itemID, "adgroup_id", rec.AdGroupID)
}
