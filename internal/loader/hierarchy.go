package loader

import (
	"context"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/adgraph/internal/domain/migerr"
	"github.com/yungbote/adgraph/internal/graphstore"
)

type link struct {
	rel     string
	players []graphstore.RolePlayer
	fields  []any
}

// DeriveHierarchy materializes node-hierarchy, ancestorship and siblings over the partitions loaded
// by this run. Parents are looked up within the child's ad group.
func (l *Loader) DeriveHierarchy(ctx context.Context, s graphstore.Session) error {
	links, orphans := l.hierarchyLinks()
	for _, p := range orphans {
		l.finish(true, RelNodeHierarchy, OutcomeSkipped,
			migerr.MalformedRecord("loader.hierarchy", "parent %d of criterion %d is not loaded", *p.parentID, p.criterionID),
			time.Now(), "criterion_id", p.criterionID, "adgroup_id", p.adGroupID)
	}
	l.log.Info("deriving partition hierarchy", "links", len(links), "orphans", len(orphans))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for _, lk := range links {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			start := time.Now()
			o, err := l.ensureRelation(context.WithoutCancel(gctx), s, lk.rel, lk.players, nil)
			if err := l.finish(true, lk.rel, o, err, start, lk.fields...); err != nil && migerr.IsFatal(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// hierarchyLinks computes the derived relations in a deterministic order, plus the partitions whose
// parent is unknown.
func (l *Loader) hierarchyLinks() ([]link, []partition) {
	l.mu.RLock()
	parts := slices.Clone(l.parts)
	l.mu.RUnlock()
	slices.SortFunc(parts, func(a, b partition) int {
		switch {
		case a.criterionID < b.criterionID:
			return -1
		case a.criterionID > b.criterionID:
			return 1
		}
		return 0
	})
	parts = slices.CompactFunc(parts, func(a, b partition) bool { return a.criterionID == b.criterionID })

	type scoped struct{ adGroup, criterion int64 }
	byKey := make(map[scoped]partition, len(parts))
	for _, p := range parts {
		byKey[scoped{p.adGroupID, p.criterionID}] = p
	}
	parentOf := func(p partition) (partition, bool) {
		if p.parentID == nil {
			return partition{}, false
		}
		q, ok := byKey[scoped{p.adGroupID, *p.parentID}]
		return q, ok
	}

	var (
		links    []link
		orphans  []partition
		children = map[graphstore.ConceptID][]partition{}
	)
	for _, p := range parts {
		parent, ok := parentOf(p)
		if !ok {
			if p.parentID != nil {
				orphans = append(orphans, p)
			}
			continue
		}
		links = append(links, link{
			rel: RelNodeHierarchy,
			players: []graphstore.RolePlayer{
				{Role: "parent-node", Player: parent.id},
				{Role: "child-node", Player: p.id},
			},
			fields: []any{"parent_id", parent.criterionID, "criterion_id", p.criterionID},
		})
		children[parent.id] = append(children[parent.id], p)
	}

	for _, p := range parts {
		seen := map[int64]bool{p.criterionID: true}
		for a, ok := parentOf(p); ok && !seen[a.criterionID]; a, ok = parentOf(a) {
			seen[a.criterionID] = true
			links = append(links, link{
				rel: RelAncestorship,
				players: []graphstore.RolePlayer{
					{Role: "ancestor", Player: a.id},
					{Role: "descendant", Player: p.id},
				},
				fields: []any{"ancestor_id", a.criterionID, "criterion_id", p.criterionID},
			})
		}
	}

	for _, p := range parts {
		kids := children[p.id]
		for i := 0; i < len(kids); i++ {
			for j := i + 1; j < len(kids); j++ {
				links = append(links, link{
					rel: RelSiblings,
					players: []graphstore.RolePlayer{
						{Role: "sibling", Player: kids[i].id},
						{Role: "sibling", Player: kids[j].id},
					},
					fields: []any{"criterion_id", kids[i].criterionID, "sibling_id", kids[j].criterionID},
				})
			}
		}
	}
	return links, orphans
}

func sortedLabels(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
