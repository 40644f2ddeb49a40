package migrate

import (
	"context"
	"errors"

	"github.com/yungbote/adgraph/internal/data/source"
	"github.com/yungbote/adgraph/internal/platform/logger"
	"github.com/yungbote/adgraph/internal/taxonomy"
)

type TaxonomyResult struct {
	Tree     *taxonomy.Tree
	Build    taxonomy.BuildResult
	Segments []int64
}

// BuildTaxonomy reads the partitions and offers selected by f into a tree and splits every leaf
// whose click volume exceeds the threshold. An empty splitDimension skips splitting.
func BuildTaxonomy(ctx context.Context, log *logger.Logger, ex *source.Extractor, f source.Filter, splitDimension string) (TaxonomyResult, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "TaxonomyBuilder")

	parts, err := ex.Partitions(f).Collect(ctx)
	if err != nil {
		return TaxonomyResult{}, err
	}
	offers, err := ex.Offers(f).Collect(ctx)
	if err != nil {
		return TaxonomyResult{}, err
	}
	tree, build := taxonomy.BuildFromPartitions(parts, offers)
	for _, err := range build.Skipped {
		log.Warn("taxonomy record skipped", "error", err)
	}
	res := TaxonomyResult{Tree: tree, Build: build}
	if splitDimension == "" {
		return res, nil
	}

	var oversize []int64
	tree.Walk(func(n taxonomy.Node, _ int) bool {
		if n.ID != taxonomy.RootID && n.IsLeaf() && n.Clicks > taxonomy.SplitThreshold {
			oversize = append(oversize, n.ID)
		}
		return true
	})
	for _, id := range oversize {
		segs, err := tree.SplitLeaf(id, splitDimension)
		if errors.Is(err, taxonomy.ErrNoItems) || errors.Is(err, taxonomy.ErrUnattributed) {
			log.Warn("leaf above threshold not split", "node_id", id, "error", err)
			continue
		}
		if err != nil {
			return res, err
		}
		log.Info("leaf split", "node_id", id, "segments", len(segs))
		res.Segments = append(res.Segments, segs...)
	}
	return res, nil
}
