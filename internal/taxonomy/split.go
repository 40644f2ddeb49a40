package taxonomy

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	SplitThreshold int64 = 500
	NoValue              = "(none)"
)

var (
	ErrNotLeaf        = errors.New("taxonomy: node is not a leaf")
	ErrSegmented      = errors.New("taxonomy: node is already segmented")
	ErrBelowThreshold = errors.New("taxonomy: volume does not exceed split threshold")
	ErrNoItems        = errors.New("taxonomy: node has no items to split")
	// ErrUnattributed means part of the node's volume is not carried by any item, so no segment
	// could hold it.
	ErrUnattributed = errors.New("taxonomy: node clicks are not fully carried by its items")
)

type segment struct {
	values []string
	items  []Item
	clicks int64
}

// SplitLeaf divides the items of leaf id into child segments of at most SplitThreshold clicks,
// grouped by the value of dimension. It returns the ids of the new segments. A refused split leaves
// the tree unchanged.
func (t *Tree) SplitLeaf(id int64, dimension string) ([]int64, error) {
	dim := strings.ToUpper(strings.TrimSpace(dimension))
	if dim == "" {
		return nil, fmt.Errorf("taxonomy: split dimension is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	case n.IsSegment || n.State == StateSegmented:
		return nil, fmt.Errorf("%w: %d", ErrSegmented, id)
	case id == RootID || !n.IsLeaf():
		return nil, fmt.Errorf("%w: %d", ErrNotLeaf, id)
	case n.Clicks <= SplitThreshold:
		return nil, fmt.Errorf("%w: node %d has %d clicks", ErrBelowThreshold, id, n.Clicks)
	case len(n.Items) == 0:
		return nil, fmt.Errorf("%w: %d", ErrNoItems, id)
	}
	var carried int64
	for _, it := range n.Items {
		carried += it.Clicks
	}
	if carried != n.Clicks {
		return nil, fmt.Errorf("%w: node %d has %d clicks, items carry %d", ErrUnattributed, id, n.Clicks, carried)
	}

	segs := pack(groupItems(n.Items, dim))
	ids := make([]int64, 0, len(segs))
	for _, sg := range segs {
		child := &Node{
			ID:        t.maxID + 1,
			Name:      fmt.Sprintf("%s [%s=%s]", n.Name, strings.ToLower(dim), strings.Join(sg.values, ",")),
			ParentID:  n.ID,
			Type:      n.Type,
			Clicks:    sg.clicks,
			IsSegment: true,
			State:     StateSegmented,
			Items:     sg.items,
		}
		t.insert(child)
		ids = append(ids, child.ID)
	}
	n.State = StateSegmented
	return ids, nil
}

type group struct {
	value string
	items []Item
}

func groupItems(items []Item, dim string) []group {
	byValue := map[string][]Item{}
	for _, it := range items {
		v := strings.TrimSpace(it.Dimensions[dim])
		if v == "" {
			v = NoValue
		}
		byValue[v] = append(byValue[v], it)
	}
	out := make([]group, 0, len(byValue))
	for v, its := range byValue {
		slices.SortStableFunc(its, func(a, b Item) int { return cmp.Compare(a.ID, b.ID) })
		out = append(out, group{value: v, items: its})
	}
	slices.SortFunc(out, func(a, b group) int { return cmp.Compare(a.value, b.value) })
	return out
}

// pack fills segments greedily in group order. Groups above the threshold are cut in item order.
func pack(groups []group) []segment {
	var (
		out []segment
		cur segment
	)
	flush := func() {
		if len(cur.items) > 0 {
			out = append(out, cur)
		}
		cur = segment{}
	}
	addValue := func(v string) {
		if len(cur.values) == 0 || cur.values[len(cur.values)-1] != v {
			cur.values = append(cur.values, v)
		}
	}
	for _, g := range groups {
		total := int64(0)
		for _, it := range g.items {
			total += it.Clicks
		}
		if total <= SplitThreshold && cur.clicks+total > SplitThreshold {
			flush()
		}
		for _, it := range g.items {
			if len(cur.items) > 0 && cur.clicks+it.Clicks > SplitThreshold {
				flush()
			}
			addValue(g.value)
			cur.items = append(cur.items, it)
			cur.clicks += it.Clicks
		}
	}
	flush()
	return out
}
