package taxonomy

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/yungbote/adgraph/internal/data/source"
)

// BuildResult describes what BuildFromPartitions could not place.
type BuildResult struct {
	Nodes    int
	Skipped  []error
	Items    int
	Unplaced int
}

// NodeTypeForDimension maps a partition dimension type onto a taxonomy node type.
func NodeTypeForDimension(dim string) NodeType {
	d := strings.ToUpper(strings.TrimSpace(dim))
	switch {
	case d == "":
		return TypeCategory
	case strings.HasPrefix(d, "CATEGORY"), strings.HasPrefix(d, "PRODUCT_TYPE"), strings.HasPrefix(d, "BIDDING_CATEGORY"):
		return TypeCategory
	case d == "BRAND":
		return TypeBrand
	case d == "COLOR", d == "COLOUR":
		return TypeColor
	case d == "SIZE":
		return TypeSize
	case d == "GENDER":
		return TypeGender
	}
	return TypeProduct
}

// BuildFromPartitions builds a tree mirroring the partition hierarchy and attaches each offer to the
// leaf partition it falls into. Partitions without a parent hang off the root.
func BuildFromPartitions(parts []source.PartitionRecord, offers []source.OfferRecord) (*Tree, BuildResult) {
	t := NewTree()
	var res BuildResult

	byID := make(map[int64]source.PartitionRecord, len(parts))
	for _, p := range parts {
		if p.CriterionID == RootID {
			res.Skipped = append(res.Skipped, fmt.Errorf("criterion %d: id is reserved for the taxonomy root", p.CriterionID))
			continue
		}
		if _, dup := byID[p.CriterionID]; dup {
			res.Skipped = append(res.Skipped, fmt.Errorf("criterion %d: duplicate row", p.CriterionID))
			continue
		}
		byID[p.CriterionID] = p
	}
	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	visiting := map[int64]bool{}
	var place func(id int64) bool
	place = func(id int64) bool {
		if id == RootID {
			return false
		}
		if _, ok := t.Get(id); ok {
			return true
		}
		p, ok := byID[id]
		if !ok || visiting[id] {
			return false
		}
		visiting[id] = true
		defer delete(visiting, id)
		if p.ParentID != nil && !place(*p.ParentID) {
			res.Skipped = append(res.Skipped, fmt.Errorf("criterion %d: parent %d is not placeable", id, *p.ParentID))
			return false
		}
		if err := t.CreateNode(NodeRecord{ID: id, Name: partitionName(p), ParentID: p.ParentID, Type: NodeTypeForDimension(p.DimensionType)}); err != nil {
			res.Skipped = append(res.Skipped, err)
			return false
		}
		res.Nodes++
		return true
	}
	for _, id := range ids {
		place(id)
	}

	roots := map[int64]int64{}
	for _, id := range ids {
		p := byID[id]
		if _, ok := t.Get(id); ok && p.ParentID == nil {
			if _, seen := roots[p.AdGroupID]; !seen {
				roots[p.AdGroupID] = id
			}
		}
	}
	for _, it := range collapseOffers(offers) {
		res.Items++
		root, ok := roots[it.adGroupID]
		if !ok {
			res.Unplaced++
			continue
		}
		leaf := t.descend(root, it.item.Dimensions, byID)
		if err := t.AddItem(leaf, it.item); err != nil {
			res.Unplaced++
			res.Skipped = append(res.Skipped, err)
		}
	}
	return t, res
}

func partitionName(p source.PartitionRecord) string {
	switch {
	case strings.TrimSpace(p.DimensionValue) != "":
		return strings.TrimSpace(p.DimensionValue)
	case p.ParentID == nil:
		return fmt.Sprintf("All products (ad group %d)", p.AdGroupID)
	}
	return "Everything else"
}

type placedItem struct {
	adGroupID int64
	item      Item
}

// collapseOffers merges the per-dimension offer rows of one item in one ad group.
func collapseOffers(offers []source.OfferRecord) []placedItem {
	type key struct {
		adGroup int64
		item    string
	}
	byKey := map[key]*placedItem{}
	var order []key
	for _, o := range offers {
		id := strings.TrimSpace(o.ItemID)
		if id == "" {
			continue
		}
		k := key{o.AdGroupID, id}
		pi, ok := byKey[k]
		if !ok {
			pi = &placedItem{adGroupID: o.AdGroupID, item: Item{ID: id, Clicks: o.Clicks, Dimensions: map[string]string{}}}
			byKey[k] = pi
			order = append(order, k)
		}
		if o.DimensionType != nil && o.DimensionValue != nil {
			pi.item.Dimensions[strings.ToUpper(*o.DimensionType)] = *o.DimensionValue
		}
	}
	slices.SortFunc(order, func(a, b key) int {
		if c := cmp.Compare(a.adGroup, b.adGroup); c != 0 {
			return c
		}
		return cmp.Compare(a.item, b.item)
	})
	out := make([]placedItem, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

// descend follows the children whose case value matches the item, falling back to the
// "everything else" child with no value, until it reaches a leaf.
func (t *Tree) descend(id int64, dims map[string]string, parts map[int64]source.PartitionRecord) int64 {
	for {
		n, _ := t.Get(id)
		if n.IsLeaf() {
			return id
		}
		next, fallback := int64(0), int64(0)
		for _, c := range n.Children {
			p := parts[c]
			if strings.TrimSpace(p.DimensionValue) == "" {
				if fallback == 0 {
					fallback = c
				}
				continue
			}
			v, ok := dims[strings.ToUpper(p.DimensionType)]
			if ok && strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(p.DimensionValue)) {
				next = c
				break
			}
		}
		if next == 0 {
			next = fallback
		}
		if next == 0 {
			return id
		}
		id = next
	}
}
