package taxonomy

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/yungbote/adgraph/internal/data/source"
	"github.com/yungbote/adgraph/internal/domain/migerr"
)

func ptr(v int64) *int64 { return &v }

func mustCreate(t *testing.T, tr *Tree, payload map[string]any) {
	t.Helper()
	if err := tr.CreateFromPayload(payload); err != nil {
		t.Fatalf("CreateFromPayload(%v): %v", payload, err)
	}
}

func catChain(t *testing.T) *Tree {
	t.Helper()
	tr := NewTree()
	mustCreate(t, tr, map[string]any{"id": 2, "name": "Cat", "parent": 1, "node_type": "brand"})
	mustCreate(t, tr, map[string]any{"id": 5, "name": "Fast", "parent": 2, "node_type": "Category"})
	mustCreate(t, tr, map[string]any{"id": 6, "name": "Cheetah", "parent": 5, "node_type": "PRODUCT"})
	return tr
}

func TestCategoryLevelCountsOnlyCategoryAncestors(t *testing.T) {
	tr := catChain(t)
	got, err := tr.GetCategoryLevel(6)
	if err != nil {
		t.Fatalf("GetCategoryLevel: %v", err)
	}
	if got != 1 {
		t.Fatalf("GetCategoryLevel(6): want=1 got=%d", got)
	}
	if got, _ := tr.GetCategoryLevel(5); got != 0 {
		t.Fatalf("GetCategoryLevel(5): want=0 got=%d", got)
	}
}

func TestGetAncestors(t *testing.T) {
	tr := catChain(t)
	cases := []struct {
		id          int64
		includeRoot bool
		want        []int64
	}{
		{6, false, []int64{5, 2}},
		{6, true, []int64{5, 2, 1}},
		{2, false, []int64{}},
		{2, true, []int64{1}},
		{RootID, true, []int64{}},
	}
	for _, tc := range cases {
		got, err := tr.GetAncestors(tc.id, tc.includeRoot)
		if err != nil {
			t.Fatalf("GetAncestors(%d): %v", tc.id, err)
		}
		if !slices.Equal(got, tc.want) {
			t.Fatalf("GetAncestors(%d, %v): want=%v got=%v", tc.id, tc.includeRoot, tc.want, got)
		}
	}
	if _, err := tr.GetAncestors(99, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown node: want ErrNotFound got=%v", err)
	}
}

func TestCreateNodeValidation(t *testing.T) {
	tr := catChain(t)
	cases := map[string]map[string]any{
		"unknown key":    {"id": 7, "name": "x", "node_type": "brand", "colour": "red"},
		"missing name":   {"id": 7, "node_type": "brand"},
		"missing type":   {"id": 7, "name": "x"},
		"bad type":       {"id": 7, "name": "x", "node_type": "shelf"},
		"missing parent": {"id": 7, "name": "x", "node_type": "brand", "parent": 42},
		"duplicate id":   {"id": 5, "name": "x", "node_type": "brand"},
		"fractional id":  {"id": 7.5, "name": "x", "node_type": "brand"},
	}
	for name, payload := range cases {
		err := tr.CreateFromPayload(payload)
		if !migerr.IsCode(err, migerr.CodeMalformedRecord) {
			t.Fatalf("%s: want malformed_record got=%v", name, err)
		}
	}
	if tr.Len() != 4 {
		t.Fatalf("nodes after rejected inserts: want=4 got=%d", tr.Len())
	}

	mustCreate(t, tr, map[string]any{"id": "8", "name": "Orphanless", "node_type": "gender"})
	n, _ := tr.Get(8)
	if n.ParentID != RootID || n.State != StateCreated {
		t.Fatalf("default parent: got %+v", n)
	}
}

func TestAddItemActivatesLeaf(t *testing.T) {
	tr := catChain(t)
	if err := tr.AddItem(6, Item{ID: "sku-1", Clicks: 40}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	n, _ := tr.Get(6)
	if n.State != StateActive || n.Clicks != 40 {
		t.Fatalf("leaf after AddItem: got state=%s clicks=%d", n.State, n.Clicks)
	}
	if err := tr.AddItem(5, Item{ID: "sku-2", Clicks: 1}); !migerr.IsCode(err, migerr.CodeMalformedRecord) {
		t.Fatalf("AddItem on inner node: want malformed_record got=%v", err)
	}
}

func splitFixture(t *testing.T) *Tree {
	t.Helper()
	tr := catChain(t)
	items := []Item{
		{ID: "a1", Clicks: 200, Dimensions: map[string]string{"brand": "acme"}},
		{ID: "a2", Clicks: 150, Dimensions: map[string]string{"brand": "acme"}},
		{ID: "z1", Clicks: 100, Dimensions: map[string]string{"BRAND": "zoom"}},
		{ID: "n1", Clicks: 300},
		{ID: "b1", Clicks: 700, Dimensions: map[string]string{"brand": "bolt"}},
	}
	for _, it := range items {
		if err := tr.AddItem(6, it); err != nil {
			t.Fatalf("AddItem %s: %v", it.ID, err)
		}
	}
	return tr
}

func TestSplitLeafPacksByDimension(t *testing.T) {
	tr := splitFixture(t)
	ids, err := tr.SplitLeaf(6, "brand")
	if err != nil {
		t.Fatalf("SplitLeaf: %v", err)
	}
	// groups in value order: (none)=300, acme=350, bolt=700, zoom=100
	want := []struct {
		clicks int64
		items  []string
	}{
		{300, []string{"n1"}},
		{350, []string{"a1", "a2"}},
		{700, []string{"b1"}},
		{100, []string{"z1"}},
	}
	if len(ids) != len(want) {
		t.Fatalf("segments: want=%d got=%v", len(want), ids)
	}
	for i, id := range ids {
		if id != int64(7+i) {
			t.Fatalf("segment id %d: want=%d got=%d", i, 7+i, id)
		}
		n, _ := tr.Get(id)
		var got []string
		for _, it := range n.Items {
			got = append(got, it.ID)
		}
		if n.Clicks != want[i].clicks || !slices.Equal(got, want[i].items) {
			t.Fatalf("segment %d: want clicks=%d items=%v got clicks=%d items=%v", i, want[i].clicks, want[i].items, n.Clicks, got)
		}
		if !n.IsSegment || n.State != StateSegmented || n.ParentID != 6 {
			t.Fatalf("segment %d: got %+v", i, n)
		}
	}
	leaf, _ := tr.Get(6)
	if leaf.State != StateSegmented {
		t.Fatalf("split leaf state: want=%s got=%s", StateSegmented, leaf.State)
	}
}

func TestSplitLeafCutsOversizeGroupInItemOrder(t *testing.T) {
	tr := NewTree()
	mustCreate(t, tr, map[string]any{"id": 10, "name": "Shoes", "node_type": "category"})
	for i := 1; i <= 4; i++ {
		if err := tr.AddItem(10, Item{ID: fmt.Sprintf("s%d", i), Clicks: 200, Dimensions: map[string]string{"BRAND": "acme"}}); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
	}
	ids, err := tr.SplitLeaf(10, "brand")
	if err != nil {
		t.Fatalf("SplitLeaf: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("segments: want=2 got=%d", len(ids))
	}
	for _, id := range ids {
		n, _ := tr.Get(id)
		if n.Clicks != 400 {
			t.Fatalf("segment %d clicks: want=400 got=%d", id, n.Clicks)
		}
	}
}

func TestSplitLeafRefusals(t *testing.T) {
	tr := splitFixture(t)
	ids, err := tr.SplitLeaf(6, "brand")
	if err != nil {
		t.Fatalf("SplitLeaf: %v", err)
	}
	before := tr.Len()
	seg, _ := tr.Get(ids[2])

	if _, err := tr.SplitLeaf(ids[2], "brand"); !errors.Is(err, ErrSegmented) {
		t.Fatalf("split of segment: want ErrSegmented got=%v", err)
	}
	if _, err := tr.SplitLeaf(6, "brand"); !errors.Is(err, ErrSegmented) {
		t.Fatalf("second split of leaf: want ErrSegmented got=%v", err)
	}
	after, _ := tr.Get(ids[2])
	if tr.Len() != before || after.State != seg.State || len(after.Children) != 0 {
		t.Fatalf("refused split changed the tree: len %d->%d", before, tr.Len())
	}

	if _, err := tr.SplitLeaf(5, "brand"); !errors.Is(err, ErrNotLeaf) {
		t.Fatalf("inner node: want ErrNotLeaf got=%v", err)
	}
	small := catChain(t)
	if err := small.AddItem(6, Item{ID: "x", Clicks: 500}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := small.SplitLeaf(6, "brand"); !errors.Is(err, ErrBelowThreshold) {
		t.Fatalf("at threshold: want ErrBelowThreshold got=%v", err)
	}
}

func TestSplitLeafRefusesClicksNotCarriedByItems(t *testing.T) {
	tr := NewTree()
	mustCreate(t, tr, map[string]any{"id": 2, "name": "Cat", "node_type": "brand"})
	mustCreate(t, tr, map[string]any{"id": 3, "name": "Cheetah", "parent": 2, "node_type": "product", "clicks": 400})
	if err := tr.AddItem(3, Item{ID: "a1", Clicks: 200, Dimensions: map[string]string{"BRAND": "acme"}}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	if _, err := tr.SplitLeaf(3, "brand"); !errors.Is(err, ErrUnattributed) {
		t.Fatalf("leaf with record clicks: want ErrUnattributed got=%v", err)
	}
	n, _ := tr.Get(3)
	if n.State == StateSegmented || len(n.Children) != 0 || tr.Len() != 3 {
		t.Fatalf("refused split changed the tree: got %+v len=%d", n, tr.Len())
	}
}

func TestBuildFromPartitions(t *testing.T) {
	brand, acme, zoom, category, trail := "BRAND", "acme", "Zoom", "category", "Trail"
	parts := []source.PartitionRecord{
		{CriterionID: 103, AdGroupID: 10, ParentID: ptr(101), DimensionType: "CATEGORY", DimensionValue: "trail"},
		{CriterionID: 100, AdGroupID: 10},
		{CriterionID: 101, AdGroupID: 10, ParentID: ptr(100), DimensionType: "BRAND", DimensionValue: "acme"},
		{CriterionID: 102, AdGroupID: 10, ParentID: ptr(100), DimensionType: "BRAND"},
		{CriterionID: 200, AdGroupID: 10, ParentID: ptr(999), DimensionType: "BRAND", DimensionValue: "lost"},
	}
	offers := []source.OfferRecord{
		{AdGroupID: 10, ItemID: "A", Clicks: 10, DimensionType: &brand, DimensionValue: &acme},
		{AdGroupID: 10, ItemID: "A", Clicks: 10, DimensionType: &category, DimensionValue: &trail},
		{AdGroupID: 10, ItemID: "Z", Clicks: 20, DimensionType: &brand, DimensionValue: &zoom},
		{AdGroupID: 11, ItemID: "Q", Clicks: 5},
	}
	tr, res := BuildFromPartitions(parts, offers)
	if res.Nodes != 4 || len(res.Skipped) != 1 || res.Items != 3 || res.Unplaced != 1 {
		t.Fatalf("result: got %+v", res)
	}
	if n, _ := tr.Get(103); n.Clicks != 10 || n.Type != TypeCategory {
		t.Fatalf("acme item should land in 103: got %+v", n)
	}
	if n, _ := tr.Get(102); n.Clicks != 20 || n.Name != "Everything else" {
		t.Fatalf("zoom item should land in everything-else: got %+v", n)
	}
	if lvl, _ := tr.GetCategoryLevel(103); lvl != 1 {
		t.Fatalf("level of 103: want=1 got=%d", lvl)
	}

	var buf bytes.Buffer
	if err := tr.Render(&buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 || !strings.HasPrefix(lines[0], "root") || !strings.HasPrefix(lines[3], "      trail") {
		t.Fatalf("render:\n%s", buf.String())
	}
}

func TestBuildFromPartitionsRejectsRootCriterionID(t *testing.T) {
	parts := []source.PartitionRecord{
		{CriterionID: RootID, AdGroupID: 10},
		{CriterionID: 2, AdGroupID: 10, ParentID: ptr(RootID), DimensionType: "BRAND", DimensionValue: "acme"},
	}
	offers := []source.OfferRecord{{AdGroupID: 10, ItemID: "A", Clicks: 3}}

	tr, res := BuildFromPartitions(parts, offers)
	if res.Nodes != 0 || len(res.Skipped) != 2 || res.Unplaced != 1 {
		t.Fatalf("result: got %+v", res)
	}
	if tr.Len() != 1 {
		t.Fatalf("tree size: want=1 got=%d", tr.Len())
	}
	if n, _ := tr.Get(RootID); n.Name != RootName || len(n.Children) != 0 {
		t.Fatalf("root must stay the empty sentinel: got %+v", n)
	}
	if _, ok := tr.Get(2); ok {
		t.Fatalf("child of the colliding criterion must not attach to the sentinel root")
	}
}
