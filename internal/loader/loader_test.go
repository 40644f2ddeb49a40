package loader

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/yungbote/adgraph/internal/data/source"
	"github.com/yungbote/adgraph/internal/domain/migerr"
	"github.com/yungbote/adgraph/internal/graphstore"
	"github.com/yungbote/adgraph/internal/graphstore/memstore"
	"github.com/yungbote/adgraph/internal/platform/logger"
	"github.com/yungbote/adgraph/internal/resolve"
	"github.com/yungbote/adgraph/internal/schema"
)

const ks = "acct-42"

type fixture struct {
	st  *memstore.Store
	s   graphstore.Session
	reg *schema.Registry
}

func newFixture(t *testing.T, set string) fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	s, err := st.Session(ctx, ks)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	reg, err := schema.NewRegistry(logger.Nop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.Apply(ctx, s, set); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return fixture{st: st, s: s, reg: reg}
}

func (f fixture) loader() *Loader {
	return New(logger.Nop(), f.reg, resolve.New(logger.Nop(), resolve.Options{}), Options{Workers: 4})
}

func ptr(v int64) *int64 { return &v }

var partitions = []source.PartitionRecord{
	{CriterionID: 100, AdGroupID: 10, PartitionType: "SUBDIVISION"},
	{CriterionID: 101, AdGroupID: 10, ParentID: ptr(100), DimensionType: "brand", DimensionValue: "acme", PartitionType: "SUBDIVISION"},
	{CriterionID: 102, AdGroupID: 10, ParentID: ptr(100), DimensionType: "BRAND", DimensionValue: "zoom", PartitionType: "UNIT"},
	{CriterionID: 103, AdGroupID: 10, ParentID: ptr(101), DimensionType: "CATEGORY", DimensionValue: "trail", PartitionType: "UNIT"},
}

func loadAccount(t *testing.T, l *Loader, s graphstore.Session) {
	t.Helper()
	ctx := context.Background()
	for _, c := range []source.CampaignRecord{
		{CampaignID: 1, CampaignName: "Shoes DE", AwCampaignType: "SHOPPING", Status: "Active"},
		{CampaignID: 2, CampaignName: "Shoes AT", AwCampaignType: "SHOPPING", Status: "Active"},
	} {
		if err := l.LoadCampaign(ctx, s, c); err != nil {
			t.Fatalf("LoadCampaign %d: %v", c.CampaignID, err)
		}
	}
	if err := l.LoadAdGroup(ctx, s, source.AdGroupRecord{AdGroupID: 10, CampaignID: 1, AdGroupName: "Running", Status: "Active"}); err != nil {
		t.Fatalf("LoadAdGroup: %v", err)
	}
}

func TestCampaignsAreIdempotentOnNaturalKey(t *testing.T) {
	f := newFixture(t, schema.SetBase)

	l := f.loader()
	loadAccount(t, l, f.s)
	sum := l.Report()
	if got := sum.Entity(TypeCampaign); got.Created != 2 || got.Existing != 0 {
		t.Fatalf("first run campaigns: got %+v", got)
	}
	if got := sum.Relation(RelCampaignAdGroup); got.Created != 1 {
		t.Fatalf("campaign-adgroup: want created=1 got %+v", got)
	}

	again := f.loader()
	loadAccount(t, again, f.s)
	sum = again.Report()
	if sum.Created() != 0 {
		t.Fatalf("rerun created: want=0 got=%d (%+v)", sum.Created(), sum)
	}
	if got := sum.Entity(TypeCampaign); got.Existing != 2 {
		t.Fatalf("rerun campaigns: want existing=2 got %+v", got)
	}
	if got := f.st.Count(ks, TypeCampaign); got != 2 {
		t.Fatalf("Campaign nodes: want=2 got=%d", got)
	}
	if got := f.st.Count(ks, RelCampaignAdGroup); got != 1 {
		t.Fatalf("campaign-adgroup relations: want=1 got=%d", got)
	}
}

func TestMalformedRowsAreSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, schema.SetBase)
	l := f.loader()

	err := l.LoadCampaign(ctx, f.s, source.CampaignRecord{CampaignID: 0, CampaignName: "broken"})
	if !migerr.IsCode(err, migerr.CodeMalformedRecord) || migerr.IsFatal(err) {
		t.Fatalf("want non-fatal malformed_record got=%v", err)
	}
	if got := l.Report().Entity(TypeCampaign); got.Skipped != 1 || got.Created != 0 {
		t.Fatalf("campaign counts: got %+v", got)
	}
}

func TestAdGroupWithUnloadedCampaignSkipsRelation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, schema.SetBase)
	l := f.loader()

	err := l.LoadAdGroup(ctx, f.s, source.AdGroupRecord{AdGroupID: 77, CampaignID: 9, Status: "Active"})
	if !migerr.IsCode(err, migerr.CodeMalformedRecord) {
		t.Fatalf("want malformed_record for missing campaign got=%v", err)
	}
	sum := l.Report()
	if sum.Entity(TypeAdGroup).Created != 1 || sum.Relation(RelCampaignAdGroup).Skipped != 1 {
		t.Fatalf("counts: got %+v", sum)
	}
}

func TestPartitionsCaseValuesAndHierarchy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, schema.SetShopping)
	l := f.loader()
	loadAccount(t, l, f.s)

	for _, p := range partitions {
		if err := l.LoadPartition(ctx, f.s, p); err != nil {
			t.Fatalf("LoadPartition %d: %v", p.CriterionID, err)
		}
	}
	if err := l.DeriveHierarchy(ctx, f.s); err != nil {
		t.Fatalf("DeriveHierarchy: %v", err)
	}

	for label, want := range map[string]int{
		TypeProductPartition: 4,
		TypeProductDimension: 2,
		RelAdGroupCriterion:  4,
		RelCaseValue:         3,
		RelNodeHierarchy:     3,
		RelAncestorship:      4,
		RelSiblings:          1,
	} {
		if got := f.st.Count(ks, label); got != want {
			t.Fatalf("%s: want=%d got=%d", label, want, got)
		}
	}
	dims := l.Report().Entity(TypeProductDimension)
	if dims.Created != 2 || dims.Existing != 1 {
		t.Fatalf("ProductDimension counts: want created=2 existing=1 got %+v", dims)
	}

	again := f.loader()
	for _, p := range partitions {
		if err := again.LoadPartition(ctx, f.s, p); err != nil {
			t.Fatalf("rerun LoadPartition %d: %v", p.CriterionID, err)
		}
	}
	if err := again.DeriveHierarchy(ctx, f.s); err != nil {
		t.Fatalf("rerun DeriveHierarchy: %v", err)
	}
	if got := again.Report().Created(); got != 0 {
		t.Fatalf("rerun created: want=0 got=%d", got)
	}
	if got := again.Report().Relation(RelAncestorship).Existing; got != 4 {
		t.Fatalf("rerun ancestorship existing: want=4 got=%d", got)
	}
}

func TestOrphanPartitionIsSkippedInHierarchy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, schema.SetShopping)
	l := f.loader()
	loadAccount(t, l, f.s)

	if err := l.LoadPartition(ctx, f.s, source.PartitionRecord{CriterionID: 500, AdGroupID: 10, ParentID: ptr(499)}); err != nil {
		t.Fatalf("LoadPartition: %v", err)
	}
	if err := l.DeriveHierarchy(ctx, f.s); err != nil {
		t.Fatalf("DeriveHierarchy: %v", err)
	}
	if got := l.Report().Relation(RelNodeHierarchy); got.Skipped != 1 || got.Created != 0 {
		t.Fatalf("node-hierarchy: got %+v", got)
	}
}

func TestOffersResolveCanonicalProducts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, schema.SetShopping)
	l := f.loader()
	loadAccount(t, l, f.s)

	brand, acme := "BRAND", "acme"
	for _, o := range []source.OfferRecord{
		{AdGroupID: 10, ItemID: "A", Title: "Acme Trail", Clicks: 120, DimensionType: &brand, DimensionValue: &acme},
		{AdGroupID: 10, ItemID: "A", Title: "Acme Trail", Clicks: 120},
		{AdGroupID: 10, ItemID: "B", Title: "Zoom Road", Clicks: 80},
		{AdGroupID: 10, ItemID: "C"},
	} {
		if err := l.LoadOffer(ctx, f.s, o); err != nil {
			t.Fatalf("LoadOffer %s: %v", o.ItemID, err)
		}
	}
	if got := f.st.Count(ks, TypeProduct); got != 3 {
		t.Fatalf("Product nodes: want=3 got=%d", got)
	}
	if got := f.st.Count(ks, RelProductOffer); got != 3 {
		t.Fatalf("product-offer relations: want=3 got=%d", got)
	}
	sum := l.Report()
	if p := sum.Entity(TypeProduct); p.Created != 3 || p.Existing != 1 {
		t.Fatalf("Product counts: got %+v", p)
	}
	if err := l.LoadOffer(ctx, f.s, source.OfferRecord{AdGroupID: 10, ItemID: " "}); !migerr.IsCode(err, migerr.CodeMalformedRecord) {
		t.Fatalf("blank item: want malformed_record got=%v", err)
	}
}

func TestUnknownTypeIsFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, schema.SetBase)
	l := f.loader()

	err := l.LoadPartition(ctx, f.s, partitions[0])
	if !migerr.IsCode(err, migerr.CodeUnknownType) || !migerr.IsFatal(err) {
		t.Fatalf("want fatal unknown_type got=%v", err)
	}
	if got := l.Report().Entity(TypeProductPartition).Failed; got != 1 {
		t.Fatalf("failed: want=1 got=%d", got)
	}
}

func TestTransientCommitFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, schema.SetBase)
	fails := 1
	f.st.SetFault(func(op string) error {
		if op == "commit" && fails > 0 {
			fails--
			return graphstore.ErrUnavailable
		}
		return nil
	})
	l := f.loader()
	if err := l.LoadCampaign(ctx, f.s, source.CampaignRecord{CampaignID: 5, Status: "Active"}); err != nil {
		t.Fatalf("LoadCampaign: %v", err)
	}
	if got := f.st.Count(ks, TypeCampaign); got != 1 {
		t.Fatalf("Campaign nodes: want=1 got=%d", got)
	}
}

func TestSummaryTable(t *testing.T) {
	r := NewReport()
	r.AddEntity(TypeCampaign, OutcomeCreated)
	r.AddRelation(RelSiblings, OutcomeFailed)
	var buf bytes.Buffer
	if err := r.Summary().WriteTable(&buf); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Campaign") || !strings.Contains(out, "siblings") {
		t.Fatalf("table:\n%s", out)
	}
	if r.Summary().Failed() != 1 {
		t.Fatalf("Failed: want=1 got=%d", r.Summary().Failed())
	}
}
