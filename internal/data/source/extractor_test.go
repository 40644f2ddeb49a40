package source

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/adgraph/internal/data/repos/testutil"
	"github.com/yungbote/adgraph/internal/domain/adaccount"
)

func newFixtureExtractor(t *testing.T) *Extractor {
	t.Helper()
	db := testutil.SQLite(t)
	testutil.SeedShoppingAccount(t, context.Background(), db)
	return NewExtractor(db, testutil.Logger(t))
}

func shoppingFilter() Filter {
	return Filter{
		Status:        StatusModeActive,
		CampaignTypes: []string{"shopping"},
		Countries:     []string{"DE", "AT"},
	}
}

func TestCampaignsKeepActiveShoppingInValidCountries(t *testing.T) {
	ctx := context.Background()
	ex := newFixtureExtractor(t)

	got, err := ex.Campaigns(shoppingFilter()).Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("campaigns: want=2 got=%d (%+v)", len(got), got)
	}
	if got[0].CampaignID != 1 || got[1].CampaignID != 2 {
		t.Fatalf("campaign ids: want=[1 2] got=[%d %d]", got[0].CampaignID, got[1].CampaignID)
	}
	for _, c := range got {
		if c.Status != adaccount.StatusActive {
			t.Fatalf("campaign %d status: want=%s got=%s", c.CampaignID, adaccount.StatusActive, c.Status)
		}
	}

	f := shoppingFilter()
	f.Countries = []string{"AT"}
	only, err := ex.Campaigns(f).Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(only) != 1 || only[0].CampaignID != 2 {
		t.Fatalf("country filter: want=[2] got=%+v", only)
	}
}

func TestAdGroupsScopedToKeptCampaignsAndOwnStatus(t *testing.T) {
	ctx := context.Background()
	ex := newFixtureExtractor(t)

	got, err := ex.AdGroups(shoppingFilter()).Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	ids := make([]int64, 0, len(got))
	for _, ag := range got {
		ids = append(ids, ag.AdGroupID)
	}
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 20 {
		t.Fatalf("adgroups: want=[10 20] got=%v", ids)
	}
}

func TestPausedModeSelectsDeleted(t *testing.T) {
	ctx := context.Background()
	db := testutil.SQLite(t)
	testutil.SeedCampaign(t, ctx, db, 7, "gone", adaccount.CampaignTypeShopping, adaccount.StatusDeleted, "DE")
	testutil.SeedCampaign(t, ctx, db, 8, "live", adaccount.CampaignTypeShopping, adaccount.StatusActive, "DE")
	ex := NewExtractor(db, testutil.Logger(t))

	got, err := ex.Campaigns(Filter{Status: StatusModePaused}).Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != 1 || got[0].CampaignID != 7 {
		t.Fatalf("paused mode: want=[7] got=%+v", got)
	}
}

func TestPartitionsAndOffersFollowAdGroupScope(t *testing.T) {
	ctx := context.Background()
	ex := newFixtureExtractor(t)

	parts, err := ex.Partitions(shoppingFilter()).Collect(ctx)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if len(parts) != 4 {
		t.Fatalf("partitions: want=4 got=%d", len(parts))
	}
	if parts[0].CriterionID != 100 || parts[0].ParentID != nil {
		t.Fatalf("root partition: got %+v", parts[0])
	}
	if parts[3].ParentID == nil || *parts[3].ParentID != 101 {
		t.Fatalf("partition 103 parent: got %+v", parts[3])
	}

	offers, err := ex.Offers(shoppingFilter()).Collect(ctx)
	if err != nil {
		t.Fatalf("offers: %v", err)
	}
	if len(offers) != 3 {
		t.Fatalf("offers: want=3 got=%d", len(offers))
	}
	if offers[0].ItemID != "A" || offers[0].DimensionValue == nil || *offers[0].DimensionValue != "acme" {
		t.Fatalf("offer A dimension: got %+v", offers[0])
	}
	if offers[2].ItemID != "C" || offers[2].DimensionType != nil {
		t.Fatalf("offer C should have no dimension: got %+v", offers[2])
	}
}

func TestLimitAndRestart(t *testing.T) {
	ctx := context.Background()
	ex := newFixtureExtractor(t)
	f := shoppingFilter()
	f.Limit = 1
	seq := ex.Campaigns(f)

	for i := 0; i < 2; i++ {
		got, err := seq.Collect(ctx)
		if err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		if len(got) != 1 || got[0].CampaignID != 1 {
			t.Fatalf("pass %d: want=[1] got=%+v", i, got)
		}
	}
}

func TestPrefetchDeliversEveryRecord(t *testing.T) {
	ctx := context.Background()
	ex := newFixtureExtractor(t)

	st := Prefetch(ctx, ex.Partitions(shoppingFilter()), 1)
	n := 0
	for range st.C {
		n++
	}
	if err := st.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 4 {
		t.Fatalf("prefetched: want=4 got=%d", n)
	}
}

func TestPrefetchStopsOnCancel(t *testing.T) {
	ex := newFixtureExtractor(t)
	ctx, cancel := context.WithCancel(context.Background())

	st := Prefetch(ctx, ex.Partitions(shoppingFilter()), 1)
	<-st.C
	cancel()

	done := make(chan struct{})
	go func() {
		_ = st.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("producer did not stop after cancel")
	}
}
