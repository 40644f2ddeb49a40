package testutil

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/yungbote/adgraph/internal/domain/adaccount"
)

func SeedCampaign(tb testing.TB, ctx context.Context, tx *gorm.DB, id int64, name, typ, status, country string) *adaccount.Campaign {
	tb.Helper()
	c := &adaccount.Campaign{
		CampaignID:     id,
		CampaignName:   name,
		AwCampaignType: typ,
		Status:         status,
		SalesCountry:   country,
		Optimize:       true,
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed campaign: %v", err)
	}
	return c
}

func SeedAdGroup(tb testing.TB, ctx context.Context, tx *gorm.DB, id, campaignID int64, name, status string) *adaccount.AdGroup {
	tb.Helper()
	ag := &adaccount.AdGroup{
		AdGroupID:     id,
		AdGroupName:   name,
		CampaignID:    campaignID,
		Status:        status,
		AwAdGroupType: "SHOPPING_PRODUCT_ADS",
	}
	if err := tx.WithContext(ctx).Create(ag).Error; err != nil {
		tb.Fatalf("seed adgroup: %v", err)
	}
	return ag
}

// SeedPartition inserts a product partition; parentID 0 marks the partition root.
func SeedPartition(tb testing.TB, ctx context.Context, tx *gorm.DB, id, adGroupID, parentID int64, dimType, dimValue, partitionType string) *adaccount.ProductPartition {
	tb.Helper()
	pp := &adaccount.ProductPartition{
		CriterionID:    id,
		AdGroupID:      adGroupID,
		DimensionType:  dimType,
		DimensionValue: dimValue,
		PartitionType:  partitionType,
		Status:         adaccount.StatusActive,
	}
	if parentID != 0 {
		p := parentID
		pp.ParentID = &p
	}
	if err := tx.WithContext(ctx).Create(pp).Error; err != nil {
		tb.Fatalf("seed partition: %v", err)
	}
	return pp
}

func SeedOffer(tb testing.TB, ctx context.Context, tx *gorm.DB, adGroupID int64, itemID, title string, clicks int64) *adaccount.AdwordsOffer {
	tb.Helper()
	o := &adaccount.AdwordsOffer{AdGroupID: adGroupID, ItemID: itemID, Title: title, Clicks: clicks}
	if err := tx.WithContext(ctx).Create(o).Error; err != nil {
		tb.Fatalf("seed offer: %v", err)
	}
	return o
}

func SeedDimension(tb testing.TB, ctx context.Context, tx *gorm.DB, itemID, dimType, dimValue string) *adaccount.ProductDimension {
	tb.Helper()
	d := &adaccount.ProductDimension{ItemID: itemID, DimensionType: dimType, DimensionValue: dimValue}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed product dimension: %v", err)
	}
	return d
}

// SeedShoppingAccount builds the account used across package tests:
//
//	campaign 1 Active SHOPPING DE  -> adgroups 10 Active, 11 Paused
//	campaign 2 Active SHOPPING AT  -> adgroup 20 Active
//	campaign 3 Paused SHOPPING DE  -> adgroup 30 Active
//
// Ad group 10 carries a partition tree (100 root, 101/102 brand children, 103 under 101)
// and offers for items A, B, C with brand dimensions.
func SeedShoppingAccount(tb testing.TB, ctx context.Context, tx *gorm.DB) {
	tb.Helper()
	SeedCampaign(tb, ctx, tx, 1, "Shoes DE", adaccount.CampaignTypeShopping, adaccount.StatusActive, "DE")
	SeedCampaign(tb, ctx, tx, 2, "Shoes AT", adaccount.CampaignTypeShopping, adaccount.StatusActive, "AT")
	SeedCampaign(tb, ctx, tx, 3, "Old Shoes", adaccount.CampaignTypeShopping, adaccount.StatusPaused, "DE")

	SeedAdGroup(tb, ctx, tx, 10, 1, "Running", adaccount.StatusActive)
	SeedAdGroup(tb, ctx, tx, 11, 1, "Hiking", adaccount.StatusPaused)
	SeedAdGroup(tb, ctx, tx, 20, 2, "Running AT", adaccount.StatusActive)
	SeedAdGroup(tb, ctx, tx, 30, 3, "Archive", adaccount.StatusActive)

	SeedPartition(tb, ctx, tx, 100, 10, 0, "", "", "SUBDIVISION")
	SeedPartition(tb, ctx, tx, 101, 10, 100, "BRAND", "acme", "SUBDIVISION")
	SeedPartition(tb, ctx, tx, 102, 10, 100, "BRAND", "zoom", "UNIT")
	SeedPartition(tb, ctx, tx, 103, 10, 101, "CATEGORY", "trail", "UNIT")
	SeedPartition(tb, ctx, tx, 300, 30, 0, "", "", "UNIT")

	SeedOffer(tb, ctx, tx, 10, "A", "Acme Trail", 120)
	SeedOffer(tb, ctx, tx, 10, "B", "Zoom Road", 80)
	SeedOffer(tb, ctx, tx, 10, "C", "", 0)
	SeedOffer(tb, ctx, tx, 30, "Z", "Archived", 5)
	SeedDimension(tb, ctx, tx, "A", "BRAND", "acme")
	SeedDimension(tb, ctx, tx, "B", "BRAND", "zoom")
}
