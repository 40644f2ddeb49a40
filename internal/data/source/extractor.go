// Package source streams filtered account rows from the relational database.
package source

import (
	"context"

	"gorm.io/gorm"

	"github.com/yungbote/adgraph/internal/domain/adaccount"
	"github.com/yungbote/adgraph/internal/platform/logger"
)

type CampaignRecord struct {
	CampaignID     int64  `gorm:"column:campaign_id"`
	CampaignName   string `gorm:"column:campaign_name"`
	AwCampaignType string `gorm:"column:aw_campaign_type"`
	Status         string `gorm:"column:status"`
}

type AdGroupRecord struct {
	AdGroupID     int64  `gorm:"column:adgroup_id"`
	AdGroupName   string `gorm:"column:adgroup_name"`
	CampaignID    int64  `gorm:"column:campaign_id"`
	Status        string `gorm:"column:status"`
	AwAdGroupType string `gorm:"column:aw_adgroup_type"`
}

type PartitionRecord struct {
	CriterionID    int64  `gorm:"column:criterion_id"`
	AdGroupID      int64  `gorm:"column:adgroup_id"`
	DimensionType  string `gorm:"column:dimension_type"`
	DimensionValue string `gorm:"column:dimension_value"`
	PartitionType  string `gorm:"column:partition_type"`
	ParentID       *int64 `gorm:"column:parent_id"`
	Status         string `gorm:"column:status"`
}

// OfferRecord is one offer row left-joined with one of the item's product dimensions, so an item
// with several dimensions yields several records.
type OfferRecord struct {
	AdGroupID      int64   `gorm:"column:adgroup_id"`
	ItemID         string  `gorm:"column:item_id"`
	Title          string  `gorm:"column:title"`
	Clicks         int64   `gorm:"column:clicks"`
	DimensionType  *string `gorm:"column:dimension_type"`
	DimensionValue *string `gorm:"column:dimension_value"`
}

type Extractor struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExtractor(db *gorm.DB, log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.Nop()
	}
	return &Extractor{db: db, log: log.With("component", "Extractor")}
}

// campaignScope is the campaign predicate shared by every phase.
func campaignScope(db *gorm.DB, f Filter) *gorm.DB {
	q := db.Model(&adaccount.Campaign{}).Where("status IN ?", f.Status.Statuses())
	if len(f.CampaignTypes) > 0 {
		q = q.Where("aw_campaign_type IN ?", f.CampaignTypes)
	}
	if len(f.Countries) > 0 {
		q = q.Where("sales_country IN ?", f.Countries)
	}
	if f.OptimizedOnly {
		q = q.Where("optimize = ?", true)
	}
	return q
}

// adGroupScope keeps ad groups whose own status matches and whose campaign passes campaignScope.
func adGroupScope(db *gorm.DB, f Filter) *gorm.DB {
	q := db.Model(&adaccount.AdGroup{}).
		Where("status IN ?", f.Status.Statuses()).
		Where("campaign_id IN (?)", campaignScope(db, f).Select("campaign_id"))
	if len(f.AdGroupTypes) > 0 {
		q = q.Where("aw_adgroup_type IN ?", f.AdGroupTypes)
	}
	if len(f.AdGroupIDs) > 0 {
		q = q.Where("adgroup_id IN ?", f.AdGroupIDs)
	}
	return q
}

func limit(q *gorm.DB, f Filter) *gorm.DB {
	if f.Limit > 0 {
		return q.Limit(f.Limit)
	}
	return q
}

func (e *Extractor) Campaigns(f Filter) Sequence[CampaignRecord] {
	f = f.normalized()
	return Sequence[CampaignRecord]{name: "campaigns", db: e.db, build: func(ctx context.Context) *gorm.DB {
		e.log.Debug("source query", "phase", "campaigns", "status", f.Status.String(), "limit", f.Limit)
		q := campaignScope(e.db.WithContext(ctx), f).
			Select("campaign_id, campaign_name, aw_campaign_type, status").
			Order("campaign_id")
		return limit(q, f)
	}}
}

func (e *Extractor) AdGroups(f Filter) Sequence[AdGroupRecord] {
	f = f.normalized()
	return Sequence[AdGroupRecord]{name: "adgroups", db: e.db, build: func(ctx context.Context) *gorm.DB {
		e.log.Debug("source query", "phase", "adgroups", "status", f.Status.String(), "limit", f.Limit)
		q := adGroupScope(e.db.WithContext(ctx), f).
			Select("adgroup_id, adgroup_name, campaign_id, status, aw_adgroup_type").
			Order("adgroup_id")
		return limit(q, f)
	}}
}

func (e *Extractor) Partitions(f Filter) Sequence[PartitionRecord] {
	f = f.normalized()
	return Sequence[PartitionRecord]{name: "partitions", db: e.db, build: func(ctx context.Context) *gorm.DB {
		e.log.Debug("source query", "phase", "partitions", "status", f.Status.String(), "limit", f.Limit)
		db := e.db.WithContext(ctx)
		q := db.Model(&adaccount.ProductPartition{}).
			Select("criterion_id, adgroup_id, dimension_type, dimension_value, partition_type, parent_id, status").
			Where("adgroup_id IN (?)", adGroupScope(db, f).Select("adgroup_id")).
			Order("adgroup_id, criterion_id")
		return limit(q, f)
	}}
}

func (e *Extractor) Offers(f Filter) Sequence[OfferRecord] {
	f = f.normalized()
	return Sequence[OfferRecord]{name: "offers", db: e.db, build: func(ctx context.Context) *gorm.DB {
		e.log.Debug("source query", "phase", "offers", "status", f.Status.String(), "limit", f.Limit)
		db := e.db.WithContext(ctx)
		q := db.Table("adwords_offer AS o").
			Select("o.adgroup_id, o.item_id, o.title, o.clicks, d.dimension_type, d.dimension_value").
			Joins("LEFT JOIN product_dimension AS d ON d.item_id = o.item_id").
			Where("o.adgroup_id IN (?)", adGroupScope(db, f).Select("adgroup_id")).
			Order("o.item_id, d.dimension_type, o.adgroup_id")
		return limit(q, f)
	}}
}
