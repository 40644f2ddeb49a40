// Package adaccount holds the relational account models read by the extractor.
package adaccount

const (
	StatusActive  = "Active"
	StatusPaused  = "Paused"
	StatusDeleted = "Deleted"
)

const CampaignTypeShopping = "SHOPPING"

type Campaign struct {
	CampaignID     int64  `gorm:"column:campaign_id;primaryKey" json:"campaign_id"`
	CampaignName   string `gorm:"column:campaign_name" json:"campaign_name"`
	AwCampaignType string `gorm:"column:aw_campaign_type;index" json:"aw_campaign_type"`
	Status         string `gorm:"column:status;index" json:"status"`
	SalesCountry   string `gorm:"column:sales_country" json:"sales_country,omitempty"`
	Optimize       bool   `gorm:"column:optimize" json:"optimize"`
}

func (Campaign) TableName() string { return "campaign" }

type AdGroup struct {
	AdGroupID     int64  `gorm:"column:adgroup_id;primaryKey" json:"adgroup_id"`
	AdGroupName   string `gorm:"column:adgroup_name" json:"adgroup_name"`
	CampaignID    int64  `gorm:"column:campaign_id;index" json:"campaign_id"`
	Status        string `gorm:"column:status;index" json:"status"`
	AwAdGroupType string `gorm:"column:aw_adgroup_type" json:"aw_adgroup_type,omitempty"`
}

func (AdGroup) TableName() string { return "adgroup" }

// ProductPartition is a shopping criterion. A nil ParentID marks the partition root of its ad group.
type ProductPartition struct {
	CriterionID    int64  `gorm:"column:criterion_id;primaryKey" json:"criterion_id"`
	AdGroupID      int64  `gorm:"column:adgroup_id;index" json:"adgroup_id"`
	DimensionType  string `gorm:"column:dimension_type" json:"dimension_type,omitempty"`
	DimensionValue string `gorm:"column:dimension_value" json:"dimension_value,omitempty"`
	PartitionType  string `gorm:"column:partition_type" json:"partition_type"`
	ParentID       *int64 `gorm:"column:parent_id;index" json:"parent_id,omitempty"`
	Status         string `gorm:"column:status" json:"status,omitempty"`
}

func (ProductPartition) TableName() string { return "product_partition" }

type AdwordsOffer struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	AdGroupID int64  `gorm:"column:adgroup_id;index" json:"adgroup_id"`
	ItemID    string `gorm:"column:item_id;index" json:"item_id"`
	Title     string `gorm:"column:title" json:"title,omitempty"`
	Clicks    int64  `gorm:"column:clicks" json:"clicks"`
}

func (AdwordsOffer) TableName() string { return "adwords_offer" }

// ProductDimension rows describe the dimension values of an item (brand, category, ...).
type ProductDimension struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ItemID         string `gorm:"column:item_id;index" json:"item_id"`
	DimensionType  string `gorm:"column:dimension_type" json:"dimension_type"`
	DimensionValue string `gorm:"column:dimension_value" json:"dimension_value"`
}

func (ProductDimension) TableName() string { return "product_dimension" }
