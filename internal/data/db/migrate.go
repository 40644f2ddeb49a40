package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/adgraph/internal/domain/adaccount"
)

// AutoMigrateLedger creates the tables adgraph owns. The account tables are read-only and never
// migrated here.
func AutoMigrateLedger(db *gorm.DB) error {
	if err := db.AutoMigrate(&adaccount.MigrationRun{}); err != nil {
		return fmt.Errorf("auto migrate ledger: %w", err)
	}
	return nil
}

// AutoMigrateAccount creates the account tables; used to seed fixture databases.
func AutoMigrateAccount(db *gorm.DB) error {
	return db.AutoMigrate(
		&adaccount.Campaign{},
		&adaccount.AdGroup{},
		&adaccount.ProductPartition{},
		&adaccount.AdwordsOffer{},
		&adaccount.ProductDimension{},
	)
}
