package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/adgraph/internal/data/repos/ledger"
	"github.com/yungbote/adgraph/internal/platform/logger"
)

type Repos struct {
	MigrationRun ledger.MigrationRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger, ledgerEnabled bool) Repos {
	if db == nil || !ledgerEnabled {
		return Repos{}
	}
	log.Info("Wiring repos...")
	return Repos{
		MigrationRun: ledger.NewMigrationRunRepo(db, log),
	}
}
