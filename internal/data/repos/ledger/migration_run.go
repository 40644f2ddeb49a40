package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/adgraph/internal/domain/adaccount"
	"github.com/yungbote/adgraph/internal/pkg/dbctx"
	"github.com/yungbote/adgraph/internal/platform/logger"
)

type MigrationRunRepo interface {
	Start(dbc dbctx.Context, run *adaccount.MigrationRun) error
	Finish(dbc dbctx.Context, id uuid.UUID, status string, counts any, failed int, errMsg string) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*adaccount.MigrationRun, error)
	ListRecent(dbc dbctx.Context, account string, limit int) ([]*adaccount.MigrationRun, error)
}

type migrationRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMigrationRunRepo(db *gorm.DB, baseLog *logger.Logger) MigrationRunRepo {
	return &migrationRunRepo{
		db:  db,
		log: baseLog.With("repo", "MigrationRunRepo"),
	}
}

func (r *migrationRunRepo) Start(dbc dbctx.Context, run *adaccount.MigrationRun) error {
	if run == nil {
		return nil
	}
	if run.Status == "" {
		run.Status = adaccount.RunStatusRunning
	}
	if len(run.Filter) == 0 {
		run.Filter = datatypes.JSON([]byte("{}"))
	}
	if len(run.Counts) == 0 {
		run.Counts = datatypes.JSON([]byte("{}"))
	}
	return dbc.DB(r.db).Create(run).Error
}

func (r *migrationRunRepo) Finish(dbc dbctx.Context, id uuid.UUID, status string, counts any, failed int, errMsg string) error {
	if id == uuid.Nil {
		return nil
	}
	raw, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("encode run counts: %w", err)
	}
	now := time.Now().UTC()
	res := dbc.DB(r.db).
		Model(&adaccount.MigrationRun{}).
		Where("id = ? AND status = ?", id, adaccount.RunStatusRunning).
		Updates(map[string]interface{}{
			"status":      status,
			"counts":      datatypes.JSON(raw),
			"failed":      failed,
			"error":       errMsg,
			"finished_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		r.log.Warn("migration run not in running state", "run_id", id)
	}
	return nil
}

func (r *migrationRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*adaccount.MigrationRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var run adaccount.MigrationRun
	if err := dbc.DB(r.db).
		Where("id = ?", id).
		Limit(1).
		Find(&run).Error; err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *migrationRunRepo) ListRecent(dbc dbctx.Context, account string, limit int) ([]*adaccount.MigrationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []*adaccount.MigrationRun
	q := dbc.DB(r.db).Order("started_at DESC").Limit(limit)
	if account != "" {
		q = q.Where("account = ?", account)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
