package adaccount

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// MigrationRun is the ledger row written for every migrate invocation when the ledger is enabled.
type MigrationRun struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Account    string         `gorm:"column:account;not null;index" json:"account"`
	Keyspace   string         `gorm:"column:keyspace;not null;index" json:"keyspace"`
	Action     string         `gorm:"column:action;not null" json:"action"`
	Status     string         `gorm:"column:status;not null;index" json:"status"`
	DryRun     bool           `gorm:"column:dry_run;not null;default:false" json:"dry_run"`
	Filter     datatypes.JSON `gorm:"column:filter" json:"filter"`
	Counts     datatypes.JSON `gorm:"column:counts" json:"counts"`
	Failed     int            `gorm:"column:failed;not null;default:0" json:"failed"`
	Error      string         `gorm:"column:error" json:"error,omitempty"`
	StartedAt  time.Time      `gorm:"column:started_at;not null;index" json:"started_at"`
	FinishedAt *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (MigrationRun) TableName() string { return "migration_run" }

func (r *MigrationRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	return nil
}
