package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/adgraph/internal/data/repos/testutil"
	"github.com/yungbote/adgraph/internal/domain/adaccount"
	"github.com/yungbote/adgraph/internal/pkg/dbctx"
)

func TestMigrationRunRepo(t *testing.T) {
	db := testutil.SQLite(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewMigrationRunRepo(db, testutil.Logger(t))

	older := &adaccount.MigrationRun{Account: "42", Keyspace: "acct_42", Action: "account", StartedAt: time.Now().UTC().Add(-time.Hour)}
	run := &adaccount.MigrationRun{Account: "42", Keyspace: "acct_42", Action: "shopping"}
	other := &adaccount.MigrationRun{Account: "7", Keyspace: "acct_7", Action: "account"}
	for _, r := range []*adaccount.MigrationRun{older, run, other} {
		if err := repo.Start(dbc, r); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	if run.ID == uuid.Nil || run.Status != adaccount.RunStatusRunning {
		t.Fatalf("Start: got id=%s status=%s", run.ID, run.Status)
	}

	counts := map[string]int{"Campaign": 2}
	if err := repo.Finish(dbc, run.ID, adaccount.RunStatusSucceeded, counts, 0, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, err := repo.GetByID(dbc, run.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: err=%v run=%v", err, got)
	}
	if got.Status != adaccount.RunStatusSucceeded || got.FinishedAt == nil {
		t.Fatalf("finished run: got status=%s finished_at=%v", got.Status, got.FinishedAt)
	}
	var decoded map[string]int
	if err := json.Unmarshal(got.Counts, &decoded); err != nil || decoded["Campaign"] != 2 {
		t.Fatalf("counts: err=%v got=%v", err, decoded)
	}

	// a finished run is not reopened
	if err := repo.Finish(dbc, run.ID, adaccount.RunStatusFailed, counts, 3, "boom"); err != nil {
		t.Fatalf("second Finish: %v", err)
	}
	if got, _ := repo.GetByID(dbc, run.ID); got.Status != adaccount.RunStatusSucceeded {
		t.Fatalf("status after second Finish: want=%s got=%s", adaccount.RunStatusSucceeded, got.Status)
	}

	recent, err := repo.ListRecent(dbc, "42", 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != run.ID {
		t.Fatalf("ListRecent: want newest-first 2 rows got %d", len(recent))
	}
	if missing, err := repo.GetByID(dbc, uuid.New()); err != nil || missing != nil {
		t.Fatalf("GetByID missing: err=%v run=%v", err, missing)
	}
}

func TestMigrationRunRepoWritesThroughTx(t *testing.T) {
	db := testutil.SQLite(t)
	repo := NewMigrationRunRepo(db, testutil.Logger(t))

	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("begin: %v", tx.Error)
	}
	inTx := dbctx.Context{Ctx: context.Background(), Tx: tx}
	run := &adaccount.MigrationRun{Account: "42", Keyspace: "acct_42", Action: "account"}
	if err := repo.Start(inTx, run); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got, err := repo.GetByID(inTx, run.ID); err != nil || got == nil {
		t.Fatalf("GetByID inside tx: err=%v run=%v", err, got)
	}
	if err := tx.Rollback().Error; err != nil {
		t.Fatalf("rollback: %v", err)
	}

	// nil Ctx falls back to a background context
	got, err := repo.GetByID(dbctx.Context{}, run.ID)
	if err != nil {
		t.Fatalf("GetByID after rollback: %v", err)
	}
	if got != nil {
		t.Fatalf("rolled back run still visible: %+v", got)
	}
}
